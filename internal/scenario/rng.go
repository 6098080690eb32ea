package scenario

import (
	"hash/fnv"
	"math/rand"

	"gonum.org/v1/gonum/stat/distuv"
)

// pathSeed derives the RNG seed for inner path (outer, inner) from the
// global seed as hash(global_seed, o, i) mod 2^31, producing the same
// stream regardless of scheduling. Different outer
// paths use independent streams because the hash input differs.
func pathSeed(globalSeed int64, outer, inner int) uint64 {
	h := fnv.New64a()
	var buf [24]byte
	putInt64(buf[0:8], globalSeed)
	putInt64(buf[8:16], int64(outer))
	putInt64(buf[16:24], int64(inner))
	_, _ = h.Write(buf[:])
	return h.Sum64() % (1 << 31)
}

func putInt64(b []byte, v int64) {
	u := uint64(v)
	for i := 0; i < 8; i++ {
		b[i] = byte(u >> (8 * i))
	}
}

// normalStream is a per-path standard-normal generator. Each (outer,
// inner) pair owns its own instance; no state is ever shared between
// paths, so paths generated on different workers in different orders
// still produce bit-identical draws.
type normalStream struct {
	dist distuv.Normal
}

func newNormalStream(globalSeed int64, outer, inner int) *normalStream {
	seed := int64(pathSeed(globalSeed, outer, inner))
	src := rand.NewSource(seed)
	return &normalStream{
		dist: distuv.Normal{Mu: 0, Sigma: 1, Src: src},
	}
}

func (n *normalStream) next() float64 {
	return n.dist.Rand()
}
