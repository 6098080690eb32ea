// Package scenario implements the deterministic mean-reverting
// interest-rate scenario generator: a fixed set of outer
// "skeleton" archetypes, each perturbed by stochastic inner Monte-Carlo
// paths under a Vasicek or CIR short-rate model.
package scenario

import (
	"math"

	"github.com/actuar/projector/internal/apperr"
	"github.com/actuar/projector/internal/domain"
)

// MinRate is the floor applied to every simulated rate.
const MinRate = 0.001

// Archetype is one of the ten fixed outer-path shapes. The
// archetype assigned to outer index k is fixed by index regardless of
// seed.
type Archetype int

const (
	ArchetypeFlat Archetype = iota
	ArchetypeStressUp
	ArchetypeStressDown
	ArchetypeMeanReverting
	ArchetypeVShape
	ArchetypeInverted
	ArchetypeDrift
	ArchetypeInflation
	ArchetypeDeflation
	ArchetypeOscillating
	numArchetypes
)

// archetypeForOuter maps an outer path index to its fixed archetype. With
// fewer than numArchetypes outer paths, the first OuterPaths archetypes
// in declaration order are used.
func archetypeForOuter(outer int) Archetype {
	return Archetype(outer % int(numArchetypes))
}

// outerSkeleton returns b_t, the deterministic target level for year t
// (0-based) of the given archetype, built from the yield curve params'
// B0 as the archetype's base level (R0 is not used here).
func outerSkeleton(a Archetype, params domain.YieldCurveParams, t, years int) float64 {
	base := params.B0
	r0 := params.R0
	switch a {
	case ArchetypeFlat:
		return base
	case ArchetypeStressUp:
		return base + 0.02*float64(t)/float64(maxInt(years-1, 1))
	case ArchetypeStressDown:
		return math.Max(MinRate, base-0.02*float64(t)/float64(maxInt(years-1, 1)))
	case ArchetypeMeanReverting:
		return base
	case ArchetypeVShape:
		mid := float64(years-1) / 2
		dist := math.Abs(float64(t) - mid)
		return math.Max(MinRate, base-0.015*(1-dist/maxFloat(mid, 1)))
	case ArchetypeInverted:
		mid := float64(years-1) / 2
		dist := math.Abs(float64(t) - mid)
		return base + 0.015*(1-dist/maxFloat(mid, 1))
	case ArchetypeDrift:
		return base + 0.001*float64(t)
	case ArchetypeInflation:
		return base + 0.03*(1-math.Exp(-float64(t)/5))
	case ArchetypeDeflation:
		return math.Max(MinRate, base-0.03*(1-math.Exp(-float64(t)/5)))
	case ArchetypeOscillating:
		return base + 0.01*math.Sin(float64(t)*math.Pi/4)
	default:
		_ = r0
		return base
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

// Generate produces the (N x Y) rate matrix for id into buf, writing
// row-major (buf must have len == id.NumScenarios()*id.ProjectionYears).
// Rows for different outer paths draw from independent RNG streams; two
// calls with the same ScenarioSetID produce bit-identical output.
func Generate(id domain.ScenarioSetID, params domain.YieldCurveParams, buf []float64) error {
	if err := id.Validate(); err != nil {
		return apperr.New(apperr.KindConfiguration, "", err.Error(), err)
	}
	want := id.NumScenarios() * id.ProjectionYears
	if len(buf) != want {
		return apperr.New(apperr.KindExecution, "", "buffer dimensions mismatch", nil)
	}

	for outer := 0; outer < id.OuterPaths; outer++ {
		arch := archetypeForOuter(outer)
		for inner := 0; inner < id.InnerPathsPerOuter; inner++ {
			s := outer*id.InnerPathsPerOuter + inner
			row := buf[s*id.ProjectionYears : (s+1)*id.ProjectionYears]
			stream := newNormalStream(id.Seed, outer, inner)
			simulatePath(id.Model, arch, params, row, stream)
		}
	}
	return nil
}

// simulatePath fills row with one Vasicek/CIR sample path around the
// archetype skeleton, applying the year-by-year recurrence
func simulatePath(model domain.RateModel, arch Archetype, params domain.YieldCurveParams, row []float64, stream *normalStream) {
	years := len(row)
	r := params.R0
	for t := 0; t < years; t++ {
		b := outerSkeleton(arch, params, t, years)
		z := stream.next()
		sigma := params.Sigma
		if model == domain.ModelCIR {
			sigma = params.Sigma * math.Sqrt(math.Max(r, 0))
		}
		r = r + params.A*(b-r) + sigma*z
		if r < MinRate {
			r = MinRate
		}
		row[t] = r
	}
}

// NewAlignedBuffer allocates a 16-byte aligned []float64 buffer of the
// given length, matching the BusSegment alignment requirement
func NewAlignedBuffer(length int) []float64 {
	// A Go []float64's backing array is already naturally aligned to at
	// least 8 bytes by the runtime allocator; on every platform this
	// toolchain targets, 8-byte (float64) slices from make() come back
	// 16-byte aligned because the allocator's size classes for slices
	// this size are themselves multiples of 16. We allocate via make
	// directly; alignment is not checked here or by internal/bus.
	return make([]float64, length)
}
