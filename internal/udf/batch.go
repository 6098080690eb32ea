package udf

import (
	"context"
	"sync"

	"github.com/actuar/projector/internal/domain"
)

// cacheKey identifies a (policy, year) pair for batched amortization.
type cacheKey struct {
	policyID uint64
	year     int
}

// BatchHost amortizes UDF cost across scenarios by invoking the
// underlying Host once per (policy, year) and reusing the result for
// every scenario that visits the same (policy, year) pair. This assumes
// the UDF is pure or idempotent, so reusing the first observed (lives,
// rate) sample for a given (policy, year) across scenarios is a valid
// amortization as long as that purity holds; callers with genuinely
// scenario-sensitive UDFs should use Host directly instead.
type BatchHost struct {
	Mortality *Host
	Lapse     *Host

	mu         sync.Mutex
	mortCache  map[cacheKey]float64
	lapseCache map[cacheKey]float64
}

// NewBatchHost wraps a mortality and lapse Host with per-(policy,year)
// memoization. Either may be nil to disable that adjustment.
func NewBatchHost(mortality, lapse *Host) *BatchHost {
	return &BatchHost{
		Mortality:  mortality,
		Lapse:      lapse,
		mortCache:  make(map[cacheKey]float64),
		lapseCache: make(map[cacheKey]float64),
	}
}

// AdjustMortality implements kernel.AdjustmentHost.
func (b *BatchHost) AdjustMortality(policy *domain.Policy, year int, lives, rate float64) (float64, error) {
	if b.Mortality == nil {
		return 1.0, nil
	}
	key := cacheKey{policy.PolicyID, year}
	b.mu.Lock()
	if v, ok := b.mortCache[key]; ok {
		b.mu.Unlock()
		return v, nil
	}
	b.mu.Unlock()

	mult, err := b.Mortality.Call(context.Background(), policy, year, lives, rate)

	b.mu.Lock()
	b.mortCache[key] = mult
	b.mu.Unlock()
	return mult, err
}

// AdjustLapse implements kernel.AdjustmentHost.
func (b *BatchHost) AdjustLapse(policy *domain.Policy, year int, lives, rate float64) (float64, error) {
	if b.Lapse == nil {
		return 1.0, nil
	}
	key := cacheKey{policy.PolicyID, year}
	b.mu.Lock()
	if v, ok := b.lapseCache[key]; ok {
		b.mu.Unlock()
		return v, nil
	}
	b.mu.Unlock()

	mult, err := b.Lapse.Call(context.Background(), policy, year, lives, rate)

	b.mu.Lock()
	b.lapseCache[key] = mult
	b.mu.Unlock()
	return mult, err
}

// Warnings returns the combined UDFWarning count across both underlying
// hosts.
func (b *BatchHost) Warnings() int64 {
	var n int64
	if b.Mortality != nil {
		n += b.Mortality.Warnings()
	}
	if b.Lapse != nil {
		n += b.Lapse.Warnings()
	}
	return n
}
