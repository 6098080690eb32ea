// Package valuation implements the Valuation Aggregator:
// partitioning the scenario matrix into W worker chunks, running the
// projection kernel for every policy under every scenario in a chunk,
// and reducing to a scenario-NPV vector and its summary statistics.
package valuation

import (
	"context"
	"math"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/actuar/projector/internal/domain"
	"github.com/actuar/projector/internal/kernel"
	"github.com/actuar/projector/internal/obslog"
)

// Aggregator holds the shared, read-only inputs every worker projects
// against: the policy set, resolved assumptions, and an optional UDF
// host. None of these are mutated once Run begins.
type Aggregator struct {
	Policies    *domain.PolicySet
	Assumptions kernel.Assumptions
	Host        kernel.AdjustmentHost
	Workers     int
	Logger      obslog.Logger
}

// CancelFlag is the single atomic cooperative-stop signal: it
// is checked before each scenario a worker projects, never inside the
// kernel's year loop.
type CancelFlag struct {
	flag atomic.Bool
}

// Cancel requests that in-flight and future workers stop at their next
// scenario boundary.
func (c *CancelFlag) Cancel() { c.flag.Store(true) }

// Requested reports whether Cancel has been called.
func (c *CancelFlag) Requested() bool { return c.flag.Load() }

// Run partitions scenarios into chunks of ceil(n/Workers) scenarios (the
// last chunk is shorter when n is not a multiple of the chunk size, and
// fewer than Workers chunks may result) and projects every policy under
// every scenario,
// producing the per-scenario NPV vector and its derived statistics. The
// returned ValuationResult's ScenarioNPVs is indexed by scenario, so its
// layout is deterministic regardless of which goroutine processed which
// chunk: assignment of scenarios to workers is non-deterministic, but
// the output vector's layout is not.
func (ag *Aggregator) Run(ctx context.Context, scenarios *domain.ScenarioSet, cancel *CancelFlag) (*domain.ValuationResult, error) {
	n := scenarios.ID.NumScenarios()
	npvs := make([]float64, n)
	numericIssues := make([]int32, n)
	udfWarnings := make([]int64, n)

	workers := ag.Workers
	if workers < 1 {
		workers = 1
	}
	if workers > n {
		workers = n
	}

	chunkSize := (n + workers - 1) / workers
	g, gctx := errgroup.WithContext(ctx)
	_ = gctx

	cancelled := atomic.Bool{}

	for w := 0; w < workers; w++ {
		start := w * chunkSize
		if start >= n {
			break
		}
		end := start + chunkSize
		if end > n {
			end = n
		}
		g.Go(func() error {
			for s := start; s < end; s++ {
				if cancel != nil && cancel.Requested() {
					cancelled.Store(true)
					return nil
				}
				ag.projectScenario(scenarios, s, npvs, numericIssues, udfWarnings)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	result := Summarize(npvs)
	result.Cancelled = cancelled.Load()
	for _, issue := range numericIssues {
		result.NumericWarnings += int(issue)
	}
	var totalUDFWarnings int64
	for _, w := range udfWarnings {
		totalUDFWarnings += w
	}
	result.Warnings = result.NumericWarnings + int(totalUDFWarnings)
	return result, nil
}

// projectScenario runs the kernel for every policy under scenario index
// s, summing each policy's NPV into that scenario's portfolio NPV.
func (ag *Aggregator) projectScenario(scenarios *domain.ScenarioSet, s int, npvs []float64, numericIssues []int32, udfWarnings []int64) {
	rates := scenarios.Row(s)
	var sum float64
	var warnings int64
	anomaly := false

	for i := range ag.Policies.Policies {
		out := kernel.Project(&ag.Policies.Policies[i], rates, ag.Assumptions, ag.Host)
		warnings += int64(out.UDFWarnings)
		if out.NumericIssue {
			anomaly = true
			continue
		}
		sum += out.NPV
	}

	udfWarnings[s] = warnings
	if anomaly || math.IsNaN(sum) || math.IsInf(sum, 0) {
		npvs[s] = math.NaN()
		numericIssues[s] = 1
		if ag.Logger != nil {
			ag.Logger.Warnf("scenario %d: numeric anomaly, NPV set to NaN", s)
		}
		return
	}
	npvs[s] = sum
}
