// Package integration exercises the concrete end-to-end scenarios named
// in the actuarial projection system's walkthrough: single-policy
// closed-form checks, determinism and worker-count invariance of the
// valuation aggregator, a real typed-bus round trip between scenario
// generation and projection, and the UDF-failure-degrades-to-warning
// contract.
package integration

import (
	"context"
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/actuar/projector/internal/bus"
	"github.com/actuar/projector/internal/domain"
	"github.com/actuar/projector/internal/kernel"
	"github.com/actuar/projector/internal/scenario"
	"github.com/actuar/projector/internal/udf"
	"github.com/actuar/projector/internal/valuation"
)

func termPolicy() *domain.Policy {
	return &domain.Policy{
		PolicyID:    1,
		Age:         30,
		Gender:      domain.GenderMale,
		SumAssured:  100000,
		Premium:     500,
		Term:        20,
		ProductType: domain.ProductTerm,
	}
}

func flatRates(rate float64, years int) []float64 {
	r := make([]float64, years)
	for i := range r {
		r[i] = rate
	}
	return r
}

func zeroMortalityTable(t *testing.T) *domain.MortalityTable {
	t.Helper()
	rows := make([][2]float64, 121)
	for age := 0; age < 120; age++ {
		rows[age] = [2]float64{0, 0}
	}
	rows[120] = [2]float64{1, 1}
	tbl, err := domain.NewMortalityTable(rows)
	require.NoError(t, err)
	return tbl
}

func constantMortalityTable(t *testing.T, qx float64) *domain.MortalityTable {
	t.Helper()
	rows := make([][2]float64, 121)
	for age := 0; age < 120; age++ {
		rows[age] = [2]float64{qx, qx}
	}
	rows[120] = [2]float64{1, 1}
	tbl, err := domain.NewMortalityTable(rows)
	require.NoError(t, err)
	return tbl
}

func zeroLapseTable(t *testing.T) *domain.LapseTable {
	t.Helper()
	tbl, err := domain.NewLapseTable(make([]float64, 50))
	require.NoError(t, err)
	return tbl
}

// TestSinglePolicy_FlatRateNoDecrements checks the closed-form annuity
// sum: a single term policy under a flat 5% rate with zero mortality,
// lapse, and expense has NPV equal to the premium annuity,
// sum_{t=1..20} 500/1.05^t.
func TestSinglePolicy_FlatRateNoDecrements(t *testing.T) {
	policy := termPolicy()
	rates := flatRates(0.05, 20)
	a := kernel.Assumptions{
		Mortality: zeroMortalityTable(t),
		Lapse:     zeroLapseTable(t),
		Expense:   domain.ExpenseAssumptions{},
	}

	outcome := kernel.Project(policy, rates, a, nil)
	require.False(t, outcome.NumericIssue)

	want := 0.0
	discount := 1.0
	for t := 1; t <= 20; t++ {
		discount /= 1.05
		want += 500 * discount
	}

	assert.InDelta(t, 6231.11, want, 1.0, "sanity: closed-form reference itself near the walkthrough's quoted figure")
	assert.InDelta(t, want, outcome.NPV, 1e-6)
}

// TestSinglePolicy_ConstantMortality checks the two-state decrement
// closed form (qx constant, zero lapse/expense): each year's expected
// cash flow is lives*premium - deaths*sumAssured, lives decaying
// geometrically by (1-qx).
func TestSinglePolicy_ConstantMortality(t *testing.T) {
	const qx = 0.01
	policy := termPolicy()
	rates := flatRates(0.05, 20)
	a := kernel.Assumptions{
		Mortality: constantMortalityTable(t, qx),
		Lapse:     zeroLapseTable(t),
		Expense:   domain.ExpenseAssumptions{},
	}

	outcome := kernel.Project(policy, rates, a, nil)
	require.False(t, outcome.NumericIssue)

	want := 0.0
	discount := 1.0
	lives := 1.0
	for t := 1; t <= 20; t++ {
		deaths := qx * lives
		cf := policy.Premium*lives - deaths*policy.SumAssured
		discount /= 1.05
		want += cf * discount
		lives -= deaths
	}

	assert.InDelta(t, want, outcome.NPV, 1e-9)
}

func vasicekParams() domain.YieldCurveParams {
	return domain.YieldCurveParams{A: 0.1, Sigma: 0.015, B0: 0.04, R0: 0.04, Version: "v1"}
}

func mediumPolicySet(t *testing.T, n int) *domain.PolicySet {
	t.Helper()
	policies := make([]domain.Policy, n)
	for i := 0; i < n; i++ {
		gender := domain.GenderMale
		if i%2 == 1 {
			gender = domain.GenderFemale
		}
		policies[i] = domain.Policy{
			PolicyID:    uint64(i + 1),
			Age:         uint8(25 + i%40),
			Gender:      gender,
			SumAssured:  50000 + float64(i%10)*10000,
			Premium:     200 + float64(i%5)*50,
			Term:        uint8(5 + i%10),
			ProductType: domain.ProductType(i % 3),
		}
	}
	return &domain.PolicySet{Policies: policies}
}

func standardAssumptions(t *testing.T) kernel.Assumptions {
	t.Helper()
	return kernel.Assumptions{
		Mortality:     constantMortalityTable(t, 0.008),
		Lapse:         zeroLapseTable(t),
		Expense:       domain.ExpenseAssumptions{PerPolicyAcquisition: 50, PerPolicyMaintenance: 10, PercentOfPremium: 0.02, PerClaim: 25},
		MortalityMult: 1.0,
		LapseMult:     1.0,
		ExpenseMult:   1.0,
	}
}

func buildScenarios(t *testing.T, seed int64) *domain.ScenarioSet {
	t.Helper()
	id := domain.ScenarioSetID{
		Model:              domain.ModelVasicek,
		OuterPaths:         10,
		InnerPathsPerOuter: 100,
		Seed:               seed,
		ProjectionYears:    15,
		YieldCurveVersion:  "v1",
	}
	buf := scenario.NewAlignedBuffer(id.NumScenarios() * id.ProjectionYears)
	require.NoError(t, scenario.Generate(id, vasicekParams(), buf))
	return &domain.ScenarioSet{ID: id, Years: id.ProjectionYears, Rates: buf}
}

// TestAggregator_DeterministicAcrossRuns runs the same policy/scenario
// set twice with the same worker count and checks the resulting
// scenario-NPV vectors are bit-identical.
func TestAggregator_DeterministicAcrossRuns(t *testing.T) {
	policies := mediumPolicySet(t, 200)
	scenarios := buildScenarios(t, 42)
	assumptions := standardAssumptions(t)

	run := func() *domain.ValuationResult {
		ag := &valuation.Aggregator{Policies: policies, Assumptions: assumptions, Workers: 4}
		result, err := ag.Run(context.Background(), scenarios, nil)
		require.NoError(t, err)
		return result
	}

	first := run()
	second := run()

	require.Equal(t, len(first.ScenarioNPVs), len(second.ScenarioNPVs))
	for i := range first.ScenarioNPVs {
		assert.Equal(t, first.ScenarioNPVs[i], second.ScenarioNPVs[i], "scenario %d diverged across identical runs", i)
	}
	assert.Equal(t, 1000, first.ScenarioCount)
}

// TestAggregator_WorkerCountInvariant checks that partitioning the same
// scenario matrix across a different worker count changes nothing about
// the result beyond floating-point summation order: summary statistics
// agree within a tight relative tolerance and per-scenario NPVs are
// bit-identical (each scenario is still projected independently of
// worker boundaries).
func TestAggregator_WorkerCountInvariant(t *testing.T) {
	policies := mediumPolicySet(t, 200)
	scenarios := buildScenarios(t, 42)
	assumptions := standardAssumptions(t)

	runWithWorkers := func(w int) *domain.ValuationResult {
		ag := &valuation.Aggregator{Policies: policies, Assumptions: assumptions, Workers: w}
		result, err := ag.Run(context.Background(), scenarios, nil)
		require.NoError(t, err)
		return result
	}

	w1 := runWithWorkers(1)
	w8 := runWithWorkers(8)

	require.Equal(t, len(w1.ScenarioNPVs), len(w8.ScenarioNPVs))
	for i := range w1.ScenarioNPVs {
		assert.Equal(t, w1.ScenarioNPVs[i], w8.ScenarioNPVs[i], "scenario %d differs between W=1 and W=8", i)
	}

	assertRelClose(t, w1.Statistics.Mean, w8.Statistics.Mean)
	assertRelClose(t, w1.Statistics.StdDev, w8.Statistics.StdDev)
	assertRelClose(t, w1.Statistics.Percentiles.P95, w8.Statistics.Percentiles.P95)
	assertRelClose(t, w1.Statistics.CTE95, w8.Statistics.CTE95)
}

func assertRelClose(t *testing.T, a, b float64) {
	t.Helper()
	if a == 0 && b == 0 {
		return
	}
	rel := math.Abs(a-b) / math.Max(math.Abs(a), math.Abs(b))
	assert.LessOrEqual(t, rel, 1e-9, "values %v and %v not within relative tolerance", a, b)
}

func floatsToBytes(v []float64) []byte {
	out := make([]byte, len(v)*8)
	for i, f := range v {
		binary.LittleEndian.PutUint64(out[i*8:], math.Float64bits(f))
	}
	return out
}

// TestBus_ScenarioHandoffRoundTrip exercises a real allocate/publish/
// acquire/release cycle on the typed bus carrying a generated scenario
// matrix from an ESG-shaped producer to a projection-shaped consumer:
// the consumer sees the declared scenario count, the CRC check passes,
// and the segment's reference count returns to zero once released.
func TestBus_ScenarioHandoffRoundTrip(t *testing.T) {
	id := domain.ScenarioSetID{
		Model:              domain.ModelVasicek,
		OuterPaths:         3,
		InnerPathsPerOuter: 100,
		Seed:               7,
		ProjectionYears:    50,
		YieldCurveVersion:  "v1",
	}
	require.NoError(t, id.Validate())
	require.Equal(t, 300, id.NumScenarios())

	buf := scenario.NewAlignedBuffer(id.NumScenarios() * id.ProjectionYears)
	require.NoError(t, scenario.Generate(id, vasicekParams(), buf))

	b := bus.New(true)
	producer, err := b.Allocate("bus://scenarios/rates", bus.ElementFloat64, []int{id.NumScenarios(), id.ProjectionYears}, 1)
	require.NoError(t, err)

	region, err := producer.WriteRegion()
	require.NoError(t, err)
	copy(region, floatsToBytes(buf))
	require.NoError(t, producer.Publish())

	consumer, data, err := b.AcquireRead("bus://scenarios/rates")
	require.NoError(t, err)
	assert.Equal(t, id.NumScenarios()*id.ProjectionYears*8, len(data))
	assert.Equal(t, 1, consumer.Segment.Pending())

	require.NoError(t, b.Release(consumer))
	assert.Equal(t, 0, consumer.Segment.Pending())
}

// TestAggregator_UDFAlwaysFails checks the degrade-to-warning contract:
// a UDF host whose adjustment function always errors still leaves every
// scenario's NPV finite, and the aggregate warning count reflects every
// failed call.
func TestAggregator_UDFAlwaysFails(t *testing.T) {
	policies := mediumPolicySet(t, 20)
	scenarios := buildScenarios(t, 99)
	assumptions := standardAssumptions(t)

	alwaysFails := func(ctx context.Context, policy *domain.Policy, year int, lives, rate float64) (float64, error) {
		return 0, assert.AnError
	}
	host := udf.NewBatchHost(
		udf.NewHost("mortality-adjustment", alwaysFails, udf.Config{Timeout: udf.DefaultTimeout}),
		udf.NewHost("lapse-adjustment", alwaysFails, udf.Config{Timeout: udf.DefaultTimeout}),
	)

	ag := &valuation.Aggregator{Policies: policies, Assumptions: assumptions, Host: host, Workers: 4}
	result, err := ag.Run(context.Background(), scenarios, nil)
	require.NoError(t, err)

	assert.Greater(t, result.Warnings, 0)
	for i, npv := range result.ScenarioNPVs {
		assert.False(t, math.IsNaN(npv), "scenario %d NPV is NaN", i)
		assert.False(t, math.IsInf(npv, 0), "scenario %d NPV is Inf", i)
	}
}
