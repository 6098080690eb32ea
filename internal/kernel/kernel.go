// Package kernel implements the projection kernel: the
// hot-loop numerical engine that walks a policy's in-force years under
// one interest-rate scenario, applying mortality, lapse, and expense
// assumptions (plus optional UDF adjustments) and discounting the
// resulting cash flows to net present value.
//
// There are no suspension points inside the year loop : no
// channel sends, no mutex acquisitions, no UDF polling beyond the two
// synchronous host calls (mortality, lapse) already in the loop body.
package kernel

import (
	"math"

	"github.com/actuar/projector/internal/domain"
)

// livesFloor is the lives-in-force threshold below which the kernel
// stops iterating (epsilon = 1e-3).
const livesFloor = 1e-3

// DiscountConvention selects how a year's cash flow is discounted back to
// present value, as a config toggle rather than a fixed guess; EndOfYear
// (1/(1+r)^t) is the default.
type DiscountConvention int

const (
	// EndOfYear discounts at the full annual factor Π 1/(1+r_u).
	EndOfYear DiscountConvention = iota
	// MidYear approximates discounting the cash flow at the midpoint of
	// its accrual year, as the geometric mean of the prior and current
	// year-end discount factors.
	MidYear
)

// Assumptions bundles the three resolved tables and their multipliers,
// immutable and shared read-only across every worker.
type Assumptions struct {
	Mortality     *domain.MortalityTable
	Lapse         *domain.LapseTable
	Expense       domain.ExpenseAssumptions
	MortalityMult float64
	LapseMult     float64
	ExpenseMult   float64
	Discounting   DiscountConvention
}

// AdjustmentHost is the synchronous per-year query surface the kernel
// calls into when UDFs are enabled. Implementations must return within
// their own bound timeout and degrade to (1.0, non-nil error) rather
// than block indefinitely; the kernel treats any error as a fallback
// multiplier of 1.0 plus a warning.
type AdjustmentHost interface {
	AdjustMortality(policy *domain.Policy, year int, lives, rate float64) (float64, error)
	AdjustLapse(policy *domain.Policy, year int, lives, rate float64) (float64, error)
}

// Outcome is the result of projecting one (policy, scenario) pair.
type Outcome struct {
	NPV          float64
	UDFWarnings  int
	NumericIssue bool // true if NPV became NaN/Inf and was recorded
}

// Project runs the year loop for a single policy under a
// single scenario's rate path (rates[t] is the rate for year t+1, i.e.
// 0-indexed by year-1). host may be nil to disable UDF adjustments.
func Project(policy *domain.Policy, rates []float64, a Assumptions, host AdjustmentHost) Outcome {
	var npv float64
	var discount float64 = 1.0
	lives := 1.0
	warnings := 0

	term := int(policy.Term)
	for t := 1; t <= term; t++ {
		if lives <= livesFloor {
			break
		}
		currentAge := int(policy.Age) + t - 1
		qx := a.Mortality.Qx(currentAge, policy.Gender, a.MortalityMult)
		lapseRate := a.Lapse.Rate(t, a.LapseMult)

		rate := 0.0
		if t-1 < len(rates) {
			rate = rates[t-1]
		}

		if host != nil {
			if mult, err := host.AdjustMortality(policy, t, lives, rate); err == nil && mult >= 0 && mult <= 10 {
				qx *= mult
				if qx > 1.0 {
					qx = 1.0
				}
			} else {
				warnings++
			}
			if mult, err := host.AdjustLapse(policy, t, lives, rate); err == nil && mult >= 0 && mult <= 10 {
				lapseRate *= mult
				if lapseRate > 1.0 {
					lapseRate = 1.0
				}
			} else {
				warnings++
			}
		}

		deaths := qx * lives
		lapses := lapseRate * (lives - deaths)

		premiumIncome := policy.Premium * lives
		deathBenefit := deaths * policy.SumAssured
		var expense float64
		if t == 1 {
			expense = a.Expense.FirstYear(policy.Premium, a.ExpenseMult) * lives
		} else {
			expense = a.Expense.Renewal(policy.Premium, a.ExpenseMult) * lives
		}
		cf := premiumIncome - deathBenefit - expense

		priorDiscount := discount
		discount /= 1.0 + rate
		df := discount
		if a.Discounting == MidYear {
			df = math.Sqrt(priorDiscount * discount)
		}
		npv += cf * df

		lives -= deaths + lapses
	}

	if math.IsNaN(npv) || math.IsInf(npv, 0) {
		return Outcome{NPV: math.NaN(), UDFWarnings: warnings, NumericIssue: true}
	}
	return Outcome{NPV: npv, UDFWarnings: warnings}
}
