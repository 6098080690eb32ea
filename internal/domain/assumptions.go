package domain

import "fmt"

// MortalityTable is a dense qx[age][gender] matrix covering ages 0..120.
// qx[120][_] must equal 1.0 and every entry must lie in [0, 1]. Lookups
// apply a scalar multiplier and saturate at 1.0
type MortalityTable struct {
	// qx is indexed [age][gender], age in 0..120 inclusive (121 rows).
	qx [121][2]float64
}

const maxAge = 120

// NewMortalityTable builds a table from a dense [age][gender] matrix,
// validating the invariants: qx[120][_] = 1.0, 0 <= qx <= 1.
func NewMortalityTable(rows [][2]float64) (*MortalityTable, error) {
	if len(rows) != maxAge+1 {
		return nil, fmt.Errorf("mortality table must cover ages 0..%d (%d rows), got %d rows", maxAge, maxAge+1, len(rows))
	}
	t := &MortalityTable{}
	for age, row := range rows {
		for g := 0; g < 2; g++ {
			v := row[g]
			if v < 0 || v > 1 {
				return nil, fmt.Errorf("mortality table row for age %d gender %d: qx=%g out of [0,1]", age, g, v)
			}
			t.qx[age][g] = v
		}
	}
	if t.qx[maxAge][0] != 1.0 || t.qx[maxAge][1] != 1.0 {
		return nil, fmt.Errorf("mortality table invariant violated: qx[%d][_] must equal 1.0", maxAge)
	}
	return t, nil
}

// Qx returns min(1.0, raw_qx[age][gender] * mult). Ages beyond the table's
// range saturate at the age-120 row, which is always 1.0.
func (t *MortalityTable) Qx(age int, gender Gender, mult float64) float64 {
	if age < 0 {
		age = 0
	}
	if age > maxAge {
		age = maxAge
	}
	raw := t.qx[age][gender]
	v := raw * mult
	if v > 1.0 {
		return 1.0
	}
	if v < 0 {
		return 0
	}
	return v
}

// Rows copies out the table's dense [age][gender] matrix, for callers
// that need to serialize or reconstruct a table (config loaders, bus
// handoff payloads).
func (t *MortalityTable) Rows() [][2]float64 {
	rows := make([][2]float64, len(t.qx))
	for i, r := range t.qx {
		rows[i] = r
	}
	return rows
}

// LapseTable is a vector of annual voluntary-surrender probabilities
// indexed by policy year (1-based), covering years 1..50.
type LapseTable struct {
	rates []float64 // rates[0] is year 1
}

// NewLapseTable builds a table from a 1-indexed-by-convention slice
// (index 0 = year 1), validating that every rate is within [0, 1].
func NewLapseTable(rates []float64) (*LapseTable, error) {
	if len(rates) == 0 || len(rates) > 50 {
		return nil, fmt.Errorf("lapse table must cover 1..50 years, got %d rows", len(rates))
	}
	for i, v := range rates {
		if v < 0 || v > 1 {
			return nil, fmt.Errorf("lapse table row for year %d: rate=%g out of [0,1]", i+1, v)
		}
	}
	cp := make([]float64, len(rates))
	copy(cp, rates)
	return &LapseTable{rates: cp}, nil
}

// Rate returns min(1.0, raw[year-1]*mult) for year in 1..len(table), and 0
// for any year beyond the table's coverage
func (t *LapseTable) Rate(year int, mult float64) float64 {
	if year < 1 || year > len(t.rates) {
		return 0
	}
	v := t.rates[year-1] * mult
	if v > 1.0 {
		return 1.0
	}
	if v < 0 {
		return 0
	}
	return v
}

// Rates copies out the table's per-year rate vector (index 0 = year 1).
func (t *LapseTable) Rates() []float64 {
	cp := make([]float64, len(t.rates))
	copy(cp, t.rates)
	return cp
}

// ExpenseAssumptions holds the four scalar expense parameters. The
// multiplier passed to FirstYear/Renewal scales the amount they return;
// neither uses PerClaim, so PerClaim is never scaled.
type ExpenseAssumptions struct {
	PerPolicyAcquisition float64
	PerPolicyMaintenance float64
	PercentOfPremium     float64
	PerClaim             float64
}

// FirstYear returns (acquisition + pct_prem*premium + maintenance) * mult.
// Per its resolved Open Question, percent_of_premium is applied in
// every year, including year one, so acquisition and maintenance are
// additive on top of it in year one rather than replacing it.
func (e ExpenseAssumptions) FirstYear(premium, mult float64) float64 {
	return (e.PerPolicyAcquisition + e.PercentOfPremium*premium + e.PerPolicyMaintenance) * mult
}

// Renewal returns (maintenance + pct_prem*premium) * mult.
func (e ExpenseAssumptions) Renewal(premium, mult float64) float64 {
	return (e.PerPolicyMaintenance + e.PercentOfPremium*premium) * mult
}
