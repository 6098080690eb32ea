package config

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/actuar/projector/internal/domain"
)

// csvLineErr reports a malformed row with its 1-based line number
// (including the header), so a caller can find and fix the offending
// row directly.
func csvLineErr(line int, format string, args ...any) error {
	return fmt.Errorf("line %d: %s", line, fmt.Sprintf(format, args...))
}

// LoadPolicies reads the policy CSV:
// policy_id,age,gender,sum_assured,premium,term,product_type[,underwriting_class,...]
func LoadPolicies(filename string) (*domain.PolicySet, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open policies file %s: %w", filename, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read policies header: %w", err)
	}
	cols := headerIndex(header)
	required := []string{"policy_id", "age", "gender", "sum_assured", "premium", "term", "product_type"}
	for _, c := range required {
		if _, ok := cols[c]; !ok {
			return nil, fmt.Errorf("policies file missing required column %q", c)
		}
	}

	var policies []domain.Policy
	line := 1
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, csvLineErr(line, "%v", err)
		}

		policyID, err := strconv.ParseUint(row[cols["policy_id"]], 10, 64)
		if err != nil {
			return nil, csvLineErr(line, "invalid policy_id %q", row[cols["policy_id"]])
		}
		age, err := strconv.ParseUint(row[cols["age"]], 10, 8)
		if err != nil {
			return nil, csvLineErr(line, "invalid age %q", row[cols["age"]])
		}
		genderCode, err := strconv.Atoi(row[cols["gender"]])
		if err != nil {
			return nil, csvLineErr(line, "invalid gender %q", row[cols["gender"]])
		}
		gender, err := domain.ParseGender(genderCode)
		if err != nil {
			return nil, csvLineErr(line, "%v", err)
		}
		sumAssured, err := strconv.ParseFloat(row[cols["sum_assured"]], 64)
		if err != nil {
			return nil, csvLineErr(line, "invalid sum_assured %q", row[cols["sum_assured"]])
		}
		premium, err := strconv.ParseFloat(row[cols["premium"]], 64)
		if err != nil {
			return nil, csvLineErr(line, "invalid premium %q", row[cols["premium"]])
		}
		term, err := strconv.ParseUint(row[cols["term"]], 10, 8)
		if err != nil {
			return nil, csvLineErr(line, "invalid term %q", row[cols["term"]])
		}
		productCode, err := strconv.Atoi(row[cols["product_type"]])
		if err != nil {
			return nil, csvLineErr(line, "invalid product_type %q", row[cols["product_type"]])
		}
		productType, err := domain.ParseProductType(productCode)
		if err != nil {
			return nil, csvLineErr(line, "%v", err)
		}

		p := domain.Policy{
			PolicyID:    policyID,
			Age:         uint8(age),
			Gender:      gender,
			SumAssured:  sumAssured,
			Premium:     premium,
			Term:        uint8(term),
			ProductType: productType,
		}
		if idx, ok := cols["underwriting_class"]; ok && idx < len(row) {
			p.UnderwritingClass = row[idx]
		}
		if err := p.Validate(); err != nil {
			return nil, csvLineErr(line, "%v", err)
		}
		policies = append(policies, p)
	}

	return domain.NewPolicySet(policies)
}

// LoadMortalityTable reads the mortality CSV:
// age,male_qx,female_qx covering ages 0..120.
func LoadMortalityTable(filename string) (*domain.MortalityTable, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open mortality file %s: %w", filename, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	if _, err := r.Read(); err != nil { // header
		return nil, fmt.Errorf("failed to read mortality header: %w", err)
	}

	rows := make([][2]float64, 121)
	seen := make([]bool, 121)
	line := 1
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, csvLineErr(line, "%v", err)
		}
		if len(row) < 3 {
			return nil, csvLineErr(line, "expected 3 columns, got %d", len(row))
		}
		age, err := strconv.Atoi(row[0])
		if err != nil || age < 0 || age > 120 {
			return nil, csvLineErr(line, "invalid age %q", row[0])
		}
		maleQx, err := strconv.ParseFloat(row[1], 64)
		if err != nil {
			return nil, csvLineErr(line, "invalid male_qx %q", row[1])
		}
		femaleQx, err := strconv.ParseFloat(row[2], 64)
		if err != nil {
			return nil, csvLineErr(line, "invalid female_qx %q", row[2])
		}
		rows[age] = [2]float64{maleQx, femaleQx}
		seen[age] = true
	}
	for age, ok := range seen {
		if !ok {
			return nil, fmt.Errorf("mortality table missing row for age %d", age)
		}
	}

	return domain.NewMortalityTable(rows)
}

// LoadLapseTable reads the lapse CSV: year,lapse_rate
// covering years 1..50.
func LoadLapseTable(filename string) (*domain.LapseTable, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open lapse file %s: %w", filename, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	if _, err := r.Read(); err != nil {
		return nil, fmt.Errorf("failed to read lapse header: %w", err)
	}

	var maxYear int
	rates := make(map[int]float64)
	line := 1
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, csvLineErr(line, "%v", err)
		}
		if len(row) < 2 {
			return nil, csvLineErr(line, "expected 2 columns, got %d", len(row))
		}
		year, err := strconv.Atoi(row[0])
		if err != nil || year < 1 || year > 50 {
			return nil, csvLineErr(line, "invalid year %q", row[0])
		}
		rate, err := strconv.ParseFloat(row[1], 64)
		if err != nil {
			return nil, csvLineErr(line, "invalid lapse_rate %q", row[1])
		}
		rates[year] = rate
		if year > maxYear {
			maxYear = year
		}
	}

	vec := make([]float64, maxYear)
	for year := 1; year <= maxYear; year++ {
		rate, ok := rates[year]
		if !ok {
			return nil, fmt.Errorf("lapse table missing row for year %d", year)
		}
		vec[year-1] = rate
	}

	return domain.NewLapseTable(vec)
}

// expenseJSON is the JSON wire shape of its expense document:
// per_policy_acquisition, per_policy_maintenance, percent_of_premium,
// claim_expense.
type expenseJSON struct {
	PerPolicyAcquisition float64 `json:"per_policy_acquisition"`
	PerPolicyMaintenance float64 `json:"per_policy_maintenance"`
	PercentOfPremium     float64 `json:"percent_of_premium"`
	ClaimExpense         float64 `json:"claim_expense"`
}

// LoadExpenseAssumptions reads an expense document from filename. CSV
// input is a single data row with the same four columns; JSON input is
// the keyed document
func LoadExpenseAssumptions(filename string, isJSON bool) (domain.ExpenseAssumptions, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return domain.ExpenseAssumptions{}, fmt.Errorf("failed to read expense file %s: %w", filename, err)
	}

	if isJSON {
		var e expenseJSON
		if err := json.Unmarshal(data, &e); err != nil {
			return domain.ExpenseAssumptions{}, fmt.Errorf("failed to parse expense JSON: %w", err)
		}
		return domain.ExpenseAssumptions{
			PerPolicyAcquisition: e.PerPolicyAcquisition,
			PerPolicyMaintenance: e.PerPolicyMaintenance,
			PercentOfPremium:     e.PercentOfPremium,
			PerClaim:             e.ClaimExpense,
		}, nil
	}

	r := csv.NewReader(bytes.NewReader(data))
	header, err := r.Read()
	if err != nil {
		return domain.ExpenseAssumptions{}, fmt.Errorf("failed to read expense header: %w", err)
	}
	cols := headerIndex(header)
	row, err := r.Read()
	if err != nil {
		return domain.ExpenseAssumptions{}, csvLineErr(2, "expected one data row: %v", err)
	}

	get := func(name string) (float64, error) {
		idx, ok := cols[name]
		if !ok || idx >= len(row) {
			return 0, fmt.Errorf("expense CSV missing column %q", name)
		}
		v, err := strconv.ParseFloat(row[idx], 64)
		if err != nil {
			return 0, csvLineErr(2, "invalid %s %q", name, row[idx])
		}
		return v, nil
	}

	acq, err := get("per_policy_acquisition")
	if err != nil {
		return domain.ExpenseAssumptions{}, err
	}
	maint, err := get("per_policy_maintenance")
	if err != nil {
		return domain.ExpenseAssumptions{}, err
	}
	pct, err := get("percent_of_premium")
	if err != nil {
		return domain.ExpenseAssumptions{}, err
	}
	claim, err := get("claim_expense")
	if err != nil {
		return domain.ExpenseAssumptions{}, err
	}

	return domain.ExpenseAssumptions{
		PerPolicyAcquisition: acq,
		PerPolicyMaintenance: maint,
		PercentOfPremium:     pct,
		PerClaim:             claim,
	}, nil
}

func headerIndex(header []string) map[string]int {
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[h] = i
	}
	return idx
}
