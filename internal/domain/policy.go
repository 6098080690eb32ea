// Package domain holds the immutable data model shared by every engine:
// policies, assumption tables, scenario matrices, and valuation results.
// Everything here is loaded once per pipeline run and never mutated, so
// it can be shared read-only across workers without locking.
package domain

import "fmt"

// Gender is the two-state demographic field used to index MortalityTable.
type Gender uint8

const (
	GenderMale Gender = iota
	GenderFemale
)

func (g Gender) String() string {
	if g == GenderFemale {
		return "F"
	}
	return "M"
}

// ParseGender decodes the columnar/CSV encoding (0=M, 1=F).
func ParseGender(code int) (Gender, error) {
	switch code {
	case 0:
		return GenderMale, nil
	case 1:
		return GenderFemale, nil
	default:
		return 0, fmt.Errorf("invalid gender code %d, expected 0 (M) or 1 (F)", code)
	}
}

// ProductType is the policy's benefit shape.
type ProductType uint8

const (
	ProductTerm ProductType = iota
	ProductWholeLife
	ProductEndowment
)

func (p ProductType) String() string {
	switch p {
	case ProductTerm:
		return "Term"
	case ProductWholeLife:
		return "WholeLife"
	case ProductEndowment:
		return "Endowment"
	default:
		return "Unknown"
	}
}

// ParseProductType decodes the columnar/CSV encoding (0=Term, 1=WholeLife, 2=Endowment).
func ParseProductType(code int) (ProductType, error) {
	switch code {
	case 0:
		return ProductTerm, nil
	case 1:
		return ProductWholeLife, nil
	case 2:
		return ProductEndowment, nil
	default:
		return 0, fmt.Errorf("invalid product_type code %d, expected 0, 1, or 2", code)
	}
}

// Policy is a single in-force contract. Instances are immutable after
// construction; PolicySet stores them contiguously in a single []Policy
// slice for cache-friendly iteration in the projection kernel.
type Policy struct {
	PolicyID           uint64
	Age                uint8
	Gender             Gender
	SumAssured         float64
	Premium            float64
	Term               uint8
	ProductType        ProductType
	UnderwritingClass  string
	Attributes         map[string]string // optional, for UDF access only
}

// Validate checks the per-policy invariants: age+term <= 121,
// sum assured and premium non-negative, term within the supported range.
func (p Policy) Validate() error {
	if int(p.Age)+int(p.Term) > 121 {
		return fmt.Errorf("policy %d: age(%d) + term(%d) = %d exceeds 121", p.PolicyID, p.Age, p.Term, int(p.Age)+int(p.Term))
	}
	if p.Term > 50 {
		return fmt.Errorf("policy %d: term %d exceeds maximum of 50 years", p.PolicyID, p.Term)
	}
	if p.SumAssured < 0 {
		return fmt.Errorf("policy %d: sum_assured %g must be non-negative", p.PolicyID, p.SumAssured)
	}
	if p.Premium < 0 {
		return fmt.Errorf("policy %d: premium %g must be non-negative", p.PolicyID, p.Premium)
	}
	return nil
}

// PolicySet is a contiguous, shared-read-only collection of policies. It
// is constructed once per pipeline run and handed to every worker.
type PolicySet struct {
	Policies []Policy
}

// NewPolicySet validates every policy and returns a PolicySet, or the
// first validation error encountered, reported with the offending
// policy's identity.
func NewPolicySet(policies []Policy) (*PolicySet, error) {
	for _, p := range policies {
		if err := p.Validate(); err != nil {
			return nil, err
		}
	}
	return &PolicySet{Policies: policies}, nil
}

// Len returns the number of policies in the set.
func (ps *PolicySet) Len() int {
	if ps == nil {
		return 0
	}
	return len(ps.Policies)
}
