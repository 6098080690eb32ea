package dateutil

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLeapYearCalculation(t *testing.T) {
	tests := []struct {
		year     int
		expected bool
	}{
		{2000, true},  // Divisible by 400
		{1900, false}, // Divisible by 100 but not 400
		{2004, true},  // Divisible by 4
		{2001, false}, // Not divisible by 4
		{2024, true},  // Recent leap year
		{2025, false}, // Current projection year
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("Year_%d", tt.year), func(t *testing.T) {
			result := IsLeapYear(tt.year)
			assert.Equal(t, tt.expected, result,
				"Year %d: Expected %t, got %t", tt.year, tt.expected, result)
		})
	}
}

// TestDaysInYear tests days in year calculation
func TestDaysInYear(t *testing.T) {
	tests := []struct {
		year         int
		expectedDays int
	}{
		{2024, 366}, // Leap year
		{2025, 365}, // Regular year
		{2000, 366}, // Leap year (divisible by 400)
		{1900, 365}, // Not leap year (divisible by 100 but not 400)
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("Year_%d", tt.year), func(t *testing.T) {
			days := DaysInYear(tt.year)
			assert.Equal(t, tt.expectedDays, days,
				"Year %d: Expected %d days, got %d", tt.year, tt.expectedDays, days)
		})
	}
}

// TestDateArithmetic tests date arithmetic functions
func TestDateArithmetic(t *testing.T) {
	baseDate := time.Date(2025, 6, 15, 12, 30, 45, 0, time.UTC)

	futureDate := AddYears(baseDate, 5)
	expectedFuture := time.Date(2030, 6, 15, 12, 30, 45, 0, time.UTC)
	assert.Equal(t, expectedFuture, futureDate, "AddYears should add 5 years correctly")

	yearStart := BeginningOfYear(baseDate)
	expectedStart := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, expectedStart, yearStart, "BeginningOfYear should return Jan 1")

	yearEnd := EndOfYear(baseDate)
	expectedEnd := time.Date(2025, 12, 31, 23, 59, 59, 999999999, time.UTC)
	assert.Equal(t, expectedEnd, yearEnd, "EndOfYear should return Dec 31 end of day")
}
