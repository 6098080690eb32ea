package report

import (
	"bytes"
	"fmt"

	"github.com/actuar/projector/internal/domain"
	moneypkg "github.com/actuar/projector/pkg/decimal"
)

// ConsoleFormatter renders a human-readable summary table: a header
// block, then one line per statistic, currency values rendered through
// pkg/decimal.Money rather than raw float formatting.
type ConsoleFormatter struct{}

func (ConsoleFormatter) Name() string { return "console" }

func (ConsoleFormatter) Format(result *domain.ValuationResult) ([]byte, error) {
	var buf bytes.Buffer
	fmt.Fprintln(&buf, "VALUATION SUMMARY")
	fmt.Fprintln(&buf, "=================")
	fmt.Fprintf(&buf, "Scenarios run:     %d\n", result.ScenarioCount)
	fmt.Fprintf(&buf, "Execution time:    %d ms\n", result.ExecutionTimeMS)
	fmt.Fprintln(&buf)
	fmt.Fprintf(&buf, "Mean NPV:          %s\n", money(result.Statistics.Mean))
	fmt.Fprintf(&buf, "Std dev:           %s\n", money(result.Statistics.StdDev))
	fmt.Fprintf(&buf, "CTE 95:            %s\n", money(result.Statistics.CTE95))
	fmt.Fprintln(&buf)
	fmt.Fprintln(&buf, "Percentiles:")
	fmt.Fprintf(&buf, "  P50: %s\n", money(result.Statistics.Percentiles.P50))
	fmt.Fprintf(&buf, "  P75: %s\n", money(result.Statistics.Percentiles.P75))
	fmt.Fprintf(&buf, "  P90: %s\n", money(result.Statistics.Percentiles.P90))
	fmt.Fprintf(&buf, "  P95: %s\n", money(result.Statistics.Percentiles.P95))
	fmt.Fprintf(&buf, "  P99: %s\n", money(result.Statistics.Percentiles.P99))
	if result.Warnings > 0 || result.NumericWarnings > 0 {
		fmt.Fprintln(&buf)
		fmt.Fprintf(&buf, "Warnings: %d (numeric: %d)\n", result.Warnings, result.NumericWarnings)
	}
	if result.Cancelled {
		fmt.Fprintln(&buf, "Run was cancelled before completion.")
	}
	return buf.Bytes(), nil
}

func money(v float64) string {
	return moneypkg.NewMoney(v).Round().Format()
}
