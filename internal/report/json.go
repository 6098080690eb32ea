package report

import (
	"encoding/json"

	"github.com/actuar/projector/internal/domain"
)

// JSONFormatter serializes the summary statistics block of its
// output schema (mean, std dev, percentiles, CTE95, counters). The raw
// per-scenario NPV vector appears only as the optional distribution
// array, when ValuationResult.Distribution is set; CSVFormatter writes
// it in columnar form.
type JSONFormatter struct{}

func (JSONFormatter) Name() string { return "json" }

func (JSONFormatter) Format(result *domain.ValuationResult) ([]byte, error) {
	return json.MarshalIndent(result, "", "  ")
}
