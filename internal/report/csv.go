package report

import (
	"bytes"
	"encoding/csv"
	"strconv"

	"github.com/actuar/projector/internal/domain"
)

// CSVFormatter writes the per-scenario NPV vector as the columnar
// scenario_id:u32, npv:f64 pairs, scenario_id being the
// scenario's position in the ordered NPV vector the aggregator produced.
type CSVFormatter struct{}

func (CSVFormatter) Name() string { return "csv" }

func (CSVFormatter) Format(result *domain.ValuationResult) ([]byte, error) {
	buf := &bytes.Buffer{}
	w := csv.NewWriter(buf)
	if err := w.Write([]string{"scenario_id", "npv"}); err != nil {
		return nil, err
	}
	for i, npv := range result.ScenarioNPVs {
		row := []string{strconv.Itoa(i), strconv.FormatFloat(npv, 'f', -1, 64)}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
