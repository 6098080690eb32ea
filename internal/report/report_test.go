package report

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/actuar/projector/internal/domain"
)

func sampleResult() *domain.ValuationResult {
	return &domain.ValuationResult{
		ScenarioNPVs: []float64{100.5, 200.25, -50.0},
		Statistics: domain.Statistics{
			Mean:        83.58,
			StdDev:      104.2,
			Percentiles: domain.Percentiles{P50: 100.5, P75: 150.0, P90: 190.0, P95: 198.0, P99: 199.9},
			CTE95:       -50.0,
		},
		ScenarioCount:   3,
		ExecutionTimeMS: 42,
		Warnings:        1,
	}
}

func TestJSONFormatter_OmitsRawScenarioVector(t *testing.T) {
	out, err := GetFormatterByName("json").Format(sampleResult())
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(out, &decoded))
	assert.NotContains(t, decoded, "ScenarioNPVs")
	stats, ok := decoded["statistics"].(map[string]any)
	require.True(t, ok, "statistics must be a nested object")
	assert.Equal(t, 83.58, stats["mean_npv"])
	assert.Equal(t, 104.2, stats["std_dev"])
	assert.Equal(t, -50.0, stats["cte_95"])
	assert.NotContains(t, decoded, "distribution")
}

func TestJSONFormatter_IncludesDistributionWhenPopulated(t *testing.T) {
	result := sampleResult()
	result.Distribution = result.ScenarioNPVs
	out, err := GetFormatterByName("json").Format(result)
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(out, &decoded))
	dist, ok := decoded["distribution"].([]any)
	require.True(t, ok, "distribution must be present when populated")
	assert.Len(t, dist, 3)
}

func TestCSVFormatter_WritesOneRowPerScenario(t *testing.T) {
	out, err := GetFormatterByName("csv").Format(sampleResult())
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	require.Len(t, lines, 4) // header + 3 rows
	assert.Equal(t, "scenario_id,npv", lines[0])
	assert.Equal(t, "0,100.5", lines[1])
	assert.Equal(t, "2,-50", lines[3])
}

func TestConsoleFormatter_IncludesSummaryStats(t *testing.T) {
	out, err := GetFormatterByName("console").Format(sampleResult())
	require.NoError(t, err)
	text := string(out)
	assert.Contains(t, text, "VALUATION SUMMARY")
	assert.Contains(t, text, "Mean NPV:")
	assert.Contains(t, text, "CTE 95:")
	assert.Contains(t, text, "Warnings: 1")
}

func TestGetFormatterByName_ResolvesAliases(t *testing.T) {
	assert.Equal(t, "json", GetFormatterByName("json-pretty").Name())
	assert.Equal(t, "console", GetFormatterByName("summary").Name())
}

func TestRender_UnknownFormatReportsAvailable(t *testing.T) {
	_, err := Render(sampleResult(), "xml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "json")
}

func TestAvailableFormatterNames_Sorted(t *testing.T) {
	names := AvailableFormatterNames()
	assert.Equal(t, []string{"console", "csv", "json"}, names)
}
