package pipeline

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/actuar/projector/internal/apperr"
	"github.com/actuar/projector/internal/bus"
	"github.com/actuar/projector/internal/domain"
	"github.com/actuar/projector/internal/kernel"
	"github.com/actuar/projector/internal/scenario"
	"github.com/actuar/projector/internal/valuation"
)

// snapshotPath derives a filesystem-safe name for a captured bus
// snapshot from its segment name, so `actuar bus inspect` can find it
// after an IntegrityError without the caller threading a path through.
func snapshotPath(segmentName string) string {
	safe := strings.NewReplacer("bus://", "", "/", "_", ":", "_").Replace(segmentName)
	return "bus_snapshot_" + safe + ".json"
}

// floatsToBytes encodes a float64 slice as little-endian bytes, the wire
// format the scenario engine publishes on the bus and the projection
// engine reads back. Alignment is a property of the bus segment that
// holds these bytes, not of the encoding itself.
func floatsToBytes(v []float64) []byte {
	out := make([]byte, len(v)*8)
	for i, f := range v {
		binary.LittleEndian.PutUint64(out[i*8:], math.Float64bits(f))
	}
	return out
}

func bytesToFloats(b []byte) []float64 {
	out := make([]float64, len(b)/8)
	for i := range out {
		out[i] = math.Float64frombits(binary.LittleEndian.Uint64(b[i*8:]))
	}
	return out
}

// ScenarioEngine is the built-in Generator engine : it reads
// model parameters from its node config, generates the (N x Y) rate
// matrix through internal/scenario, round-trips it through a typed bus
// segment (allocate/write/publish/acquire/release), and returns the
// published bytes as its single output.
type ScenarioEngine struct {
	id       domain.ScenarioSetID
	params   domain.YieldCurveParams
	debugCRC bool
}

func NewScenarioEngine() Engine { return &ScenarioEngine{} }

func (e *ScenarioEngine) Info() Info {
	return Info{Name: "scenario-generator", Version: "1.0", EngineType: "generator", SupportsAM: false}
}

func (e *ScenarioEngine) Initialize(_ context.Context, config map[string]any, _ map[string]string) error {
	id, params, err := decodeScenarioConfig(config)
	if err != nil {
		return apperr.Configurationf("", "scenario-generator: %v", err)
	}
	if err := id.Validate(); err != nil {
		return apperr.Configurationf("", "scenario-generator: %v", err)
	}
	e.id = id
	e.params = params
	e.debugCRC, _ = config["debug_crc"].(bool)
	return nil
}

func (e *ScenarioEngine) RunChunk(_ context.Context, _ map[string][]byte, outputs map[string][]byte) (ChunkResult, error) {
	start := time.Now()
	n := e.id.NumScenarios()
	buf := scenario.NewAlignedBuffer(n * e.id.ProjectionYears)
	if err := scenario.Generate(e.id, e.params, buf); err != nil {
		return ChunkResult{Success: false, ErrorMessage: err.Error()}, err
	}

	b := bus.New(e.debugCRC)
	h, err := b.Allocate("bus://scenarios/rates", bus.ElementFloat64, []int{n, e.id.ProjectionYears}, 1)
	if err != nil {
		return ChunkResult{Success: false, ErrorMessage: err.Error()}, err
	}
	if e.debugCRC {
		h.EnableIntegrityCheck()
	}
	region, err := h.WriteRegion()
	if err != nil {
		return ChunkResult{Success: false, ErrorMessage: err.Error()}, err
	}
	copy(region, floatsToBytes(buf))
	if err := h.Publish(); err != nil {
		return ChunkResult{Success: false, ErrorMessage: err.Error()}, err
	}
	rh, data, err := b.AcquireRead("bus://scenarios/rates")
	if err != nil {
		var ie *bus.IntegrityError
		if errors.As(err, &ie) {
			_ = ie.Snapshot.Save(snapshotPath(ie.Snapshot.Name))
		}
		return ChunkResult{Success: false, ErrorMessage: err.Error()}, err
	}
	// The bus rounds a segment's region up to its 16-byte alignment, which
	// can leave trailing padding past the logical float64 count; trim it
	// before handing bytes to a decoder that assumes an exact multiple.
	logicalLen := len(buf) * 8
	payload := append([]byte(nil), data[:logicalLen]...)
	if err := b.Release(rh); err != nil {
		return ChunkResult{Success: false, ErrorMessage: err.Error()}, err
	}

	years := make([]byte, 4)
	binary.LittleEndian.PutUint32(years, uint32(e.id.ProjectionYears))

	outputs["scenarios"] = payload
	outputs["scenario_years"] = years
	return ChunkResult{
		Success:       true,
		ExecutionMS:   time.Since(start).Milliseconds(),
		RowsProcessed: int64(n),
		BytesWritten:  int64(len(payload)),
	}, nil
}

func (e *ScenarioEngine) Dispose() {}

func decodeScenarioConfig(config map[string]any) (domain.ScenarioSetID, domain.YieldCurveParams, error) {
	var id domain.ScenarioSetID
	var params domain.YieldCurveParams

	model, _ := config["model"].(string)
	switch domain.RateModel(model) {
	case domain.ModelVasicek, domain.ModelCIR:
		id.Model = domain.RateModel(model)
	default:
		return id, params, fmt.Errorf("missing or unknown model %q", model)
	}

	id.OuterPaths = intOf(config["outer_paths"])
	id.InnerPathsPerOuter = intOf(config["inner_paths_per_outer"])
	id.ProjectionYears = intOf(config["projection_years"])
	id.Seed = int64(intOf(config["seed"]))
	id.YieldCurveVersion, _ = config["yield_curve_version"].(string)

	params.A = floatOf(config["a"])
	params.Sigma = floatOf(config["sigma"])
	params.B0 = floatOf(config["b0"])
	params.R0 = floatOf(config["r0"])
	params.Version = id.YieldCurveVersion

	return id, params, nil
}

func intOf(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}

func floatOf(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	default:
		return 0
	}
}

// assumptionsDTO is the JSON wire shape for handing a resolved
// Assumptions bundle to the projection engine through its node config,
// since MortalityTable/LapseTable keep their internal storage
// unexported and are reconstructed through their validating
// constructors rather than deserialized field-by-field.
type assumptionsDTO struct {
	MortalityRows [][2]float64              `json:"mortality_rows"`
	LapseRates    []float64                 `json:"lapse_rates"`
	Expense       domain.ExpenseAssumptions `json:"expense"`
	MortalityMult float64                   `json:"mortality_mult"`
	LapseMult     float64                   `json:"lapse_mult"`
	ExpenseMult   float64                   `json:"expense_mult"`
	MidYear       bool                      `json:"mid_year"`
}

func (d assumptionsDTO) toKernelAssumptions() (kernel.Assumptions, error) {
	mort, err := domain.NewMortalityTable(d.MortalityRows)
	if err != nil {
		return kernel.Assumptions{}, err
	}
	lapse, err := domain.NewLapseTable(d.LapseRates)
	if err != nil {
		return kernel.Assumptions{}, err
	}
	conv := kernel.EndOfYear
	if d.MidYear {
		conv = kernel.MidYear
	}
	return kernel.Assumptions{
		Mortality:     mort,
		Lapse:         lapse,
		Expense:       d.Expense,
		MortalityMult: d.MortalityMult,
		LapseMult:     d.LapseMult,
		ExpenseMult:   d.ExpenseMult,
		Discounting:   conv,
	}, nil
}

// ProjectionEngine is the built-in Kernel+Aggregator engine: it
// consumes a policy set, resolved assumptions, and a scenario rate
// matrix, runs the valuation aggregator, and writes the resulting
// ValuationResult as JSON.
type ProjectionEngine struct {
	policies          *domain.PolicySet
	assumptions       kernel.Assumptions
	workers           int
	storeDistribution bool
}

func NewProjectionEngine() Engine { return &ProjectionEngine{} }

func (e *ProjectionEngine) Info() Info {
	return Info{Name: "projection-engine", Version: "1.0", EngineType: "kernel+aggregator", SupportsAM: true}
}

func (e *ProjectionEngine) Initialize(_ context.Context, config map[string]any, _ map[string]string) error {
	workers := intOf(config["workers"])
	if workers < 1 {
		workers = 1
	}
	e.workers = workers
	e.storeDistribution, _ = config["store_distribution"].(bool)

	raw, ok := config["assumptions"]
	if !ok {
		return apperr.Configurationf("", "projection-engine: missing assumptions config")
	}
	encoded, err := json.Marshal(raw)
	if err != nil {
		return apperr.Configurationf("", "projection-engine: assumptions config: %v", err)
	}
	var dto assumptionsDTO
	if err := json.Unmarshal(encoded, &dto); err != nil {
		return apperr.Configurationf("", "projection-engine: assumptions config: %v", err)
	}
	assumptions, err := dto.toKernelAssumptions()
	if err != nil {
		return apperr.Configurationf("", "projection-engine: %v", err)
	}
	e.assumptions = assumptions
	return nil
}

func (e *ProjectionEngine) RunChunk(ctx context.Context, inputs map[string][]byte, outputs map[string][]byte) (ChunkResult, error) {
	start := time.Now()

	policiesBytes, ok := inputs["$policies"]
	if !ok {
		err := apperr.Executionf("", "projection-engine: missing policies input")
		return ChunkResult{Success: false, ErrorMessage: err.Error()}, err
	}
	var ps domain.PolicySet
	if err := json.Unmarshal(policiesBytes, &ps); err != nil {
		return ChunkResult{Success: false, ErrorMessage: err.Error()}, err
	}
	if _, err := domain.NewPolicySet(ps.Policies); err != nil {
		return ChunkResult{Success: false, ErrorMessage: err.Error()}, err
	}

	scenarioBytes, ok := inputs["scenarios"]
	if !ok {
		err := apperr.Executionf("", "projection-engine: missing scenarios input")
		return ChunkResult{Success: false, ErrorMessage: err.Error()}, err
	}
	rates := bytesToFloats(scenarioBytes)

	yearsRaw, ok := inputs["scenario_years"]
	years := 0
	if ok && len(yearsRaw) >= 4 {
		years = int(binary.LittleEndian.Uint32(yearsRaw))
	} else if len(ps.Policies) > 0 {
		years = int(ps.Policies[0].Term)
	}
	if years <= 0 || len(rates)%years != 0 {
		err := apperr.Executionf("", "projection-engine: cannot infer scenario matrix shape from %d rate values", len(rates))
		return ChunkResult{Success: false, ErrorMessage: err.Error()}, err
	}
	n := len(rates) / years

	scenarios := &domain.ScenarioSet{
		ID:    domain.ScenarioSetID{OuterPaths: n, InnerPathsPerOuter: 1, ProjectionYears: years},
		Years: years,
		Rates: rates,
	}

	ag := &valuation.Aggregator{Policies: &ps, Assumptions: e.assumptions, Workers: e.workers}
	result, err := ag.Run(ctx, scenarios, nil)
	if err != nil {
		return ChunkResult{Success: false, ErrorMessage: err.Error()}, err
	}
	if e.storeDistribution {
		result.Distribution = result.ScenarioNPVs
	}

	encoded, err := json.Marshal(result)
	if err != nil {
		return ChunkResult{Success: false, ErrorMessage: err.Error()}, err
	}
	outputs["result"] = encoded

	return ChunkResult{
		Success:       true,
		ExecutionMS:   time.Since(start).Milliseconds(),
		RowsProcessed: int64(len(ps.Policies) * n),
		BytesWritten:  int64(len(encoded)),
		Warnings:      result.Warnings,
	}, nil
}

func (e *ProjectionEngine) Dispose() {}
