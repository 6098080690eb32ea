package pipeline

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/actuar/projector/internal/apperr"
	"github.com/actuar/projector/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedEngine struct {
	initErr    error
	runErr     error
	runSuccess bool
	sleep      time.Duration
	disposed   bool
	output     []byte
}

func (e *scriptedEngine) Info() Info { return Info{Name: "scripted"} }
func (e *scriptedEngine) Initialize(_ context.Context, _ map[string]any, _ map[string]string) error {
	return e.initErr
}
func (e *scriptedEngine) RunChunk(ctx context.Context, _ map[string][]byte, outputs map[string][]byte) (ChunkResult, error) {
	if e.sleep > 0 {
		select {
		case <-time.After(e.sleep):
		case <-ctx.Done():
			return ChunkResult{Success: false, ErrorMessage: "timed out"}, ctx.Err()
		}
	}
	if e.output != nil {
		for k := range outputs {
			outputs[k] = e.output
		}
	}
	return ChunkResult{Success: e.runSuccess}, e.runErr
}
func (e *scriptedEngine) Dispose() { e.disposed = true }

func TestRuntime_RunsLinearChain(t *testing.T) {
	reg := NewRegistry()
	reg.Register("ok", func() Engine { return &scriptedEngine{runSuccess: true} })

	rt := New(reg, nil)
	cfg := Config{Nodes: []NodeSpec{
		{ID: "a", EngineRef: "ok", Inputs: []string{"$policies"}, Outputs: []string{"x"}},
		{ID: "b", EngineRef: "ok", Inputs: []string{"x"}, Outputs: []string{"y"}},
	}}
	result, err := rt.Run(context.Background(), cfg, map[string][]byte{"$policies": []byte("p")})
	require.NoError(t, err)
	assert.Equal(t, "ok", result.Status)
	require.Len(t, result.Records, 2)
	assert.Equal(t, StateDisposed, result.Records[0].State)
	assert.Equal(t, StateDisposed, result.Records[1].State)
	assert.NotEmpty(t, result.RunID)
}

func TestRuntime_RunStampsDistinctRunIDPerCall(t *testing.T) {
	reg := NewRegistry()
	reg.Register("ok", func() Engine { return &scriptedEngine{runSuccess: true} })
	rt := New(reg, nil)
	cfg := Config{Nodes: []NodeSpec{{ID: "a", EngineRef: "ok"}}}

	r1, err := rt.Run(context.Background(), cfg, nil)
	require.NoError(t, err)
	r2, err := rt.Run(context.Background(), cfg, nil)
	require.NoError(t, err)
	assert.NotEqual(t, r1.RunID, r2.RunID)
}

func TestRuntime_HaltPolicyStopsDownstream(t *testing.T) {
	reg := NewRegistry()
	reg.Register("ok", func() Engine { return &scriptedEngine{runSuccess: true} })
	reg.Register("bad", func() Engine { return &scriptedEngine{runSuccess: false, runErr: assertErr} })

	rt := New(reg, nil)
	cfg := Config{Nodes: []NodeSpec{
		{ID: "a", EngineRef: "bad", Inputs: []string{"$policies"}, Outputs: []string{"x"}},
		{ID: "b", EngineRef: "ok", Inputs: []string{"x"}, Outputs: []string{"y"}},
	}}
	result, err := rt.Run(context.Background(), cfg, map[string][]byte{"$policies": []byte("p")})
	require.NoError(t, err)
	assert.Equal(t, "failed", result.Status)
	require.Len(t, result.Records, 2)
	assert.NotNil(t, result.Records[0].Err)
	assert.True(t, result.Records[1].Skipped)
}

func TestRuntime_ContinuePolicySkipsOnlyDependents(t *testing.T) {
	reg := NewRegistry()
	reg.Register("ok", func() Engine { return &scriptedEngine{runSuccess: true} })
	reg.Register("bad", func() Engine { return &scriptedEngine{runSuccess: false, runErr: assertErr} })

	rt := New(reg, nil)
	cfg := Config{
		ErrorPolicy: ErrorPolicy{Continue: true, MaxErrors: 5},
		Nodes: []NodeSpec{
			{ID: "a", EngineRef: "bad", Inputs: []string{"$policies"}, Outputs: []string{"x"}},
			{ID: "b", EngineRef: "ok", Inputs: []string{"x"}, Outputs: []string{"y"}},
			{ID: "c", EngineRef: "ok", Inputs: []string{"$policies"}, Outputs: []string{"z"}},
		},
	}
	result, err := rt.Run(context.Background(), cfg, map[string][]byte{"$policies": []byte("p")})
	require.NoError(t, err)
	assert.Equal(t, "failed", result.Status)
	byID := map[string]ExecutionRecord{}
	for _, r := range result.Records {
		byID[r.NodeID] = r
	}
	assert.NotNil(t, byID["a"].Err)
	assert.True(t, byID["b"].Skipped, "b depends on a's invalid output and must be skipped, not run")
	assert.False(t, byID["c"].Skipped, "c is an independent branch and must still run under continue policy")
}

func TestRuntime_NodeTimeoutClassifiesAsTimeout(t *testing.T) {
	reg := NewRegistry()
	reg.Register("slow", func() Engine { return &scriptedEngine{runSuccess: true, sleep: 50 * time.Millisecond} })

	rt := New(reg, nil)
	cfg := Config{Nodes: []NodeSpec{
		{ID: "a", EngineRef: "slow", Inputs: []string{"$policies"}, Outputs: []string{"x"}, TimeoutMS: 5},
	}}
	result, err := rt.Run(context.Background(), cfg, map[string][]byte{"$policies": []byte("p")})
	require.NoError(t, err)
	assert.Equal(t, "failed", result.Status)
	require.NotNil(t, result.Records[0].Err)
	assert.True(t, apperr.IsKind(result.Records[0].Err, apperr.KindTimeout))
}

func TestRuntime_DisposeCalledEvenOnFailure(t *testing.T) {
	eng := &scriptedEngine{runSuccess: false, runErr: assertErr}
	reg := NewRegistry()
	reg.Register("bad", func() Engine { return eng })

	rt := New(reg, nil)
	cfg := Config{Nodes: []NodeSpec{{ID: "a", EngineRef: "bad", Inputs: []string{"$policies"}, Outputs: []string{"x"}}}}
	_, err := rt.Run(context.Background(), cfg, map[string][]byte{"$policies": []byte("p")})
	require.NoError(t, err)
	assert.True(t, eng.disposed)
}

func TestRuntime_EndToEnd_ScenarioToProjection(t *testing.T) {
	reg := NewRegistry()
	reg.Register("scenario-generator", NewScenarioEngine)
	reg.Register("projection-engine", NewProjectionEngine)

	policies := domain.PolicySet{Policies: []domain.Policy{
		{PolicyID: 1, Age: 40, Gender: domain.GenderMale, SumAssured: 100000, Premium: 1000, Term: 10},
	}}
	policiesJSON, err := json.Marshal(policies)
	require.NoError(t, err)

	rows := make([][2]float64, 121)
	for i := range rows {
		rows[i] = [2]float64{0.01, 0.01}
	}
	rows[120] = [2]float64{1, 1}
	assumptionsConfig := map[string]any{
		"mortality_rows": rows,
		"lapse_rates":    make([]float64, 50),
		"expense":        map[string]any{},
	}

	rt := New(reg, nil)
	cfg := Config{Nodes: []NodeSpec{
		{
			ID: "esg", EngineRef: "scenario-generator",
			Inputs: nil, Outputs: []string{"scenarios", "scenario_years"},
			Config: map[string]any{
				"model": "vasicek", "outer_paths": 3, "inner_paths_per_outer": 100,
				"projection_years": 10, "seed": 1, "a": 0.1, "sigma": 0.01, "b0": 0.03, "r0": 0.03,
			},
		},
		{
			ID: "valuation", EngineRef: "projection-engine",
			Inputs: []string{"$policies", "scenarios", "scenario_years"}, Outputs: []string{"result"},
			Config: map[string]any{"workers": 2, "assumptions": assumptionsConfig},
		},
	}}

	result, err := rt.Run(context.Background(), cfg, map[string][]byte{"$policies": policiesJSON})
	require.NoError(t, err)
	require.Equal(t, "ok", result.Status)
	require.Len(t, result.Records, 2)
	assert.Equal(t, int64(300), result.Records[1].RowsTotal)
}

var assertErr = &testErr{"boom"}

type testErr struct{ msg string }

func (e *testErr) Error() string { return e.msg }
