// Package pipeline implements the Pipeline Runtime: a DAG
// of engine nodes executed in topological order, each carried through
// its initialize -> runChunk* -> dispose lifecycle, with a configurable
// halt-or-continue error policy and per-node timeouts.
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/actuar/projector/internal/apperr"
	"github.com/actuar/projector/internal/obslog"
)

// sentinel inputs that are always resolvable without a producing node.
var sentinels = map[string]bool{
	"$policies":    true,
	"$assumptions": true,
	"$scenarios":   true,
}

// ErrorPolicy selects how the runtime reacts to a node's ExecutionError,
//
type ErrorPolicy struct {
	// Continue runs remaining independent branches instead of halting on
	// the first ExecutionError. Default (false) is halt.
	Continue bool
	// MaxErrors caps how many ExecutionErrors are tolerated under
	// Continue before the runtime switches to halt. Zero means
	// unlimited.
	MaxErrors int
}

// Config is a full pipeline declaration: its nodes and error policy.
type Config struct {
	Nodes       []NodeSpec
	ErrorPolicy ErrorPolicy
}

// RunResult is the runtime's overall outcome: per-node execution
// records and a summary status that is "ok" only if every node
// completed without fatal errors.
type RunResult struct {
	// RunID identifies this Run call; it appears in the runtime's start
	// and finish log lines.
	RunID   string
	Records []ExecutionRecord
	Status  string // "ok" or "failed"
	// Outputs holds every node output's bytes at the moment it was
	// produced, keyed by output name, surviving past that segment's
	// in-run release so callers (the CLI, tests) can retrieve a
	// pipeline's final results after Run returns.
	Outputs map[string][]byte
}

// Runtime executes pipeline configs against a registry of known engine
// factories.
type Runtime struct {
	Registry *Registry
	Logger   obslog.Logger
}

// New returns a Runtime backed by registry. A nil Logger is valid; Run
// uses obslog.NopLogger in that case.
func New(registry *Registry, logger obslog.Logger) *Runtime {
	if logger == nil {
		logger = obslog.NopLogger{}
	}
	return &Runtime{Registry: registry, Logger: logger}
}

// segment is the runtime's own bus-name-keyed payload store: a thin
// publish/acquire/release refcount discipline over variable-length,
// type-erased []byte payloads (an engine's output shape is unknown
// until it runs, unlike internal/bus's statically-shaped segments used
// directly by the built-in engines).
type segment struct {
	data    []byte
	pending int
	valid   bool
}

// Run validates cfg, computes a topological order, and executes every
// node, producing one ExecutionRecord per node plus the overall status.
// sentinelData supplies the bytes backing $policies/$assumptions/
// $scenarios (whichever the pipeline actually references).
func (rt *Runtime) Run(ctx context.Context, cfg Config, sentinelData map[string][]byte) (*RunResult, error) {
	order, consumerCounts, err := planExecution(cfg.Nodes, rt.Registry)
	if err != nil {
		return nil, err
	}

	segments := make(map[string]*segment)
	for name, data := range sentinelData {
		segments[name] = &segment{data: data, valid: true, pending: -1} // sentinels are never freed
	}

	invalid := make(map[string]bool)
	result := &RunResult{RunID: uuid.NewString(), Status: "ok", Outputs: make(map[string][]byte)}
	rt.Logger.Infof("run %s: starting, %d nodes", result.RunID, len(order))
	halted := false
	errCount := 0

	for _, n := range order {
		rec := ExecutionRecord{NodeID: n.ID}

		if halted {
			rec.Skipped = true
			rec.SkippedCause = "halted"
			result.Records = append(result.Records, rec)
			continue
		}

		if skipCause := firstInvalidInput(n, invalid); skipCause != "" {
			rec.Skipped = true
			rec.SkippedCause = fmt.Sprintf("upstream input %q is invalid", skipCause)
			markOutputsInvalid(n, invalid)
			result.Records = append(result.Records, rec)
			continue
		}

		factory, _ := rt.Registry.Resolve(n.EngineRef) // already validated resolvable
		engine := factory()

		nodeCtx := ctx
		var cancel context.CancelFunc
		if d := n.timeout(); d > 0 {
			nodeCtx, cancel = context.WithTimeout(ctx, d)
		}

		rec.State = StateUninitialized
		if err := engine.Initialize(nodeCtx, n.Config, n.Credentials); err != nil {
			rec.State = StateError
			rec.Err = classifyErr(err, nodeCtx)
			engine.Dispose()
			rec.State = StateDisposed
			if cancel != nil {
				cancel()
			}
			markOutputsInvalid(n, invalid)
			result.Records = append(result.Records, rec)
			errCount++
			halted = rt.applyPolicy(cfg.ErrorPolicy, errCount)
			continue
		}
		rec.State = StateReady

		inputs := make(map[string][]byte, len(n.Inputs))
		for _, name := range n.Inputs {
			if seg, ok := segments[name]; ok {
				inputs[name] = seg.data
			}
		}

		rec.State = StateRunning
		outputs := make(map[string][]byte, len(n.Outputs))
		chunkRes, runErr := engine.RunChunk(nodeCtx, inputs, outputs)
		if runErr != nil || !chunkRes.Success {
			rec.State = StateError
			if runErr == nil {
				runErr = apperr.Executionf(n.ID, "%s", chunkRes.ErrorMessage)
			}
			rec.Err = classifyErr(runErr, nodeCtx)
			rec.InFlightBus = append(append([]string(nil), n.Inputs...), n.Outputs...)
			engine.Dispose()
			rec.State = StateDisposed
			if cancel != nil {
				cancel()
			}
			releaseInputs(n, segments, consumerCounts)
			markOutputsInvalid(n, invalid)
			result.Records = append(result.Records, rec)
			errCount++
			halted = rt.applyPolicy(cfg.ErrorPolicy, errCount)
			continue
		}

		rec.State = StateReady // READY* after a successful chunk
		rec.Warnings = chunkRes.Warnings
		rec.RowsTotal = chunkRes.RowsProcessed
		rec.ExecutionMS = chunkRes.ExecutionMS

		for _, name := range n.Outputs {
			segments[name] = &segment{data: outputs[name], valid: true, pending: consumerCounts[name]}
			result.Outputs[name] = outputs[name]
		}
		releaseInputs(n, segments, consumerCounts)

		engine.Dispose()
		rec.State = StateDisposed
		if cancel != nil {
			cancel()
		}
		result.Records = append(result.Records, rec)
	}

	for _, rec := range result.Records {
		if rec.Err != nil || (rec.Skipped && rec.SkippedCause == "halted") {
			result.Status = "failed"
			break
		}
	}
	rt.Logger.Infof("run %s: finished with status %s", result.RunID, result.Status)
	return result, nil
}

// applyPolicy updates halted-ness given the configured error policy and
// the running error count.
func (rt *Runtime) applyPolicy(policy ErrorPolicy, errCount int) bool {
	if !policy.Continue {
		return true
	}
	if policy.MaxErrors > 0 && errCount >= policy.MaxErrors {
		return true
	}
	return false
}

// firstInvalidInput returns the first input name of n that has been
// marked invalid by an earlier failed node, or "" if none.
func firstInvalidInput(n NodeSpec, invalid map[string]bool) string {
	for _, name := range n.Inputs {
		if invalid[name] {
			return name
		}
	}
	return ""
}

// markOutputsInvalid propagates invalidity to a failed or skipped
// node's declared outputs, so downstream consumers skip in turn.
func markOutputsInvalid(n NodeSpec, invalid map[string]bool) {
	for _, name := range n.Outputs {
		invalid[name] = true
	}
}

// releaseInputs decrements each input segment's pending-consumer count,
// freeing it once every declared consumer has read it (mirrors
// internal/bus's acquire/release discipline; see segment's doc comment
// for why this runtime keeps its own lightweight store).
func releaseInputs(n NodeSpec, segments map[string]*segment, consumerCounts map[string]int) {
	for _, name := range n.Inputs {
		seg, ok := segments[name]
		if !ok || seg.pending < 0 {
			continue // sentinel, never freed
		}
		seg.pending--
		if seg.pending <= 0 {
			delete(segments, name)
		}
	}
}

// classifyErr preserves an existing apperr.Error's Kind, reclassifying a
// plain error as KindExecution unless the node's own context deadline
// was exceeded, in which case it is KindTimeout
func classifyErr(err error, nodeCtx context.Context) error {
	if nodeCtx.Err() == context.DeadlineExceeded {
		return apperr.Timeoutf("", "%v", err)
	}
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return ae
	}
	return apperr.Executionf("", "%v", err)
}
