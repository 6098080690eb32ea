// Package config loads pipeline declarations and assumption tables from
// files on disk: YAML/JSON pipeline configs and CSV policy/
// mortality/lapse/expense tables. The core engines never
// depend on this package — they take already-resolved in-memory values —
// so it stays a thin loader surrounding them.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/actuar/projector/internal/pipeline"
)

// NodeConfig is the on-disk shape of one pipeline node declaration,
// deserializing into a pipeline.NodeSpec after decoding.
type NodeConfig struct {
	ID        string         `json:"id" yaml:"id"`
	Engine    string         `json:"engine" yaml:"engine"`
	Inputs    []string       `json:"inputs" yaml:"inputs"`
	Outputs   []string       `json:"outputs" yaml:"outputs"`
	Config    map[string]any `json:"config" yaml:"config"`
	TimeoutMS int64          `json:"timeout_ms" yaml:"timeout_ms"`
}

// DebugConfig matches its optional debug block.
type DebugConfig struct {
	EnableIntegrityChecks bool     `json:"enableIntegrityChecks" yaml:"enableIntegrityChecks"`
	Breakpoints           []string `json:"breakpoints" yaml:"breakpoints"`
	ZeroMemoryBetweenRuns bool     `json:"zeroMemoryBetweenRuns" yaml:"zeroMemoryBetweenRuns"`
	// StoreDistribution requests that the projection engine copy its raw
	// per-scenario NPV vector into ValuationResult.Distribution instead of
	// leaving it unset; off by default since the vector can be large.
	StoreDistribution bool `json:"storeDistribution" yaml:"storeDistribution"`
}

// ErrorHandlingConfig matches its optional errorHandling block.
type ErrorHandlingConfig struct {
	ContinueOnError bool  `json:"continueOnError" yaml:"continueOnError"`
	MaxErrors       int   `json:"maxErrors" yaml:"maxErrors"`
	TimeoutMS       int64 `json:"timeoutMs" yaml:"timeoutMs"`
}

// PipelineConfig is the on-disk pipeline document: a node
// list plus optional debug and error-handling blocks.
type PipelineConfig struct {
	Nodes         []NodeConfig        `json:"nodes" yaml:"nodes"`
	Debug         DebugConfig         `json:"debug" yaml:"debug"`
	ErrorHandling ErrorHandlingConfig `json:"errorHandling" yaml:"errorHandling"`
}

// LoadPipelineConfig reads a pipeline document from filename, accepting
// either JSON or YAML by extension rather than committing to one.
func LoadPipelineConfig(filename string) (*PipelineConfig, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read pipeline config %s: %w", filename, err)
	}

	var cfg PipelineConfig
	if strings.HasSuffix(filename, ".json") {
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse pipeline config as JSON: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse pipeline config as YAML: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("pipeline config validation failed: %w", err)
	}
	return &cfg, nil
}

// Validate checks the document-level shape (non-empty, each node has an
// id and engine); deeper DAG validation (cycles, resolvability) happens
// in internal/pipeline.planExecution once converted to NodeSpecs.
func (c *PipelineConfig) Validate() error {
	if len(c.Nodes) == 0 {
		return fmt.Errorf("pipeline config declares no nodes")
	}
	for i, n := range c.Nodes {
		if n.ID == "" {
			return fmt.Errorf("node at index %d has no id", i)
		}
		if n.Engine == "" {
			return fmt.Errorf("node %q has no engine reference", n.ID)
		}
	}
	return nil
}

// ToNodeSpecs converts the on-disk node declarations into the
// pipeline.NodeSpec values Runtime.Run consumes, applying the
// document-level errorHandling timeout as each node's default when the
// node itself does not declare one.
func (c *PipelineConfig) ToNodeSpecs(credentials map[string]map[string]string) []pipeline.NodeSpec {
	specs := make([]pipeline.NodeSpec, len(c.Nodes))
	for i, n := range c.Nodes {
		timeout := n.TimeoutMS
		if timeout == 0 {
			timeout = c.ErrorHandling.TimeoutMS
		}
		specs[i] = pipeline.NodeSpec{
			ID:          n.ID,
			EngineRef:   n.Engine,
			Inputs:      n.Inputs,
			Outputs:     n.Outputs,
			Config:      n.Config,
			Credentials: credentials[n.ID],
			TimeoutMS:   timeout,
		}
	}
	return specs
}

// ErrorPolicy converts the document's errorHandling block into a
// pipeline.ErrorPolicy.
func (c *PipelineConfig) ErrorPolicy() pipeline.ErrorPolicy {
	return pipeline.ErrorPolicy{
		Continue:  c.ErrorHandling.ContinueOnError,
		MaxErrors: c.ErrorHandling.MaxErrors,
	}
}
