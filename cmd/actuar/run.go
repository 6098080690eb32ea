package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/actuar/projector/internal/config"
	"github.com/actuar/projector/internal/domain"
	"github.com/actuar/projector/internal/obslog"
	"github.com/actuar/projector/internal/pipeline"
	"github.com/actuar/projector/internal/report"
)

var (
	runPoliciesFile string
	runFormat       string
	runOutFile      string
	runSeedOverride int64
	runWorkers      int
)

var runCmd = &cobra.Command{
	Use:   "run <pipeline.yaml|json>",
	Short: "Execute a pipeline declaration and render its valuation result",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadPipelineConfig(args[0])
		if err != nil {
			return err
		}

		if err := resolveAssumptions(cfg); err != nil {
			return fmt.Errorf("failed to resolve node assumptions: %w", err)
		}

		specs := cfg.ToNodeSpecs(nil)
		// The per-scenario NPV vector only leaves the projection engine as
		// the distribution field, so CSV output needs it stored.
		wantCSV := report.NormalizeFormatName(runFormat) == "csv"
		applyOverrides(specs, cfg.Debug.StoreDistribution || wantCSV)

		sentinelData := map[string][]byte{}
		if runPoliciesFile != "" {
			ps, err := config.LoadPolicies(runPoliciesFile)
			if err != nil {
				return fmt.Errorf("failed to load policies: %w", err)
			}
			encoded, err := json.Marshal(ps)
			if err != nil {
				return err
			}
			sentinelData["$policies"] = encoded
		}

		registry := defaultRegistry()
		var logger obslog.Logger = obslog.NopLogger{}
		if debugFlag {
			logger = obslog.New(os.Stderr, obslog.LevelDebug)
		}
		rt := pipeline.New(registry, logger)

		result, err := rt.Run(context.Background(), pipeline.Config{Nodes: specs, ErrorPolicy: cfg.ErrorPolicy()}, sentinelData)
		if err != nil {
			return fmt.Errorf("pipeline validation failed: %w", err)
		}
		if result.Status != "ok" {
			for _, rec := range result.Records {
				if rec.Err != nil {
					fmt.Fprintf(os.Stderr, "node %s failed: %v\n", rec.NodeID, rec.Err)
				}
			}
			return fmt.Errorf("pipeline run failed")
		}

		resultBytes, ok := result.Outputs["result"]
		if !ok {
			return fmt.Errorf("pipeline produced no output named %q", "result")
		}
		var vr domain.ValuationResult
		if err := json.Unmarshal(resultBytes, &vr); err != nil {
			return fmt.Errorf("failed to decode valuation result: %w", err)
		}
		if vr.ScenarioNPVs == nil {
			vr.ScenarioNPVs = vr.Distribution
		}

		rendered, err := report.Render(&vr, runFormat)
		if err != nil {
			return err
		}

		if runOutFile != "" {
			return os.WriteFile(runOutFile, rendered, 0o644)
		}
		_, err = os.Stdout.Write(rendered)
		return err
	},
}

// resolveAssumptions replaces any projection-engine node's
// "assumptions_files" config block (mortality/lapse/expense file paths)
// with a resolved assumptions document the engine can decode directly,
// so the on-disk pipeline document never has to embed raw table data.
func resolveAssumptions(cfg *config.PipelineConfig) error {
	for i := range cfg.Nodes {
		node := &cfg.Nodes[i]
		raw, ok := node.Config["assumptions_files"]
		if !ok {
			continue
		}
		files, ok := raw.(map[string]any)
		if !ok {
			return fmt.Errorf("node %q: assumptions_files must be a mapping", node.ID)
		}

		mortalityPath, _ := files["mortality"].(string)
		lapsePath, _ := files["lapse"].(string)
		expensePath, _ := files["expense"].(string)
		if mortalityPath == "" || lapsePath == "" || expensePath == "" {
			return fmt.Errorf("node %q: assumptions_files requires mortality, lapse, and expense paths", node.ID)
		}

		mortality, err := config.LoadMortalityTable(mortalityPath)
		if err != nil {
			return err
		}
		lapse, err := config.LoadLapseTable(lapsePath)
		if err != nil {
			return err
		}
		expenseIsJSON := true
		if v, ok := files["expense_is_json"].(bool); ok {
			expenseIsJSON = v
		}
		expense, err := config.LoadExpenseAssumptions(expensePath, expenseIsJSON)
		if err != nil {
			return err
		}

		dto := map[string]any{
			"mortality_rows": mortality.Rows(),
			"lapse_rates":    lapse.Rates(),
			"expense":        expense,
			"mortality_mult": floatField(files, "mortality_mult", 1.0),
			"lapse_mult":     floatField(files, "lapse_mult", 1.0),
			"expense_mult":   floatField(files, "expense_mult", 1.0),
			"mid_year":       boolField(files, "mid_year"),
		}
		delete(node.Config, "assumptions_files")
		if node.Config == nil {
			node.Config = map[string]any{}
		}
		node.Config["assumptions"] = dto
	}
	return nil
}

func floatField(m map[string]any, key string, def float64) float64 {
	if v, ok := m[key].(float64); ok {
		return v
	}
	return def
}

func boolField(m map[string]any, key string) bool {
	v, _ := m[key].(bool)
	return v
}

// applyOverrides pushes CLI flag and config-document overrides into every
// node config they apply to: --seed-override onto every scenario-generator
// node, --workers and the debug.storeDistribution toggle onto every
// projection-engine node.
func applyOverrides(specs []pipeline.NodeSpec, storeDistribution bool) {
	for i := range specs {
		if specs[i].Config == nil {
			specs[i].Config = map[string]any{}
		}
		switch specs[i].EngineRef {
		case "scenario-generator":
			if runSeedOverride != 0 {
				specs[i].Config["seed"] = runSeedOverride
			}
			if debugFlag {
				specs[i].Config["debug_crc"] = true
			}
		case "projection-engine":
			if runWorkers > 0 {
				specs[i].Config["workers"] = runWorkers
			}
			if storeDistribution {
				specs[i].Config["store_distribution"] = true
			}
		}
	}
}

func defaultRegistry() *pipeline.Registry {
	r := pipeline.NewRegistry()
	r.Register("scenario-generator", pipeline.NewScenarioEngine)
	r.Register("projection-engine", pipeline.NewProjectionEngine)
	return r
}

func init() {
	runCmd.Flags().StringVar(&runPoliciesFile, "policies", "", "policy set CSV, bound to the $policies sentinel input")
	runCmd.Flags().StringVarP(&runFormat, "format", "f", "json", "output format (json, csv, console)")
	runCmd.Flags().StringVarP(&runOutFile, "out", "o", "", "output file (defaults to stdout)")
	runCmd.Flags().Int64Var(&runSeedOverride, "seed-override", 0, "override every scenario-generator node's seed")
	runCmd.Flags().IntVar(&runWorkers, "workers", 0, "override every projection-engine node's worker count")
	rootCmd.AddCommand(runCmd)
}
