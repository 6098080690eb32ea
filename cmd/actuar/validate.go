package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/actuar/projector/internal/apperr"
	"github.com/actuar/projector/internal/config"
	"github.com/actuar/projector/internal/pipeline"
)

var validateCmd = &cobra.Command{
	Use:   "validate <pipeline.yaml|json>",
	Short: "Validate a pipeline declaration without executing it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadPipelineConfig(args[0])
		if err != nil {
			return apperr.Configurationf("", "%v", err)
		}
		if err := resolveAssumptions(cfg); err != nil {
			return apperr.Configurationf("", "%v", err)
		}

		specs := cfg.ToNodeSpecs(nil)
		registry := defaultRegistry()
		if err := pipeline.Validate(specs, registry); err != nil {
			return apperr.Configurationf("", "%v", err)
		}

		fmt.Printf("pipeline %q is valid: %d nodes\n", args[0], len(specs))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
