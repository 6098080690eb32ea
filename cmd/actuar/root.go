package main

import (
	"github.com/spf13/cobra"
)

var debugFlag bool

var rootCmd = &cobra.Command{
	Use:   "actuar",
	Short: "actuar runs actuarial projection pipelines",
	Long: `actuar loads a pipeline declaration describing scenario
generation, kernel projection, and valuation aggregation, executes it
as a DAG of engine nodes, and renders the resulting valuation.`,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", false, "enable debug logging and bus integrity checks")
}
