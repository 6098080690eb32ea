// Command actuar is the operator-facing entry point for the projection
// engine: it loads a pipeline declaration, runs it through
// internal/pipeline, and renders the resulting valuation through
// internal/report.
package main

import "os"

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
