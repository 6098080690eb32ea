// Package report renders a completed ValuationResult in the output
// formats an operator expects: pretty JSON for the summary statistics, a
// columnar CSV of per-scenario NPVs, and a human-readable console
// summary. Formatters are pluggable behind a small registry so a new
// output shape never touches the callers that already depend on the
// existing ones.
package report

import (
	"fmt"
	"sort"
	"strings"

	"github.com/actuar/projector/internal/domain"
)

// Formatter renders a ValuationResult as bytes. Implementations must be
// pure: no network or filesystem access, deterministic output for the
// same input.
type Formatter interface {
	Format(result *domain.ValuationResult) ([]byte, error)
	Name() string
}

var builtinFormatters = []Formatter{
	JSONFormatter{},
	CSVFormatter{},
	ConsoleFormatter{},
}

// aliasMap offers user-friendly synonyms for format names.
var aliasMap = map[string]string{
	"json-pretty":  "json",
	"csv-detailed": "csv",
	"text":         "console",
	"summary":      "console",
}

// NormalizeFormatName lowers and resolves aliases.
func NormalizeFormatName(name string) string {
	n := strings.ToLower(strings.TrimSpace(name))
	if mapped, ok := aliasMap[n]; ok {
		return mapped
	}
	return n
}

// GetFormatterByName resolves a formatter by its canonical name or any
// registered alias.
func GetFormatterByName(name string) Formatter {
	n := NormalizeFormatName(name)
	for _, f := range builtinFormatters {
		if f.Name() == n {
			return f
		}
	}
	return nil
}

// AvailableFormatterNames returns the canonical, sorted formatter names.
func AvailableFormatterNames() []string {
	names := make([]string, 0, len(builtinFormatters))
	for _, f := range builtinFormatters {
		names = append(names, f.Name())
	}
	sort.Strings(names)
	return names
}

// Render formats result with the named formatter, or an error naming
// the available formatters when name is unrecognized.
func Render(result *domain.ValuationResult, name string) ([]byte, error) {
	f := GetFormatterByName(name)
	if f == nil {
		return nil, fmt.Errorf("unsupported report format %q, available: %s", name, strings.Join(AvailableFormatterNames(), ", "))
	}
	return f.Format(result)
}
