package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"gopkg.in/yaml.v3"

	"github.com/CodeMonkeyCybersecurity/spotter/pkg/cache"
	"github.com/CodeMonkeyCybersecurity/spotter/pkg/enrichment"
	"github.com/CodeMonkeyCybersecurity/spotter/pkg/platforms"
	"github.com/CodeMonkeyCybersecurity/spotter/pkg/types"
)

const (
	formatText = "text"
	formatJSON = "json"
	formatYAML = "yaml"
)

func validateFormat(format string) error {
	switch format {
	case formatText, formatJSON, formatYAML:
		return nil
	default:
		return fmt.Errorf("unsupported output format %q (text, json, yaml)", format)
	}
}

// writeStructured encodes v as JSON or YAML. It reports false for the text
// format so the caller can render its own view.
func writeStructured(w io.Writer, format string, v interface{}) (bool, error) {
	switch format {
	case formatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return true, enc.Encode(v)
	case formatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return true, err
		}
		return true, enc.Close()
	default:
		return false, nil
	}
}

// readInput reads the named file, or stdin for "" and "-".
func readInput(name string) (string, error) {
	var (
		data []byte
		err  error
	)
	if name == "" || name == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(name)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	return string(data), nil
}

func foundMark(found bool) string {
	if found {
		return color.New(color.FgGreen).Sprint("✓")
	}
	return color.New(color.FgHiBlack).Sprint("·")
}

func printScanResult(w io.Writer, res *enrichment.Result) {
	if len(res.Observables) == 0 && len(res.Entities) == 0 {
		fmt.Fprintln(w, "No observables detected")
		return
	}

	if len(res.Observables) > 0 {
		color.New(color.FgCyan, color.Bold).Fprintf(w, "Observables (%d)\n", len(res.Observables))
		for _, o := range res.Observables {
			fmt.Fprintf(w, "  %s %-22s %s", foundMark(o.Found), observableLabel(o), o.Value)
			if o.IsDefanged {
				color.New(color.FgYellow).Fprintf(w, " -> %s", o.RefangedValue)
			}
			fmt.Fprintln(w)
			printMatches(w, o.PlatformMatches)
			if o.Context != "" {
				color.New(color.FgHiBlack).Fprintf(w, "      %q\n", o.Context)
			}
		}
	}

	if len(res.Entities) > 0 {
		color.New(color.FgCyan, color.Bold).Fprintf(w, "Entities (%d)\n", len(res.Entities))
		for _, e := range res.Entities {
			fmt.Fprintf(w, "  %s %-22s %s", foundMark(e.Found), e.Type, e.Name)
			if !strings.EqualFold(e.MatchedValue, e.Name) {
				fmt.Fprintf(w, " (as %q)", e.MatchedValue)
			}
			fmt.Fprintln(w)
			printMatches(w, e.PlatformMatches)
		}
	}

	fmt.Fprintf(w, "\n%d of %d detections found on a platform\n",
		res.Found(), len(res.Observables)+len(res.Entities))
}

func observableLabel(o types.DetectedObservable) string {
	if o.HashKind != types.HashNone {
		return string(o.Type) + "/" + string(o.HashKind)
	}
	return string(o.Type)
}

func printMatches(w io.Writer, matches []types.PlatformMatch) {
	for _, m := range matches {
		fmt.Fprintf(w, "      %s %s %s\n", color.New(color.FgGreen).Sprint(m.PlatformID), m.EntityType, m.EntityID)
	}
}

func printEntities(w io.Writer, entities []*platforms.Entity) {
	if len(entities) == 0 {
		fmt.Fprintln(w, "No results")
		return
	}
	for _, e := range entities {
		fmt.Fprintf(w, "  %-12s %-22s %s  %s\n",
			color.New(color.FgGreen).Sprint(e.PlatformID), e.EntityType, e.Label(),
			color.New(color.FgHiBlack).Sprint(e.ID))
	}
}

func printCacheStats(w io.Writer, stats cache.Stats) {
	if len(stats.Entries) == 0 {
		fmt.Fprintln(w, "Cache is empty")
		return
	}
	for _, e := range stats.Entries {
		status := color.New(color.FgGreen).Sprint("fresh")
		switch {
		case e.IsRefreshing:
			status = color.New(color.FgYellow).Sprint("refreshing")
		case e.LastError != "":
			status = color.New(color.FgRed).Sprint("failed")
		case e.Stale:
			status = color.New(color.FgYellow).Sprint("stale")
		}

		refreshed := "never"
		if !e.LastRefreshedAt.IsZero() {
			refreshed = e.LastRefreshedAt.Format("2006-01-02 15:04:05")
		}
		fmt.Fprintf(w, "  %-12s %-22s %6d  %-10s %s\n", e.PlatformID, e.EntityType, e.Entities, status, refreshed)
		if e.LastError != "" {
			color.New(color.FgRed).Fprintf(w, "      %s\n", e.LastError)
		}
	}
	fmt.Fprintf(w, "\n%d entities cached\n", stats.TotalEntities)
}
