package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/CodeMonkeyCybersecurity/spotter/pkg/detection"
	"github.com/CodeMonkeyCybersecurity/spotter/pkg/enrichment"
	"github.com/CodeMonkeyCybersecurity/spotter/pkg/patterns"
)

var scanCmd = &cobra.Command{
	Use:   "scan [file|-]",
	Short: "Detect observables in text and optionally resolve them",
	Long: `Detect observables in a file or stdin.

Without --resolve the scan runs offline. With --resolve every detection is
looked up in the entity cache and, when live search is enabled, on the
configured platforms.

Examples:
  spotter scan report.txt
  curl -s https://example.com/advisory | spotter scan --html --resolve -
  spotter scan --output json --context 40 notes.md`,
	Args: cobra.MaximumNArgs(1),
	RunE: runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)

	scanCmd.Flags().Bool("html", false, "treat input as HTML and scan its visible text")
	scanCmd.Flags().Bool("resolve", false, "resolve detections against the configured platforms")
	scanCmd.Flags().Int("context", -1, "bytes of surrounding text to attach (default from config)")
	scanCmd.Flags().StringP("output", "o", formatText, "output format (text, json, yaml)")
}

func runScan(cmd *cobra.Command, args []string) error {
	html, _ := cmd.Flags().GetBool("html")
	resolve, _ := cmd.Flags().GetBool("resolve")
	contextWindow, _ := cmd.Flags().GetInt("context")
	output, _ := cmd.Flags().GetString("output")

	if err := validateFormat(output); err != nil {
		return err
	}
	if contextWindow >= 0 {
		cfg.Scanner.ContextWindow = contextWindow
	}

	var name string
	if len(args) == 1 {
		name = args[0]
	}
	input, err := readInput(name)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var result *enrichment.Result
	if resolve {
		e, err := newEngine(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		ctx = e.Context(ctx)
		if err := e.Warm(ctx); err != nil {
			log.Warnw("Cache warm-up incomplete", "error", err)
		}
		if html {
			result, err = e.Enricher.ProcessHTML(ctx, input)
		} else {
			result, err = e.Enricher.Process(ctx, input)
		}
		if err != nil {
			return fmt.Errorf("scan failed: %w", err)
		}
	} else {
		scanner := detection.NewScanner(patterns.Default(), detection.WithContextWindow(cfg.Scanner.ContextWindow))
		result = &enrichment.Result{}
		if html {
			result.Text, result.Observables, err = scanner.ScanHTML(input)
			if err != nil {
				return fmt.Errorf("scan failed: %w", err)
			}
		} else {
			result.Observables = scanner.Scan(input)
		}
	}

	out := cmd.OutOrStdout()
	if done, err := writeStructured(out, output, result); done {
		return err
	}
	printScanResult(out, result)
	return nil
}
