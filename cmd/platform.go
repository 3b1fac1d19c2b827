package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/CodeMonkeyCybersecurity/spotter/pkg/platforms"
)

var platformCmd = &cobra.Command{
	Use:   "platform",
	Short: "Manage connected platforms",
}

var platformTestCmd = &cobra.Command{
	Use:   "test",
	Short: "Test a saved platform or a set of credentials",
	Long: `Test connectivity to a platform.

With --url or --token the given credentials are tested and nothing is saved.
Otherwise the platform --id (or the first configured platform) is tested.

Examples:
  spotter platform test
  spotter platform test --id cti
  spotter platform test --type openaev --url https://aev.example.com --token $TOKEN`,
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		req := platforms.ConnectionTestRequest{}
		req.PlatformID, _ = flags.GetString("id")
		req.Type, _ = flags.GetString("type")
		req.URL, _ = flags.GetString("url")
		req.APIToken, _ = flags.GetString("token")
		req.InsecureSkipVerify, _ = flags.GetBool("insecure")
		output, _ := flags.GetString("output")
		if err := validateFormat(output); err != nil {
			return err
		}

		ctx := context.Background()
		e, err := newEngine(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		resp := e.TestConnection(ctx, req)
		out := cmd.OutOrStdout()
		if done, err := writeStructured(out, output, resp); done {
			if err != nil {
				return err
			}
		} else if resp.Success {
			color.New(color.FgGreen).Fprintf(out, "✓ %s connected", resp.PlatformID)
			if resp.Info != nil {
				fmt.Fprintf(out, " (%s %s", resp.Info.Type, resp.Info.Version)
				if resp.Info.User != "" {
					fmt.Fprintf(out, ", as %s", resp.Info.User)
				}
				fmt.Fprint(out, ")")
			}
			fmt.Fprintln(out)
		} else {
			color.New(color.FgRed).Fprintf(out, "✗ %s: %s\n", resp.PlatformID, resp.Error)
		}

		if !resp.Success {
			return errors.New("connection test failed")
		}
		return nil
	},
}

var platformListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured platforms",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		if len(cfg.Platforms) == 0 {
			fmt.Fprintln(out, "No platform configured")
			return nil
		}
		for _, p := range cfg.Platforms {
			state := color.New(color.FgGreen).Sprint("enabled")
			if !p.Enabled {
				state = color.New(color.FgHiBlack).Sprint("disabled")
			}
			fmt.Fprintf(out, "  %-12s %-8s %-9s %s\n", p.ID, p.Type, state, p.URL)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(platformCmd)
	platformCmd.AddCommand(platformTestCmd, platformListCmd)

	platformTestCmd.Flags().String("id", "", "saved platform id")
	platformTestCmd.Flags().String("type", "", "platform type for temporary credentials (opencti, openaev)")
	platformTestCmd.Flags().String("url", "", "platform URL to test")
	platformTestCmd.Flags().String("token", "", "API token to test")
	platformTestCmd.Flags().Bool("insecure", false, "skip TLS verification")
	platformTestCmd.Flags().StringP("output", "o", formatText, "output format (text, json, yaml)")
}
