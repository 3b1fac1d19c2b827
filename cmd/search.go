package cmd

import (
	"context"
	"strings"

	"github.com/spf13/cobra"

	"github.com/CodeMonkeyCybersecurity/spotter/pkg/platforms"
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search one or all connected platforms",
	Example: `  spotter search "APT28"
  spotter search --platform cti evil[.]example[.]com`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		platformID, _ := cmd.Flags().GetString("platform")
		output, _ := cmd.Flags().GetString("output")
		if err := validateFormat(output); err != nil {
			return err
		}

		ctx := context.Background()
		e, err := newEngine(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		if _, _, err := platforms.GetTargetClientOrError(e.Clients, platformID); err != nil {
			return err
		}

		results := e.Enricher.Search(e.Context(ctx), strings.Join(args, " "), platformID)
		out := cmd.OutOrStdout()
		if done, err := writeStructured(out, output, results); done {
			return err
		}
		printEntities(out, results)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(searchCmd)
	searchCmd.Flags().String("platform", "", "platform id (default: all platforms)")
	searchCmd.Flags().StringP("output", "o", formatText, "output format (text, json, yaml)")
}
