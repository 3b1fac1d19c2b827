package cmd

import (
	"context"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var resolveCmd = &cobra.Command{
	Use:   "resolve <entity-id>",
	Short: "Resolve an entity id against the cache and the platforms",
	Long: `Resolve an entity id. Cached entities (from the Redis snapshot store,
when configured) are returned without a platform call; otherwise every
platform, or the one selected with --platform, is asked for the id.`,
	Example: `  spotter resolve intrusion-set--bef4c620-0787-42a8-a96d-b7eb6e85917c
  spotter resolve --platform aev --type Endpoint 4f1e7c2a`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		platformID, _ := cmd.Flags().GetString("platform")
		entityType, _ := cmd.Flags().GetString("type")
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

		ctx = e.Context(ctx)
		if _, err := e.Cache.LoadSnapshots(ctx); err != nil {
			e.Logger.Warnw("Failed to load cache snapshots", "error", err)
		}

		res, err := e.Enricher.ResolveID(ctx, args[0], entityType, platformID)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if done, err := writeStructured(out, output, res); done {
			return err
		}
		printEntities(out, res.Entities)
		for _, pe := range res.Errors {
			color.New(color.FgRed).Fprintf(out, "%s: %s\n", pe.PlatformID, pe.Message)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(resolveCmd)
	resolveCmd.Flags().String("platform", "", "platform id (default: all platforms)")
	resolveCmd.Flags().String("type", "", "entity type, required by some platforms")
	resolveCmd.Flags().StringP("output", "o", formatText, "output format (text, json, yaml)")
}
