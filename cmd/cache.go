package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and refresh the entity cache",
}

var cacheRefreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Refresh cached entities from the platforms",
	Example: `  spotter cache refresh
  spotter cache refresh --platform cti --type Intrusion-Set`,
	RunE: func(cmd *cobra.Command, args []string) error {
		platformID, _ := cmd.Flags().GetString("platform")
		entityType, _ := cmd.Flags().GetString("type")
		output, _ := cmd.Flags().GetString("output")
		if err := validateFormat(output); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		e, err := newEngine(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		refreshErr := e.Cache.Refresh(e.Context(ctx), platformID, entityType)

		out := cmd.OutOrStdout()
		if done, err := writeStructured(out, output, e.Cache.Stats()); done {
			if err != nil {
				return err
			}
		} else {
			printCacheStats(out, e.Cache.Stats())
		}
		return refreshErr
	},
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show cache statistics",
	Long: `Show cache statistics. Without a Redis snapshot store the cache only
lives inside a running 'spotter serve', so this shows an empty cache.`,
	RunE: func(cmd *cobra.Command, args []string) error {
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

		if _, err := e.Cache.LoadSnapshots(e.Context(ctx)); err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if done, err := writeStructured(out, output, e.Cache.Stats()); done {
			return err
		}
		printCacheStats(out, e.Cache.Stats())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(cacheCmd)
	cacheCmd.AddCommand(cacheRefreshCmd, cacheStatsCmd)

	cacheRefreshCmd.Flags().String("platform", "", "platform id (default: all platforms)")
	cacheRefreshCmd.Flags().String("type", "", "entity type (default: all configured types)")
	for _, c := range []*cobra.Command{cacheRefreshCmd, cacheStatsCmd} {
		c.Flags().StringP("output", "o", formatText, "output format (text, json, yaml)")
	}
}
