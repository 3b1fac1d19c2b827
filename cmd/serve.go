package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/CodeMonkeyCybersecurity/spotter/internal/api"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the Spotter HTTP API server",
	Long: `Start the HTTP API used by the browser extension.

The server warms the entity cache on start and keeps it fresh in the
background.

Example:
  spotter serve --port 8484
  SPOTTER_API_KEY=secret spotter serve --host 0.0.0.0`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 8484, "Port to listen on")
	serveCmd.Flags().String("host", "127.0.0.1", "Host to bind to")
	viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	viper.BindPFlag("server.host", serveCmd.Flags().Lookup("host"))
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}

	e, err := newEngine(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	log.Infow("Starting Spotter API server",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"platforms", e.Clients.IDs(),
		"config_file", viper.ConfigFileUsed(),
	)

	if _, err := e.Cache.LoadSnapshots(e.Context(ctx)); err != nil {
		log.Warnw("Failed to load cache snapshots", "error", err)
	}
	e.Cache.StartAutoRefresh(e.Context(ctx), cfg.Cache.RefreshInterval)

	return api.ListenAndServe(ctx, e)
}
