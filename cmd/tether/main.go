package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	clientcmd "github.com/rzbill/tether/internal/cmd/client"
	serverrun "github.com/rzbill/tether/internal/cmd/server"
	cfgpkg "github.com/rzbill/tether/internal/config"
	"github.com/spf13/cobra"
)

func main() {
	rootCmd := clientcmd.NewRoot(clientcmd.BaseURLFromEnv)
	rootCmd.Short = "tether offline write-queue relay"
	rootCmd.Long = "tether sits between an application and its API, queues writes made while offline and replays them per tenant on reconnect."

	serverCmd := &cobra.Command{Use: "server", Short: "Server commands"}
	serverCmd.AddCommand(newServerStartCommand())
	rootCmd.AddCommand(serverCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newServerStartCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "start",
		Short:   "Start the relay",
		Aliases: []string{"run"},
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("config")
			cfg, err := serverrun.BuildConfig(path, func(c *cfgpkg.Config) {
				// flags win only when given explicitly
				flags := cmd.Flags()
				if flags.Changed("data-dir") {
					c.DataDir, _ = flags.GetString("data-dir")
				}
				if flags.Changed("http") {
					c.HTTPAddr, _ = flags.GetString("http")
				}
				if flags.Changed("upstream") {
					c.Upstream, _ = flags.GetString("upstream")
				}
				if flags.Changed("store") {
					c.Store, _ = flags.GetString("store")
				}
				if flags.Changed("fsync") {
					c.Fsync, _ = flags.GetString("fsync")
				}
				if flags.Changed("fsync-interval-ms") {
					c.FsyncIntervalMs, _ = flags.GetInt("fsync-interval-ms")
				}
				if flags.Changed("log-level") {
					c.Log.Level, _ = flags.GetString("log-level")
				}
				if flags.Changed("log-format") {
					c.Log.Format, _ = flags.GetString("log-format")
				}
			})
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			if err := serverrun.Run(ctx, serverrun.Options{Config: cfg}); err != nil {
				return fmt.Errorf("server error: %w", err)
			}
			return nil
		},
	}
	def := cfgpkg.Default()
	cmd.Flags().String("config", os.Getenv("TETHER_CONFIG"), "Config file (.json, .yaml or .yml)")
	cmd.Flags().String("data-dir", "", "Data directory (if not specified, uses OS-specific application data directory)")
	cmd.Flags().String("http", def.HTTPAddr, "HTTP listen address (proxy + admin API)")
	cmd.Flags().String("upstream", "", "Upstream API base URL, e.g. https://api.example.com")
	cmd.Flags().String("store", def.Store, "Queue backend: pebble|sqlite")
	cmd.Flags().String("fsync", def.Fsync, "Fsync mode: always|interval|never")
	cmd.Flags().Int("fsync-interval-ms", def.FsyncIntervalMs, "When --fsync=interval, group-commit window in ms")
	cmd.Flags().String("log-level", def.Log.Level, "Log level: debug|info|warn|error")
	cmd.Flags().String("log-format", def.Log.Format, "Log format: text|json")
	return cmd
}
