package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/certstate-cli/internal/api"
	"github.com/sells-group/certstate-cli/internal/config"
	"github.com/sells-group/certstate-cli/internal/monitoring"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve synchronous ingestion and run history over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if cmd.Flags().Changed("port") {
			cfg.Server.Port = servePort
		}

		env, err := initIngestEnv(ctx, config.ModeServe)
		if err != nil {
			return err
		}
		defer env.Close()

		opts := []api.Option{
			api.WithGatherer(env.Registry),
			api.WithAllowedOrigins(cfg.Server.AllowedOrigins),
		}
		if env.Store != nil {
			collector := monitoring.NewCollector(env.Store)
			opts = append(opts, api.WithStore(env.Store), api.WithStats(collector))

			if cfg.Monitoring.WebhookURL != "" {
				checker := monitoring.NewChecker(collector, monitoring.NewAlerter(cfg.Monitoring), cfg.Monitoring)
				go checker.Run(ctx)
			} else {
				zap.L().Debug("monitoring webhook not configured, alert checker disabled")
			}
		}

		return api.New(env.Runner, opts...).ListenAndServe(ctx, api.Addr(cfg.Server.Port))
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 8080, "HTTP server port (overrides server.port)")
	rootCmd.AddCommand(serveCmd)
}
