package commands

import (
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/54b3r/docchat-go/internal/config"
	"github.com/54b3r/docchat-go/internal/logging"
	"github.com/54b3r/docchat-go/internal/server"
)

// NewServeCmd constructs the `docchat serve` command, which starts the HTTP
// server that streams grounded answers to chat clients.
func NewServeCmd() *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the docchat HTTP server",
		Long: `Start the docchat HTTP server.

POST /api/chat streams the citation header, the "[END_SOURCE]" marker and
then the answer text. Requests may carry their own OpenAI and index
credentials; blank ones fall back to the configured defaults.

Also served: POST /api/index/stats (pinecone only), GET /api/health,
GET /api/ready and GET /metrics.

Examples:
  docchat serve
  docchat serve --port 9090
  INDEX_BACKEND=qdrant docchat serve`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.FromContext(ctx)
			settings := config.FromEnv()
			if cmd.Flags().Changed("host") {
				settings.Host = host
			}
			if cmd.Flags().Changed("port") {
				settings.Port = port
			}

			handlers, shutdown := setupTracing(ctx, settings, log)
			defer shutdown()

			st, err := buildStack(settings, log, nil, handlers...)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer st.Close()

			srv, err := server.New(st.orchestrator, st.statsProber(), &server.Config{
				Host:      settings.Host,
				Port:      settings.Port,
				Logger:    log,
				Pingers:   st.pingers,
				RateLimit: settings.RateLimitRPS,
				RateBurst: settings.RateLimitBurst,
			})
			if err != nil {
				return fmt.Errorf("serve: failed to create server: %w", err)
			}

			log.Info("serve starting",
				slog.String("host", settings.Host),
				slog.Int("port", settings.Port),
				slog.Int("pingers", len(st.pingers)),
			)
			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&host, "host", config.DefaultHost, "Host address to bind to (overrides DOCCHAT_HOST)")
	cmd.Flags().IntVarP(&port, "port", "p", config.DefaultPort, "TCP port to listen on (overrides DOCCHAT_PORT)")

	return cmd
}
