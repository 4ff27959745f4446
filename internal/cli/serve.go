package cli

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/invoicegate/internal/api"
	"github.com/randalmurphal/invoicegate/internal/telemetry"
)

// newServeCmd creates the serve command for the API server
func newServeCmd() *cobra.Command {
	var (
		host  string
		port  int
		trace bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		Long: `Start the invoicegate HTTP API.

Endpoints:
  POST /invoice/submit          Process an invoice
  GET  /human-review/pending    Invoices waiting for review
  POST /human-review/decision   Accept or reject, then resume
  GET  /final-results?limit=N   Recent final results
  GET  /api/health              Liveness
  GET  /api/ws                  Engine event stream (WebSocket)

With events.redis_url set, engine events from other invoicegate processes
sharing the Redis server are streamed too.

Example:
  invoicegate serve              # Start on 127.0.0.1:8000
  invoicegate serve --port 9000 --trace`,
		RunE: func(cmd *cobra.Command, args []string) error {
			tc, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			cfg := tc.Config
			if cmd.Flags().Changed("host") {
				tc.Override("server.host", host)
			}
			if cmd.Flags().Changed("port") {
				tc.Override("server.port", strconv.Itoa(port))
			}
			if trace {
				tc.Override("telemetry.enabled", "true")
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			shutdownTracing, err := telemetry.Setup(telemetry.Options{
				Enabled: cfg.Telemetry.Enabled,
				Writer:  cmd.ErrOrStderr(),
				Pretty:  cfg.Telemetry.Pretty,
				Version: Version,
			})
			if err != nil {
				return fmt.Errorf("setup telemetry: %w", err)
			}
			defer func() {
				flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = shutdownTracing(flushCtx)
			}()

			ctx, cancel := SetupSignalHandler(cmd.ErrOrStderr())
			defer cancel()

			s, err := openSession(ctx, cmd, sessionOptions{})
			if err != nil {
				return err
			}
			defer s.Close()

			server, err := api.New(api.Config{
				Addr:      cfg.Server.Addr(),
				Runtime:   s.rt,
				Publisher: s.publisher,
				Logger:    slog.Default(),
			})
			if err != nil {
				return err
			}

			if !quiet {
				fmt.Fprintf(cmd.OutOrStdout(), "Serving on http://%s (store: %s)\n", cfg.Server.Addr(), cfg.Database.Driver)
				fmt.Fprintln(cmd.OutOrStdout(), "Press Ctrl+C to stop")
			}
			return server.Run(ctx)
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "interface to listen on (default from config)")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "port to listen on (default from config)")
	cmd.Flags().BoolVar(&trace, "trace", false, "export stage spans to stderr")
	return cmd
}
