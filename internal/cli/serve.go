package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

var serveFlags = map[string]string{
	"database": "database",
	"addr":     "serve.addr",
}

// serveCommand creates the serve command.
func (c *CLI) serveCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the update history and metrics over HTTP",
		Long: `Start a read-only HTTP API over the update store.

Endpoints:
  GET /api/stats             store statistics
  GET /api/records           every tracked package
  GET /api/records/{attr}    one package
  GET /api/logs?attr=<attr>  failures of a package, newest first
  GET /api/logs/<drv>        failure of one derivation
  GET /metrics               Prometheus metrics`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.loadConfig(cmd, serveFlags)
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			st, err := c.openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			ln, err := net.Listen("tcp", cfg.Serve.Addr)
			if err != nil {
				return fmt.Errorf("listen on %s: %w", cfg.Serve.Addr, err)
			}
			srv := &http.Server{
				Handler:           newRouter(st, prometheus.NewRegistry(), c.Logger),
				ReadHeaderTimeout: 5 * time.Second,
			}

			errc := make(chan error, 1)
			go func() { errc <- srv.Serve(ln) }()
			printSuccess("Serving on http://%s", ln.Addr())

			select {
			case err := <-errc:
				return err
			case <-ctx.Done():
			}

			c.Logger.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return err
			}
			if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}

	cmd.Flags().String("database", "", "state database path (sqlite store)")
	cmd.Flags().String("addr", "127.0.0.1:8787", "listen address")

	return cmd
}
