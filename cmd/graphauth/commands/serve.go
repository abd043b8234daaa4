package commands

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"graphauth/go-backend/internal/platform/metrics"
)

func serveMetricsCmd(c *cli) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve-metrics",
		Short: "Restore the session and expose Prometheus metrics until interrupted",
		Args:  cobra.NoArgs,
		RunE: c.run(func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if addr == "" {
				addr = c.rt.Config.Metrics.Addr
			}
			res := c.rt.Service.RestoreSession(ctx)
			c.logger.Info("session restore at startup", "success", res.Success, "error", res.Error)

			_, events, cancel := c.rt.Service.Events(0)
			defer cancel()
			go func() {
				for ev := range events {
					c.logger.Info("auth event", "method", ev.Method, "seq", ev.Seq)
				}
			}()

			srv := &http.Server{
				Addr:              addr,
				Handler:           metrics.SetupMetricsRoute(c.rt.Gatherer),
				ReadHeaderTimeout: 5 * time.Second,
			}
			errCh := make(chan error, 1)
			go func() { errCh <- srv.ListenAndServe() }()
			c.logger.Info("metrics listening", "addr", addr)

			select {
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			case <-ctx.Done():
				shutdownCtx, cancelShutdown := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
				defer cancelShutdown()
				return srv.Shutdown(shutdownCtx)
			}
		}),
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	return cmd
}
