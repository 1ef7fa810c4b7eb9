package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	goLinkAuth "github.com/MrEthical07/goLinkAuth"
)

func newServeCmd(opts *globalOptions) *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the login HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			st, err := buildStack(ctx, opts)
			if err != nil {
				return err
			}
			defer st.Close()

			if listen != "" {
				st.daemon.Listen = listen
			}
			return serve(ctx, st)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "listen address (overrides daemon.listen)")
	return cmd
}

func serve(ctx context.Context, st *stack) error {
	srv := &http.Server{
		Addr:              st.daemon.Listen,
		Handler:           newRouter(st.engine, st.logger),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go runSweeper(ctx, st.engine, st.daemon.SweepInterval, st.logger)

	errCh := make(chan error, 1)
	go func() {
		st.logger.Info("listening", zap.String("addr", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	st.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), st.daemon.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// runSweeper deletes spent and expired magic-link tokens until ctx ends.
func runSweeper(ctx context.Context, engine *goLinkAuth.Engine, every time.Duration, logger *zap.Logger) {
	if every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := engine.SweepExpiredTokens(ctx, "")
			if err != nil {
				logger.Warn("token sweep failed", zap.Error(err))
				continue
			}
			if n > 0 {
				logger.Debug("swept magic link tokens", zap.Int64("deleted", n))
			}
		}
	}
}
