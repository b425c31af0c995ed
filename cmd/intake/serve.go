package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Mindburn-Labs/intake/pkg/api"
)

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and run delivery",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr == "" {
				addr = net.JoinHostPort("", rootOpts.cfg.Port)
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, rootOpts, addr)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default :$PORT)")
	return cmd
}

func runServe(ctx context.Context, opts *RootOptions, addr string) error {
	cfg, logger := opts.cfg, opts.logger

	st, err := openStack(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Error("shutdown failed", "error", err)
		}
	}()

	go st.runDispatcher(ctx, logger)
	if st.cleanup != nil {
		go sweepIdempotency(ctx, st.cleanup, logger)
	}

	serverOpts := []api.Option{
		api.WithLogger(logger.With("component", "api")),
		api.WithTracker(st.telemetry),
		api.WithIdempotencyStore(st.idempotency),
		api.WithRateLimiter(api.NewGlobalRateLimiter(ctx, cfg.RateLimitRPS, cfg.RateLimitBurst)),
	}
	if cfg.JWTSecret != "" {
		serverOpts = append(serverOpts, api.WithActorSecret([]byte(cfg.JWTSecret)))
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.NewServer(ctx, st.subs, st.reviews, serverOpts...).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("intake listening", "addr", addr, "store", cfg.StoreDriver, "version", version)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func sweepIdempotency(ctx context.Context, cleanup func(context.Context) error, logger *slog.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := cleanup(ctx); err != nil {
				logger.ErrorContext(ctx, "idempotency cleanup failed", "error", err)
			}
		}
	}
}
