package cli

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/tbourn/go-venue-backend/internal/config"
	"github.com/tbourn/go-venue-backend/internal/observability"
	"github.com/tbourn/go-venue-backend/internal/repo"
)

const (
	shutdownGrace = 15 * time.Second
	purgeInterval = time.Hour
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(rt.log.WithContext(cmd.Context()), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, rt.cfg)
		},
	}
}

// serve listens on cfg.Port and runs until ctx is cancelled.
func serve(ctx context.Context, cfg config.Config) error {
	ln, err := net.Listen("tcp", ":"+cfg.Port)
	if err != nil {
		return err
	}
	return serveOn(ctx, cfg, ln)
}

// serveOn serves on ln until ctx is cancelled, then drains in-flight
// requests. Request contexts keep ctx's values but not its cancellation,
// so a signal does not abort inquiries that are already being delivered.
func serveOn(ctx context.Context, cfg config.Config, ln net.Listener) error {
	lg := zerolog.Ctx(ctx)
	defer ln.Close()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, Version)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTel(sctx); err != nil {
			lg.Warn().Err(err).Msg("otel shutdown")
		}
	}()

	app, err := NewApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = app.Close() }()

	baseCtx := context.WithoutCancel(ctx)
	srv := &http.Server{
		Handler:           app.Engine,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
		BaseContext:       func(net.Listener) context.Context { return baseCtx },
	}

	go purgeLoop(ctx, app.DB, purgeInterval)

	errCh := make(chan error, 1)
	go func() {
		lg.Info().Str("addr", ln.Addr().String()).Msg("listening")
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	lg.Info().Msg("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return err
	}
	return <-errCh
}

// purgeLoop removes expired idempotency keys every interval until ctx ends.
func purgeLoop(ctx context.Context, db *gorm.DB, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			n, err := repo.PurgeExpiredIdempotency(ctx, db, now)
			if err != nil {
				zerolog.Ctx(ctx).Warn().Err(err).Msg("idempotency purge failed")
				continue
			}
			if n > 0 {
				zerolog.Ctx(ctx).Debug().Int64("purged", n).Msg("expired idempotency keys removed")
			}
		}
	}
}
