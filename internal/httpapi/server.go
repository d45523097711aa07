package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/blescope/internal/groutine"
)

// ShutdownTimeout bounds graceful shutdown after the context is cancelled
const ShutdownTimeout = 5 * time.Second

// Serve listens on addr and serves the API until ctx is cancelled
func Serve(ctx context.Context, addr string, p Pipeline, logger *logrus.Logger) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return ServeListener(ctx, ln, p, logger)
}

// ServeListener serves the API on ln until ctx is cancelled
func ServeListener(ctx context.Context, ln net.Listener, p Pipeline, logger *logrus.Logger) error {
	if logger == nil {
		logger = logrus.New()
	}
	srv := &http.Server{
		Handler:           NewRouter(p, logger),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	groutine.Go(ctx, "http-serve", func(context.Context) {
		errCh <- srv.Serve(ln)
	})
	logger.WithField("addr", ln.Addr().String()).Info("HTTP API listening")

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTP shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	logger.Info("HTTP API stopped")
	return nil
}
