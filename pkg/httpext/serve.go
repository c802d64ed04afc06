package httpext

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/snapncook/snapclient/pkg/logger"
)

const ShutdownTimeout = 10 * time.Second

// Serve runs srv on ln until ctx is done, then shuts it down gracefully.
// beforeShutdown, if set, runs first so long-lived connections such as
// websockets can be told to go away.
func Serve(ctx context.Context, srv *http.Server, ln net.Listener, beforeShutdown func()) error {
	serveErrCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErrCh <- err
		}
		close(serveErrCh)
	}()

	logger.Info(logger.APP, "Listening on %s", ln.Addr())

	select {
	case <-ctx.Done():
		logger.Info(logger.APP, "Shutdown requested")
	case err := <-serveErrCh:
		if err != nil {
			return err
		}
	}

	if beforeShutdown != nil {
		beforeShutdown()
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn(logger.APP, "HTTP shutdown incomplete: %v", err)
		return err
	}
	logger.Info(logger.APP, "HTTP server stopped")
	return nil
}
