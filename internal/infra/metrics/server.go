package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"zappy-ai/internal/infra/middleware"
)

// Serve exposes gatherer on /metrics at addr until ctx is cancelled. mws wrap
// the handler, the first one outermost.
func Serve(ctx context.Context, addr string, gatherer prometheus.Gatherer, logger *slog.Logger, mws ...middleware.Middleware) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return serve(ctx, ln, gatherer, logger, mws...)
}

func serve(ctx context.Context, ln net.Listener, gatherer prometheus.Gatherer, logger *slog.Logger, mws ...middleware.Middleware) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", middleware.Chain(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}), mws...))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Info("metrics endpoint listening", "addr", ln.Addr().String())
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
