package observability

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// NewRouter returns the /health and /metrics routes for node.
func NewRouter(node string, logger zerolog.Logger) *gin.Engine {
	RegisterMetrics()
	startedAt := time.Now()

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestLogger(logger))
	r.Use(RequestMetricsMiddleware(node))
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"node":    node,
			"uptime":  time.Since(startedAt).String(),
			"service": "perfctl",
		})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return r
}

// ServeMetrics runs the metrics router on addr until ctx ends.
func ServeMetrics(ctx context.Context, addr, node string, logger zerolog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           NewRouter(node, logger),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	logger.Info().Str("addr", addr).Msg("metrics server started")

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
