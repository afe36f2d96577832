package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"statusflow/internal/config"
	"statusflow/internal/logger"
	"statusflow/pkg/health"
	"statusflow/pkg/metrics"
	"statusflow/pkg/middleware"
	"statusflow/pkg/ratelimit"
	"statusflow/pkg/tracing"
)

type healthResponse struct {
	Status    health.Status                 `json:"status"`
	Timestamp string                        `json:"timestamp"`
	Checks    map[string]health.CheckResult `json:"checks,omitempty"`
}

// NewRouter builds the gin engine shared by both services: recovery,
// request ids, access logs, /health backed by registry and /metrics.
func NewRouter(ctx context.Context, cfg *config.Config, serviceName string, registry *health.CheckerRegistry, log logger.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(middleware.RecoveryMiddleware(log))
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.LoggerMiddleware(log))
	if cfg.Tracing.Enabled {
		router.Use(tracing.GinMiddleware(serviceName))
	}
	if cfg.RateLimit.Enabled {
		metrics.RegisterHTTPMetrics()
		router.Use(ratelimit.RateLimitMiddleware(ctx, ratelimit.FromSettings(cfg.RateLimit)))
	}

	router.GET("/health", func(c *gin.Context) {
		h := registry.Check(c.Request.Context())
		statusCode := http.StatusOK
		if h.Status == health.StatusUnhealthy {
			statusCode = http.StatusServiceUnavailable
		}
		c.JSON(statusCode, healthResponse{
			Status:    h.Status,
			Timestamp: h.Timestamp.Format(time.RFC3339),
			Checks:    h.Checks,
		})
	})

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return router
}

func NewHTTPServer(cfg config.ServerConfig, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
}
