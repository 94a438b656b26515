package api

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"labReport/internal/api/middleware"
	"labReport/internal/metrics"
)

// NewRouter 构建 Gin 路由引擎：恢复、Correlation ID、请求日志、指标，以及 /health 与 /metrics。
func NewRouter(logger *slog.Logger) *gin.Engine {
	router := gin.New()
	router.Use(
		gin.Recovery(),
		middleware.CorrelationIDMiddleware(),
		middleware.SlogLoggerMiddleware(logger, "/health", "/metrics"),
		metrics.GinMiddleware("/metrics"),
	)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return router
}
