package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var httpLabels = []string{"method", "route", "status"}

var (
	registerHTTP sync.Once

	httpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: Namespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "API 请求耗时（秒），按路由模板聚合。",
		Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 15, 30},
	}, httpLabels)

	httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "API 请求数。",
	}, httpLabels)

	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: Namespace,
		Subsystem: "http",
		Name:      "in_flight_requests",
		Help:      "正在处理的 API 请求数。",
	})
)

// routeLabel 使用 gin 的路由模板（/v1/sessions/:sid/move），避免把会话 id 之类的路径参数变成标签。
func routeLabel(c *gin.Context) string {
	if route := c.FullPath(); route != "" {
		return route
	}
	return "unmatched"
}

// GinMiddleware 采集 API 请求指标，skip 中的路径不采集。
func GinMiddleware(skip ...string) gin.HandlerFunc {
	registerHTTP.Do(func() {
		prometheus.MustRegister(httpDuration, httpRequests, httpInFlight)
	})

	skipped := make(map[string]bool, len(skip))
	for _, p := range skip {
		skipped[p] = true
	}

	return func(c *gin.Context) {
		if skipped[c.Request.URL.Path] {
			c.Next()
			return
		}

		httpInFlight.Inc()
		start := time.Now()
		c.Next()
		httpInFlight.Dec()

		route := routeLabel(c)
		status := strconv.Itoa(c.Writer.Status())
		httpDuration.WithLabelValues(c.Request.Method, route, status).Observe(time.Since(start).Seconds())
		httpRequests.WithLabelValues(c.Request.Method, route, status).Inc()
	}
}
