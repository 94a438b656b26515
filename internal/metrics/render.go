package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace 是全部指标的命名空间。
const Namespace = "labreport"

var (
	renderDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "render",
			Name:      "duration_seconds",
			Help:      "模板渲染耗时分布（秒）。",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"renderer"},
	)

	renderWarningsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "render",
			Name:      "warnings_total",
			Help:      "渲染过程中记录的数据警告总数。",
		},
		[]string{"kind"},
	)

	placementRejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "editor",
			Name:      "placement_rejections_total",
			Help:      "被放置规则拒绝的拖拽操作总数。",
		},
		[]string{"rule"},
	)

	pdfInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "render",
			Name:      "pdf_generations_in_flight",
			Help:      "当前正在生成的 PDF 数量。",
		},
	)
)

// ObserveRender 记录一次渲染耗时。renderer 取 canvas / pdf / browser。
func ObserveRender(renderer string, start time.Time) {
	renderDuration.WithLabelValues(renderer).Observe(time.Since(start).Seconds())
}

// CountRenderWarning 记录一条渲染警告。
func CountRenderWarning(kind string) {
	renderWarningsTotal.WithLabelValues(kind).Inc()
}

// CountPlacementRejection 记录一次放置规则拒绝。
func CountPlacementRejection(rule string) {
	placementRejectionsTotal.WithLabelValues(rule).Inc()
}

// TrackPDFGeneration 标记一次 PDF 生成开始，返回的函数在结束时调用。
func TrackPDFGeneration() func() {
	pdfInFlight.Inc()
	return pdfInFlight.Dec
}
