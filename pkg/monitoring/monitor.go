package monitoring

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: []float64{0.1, 0.5, 1, 2, 5},
		},
		[]string{"method", "endpoint"},
	)

	// GenerationCounter 按内容类型统计生成结果：hit（缓存/库命中）、generated、failed、aborted
	GenerationCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "content_generations_total",
			Help: "Content generation attempts by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	// GenerationDuration 上游生成整体耗时（仅真正走了上游的请求）
	GenerationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "content_generation_duration_seconds",
			Help:    "Duration of upstream content generations",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300},
		},
		[]string{"kind"},
	)

	// PersistFailures 生成成功但持久化失败的次数（内容仍然返回给了用户）
	PersistFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "content_persist_failures_total",
			Help: "Generated content that could not be durably saved",
		},
		[]string{"kind"},
	)
)

func Init() {
	prometheus.MustRegister(RequestCounter)
	prometheus.MustRegister(RequestDuration)
	prometheus.MustRegister(GenerationCounter)
	prometheus.MustRegister(GenerationDuration)
	prometheus.MustRegister(PersistFailures)
}

func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start).Seconds()
		status := c.Writer.Status()

		RequestCounter.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			strconv.Itoa(status),
		).Inc()

		RequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
		).Observe(duration)
	}
}

func PrometheusHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
