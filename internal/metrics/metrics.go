package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Метрики движка доверия
var (
	reportsSubmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reports_submitted_total",
			Help: "Submitted reports by evaluation outcome.",
		},
		[]string{"outcome"},
	)

	transitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "incident_transitions_total",
			Help: "Incident status transitions.",
		},
		[]string{"from", "to", "trigger"},
	)

	devicesBanned = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "devices_banned_total",
		Help: "Devices banned automatically or by operators.",
	})

	trustAdjustments = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trust_adjustments_total",
			Help: "Trust score adjustments by direction.",
		},
		[]string{"direction"},
	)

	evaluationDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "report_evaluation_duration_seconds",
		Help:    "Time to validate, evaluate and commit a report.",
		Buckets: prometheus.DefBuckets,
	})
)

// Общие HTTP-метрики
var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

var registerOnce sync.Once

// Init регистрирует метрики в default-регистре
func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			reportsSubmitted, transitions, devicesBanned, trustAdjustments, evaluationDuration,
			httpInFlight, httpRequestsTotal, httpRequestDuration,
		)
	})
}

// Handler - хэндлер Prometheus для gin
func Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}

// Middleware измеряет RPS/latency/в полёте. Путь берется из шаблона маршрута.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		httpInFlight.Inc()
		start := time.Now()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())
		httpRequestDuration.WithLabelValues(c.Request.Method, path, status).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		httpInFlight.Dec()
	}
}

func ObserveReport(outcome string, started time.Time) {
	reportsSubmitted.WithLabelValues(outcome).Inc()
	evaluationDuration.Observe(time.Since(started).Seconds())
}

func ObserveTransition(from, to, trigger string) {
	transitions.WithLabelValues(from, to, trigger).Inc()
}

func ObserveBan() {
	devicesBanned.Inc()
}

func ObserveTrustAdjustment(delta float64) {
	direction := "up"
	if delta < 0 {
		direction = "down"
	}
	trustAdjustments.WithLabelValues(direction).Inc()
}
