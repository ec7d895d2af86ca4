// metrics.go — Prometheus HTTP метрики certledger.
// Регистрирует метрики: cl_http_requests_total, cl_http_request_duration_seconds.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP метрики
var (
	// httpRequestsTotal — общее количество HTTP-запросов.
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cl_http_requests_total",
			Help: "Общее количество HTTP-запросов к certledger",
		},
		[]string{"method", "path", "status"},
	)

	// httpRequestDuration — гистограмма длительности HTTP-запросов.
	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cl_http_request_duration_seconds",
			Help:    "Длительность HTTP-запросов к certledger в секундах",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// MetricsMiddleware возвращает HTTP middleware для сбора Prometheus метрик.
// Записывает количество запросов и длительность для каждого endpoint.
func MetricsMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// Хэши и адреса владельцев заменяются шаблонами
			normalizedPath := normalizePath(r.URL.Path)

			wrapped := newMetricsResponseWriter(w)
			next.ServeHTTP(wrapped, r)

			duration := time.Since(start).Seconds()
			status := strconv.Itoa(wrapped.statusCode)

			httpRequestsTotal.WithLabelValues(r.Method, normalizedPath, status).Inc()
			httpRequestDuration.WithLabelValues(r.Method, normalizedPath).Observe(duration)
		})
	}
}

// metricsResponseWriter — обёртка для перехвата статус-кода.
type metricsResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func newMetricsResponseWriter(w http.ResponseWriter) *metricsResponseWriter {
	return &metricsResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
}

func (rw *metricsResponseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Unwrap позволяет http.ResponseController получить доступ к оригинальному ResponseWriter.
func (rw *metricsResponseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// normalizePath заменяет переменные сегменты пути шаблонами
// для предотвращения взрывного роста кардинальности метрик.
// /api/v1/certificates/ab12.../approve → /api/v1/certificates/{fileHash}/approve
func normalizePath(path string) string {
	switch path {
	case "/health/live", "/health/ready", "/metrics",
		"/api/v1/registry/initialize",
		"/api/v1/registry/admin",
		"/api/v1/certificates":
		return path
	}

	prefixes := []struct {
		prefix   string
		result   string
		suffixes []string
	}{
		{"/api/v1/certificates/", "/api/v1/certificates/{fileHash}", []string{"/approved", "/approve", "/reject", "/verify"}},
		{"/api/v1/owners/", "/api/v1/owners/{owner}", []string{"/stats"}},
	}

	for _, p := range prefixes {
		rest, ok := strings.CutPrefix(path, p.prefix)
		if !ok || rest == "" {
			continue
		}
		idx := strings.IndexByte(rest, '/')
		if idx < 0 {
			return p.result
		}
		suffix := rest[idx:]
		for _, s := range p.suffixes {
			if suffix == s {
				return p.result + s
			}
		}
		return p.result + "/{other}"
	}

	return "/{other}"
}
