// metrics.go — Prometheus HTTP метрики для Custody Module.
// Регистрирует метрики: cm_http_requests_total, cm_http_request_duration_seconds.
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
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cm_http_requests_total",
			Help: "Общее количество HTTP-запросов к Custody Module",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cm_http_request_duration_seconds",
			Help:    "Длительность HTTP-запросов к Custody Module в секундах",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// MetricsMiddleware возвращает HTTP middleware для сбора Prometheus метрик.
func MetricsMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			normalizedPath := normalizePath(r.URL.Path)

			wrapped := newResponseWriter(w)
			next.ServeHTTP(wrapped, r)

			status := strconv.Itoa(wrapped.statusCode)
			httpRequestsTotal.WithLabelValues(r.Method, normalizedPath, status).Inc()
			httpRequestDuration.WithLabelValues(r.Method, normalizedPath).Observe(time.Since(start).Seconds())
		})
	}
}

// fileActions — допустимые суффиксы пути файла.
var fileActions = map[string]bool{
	"move":    true,
	"receive": true,
	"close":   true,
	"logs":    true,
	"verify":  true,
}

// normalizePath заменяет file_id в пути на {file_id} для ограничения
// кардинальности метрик.
// /api/v1/files/F-2024/move → /api/v1/files/{file_id}/move
func normalizePath(path string) string {
	switch path {
	case "/health/live", "/health/ready", "/metrics", "/api/v1/files":
		return path
	}

	const prefix = "/api/v1/files/"
	if !strings.HasPrefix(path, prefix) {
		return "other"
	}

	rest := strings.Trim(path[len(prefix):], "/")
	parts := strings.Split(rest, "/")
	switch {
	case rest == "":
		return "/api/v1/files"
	case len(parts) == 1:
		return prefix + "{file_id}"
	case len(parts) == 2 && fileActions[parts[1]]:
		return prefix + "{file_id}/" + parts[1]
	default:
		return "other"
	}
}
