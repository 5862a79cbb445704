package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// counterValue читает текущее значение счётчика.
func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("чтение метрики: %v", err)
	}
	return m.GetCounter().GetValue()
}

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"/health/live", "/health/live"},
		{"/health/ready", "/health/ready"},
		{"/metrics", "/metrics"},
		{"/api/v1/files", "/api/v1/files"},
		{"/api/v1/files/", "/api/v1/files"},
		{"/api/v1/files/F-2024", "/api/v1/files/{file_id}"},
		{"/api/v1/files/F-2024/move", "/api/v1/files/{file_id}/move"},
		{"/api/v1/files/F-2024/receive", "/api/v1/files/{file_id}/receive"},
		{"/api/v1/files/F-2024/close", "/api/v1/files/{file_id}/close"},
		{"/api/v1/files/F-2024/logs", "/api/v1/files/{file_id}/logs"},
		{"/api/v1/files/F-2024/verify", "/api/v1/files/{file_id}/verify"},
		{"/api/v1/files/F-2024/delete", "other"},
		{"/api/v1/files/F-2024/move/extra", "other"},
		{"/unknown", "other"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := normalizePath(tt.input); got != tt.expected {
				t.Errorf("normalizePath(%q) = %q, ожидался %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestMetricsMiddleware_CountsStatus(t *testing.T) {
	counter := httpRequestsTotal.WithLabelValues(http.MethodPost, "/api/v1/files/{file_id}/close", "409")
	before := counterValue(t, counter)

	h := MetricsMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/files/F-7/close", nil))

	if got := counterValue(t, counter) - before; got != 1 {
		t.Errorf("прирост счётчика = %v, ожидался 1", got)
	}
}
