package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

type staticChecker struct {
	status  string
	message string
}

func (c staticChecker) CheckReady() (string, string) {
	return c.status, c.message
}

func TestHealthReady(t *testing.T) {
	tests := []struct {
		name        string
		pg          ReadinessChecker
		kc          ReadinessChecker
		wantStatus  int
		wantOverall string
		wantKC      string
	}{
		{"всё ok", staticChecker{"ok", ""}, staticChecker{"ok", ""}, http.StatusOK, "ok", "ok"},
		{"каталог отключён", staticChecker{"ok", ""}, nil, http.StatusOK, "ok", "disabled"},
		{"keycloak недоступен", staticChecker{"ok", ""}, staticChecker{"fail", "timeout"}, http.StatusOK, "degraded", "degraded"},
		{"postgres недоступен", staticChecker{"fail", "refused"}, nil, http.StatusServiceUnavailable, "fail", "disabled"},
		{"postgres не инициализирован", nil, nil, http.StatusServiceUnavailable, "fail", "disabled"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthHandler(tt.pg, tt.kc)
			rec := httptest.NewRecorder()
			h.HealthReady(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

			if rec.Code != tt.wantStatus {
				t.Fatalf("статус = %d, ожидался %d", rec.Code, tt.wantStatus)
			}
			var resp healthReadyResponse
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
				t.Fatalf("ошибка декодирования: %v", err)
			}
			if resp.Status != tt.wantOverall || resp.Checks.Keycloak.Status != tt.wantKC {
				t.Errorf("ответ = %+v", resp)
			}
			if resp.Service != "custody-module" {
				t.Errorf("service = %q", resp.Service)
			}
		})
	}
}

func TestHealthLive(t *testing.T) {
	h := NewHealthHandler(nil, nil)
	rec := httptest.NewRecorder()
	h.HealthLive(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("статус = %d", rec.Code)
	}
}

func TestOverallStatus(t *testing.T) {
	if got := overallStatus("ok", "disabled"); got != "ok" {
		t.Errorf("ok+disabled = %q", got)
	}
	if got := overallStatus("degraded", "ok"); got != "degraded" {
		t.Errorf("degraded+ok = %q", got)
	}
	if got := overallStatus("ok", "fail", "degraded"); got != "fail" {
		t.Errorf("fail = %q", got)
	}
}
