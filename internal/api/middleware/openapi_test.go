package middleware

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/bigkaa/goartstore/custody-module/internal/api/openapi"
)

func newTestValidator(t *testing.T) *OpenAPIValidator {
	t.Helper()
	doc, err := openapi.Load()
	if err != nil {
		t.Fatalf("openapi.Load: %v", err)
	}
	v, err := NewOpenAPIValidator(doc, testLogger())
	if err != nil {
		t.Fatalf("NewOpenAPIValidator: %v", err)
	}
	return v
}

func TestOpenAPIValidator(t *testing.T) {
	v := newTestValidator(t)

	tests := []struct {
		name       string
		method     string
		target     string
		body       string
		wantStatus int
	}{
		{"валидный список", http.MethodGet, "/api/v1/files?limit=10&status=Moving", "", http.StatusOK},
		{"limit вне диапазона", http.MethodGet, "/api/v1/files?limit=1000", "", http.StatusBadRequest},
		{"limit не число", http.MethodGet, "/api/v1/files?limit=abc", "", http.StatusBadRequest},
		{"неизвестный статус", http.MethodGet, "/api/v1/files?status=Lost", "", http.StatusBadRequest},
		{"неверный order", http.MethodGet, "/api/v1/files/F-1/logs?order=random", "", http.StatusBadRequest},
		{"валидный move", http.MethodPut, "/api/v1/files/F-1/move", `{"moved_to":"Archive"}`, http.StatusOK},
		{"move без moved_to проходит дальше", http.MethodPut, "/api/v1/files/F-1/move", `{}`, http.StatusOK},
		{"moved_to не строка", http.MethodPut, "/api/v1/files/F-1/move", `{"moved_to":42}`, http.StatusBadRequest},
		{"create без тела", http.MethodPost, "/api/v1/files", "", http.StatusBadRequest},
		{"close без тела", http.MethodPut, "/api/v1/files/F-1/close", "", http.StatusOK},
		{"неизвестный маршрут", http.MethodGet, "/api/v2/other", "", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotBody string
			next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				data, _ := io.ReadAll(r.Body)
				gotBody = string(data)
				w.WriteHeader(http.StatusOK)
			})

			var body io.Reader
			if tt.body != "" {
				body = strings.NewReader(tt.body)
			}
			req := httptest.NewRequest(tt.method, tt.target, body)
			if tt.body != "" {
				req.Header.Set("Content-Type", "application/json")
			}
			rec := httptest.NewRecorder()
			v.Middleware()(next).ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("статус = %d, ожидался %d (%s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if tt.wantStatus == http.StatusBadRequest {
				var resp map[string]map[string]string
				if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
					t.Fatalf("ошибка декодирования: %v", err)
				}
				if resp["error"]["code"] != "VALIDATION_ERROR" {
					t.Errorf("code = %q", resp["error"]["code"])
				}
			}
			// Тело должно дойти до обработчика после валидации
			if tt.wantStatus == http.StatusOK && tt.body != "" && gotBody != tt.body {
				t.Errorf("тело после валидации = %q, ожидалось %q", gotBody, tt.body)
			}
		})
	}
}
