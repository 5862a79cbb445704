package keycloak

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// setupMockKeycloak создаёт mock HTTP-сервер Keycloak.
func setupMockKeycloak(t *testing.T, tokenHandler, adminHandler http.HandlerFunc) *Client {
	t.Helper()

	mux := http.NewServeMux()

	mux.HandleFunc("/realms/artstore/protocol/openid-connect/token", func(w http.ResponseWriter, r *http.Request) {
		if tokenHandler != nil {
			tokenHandler(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(TokenResponse{
			AccessToken: "test-access-token",
			TokenType:   "Bearer",
			ExpiresIn:   300,
		})
	})

	admin := func(w http.ResponseWriter, r *http.Request) {
		if adminHandler != nil {
			adminHandler(w, r)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}
	mux.HandleFunc("/admin/realms/artstore", admin)
	mux.HandleFunc("/admin/realms/artstore/", admin)

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return New(server.URL+"/", "artstore", "custody-module", "test-secret", server.Client(), testLogger())
}

func TestClient_TokenCaching(t *testing.T) {
	tokenRequests := 0

	client := setupMockKeycloak(t,
		func(w http.ResponseWriter, r *http.Request) {
			tokenRequests++
			if got := r.FormValue("grant_type"); got != "client_credentials" {
				t.Errorf("grant_type = %q, ожидается client_credentials", got)
			}
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(TokenResponse{AccessToken: "cached-token", ExpiresIn: 300})
		},
		nil,
	)

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		token, err := client.getToken(ctx)
		if err != nil {
			t.Fatalf("Ошибка получения токена: %v", err)
		}
		if token != "cached-token" {
			t.Errorf("ожидался cached-token, получен %s", token)
		}
	}

	if tokenRequests != 1 {
		t.Errorf("ожидался 1 запрос токена, было %d", tokenRequests)
	}
}

// TestClient_TokenRefresh проверяет запрос нового токена, если старый истекает в пределах 30s.
func TestClient_TokenRefresh(t *testing.T) {
	tokenRequests := 0

	client := setupMockKeycloak(t,
		func(w http.ResponseWriter, r *http.Request) {
			tokenRequests++
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(TokenResponse{AccessToken: "short-token", ExpiresIn: 10})
		},
		nil,
	)

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if _, err := client.getToken(ctx); err != nil {
			t.Fatalf("Ошибка получения токена: %v", err)
		}
	}

	if tokenRequests != 2 {
		t.Errorf("ожидалось 2 запроса токена, было %d", tokenRequests)
	}
}

func TestClient_TokenError(t *testing.T) {
	client := setupMockKeycloak(t,
		func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":"invalid_client"}`))
		},
		nil,
	)

	_, err := client.GetUser(context.Background(), "u1")
	if err == nil || !strings.Contains(err.Error(), "401") {
		t.Errorf("ожидалась ошибка со статусом 401, получено %v", err)
	}
}

func TestClient_GetUser(t *testing.T) {
	client := setupMockKeycloak(t, nil, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-access-token" {
			t.Errorf("Authorization = %q", got)
		}
		switch r.URL.Path {
		case "/admin/realms/artstore/users/user-1":
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(KeycloakUser{
				ID: "user-1", Username: "ivanov", FirstName: "Иван", LastName: "Иванов", Enabled: true,
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	ctx := context.Background()

	user, err := client.GetUser(ctx, "user-1")
	if err != nil {
		t.Fatalf("GetUser() ошибка: %v", err)
	}
	if user.DisplayName() != "Иван Иванов" {
		t.Errorf("DisplayName() = %q, ожидается «Иван Иванов»", user.DisplayName())
	}

	_, err = client.GetUser(ctx, "missing")
	if !errors.Is(err, ErrUserNotFound) {
		t.Errorf("GetUser(missing) = %v, ожидается ErrUserNotFound", err)
	}
}

func TestKeycloakUser_DisplayNameFallback(t *testing.T) {
	u := &KeycloakUser{Username: "petrov"}
	if u.DisplayName() != "petrov" {
		t.Errorf("DisplayName() = %q, ожидается petrov", u.DisplayName())
	}
}

func TestClient_CheckReady(t *testing.T) {
	tests := []struct {
		name       string
		handler    http.HandlerFunc
		wantStatus string
	}{
		{
			name: "realm включён",
			handler: func(w http.ResponseWriter, r *http.Request) {
				json.NewEncoder(w).Encode(RealmRepresentation{Realm: "artstore", Enabled: true})
			},
			wantStatus: "ok",
		},
		{
			name: "realm отключён",
			handler: func(w http.ResponseWriter, r *http.Request) {
				json.NewEncoder(w).Encode(RealmRepresentation{Realm: "artstore", Enabled: false})
			},
			wantStatus: "degraded",
		},
		{
			name: "ошибка сервера",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
			},
			wantStatus: "fail",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := setupMockKeycloak(t, nil, tt.handler)
			status, msg := client.CheckReady()
			if status != tt.wantStatus {
				t.Errorf("CheckReady() = %q (%s), ожидается %q", status, msg, tt.wantStatus)
			}
		})
	}
}
