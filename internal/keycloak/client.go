// Пакет keycloak — HTTP-клиент к Keycloak Admin REST API.
//
// Клиент получает service account token через Client Credentials flow
// и кэширует его (обновление за 30s до expiration).
// Используется каталогом пользователей для отображаемых имён акторов.
package keycloak

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// ErrUserNotFound — пользователь отсутствует в realm.
var ErrUserNotFound = errors.New("пользователь Keycloak не найден")

// Client — HTTP-клиент к Keycloak Admin REST API.
type Client struct {
	baseURL      string // Базовый URL Keycloak (без trailing slash)
	realm        string
	clientID     string
	clientSecret string

	httpClient *http.Client
	logger     *slog.Logger

	// Кэш токена доступа
	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

// New создаёт клиент к Keycloak Admin REST API.
// httpClient может содержать TLS конфигурацию; nil — клиент по умолчанию.
func New(baseURL, realm, clientID, clientSecret string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		realm:        realm,
		clientID:     clientID,
		clientSecret: clientSecret,
		httpClient:   httpClient,
		logger:       logger.With(slog.String("component", "keycloak_client")),
	}
}

func (c *Client) tokenEndpoint() string {
	return fmt.Sprintf("%s/realms/%s/protocol/openid-connect/token", c.baseURL, c.realm)
}

func (c *Client) adminBaseURL() string {
	return fmt.Sprintf("%s/admin/realms/%s", c.baseURL, c.realm)
}

// getToken возвращает актуальный access token, обновляя при необходимости.
func (c *Client) getToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.accessToken != "" && time.Now().Add(30*time.Second).Before(c.tokenExpiry) {
		return c.accessToken, nil
	}

	token, err := c.requestToken(ctx)
	if err != nil {
		return "", err
	}

	c.accessToken = token.AccessToken
	c.tokenExpiry = time.Now().Add(time.Duration(token.ExpiresIn) * time.Second)

	c.logger.Debug("Keycloak токен обновлён",
		slog.Time("expires_at", c.tokenExpiry),
	)

	return c.accessToken, nil
}

// requestToken выполняет Client Credentials flow.
func (c *Client) requestToken(ctx context.Context) (*TokenResponse, error) {
	data := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {c.clientID},
		"client_secret": {c.clientSecret},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenEndpoint(), strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("создание запроса токена: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("запрос токена Keycloak: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("Keycloak вернул статус %d при запросе токена: %s", resp.StatusCode, string(body))
	}

	var token TokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return nil, fmt.Errorf("декодирование токена Keycloak: %w", err)
	}

	return &token, nil
}

// doAuthorized выполняет GET-запрос к Admin REST API с авторизацией.
func (c *Client) doAuthorized(ctx context.Context, path string) (*http.Response, error) {
	token, err := c.getToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("получение токена: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.adminBaseURL()+path, nil)
	if err != nil {
		return nil, fmt.Errorf("создание запроса: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	return c.httpClient.Do(req)
}

// decodeResponse декодирует JSON ответ в target.
func decodeResponse(resp *http.Response, target any) error {
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("Keycloak API вернул статус %d: %s", resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		return fmt.Errorf("декодирование ответа Keycloak: %w", err)
	}
	return nil
}

// GetUser возвращает пользователя по Keycloak ID.
// Отсутствующий пользователь — ErrUserNotFound.
func (c *Client) GetUser(ctx context.Context, id string) (*KeycloakUser, error) {
	resp, err := c.doAuthorized(ctx, "/users/"+url.PathEscape(id))
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusNotFound {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %s", ErrUserNotFound, id)
	}

	var user KeycloakUser
	if err := decodeResponse(resp, &user); err != nil {
		return nil, fmt.Errorf("GetUser: %w", err)
	}
	return &user, nil
}

// RealmInfo возвращает информацию о realm.
func (c *Client) RealmInfo(ctx context.Context) (*RealmRepresentation, error) {
	resp, err := c.doAuthorized(ctx, "")
	if err != nil {
		return nil, err
	}

	var realm RealmRepresentation
	if err := decodeResponse(resp, &realm); err != nil {
		return nil, fmt.Errorf("RealmInfo: %w", err)
	}
	return &realm, nil
}

// CheckReady проверяет доступность Keycloak через realm info.
// Реализует handlers.ReadinessChecker.
func (c *Client) CheckReady() (string, string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	realm, err := c.RealmInfo(ctx)
	if err != nil {
		return "fail", fmt.Sprintf("Keycloak недоступен: %v", err)
	}
	if !realm.Enabled {
		return "degraded", fmt.Sprintf("Realm %s отключён", realm.Realm)
	}
	return "ok", fmt.Sprintf("Realm %s доступен", realm.Realm)
}
