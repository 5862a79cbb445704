// openapi.go — валидация входящих запросов по встроенному OpenAPI контракту.
// Проверяются параметры пути и query, Content-Type и схема тела.
package middleware

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers"
	"github.com/getkin/kin-openapi/routers/legacy"

	apierrors "github.com/bigkaa/goartstore/custody-module/internal/api/errors"
)

// OpenAPIValidator — middleware валидации запросов.
type OpenAPIValidator struct {
	router routers.Router
	logger *slog.Logger
}

// NewOpenAPIValidator создаёт валидатор по разобранному контракту.
func NewOpenAPIValidator(doc *openapi3.T, logger *slog.Logger) (*OpenAPIValidator, error) {
	router, err := legacy.NewRouter(doc)
	if err != nil {
		return nil, fmt.Errorf("создание OpenAPI router: %w", err)
	}
	return &OpenAPIValidator{
		router: router,
		logger: logger.With(slog.String("component", "openapi_validator")),
	}, nil
}

// Middleware возвращает HTTP middleware. Маршруты, отсутствующие в контракте,
// пропускаются дальше: 404/405 формирует chi.
func (v *OpenAPIValidator) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			route, pathParams, err := v.router.FindRoute(r)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}

			input := &openapi3filter.RequestValidationInput{
				Request:    r,
				PathParams: pathParams,
				Route:      route,
				Options: &openapi3filter.Options{
					AuthenticationFunc: openapi3filter.NoopAuthenticationFunc,
				},
			}
			if err := openapi3filter.ValidateRequest(r.Context(), input); err != nil {
				v.logger.Debug("Запрос не прошёл валидацию OpenAPI",
					slog.String("path", r.URL.Path),
					slog.String("error", err.Error()),
				)
				apierrors.ValidationError(w, validationMessage(err))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// validationMessage формирует краткое сообщение без дампа схемы.
func validationMessage(err error) string {
	var reqErr *openapi3filter.RequestError
	if errors.As(err, &reqErr) {
		if reqErr.Parameter != nil {
			return fmt.Sprintf("Некорректный параметр %s: %s", reqErr.Parameter.Name, shortReason(reqErr))
		}
		if reqErr.RequestBody != nil {
			return "Некорректное тело запроса: " + shortReason(reqErr)
		}
		return reqErr.Error()
	}
	return err.Error()
}

func shortReason(reqErr *openapi3filter.RequestError) string {
	var schemaErr *openapi3.SchemaError
	if errors.As(reqErr.Err, &schemaErr) {
		return schemaErr.Reason
	}
	if reqErr.Reason != "" {
		return reqErr.Reason
	}
	if reqErr.Err != nil {
		return reqErr.Err.Error()
	}
	return "ошибка валидации"
}
