// Пакет openapi — встроенный OpenAPI контракт homedrive.
// Документ загружается и валидируется kin-openapi при старте,
// отдаётся как JSON на GET /api/v1/openapi.json.
package openapi

import (
	"context"
	_ "embed"
	"fmt"
	"net/http"

	"github.com/getkin/kin-openapi/openapi3"
)

//go:embed openapi.yaml
var specYAML []byte

// Load разбирает и валидирует встроенный документ.
func Load(ctx context.Context) (*openapi3.T, error) {
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromData(specYAML)
	if err != nil {
		return nil, fmt.Errorf("ошибка разбора OpenAPI документа: %w", err)
	}
	if err := doc.Validate(ctx); err != nil {
		return nil, fmt.Errorf("OpenAPI документ невалиден: %w", err)
	}
	return doc, nil
}

// Handler отдаёт документ в JSON.
type Handler struct {
	body []byte
}

// NewHandler сериализует документ один раз при создании.
func NewHandler(doc *openapi3.T) (*Handler, error) {
	body, err := doc.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("ошибка сериализации OpenAPI документа: %w", err)
	}
	return &Handler{body: body}, nil
}

// ServeHTTP обрабатывает GET /api/v1/openapi.json.
func (h *Handler) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(h.body)
}
