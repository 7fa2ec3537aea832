package openapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	doc, err := Load(context.Background())
	require.NoError(t, err)

	for _, path := range []string{
		"/api/v1/auth/signup",
		"/api/v1/files",
		"/api/v1/files/{filename}/download",
		"/api/v1/trash/{filename}/restore",
		"/api/v1/maintenance/reconcile",
	} {
		assert.NotNil(t, doc.Paths.Find(path), path)
	}
}

func TestHandler(t *testing.T) {
	doc, err := Load(context.Background())
	require.NoError(t, err)
	h, err := NewHandler(doc)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/openapi.json", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "3.0.3", body["openapi"])
}
