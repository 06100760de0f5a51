package handler

import (
	"log/slog"
	"net/http"
	"sync"

	"sigs.k8s.io/yaml"

	"github.com/prettydl/prettydl/internal/api/middleware"
	"github.com/prettydl/prettydl/internal/api/response"
)

// OpenAPIHandler serves the API description, authored in YAML, as JSON.
type OpenAPIHandler struct {
	document func() ([]byte, error)
}

// NewOpenAPIHandler creates a handler for the given YAML document. The JSON
// form is built on first request and reused.
func NewOpenAPIHandler(yamlSpec []byte) *OpenAPIHandler {
	return &OpenAPIHandler{
		document: sync.OnceValues(func() ([]byte, error) {
			return yaml.YAMLToJSON(yamlSpec)
		}),
	}
}

// ServeHTTP writes the JSON document.
func (h *OpenAPIHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	doc, err := h.document()
	if err != nil {
		slog.Error("failed to render OpenAPI document", "error", err)
		response.Err(w, http.StatusInternalServerError, "INTERNAL_ERROR", "OpenAPI document is unavailable",
			middleware.GetRequestID(r.Context()))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "public, max-age=300")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(doc); err != nil {
		slog.Error("failed to write OpenAPI document", "error", err)
	}
}
