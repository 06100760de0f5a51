package handler

import (
	"context"
	"log/slog"
	"net/http"
	"sort"

	"github.com/prettydl/prettydl/internal/api/middleware"
	"github.com/prettydl/prettydl/internal/api/response"
)

// Pinger checks that a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler handles the GET /health endpoint.
type HealthHandler struct {
	checks  map[string]Pinger
	version string
}

// NewHealthHandler creates a new HealthHandler. Each named check is pinged
// on every request.
func NewHealthHandler(checks map[string]Pinger, version string) *HealthHandler {
	return &HealthHandler{
		checks:  checks,
		version: version,
	}
}

type dependencyStatus struct {
	Name      string `json:"name"`
	Connected bool   `json:"connected"`
}

type healthData struct {
	Status       string             `json:"status"`
	Version      string             `json:"version"`
	Dependencies []dependencyStatus `json:"dependencies"`
}

// ServeHTTP handles the health check request. An unreachable dependency
// degrades the status but still answers 200.
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	data := healthData{
		Status:       "healthy",
		Version:      h.version,
		Dependencies: make([]dependencyStatus, 0, len(names)),
	}
	for _, name := range names {
		err := h.checks[name].Ping(r.Context())
		if err != nil {
			slog.Warn("health check failed", "dependency", name, "error", err)
			data.Status = "degraded"
		}
		data.Dependencies = append(data.Dependencies, dependencyStatus{Name: name, Connected: err == nil})
	}

	response.Success(w, http.StatusOK, data, requestID)
}
