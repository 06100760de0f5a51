package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/prettydl/prettydl/internal/api/middleware"
	"github.com/prettydl/prettydl/internal/api/response"
	"github.com/prettydl/prettydl/internal/api/validation"
	"github.com/prettydl/prettydl/internal/events"
)

const (
	defaultLogLimit = 100
	maxLogLimit     = 1000
)

// EventLister reads back retained audit events.
type EventLister interface {
	List(ctx context.Context, filter events.Filter) ([]events.Event, error)
}

type logStats struct {
	Total           int `json:"total"`
	Downloads       int `json:"downloads"`
	FailedDownloads int `json:"failed_downloads"`
	Logins          int `json:"logins"`
	FailedLogins    int `json:"failed_logins"`
	UsersCreated    int `json:"user_created"`
	UsersDeleted    int `json:"user_deleted"`
	QuotaExceeded   int `json:"quota_exceeded"`
}

type logsResponse struct {
	Logs  []events.Event `json:"logs"`
	Stats logStats       `json:"stats"`
}

func summarize(evts []events.Event) logStats {
	stats := logStats{Total: len(evts)}
	for _, e := range evts {
		switch e.Type {
		case events.TypeDownload:
			stats.Downloads++
		case events.TypeDownloadFailed:
			stats.FailedDownloads++
		case events.TypeLogin, events.TypePasskeyLogin:
			stats.Logins++
		case events.TypeLoginFailed:
			stats.FailedLogins++
		case events.TypeUserCreated, events.TypeRegistered:
			stats.UsersCreated++
		case events.TypeUserDeleted, events.TypeUserRejected:
			stats.UsersDeleted++
		case events.TypeQuotaExceeded:
			stats.QuotaExceeded++
		}
	}
	return stats
}

// LogsHandler serves the audit log to admins.
type LogsHandler struct {
	events EventLister
}

// NewLogsHandler creates a new LogsHandler.
func NewLogsHandler(lister EventLister) *LogsHandler {
	return &LogsHandler{events: lister}
}

// List handles GET /api/logs with optional type, username and limit query
// parameters. Stats are computed over the returned page.
func (h *LogsHandler) List(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	q := r.URL.Query()

	limit := defaultLogLimit
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxLogLimit {
			writeValidation(w, []validation.FieldError{{Field: "limit", Message: "limit must be an integer between 1 and 1000"}}, requestID)
			return
		}
		limit = n
	}

	evts, err := h.events.List(r.Context(), events.Filter{
		Username: q.Get("username"),
		Type:     q.Get("type"),
		Limit:    limit,
	})
	if err != nil {
		writeError(w, err, "Failed to load logs", requestID)
		return
	}
	if evts == nil {
		evts = []events.Event{}
	}

	response.Success(w, http.StatusOK, logsResponse{Logs: evts, Stats: summarize(evts)}, requestID)
}
