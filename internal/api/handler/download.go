package handler

import (
	"net/http"
	"strings"

	"github.com/prettydl/prettydl/internal/api/middleware"
	"github.com/prettydl/prettydl/internal/api/response"
	"github.com/prettydl/prettydl/internal/download"
)

type downloadResponse struct {
	Name   string `json:"name"`
	Source string `json:"source"`
	Status string `json:"status"`
}

// DownloadHandler handles download requests.
type DownloadHandler struct {
	downloads *download.Service
}

// NewDownloadHandler creates a new DownloadHandler.
func NewDownloadHandler(downloads *download.Service) *DownloadHandler {
	return &DownloadHandler{downloads: downloads}
}

// Create handles POST /api/download. A refused quota answers 403 with the
// exhausted period in the error details.
func (h *DownloadHandler) Create(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	caller := middleware.GetIdentity(r.Context())

	var req download.Request
	if !decodeJSON(w, r, &req, requestID) {
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	req.Hash = strings.TrimSpace(req.Hash)
	req.URL = strings.TrimSpace(req.URL)

	if err := h.downloads.Download(r.Context(), *caller, req); err != nil {
		writeError(w, err, "Failed to start download", requestID)
		return
	}

	response.Success(w, http.StatusAccepted, downloadResponse{
		Name:   req.Name,
		Source: req.Source(),
		Status: "started",
	}, requestID)
}
