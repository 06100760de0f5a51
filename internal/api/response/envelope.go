// Package response writes the JSON envelope shared by every endpoint:
// {"data": ..., "error": ..., "meta": {"requestId", "timestamp"}}.
package response

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// Meta holds metadata for every API response.
type Meta struct {
	RequestID string `json:"requestId"`
	Timestamp string `json:"timestamp"`
}

// ListMeta adds the number of returned items.
type ListMeta struct {
	Meta
	Total int `json:"total"`
}

// Error represents a structured API error.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// Envelope is the response wrapper. M is Meta or ListMeta.
type Envelope[M any] struct {
	Data  any    `json:"data"`
	Error *Error `json:"error"`
	Meta  M      `json:"meta"`
}

// NewMeta stamps a response with requestID, or a fresh UUID if it is empty.
func NewMeta(requestID string) Meta {
	if requestID == "" {
		requestID = uuid.NewString()
	}
	return Meta{
		RequestID: requestID,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

func write(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("failed to encode response", "status", status, "error", err)
	}
}

// Success writes data with the given status.
func Success(w http.ResponseWriter, status int, data any, requestID string) {
	write(w, status, Envelope[Meta]{Data: data, Meta: NewMeta(requestID)})
}

// SuccessList writes items and their count. A nil slice is written as [].
func SuccessList[T any](w http.ResponseWriter, status int, items []T, requestID string) {
	if items == nil {
		items = []T{}
	}
	write(w, status, Envelope[ListMeta]{
		Data: items,
		Meta: ListMeta{Meta: NewMeta(requestID), Total: len(items)},
	})
}

// NoContent writes a 204 No Content response.
func NoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// Err writes an error response.
func Err(w http.ResponseWriter, status int, code, message, requestID string) {
	ErrWithDetails(w, status, code, message, nil, requestID)
}

// ErrWithDetails writes an error response carrying details, such as the
// failing fields of a validation error.
func ErrWithDetails(w http.ResponseWriter, status int, code, message string, details any, requestID string) {
	write(w, status, Envelope[Meta]{
		Error: &Error{Code: code, Message: message, Details: details},
		Meta:  NewMeta(requestID),
	})
}

// Unauthorized writes a 401 and advertises the bearer scheme.
func Unauthorized(w http.ResponseWriter, code, message, requestID string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="prettydl"`)
	Err(w, http.StatusUnauthorized, code, message, requestID)
}
