package response_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prettydl/prettydl/internal/api/response"
)

func TestNewMeta_GeneratesUUID(t *testing.T) {
	meta := response.NewMeta("")

	_, err := uuid.Parse(meta.RequestID)
	assert.NoError(t, err, "requestId should be a valid UUID")
}

func TestNewMeta_TimestampIsRFC3339(t *testing.T) {
	meta := response.NewMeta("req-1")

	assert.Equal(t, "req-1", meta.RequestID)
	parsed, err := time.Parse(time.RFC3339, meta.Timestamp)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), parsed, 2*time.Second)
}

func TestSuccessList_CountsItems(t *testing.T) {
	w := httptest.NewRecorder()

	response.SuccessList(w, http.StatusOK, []string{"a", "b", "c"}, "req-2")

	var body struct {
		Data  []string `json:"data"`
		Error any      `json:"error"`
		Meta  struct {
			RequestID string `json:"requestId"`
			Total     int    `json:"total"`
		} `json:"meta"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, []string{"a", "b", "c"}, body.Data)
	assert.Nil(t, body.Error)
	assert.Equal(t, 3, body.Meta.Total)
	assert.Equal(t, "req-2", body.Meta.RequestID)
}

func TestSuccessList_NilIsEmptyArray(t *testing.T) {
	w := httptest.NewRecorder()

	var items []int
	response.SuccessList(w, http.StatusOK, items, "")

	assert.Contains(t, w.Body.String(), `"data":[]`)
}

func TestErrWithDetails(t *testing.T) {
	w := httptest.NewRecorder()

	response.ErrWithDetails(w, http.StatusTooManyRequests, "QUOTA_EXCEEDED", "daily quota exceeded",
		map[string]any{"period": "daily"}, "req-3")

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var env map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	assert.Nil(t, env["data"])
	errObj := env["error"].(map[string]any)
	assert.Equal(t, "QUOTA_EXCEEDED", errObj["code"])
	assert.Equal(t, "daily", errObj["details"].(map[string]any)["period"])
}

func TestUnauthorized_SetsChallengeHeader(t *testing.T) {
	w := httptest.NewRecorder()

	response.Unauthorized(w, "UNAUTHORIZED", "Authentication required", "req-4")

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, `Bearer realm="prettydl"`, w.Header().Get("WWW-Authenticate"))
}
