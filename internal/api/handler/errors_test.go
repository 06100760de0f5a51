package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prettydl/prettydl/internal/auth"
	"github.com/prettydl/prettydl/internal/token"
)

func TestWriteError_TokenFailures(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code string
	}{
		{"expired access token", fmt.Errorf("%w: %w", auth.ErrInvalidToken, token.ErrExpired), "TOKEN_EXPIRED"},
		{"expired refresh token", token.ErrExpired, "TOKEN_EXPIRED"},
		{"invalid access token", fmt.Errorf("%w: %w", auth.ErrInvalidToken, token.ErrInvalid), "INVALID_TOKEN"},
		{"unknown refresh token", token.ErrNotFound, "INVALID_TOKEN"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			writeError(w, tt.err, "failed", "req-1")

			assert.Equal(t, http.StatusUnauthorized, w.Code)
			var env struct {
				Error struct {
					Code string `json:"code"`
				} `json:"error"`
			}
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
			assert.Equal(t, tt.code, env.Error.Code)
		})
	}
}
