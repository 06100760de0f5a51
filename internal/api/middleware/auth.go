package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/prettydl/prettydl/internal/api/response"
	"github.com/prettydl/prettydl/internal/auth"
	"github.com/prettydl/prettydl/internal/token"
)

const identityKey contextKey = "identity"

// Authenticator resolves an access token to the caller.
type Authenticator interface {
	Authenticate(accessToken string) (*auth.Identity, error)
}

// Auth is middleware that reads the bearer token from the Authorization
// header and resolves it to an Identity. Missing or unusable tokens get 401
// with INVALID_TOKEN, or TOKEN_EXPIRED when only the expiry failed.
func Auth(authenticator Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := GetRequestID(r.Context())

			raw, ok := bearerToken(r)
			if !ok {
				response.Unauthorized(w, "UNAUTHORIZED", "Bearer token is required", requestID)
				return
			}

			identity, err := authenticator.Authenticate(raw)
			if errors.Is(err, token.ErrExpired) {
				response.Unauthorized(w, "TOKEN_EXPIRED", "Access token has expired", requestID)
				return
			}
			if err != nil {
				response.Unauthorized(w, "INVALID_TOKEN", "Invalid access token", requestID)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	scheme, tok, found := strings.Cut(h, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	tok = strings.TrimSpace(tok)
	return tok, tok != ""
}

// WithIdentity returns a context carrying identity.
func WithIdentity(ctx context.Context, identity *auth.Identity) context.Context {
	return context.WithValue(ctx, identityKey, identity)
}

// GetIdentity retrieves the authenticated Identity from the request context.
func GetIdentity(ctx context.Context) *auth.Identity {
	if id, ok := ctx.Value(identityKey).(*auth.Identity); ok {
		return id
	}
	return nil
}
