package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/prettydl/prettydl/internal/api/middleware"
	"github.com/prettydl/prettydl/internal/api/response"
	"github.com/prettydl/prettydl/internal/api/validation"
	"github.com/prettydl/prettydl/internal/auth"
	"github.com/prettydl/prettydl/internal/passkey"
)

const defaultPasskeyName = "My Passkey"

type registerVerifyRequest struct {
	SessionID  string          `json:"session_id"`
	Credential json.RawMessage `json:"credential"`
	Name       string          `json:"name"`
}

type authOptionsRequest struct {
	Username   string `json:"username"`
	RememberMe bool   `json:"remember_me"`
}

type authVerifyRequest struct {
	SessionID  string          `json:"session_id"`
	Credential json.RawMessage `json:"credential"`
}

type passkeyResponse struct {
	CredentialID string  `json:"credential_id"`
	Name         string  `json:"name"`
	CreatedAt    string  `json:"created_at"`
	LastUsed     *string `json:"last_used"`
}

func toPasskeyResponse(c *passkey.Credential) passkeyResponse {
	resp := passkeyResponse{
		CredentialID: c.CredentialID,
		Name:         c.Name,
		CreatedAt:    c.CreatedAt.Format(time.RFC3339),
	}
	if !c.LastUsedAt.IsZero() {
		lastUsed := c.LastUsedAt.Format(time.RFC3339)
		resp.LastUsed = &lastUsed
	}
	return resp
}

// PasskeyHandler handles passkey registration, login and management.
type PasskeyHandler struct {
	passkeys *passkey.Service
}

// NewPasskeyHandler creates a new PasskeyHandler.
func NewPasskeyHandler(passkeys *passkey.Service) *PasskeyHandler {
	return &PasskeyHandler{passkeys: passkeys}
}

// List handles GET /api/passkeys.
func (h *PasskeyHandler) List(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	caller := middleware.GetIdentity(r.Context())

	creds, err := h.passkeys.ListCredentials(r.Context(), caller.Username)
	if err != nil {
		writeError(w, err, "Failed to list passkeys", requestID)
		return
	}

	items := make([]passkeyResponse, len(creds))
	for i := range creds {
		items[i] = toPasskeyResponse(&creds[i])
	}
	response.SuccessList(w, http.StatusOK, items, requestID)
}

// RegisterOptions handles POST /api/passkeys/register/options.
func (h *PasskeyHandler) RegisterOptions(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	caller := middleware.GetIdentity(r.Context())

	ceremony, err := h.passkeys.BeginRegistration(r.Context(), caller.Username)
	if err != nil {
		writeError(w, err, "Failed to start passkey registration", requestID)
		return
	}
	response.Success(w, http.StatusOK, ceremony, requestID)
}

// RegisterVerify handles POST /api/passkeys/register/verify.
func (h *PasskeyHandler) RegisterVerify(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	caller := middleware.GetIdentity(r.Context())

	var req registerVerifyRequest
	if !decodeJSON(w, r, &req, requestID) {
		return
	}
	if req.SessionID == "" {
		writeValidation(w, []validation.FieldError{{Field: "session_id", Message: "session_id is required"}}, requestID)
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = defaultPasskeyName
	}

	cred, err := h.passkeys.FinishRegistration(r.Context(), req.SessionID, caller.Username, req.Credential, name)
	if err != nil {
		writeError(w, err, "Failed to register passkey", requestID)
		return
	}
	response.Success(w, http.StatusCreated, toPasskeyResponse(cred), requestID)
}

// Delete handles DELETE /api/passkeys/{credentialID}.
func (h *PasskeyHandler) Delete(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	caller := middleware.GetIdentity(r.Context())

	if err := h.passkeys.DeleteCredential(r.Context(), caller.Username, chi.URLParam(r, "credentialID")); err != nil {
		writeError(w, err, "Failed to delete passkey", requestID)
		return
	}
	response.NoContent(w)
}

// AuthOptions handles POST /api/passkeys/authenticate/options.
func (h *PasskeyHandler) AuthOptions(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	var req authOptionsRequest
	if !decodeJSON(w, r, &req, requestID) {
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" {
		writeValidation(w, []validation.FieldError{{Field: "username", Message: "username is required"}}, requestID)
		return
	}

	h.beginAuthentication(w, r, req.Username, req.RememberMe)
}

// PasswordlessOptions handles GET /api/passkeys/authenticate/passwordless/options.
// The authenticator picks the account, so no username is sent.
func (h *PasskeyHandler) PasswordlessOptions(w http.ResponseWriter, r *http.Request) {
	rememberMe, _ := strconv.ParseBool(r.URL.Query().Get("remember_me"))
	h.beginAuthentication(w, r, "", rememberMe)
}

func (h *PasskeyHandler) beginAuthentication(w http.ResponseWriter, r *http.Request, username string, rememberMe bool) {
	requestID := middleware.GetRequestID(r.Context())

	ceremony, err := h.passkeys.BeginAuthentication(r.Context(), username, rememberMe)
	if err != nil {
		writeError(w, err, "Failed to start passkey login", requestID)
		return
	}
	response.Success(w, http.StatusOK, ceremony, requestID)
}

// AuthVerify handles POST /api/passkeys/authenticate/verify and opens a
// session exactly like a password login.
func (h *PasskeyHandler) AuthVerify(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	var req authVerifyRequest
	if !decodeJSON(w, r, &req, requestID) {
		return
	}
	if req.SessionID == "" {
		writeValidation(w, []validation.FieldError{{Field: "session_id", Message: "session_id is required"}}, requestID)
		return
	}

	result, err := h.passkeys.FinishAuthentication(r.Context(), req.SessionID, req.Credential)
	if err != nil {
		writeError(w, err, "Failed to verify passkey", requestID)
		return
	}

	response.Success(w, http.StatusOK, auth.Session{
		AccessToken:      result.Tokens.AccessToken,
		RefreshToken:     result.Tokens.RefreshToken,
		ExpiresAt:        result.Tokens.AccessExpiresAt,
		RefreshExpiresAt: result.Tokens.RefreshExpiresAt,
		Username:         result.Username,
		IsAdmin:          result.IsAdmin,
	}, requestID)
}
