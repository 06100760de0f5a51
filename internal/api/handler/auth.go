package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/prettydl/prettydl/internal/api/middleware"
	"github.com/prettydl/prettydl/internal/api/response"
	"github.com/prettydl/prettydl/internal/api/validation"
	"github.com/prettydl/prettydl/internal/auth"
)

type loginRequest struct {
	Username   string `json:"username"`
	Password   string `json:"password"`
	RememberMe bool   `json:"remember_me"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type registerRequest struct {
	Username   string `json:"username"`
	Password   string `json:"password"`
	InviteCode string `json:"invite_code"`
}

type refreshResponse struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
	Username    string    `json:"username"`
	IsAdmin     bool      `json:"is_admin"`
}

type statusResponse struct {
	Authenticated bool   `json:"authenticated"`
	Username      string `json:"username"`
	IsAdmin       bool   `json:"is_admin"`
}

// AuthHandler handles login, session and registration endpoints.
type AuthHandler struct {
	authService *auth.Service
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(authService *auth.Service) *AuthHandler {
	return &AuthHandler{authService: authService}
}

// Login handles POST /api/login.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	var req loginRequest
	if !decodeJSON(w, r, &req, requestID) {
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if writeValidation(w, validation.ValidateLoginRequest(validation.CredentialsRequest{
		Username: req.Username,
		Password: req.Password,
	}), requestID) {
		return
	}

	session, err := h.authService.Login(r.Context(), req.Username, req.Password, req.RememberMe)
	if err != nil {
		writeError(w, err, "Failed to log in", requestID)
		return
	}

	response.Success(w, http.StatusOK, session, requestID)
}

// Refresh handles POST /api/auth/refresh.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	var req refreshRequest
	if !decodeJSON(w, r, &req, requestID) {
		return
	}
	if req.RefreshToken == "" {
		writeValidation(w, []validation.FieldError{{Field: "refresh_token", Message: "refresh_token is required"}}, requestID)
		return
	}

	access, err := h.authService.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		writeError(w, err, "Failed to refresh session", requestID)
		return
	}

	response.Success(w, http.StatusOK, refreshResponse{
		AccessToken: access.Token,
		ExpiresAt:   access.ExpiresAt,
		Username:    access.Username,
		IsAdmin:     access.IsAdmin,
	}, requestID)
}

// Logout handles POST /api/auth/logout. An unknown refresh token still
// logs out successfully.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	var req refreshRequest
	if !decodeJSON(w, r, &req, requestID) {
		return
	}

	if err := h.authService.Logout(r.Context(), req.RefreshToken); err != nil {
		writeError(w, err, "Failed to log out", requestID)
		return
	}

	response.NoContent(w)
}

// Register handles POST /api/register.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	var req registerRequest
	if !decodeJSON(w, r, &req, requestID) {
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	req.InviteCode = strings.TrimSpace(req.InviteCode)
	if writeValidation(w, validation.ValidateNewAccount(validation.CredentialsRequest{
		Username: req.Username,
		Password: req.Password,
	}), requestID) {
		return
	}

	u, err := h.authService.Register(r.Context(), req.Username, req.Password, req.InviteCode)
	if err != nil {
		writeError(w, err, "Failed to register", requestID)
		return
	}

	response.Success(w, http.StatusCreated, toUserResponse(u), requestID)
}

// Status handles GET /api/auth/status.
func (h *AuthHandler) Status(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	identity := middleware.GetIdentity(r.Context())

	response.Success(w, http.StatusOK, statusResponse{
		Authenticated: true,
		Username:      identity.Username,
		IsAdmin:       identity.IsAdmin,
	}, requestID)
}
