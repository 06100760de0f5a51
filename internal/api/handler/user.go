package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/prettydl/prettydl/internal/api/middleware"
	"github.com/prettydl/prettydl/internal/api/response"
	"github.com/prettydl/prettydl/internal/api/validation"
	"github.com/prettydl/prettydl/internal/auth"
	"github.com/prettydl/prettydl/internal/quota"
	"github.com/prettydl/prettydl/internal/settings"
	"github.com/prettydl/prettydl/internal/user"
)

type createUserRequest struct {
	Username     string `json:"username"`
	Password     string `json:"password"`
	IsAdmin      bool   `json:"is_admin"`
	DailyQuota   *int   `json:"daily_quota"`
	WeeklyQuota  *int   `json:"weekly_quota"`
	MonthlyQuota *int   `json:"monthly_quota"`
}

type quotaRequest struct {
	DailyQuota   *int `json:"daily_quota"`
	WeeklyQuota  *int `json:"weekly_quota"`
	MonthlyQuota *int `json:"monthly_quota"`
}

func (q quotaRequest) validation() validation.QuotaRequest {
	return validation.QuotaRequest{Daily: q.DailyQuota, Weekly: q.WeeklyQuota, Monthly: q.MonthlyQuota}
}

// apply overlays the limits present in the request onto base.
func (q quotaRequest) apply(base quota.Limits) quota.Limits {
	if q.DailyQuota != nil {
		base.Daily = *q.DailyQuota
	}
	if q.WeeklyQuota != nil {
		base.Weekly = *q.WeeklyQuota
	}
	if q.MonthlyQuota != nil {
		base.Monthly = *q.MonthlyQuota
	}
	return base
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

type userResponse struct {
	Username        string    `json:"username"`
	IsAdmin         bool      `json:"is_admin"`
	Suspended       bool      `json:"suspended"`
	PendingApproval bool      `json:"pending_approval"`
	Quotas          quota.Set `json:"quotas"`
	CreatedAt       string    `json:"created_at"`
}

type toggleAdminResponse struct {
	Username string `json:"username"`
	IsAdmin  bool   `json:"is_admin"`
}

func toUserResponse(u *user.User) userResponse {
	return userResponse{
		Username:        u.Username,
		IsAdmin:         u.IsAdmin,
		Suspended:       u.Suspended,
		PendingApproval: u.PendingApproval,
		Quotas:          u.Quotas,
		CreatedAt:       u.CreatedAt.Format(time.RFC3339),
	}
}

// UserHandler handles account administration and per-user quota endpoints.
type UserHandler struct {
	authService *auth.Service
	users       *user.Directory
	quotas      *quota.Engine
	settings    settings.Source
}

// NewUserHandler creates a new UserHandler.
func NewUserHandler(authService *auth.Service, users *user.Directory, quotas *quota.Engine, src settings.Source) *UserHandler {
	return &UserHandler{
		authService: authService,
		users:       users,
		quotas:      quotas,
		settings:    src,
	}
}

// List handles GET /api/users.
func (h *UserHandler) List(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	users, err := h.users.List(r.Context())
	if err != nil {
		writeError(w, err, "Failed to list users", requestID)
		return
	}

	items := make([]userResponse, len(users))
	for i := range users {
		items[i] = toUserResponse(&users[i])
	}
	response.SuccessList(w, http.StatusOK, items, requestID)
}

// Create handles POST /api/users. Omitted quotas fall back to the defaults.
func (h *UserHandler) Create(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	admin := middleware.GetIdentity(r.Context())

	var req createUserRequest
	if !decodeJSON(w, r, &req, requestID) {
		return
	}
	req.Username = strings.TrimSpace(req.Username)

	quotas := quotaRequest{DailyQuota: req.DailyQuota, WeeklyQuota: req.WeeklyQuota, MonthlyQuota: req.MonthlyQuota}
	fieldErrors := validation.ValidateNewAccount(validation.CredentialsRequest{Username: req.Username, Password: req.Password})
	fieldErrors = append(fieldErrors, validation.ValidateQuotaRequest(quotas.validation())...)
	if writeValidation(w, fieldErrors, requestID) {
		return
	}

	u, err := h.authService.CreateUser(r.Context(), *admin, user.NewUser{
		Username: req.Username,
		Password: req.Password,
		IsAdmin:  req.IsAdmin,
		Limits:   quotas.apply(h.defaultLimits()),
	})
	if err != nil {
		writeError(w, err, "Failed to create user", requestID)
		return
	}

	response.Success(w, http.StatusCreated, toUserResponse(u), requestID)
}

func (h *UserHandler) defaultLimits() quota.Limits {
	return quota.Limits{
		Daily:   settings.Int(h.settings, settings.KeyDefaultDailyQuota, 0),
		Weekly:  settings.Int(h.settings, settings.KeyDefaultWeeklyQuota, 0),
		Monthly: settings.Int(h.settings, settings.KeyDefaultMonthlyQuota, 0),
	}
}

// Delete handles DELETE /api/users/{username}.
func (h *UserHandler) Delete(w http.ResponseWriter, r *http.Request) {
	h.removeAction(w, r, h.authService.DeleteUser, "Failed to delete user")
}

// Reject handles POST /api/users/{username}/reject.
func (h *UserHandler) Reject(w http.ResponseWriter, r *http.Request) {
	h.removeAction(w, r, h.authService.RejectUser, "Failed to reject user")
}

// Suspend handles POST /api/users/{username}/suspend.
func (h *UserHandler) Suspend(w http.ResponseWriter, r *http.Request) {
	h.statusAction(w, r, h.authService.SuspendUser, "Failed to suspend user")
}

// Unsuspend handles POST /api/users/{username}/unsuspend.
func (h *UserHandler) Unsuspend(w http.ResponseWriter, r *http.Request) {
	h.statusAction(w, r, h.authService.UnsuspendUser, "Failed to unsuspend user")
}

// Approve handles POST /api/users/{username}/approve.
func (h *UserHandler) Approve(w http.ResponseWriter, r *http.Request) {
	h.statusAction(w, r, h.authService.ApproveUser, "Failed to approve user")
}

type userAction func(ctx context.Context, admin auth.Identity, username string) error

func (h *UserHandler) removeAction(w http.ResponseWriter, r *http.Request, action userAction, failure string) {
	requestID := middleware.GetRequestID(r.Context())
	admin := middleware.GetIdentity(r.Context())

	if err := action(r.Context(), *admin, chi.URLParam(r, "username")); err != nil {
		writeError(w, err, failure, requestID)
		return
	}
	response.NoContent(w)
}

// statusAction runs action and responds with the updated account.
func (h *UserHandler) statusAction(w http.ResponseWriter, r *http.Request, action userAction, failure string) {
	requestID := middleware.GetRequestID(r.Context())
	admin := middleware.GetIdentity(r.Context())
	username := chi.URLParam(r, "username")

	if err := action(r.Context(), *admin, username); err != nil {
		writeError(w, err, failure, requestID)
		return
	}

	u, err := h.users.Get(r.Context(), username)
	if err != nil {
		writeError(w, err, failure, requestID)
		return
	}
	response.Success(w, http.StatusOK, toUserResponse(u), requestID)
}

// ToggleAdmin handles POST /api/users/{username}/toggle-admin.
func (h *UserHandler) ToggleAdmin(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	admin := middleware.GetIdentity(r.Context())
	username := chi.URLParam(r, "username")

	isAdmin, err := h.authService.ToggleAdmin(r.Context(), *admin, username)
	if err != nil {
		writeError(w, err, "Failed to toggle admin", requestID)
		return
	}

	response.Success(w, http.StatusOK, toggleAdminResponse{Username: username, IsAdmin: isAdmin}, requestID)
}

// ChangePassword handles POST /api/users/{username}/change-password.
func (h *UserHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	admin := middleware.GetIdentity(r.Context())

	var req changePasswordRequest
	if !decodeJSON(w, r, &req, requestID) {
		return
	}
	if writeValidation(w, validation.ValidatePassword("new_password", req.NewPassword), requestID) {
		return
	}

	if err := h.authService.ResetPassword(r.Context(), *admin, chi.URLParam(r, "username"), req.NewPassword); err != nil {
		writeError(w, err, "Failed to change password", requestID)
		return
	}
	response.NoContent(w)
}

// SelfChangePassword handles POST /api/users/self/change-password.
func (h *UserHandler) SelfChangePassword(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	caller := middleware.GetIdentity(r.Context())

	var req changePasswordRequest
	if !decodeJSON(w, r, &req, requestID) {
		return
	}
	var fieldErrors []validation.FieldError
	if req.CurrentPassword == "" {
		fieldErrors = append(fieldErrors, validation.FieldError{Field: "current_password", Message: "current_password is required"})
	}
	fieldErrors = append(fieldErrors, validation.ValidatePassword("new_password", req.NewPassword)...)
	if writeValidation(w, fieldErrors, requestID) {
		return
	}

	if err := h.authService.ChangeOwnPassword(r.Context(), *caller, req.CurrentPassword, req.NewPassword); err != nil {
		writeError(w, err, "Failed to change password", requestID)
		return
	}
	response.NoContent(w)
}

// SelfQuotas handles GET /api/users/self/quotas.
func (h *UserHandler) SelfQuotas(w http.ResponseWriter, r *http.Request) {
	h.writeQuotas(w, r, middleware.GetIdentity(r.Context()).Username)
}

// GetQuotas handles GET /api/users/{username}/quotas.
func (h *UserHandler) GetQuotas(w http.ResponseWriter, r *http.Request) {
	h.writeQuotas(w, r, chi.URLParam(r, "username"))
}

func (h *UserHandler) writeQuotas(w http.ResponseWriter, r *http.Request, username string) {
	requestID := middleware.GetRequestID(r.Context())

	set, err := h.quotas.CheckAndReset(r.Context(), username)
	if err != nil {
		writeError(w, err, "Failed to load quotas", requestID)
		return
	}
	response.Success(w, http.StatusOK, set, requestID)
}

// SetQuotas handles POST /api/users/{username}/quotas. Omitted limits are
// left unchanged.
func (h *UserHandler) SetQuotas(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	username := chi.URLParam(r, "username")

	var req quotaRequest
	if !decodeJSON(w, r, &req, requestID) {
		return
	}
	if writeValidation(w, validation.ValidateQuotaRequest(req.validation()), requestID) {
		return
	}

	current, err := h.quotas.CheckAndReset(r.Context(), username)
	if err != nil {
		writeError(w, err, "Failed to update quotas", requestID)
		return
	}

	set, err := h.quotas.SetLimits(r.Context(), username, req.apply(current.Limits()))
	if err != nil {
		writeError(w, err, "Failed to update quotas", requestID)
		return
	}
	response.Success(w, http.StatusOK, set, requestID)
}
