package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/prettydl/prettydl/internal/api/middleware"
	"github.com/prettydl/prettydl/internal/api/response"
	"github.com/prettydl/prettydl/internal/api/validation"
	"github.com/prettydl/prettydl/internal/invite"
	"github.com/prettydl/prettydl/internal/quota"
	"github.com/prettydl/prettydl/internal/settings"
)

type createInviteRequest struct {
	ExpiresInDays *int `json:"expires_in_days"`
	MaxUses       *int `json:"max_uses"`
	IsAdmin       bool `json:"is_admin"`
	quotaRequest
}

type inviteResponse struct {
	Code         string `json:"code"`
	Creator      string `json:"creator"`
	CreatedAt    string `json:"created_at"`
	ExpiresAt    string `json:"expires_at"`
	MaxUses      int    `json:"max_uses"`
	Uses         int    `json:"uses"`
	IsAdmin      bool   `json:"is_admin"`
	DailyQuota   int    `json:"daily_quota"`
	WeeklyQuota  int    `json:"weekly_quota"`
	MonthlyQuota int    `json:"monthly_quota"`
	Remaining    *int   `json:"remaining_uses"`
}

type inviteCheckResponse struct {
	Valid     bool   `json:"valid"`
	ExpiresAt string `json:"expires_at"`
	IsAdmin   bool   `json:"is_admin"`
}

func toInviteResponse(inv *invite.Invite) inviteResponse {
	resp := inviteResponse{
		Code:         inv.Code,
		Creator:      inv.Creator,
		CreatedAt:    inv.CreatedAt.Format(time.RFC3339),
		ExpiresAt:    inv.ExpiresAt.Format(time.RFC3339),
		MaxUses:      inv.MaxUses,
		Uses:         inv.Uses,
		IsAdmin:      inv.IsAdmin,
		DailyQuota:   inv.DailyQuota,
		WeeklyQuota:  inv.WeeklyQuota,
		MonthlyQuota: inv.MonthlyQuota,
	}
	if inv.MaxUses > 0 {
		remaining := inv.MaxUses - inv.Uses
		resp.Remaining = &remaining
	}
	return resp
}

// InviteHandler handles invite administration and the public invite check.
type InviteHandler struct {
	invites  *invite.Service
	settings settings.Source
}

// NewInviteHandler creates a new InviteHandler.
func NewInviteHandler(invites *invite.Service, src settings.Source) *InviteHandler {
	return &InviteHandler{invites: invites, settings: src}
}

// defaults are the grants of an invite that names no quotas.
func (h *InviteHandler) defaults() quota.Limits {
	return quota.Limits{
		Daily:   settings.Int(h.settings, settings.KeyDefaultDailyQuota, 0),
		Weekly:  settings.Int(h.settings, settings.KeyDefaultWeeklyQuota, 0),
		Monthly: settings.Int(h.settings, settings.KeyDefaultMonthlyQuota, 0),
	}
}

// Create handles POST /api/invites.
func (h *InviteHandler) Create(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	admin := middleware.GetIdentity(r.Context())

	var req createInviteRequest
	if !decodeJSON(w, r, &req, requestID) {
		return
	}
	if writeValidation(w, validation.ValidateCreateInviteRequest(validation.CreateInviteRequest{
		ExpiresInDays: req.ExpiresInDays,
		MaxUses:       req.MaxUses,
		Quotas:        req.validation(),
	}), requestID) {
		return
	}

	params := invite.Params{IsAdmin: req.IsAdmin}
	if req.ExpiresInDays != nil {
		params.ExpiresIn = time.Duration(*req.ExpiresInDays) * 24 * time.Hour
	}
	if req.MaxUses != nil {
		// 0 on the wire means unlimited.
		params.MaxUses = *req.MaxUses
		if params.MaxUses == 0 {
			params.MaxUses = -1
		}
	}
	limits := req.apply(h.defaults())
	params.DailyQuota, params.WeeklyQuota, params.MonthlyQuota = limits.Daily, limits.Weekly, limits.Monthly

	inv, err := h.invites.Create(r.Context(), admin.Username, params)
	if err != nil {
		writeError(w, err, "Failed to create invite", requestID)
		return
	}

	response.Success(w, http.StatusCreated, toInviteResponse(inv), requestID)
}

// List handles GET /api/invites. Expired invites are dropped first.
func (h *InviteHandler) List(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	invites, err := h.invites.List(r.Context())
	if err != nil {
		writeError(w, err, "Failed to list invites", requestID)
		return
	}

	items := make([]inviteResponse, len(invites))
	for i := range invites {
		items[i] = toInviteResponse(&invites[i])
	}
	response.SuccessList(w, http.StatusOK, items, requestID)
}

// Delete handles DELETE /api/invites/{code}.
func (h *InviteHandler) Delete(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	admin := middleware.GetIdentity(r.Context())

	if err := h.invites.Delete(r.Context(), chi.URLParam(r, "code"), admin.Username); err != nil {
		if errors.Is(err, invite.ErrNotFound) {
			response.Err(w, http.StatusNotFound, "NOT_FOUND", "Invite not found", requestID)
			return
		}
		writeError(w, err, "Failed to delete invite", requestID)
		return
	}
	response.NoContent(w)
}

// Check handles GET /api/invites/{code}. It lets the registration page
// confirm a code before the user fills in the form.
func (h *InviteHandler) Check(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	inv, err := h.invites.Validate(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		writeError(w, err, "Failed to check invite", requestID)
		return
	}

	response.Success(w, http.StatusOK, inviteCheckResponse{
		Valid:     true,
		ExpiresAt: inv.ExpiresAt.Format(time.RFC3339),
		IsAdmin:   inv.IsAdmin,
	}, requestID)
}
