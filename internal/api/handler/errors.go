package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/prettydl/prettydl/internal/api/response"
	"github.com/prettydl/prettydl/internal/api/validation"
	"github.com/prettydl/prettydl/internal/auth"
	"github.com/prettydl/prettydl/internal/download"
	"github.com/prettydl/prettydl/internal/invite"
	"github.com/prettydl/prettydl/internal/passkey"
	"github.com/prettydl/prettydl/internal/quota"
	"github.com/prettydl/prettydl/internal/token"
	"github.com/prettydl/prettydl/internal/user"
)

const maxBodyBytes = 1 << 20

type errorMapping struct {
	target error
	status int
	code   string
}

// errorTable maps domain errors to HTTP responses. Order matters where one
// sentinel wraps another.
var errorTable = []errorMapping{
	{user.ErrUserNotFound, http.StatusNotFound, "NOT_FOUND"},
	{user.ErrDuplicateUsername, http.StatusConflict, "DUPLICATE_USERNAME"},
	{user.ErrSelfAction, http.StatusBadRequest, "SELF_ACTION"},
	{user.ErrLastAdmin, http.StatusConflict, "LAST_ADMIN"},
	{user.ErrInvalidCredentials, http.StatusUnauthorized, "INVALID_CREDENTIALS"},
	{user.ErrAccountSuspended, http.StatusForbidden, "ACCOUNT_SUSPENDED"},
	{user.ErrAccountPendingApproval, http.StatusForbidden, "ACCOUNT_PENDING_APPROVAL"},
	{user.ErrNotPending, http.StatusConflict, "NOT_PENDING"},

	{token.ErrExpired, http.StatusUnauthorized, "TOKEN_EXPIRED"},
	{auth.ErrInvalidToken, http.StatusUnauthorized, "INVALID_TOKEN"},
	{token.ErrInvalid, http.StatusUnauthorized, "INVALID_TOKEN"},
	{token.ErrNotFound, http.StatusUnauthorized, "INVALID_TOKEN"},

	{invite.ErrInvalid, http.StatusBadRequest, "INVALID_INVITE"},

	{passkey.ErrCredentialNotFound, http.StatusNotFound, "PASSKEY_NOT_FOUND"},
	{passkey.ErrNoCredentials, http.StatusNotFound, "NO_PASSKEYS"},
	{passkey.ErrDuplicateCredential, http.StatusConflict, "DUPLICATE_PASSKEY"},
	{passkey.ErrChallengeMissing, http.StatusBadRequest, "CHALLENGE_MISSING"},
	{passkey.ErrPossibleClone, http.StatusUnauthorized, "PASSKEY_CLONE_SUSPECTED"},
	{passkey.ErrVerification, http.StatusUnauthorized, "PASSKEY_VERIFICATION_FAILED"},

	{download.ErrInvalidRequest, http.StatusBadRequest, "VALIDATION_ERROR"},
	{download.ErrDisabled, http.StatusServiceUnavailable, "DOWNLOADS_DISABLED"},
}

// writeError maps err onto the response envelope. Errors outside the table
// are logged and reported as INTERNAL_ERROR with fallback as the message.
func writeError(w http.ResponseWriter, err error, fallback, requestID string) {
	var exceeded *quota.ExceededError
	if errors.As(err, &exceeded) {
		response.ErrWithDetails(w, http.StatusForbidden, "QUOTA_EXCEEDED", exceeded.Error(), map[string]any{
			"period": exceeded.Period,
			"limit":  exceeded.Limit,
			"used":   exceeded.Used,
		}, requestID)
		return
	}

	for _, m := range errorTable {
		if errors.Is(err, m.target) {
			if m.status == http.StatusUnauthorized {
				response.Unauthorized(w, m.code, m.target.Error(), requestID)
				return
			}
			response.Err(w, m.status, m.code, messageFor(err, m.target), requestID)
			return
		}
	}

	slog.Error(fallback, "error", err)
	response.Err(w, http.StatusInternalServerError, "INTERNAL_ERROR", fallback, requestID)
}

// messageFor keeps the reason behind invite and download refusals.
// Everything else uses the sentinel text so internal context never leaks.
func messageFor(err, target error) string {
	switch target {
	case invite.ErrInvalid:
		for _, reason := range []error{invite.ErrNotFound, invite.ErrExpired, invite.ErrExhausted} {
			if errors.Is(err, reason) {
				return reason.Error()
			}
		}
	case download.ErrInvalidRequest:
		return err.Error()
	}
	return target.Error()
}

// decodeJSON reads a size-limited JSON body into dst. It writes the error
// response itself and returns false on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any, requestID string) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		response.Err(w, http.StatusBadRequest, "INVALID_JSON", "Request body must be valid JSON", requestID)
		return false
	}
	return true
}

func writeValidation(w http.ResponseWriter, errs []validation.FieldError, requestID string) bool {
	if len(errs) == 0 {
		return false
	}
	response.ErrWithDetails(w, http.StatusBadRequest, "VALIDATION_ERROR", "Input validation failed", errs, requestID)
	return true
}
