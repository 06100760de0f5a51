package user

import (
	"time"

	"github.com/prettydl/prettydl/internal/quota"
)

// User is a stored account record.
type User struct {
	Username        string    `json:"username"`
	PasswordHash    string    `json:"password"`
	IsAdmin         bool      `json:"is_admin"`
	Suspended       bool      `json:"suspended"`
	PendingApproval bool      `json:"pending_approval"`
	Quotas          quota.Set `json:"quotas"`
	CreatedAt       time.Time `json:"created_at"`
}

// ActiveAdmin reports whether the user currently holds usable admin rights.
func (u *User) ActiveAdmin() bool {
	return u.IsAdmin && !u.Suspended && !u.PendingApproval
}

// StatusErr returns the error explaining why the account cannot log in, or
// nil if it can.
func (u *User) StatusErr() error {
	switch {
	case u.Suspended:
		return ErrAccountSuspended
	case u.PendingApproval:
		return ErrAccountPendingApproval
	default:
		return nil
	}
}

// NewUser holds the input for creating an account.
type NewUser struct {
	Username        string
	Password        string
	IsAdmin         bool
	PendingApproval bool
	Limits          quota.Limits
}
