// Package events records audit events. Recording is fire-and-forget: a
// Recorder never blocks on storage and never reports failure to the caller.
package events

import (
	"context"
	"log/slog"
	"time"
)

// Event types.
const (
	TypeLogin                 = "login"
	TypeLoginFailed           = "login_failed"
	TypeLogout                = "logout"
	TypeRegistered            = "user_registered"
	TypeUserCreated           = "user_created"
	TypeUserDeleted           = "user_deleted"
	TypeUserSuspended         = "user_suspended"
	TypeUserUnsuspended       = "user_unsuspended"
	TypeUserApproved          = "user_approved"
	TypeUserRejected          = "user_rejected"
	TypeAdminToggled          = "admin_toggled"
	TypePasswordChanged       = "password_changed"
	TypeQuotaUpdated          = "quota_updated"
	TypeQuotaExceeded         = "quota_exceeded"
	TypeInviteCreated         = "invite_created"
	TypeInviteDeleted         = "invite_deleted"
	TypeInviteUsed            = "invite_used"
	TypePasskeyRegistered     = "passkey_registered"
	TypePasskeyDeleted        = "passkey_deleted"
	TypePasskeyLogin          = "passkey_login"
	TypePasskeyCloneSuspected = "passkey_clone_suspected"
	TypeDownload              = "download"
	TypeDownloadFailed        = "download_failed"
)

// Event is a single audit record.
type Event struct {
	Timestamp time.Time      `json:"timestamp"`
	Type      string         `json:"type"`
	Username  string         `json:"username"`
	Details   map[string]any `json:"details"`
}

// Recorder accepts audit events.
type Recorder interface {
	Record(ctx context.Context, username, eventType string, details map[string]any)
}

// Nop discards every event.
type Nop struct{}

// Record implements Recorder.
func (Nop) Record(context.Context, string, string, map[string]any) {}

type multi []Recorder

// Multi fans an event out to every recorder.
func Multi(recorders ...Recorder) Recorder {
	return multi(recorders)
}

func (m multi) Record(ctx context.Context, username, eventType string, details map[string]any) {
	for _, r := range m {
		r.Record(ctx, username, eventType, details)
	}
}

// Logger writes events as structured log lines.
type Logger struct {
	log *slog.Logger
}

// NewLogger returns a Recorder writing to l, or to the default logger when l is nil.
func NewLogger(l *slog.Logger) *Logger {
	if l == nil {
		l = slog.Default()
	}
	return &Logger{log: l}
}

// Record implements Recorder.
func (l *Logger) Record(ctx context.Context, username, eventType string, details map[string]any) {
	l.log.InfoContext(ctx, "audit event", "type", eventType, "username", username, "details", details)
}
