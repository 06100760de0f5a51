package invite

import (
	"errors"
	"fmt"
	"time"

	"github.com/prettydl/prettydl/internal/quota"
)

// ErrInvalid matches every reason an invite cannot be used.
var ErrInvalid = errors.New("invalid invite")

var (
	ErrNotFound  = fmt.Errorf("%w: invite not found", ErrInvalid)
	ErrExpired   = fmt.Errorf("%w: invite has expired", ErrInvalid)
	ErrExhausted = fmt.Errorf("%w: invite has reached its maximum uses", ErrInvalid)
)

// Invite is a registration code. A zero MaxUses means unlimited.
type Invite struct {
	Code         string    `json:"code"`
	Creator      string    `json:"creator"`
	CreatedAt    time.Time `json:"created_at"`
	ExpiresAt    time.Time `json:"expires_at"`
	MaxUses      int       `json:"max_uses"`
	Uses         int       `json:"uses"`
	IsAdmin      bool      `json:"is_admin"`
	DailyQuota   int       `json:"daily_quota"`
	WeeklyQuota  int       `json:"weekly_quota"`
	MonthlyQuota int       `json:"monthly_quota"`
}

// Limits returns the quota limits granted to accounts created with this
// invite.
func (i *Invite) Limits() quota.Limits {
	return quota.Limits{Daily: i.DailyQuota, Weekly: i.WeeklyQuota, Monthly: i.MonthlyQuota}
}

// check returns why the invite cannot be consumed at now, or nil.
func (i *Invite) check(now time.Time) error {
	if !now.Before(i.ExpiresAt) {
		return ErrExpired
	}
	if i.MaxUses > 0 && i.Uses >= i.MaxUses {
		return ErrExhausted
	}
	return nil
}

// Params configures a new invite. Zero ExpiresIn and MaxUses take the
// defaults of seven days and a single use; a negative MaxUses means
// unlimited.
type Params struct {
	ExpiresIn    time.Duration
	MaxUses      int
	IsAdmin      bool
	DailyQuota   int
	WeeklyQuota  int
	MonthlyQuota int
}
