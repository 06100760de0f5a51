package quota

import (
	"errors"
	"fmt"
	"time"
)

// Period identifies one of the rolling usage windows.
type Period string

const (
	Daily   Period = "daily"
	Weekly  Period = "weekly"
	Monthly Period = "monthly"
)

// Periods lists every period in the order limits are checked.
var Periods = []Period{Daily, Weekly, Monthly}

// Length returns how long a period lasts before its counter resets.
func (p Period) Length() time.Duration {
	switch p {
	case Daily:
		return 24 * time.Hour
	case Weekly:
		return 7 * 24 * time.Hour
	case Monthly:
		return 30 * 24 * time.Hour
	default:
		return 0
	}
}

// Quota is the counter for a single period. A zero Limit means unlimited.
type Quota struct {
	Limit   int       `json:"limit"`
	Used    int       `json:"used"`
	ResetAt time.Time `json:"reset_at"`
}

// Set is the per-user block of all three period counters.
type Set struct {
	Daily   Quota `json:"daily"`
	Weekly  Quota `json:"weekly"`
	Monthly Quota `json:"monthly"`
}

// Limits holds the configured limit of each period.
type Limits struct {
	Daily   int `json:"daily"`
	Weekly  int `json:"weekly"`
	Monthly int `json:"monthly"`
}

// NewSet returns a Set with zero usage whose periods all start at now.
func NewSet(l Limits, now time.Time) Set {
	return Set{
		Daily:   Quota{Limit: l.Daily, ResetAt: now},
		Weekly:  Quota{Limit: l.Weekly, ResetAt: now},
		Monthly: Quota{Limit: l.Monthly, ResetAt: now},
	}
}

// Get returns the counter of period p.
func (s *Set) Get(p Period) *Quota {
	switch p {
	case Daily:
		return &s.Daily
	case Weekly:
		return &s.Weekly
	case Monthly:
		return &s.Monthly
	default:
		panic(fmt.Sprintf("quota: unknown period %q", p))
	}
}

// Limits returns the configured limits.
func (s *Set) Limits() Limits {
	return Limits{Daily: s.Daily.Limit, Weekly: s.Weekly.Limit, Monthly: s.Monthly.Limit}
}

// SetLimits replaces the limits and leaves usage untouched.
func (s *Set) SetLimits(l Limits) {
	s.Daily.Limit = l.Daily
	s.Weekly.Limit = l.Weekly
	s.Monthly.Limit = l.Monthly
}

// Reset zeroes every period whose length has fully elapsed since its last
// reset. It reports whether anything changed.
func (s *Set) Reset(now time.Time) bool {
	changed := false
	for _, p := range Periods {
		q := s.Get(p)
		if now.Sub(q.ResetAt) >= p.Length() {
			q.Used = 0
			q.ResetAt = now
			changed = true
		}
	}
	return changed
}

// Exceeded returns the first period, in check order, whose limit is used up.
func (s *Set) Exceeded() (Period, bool) {
	for _, p := range Periods {
		q := s.Get(p)
		if q.Limit > 0 && q.Used >= q.Limit {
			return p, true
		}
	}
	return "", false
}

// Increment counts one use against every period.
func (s *Set) Increment() {
	for _, p := range Periods {
		s.Get(p).Used++
	}
}

// ErrExceeded matches any *ExceededError.
var ErrExceeded = errors.New("quota exceeded")

// ExceededError reports which period refused the request.
type ExceededError struct {
	Period Period
	Limit  int
	Used   int
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("%s quota exceeded (%d/%d)", e.Period, e.Used, e.Limit)
}

// Is makes errors.Is(err, ErrExceeded) true.
func (e *ExceededError) Is(target error) bool {
	return target == ErrExceeded
}
