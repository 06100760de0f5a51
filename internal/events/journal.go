package events

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/prettydl/prettydl/internal/store"
)

const collectionName = "events"

// Journal persists events to the record store from a single background
// writer. Events older than the retention window are purged on every write.
type Journal struct {
	coll      *store.Collection[Event]
	retention time.Duration
	queue     chan Event
	now       func() time.Time
}

// JournalOption configures a Journal.
type JournalOption func(*Journal)

// WithJournalClock overrides the clock used for timestamps and retention.
func WithJournalClock(now func() time.Time) JournalOption {
	return func(j *Journal) { j.now = now }
}

// WithQueueSize sets how many events may wait for the writer before new
// ones are dropped.
func WithQueueSize(n int) JournalOption {
	return func(j *Journal) { j.queue = make(chan Event, n) }
}

// NewJournal creates a Journal. Run must be started for events to be written.
func NewJournal(backend store.Backend, retention time.Duration, opts ...JournalOption) *Journal {
	j := &Journal{
		coll:      store.NewCollection[Event](backend, collectionName),
		retention: retention,
		queue:     make(chan Event, 256),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Record queues an event. When the queue is full the event is dropped and a
// warning is logged.
func (j *Journal) Record(ctx context.Context, username, eventType string, details map[string]any) {
	if details == nil {
		details = map[string]any{}
	}
	ev := Event{
		Timestamp: j.now().UTC(),
		Type:      eventType,
		Username:  username,
		Details:   details,
	}

	select {
	case j.queue <- ev:
	default:
		slog.WarnContext(ctx, "event journal queue full, dropping event", "type", eventType, "username", username)
	}
}

// Run writes queued events until ctx is cancelled, then flushes whatever is
// still queued and returns.
func (j *Journal) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			j.flush(context.WithoutCancel(ctx), j.drain(nil))
			return
		case ev := <-j.queue:
			j.flush(ctx, j.drain([]Event{ev}))
		}
	}
}

func (j *Journal) drain(batch []Event) []Event {
	for {
		select {
		case ev := <-j.queue:
			batch = append(batch, ev)
		default:
			return batch
		}
	}
}

func (j *Journal) flush(ctx context.Context, batch []Event) {
	if len(batch) == 0 {
		return
	}

	cutoff := j.now().Add(-j.retention)
	err := j.coll.Update(ctx, func(existing []Event) ([]Event, error) {
		kept := slices.DeleteFunc(existing, func(e Event) bool {
			return e.Timestamp.Before(cutoff)
		})
		return append(kept, batch...), nil
	})
	if err != nil {
		slog.Error("failed to write audit events", "count", len(batch), "error", err)
	}
}

// Filter narrows List results. Zero values match everything.
type Filter struct {
	Username string
	Type     string
	Limit    int
}

// List returns retained events matching filter, newest first.
func (j *Journal) List(ctx context.Context, filter Filter) ([]Event, error) {
	all, err := j.coll.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading events: %w", err)
	}

	cutoff := j.now().Add(-j.retention)
	out := make([]Event, 0, len(all))
	for i := len(all) - 1; i >= 0; i-- {
		e := all[i]
		if e.Timestamp.Before(cutoff) {
			continue
		}
		if filter.Username != "" && e.Username != filter.Username {
			continue
		}
		if filter.Type != "" && e.Type != filter.Type {
			continue
		}
		out = append(out, e)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}
