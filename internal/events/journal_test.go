package events_test

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prettydl/prettydl/internal/events"
	"github.com/prettydl/prettydl/internal/store"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// runJournal starts the writer and returns a function that stops it and
// waits for the final flush.
func runJournal(j *events.Journal) func() {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		j.Run(ctx)
	}()
	return func() {
		cancel()
		<-done
	}
}

func newBackend(t *testing.T) store.Backend {
	t.Helper()
	b, err := store.NewFileBackend(t.TempDir())
	require.NoError(t, err)
	return b
}

func TestJournal_PersistsEventsNewestFirst(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	j := events.NewJournal(newBackend(t), 7*24*time.Hour, events.WithJournalClock(clock.Now))
	stop := runJournal(j)

	ctx := context.Background()
	j.Record(ctx, "root", events.TypeLogin, nil)
	clock.Advance(time.Minute)
	j.Record(ctx, "alice", events.TypeDownload, map[string]any{"name": "ubuntu.iso"})
	stop()

	got, err := j.List(ctx, events.Filter{})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, events.TypeDownload, got[0].Type)
	assert.Equal(t, "alice", got[0].Username)
	assert.Equal(t, "ubuntu.iso", got[0].Details["name"])
	assert.Equal(t, events.TypeLogin, got[1].Type)
	assert.NotNil(t, got[1].Details)
}

func TestJournal_Filter(t *testing.T) {
	j := events.NewJournal(newBackend(t), time.Hour)
	stop := runJournal(j)

	ctx := context.Background()
	j.Record(ctx, "alice", events.TypeLogin, nil)
	j.Record(ctx, "bob", events.TypeLogin, nil)
	j.Record(ctx, "alice", events.TypeDownload, nil)
	j.Record(ctx, "alice", events.TypeLogin, nil)
	stop()

	byUser, err := j.List(ctx, events.Filter{Username: "alice"})
	require.NoError(t, err)
	assert.Len(t, byUser, 3)

	byType, err := j.List(ctx, events.Filter{Type: events.TypeLogin})
	require.NoError(t, err)
	assert.Len(t, byType, 3)

	limited, err := j.List(ctx, events.Filter{Username: "alice", Type: events.TypeLogin, Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestJournal_RetentionPurge(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)}
	backend := newBackend(t)
	j := events.NewJournal(backend, 7*24*time.Hour, events.WithJournalClock(clock.Now))

	ctx := context.Background()
	stop := runJournal(j)
	j.Record(ctx, "old", events.TypeLogin, nil)
	stop()

	clock.Advance(8 * 24 * time.Hour)

	got, err := j.List(ctx, events.Filter{})
	require.NoError(t, err)
	assert.Empty(t, got, "expired events are hidden before the next write")

	stop = runJournal(j)
	j.Record(ctx, "new", events.TypeLogin, nil)
	stop()

	raw, err := store.NewCollection[events.Event](backend, "events").Load(ctx)
	require.NoError(t, err)
	require.Len(t, raw, 1, "expired events are purged on write")
	assert.Equal(t, "new", raw[0].Username)
}

func TestJournal_FullQueueDropsWithoutBlocking(t *testing.T) {
	j := events.NewJournal(newBackend(t), time.Hour, events.WithQueueSize(1))
	ctx := context.Background()

	done := make(chan struct{})
	go func() {
		defer close(done)
		j.Record(ctx, "a", events.TypeLogin, nil)
		j.Record(ctx, "b", events.TypeLogin, nil)
		j.Record(ctx, "c", events.TypeLogin, nil)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Record blocked on a full queue")
	}

	runJournal(j)()

	got, err := j.List(ctx, events.Filter{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].Username)
}

func TestJournal_ListSurfacesCorruptStore(t *testing.T) {
	backend := newBackend(t)
	require.NoError(t, backend.Update(context.Background(), "events", func([]byte, bool) ([]byte, error) {
		return []byte("not json"), nil
	}))

	j := events.NewJournal(backend, time.Hour)
	_, err := j.List(context.Background(), events.Filter{})
	assert.ErrorIs(t, err, store.ErrCorrupt)
}

type captureRecorder struct {
	mu     sync.Mutex
	events []string
}

func (c *captureRecorder) Record(_ context.Context, username, eventType string, _ map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, username+":"+eventType)
}

func TestMulti_FansOut(t *testing.T) {
	a, b := &captureRecorder{}, &captureRecorder{}
	rec := events.Multi(a, events.Nop{}, b)

	rec.Record(context.Background(), "root", events.TypeUserCreated, nil)

	assert.Equal(t, []string{"root:user_created"}, a.events)
	assert.Equal(t, []string{"root:user_created"}, b.events)
}

func TestLogger_WritesStructuredLine(t *testing.T) {
	var buf bytes.Buffer
	rec := events.NewLogger(slog.New(slog.NewJSONHandler(&buf, nil)))

	rec.Record(context.Background(), "root", events.TypeInviteCreated, map[string]any{"code": "abc"})

	out := buf.String()
	assert.Contains(t, out, `"type":"invite_created"`)
	assert.Contains(t, out, `"username":"root"`)
	assert.Contains(t, out, `"code":"abc"`)
}
