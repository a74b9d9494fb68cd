package reminders

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HendryAvila/solarcrm/internal/events"
	"github.com/HendryAvila/solarcrm/internal/metrics"
	"github.com/HendryAvila/solarcrm/internal/pipeline"
)

var testNow = time.Date(2026, 3, 7, 9, 0, 0, 0, time.UTC)

func init() {
	timeNow = func() time.Time { return testNow }
}

// memStore is an in-memory reminder table.
type memStore struct {
	mu        sync.Mutex
	rows      map[string]*pipeline.Reminder
	order     []string
	listErr   error
	markErr   error
	cancelled []string
}

func newMemStore(rs ...pipeline.Reminder) *memStore {
	s := &memStore{rows: make(map[string]*pipeline.Reminder)}
	for _, r := range rs {
		_ = s.InsertReminder(context.Background(), r)
	}
	return s
}

func (s *memStore) InsertReminder(_ context.Context, r pipeline.Reminder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.Status == "" {
		r.Status = pipeline.ReminderPending
	}
	s.rows[r.ID] = &r
	s.order = append(s.order, r.ID)
	return nil
}

func (s *memStore) CancelReminder(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelled = append(s.cancelled, id)
	return nil
}

func (s *memStore) DueReminders(_ context.Context, now time.Time, limit int) ([]pipeline.Reminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	var out []pipeline.Reminder
	for _, id := range s.order {
		r := s.rows[id]
		if r.Status == pipeline.ReminderPending && !r.DueAt.After(now) {
			out = append(out, *r)
		}
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *memStore) ClaimReminder(_ context.Context, id string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.markErr != nil {
		return false, s.markErr
	}
	r := s.rows[id]
	if r == nil || r.Status != pipeline.ReminderPending {
		return false, nil
	}
	r.Status = pipeline.ReminderDelivered
	r.DeliveredAt = &at
	return true, nil
}

func (s *memStore) ReleaseReminder(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.rows[id]
	r.Status = pipeline.ReminderPending
	r.DeliveredAt = nil
	return nil
}

// staleStore lists the reminders that were due when it was created, like a
// second process that read the table before the first one delivered.
type staleStore struct {
	*memStore
	listed []pipeline.Reminder
}

func (s *staleStore) DueReminders(context.Context, time.Time, int) ([]pipeline.Reminder, error) {
	return s.listed, nil
}

func (s *memStore) status(id string) pipeline.ReminderStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rows[id].Status
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCheckOnce_DeliversOnlyDueReminders(t *testing.T) {
	store := newMemStore(
		pipeline.Reminder{ID: "due", DealID: "d1", Milestone: pipeline.MilestoneGridRequest, Message: "Netzanfrage nachfassen", DueAt: testNow.Add(-time.Minute)},
		pipeline.Reminder{ID: "later", DealID: "d2", Message: "später", DueAt: testNow.Add(time.Hour)},
	)
	pub := &events.Recorder{}
	d := NewDispatcher(store, pub, nil, time.Second, quietLogger())

	n := d.CheckOnce(context.Background())
	assert.Equal(t, 1, n)
	assert.Equal(t, pipeline.ReminderDelivered, store.status("due"))
	assert.Equal(t, pipeline.ReminderPending, store.status("later"))

	evs := pub.Events()
	require.Len(t, evs, 1)
	assert.Equal(t, pipeline.EventReminderDue, evs[0].Kind)
	assert.Equal(t, "d1", evs[0].DealID)
	assert.Equal(t, "due", evs[0].Attributes["reminder_id"])
	assert.Equal(t, pipeline.MilestoneGridRequest, evs[0].Milestone)
}

func TestCheckOnce_PublishFailureLeavesPending(t *testing.T) {
	store := newMemStore(pipeline.Reminder{ID: "r1", DealID: "d1", Message: "m", DueAt: testNow})
	pub := &events.Recorder{Err: errors.New("broker down")}
	m := metrics.New()
	d := NewDispatcher(store, pub, m, time.Second, quietLogger())

	assert.Equal(t, 0, d.CheckOnce(context.Background()))
	assert.Equal(t, pipeline.ReminderPending, store.status("r1"))
	assert.Equal(t, int64(1), d.Stats().Failed)

	// Retried and delivered once the broker is back.
	pub.Err = nil
	assert.Equal(t, 1, d.CheckOnce(context.Background()))
	assert.Equal(t, pipeline.ReminderDelivered, store.status("r1"))
	assert.Equal(t, int64(1), d.Stats().Delivered)
	assert.Equal(t, int64(2), d.Stats().Checks)
}

func TestCheckOnce_TwoDispatchersDeliverOnce(t *testing.T) {
	store := newMemStore(pipeline.Reminder{ID: "r1", DealID: "d1", Message: "m", DueAt: testNow})
	listed, err := store.DueReminders(context.Background(), testNow, batchSize)
	require.NoError(t, err)

	pub1, pub2 := &events.Recorder{}, &events.Recorder{}
	first := NewDispatcher(store, pub1, nil, time.Second, quietLogger())
	second := NewDispatcher(&staleStore{memStore: store, listed: listed}, pub2, nil, time.Second, quietLogger())

	assert.Equal(t, 1, first.CheckOnce(context.Background()))
	assert.Equal(t, 0, second.CheckOnce(context.Background()))

	assert.Len(t, pub1.Events(), 1)
	assert.Empty(t, pub2.Events())
	assert.Equal(t, int64(0), second.Stats().Failed)
	assert.Equal(t, pipeline.ReminderDelivered, store.status("r1"))
}

func TestCheckOnce_ListErrorIsLogged(t *testing.T) {
	store := newMemStore()
	store.listErr = errors.New("database is locked")
	d := NewDispatcher(store, &events.Recorder{}, nil, time.Second, quietLogger())

	assert.Equal(t, 0, d.CheckOnce(context.Background()))
	assert.Equal(t, testNow, d.Stats().LastCheck)
}

func TestCheckOnce_MarkFailureCountsAsFailed(t *testing.T) {
	store := newMemStore(pipeline.Reminder{ID: "r1", DealID: "d1", Message: "m", DueAt: testNow})
	store.markErr = errors.New("disk full")
	d := NewDispatcher(store, &events.Recorder{}, nil, time.Second, quietLogger())

	assert.Equal(t, 0, d.CheckOnce(context.Background()))
	assert.Equal(t, int64(1), d.Stats().Failed)
}

func TestRun_StopsOnCancel(t *testing.T) {
	store := newMemStore(pipeline.Reminder{ID: "r1", DealID: "d1", Message: "m", DueAt: testNow})
	d := NewDispatcher(store, &events.Recorder{}, nil, 10*time.Millisecond, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	require.Eventually(t, func() bool {
		return store.status("r1") == pipeline.ReminderDelivered
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRun_RejectsSecondRun(t *testing.T) {
	d := NewDispatcher(newMemStore(), &events.Recorder{}, nil, time.Hour, quietLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() { _ = d.Run(ctx) }()
	require.Eventually(t, func() bool { return d.Stats().Checks > 0 }, time.Second, 5*time.Millisecond)

	assert.Error(t, d.Run(ctx))
}

func TestScheduler_Schedule(t *testing.T) {
	store := newMemStore()
	s := NewScheduler(store, 0)

	r, err := s.Schedule(context.Background(), "d1", "Angebot nachfassen", 0)
	require.NoError(t, err)
	assert.Equal(t, testNow.Add(pipeline.DefaultReminderDelay), r.DueAt)
	assert.Equal(t, pipeline.ReminderPending, store.status(r.ID))

	r2, err := s.Schedule(context.Background(), "d1", "Rückruf", 2*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, testNow.Add(2*time.Hour), r2.DueAt)
}

func TestScheduler_Validation(t *testing.T) {
	s := NewScheduler(newMemStore(), time.Hour)
	ctx := context.Background()

	_, err := s.Schedule(ctx, "", "m", 0)
	assert.Error(t, err)
	_, err = s.Schedule(ctx, "d1", "  ", 0)
	assert.Error(t, err)
	_, err = s.Schedule(ctx, "d1", "m", -time.Hour)
	assert.Error(t, err)
}

func TestScheduler_Cancel(t *testing.T) {
	store := newMemStore()
	s := NewScheduler(store, 0)
	require.NoError(t, s.Cancel(context.Background(), "r9"))
	assert.Equal(t, []string{"r9"}, store.cancelled)
}
