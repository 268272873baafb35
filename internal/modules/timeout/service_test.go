package timeout

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"yoonu/internal/types"
)

type memStore struct {
	mu      sync.Mutex
	nextID  int64
	records map[string]*Record // keyed request_id|kind
}

func newMemStore() *memStore {
	return &memStore{records: map[string]*Record{}}
}

func key(id types.ID, kind Kind) string { return string(id) + "|" + string(kind) }

func (m *memStore) Schedule(_ context.Context, requestID types.ID, kind Kind, executeAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.records[key(requestID, kind)]; ok {
		rec.ExecuteAt = executeAt
		rec.Processed = false
		return nil
	}
	m.nextID++
	m.records[key(requestID, kind)] = &Record{
		ID: m.nextID, RequestID: requestID, Kind: kind, ExecuteAt: executeAt,
	}
	return nil
}

func (m *memStore) Cancel(_ context.Context, requestID types.ID, kind Kind) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.records[key(requestID, kind)]; ok {
		rec.Processed = true
	}
	return nil
}

func (m *memStore) Due(_ context.Context, now time.Time, limit int) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var due []Record
	for _, rec := range m.records {
		if !rec.Processed && !rec.ExecuteAt.After(now) {
			due = append(due, *rec)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ExecuteAt.Before(due[j].ExecuteAt) })
	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (m *memStore) MarkProcessed(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range m.records {
		if rec.ID == id {
			rec.Processed = true
		}
	}
	return nil
}

type recordingHandler struct {
	mu    sync.Mutex
	fired []string
	err   error
}

func (h *recordingHandler) HandleTimeout(_ context.Context, requestID types.ID, kind Kind) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.fired = append(h.fired, string(requestID)+"/"+string(kind))
	return h.err
}

func testService(store Store, at time.Time) *Service {
	svc := NewService(store, slog.New(slog.DiscardHandler))
	svc.now = func() time.Time { return at }
	return svc
}

func TestProcessExpiredFiresOnlyDue(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store := newMemStore()
	svc := testService(store, now)
	ctx := context.Background()

	if err := svc.Schedule(ctx, "r-1", KindNoWorker, -time.Second); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if err := svc.Schedule(ctx, "r-2", KindNoWorker, time.Minute); err != nil {
		t.Fatalf("Schedule: %v", err)
	}

	h := &recordingHandler{}
	n, err := svc.ProcessExpired(ctx, h)
	if err != nil {
		t.Fatalf("ProcessExpired: %v", err)
	}
	if n != 1 {
		t.Fatalf("processed = %d, want 1", n)
	}
	if len(h.fired) != 1 || h.fired[0] != "r-1/NO_WORKER" {
		t.Fatalf("fired = %v, want [r-1/NO_WORKER]", h.fired)
	}

	// A second sweep finds nothing: the record is processed.
	n, err = svc.ProcessExpired(ctx, h)
	if err != nil {
		t.Fatalf("ProcessExpired: %v", err)
	}
	if n != 0 {
		t.Fatalf("second sweep processed = %d, want 0", n)
	}
}

func TestCancelledDeadlineNeverFires(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store := newMemStore()
	svc := testService(store, now)
	ctx := context.Background()

	if err := svc.Schedule(ctx, "r-1", KindRequesterNoShow, -time.Second); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if err := svc.Cancel(ctx, "r-1", KindRequesterNoShow); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	h := &recordingHandler{}
	n, err := svc.ProcessExpired(ctx, h)
	if err != nil {
		t.Fatalf("ProcessExpired: %v", err)
	}
	if n != 0 || len(h.fired) != 0 {
		t.Fatalf("cancelled deadline fired: n=%d fired=%v", n, h.fired)
	}
}

func TestRescheduleReArmsExisting(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store := newMemStore()
	svc := testService(store, now)
	ctx := context.Background()

	if err := svc.Schedule(ctx, "r-1", KindNoWorker, -time.Minute); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if err := svc.Schedule(ctx, "r-1", KindNoWorker, time.Hour); err != nil {
		t.Fatalf("Schedule: %v", err)
	}

	h := &recordingHandler{}
	n, err := svc.ProcessExpired(ctx, h)
	if err != nil {
		t.Fatalf("ProcessExpired: %v", err)
	}
	if n != 0 {
		t.Fatalf("re-armed deadline fired early: n=%d", n)
	}
}

func TestHandlerFailureStillMarksProcessed(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store := newMemStore()
	svc := testService(store, now)
	ctx := context.Background()

	if err := svc.Schedule(ctx, "r-1", KindPaymentPending, -time.Second); err != nil {
		t.Fatalf("Schedule: %v", err)
	}

	h := &recordingHandler{err: errors.New("state moved on")}
	if _, err := svc.ProcessExpired(ctx, h); err != nil {
		t.Fatalf("ProcessExpired: %v", err)
	}

	n, err := svc.ProcessExpired(ctx, h)
	if err != nil {
		t.Fatalf("ProcessExpired: %v", err)
	}
	if n != 0 {
		t.Fatalf("failed record re-fired: n=%d", n)
	}
}

// Deadlines survive a restart: a fresh service over the same store still
// sees and fires what an earlier one scheduled.
func TestDeadlinesSurviveServiceRestart(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store := newMemStore()
	ctx := context.Background()

	first := testService(store, now)
	if err := first.Schedule(ctx, "r-1", KindNoWorker, 2*time.Minute); err != nil {
		t.Fatalf("Schedule: %v", err)
	}

	second := testService(store, now.Add(3*time.Minute))
	h := &recordingHandler{}
	n, err := second.ProcessExpired(ctx, h)
	if err != nil {
		t.Fatalf("ProcessExpired: %v", err)
	}
	if n != 1 {
		t.Fatalf("processed = %d, want 1", n)
	}
}
