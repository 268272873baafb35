// README: Request service tests over an in-memory store, including the accept race.
package request

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"yoonu/internal/config"
	"yoonu/internal/maps"
	"yoonu/internal/modules/pricing"
	"yoonu/internal/modules/timeout"
	"yoonu/internal/modules/wallet"
	"yoonu/internal/types"
)

type workerRow struct {
	online    bool
	available bool
}

// memStore mirrors the Postgres store's locking semantics with a mutex.
type memStore struct {
	mu       sync.Mutex
	requests map[types.ID]*Request
	workers  map[types.ID]*workerRow
	events   []Event
}

func newMemStore(workers ...types.ID) *memStore {
	m := &memStore{
		requests: map[types.ID]*Request{},
		workers:  map[types.ID]*workerRow{},
	}
	for _, id := range workers {
		m.workers[id] = &workerRow{online: true, available: true}
	}
	return m
}

func (m *memStore) Create(_ context.Context, r *Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *r
	m.requests[r.ID] = &cp
	return nil
}

func (m *memStore) Get(_ context.Context, id types.ID) (*Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *memStore) HasActiveByRequester(_ context.Context, requesterID types.ID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.requests {
		if r.RequesterID == requesterID && (r.Status == StatusRequested || Active(r.Status)) {
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) Claim(_ context.Context, requestID, workerID types.ID, at time.Time) (*Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[requestID]
	if !ok {
		return nil, ErrNotFound
	}
	if r.Status != StatusRequested {
		return nil, ErrAlreadyAccepted
	}
	w, ok := m.workers[workerID]
	if !ok || !w.online || !w.available {
		return nil, ErrWorkerUnavailable
	}
	w.available = false
	r.Status = StatusAssigned
	r.StatusVersion++
	r.WorkerID = &workerID
	r.AssignedAt = &at
	cp := *r
	return &cp, nil
}

func (m *memStore) UpdateStatus(_ context.Context, id types.ID, from, to Status, version int, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[id]
	if !ok || r.Status != from || r.StatusVersion != version {
		return false, nil
	}
	r.Status = to
	r.StatusVersion++
	switch to {
	case StatusArrived:
		r.ArrivedAt = &at
	case StatusInProgress:
		r.StartedAt = &at
	}
	return true, nil
}

func (m *memStore) Finish(_ context.Context, id types.ID, from, to Status, version int, final types.Money, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[id]
	if !ok || r.Status != from || r.StatusVersion != version {
		return false, nil
	}
	r.Status = to
	r.StatusVersion++
	r.FinalFare = &final
	r.Payment = PaymentPending
	r.FinishedAt = &at
	m.releaseLocked(r)
	return true, nil
}

func (m *memStore) Terminate(_ context.Context, id types.ID, from, to Status, version int, reason string, releaseWorker, clearWorker bool, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[id]
	if !ok || r.Status != from || r.StatusVersion != version {
		return false, nil
	}
	r.Status = to
	r.StatusVersion++
	r.CancelReason = &reason
	r.FinishedAt = &at
	if releaseWorker {
		m.releaseLocked(r)
	}
	if clearWorker {
		r.WorkerID = nil
	}
	return true, nil
}

func (m *memStore) releaseLocked(r *Request) {
	if r.WorkerID == nil {
		return
	}
	if w, ok := m.workers[*r.WorkerID]; ok && w.online {
		w.available = true
	}
}

func (m *memStore) SetPayment(_ context.Context, id types.ID, state PaymentState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.requests[id]; ok {
		r.Payment = state
	}
	return nil
}

func (m *memStore) SetRating(_ context.Context, id types.ID, role string, rating Rating) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[id]
	if !ok {
		return nil
	}
	switch role {
	case "requester":
		if r.RequesterRating == nil {
			r.RequesterRating = &rating
		}
	case "worker":
		if r.WorkerRating == nil {
			r.WorkerRating = &rating
		}
	}
	return nil
}

func (m *memStore) ListForUser(_ context.Context, userID types.ID, limit int) ([]Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Request
	for _, r := range m.requests {
		if r.RequesterID == userID || (r.WorkerID != nil && *r.WorkerID == userID) {
			out = append(out, *r)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *memStore) AppendEvent(_ context.Context, e *Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, *e)
	return nil
}

func (m *memStore) workerAvailable(id types.ID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.workers[id]
	return ok && w.available
}

// fakePricing quotes a fixed estimate and a controllable settlement amount.
type fakePricing struct {
	estimate int64
	actual   int64
}

func (f *fakePricing) Quote(context.Context, pricing.QuoteInput) (pricing.Quote, error) {
	return pricing.Quote{Fare: types.XOF(f.estimate), ConfigID: "default", DistanceKm: 5, DurationMin: 10}, nil
}

func (f *fakePricing) QuoteFrozen(context.Context, types.ID, pricing.QuoteInput) (pricing.Quote, error) {
	return pricing.Quote{Fare: types.XOF(f.actual), ConfigID: "default"}, nil
}

func (f *fakePricing) CommissionRate(context.Context, types.ID) (float64, error) {
	return 0.20, nil
}

type fakeRouter struct{}

func (fakeRouter) GetRoute(context.Context, types.Point, types.Point) maps.Route {
	return maps.Route{DistanceKm: 5, DurationMin: 10}
}

// fakeScheduler records armed and disarmed deadlines.
type fakeScheduler struct {
	mu        sync.Mutex
	armed     map[string]bool
	scheduled []timeout.Kind
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{armed: map[string]bool{}}
}

func deadlineKey(id types.ID, kind timeout.Kind) string { return string(id) + "|" + string(kind) }

func (f *fakeScheduler) Schedule(_ context.Context, id types.ID, kind timeout.Kind, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.armed[deadlineKey(id, kind)] = true
	f.scheduled = append(f.scheduled, kind)
	return nil
}

func (f *fakeScheduler) Cancel(_ context.Context, id types.ID, kind timeout.Kind) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.armed, deadlineKey(id, kind))
	return nil
}

func (f *fakeScheduler) isArmed(id types.ID, kind timeout.Kind) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.armed[deadlineKey(id, kind)]
}

// fakeWallet settles successfully unless err is set.
type fakeWallet struct {
	mu   sync.Mutex
	err  error
	cmds []wallet.SettleCommand
}

func (f *fakeWallet) Settle(_ context.Context, cmd wallet.SettleCommand) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.cmds = append(f.cmds, cmd)
	return nil
}

// fakeAggregator records which workers had their review average refreshed.
type fakeAggregator struct {
	mu        sync.Mutex
	refreshed []types.ID
}

func (f *fakeAggregator) RecomputeRating(_ context.Context, workerID types.ID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshed = append(f.refreshed, workerID)
	return nil
}

type fixture struct {
	svc       *Service
	store     *memStore
	scheduler *fakeScheduler
	wallet    *fakeWallet
	ratings   *fakeAggregator
}

func newFixture(workers ...types.ID) *fixture {
	store := newMemStore(workers...)
	scheduler := newFakeScheduler()
	w := &fakeWallet{}
	agg := &fakeAggregator{}
	svc := NewService(Deps{
		Store:     store,
		Pricing:   &fakePricing{estimate: 2500, actual: 2500},
		Router:    fakeRouter{},
		Scheduler: scheduler,
		Wallet:    w,
		Ratings:   agg,
		Timeouts: config.TimeoutConfig{
			NoWorker:       2 * time.Minute,
			TripNoShow:     7 * time.Minute,
			ParcelNoShow:   10 * time.Minute,
			PaymentPending: 15 * time.Minute,
		},
	})
	return &fixture{svc: svc, store: store, scheduler: scheduler, wallet: w, ratings: agg}
}

func mustCreate(t *testing.T, f *fixture, cmd CreateCommand) *Request {
	t.Helper()
	r, err := f.svc.Create(context.Background(), cmd)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return r
}

func assertStatus(t *testing.T, f *fixture, id types.ID, want Status) {
	t.Helper()
	r, err := f.store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get %s: %v", id, err)
	}
	if r.Status != want {
		t.Fatalf("status = %s, want %s", r.Status, want)
	}
}

func tripCommand(requester types.ID) CreateCommand {
	return CreateCommand{
		Kind:        KindTrip,
		RequesterID: requester,
		Pickup:      types.Point{Lat: 14.6708, Lng: -17.4395},
		Dropoff:     types.Point{Lat: 14.7167, Lng: -17.4677},
	}
}

func parcelCommand(requester types.ID) CreateCommand {
	cmd := tripCommand(requester)
	cmd.Kind = KindParcel
	cmd.Parcel = &ParcelDetails{WeightKg: 3, PackageType: "food", RecipientName: "Awa", RecipientPhone: "+221770000000"}
	return cmd
}

func TestTripHappyPath(t *testing.T) {
	f := newFixture("w1")
	ctx := context.Background()

	r := mustCreate(t, f, tripCommand("u1"))
	assertStatus(t, f, r.ID, StatusRequested)
	if !f.scheduler.isArmed(r.ID, timeout.KindNoWorker) {
		t.Fatal("no-worker deadline should be armed on create")
	}
	if r.EstimatedFare.Amount != 2500 {
		t.Fatalf("estimate = %d, want 2500", r.EstimatedFare.Amount)
	}
	if len(r.Code) != 11 || r.Code[:3] != "YN-" {
		t.Fatalf("code = %q, want YN- prefix and 8 hex chars", r.Code)
	}

	if _, err := f.svc.Accept(ctx, AcceptCommand{RequestID: r.ID, WorkerID: "w1"}); err != nil {
		t.Fatalf("accept: %v", err)
	}
	assertStatus(t, f, r.ID, StatusAssigned)
	if f.scheduler.isArmed(r.ID, timeout.KindNoWorker) {
		t.Fatal("no-worker deadline should be disarmed after accept")
	}
	if f.store.workerAvailable("w1") {
		t.Fatal("claimed worker should be unavailable")
	}

	if err := f.svc.MarkArrived(ctx, ArriveCommand{RequestID: r.ID, WorkerID: "w1"}); err != nil {
		t.Fatalf("arrive: %v", err)
	}
	if !f.scheduler.isArmed(r.ID, timeout.KindRequesterNoShow) {
		t.Fatal("no-show deadline should be armed on arrival")
	}

	if err := f.svc.Start(ctx, StartCommand{RequestID: r.ID, WorkerID: "w1"}); err != nil {
		t.Fatalf("start: %v", err)
	}
	if f.scheduler.isArmed(r.ID, timeout.KindRequesterNoShow) {
		t.Fatal("no-show deadline should be disarmed once the journey starts")
	}

	final, err := f.svc.Complete(ctx, CompleteCommand{RequestID: r.ID, WorkerID: "w1", ActualDistanceKm: 5, ActualDurationMin: 10})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if final.Status != StatusPaid {
		t.Fatalf("status = %s, want PAID", final.Status)
	}
	if final.Payment != PaymentSettled {
		t.Fatalf("payment = %s, want SETTLED", final.Payment)
	}
	if final.FinalFare == nil || final.FinalFare.Amount != 2500 {
		t.Fatalf("final fare = %v, want 2500", final.FinalFare)
	}
	if !f.store.workerAvailable("w1") {
		t.Fatal("worker should be released after completion")
	}
	if len(f.wallet.cmds) != 1 || f.wallet.cmds[0].CommissionRate != 0.20 {
		t.Fatalf("settlement commands = %+v", f.wallet.cmds)
	}
}

func TestParcelFinishesDelivered(t *testing.T) {
	f := newFixture("w1")
	ctx := context.Background()

	r := mustCreate(t, f, parcelCommand("u1"))
	if _, err := f.svc.Accept(ctx, AcceptCommand{RequestID: r.ID, WorkerID: "w1"}); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if err := f.svc.MarkArrived(ctx, ArriveCommand{RequestID: r.ID, WorkerID: "w1"}); err != nil {
		t.Fatalf("arrive: %v", err)
	}
	if err := f.svc.Start(ctx, StartCommand{RequestID: r.ID, WorkerID: "w1"}); err != nil {
		t.Fatalf("start: %v", err)
	}

	final, err := f.svc.Complete(ctx, CompleteCommand{RequestID: r.ID, WorkerID: "w1", ActualDistanceKm: 5, ActualDurationMin: 10})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if final.Status != StatusPaid {
		t.Fatalf("status = %s, want PAID", final.Status)
	}

	// The journey passed through DELIVERED, never COMPLETED.
	var sawDelivered bool
	for _, e := range f.store.events {
		if e.To == StatusCompleted {
			t.Fatal("parcel must not pass through COMPLETED")
		}
		if e.To == StatusDelivered {
			sawDelivered = true
		}
	}
	if !sawDelivered {
		t.Fatal("parcel should pass through DELIVERED")
	}
}

func TestConcurrentAcceptOnlyOneWins(t *testing.T) {
	workers := []types.ID{"w1", "w2", "w3", "w4", "w5"}
	f := newFixture(workers...)
	r := mustCreate(t, f, tripCommand("u1"))

	var wg sync.WaitGroup
	errs := make(chan error, len(workers))
	for _, w := range workers {
		wg.Add(1)
		go func(w types.ID) {
			defer wg.Done()
			_, err := f.svc.Accept(context.Background(), AcceptCommand{RequestID: r.ID, WorkerID: w})
			errs <- err
		}(w)
	}
	wg.Wait()
	close(errs)

	wins, losses := 0, 0
	for err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrAlreadyAccepted):
			losses++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 || losses != len(workers)-1 {
		t.Fatalf("wins = %d losses = %d, want exactly one winner", wins, losses)
	}

	got, _ := f.store.Get(context.Background(), r.ID)
	if got.WorkerID == nil {
		t.Fatal("winner should be recorded")
	}
	busy := 0
	for _, w := range workers {
		if !f.store.workerAvailable(w) {
			busy++
		}
	}
	if busy != 1 {
		t.Fatalf("%d workers marked busy, want 1", busy)
	}
}

func TestCreateValidation(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	if _, err := f.svc.Create(ctx, CreateCommand{Kind: KindParcel, RequesterID: "u1"}); !errors.Is(err, ErrBadRequest) {
		t.Fatalf("parcel without details: err = %v, want ErrBadRequest", err)
	}
	cmd := tripCommand("u1")
	cmd.Parcel = &ParcelDetails{WeightKg: 2}
	if _, err := f.svc.Create(ctx, cmd); !errors.Is(err, ErrBadRequest) {
		t.Fatalf("trip with parcel details: err = %v, want ErrBadRequest", err)
	}
	if _, err := f.svc.Create(ctx, CreateCommand{Kind: "freight", RequesterID: "u1"}); !errors.Is(err, ErrBadRequest) {
		t.Fatalf("unknown kind: err = %v, want ErrBadRequest", err)
	}

	mustCreate(t, f, tripCommand("u2"))
	if _, err := f.svc.Create(ctx, tripCommand("u2")); !errors.Is(err, ErrActiveRequest) {
		t.Fatalf("second open request: err = %v, want ErrActiveRequest", err)
	}
}

func TestCancelAuthorization(t *testing.T) {
	f := newFixture("w1")
	ctx := context.Background()
	r := mustCreate(t, f, tripCommand("u1"))

	if err := f.svc.Cancel(ctx, CancelCommand{RequestID: r.ID, ActorType: "requester", ActorID: "intruder"}); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("foreign requester: err = %v, want ErrUnauthorized", err)
	}
	if err := f.svc.Cancel(ctx, CancelCommand{RequestID: r.ID, ActorType: "worker", ActorID: "w1"}); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("unassigned worker: err = %v, want ErrUnauthorized", err)
	}
	if err := f.svc.Cancel(ctx, CancelCommand{RequestID: r.ID, ActorType: "requester", ActorID: "u1", Reason: "changed my mind"}); err != nil {
		t.Fatalf("requester cancel: %v", err)
	}
	assertStatus(t, f, r.ID, StatusCancelledByRequester)
}

func TestCancelReleasesWorkerAndStopsAtInProgress(t *testing.T) {
	f := newFixture("w1")
	ctx := context.Background()
	r := mustCreate(t, f, tripCommand("u1"))

	if _, err := f.svc.Accept(ctx, AcceptCommand{RequestID: r.ID, WorkerID: "w1"}); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if err := f.svc.Cancel(ctx, CancelCommand{RequestID: r.ID, ActorType: "worker", ActorID: "w1", Reason: "flat tire"}); err != nil {
		t.Fatalf("worker cancel: %v", err)
	}
	assertStatus(t, f, r.ID, StatusCancelledByWorker)
	if !f.store.workerAvailable("w1") {
		t.Fatal("cancelling worker should be released")
	}
	got, _ := f.store.Get(ctx, r.ID)
	if got.WorkerID != nil {
		t.Fatalf("worker cancel must detach the worker, still assigned to %s", *got.WorkerID)
	}

	// Once a trip is in progress, nobody can cancel.
	r2 := mustCreate(t, f, tripCommand("u2"))
	if _, err := f.svc.Accept(ctx, AcceptCommand{RequestID: r2.ID, WorkerID: "w1"}); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if err := f.svc.MarkArrived(ctx, ArriveCommand{RequestID: r2.ID, WorkerID: "w1"}); err != nil {
		t.Fatalf("arrive: %v", err)
	}
	if err := f.svc.Start(ctx, StartCommand{RequestID: r2.ID, WorkerID: "w1"}); err != nil {
		t.Fatalf("start: %v", err)
	}
	err := f.svc.Cancel(ctx, CancelCommand{RequestID: r2.ID, ActorType: "requester", ActorID: "u2"})
	var invalid *InvalidTransitionError
	if !errors.As(err, &invalid) {
		t.Fatalf("in-progress trip cancel: err = %v, want InvalidTransitionError", err)
	}
}

func TestRequesterCancelKeepsAssignmentOnRecord(t *testing.T) {
	f := newFixture("w1")
	ctx := context.Background()
	r := mustCreate(t, f, tripCommand("u1"))

	if _, err := f.svc.Accept(ctx, AcceptCommand{RequestID: r.ID, WorkerID: "w1"}); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if err := f.svc.Cancel(ctx, CancelCommand{RequestID: r.ID, ActorType: "requester", ActorID: "u1"}); err != nil {
		t.Fatalf("requester cancel: %v", err)
	}
	got, _ := f.store.Get(ctx, r.ID)
	if got.WorkerID == nil || *got.WorkerID != "w1" {
		t.Fatalf("requester cancel should keep the assignment, got %v", got.WorkerID)
	}
	if !f.store.workerAvailable("w1") {
		t.Fatal("worker should still be released")
	}
}

func TestParcelCancellableInTransit(t *testing.T) {
	f := newFixture("w1")
	ctx := context.Background()
	r := mustCreate(t, f, parcelCommand("u1"))

	if _, err := f.svc.Accept(ctx, AcceptCommand{RequestID: r.ID, WorkerID: "w1"}); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if err := f.svc.MarkArrived(ctx, ArriveCommand{RequestID: r.ID, WorkerID: "w1"}); err != nil {
		t.Fatalf("arrive: %v", err)
	}
	if err := f.svc.Start(ctx, StartCommand{RequestID: r.ID, WorkerID: "w1"}); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := f.svc.Cancel(ctx, CancelCommand{RequestID: r.ID, ActorType: "requester", ActorID: "u1", Reason: "recipient moved"}); err != nil {
		t.Fatalf("in-transit parcel cancel: %v", err)
	}
	assertStatus(t, f, r.ID, StatusCancelledByRequester)
	if !f.store.workerAvailable("w1") {
		t.Fatal("worker should be released")
	}
}

func TestCompleteCapsFinalFare(t *testing.T) {
	f := newFixture("w1")
	ctx := context.Background()
	r := mustCreate(t, f, tripCommand("u1"))

	// The actual route priced far above the estimate.
	f.svc.pricing.(*fakePricing).actual = 5000

	if _, err := f.svc.Accept(ctx, AcceptCommand{RequestID: r.ID, WorkerID: "w1"}); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if err := f.svc.MarkArrived(ctx, ArriveCommand{RequestID: r.ID, WorkerID: "w1"}); err != nil {
		t.Fatalf("arrive: %v", err)
	}
	if err := f.svc.Start(ctx, StartCommand{RequestID: r.ID, WorkerID: "w1"}); err != nil {
		t.Fatalf("start: %v", err)
	}
	final, err := f.svc.Complete(ctx, CompleteCommand{RequestID: r.ID, WorkerID: "w1", ActualDistanceKm: 20, ActualDurationMin: 45})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if final.FinalFare.Amount != 2750 {
		t.Fatalf("final fare = %d, want 2750 (110%% of the estimate)", final.FinalFare.Amount)
	}
}

func TestInsufficientBalanceDefersPayment(t *testing.T) {
	f := newFixture("w1")
	f.wallet.err = wallet.ErrInsufficientBalance
	ctx := context.Background()
	r := mustCreate(t, f, tripCommand("u1"))

	if _, err := f.svc.Accept(ctx, AcceptCommand{RequestID: r.ID, WorkerID: "w1"}); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if err := f.svc.MarkArrived(ctx, ArriveCommand{RequestID: r.ID, WorkerID: "w1"}); err != nil {
		t.Fatalf("arrive: %v", err)
	}
	if err := f.svc.Start(ctx, StartCommand{RequestID: r.ID, WorkerID: "w1"}); err != nil {
		t.Fatalf("start: %v", err)
	}
	final, err := f.svc.Complete(ctx, CompleteCommand{RequestID: r.ID, WorkerID: "w1", ActualDistanceKm: 5, ActualDurationMin: 10})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if final.Status != StatusCompleted {
		t.Fatalf("status = %s, want COMPLETED with payment still owed", final.Status)
	}
	if final.Payment != PaymentPending {
		t.Fatalf("payment = %s, want PENDING", final.Payment)
	}
	if !f.scheduler.isArmed(r.ID, timeout.KindPaymentPending) {
		t.Fatal("payment deadline should be armed")
	}

	// The payment deadline fires and voids the debt.
	if err := f.svc.HandleTimeout(ctx, r.ID, timeout.KindPaymentPending); err != nil {
		t.Fatalf("payment timeout: %v", err)
	}
	got, _ := f.store.Get(ctx, r.ID)
	if got.Payment != PaymentVoided {
		t.Fatalf("payment = %s, want VOIDED", got.Payment)
	}
}

func TestNoWorkerTimeout(t *testing.T) {
	f := newFixture("w1")
	ctx := context.Background()
	r := mustCreate(t, f, tripCommand("u1"))

	if err := f.svc.HandleTimeout(ctx, r.ID, timeout.KindNoWorker); err != nil {
		t.Fatalf("no-worker timeout: %v", err)
	}
	assertStatus(t, f, r.ID, StatusCancelledBySystem)

	// An already assigned request is left alone.
	r2 := mustCreate(t, f, tripCommand("u2"))
	if _, err := f.svc.Accept(ctx, AcceptCommand{RequestID: r2.ID, WorkerID: "w1"}); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if err := f.svc.HandleTimeout(ctx, r2.ID, timeout.KindNoWorker); err != nil {
		t.Fatalf("stale no-worker timeout: %v", err)
	}
	assertStatus(t, f, r2.ID, StatusAssigned)
}

func TestNoShowPerKind(t *testing.T) {
	f := newFixture("w1", "w2")
	ctx := context.Background()

	trip := mustCreate(t, f, tripCommand("u1"))
	if _, err := f.svc.Accept(ctx, AcceptCommand{RequestID: trip.ID, WorkerID: "w1"}); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if err := f.svc.MarkArrived(ctx, ArriveCommand{RequestID: trip.ID, WorkerID: "w1"}); err != nil {
		t.Fatalf("arrive: %v", err)
	}
	if err := f.svc.HandleTimeout(ctx, trip.ID, timeout.KindRequesterNoShow); err != nil {
		t.Fatalf("trip no-show: %v", err)
	}
	// A trip no-show closes as a worker-side cancellation.
	assertStatus(t, f, trip.ID, StatusCancelledByWorker)
	if !f.store.workerAvailable("w1") {
		t.Fatal("worker should be released after no-show")
	}
	got, _ := f.store.Get(ctx, trip.ID)
	if got.WorkerID != nil {
		t.Fatal("no-show should detach the worker")
	}

	parcel := mustCreate(t, f, parcelCommand("u2"))
	if _, err := f.svc.Accept(ctx, AcceptCommand{RequestID: parcel.ID, WorkerID: "w2"}); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if err := f.svc.MarkArrived(ctx, ArriveCommand{RequestID: parcel.ID, WorkerID: "w2"}); err != nil {
		t.Fatalf("arrive: %v", err)
	}
	if err := f.svc.MarkNoShow(ctx, NoShowCommand{RequestID: parcel.ID, WorkerID: "w2"}); err != nil {
		t.Fatalf("parcel no-show: %v", err)
	}
	assertStatus(t, f, parcel.ID, StatusRequesterNoShow)
}

func TestMarkRefusedStillSettles(t *testing.T) {
	f := newFixture("w1")
	ctx := context.Background()
	r := mustCreate(t, f, parcelCommand("u1"))

	if _, err := f.svc.Accept(ctx, AcceptCommand{RequestID: r.ID, WorkerID: "w1"}); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if err := f.svc.MarkArrived(ctx, ArriveCommand{RequestID: r.ID, WorkerID: "w1"}); err != nil {
		t.Fatalf("arrive: %v", err)
	}
	if err := f.svc.Start(ctx, StartCommand{RequestID: r.ID, WorkerID: "w1"}); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := f.svc.MarkRefused(ctx, RefuseCommand{RequestID: r.ID, WorkerID: "w1", Reason: "wrong address"}); err != nil {
		t.Fatalf("refuse: %v", err)
	}
	assertStatus(t, f, r.ID, StatusPackageRefused)
	got, _ := f.store.Get(ctx, r.ID)
	if got.Payment != PaymentSettled {
		t.Fatalf("payment = %s, want SETTLED: the journey was made", got.Payment)
	}
	if len(f.wallet.cmds) != 1 {
		t.Fatalf("settlements = %d, want 1", len(f.wallet.cmds))
	}
}

func TestMarkFailedIsFreeAndTerminal(t *testing.T) {
	f := newFixture("w1")
	ctx := context.Background()
	r := mustCreate(t, f, parcelCommand("u1"))

	if _, err := f.svc.Accept(ctx, AcceptCommand{RequestID: r.ID, WorkerID: "w1"}); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if err := f.svc.MarkArrived(ctx, ArriveCommand{RequestID: r.ID, WorkerID: "w1"}); err != nil {
		t.Fatalf("arrive: %v", err)
	}
	if err := f.svc.Start(ctx, StartCommand{RequestID: r.ID, WorkerID: "w1"}); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := f.svc.MarkFailed(ctx, FailCommand{RequestID: r.ID, WorkerID: "w1", Reason: "recipient unreachable"}); err != nil {
		t.Fatalf("fail: %v", err)
	}
	assertStatus(t, f, r.ID, StatusDeliveryFailed)
	got, _ := f.store.Get(ctx, r.ID)
	if got.Payment != PaymentNone || got.FinalFare != nil {
		t.Fatalf("failed delivery must not charge: payment=%s fare=%v", got.Payment, got.FinalFare)
	}
	if len(f.wallet.cmds) != 0 {
		t.Fatal("no settlement expected")
	}
}

func TestParcelFailureModesRejectedForTrips(t *testing.T) {
	f := newFixture("w1")
	ctx := context.Background()
	r := mustCreate(t, f, tripCommand("u1"))

	if _, err := f.svc.Accept(ctx, AcceptCommand{RequestID: r.ID, WorkerID: "w1"}); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if err := f.svc.MarkArrived(ctx, ArriveCommand{RequestID: r.ID, WorkerID: "w1"}); err != nil {
		t.Fatalf("arrive: %v", err)
	}
	if err := f.svc.Start(ctx, StartCommand{RequestID: r.ID, WorkerID: "w1"}); err != nil {
		t.Fatalf("start: %v", err)
	}

	var invalid *InvalidTransitionError
	if err := f.svc.MarkRefused(ctx, RefuseCommand{RequestID: r.ID, WorkerID: "w1"}); !errors.As(err, &invalid) {
		t.Fatalf("refuse on trip: err = %v, want InvalidTransitionError", err)
	}
	if err := f.svc.MarkFailed(ctx, FailCommand{RequestID: r.ID, WorkerID: "w1"}); !errors.As(err, &invalid) {
		t.Fatalf("fail on trip: err = %v, want InvalidTransitionError", err)
	}
}

func TestRate(t *testing.T) {
	f := newFixture("w1")
	ctx := context.Background()
	r := mustCreate(t, f, tripCommand("u1"))

	if err := f.svc.Rate(ctx, RateCommand{RequestID: r.ID, RaterID: "u1", Score: 5}); err == nil {
		t.Fatal("rating an unfinished request should fail")
	}

	if _, err := f.svc.Accept(ctx, AcceptCommand{RequestID: r.ID, WorkerID: "w1"}); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if err := f.svc.MarkArrived(ctx, ArriveCommand{RequestID: r.ID, WorkerID: "w1"}); err != nil {
		t.Fatalf("arrive: %v", err)
	}
	if err := f.svc.Start(ctx, StartCommand{RequestID: r.ID, WorkerID: "w1"}); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := f.svc.Complete(ctx, CompleteCommand{RequestID: r.ID, WorkerID: "w1", ActualDistanceKm: 5, ActualDurationMin: 10}); err != nil {
		t.Fatalf("complete: %v", err)
	}

	if err := f.svc.Rate(ctx, RateCommand{RequestID: r.ID, RaterID: "u1", Score: 6}); !errors.Is(err, ErrBadRequest) {
		t.Fatalf("score 6: err = %v, want ErrBadRequest", err)
	}
	if err := f.svc.Rate(ctx, RateCommand{RequestID: r.ID, RaterID: "stranger", Score: 4}); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("stranger rating: err = %v, want ErrUnauthorized", err)
	}

	if err := f.svc.Rate(ctx, RateCommand{RequestID: r.ID, RaterID: "u1", Score: 4, Comment: "smooth ride"}); err != nil {
		t.Fatalf("requester rate: %v", err)
	}
	if err := f.svc.Rate(ctx, RateCommand{RequestID: r.ID, RaterID: "u1", Score: 2}); !errors.Is(err, ErrAlreadyRated) {
		t.Fatalf("second requester rating: err = %v, want ErrAlreadyRated", err)
	}
	if len(f.ratings.refreshed) != 1 || f.ratings.refreshed[0] != "w1" {
		t.Fatalf("worker aggregate refreshes = %v, want one for w1", f.ratings.refreshed)
	}

	// The worker rates the requester back, once.
	if err := f.svc.Rate(ctx, RateCommand{RequestID: r.ID, RaterID: "w1", Score: 5}); err != nil {
		t.Fatalf("worker rate: %v", err)
	}
	if err := f.svc.Rate(ctx, RateCommand{RequestID: r.ID, RaterID: "w1", Score: 1}); !errors.Is(err, ErrAlreadyRated) {
		t.Fatalf("second worker rating: err = %v, want ErrAlreadyRated", err)
	}
	if len(f.ratings.refreshed) != 1 {
		t.Fatalf("worker-side rating must not refresh the worker aggregate, got %v", f.ratings.refreshed)
	}

	got, _ := f.store.Get(ctx, r.ID)
	if got.RequesterRating == nil || got.RequesterRating.Score != 4 || got.RequesterRating.Comment != "smooth ride" {
		t.Fatalf("requester rating = %+v", got.RequesterRating)
	}
	if got.WorkerRating == nil || got.WorkerRating.Score != 5 {
		t.Fatalf("worker rating = %+v", got.WorkerRating)
	}
}

func TestGetAuthorization(t *testing.T) {
	f := newFixture("w1")
	ctx := context.Background()
	r := mustCreate(t, f, tripCommand("u1"))

	if _, err := f.svc.Get(ctx, r.ID, "u1"); err != nil {
		t.Fatalf("requester get: %v", err)
	}
	if _, err := f.svc.Get(ctx, r.ID, "stranger"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("stranger get: err = %v, want ErrUnauthorized", err)
	}
	if _, err := f.svc.Accept(ctx, AcceptCommand{RequestID: r.ID, WorkerID: "w1"}); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if _, err := f.svc.Get(ctx, r.ID, "w1"); err != nil {
		t.Fatalf("assigned worker get: %v", err)
	}
}

func TestOpenReflectsClaimState(t *testing.T) {
	f := newFixture("w1")
	ctx := context.Background()
	r := mustCreate(t, f, tripCommand("u1"))

	if open, _ := f.svc.Open(ctx, r.ID); !open {
		t.Fatal("fresh request should be open")
	}
	if _, err := f.svc.Accept(ctx, AcceptCommand{RequestID: r.ID, WorkerID: "w1"}); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if open, _ := f.svc.Open(ctx, r.ID); open {
		t.Fatal("claimed request should not be open")
	}
	if open, _ := f.svc.Open(ctx, "ghost"); open {
		t.Fatal("missing request should not be open")
	}
}
