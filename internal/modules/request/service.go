// README: Request service: lifecycle transitions, claim race, settlement, timeout handling.
package request

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"yoonu/internal/config"
	"yoonu/internal/maps"
	"yoonu/internal/modules/pricing"
	"yoonu/internal/modules/timeout"
	"yoonu/internal/modules/wallet"
	"yoonu/internal/modules/worker"
	"yoonu/internal/notify"
	"yoonu/internal/observability"
	"yoonu/internal/types"
)

var (
	ErrNotFound          = errors.New("request not found")
	ErrBadRequest        = errors.New("bad request")
	ErrActiveRequest     = errors.New("requester already has an active request")
	ErrAlreadyAccepted   = errors.New("request already accepted")
	ErrWorkerUnavailable = errors.New("worker is not available")
	ErrUnauthorized      = errors.New("actor may not act on this request")
	ErrConflict          = errors.New("request state conflict")
	ErrAlreadyRated      = errors.New("request already rated")
)

// InvalidTransitionError reports a lifecycle move the state machine forbids.
type InvalidTransitionError struct {
	From Status
	To   Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition %s -> %s", e.From, e.To)
}

// Pricing is the fare engine as this service needs it.
type Pricing interface {
	Quote(ctx context.Context, in pricing.QuoteInput) (pricing.Quote, error)
	QuoteFrozen(ctx context.Context, configID types.ID, in pricing.QuoteInput) (pricing.Quote, error)
	CommissionRate(ctx context.Context, configID types.ID) (float64, error)
}

// Router supplies distance and duration between two points.
type Router interface {
	GetRoute(ctx context.Context, origin, destination types.Point) maps.Route
}

// Scheduler arms and disarms durable deadlines.
type Scheduler interface {
	Schedule(ctx context.Context, requestID types.ID, kind timeout.Kind, after time.Duration) error
	Cancel(ctx context.Context, requestID types.ID, kind timeout.Kind) error
}

// Wallet settles fares. Settle returns wallet.ErrInsufficientBalance when the
// requester cannot cover the amount.
type Wallet interface {
	Settle(ctx context.Context, cmd wallet.SettleCommand) error
}

// Auditor appends to the audit trail. Fire and forget.
type Auditor interface {
	Record(ctx context.Context, actor types.ID, action, entityType string, entityID types.ID, details map[string]any)
}

// Dispatcher kicks off worker matching for an open request.
type Dispatcher interface {
	Dispatch(ctx context.Context, requestID types.ID, pickup types.Point, req worker.Requirements)
}

// RatingAggregator refreshes a worker's review average after a requester
// leaves a new score. The worker service satisfies this.
type RatingAggregator interface {
	RecomputeRating(ctx context.Context, workerID types.ID) error
}

// Deps bundles the service's collaborators. Scheduler, Wallet, Notifier,
// Audit, and Ratings may be nil; the service degrades to skipping that
// concern.
type Deps struct {
	Store     Store
	Pricing   Pricing
	Router    Router
	Scheduler Scheduler
	Wallet    Wallet
	Notifier  notify.Notifier
	Audit     Auditor
	Ratings   RatingAggregator
	Timeouts  config.TimeoutConfig
	Logger    *slog.Logger
}

type Service struct {
	store      Store
	pricing    Pricing
	router     Router
	scheduler  Scheduler
	wallet     Wallet
	notifier   notify.Notifier
	audit      Auditor
	ratings    RatingAggregator
	dispatcher Dispatcher
	timeouts   config.TimeoutConfig
	logger     *slog.Logger
	now        func() time.Time
}

func NewService(d Deps) *Service {
	logger := d.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Service{
		store:     d.Store,
		pricing:   d.Pricing,
		router:    d.Router,
		scheduler: d.Scheduler,
		wallet:    d.Wallet,
		notifier:  d.Notifier,
		audit:     d.Audit,
		ratings:   d.Ratings,
		timeouts:  d.Timeouts,
		logger:    logger,
		now:       time.Now,
	}
}

// SetDispatcher wires matching in after construction; matching itself needs a
// view of this service to recheck request state between waves.
func (s *Service) SetDispatcher(d Dispatcher) {
	s.dispatcher = d
}

type EstimateCommand struct {
	Kind        Kind
	Pickup      types.Point
	Dropoff     types.Point
	WeightKg    float64
	PackageType string
}

type CreateCommand struct {
	Kind        Kind
	RequesterID types.ID
	Pickup      types.Point
	Dropoff     types.Point
	Parcel      *ParcelDetails
}

type AcceptCommand struct {
	RequestID types.ID
	WorkerID  types.ID
}

type ArriveCommand struct {
	RequestID types.ID
	WorkerID  types.ID
}

type StartCommand struct {
	RequestID types.ID
	WorkerID  types.ID
}

type CompleteCommand struct {
	RequestID         types.ID
	WorkerID          types.ID
	ActualDistanceKm  float64
	ActualDurationMin int
}

type CancelCommand struct {
	RequestID types.ID
	ActorType string // "requester", "worker", or "system"
	ActorID   types.ID
	Reason    string
}

type NoShowCommand struct {
	RequestID types.ID
	WorkerID  types.ID
}

type RefuseCommand struct {
	RequestID types.ID
	WorkerID  types.ID
	Reason    string
}

type FailCommand struct {
	RequestID types.ID
	WorkerID  types.ID
	Reason    string
}

type RateCommand struct {
	RequestID types.ID
	RaterID   types.ID
	Score     int
	Comment   string
}

// Estimate prices a prospective request without persisting anything.
func (s *Service) Estimate(ctx context.Context, cmd EstimateCommand) (pricing.Quote, error) {
	if cmd.Kind != KindTrip && cmd.Kind != KindParcel {
		return pricing.Quote{}, ErrBadRequest
	}
	route := s.router.GetRoute(ctx, cmd.Pickup, cmd.Dropoff)
	return s.pricing.Quote(ctx, pricing.QuoteInput{
		Kind:        string(cmd.Kind),
		DistanceKm:  route.DistanceKm,
		DurationMin: route.DurationMin,
		WeightKg:    cmd.WeightKg,
		PackageType: cmd.PackageType,
		At:          s.now(),
	})
}

// Create opens a request, arms the no-worker deadline, and starts matching.
func (s *Service) Create(ctx context.Context, cmd CreateCommand) (*Request, error) {
	if cmd.RequesterID == "" {
		return nil, ErrBadRequest
	}
	switch cmd.Kind {
	case KindTrip:
		if cmd.Parcel != nil {
			return nil, ErrBadRequest
		}
	case KindParcel:
		if cmd.Parcel == nil || cmd.Parcel.WeightKg <= 0 {
			return nil, ErrBadRequest
		}
	default:
		return nil, ErrBadRequest
	}

	active, err := s.store.HasActiveByRequester(ctx, cmd.RequesterID)
	if err != nil {
		return nil, err
	}
	if active {
		return nil, ErrActiveRequest
	}

	now := s.now()
	route := s.router.GetRoute(ctx, cmd.Pickup, cmd.Dropoff)
	in := pricing.QuoteInput{
		Kind:        string(cmd.Kind),
		DistanceKm:  route.DistanceKm,
		DurationMin: route.DurationMin,
		At:          now,
	}
	if cmd.Parcel != nil {
		in.WeightKg = cmd.Parcel.WeightKg
		in.PackageType = cmd.Parcel.PackageType
	}
	quote, err := s.pricing.Quote(ctx, in)
	if err != nil {
		return nil, err
	}

	id := types.ID(uuid.NewString())
	r := &Request{
		ID:              id,
		Code:            requestCode(id),
		Kind:            cmd.Kind,
		RequesterID:     cmd.RequesterID,
		Status:          StatusRequested,
		Payment:         PaymentNone,
		Pickup:          cmd.Pickup,
		Dropoff:         cmd.Dropoff,
		Parcel:          cmd.Parcel,
		EstimatedFare:   quote.Fare,
		PricingConfigID: quote.ConfigID,
		DistanceKm:      quote.DistanceKm,
		DurationMin:     quote.DurationMin,
		CreatedAt:       now,
	}
	if err := s.store.Create(ctx, r); err != nil {
		return nil, err
	}
	s.appendEvent(ctx, r.ID, StatusNone, StatusRequested, "requester", &cmd.RequesterID)

	if s.scheduler != nil {
		if err := s.scheduler.Schedule(ctx, r.ID, timeout.KindNoWorker, s.timeouts.NoWorker); err != nil {
			s.logger.Error("schedule no-worker deadline failed", "request_id", r.ID, "error", err)
		}
	}
	if s.dispatcher != nil {
		s.dispatcher.Dispatch(ctx, r.ID, r.Pickup, r.Requirements())
	}
	s.record(ctx, cmd.RequesterID, "request.create", r.ID, map[string]any{
		"kind": string(cmd.Kind), "estimated_fare": quote.Fare.Amount,
	})
	observability.RequestsCreated.WithLabelValues(string(cmd.Kind)).Inc()
	return r, nil
}

// Accept claims an open request for a worker. Exactly one of any number of
// concurrent accepts wins; the rest get ErrAlreadyAccepted.
func (s *Service) Accept(ctx context.Context, cmd AcceptCommand) (*Request, error) {
	r, err := s.store.Claim(ctx, cmd.RequestID, cmd.WorkerID, s.now())
	if err != nil {
		return nil, err
	}
	s.appendEvent(ctx, r.ID, StatusRequested, StatusAssigned, "worker", &cmd.WorkerID)

	if s.scheduler != nil {
		if err := s.scheduler.Cancel(ctx, r.ID, timeout.KindNoWorker); err != nil {
			s.logger.Error("cancel no-worker deadline failed", "request_id", r.ID, "error", err)
		}
	}
	s.push(ctx, r.RequesterID, "Worker on the way", "Your request was accepted.", r.ID, StatusAssigned)
	s.record(ctx, cmd.WorkerID, "request.accept", r.ID, nil)
	observability.RequestsAssigned.Inc()
	return r, nil
}

// MarkArrived records the worker at the pickup point and starts the
// requester's no-show clock.
func (s *Service) MarkArrived(ctx context.Context, cmd ArriveCommand) error {
	r, err := s.authorizedWorker(ctx, cmd.RequestID, cmd.WorkerID)
	if err != nil {
		return err
	}
	if err := s.transition(ctx, r, StatusArrived, "worker", &cmd.WorkerID); err != nil {
		return err
	}

	if s.scheduler != nil {
		delay := s.timeouts.TripNoShow
		if r.Kind == KindParcel {
			delay = s.timeouts.ParcelNoShow
		}
		if err := s.scheduler.Schedule(ctx, r.ID, timeout.KindRequesterNoShow, delay); err != nil {
			s.logger.Error("schedule no-show deadline failed", "request_id", r.ID, "error", err)
		}
	}
	s.push(ctx, r.RequesterID, "Worker arrived", "Your worker is at the pickup point.", r.ID, StatusArrived)
	return nil
}

// Start begins the journey and disarms the no-show clock.
func (s *Service) Start(ctx context.Context, cmd StartCommand) error {
	r, err := s.authorizedWorker(ctx, cmd.RequestID, cmd.WorkerID)
	if err != nil {
		return err
	}
	if err := s.transition(ctx, r, StatusInProgress, "worker", &cmd.WorkerID); err != nil {
		return err
	}
	if s.scheduler != nil {
		if err := s.scheduler.Cancel(ctx, r.ID, timeout.KindRequesterNoShow); err != nil {
			s.logger.Error("cancel no-show deadline failed", "request_id", r.ID, "error", err)
		}
	}
	return nil
}

// Complete ends the journey, freezes the final fare, and settles it. The
// final fare is the actual-route price under the config frozen at creation,
// capped relative to the estimate; settlement failure leaves the request
// finished with payment pending and a payment deadline armed.
func (s *Service) Complete(ctx context.Context, cmd CompleteCommand) (*Request, error) {
	r, err := s.authorizedWorker(ctx, cmd.RequestID, cmd.WorkerID)
	if err != nil {
		return nil, err
	}
	target := FinishStatus(r.Kind)
	if !CanTransition(r.Status, target) {
		return nil, &InvalidTransitionError{From: r.Status, To: target}
	}

	final := s.finalFare(ctx, r, cmd.ActualDistanceKm, cmd.ActualDurationMin)
	ok, err := s.store.Finish(ctx, r.ID, r.Status, target, r.StatusVersion, final, s.now())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrConflict
	}
	s.appendEvent(ctx, r.ID, r.Status, target, "worker", &cmd.WorkerID)
	s.record(ctx, cmd.WorkerID, "request.complete", r.ID, map[string]any{
		"final_fare": final.Amount,
	})

	s.settle(ctx, r, target, r.StatusVersion+1, final)
	return s.store.Get(ctx, r.ID)
}

// Cancel ends a request early on behalf of the requester, the assigned
// worker, or the system.
func (s *Service) Cancel(ctx context.Context, cmd CancelCommand) error {
	r, err := s.store.Get(ctx, cmd.RequestID)
	if err != nil {
		return err
	}

	var target Status
	switch cmd.ActorType {
	case "requester":
		if r.RequesterID != cmd.ActorID {
			return ErrUnauthorized
		}
		target = StatusCancelledByRequester
	case "worker":
		if r.WorkerID == nil || *r.WorkerID != cmd.ActorID {
			return ErrUnauthorized
		}
		target = StatusCancelledByWorker
	case "system":
		target = StatusCancelledBySystem
	default:
		return ErrBadRequest
	}
	if !CanTransition(r.Status, target) || !KindAllows(r.Kind, r.Status, target) {
		return &InvalidTransitionError{From: r.Status, To: target}
	}

	release := r.WorkerID != nil
	// A requester-side cancel keeps the assignment for history; the others
	// erase it.
	clear := cmd.ActorType != "requester"
	ok, err := s.store.Terminate(ctx, r.ID, r.Status, target, r.StatusVersion, cmd.Reason, release, clear, s.now())
	if err != nil {
		return err
	}
	if !ok {
		return ErrConflict
	}
	s.appendEvent(ctx, r.ID, r.Status, target, cmd.ActorType, &cmd.ActorID)
	s.disarmAll(ctx, r.ID)

	switch cmd.ActorType {
	case "requester":
		if r.WorkerID != nil {
			s.push(ctx, *r.WorkerID, "Request cancelled", "The requester cancelled.", r.ID, target)
		}
	case "worker", "system":
		s.push(ctx, r.RequesterID, "Request cancelled", "Your request was cancelled.", r.ID, target)
	}
	s.record(ctx, cmd.ActorID, "request.cancel", r.ID, map[string]any{
		"actor": cmd.ActorType, "reason": cmd.Reason,
	})
	return nil
}

// MarkNoShow lets the arrived worker report that nobody showed up at pickup.
func (s *Service) MarkNoShow(ctx context.Context, cmd NoShowCommand) error {
	r, err := s.authorizedWorker(ctx, cmd.RequestID, cmd.WorkerID)
	if err != nil {
		return err
	}
	if r.Status != StatusArrived {
		return &InvalidTransitionError{From: r.Status, To: NoShowStatus(r.Kind)}
	}
	return s.terminate(ctx, r, NoShowStatus(r.Kind), "requester no-show", "worker", &cmd.WorkerID, true)
}

// MarkRefused records the recipient turning the parcel away at the dropoff.
// The journey was made, so the fare still settles.
func (s *Service) MarkRefused(ctx context.Context, cmd RefuseCommand) error {
	r, err := s.authorizedWorker(ctx, cmd.RequestID, cmd.WorkerID)
	if err != nil {
		return err
	}
	if r.Kind != KindParcel || !CanTransition(r.Status, StatusPackageRefused) {
		return &InvalidTransitionError{From: r.Status, To: StatusPackageRefused}
	}

	final := s.finalFare(ctx, r, r.DistanceKm, r.DurationMin)
	ok, err := s.store.Finish(ctx, r.ID, r.Status, StatusPackageRefused, r.StatusVersion, final, s.now())
	if err != nil {
		return err
	}
	if !ok {
		return ErrConflict
	}
	s.appendEvent(ctx, r.ID, r.Status, StatusPackageRefused, "worker", &cmd.WorkerID)
	s.push(ctx, r.RequesterID, "Package refused", "The recipient refused the package.", r.ID, StatusPackageRefused)
	s.record(ctx, cmd.WorkerID, "request.refused", r.ID, map[string]any{"reason": cmd.Reason})

	s.settle(ctx, r, StatusPackageRefused, r.StatusVersion+1, final)
	return nil
}

// MarkFailed records a delivery that could not be made. No charge.
func (s *Service) MarkFailed(ctx context.Context, cmd FailCommand) error {
	r, err := s.authorizedWorker(ctx, cmd.RequestID, cmd.WorkerID)
	if err != nil {
		return err
	}
	if r.Kind != KindParcel || !CanTransition(r.Status, StatusDeliveryFailed) {
		return &InvalidTransitionError{From: r.Status, To: StatusDeliveryFailed}
	}
	if err := s.terminate(ctx, r, StatusDeliveryFailed, cmd.Reason, "worker", &cmd.WorkerID, false); err != nil {
		return err
	}
	s.push(ctx, r.RequesterID, "Delivery failed", "Your parcel could not be delivered.", r.ID, StatusDeliveryFailed)
	return nil
}

// Rate records a one-time score for a finished request. Each side rates the
// other once; a requester score also refreshes the worker's aggregate.
func (s *Service) Rate(ctx context.Context, cmd RateCommand) error {
	if cmd.Score < 1 || cmd.Score > 5 {
		return ErrBadRequest
	}
	r, err := s.store.Get(ctx, cmd.RequestID)
	if err != nil {
		return err
	}
	switch r.Status {
	case StatusCompleted, StatusDelivered, StatusPaid:
	default:
		return &InvalidTransitionError{From: r.Status, To: r.Status}
	}

	var role string
	switch {
	case r.RequesterID == cmd.RaterID:
		if r.RequesterRating != nil {
			return ErrAlreadyRated
		}
		role = "requester"
	case r.WorkerID != nil && *r.WorkerID == cmd.RaterID:
		if r.WorkerRating != nil {
			return ErrAlreadyRated
		}
		role = "worker"
	default:
		return ErrUnauthorized
	}

	if err := s.store.SetRating(ctx, r.ID, role, Rating{Score: cmd.Score, Comment: cmd.Comment}); err != nil {
		return err
	}
	if role == "requester" && s.ratings != nil && r.WorkerID != nil {
		if err := s.ratings.RecomputeRating(ctx, *r.WorkerID); err != nil {
			s.logger.Warn("recompute worker rating failed", "worker_id", *r.WorkerID, "error", err)
		}
	}
	return nil
}

// Get returns a request to one of its participants.
func (s *Service) Get(ctx context.Context, id, actor types.ID) (*Request, error) {
	r, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.RequesterID != actor && (r.WorkerID == nil || *r.WorkerID != actor) {
		return nil, ErrUnauthorized
	}
	return r, nil
}

func (s *Service) ListForUser(ctx context.Context, userID types.ID, limit int) ([]Request, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return s.store.ListForUser(ctx, userID, limit)
}

// Open reports whether a request is still waiting for a worker. Matching
// rechecks this between notification waves.
func (s *Service) Open(ctx context.Context, id types.ID) (bool, error) {
	r, err := s.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return r.Status == StatusRequested, nil
}

// HandleTimeout resolves a fired deadline against current state. A request
// that moved on since the deadline was armed is left alone.
func (s *Service) HandleTimeout(ctx context.Context, requestID types.ID, kind timeout.Kind) error {
	r, err := s.store.Get(ctx, requestID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}

	switch kind {
	case timeout.KindNoWorker:
		if r.Status != StatusRequested {
			return nil
		}
		if err := s.terminate(ctx, r, StatusCancelledBySystem, "no worker available", "system", nil, false); err != nil {
			return err
		}
		s.push(ctx, r.RequesterID, "No worker found", "Nobody could take your request. Please try again.", r.ID, StatusCancelledBySystem)
		return nil

	case timeout.KindRequesterNoShow:
		if r.Status != StatusArrived {
			return nil
		}
		if err := s.terminate(ctx, r, NoShowStatus(r.Kind), "requester no-show", "system", nil, true); err != nil {
			return err
		}
		if r.WorkerID != nil {
			s.push(ctx, *r.WorkerID, "Request closed", "The requester did not show up.", r.ID, NoShowStatus(r.Kind))
		}
		return nil

	case timeout.KindPaymentPending:
		if r.Payment != PaymentPending {
			return nil
		}
		if err := s.store.SetPayment(ctx, r.ID, PaymentVoided); err != nil {
			return err
		}
		s.record(ctx, "", "payment.voided", r.ID, nil)
		observability.Settlements.WithLabelValues("voided").Inc()
		return nil
	}
	return nil
}

// transition applies a plain CAS status move with kind policy enforced.
func (s *Service) transition(ctx context.Context, r *Request, to Status, actorType string, actorID *types.ID) error {
	if !CanTransition(r.Status, to) || !KindAllows(r.Kind, r.Status, to) {
		return &InvalidTransitionError{From: r.Status, To: to}
	}
	ok, err := s.store.UpdateStatus(ctx, r.ID, r.Status, to, r.StatusVersion, s.now())
	if err != nil {
		return err
	}
	if !ok {
		return ErrConflict
	}
	s.appendEvent(ctx, r.ID, r.Status, to, actorType, actorID)
	return nil
}

// terminate applies a CAS move into a no-charge terminal status, releasing
// the worker if one is attached. clearWorker additionally erases the
// assignment from the request row.
func (s *Service) terminate(ctx context.Context, r *Request, to Status, reason, actorType string, actorID *types.ID, clearWorker bool) error {
	if !CanTransition(r.Status, to) || !KindAllows(r.Kind, r.Status, to) {
		return &InvalidTransitionError{From: r.Status, To: to}
	}
	ok, err := s.store.Terminate(ctx, r.ID, r.Status, to, r.StatusVersion, reason, r.WorkerID != nil, clearWorker, s.now())
	if err != nil {
		return err
	}
	if !ok {
		return ErrConflict
	}
	s.appendEvent(ctx, r.ID, r.Status, to, actorType, actorID)
	s.disarmAll(ctx, r.ID)
	return nil
}

// finalFare prices the actual route under the frozen config and caps it
// against the estimate. Pricing failures fall back to the estimate so a
// finished journey always settles at a defensible number.
func (s *Service) finalFare(ctx context.Context, r *Request, distKm float64, durMin int) types.Money {
	in := pricing.QuoteInput{
		Kind:        string(r.Kind),
		DistanceKm:  distKm,
		DurationMin: durMin,
		At:          s.now(),
	}
	if r.Parcel != nil {
		in.WeightKg = r.Parcel.WeightKg
		in.PackageType = r.Parcel.PackageType
	}
	q, err := s.pricing.QuoteFrozen(ctx, r.PricingConfigID, in)
	if err != nil {
		s.logger.Warn("final fare quote failed, using estimate", "request_id", r.ID, "error", err)
		return r.EstimatedFare
	}
	return pricing.SettleFinal(r.EstimatedFare, q.Fare)
}

// settle runs the wallet transfer for a finished request. version is the
// request's status version after the finish update.
func (s *Service) settle(ctx context.Context, r *Request, from Status, version int, final types.Money) {
	if s.wallet == nil {
		return
	}
	rate, err := s.pricing.CommissionRate(ctx, r.PricingConfigID)
	if err != nil {
		s.logger.Error("commission rate lookup failed", "request_id", r.ID, "error", err)
		rate = pricing.DefaultConfig(string(r.Kind)).CommissionRate
	}
	workerID := types.ID("")
	if r.WorkerID != nil {
		workerID = *r.WorkerID
	}

	err = s.wallet.Settle(ctx, wallet.SettleCommand{
		RequestID:      r.ID,
		RequesterID:    r.RequesterID,
		WorkerID:       workerID,
		Amount:         final,
		CommissionRate: rate,
	})
	if err != nil {
		if errors.Is(err, wallet.ErrInsufficientBalance) {
			s.logger.Info("settlement deferred, insufficient balance", "request_id", r.ID)
			s.push(ctx, r.RequesterID, "Payment pending", "Top up your wallet to settle your last request.", r.ID, from)
		} else {
			s.logger.Error("settlement failed", "request_id", r.ID, "error", err)
		}
		if s.scheduler != nil {
			if serr := s.scheduler.Schedule(ctx, r.ID, timeout.KindPaymentPending, s.timeouts.PaymentPending); serr != nil {
				s.logger.Error("schedule payment deadline failed", "request_id", r.ID, "error", serr)
			}
		}
		observability.Settlements.WithLabelValues("pending").Inc()
		return
	}

	if err := s.store.SetPayment(ctx, r.ID, PaymentSettled); err != nil {
		s.logger.Error("mark payment settled failed", "request_id", r.ID, "error", err)
		return
	}
	if CanTransition(from, StatusPaid) {
		if ok, err := s.store.UpdateStatus(ctx, r.ID, from, StatusPaid, version, s.now()); err != nil {
			s.logger.Error("mark paid failed", "request_id", r.ID, "error", err)
		} else if ok {
			s.appendEvent(ctx, r.ID, from, StatusPaid, "system", nil)
		}
	}
	observability.Settlements.WithLabelValues("settled").Inc()
}

func (s *Service) authorizedWorker(ctx context.Context, requestID, workerID types.ID) (*Request, error) {
	r, err := s.store.Get(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if r.WorkerID == nil || *r.WorkerID != workerID {
		return nil, ErrUnauthorized
	}
	return r, nil
}

func (s *Service) disarmAll(ctx context.Context, id types.ID) {
	if s.scheduler == nil {
		return
	}
	for _, kind := range []timeout.Kind{timeout.KindNoWorker, timeout.KindRequesterNoShow} {
		if err := s.scheduler.Cancel(ctx, id, kind); err != nil {
			s.logger.Error("cancel deadline failed", "request_id", id, "kind", kind, "error", err)
		}
	}
}

func (s *Service) appendEvent(ctx context.Context, id types.ID, from, to Status, actorType string, actorID *types.ID) {
	err := s.store.AppendEvent(ctx, &Event{
		RequestID: id,
		From:      from,
		To:        to,
		ActorType: actorType,
		ActorID:   actorID,
		CreatedAt: s.now(),
	})
	if err != nil {
		s.logger.Warn("append event failed", "request_id", id, "error", err)
	}
}

func (s *Service) push(ctx context.Context, userID types.ID, title, body string, id types.ID, status Status) {
	if s.notifier == nil {
		return
	}
	data := map[string]string{"request_id": string(id), "status": string(status)}
	if err := s.notifier.Notify(ctx, userID, title, body, data); err != nil {
		s.logger.Warn("notify failed", "user_id", userID, "error", err)
	}
}

func (s *Service) record(ctx context.Context, actor types.ID, action string, id types.ID, details map[string]any) {
	if s.audit == nil {
		return
	}
	s.audit.Record(ctx, actor, action, "request", id, details)
}
