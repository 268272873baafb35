// README: Postgres persistence for requests, with the claim transaction at its core.
package request

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"yoonu/internal/types"
)

// Store is the persistence boundary of the request lifecycle. All mutating
// methods that take (from, version) are compare-and-swap updates: they return
// false when another actor moved the request first.
type Store interface {
	Create(ctx context.Context, r *Request) error
	Get(ctx context.Context, id types.ID) (*Request, error)
	HasActiveByRequester(ctx context.Context, requesterID types.ID) (bool, error)
	Claim(ctx context.Context, requestID, workerID types.ID, at time.Time) (*Request, error)
	UpdateStatus(ctx context.Context, id types.ID, from, to Status, version int, at time.Time) (bool, error)
	Finish(ctx context.Context, id types.ID, from, to Status, version int, final types.Money, at time.Time) (bool, error)
	Terminate(ctx context.Context, id types.ID, from, to Status, version int, reason string, releaseWorker, clearWorker bool, at time.Time) (bool, error)
	SetPayment(ctx context.Context, id types.ID, state PaymentState) error
	SetRating(ctx context.Context, id types.ID, role string, rating Rating) error
	ListForUser(ctx context.Context, userID types.ID, limit int) ([]Request, error)
	AppendEvent(ctx context.Context, e *Event) error
}

type PGStore struct {
	db *pgxpool.Pool
}

func NewPGStore(db *pgxpool.Pool) *PGStore {
	return &PGStore{db: db}
}

const requestColumns = `
	id, code, kind, requester_id, worker_id, status, status_version, payment,
	pickup_lat, pickup_lng, dropoff_lat, dropoff_lng, parcel,
	estimated_fare, final_fare, pricing_config_id, distance_km, duration_min,
	requester_score, requester_comment, worker_score, worker_comment,
	cancel_reason, created_at, assigned_at, arrived_at, started_at, finished_at`

func (s *PGStore) Create(ctx context.Context, r *Request) error {
	var parcel []byte
	if r.Parcel != nil {
		b, err := json.Marshal(r.Parcel)
		if err != nil {
			return fmt.Errorf("encode parcel details: %w", err)
		}
		parcel = b
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO requests (
			id, code, kind, requester_id, status, status_version, payment,
			pickup_lat, pickup_lng, dropoff_lat, dropoff_lng, parcel,
			estimated_fare, pricing_config_id, distance_km, duration_min, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`,
		string(r.ID), r.Code, string(r.Kind), string(r.RequesterID), string(r.Status),
		r.StatusVersion, string(r.Payment),
		r.Pickup.Lat, r.Pickup.Lng, r.Dropoff.Lat, r.Dropoff.Lng, parcel,
		r.EstimatedFare.Amount, string(r.PricingConfigID), r.DistanceKm, r.DurationMin,
		r.CreatedAt)
	return err
}

func (s *PGStore) Get(ctx context.Context, id types.ID) (*Request, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+requestColumns+` FROM requests WHERE id = $1`, string(id))
	return scanRequest(row)
}

func (s *PGStore) HasActiveByRequester(ctx context.Context, requesterID types.ID) (bool, error) {
	var n int
	err := s.db.QueryRow(ctx, `
		SELECT count(*) FROM requests
		WHERE requester_id = $1
		  AND status IN ('REQUESTED','ASSIGNED','ARRIVED','IN_PROGRESS')`,
		string(requesterID)).Scan(&n)
	return n > 0, err
}

// Claim atomically assigns a worker to an open request. The request row is
// locked first so two workers racing for the same request serialize here;
// the loser sees a non-REQUESTED status and gets ErrAlreadyAccepted. The
// worker's availability flips in the same transaction.
func (s *PGStore) Claim(ctx context.Context, requestID, workerID types.ID, at time.Time) (*Request, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	var (
		status  string
		version int
	)
	err = tx.QueryRow(ctx,
		`SELECT status, status_version FROM requests WHERE id = $1 FOR UPDATE`,
		string(requestID)).Scan(&status, &version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if Status(status) != StatusRequested {
		return nil, ErrAlreadyAccepted
	}

	tag, err := tx.Exec(ctx, `
		UPDATE workers SET available = false
		WHERE id = $1 AND online = true AND available = true`,
		string(workerID))
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrWorkerUnavailable
	}

	// The lock already serialized us, but the conditional update keeps the
	// claim correct even if the locking discipline ever changes.
	claim, err := tx.Exec(ctx, `
		UPDATE requests
		SET status = $2, status_version = status_version + 1,
		    worker_id = $3, assigned_at = $4
		WHERE id = $1 AND status = $5`,
		string(requestID), string(StatusAssigned), string(workerID), at,
		string(StatusRequested))
	if err != nil {
		return nil, err
	}
	if claim.RowsAffected() == 0 {
		return nil, ErrAlreadyAccepted
	}

	row := tx.QueryRow(ctx,
		`SELECT `+requestColumns+` FROM requests WHERE id = $1`, string(requestID))
	r, err := scanRequest(row)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

var statusTimestampColumn = map[Status]string{
	StatusArrived:    "arrived_at",
	StatusInProgress: "started_at",
}

func (s *PGStore) UpdateStatus(ctx context.Context, id types.ID, from, to Status, version int, at time.Time) (bool, error) {
	col, ok := statusTimestampColumn[to]
	stamp := ""
	if ok {
		stamp = ", " + col + " = $5"
	}
	args := []any{string(id), string(from), string(to), version}
	if ok {
		args = append(args, at)
	}
	tag, err := s.db.Exec(ctx, `
		UPDATE requests
		SET status = $3, status_version = status_version + 1`+stamp+`
		WHERE id = $1 AND status = $2 AND status_version = $4`,
		args...)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// Finish records a successful journey end: final fare frozen, payment moved
// to PENDING, and the worker released, all in one transaction.
func (s *PGStore) Finish(ctx context.Context, id types.ID, from, to Status, version int, final types.Money, at time.Time) (bool, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE requests
		SET status = $3, status_version = status_version + 1,
		    final_fare = $5, payment = $6, finished_at = $7
		WHERE id = $1 AND status = $2 AND status_version = $4`,
		string(id), string(from), string(to), version,
		final.Amount, string(PaymentPending), at)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	_, err = tx.Exec(ctx, `
		UPDATE workers SET available = true
		WHERE id = (SELECT worker_id FROM requests WHERE id = $1) AND online = true`,
		string(id))
	if err != nil {
		return false, err
	}
	return true, tx.Commit(ctx)
}

// Terminate moves a request to a terminal status with no money owed. On
// worker-side and system cancellations the assignment is erased; a
// requester-side cancel keeps the worker id for history, so clearWorker
// stays false there.
func (s *PGStore) Terminate(ctx context.Context, id types.ID, from, to Status, version int, reason string, releaseWorker, clearWorker bool, at time.Time) (bool, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	// Read the assignment under lock before the update can null it.
	var workerID *string
	err = tx.QueryRow(ctx,
		`SELECT worker_id FROM requests WHERE id = $1 FOR UPDATE`,
		string(id)).Scan(&workerID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, err
	}

	tag, err := tx.Exec(ctx, `
		UPDATE requests
		SET status = $3, status_version = status_version + 1,
		    cancel_reason = $5, finished_at = $6,
		    worker_id = CASE WHEN $7 THEN NULL ELSE worker_id END
		WHERE id = $1 AND status = $2 AND status_version = $4`,
		string(id), string(from), string(to), version, reason, at, clearWorker)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	if releaseWorker && workerID != nil {
		_, err = tx.Exec(ctx, `
			UPDATE workers SET available = true
			WHERE id = $1 AND online = true`, *workerID)
		if err != nil {
			return false, err
		}
	}
	return true, tx.Commit(ctx)
}

func (s *PGStore) SetPayment(ctx context.Context, id types.ID, state PaymentState) error {
	_, err := s.db.Exec(ctx,
		`UPDATE requests SET payment = $2 WHERE id = $1`, string(id), string(state))
	return err
}

// SetRating records one party's review. role is "requester" or "worker";
// each writes once, enforced by the IS NULL predicate.
func (s *PGStore) SetRating(ctx context.Context, id types.ID, role string, rating Rating) error {
	col := "requester"
	if role == "worker" {
		col = "worker"
	}
	_, err := s.db.Exec(ctx, `
		UPDATE requests SET `+col+`_score = $2, `+col+`_comment = $3
		WHERE id = $1 AND `+col+`_score IS NULL`,
		string(id), rating.Score, rating.Comment)
	return err
}

func (s *PGStore) ListForUser(ctx context.Context, userID types.ID, limit int) ([]Request, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+requestColumns+` FROM requests
		WHERE requester_id = $1 OR worker_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, string(userID), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Request
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func (s *PGStore) AppendEvent(ctx context.Context, e *Event) error {
	var actorID *string
	if e.ActorID != nil {
		v := string(*e.ActorID)
		actorID = &v
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO request_events (request_id, from_status, to_status, actor_type, actor_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		string(e.RequestID), string(e.From), string(e.To), e.ActorType, actorID, e.CreatedAt)
	return err
}

func scanRequest(row pgx.Row) (*Request, error) {
	var (
		r                Request
		id, reqID        string
		kind             string
		status           string
		payment          string
		workerID         *string
		parcel           []byte
		finalFare        *int64
		configID         string
		reqScore, wScore *int
		reqNote, wNote   *string
	)
	err := row.Scan(
		&id, &r.Code, &kind, &reqID, &workerID, &status, &r.StatusVersion, &payment,
		&r.Pickup.Lat, &r.Pickup.Lng, &r.Dropoff.Lat, &r.Dropoff.Lng, &parcel,
		&r.EstimatedFare.Amount, &finalFare, &configID, &r.DistanceKm, &r.DurationMin,
		&reqScore, &reqNote, &wScore, &wNote,
		&r.CancelReason, &r.CreatedAt, &r.AssignedAt, &r.ArrivedAt,
		&r.StartedAt, &r.FinishedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan request: %w", err)
	}

	r.ID = types.ID(id)
	r.Kind = Kind(kind)
	r.RequesterID = types.ID(reqID)
	r.Status = Status(status)
	r.Payment = PaymentState(payment)
	r.PricingConfigID = types.ID(configID)
	r.EstimatedFare.Currency = "XOF"
	if workerID != nil {
		wid := types.ID(*workerID)
		r.WorkerID = &wid
	}
	r.RequesterRating = scannedRating(reqScore, reqNote)
	r.WorkerRating = scannedRating(wScore, wNote)
	if finalFare != nil {
		m := types.XOF(*finalFare)
		r.FinalFare = &m
	}
	if len(parcel) > 0 {
		var p ParcelDetails
		if err := json.Unmarshal(parcel, &p); err != nil {
			return nil, fmt.Errorf("decode parcel details: %w", err)
		}
		r.Parcel = &p
	}
	return &r, nil
}

func scannedRating(score *int, comment *string) *Rating {
	if score == nil {
		return nil
	}
	rt := Rating{Score: *score}
	if comment != nil {
		rt.Comment = *comment
	}
	return &rt
}
