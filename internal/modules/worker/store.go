// README: Postgres persistence for worker presence and capabilities.
package worker

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

type Store interface {
	Get(ctx context.Context, id types.ID) (Worker, error)
	SetOnline(ctx context.Context, id types.ID, online bool) error
	SetAvailable(ctx context.Context, id types.ID, available bool) error
	UpdatePosition(ctx context.Context, id types.ID, pt types.Point, at time.Time) error
	Eligible(ctx context.Context, ids []types.ID, req Requirements, freshness time.Duration) ([]types.ID, error)
	RecomputeRating(ctx context.Context, id types.ID) error
}

type PGStore struct {
	db *pgxpool.Pool
}

func NewPGStore(db *pgxpool.Pool) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Get(ctx context.Context, id types.ID) (Worker, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, online, available, capabilities, lat, lng, position_at, rating, rating_count
		FROM workers
		WHERE id = $1`, string(id))

	var (
		w    Worker
		wid  string
		caps []byte
	)
	err := row.Scan(&wid, &w.Online, &w.Available, &caps, &w.Position.Lat, &w.Position.Lng,
		&w.PositionAt, &w.Rating, &w.RatingCount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Worker{}, ErrNotFound
		}
		return Worker{}, fmt.Errorf("scan worker: %w", err)
	}
	w.ID = types.ID(wid)
	if len(caps) > 0 {
		if err := json.Unmarshal(caps, &w.Capabilities); err != nil {
			return Worker{}, fmt.Errorf("decode capabilities: %w", err)
		}
	}
	return w, nil
}

func (s *PGStore) SetOnline(ctx context.Context, id types.ID, online bool) error {
	// Going offline always clears availability too.
	tag, err := s.db.Exec(ctx, `
		UPDATE workers
		SET online = $2, available = available AND $2
		WHERE id = $1`, string(id), online)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PGStore) SetAvailable(ctx context.Context, id types.ID, available bool) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE workers
		SET available = $2
		WHERE id = $1 AND online = true`, string(id), available)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrOffline
	}
	return nil
}

func (s *PGStore) UpdatePosition(ctx context.Context, id types.ID, pt types.Point, at time.Time) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE workers
		SET lat = $2, lng = $3, position_at = $4
		WHERE id = $1`, string(id), pt.Lat, pt.Lng, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Eligible filters candidate ids down to workers who are online, available,
// reported a position recently, and whose capabilities cover the requirements.
// The capability check runs in Go since it reads a JSON column. The result
// keeps the caller's id order: matching passes ids sorted by distance and
// notifies the closest first.
func (s *PGStore) Eligible(ctx context.Context, ids []types.ID, req Requirements, freshness time.Duration) ([]types.ID, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	raw := make([]string, len(ids))
	for i, id := range ids {
		raw[i] = string(id)
	}

	rows, err := s.db.Query(ctx, `
		SELECT id, capabilities
		FROM workers
		WHERE id = ANY($1)
		  AND online = true
		  AND available = true
		  AND position_at > now() - make_interval(secs => $2)`,
		raw, freshness.Seconds())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	keep := make(map[types.ID]bool, len(ids))
	for rows.Next() {
		var (
			id   string
			caps []byte
		)
		if err := rows.Scan(&id, &caps); err != nil {
			return nil, err
		}
		var c Capabilities
		if len(caps) > 0 {
			if err := json.Unmarshal(caps, &c); err != nil {
				return nil, fmt.Errorf("decode capabilities: %w", err)
			}
		}
		if c.Supports(req) {
			keep[types.ID(id)] = true
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return orderedSubset(ids, keep), nil
}

// orderedSubset returns the members of ids that keep marks, in the order ids
// gives them. The database returns rows in arbitrary order, so the caller's
// ordering has to be reimposed.
func orderedSubset(ids []types.ID, keep map[types.ID]bool) []types.ID {
	var out []types.ID
	for _, id := range ids {
		if keep[id] {
			out = append(out, id)
		}
	}
	return out
}

// RecomputeRating refreshes the worker's aggregate from the reviews left on
// their finished requests.
func (s *PGStore) RecomputeRating(ctx context.Context, id types.ID) error {
	_, err := s.db.Exec(ctx, `
		UPDATE workers SET rating = sub.avg_score, rating_count = sub.n
		FROM (
			SELECT coalesce(avg(requester_score), 0)::float8 AS avg_score, count(requester_score) AS n
			FROM requests
			WHERE worker_id = $1 AND requester_score IS NOT NULL
		) sub
		WHERE id = $1`, string(id))
	return err
}
