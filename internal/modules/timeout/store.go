// README: Postgres persistence for timeout records.
package timeout

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"yoonu/internal/types"
)

type Store interface {
	Schedule(ctx context.Context, requestID types.ID, kind Kind, executeAt time.Time) error
	Cancel(ctx context.Context, requestID types.ID, kind Kind) error
	Due(ctx context.Context, now time.Time, limit int) ([]Record, error)
	MarkProcessed(ctx context.Context, id int64) error
}

type PGStore struct {
	db *pgxpool.Pool
}

func NewPGStore(db *pgxpool.Pool) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Schedule(ctx context.Context, requestID types.ID, kind Kind, executeAt time.Time) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO timeout_records (request_id, kind, execute_at, processed)
		VALUES ($1, $2, $3, false)
		ON CONFLICT (request_id, kind)
		DO UPDATE SET execute_at = EXCLUDED.execute_at, processed = false`,
		string(requestID), string(kind), executeAt)
	return err
}

func (s *PGStore) Cancel(ctx context.Context, requestID types.ID, kind Kind) error {
	_, err := s.db.Exec(ctx, `
		UPDATE timeout_records
		SET processed = true
		WHERE request_id = $1 AND kind = $2 AND processed = false`,
		string(requestID), string(kind))
	return err
}

func (s *PGStore) Due(ctx context.Context, now time.Time, limit int) ([]Record, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, request_id, kind, execute_at, processed
		FROM timeout_records
		WHERE processed = false AND execute_at <= $1
		ORDER BY execute_at
		LIMIT $2`, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var (
			r    Record
			rid  string
			kind string
		)
		if err := rows.Scan(&r.ID, &rid, &kind, &r.ExecuteAt, &r.Processed); err != nil {
			return nil, err
		}
		r.RequestID = types.ID(rid)
		r.Kind = Kind(kind)
		records = append(records, r)
	}
	return records, rows.Err()
}

func (s *PGStore) MarkProcessed(ctx context.Context, id int64) error {
	_, err := s.db.Exec(ctx, `UPDATE timeout_records SET processed = true WHERE id = $1`, id)
	return err
}
