// README: Postgres persistence for idempotency records, with expiry on read.
package idempotency

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"yoonu/internal/types"
)

type Store interface {
	Get(ctx context.Context, token string, userID types.ID, endpoint string, now time.Time) (*Record, error)
	Save(ctx context.Context, rec *Record) error
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

type PGStore struct {
	db *pgxpool.Pool
}

func NewPGStore(db *pgxpool.Pool) *PGStore {
	return &PGStore{db: db}
}

// Get returns the cached record, deleting it instead when it expired.
func (s *PGStore) Get(ctx context.Context, token string, userID types.ID, endpoint string, now time.Time) (*Record, error) {
	row := s.db.QueryRow(ctx, `
		SELECT token, user_id, endpoint, status_code, body, created_at, expires_at
		FROM idempotency_records
		WHERE token = $1 AND user_id = $2 AND endpoint = $3`,
		token, string(userID), endpoint)

	var (
		rec Record
		uid string
	)
	err := row.Scan(&rec.Token, &uid, &rec.Endpoint, &rec.StatusCode, &rec.Body, &rec.CreatedAt, &rec.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if !rec.ExpiresAt.After(now) {
		_, _ = s.db.Exec(ctx, `
			DELETE FROM idempotency_records
			WHERE token = $1 AND user_id = $2 AND endpoint = $3`,
			token, string(userID), endpoint)
		return nil, ErrNotFound
	}
	rec.UserID = types.ID(uid)
	return &rec, nil
}

func (s *PGStore) Save(ctx context.Context, rec *Record) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO idempotency_records (token, user_id, endpoint, status_code, body, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (token, user_id, endpoint) DO NOTHING`,
		rec.Token, string(rec.UserID), rec.Endpoint, rec.StatusCode, []byte(rec.Body),
		rec.CreatedAt, rec.ExpiresAt)
	return err
}

func (s *PGStore) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx,
		`DELETE FROM idempotency_records WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
