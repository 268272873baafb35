// README: Postgres persistence for fare configs.
package pricing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"yoonu/internal/types"
)

// Store loads and edits fare schedules. Implemented by PGStore in production
// and by in-memory fakes in tests.
type Store interface {
	ActiveConfig(ctx context.Context, kind string) (Config, error)
	ConfigByID(ctx context.Context, id types.ID) (Config, error)
	List(ctx context.Context) ([]Config, error)
	Update(ctx context.Context, id types.ID, upd ConfigUpdate) (Config, error)
}

type PGStore struct {
	db *pgxpool.Pool
}

func NewPGStore(db *pgxpool.Pool) *PGStore {
	return &PGStore{db: db}
}

const configColumns = `id, kind, base_fare, cost_per_km, cost_per_minute,
	commission_rate, max_distance_km, time_slots, active, created_at`

func (s *PGStore) ActiveConfig(ctx context.Context, kind string) (Config, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+configColumns+`
		FROM pricing_configs
		WHERE active = true AND kind = $1
		ORDER BY created_at DESC
		LIMIT 1`, kind)
	return scanConfig(row)
}

func (s *PGStore) ConfigByID(ctx context.Context, id types.ID) (Config, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+configColumns+`
		FROM pricing_configs
		WHERE id = $1`, string(id))
	return scanConfig(row)
}

func (s *PGStore) List(ctx context.Context) ([]Config, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+configColumns+`
		FROM pricing_configs
		ORDER BY kind, created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list pricing configs: %w", err)
	}
	defer rows.Close()

	var out []Config
	for rows.Next() {
		cfg, err := scanConfig(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cfg)
	}
	return out, rows.Err()
}

// Update edits a config in place. Activating a config deactivates every
// other config of the same kind inside the same transaction.
func (s *PGStore) Update(ctx context.Context, id types.ID, upd ConfigUpdate) (Config, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return Config{}, fmt.Errorf("begin update config: %w", err)
	}
	defer tx.Rollback(ctx)

	var slots []byte
	if upd.TimeSlots != nil {
		slots, err = json.Marshal(*upd.TimeSlots)
		if err != nil {
			return Config{}, fmt.Errorf("encode time slots: %w", err)
		}
	}

	row := tx.QueryRow(ctx, `
		UPDATE pricing_configs SET
			base_fare       = coalesce($2, base_fare),
			cost_per_km     = coalesce($3, cost_per_km),
			cost_per_minute = coalesce($4, cost_per_minute),
			commission_rate = coalesce($5, commission_rate),
			max_distance_km = coalesce($6, max_distance_km),
			time_slots      = coalesce($7, time_slots),
			active          = coalesce($8, active)
		WHERE id = $1
		RETURNING `+configColumns,
		string(id), upd.BaseFare, upd.CostPerKm, upd.CostPerMinute,
		upd.CommissionRate, upd.MaxDistanceKm, slots, upd.Active)
	cfg, err := scanConfig(row)
	if err != nil {
		return Config{}, err
	}

	if upd.Active != nil && *upd.Active {
		_, err = tx.Exec(ctx, `
			UPDATE pricing_configs SET active = false
			WHERE kind = $1 AND id <> $2 AND active = true`,
			cfg.Kind, string(id))
		if err != nil {
			return Config{}, fmt.Errorf("deactivate sibling configs: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Config{}, fmt.Errorf("commit update config: %w", err)
	}
	return cfg, nil
}

func scanConfig(row pgx.Row) (Config, error) {
	var (
		cfg   Config
		id    string
		slots []byte
	)
	err := row.Scan(&id, &cfg.Kind, &cfg.BaseFare, &cfg.CostPerKm, &cfg.CostPerMinute,
		&cfg.CommissionRate, &cfg.MaxDistanceKm, &slots, &cfg.Active, &cfg.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Config{}, ErrNotFound
		}
		return Config{}, fmt.Errorf("scan pricing config: %w", err)
	}
	cfg.ID = types.ID(id)
	if len(slots) > 0 {
		if err := json.Unmarshal(slots, &cfg.TimeSlots); err != nil {
			return Config{}, fmt.Errorf("decode time slots: %w", err)
		}
	}
	return cfg, nil
}
