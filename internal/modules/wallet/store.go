// README: Postgres persistence for wallets: balance locks and the settlement transaction.
package wallet

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"yoonu/internal/modules/pricing"
	"yoonu/internal/types"
)

type Store interface {
	Balance(ctx context.Context, userID types.ID) (types.Money, error)
	Topup(ctx context.Context, userID types.ID, amount types.Money) error
	Settle(ctx context.Context, cmd SettleCommand) error
	Entries(ctx context.Context, userID types.ID, limit int) ([]Entry, error)
}

type PGStore struct {
	db *pgxpool.Pool
}

func NewPGStore(db *pgxpool.Pool) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Balance(ctx context.Context, userID types.ID) (types.Money, error) {
	var amount int64
	err := s.db.QueryRow(ctx,
		`SELECT balance FROM wallets WHERE user_id = $1`, string(userID)).Scan(&amount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return types.Money{}, ErrWalletNotFound
		}
		return types.Money{}, err
	}
	return types.XOF(amount), nil
}

func (s *PGStore) Topup(ctx context.Context, userID types.ID, amount types.Money) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO wallets (user_id, balance, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (user_id)
		DO UPDATE SET balance = wallets.balance + EXCLUDED.balance, updated_at = now()`,
		string(userID), amount.Amount)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO wallet_entries (user_id, kind, amount, created_at)
		VALUES ($1, $2, $3, now())`,
		string(userID), string(EntryTopup), amount.Amount)
	if err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Settle debits the requester and credits the worker and the platform in one
// transaction. Wallets are locked in a fixed order to avoid deadlocks between
// concurrent settlements. Re-settling the same request is a no-op.
func (s *PGStore) Settle(ctx context.Context, cmd SettleCommand) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var done bool
	err = tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM wallet_entries WHERE request_id = $1 AND kind = $2
		)`, string(cmd.RequestID), string(EntryDebit)).Scan(&done)
	if err != nil {
		return err
	}
	if done {
		return nil
	}

	var balance int64
	err = tx.QueryRow(ctx,
		`SELECT balance FROM wallets WHERE user_id = $1 FOR UPDATE`,
		string(cmd.RequesterID)).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrInsufficientBalance
		}
		return err
	}
	if balance < cmd.Amount.Amount {
		return ErrInsufficientBalance
	}

	commission, workerShare := pricing.Commission(cmd.Amount, cmd.CommissionRate)

	moves := []struct {
		user   types.ID
		kind   EntryKind
		amount int64
	}{
		{cmd.RequesterID, EntryDebit, -cmd.Amount.Amount},
		{cmd.WorkerID, EntryCredit, workerShare.Amount},
		{PlatformAccount, EntryCommission, commission.Amount},
	}
	for _, m := range moves {
		_, err = tx.Exec(ctx, `
			INSERT INTO wallets (user_id, balance, updated_at)
			VALUES ($1, $2, now())
			ON CONFLICT (user_id)
			DO UPDATE SET balance = wallets.balance + EXCLUDED.balance, updated_at = now()`,
			string(m.user), m.amount)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO wallet_entries (user_id, request_id, kind, amount, created_at)
			VALUES ($1, $2, $3, $4, now())`,
			string(m.user), string(cmd.RequestID), string(m.kind), m.amount)
		if err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (s *PGStore) Entries(ctx context.Context, userID types.ID, limit int) ([]Entry, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, user_id, coalesce(request_id, ''), kind, amount, created_at
		FROM wallet_entries
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, string(userID), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e        Entry
			uid, rid string
			kind     string
			amount   int64
		)
		if err := rows.Scan(&e.ID, &uid, &rid, &kind, &amount, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.UserID = types.ID(uid)
		e.RequestID = types.ID(rid)
		e.Kind = EntryKind(kind)
		e.Amount = types.XOF(amount)
		out = append(out, e)
	}
	return out, rows.Err()
}
