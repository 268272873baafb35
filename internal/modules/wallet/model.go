// README: Wallet domain model: balances and the settlement journal.
package wallet

import (
	"errors"
	"time"

	"yoonu/internal/types"
)

var (
	ErrWalletNotFound      = errors.New("wallet not found")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrBadAmount           = errors.New("amount must be positive")
)

// PlatformAccount is the well-known wallet that accumulates commissions.
const PlatformAccount types.ID = "platform"

type EntryKind string

const (
	EntryDebit      EntryKind = "debit"
	EntryCredit     EntryKind = "credit"
	EntryCommission EntryKind = "commission"
	EntryTopup      EntryKind = "topup"
)

type Wallet struct {
	UserID    types.ID    `json:"user_id"`
	Balance   types.Money `json:"balance"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// Entry is one journal row. Settlement writes a debit, a credit, and a
// commission row in a single transaction, so the journal always sums to zero
// across a request.
type Entry struct {
	ID        int64       `json:"id"`
	UserID    types.ID    `json:"user_id"`
	RequestID types.ID    `json:"request_id,omitempty"`
	Kind      EntryKind   `json:"kind"`
	Amount    types.Money `json:"amount"`
	CreatedAt time.Time   `json:"created_at"`
}

// SettleCommand moves a final fare from requester to worker, minus the
// platform commission.
type SettleCommand struct {
	RequestID      types.ID
	RequesterID    types.ID
	WorkerID       types.ID
	Amount         types.Money
	CommissionRate float64
}
