// README: Wallet service tests over an in-memory journal.
package wallet

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"yoonu/internal/modules/pricing"
	"yoonu/internal/types"
)

// memStore mirrors the Postgres store: balance upserts, a journal, the
// existing-debit idempotence check, and the insufficient-funds check.
type memStore struct {
	mu       sync.Mutex
	balances map[types.ID]int64
	entries  []Entry
	nextID   int64
}

func newMemStore() *memStore {
	return &memStore{balances: map[types.ID]int64{}}
}

func (m *memStore) Balance(_ context.Context, userID types.ID) (types.Money, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	bal, ok := m.balances[userID]
	if !ok {
		return types.Money{}, ErrWalletNotFound
	}
	return types.XOF(bal), nil
}

func (m *memStore) appendLocked(user types.ID, request types.ID, kind EntryKind, amount int64) {
	m.nextID++
	m.balances[user] += amount
	m.entries = append(m.entries, Entry{
		ID:        m.nextID,
		UserID:    user,
		RequestID: request,
		Kind:      kind,
		Amount:    types.XOF(amount),
		CreatedAt: time.Now(),
	})
}

func (m *memStore) Topup(_ context.Context, userID types.ID, amount types.Money) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appendLocked(userID, "", EntryTopup, amount.Amount)
	return nil
}

func (m *memStore) Settle(_ context.Context, cmd SettleCommand) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entries {
		if e.RequestID == cmd.RequestID && e.Kind == EntryDebit {
			return nil
		}
	}
	if m.balances[cmd.RequesterID] < cmd.Amount.Amount {
		return ErrInsufficientBalance
	}
	commission, workerShare := pricing.Commission(cmd.Amount, cmd.CommissionRate)
	m.appendLocked(cmd.RequesterID, cmd.RequestID, EntryDebit, -cmd.Amount.Amount)
	m.appendLocked(cmd.WorkerID, cmd.RequestID, EntryCredit, workerShare.Amount)
	m.appendLocked(PlatformAccount, cmd.RequestID, EntryCommission, commission.Amount)
	return nil
}

func (m *memStore) Entries(_ context.Context, userID types.ID, limit int) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Entry
	for i := len(m.entries) - 1; i >= 0 && len(out) < limit; i-- {
		if m.entries[i].UserID == userID {
			out = append(out, m.entries[i])
		}
	}
	return out, nil
}

func testService(store Store) *Service {
	return NewService(store, slog.New(slog.DiscardHandler))
}

func TestBalanceWithoutWalletIsZero(t *testing.T) {
	svc := testService(newMemStore())

	bal, err := svc.Balance(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if bal.Amount != 0 {
		t.Fatalf("balance = %d, want 0", bal.Amount)
	}
}

func TestTopupRejectsNonPositiveAmounts(t *testing.T) {
	svc := testService(newMemStore())
	ctx := context.Background()

	for _, amount := range []int64{0, -100} {
		if err := svc.Topup(ctx, "rider", types.XOF(amount)); !errors.Is(err, ErrBadAmount) {
			t.Fatalf("Topup(%d) = %v, want ErrBadAmount", amount, err)
		}
	}
	if err := svc.Topup(ctx, "rider", types.XOF(5000)); err != nil {
		t.Fatalf("Topup: %v", err)
	}
	bal, _ := svc.Balance(ctx, "rider")
	if bal.Amount != 5000 {
		t.Fatalf("balance = %d, want 5000", bal.Amount)
	}
}

func TestSettleSplitsFare(t *testing.T) {
	store := newMemStore()
	svc := testService(store)
	ctx := context.Background()

	if err := svc.Topup(ctx, "rider", types.XOF(5000)); err != nil {
		t.Fatalf("Topup: %v", err)
	}

	cmd := SettleCommand{
		RequestID:      "req-1",
		RequesterID:    "rider",
		WorkerID:       "driver",
		Amount:         types.XOF(2750),
		CommissionRate: 0.20,
	}
	if err := svc.Settle(ctx, cmd); err != nil {
		t.Fatalf("Settle: %v", err)
	}

	want := map[types.ID]int64{
		"rider":         2250,
		"driver":        2200,
		PlatformAccount: 550,
	}
	for user, amount := range want {
		bal, err := svc.Balance(ctx, user)
		if err != nil {
			t.Fatalf("Balance(%s): %v", user, err)
		}
		if bal.Amount != amount {
			t.Errorf("balance(%s) = %d, want %d", user, bal.Amount, amount)
		}
	}

	// The journal for one request sums to zero.
	var sum int64
	for _, e := range store.entries {
		if e.RequestID == "req-1" {
			sum += e.Amount.Amount
		}
	}
	if sum != 0 {
		t.Fatalf("journal sum for req-1 = %d, want 0", sum)
	}
}

func TestSettleIsIdempotentPerRequest(t *testing.T) {
	svc := testService(newMemStore())
	ctx := context.Background()

	if err := svc.Topup(ctx, "rider", types.XOF(10000)); err != nil {
		t.Fatalf("Topup: %v", err)
	}
	cmd := SettleCommand{
		RequestID:      "req-1",
		RequesterID:    "rider",
		WorkerID:       "driver",
		Amount:         types.XOF(2500),
		CommissionRate: 0.20,
	}
	for i := 0; i < 3; i++ {
		if err := svc.Settle(ctx, cmd); err != nil {
			t.Fatalf("Settle #%d: %v", i+1, err)
		}
	}
	bal, _ := svc.Balance(ctx, "rider")
	if bal.Amount != 7500 {
		t.Fatalf("balance after re-settles = %d, want 7500", bal.Amount)
	}
}

func TestSettleInsufficientBalance(t *testing.T) {
	svc := testService(newMemStore())
	ctx := context.Background()

	if err := svc.Topup(ctx, "rider", types.XOF(1000)); err != nil {
		t.Fatalf("Topup: %v", err)
	}
	err := svc.Settle(ctx, SettleCommand{
		RequestID:      "req-1",
		RequesterID:    "rider",
		WorkerID:       "driver",
		Amount:         types.XOF(2500),
		CommissionRate: 0.20,
	})
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("Settle = %v, want ErrInsufficientBalance", err)
	}
	bal, _ := svc.Balance(ctx, "rider")
	if bal.Amount != 1000 {
		t.Fatalf("balance after failed settle = %d, want 1000", bal.Amount)
	}
}

func TestEntriesLimitClamped(t *testing.T) {
	store := newMemStore()
	svc := testService(store)
	ctx := context.Background()

	for i := 0; i < 60; i++ {
		if err := svc.Topup(ctx, "rider", types.XOF(100)); err != nil {
			t.Fatalf("Topup: %v", err)
		}
	}
	entries, err := svc.Entries(ctx, "rider", 0)
	if err != nil {
		t.Fatalf("Entries: %v", err)
	}
	if len(entries) != 50 {
		t.Fatalf("Entries with limit 0 returned %d, want default 50", len(entries))
	}
	entries, err = svc.Entries(ctx, "rider", 500)
	if err != nil {
		t.Fatalf("Entries: %v", err)
	}
	if len(entries) != 50 {
		t.Fatalf("Entries with limit 500 returned %d, want clamped 50", len(entries))
	}
}
