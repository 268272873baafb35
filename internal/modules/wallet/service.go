// README: Wallet service: balance reads, top-ups, and fare settlement.
package wallet

import (
	"context"
	"log/slog"

	"yoonu/internal/types"
)

type Service struct {
	store  Store
	logger *slog.Logger
}

func NewService(store Store, logger *slog.Logger) *Service {
	return &Service{store: store, logger: logger}
}

func (s *Service) Balance(ctx context.Context, userID types.ID) (types.Money, error) {
	bal, err := s.store.Balance(ctx, userID)
	if err == ErrWalletNotFound {
		// A user with no wallet row simply has nothing in it yet.
		return types.XOF(0), nil
	}
	return bal, err
}

func (s *Service) Topup(ctx context.Context, userID types.ID, amount types.Money) error {
	if amount.Amount <= 0 {
		return ErrBadAmount
	}
	if err := s.store.Topup(ctx, userID, amount); err != nil {
		return err
	}
	s.logger.Info("wallet topup", "user_id", userID, "amount", amount.Amount)
	return nil
}

// Settle moves a final fare from requester to worker minus commission.
// Callers translate ErrInsufficientBalance into a deferred payment.
func (s *Service) Settle(ctx context.Context, cmd SettleCommand) error {
	if cmd.Amount.Amount <= 0 {
		return ErrBadAmount
	}
	if err := s.store.Settle(ctx, cmd); err != nil {
		return err
	}
	s.logger.Info("settlement complete",
		"request_id", cmd.RequestID,
		"amount", cmd.Amount.Amount,
		"commission_rate", cmd.CommissionRate,
	)
	return nil
}

func (s *Service) Entries(ctx context.Context, userID types.ID, limit int) ([]Entry, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return s.store.Entries(ctx, userID, limit)
}
