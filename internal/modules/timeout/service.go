// README: Timeout sweeper: periodically fires expired deadlines through a handler.
package timeout

import (
	"context"
	"log/slog"
	"time"

	"yoonu/internal/observability"
	"yoonu/internal/types"
)

// sweepBatchSize bounds how many due records one sweep picks up.
const sweepBatchSize = 100

// Handler resolves one fired deadline. The request module implements this;
// keeping it an interface here avoids a dependency from scheduling back into
// request semantics.
type Handler interface {
	HandleTimeout(ctx context.Context, requestID types.ID, kind Kind) error
}

type Service struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

func NewService(store Store, logger *slog.Logger) *Service {
	return &Service{store: store, logger: logger, now: time.Now}
}

// Schedule arms (or re-arms) a deadline of the given kind for a request.
func (s *Service) Schedule(ctx context.Context, requestID types.ID, kind Kind, after time.Duration) error {
	return s.store.Schedule(ctx, requestID, kind, s.now().Add(after))
}

// Cancel disarms a pending deadline. Cancelling one that never existed or
// already fired is a no-op.
func (s *Service) Cancel(ctx context.Context, requestID types.ID, kind Kind) error {
	return s.store.Cancel(ctx, requestID, kind)
}

// ProcessExpired fires every due deadline in one batch and returns how many
// it handled. Records are marked processed even when the handler fails: the
// handler re-reads current state and a request that moved on since the
// deadline was armed is not an error worth retrying.
func (s *Service) ProcessExpired(ctx context.Context, h Handler) (int, error) {
	due, err := s.store.Due(ctx, s.now(), sweepBatchSize)
	if err != nil {
		return 0, err
	}

	for _, rec := range due {
		if err := h.HandleTimeout(ctx, rec.RequestID, rec.Kind); err != nil {
			s.logger.Warn("timeout handler failed",
				"request_id", rec.RequestID,
				"kind", rec.Kind,
				"error", err,
			)
		}
		if err := s.store.MarkProcessed(ctx, rec.ID); err != nil {
			return 0, err
		}
		observability.TimeoutsProcessed.WithLabelValues(string(rec.Kind)).Inc()
	}
	return len(due), nil
}

// RunSweeper loops ProcessExpired until ctx is done.
func (s *Service) RunSweeper(ctx context.Context, h Handler, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("timeout sweeper started", "interval", interval)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("timeout sweeper stopped")
			return
		case <-ticker.C:
			n, err := s.ProcessExpired(ctx, h)
			if err != nil {
				s.logger.Error("timeout sweep failed", "error", err)
				continue
			}
			if n > 0 {
				s.logger.Info("timeout sweep", "processed", n)
			}
		}
	}
}
