// README: Matching service: progressive worker notification waves per open request.
package matching

import (
	"context"
	"log/slog"
	"time"

	"yoonu/internal/modules/worker"
	"yoonu/internal/notify"
	"yoonu/internal/observability"
	"yoonu/internal/types"
)

// OpenCheck reports whether a request is still waiting for a worker. The
// request service satisfies this; keeping it an interface avoids a cycle.
type OpenCheck interface {
	Open(ctx context.Context, id types.ID) (bool, error)
}

// Candidates narrows geo hits to workers who can actually take the request.
type Candidates interface {
	Eligible(ctx context.Context, ids []types.ID, req worker.Requirements) ([]types.ID, error)
}

type Service struct {
	store    Store
	open     OpenCheck
	workers  Candidates
	notifier notify.Notifier
	waves    []Wave
	logger   *slog.Logger
}

func NewService(store Store, open OpenCheck, workers Candidates, notifier notify.Notifier, logger *slog.Logger) *Service {
	return &Service{
		store:    store,
		open:     open,
		workers:  workers,
		notifier: notifier,
		waves:    DefaultWaves,
		logger:   logger,
	}
}

// Dispatch starts the wave plan for a freshly created request. It returns
// immediately; the waves run in the background and stop on their own once
// the request is claimed or the plan is exhausted. Matching only notifies:
// the durable no-worker deadline is what finally closes an unclaimed request.
func (s *Service) Dispatch(ctx context.Context, requestID types.ID, pickup types.Point, req worker.Requirements) {
	go s.run(context.WithoutCancel(ctx), requestID, pickup, req)
}

func (s *Service) run(ctx context.Context, requestID types.ID, pickup types.Point, req worker.Requirements) {
	var elapsed time.Duration
	for _, wave := range s.waves {
		if wait := wave.Delay - elapsed; wait > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
		}
		elapsed = wave.Delay

		open, err := s.open.Open(ctx, requestID)
		if err != nil {
			s.logger.Error("matching open check failed", "request_id", requestID, "error", err)
			return
		}
		if !open {
			return
		}

		n, err := s.runWave(ctx, requestID, pickup, req, wave)
		if err != nil {
			s.logger.Error("matching wave failed", "request_id", requestID, "error", err)
			continue
		}
		s.logger.Info("matching wave",
			"request_id", requestID,
			"radius_km", wave.RadiusKm,
			"notified", n,
		)
	}
}

// runWave brings the notified set up to the wave's running total: it takes
// the wave.MaxWorkers closest eligible workers around the pickup, drops the
// ones earlier waves already reached, and notifies the rest. It returns how
// many new workers it reached.
func (s *Service) runWave(ctx context.Context, requestID types.ID, pickup types.Point, req worker.Requirements, wave Wave) (int, error) {
	observability.WavesDispatched.Inc()

	nearby, err := s.store.Nearby(ctx, pickup, wave.RadiusKm)
	if err != nil {
		return 0, err
	}
	eligible, err := s.workers.Eligible(ctx, nearby, req)
	if err != nil {
		return 0, err
	}
	if len(eligible) > wave.MaxWorkers {
		eligible = eligible[:wave.MaxWorkers]
	}
	fresh, err := s.store.FilterNotified(ctx, requestID, eligible)
	if err != nil {
		return 0, err
	}
	if len(fresh) == 0 {
		return 0, nil
	}

	// Mark before sending: a worker may be pinged at most once per request,
	// and an unsent ping is cheaper than a double one.
	if err := s.store.MarkNotified(ctx, requestID, fresh); err != nil {
		return 0, err
	}
	data := map[string]string{"request_id": string(requestID)}
	for _, id := range fresh {
		if err := s.notifier.Notify(ctx, id, "New request nearby", "A request near you is waiting.", data); err != nil {
			s.logger.Warn("worker notification failed", "worker_id", id, "error", err)
		}
	}
	observability.WorkersNotified.Add(float64(len(fresh)))
	return len(fresh), nil
}
