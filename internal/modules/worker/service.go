// README: Worker presence service: online/offline, availability, position reporting.
package worker

import (
	"context"
	"log/slog"
	"time"

	"yoonu/internal/types"
)

// GeoIndex mirrors worker positions into the geospatial index matching
// searches. Kept as a small interface so tests can run without Redis.
type GeoIndex interface {
	UpdatePosition(ctx context.Context, workerID types.ID, pt types.Point) error
	Remove(ctx context.Context, workerID types.ID) error
}

type Service struct {
	store  Store
	geo    GeoIndex
	logger *slog.Logger
	now    func() time.Time
}

func NewService(store Store, geo GeoIndex, logger *slog.Logger) *Service {
	return &Service{store: store, geo: geo, logger: logger, now: time.Now}
}

func (s *Service) Get(ctx context.Context, id types.ID) (Worker, error) {
	return s.store.Get(ctx, id)
}

// GoOnline puts the worker on shift. A fresh position report is still needed
// before matching will consider them.
func (s *Service) GoOnline(ctx context.Context, id types.ID) error {
	if err := s.store.SetOnline(ctx, id, true); err != nil {
		return err
	}
	return s.store.SetAvailable(ctx, id, true)
}

// GoOffline ends the shift and drops the worker from the geo index so stale
// entries never surface in a search.
func (s *Service) GoOffline(ctx context.Context, id types.ID) error {
	if err := s.store.SetOnline(ctx, id, false); err != nil {
		return err
	}
	if err := s.geo.Remove(ctx, id); err != nil {
		s.logger.Warn("geo index remove failed", "worker_id", id, "error", err)
	}
	return nil
}

// SetAvailable toggles whether the worker wants new work. Fails with
// ErrOffline when the worker is not on shift.
func (s *Service) SetAvailable(ctx context.Context, id types.ID, available bool) error {
	return s.store.SetAvailable(ctx, id, available)
}

// ReportPosition records the worker's location in Postgres and the geo index.
func (s *Service) ReportPosition(ctx context.Context, id types.ID, pt types.Point) error {
	w, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if !w.Online {
		return ErrOffline
	}
	if err := s.store.UpdatePosition(ctx, id, pt, s.now()); err != nil {
		return err
	}
	if err := s.geo.UpdatePosition(ctx, id, pt); err != nil {
		s.logger.Warn("geo index update failed", "worker_id", id, "error", err)
	}
	return nil
}

// Eligible narrows geo-search candidates to workers matching can notify.
func (s *Service) Eligible(ctx context.Context, ids []types.ID, req Requirements) ([]types.ID, error) {
	return s.store.Eligible(ctx, ids, req, PositionFreshness)
}

// RecomputeRating refreshes a worker's review aggregate. The request service
// calls this after a requester leaves a new score.
func (s *Service) RecomputeRating(ctx context.Context, id types.ID) error {
	return s.store.RecomputeRating(ctx, id)
}
