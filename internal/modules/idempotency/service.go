// README: Idempotency guard: runs a mutating call once and replays its response after.
package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"yoonu/internal/observability"
	"yoonu/internal/types"
)

type Service struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

func NewService(store Store, logger *slog.Logger) *Service {
	return &Service{store: store, logger: logger, now: time.Now}
}

// Result is the cached (or freshly produced) outcome of a guarded call.
type Result struct {
	StatusCode int
	Body       json.RawMessage
	Replayed   bool
}

// Execute runs fn at most once per (token, user, endpoint) within the TTL.
// A missing token falls back to a time-bucketed one derived from the caller,
// so naked rapid retries still collapse. Failed calls are not cached: the
// client may retry them for real.
func (s *Service) Execute(ctx context.Context, token string, userID types.ID, endpoint string, fn func() (int, any, error)) (Result, error) {
	now := s.now()
	if token == "" {
		token = FallbackToken(userID, endpoint, now)
	}

	cached, err := s.store.Get(ctx, token, userID, endpoint, now)
	if err == nil {
		observability.IdempotentReplays.Inc()
		s.logger.Info("idempotent replay", "user_id", userID, "endpoint", endpoint)
		return Result{StatusCode: cached.StatusCode, Body: cached.Body, Replayed: true}, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Result{}, err
	}

	status, body, err := fn()
	if err != nil {
		return Result{}, err
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return Result{}, fmt.Errorf("encode idempotent response: %w", err)
	}

	rec := &Record{
		Token:      token,
		UserID:     userID,
		Endpoint:   endpoint,
		StatusCode: status,
		Body:       raw,
		CreatedAt:  now,
		ExpiresAt:  now.Add(TTL),
	}
	if err := s.store.Save(ctx, rec); err != nil {
		s.logger.Error("idempotency save failed", "endpoint", endpoint, "error", err)
	}
	return Result{StatusCode: status, Body: raw}, nil
}
