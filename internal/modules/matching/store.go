// README: Matching store backed by Redis GEO and notified sets.
package matching

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"yoonu/internal/types"
)

const (
	workerGeoKey      = "matching:workers"
	notifiedKeyPrefix = "matching:request:%s:notified"
	// Requests resolve within minutes; the notified set only needs to
	// outlive the wave plan by a wide margin.
	notifiedTTL = 24 * time.Hour
)

// Store tracks worker positions and which workers each request has already
// been offered to.
type Store interface {
	UpdatePosition(ctx context.Context, workerID types.ID, pt types.Point) error
	Remove(ctx context.Context, workerID types.ID) error
	Nearby(ctx context.Context, p types.Point, radiusKm float64) ([]types.ID, error)
	FilterNotified(ctx context.Context, requestID types.ID, ids []types.ID) ([]types.ID, error)
	MarkNotified(ctx context.Context, requestID types.ID, ids []types.ID) error
}

type RedisStore struct {
	redis *redis.Client
}

func NewRedisStore(redis *redis.Client) *RedisStore {
	return &RedisStore{redis: redis}
}

func (s *RedisStore) UpdatePosition(ctx context.Context, workerID types.ID, pt types.Point) error {
	return s.redis.GeoAdd(ctx, workerGeoKey, &redis.GeoLocation{
		Name:      string(workerID),
		Longitude: pt.Lng,
		Latitude:  pt.Lat,
	}).Err()
}

func (s *RedisStore) Remove(ctx context.Context, workerID types.ID) error {
	return s.redis.ZRem(ctx, workerGeoKey, string(workerID)).Err()
}

// Nearby returns workers within radiusKm of p, closest first.
func (s *RedisStore) Nearby(ctx context.Context, p types.Point, radiusKm float64) ([]types.ID, error) {
	results, err := s.redis.GeoSearch(ctx, workerGeoKey, &redis.GeoSearchQuery{
		Longitude:  p.Lng,
		Latitude:   p.Lat,
		Radius:     radiusKm,
		RadiusUnit: "km",
		Sort:       "ASC",
	}).Result()
	if err != nil {
		return nil, err
	}
	ids := make([]types.ID, len(results))
	for i, r := range results {
		ids[i] = types.ID(r)
	}
	return ids, nil
}

// FilterNotified drops workers already offered this request, preserving order.
func (s *RedisStore) FilterNotified(ctx context.Context, requestID types.ID, ids []types.ID) ([]types.ID, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	members := make([]interface{}, len(ids))
	for i, id := range ids {
		members[i] = string(id)
	}
	seen, err := s.redis.SMIsMember(ctx, notifiedKey(requestID), members...).Result()
	if err != nil {
		return nil, err
	}
	var fresh []types.ID
	for i, id := range ids {
		if !seen[i] {
			fresh = append(fresh, id)
		}
	}
	return fresh, nil
}

func (s *RedisStore) MarkNotified(ctx context.Context, requestID types.ID, ids []types.ID) error {
	if len(ids) == 0 {
		return nil
	}
	members := make([]interface{}, len(ids))
	for i, id := range ids {
		members[i] = string(id)
	}
	key := notifiedKey(requestID)
	pipe := s.redis.Pipeline()
	pipe.SAdd(ctx, key, members...)
	pipe.Expire(ctx, key, notifiedTTL)
	_, err := pipe.Exec(ctx)
	return err
}

func notifiedKey(requestID types.ID) string {
	return fmt.Sprintf(notifiedKeyPrefix, string(requestID))
}
