// README: Routing collaborator: Google Maps directions with a great-circle fallback.
package maps

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"googlemaps.github.io/maps"

	"yoonu/internal/types"
)

// Route is a distance/duration estimate between two points.
type Route struct {
	DistanceKm  float64
	DurationMin int
	Fallback    bool
}

// RouteService handles interactions with the Google Maps API. When no API key
// is configured, or a call fails, it degrades to a deterministic great-circle
// estimate instead of surfacing the error.
type RouteService struct {
	client      *maps.Client
	avgSpeedKmh float64
	logger      *slog.Logger
}

// NewRouteService creates a RouteService. An empty apiKey yields a
// fallback-only service.
func NewRouteService(apiKey string, avgSpeedKmh float64, logger *slog.Logger) (*RouteService, error) {
	if avgSpeedKmh <= 0 {
		avgSpeedKmh = 30.0
	}
	svc := &RouteService{avgSpeedKmh: avgSpeedKmh, logger: logger}
	if apiKey == "" {
		return svc, nil
	}
	client, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create maps client: %w", err)
	}
	svc.client = client
	return svc, nil
}

// GetRoute returns the driving distance and duration from origin to destination.
func (s *RouteService) GetRoute(ctx context.Context, origin, destination types.Point) Route {
	if s.client == nil {
		return s.fallback(origin, destination)
	}

	r := &maps.DirectionsRequest{
		Origin:      fmt.Sprintf("%f,%f", origin.Lat, origin.Lng),
		Destination: fmt.Sprintf("%f,%f", destination.Lat, destination.Lng),
		Mode:        maps.TravelModeDriving,
	}
	routes, _, err := s.client.Directions(ctx, r)
	if err != nil || len(routes) == 0 || len(routes[0].Legs) == 0 {
		if err != nil && s.logger != nil {
			s.logger.Warn("maps directions failed, using fallback", "error", err)
		}
		return s.fallback(origin, destination)
	}

	leg := routes[0].Legs[0]
	return Route{
		DistanceKm:  float64(leg.Distance.Meters) / 1000.0,
		DurationMin: int(math.Ceil(leg.Duration.Minutes())),
	}
}

func (s *RouteService) fallback(origin, destination types.Point) Route {
	km := HaversineKm(origin, destination)
	minutes := int(math.Ceil(km / s.avgSpeedKmh * 60.0))
	if minutes < 1 {
		minutes = 1
	}
	return Route{DistanceKm: km, DurationMin: minutes, Fallback: true}
}

// HaversineKm is the great-circle distance between two points in kilometers.
func HaversineKm(a, b types.Point) float64 {
	const earthRadiusKm = 6371.0
	lat1 := a.Lat * math.Pi / 180.0
	lat2 := b.Lat * math.Pi / 180.0
	dlat := (b.Lat - a.Lat) * math.Pi / 180.0
	dlng := (b.Lng - a.Lng) * math.Pi / 180.0
	h := math.Sin(dlat/2)*math.Sin(dlat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dlng/2)*math.Sin(dlng/2)
	return 2 * earthRadiusKm * math.Asin(math.Sqrt(h))
}
