// README: Pricing domain model: fare configs, time slot multipliers, quotes.
package pricing

import (
	"errors"
	"time"

	"yoonu/internal/types"
)

var (
	ErrNotFound         = errors.New("pricing config not found")
	ErrDistanceExceeded = errors.New("distance exceeds serviceable range")
	ErrInvalidConfig    = errors.New("invalid pricing config values")
)

// TimeSlot is a daily window with a fare multiplier. Start and End are
// "15:04" clock strings; a slot with Start > End wraps past midnight.
type TimeSlot struct {
	Start      string  `json:"start"`
	End        string  `json:"end"`
	Multiplier float64 `json:"multiplier"`
}

// Config is one versioned fare schedule, scoped to a service kind. The
// config in force when a worker accepts a request is frozen onto that request
// so later edits never change an agreed price. At most one config per kind is
// active at a time.
type Config struct {
	ID             types.ID   `json:"id"`
	Kind           string     `json:"kind"`
	BaseFare       int64      `json:"base_fare"`
	CostPerKm      int64      `json:"cost_per_km"`
	CostPerMinute  int64      `json:"cost_per_minute"`
	CommissionRate float64    `json:"commission_rate"`
	MaxDistanceKm  float64    `json:"max_distance_km"`
	TimeSlots      []TimeSlot `json:"time_slots"`
	Active         bool       `json:"active"`
	CreatedAt      time.Time  `json:"created_at"`
}

// QuoteInput carries everything a fare estimate depends on. WeightKg and
// PackageType stay zero-valued for passenger trips.
type QuoteInput struct {
	Kind        string
	DistanceKm  float64
	DurationMin int
	WeightKg    float64
	PackageType string
	At          time.Time
}

// Quote is a computed fare with the inputs that produced it.
type Quote struct {
	Fare        types.Money `json:"fare"`
	ConfigID    types.ID    `json:"config_id"`
	DistanceKm  float64     `json:"distance_km"`
	DurationMin int         `json:"duration_min"`
	Multiplier  float64     `json:"multiplier"`
}

// ConfigUpdate is a partial edit of a fare schedule. Nil fields are left
// unchanged.
type ConfigUpdate struct {
	BaseFare       *int64      `json:"base_fare"`
	CostPerKm      *int64      `json:"cost_per_km"`
	CostPerMinute  *int64      `json:"cost_per_minute"`
	CommissionRate *float64    `json:"commission_rate"`
	MaxDistanceKm  *float64    `json:"max_distance_km"`
	TimeSlots      *[]TimeSlot `json:"time_slots"`
	Active         *bool       `json:"active"`
}

// DefaultConfig is the built-in fare schedule for a service kind, used when
// none has been provisioned yet. An empty kind means "trip".
func DefaultConfig(kind string) Config {
	if kind == "" {
		kind = "trip"
	}
	return Config{
		ID:             types.ID("default-" + kind),
		Kind:           kind,
		BaseFare:       500,
		CostPerKm:      300,
		CostPerMinute:  50,
		CommissionRate: 0.20,
		MaxDistanceKm:  50,
		Active:         true,
	}
}
