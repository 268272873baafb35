// README: Worker domain model: presence, availability, and capabilities.
package worker

import (
	"errors"
	"time"

	"yoonu/internal/types"
)

var (
	ErrNotFound = errors.New("worker not found")
	ErrOffline  = errors.New("worker is offline")
)

// PositionFreshness is how recent a worker's last position report must be
// for the worker to be considered reachable by matching.
const PositionFreshness = 5 * time.Minute

// Capabilities describe what a worker can carry. Zero MaxWeightKg means
// no declared limit. Food needs a thermal bag, not just willingness.
type Capabilities struct {
	VehicleType        string  `json:"vehicle_type"`
	MaxWeightKg        float64 `json:"max_weight_kg"`
	HandlesFragile     bool    `json:"handles_fragile"`
	HandlesElectronics bool    `json:"handles_electronics"`
	HandlesDocuments   bool    `json:"handles_documents"`
	ThermalBag         bool    `json:"thermal_bag"`
	Insured            bool    `json:"insured"`
}

// Requirements is what a request demands of a worker. Passenger trips leave
// it zero-valued, so every worker qualifies.
type Requirements struct {
	WeightKg          float64 `json:"weight_kg"`
	PackageType       string  `json:"package_type"`
	RequiresInsurance bool    `json:"requires_insurance"`
}

// Supports reports whether these capabilities satisfy the requirements.
func (c Capabilities) Supports(req Requirements) bool {
	if c.MaxWeightKg > 0 && req.WeightKg > c.MaxWeightKg {
		return false
	}
	if req.RequiresInsurance && !c.Insured {
		return false
	}
	switch req.PackageType {
	case "fragile":
		return c.HandlesFragile
	case "food":
		return c.ThermalBag
	case "electronics":
		return c.HandlesElectronics
	case "document":
		return c.HandlesDocuments
	default:
		return true
	}
}

// Worker is a courier or driver. Available implies Online: going offline
// always clears availability, and availability cannot be set while offline.
type Worker struct {
	ID           types.ID     `json:"id"`
	Online       bool         `json:"online"`
	Available    bool         `json:"available"`
	Capabilities Capabilities `json:"capabilities"`
	Position     types.Point  `json:"position"`
	PositionAt   time.Time    `json:"position_at"`
	Rating       float64      `json:"rating"`
	RatingCount  int          `json:"rating_count"`
}
