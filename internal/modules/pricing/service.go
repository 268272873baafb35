// README: Fare computation: base + distance + time, scaled by slot, weight, and package multipliers.
package pricing

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	"yoonu/internal/types"
)

// settlementCapRate bounds the final fare at 110% of the accepted estimate,
// so reroutes and traffic never surprise the requester by more than that.
const settlementCapRate = 1.10

var packageMultipliers = map[string]float64{
	"fragile":     1.3,
	"food":        1.1,
	"electronics": 1.2,
}

type Service struct {
	store Store
}

func NewService(store Store) *Service {
	return &Service{store: store}
}

// Quote computes a fare estimate against the active config for the input's
// service kind, falling back to that kind's built-in defaults when none is
// provisioned.
func (s *Service) Quote(ctx context.Context, in QuoteInput) (Quote, error) {
	kind := in.Kind
	if kind == "" {
		kind = "trip"
	}
	cfg, err := s.store.ActiveConfig(ctx, kind)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			return Quote{}, err
		}
		cfg = DefaultConfig(kind)
	}
	return s.QuoteWithConfig(cfg, in)
}

// QuoteWithConfig computes a fare against a specific config. Settlement uses
// this with the config frozen at accept time.
func (s *Service) QuoteWithConfig(cfg Config, in QuoteInput) (Quote, error) {
	if cfg.MaxDistanceKm > 0 && in.DistanceKm > cfg.MaxDistanceKm {
		return Quote{}, ErrDistanceExceeded
	}

	base := float64(cfg.BaseFare) +
		in.DistanceKm*float64(cfg.CostPerKm) +
		float64(in.DurationMin)*float64(cfg.CostPerMinute)

	mult := MultiplierAt(cfg.TimeSlots, in.At) *
		weightMultiplier(in.WeightKg) *
		packageMultiplier(in.PackageType)

	return Quote{
		Fare:        types.XOF(int64(math.Round(base * mult))),
		ConfigID:    cfg.ID,
		DistanceKm:  in.DistanceKm,
		DurationMin: in.DurationMin,
		Multiplier:  mult,
	}, nil
}

// Config resolves a frozen config by id, falling back to the defaults when
// the id is a built-in one or the row has since been purged.
func (s *Service) Config(ctx context.Context, id types.ID) (Config, error) {
	if id == "" {
		return DefaultConfig(""), nil
	}
	if kind, ok := strings.CutPrefix(string(id), "default-"); ok {
		return DefaultConfig(kind), nil
	}
	cfg, err := s.store.ConfigByID(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return DefaultConfig(""), nil
	}
	return cfg, err
}

// Configs lists every fare schedule for the admin surface.
func (s *Service) Configs(ctx context.Context) ([]Config, error) {
	return s.store.List(ctx)
}

// UpdateConfig applies a partial edit to a fare schedule. Activating a
// config deactivates the rest of its kind.
func (s *Service) UpdateConfig(ctx context.Context, id types.ID, upd ConfigUpdate) (Config, error) {
	if upd.BaseFare != nil && *upd.BaseFare < 0 {
		return Config{}, ErrInvalidConfig
	}
	if upd.CostPerKm != nil && *upd.CostPerKm < 0 {
		return Config{}, ErrInvalidConfig
	}
	if upd.CostPerMinute != nil && *upd.CostPerMinute < 0 {
		return Config{}, ErrInvalidConfig
	}
	if upd.CommissionRate != nil && (*upd.CommissionRate < 0 || *upd.CommissionRate >= 1) {
		return Config{}, ErrInvalidConfig
	}
	if upd.MaxDistanceKm != nil && *upd.MaxDistanceKm <= 0 {
		return Config{}, ErrInvalidConfig
	}
	if upd.TimeSlots != nil {
		for _, slot := range *upd.TimeSlots {
			if slot.Multiplier <= 0 {
				return Config{}, ErrInvalidConfig
			}
		}
	}
	return s.store.Update(ctx, id, upd)
}

// QuoteFrozen prices an input under a previously frozen config.
func (s *Service) QuoteFrozen(ctx context.Context, configID types.ID, in QuoteInput) (Quote, error) {
	cfg, err := s.Config(ctx, configID)
	if err != nil {
		return Quote{}, err
	}
	return s.QuoteWithConfig(cfg, in)
}

// CommissionRate returns the platform cut under a frozen config.
func (s *Service) CommissionRate(ctx context.Context, configID types.ID) (float64, error) {
	cfg, err := s.Config(ctx, configID)
	if err != nil {
		return 0, err
	}
	return cfg.CommissionRate, nil
}

// SettleFinal resolves the amount actually charged: the recomputed actual
// fare, capped at 110% of the estimate agreed at accept time.
func SettleFinal(estimated, actual types.Money) types.Money {
	ceiling := int64(math.Round(float64(estimated.Amount) * settlementCapRate))
	if actual.Amount > ceiling {
		return types.XOF(ceiling)
	}
	return actual
}

// Commission splits a final fare into the platform's cut and the worker's
// earnings.
func Commission(final types.Money, rate float64) (platform, worker types.Money) {
	cut := int64(math.Round(float64(final.Amount) * rate))
	return types.XOF(cut), types.XOF(final.Amount - cut)
}

// MultiplierAt returns the multiplier of the slot covering t, or 1.0 when no
// slot matches. Slots whose Start > End wrap past midnight.
func MultiplierAt(slots []TimeSlot, t time.Time) float64 {
	clock := t.Format("15:04")
	for _, slot := range slots {
		if slot.Start <= slot.End {
			if clock >= slot.Start && clock < slot.End {
				return slot.Multiplier
			}
		} else if clock >= slot.Start || clock < slot.End {
			return slot.Multiplier
		}
	}
	return 1.0
}

func weightMultiplier(kg float64) float64 {
	switch {
	case kg > 10:
		return 1.5
	case kg > 5:
		return 1.2
	default:
		return 1.0
	}
}

func packageMultiplier(kind string) float64 {
	if m, ok := packageMultipliers[kind]; ok {
		return m
	}
	return 1.0
}
