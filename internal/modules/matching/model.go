// README: Matching domain model: the progressive notification wave plan.
package matching

import "time"

// Wave is one notification round. Delay is the offset from dispatch start;
// each wave searches RadiusKm around the pickup. MaxWorkers is the running
// total allowed by the end of the wave: a wave brings the notified set up to
// MaxWorkers of the closest eligible workers, counting everyone earlier
// waves already reached.
type Wave struct {
	Delay      time.Duration
	RadiusKm   float64
	MaxWorkers int
}

// DefaultWaves widens the net over time: closest worker first, then small
// batches, then a wider radius before the no-worker deadline resolves the
// request.
var DefaultWaves = []Wave{
	{Delay: 0, RadiusKm: 5, MaxWorkers: 1},
	{Delay: 10 * time.Second, RadiusKm: 5, MaxWorkers: 3},
	{Delay: 20 * time.Second, RadiusKm: 5, MaxWorkers: 8},
	{Delay: 30 * time.Second, RadiusKm: 10, MaxWorkers: 20},
}
