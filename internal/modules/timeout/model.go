// README: Durable timeout records: scheduled state-machine deadlines that survive restarts.
package timeout

import (
	"time"

	"yoonu/internal/types"
)

// Kind names what a deadline means when it fires.
type Kind string

const (
	// KindNoWorker cancels a request nobody accepted.
	KindNoWorker Kind = "NO_WORKER"
	// KindRequesterNoShow resolves a worker waiting at pickup with no requester.
	KindRequesterNoShow Kind = "REQUESTER_NO_SHOW"
	// KindPaymentPending voids a settlement that never completed.
	KindPaymentPending Kind = "PAYMENT_PENDING"
)

// Record is one scheduled deadline. (RequestID, Kind) is unique: re-scheduling
// the same kind re-arms the existing record instead of stacking a second one.
type Record struct {
	ID        int64
	RequestID types.ID
	Kind      Kind
	ExecuteAt time.Time
	Processed bool
}
