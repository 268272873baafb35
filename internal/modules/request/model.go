// README: Request aggregate: the shared lifecycle for trips and parcel deliveries.
package request

import (
	"strings"
	"time"

	"yoonu/internal/types"
)

type Kind string

const (
	KindTrip   Kind = "trip"
	KindParcel Kind = "parcel"
)

type Status string

const (
	StatusNone       Status = "NONE"
	StatusRequested  Status = "REQUESTED"
	StatusAssigned   Status = "ASSIGNED"
	StatusArrived    Status = "ARRIVED"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
	StatusDelivered  Status = "DELIVERED"
	StatusPaid       Status = "PAID"

	StatusCancelledByRequester Status = "CANCELLED_BY_REQUESTER"
	StatusCancelledByWorker    Status = "CANCELLED_BY_WORKER"
	StatusCancelledBySystem    Status = "CANCELLED_BY_SYSTEM"
	StatusRequesterNoShow      Status = "REQUESTER_NO_SHOW"
	StatusPackageRefused       Status = "PACKAGE_REFUSED"
	StatusDeliveryFailed       Status = "DELIVERY_FAILED"
)

// PaymentState tracks settlement separately from the lifecycle: a request can
// finish its journey and still owe money.
type PaymentState string

const (
	PaymentNone    PaymentState = "NONE"
	PaymentPending PaymentState = "PENDING"
	PaymentSettled PaymentState = "SETTLED"
	PaymentVoided  PaymentState = "VOIDED"
)

// ParcelDetails is present only on parcel requests.
type ParcelDetails struct {
	WeightKg          float64 `json:"weight_kg"`
	PackageType       string  `json:"package_type"`
	RequiresInsurance bool    `json:"requires_insurance,omitempty"`
	RecipientName     string  `json:"recipient_name"`
	RecipientPhone    string  `json:"recipient_phone"`
}

// Rating is one party's review of the other, recorded once per role.
type Rating struct {
	Score   int    `json:"score"`
	Comment string `json:"comment,omitempty"`
}

type Request struct {
	ID              types.ID       `json:"id"`
	Code            string         `json:"code"`
	Kind            Kind           `json:"kind"`
	RequesterID     types.ID       `json:"requester_id"`
	WorkerID        *types.ID      `json:"worker_id,omitempty"`
	Status          Status         `json:"status"`
	StatusVersion   int            `json:"status_version"`
	Payment         PaymentState   `json:"payment"`
	Pickup          types.Point    `json:"pickup"`
	Dropoff         types.Point    `json:"dropoff"`
	Parcel          *ParcelDetails `json:"parcel,omitempty"`
	EstimatedFare   types.Money    `json:"estimated_fare"`
	FinalFare       *types.Money   `json:"final_fare,omitempty"`
	PricingConfigID types.ID       `json:"pricing_config_id,omitempty"`
	DistanceKm      float64        `json:"distance_km"`
	DurationMin     int            `json:"duration_min"`
	RequesterRating *Rating        `json:"requester_rating,omitempty"`
	WorkerRating    *Rating        `json:"worker_rating,omitempty"`
	CancelReason    *string        `json:"cancel_reason,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	AssignedAt      *time.Time     `json:"assigned_at,omitempty"`
	ArrivedAt       *time.Time     `json:"arrived_at,omitempty"`
	StartedAt       *time.Time     `json:"started_at,omitempty"`
	FinishedAt      *time.Time     `json:"finished_at,omitempty"`
}

// requestCode derives the short reference shared with riders and support
// staff from the uuid.
func requestCode(id types.ID) string {
	s := strings.ReplaceAll(string(id), "-", "")
	if len(s) > 8 {
		s = s[:8]
	}
	return "YN-" + strings.ToUpper(s)
}

// Event is one row of the status history.
type Event struct {
	ID        int64
	RequestID types.ID
	From      Status
	To        Status
	ActorType string
	ActorID   *types.ID
	CreatedAt time.Time
}

// AllowedTransitions represents the lifecycle diagram as code. Kind-specific
// restrictions (parcel-only terminals, trips uncancellable in progress) are
// layered on top in policy.go.
var AllowedTransitions = map[Status][]Status{
	StatusRequested: {StatusAssigned, StatusCancelledByRequester, StatusCancelledBySystem},
	StatusAssigned:  {StatusArrived, StatusCancelledByRequester, StatusCancelledByWorker, StatusCancelledBySystem},
	StatusArrived:   {StatusInProgress, StatusCancelledByRequester, StatusCancelledByWorker, StatusCancelledBySystem, StatusRequesterNoShow},
	StatusInProgress: {
		StatusCompleted, StatusDelivered,
		StatusPackageRefused, StatusDeliveryFailed,
		StatusCancelledByRequester, StatusCancelledByWorker, StatusCancelledBySystem,
	},
	StatusCompleted: {StatusPaid},
	StatusDelivered: {StatusPaid},
}

func CanTransition(from, to Status) bool {
	for _, s := range AllowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Terminal reports whether a status has no outgoing transitions.
func Terminal(s Status) bool {
	return len(AllowedTransitions[s]) == 0 && s != StatusNone
}

// Active reports whether a worker is still committed to the request.
func Active(s Status) bool {
	switch s {
	case StatusAssigned, StatusArrived, StatusInProgress:
		return true
	}
	return false
}
