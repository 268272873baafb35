// README: Kind-specific lifecycle policy: what trips and parcels each allow.
package request

import "yoonu/internal/modules/worker"

// parcelOnly lists statuses a trip can never enter.
var parcelOnly = map[Status]bool{
	StatusDelivered:       true,
	StatusRequesterNoShow: true,
	StatusPackageRefused:  true,
	StatusDeliveryFailed:  true,
}

var cancelStatuses = map[Status]bool{
	StatusCancelledByRequester: true,
	StatusCancelledByWorker:    true,
	StatusCancelledBySystem:    true,
}

// KindAllows layers kind restrictions over the shared transition table. A trip
// in progress carries a passenger and cannot be cancelled; a parcel in transit
// still can be.
func KindAllows(kind Kind, from, to Status) bool {
	if kind == KindParcel {
		// Parcels finish with a handover, never a plain completion.
		return to != StatusCompleted
	}
	if from == StatusInProgress && cancelStatuses[to] {
		return false
	}
	return !parcelOnly[to]
}

// FinishStatus is the status a successful journey ends in.
func FinishStatus(kind Kind) Status {
	if kind == KindParcel {
		return StatusDelivered
	}
	return StatusCompleted
}

// NoShowStatus resolves a requester who never appeared at pickup. Parcels
// get their own terminal; a trip closes on the worker's behalf.
func NoShowStatus(kind Kind) Status {
	if kind == KindParcel {
		return StatusRequesterNoShow
	}
	return StatusCancelledByWorker
}

// Requirements derives what a request demands of a worker.
func (r *Request) Requirements() worker.Requirements {
	if r.Kind != KindParcel || r.Parcel == nil {
		return worker.Requirements{}
	}
	return worker.Requirements{
		WeightKg:          r.Parcel.WeightKg,
		PackageType:       r.Parcel.PackageType,
		RequiresInsurance: r.Parcel.RequiresInsurance,
	}
}
