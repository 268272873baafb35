// README: Requester-facing handlers: estimate, create, track, cancel, rate.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"yoonu/internal/http/middleware"
	"yoonu/internal/modules/idempotency"
	"yoonu/internal/modules/request"
	"yoonu/internal/types"
)

type RequestHandler struct {
	requests *request.Service
	guard    *idempotency.Service
}

func NewRequestHandler(requests *request.Service, guard *idempotency.Service) *RequestHandler {
	return &RequestHandler{requests: requests, guard: guard}
}

type parcelReq struct {
	WeightKg          float64 `json:"weight_kg"`
	PackageType       string  `json:"package_type"`
	RecipientName     string  `json:"recipient_name"`
	RecipientPhone    string  `json:"recipient_phone"`
	RequiresInsurance bool    `json:"requires_insurance"`
}

type createRequestReq struct {
	Kind       string     `json:"kind"`
	PickupLat  float64    `json:"pickup_lat"`
	PickupLng  float64    `json:"pickup_lng"`
	DropoffLat float64    `json:"dropoff_lat"`
	DropoffLng float64    `json:"dropoff_lng"`
	Parcel     *parcelReq `json:"parcel,omitempty"`
}

func (h *RequestHandler) Estimate(c *gin.Context) {
	var req createRequestReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	cmd := request.EstimateCommand{
		Kind:    request.Kind(req.Kind),
		Pickup:  types.Point{Lat: req.PickupLat, Lng: req.PickupLng},
		Dropoff: types.Point{Lat: req.DropoffLat, Lng: req.DropoffLng},
	}
	if req.Parcel != nil {
		cmd.WeightKg = req.Parcel.WeightKg
		cmd.PackageType = req.Parcel.PackageType
	}
	quote, err := h.requests.Estimate(c.Request.Context(), cmd)
	if err != nil {
		writeRequestError(c, err)
		return
	}
	c.JSON(http.StatusOK, quote)
}

func (h *RequestHandler) Create(c *gin.Context) {
	var req createRequestReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	cmd := request.CreateCommand{
		Kind:        request.Kind(req.Kind),
		RequesterID: middleware.UserID(c),
		Pickup:      types.Point{Lat: req.PickupLat, Lng: req.PickupLng},
		Dropoff:     types.Point{Lat: req.DropoffLat, Lng: req.DropoffLng},
	}
	if req.Parcel != nil {
		cmd.Parcel = &request.ParcelDetails{
			WeightKg:          req.Parcel.WeightKg,
			PackageType:       req.Parcel.PackageType,
			RecipientName:     req.Parcel.RecipientName,
			RecipientPhone:    req.Parcel.RecipientPhone,
			RequiresInsurance: req.Parcel.RequiresInsurance,
		}
	}

	guarded(c, h.guard, "POST /api/requests", writeRequestError, func() (int, any, error) {
		r, err := h.requests.Create(c.Request.Context(), cmd)
		if err != nil {
			return 0, nil, err
		}
		return http.StatusCreated, r, nil
	})
}

func (h *RequestHandler) Get(c *gin.Context) {
	r, err := h.requests.Get(c.Request.Context(), types.ID(c.Param("id")), middleware.UserID(c))
	if err != nil {
		writeRequestError(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

func (h *RequestHandler) List(c *gin.Context) {
	limit := 50
	if v, err := intQuery(c, "limit"); err == nil {
		limit = v
	}
	list, err := h.requests.ListForUser(c.Request.Context(), middleware.UserID(c), limit)
	if err != nil {
		writeRequestError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"requests": list})
}

type cancelReq struct {
	Reason string `json:"reason"`
}

func (h *RequestHandler) Cancel(c *gin.Context) {
	var req cancelReq
	_ = c.ShouldBindJSON(&req)
	cmd := request.CancelCommand{
		RequestID: types.ID(c.Param("id")),
		ActorType: "requester",
		ActorID:   middleware.UserID(c),
		Reason:    req.Reason,
	}
	guarded(c, h.guard, "POST /api/requests/cancel", writeRequestError, func() (int, any, error) {
		if err := h.requests.Cancel(c.Request.Context(), cmd); err != nil {
			return 0, nil, err
		}
		return http.StatusOK, gin.H{"status": request.StatusCancelledByRequester}, nil
	})
}

type rateReq struct {
	Score   int    `json:"score"`
	Comment string `json:"comment"`
}

func (h *RequestHandler) Rate(c *gin.Context) {
	var req rateReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	cmd := request.RateCommand{
		RequestID: types.ID(c.Param("id")),
		RaterID:   middleware.UserID(c),
		Score:     req.Score,
		Comment:   req.Comment,
	}
	guarded(c, h.guard, "POST /api/requests/rate", writeRequestError, func() (int, any, error) {
		if err := h.requests.Rate(c.Request.Context(), cmd); err != nil {
			return 0, nil, err
		}
		return http.StatusOK, gin.H{"rated": true}, nil
	})
}
