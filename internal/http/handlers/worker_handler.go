// README: Worker-facing handlers: presence, position, and request actions.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"yoonu/internal/http/middleware"
	"yoonu/internal/modules/idempotency"
	"yoonu/internal/modules/request"
	"yoonu/internal/modules/worker"
	"yoonu/internal/types"
)

type WorkerHandler struct {
	workers  *worker.Service
	requests *request.Service
	guard    *idempotency.Service
}

func NewWorkerHandler(workers *worker.Service, requests *request.Service, guard *idempotency.Service) *WorkerHandler {
	return &WorkerHandler{workers: workers, requests: requests, guard: guard}
}

func (h *WorkerHandler) Online(c *gin.Context) {
	if err := h.workers.GoOnline(c.Request.Context(), middleware.UserID(c)); err != nil {
		writeWorkerError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"online": true})
}

func (h *WorkerHandler) Offline(c *gin.Context) {
	if err := h.workers.GoOffline(c.Request.Context(), middleware.UserID(c)); err != nil {
		writeWorkerError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"online": false})
}

type availabilityReq struct {
	Available bool `json:"available"`
}

func (h *WorkerHandler) SetAvailability(c *gin.Context) {
	var req availabilityReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	if err := h.workers.SetAvailable(c.Request.Context(), middleware.UserID(c), req.Available); err != nil {
		writeWorkerError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"available": req.Available})
}

type positionReq struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

func (h *WorkerHandler) ReportPosition(c *gin.Context) {
	var req positionReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	err := h.workers.ReportPosition(c.Request.Context(), middleware.UserID(c), types.Point{Lat: req.Lat, Lng: req.Lng})
	if err != nil {
		writeWorkerError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *WorkerHandler) Accept(c *gin.Context) {
	cmd := request.AcceptCommand{
		RequestID: types.ID(c.Param("id")),
		WorkerID:  middleware.UserID(c),
	}
	guarded(c, h.guard, "POST /api/worker/requests/accept", writeRequestError, func() (int, any, error) {
		r, err := h.requests.Accept(c.Request.Context(), cmd)
		if err != nil {
			return 0, nil, err
		}
		return http.StatusOK, r, nil
	})
}

func (h *WorkerHandler) Arrive(c *gin.Context) {
	err := h.requests.MarkArrived(c.Request.Context(), request.ArriveCommand{
		RequestID: types.ID(c.Param("id")),
		WorkerID:  middleware.UserID(c),
	})
	if err != nil {
		writeRequestError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": request.StatusArrived})
}

func (h *WorkerHandler) Start(c *gin.Context) {
	err := h.requests.Start(c.Request.Context(), request.StartCommand{
		RequestID: types.ID(c.Param("id")),
		WorkerID:  middleware.UserID(c),
	})
	if err != nil {
		writeRequestError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": request.StatusInProgress})
}

type completeReq struct {
	ActualDistanceKm  float64 `json:"actual_distance_km"`
	ActualDurationMin int     `json:"actual_duration_min"`
}

func (h *WorkerHandler) Complete(c *gin.Context) {
	var req completeReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	cmd := request.CompleteCommand{
		RequestID:         types.ID(c.Param("id")),
		WorkerID:          middleware.UserID(c),
		ActualDistanceKm:  req.ActualDistanceKm,
		ActualDurationMin: req.ActualDurationMin,
	}
	guarded(c, h.guard, "POST /api/worker/requests/complete", writeRequestError, func() (int, any, error) {
		r, err := h.requests.Complete(c.Request.Context(), cmd)
		if err != nil {
			return 0, nil, err
		}
		return http.StatusOK, r, nil
	})
}

func (h *WorkerHandler) Cancel(c *gin.Context) {
	var req cancelReq
	_ = c.ShouldBindJSON(&req)
	cmd := request.CancelCommand{
		RequestID: types.ID(c.Param("id")),
		ActorType: "worker",
		ActorID:   middleware.UserID(c),
		Reason:    req.Reason,
	}
	guarded(c, h.guard, "POST /api/worker/requests/cancel", writeRequestError, func() (int, any, error) {
		if err := h.requests.Cancel(c.Request.Context(), cmd); err != nil {
			return 0, nil, err
		}
		return http.StatusOK, gin.H{"status": request.StatusCancelledByWorker}, nil
	})
}

func (h *WorkerHandler) NoShow(c *gin.Context) {
	err := h.requests.MarkNoShow(c.Request.Context(), request.NoShowCommand{
		RequestID: types.ID(c.Param("id")),
		WorkerID:  middleware.UserID(c),
	})
	if err != nil {
		writeRequestError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"closed": true})
}

type reasonReq struct {
	Reason string `json:"reason"`
}

func (h *WorkerHandler) Refuse(c *gin.Context) {
	var req reasonReq
	_ = c.ShouldBindJSON(&req)
	err := h.requests.MarkRefused(c.Request.Context(), request.RefuseCommand{
		RequestID: types.ID(c.Param("id")),
		WorkerID:  middleware.UserID(c),
		Reason:    req.Reason,
	})
	if err != nil {
		writeRequestError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": request.StatusPackageRefused})
}

func (h *WorkerHandler) Fail(c *gin.Context) {
	var req reasonReq
	_ = c.ShouldBindJSON(&req)
	err := h.requests.MarkFailed(c.Request.Context(), request.FailCommand{
		RequestID: types.ID(c.Param("id")),
		WorkerID:  middleware.UserID(c),
		Reason:    req.Reason,
	})
	if err != nil {
		writeRequestError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": request.StatusDeliveryFailed})
}
