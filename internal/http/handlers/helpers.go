// README: Shared handler utilities: error mapping and the idempotency guard.
package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"yoonu/internal/http/middleware"
	"yoonu/internal/modules/idempotency"
	"yoonu/internal/modules/pricing"
	"yoonu/internal/modules/request"
	"yoonu/internal/modules/wallet"
	"yoonu/internal/modules/worker"
)

const idempotencyHeader = "Idempotency-Key"

func writeError(c *gin.Context, status int, msg string) {
	c.JSON(status, gin.H{"error": msg})
}

func writeRequestError(c *gin.Context, err error) {
	var invalid *request.InvalidTransitionError
	switch {
	case errors.Is(err, request.ErrBadRequest):
		writeError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, request.ErrNotFound):
		writeError(c, http.StatusNotFound, err.Error())
	case errors.Is(err, request.ErrUnauthorized):
		writeError(c, http.StatusForbidden, err.Error())
	case errors.Is(err, request.ErrAlreadyAccepted),
		errors.Is(err, request.ErrWorkerUnavailable),
		errors.Is(err, request.ErrActiveRequest),
		errors.Is(err, request.ErrConflict),
		errors.Is(err, request.ErrAlreadyRated):
		writeError(c, http.StatusConflict, err.Error())
	case errors.As(err, &invalid):
		writeError(c, http.StatusConflict, err.Error())
	default:
		writeError(c, http.StatusInternalServerError, "internal error")
	}
}

func writeWorkerError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, worker.ErrNotFound):
		writeError(c, http.StatusNotFound, err.Error())
	case errors.Is(err, worker.ErrOffline):
		writeError(c, http.StatusConflict, err.Error())
	default:
		writeError(c, http.StatusInternalServerError, "internal error")
	}
}

func writePricingError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, pricing.ErrInvalidConfig):
		writeError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, pricing.ErrNotFound):
		writeError(c, http.StatusNotFound, err.Error())
	default:
		writeError(c, http.StatusInternalServerError, "internal error")
	}
}

func writeWalletError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, wallet.ErrBadAmount):
		writeError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, wallet.ErrInsufficientBalance):
		writeError(c, http.StatusPaymentRequired, err.Error())
	default:
		writeError(c, http.StatusInternalServerError, "internal error")
	}
}

func intQuery(c *gin.Context, name string) (int, error) {
	return strconv.Atoi(c.Query(name))
}

// guarded runs fn behind the idempotency service and replays the cached
// response on retries. Domain errors pass through writeErr unguarded.
func guarded(c *gin.Context, guard *idempotency.Service, endpoint string, writeErr func(*gin.Context, error), fn func() (int, any, error)) {
	res, err := guard.Execute(c.Request.Context(), c.GetHeader(idempotencyHeader), middleware.UserID(c), endpoint, fn)
	if err != nil {
		writeErr(c, err)
		return
	}
	if res.Replayed {
		c.Header("Idempotent-Replay", "true")
	}
	c.Data(res.StatusCode, "application/json", res.Body)
}
