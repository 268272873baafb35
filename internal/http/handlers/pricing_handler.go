// README: Admin handlers for fare schedules.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"yoonu/internal/modules/pricing"
	"yoonu/internal/types"
)

type PricingHandler struct {
	pricing *pricing.Service
}

func NewPricingHandler(svc *pricing.Service) *PricingHandler {
	return &PricingHandler{pricing: svc}
}

func (h *PricingHandler) List(c *gin.Context) {
	configs, err := h.pricing.Configs(c.Request.Context())
	if err != nil {
		writePricingError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"configs": configs})
}

func (h *PricingHandler) Update(c *gin.Context) {
	var upd pricing.ConfigUpdate
	if err := c.ShouldBindJSON(&upd); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	cfg, err := h.pricing.UpdateConfig(c.Request.Context(), types.ID(c.Param("id")), upd)
	if err != nil {
		writePricingError(c, err)
		return
	}
	c.JSON(http.StatusOK, cfg)
}
