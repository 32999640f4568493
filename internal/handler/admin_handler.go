package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sos-safeguard-api/internal/dto"
	"github.com/noah-isme/sos-safeguard-api/internal/models"
	"github.com/noah-isme/sos-safeguard-api/pkg/response"
)

type sweepTrigger interface {
	TriggerSweep(ctx context.Context, p models.Principal) (*dto.SweepResponse, error)
}

// AdminHandler exposes operator actions.
type AdminHandler struct {
	sweeper sweepTrigger
}

// NewAdminHandler builds a new handler.
func NewAdminHandler(sweeper sweepTrigger) *AdminHandler {
	return &AdminHandler{sweeper: sweeper}
}

// Sweep godoc
// @Summary Run the deadline sweep now
// @Description Returns ran=false when another sweep holds the lease.
// @Tags Admin
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /admin/sweeps [post]
func (h *AdminHandler) Sweep(c *gin.Context) {
	p, ok := principalFromContext(c)
	if !ok {
		return
	}
	result, err := h.sweeper.TriggerSweep(c.Request.Context(), p)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}
