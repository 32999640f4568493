package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sos-safeguard-api/internal/dto"
	"github.com/noah-isme/sos-safeguard-api/internal/models"
	"github.com/noah-isme/sos-safeguard-api/pkg/response"
)

type villageService interface {
	List(ctx context.Context) ([]models.Village, error)
	Get(ctx context.Context, id string) (*models.Village, error)
	Create(ctx context.Context, p models.Principal, req dto.CreateVillageRequest) (*models.Village, error)
	Update(ctx context.Context, p models.Principal, id string, req dto.UpdateVillageRequest) (*models.Village, error)
}

// VillageHandler serves the village registry.
type VillageHandler struct {
	service villageService
}

// NewVillageHandler constructs a new handler.
func NewVillageHandler(service villageService) *VillageHandler {
	return &VillageHandler{service: service}
}

// List godoc
// @Summary List villages
// @Tags Villages
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /villages [get]
func (h *VillageHandler) List(c *gin.Context) {
	villages, err := h.service.List(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, villages, nil)
}

// Get godoc
// @Summary Get a village
// @Tags Villages
// @Produce json
// @Param id path string true "Village ID"
// @Success 200 {object} response.Envelope
// @Router /villages/{id} [get]
func (h *VillageHandler) Get(c *gin.Context) {
	village, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, village, nil)
}

// Create godoc
// @Summary Register a village
// @Tags Villages
// @Accept json
// @Produce json
// @Param payload body dto.CreateVillageRequest true "Village payload"
// @Success 201 {object} response.Envelope
// @Router /villages [post]
func (h *VillageHandler) Create(c *gin.Context) {
	p, ok := principalFromContext(c)
	if !ok {
		return
	}
	var req dto.CreateVillageRequest
	if !bindJSON(c, &req, "invalid village payload") {
		return
	}
	village, err := h.service.Create(c.Request.Context(), p, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, village)
}

// Update godoc
// @Summary Update a village
// @Tags Villages
// @Accept json
// @Produce json
// @Param id path string true "Village ID"
// @Param payload body dto.UpdateVillageRequest true "Fields to change"
// @Success 200 {object} response.Envelope
// @Router /villages/{id} [patch]
func (h *VillageHandler) Update(c *gin.Context) {
	p, ok := principalFromContext(c)
	if !ok {
		return
	}
	var req dto.UpdateVillageRequest
	if !bindJSON(c, &req, "invalid village payload") {
		return
	}
	village, err := h.service.Update(c.Request.Context(), p, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, village, nil)
}
