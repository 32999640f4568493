package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sos-safeguard-api/internal/dto"
	"github.com/noah-isme/sos-safeguard-api/internal/models"
	"github.com/noah-isme/sos-safeguard-api/pkg/response"
)

type caseService interface {
	Create(ctx context.Context, p models.Principal, req dto.CreateCaseRequest) (*dto.CaseResponse, error)
	Get(ctx context.Context, p models.Principal, id string) (*dto.CaseResponse, error)
	ListVisible(ctx context.Context, p models.Principal, query dto.CaseQuery) ([]dto.CaseResponse, *models.Pagination, error)
	Claim(ctx context.Context, p models.Principal, id string) (*dto.ClaimResponse, error)
	Classify(ctx context.Context, p models.Principal, id string, req dto.ClassifyCaseRequest) (*dto.CaseResponse, error)
	Escalate(ctx context.Context, p models.Principal, id string, req dto.EscalateCaseRequest) (*dto.CaseResponse, error)
	Close(ctx context.Context, p models.Principal, id string, req dto.CloseCaseRequest) (*dto.CaseResponse, error)
	Archive(ctx context.Context, p models.Principal, id string) (*dto.CaseResponse, error)
}

// CaseHandler exposes the case lifecycle endpoints.
type CaseHandler struct {
	service caseService
}

// NewCaseHandler builds a new handler.
func NewCaseHandler(service caseService) *CaseHandler {
	return &CaseHandler{service: service}
}

// Create godoc
// @Summary Report a case
// @Tags Cases
// @Accept json
// @Produce json
// @Param payload body dto.CreateCaseRequest true "Case payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /cases [post]
func (h *CaseHandler) Create(c *gin.Context) {
	p, ok := principalFromContext(c)
	if !ok {
		return
	}
	var req dto.CreateCaseRequest
	if !bindJSON(c, &req, "invalid case payload") {
		return
	}
	item, err := h.service.Create(c.Request.Context(), p, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, item)
}

// List godoc
// @Summary List cases visible to the caller
// @Tags Cases
// @Produce json
// @Param status query string false "Comma separated statuses"
// @Param category query string false "Category"
// @Param minUrgency query string false "Minimum urgency"
// @Param mine query bool false "Only cases assigned to me"
// @Param includeArchived query bool false "Include archived cases"
// @Param page query int false "Page"
// @Param pageSize query int false "Page size"
// @Param sortBy query string false "Sort column"
// @Param sortOrder query string false "asc or desc"
// @Success 200 {object} response.Envelope
// @Router /cases [get]
func (h *CaseHandler) List(c *gin.Context) {
	p, ok := principalFromContext(c)
	if !ok {
		return
	}
	query := dto.CaseQuery{
		Category:        models.CaseCategory(strings.ToUpper(c.Query("category"))),
		MinUrgency:      models.Urgency(strings.ToUpper(c.Query("minUrgency"))),
		AssignedToMe:    queryBool(c, "mine"),
		IncludeArchived: queryBool(c, "includeArchived"),
		Page:            queryInt(c, "page", 1),
		PageSize:        queryInt(c, "pageSize", 20),
		SortBy:          c.Query("sortBy"),
		SortOrder:       c.Query("sortOrder"),
	}
	for _, raw := range strings.Split(c.Query("status"), ",") {
		if raw = strings.TrimSpace(raw); raw != "" {
			query.Status = append(query.Status, models.CaseStatus(strings.ToUpper(raw)))
		}
	}

	items, pagination, err := h.service.ListVisible(c.Request.Context(), p, query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, pagination)
}

// Get godoc
// @Summary Get a case
// @Tags Cases
// @Produce json
// @Param id path string true "Case ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /cases/{id} [get]
func (h *CaseHandler) Get(c *gin.Context) {
	p, ok := principalFromContext(c)
	if !ok {
		return
	}
	item, err := h.service.Get(c.Request.Context(), p, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, item, nil)
}

// Claim godoc
// @Summary Claim a pending case and start its workflow
// @Tags Cases
// @Produce json
// @Param id path string true "Case ID"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /cases/{id}/claim [post]
func (h *CaseHandler) Claim(c *gin.Context) {
	p, ok := principalFromContext(c)
	if !ok {
		return
	}
	item, err := h.service.Claim(c.Request.Context(), p, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, item, nil)
}

// Classify godoc
// @Summary Classify a case
// @Tags Cases
// @Accept json
// @Produce json
// @Param id path string true "Case ID"
// @Param payload body dto.ClassifyCaseRequest true "Classification"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /cases/{id}/classification [patch]
func (h *CaseHandler) Classify(c *gin.Context) {
	p, ok := principalFromContext(c)
	if !ok {
		return
	}
	var req dto.ClassifyCaseRequest
	if !bindJSON(c, &req, "invalid classification payload") {
		return
	}
	item, err := h.service.Classify(c.Request.Context(), p, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, item, nil)
}

// Escalate godoc
// @Summary Escalate a classified case
// @Tags Cases
// @Accept json
// @Produce json
// @Param id path string true "Case ID"
// @Param payload body dto.EscalateCaseRequest true "Escalation"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /cases/{id}/escalate [post]
func (h *CaseHandler) Escalate(c *gin.Context) {
	p, ok := principalFromContext(c)
	if !ok {
		return
	}
	var req dto.EscalateCaseRequest
	if !bindJSON(c, &req, "invalid escalation payload") {
		return
	}
	item, err := h.service.Escalate(c.Request.Context(), p, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, item, nil)
}

// Close godoc
// @Summary Close a case
// @Tags Cases
// @Accept json
// @Produce json
// @Param id path string true "Case ID"
// @Param payload body dto.CloseCaseRequest true "Closure"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /cases/{id}/close [post]
func (h *CaseHandler) Close(c *gin.Context) {
	p, ok := principalFromContext(c)
	if !ok {
		return
	}
	var req dto.CloseCaseRequest
	if !bindJSON(c, &req, "invalid closure payload") {
		return
	}
	item, err := h.service.Close(c.Request.Context(), p, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, item, nil)
}

// Archive godoc
// @Summary Archive a closed case
// @Tags Cases
// @Produce json
// @Param id path string true "Case ID"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /cases/{id}/archive [post]
func (h *CaseHandler) Archive(c *gin.Context) {
	p, ok := principalFromContext(c)
	if !ok {
		return
	}
	item, err := h.service.Archive(c.Request.Context(), p, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, item, nil)
}
