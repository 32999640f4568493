package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sos-safeguard-api/internal/models"
	appErrors "github.com/noah-isme/sos-safeguard-api/pkg/errors"
	"github.com/noah-isme/sos-safeguard-api/pkg/response"
)

type analyticsService interface {
	Overview(ctx context.Context, p models.Principal, filter models.AnalyticsFilter) (*models.AnalyticsOverview, bool, error)
	VillageStatistics(ctx context.Context, p models.Principal, villageID string) (*models.VillageStatistics, bool, error)
	VillageRatings(ctx context.Context, p models.Principal) ([]models.VillageRating, bool, error)
}

// AnalyticsHandler exposes dashboard-ready case counts.
type AnalyticsHandler struct {
	analytics analyticsService
}

// NewAnalyticsHandler constructs the analytics handler.
func NewAnalyticsHandler(analytics analyticsService) *AnalyticsHandler {
	return &AnalyticsHandler{analytics: analytics}
}

// Overview godoc
// @Summary Case counts per village
// @Tags Analytics
// @Produce json
// @Param villageId query string false "Village filter"
// @Param from query string false "Created at or after (RFC3339)"
// @Param to query string false "Created at or before (RFC3339)"
// @Success 200 {object} response.Envelope
// @Router /analytics [get]
func (h *AnalyticsHandler) Overview(c *gin.Context) {
	p, ok := principalFromContext(c)
	if !ok {
		return
	}
	filter, err := parseAnalyticsFilter(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	start := time.Now()
	overview, hit, err := h.analytics.Overview(c.Request.Context(), p, filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, overview, nil, analyticsMeta(hit, start))
}

// Ratings godoc
// @Summary Rank villages by rating score
// @Tags Analytics
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /analytics/village-ratings [get]
func (h *AnalyticsHandler) Ratings(c *gin.Context) {
	p, ok := principalFromContext(c)
	if !ok {
		return
	}
	start := time.Now()
	ratings, hit, err := h.analytics.VillageRatings(c.Request.Context(), p)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, ratings, nil, analyticsMeta(hit, start))
}

// VillageStatistics godoc
// @Summary Case counts for one village
// @Tags Analytics
// @Produce json
// @Param id path string true "Village ID"
// @Success 200 {object} response.Envelope
// @Router /villages/{id}/statistics [get]
func (h *AnalyticsHandler) VillageStatistics(c *gin.Context) {
	p, ok := principalFromContext(c)
	if !ok {
		return
	}
	start := time.Now()
	stats, hit, err := h.analytics.VillageStatistics(c.Request.Context(), p, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, stats, nil, analyticsMeta(hit, start))
}

func analyticsMeta(hit bool, start time.Time) map[string]interface{} {
	return map[string]interface{}{
		"cache_hit":          hit,
		"processing_time_ms": time.Since(start).Milliseconds(),
	}
}

func parseAnalyticsFilter(c *gin.Context) (models.AnalyticsFilter, error) {
	filter := models.AnalyticsFilter{VillageID: c.Query("villageId")}
	if raw := c.Query("from"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, appErrors.Clone(appErrors.ErrValidation, "invalid from parameter")
		}
		filter.From = &parsed
	}
	if raw := c.Query("to"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, appErrors.Clone(appErrors.ErrValidation, "invalid to parameter")
		}
		filter.To = &parsed
	}
	if filter.From != nil && filter.To != nil && filter.To.Before(*filter.From) {
		return filter, appErrors.Clone(appErrors.ErrValidation, "to must not precede from")
	}
	return filter, nil
}
