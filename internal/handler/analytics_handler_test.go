package handler

import (
	"context"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sos-safeguard-api/internal/dto"
	"github.com/noah-isme/sos-safeguard-api/internal/models"
	appErrors "github.com/noah-isme/sos-safeguard-api/pkg/errors"
)

var testGovernance = &models.Principal{UserID: "gov-1", Tier: models.TierGovernance}

type analyticsServiceMock struct {
	lastFilter  models.AnalyticsFilter
	lastVillage string
	hit         bool
	err         error
}

func (m *analyticsServiceMock) Overview(_ context.Context, _ models.Principal, f models.AnalyticsFilter) (*models.AnalyticsOverview, bool, error) {
	m.lastFilter = f
	if m.err != nil {
		return nil, false, m.err
	}
	return &models.AnalyticsOverview{Totals: models.VillageStatistics{Total: 3}}, m.hit, nil
}

func (m *analyticsServiceMock) VillageStatistics(_ context.Context, _ models.Principal, id string) (*models.VillageStatistics, bool, error) {
	m.lastVillage = id
	if m.err != nil {
		return nil, false, m.err
	}
	return &models.VillageStatistics{VillageID: id, Total: 2}, m.hit, nil
}

func (m *analyticsServiceMock) VillageRatings(context.Context, models.Principal) ([]models.VillageRating, bool, error) {
	return []models.VillageRating{{VillageID: "village-a", RatingScore: 40}}, m.hit, m.err
}

func TestAnalyticsHandlerOverviewParsesFilter(t *testing.T) {
	svc := &analyticsServiceMock{hit: true}
	h := NewAnalyticsHandler(svc)

	c, w := newTestContext(http.MethodGet, "/analytics?villageId=village-a&from=2024-01-01T00:00:00Z&to=2024-02-01T00:00:00Z", "", testGovernance)
	h.Overview(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "village-a", svc.lastFilter.VillageID)
	require.NotNil(t, svc.lastFilter.From)
	require.NotNil(t, svc.lastFilter.To)
	body := decodeEnvelope(t, w)
	meta := body["meta"].(map[string]interface{})
	assert.Equal(t, true, meta["cache_hit"])
}

func TestAnalyticsHandlerRejectsInvertedRange(t *testing.T) {
	h := NewAnalyticsHandler(&analyticsServiceMock{})

	c, w := newTestContext(http.MethodGet, "/analytics?from=2024-02-01T00:00:00Z&to=2024-01-01T00:00:00Z", "", testGovernance)
	h.Overview(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	c, w = newTestContext(http.MethodGet, "/analytics?from=yesterday", "", testGovernance)
	h.Overview(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAnalyticsHandlerVillageStatisticsForbidden(t *testing.T) {
	svc := &analyticsServiceMock{err: appErrors.Clone(appErrors.ErrAccessDenied, "analytics are limited to governance roles")}
	h := NewAnalyticsHandler(svc)

	c, w := newTestContext(http.MethodGet, "/villages/village-a/statistics", "", testReviewer)
	c.Params = gin.Params{{Key: "id", Value: "village-a"}}
	h.VillageStatistics(c)

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "village-a", svc.lastVillage)
}

func TestAnalyticsHandlerRatings(t *testing.T) {
	h := NewAnalyticsHandler(&analyticsServiceMock{})

	c, w := newTestContext(http.MethodGet, "/analytics/village-ratings", "", testGovernance)
	h.Ratings(c)

	require.Equal(t, http.StatusOK, w.Code)
	body := decodeEnvelope(t, w)
	data := body["data"].([]interface{})
	require.Len(t, data, 1)
	assert.Equal(t, float64(40), data[0].(map[string]interface{})["ratingScore"])
}

type villageServiceMock struct {
	lastCreate dto.CreateVillageRequest
	lastUpdate dto.UpdateVillageRequest
	lastID     string
	err        error
}

func (m *villageServiceMock) List(context.Context) ([]models.Village, error) {
	return []models.Village{{ID: "village-a", Name: "Tunis"}}, m.err
}

func (m *villageServiceMock) Get(_ context.Context, id string) (*models.Village, error) {
	m.lastID = id
	if m.err != nil {
		return nil, m.err
	}
	return &models.Village{ID: id, Name: "Tunis"}, nil
}

func (m *villageServiceMock) Create(_ context.Context, _ models.Principal, req dto.CreateVillageRequest) (*models.Village, error) {
	m.lastCreate = req
	if m.err != nil {
		return nil, m.err
	}
	return &models.Village{ID: "village-new", Name: req.Name}, nil
}

func (m *villageServiceMock) Update(_ context.Context, _ models.Principal, id string, req dto.UpdateVillageRequest) (*models.Village, error) {
	m.lastID, m.lastUpdate = id, req
	if m.err != nil {
		return nil, m.err
	}
	return &models.Village{ID: id}, nil
}

func TestVillageHandlerCreateAndUpdate(t *testing.T) {
	svc := &villageServiceMock{}
	h := NewVillageHandler(svc)
	root := &models.Principal{UserID: "root", Tier: models.TierSuperAdmin}

	c, w := newTestContext(http.MethodPost, "/villages", `{"name":"Siliana","programs":["FAMILY_STRENGTHENING"]}`, root)
	h.Create(c)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "Siliana", svc.lastCreate.Name)
	assert.Equal(t, []string{"FAMILY_STRENGTHENING"}, svc.lastCreate.Programs)

	c, w = newTestContext(http.MethodPatch, "/villages/village-a", `{"director":"Amel"}`, root)
	c.Params = gin.Params{{Key: "id", Value: "village-a"}}
	h.Update(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "village-a", svc.lastID)
	require.NotNil(t, svc.lastUpdate.Director)
	assert.Equal(t, "Amel", *svc.lastUpdate.Director)
}

func TestVillageHandlerGetNotFound(t *testing.T) {
	h := NewVillageHandler(&villageServiceMock{err: appErrors.Clone(appErrors.ErrNotFound, "village not found")})

	c, w := newTestContext(http.MethodGet, "/villages/nowhere", "", testReviewer)
	c.Params = gin.Params{{Key: "id", Value: "nowhere"}}
	h.Get(c)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

type resetPasswordUserService struct {
	userService
	lastID  string
	lastReq dto.ResetPasswordRequest
}

func (m *resetPasswordUserService) ResetPassword(_ context.Context, _ models.Principal, id string, req dto.ResetPasswordRequest) error {
	m.lastID, m.lastReq = id, req
	return nil
}

func TestUserHandlerResetPassword(t *testing.T) {
	svc := &resetPasswordUserService{}
	h := NewUserHandler(svc)

	c, w := newTestContext(http.MethodPut, "/users/rev-1/password", `{"newPassword":"new-password-1"}`, &models.Principal{UserID: "root", Tier: models.TierSuperAdmin})
	c.Params = gin.Params{{Key: "id", Value: "rev-1"}}
	h.ResetPassword(c)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "rev-1", svc.lastID)
	assert.Equal(t, "new-password-1", svc.lastReq.NewPassword)
}
