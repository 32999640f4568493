package handler

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sos-safeguard-api/internal/dto"
	"github.com/noah-isme/sos-safeguard-api/internal/models"
	"github.com/noah-isme/sos-safeguard-api/internal/service"
)

type sweepTriggerStub struct {
	caller models.Principal
}

func (s *sweepTriggerStub) TriggerSweep(_ context.Context, p models.Principal) (*dto.SweepResponse, error) {
	s.caller = p
	return &dto.SweepResponse{Ran: true, Reminders: 3}, nil
}

type pingerStub struct{ err error }

func (p pingerStub) Ping(context.Context) error { return p.err }

func TestAdminHandlerSweep(t *testing.T) {
	stub := &sweepTriggerStub{}
	h := NewAdminHandler(stub)
	root := &models.Principal{UserID: "root", Tier: models.TierSuperAdmin}

	c, w := newTestContext(http.MethodPost, "/admin/sweeps", "", root)
	h.Sweep(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "root", stub.caller.UserID)
	data := decodeEnvelope(t, w)["data"].(map[string]interface{})
	assert.Equal(t, float64(3), data["reminders"])
}

func TestMetricsHandlerReady(t *testing.T) {
	h := NewMetricsHandler(service.NewMetricsService(), map[string]Pinger{
		"postgres": pingerStub{},
		"redis":    pingerStub{err: errors.New("connection refused")},
	})

	c, w := newTestContext(http.MethodGet, "/ready", "", nil)
	h.Ready(c)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "connection refused")

	healthy := NewMetricsHandler(nil, map[string]Pinger{"postgres": pingerStub{}})
	c, w = newTestContext(http.MethodGet, "/ready", "", nil)
	healthy.Ready(c)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestMetricsHandlerPrometheus(t *testing.T) {
	metrics := service.NewMetricsService()
	metrics.RecordLoginThrottled()
	h := NewMetricsHandler(metrics, nil)

	c, w := newTestContext(http.MethodGet, "/metrics", "", nil)
	h.Prometheus(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "auth_login_throttled_total")
}

type userServiceMock struct {
	userService
	lastFilter models.UserFilter
}

func (m *userServiceMock) List(_ context.Context, _ models.Principal, f models.UserFilter) ([]dto.UserResponse, *models.Pagination, error) {
	m.lastFilter = f
	return []dto.UserResponse{}, &models.Pagination{Page: 1, PageSize: 20}, nil
}

func TestUserHandlerListFilters(t *testing.T) {
	svc := &userServiceMock{}
	h := NewUserHandler(svc)
	gov := &models.Principal{UserID: "gov-1", Tier: models.TierGovernance}

	c, w := newTestContext(http.MethodGet, "/users?tier=level2&active=false&villageId=village-a", "", gov)
	h.List(c)

	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, svc.lastFilter.Tier)
	assert.Equal(t, models.TierReviewer, *svc.lastFilter.Tier)
	require.NotNil(t, svc.lastFilter.Active)
	assert.False(t, *svc.lastFilter.Active)
	assert.Equal(t, "village-a", svc.lastFilter.VillageID)
}
