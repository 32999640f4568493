package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sos-safeguard-api/internal/dto"
	"github.com/noah-isme/sos-safeguard-api/internal/middleware"
	"github.com/noah-isme/sos-safeguard-api/internal/models"
	appErrors "github.com/noah-isme/sos-safeguard-api/pkg/errors"
)

var testReviewer = &models.Principal{UserID: "rev-1", Tier: models.TierReviewer, HomeVillage: "village-a"}

type caseServiceMock struct {
	lastQuery    dto.CaseQuery
	lastCreate   dto.CreateCaseRequest
	lastClassify dto.ClassifyCaseRequest
	lastID       string
	lastCaller   models.Principal
	err          error
}

func (m *caseServiceMock) Create(_ context.Context, p models.Principal, req dto.CreateCaseRequest) (*dto.CaseResponse, error) {
	m.lastCaller, m.lastCreate = p, req
	return &dto.CaseResponse{ID: "case-1", Status: models.CaseStatusPending}, m.err
}

func (m *caseServiceMock) Get(_ context.Context, p models.Principal, id string) (*dto.CaseResponse, error) {
	m.lastCaller, m.lastID = p, id
	if m.err != nil {
		return nil, m.err
	}
	return &dto.CaseResponse{ID: id}, nil
}

func (m *caseServiceMock) ListVisible(_ context.Context, p models.Principal, q dto.CaseQuery) ([]dto.CaseResponse, *models.Pagination, error) {
	m.lastCaller, m.lastQuery = p, q
	return []dto.CaseResponse{{ID: "case-1"}}, &models.Pagination{Page: q.Page, PageSize: q.PageSize, TotalCount: 1}, m.err
}

func (m *caseServiceMock) Claim(_ context.Context, p models.Principal, id string) (*dto.ClaimResponse, error) {
	m.lastCaller, m.lastID = p, id
	if m.err != nil {
		return nil, m.err
	}
	return &dto.ClaimResponse{Case: dto.CaseResponse{ID: id, Status: models.CaseStatusInProgress}}, nil
}

func (m *caseServiceMock) Classify(_ context.Context, p models.Principal, id string, req dto.ClassifyCaseRequest) (*dto.CaseResponse, error) {
	m.lastCaller, m.lastID, m.lastClassify = p, id, req
	return &dto.CaseResponse{ID: id, Classification: &req.Classification}, m.err
}

func (m *caseServiceMock) Escalate(_ context.Context, _ models.Principal, id string, _ dto.EscalateCaseRequest) (*dto.CaseResponse, error) {
	m.lastID = id
	return &dto.CaseResponse{ID: id}, m.err
}

func (m *caseServiceMock) Close(_ context.Context, _ models.Principal, id string, _ dto.CloseCaseRequest) (*dto.CaseResponse, error) {
	m.lastID = id
	return &dto.CaseResponse{ID: id}, m.err
}

func (m *caseServiceMock) Archive(_ context.Context, _ models.Principal, id string) (*dto.CaseResponse, error) {
	m.lastID = id
	return &dto.CaseResponse{ID: id}, m.err
}

func newTestContext(method, target, body string, p *models.Principal) (*gin.Context, *httptest.ResponseRecorder) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	var reader *bytes.Buffer
	if body != "" {
		reader = bytes.NewBufferString(body)
	} else {
		reader = &bytes.Buffer{}
	}
	req, _ := http.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	if p != nil {
		c.Set(middleware.ContextPrincipalKey, p)
	}
	return c, w
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestCaseHandlerListParsesFilters(t *testing.T) {
	svc := &caseServiceMock{}
	h := NewCaseHandler(svc)

	c, w := newTestContext(http.MethodGet, "/cases?status=pending,in_progress&category=neglect&mine=true&page=2&pageSize=5", "", testReviewer)
	h.List(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []models.CaseStatus{models.CaseStatusPending, models.CaseStatusInProgress}, svc.lastQuery.Status)
	assert.Equal(t, models.CategoryNeglect, svc.lastQuery.Category)
	assert.True(t, svc.lastQuery.AssignedToMe)
	assert.Equal(t, 2, svc.lastQuery.Page)
	assert.Equal(t, 5, svc.lastQuery.PageSize)
	assert.Equal(t, "rev-1", svc.lastCaller.UserID)

	body := decodeEnvelope(t, w)
	assert.NotNil(t, body["pagination"])
}

func TestCaseHandlerCreate(t *testing.T) {
	svc := &caseServiceMock{}
	h := NewCaseHandler(svc)

	c, w := newTestContext(http.MethodPost, "/cases", `{"narrative":"child reported bruises after weekend","category":"NEGLECT","anonymous":true}`, testReviewer)
	h.Create(c)

	require.Equal(t, http.StatusCreated, w.Code)
	assert.True(t, svc.lastCreate.Anonymous)
	assert.Equal(t, models.CategoryNeglect, svc.lastCreate.Category)
}

func TestCaseHandlerCreateInvalidBody(t *testing.T) {
	h := NewCaseHandler(&caseServiceMock{})

	c, w := newTestContext(http.MethodPost, "/cases", `{"narrative":`, testReviewer)
	h.Create(c)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCaseHandlerRequiresPrincipal(t *testing.T) {
	svc := &caseServiceMock{}
	h := NewCaseHandler(svc)

	c, w := newTestContext(http.MethodGet, "/cases", "", nil)
	h.List(c)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Empty(t, svc.lastCaller.UserID)
}

func TestCaseHandlerClaimConflict(t *testing.T) {
	svc := &caseServiceMock{err: appErrors.StateConflict("case already assigned")}
	h := NewCaseHandler(svc)

	c, w := newTestContext(http.MethodPost, "/cases/case-1/claim", "", testReviewer)
	c.Params = gin.Params{{Key: "id", Value: "case-1"}}
	h.Claim(c)

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "case-1", svc.lastID)
	body := decodeEnvelope(t, w)
	errBody := body["error"].(map[string]interface{})
	assert.Equal(t, "STATE_CONFLICT", errBody["code"])
}

func TestCaseHandlerRetryableFailureSetsRetryAfter(t *testing.T) {
	svc := &caseServiceMock{err: appErrors.Infrastructure(context.DeadlineExceeded, "")}
	h := NewCaseHandler(svc)

	c, w := newTestContext(http.MethodGet, "/cases/case-1", "", testReviewer)
	c.Params = gin.Params{{Key: "id", Value: "case-1"}}
	h.Get(c)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "5", w.Header().Get("Retry-After"))
}

func TestCaseHandlerClassify(t *testing.T) {
	svc := &caseServiceMock{}
	h := NewCaseHandler(svc)

	c, w := newTestContext(http.MethodPatch, "/cases/case-1/classification", `{"classification":"FALSE_REPORT"}`, testReviewer)
	c.Params = gin.Params{{Key: "id", Value: "case-1"}}
	h.Classify(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.ClassificationFalseReport, svc.lastClassify.Classification)
}
