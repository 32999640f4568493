package handler

import (
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sos-safeguard-api/internal/dto"
	"github.com/noah-isme/sos-safeguard-api/internal/middleware"
	"github.com/noah-isme/sos-safeguard-api/internal/models"
	appErrors "github.com/noah-isme/sos-safeguard-api/pkg/errors"
)

type workflowServiceMock struct {
	lastStage models.StageKey
	lastReq   dto.CompleteStageRequest
	lastRef   string
	uploaded  map[string]string
	called    bool
	err       error
}

func (m *workflowServiceMock) CompleteStage(_ context.Context, _ models.Principal, id string, key models.StageKey, req dto.CompleteStageRequest) (*dto.WorkflowResponse, error) {
	m.called, m.lastStage, m.lastReq = true, key, req
	if m.err != nil {
		return nil, m.err
	}
	return &dto.WorkflowResponse{ID: id}, nil
}

func (m *workflowServiceMock) GetWorkflow(_ context.Context, _ models.Principal, id string) (*dto.WorkflowResponse, error) {
	return &dto.WorkflowResponse{ID: id}, m.err
}

func (m *workflowServiceMock) GetWorkflowByCase(_ context.Context, _ models.Principal, caseID string) (*dto.WorkflowResponse, error) {
	return &dto.WorkflowResponse{ID: "wf-1", CaseID: caseID}, m.err
}

func (m *workflowServiceMock) ListMine(context.Context, models.Principal) ([]dto.WorkflowResponse, error) {
	return []dto.WorkflowResponse{{ID: "wf-1"}}, m.err
}

func (m *workflowServiceMock) AddNote(_ context.Context, p models.Principal, _ string, req dto.AddNoteRequest) (*models.WorkflowNote, error) {
	return &models.WorkflowNote{Text: req.Text, AuthorID: p.UserID}, m.err
}

func (m *workflowServiceMock) RenderDossier(_ context.Context, _ models.Principal, _ string) ([]byte, string, error) {
	if m.err != nil {
		return nil, "", m.err
	}
	return []byte("%PDF-1.3"), "dossier-case-1.pdf", nil
}

func (m *workflowServiceMock) UploadEvidence(_ context.Context, _ models.Principal, _ string, files []dto.EvidenceUpload) ([]dto.EvidenceRef, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.uploaded = map[string]string{}
	refs := make([]dto.EvidenceRef, 0, len(files))
	for _, f := range files {
		data, err := io.ReadAll(f.Content)
		if err != nil {
			return nil, err
		}
		m.uploaded[f.Filename] = string(data)
		refs = append(refs, dto.EvidenceRef{Ref: "case-1/x-" + f.Filename, Filename: f.Filename, Size: f.Size})
	}
	return refs, nil
}

func (m *workflowServiceMock) OpenEvidence(_ context.Context, _ models.Principal, _ string, ref string) (io.ReadCloser, string, error) {
	m.lastRef = ref
	if m.err != nil {
		return nil, "", m.err
	}
	return io.NopCloser(strings.NewReader("%PDF-1.4")), "application/pdf", nil
}

func newUploadContext(t *testing.T, files map[string]string) (*gin.Context, *httptest.ResponseRecorder) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for name, content := range files {
		part, err := mw.CreateFormFile("files", name)
		require.NoError(t, err)
		_, err = part.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodPost, "/workflows/wf-1/evidence", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	c.Request = req
	c.Set(middleware.ContextPrincipalKey, testReviewer)
	c.Params = gin.Params{{Key: "id", Value: "wf-1"}}
	return c, w
}

func TestWorkflowHandlerUploadEvidence(t *testing.T) {
	svc := &workflowServiceMock{}
	h := NewWorkflowHandler(svc, 1<<20)

	c, w := newUploadContext(t, map[string]string{"visit.pdf": "%PDF-1.4"})
	h.UploadEvidence(c)

	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "%PDF-1.4", svc.uploaded["visit.pdf"])
	body := decodeEnvelope(t, w)
	data := body["data"].([]interface{})
	require.Len(t, data, 1)
	assert.Equal(t, "case-1/x-visit.pdf", data[0].(map[string]interface{})["ref"])
}

func TestWorkflowHandlerUploadEvidenceRequiresMultipart(t *testing.T) {
	svc := &workflowServiceMock{}
	h := NewWorkflowHandler(svc, 1<<20)

	c, w := newTestContext(http.MethodPost, "/workflows/wf-1/evidence", `{"files":[]}`, testReviewer)
	c.Params = gin.Params{{Key: "id", Value: "wf-1"}}
	h.UploadEvidence(c)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Nil(t, svc.uploaded)
}

func TestWorkflowHandlerUploadEvidenceBodyLimit(t *testing.T) {
	svc := &workflowServiceMock{}
	h := NewWorkflowHandler(svc, 16)

	c, w := newUploadContext(t, map[string]string{"visit.pdf": strings.Repeat("x", 4096)})
	h.UploadEvidence(c)

	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Nil(t, svc.uploaded)
}

func TestWorkflowHandlerEvidenceDownload(t *testing.T) {
	svc := &workflowServiceMock{}
	h := NewWorkflowHandler(svc, 0)

	c, w := newTestContext(http.MethodGet, "/workflows/wf-1/evidence/case-1/a-visit.pdf", "", testReviewer)
	c.Params = gin.Params{{Key: "id", Value: "wf-1"}, {Key: "ref", Value: "/case-1/a-visit.pdf"}}
	h.Evidence(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "/case-1/a-visit.pdf", svc.lastRef)
	assert.Equal(t, "application/pdf", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "a-visit.pdf")
	assert.Equal(t, "%PDF-1.4", w.Body.String())
}

func TestWorkflowHandlerEvidenceNotFound(t *testing.T) {
	h := NewWorkflowHandler(&workflowServiceMock{err: appErrors.Clone(appErrors.ErrNotFound, "evidence not found")}, 0)

	c, w := newTestContext(http.MethodGet, "/workflows/wf-1/evidence/case-2/x.pdf", "", testReviewer)
	c.Params = gin.Params{{Key: "id", Value: "wf-1"}, {Key: "ref", Value: "/case-2/x.pdf"}}
	h.Evidence(c)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestWorkflowHandlerCompleteStage(t *testing.T) {
	svc := &workflowServiceMock{}
	h := NewWorkflowHandler(svc, 0)

	c, w := newTestContext(http.MethodPost, "/workflows/wf-1/stages/initialReport/complete", `{"content":"home visit done","evidence":["ev/1.jpg"]}`, testReviewer)
	c.Params = gin.Params{{Key: "id", Value: "wf-1"}, {Key: "stage", Value: "initialReport"}}
	h.CompleteStage(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.StageInitialReport, svc.lastStage)
	assert.Equal(t, []string{"ev/1.jpg"}, svc.lastReq.Evidence)
}

func TestWorkflowHandlerRejectsUnknownStage(t *testing.T) {
	svc := &workflowServiceMock{}
	h := NewWorkflowHandler(svc, 0)

	c, w := newTestContext(http.MethodPost, "/workflows/wf-1/stages/summary/complete", `{"content":"x"}`, testReviewer)
	c.Params = gin.Params{{Key: "id", Value: "wf-1"}, {Key: "stage", Value: "summary"}}
	h.CompleteStage(c)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.False(t, svc.called)
}

func TestWorkflowHandlerDossierDownload(t *testing.T) {
	h := NewWorkflowHandler(&workflowServiceMock{}, 0)

	c, w := newTestContext(http.MethodGet, "/workflows/wf-1/dossier", "", testReviewer)
	c.Params = gin.Params{{Key: "id", Value: "wf-1"}}
	h.Dossier(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/pdf", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "dossier-case-1.pdf")
	assert.Equal(t, "%PDF-1.3", w.Body.String())
}

func TestWorkflowHandlerDossierConcealed(t *testing.T) {
	h := NewWorkflowHandler(&workflowServiceMock{err: appErrors.Clone(appErrors.ErrNotFound, "workflow not found")}, 0)

	c, w := newTestContext(http.MethodGet, "/workflows/wf-1/dossier", "", testReviewer)
	c.Params = gin.Params{{Key: "id", Value: "wf-1"}}
	h.Dossier(c)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestWorkflowHandlerAddNote(t *testing.T) {
	h := NewWorkflowHandler(&workflowServiceMock{}, 0)

	c, w := newTestContext(http.MethodPost, "/workflows/wf-1/notes", `{"text":"called guardian"}`, testReviewer)
	c.Params = gin.Params{{Key: "id", Value: "wf-1"}}
	h.AddNote(c)

	require.Equal(t, http.StatusCreated, w.Code)
	body := decodeEnvelope(t, w)
	data := body["data"].(map[string]interface{})
	assert.Equal(t, "called guardian", data["text"])
}
