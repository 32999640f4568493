package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"path"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sos-safeguard-api/internal/dto"
	"github.com/noah-isme/sos-safeguard-api/internal/models"
	appErrors "github.com/noah-isme/sos-safeguard-api/pkg/errors"
	"github.com/noah-isme/sos-safeguard-api/pkg/response"
)

type workflowService interface {
	CompleteStage(ctx context.Context, p models.Principal, workflowID string, key models.StageKey, req dto.CompleteStageRequest) (*dto.WorkflowResponse, error)
	GetWorkflow(ctx context.Context, p models.Principal, workflowID string) (*dto.WorkflowResponse, error)
	GetWorkflowByCase(ctx context.Context, p models.Principal, caseID string) (*dto.WorkflowResponse, error)
	ListMine(ctx context.Context, p models.Principal) ([]dto.WorkflowResponse, error)
	AddNote(ctx context.Context, p models.Principal, workflowID string, req dto.AddNoteRequest) (*models.WorkflowNote, error)
	RenderDossier(ctx context.Context, p models.Principal, workflowID string) ([]byte, string, error)
	UploadEvidence(ctx context.Context, p models.Principal, workflowID string, files []dto.EvidenceUpload) ([]dto.EvidenceRef, error)
	OpenEvidence(ctx context.Context, p models.Principal, workflowID, ref string) (io.ReadCloser, string, error)
}

// WorkflowHandler exposes documentation workflow endpoints.
type WorkflowHandler struct {
	service   workflowService
	maxUpload int64
}

// NewWorkflowHandler builds a new handler. maxUpload bounds the body of an evidence upload;
// zero leaves it unbounded.
func NewWorkflowHandler(service workflowService, maxUpload int64) *WorkflowHandler {
	return &WorkflowHandler{service: service, maxUpload: maxUpload}
}

// CompleteStage godoc
// @Summary Complete a documentation stage
// @Tags Workflows
// @Accept json
// @Produce json
// @Param id path string true "Workflow ID"
// @Param stage path string true "initialReport or finalReport"
// @Param payload body dto.CompleteStageRequest true "Stage content"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /workflows/{id}/stages/{stage}/complete [post]
func (h *WorkflowHandler) CompleteStage(c *gin.Context) {
	p, ok := principalFromContext(c)
	if !ok {
		return
	}
	key := models.StageKey(c.Param("stage"))
	if !key.Valid() {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "stage must be initialReport or finalReport"))
		return
	}
	var req dto.CompleteStageRequest
	if !bindJSON(c, &req, "invalid stage payload") {
		return
	}
	item, err := h.service.CompleteStage(c.Request.Context(), p, c.Param("id"), key, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, item, nil)
}

// Get godoc
// @Summary Get a workflow
// @Tags Workflows
// @Produce json
// @Param id path string true "Workflow ID"
// @Success 200 {object} response.Envelope
// @Router /workflows/{id} [get]
func (h *WorkflowHandler) Get(c *gin.Context) {
	p, ok := principalFromContext(c)
	if !ok {
		return
	}
	item, err := h.service.GetWorkflow(c.Request.Context(), p, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, item, nil)
}

// ByCase godoc
// @Summary Get the workflow of a case
// @Tags Workflows
// @Produce json
// @Param id path string true "Case ID"
// @Success 200 {object} response.Envelope
// @Router /cases/{id}/workflow [get]
func (h *WorkflowHandler) ByCase(c *gin.Context) {
	p, ok := principalFromContext(c)
	if !ok {
		return
	}
	item, err := h.service.GetWorkflowByCase(c.Request.Context(), p, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, item, nil)
}

// Mine godoc
// @Summary List workflows owned by the caller
// @Tags Workflows
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /workflows/mine [get]
func (h *WorkflowHandler) Mine(c *gin.Context) {
	p, ok := principalFromContext(c)
	if !ok {
		return
	}
	items, err := h.service.ListMine(c.Request.Context(), p)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, nil)
}

// AddNote godoc
// @Summary Append a workflow note
// @Tags Workflows
// @Accept json
// @Produce json
// @Param id path string true "Workflow ID"
// @Param payload body dto.AddNoteRequest true "Note"
// @Success 201 {object} response.Envelope
// @Router /workflows/{id}/notes [post]
func (h *WorkflowHandler) AddNote(c *gin.Context) {
	p, ok := principalFromContext(c)
	if !ok {
		return
	}
	var req dto.AddNoteRequest
	if !bindJSON(c, &req, "invalid note payload") {
		return
	}
	note, err := h.service.AddNote(c.Request.Context(), p, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, note)
}

// Dossier godoc
// @Summary Download the case dossier as PDF
// @Tags Workflows
// @Produce application/pdf
// @Param id path string true "Workflow ID"
// @Success 200 {file} file
// @Router /workflows/{id}/dossier [get]
func (h *WorkflowHandler) Dossier(c *gin.Context) {
	p, ok := principalFromContext(c)
	if !ok {
		return
	}
	content, filename, err := h.service.RenderDossier(c.Request.Context(), p, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)
	c.Data(http.StatusOK, "application/pdf", content)
}

// UploadEvidence godoc
// @Summary Upload evidence files for a workflow
// @Description Stores the files and returns references to pass in the evidence list of a stage completion.
// @Tags Workflows
// @Accept multipart/form-data
// @Produce json
// @Param id path string true "Workflow ID"
// @Param files formData file true "Evidence files (jpg, png, mp3, wav, mp4, mov, pdf)"
// @Success 201 {object} response.Envelope
// @Failure 413 {object} response.Envelope
// @Router /workflows/{id}/evidence [post]
func (h *WorkflowHandler) UploadEvidence(c *gin.Context) {
	p, ok := principalFromContext(c)
	if !ok {
		return
	}
	if h.maxUpload > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUpload)
	}
	form, err := c.MultipartForm()
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response.Error(c, appErrors.Clone(appErrors.ErrPayloadTooLarge, "upload exceeds the size limit"))
			return
		}
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "multipart form with files is required"))
		return
	}
	defer func() { _ = form.RemoveAll() }()

	headers := form.File["files"]
	uploads := make([]dto.EvidenceUpload, 0, len(headers))
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "failed to read "+fh.Filename))
			return
		}
		defer f.Close()
		uploads = append(uploads, dto.EvidenceUpload{Filename: fh.Filename, Size: fh.Size, Content: f})
	}

	refs, err := h.service.UploadEvidence(c.Request.Context(), p, c.Param("id"), uploads)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, refs)
}

// Evidence godoc
// @Summary Download an evidence file of a workflow
// @Tags Workflows
// @Produce octet-stream
// @Param id path string true "Workflow ID"
// @Param ref path string true "Evidence reference"
// @Success 200 {file} file
// @Failure 404 {object} response.Envelope
// @Router /workflows/{id}/evidence/{ref} [get]
func (h *WorkflowHandler) Evidence(c *gin.Context) {
	p, ok := principalFromContext(c)
	if !ok {
		return
	}
	ref := c.Param("ref")
	rc, contentType, err := h.service.OpenEvidence(c.Request.Context(), p, c.Param("id"), ref)
	if err != nil {
		response.Error(c, err)
		return
	}
	defer rc.Close()

	c.Header("Cache-Control", "no-store")
	c.Header("Content-Disposition", `attachment; filename="`+path.Base(ref)+`"`)
	c.DataFromReader(http.StatusOK, -1, contentType, rc, nil)
}
