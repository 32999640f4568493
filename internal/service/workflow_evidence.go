package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/sos-safeguard-api/internal/dto"
	"github.com/noah-isme/sos-safeguard-api/internal/models"
	appErrors "github.com/noah-isme/sos-safeguard-api/pkg/errors"
	"github.com/noah-isme/sos-safeguard-api/pkg/storage"
)

// UploadEvidence stores files under the workflow's case and returns their references. The
// caller must be allowed to complete a stage of the workflow. Stored files are not attached
// to a stage until they are named in a CompleteStage request.
func (s *WorkflowService) UploadEvidence(ctx context.Context, p models.Principal, workflowID string, files []dto.EvidenceUpload) ([]dto.EvidenceRef, error) {
	if s.files == nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "evidence upload is not enabled")
	}
	switch {
	case len(files) == 0:
		return nil, appErrors.Clone(appErrors.ErrValidation, "at least one file is required")
	case len(files) > s.maxFiles:
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("at most %d files per upload", s.maxFiles))
	}
	for _, f := range files {
		if f.Size > s.maxUpload {
			return nil, appErrors.Clone(appErrors.ErrPayloadTooLarge, f.Filename+" exceeds the upload limit")
		}
		if !storage.AllowedExtension(f.Filename) {
			return nil, appErrors.Clone(appErrors.ErrValidation, "unsupported file type: "+f.Filename)
		}
	}

	wf, c, err := s.loadWithCase(ctx, p, workflowID, OpCompleteStage)
	if err != nil {
		return nil, err
	}
	switch {
	case c.Archived():
		return nil, appErrors.StateConflict("case is archived")
	case c.Status != models.CaseStatusInProgress:
		return nil, appErrors.StateConflict("case is not in progress")
	case wf.Status == models.WorkflowStatusCompleted:
		return nil, appErrors.StateConflict("workflow already completed")
	}

	refs := make([]dto.EvidenceRef, 0, len(files))
	for _, f := range files {
		ref, err := s.storeEvidence(ctx, c.ID, f)
		if err != nil {
			if len(refs) > 0 {
				s.logger.Warn("evidence upload stopped part way", zap.String("workflow_id", wf.ID), zap.Int("stored", len(refs)))
			}
			return nil, err
		}
		refs = append(refs, ref)
	}

	stored := make([]string, 0, len(refs))
	for _, ref := range refs {
		stored = append(stored, ref.Ref)
	}
	s.audit.Record(ctx, p.UserID, models.AuditActionEvidenceUpload, workflowTarget(wf.ID), map[string]interface{}{"case_id": c.ID, "refs": stored})
	return refs, nil
}

func (s *WorkflowService) storeEvidence(ctx context.Context, caseID string, f dto.EvidenceUpload) (dto.EvidenceRef, error) {
	contentType, body, err := storage.Sniff(f.Filename, f.Content)
	if err != nil {
		if errors.Is(err, storage.ErrUnsupportedType) {
			return dto.EvidenceRef{}, appErrors.Clone(appErrors.ErrValidation, "file content does not match its type: "+f.Filename)
		}
		return dto.EvidenceRef{}, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "failed to read "+f.Filename)
	}

	name := storage.SanitizeFilename(f.Filename)
	ref := caseID + "/" + uuid.NewString() + "-" + name
	size, err := s.files.Save(ctx, ref, body, s.maxUpload)
	switch {
	case errors.Is(err, storage.ErrTooLarge):
		return dto.EvidenceRef{}, appErrors.Clone(appErrors.ErrPayloadTooLarge, f.Filename+" exceeds the upload limit")
	case err != nil:
		return dto.EvidenceRef{}, appErrors.Infrastructure(err, "failed to store evidence")
	}
	return dto.EvidenceRef{Ref: ref, Filename: name, ContentType: contentType, Size: size}, nil
}

// OpenEvidence streams a stored evidence file of the workflow's case. The caller closes the
// returned reader.
func (s *WorkflowService) OpenEvidence(ctx context.Context, p models.Principal, workflowID, ref string) (io.ReadCloser, string, error) {
	if s.files == nil {
		return nil, "", appErrors.Clone(appErrors.ErrNotFound, "evidence not found")
	}
	ref = path.Clean(strings.TrimPrefix(strings.TrimSpace(ref), "/"))
	wf, c, err := s.loadWithCase(ctx, p, workflowID, OpRead)
	if err != nil {
		return nil, "", err
	}
	if !strings.HasPrefix(ref, c.ID+"/") {
		return nil, "", appErrors.Clone(appErrors.ErrNotFound, "evidence not found")
	}

	rc, err := s.files.Open(ctx, ref)
	switch {
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, storage.ErrInvalidReference):
		return nil, "", appErrors.Clone(appErrors.ErrNotFound, "evidence not found")
	case err != nil:
		return nil, "", appErrors.Infrastructure(err, "failed to open evidence")
	}
	s.audit.Record(ctx, p.UserID, models.AuditActionEvidenceFetch, workflowTarget(wf.ID), map[string]interface{}{"ref": ref})
	return rc, storage.ContentTypeFor(ref), nil
}
