package service

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sos-safeguard-api/internal/dto"
	"github.com/noah-isme/sos-safeguard-api/internal/models"
	appErrors "github.com/noah-isme/sos-safeguard-api/pkg/errors"
	"github.com/noah-isme/sos-safeguard-api/pkg/storage"
)

var pngBytes = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02\x00\x00\x00")

func pngUpload(name string) dto.EvidenceUpload {
	return dto.EvidenceUpload{Filename: name, Size: int64(len(pngBytes)), Content: bytes.NewReader(pngBytes)}
}

func newEvidenceFixture(t *testing.T) (*workflowFixture, *storage.LocalEvidence) {
	t.Helper()
	files, err := storage.NewLocalEvidence(t.TempDir())
	require.NoError(t, err)
	f := newWorkflowFixture(t, WithWorkflowEvidenceStore(files), WithWorkflowEvidenceFiles(files, 1024, 2))
	return f, files
}

func TestWorkflowServiceUploadEvidenceFeedsCompleteStage(t *testing.T) {
	f, files := newEvidenceFixture(t)
	ctx := context.Background()

	refs, err := f.svc.UploadEvidence(ctx, reviewerA, "wf-1", []dto.EvidenceUpload{pngUpload("../home visit.png")})
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.True(t, strings.HasPrefix(refs[0].Ref, "case-1/"))
	assert.True(t, strings.HasSuffix(refs[0].Ref, "-home_visit.png"))
	assert.Equal(t, "image/png", refs[0].ContentType)
	assert.Equal(t, int64(len(pngBytes)), refs[0].Size)

	ok, err := files.Exists(ctx, refs[0].Ref)
	require.NoError(t, err)
	assert.True(t, ok)

	resp, err := f.svc.CompleteStage(ctx, reviewerA, "wf-1", models.StageInitialReport, stageRequest(refs[0].Ref))
	require.NoError(t, err)
	assert.Equal(t, []string{refs[0].Ref}, resp.InitialReport.Evidence)
	assert.Equal(t, []string{models.AuditActionEvidenceUpload, models.AuditActionStageComplete}, f.audit.actions)
}

func TestWorkflowServiceUploadEvidenceRejections(t *testing.T) {
	f, _ := newEvidenceFixture(t)
	ctx := context.Background()

	_, err := f.svc.UploadEvidence(ctx, reviewerA, "wf-1", nil)
	assert.True(t, errors.Is(err, appErrors.ErrValidation))

	_, err = f.svc.UploadEvidence(ctx, reviewerA, "wf-1", []dto.EvidenceUpload{pngUpload("a.png"), pngUpload("b.png"), pngUpload("c.png")})
	assert.True(t, errors.Is(err, appErrors.ErrValidation))

	_, err = f.svc.UploadEvidence(ctx, reviewerA, "wf-1", []dto.EvidenceUpload{{Filename: "run.exe", Size: 3, Content: strings.NewReader("MZ!")}})
	assert.True(t, errors.Is(err, appErrors.ErrValidation))

	_, err = f.svc.UploadEvidence(ctx, reviewerA, "wf-1", []dto.EvidenceUpload{{Filename: "fake.png", Size: 9, Content: strings.NewReader("plain text")}})
	assert.True(t, errors.Is(err, appErrors.ErrValidation))

	_, err = f.svc.UploadEvidence(ctx, reviewerA, "wf-1", []dto.EvidenceUpload{{Filename: "big.png", Size: 2048, Content: bytes.NewReader(pngBytes)}})
	assert.True(t, errors.Is(err, appErrors.ErrPayloadTooLarge))

	oversized := append(append([]byte{}, pngBytes...), make([]byte, 2048)...)
	_, err = f.svc.UploadEvidence(ctx, reviewerA, "wf-1", []dto.EvidenceUpload{{Filename: "lied.png", Size: 10, Content: bytes.NewReader(oversized)}})
	assert.True(t, errors.Is(err, appErrors.ErrPayloadTooLarge))

	_, err = f.svc.UploadEvidence(ctx, director, "wf-1", []dto.EvidenceUpload{pngUpload("a.png")})
	assert.True(t, errors.Is(err, appErrors.ErrAccessDenied))
	assert.Empty(t, f.audit.actions)
}

func TestWorkflowServiceUploadEvidenceRequiresOpenWorkflow(t *testing.T) {
	f, _ := newEvidenceFixture(t)
	c := f.cases.cases["case-1"]
	c.Status = models.CaseStatusClosed
	f.cases.cases["case-1"] = c

	_, err := f.svc.UploadEvidence(context.Background(), reviewerA, "wf-1", []dto.EvidenceUpload{pngUpload("a.png")})
	assert.True(t, errors.Is(err, appErrors.ErrStateConflict))
}

func TestWorkflowServiceOpenEvidence(t *testing.T) {
	f, _ := newEvidenceFixture(t)
	ctx := context.Background()

	refs, err := f.svc.UploadEvidence(ctx, reviewerA, "wf-1", []dto.EvidenceUpload{pngUpload("scan.png")})
	require.NoError(t, err)

	rc, contentType, err := f.svc.OpenEvidence(ctx, director, "wf-1", "/"+refs[0].Ref)
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, pngBytes, data)
	assert.Equal(t, "image/png", contentType)
	assert.Equal(t, models.AuditActionEvidenceFetch, f.audit.actions[len(f.audit.actions)-1])

	_, _, err = f.svc.OpenEvidence(ctx, director, "wf-1", "case-2/other.png")
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))

	_, _, err = f.svc.OpenEvidence(ctx, director, "wf-1", "case-1/../case-2/other.png")
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))

	outsider := models.Principal{UserID: "rev-9", Tier: models.TierReviewer, HomeVillage: "village-b"}
	_, _, err = f.svc.OpenEvidence(ctx, outsider, "wf-1", refs[0].Ref)
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))
}

func TestWorkflowServiceEvidenceDisabled(t *testing.T) {
	f := newWorkflowFixture(t)

	_, err := f.svc.UploadEvidence(context.Background(), reviewerA, "wf-1", []dto.EvidenceUpload{pngUpload("a.png")})
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))
	_, _, err = f.svc.OpenEvidence(context.Background(), reviewerA, "wf-1", "case-1/a.png")
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))
}
