package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sos-safeguard-api/internal/models"
)

func TestWorkflowRepositorySaveStageMovesCaseDeadline(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewWorkflowRepository(db, time.Second)

	now := time.Now().UTC()
	finalDue := now.Add(48 * time.Hour)
	wf := models.NewWorkflow("wf-1", "c1", "rev-1", now, now.Add(24*time.Hour))
	wf.InitialReport.Completed = true
	wf.FinalReport.DueAt = &finalDue
	wf.CurrentStage = models.WorkflowStageFinal

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE workflows SET")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("WHERE id = $1 AND status = 'IN_PROGRESS' AND archived_at IS NULL")).
		WithArgs("c1", finalDue, sqlmock.AnyArg(), now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.SaveStage(context.Background(), StageUpdate{Workflow: wf, ExpectVersion: 1, CaseDeadline: &finalDue, CaseEvidence: []string{"doc-1"}, At: now})
	require.NoError(t, err)
	assert.Equal(t, 2, wf.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWorkflowRepositorySaveStageVersionConflict(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewWorkflowRepository(db, time.Second)

	wf := models.NewWorkflow("wf-1", "c1", "rev-1", time.Now(), time.Now())
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("WHERE id = $1 AND version = $9")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := repo.SaveStage(context.Background(), StageUpdate{Workflow: wf, ExpectVersion: 1, At: time.Now()})
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.Equal(t, 1, wf.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWorkflowRepositorySaveStageRollsBackWhenCaseLeftProgress(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewWorkflowRepository(db, time.Second)

	now := time.Now().UTC()
	wf := models.NewWorkflow("wf-1", "c1", "rev-1", now, now.Add(24*time.Hour))
	wf.InitialReport.Completed = true

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("WHERE id = $1 AND version = $9")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("status = 'IN_PROGRESS'")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := repo.SaveStage(context.Background(), StageUpdate{Workflow: wf, ExpectVersion: 1, At: now})
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.Equal(t, 1, wf.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWorkflowRepositoryAppendNote(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewWorkflowRepository(db, time.Second)

	now := time.Now()
	mock.ExpectExec(regexp.QuoteMeta("notes = COALESCE(notes, '[]'::jsonb) || $2::jsonb")).
		WithArgs("wf-1", sqlmock.AnyArg(), now).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.AppendNote(context.Background(), "wf-1", models.WorkflowNote{AuthorID: "rev-1", Text: "called family", CreatedAt: now})
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}
