package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/sos-safeguard-api/internal/models"
	"github.com/noah-isme/sos-safeguard-api/pkg/database"
)

const workflowColumns = `id, case_id, owner_id, initial_report, final_report, penalties, notes, current_stage, status, version,
       created_at, updated_at, completed_at`

// WorkflowRepository persists documentation workflows.
type WorkflowRepository struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewWorkflowRepository constructs the repository.
func NewWorkflowRepository(db *sqlx.DB, timeout time.Duration) *WorkflowRepository {
	return &WorkflowRepository{db: db, timeout: timeout}
}

// GetByID fetches a workflow by identifier.
func (r *WorkflowRepository) GetByID(ctx context.Context, id string) (*models.Workflow, error) {
	return r.getOne(ctx, `SELECT `+workflowColumns+` FROM workflows WHERE id = $1`, id)
}

// GetByCaseID fetches the workflow attached to a case.
func (r *WorkflowRepository) GetByCaseID(ctx context.Context, caseID string) (*models.Workflow, error) {
	return r.getOne(ctx, `SELECT `+workflowColumns+` FROM workflows WHERE case_id = $1`, caseID)
}

// ListByOwner returns the reviewer's workflows, optionally filtered by status, newest first.
func (r *WorkflowRepository) ListByOwner(ctx context.Context, ownerID string, status models.WorkflowStatus) ([]models.Workflow, error) {
	ctx, cancel := database.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `SELECT ` + workflowColumns + ` FROM workflows WHERE owner_id = $1`
	args := []interface{}{ownerID}
	if status != "" {
		query += ` AND status = $2`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC LIMIT 200`

	var workflows []models.Workflow
	if err := r.db.SelectContext(ctx, &workflows, query, args...); err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}
	return workflows, nil
}

// StageUpdate is the result of a stage completion to persist.
type StageUpdate struct {
	Workflow      *models.Workflow
	ExpectVersion int
	CaseDeadline  *time.Time
	CaseEvidence  []string
	At            time.Time
}

// SaveStage writes the workflow and the case's active deadline in one transaction. The
// workflow write is guarded by its version and the case write by its IN_PROGRESS status; a
// concurrent writer on either yields sql.ErrNoRows and nothing is written.
func (r *WorkflowRepository) SaveStage(ctx context.Context, update StageUpdate) (err error) {
	ctx, cancel := database.WithTimeout(ctx, r.timeout)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin stage update: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	wf := update.Workflow
	const saveWorkflow = `UPDATE workflows SET initial_report = $2, final_report = $3, penalties = $4, current_stage = $5,
		status = $6, completed_at = $7, version = version + 1, updated_at = $8
	WHERE id = $1 AND version = $9`
	res, err := tx.ExecContext(ctx, saveWorkflow, wf.ID, wf.InitialReport, wf.FinalReport, wf.Penalties,
		wf.CurrentStage, wf.Status, wf.CompletedAt, update.At, update.ExpectVersion)
	if err != nil {
		return fmt.Errorf("save workflow stage: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check workflow rows: %w", err)
	}
	if rows == 0 {
		err = sql.ErrNoRows
		return err
	}

	evidence := update.CaseEvidence
	if evidence == nil {
		evidence = []string{}
	}
	const moveDeadline = `UPDATE cases SET deadline_at = $2, evidence = evidence || $3::text[], updated_at = $4
	WHERE id = $1 AND status = 'IN_PROGRESS' AND archived_at IS NULL`
	res, err = tx.ExecContext(ctx, moveDeadline, wf.CaseID, update.CaseDeadline, pq.StringArray(evidence), update.At)
	if err != nil {
		return fmt.Errorf("update case deadline: %w", err)
	}
	rows, err = res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check case rows: %w", err)
	}
	if rows == 0 {
		err = sql.ErrNoRows
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit stage update: %w", err)
	}
	wf.Version = update.ExpectVersion + 1
	wf.UpdatedAt = update.At
	return nil
}

// AppendNote appends to the notes log atomically.
func (r *WorkflowRepository) AppendNote(ctx context.Context, workflowID string, note models.WorkflowNote) error {
	ctx, cancel := database.WithTimeout(ctx, r.timeout)
	defer cancel()

	entry, err := models.WorkflowNotes{note}.Value()
	if err != nil {
		return err
	}
	const query = `UPDATE workflows SET notes = COALESCE(notes, '[]'::jsonb) || $2::jsonb, updated_at = $3 WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, workflowID, entry, note.CreatedAt)
	if err != nil {
		return fmt.Errorf("append workflow note: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check note rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (r *WorkflowRepository) getOne(ctx context.Context, query string, arg string) (*models.Workflow, error) {
	ctx, cancel := database.WithTimeout(ctx, r.timeout)
	defer cancel()

	var wf models.Workflow
	if err := r.db.GetContext(ctx, &wf, query, arg); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("get workflow: %w", err)
	}
	return &wf, nil
}
