package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/sos-safeguard-api/internal/models"
	"github.com/noah-isme/sos-safeguard-api/pkg/database"
)

const caseColumns = `id, title, narrative, child_name, concern_name, category, urgency, anonymous, village_id, program,
       status, classification, classified_by, classified_at, assigned_to, assigned_at, deadline_at,
       escalation_targets, escalation_note, escalated_by, escalated_at, evidence, created_by, created_at, updated_at,
       closed_at, closed_by, closure_reason, archived_at, archived_by`

// CaseRepository persists cases. Every transition is a single conditional statement or a
// transaction; a conditional write that matches no row reports sql.ErrNoRows.
type CaseRepository struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewCaseRepository constructs the repository. timeout bounds each store call.
func NewCaseRepository(db *sqlx.DB, timeout time.Duration) *CaseRepository {
	return &CaseRepository{db: db, timeout: timeout}
}

// Create inserts a new case row.
func (r *CaseRepository) Create(ctx context.Context, c *models.Case) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = c.CreatedAt
	if c.Status == "" {
		c.Status = models.CaseStatusPending
	}
	if c.Evidence == nil {
		c.Evidence = pq.StringArray{}
	}

	ctx, cancel := database.WithTimeout(ctx, r.timeout)
	defer cancel()

	const query = `INSERT INTO cases
	(id, title, narrative, child_name, concern_name, category, urgency, anonymous, village_id, program, status, evidence, created_by, created_at, updated_at)
	VALUES (:id, :title, :narrative, :child_name, :concern_name, :category, :urgency, :anonymous, :village_id, :program, :status, :evidence, :created_by, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, c); err != nil {
		return fmt.Errorf("create case: %w", err)
	}
	return nil
}

// GetByID fetches a case by identifier.
func (r *CaseRepository) GetByID(ctx context.Context, id string) (*models.Case, error) {
	ctx, cancel := database.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `SELECT ` + caseColumns + ` FROM cases WHERE id = $1`
	var c models.Case
	if err := r.db.GetContext(ctx, &c, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("get case: %w", err)
	}
	return &c, nil
}

// List returns cases matching the filter with the total count.
func (r *CaseRepository) List(ctx context.Context, filter models.CaseFilter) ([]models.Case, int, error) {
	var conditions []string
	var args []interface{}

	scope := make([]string, 0, 2)
	if len(filter.Villages) > 0 {
		args = append(args, pq.StringArray(filter.Villages))
		scope = append(scope, fmt.Sprintf("village_id = ANY($%d)", len(args)))
	}
	if filter.CreatedBy != "" {
		args = append(args, filter.CreatedBy)
		scope = append(scope, fmt.Sprintf("created_by = $%d", len(args)))
	}
	if len(scope) > 0 {
		conditions = append(conditions, "("+strings.Join(scope, " OR ")+")")
	}
	if filter.AssignedTo != "" {
		args = append(args, filter.AssignedTo)
		conditions = append(conditions, fmt.Sprintf("assigned_to = $%d", len(args)))
	}
	if len(filter.Status) > 0 {
		placeholders := make([]string, len(filter.Status))
		for i, status := range filter.Status {
			args = append(args, status)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		conditions = append(conditions, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
	}
	if filter.Category != "" {
		args = append(args, filter.Category)
		conditions = append(conditions, fmt.Sprintf("category = $%d", len(args)))
	}
	if rank := filter.MinUrgency.Rank(); rank > 1 {
		allowed := make([]string, 0, 4)
		for _, u := range []models.Urgency{models.UrgencyLow, models.UrgencyMedium, models.UrgencyHigh, models.UrgencyCritical} {
			if u.Rank() >= rank {
				args = append(args, u)
				allowed = append(allowed, fmt.Sprintf("$%d", len(args)))
			}
		}
		conditions = append(conditions, fmt.Sprintf("urgency IN (%s)", strings.Join(allowed, ",")))
	}
	if filter.Archived != nil {
		if *filter.Archived {
			conditions = append(conditions, "archived_at IS NOT NULL")
		} else {
			conditions = append(conditions, "archived_at IS NULL")
		}
	}

	baseQuery := "FROM cases WHERE 1=1"
	if len(conditions) > 0 {
		baseQuery += " AND " + strings.Join(conditions, " AND ")
	}

	allowedSorts := map[string]bool{"created_at": true, "updated_at": true, "deadline_at": true, "urgency": true, "status": true}
	sortBy := filter.SortBy
	if !allowedSorts[sortBy] {
		sortBy = "created_at"
	}
	sortOrder := strings.ToUpper(filter.SortOrder)
	if sortOrder != "ASC" && sortOrder != "DESC" {
		sortOrder = "DESC"
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	ctx, cancel := database.WithTimeout(ctx, r.timeout)
	defer cancel()

	listQuery := fmt.Sprintf("SELECT %s %s ORDER BY %s %s LIMIT %d OFFSET %d", caseColumns, baseQuery, sortBy, sortOrder, pageSize, offset)
	var cases []models.Case
	if err := r.db.SelectContext(ctx, &cases, listQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("list cases: %w", err)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) "+baseQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count cases: %w", err)
	}
	return cases, total, nil
}

// ClaimParams carries the values written by a claim.
type ClaimParams struct {
	CaseID     string
	ReviewerID string
	At         time.Time
	DueAt      time.Time
	WorkflowID string
}

// Claim assigns the case and creates its workflow in one transaction. A case already held by
// another reviewer, archived, or no longer open matches nothing and yields sql.ErrNoRows.
// When the caller already owns the case the stored workflow is returned unchanged and
// created is false.
func (r *CaseRepository) Claim(ctx context.Context, params ClaimParams) (workflow *models.Workflow, created bool, err error) {
	ctx, cancel := database.WithTimeout(ctx, r.timeout)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("begin claim: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	const claimCase = `UPDATE cases SET
		status = 'IN_PROGRESS',
		assigned_to = $2,
		assigned_at = COALESCE(assigned_at, $3),
		deadline_at = CASE WHEN assigned_to IS NULL THEN $4 ELSE deadline_at END,
		updated_at = $3
	WHERE id = $1 AND archived_at IS NULL AND status IN ('PENDING','IN_PROGRESS')
		AND (assigned_to IS NULL OR assigned_to = $2)`
	res, err := tx.ExecContext(ctx, claimCase, params.CaseID, params.ReviewerID, params.At, params.DueAt)
	if err != nil {
		return nil, false, fmt.Errorf("claim case: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("check claim rows: %w", err)
	}
	if rows == 0 {
		err = sql.ErrNoRows
		return nil, false, err
	}

	wf := models.NewWorkflow(params.WorkflowID, params.CaseID, params.ReviewerID, params.At, params.DueAt)
	const insertWorkflow = `INSERT INTO workflows
	(id, case_id, owner_id, initial_report, final_report, penalties, notes, current_stage, status, version, created_at, updated_at)
	VALUES (:id, :case_id, :owner_id, :initial_report, :final_report, :penalties, :notes, :current_stage, :status, :version, :created_at, :updated_at)
	ON CONFLICT (case_id) DO NOTHING`
	res, err = tx.NamedExecContext(ctx, insertWorkflow, wf)
	if err != nil {
		return nil, false, fmt.Errorf("create workflow: %w", err)
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("check workflow rows: %w", err)
	}

	var stored models.Workflow
	if err = tx.GetContext(ctx, &stored, `SELECT `+workflowColumns+` FROM workflows WHERE case_id = $1`, params.CaseID); err != nil {
		return nil, false, fmt.Errorf("load claimed workflow: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("commit claim: %w", err)
	}
	return &stored, inserted == 1, nil
}

// ClassifyParams carries a compare-and-set classification.
type ClassifyParams struct {
	CaseID         string
	ExpectStatus   models.CaseStatus
	Classification models.Classification
	Status         models.CaseStatus
	ActorID        string
	At             time.Time
}

// Classify writes the classification only while the status is still the one the caller read
// and the case is unassigned or assigned to the actor.
func (r *CaseRepository) Classify(ctx context.Context, params ClassifyParams) error {
	const query = `UPDATE cases SET classification = $2, classified_by = $3, classified_at = $4, status = $5, updated_at = $4
	WHERE id = $1 AND status = $6 AND archived_at IS NULL AND (assigned_to IS NULL OR assigned_to = $3)`
	return r.execConditional(ctx, "classify case", query,
		params.CaseID, params.Classification, params.ActorID, params.At, params.Status, params.ExpectStatus)
}

// Escalate records escalation targets on a classified, non-archived case.
func (r *CaseRepository) Escalate(ctx context.Context, id string, targets []string, note *string, actorID string, at time.Time) error {
	const query = `UPDATE cases SET escalation_targets = $2, escalation_note = $3, escalated_by = $4, escalated_at = $5, updated_at = $5
	WHERE id = $1 AND classification IS NOT NULL AND archived_at IS NULL`
	return r.execConditional(ctx, "escalate case", query, id, pq.StringArray(targets), note, actorID, at)
}

// Close moves a non-closed case to CLOSED and clears its active deadline.
func (r *CaseRepository) Close(ctx context.Context, id, reason, actorID string, at time.Time) error {
	const query = `UPDATE cases SET status = 'CLOSED', closure_reason = $2, closed_by = $3, closed_at = $4, deadline_at = NULL, updated_at = $4
	WHERE id = $1 AND status <> 'CLOSED' AND archived_at IS NULL`
	return r.execConditional(ctx, "close case", query, id, reason, actorID, at)
}

// Archive stamps a CLOSED case as archived once.
func (r *CaseRepository) Archive(ctx context.Context, id, actorID string, at time.Time) error {
	const query = `UPDATE cases SET archived_at = $2, archived_by = $3, updated_at = $2
	WHERE id = $1 AND status = 'CLOSED' AND archived_at IS NULL`
	return r.execConditional(ctx, "archive case", query, id, at, actorID)
}

// DeadlineCandidates selects open, assigned cases whose active deadline falls in [from, to].
func (r *CaseRepository) DeadlineCandidates(ctx context.Context, from, to time.Time) ([]models.DeadlineCandidate, error) {
	ctx, cancel := database.WithTimeout(ctx, r.timeout)
	defer cancel()

	const query = `SELECT c.id AS case_id, w.id AS workflow_id, c.assigned_to, COALESCE(u.email, '') AS assignee_email,
       c.deadline_at, w.current_stage
	FROM cases c
	JOIN workflows w ON w.case_id = c.id
	LEFT JOIN users u ON u.id = c.assigned_to
	WHERE c.status = 'IN_PROGRESS' AND c.assigned_to IS NOT NULL AND c.archived_at IS NULL
		AND c.deadline_at BETWEEN $1 AND $2 AND w.status = 'ACTIVE'
	ORDER BY c.deadline_at ASC`
	var rows []models.DeadlineCandidate
	if err := r.db.SelectContext(ctx, &rows, query, from, to); err != nil {
		return nil, fmt.Errorf("select deadline candidates: %w", err)
	}
	return rows, nil
}

func (r *CaseRepository) execConditional(ctx context.Context, op, query string, args ...interface{}) error {
	ctx, cancel := database.WithTimeout(ctx, r.timeout)
	defer cancel()

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows: %w", op, err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}
