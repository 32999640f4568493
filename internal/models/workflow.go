package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// StageKey names a documentation stage.
type StageKey string

const (
	StageInitialReport StageKey = "initialReport"
	StageFinalReport   StageKey = "finalReport"
)

// Valid reports whether k is a known stage.
func (k StageKey) Valid() bool { return k == StageInitialReport || k == StageFinalReport }

// WorkflowStage is the workflow's position.
type WorkflowStage string

const (
	WorkflowStageInitial   WorkflowStage = "INITIAL_REPORT"
	WorkflowStageFinal     WorkflowStage = "FINAL_REPORT"
	WorkflowStageCompleted WorkflowStage = "COMPLETED"
)

// WorkflowStatus is ACTIVE until the final report is in.
type WorkflowStatus string

const (
	WorkflowStatusActive    WorkflowStatus = "ACTIVE"
	WorkflowStatusCompleted WorkflowStatus = "COMPLETED"
)

// Stage is one documentation step, persisted as JSONB.
type Stage struct {
	Completed   bool       `json:"completed"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	CompletedBy *string    `json:"completedBy,omitempty"`
	Content     string     `json:"content,omitempty"`
	Evidence    []string   `json:"evidence"`
	DueAt       *time.Time `json:"dueAt,omitempty"`
	Overdue     bool       `json:"overdue"`
}

// Value marshals the stage for persistence.
func (s Stage) Value() (driver.Value, error) {
	if s.Evidence == nil {
		s.Evidence = []string{}
	}
	return marshalJSONB(s, "stage")
}

// Scan unmarshals a JSONB stage.
func (s *Stage) Scan(value interface{}) error {
	*s = Stage{}
	return scanJSONB(value, s, "stage")
}

// Penalty records one late stage completion.
type Penalty struct {
	Stage       StageKey  `json:"stage"`
	DueAt       time.Time `json:"dueAt"`
	CompletedAt time.Time `json:"completedAt"`
	DelayHours  float64   `json:"delayHours"`
	UserID      string    `json:"userId"`
}

// DelayHours rounds the lateness to one decimal, never below 0.1 for a late completion.
func DelayHours(dueAt, completedAt time.Time) float64 {
	hours := math.Round(completedAt.Sub(dueAt).Hours()*10) / 10
	if hours < 0.1 {
		return 0.1
	}
	return hours
}

// Penalties is the append-only penalty log.
type Penalties []Penalty

// Value marshals the log for persistence.
func (p Penalties) Value() (driver.Value, error) {
	if p == nil {
		p = Penalties{}
	}
	return marshalJSONB([]Penalty(p), "penalties")
}

// Scan unmarshals the JSONB log.
func (p *Penalties) Scan(value interface{}) error {
	*p = Penalties{}
	return scanJSONB(value, (*[]Penalty)(p), "penalties")
}

// WorkflowNote is a free-text entry on the workflow.
type WorkflowNote struct {
	AuthorID  string    `json:"authorId"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
}

// WorkflowNotes is the notes log.
type WorkflowNotes []WorkflowNote

// Value marshals the notes for persistence.
func (n WorkflowNotes) Value() (driver.Value, error) {
	if n == nil {
		n = WorkflowNotes{}
	}
	return marshalJSONB([]WorkflowNote(n), "notes")
}

// Scan unmarshals the JSONB notes.
func (n *WorkflowNotes) Scan(value interface{}) error {
	*n = WorkflowNotes{}
	return scanJSONB(value, (*[]WorkflowNote)(n), "notes")
}

// Workflow is the two-stage documentation record attached to a claimed case.
type Workflow struct {
	ID            string         `db:"id" json:"id"`
	CaseID        string         `db:"case_id" json:"case_id"`
	OwnerID       string         `db:"owner_id" json:"owner_id"`
	InitialReport Stage          `db:"initial_report" json:"initial_report"`
	FinalReport   Stage          `db:"final_report" json:"final_report"`
	Penalties     Penalties      `db:"penalties" json:"penalties"`
	Notes         WorkflowNotes  `db:"notes" json:"notes"`
	CurrentStage  WorkflowStage  `db:"current_stage" json:"current_stage"`
	Status        WorkflowStatus `db:"status" json:"status"`
	Version       int            `db:"version" json:"version"`
	CreatedAt     time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time      `db:"updated_at" json:"updated_at"`
	CompletedAt   *time.Time     `db:"completed_at" json:"completed_at,omitempty"`
}

// Stage returns a pointer to the stage named by key.
func (w *Workflow) Stage(key StageKey) *Stage {
	switch key {
	case StageInitialReport:
		return &w.InitialReport
	case StageFinalReport:
		return &w.FinalReport
	}
	return nil
}

// NewWorkflow builds the workflow created by a claim.
func NewWorkflow(id, caseID, ownerID string, now, initialDue time.Time) *Workflow {
	due := initialDue
	return &Workflow{
		ID:            id,
		CaseID:        caseID,
		OwnerID:       ownerID,
		InitialReport: Stage{Evidence: []string{}, DueAt: &due},
		FinalReport:   Stage{Evidence: []string{}},
		Penalties:     Penalties{},
		Notes:         WorkflowNotes{},
		CurrentStage:  WorkflowStageInitial,
		Status:        WorkflowStatusActive,
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func marshalJSONB(v interface{}, what string) (driver.Value, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", what, err)
	}
	return data, nil
}

func scanJSONB(value interface{}, dest interface{}, what string) error {
	var data []byte
	switch v := value.(type) {
	case nil:
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported type %T for %s", value, what)
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("unmarshal %s: %w", what, err)
	}
	return nil
}
