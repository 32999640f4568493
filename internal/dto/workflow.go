package dto

import (
	"io"
	"time"

	"github.com/noah-isme/sos-safeguard-api/internal/models"
)

// CompleteStageRequest captures POST /workflows/:id/stages/:stage/complete.
type CompleteStageRequest struct {
	Content  string   `json:"content" validate:"required,min=1"`
	Evidence []string `json:"evidence,omitempty" validate:"omitempty,dive,required,max=512"`
}

// AddNoteRequest captures POST /workflows/:id/notes.
type AddNoteRequest struct {
	Text string `json:"text" validate:"required,min=1,max=4000"`
}

// EvidenceUpload is one file of a multipart evidence upload.
type EvidenceUpload struct {
	Filename string
	Size     int64
	Content  io.Reader
}

// EvidenceRef is a stored evidence file. Ref is passed back in CompleteStageRequest.Evidence.
type EvidenceRef struct {
	Ref         string `json:"ref"`
	Filename    string `json:"filename"`
	ContentType string `json:"contentType"`
	Size        int64  `json:"size"`
}

// Countdown is computed from the wall clock on every read.
type Countdown struct {
	RemainingSeconds int64 `json:"remainingSeconds"`
	Expired          bool  `json:"expired"`
}

// NewCountdown returns the time left until due at now. Expired deadlines report zero.
func NewCountdown(due, now time.Time) *Countdown {
	remaining := due.Sub(now)
	if remaining <= 0 {
		return &Countdown{RemainingSeconds: 0, Expired: true}
	}
	return &Countdown{RemainingSeconds: int64(remaining / time.Second)}
}

// StageView is a stage with its live countdown.
type StageView struct {
	Completed   bool       `json:"completed"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	CompletedBy *string    `json:"completedBy,omitempty"`
	Content     string     `json:"content,omitempty"`
	Evidence    []string   `json:"evidence"`
	DueAt       *time.Time `json:"dueAt,omitempty"`
	Overdue     bool       `json:"overdue"`
	Countdown   *Countdown `json:"countdown,omitempty"`
}

// WorkflowResponse is the read view of a workflow.
type WorkflowResponse struct {
	ID            string                `json:"id"`
	CaseID        string                `json:"caseId"`
	OwnerID       string                `json:"ownerId"`
	InitialReport StageView             `json:"initialReport"`
	FinalReport   StageView             `json:"finalReport"`
	Penalties     []models.Penalty      `json:"penalties"`
	Notes         []models.WorkflowNote `json:"notes"`
	CurrentStage  models.WorkflowStage  `json:"currentStage"`
	Status        models.WorkflowStatus `json:"status"`
	Version       int                   `json:"version"`
	CreatedAt     time.Time             `json:"createdAt"`
	UpdatedAt     time.Time             `json:"updatedAt"`
	CompletedAt   *time.Time            `json:"completedAt,omitempty"`
}

// NewWorkflowResponse renders wf with countdowns relative to now.
func NewWorkflowResponse(wf *models.Workflow, now time.Time) WorkflowResponse {
	penalties := []models.Penalty(wf.Penalties)
	if penalties == nil {
		penalties = []models.Penalty{}
	}
	notes := []models.WorkflowNote(wf.Notes)
	if notes == nil {
		notes = []models.WorkflowNote{}
	}
	return WorkflowResponse{
		ID:            wf.ID,
		CaseID:        wf.CaseID,
		OwnerID:       wf.OwnerID,
		InitialReport: newStageView(wf.InitialReport, now),
		FinalReport:   newStageView(wf.FinalReport, now),
		Penalties:     penalties,
		Notes:         notes,
		CurrentStage:  wf.CurrentStage,
		Status:        wf.Status,
		Version:       wf.Version,
		CreatedAt:     wf.CreatedAt,
		UpdatedAt:     wf.UpdatedAt,
		CompletedAt:   wf.CompletedAt,
	}
}

func newStageView(s models.Stage, now time.Time) StageView {
	evidence := s.Evidence
	if evidence == nil {
		evidence = []string{}
	}
	view := StageView{
		Completed:   s.Completed,
		CompletedAt: s.CompletedAt,
		CompletedBy: s.CompletedBy,
		Content:     s.Content,
		Evidence:    evidence,
		DueAt:       s.DueAt,
		Overdue:     s.Overdue,
	}
	if !s.Completed && s.DueAt != nil {
		view.Countdown = NewCountdown(*s.DueAt, now)
	}
	return view
}
