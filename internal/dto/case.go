package dto

import (
	"time"

	"github.com/noah-isme/sos-safeguard-api/internal/models"
)

// CreateCaseRequest captures POST /cases.
type CreateCaseRequest struct {
	Title       *string             `json:"title,omitempty" validate:"omitempty,max=200"`
	Narrative   string              `json:"narrative" validate:"required,min=10"`
	ChildName   *string             `json:"childName,omitempty" validate:"omitempty,max=200"`
	ConcernName *string             `json:"concernName,omitempty" validate:"omitempty,max=200"`
	Category    models.CaseCategory `json:"category" validate:"required"`
	Urgency     models.Urgency      `json:"urgency,omitempty"`
	Anonymous   bool                `json:"anonymous"`
	VillageID   string              `json:"villageId,omitempty"`
	Program     *string             `json:"program,omitempty" validate:"omitempty,max=100"`
	Evidence    []string            `json:"evidence,omitempty" validate:"omitempty,dive,required,max=512"`
}

// ClassifyCaseRequest captures PATCH /cases/:id/classification.
type ClassifyCaseRequest struct {
	Classification models.Classification `json:"classification" validate:"required"`
}

// EscalateCaseRequest captures POST /cases/:id/escalate.
type EscalateCaseRequest struct {
	Targets []models.EscalationTarget `json:"targets" validate:"required,min=1"`
	Note    *string                   `json:"note,omitempty" validate:"omitempty,max=2000"`
}

// CloseCaseRequest captures POST /cases/:id/close.
type CloseCaseRequest struct {
	Reason string `json:"reason" validate:"required,min=3,max=2000"`
}

// CaseQuery mirrors supported listing filters.
type CaseQuery struct {
	Status          []models.CaseStatus
	Category        models.CaseCategory
	MinUrgency      models.Urgency
	AssignedToMe    bool
	IncludeArchived bool
	Page            int
	PageSize        int
	SortBy          string
	SortOrder       string
}

// CaseResponse is the decrypted, redacted read view of a case.
type CaseResponse struct {
	ID                string                    `json:"id"`
	Title             *string                   `json:"title,omitempty"`
	Narrative         string                    `json:"narrative"`
	ChildName         *string                   `json:"childName,omitempty"`
	ConcernName       *string                   `json:"concernName,omitempty"`
	Category          models.CaseCategory       `json:"category"`
	Urgency           models.Urgency            `json:"urgency"`
	Anonymous         bool                      `json:"anonymous"`
	VillageID         string                    `json:"villageId"`
	Program           *string                   `json:"program,omitempty"`
	Status            models.CaseStatus         `json:"status"`
	Classification    *models.Classification    `json:"classification,omitempty"`
	ClassifiedBy      *string                   `json:"classifiedBy,omitempty"`
	ClassifiedAt      *time.Time                `json:"classifiedAt,omitempty"`
	AssignedTo        *string                   `json:"assignedTo,omitempty"`
	AssignedAt        *time.Time                `json:"assignedAt,omitempty"`
	DeadlineAt        *time.Time                `json:"deadlineAt,omitempty"`
	Countdown         *Countdown                `json:"countdown,omitempty"`
	EscalationTargets []models.EscalationTarget `json:"escalationTargets,omitempty"`
	EscalationNote    *string                   `json:"escalationNote,omitempty"`
	EscalatedAt       *time.Time                `json:"escalatedAt,omitempty"`
	Evidence          []string                  `json:"evidence"`
	CreatedBy         *string                   `json:"createdBy,omitempty"`
	CreatedAt         time.Time                 `json:"createdAt"`
	ClosedAt          *time.Time                `json:"closedAt,omitempty"`
	ClosedBy          *string                   `json:"closedBy,omitempty"`
	ClosureReason     *string                   `json:"closureReason,omitempty"`
	ArchivedAt        *time.Time                `json:"archivedAt,omitempty"`
}

// ClaimResponse returns the claimed case and its workflow.
type ClaimResponse struct {
	Case     CaseResponse     `json:"case"`
	Workflow WorkflowResponse `json:"workflow"`
}
