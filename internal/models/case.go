package models

import (
	"time"

	"github.com/lib/pq"
)

// CaseCategory is the closed set of incident categories.
type CaseCategory string

const (
	CategoryHealth                CaseCategory = "HEALTH"
	CategoryPhysicalViolence      CaseCategory = "PHYSICAL_VIOLENCE"
	CategoryPsychologicalViolence CaseCategory = "PSYCHOLOGICAL_VIOLENCE"
	CategorySexualViolence        CaseCategory = "SEXUAL_VIOLENCE"
	CategoryNeglect               CaseCategory = "NEGLECT"
	CategoryBehavior              CaseCategory = "BEHAVIOR"
	CategoryEducation             CaseCategory = "EDUCATION"
	CategoryFamily                CaseCategory = "FAMILY"
	CategoryOther                 CaseCategory = "OTHER"
)

// Valid reports whether c is a known category.
func (c CaseCategory) Valid() bool {
	switch c {
	case CategoryHealth, CategoryPhysicalViolence, CategoryPsychologicalViolence, CategorySexualViolence,
		CategoryNeglect, CategoryBehavior, CategoryEducation, CategoryFamily, CategoryOther:
		return true
	}
	return false
}

// Urgency is ordered LOW < MEDIUM < HIGH < CRITICAL.
type Urgency string

const (
	UrgencyLow      Urgency = "LOW"
	UrgencyMedium   Urgency = "MEDIUM"
	UrgencyHigh     Urgency = "HIGH"
	UrgencyCritical Urgency = "CRITICAL"
)

// Rank orders urgencies; unknown values rank zero.
func (u Urgency) Rank() int {
	switch u {
	case UrgencyLow:
		return 1
	case UrgencyMedium:
		return 2
	case UrgencyHigh:
		return 3
	case UrgencyCritical:
		return 4
	}
	return 0
}

// CaseStatus tracks lifecycle position.
type CaseStatus string

const (
	CaseStatusPending     CaseStatus = "PENDING"
	CaseStatusInProgress  CaseStatus = "IN_PROGRESS"
	CaseStatusClosed      CaseStatus = "CLOSED"
	CaseStatusFalseReport CaseStatus = "FALSE_REPORT"
)

// Classification is the reviewer's determination.
type Classification string

const (
	ClassificationSafeguarding Classification = "SAFEGUARDING"
	ClassificationCare         Classification = "CARE"
	ClassificationFalseReport  Classification = "FALSE_REPORT"
)

// Valid reports whether c is a known classification.
func (c Classification) Valid() bool {
	return c == ClassificationSafeguarding || c == ClassificationCare || c == ClassificationFalseReport
}

// EscalationTarget names who a case is escalated to.
type EscalationTarget string

const (
	EscalateVillageDirector EscalationTarget = "VILLAGE_DIRECTOR"
	EscalateNationalOffice  EscalationTarget = "NATIONAL_OFFICE"
)

// Valid reports whether t is a known escalation target.
func (t EscalationTarget) Valid() bool {
	return t == EscalateVillageDirector || t == EscalateNationalOffice
}

// Case is an incident report row. Narrative, ChildName and ConcernName hold envelopes at rest.
type Case struct {
	ID                string          `db:"id" json:"id"`
	Title             *string         `db:"title" json:"title,omitempty"`
	Narrative         string          `db:"narrative" json:"narrative"`
	ChildName         *string         `db:"child_name" json:"child_name,omitempty"`
	ConcernName       *string         `db:"concern_name" json:"concern_name,omitempty"`
	Category          CaseCategory    `db:"category" json:"category"`
	Urgency           Urgency         `db:"urgency" json:"urgency"`
	Anonymous         bool            `db:"anonymous" json:"anonymous"`
	VillageID         string          `db:"village_id" json:"village_id"`
	Program           *string         `db:"program" json:"program,omitempty"`
	Status            CaseStatus      `db:"status" json:"status"`
	Classification    *Classification `db:"classification" json:"classification,omitempty"`
	ClassifiedBy      *string         `db:"classified_by" json:"classified_by,omitempty"`
	ClassifiedAt      *time.Time      `db:"classified_at" json:"classified_at,omitempty"`
	AssignedTo        *string         `db:"assigned_to" json:"assigned_to,omitempty"`
	AssignedAt        *time.Time      `db:"assigned_at" json:"assigned_at,omitempty"`
	DeadlineAt        *time.Time      `db:"deadline_at" json:"deadline_at,omitempty"`
	EscalationTargets pq.StringArray  `db:"escalation_targets" json:"escalation_targets,omitempty"`
	EscalationNote    *string         `db:"escalation_note" json:"escalation_note,omitempty"`
	EscalatedBy       *string         `db:"escalated_by" json:"escalated_by,omitempty"`
	EscalatedAt       *time.Time      `db:"escalated_at" json:"escalated_at,omitempty"`
	Evidence          pq.StringArray  `db:"evidence" json:"evidence"`
	CreatedBy         string          `db:"created_by" json:"created_by"`
	CreatedAt         time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time       `db:"updated_at" json:"updated_at"`
	ClosedAt          *time.Time      `db:"closed_at" json:"closed_at,omitempty"`
	ClosedBy          *string         `db:"closed_by" json:"closed_by,omitempty"`
	ClosureReason     *string         `db:"closure_reason" json:"closure_reason,omitempty"`
	ArchivedAt        *time.Time      `db:"archived_at" json:"archived_at,omitempty"`
	ArchivedBy        *string         `db:"archived_by" json:"archived_by,omitempty"`
}

// Archived reports whether the case has been archived.
func (c *Case) Archived() bool { return c.ArchivedAt != nil }

// AssignedToUser reports whether userID holds the case.
func (c *Case) AssignedToUser(userID string) bool {
	return c.AssignedTo != nil && *c.AssignedTo == userID
}

// CaseFilter constrains visible-case listing. Villages and CreatedBy are OR-ed together
// so reporters see their own cases plus their village.
type CaseFilter struct {
	Villages   []string
	CreatedBy  string
	AssignedTo string
	Status     []CaseStatus
	Category   CaseCategory
	MinUrgency Urgency
	Archived   *bool
	Page       int
	PageSize   int
	SortBy     string
	SortOrder  string
}
