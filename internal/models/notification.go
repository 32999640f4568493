package models

import "time"

// NotificationKind identifies the template of an outbound message.
type NotificationKind string

const (
	NotificationDeadlineReminder NotificationKind = "DEADLINE_REMINDER"
	NotificationCaseClassified   NotificationKind = "CASE_CLASSIFIED"
	NotificationCaseEscalated    NotificationKind = "CASE_ESCALATED"
	NotificationCaseClaimed      NotificationKind = "CASE_CLAIMED"
	NotificationStagePenalty     NotificationKind = "STAGE_PENALTY"
)

// Notification is an in-app inbox entry.
type Notification struct {
	ID        string           `db:"id" json:"id"`
	UserID    string           `db:"user_id" json:"user_id"`
	Kind      NotificationKind `db:"kind" json:"kind"`
	Title     string           `db:"title" json:"title"`
	Message   string           `db:"message" json:"message"`
	CaseID    *string          `db:"case_id" json:"case_id,omitempty"`
	Read      bool             `db:"read" json:"read"`
	CreatedAt time.Time        `db:"created_at" json:"created_at"`
	ReadAt    *time.Time       `db:"read_at" json:"read_at,omitempty"`
}

// Recipient addresses a notification.
type Recipient struct {
	UserID string `db:"user_id" json:"user_id"`
	Email  string `db:"email" json:"email,omitempty"`
}

// ReminderEvent is produced by a deadline sweep for each case nearing its deadline.
type ReminderEvent struct {
	CaseID           string        `json:"case_id"`
	WorkflowID       string        `json:"workflow_id"`
	Stage            StageKey      `json:"stage"`
	Recipient        Recipient     `json:"recipient"`
	DueAt            time.Time     `json:"due_at"`
	Remaining        time.Duration `json:"-"`
	RemainingSeconds int64         `json:"remaining_seconds"`
	Skipped          bool          `json:"skipped,omitempty"`
}

// DeadlineCandidate is a row selected by the sweeper query.
type DeadlineCandidate struct {
	CaseID        string        `db:"case_id"`
	WorkflowID    string        `db:"workflow_id"`
	AssignedTo    string        `db:"assigned_to"`
	AssigneeEmail string        `db:"assignee_email"`
	DeadlineAt    time.Time     `db:"deadline_at"`
	CurrentStage  WorkflowStage `db:"current_stage"`
}
