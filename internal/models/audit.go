package models

import "time"

// Audit actions recorded by the lifecycle services.
const (
	AuditActionLogin          = "LOGIN"
	AuditActionLogout         = "LOGOUT"
	AuditActionPasswordChange = "PASSWORD_CHANGE"
	AuditActionUserCreate     = "USER_CREATE"
	AuditActionRoleChange     = "USER_ROLE_CHANGE"
	AuditActionGrantVillages  = "USER_GRANT_VILLAGES"
	AuditActionTemporaryRole  = "USER_TEMPORARY_ROLE"
	AuditActionUserActivation = "USER_ACTIVATION"
	AuditActionCaseView       = "CASE_VIEW"
	AuditActionCaseCreate     = "CASE_CREATE"
	AuditActionCaseClaim      = "CASE_CLAIM"
	AuditActionCaseClassify   = "CASE_CLASSIFY"
	AuditActionCaseEscalate   = "CASE_ESCALATE"
	AuditActionCaseClose      = "CASE_CLOSE"
	AuditActionCaseArchive    = "CASE_ARCHIVE"
	AuditActionStageComplete  = "WORKFLOW_STAGE_COMPLETE"
	AuditActionWorkflowNote   = "WORKFLOW_NOTE"
	AuditActionDossierExport  = "WORKFLOW_DOSSIER_EXPORT"
	AuditActionSweep          = "DEADLINE_SWEEP"
	AuditActionPasswordReset  = "USER_PASSWORD_RESET"
	AuditActionVillageCreate  = "VILLAGE_CREATE"
	AuditActionVillageUpdate  = "VILLAGE_UPDATE"
	AuditActionEvidenceUpload = "EVIDENCE_UPLOAD"
	AuditActionEvidenceFetch  = "EVIDENCE_DOWNLOAD"
)

// AuditLog represents an audit trail record.
type AuditLog struct {
	ID         string    `db:"id" json:"id"`
	UserID     *string   `db:"user_id" json:"user_id,omitempty"`
	Action     string    `db:"action" json:"action"`
	Resource   string    `db:"resource" json:"resource"`
	ResourceID *string   `db:"resource_id" json:"resource_id,omitempty"`
	Details    []byte    `db:"details" json:"details,omitempty"`
	IPAddress  string    `db:"ip_address" json:"ip_address"`
	UserAgent  string    `db:"user_agent" json:"user_agent"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}
