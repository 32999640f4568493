package service

import (
	"github.com/noah-isme/sos-safeguard-api/internal/models"
	appErrors "github.com/noah-isme/sos-safeguard-api/pkg/errors"
)

// Operation names an action a principal attempts on a case.
type Operation string

const (
	OpRead          Operation = "read"
	OpCreate        Operation = "create"
	OpClaim         Operation = "claim"
	OpClassify      Operation = "classify"
	OpEscalate      Operation = "escalate"
	OpCompleteStage Operation = "complete_stage"
	OpAddNote       Operation = "add_note"
	OpEdit          Operation = "edit"
	OpExportDossier Operation = "export_dossier"
	OpClose         Operation = "close"
	OpArchive       Operation = "archive"
)

// CaseTarget is the slice of a case the resolver needs.
type CaseTarget struct {
	VillageID  string
	CreatedBy  string
	AssignedTo *string
}

// TargetOf extracts the resolver view of a case.
func TargetOf(c *models.Case) *CaseTarget {
	if c == nil {
		return nil
	}
	return &CaseTarget{VillageID: c.VillageID, CreatedBy: c.CreatedBy, AssignedTo: c.AssignedTo}
}

func (t *CaseTarget) unassigned() bool {
	return t.AssignedTo == nil || *t.AssignedTo == ""
}

func (t *CaseTarget) assignedTo(userID string) bool {
	return t.AssignedTo != nil && *t.AssignedTo == userID
}

// Decision is the resolver verdict. Conceal asks the caller to answer as if the case did not
// exist; Conflict marks a denial caused by case state rather than role.
type Decision struct {
	Allowed  bool
	Reason   string
	Conceal  bool
	Conflict bool
}

// Err converts a denial into the API error to return. It is nil when allowed.
func (d Decision) Err() error {
	switch {
	case d.Allowed:
		return nil
	case d.Conceal:
		return appErrors.Clone(appErrors.ErrNotFound, "case not found")
	case d.Conflict:
		return appErrors.StateConflict(d.Reason)
	default:
		return appErrors.Clone(appErrors.ErrAccessDenied, d.Reason)
	}
}

func allow() Decision { return Decision{Allowed: true} }

func deny(reason string) Decision { return Decision{Reason: reason} }

func conceal() Decision { return Decision{Reason: "case outside your scope", Conceal: true} }

// ListScope restricts a case listing. All means no village restriction.
type ListScope struct {
	All       bool
	Villages  []string
	CreatedBy string
}

// ScopeResolver decides what a principal may see and do. It holds no state.
type ScopeResolver struct{}

// NewScopeResolver constructs the resolver.
func NewScopeResolver() *ScopeResolver {
	return &ScopeResolver{}
}

// Authorize evaluates op on target for p. target may be nil only for OpCreate callers that
// have not built a case yet, which is denied.
func (r *ScopeResolver) Authorize(p models.Principal, op Operation, target *CaseTarget) Decision {
	if target == nil {
		return deny("no case target")
	}

	switch {
	case p.Tier.IsGovernance():
		return r.governance(op)
	case p.Tier == models.TierReviewer:
		return r.reviewer(p, op, target)
	case p.Tier == models.TierReporter:
		return r.reporter(p, op, target)
	default:
		return deny("unknown role")
	}
}

func (r *ScopeResolver) governance(op Operation) Decision {
	switch op {
	case OpRead, OpClose, OpArchive, OpExportDossier:
		return allow()
	default:
		return deny("governance roles audit and close cases but do not modify the workflow")
	}
}

func (r *ScopeResolver) reviewer(p models.Principal, op Operation, target *CaseTarget) Decision {
	inScope := p.InVillage(target.VillageID)
	if op == OpCreate {
		if !inScope {
			return deny("cannot create a case outside your villages")
		}
		return allow()
	}
	if !inScope {
		return conceal()
	}

	switch op {
	case OpRead:
		return allow()
	case OpClaim:
		if target.unassigned() || target.assignedTo(p.UserID) {
			return allow()
		}
		return Decision{Reason: "case already assigned", Conflict: true}
	case OpClassify:
		if target.unassigned() || target.assignedTo(p.UserID) {
			return allow()
		}
		return deny("case is assigned to another reviewer")
	case OpEscalate, OpCompleteStage, OpAddNote, OpEdit, OpExportDossier:
		if target.assignedTo(p.UserID) {
			return allow()
		}
		return deny("only the assigned reviewer may do this")
	case OpClose, OpArchive:
		return deny("only governance roles may close or archive cases")
	default:
		return deny("operation not permitted")
	}
}

func (r *ScopeResolver) reporter(p models.Principal, op Operation, target *CaseTarget) Decision {
	home := p.HomeVillage != "" && target.VillageID == p.HomeVillage
	if op == OpCreate {
		if !home {
			return deny("reporters may only report cases for their own village")
		}
		return allow()
	}

	canRead := home || (target.CreatedBy != "" && target.CreatedBy == p.UserID)
	if !canRead {
		return conceal()
	}
	if op == OpRead {
		return allow()
	}
	return deny("reporters cannot modify a case after submitting it")
}

// AuthorizeRoleMutation gates changes to tiers, granted villages and temporary roles. Nobody
// may change their own access; otherwise only the super admin tier may.
func (r *ScopeResolver) AuthorizeRoleMutation(actor models.Principal, targetUserID string) Decision {
	if actor.UserID == "" || actor.UserID == targetUserID {
		return deny("you cannot change your own role or scope")
	}
	if actor.Tier != models.TierSuperAdmin {
		return deny("only super administrators may change roles")
	}
	return allow()
}

// ListScope returns the listing restriction for p.
func (r *ScopeResolver) ListScope(p models.Principal) (ListScope, error) {
	switch {
	case p.Tier.IsGovernance():
		return ListScope{All: true}, nil
	case p.Tier == models.TierReviewer:
		villages := p.Villages()
		if len(villages) == 0 {
			return ListScope{}, appErrors.Clone(appErrors.ErrAccessDenied, "no villages in scope")
		}
		return ListScope{Villages: villages}, nil
	case p.Tier == models.TierReporter:
		scope := ListScope{CreatedBy: p.UserID}
		if p.HomeVillage != "" {
			scope.Villages = []string{p.HomeVillage}
		}
		return scope, nil
	default:
		return ListScope{}, appErrors.Clone(appErrors.ErrAccessDenied, "unknown role")
	}
}
