package service

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sos-safeguard-api/internal/models"
	appErrors "github.com/noah-isme/sos-safeguard-api/pkg/errors"
)

func strPtr(s string) *string { return &s }

var (
	reporterA  = models.Principal{UserID: "rep-1", Tier: models.TierReporter, SubRole: models.SubRoleSOSMother, HomeVillage: "village-a"}
	reviewerA  = models.Principal{UserID: "rev-1", Tier: models.TierReviewer, SubRole: models.SubRolePsychologist, HomeVillage: "village-a", GrantedVillages: []string{"village-c"}}
	director   = models.Principal{UserID: "gov-1", Tier: models.TierGovernance, SubRole: models.SubRoleVillageDirector, HomeVillage: "village-a"}
	superAdmin = models.Principal{UserID: "root", Tier: models.TierSuperAdmin, SubRole: models.SubRoleSuperAdmin}
)

func TestScopeResolverGovernance(t *testing.T) {
	r := NewScopeResolver()
	target := &CaseTarget{VillageID: "village-z", CreatedBy: "rep-9", AssignedTo: strPtr("rev-9")}

	for _, p := range []models.Principal{director, superAdmin} {
		for _, op := range []Operation{OpRead, OpClose, OpArchive, OpExportDossier} {
			assert.True(t, r.Authorize(p, op, target).Allowed, "%s %s", p.Tier, op)
		}
		for _, op := range []Operation{OpClaim, OpClassify, OpEscalate, OpCompleteStage, OpAddNote, OpEdit, OpCreate} {
			d := r.Authorize(p, op, target)
			assert.False(t, d.Allowed, "%s %s", p.Tier, op)
			assert.False(t, d.Conceal)
		}
	}
}

func TestScopeResolverReviewerScope(t *testing.T) {
	r := NewScopeResolver()

	outside := &CaseTarget{VillageID: "village-b", CreatedBy: "rep-2"}
	d := r.Authorize(reviewerA, OpRead, outside)
	assert.False(t, d.Allowed)
	assert.True(t, d.Conceal)
	assert.True(t, errors.Is(d.Err(), appErrors.ErrNotFound))

	granted := &CaseTarget{VillageID: "village-c"}
	assert.True(t, r.Authorize(reviewerA, OpRead, granted).Allowed)
	assert.True(t, r.Authorize(reviewerA, OpClaim, granted).Allowed)
	assert.True(t, r.Authorize(reviewerA, OpClassify, granted).Allowed)
	assert.False(t, r.Authorize(reviewerA, OpEscalate, granted).Allowed)
}

func TestScopeResolverReviewerAssignment(t *testing.T) {
	r := NewScopeResolver()

	own := &CaseTarget{VillageID: "village-a", AssignedTo: strPtr("rev-1")}
	for _, op := range []Operation{OpClaim, OpClassify, OpEscalate, OpCompleteStage, OpAddNote, OpExportDossier} {
		assert.True(t, r.Authorize(reviewerA, op, own).Allowed, op)
	}
	assert.False(t, r.Authorize(reviewerA, OpClose, own).Allowed)

	colleague := models.Principal{UserID: "rev-3", Tier: models.TierReviewer, HomeVillage: "village-a"}
	claim := r.Authorize(colleague, OpClaim, own)
	assert.True(t, claim.Conflict)
	assert.True(t, errors.Is(claim.Err(), appErrors.ErrStateConflict))

	classify := r.Authorize(colleague, OpClassify, own)
	assert.False(t, classify.Allowed)
	assert.True(t, errors.Is(classify.Err(), appErrors.ErrAccessDenied))
}

func TestScopeResolverReporter(t *testing.T) {
	r := NewScopeResolver()

	assert.True(t, r.Authorize(reporterA, OpCreate, &CaseTarget{VillageID: "village-a"}).Allowed)
	assert.False(t, r.Authorize(reporterA, OpCreate, &CaseTarget{VillageID: "village-b"}).Allowed)

	ownElsewhere := &CaseTarget{VillageID: "village-b", CreatedBy: "rep-1"}
	assert.True(t, r.Authorize(reporterA, OpRead, ownElsewhere).Allowed)
	assert.True(t, r.Authorize(reporterA, OpRead, &CaseTarget{VillageID: "village-a", CreatedBy: "rep-7"}).Allowed)
	assert.True(t, r.Authorize(reporterA, OpRead, &CaseTarget{VillageID: "village-b", CreatedBy: "rep-7"}).Conceal)

	for _, op := range []Operation{OpClaim, OpClassify, OpEscalate, OpCompleteStage, OpEdit, OpClose, OpArchive} {
		d := r.Authorize(reporterA, op, ownElsewhere)
		assert.False(t, d.Allowed, op)
		assert.False(t, d.Conceal, op)
	}
}

func TestScopeResolverBlocksSelfRoleMutationForEveryTier(t *testing.T) {
	r := NewScopeResolver()
	for _, p := range []models.Principal{reporterA, reviewerA, director, superAdmin} {
		d := r.AuthorizeRoleMutation(p, p.UserID)
		assert.False(t, d.Allowed, p.Tier)
		assert.True(t, errors.Is(d.Err(), appErrors.ErrAccessDenied))
	}
	assert.True(t, r.AuthorizeRoleMutation(superAdmin, "rev-1").Allowed)
	assert.False(t, r.AuthorizeRoleMutation(director, "rev-1").Allowed)
	assert.False(t, r.AuthorizeRoleMutation(reviewerA, "rev-2").Allowed)
}

func TestScopeResolverListScope(t *testing.T) {
	r := NewScopeResolver()

	scope, err := r.ListScope(director)
	require.NoError(t, err)
	assert.True(t, scope.All)

	scope, err = r.ListScope(reviewerA)
	require.NoError(t, err)
	assert.Equal(t, []string{"village-a", "village-c"}, scope.Villages)

	scope, err = r.ListScope(reporterA)
	require.NoError(t, err)
	assert.Equal(t, "rep-1", scope.CreatedBy)
	assert.Equal(t, []string{"village-a"}, scope.Villages)

	_, err = r.ListScope(models.Principal{UserID: "x", Tier: models.TierReviewer})
	assert.Error(t, err)
}
