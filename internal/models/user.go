package models

import (
	"time"

	"github.com/lib/pq"
)

// Tier is the hierarchical access level of an account.
type Tier string

const (
	TierReporter   Tier = "LEVEL1"
	TierReviewer   Tier = "LEVEL2"
	TierGovernance Tier = "LEVEL3"
	TierSuperAdmin Tier = "LEVEL4"
)

// Rank orders tiers so LEVEL1 < LEVEL4. Unknown tiers rank zero.
func (t Tier) Rank() int {
	switch t {
	case TierReporter:
		return 1
	case TierReviewer:
		return 2
	case TierGovernance:
		return 3
	case TierSuperAdmin:
		return 4
	default:
		return 0
	}
}

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool { return t.Rank() > 0 }

// IsGovernance is true for the auditing tiers.
func (t Tier) IsGovernance() bool { return t == TierGovernance || t == TierSuperAdmin }

// SubRole refines a tier with the holder's function.
type SubRole string

const (
	SubRoleSOSMother       SubRole = "SOS_MOTHER"
	SubRoleEducator        SubRole = "EDUCATOR"
	SubRoleFieldStaff      SubRole = "FIELD_STAFF"
	SubRolePsychologist    SubRole = "PSYCHOLOGIST"
	SubRoleSocialWorker    SubRole = "SOCIAL_WORKER"
	SubRoleVillageDirector SubRole = "VILLAGE_DIRECTOR"
	SubRoleNationalOffice  SubRole = "NATIONAL_OFFICE"
	SubRoleSuperAdmin      SubRole = "SUPER_ADMIN"
)

var subRolesByTier = map[Tier][]SubRole{
	TierReporter:   {SubRoleSOSMother, SubRoleEducator, SubRoleFieldStaff},
	TierReviewer:   {SubRolePsychologist, SubRoleSocialWorker},
	TierGovernance: {SubRoleVillageDirector, SubRoleNationalOffice},
	TierSuperAdmin: {SubRoleSuperAdmin},
}

// SubRoleAllowed reports whether sub may be held at tier t. An empty sub-role is allowed.
func SubRoleAllowed(t Tier, sub SubRole) bool {
	if sub == "" {
		return t.Valid()
	}
	for _, candidate := range subRolesByTier[t] {
		if candidate == sub {
			return true
		}
	}
	return false
}

// TemporaryRole is a time-boxed override of a user's tier.
type TemporaryRole struct {
	Tier      Tier      `json:"tier"`
	SubRole   SubRole   `json:"sub_role,omitempty"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ActiveAt reports whether the override still applies at now.
func (r *TemporaryRole) ActiveAt(now time.Time) bool {
	return r != nil && r.Tier.Valid() && now.Before(r.ExpiresAt)
}

// User represents an account stored in the users table.
type User struct {
	ID                string         `db:"id" json:"id"`
	Email             string         `db:"email" json:"email"`
	PasswordHash      string         `db:"password_hash" json:"-"`
	FullName          string         `db:"full_name" json:"full_name"`
	Tier              Tier           `db:"tier" json:"tier"`
	SubRole           SubRole        `db:"sub_role" json:"sub_role,omitempty"`
	VillageID         *string        `db:"village_id" json:"village_id,omitempty"`
	GrantedVillages   pq.StringArray `db:"granted_villages" json:"granted_villages"`
	TempTier          *Tier          `db:"temp_tier" json:"-"`
	TempSubRole       *SubRole       `db:"temp_sub_role" json:"-"`
	TempRoleExpiresAt *time.Time     `db:"temp_role_expires_at" json:"-"`
	Active            bool           `db:"active" json:"active"`
	LastLogin         *time.Time     `db:"last_login" json:"last_login,omitempty"`
	CreatedAt         time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time      `db:"updated_at" json:"updated_at"`
}

// TemporaryRole returns the stored override, active or not.
func (u *User) TemporaryRole() *TemporaryRole {
	if u == nil || u.TempTier == nil || u.TempRoleExpiresAt == nil {
		return nil
	}
	role := &TemporaryRole{Tier: *u.TempTier, ExpiresAt: *u.TempRoleExpiresAt}
	if u.TempSubRole != nil {
		role.SubRole = *u.TempSubRole
	}
	return role
}

// EffectiveRole resolves the tier and sub-role in force at now. Expired overrides are ignored.
func (u *User) EffectiveRole(now time.Time) (Tier, SubRole) {
	if tmp := u.TemporaryRole(); tmp.ActiveAt(now) {
		return tmp.Tier, tmp.SubRole
	}
	return u.Tier, u.SubRole
}

// HomeVillage returns the user's village or an empty string.
func (u *User) HomeVillage() string {
	if u == nil || u.VillageID == nil {
		return ""
	}
	return *u.VillageID
}

// Principal builds the per-request access principal from the stored user.
func (u *User) Principal(now time.Time) Principal {
	tier, sub := u.EffectiveRole(now)
	granted := make([]string, 0, len(u.GrantedVillages))
	granted = append(granted, u.GrantedVillages...)
	return Principal{
		UserID:          u.ID,
		Email:           u.Email,
		FullName:        u.FullName,
		Tier:            tier,
		SubRole:         sub,
		HomeVillage:     u.HomeVillage(),
		GrantedVillages: granted,
	}
}

// UserFilter captures filtering criteria for listing users.
type UserFilter struct {
	Tier      *Tier
	VillageID string
	Active    *bool
	Search    string
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}
