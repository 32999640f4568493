package dto

import (
	"time"

	"github.com/noah-isme/sos-safeguard-api/internal/models"
)

// CreateUserRequest captures POST /users.
type CreateUserRequest struct {
	Email           string         `json:"email" validate:"required,email"`
	Password        string         `json:"password" validate:"required,min=8"`
	FullName        string         `json:"fullName" validate:"required,min=2,max=200"`
	Tier            models.Tier    `json:"tier" validate:"required"`
	SubRole         models.SubRole `json:"subRole,omitempty"`
	VillageID       *string        `json:"villageId,omitempty"`
	GrantedVillages []string       `json:"grantedVillages,omitempty"`
}

// UpdateRoleRequest captures PATCH /users/:id/role.
type UpdateRoleRequest struct {
	Tier    models.Tier    `json:"tier" validate:"required"`
	SubRole models.SubRole `json:"subRole,omitempty"`
}

// GrantVillagesRequest captures PUT /users/:id/villages.
type GrantVillagesRequest struct {
	Villages []string `json:"villages" validate:"omitempty,dive,required"`
}

// TemporaryRoleRequest captures PUT /users/:id/temporary-role.
type TemporaryRoleRequest struct {
	Tier      models.Tier    `json:"tier" validate:"required"`
	SubRole   models.SubRole `json:"subRole,omitempty"`
	ExpiresAt time.Time      `json:"expiresAt" validate:"required"`
}

// SetActiveRequest captures PATCH /users/:id/active.
type SetActiveRequest struct {
	Active bool `json:"active"`
}

// UserResponse is the admin view of an account.
type UserResponse struct {
	ID              string                `json:"id"`
	Email           string                `json:"email"`
	FullName        string                `json:"fullName"`
	Tier            models.Tier           `json:"tier"`
	SubRole         models.SubRole        `json:"subRole,omitempty"`
	EffectiveTier   models.Tier           `json:"effectiveTier"`
	VillageID       *string               `json:"villageId,omitempty"`
	GrantedVillages []string              `json:"grantedVillages"`
	TemporaryRole   *models.TemporaryRole `json:"temporaryRole,omitempty"`
	Active          bool                  `json:"active"`
	LastLogin       *time.Time            `json:"lastLogin,omitempty"`
	CreatedAt       time.Time             `json:"createdAt"`
}

// NewUserResponse renders u; an expired temporary role is shown but not effective.
func NewUserResponse(u *models.User, now time.Time) UserResponse {
	effective, _ := u.EffectiveRole(now)
	granted := []string(u.GrantedVillages)
	if granted == nil {
		granted = []string{}
	}
	return UserResponse{
		ID:              u.ID,
		Email:           u.Email,
		FullName:        u.FullName,
		Tier:            u.Tier,
		SubRole:         u.SubRole,
		EffectiveTier:   effective,
		VillageID:       u.VillageID,
		GrantedVillages: granted,
		TemporaryRole:   u.TemporaryRole(),
		Active:          u.Active,
		LastLogin:       u.LastLogin,
		CreatedAt:       u.CreatedAt,
	}
}

// ResetPasswordRequest captures PUT /users/:id/password.
type ResetPasswordRequest struct {
	NewPassword string `json:"newPassword" validate:"required,min=8"`
}
