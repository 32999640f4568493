package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/sos-safeguard-api/internal/dto"
	"github.com/noah-isme/sos-safeguard-api/internal/models"
	appErrors "github.com/noah-isme/sos-safeguard-api/pkg/errors"
)

type userRepository interface {
	List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error)
	FindByID(ctx context.Context, id string) (*models.User, error)
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	Create(ctx context.Context, user *models.User) error
	UpdateRole(ctx context.Context, id string, tier models.Tier, subRole models.SubRole, updatedAt time.Time) error
	UpdateGrantedVillages(ctx context.Context, id string, villages []string, updatedAt time.Time) error
	SetTemporaryRole(ctx context.Context, id string, role *models.TemporaryRole, updatedAt time.Time) error
	SetActive(ctx context.Context, id string, active bool, updatedAt time.Time) error
	UpdatePassword(ctx context.Context, id, passwordHash string, updatedAt time.Time) error
	RevokeUserRefreshTokens(ctx context.Context, userID string) error
}

type villageRegistry interface {
	MissingIDs(ctx context.Context, ids []string) ([]string, error)
}

// UserServiceOption customises UserService.
type UserServiceOption func(*UserService)

// WithUserAudit sets the audit sink.
func WithUserAudit(a AuditSink) UserServiceOption {
	return func(s *UserService) {
		if a != nil {
			s.audit = a
		}
	}
}

// WithUserClock overrides the clock used for temporary role checks.
func WithUserClock(now func() time.Time) UserServiceOption {
	return func(s *UserService) {
		if now != nil {
			s.now = now
		}
	}
}

// UserService handles account administration. Every change to a tier, granted villages,
// temporary role or active flag passes the resolver's role mutation check.
type UserService struct {
	repo      userRepository
	villages  villageRegistry
	resolver  *ScopeResolver
	validator *validator.Validate
	logger    *zap.Logger
	audit     AuditSink
	now       func() time.Time
}

// NewUserService creates an instance of UserService.
func NewUserService(repo userRepository, villages villageRegistry, resolver *ScopeResolver, validate *validator.Validate, logger *zap.Logger, opts ...UserServiceOption) *UserService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if resolver == nil {
		resolver = NewScopeResolver()
	}
	svc := &UserService{
		repo:      repo,
		villages:  villages,
		resolver:  resolver,
		validator: validate,
		logger:    logger,
		audit:     nopAuditSink{},
		now:       systemClock,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// List returns paginated users. Only governance tiers may browse accounts.
func (s *UserService) List(ctx context.Context, p models.Principal, filter models.UserFilter) ([]dto.UserResponse, *models.Pagination, error) {
	if !p.Tier.IsGovernance() {
		return nil, nil, appErrors.Clone(appErrors.ErrAccessDenied, "only governance roles may list users")
	}
	if filter.Tier != nil && !filter.Tier.Valid() {
		return nil, nil, appErrors.Clone(appErrors.ErrValidation, "unknown tier filter")
	}

	users, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Infrastructure(err, "failed to list users")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}

	now := s.now()
	out := make([]dto.UserResponse, 0, len(users))
	for i := range users {
		out = append(out, dto.NewUserResponse(&users[i], now))
	}
	return out, &models.Pagination{Page: page, PageSize: pageSize, TotalCount: total}, nil
}

// Get returns a user. Callers may read their own account; governance may read any.
func (s *UserService) Get(ctx context.Context, p models.Principal, id string) (*dto.UserResponse, error) {
	if p.UserID != id && !p.Tier.IsGovernance() {
		return nil, appErrors.Clone(appErrors.ErrAccessDenied, "cannot view other accounts")
	}
	user, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, storeError(err, "user not found", "failed to load user")
	}
	resp := dto.NewUserResponse(user, s.now())
	return &resp, nil
}

// Create adds a new account. Only the super admin tier may create users.
func (s *UserService) Create(ctx context.Context, p models.Principal, req dto.CreateUserRequest) (*dto.UserResponse, error) {
	if p.Tier != models.TierSuperAdmin {
		return nil, appErrors.Clone(appErrors.ErrAccessDenied, "only super administrators may create users")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid create user payload")
	}
	if err := validateRole(req.Tier, req.SubRole); err != nil {
		return nil, err
	}

	home := trimPtr(req.VillageID)
	if home == nil && req.Tier.Rank() < models.TierGovernance.Rank() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "villageId is required for reporters and reviewers")
	}
	granted := dedupe(req.GrantedVillages)
	lookup := granted
	if home != nil {
		lookup = append([]string{*home}, granted...)
	}
	if err := s.ensureVillages(ctx, lookup); err != nil {
		return nil, err
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))
	if _, err := s.repo.FindByEmail(ctx, email); err == nil {
		return nil, appErrors.StateConflict("email already exists")
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Infrastructure(err, "failed to check email uniqueness")
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash password")
	}

	now := s.now()
	user := &models.User{
		ID:              uuid.NewString(),
		Email:           email,
		FullName:        strings.TrimSpace(req.FullName),
		PasswordHash:    string(passwordHash),
		Tier:            req.Tier,
		SubRole:         req.SubRole,
		VillageID:       home,
		GrantedVillages: pq.StringArray(granted),
		Active:          true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.repo.Create(ctx, user); err != nil {
		return nil, appErrors.Infrastructure(err, "failed to create user")
	}

	s.audit.Record(ctx, p.UserID, models.AuditActionUserCreate, userTarget(user.ID), map[string]interface{}{
		"email": user.Email,
		"tier":  user.Tier,
	})
	resp := dto.NewUserResponse(user, now)
	return &resp, nil
}

// UpdateRole replaces the permanent tier and sub-role of another account.
func (s *UserService) UpdateRole(ctx context.Context, p models.Principal, id string, req dto.UpdateRoleRequest) (*dto.UserResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid role payload")
	}
	if err := validateRole(req.Tier, req.SubRole); err != nil {
		return nil, err
	}
	user, err := s.loadForMutation(ctx, p, id)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if err := s.repo.UpdateRole(ctx, id, req.Tier, req.SubRole, now); err != nil {
		return nil, appErrors.Infrastructure(err, "failed to update role")
	}
	s.audit.Record(ctx, p.UserID, models.AuditActionRoleChange, userTarget(id), map[string]interface{}{
		"from": user.Tier,
		"to":   req.Tier,
	})
	user.Tier, user.SubRole, user.UpdatedAt = req.Tier, req.SubRole, now
	resp := dto.NewUserResponse(user, now)
	return &resp, nil
}

// GrantVillages replaces the villages granted beyond the user's home village.
func (s *UserService) GrantVillages(ctx context.Context, p models.Principal, id string, req dto.GrantVillagesRequest) (*dto.UserResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid villages payload")
	}
	user, err := s.loadForMutation(ctx, p, id)
	if err != nil {
		return nil, err
	}

	villages := dedupe(req.Villages)
	if err := s.ensureVillages(ctx, villages); err != nil {
		return nil, err
	}

	now := s.now()
	if err := s.repo.UpdateGrantedVillages(ctx, id, villages, now); err != nil {
		return nil, appErrors.Infrastructure(err, "failed to update granted villages")
	}
	s.audit.Record(ctx, p.UserID, models.AuditActionGrantVillages, userTarget(id), map[string]interface{}{
		"villages": villages,
	})
	user.GrantedVillages, user.UpdatedAt = pq.StringArray(villages), now
	resp := dto.NewUserResponse(user, now)
	return &resp, nil
}

// SetTemporaryRole grants a time-boxed tier override. Expiry is applied lazily when the
// principal is next derived.
func (s *UserService) SetTemporaryRole(ctx context.Context, p models.Principal, id string, req dto.TemporaryRoleRequest) (*dto.UserResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid temporary role payload")
	}
	if err := validateRole(req.Tier, req.SubRole); err != nil {
		return nil, err
	}
	now := s.now()
	if !req.ExpiresAt.After(now) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "expiresAt must be in the future")
	}
	user, err := s.loadForMutation(ctx, p, id)
	if err != nil {
		return nil, err
	}

	role := &models.TemporaryRole{Tier: req.Tier, SubRole: req.SubRole, ExpiresAt: req.ExpiresAt.UTC()}
	if err := s.repo.SetTemporaryRole(ctx, id, role, now); err != nil {
		return nil, appErrors.Infrastructure(err, "failed to set temporary role")
	}
	s.audit.Record(ctx, p.UserID, models.AuditActionTemporaryRole, userTarget(id), map[string]interface{}{
		"tier":       role.Tier,
		"expires_at": role.ExpiresAt.Format(time.RFC3339),
	})
	user.TempTier, user.TempRoleExpiresAt = &role.Tier, &role.ExpiresAt
	user.TempSubRole = nil
	if role.SubRole != "" {
		user.TempSubRole = &role.SubRole
	}
	resp := dto.NewUserResponse(user, now)
	return &resp, nil
}

// RevokeTemporaryRole clears any temporary override.
func (s *UserService) RevokeTemporaryRole(ctx context.Context, p models.Principal, id string) (*dto.UserResponse, error) {
	user, err := s.loadForMutation(ctx, p, id)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if err := s.repo.SetTemporaryRole(ctx, id, nil, now); err != nil {
		return nil, appErrors.Infrastructure(err, "failed to revoke temporary role")
	}
	s.audit.Record(ctx, p.UserID, models.AuditActionTemporaryRole, userTarget(id), map[string]interface{}{"revoked": true})
	user.TempTier, user.TempSubRole, user.TempRoleExpiresAt = nil, nil, nil
	resp := dto.NewUserResponse(user, now)
	return &resp, nil
}

// SetActive activates or deactivates an account. Deactivation ends its sessions.
func (s *UserService) SetActive(ctx context.Context, p models.Principal, id string, req dto.SetActiveRequest) (*dto.UserResponse, error) {
	user, err := s.loadForMutation(ctx, p, id)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if err := s.repo.SetActive(ctx, id, req.Active, now); err != nil {
		return nil, appErrors.Infrastructure(err, "failed to update account status")
	}
	if !req.Active {
		if err := s.repo.RevokeUserRefreshTokens(ctx, id); err != nil {
			s.logger.Warn("failed to revoke sessions of deactivated user", zap.String("user_id", id), zap.Error(err))
		}
	}
	s.audit.Record(ctx, p.UserID, models.AuditActionUserActivation, userTarget(id), map[string]interface{}{"active": req.Active})
	user.Active = req.Active
	resp := dto.NewUserResponse(user, now)
	return &resp, nil
}

// ResetPassword sets a new password for another account and ends its sessions. Users change
// their own password through the auth endpoints.
func (s *UserService) ResetPassword(ctx context.Context, p models.Principal, id string, req dto.ResetPasswordRequest) error {
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid reset password payload")
	}
	if _, err := s.loadForMutation(ctx, p, id); err != nil {
		return err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash password")
	}
	if err := s.repo.UpdatePassword(ctx, id, string(hash), s.now()); err != nil {
		return appErrors.Infrastructure(err, "failed to reset password")
	}
	if err := s.repo.RevokeUserRefreshTokens(ctx, id); err != nil {
		s.logger.Warn("failed to revoke sessions after password reset", zap.String("user_id", id), zap.Error(err))
	}
	s.audit.Record(ctx, p.UserID, models.AuditActionPasswordReset, userTarget(id), nil)
	return nil
}

func (s *UserService) loadForMutation(ctx context.Context, p models.Principal, id string) (*models.User, error) {
	if err := s.resolver.AuthorizeRoleMutation(p, id).Err(); err != nil {
		return nil, err
	}
	user, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, storeError(err, "user not found", "failed to load user")
	}
	return user, nil
}

func (s *UserService) ensureVillages(ctx context.Context, ids []string) error {
	if len(ids) == 0 || s.villages == nil {
		return nil
	}
	missing, err := s.villages.MissingIDs(ctx, ids)
	if err != nil {
		return appErrors.Infrastructure(err, "failed to verify villages")
	}
	if len(missing) > 0 {
		return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown villages: %s", strings.Join(missing, ", ")))
	}
	return nil
}

func validateRole(tier models.Tier, sub models.SubRole) error {
	if !tier.Valid() {
		return appErrors.Clone(appErrors.ErrValidation, "unknown tier")
	}
	if !models.SubRoleAllowed(tier, sub) {
		return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("sub-role %s is not valid for %s", sub, tier))
	}
	return nil
}

func dedupe(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
