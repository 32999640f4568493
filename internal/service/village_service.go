package service

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/noah-isme/sos-safeguard-api/internal/dto"
	"github.com/noah-isme/sos-safeguard-api/internal/models"
	appErrors "github.com/noah-isme/sos-safeguard-api/pkg/errors"
)

type villageRepository interface {
	List(ctx context.Context) ([]models.Village, error)
	FindByID(ctx context.Context, id string) (*models.Village, error)
	Create(ctx context.Context, v *models.Village) error
	Update(ctx context.Context, v *models.Village) error
}

// VillageServiceOption customises VillageService.
type VillageServiceOption func(*VillageService)

// WithVillageAudit sets the audit sink.
func WithVillageAudit(a AuditSink) VillageServiceOption {
	return func(s *VillageService) {
		if a != nil {
			s.audit = a
		}
	}
}

// WithVillageCache drops cached analytics after a registry change.
func WithVillageCache(c *CacheService) VillageServiceOption {
	return func(s *VillageService) { s.cache = c }
}

// WithVillageClock overrides the clock.
func WithVillageClock(now func() time.Time) VillageServiceOption {
	return func(s *VillageService) {
		if now != nil {
			s.now = now
		}
	}
}

// VillageService manages the village registry. Reads are open to every signed-in user;
// changes are reserved to super administrators.
type VillageService struct {
	repo      villageRepository
	validator *validator.Validate
	logger    *zap.Logger
	audit     AuditSink
	cache     *CacheService
	now       func() time.Time
}

// NewVillageService creates an instance of VillageService.
func NewVillageService(repo villageRepository, validate *validator.Validate, logger *zap.Logger, opts ...VillageServiceOption) *VillageService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	svc := &VillageService{repo: repo, validator: validate, logger: logger, audit: nopAuditSink{}, now: systemClock}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// List returns every village.
func (s *VillageService) List(ctx context.Context) ([]models.Village, error) {
	villages, err := s.repo.List(ctx)
	if err != nil {
		return nil, appErrors.Infrastructure(err, "failed to list villages")
	}
	if villages == nil {
		villages = []models.Village{}
	}
	return villages, nil
}

// Get returns one village.
func (s *VillageService) Get(ctx context.Context, id string) (*models.Village, error) {
	village, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, storeError(err, "village not found", "failed to load village")
	}
	return village, nil
}

// Create registers a village.
func (s *VillageService) Create(ctx context.Context, p models.Principal, req dto.CreateVillageRequest) (*models.Village, error) {
	if p.Tier != models.TierSuperAdmin {
		return nil, appErrors.Clone(appErrors.ErrAccessDenied, "only super administrators may manage villages")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid village payload")
	}

	village := &models.Village{
		ID:        uuid.NewString(),
		Name:      req.Name,
		Region:    req.Region,
		Location:  req.Location,
		Director:  req.Director,
		Programs:  pq.StringArray(dedupe(req.Programs)),
		CreatedAt: s.now(),
	}
	if err := s.repo.Create(ctx, village); err != nil {
		return nil, appErrors.Infrastructure(err, "failed to create village")
	}
	s.audit.Record(ctx, p.UserID, models.AuditActionVillageCreate, villageTarget(village.ID), map[string]interface{}{"name": village.Name})
	s.cache.Invalidate(ctx, "analytics:*")
	return village, nil
}

// Update changes the fields present in req.
func (s *VillageService) Update(ctx context.Context, p models.Principal, id string, req dto.UpdateVillageRequest) (*models.Village, error) {
	if p.Tier != models.TierSuperAdmin {
		return nil, appErrors.Clone(appErrors.ErrAccessDenied, "only super administrators may manage villages")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid village payload")
	}

	village, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, storeError(err, "village not found", "failed to load village")
	}
	changed := make([]string, 0, 5)
	if req.Name != nil {
		village.Name = *req.Name
		changed = append(changed, "name")
	}
	if req.Region != nil {
		village.Region = req.Region
		changed = append(changed, "region")
	}
	if req.Location != nil {
		village.Location = req.Location
		changed = append(changed, "location")
	}
	if req.Director != nil {
		village.Director = req.Director
		changed = append(changed, "director")
	}
	if req.Programs != nil {
		village.Programs = pq.StringArray(dedupe(req.Programs))
		changed = append(changed, "programs")
	}
	if len(changed) == 0 {
		return village, nil
	}
	now := s.now()
	village.UpdatedAt = &now

	if err := s.repo.Update(ctx, village); err != nil {
		return nil, storeError(err, "village not found", "failed to update village")
	}
	s.audit.Record(ctx, p.UserID, models.AuditActionVillageUpdate, villageTarget(id), map[string]interface{}{"fields": changed})
	s.cache.Invalidate(ctx, "analytics:*")
	return village, nil
}

func villageTarget(id string) AuditTarget {
	return AuditTarget{Resource: "village", ID: id}
}
