package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/noah-isme/sos-safeguard-api/internal/dto"
	"github.com/noah-isme/sos-safeguard-api/internal/models"
	"github.com/noah-isme/sos-safeguard-api/internal/repository"
	appErrors "github.com/noah-isme/sos-safeguard-api/pkg/errors"
	"github.com/noah-isme/sos-safeguard-api/pkg/tracing"
)

type caseStore interface {
	Create(ctx context.Context, c *models.Case) error
	GetByID(ctx context.Context, id string) (*models.Case, error)
	List(ctx context.Context, filter models.CaseFilter) ([]models.Case, int, error)
	Claim(ctx context.Context, params repository.ClaimParams) (*models.Workflow, bool, error)
	Classify(ctx context.Context, params repository.ClassifyParams) error
	Escalate(ctx context.Context, id string, targets []string, note *string, actorID string, at time.Time) error
	Close(ctx context.Context, id, reason, actorID string, at time.Time) error
	Archive(ctx context.Context, id, actorID string, at time.Time) error
}

type fieldCipher interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(value string) string
	EncryptPtr(value *string) (*string, error)
	DecryptPtr(value *string) *string
}

// recipientDirectory resolves active users holding a sub-role. An empty villageID matches
// every village.
type recipientDirectory interface {
	RecipientsBySubRole(ctx context.Context, sub models.SubRole, villageID string) ([]models.Recipient, error)
}

// CaseServiceConfig holds lifecycle windows.
type CaseServiceConfig struct {
	InitialWindow time.Duration
}

// CaseService drives a case through PENDING, IN_PROGRESS, CLOSED and FALSE_REPORT.
type CaseService struct {
	repo      caseStore
	cipher    fieldCipher
	resolver  *ScopeResolver
	validator *validator.Validate
	logger    *zap.Logger
	config    CaseServiceConfig
	notifier  NotificationDispatcher
	audit     AuditSink
	directory recipientDirectory
	metrics   *MetricsService
	now       func() time.Time
}

// CaseServiceOption configures the service.
type CaseServiceOption func(*CaseService)

// WithCaseNotifier sets the dispatcher used for classification and escalation notices.
func WithCaseNotifier(n NotificationDispatcher) CaseServiceOption {
	return func(s *CaseService) {
		if n != nil {
			s.notifier = n
		}
	}
}

// WithCaseAudit sets the audit sink.
func WithCaseAudit(a AuditSink) CaseServiceOption {
	return func(s *CaseService) {
		if a != nil {
			s.audit = a
		}
	}
}

// WithCaseDirectory sets the lookup used to address escalation notices.
func WithCaseDirectory(d recipientDirectory) CaseServiceOption {
	return func(s *CaseService) { s.directory = d }
}

// WithCaseMetrics sets the metrics sink.
func WithCaseMetrics(m *MetricsService) CaseServiceOption {
	return func(s *CaseService) { s.metrics = m }
}

// WithCaseClock overrides the clock.
func WithCaseClock(now func() time.Time) CaseServiceOption {
	return func(s *CaseService) {
		if now != nil {
			s.now = now
		}
	}
}

// NewCaseService constructs the service.
func NewCaseService(repo caseStore, cipher fieldCipher, resolver *ScopeResolver, validate *validator.Validate, logger *zap.Logger, cfg CaseServiceConfig, opts ...CaseServiceOption) *CaseService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if resolver == nil {
		resolver = NewScopeResolver()
	}
	if cfg.InitialWindow <= 0 {
		cfg.InitialWindow = 24 * time.Hour
	}
	svc := &CaseService{
		repo:      repo,
		cipher:    cipher,
		resolver:  resolver,
		validator: validate,
		logger:    logger,
		config:    cfg,
		notifier:  nopDispatcher{},
		audit:     nopAuditSink{},
		now:       systemClock,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}
	return svc
}

// Create stores a new PENDING case with its sensitive fields encrypted.
func (s *CaseService) Create(ctx context.Context, p models.Principal, req dto.CreateCaseRequest) (resp *dto.CaseResponse, err error) {
	ctx, span := tracing.Start(ctx, "case.create", attribute.String("actor.id", p.UserID))
	defer func() { s.finish(span, OpCreate, err) }()

	if err = s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid case payload")
	}
	if !req.Category.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown category")
	}
	urgency := req.Urgency
	if urgency == "" {
		urgency = models.UrgencyMedium
	}
	if urgency.Rank() == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown urgency")
	}
	village := strings.TrimSpace(req.VillageID)
	if village == "" {
		village = p.HomeVillage
	}
	if village == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "villageId is required")
	}
	if err = s.resolver.Authorize(p, OpCreate, &CaseTarget{VillageID: village, CreatedBy: p.UserID}).Err(); err != nil {
		return nil, err
	}

	narrative, err := s.cipher.Encrypt(strings.TrimSpace(req.Narrative))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to protect case fields")
	}
	childName, err := s.cipher.EncryptPtr(trimPtr(req.ChildName))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to protect case fields")
	}
	concernName, err := s.cipher.EncryptPtr(trimPtr(req.ConcernName))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to protect case fields")
	}

	now := s.now()
	evidence := pq.StringArray{}
	for _, ref := range req.Evidence {
		evidence = append(evidence, strings.TrimSpace(ref))
	}
	c := &models.Case{
		ID:          uuid.NewString(),
		Title:       trimPtr(req.Title),
		Narrative:   narrative,
		ChildName:   childName,
		ConcernName: concernName,
		Category:    req.Category,
		Urgency:     urgency,
		Anonymous:   req.Anonymous,
		VillageID:   village,
		Program:     trimPtr(req.Program),
		Status:      models.CaseStatusPending,
		Evidence:    evidence,
		CreatedBy:   p.UserID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err = s.repo.Create(ctx, c); err != nil {
		return nil, storeError(err, "case not found", "failed to create case")
	}

	s.audit.Record(ctx, p.UserID, models.AuditActionCaseCreate, caseTarget(c.ID), map[string]interface{}{
		"village":  c.VillageID,
		"category": c.Category,
		"urgency":  c.Urgency,
	})
	return s.view(c, p, now), nil
}

// Get returns a decrypted case the principal may read. Out-of-scope cases are reported as missing.
func (s *CaseService) Get(ctx context.Context, p models.Principal, id string) (*dto.CaseResponse, error) {
	c, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.resolver.Authorize(p, OpRead, TargetOf(c)).Err(); err != nil {
		return nil, err
	}
	return s.view(c, p, s.now()), nil
}

// ListVisible lists the cases inside the principal's scope.
func (s *CaseService) ListVisible(ctx context.Context, p models.Principal, query dto.CaseQuery) ([]dto.CaseResponse, *models.Pagination, error) {
	scope, err := s.resolver.ListScope(p)
	if err != nil {
		return nil, nil, err
	}
	if query.MinUrgency != "" && query.MinUrgency.Rank() == 0 {
		return nil, nil, appErrors.Clone(appErrors.ErrValidation, "unknown urgency")
	}
	if query.Category != "" && !query.Category.Valid() {
		return nil, nil, appErrors.Clone(appErrors.ErrValidation, "unknown category")
	}

	filter := models.CaseFilter{
		Status:     query.Status,
		Category:   query.Category,
		MinUrgency: query.MinUrgency,
		Page:       query.Page,
		PageSize:   query.PageSize,
		SortBy:     query.SortBy,
		SortOrder:  query.SortOrder,
	}
	if !scope.All {
		filter.Villages = scope.Villages
		filter.CreatedBy = scope.CreatedBy
	}
	if query.AssignedToMe {
		filter.AssignedTo = p.UserID
	}
	if !query.IncludeArchived {
		archived := false
		filter.Archived = &archived
	}

	cases, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, storeError(err, "case not found", "failed to list cases")
	}

	now := s.now()
	items := make([]dto.CaseResponse, 0, len(cases))
	for i := range cases {
		items = append(items, *s.view(&cases[i], p, now))
	}

	page := filter.Page
	if page <= 0 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	return items, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Claim assigns the case to the calling reviewer and opens its workflow. Claiming a case the
// caller already owns returns the existing workflow.
func (s *CaseService) Claim(ctx context.Context, p models.Principal, id string) (resp *dto.ClaimResponse, err error) {
	ctx, span := tracing.Start(ctx, "case.claim", attribute.String("case.id", id), attribute.String("actor.id", p.UserID))
	defer func() { s.finish(span, OpClaim, err) }()

	c, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err = s.resolver.Authorize(p, OpClaim, TargetOf(c)).Err(); err != nil {
		return nil, err
	}
	if err = claimPrecondition(c, p.UserID); err != nil {
		return nil, err
	}

	now := s.now()
	due := now.Add(s.config.InitialWindow)
	wf, created, err := s.repo.Claim(ctx, repository.ClaimParams{
		CaseID:     id,
		ReviewerID: p.UserID,
		At:         now,
		DueAt:      due,
		WorkflowID: uuid.NewString(),
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, s.explainRejection(ctx, id, p.UserID, OpClaim)
		}
		return nil, storeError(err, "case not found", "failed to claim case")
	}

	if c.AssignedTo == nil {
		c.DeadlineAt = &due
	}
	if c.AssignedAt == nil {
		c.AssignedAt = &now
	}
	reviewer := p.UserID
	c.AssignedTo = &reviewer
	c.Status = models.CaseStatusInProgress
	c.UpdatedAt = now

	if created {
		s.audit.Record(ctx, p.UserID, models.AuditActionCaseClaim, caseTarget(id), map[string]interface{}{
			"workflow_id": wf.ID,
			"due_at":      due,
		})
		s.notify(ctx, models.Recipient{UserID: c.CreatedBy}, models.NotificationCaseClaimed, map[string]string{"caseId": id})
	}
	return &dto.ClaimResponse{Case: *s.view(c, p, now), Workflow: dto.NewWorkflowResponse(wf, now)}, nil
}

// Classify records the reviewer determination. FALSE_REPORT forces the FALSE_REPORT status;
// any other classification advances a PENDING case to IN_PROGRESS.
func (s *CaseService) Classify(ctx context.Context, p models.Principal, id string, req dto.ClassifyCaseRequest) (resp *dto.CaseResponse, err error) {
	ctx, span := tracing.Start(ctx, "case.classify", attribute.String("case.id", id), attribute.String("classification", string(req.Classification)))
	defer func() { s.finish(span, OpClassify, err) }()

	if err = s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid classification payload")
	}
	if !req.Classification.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown classification")
	}

	c, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err = s.resolver.Authorize(p, OpClassify, TargetOf(c)).Err(); err != nil {
		return nil, err
	}
	next, err := classifiedStatus(c, req.Classification)
	if err != nil {
		return nil, err
	}

	now := s.now()
	err = s.repo.Classify(ctx, repository.ClassifyParams{
		CaseID:         id,
		ExpectStatus:   c.Status,
		Classification: req.Classification,
		Status:         next,
		ActorID:        p.UserID,
		At:             now,
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, s.explainRejection(ctx, id, p.UserID, OpClassify)
		}
		return nil, storeError(err, "case not found", "failed to classify case")
	}

	previous := c.Classification
	classification := req.Classification
	actor := p.UserID
	c.Classification = &classification
	c.ClassifiedBy = &actor
	c.ClassifiedAt = &now
	c.Status = next
	c.UpdatedAt = now

	details := map[string]interface{}{"classification": classification, "status": next}
	if previous != nil {
		details["previous"] = *previous
	}
	s.audit.Record(ctx, p.UserID, models.AuditActionCaseClassify, caseTarget(id), details)
	s.notify(ctx, models.Recipient{UserID: c.CreatedBy}, models.NotificationCaseClassified, map[string]string{
		"caseId":         id,
		"classification": string(classification),
	})
	return s.view(c, p, now), nil
}

// Escalate records escalation targets on a classified case. Status is unchanged.
func (s *CaseService) Escalate(ctx context.Context, p models.Principal, id string, req dto.EscalateCaseRequest) (resp *dto.CaseResponse, err error) {
	ctx, span := tracing.Start(ctx, "case.escalate", attribute.String("case.id", id))
	defer func() { s.finish(span, OpEscalate, err) }()

	if err = s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid escalation payload")
	}
	targets, err := normalizeTargets(req.Targets)
	if err != nil {
		return nil, err
	}

	c, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err = s.resolver.Authorize(p, OpEscalate, TargetOf(c)).Err(); err != nil {
		return nil, err
	}
	if err = escalatePrecondition(c); err != nil {
		return nil, err
	}

	now := s.now()
	note := trimPtr(req.Note)
	if err = s.repo.Escalate(ctx, id, targets, note, p.UserID, now); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, s.explainRejection(ctx, id, p.UserID, OpEscalate)
		}
		return nil, storeError(err, "case not found", "failed to escalate case")
	}

	actor := p.UserID
	c.EscalationTargets = pq.StringArray(targets)
	c.EscalationNote = note
	c.EscalatedBy = &actor
	c.EscalatedAt = &now
	c.UpdatedAt = now

	s.audit.Record(ctx, p.UserID, models.AuditActionCaseEscalate, caseTarget(id), map[string]interface{}{"targets": targets})
	s.notifyEscalation(ctx, c, targets)
	return s.view(c, p, now), nil
}

// Close ends a case with a reason. Only governance tiers reach this.
func (s *CaseService) Close(ctx context.Context, p models.Principal, id string, req dto.CloseCaseRequest) (resp *dto.CaseResponse, err error) {
	ctx, span := tracing.Start(ctx, "case.close", attribute.String("case.id", id))
	defer func() { s.finish(span, OpClose, err) }()

	req.Reason = strings.TrimSpace(req.Reason)
	if err = s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "closure reason is required")
	}

	c, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err = s.resolver.Authorize(p, OpClose, TargetOf(c)).Err(); err != nil {
		return nil, err
	}
	if err = closePrecondition(c); err != nil {
		return nil, err
	}

	now := s.now()
	if err = s.repo.Close(ctx, id, req.Reason, p.UserID, now); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, s.explainRejection(ctx, id, p.UserID, OpClose)
		}
		return nil, storeError(err, "case not found", "failed to close case")
	}

	actor := p.UserID
	reason := req.Reason
	c.Status = models.CaseStatusClosed
	c.ClosureReason = &reason
	c.ClosedBy = &actor
	c.ClosedAt = &now
	c.DeadlineAt = nil
	c.UpdatedAt = now

	s.audit.Record(ctx, p.UserID, models.AuditActionCaseClose, caseTarget(id), map[string]interface{}{"reason": reason})
	return s.view(c, p, now), nil
}

// Archive stamps a CLOSED case as archived. Archived cases accept no further transitions.
func (s *CaseService) Archive(ctx context.Context, p models.Principal, id string) (resp *dto.CaseResponse, err error) {
	ctx, span := tracing.Start(ctx, "case.archive", attribute.String("case.id", id))
	defer func() { s.finish(span, OpArchive, err) }()

	c, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err = s.resolver.Authorize(p, OpArchive, TargetOf(c)).Err(); err != nil {
		return nil, err
	}
	if err = archivePrecondition(c); err != nil {
		return nil, err
	}

	now := s.now()
	if err = s.repo.Archive(ctx, id, p.UserID, now); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, s.explainRejection(ctx, id, p.UserID, OpArchive)
		}
		return nil, storeError(err, "case not found", "failed to archive case")
	}

	actor := p.UserID
	c.ArchivedAt = &now
	c.ArchivedBy = &actor
	c.UpdatedAt = now

	s.audit.Record(ctx, p.UserID, models.AuditActionCaseArchive, caseTarget(id), nil)
	return s.view(c, p, now), nil
}

func (s *CaseService) load(ctx context.Context, id string) (*models.Case, error) {
	if strings.TrimSpace(id) == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "case id is required")
	}
	c, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, storeError(err, "case not found", "failed to load case")
	}
	return c, nil
}

// explainRejection reloads a case after a conditional write matched nothing and reports the
// rule that now fails.
func (s *CaseService) explainRejection(ctx context.Context, id, actorID string, op Operation) error {
	c, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return storeError(err, "case not found", "failed to reload case")
	}
	var rule error
	switch op {
	case OpClaim:
		rule = claimPrecondition(c, actorID)
	case OpEscalate:
		rule = escalatePrecondition(c)
	case OpClose:
		rule = closePrecondition(c)
	case OpArchive:
		rule = archivePrecondition(c)
	case OpClassify:
		rule = classifyPrecondition(c, actorID)
	default:
		if c.Archived() {
			rule = appErrors.StateConflict("case is archived")
		}
	}
	if rule != nil {
		return rule
	}
	return appErrors.StateConflict("case changed concurrently, reload and retry")
}

func claimPrecondition(c *models.Case, actorID string) error {
	switch {
	case c.Archived():
		return appErrors.StateConflict("case is archived")
	case c.Status != models.CaseStatusPending && c.Status != models.CaseStatusInProgress:
		return appErrors.StateConflict("case is no longer open")
	case c.AssignedTo != nil && *c.AssignedTo != "" && *c.AssignedTo != actorID:
		return appErrors.StateConflict("case already assigned")
	}
	return nil
}

func classifyPrecondition(c *models.Case, actorID string) error {
	switch {
	case c.Archived():
		return appErrors.StateConflict("case is archived")
	case c.AssignedTo != nil && *c.AssignedTo != "" && *c.AssignedTo != actorID:
		return appErrors.StateConflict("case is assigned to another reviewer")
	}
	return nil
}

func classifiedStatus(c *models.Case, classification models.Classification) (models.CaseStatus, error) {
	if c.Archived() {
		return "", appErrors.StateConflict("case is archived")
	}
	if classification == models.ClassificationFalseReport {
		return models.CaseStatusFalseReport, nil
	}
	switch c.Status {
	case models.CaseStatusPending:
		return models.CaseStatusInProgress, nil
	case models.CaseStatusInProgress:
		return c.Status, nil
	case models.CaseStatusFalseReport:
		return "", appErrors.StateConflict("case is marked as a false report")
	default:
		return "", appErrors.StateConflict("case is closed")
	}
}

func escalatePrecondition(c *models.Case) error {
	switch {
	case c.Archived():
		return appErrors.StateConflict("case is archived")
	case c.Classification == nil:
		return appErrors.StateConflict("case must be classified before escalation")
	}
	return nil
}

func closePrecondition(c *models.Case) error {
	switch {
	case c.Archived():
		return appErrors.StateConflict("case is archived")
	case c.Status == models.CaseStatusClosed:
		return appErrors.StateConflict("case already closed")
	}
	return nil
}

func archivePrecondition(c *models.Case) error {
	switch {
	case c.Archived():
		return appErrors.StateConflict("case already archived")
	case c.Status != models.CaseStatusClosed:
		return appErrors.StateConflict("only closed cases can be archived")
	}
	return nil
}

func normalizeTargets(targets []models.EscalationTarget) ([]string, error) {
	seen := make(map[models.EscalationTarget]struct{}, len(targets))
	out := make([]string, 0, len(targets))
	for _, t := range targets {
		t = models.EscalationTarget(strings.ToUpper(strings.TrimSpace(string(t))))
		if !t.Valid() {
			return nil, appErrors.Clone(appErrors.ErrValidation, "unknown escalation target "+string(t))
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, string(t))
	}
	if len(out) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "at least one escalation target is required")
	}
	return out, nil
}

func (s *CaseService) notifyEscalation(ctx context.Context, c *models.Case, targets []string) {
	if s.directory == nil {
		return
	}
	for _, target := range targets {
		sub, villageID := models.SubRoleVillageDirector, c.VillageID
		if models.EscalationTarget(target) == models.EscalateNationalOffice {
			sub, villageID = models.SubRoleNationalOffice, ""
		}
		recipients, err := s.directory.RecipientsBySubRole(ctx, sub, villageID)
		if err != nil {
			s.logger.Warn("escalation recipients lookup failed", zap.String("case_id", c.ID), zap.Error(err))
			continue
		}
		for _, r := range recipients {
			s.notify(ctx, r, models.NotificationCaseEscalated, map[string]string{"caseId": c.ID, "target": target})
		}
	}
}

func (s *CaseService) notify(ctx context.Context, to models.Recipient, kind models.NotificationKind, data map[string]string) {
	if to.UserID == "" {
		return
	}
	if err := s.notifier.Send(ctx, to, kind, data); err != nil {
		s.logger.Warn("notification dispatch failed", zap.String("kind", string(kind)), zap.String("user_id", to.UserID), zap.Error(err))
	}
}

func (s *CaseService) finish(span trace.Span, op Operation, err error) {
	s.metrics.RecordTransition(op, outcomeOf(err))
	tracing.End(span, err)
}

// view decrypts protected fields and hides the reporter of anonymous cases from everyone but
// the reporter.
func (s *CaseService) view(c *models.Case, p models.Principal, now time.Time) *dto.CaseResponse {
	resp := &dto.CaseResponse{
		ID:             c.ID,
		Title:          c.Title,
		Narrative:      s.cipher.Decrypt(c.Narrative),
		ChildName:      s.cipher.DecryptPtr(c.ChildName),
		ConcernName:    s.cipher.DecryptPtr(c.ConcernName),
		Category:       c.Category,
		Urgency:        c.Urgency,
		Anonymous:      c.Anonymous,
		VillageID:      c.VillageID,
		Program:        c.Program,
		Status:         c.Status,
		Classification: c.Classification,
		ClassifiedBy:   c.ClassifiedBy,
		ClassifiedAt:   c.ClassifiedAt,
		AssignedTo:     c.AssignedTo,
		AssignedAt:     c.AssignedAt,
		DeadlineAt:     c.DeadlineAt,
		EscalationNote: c.EscalationNote,
		EscalatedAt:    c.EscalatedAt,
		Evidence:       []string(c.Evidence),
		CreatedAt:      c.CreatedAt,
		ClosedAt:       c.ClosedAt,
		ClosedBy:       c.ClosedBy,
		ClosureReason:  c.ClosureReason,
		ArchivedAt:     c.ArchivedAt,
	}
	if resp.Evidence == nil {
		resp.Evidence = []string{}
	}
	for _, t := range c.EscalationTargets {
		resp.EscalationTargets = append(resp.EscalationTargets, models.EscalationTarget(t))
	}
	if !c.Anonymous || c.CreatedBy == p.UserID {
		createdBy := c.CreatedBy
		resp.CreatedBy = &createdBy
	}
	if c.Status == models.CaseStatusInProgress && c.DeadlineAt != nil {
		resp.Countdown = dto.NewCountdown(*c.DeadlineAt, now)
	}
	return resp
}

func caseTarget(id string) AuditTarget {
	return AuditTarget{Resource: "case", ID: id}
}

func trimPtr(v *string) *string {
	if v == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*v)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
