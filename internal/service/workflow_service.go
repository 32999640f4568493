package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/noah-isme/sos-safeguard-api/internal/dto"
	"github.com/noah-isme/sos-safeguard-api/internal/models"
	"github.com/noah-isme/sos-safeguard-api/internal/repository"
	appErrors "github.com/noah-isme/sos-safeguard-api/pkg/errors"
	"github.com/noah-isme/sos-safeguard-api/pkg/export"
	"github.com/noah-isme/sos-safeguard-api/pkg/tracing"
)

type workflowStore interface {
	GetByID(ctx context.Context, id string) (*models.Workflow, error)
	GetByCaseID(ctx context.Context, caseID string) (*models.Workflow, error)
	ListByOwner(ctx context.Context, ownerID string, status models.WorkflowStatus) ([]models.Workflow, error)
	SaveStage(ctx context.Context, update repository.StageUpdate) error
	AppendNote(ctx context.Context, workflowID string, note models.WorkflowNote) error
}

type caseReader interface {
	GetByID(ctx context.Context, id string) (*models.Case, error)
}

type dossierRenderer interface {
	Render(d export.Dossier) ([]byte, error)
}

// WorkflowServiceConfig holds stage windows.
type WorkflowServiceConfig struct {
	FinalWindow time.Duration
}

// WorkflowService runs the two-stage documentation process of a claimed case.
type WorkflowService struct {
	repo      workflowStore
	cases     caseReader
	cipher    fieldCipher
	resolver  *ScopeResolver
	validator *validator.Validate
	logger    *zap.Logger
	config    WorkflowServiceConfig
	evidence  EvidenceStore
	files     EvidenceFiles
	maxUpload int64
	maxFiles  int
	renderer  dossierRenderer
	notifier  NotificationDispatcher
	audit     AuditSink
	metrics   *MetricsService
	now       func() time.Time
}

// WorkflowServiceOption configures the service.
type WorkflowServiceOption func(*WorkflowService)

// WithWorkflowEvidenceStore makes every new evidence reference resolve before a stage completes.
func WithWorkflowEvidenceStore(store EvidenceStore) WorkflowServiceOption {
	return func(s *WorkflowService) { s.evidence = store }
}

// WithWorkflowEvidenceFiles enables evidence upload and download. maxBytes bounds each file
// and maxFiles bounds one upload.
func WithWorkflowEvidenceFiles(files EvidenceFiles, maxBytes int64, maxFiles int) WorkflowServiceOption {
	return func(s *WorkflowService) {
		s.files = files
		if maxBytes > 0 {
			s.maxUpload = maxBytes
		}
		if maxFiles > 0 {
			s.maxFiles = maxFiles
		}
	}
}

// WithWorkflowNotifier sets the dispatcher used for penalty notices.
func WithWorkflowNotifier(n NotificationDispatcher) WorkflowServiceOption {
	return func(s *WorkflowService) {
		if n != nil {
			s.notifier = n
		}
	}
}

// WithWorkflowAudit sets the audit sink.
func WithWorkflowAudit(a AuditSink) WorkflowServiceOption {
	return func(s *WorkflowService) {
		if a != nil {
			s.audit = a
		}
	}
}

// WithWorkflowMetrics sets the metrics sink.
func WithWorkflowMetrics(m *MetricsService) WorkflowServiceOption {
	return func(s *WorkflowService) { s.metrics = m }
}

// WithWorkflowRenderer overrides the dossier renderer.
func WithWorkflowRenderer(r dossierRenderer) WorkflowServiceOption {
	return func(s *WorkflowService) {
		if r != nil {
			s.renderer = r
		}
	}
}

// WithWorkflowClock overrides the clock.
func WithWorkflowClock(now func() time.Time) WorkflowServiceOption {
	return func(s *WorkflowService) {
		if now != nil {
			s.now = now
		}
	}
}

// NewWorkflowService constructs the service.
func NewWorkflowService(repo workflowStore, cases caseReader, cipher fieldCipher, resolver *ScopeResolver, validate *validator.Validate, logger *zap.Logger, cfg WorkflowServiceConfig, opts ...WorkflowServiceOption) *WorkflowService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if resolver == nil {
		resolver = NewScopeResolver()
	}
	if cfg.FinalWindow <= 0 {
		cfg.FinalWindow = 48 * time.Hour
	}
	svc := &WorkflowService{
		repo:      repo,
		cases:     cases,
		cipher:    cipher,
		resolver:  resolver,
		validator: validate,
		logger:    logger,
		config:    cfg,
		renderer:  export.NewDossierRenderer(),
		notifier:  nopDispatcher{},
		audit:     nopAuditSink{},
		maxUpload: 50 << 20,
		maxFiles:  5,
		now:       systemClock,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}
	return svc
}

// CompleteStage completes one documentation stage. Completing the initial report opens the
// final report window and moves the case deadline; completing the final report finishes the
// workflow and clears the case deadline. A late completion is flagged and penalised once.
func (s *WorkflowService) CompleteStage(ctx context.Context, p models.Principal, workflowID string, key models.StageKey, req dto.CompleteStageRequest) (resp *dto.WorkflowResponse, err error) {
	ctx, span := tracing.Start(ctx, "workflow.complete_stage", attribute.String("workflow.id", workflowID), attribute.String("stage", string(key)))
	defer func() {
		s.metrics.RecordTransition(OpCompleteStage, outcomeOf(err))
		tracing.End(span, err)
	}()

	if !key.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "stage must be initialReport or finalReport")
	}
	req.Content = strings.TrimSpace(req.Content)
	if err = s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid stage payload")
	}

	wf, c, err := s.loadWithCase(ctx, p, workflowID, OpCompleteStage)
	if err != nil {
		return nil, err
	}
	if err = stagePrecondition(c, wf, key); err != nil {
		return nil, err
	}

	stage := wf.Stage(key)
	added, err := s.newEvidence(ctx, stage.Evidence, req.Evidence)
	if err != nil {
		return nil, err
	}
	if len(stage.Evidence)+len(added) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "at least one evidence reference is required")
	}

	now := s.now()
	completedBy := p.UserID
	expectVersion := wf.Version
	stage.Completed = true
	stage.CompletedAt = &now
	stage.CompletedBy = &completedBy
	stage.Content = req.Content
	stage.Evidence = append(append([]string{}, stage.Evidence...), added...)

	var penalty *models.Penalty
	if stage.DueAt != nil && now.After(*stage.DueAt) {
		stage.Overdue = true
		penalty = &models.Penalty{
			Stage:       key,
			DueAt:       *stage.DueAt,
			CompletedAt: now,
			DelayHours:  models.DelayHours(*stage.DueAt, now),
			UserID:      p.UserID,
		}
		wf.Penalties = append(wf.Penalties, *penalty)
	}

	var caseDeadline *time.Time
	switch key {
	case models.StageInitialReport:
		finalDue := now.Add(s.config.FinalWindow)
		wf.FinalReport.DueAt = &finalDue
		wf.CurrentStage = models.WorkflowStageFinal
		caseDeadline = &finalDue
	case models.StageFinalReport:
		wf.Status = models.WorkflowStatusCompleted
		wf.CurrentStage = models.WorkflowStageCompleted
		wf.CompletedAt = &now
	}
	wf.UpdatedAt = now

	err = s.repo.SaveStage(ctx, repository.StageUpdate{
		Workflow:      wf,
		ExpectVersion: expectVersion,
		CaseDeadline:  caseDeadline,
		CaseEvidence:  added,
		At:            now,
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.StateConflict("workflow changed concurrently, reload and retry")
		}
		return nil, storeError(err, "workflow not found", "failed to save workflow stage")
	}

	details := map[string]interface{}{"stage": key, "overdue": stage.Overdue}
	if penalty != nil {
		details["delay_hours"] = penalty.DelayHours
		s.metrics.RecordPenalty(key)
		if err := s.notifier.Send(ctx, models.Recipient{UserID: p.UserID}, models.NotificationStagePenalty, map[string]string{
			"caseId":     wf.CaseID,
			"stage":      string(key),
			"delayHours": strconv.FormatFloat(penalty.DelayHours, 'f', 1, 64),
		}); err != nil {
			s.logger.Warn("penalty notice failed", zap.String("workflow_id", wf.ID), zap.Error(err))
		}
	}
	s.audit.Record(ctx, p.UserID, models.AuditActionStageComplete, workflowTarget(wf.ID), details)

	view := dto.NewWorkflowResponse(wf, now)
	return &view, nil
}

// GetWorkflow returns a workflow the principal may read.
func (s *WorkflowService) GetWorkflow(ctx context.Context, p models.Principal, workflowID string) (*dto.WorkflowResponse, error) {
	wf, _, err := s.loadWithCase(ctx, p, workflowID, OpRead)
	if err != nil {
		return nil, err
	}
	view := dto.NewWorkflowResponse(wf, s.now())
	return &view, nil
}

// GetWorkflowByCase returns the workflow attached to a case.
func (s *WorkflowService) GetWorkflowByCase(ctx context.Context, p models.Principal, caseID string) (*dto.WorkflowResponse, error) {
	c, err := s.loadCase(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if err := s.resolver.Authorize(p, OpRead, TargetOf(c)).Err(); err != nil {
		return nil, err
	}
	wf, err := s.repo.GetByCaseID(ctx, caseID)
	if err != nil {
		return nil, storeError(err, "case has no workflow", "failed to load workflow")
	}
	view := dto.NewWorkflowResponse(wf, s.now())
	return &view, nil
}

// ListMine returns the caller's active workflows.
func (s *WorkflowService) ListMine(ctx context.Context, p models.Principal) ([]dto.WorkflowResponse, error) {
	workflows, err := s.repo.ListByOwner(ctx, p.UserID, models.WorkflowStatusActive)
	if err != nil {
		return nil, storeError(err, "workflow not found", "failed to list workflows")
	}
	now := s.now()
	out := make([]dto.WorkflowResponse, 0, len(workflows))
	for i := range workflows {
		out = append(out, dto.NewWorkflowResponse(&workflows[i], now))
	}
	return out, nil
}

// AddNote appends a note to the workflow.
func (s *WorkflowService) AddNote(ctx context.Context, p models.Principal, workflowID string, req dto.AddNoteRequest) (*models.WorkflowNote, error) {
	req.Text = strings.TrimSpace(req.Text)
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "note text is required")
	}
	wf, c, err := s.loadWithCase(ctx, p, workflowID, OpAddNote)
	if err != nil {
		return nil, err
	}
	if c.Archived() {
		return nil, appErrors.StateConflict("case is archived")
	}

	note := models.WorkflowNote{AuthorID: p.UserID, Text: req.Text, CreatedAt: s.now()}
	if err := s.repo.AppendNote(ctx, wf.ID, note); err != nil {
		return nil, storeError(err, "workflow not found", "failed to add note")
	}
	s.audit.Record(ctx, p.UserID, models.AuditActionWorkflowNote, workflowTarget(wf.ID), nil)
	return &note, nil
}

// RenderDossier renders the case metadata and both stage documents as a PDF.
func (s *WorkflowService) RenderDossier(ctx context.Context, p models.Principal, workflowID string) (content []byte, filename string, err error) {
	ctx, span := tracing.Start(ctx, "workflow.render_dossier", attribute.String("workflow.id", workflowID))
	defer func() { tracing.End(span, err) }()

	wf, c, err := s.loadWithCase(ctx, p, workflowID, OpExportDossier)
	if err != nil {
		return nil, "", err
	}

	content, err = s.renderer.Render(s.dossier(wf, c))
	if err != nil {
		return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render dossier")
	}
	s.audit.Record(ctx, p.UserID, models.AuditActionDossierExport, workflowTarget(wf.ID), map[string]interface{}{"case_id": c.ID})
	return content, fmt.Sprintf("dossier-%s.pdf", c.ID), nil
}

func (s *WorkflowService) loadWithCase(ctx context.Context, p models.Principal, workflowID string, op Operation) (*models.Workflow, *models.Case, error) {
	if strings.TrimSpace(workflowID) == "" {
		return nil, nil, appErrors.Clone(appErrors.ErrValidation, "workflow id is required")
	}
	wf, err := s.repo.GetByID(ctx, workflowID)
	if err != nil {
		return nil, nil, storeError(err, "workflow not found", "failed to load workflow")
	}
	c, err := s.loadCase(ctx, wf.CaseID)
	if err != nil {
		return nil, nil, err
	}
	decision := s.resolver.Authorize(p, op, TargetOf(c))
	if decision.Conceal {
		return nil, nil, appErrors.Clone(appErrors.ErrNotFound, "workflow not found")
	}
	if err := decision.Err(); err != nil {
		return nil, nil, err
	}
	return wf, c, nil
}

func (s *WorkflowService) loadCase(ctx context.Context, id string) (*models.Case, error) {
	c, err := s.cases.GetByID(ctx, id)
	if err != nil {
		return nil, storeError(err, "case not found", "failed to load case")
	}
	return c, nil
}

// newEvidence trims and de-duplicates refs against stored and verifies each new one resolves.
func (s *WorkflowService) newEvidence(ctx context.Context, stored, refs []string) ([]string, error) {
	seen := make(map[string]struct{}, len(stored)+len(refs))
	for _, ref := range stored {
		seen[ref] = struct{}{}
	}
	added := make([]string, 0, len(refs))
	for _, ref := range refs {
		ref = strings.TrimSpace(ref)
		if ref == "" {
			continue
		}
		if _, ok := seen[ref]; ok {
			continue
		}
		seen[ref] = struct{}{}
		added = append(added, ref)
	}
	if s.evidence == nil {
		return added, nil
	}
	for _, ref := range added {
		ok, err := s.evidence.Exists(ctx, ref)
		if err != nil {
			return nil, appErrors.Infrastructure(err, "failed to verify evidence")
		}
		if !ok {
			return nil, appErrors.Clone(appErrors.ErrValidation, "evidence not found: "+ref)
		}
	}
	return added, nil
}

func stagePrecondition(c *models.Case, wf *models.Workflow, key models.StageKey) error {
	switch {
	case c.Archived():
		return appErrors.StateConflict("case is archived")
	case c.Status != models.CaseStatusInProgress:
		return appErrors.StateConflict("case is not in progress")
	case wf.Status == models.WorkflowStatusCompleted:
		return appErrors.StateConflict("workflow already completed")
	case key == models.StageFinalReport && !wf.InitialReport.Completed:
		return appErrors.StateConflict("initialReport must be completed before finalReport")
	case wf.Stage(key).Completed:
		return appErrors.StateConflict(string(key) + " already completed")
	}
	return nil
}

func (s *WorkflowService) dossier(wf *models.Workflow, c *models.Case) export.Dossier {
	caseFields := []export.Field{
		{Label: "Case", Value: c.ID},
		{Label: "Village", Value: c.VillageID},
		{Label: "Category", Value: string(c.Category)},
		{Label: "Urgency", Value: string(c.Urgency)},
		{Label: "Status", Value: string(c.Status)},
		{Label: "Reported", Value: c.CreatedAt.Format(time.RFC3339)},
	}
	if c.Classification != nil {
		caseFields = append(caseFields, export.Field{Label: "Classification", Value: string(*c.Classification)})
	}
	if c.ChildName != nil {
		caseFields = append(caseFields, export.Field{Label: "Child", Value: s.cipher.Decrypt(*c.ChildName)})
	}
	if len(c.EscalationTargets) > 0 {
		caseFields = append(caseFields, export.Field{Label: "Escalated to", Value: strings.Join(c.EscalationTargets, ", ")})
	}

	sections := []export.Section{
		{Heading: "Case", Fields: caseFields, Body: s.cipher.Decrypt(c.Narrative)},
		stageSection("Initial report", wf.InitialReport),
		stageSection("Final report", wf.FinalReport),
	}
	if len(wf.Penalties) > 0 {
		items := make([]string, 0, len(wf.Penalties))
		for _, p := range wf.Penalties {
			items = append(items, fmt.Sprintf("%s completed %.1fh late", p.Stage, p.DelayHours))
		}
		sections = append(sections, export.Section{Heading: "Penalties", Items: items})
	}
	return export.Dossier{
		Title:    "Case dossier",
		Subtitle: fmt.Sprintf("Workflow %s", wf.ID),
		Sections: sections,
		Footer:   "Confidential safeguarding record",
	}
}

func stageSection(heading string, st models.Stage) export.Section {
	fields := []export.Field{{Label: "Completed", Value: strconv.FormatBool(st.Completed)}}
	if st.DueAt != nil {
		fields = append(fields, export.Field{Label: "Due", Value: st.DueAt.Format(time.RFC3339)})
	}
	if st.CompletedAt != nil {
		fields = append(fields, export.Field{Label: "Completed at", Value: st.CompletedAt.Format(time.RFC3339)})
	}
	if st.Overdue {
		fields = append(fields, export.Field{Label: "Overdue", Value: "yes"})
	}
	return export.Section{Heading: heading, Fields: fields, Body: st.Content, Items: st.Evidence}
}

func workflowTarget(id string) AuditTarget {
	return AuditTarget{Resource: "workflow", ID: id}
}
