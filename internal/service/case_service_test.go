package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sos-safeguard-api/internal/dto"
	"github.com/noah-isme/sos-safeguard-api/internal/models"
	"github.com/noah-isme/sos-safeguard-api/internal/repository"
	appErrors "github.com/noah-isme/sos-safeguard-api/pkg/errors"
	"github.com/noah-isme/sos-safeguard-api/pkg/fieldcipher"
)

const testFieldKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

var fixedNow = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

// memoryCaseStore applies the same conditions as the SQL statements under a mutex.
type memoryCaseStore struct {
	mu         sync.Mutex
	cases      map[string]models.Case
	workflows  map[string]*models.Workflow
	err        error
	lastFilter models.CaseFilter
}

func newMemoryCaseStore(cases ...models.Case) *memoryCaseStore {
	store := &memoryCaseStore{cases: map[string]models.Case{}, workflows: map[string]*models.Workflow{}}
	for _, c := range cases {
		store.cases[c.ID] = c
	}
	return store
}

func (m *memoryCaseStore) Create(_ context.Context, c *models.Case) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.cases[c.ID] = *c
	return nil
}

func (m *memoryCaseStore) GetByID(_ context.Context, id string) (*models.Case, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	c, ok := m.cases[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &c, nil
}

func (m *memoryCaseStore) List(_ context.Context, filter models.CaseFilter) ([]models.Case, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastFilter = filter
	var out []models.Case
	for _, c := range m.cases {
		out = append(out, c)
	}
	return out, len(out), nil
}

func (m *memoryCaseStore) Claim(_ context.Context, params repository.ClaimParams) (*models.Workflow, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cases[params.CaseID]
	if !ok || c.Archived() || (c.Status != models.CaseStatusPending && c.Status != models.CaseStatusInProgress) {
		return nil, false, sql.ErrNoRows
	}
	if c.AssignedTo != nil && *c.AssignedTo != params.ReviewerID {
		return nil, false, sql.ErrNoRows
	}
	if c.AssignedTo == nil {
		due := params.DueAt
		c.DeadlineAt = &due
	}
	if c.AssignedAt == nil {
		at := params.At
		c.AssignedAt = &at
	}
	reviewer := params.ReviewerID
	c.AssignedTo = &reviewer
	c.Status = models.CaseStatusInProgress
	m.cases[c.ID] = c

	if wf, ok := m.workflows[c.ID]; ok {
		copied := *wf
		return &copied, false, nil
	}
	wf := models.NewWorkflow(params.WorkflowID, c.ID, params.ReviewerID, params.At, params.DueAt)
	m.workflows[c.ID] = wf
	copied := *wf
	return &copied, true, nil
}

func (m *memoryCaseStore) Classify(_ context.Context, params repository.ClassifyParams) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cases[params.CaseID]
	if !ok || c.Archived() || c.Status != params.ExpectStatus {
		return sql.ErrNoRows
	}
	if c.AssignedTo != nil && *c.AssignedTo != params.ActorID {
		return sql.ErrNoRows
	}
	classification := params.Classification
	c.Classification = &classification
	c.Status = params.Status
	m.cases[c.ID] = c
	return nil
}

func (m *memoryCaseStore) Escalate(_ context.Context, id string, targets []string, note *string, actorID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cases[id]
	if !ok || c.Archived() || c.Classification == nil {
		return sql.ErrNoRows
	}
	c.EscalationTargets = targets
	c.EscalatedAt = &at
	m.cases[id] = c
	return nil
}

func (m *memoryCaseStore) Close(_ context.Context, id, reason, actorID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cases[id]
	if !ok || c.Archived() || c.Status == models.CaseStatusClosed {
		return sql.ErrNoRows
	}
	c.Status = models.CaseStatusClosed
	c.ClosureReason = &reason
	c.DeadlineAt = nil
	m.cases[id] = c
	return nil
}

func (m *memoryCaseStore) Archive(_ context.Context, id, actorID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cases[id]
	if !ok || c.Archived() || c.Status != models.CaseStatusClosed {
		return sql.ErrNoRows
	}
	c.ArchivedAt = &at
	m.cases[id] = c
	return nil
}

type recordingDispatcher struct {
	mu   sync.Mutex
	sent []models.NotificationKind
	to   []models.Recipient
	err  error
}

func (d *recordingDispatcher) Send(_ context.Context, r models.Recipient, kind models.NotificationKind, _ map[string]string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent = append(d.sent, kind)
	d.to = append(d.to, r)
	return d.err
}

type recordingAudit struct {
	mu      sync.Mutex
	actions []string
}

func (a *recordingAudit) Record(_ context.Context, _ string, action string, _ AuditTarget, _ map[string]interface{}) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.actions = append(a.actions, action)
}

func newTestCaseService(store caseStore, opts ...CaseServiceOption) *CaseService {
	opts = append([]CaseServiceOption{WithCaseClock(func() time.Time { return fixedNow })}, opts...)
	return NewCaseService(store, fieldcipher.New(testFieldKey, nil, nil), NewScopeResolver(), nil, nil, CaseServiceConfig{}, opts...)
}

func pendingCase(id, village string) models.Case {
	return models.Case{
		ID:        id,
		Narrative: "plain narrative",
		Category:  models.CategoryNeglect,
		Urgency:   models.UrgencyHigh,
		VillageID: village,
		Status:    models.CaseStatusPending,
		CreatedBy: "rep-1",
		CreatedAt: fixedNow.Add(-time.Hour),
	}
}

func TestCaseServiceCreateEncryptsSensitiveFields(t *testing.T) {
	store := newMemoryCaseStore()
	audit := &recordingAudit{}
	svc := newTestCaseService(store, WithCaseAudit(audit))

	resp, err := svc.Create(context.Background(), reporterA, dto.CreateCaseRequest{
		Narrative: "child reported bruises after the weekend",
		ChildName: strPtr("Amina"),
		Category:  models.CategoryPhysicalViolence,
	})
	require.NoError(t, err)
	assert.Equal(t, models.CaseStatusPending, resp.Status)
	assert.Equal(t, models.UrgencyMedium, resp.Urgency)
	assert.Equal(t, "village-a", resp.VillageID)
	assert.Equal(t, "child reported bruises after the weekend", resp.Narrative)
	require.NotNil(t, resp.ChildName)
	assert.Equal(t, "Amina", *resp.ChildName)
	assert.Nil(t, resp.AssignedTo)
	assert.Nil(t, resp.Classification)

	stored := store.cases[resp.ID]
	assert.True(t, fieldcipher.IsEnvelope(stored.Narrative))
	require.NotNil(t, stored.ChildName)
	assert.True(t, fieldcipher.IsEnvelope(*stored.ChildName))
	assert.Equal(t, []string{models.AuditActionCaseCreate}, audit.actions)
}

func TestCaseServiceCreateValidation(t *testing.T) {
	svc := newTestCaseService(newMemoryCaseStore())

	_, err := svc.Create(context.Background(), reporterA, dto.CreateCaseRequest{Narrative: "short", Category: models.CategoryOther})
	assert.True(t, errors.Is(err, appErrors.ErrValidation))

	_, err = svc.Create(context.Background(), reporterA, dto.CreateCaseRequest{Narrative: "a long enough narrative", Category: "UNKNOWN"})
	assert.True(t, errors.Is(err, appErrors.ErrValidation))

	_, err = svc.Create(context.Background(), reporterA, dto.CreateCaseRequest{Narrative: "a long enough narrative", Category: models.CategoryOther, VillageID: "village-b"})
	assert.True(t, errors.Is(err, appErrors.ErrAccessDenied))
}

func TestCaseServiceClaimSetsInitialDeadline(t *testing.T) {
	store := newMemoryCaseStore(pendingCase("case-1", "village-a"))
	svc := newTestCaseService(store)

	resp, err := svc.Claim(context.Background(), reviewerA, "case-1")
	require.NoError(t, err)
	due := fixedNow.Add(24 * time.Hour)
	assert.Equal(t, models.CaseStatusInProgress, resp.Case.Status)
	require.NotNil(t, resp.Case.DeadlineAt)
	assert.True(t, resp.Case.DeadlineAt.Equal(due))
	require.NotNil(t, resp.Workflow.InitialReport.DueAt)
	assert.True(t, resp.Workflow.InitialReport.DueAt.Equal(due))
	require.NotNil(t, resp.Workflow.InitialReport.Countdown)
	assert.Equal(t, int64(24*3600), resp.Workflow.InitialReport.Countdown.RemainingSeconds)

	again, err := svc.Claim(context.Background(), reviewerA, "case-1")
	require.NoError(t, err)
	assert.Equal(t, resp.Workflow.ID, again.Workflow.ID)
	assert.True(t, again.Case.DeadlineAt.Equal(due))
}

func TestCaseServiceClaimRace(t *testing.T) {
	store := newMemoryCaseStore(pendingCase("case-1", "village-a"))
	svc := newTestCaseService(store)

	reviewers := []models.Principal{
		{UserID: "rev-1", Tier: models.TierReviewer, HomeVillage: "village-a"},
		{UserID: "rev-2", Tier: models.TierReviewer, HomeVillage: "village-a"},
	}
	errs := make([]error, len(reviewers))
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i, p := range reviewers {
		wg.Add(1)
		go func(i int, p models.Principal) {
			defer wg.Done()
			<-start
			_, errs[i] = svc.Claim(context.Background(), p, "case-1")
		}(i, p)
	}
	close(start)
	wg.Wait()

	var ok, conflicts int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, appErrors.ErrStateConflict):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, conflicts)
	assert.Len(t, store.workflows, 1)
}

func TestCaseServiceClaimRejectsClosedAndGovernance(t *testing.T) {
	closed := pendingCase("case-1", "village-a")
	closed.Status = models.CaseStatusClosed
	svc := newTestCaseService(newMemoryCaseStore(closed, pendingCase("case-2", "village-a")))

	_, err := svc.Claim(context.Background(), reviewerA, "case-1")
	assert.True(t, errors.Is(err, appErrors.ErrStateConflict))

	_, err = svc.Claim(context.Background(), director, "case-2")
	assert.True(t, errors.Is(err, appErrors.ErrAccessDenied))
}

func TestCaseServiceClassifyFalseReportForcesStatus(t *testing.T) {
	inProgress := pendingCase("case-2", "village-a")
	inProgress.Status = models.CaseStatusInProgress
	inProgress.AssignedTo = strPtr("rev-1")
	store := newMemoryCaseStore(pendingCase("case-1", "village-a"), inProgress)
	notifier := &recordingDispatcher{}
	svc := newTestCaseService(store, WithCaseNotifier(notifier))

	for _, id := range []string{"case-1", "case-2"} {
		resp, err := svc.Classify(context.Background(), reviewerA, id, dto.ClassifyCaseRequest{Classification: models.ClassificationFalseReport})
		require.NoError(t, err, id)
		assert.Equal(t, models.CaseStatusFalseReport, resp.Status)
		assert.Equal(t, models.CaseStatusFalseReport, store.cases[id].Status)
	}
	assert.Equal(t, []models.NotificationKind{models.NotificationCaseClassified, models.NotificationCaseClassified}, notifier.sent)

	_, err := svc.Classify(context.Background(), reviewerA, "case-1", dto.ClassifyCaseRequest{Classification: models.ClassificationCare})
	assert.True(t, errors.Is(err, appErrors.ErrStateConflict))
}

func TestCaseServiceClassifyAdvancesPending(t *testing.T) {
	store := newMemoryCaseStore(pendingCase("case-1", "village-a"))
	svc := newTestCaseService(store)

	resp, err := svc.Classify(context.Background(), reviewerA, "case-1", dto.ClassifyCaseRequest{Classification: models.ClassificationSafeguarding})
	require.NoError(t, err)
	assert.Equal(t, models.CaseStatusInProgress, resp.Status)

	resp, err = svc.Classify(context.Background(), reviewerA, "case-1", dto.ClassifyCaseRequest{Classification: models.ClassificationCare})
	require.NoError(t, err)
	require.NotNil(t, resp.Classification)
	assert.Equal(t, models.ClassificationCare, *resp.Classification)
}

// claimedAfterRead hands out the case as read, then lets another reviewer claim it.
type claimedAfterRead struct {
	*memoryCaseStore
	claimant string
	reads    int
}

func (s *claimedAfterRead) GetByID(ctx context.Context, id string) (*models.Case, error) {
	c, err := s.memoryCaseStore.GetByID(ctx, id)
	s.reads++
	if err == nil && s.reads == 1 {
		s.mu.Lock()
		claimed := s.cases[id]
		claimed.AssignedTo = strPtr(s.claimant)
		s.cases[id] = claimed
		s.mu.Unlock()
	}
	return c, err
}

func TestCaseServiceClassifyRejectsCaseClaimedByAnother(t *testing.T) {
	store := &claimedAfterRead{memoryCaseStore: newMemoryCaseStore(pendingCase("case-1", "village-a")), claimant: "rev-2"}
	audit := &recordingAudit{}
	svc := newTestCaseService(store, WithCaseAudit(audit))

	_, err := svc.Classify(context.Background(), reviewerA, "case-1", dto.ClassifyCaseRequest{Classification: models.ClassificationSafeguarding})
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrStateConflict))
	assert.Contains(t, err.Error(), "another reviewer")
	assert.Nil(t, store.cases["case-1"].Classification)
	assert.Empty(t, audit.actions)
}

func TestCaseServiceEscalateRequiresClassification(t *testing.T) {
	assigned := pendingCase("case-1", "village-a")
	assigned.Status = models.CaseStatusInProgress
	assigned.AssignedTo = strPtr("rev-1")
	store := newMemoryCaseStore(assigned)
	svc := newTestCaseService(store)

	req := dto.EscalateCaseRequest{Targets: []models.EscalationTarget{models.EscalateVillageDirector, models.EscalateVillageDirector}}
	_, err := svc.Escalate(context.Background(), reviewerA, "case-1", req)
	assert.True(t, errors.Is(err, appErrors.ErrStateConflict))

	_, err = svc.Classify(context.Background(), reviewerA, "case-1", dto.ClassifyCaseRequest{Classification: models.ClassificationSafeguarding})
	require.NoError(t, err)

	resp, err := svc.Escalate(context.Background(), reviewerA, "case-1", req)
	require.NoError(t, err)
	assert.Equal(t, []models.EscalationTarget{models.EscalateVillageDirector}, resp.EscalationTargets)
	assert.Equal(t, models.CaseStatusInProgress, resp.Status)

	_, err = svc.Escalate(context.Background(), reviewerA, "case-1", dto.EscalateCaseRequest{Targets: []models.EscalationTarget{"POLICE"}})
	assert.True(t, errors.Is(err, appErrors.ErrValidation))
}

type directoryStub struct {
	users []struct {
		recipient models.Recipient
		sub       models.SubRole
		village   string
	}
	lookups []string
}

func (d *directoryStub) add(id string, sub models.SubRole, village string) {
	d.users = append(d.users, struct {
		recipient models.Recipient
		sub       models.SubRole
		village   string
	}{models.Recipient{UserID: id, Email: id + "@example.org"}, sub, village})
}

func (d *directoryStub) RecipientsBySubRole(_ context.Context, sub models.SubRole, villageID string) ([]models.Recipient, error) {
	d.lookups = append(d.lookups, fmt.Sprintf("%s@%s", sub, villageID))
	var out []models.Recipient
	for _, u := range d.users {
		if u.sub == sub && (villageID == "" || u.village == villageID) {
			out = append(out, u.recipient)
		}
	}
	return out, nil
}

func TestCaseServiceEscalateRoutesBySubRole(t *testing.T) {
	classified := pendingCase("case-1", "village-a")
	classified.Status = models.CaseStatusInProgress
	classified.AssignedTo = strPtr("rev-1")
	safeguarding := models.ClassificationSafeguarding
	classified.Classification = &safeguarding

	dir := &directoryStub{}
	dir.add("dir-a", models.SubRoleVillageDirector, "village-a")
	dir.add("dir-b", models.SubRoleVillageDirector, "village-b")
	dir.add("nat-1", models.SubRoleNationalOffice, "")
	dir.add("nat-a", models.SubRoleNationalOffice, "village-a")
	dir.add("root", models.SubRoleSuperAdmin, "village-a")

	notifier := &recordingDispatcher{}
	svc := newTestCaseService(newMemoryCaseStore(classified), WithCaseNotifier(notifier), WithCaseDirectory(dir))

	_, err := svc.Escalate(context.Background(), reviewerA, "case-1", dto.EscalateCaseRequest{
		Targets: []models.EscalationTarget{models.EscalateVillageDirector, models.EscalateNationalOffice},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"VILLAGE_DIRECTOR@village-a", "NATIONAL_OFFICE@"}, dir.lookups)
	var escalatedTo []string
	for i, kind := range notifier.sent {
		if kind == models.NotificationCaseEscalated {
			escalatedTo = append(escalatedTo, notifier.to[i].UserID)
		}
	}
	assert.Equal(t, []string{"dir-a", "nat-1", "nat-a"}, escalatedTo)
}

func TestCaseServiceCloseAndArchive(t *testing.T) {
	store := newMemoryCaseStore(pendingCase("case-1", "village-a"))
	svc := newTestCaseService(store)
	ctx := context.Background()

	_, err := svc.Archive(ctx, director, "case-1")
	assert.True(t, errors.Is(err, appErrors.ErrStateConflict))

	_, err = svc.Close(ctx, director, "case-1", dto.CloseCaseRequest{Reason: "   "})
	assert.True(t, errors.Is(err, appErrors.ErrValidation))

	_, err = svc.Close(ctx, reviewerA, "case-1", dto.CloseCaseRequest{Reason: "resolved with family"})
	assert.True(t, errors.Is(err, appErrors.ErrAccessDenied))

	resp, err := svc.Close(ctx, director, "case-1", dto.CloseCaseRequest{Reason: "resolved with family"})
	require.NoError(t, err)
	assert.Equal(t, models.CaseStatusClosed, resp.Status)

	_, err = svc.Close(ctx, director, "case-1", dto.CloseCaseRequest{Reason: "resolved with family"})
	assert.True(t, errors.Is(err, appErrors.ErrStateConflict))

	resp, err = svc.Archive(ctx, director, "case-1")
	require.NoError(t, err)
	assert.NotNil(t, resp.ArchivedAt)

	_, err = svc.Archive(ctx, superAdmin, "case-1")
	assert.True(t, errors.Is(err, appErrors.ErrStateConflict))

	_, err = svc.Classify(ctx, reviewerA, "case-1", dto.ClassifyCaseRequest{Classification: models.ClassificationFalseReport})
	assert.True(t, errors.Is(err, appErrors.ErrStateConflict))
}

func TestCaseServiceGetConcealsOutOfScope(t *testing.T) {
	svc := newTestCaseService(newMemoryCaseStore(pendingCase("case-1", "village-b")))

	_, err := svc.Get(context.Background(), reviewerA, "case-1")
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))

	resp, err := svc.Get(context.Background(), director, "case-1")
	require.NoError(t, err)
	assert.Equal(t, "plain narrative", resp.Narrative)
}

func TestCaseServiceAnonymousReporterIsRedacted(t *testing.T) {
	anon := pendingCase("case-1", "village-a")
	anon.Anonymous = true
	svc := newTestCaseService(newMemoryCaseStore(anon))

	resp, err := svc.Get(context.Background(), reviewerA, "case-1")
	require.NoError(t, err)
	assert.Nil(t, resp.CreatedBy)

	resp, err = svc.Get(context.Background(), reporterA, "case-1")
	require.NoError(t, err)
	require.NotNil(t, resp.CreatedBy)
	assert.Equal(t, "rep-1", *resp.CreatedBy)
}

func TestCaseServiceListVisibleAppliesScope(t *testing.T) {
	store := newMemoryCaseStore(pendingCase("case-1", "village-a"))
	svc := newTestCaseService(store)

	items, page, err := svc.ListVisible(context.Background(), reviewerA, dto.CaseQuery{AssignedToMe: true})
	require.NoError(t, err)
	assert.Len(t, items, 1)
	assert.Equal(t, 1, page.TotalCount)
	assert.Equal(t, []string{"village-a", "village-c"}, store.lastFilter.Villages)
	assert.Equal(t, "rev-1", store.lastFilter.AssignedTo)
	require.NotNil(t, store.lastFilter.Archived)
	assert.False(t, *store.lastFilter.Archived)

	_, _, err = svc.ListVisible(context.Background(), director, dto.CaseQuery{IncludeArchived: true})
	require.NoError(t, err)
	assert.Empty(t, store.lastFilter.Villages)
	assert.Nil(t, store.lastFilter.Archived)

	_, _, err = svc.ListVisible(context.Background(), reporterA, dto.CaseQuery{})
	require.NoError(t, err)
	assert.Equal(t, "rep-1", store.lastFilter.CreatedBy)
}

func TestCaseServiceStoreTimeoutIsRetryable(t *testing.T) {
	store := newMemoryCaseStore()
	store.err = fmt.Errorf("get case: %w", context.DeadlineExceeded)
	svc := newTestCaseService(store)

	_, err := svc.Get(context.Background(), director, "case-1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrInfrastructure))
	assert.True(t, appErrors.IsRetryable(err))
}
