package service

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/sos-safeguard-api/internal/dto"
	"github.com/noah-isme/sos-safeguard-api/internal/models"
	appErrors "github.com/noah-isme/sos-safeguard-api/pkg/errors"
	"github.com/noah-isme/sos-safeguard-api/pkg/tracing"
)

const sweeperLeaseName = "deadline-sweeper"

// ErrSweepSkipped reports that another sweep held the guard or the lease.
var ErrSweepSkipped = errors.New("deadline sweep already running")

type deadlineSource interface {
	DeadlineCandidates(ctx context.Context, from, to time.Time) ([]models.DeadlineCandidate, error)
}

type sweepCoordinator interface {
	Enabled() bool
	AcquireLease(ctx context.Context, name, owner string, ttl time.Duration) (bool, error)
	ReleaseLease(ctx context.Context, name, owner string) error
	MarkOnce(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// SweeperConfig tunes the deadline sweeper.
type SweeperConfig struct {
	Interval        time.Duration
	Lookahead       time.Duration
	Concurrency     int
	DistributedLock bool
	LockTTL         time.Duration
	DedupeReminders bool
	ReminderKind    models.NotificationKind
}

// DeadlineSweeper reminds assignees of deadlines that fall inside the lookahead window.
type DeadlineSweeper struct {
	source   deadlineSource
	notifier NotificationDispatcher
	coord    sweepCoordinator
	audit    AuditSink
	logger   *zap.Logger
	metrics  *MetricsService
	cfg      SweeperConfig
	owner    string
	running  atomic.Bool
	now      func() time.Time
}

// NewDeadlineSweeper constructs the sweeper. coord may be nil, which disables the lease and
// reminder de-duplication.
func NewDeadlineSweeper(source deadlineSource, notifier NotificationDispatcher, coord sweepCoordinator, logger *zap.Logger, metrics *MetricsService, cfg SweeperConfig) *DeadlineSweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	if notifier == nil {
		notifier = nopDispatcher{}
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	if cfg.Lookahead <= 0 {
		cfg.Lookahead = 6 * time.Hour
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 10 * time.Minute
	}
	if cfg.ReminderKind == "" {
		cfg.ReminderKind = models.NotificationDeadlineReminder
	}
	return &DeadlineSweeper{
		source:   source,
		notifier: notifier,
		coord:    coord,
		audit:    nopAuditSink{},
		logger:   logger,
		metrics:  metrics,
		cfg:      cfg,
		owner:    uuid.NewString(),
		now:      systemClock,
	}
}

// UseAudit sets the sink that records manually triggered sweeps.
func (s *DeadlineSweeper) UseAudit(a AuditSink) {
	if a != nil {
		s.audit = a
	}
}

// Run sweeps immediately and then on every tick until ctx ends. A failing or panicking sweep
// is logged and the loop continues.
func (s *DeadlineSweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.logger.Info("deadline sweeper started", zap.Duration("interval", s.cfg.Interval), zap.Duration("lookahead", s.cfg.Lookahead))
	s.runSafely(ctx)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("deadline sweeper stopped")
			return
		case <-ticker.C:
			s.runSafely(ctx)
		}
	}
}

func (s *DeadlineSweeper) runSafely(ctx context.Context) {
	start := time.Now()
	failed := false
	defer func() {
		if r := recover(); r != nil {
			failed = true
			s.logger.Error("deadline sweep panicked", zap.Any("panic", r))
		}
		s.metrics.ObserveSweep(time.Since(start), failed)
	}()

	events, err := s.SweepDeadlines(ctx, s.now())
	switch {
	case errors.Is(err, ErrSweepSkipped):
		s.logger.Debug("deadline sweep skipped")
	case err != nil:
		failed = true
		s.logger.Error("deadline sweep failed", zap.Error(err))
	default:
		s.logger.Info("deadline sweep finished", zap.Int("reminders", len(events)))
	}
}

// TriggerSweep runs a sweep on behalf of an operator.
func (s *DeadlineSweeper) TriggerSweep(ctx context.Context, p models.Principal) (*dto.SweepResponse, error) {
	events, err := s.SweepDeadlines(ctx, s.now())
	if errors.Is(err, ErrSweepSkipped) {
		return &dto.SweepResponse{Ran: false}, nil
	}
	if err != nil {
		return nil, err
	}
	resp := &dto.SweepResponse{Ran: true}
	for _, e := range events {
		if e.Skipped {
			resp.Skipped++
			continue
		}
		resp.Reminders++
	}
	s.audit.Record(ctx, p.UserID, models.AuditActionSweep, AuditTarget{Resource: "sweeper"}, map[string]interface{}{
		"reminders": resp.Reminders,
		"skipped":   resp.Skipped,
	})
	return resp, nil
}

// SweepDeadlines sends one reminder per open, assigned case whose deadline falls in
// [now, now+lookahead] and returns the events. Dispatch failures are logged, not returned.
func (s *DeadlineSweeper) SweepDeadlines(ctx context.Context, now time.Time) (events []models.ReminderEvent, err error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, ErrSweepSkipped
	}
	defer s.running.Store(false)

	ctx, span := tracing.Start(ctx, "sweeper.sweep", attribute.String("window.end", now.Add(s.cfg.Lookahead).Format(time.RFC3339)))
	defer func() { tracing.End(span, err) }()

	release, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	candidates, err := s.source.DeadlineCandidates(ctx, now, now.Add(s.cfg.Lookahead))
	if err != nil {
		return nil, appErrors.Infrastructure(err, "failed to select deadline candidates")
	}
	span.SetAttributes(attribute.Int("candidates", len(candidates)))

	events = make([]models.ReminderEvent, len(candidates))
	var g errgroup.Group
	g.SetLimit(s.cfg.Concurrency)
	for i := range candidates {
		i := i
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					s.logger.Error("reminder dispatch panicked", zap.String("case_id", candidates[i].CaseID), zap.Any("panic", r))
				}
			}()
			events[i] = s.remind(ctx, candidates[i], now)
			return nil
		})
	}
	_ = g.Wait()
	return events, nil
}

func (s *DeadlineSweeper) acquire(ctx context.Context) (func(), error) {
	noop := func() {}
	if !s.cfg.DistributedLock || s.coord == nil || !s.coord.Enabled() {
		return noop, nil
	}
	ok, err := s.coord.AcquireLease(ctx, sweeperLeaseName, s.owner, s.cfg.LockTTL)
	if err != nil {
		s.logger.Warn("sweeper lease unavailable, sweeping without it", zap.Error(err))
		return noop, nil
	}
	if !ok {
		return nil, ErrSweepSkipped
	}
	return func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.coord.ReleaseLease(releaseCtx, sweeperLeaseName, s.owner); err != nil {
			s.logger.Warn("sweeper lease release failed", zap.Error(err))
		}
	}, nil
}

func (s *DeadlineSweeper) remind(ctx context.Context, c models.DeadlineCandidate, now time.Time) models.ReminderEvent {
	remaining := c.DeadlineAt.Sub(now)
	if remaining < 0 {
		remaining = 0
	}
	event := models.ReminderEvent{
		CaseID:           c.CaseID,
		WorkflowID:       c.WorkflowID,
		Stage:            stageOf(c.CurrentStage),
		Recipient:        models.Recipient{UserID: c.AssignedTo, Email: c.AssigneeEmail},
		DueAt:            c.DeadlineAt,
		Remaining:        remaining,
		RemainingSeconds: int64(remaining / time.Second),
	}

	if s.cfg.DedupeReminders && s.coord != nil {
		key := fmt.Sprintf("reminder:%s:%d", c.CaseID, c.DeadlineAt.Unix())
		first, err := s.coord.MarkOnce(ctx, key, remaining+s.cfg.Lookahead)
		if err != nil {
			s.logger.Warn("reminder watermark unavailable", zap.String("case_id", c.CaseID), zap.Error(err))
		} else if !first {
			event.Skipped = true
			s.metrics.RecordReminder("skipped")
			return event
		}
	}

	err := s.notifier.Send(ctx, event.Recipient, s.cfg.ReminderKind, map[string]string{
		"caseId":    c.CaseID,
		"stage":     string(event.Stage),
		"dueAt":     c.DeadlineAt.UTC().Format(time.RFC3339),
		"remaining": remaining.Truncate(time.Minute).String(),
	})
	if err != nil {
		s.metrics.RecordReminder("failed")
		s.logger.Warn("deadline reminder failed", zap.String("case_id", c.CaseID), zap.String("user_id", c.AssignedTo), zap.Error(err))
		return event
	}
	s.metrics.RecordReminder("sent")
	return event
}

func stageOf(stage models.WorkflowStage) models.StageKey {
	if stage == models.WorkflowStageFinal {
		return models.StageFinalReport
	}
	return models.StageInitialReport
}
