package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/sos-safeguard-api/internal/dto"
	"github.com/noah-isme/sos-safeguard-api/internal/models"
	appErrors "github.com/noah-isme/sos-safeguard-api/pkg/errors"
	"github.com/noah-isme/sos-safeguard-api/pkg/jobs"
)

const (
	notificationJobType = "notification"
	enqueueTimeout      = 2 * time.Second
)

type notificationStore interface {
	Create(ctx context.Context, n *models.Notification) error
	ListByUser(ctx context.Context, userID string, unreadOnly bool, limit int) ([]models.Notification, error)
	MarkRead(ctx context.Context, id, userID string, at time.Time) error
}

type jobQueue interface {
	Enqueue(ctx context.Context, job jobs.Job) error
}

type notificationPayload struct {
	Recipient models.Recipient
	Kind      models.NotificationKind
	Data      map[string]string
}

// NotificationService implements NotificationDispatcher on top of the job queue and serves
// the in-app inbox. Email delivery happens outside this service; the worker logs the message
// it would hand over.
type NotificationService struct {
	store   notificationStore
	queue   jobQueue
	logger  *zap.Logger
	metrics *MetricsService
	now     func() time.Time
}

// NewNotificationService constructs the service. Without a queue, Send delivers inline.
func NewNotificationService(store notificationStore, logger *zap.Logger, metrics *MetricsService) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationService{store: store, logger: logger, metrics: metrics, now: systemClock}
}

// UseQueue routes Send through q. The queue's handler should be Handle.
func (s *NotificationService) UseQueue(q jobQueue) {
	s.queue = q
}

// Send enqueues a notification. It only fails when the queue refuses the job.
func (s *NotificationService) Send(ctx context.Context, recipient models.Recipient, kind models.NotificationKind, data map[string]string) error {
	if recipient.UserID == "" {
		return appErrors.Clone(appErrors.ErrValidation, "notification recipient is required")
	}
	job := jobs.Job{
		ID:      uuid.NewString(),
		Type:    notificationJobType,
		Payload: notificationPayload{Recipient: recipient, Kind: kind, Data: data},
	}
	if s.queue == nil {
		return s.Handle(ctx, job)
	}

	enqueueCtx, cancel := context.WithTimeout(ctx, enqueueTimeout)
	defer cancel()
	if err := s.queue.Enqueue(enqueueCtx, job); err != nil {
		s.metrics.RecordNotification(kind, "rejected")
		return appErrors.Infrastructure(err, "notification queue unavailable")
	}
	return nil
}

// Handle processes one notification job: it stores the inbox entry and logs the outbound message.
func (s *NotificationService) Handle(ctx context.Context, job jobs.Job) error {
	payload, ok := job.Payload.(notificationPayload)
	if !ok {
		s.logger.Error("unexpected notification payload", zap.String("job_id", job.ID))
		return nil
	}

	title, message := renderNotification(payload.Kind, payload.Data)
	n := &models.Notification{
		ID:        job.ID,
		UserID:    payload.Recipient.UserID,
		Kind:      payload.Kind,
		Title:     title,
		Message:   message,
		CreatedAt: s.now(),
	}
	if caseID := payload.Data["caseId"]; caseID != "" {
		n.CaseID = &caseID
	}
	if err := s.store.Create(ctx, n); err != nil {
		s.metrics.RecordNotification(payload.Kind, "failed")
		return fmt.Errorf("store notification: %w", err)
	}

	s.metrics.RecordNotification(payload.Kind, "sent")
	s.logger.Info("notification dispatched",
		zap.String("kind", string(payload.Kind)),
		zap.String("user_id", payload.Recipient.UserID),
		zap.String("email", payload.Recipient.Email),
		zap.String("title", title),
	)
	return nil
}

// Inbox lists the caller's notifications.
func (s *NotificationService) Inbox(ctx context.Context, p models.Principal, query dto.NotificationQuery) ([]models.Notification, error) {
	items, err := s.store.ListByUser(ctx, p.UserID, query.UnreadOnly, query.Limit)
	if err != nil {
		return nil, storeError(err, "notification not found", "failed to list notifications")
	}
	if items == nil {
		items = []models.Notification{}
	}
	return items, nil
}

// MarkRead marks one of the caller's notifications as read.
func (s *NotificationService) MarkRead(ctx context.Context, p models.Principal, id string) error {
	if err := s.store.MarkRead(ctx, id, p.UserID, s.now()); err != nil {
		return storeError(err, "notification not found", "failed to update notification")
	}
	return nil
}

func renderNotification(kind models.NotificationKind, data map[string]string) (string, string) {
	caseID := data["caseId"]
	switch kind {
	case models.NotificationDeadlineReminder:
		return "Deadline approaching", fmt.Sprintf("Case %s: %s is due at %s (%s remaining).",
			caseID, data["stage"], data["dueAt"], data["remaining"])
	case models.NotificationCaseClassified:
		return "Case classified", fmt.Sprintf("Case %s was classified as %s.", caseID, data["classification"])
	case models.NotificationCaseEscalated:
		return "Case escalated", fmt.Sprintf("Case %s was escalated to %s.", caseID, data["target"])
	case models.NotificationCaseClaimed:
		return "Case under review", fmt.Sprintf("Case %s has been assigned to a reviewer.", caseID)
	case models.NotificationStagePenalty:
		return "Late documentation recorded", fmt.Sprintf("Case %s: %s was completed %s hours late.",
			caseID, data["stage"], data["delayHours"])
	default:
		return string(kind), fmt.Sprintf("Update on case %s.", caseID)
	}
}
