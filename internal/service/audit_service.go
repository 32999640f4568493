package service

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/sos-safeguard-api/internal/models"
)

const auditWriteTimeout = 3 * time.Second

type auditStore interface {
	Create(ctx context.Context, log *models.AuditLog) error
}

// AuditService writes audit entries in the background. A failed write is logged and never
// reaches the request that caused it.
type AuditService struct {
	store  auditStore
	logger *zap.Logger
	now    func() time.Time
	wg     sync.WaitGroup
}

// NewAuditService constructs the service.
func NewAuditService(store auditStore, logger *zap.Logger) *AuditService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuditService{store: store, logger: logger, now: systemClock}
}

// Record implements AuditSink.
func (s *AuditService) Record(ctx context.Context, actorID string, action string, target AuditTarget, details map[string]interface{}) {
	entry := &models.AuditLog{
		Action:    action,
		Resource:  target.Resource,
		CreatedAt: s.now(),
	}
	if actorID != "" {
		actor := actorID
		entry.UserID = &actor
	}
	if target.ID != "" {
		id := target.ID
		entry.ResourceID = &id
	}
	if len(details) > 0 {
		body, err := json.Marshal(details)
		if err != nil {
			s.logger.Warn("audit details not serialisable", zap.String("action", action), zap.Error(err))
		} else {
			entry.Details = body
		}
	}
	meta := auditMetaFrom(ctx)
	entry.IPAddress = meta.ip
	entry.UserAgent = meta.userAgent

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		writeCtx, cancel := context.WithTimeout(context.Background(), auditWriteTimeout)
		defer cancel()
		if err := s.store.Create(writeCtx, entry); err != nil {
			s.logger.Warn("audit write failed", zap.String("action", action), zap.String("resource", target.Resource), zap.Error(err))
		}
	}()
}

// Wait blocks until pending writes finish. Used on shutdown and in tests.
func (s *AuditService) Wait() {
	s.wg.Wait()
}
