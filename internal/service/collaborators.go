package service

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"time"

	"github.com/noah-isme/sos-safeguard-api/internal/models"
	appErrors "github.com/noah-isme/sos-safeguard-api/pkg/errors"
)

// NotificationDispatcher delivers an outbound message. Implementations must not block on delivery.
type NotificationDispatcher interface {
	Send(ctx context.Context, recipient models.Recipient, kind models.NotificationKind, data map[string]string) error
}

// EvidenceStore resolves evidence references.
type EvidenceStore interface {
	Exists(ctx context.Context, ref string) (bool, error)
}

// EvidenceFiles stores uploaded evidence and serves it back.
type EvidenceFiles interface {
	Save(ctx context.Context, ref string, r io.Reader, limit int64) (int64, error)
	Open(ctx context.Context, ref string) (io.ReadCloser, error)
}

// AuditTarget names the resource an audit entry is about.
type AuditTarget struct {
	Resource string
	ID       string
}

// AuditSink records security-relevant actions. Record never fails the caller.
type AuditSink interface {
	Record(ctx context.Context, actorID string, action string, target AuditTarget, details map[string]interface{})
}

type auditMetaKey struct{}

type auditMeta struct {
	ip        string
	userAgent string
}

// WithAuditMeta attaches the client address and user agent that audit entries carry.
func WithAuditMeta(ctx context.Context, ip, userAgent string) context.Context {
	return context.WithValue(ctx, auditMetaKey{}, auditMeta{ip: ip, userAgent: userAgent})
}

func auditMetaFrom(ctx context.Context) auditMeta {
	meta, _ := ctx.Value(auditMetaKey{}).(auditMeta)
	return meta
}

type nopDispatcher struct{}

func (nopDispatcher) Send(context.Context, models.Recipient, models.NotificationKind, map[string]string) error {
	return nil
}

type nopAuditSink struct{}

func (nopAuditSink) Record(context.Context, string, string, AuditTarget, map[string]interface{}) {}

func systemClock() time.Time { return time.Now().UTC() }

// storeError maps repository failures: missing rows become NotFound with notFound as message,
// typed errors pass through and everything else is a retryable infrastructure error.
func storeError(err error, notFound, failure string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return appErrors.Clone(appErrors.ErrNotFound, notFound)
	}
	var appErr *appErrors.Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return appErrors.Infrastructure(err, failure)
}

func outcomeOf(err error) string {
	if err == nil {
		return "ok"
	}
	return appErrors.FromError(err).Code
}
