package audit

import (
	"context"
	"errors"
	"time"

	"djtips-platform/internal/auth"
	"djtips-platform/internal/domain"
	"djtips-platform/internal/store"
)

// Service records internal audit events.
//
// IMPORTANT:
// - Audit is internal-only. Do not expose these records to non-admin users.
// - Record writes through the caller's store unit, so the event commits or
//   rolls back together with the action it describes.
type Service struct {
	clock func() time.Time
}

func NewService() *Service {
	return &Service{clock: time.Now}
}

// WithClock overrides the time source (tests).
func (s *Service) WithClock(clock func() time.Time) *Service {
	s.clock = clock
	return s
}

var ErrInvalidEvent = errors.New("audit: invalid event")

func (s *Service) Record(ctx context.Context, u store.Unit, e domain.AuditEvent) error {
	if e.Type == "" || e.ActorID.IsZero() {
		return ErrInvalidEvent
	}
	if e.ID.IsZero() {
		e.ID = domain.NewID()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock().UTC()
	}
	if e.IPAddress == "" {
		e.IPAddress = ClientIPFromContext(ctx)
	}
	return u.Audit().Append(ctx, e)
}

// LogAdminAction records an action taken by actor against target.
func (s *Service) LogAdminAction(ctx context.Context, u store.Unit, actor auth.Principal, typ domain.AuditEventType, target domain.ID, message, metadata string) error {
	return s.Record(ctx, u, domain.AuditEvent{
		Type:      typ,
		ActorID:   actor.ID,
		ActorRole: actor.Role,
		TargetID:  target,
		Message:   message,
		Metadata:  metadata,
	})
}

// Recent lists the newest events first.
func (s *Service) Recent(ctx context.Context, st store.Store, limit int) ([]domain.AuditEvent, error) {
	var out []domain.AuditEvent
	err := st.View(ctx, func(ctx context.Context, u store.Unit) error {
		var err error
		out, err = u.Audit().List(ctx, limit)
		return err
	})
	return out, err
}
