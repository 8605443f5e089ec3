package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"djtips-platform/internal/domain"
	"djtips-platform/internal/store"
)

// Entry is what callers hand to Append. ID, status and timestamp are filled in.
type Entry struct {
	OwnerID        domain.ID
	Type           domain.TxType
	Amount         int64
	Currency       string
	RelatedID      domain.ID
	IdempotencyKey string
	Description    string
}

// PostedHook observes every appended transaction (metrics). Optional.
type PostedHook func(t domain.Transaction)

// Recorder appends immutable transaction records.
//
// Money invariants:
// - Append never updates or deletes; corrections are new entries.
// - Append must run inside the same store unit as the matching balance change.
type Recorder struct {
	clock  func() time.Time
	newID  func() domain.ID
	onPost PostedHook
}

type Option func(*Recorder)

func WithClock(clock func() time.Time) Option { return func(r *Recorder) { r.clock = clock } }

func WithPostedHook(h PostedHook) Option { return func(r *Recorder) { r.onPost = h } }

func NewRecorder(opts ...Option) *Recorder {
	r := &Recorder{clock: time.Now, newID: domain.NewID}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Append records e in u and returns the stored transaction.
func (r *Recorder) Append(ctx context.Context, u store.Unit, e Entry) (domain.Transaction, error) {
	if e.OwnerID.IsZero() {
		return domain.Transaction{}, domain.Invalid("ledger: owner required")
	}
	if !e.Type.Valid() {
		return domain.Transaction{}, domain.Invalid("ledger: unknown type %q", e.Type)
	}
	if e.Amount == 0 {
		return domain.Transaction{}, domain.Invalid("ledger: zero amount")
	}
	if strings.TrimSpace(e.IdempotencyKey) == "" {
		return domain.Transaction{}, domain.Invalid("ledger: idempotency key required")
	}

	t := domain.Transaction{
		ID:             r.newID(),
		OwnerID:        e.OwnerID,
		Type:           e.Type,
		Amount:         e.Amount,
		Currency:       e.Currency,
		RelatedID:      e.RelatedID,
		Status:         domain.TxStatusPosted,
		IdempotencyKey: e.IdempotencyKey,
		Description:    e.Description,
		CreatedAt:      r.clock().UTC(),
	}
	if err := u.Ledger().Append(ctx, t); err != nil {
		return domain.Transaction{}, fmt.Errorf("ledger append %s/%s: %w", t.Type, t.IdempotencyKey, err)
	}
	if r.onPost != nil {
		r.onPost(t)
	}
	return t, nil
}

// ExistsFor reports whether a transaction of typ already references related.
func (r *Recorder) ExistsFor(ctx context.Context, u store.Unit, related domain.ID, typ domain.TxType) (bool, error) {
	if related.IsZero() {
		return false, nil
	}
	return u.Ledger().ExistsFor(ctx, related, typ)
}

// History lists an owner's transactions newest first.
func (r *Recorder) History(ctx context.Context, s store.Store, owner domain.ID, limit int) ([]domain.Transaction, error) {
	if owner.IsZero() {
		return nil, domain.Invalid("owner required")
	}
	var out []domain.Transaction
	err := s.View(ctx, func(ctx context.Context, u store.Unit) error {
		var err error
		out, err = u.Ledger().ListByOwner(ctx, owner, time.Time{}, time.Time{}, limit)
		return err
	})
	return out, err
}

// Key builds a deterministic idempotency key, e.g. Key("request", id, "debit").
func Key(kind string, id domain.ID, step string) string {
	return kind + ":" + id.String() + ":" + step
}
