package withdrawals

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"djtips-platform/internal/audit"
	"djtips-platform/internal/auth"
	"djtips-platform/internal/domain"
	"djtips-platform/internal/ledger"
	"djtips-platform/internal/notify"
	"djtips-platform/internal/rbac"
	"djtips-platform/internal/store"
	"djtips-platform/internal/wallet"

	"github.com/oklog/ulid/v2"
)

// MethodSource resolves payout destinations (reference data).
type MethodSource interface {
	Method(ctx context.Context, id domain.ID) (domain.WithdrawalMethod, error)
}

// Processor handles payout requests.
//
// Money invariants:
// - Request debits the owner and creates the PENDING withdrawal in one unit;
//   insufficient funds creates nothing.
// - Reject credits the amount back in the same unit as the status change.
type Processor struct {
	store    store.Store
	wallet   *wallet.Service
	ledger   *ledger.Recorder
	audit    *audit.Service
	methods  MethodSource
	notifier notify.Notifier
	log      *slog.Logger

	limits       domain.Limits
	onTransition func(to domain.WithdrawalStatus)
	clock        func() time.Time
}

type Deps struct {
	Store    store.Store
	Wallet   *wallet.Service
	Ledger   *ledger.Recorder
	Audit    *audit.Service
	Methods  MethodSource
	Notifier notify.Notifier // optional
	Logger   *slog.Logger

	Limits       domain.Limits
	OnTransition func(to domain.WithdrawalStatus)
	Clock        func() time.Time
}

func NewProcessor(d Deps) *Processor {
	p := &Processor{
		store:        d.Store,
		wallet:       d.Wallet,
		ledger:       d.Ledger,
		audit:        d.Audit,
		methods:      d.Methods,
		notifier:     d.Notifier,
		log:          d.Logger,
		limits:       d.Limits,
		onTransition: d.OnTransition,
		clock:        d.Clock,
	}
	if p.notifier == nil {
		p.notifier = notify.Nop{}
	}
	if p.log == nil {
		p.log = slog.Default()
	}
	if p.clock == nil {
		p.clock = time.Now
	}
	return p
}

// newReference returns a sortable, human-quotable payout reference.
func newReference(t time.Time) string {
	return "WD" + ulid.MustNew(ulid.Timestamp(t), ulid.Monotonic(rand.Reader, 0)).String()
}

// Request holds amount from the owner's wallet pending admin approval.
func (p *Processor) Request(ctx context.Context, owner domain.ID, amount int64, methodRef domain.ID) (domain.Withdrawal, error) {
	if owner.IsZero() {
		return domain.Withdrawal{}, domain.Invalid("owner required")
	}
	if err := p.limits.Check(amount); err != nil {
		return domain.Withdrawal{}, err
	}
	m, err := p.methods.Method(ctx, methodRef)
	if err != nil {
		return domain.Withdrawal{}, err
	}
	if m.OwnerID != owner {
		return domain.Withdrawal{}, domain.Invalid("withdrawal method not found")
	}
	if !m.Active {
		return domain.Withdrawal{}, domain.Invalid("withdrawal method %s is not active", m.Kind)
	}

	now := p.clock().UTC()
	w := domain.Withdrawal{
		ID:        domain.NewID(),
		OwnerID:   owner,
		Amount:    amount,
		Currency:  p.wallet.Currency(),
		MethodRef: m.ID,
		Status:    domain.WithdrawalPending,
		Reference: newReference(now),
		CreatedAt: now,
	}
	err = p.store.Atomic(ctx, func(ctx context.Context, u store.Unit) error {
		if _, err := p.wallet.Post(ctx, u, wallet.Posting{
			OwnerID:        owner,
			Type:           domain.TxWithdrawal,
			Delta:          -amount,
			RelatedID:      w.ID,
			IdempotencyKey: ledger.Key("withdrawal", w.ID, "debit"),
			Description:    "withdrawal " + w.Reference,
		}); err != nil {
			return err
		}
		return u.Withdrawals().Insert(ctx, w)
	})
	if err != nil {
		return domain.Withdrawal{}, err
	}
	p.committed(domain.WithdrawalPending)
	p.log.InfoContext(ctx, "withdrawal requested", "withdrawal_id", w.ID, "reference", w.Reference, "amount_minor", amount)
	return w, nil
}

// Approve marks a PENDING withdrawal as paid out. Admin only.
func (p *Processor) Approve(ctx context.Context, admin auth.Principal, id domain.ID) (domain.Withdrawal, error) {
	w, err := p.decide(ctx, admin, id, domain.WithdrawalApproved, "")
	if err != nil {
		return domain.Withdrawal{}, err
	}
	p.notifier.Notify(ctx, w.OwnerID, notify.EventWithdrawalApproved, payload(w))
	return w, nil
}

// Reject returns the held amount to the owner. Admin only.
func (p *Processor) Reject(ctx context.Context, admin auth.Principal, id domain.ID, reason string) (domain.Withdrawal, error) {
	w, err := p.decide(ctx, admin, id, domain.WithdrawalRejected, strings.TrimSpace(reason))
	if err != nil {
		return domain.Withdrawal{}, err
	}
	p.notifier.Notify(ctx, w.OwnerID, notify.EventWithdrawalRejected, payload(w))
	return w, nil
}

func (p *Processor) decide(ctx context.Context, admin auth.Principal, id domain.ID, to domain.WithdrawalStatus, reason string) (domain.Withdrawal, error) {
	if !rbac.IsAdmin(admin.Role) {
		return domain.Withdrawal{}, domain.ErrForbidden
	}

	var out domain.Withdrawal
	err := p.store.Atomic(ctx, func(ctx context.Context, u store.Unit) error {
		w, err := u.Withdrawals().Get(ctx, id)
		if err != nil {
			return err
		}
		if w.Status != domain.WithdrawalPending {
			return domain.ErrAlreadyProcessed
		}

		if to == domain.WithdrawalRejected {
			done, err := p.ledger.ExistsFor(ctx, u, w.ID, domain.TxRefund)
			if err != nil {
				return err
			}
			if done {
				return domain.ErrAlreadyProcessed
			}
			if _, err := p.wallet.Post(ctx, u, wallet.Posting{
				OwnerID:        w.OwnerID,
				Type:           domain.TxRefund,
				Delta:          w.Amount,
				RelatedID:      w.ID,
				IdempotencyKey: ledger.Key("withdrawal", w.ID, "reversal"),
				Description:    "withdrawal reversal",
			}); err != nil {
				return err
			}
		}

		now := p.clock().UTC()
		if err := u.Withdrawals().UpdateStatus(ctx, w.ID, domain.WithdrawalPending, to, admin.ID, reason, now); err != nil {
			return err
		}
		w.Status, w.ProcessedBy, w.Reason, w.ProcessedAt = to, admin.ID, reason, &now

		typ := domain.AuditWithdrawalApproved
		if to == domain.WithdrawalRejected {
			typ = domain.AuditWithdrawalRejected
		}
		meta, _ := json.Marshal(map[string]any{"reference": w.Reference, "amount_minor": w.Amount, "owner_id": w.OwnerID})
		if err := p.audit.LogAdminAction(ctx, u, admin, typ, w.ID, reason, string(meta)); err != nil {
			return err
		}
		out = w
		return nil
	})
	if err != nil {
		return domain.Withdrawal{}, err
	}
	p.committed(to)
	p.log.InfoContext(ctx, "withdrawal "+strings.ToLower(string(to)), "withdrawal_id", out.ID, "admin_id", admin.ID)
	return out, nil
}

func (p *Processor) committed(to domain.WithdrawalStatus) {
	if p.onTransition != nil {
		p.onTransition(to)
	}
}

// Get returns a withdrawal visible to its owner or an admin.
func (p *Processor) Get(ctx context.Context, actor auth.Principal, id domain.ID) (domain.Withdrawal, error) {
	var out domain.Withdrawal
	err := p.store.View(ctx, func(ctx context.Context, u store.Unit) error {
		var err error
		out, err = u.Withdrawals().Get(ctx, id)
		return err
	})
	if err != nil {
		return domain.Withdrawal{}, err
	}
	if out.OwnerID != actor.ID && !rbac.IsAdmin(actor.Role) {
		return domain.Withdrawal{}, domain.ErrNotFound
	}
	return out, nil
}

func (p *Processor) ListForOwner(ctx context.Context, owner domain.ID, limit int) ([]domain.Withdrawal, error) {
	return p.list(ctx, store.WithdrawalFilter{OwnerID: owner, Limit: limit})
}

// ListPending is the admin review queue.
func (p *Processor) ListPending(ctx context.Context, admin auth.Principal, limit int) ([]domain.Withdrawal, error) {
	if !rbac.IsAdmin(admin.Role) {
		return nil, domain.ErrForbidden
	}
	return p.list(ctx, store.WithdrawalFilter{Status: domain.WithdrawalPending, Limit: limit})
}

func (p *Processor) list(ctx context.Context, f store.WithdrawalFilter) ([]domain.Withdrawal, error) {
	var out []domain.Withdrawal
	err := p.store.View(ctx, func(ctx context.Context, u store.Unit) error {
		var err error
		out, err = u.Withdrawals().List(ctx, f)
		return err
	})
	return out, err
}

func payload(w domain.Withdrawal) map[string]any {
	return map[string]any{
		"withdrawal_id": w.ID,
		"reference":     w.Reference,
		"amount_minor":  w.Amount,
		"status":        w.Status,
		"reason":        w.Reason,
	}
}
