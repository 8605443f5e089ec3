package wallet

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"djtips-platform/internal/audit"
	"djtips-platform/internal/auth"
	"djtips-platform/internal/domain"
	"djtips-platform/internal/ledger"
	"djtips-platform/internal/rbac"
	"djtips-platform/internal/store"
)

// Service provides wallet operations.
//
// Money invariants:
// - No balance updates without a ledger entry in the same store unit
// - Ledger is append-only (immutable)
// - Balance never goes negative except through AdminAdjust
//
// Balance strategy:
// - Balance is stored in a projection (wallets.balance_minor) updated atomically
//   alongside ledger inserts.
type Service struct {
	store    store.Store
	ledger   *ledger.Recorder
	audit    *audit.Service
	currency string
	// clock is injectable for deterministic tests.
	clock func() time.Time
}

func NewService(st store.Store, rec *ledger.Recorder, aud *audit.Service, currency string) *Service {
	return &Service{store: st, ledger: rec, audit: aud, currency: currency, clock: time.Now}
}

// WithClock overrides the time source (tests).
func (s *Service) WithClock(clock func() time.Time) *Service {
	s.clock = clock
	return s
}

type Balance struct {
	OwnerID      domain.ID `json:"owner_id"`
	Currency     string    `json:"currency"`
	BalanceMinor int64     `json:"balance_minor"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func balanceOf(w domain.Wallet) Balance {
	return Balance{OwnerID: w.OwnerID, Currency: w.Currency, BalanceMinor: w.Balance, UpdatedAt: w.UpdatedAt}
}

// Posting is one balance change. Delta is signed: credits positive, debits negative.
type Posting struct {
	OwnerID        domain.ID
	Type           domain.TxType
	Delta          int64
	RelatedID      domain.ID
	IdempotencyKey string
	Description    string

	// AllowNegative is reserved for admin adjustments.
	AllowNegative bool
}

type Result struct {
	Transaction domain.Transaction `json:"transaction"`
	Balance     Balance            `json:"balance"`

	// Replayed is true when the idempotency key had already been posted.
	Replayed bool `json:"replayed"`
}

func (s *Service) Currency() string { return s.currency }

// GetBalance returns the owner's balance, creating an empty wallet on first access.
func (s *Service) GetBalance(ctx context.Context, owner domain.ID) (Balance, error) {
	if owner.IsZero() {
		return Balance{}, domain.Invalid("owner required")
	}
	var out Balance
	err := s.store.View(ctx, func(ctx context.Context, u store.Unit) error {
		w, err := u.Wallets().Ensure(ctx, owner, s.currency, s.clock().UTC())
		if err != nil {
			return err
		}
		out = balanceOf(w)
		return nil
	})
	return out, err
}

func (s *Service) Credit(ctx context.Context, owner domain.ID, amount int64, idempotencyKey string) (Result, error) {
	if amount <= 0 {
		return Result{}, domain.Invalid("amount must be positive")
	}
	return s.atomicPost(ctx, Posting{OwnerID: owner, Type: domain.TxCredit, Delta: amount, IdempotencyKey: idempotencyKey})
}

// Debit fails with *domain.InsufficientFundsError when the balance is below amount.
func (s *Service) Debit(ctx context.Context, owner domain.ID, amount int64, idempotencyKey string) (Result, error) {
	if amount <= 0 {
		return Result{}, domain.Invalid("amount must be positive")
	}
	return s.atomicPost(ctx, Posting{OwnerID: owner, Type: domain.TxDebit, Delta: -amount, IdempotencyKey: idempotencyKey})
}

func (s *Service) atomicPost(ctx context.Context, p Posting) (Result, error) {
	var out Result
	err := s.store.Atomic(ctx, func(ctx context.Context, u store.Unit) error {
		r, err := s.Post(ctx, u, p)
		out = r
		return err
	})
	return out, err
}

// Post applies p inside the caller's unit: locks the wallet, appends the ledger
// entry and moves the projection. A key that was already posted for the owner
// returns the original transaction with Replayed set and changes nothing; the
// same key with a different type, amount or related id is a validation error.
func (s *Service) Post(ctx context.Context, u store.Unit, p Posting) (Result, error) {
	if p.OwnerID.IsZero() {
		return Result{}, domain.Invalid("owner required")
	}
	if p.Delta == 0 {
		return Result{}, domain.Invalid("amount must be non-zero")
	}
	if strings.TrimSpace(p.IdempotencyKey) == "" {
		return Result{}, domain.Invalid("idempotency key required")
	}

	now := s.clock().UTC()
	w, err := u.Wallets().Ensure(ctx, p.OwnerID, s.currency, now)
	if err != nil {
		return Result{}, err
	}

	if existing, ok, err := u.Ledger().FindByIdempotencyKey(ctx, p.OwnerID, p.IdempotencyKey); err != nil {
		return Result{}, err
	} else if ok {
		if existing.Type != p.Type || existing.Amount != p.Delta || existing.RelatedID != p.RelatedID {
			return Result{}, domain.Invalid("idempotency key %q reused with a different posting", p.IdempotencyKey)
		}
		return Result{Transaction: existing, Balance: balanceOf(w), Replayed: true}, nil
	}

	if p.Delta < 0 && !p.AllowNegative && w.Balance+p.Delta < 0 {
		return Result{}, &domain.InsufficientFundsError{OwnerID: p.OwnerID, Balance: w.Balance, Requested: -p.Delta}
	}

	tx, err := s.ledger.Append(ctx, u, ledger.Entry{
		OwnerID:        p.OwnerID,
		Type:           p.Type,
		Amount:         p.Delta,
		Currency:       w.Currency,
		RelatedID:      p.RelatedID,
		IdempotencyKey: p.IdempotencyKey,
		Description:    p.Description,
	})
	if err != nil {
		return Result{}, err
	}

	w, err = u.Wallets().ApplyDelta(ctx, p.OwnerID, p.Delta, now)
	if err != nil {
		return Result{}, fmt.Errorf("apply balance delta: %w", err)
	}
	return Result{Transaction: tx, Balance: balanceOf(w)}, nil
}

type AdjustRequest struct {
	OwnerID        domain.ID `json:"owner_id"`
	DeltaMinor     int64     `json:"delta_minor"`
	Reason         string    `json:"reason"`
	IdempotencyKey string    `json:"idempotency_key"`
}

// AdminAdjust is the only path allowed to drive a balance negative. It always
// writes an adjustment ledger entry and an audit event in one unit.
func (s *Service) AdminAdjust(ctx context.Context, admin auth.Principal, req AdjustRequest) (Result, error) {
	if !rbac.IsAdmin(admin.Role) {
		return Result{}, domain.ErrForbidden
	}
	if strings.TrimSpace(req.Reason) == "" {
		return Result{}, domain.Invalid("reason required")
	}
	if strings.TrimSpace(req.IdempotencyKey) == "" {
		return Result{}, domain.Invalid("idempotency key required")
	}

	var out Result
	err := s.store.Atomic(ctx, func(ctx context.Context, u store.Unit) error {
		r, err := s.Post(ctx, u, Posting{
			OwnerID:        req.OwnerID,
			Type:           domain.TxAdjustment,
			Delta:          req.DeltaMinor,
			IdempotencyKey: "adjustment:" + req.IdempotencyKey,
			Description:    req.Reason,
			AllowNegative:  true,
		})
		if err != nil {
			return err
		}
		out = r
		if r.Replayed {
			return nil
		}
		meta, _ := json.Marshal(map[string]any{
			"delta_minor":    req.DeltaMinor,
			"transaction_id": r.Transaction.ID,
			"balance_minor":  r.Balance.BalanceMinor,
		})
		return s.audit.LogAdminAction(ctx, u, admin, domain.AuditWalletAdjusted, req.OwnerID, req.Reason, string(meta))
	})
	return out, err
}

// History lists the owner's transactions newest first.
func (s *Service) History(ctx context.Context, owner domain.ID, limit int) ([]domain.Transaction, error) {
	return s.ledger.History(ctx, s.store, owner, limit)
}
