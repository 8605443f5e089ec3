package reporting

import (
	"context"
	"errors"
	"time"

	"djtips-platform/internal/auth"
	"djtips-platform/internal/domain"
	"djtips-platform/internal/rbac"
	"djtips-platform/internal/store"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

// Service reads from immutable sources (ledger, request history).
//
// IMPORTANT:
// - Non-admin callers only see their own data.
type Service struct {
	store    store.Store
	currency string
}

func NewService(st store.Store, currency string) *Service {
	return &Service{store: st, currency: currency}
}

func canSee(actor auth.Principal, owner domain.ID) bool {
	return actor.ID == owner || rbac.IsAdmin(actor.Role)
}

func (s *Service) Statement(ctx context.Context, actor auth.Principal, req StatementRequest) (Statement, error) {
	if req.OwnerID.IsZero() {
		return Statement{}, ErrInvalidRequest
	}
	if req.Range.From.IsZero() || req.Range.To.IsZero() || !req.Range.To.After(req.Range.From) {
		return Statement{}, ErrInvalidRequest
	}
	if !canSee(actor, req.OwnerID) {
		return Statement{}, domain.ErrForbidden
	}

	out := Statement{OwnerID: req.OwnerID, Range: req.Range, ByType: map[domain.TxType]int64{}}
	err := s.store.View(ctx, func(ctx context.Context, u store.Unit) error {
		rows, err := u.Ledger().ListByOwner(ctx, req.OwnerID, req.Range.From, req.Range.To, 0)
		if err != nil {
			return err
		}
		for _, t := range rows {
			if out.Currency == "" {
				out.Currency = t.Currency
			}
			out.Transactions++
			out.ByType[t.Type] += t.Amount
			if t.Amount > 0 {
				out.TotalCreditMinor += t.Amount
			} else {
				out.TotalDebitMinor += -t.Amount
			}
		}
		return nil
	})
	if err != nil {
		return Statement{}, err
	}
	out.NetDeltaMinor = out.TotalCreditMinor - out.TotalDebitMinor
	return out, nil
}

// Reconcile checks balance == Σ ledger for owner. Admin only. Both sides are
// read from one snapshot so a concurrent posting cannot show up as drift.
func (s *Service) Reconcile(ctx context.Context, actor auth.Principal, owner domain.ID) (Reconciliation, error) {
	if !rbac.IsAdmin(actor.Role) {
		return Reconciliation{}, domain.ErrForbidden
	}
	if owner.IsZero() {
		return Reconciliation{}, ErrInvalidRequest
	}

	out := Reconciliation{OwnerID: owner}
	err := s.store.Snapshot(ctx, func(ctx context.Context, u store.Unit) error {
		w, err := u.Wallets().Ensure(ctx, owner, s.currency, time.Now().UTC())
		if err != nil {
			return err
		}
		sum, err := u.Ledger().SumByOwner(ctx, owner)
		if err != nil {
			return err
		}
		out.BalanceMinor, out.LedgerSumMinor = w.Balance, sum
		return nil
	})
	if err != nil {
		return Reconciliation{}, err
	}
	out.DriftMinor = out.BalanceMinor - out.LedgerSumMinor
	out.Consistent = out.DriftMinor == 0
	return out, nil
}

// RequestsSummary reports a DJ's request counts and fulfilled earnings.
func (s *Service) RequestsSummary(ctx context.Context, actor auth.Principal, dj domain.ID) (RequestsSummary, error) {
	if dj.IsZero() {
		return RequestsSummary{}, ErrInvalidRequest
	}
	if !canSee(actor, dj) {
		return RequestsSummary{}, domain.ErrForbidden
	}
	out := RequestsSummary{DJID: dj}
	err := s.store.View(ctx, func(ctx context.Context, u store.Unit) error {
		rows, err := u.Requests().List(ctx, store.RequestFilter{DJID: dj})
		if err != nil {
			return err
		}
		for _, r := range rows {
			switch r.Status {
			case domain.RequestPending:
				out.Pending++
			case domain.RequestCompleted:
				out.Completed++
				out.EarnedMinor += r.Amount
			case domain.RequestRejected:
				out.Rejected++
			case domain.RequestCancelled:
				out.Cancelled++
			}
		}
		return nil
	})
	return out, err
}
