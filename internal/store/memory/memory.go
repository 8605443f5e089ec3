package memory

import (
	"context"
	"maps"
	"sort"
	"sync"
	"time"

	"djtips-platform/internal/domain"
	"djtips-platform/internal/store"
)

// Store is an in-memory store.Store useful for tests and local development.
//
// A single mutex serializes every unit, which gives the same all-or-nothing and
// row-locking guarantees as the Postgres store. A failed Atomic unit is rolled
// back by restoring the snapshot taken when it began.
//
// NOTE: This is not intended for production; use the Postgres store.
type Store struct {
	mu sync.Mutex

	wallets     map[domain.ID]domain.Wallet
	ledger      []domain.Transaction
	requests    map[domain.ID]domain.SongRequest
	withdrawals map[domain.ID]domain.Withdrawal
	payments    map[domain.ID]domain.PendingPayment
	methods     map[domain.ID]domain.WithdrawalMethod
	audit       []domain.AuditEvent
}

func New() *Store {
	return &Store{
		wallets:     map[domain.ID]domain.Wallet{},
		requests:    map[domain.ID]domain.SongRequest{},
		withdrawals: map[domain.ID]domain.Withdrawal{},
		payments:    map[domain.ID]domain.PendingPayment{},
		methods:     map[domain.ID]domain.WithdrawalMethod{},
	}
}

var _ store.Store = (*Store)(nil)

type snapshot struct {
	wallets     map[domain.ID]domain.Wallet
	ledgerLen   int
	requests    map[domain.ID]domain.SongRequest
	withdrawals map[domain.ID]domain.Withdrawal
	payments    map[domain.ID]domain.PendingPayment
	methods     map[domain.ID]domain.WithdrawalMethod
	auditLen    int
}

func (s *Store) snapshot() snapshot {
	return snapshot{
		wallets:     maps.Clone(s.wallets),
		ledgerLen:   len(s.ledger),
		requests:    maps.Clone(s.requests),
		withdrawals: maps.Clone(s.withdrawals),
		payments:    maps.Clone(s.payments),
		methods:     maps.Clone(s.methods),
		auditLen:    len(s.audit),
	}
}

func (s *Store) restore(snap snapshot) {
	s.wallets = snap.wallets
	s.ledger = s.ledger[:snap.ledgerLen]
	s.requests = snap.requests
	s.withdrawals = snap.withdrawals
	s.payments = snap.payments
	s.methods = snap.methods
	s.audit = s.audit[:snap.auditLen]
}

func (s *Store) Atomic(ctx context.Context, fn store.UnitFunc) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.snapshot()
	defer func() {
		if p := recover(); p != nil {
			s.restore(snap)
			panic(p)
		}
		if err != nil {
			s.restore(snap)
		}
	}()

	return fn(ctx, unit{s: s})
}

func (s *Store) View(ctx context.Context, fn store.UnitFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(ctx, unit{s: s})
}

// Snapshot is View: the store mutex already excludes concurrent units.
func (s *Store) Snapshot(ctx context.Context, fn store.UnitFunc) error {
	return s.View(ctx, fn)
}

// Transactions returns a copy of the whole ledger in append order.
func (s *Store) Transactions() []domain.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Transaction, len(s.ledger))
	copy(out, s.ledger)
	return out
}

type unit struct{ s *Store }

func (u unit) Wallets() store.WalletRepo { return walletRepo(u) }
func (u unit) Ledger() store.LedgerRepo { return ledgerRepo(u) }
func (u unit) Requests() store.RequestRepo { return requestRepo(u) }
func (u unit) Withdrawals() store.WithdrawalRepo { return withdrawalRepo(u) }
func (u unit) Payments() store.PaymentRepo { return paymentRepo(u) }
func (u unit) Methods() store.MethodRepo { return methodRepo(u) }
func (u unit) Audit() store.AuditRepo { return auditRepo(u) }

// --- wallets ---

type walletRepo unit

func (r walletRepo) Ensure(ctx context.Context, owner domain.ID, currency string, now time.Time) (domain.Wallet, error) {
	if w, ok := r.s.wallets[owner]; ok {
		return w, nil
	}
	w := domain.Wallet{OwnerID: owner, Currency: currency, CreatedAt: now, UpdatedAt: now}
	r.s.wallets[owner] = w
	return w, nil
}

func (r walletRepo) ApplyDelta(ctx context.Context, owner domain.ID, delta int64, now time.Time) (domain.Wallet, error) {
	w, ok := r.s.wallets[owner]
	if !ok {
		return domain.Wallet{}, domain.ErrNotFound
	}
	w.Balance += delta
	w.UpdatedAt = now
	r.s.wallets[owner] = w
	return w, nil
}

// --- ledger ---

type ledgerRepo unit

func (r ledgerRepo) Append(ctx context.Context, t domain.Transaction) error {
	for _, e := range r.s.ledger {
		if e.OwnerID == t.OwnerID && e.IdempotencyKey == t.IdempotencyKey {
			return store.ErrConflict
		}
		if t.RelatedID != "" && e.RelatedID == t.RelatedID && e.Type == t.Type {
			return store.ErrConflict
		}
	}
	r.s.ledger = append(r.s.ledger, t)
	return nil
}

func (r ledgerRepo) ExistsFor(ctx context.Context, related domain.ID, typ domain.TxType) (bool, error) {
	for _, e := range r.s.ledger {
		if e.RelatedID == related && e.Type == typ {
			return true, nil
		}
	}
	return false, nil
}

func (r ledgerRepo) FindByIdempotencyKey(ctx context.Context, owner domain.ID, key string) (domain.Transaction, bool, error) {
	for _, e := range r.s.ledger {
		if e.OwnerID == owner && e.IdempotencyKey == key {
			return e, true, nil
		}
	}
	return domain.Transaction{}, false, nil
}

func (r ledgerRepo) ListByOwner(ctx context.Context, owner domain.ID, from, to time.Time, limit int) ([]domain.Transaction, error) {
	var out []domain.Transaction
	for i := len(r.s.ledger) - 1; i >= 0; i-- {
		e := r.s.ledger[i]
		if e.OwnerID != owner {
			continue
		}
		if !from.IsZero() && e.CreatedAt.Before(from) {
			continue
		}
		if !to.IsZero() && !e.CreatedAt.Before(to) {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r ledgerRepo) SumByOwner(ctx context.Context, owner domain.ID) (int64, error) {
	var sum int64
	for _, e := range r.s.ledger {
		if e.OwnerID == owner {
			sum += e.Amount
		}
	}
	return sum, nil
}

// --- song requests ---

type requestRepo unit

func (r requestRepo) Insert(ctx context.Context, req domain.SongRequest) error {
	if _, ok := r.s.requests[req.ID]; ok {
		return store.ErrConflict
	}
	if req.Status == domain.RequestPending {
		for _, e := range r.s.requests {
			if e.Status == domain.RequestPending && e.RequesterID == req.RequesterID && e.DJID == req.DJID && e.SongRef == req.SongRef {
				return &domain.DuplicateRequestError{ExistingID: e.ID}
			}
		}
	}
	r.s.requests[req.ID] = req
	return nil
}

func (r requestRepo) Get(ctx context.Context, id domain.ID) (domain.SongRequest, error) {
	req, ok := r.s.requests[id]
	if !ok {
		return domain.SongRequest{}, domain.ErrNotFound
	}
	return req, nil
}

func (r requestRepo) UpdateStatus(ctx context.Context, id domain.ID, from, to domain.RequestStatus, at time.Time) error {
	req, ok := r.s.requests[id]
	if !ok {
		return domain.ErrNotFound
	}
	if req.Status != from {
		return domain.ErrAlreadyProcessed
	}
	req.Status = to
	if to.Terminal() {
		t := at
		req.CompletedAt = &t
	}
	r.s.requests[id] = req
	return nil
}

func (r requestRepo) FindRecent(ctx context.Context, requester, dj domain.ID, songRef string, since time.Time) (domain.SongRequest, bool, error) {
	var best domain.SongRequest
	found := false
	for _, e := range r.s.requests {
		if e.RequesterID != requester || e.DJID != dj || e.SongRef != songRef {
			continue
		}
		if e.Status == domain.RequestRejected || e.Status == domain.RequestCancelled {
			continue
		}
		if e.CreatedAt.Before(since) {
			continue
		}
		if !found || e.CreatedAt.After(best.CreatedAt) {
			best = e
			found = true
		}
	}
	return best, found, nil
}

func (r requestRepo) List(ctx context.Context, f store.RequestFilter) ([]domain.SongRequest, error) {
	var out []domain.SongRequest
	for _, e := range r.s.requests {
		if f.DJID != "" && e.DJID != f.DJID {
			continue
		}
		if f.RequesterID != "" && e.RequesterID != f.RequesterID {
			continue
		}
		if f.Status != "" && e.Status != f.Status {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return truncate(out, f.Limit), nil
}

// --- withdrawals ---

type withdrawalRepo unit

func (r withdrawalRepo) Insert(ctx context.Context, w domain.Withdrawal) error {
	if _, ok := r.s.withdrawals[w.ID]; ok {
		return store.ErrConflict
	}
	r.s.withdrawals[w.ID] = w
	return nil
}

func (r withdrawalRepo) Get(ctx context.Context, id domain.ID) (domain.Withdrawal, error) {
	w, ok := r.s.withdrawals[id]
	if !ok {
		return domain.Withdrawal{}, domain.ErrNotFound
	}
	return w, nil
}

func (r withdrawalRepo) UpdateStatus(ctx context.Context, id domain.ID, from, to domain.WithdrawalStatus, by domain.ID, reason string, at time.Time) error {
	w, ok := r.s.withdrawals[id]
	if !ok {
		return domain.ErrNotFound
	}
	if w.Status != from {
		return domain.ErrAlreadyProcessed
	}
	t := at
	w.Status = to
	w.ProcessedBy = by
	w.Reason = reason
	w.ProcessedAt = &t
	r.s.withdrawals[id] = w
	return nil
}

func (r withdrawalRepo) List(ctx context.Context, f store.WithdrawalFilter) ([]domain.Withdrawal, error) {
	var out []domain.Withdrawal
	for _, w := range r.s.withdrawals {
		if f.OwnerID != "" && w.OwnerID != f.OwnerID {
			continue
		}
		if f.Status != "" && w.Status != f.Status {
			continue
		}
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return truncate(out, f.Limit), nil
}

// --- pending payments ---

type paymentRepo unit

func (r paymentRepo) Insert(ctx context.Context, p domain.PendingPayment) error {
	if _, ok := r.s.payments[p.ID]; ok {
		return store.ErrConflict
	}
	for _, e := range r.s.payments {
		if e.GatewayRequestID == p.GatewayRequestID {
			return store.ErrConflict
		}
	}
	r.s.payments[p.ID] = p
	return nil
}

func (r paymentRepo) Get(ctx context.Context, id domain.ID) (domain.PendingPayment, error) {
	p, ok := r.s.payments[id]
	if !ok {
		return domain.PendingPayment{}, domain.ErrNotFound
	}
	return p, nil
}

func (r paymentRepo) GetByGatewayID(ctx context.Context, gatewayRequestID string) (domain.PendingPayment, error) {
	for _, p := range r.s.payments {
		if p.GatewayRequestID == gatewayRequestID {
			return p, nil
		}
	}
	return domain.PendingPayment{}, domain.ErrNotFound
}

func (r paymentRepo) UpdateStatus(ctx context.Context, id domain.ID, from, to domain.PaymentStatus, receiptRef, resultDesc string, at time.Time) error {
	p, ok := r.s.payments[id]
	if !ok {
		return domain.ErrNotFound
	}
	if p.Status != from {
		return domain.ErrAlreadyProcessed
	}
	p.Status = to
	if receiptRef != "" {
		p.ReceiptRef = receiptRef
	}
	if resultDesc != "" {
		p.ResultDesc = resultDesc
	}
	p.UpdatedAt = at
	r.s.payments[id] = p
	return nil
}

func (r paymentRepo) ListByOwner(ctx context.Context, owner domain.ID, limit int) ([]domain.PendingPayment, error) {
	var out []domain.PendingPayment
	for _, p := range r.s.payments {
		if p.OwnerID == owner {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return truncate(out, limit), nil
}

// --- withdrawal methods ---

type methodRepo unit

func (r methodRepo) Get(ctx context.Context, id domain.ID) (domain.WithdrawalMethod, error) {
	m, ok := r.s.methods[id]
	if !ok {
		return domain.WithdrawalMethod{}, domain.ErrNotFound
	}
	return m, nil
}

func (r methodRepo) ListByOwner(ctx context.Context, owner domain.ID) ([]domain.WithdrawalMethod, error) {
	var out []domain.WithdrawalMethod
	for _, m := range r.s.methods {
		if m.OwnerID == owner {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r methodRepo) Upsert(ctx context.Context, m domain.WithdrawalMethod) error {
	r.s.methods[m.ID] = m
	return nil
}

// --- audit ---

type auditRepo unit

func (r auditRepo) Append(ctx context.Context, e domain.AuditEvent) error {
	r.s.audit = append(r.s.audit, e)
	return nil
}

func (r auditRepo) List(ctx context.Context, limit int) ([]domain.AuditEvent, error) {
	var out []domain.AuditEvent
	for i := len(r.s.audit) - 1; i >= 0; i-- {
		out = append(out, r.s.audit[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func truncate[T any](in []T, limit int) []T {
	if limit > 0 && len(in) > limit {
		return in[:limit]
	}
	return in
}
