package store

import (
	"context"
	"errors"
	"time"

	"djtips-platform/internal/domain"
)

// ErrConflict marks a transient write conflict (serialization failure,
// deadlock, lock timeout). Units failing with it are safe to retry.
var ErrConflict = errors.New("store: transient write conflict")

// Store is the explicit handle to the backing database. It is built once at
// the composition root and injected; there is no package-level connection.
//
// Money invariants:
// - Atomic runs fn as one all-or-nothing unit: wallet mutation, ledger append and
//   status writes commit together or not at all.
// - Rows read through an Atomic unit are locked until the unit ends.
// - View runs fn without locks; it must not mutate. Separate reads inside one
//   View may observe different commits.
// - Snapshot runs fn without locks against one consistent point in time, so
//   every read inside it sees the same set of committed units.
type Store interface {
	Atomic(ctx context.Context, fn UnitFunc) error
	View(ctx context.Context, fn UnitFunc) error
	Snapshot(ctx context.Context, fn UnitFunc) error
}

type UnitFunc func(ctx context.Context, u Unit) error

// Unit exposes the repositories bound to one transaction (or to a read view).
type Unit interface {
	Wallets() WalletRepo
	Ledger() LedgerRepo
	Requests() RequestRepo
	Withdrawals() WithdrawalRepo
	Payments() PaymentRepo
	Methods() MethodRepo
	Audit() AuditRepo
}

type WalletRepo interface {
	// Ensure returns the owner's wallet, creating a zero-balance one on first access.
	// Inside an Atomic unit the wallet row stays locked until the unit ends.
	Ensure(ctx context.Context, owner domain.ID, currency string, now time.Time) (domain.Wallet, error)
	// ApplyDelta adds delta to the projection and returns the new state.
	ApplyDelta(ctx context.Context, owner domain.ID, delta int64, now time.Time) (domain.Wallet, error)
}

// LedgerRepo is append-only. No update or delete is offered.
type LedgerRepo interface {
	Append(ctx context.Context, t domain.Transaction) error
	ExistsFor(ctx context.Context, related domain.ID, typ domain.TxType) (bool, error)
	FindByIdempotencyKey(ctx context.Context, owner domain.ID, key string) (domain.Transaction, bool, error)
	// ListByOwner returns newest first. Zero times are unbounded; limit <= 0 returns all.
	ListByOwner(ctx context.Context, owner domain.ID, from, to time.Time, limit int) ([]domain.Transaction, error)
	SumByOwner(ctx context.Context, owner domain.ID) (int64, error)
}

type RequestFilter struct {
	DJID        domain.ID
	RequesterID domain.ID
	Status      domain.RequestStatus
	Limit       int
}

type RequestRepo interface {
	// Insert fails with domain.ErrDuplicateRequest when the same requester already
	// has a PENDING request for the same song with the same DJ.
	Insert(ctx context.Context, r domain.SongRequest) error
	// Get locks the row when called inside an Atomic unit (true of every Get below).
	Get(ctx context.Context, id domain.ID) (domain.SongRequest, error)
	// UpdateStatus moves from -> to. It fails with domain.ErrAlreadyProcessed when
	// the stored status is no longer from.
	UpdateStatus(ctx context.Context, id domain.ID, from, to domain.RequestStatus, at time.Time) error
	// FindRecent returns the newest non-refunded request for the triple created at or after since.
	FindRecent(ctx context.Context, requester, dj domain.ID, songRef string, since time.Time) (domain.SongRequest, bool, error)
	List(ctx context.Context, f RequestFilter) ([]domain.SongRequest, error)
}

type WithdrawalFilter struct {
	OwnerID domain.ID
	Status  domain.WithdrawalStatus
	Limit   int
}

type WithdrawalRepo interface {
	Insert(ctx context.Context, w domain.Withdrawal) error
	Get(ctx context.Context, id domain.ID) (domain.Withdrawal, error)
	UpdateStatus(ctx context.Context, id domain.ID, from, to domain.WithdrawalStatus, by domain.ID, reason string, at time.Time) error
	List(ctx context.Context, f WithdrawalFilter) ([]domain.Withdrawal, error)
}

type PaymentRepo interface {
	Insert(ctx context.Context, p domain.PendingPayment) error
	Get(ctx context.Context, id domain.ID) (domain.PendingPayment, error)
	GetByGatewayID(ctx context.Context, gatewayRequestID string) (domain.PendingPayment, error)
	UpdateStatus(ctx context.Context, id domain.ID, from, to domain.PaymentStatus, receiptRef, resultDesc string, at time.Time) error
	ListByOwner(ctx context.Context, owner domain.ID, limit int) ([]domain.PendingPayment, error)
}

type MethodRepo interface {
	Get(ctx context.Context, id domain.ID) (domain.WithdrawalMethod, error)
	ListByOwner(ctx context.Context, owner domain.ID) ([]domain.WithdrawalMethod, error)
	Upsert(ctx context.Context, m domain.WithdrawalMethod) error
}

// AuditRepo is append-only.
type AuditRepo interface {
	Append(ctx context.Context, e domain.AuditEvent) error
	List(ctx context.Context, limit int) ([]domain.AuditEvent, error)
}
