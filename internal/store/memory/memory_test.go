package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"djtips-platform/internal/domain"
	"djtips-platform/internal/store"
)

var now = time.Date(2026, 5, 2, 20, 0, 0, 0, time.UTC)

func credit(owner domain.ID, key string, amount int64, related domain.ID) domain.Transaction {
	return domain.Transaction{
		ID: domain.NewID(), OwnerID: owner, Type: domain.TxCredit, Amount: amount, Currency: "KES",
		RelatedID: related, Status: domain.TxStatusPosted, IdempotencyKey: key, CreatedAt: now,
	}
}

func TestAtomic_ErrorRestoresSnapshot(t *testing.T) {
	s := New()
	ctx := context.Background()
	owner := domain.NewID()

	err := s.Atomic(ctx, func(ctx context.Context, u store.Unit) error {
		if _, err := u.Wallets().Ensure(ctx, owner, "KES", now); err != nil {
			return err
		}
		if err := u.Ledger().Append(ctx, credit(owner, "k1", 100, "")); err != nil {
			return err
		}
		_, err := u.Wallets().ApplyDelta(ctx, owner, 100, now)
		return err
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	boom := errors.New("boom")
	err = s.Atomic(ctx, func(ctx context.Context, u store.Unit) error {
		if err := u.Ledger().Append(ctx, credit(owner, "k2", 50, "")); err != nil {
			return err
		}
		if _, err := u.Wallets().ApplyDelta(ctx, owner, 50, now); err != nil {
			return err
		}
		if err := u.Requests().Insert(ctx, domain.SongRequest{ID: domain.NewID(), RequesterID: owner, DJID: domain.NewID(), SongRef: "trk", Status: domain.RequestPending, CreatedAt: now}); err != nil {
			return err
		}
		if err := u.Audit().Append(ctx, domain.AuditEvent{ID: domain.NewID(), Type: domain.AuditWalletAdjusted, ActorID: owner, CreatedAt: now}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	if n := len(s.Transactions()); n != 1 {
		t.Fatalf("expected 1 ledger entry after rollback, got %d", n)
	}
	err = s.View(ctx, func(ctx context.Context, u store.Unit) error {
		w, err := u.Wallets().Ensure(ctx, owner, "KES", now)
		if err != nil {
			return err
		}
		if w.Balance != 100 {
			t.Errorf("expected balance 100, got %d", w.Balance)
		}
		reqs, err := u.Requests().List(ctx, store.RequestFilter{RequesterID: owner})
		if err != nil {
			return err
		}
		evs, err := u.Audit().List(ctx, 0)
		if err != nil {
			return err
		}
		if len(reqs) != 0 || len(evs) != 0 {
			t.Errorf("expected no requests or audit events, got %d/%d", len(reqs), len(evs))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}
}

func TestAtomic_PanicRestoresSnapshot(t *testing.T) {
	s := New()
	owner := domain.NewID()

	func() {
		defer func() {
			if recover() == nil {
				t.Fatalf("expected panic to propagate")
			}
		}()
		_ = s.Atomic(context.Background(), func(ctx context.Context, u store.Unit) error {
			if err := u.Ledger().Append(ctx, credit(owner, "k1", 10, "")); err != nil {
				return err
			}
			panic("unit failed")
		})
	}()

	if n := len(s.Transactions()); n != 0 {
		t.Fatalf("expected empty ledger, got %d", n)
	}
	// the mutex was released
	if err := s.Atomic(context.Background(), func(context.Context, store.Unit) error { return nil }); err != nil {
		t.Fatalf("atomic after panic: %v", err)
	}
}

func TestLedgerAppend_Uniqueness(t *testing.T) {
	s := New()
	ctx := context.Background()
	owner, other := domain.NewID(), domain.NewID()
	related := domain.NewID()

	appendOne := func(tx domain.Transaction) error {
		return s.Atomic(ctx, func(ctx context.Context, u store.Unit) error {
			return u.Ledger().Append(ctx, tx)
		})
	}

	if err := appendOne(credit(owner, "k1", 10, related)); err != nil {
		t.Fatalf("append: %v", err)
	}
	// same owner and key
	if err := appendOne(credit(owner, "k1", 10, "")); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected ErrConflict for reused key, got %v", err)
	}
	// same related id and type under a new key
	if err := appendOne(credit(owner, "k2", 10, related)); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected ErrConflict for (related, type), got %v", err)
	}
	// a different type may reference the same related id
	refund := credit(owner, "k3", 10, related)
	refund.Type = domain.TxRefund
	if err := appendOne(refund); err != nil {
		t.Fatalf("expected refund for the same related id to pass, got %v", err)
	}
	// keys are scoped per owner
	if err := appendOne(credit(other, "k1", 10, "")); err != nil {
		t.Fatalf("expected same key under another owner to pass, got %v", err)
	}
	if n := len(s.Transactions()); n != 3 {
		t.Fatalf("expected 3 entries, got %d", n)
	}
}

func TestRequestInsert_OnePendingPerSong(t *testing.T) {
	s := New()
	ctx := context.Background()
	requester, dj := domain.NewID(), domain.NewID()
	first := domain.SongRequest{ID: domain.NewID(), RequesterID: requester, DJID: dj, SongRef: "trk", Status: domain.RequestPending, CreatedAt: now}

	insert := func(r domain.SongRequest) error {
		return s.Atomic(ctx, func(ctx context.Context, u store.Unit) error { return u.Requests().Insert(ctx, r) })
	}
	if err := insert(first); err != nil {
		t.Fatalf("insert: %v", err)
	}
	second := first
	second.ID = domain.NewID()
	var dup *domain.DuplicateRequestError
	if err := insert(second); !errors.As(err, &dup) || dup.ExistingID != first.ID {
		t.Fatalf("expected duplicate of %s, got %v", first.ID, err)
	}

	err := s.Atomic(ctx, func(ctx context.Context, u store.Unit) error {
		return u.Requests().UpdateStatus(ctx, first.ID, domain.RequestPending, domain.RequestCompleted, now)
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if err := insert(second); err != nil {
		t.Fatalf("expected insert once the first left PENDING, got %v", err)
	}
}

func TestCancelledContext(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	fn := func(context.Context, store.Unit) error {
		called = true
		return nil
	}
	if err := s.Atomic(ctx, fn); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if err := s.Snapshot(ctx, fn); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if called {
		t.Fatalf("fn must not run on a cancelled context")
	}
}
