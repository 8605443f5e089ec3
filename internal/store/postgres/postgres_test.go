package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"djtips-platform/internal/domain"
	"djtips-platform/internal/store"
	"djtips-platform/pkg/utils"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestMapErr(t *testing.T) {
	cases := []struct {
		in   error
		want error
	}{
		{sql.ErrNoRows, domain.ErrNotFound},
		{&pgconn.PgError{Code: "40001"}, store.ErrConflict},
		{fmt.Errorf("commit: %w", &pgconn.PgError{Code: "40P01"}), store.ErrConflict},
		{&pgconn.PgError{Code: "55P03"}, store.ErrConflict},
		{&pgconn.PgError{Code: "23505", ConstraintName: "transactions_owner_idempotency_key"}, store.ErrConflict},
		{domain.ErrAlreadyProcessed, domain.ErrAlreadyProcessed},
	}
	for _, tc := range cases {
		if got := mapErr(tc.in); !errors.Is(got, tc.want) {
			t.Fatalf("mapErr(%v) = %v, want %v", tc.in, got, tc.want)
		}
	}
	other := &pgconn.PgError{Code: "22001"}
	if got := mapErr(other); errors.Is(got, store.ErrConflict) {
		t.Fatalf("data errors must not be retried")
	}
	if mapErr(nil) != nil {
		t.Fatalf("nil must stay nil")
	}
}

func TestQueryBuilder(t *testing.T) {
	q := newQuery(`SELECT id FROM transactions`)
	q.where("owner_id", "o")
	q.cond("created_at >=", time.Time{})
	q.tail("ORDER BY created_at DESC", 10)

	want := `SELECT id FROM transactions WHERE owner_id = $1 AND created_at >= $2 ORDER BY created_at DESC LIMIT $3`
	if q.String() != want {
		t.Fatalf("got %q", q.String())
	}
	if len(q.args) != 3 {
		t.Fatalf("expected 3 args, got %d", len(q.args))
	}

	q = newQuery(`SELECT id FROM audit_events`)
	q.tail("ORDER BY created_at DESC", 0)
	if q.String() != `SELECT id FROM audit_events ORDER BY created_at DESC` || len(q.args) != 0 {
		t.Fatalf("got %q %v", q.String(), q.args)
	}
}

// TestStore_Integration runs against a disposable database named by
// DJTIPS_TEST_DATABASE_URL.
func TestStore_Integration(t *testing.T) {
	dsn := os.Getenv("DJTIPS_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("DJTIPS_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	db, err := utils.OpenPostgres(ctx, DriverName, dsn, utils.PostgresPoolConfig{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()
	if err := Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	s := New(db)
	owner := domain.NewID()
	now := time.Now().UTC().Truncate(time.Microsecond)
	key := "test:" + owner.String()

	err = s.Atomic(ctx, func(ctx context.Context, u store.Unit) error {
		if _, err := u.Wallets().Ensure(ctx, owner, "KES", now); err != nil {
			return err
		}
		if err := u.Ledger().Append(ctx, domain.Transaction{
			ID: domain.NewID(), OwnerID: owner, Type: domain.TxCredit, Amount: 500, Currency: "KES",
			Status: domain.TxStatusPosted, IdempotencyKey: key, CreatedAt: now,
		}); err != nil {
			return err
		}
		_, err := u.Wallets().ApplyDelta(ctx, owner, 500, now)
		return err
	})
	if err != nil {
		t.Fatalf("atomic: %v", err)
	}

	// duplicate key rolls the whole unit back
	err = s.Atomic(ctx, func(ctx context.Context, u store.Unit) error {
		if _, err := u.Wallets().ApplyDelta(ctx, owner, 500, now); err != nil {
			return err
		}
		return u.Ledger().Append(ctx, domain.Transaction{
			ID: domain.NewID(), OwnerID: owner, Type: domain.TxCredit, Amount: 500, Currency: "KES",
			Status: domain.TxStatusPosted, IdempotencyKey: key, CreatedAt: now,
		})
	})
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	err = s.View(ctx, func(ctx context.Context, u store.Unit) error {
		w, err := u.Wallets().Ensure(ctx, owner, "KES", now)
		if err != nil {
			return err
		}
		sum, err := u.Ledger().SumByOwner(ctx, owner)
		if err != nil {
			return err
		}
		if w.Balance != 500 || sum != 500 {
			return fmt.Errorf("balance %d sum %d", w.Balance, sum)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}

	// a unit committed mid-snapshot is invisible to the rest of it
	err = s.Snapshot(ctx, func(ctx context.Context, u store.Unit) error {
		w, err := u.Wallets().Ensure(ctx, owner, "KES", now)
		if err != nil {
			return err
		}
		err = s.Atomic(ctx, func(ctx context.Context, u store.Unit) error {
			if err := u.Ledger().Append(ctx, domain.Transaction{
				ID: domain.NewID(), OwnerID: owner, Type: domain.TxCredit, Amount: 250, Currency: "KES",
				Status: domain.TxStatusPosted, IdempotencyKey: key + ":2", CreatedAt: now,
			}); err != nil {
				return err
			}
			_, err := u.Wallets().ApplyDelta(ctx, owner, 250, now)
			return err
		})
		if err != nil {
			return fmt.Errorf("concurrent credit: %w", err)
		}
		sum, err := u.Ledger().SumByOwner(ctx, owner)
		if err != nil {
			return err
		}
		if w.Balance != 500 || sum != 500 {
			return fmt.Errorf("snapshot saw balance %d sum %d", w.Balance, sum)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
}
