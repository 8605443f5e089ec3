// Package postgres implements store.Store on database/sql with the pgx driver.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"djtips-platform/internal/domain"
	"djtips-platform/internal/store"
	"djtips-platform/pkg/utils"

	"github.com/golang-migrate/migrate/v4"
	pgxmigrate "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// DriverName is the database/sql driver registered by pgx/v5/stdlib.
const DriverName = "pgx"

//go:embed migrations/*.sql
var migrations embed.FS

// Store runs units as READ COMMITTED transactions. Rows read inside Atomic are
// taken with SELECT ... FOR UPDATE, so concurrent units on the same wallet,
// request, withdrawal or payment serialize on the row lock.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store { return &Store{db: db} }

var _ store.Store = (*Store)(nil)

// Migrate applies the embedded schema migrations.
func Migrate(db *sql.DB) error {
	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("migrations source: %w", err)
	}
	drv, err := pgxmigrate.WithInstance(db, &pgxmigrate.Config{})
	if err != nil {
		return fmt.Errorf("migrations driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "pgx5", drv)
	if err != nil {
		return fmt.Errorf("migrator: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate up: %w", err)
	}
	return nil
}

func (s *Store) Atomic(ctx context.Context, fn store.UnitFunc) error {
	err := utils.WithTx(ctx, s.db, &sql.TxOptions{Isolation: sql.LevelReadCommitted}, func(ctx context.Context, tx *sql.Tx) error {
		return fn(ctx, unit{q: tx, lock: true})
	})
	return mapErr(err)
}

func (s *Store) View(ctx context.Context, fn store.UnitFunc) error {
	return mapErr(fn(ctx, unit{q: s.db}))
}

// Snapshot runs fn in a REPEATABLE READ transaction: the snapshot is taken at
// the first statement and holds for the rest of fn. It is not READ ONLY because
// WalletRepo.Ensure may create the row on first access.
func (s *Store) Snapshot(ctx context.Context, fn store.UnitFunc) error {
	err := utils.WithTx(ctx, s.db, &sql.TxOptions{Isolation: sql.LevelRepeatableRead}, func(ctx context.Context, tx *sql.Tx) error {
		return fn(ctx, unit{q: tx})
	})
	return mapErr(err)
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type unit struct {
	q    querier
	lock bool
}

func (u unit) Wallets() store.WalletRepo { return walletRepo(u) }
func (u unit) Ledger() store.LedgerRepo { return ledgerRepo(u) }
func (u unit) Requests() store.RequestRepo { return requestRepo(u) }
func (u unit) Withdrawals() store.WithdrawalRepo { return withdrawalRepo(u) }
func (u unit) Payments() store.PaymentRepo { return paymentRepo(u) }
func (u unit) Methods() store.MethodRepo { return methodRepo(u) }
func (u unit) Audit() store.AuditRepo { return auditRepo(u) }

func (u unit) forUpdate() string {
	if u.lock {
		return " FOR UPDATE"
	}
	return ""
}

// SQLSTATE codes that make a unit safe to retry.
const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeLockNotAvailable     = "55P03"
	codeUniqueViolation      = "23505"
)

// mapErr translates driver errors into store/domain errors. Already-mapped
// errors pass through unchanged.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeSerializationFailure, codeDeadlockDetected, codeLockNotAvailable, codeUniqueViolation:
			return fmt.Errorf("%w: %s (%s)", store.ErrConflict, pgErr.Message, pgErr.Code)
		}
	}
	return err
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
