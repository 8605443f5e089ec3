package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"
	"time"

	"djtips-platform/internal/domain"
	"djtips-platform/internal/store"
)

// --- wallets ---

type walletRepo unit

func (r walletRepo) Ensure(ctx context.Context, owner domain.ID, currency string, now time.Time) (domain.Wallet, error) {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO wallets (owner_id, balance_minor, currency, created_at, updated_at)
		VALUES ($1, 0, $2, $3, $3)
		ON CONFLICT (owner_id) DO NOTHING`, owner, currency, now)
	if err != nil {
		return domain.Wallet{}, mapErr(err)
	}
	var w domain.Wallet
	err = r.q.QueryRowContext(ctx, `
		SELECT owner_id, balance_minor, currency, created_at, updated_at
		FROM wallets WHERE owner_id = $1`+unit(r).forUpdate(), owner).
		Scan(&w.OwnerID, &w.Balance, &w.Currency, &w.CreatedAt, &w.UpdatedAt)
	return w, mapErr(err)
}

func (r walletRepo) ApplyDelta(ctx context.Context, owner domain.ID, delta int64, now time.Time) (domain.Wallet, error) {
	var w domain.Wallet
	err := r.q.QueryRowContext(ctx, `
		UPDATE wallets SET balance_minor = balance_minor + $2, updated_at = $3
		WHERE owner_id = $1
		RETURNING owner_id, balance_minor, currency, created_at, updated_at`, owner, delta, now).
		Scan(&w.OwnerID, &w.Balance, &w.Currency, &w.CreatedAt, &w.UpdatedAt)
	return w, mapErr(err)
}

// --- ledger ---

type ledgerRepo unit

const txColumns = `id, owner_id, type, amount_minor, currency, related_id, status, idempotency_key, description, created_at`

func scanTx(row interface{ Scan(...any) error }) (domain.Transaction, error) {
	var t domain.Transaction
	err := row.Scan(&t.ID, &t.OwnerID, &t.Type, &t.Amount, &t.Currency, &t.RelatedID, &t.Status, &t.IdempotencyKey, &t.Description, &t.CreatedAt)
	return t, err
}

func (r ledgerRepo) Append(ctx context.Context, t domain.Transaction) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO transactions (`+txColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		t.ID, t.OwnerID, t.Type, t.Amount, t.Currency, t.RelatedID, t.Status, t.IdempotencyKey, t.Description, t.CreatedAt)
	return mapErr(err)
}

func (r ledgerRepo) ExistsFor(ctx context.Context, related domain.ID, typ domain.TxType) (bool, error) {
	var ok bool
	err := r.q.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM transactions WHERE related_id = $1 AND type = $2)`, related, typ).Scan(&ok)
	return ok, mapErr(err)
}

func (r ledgerRepo) FindByIdempotencyKey(ctx context.Context, owner domain.ID, key string) (domain.Transaction, bool, error) {
	t, err := scanTx(r.q.QueryRowContext(ctx, `
		SELECT `+txColumns+` FROM transactions WHERE owner_id = $1 AND idempotency_key = $2`, owner, key))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Transaction{}, false, nil
	}
	if err != nil {
		return domain.Transaction{}, false, mapErr(err)
	}
	return t, true, nil
}

func (r ledgerRepo) ListByOwner(ctx context.Context, owner domain.ID, from, to time.Time, limit int) ([]domain.Transaction, error) {
	q := newQuery(`SELECT ` + txColumns + ` FROM transactions`)
	q.where("owner_id", owner)
	if !from.IsZero() {
		q.cond("created_at >=", from)
	}
	if !to.IsZero() {
		q.cond("created_at <", to)
	}
	q.tail("ORDER BY created_at DESC, id DESC", limit)

	rows, err := r.q.QueryContext(ctx, q.String(), q.args...)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	var out []domain.Transaction
	for rows.Next() {
		t, err := scanTx(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r ledgerRepo) SumByOwner(ctx context.Context, owner domain.ID) (int64, error) {
	var sum int64
	err := r.q.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount_minor), 0) FROM transactions WHERE owner_id = $1`, owner).Scan(&sum)
	return sum, mapErr(err)
}

// --- song requests ---

type requestRepo unit

const requestColumns = `id, requester_id, dj_id, song_ref, song_title, artist_name, amount_minor, currency, status, message, created_at, completed_at`

func scanRequest(row interface{ Scan(...any) error }) (domain.SongRequest, error) {
	var r domain.SongRequest
	err := row.Scan(&r.ID, &r.RequesterID, &r.DJID, &r.SongRef, &r.SongTitle, &r.ArtistName, &r.Amount, &r.Currency, &r.Status, &r.Message, &r.CreatedAt, &r.CompletedAt)
	return r, err
}

// Insert relies on the partial unique index over PENDING triples. ON CONFLICT
// keeps the transaction usable so the existing request can be reported.
func (r requestRepo) Insert(ctx context.Context, req domain.SongRequest) error {
	res, err := r.q.ExecContext(ctx, `
		INSERT INTO song_requests (`+requestColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (requester_id, dj_id, song_ref) WHERE status = 'PENDING' DO NOTHING`,
		req.ID, req.RequesterID, req.DJID, req.SongRef, req.SongTitle, req.ArtistName, req.Amount, req.Currency, req.Status, req.Message, req.CreatedAt, req.CompletedAt)
	if err != nil {
		return mapErr(err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}
	var existing domain.ID
	err = r.q.QueryRowContext(ctx, `
		SELECT id FROM song_requests
		WHERE requester_id = $1 AND dj_id = $2 AND song_ref = $3 AND status = 'PENDING'`,
		req.RequesterID, req.DJID, req.SongRef).Scan(&existing)
	if err != nil {
		return mapErr(err)
	}
	return &domain.DuplicateRequestError{ExistingID: existing}
}

func (r requestRepo) Get(ctx context.Context, id domain.ID) (domain.SongRequest, error) {
	req, err := scanRequest(r.q.QueryRowContext(ctx, `
		SELECT `+requestColumns+` FROM song_requests WHERE id = $1`+unit(r).forUpdate(), id))
	return req, mapErr(err)
}

func (r requestRepo) UpdateStatus(ctx context.Context, id domain.ID, from, to domain.RequestStatus, at time.Time) error {
	var completed *time.Time
	if to.Terminal() {
		completed = &at
	}
	res, err := r.q.ExecContext(ctx, `
		UPDATE song_requests SET status = $3, completed_at = $4
		WHERE id = $1 AND status = $2`, id, from, to, completed)
	if err != nil {
		return mapErr(err)
	}
	return checkUpdated(ctx, unit(r), res, `SELECT 1 FROM song_requests WHERE id = $1`, id)
}

// checkUpdated distinguishes a missing row from a lost status race.
func checkUpdated(ctx context.Context, u unit, res sql.Result, existsQuery string, id domain.ID) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}
	var one int
	if err := u.q.QueryRowContext(ctx, existsQuery, id).Scan(&one); err != nil {
		return mapErr(err)
	}
	return domain.ErrAlreadyProcessed
}

func (r requestRepo) FindRecent(ctx context.Context, requester, dj domain.ID, songRef string, since time.Time) (domain.SongRequest, bool, error) {
	req, err := scanRequest(r.q.QueryRowContext(ctx, `
		SELECT `+requestColumns+` FROM song_requests
		WHERE requester_id = $1 AND dj_id = $2 AND song_ref = $3
		  AND status NOT IN ('REJECTED', 'CANCELLED') AND created_at >= $4
		ORDER BY created_at DESC LIMIT 1`, requester, dj, songRef, since))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.SongRequest{}, false, nil
	}
	if err != nil {
		return domain.SongRequest{}, false, mapErr(err)
	}
	return req, true, nil
}

func (r requestRepo) List(ctx context.Context, f store.RequestFilter) ([]domain.SongRequest, error) {
	q := newQuery(`SELECT ` + requestColumns + ` FROM song_requests`)
	if f.DJID != "" {
		q.where("dj_id", f.DJID)
	}
	if f.RequesterID != "" {
		q.where("requester_id", f.RequesterID)
	}
	if f.Status != "" {
		q.where("status", f.Status)
	}
	q.tail("ORDER BY created_at DESC, id ASC", f.Limit)

	rows, err := r.q.QueryContext(ctx, q.String(), q.args...)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	var out []domain.SongRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

// --- withdrawals ---

type withdrawalRepo unit

const withdrawalColumns = `id, owner_id, amount_minor, currency, method_ref, status, reference, reason, processed_by, created_at, processed_at`

func scanWithdrawal(row interface{ Scan(...any) error }) (domain.Withdrawal, error) {
	var w domain.Withdrawal
	err := row.Scan(&w.ID, &w.OwnerID, &w.Amount, &w.Currency, &w.MethodRef, &w.Status, &w.Reference, &w.Reason, &w.ProcessedBy, &w.CreatedAt, &w.ProcessedAt)
	return w, err
}

func (r withdrawalRepo) Insert(ctx context.Context, w domain.Withdrawal) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO withdrawals (`+withdrawalColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		w.ID, w.OwnerID, w.Amount, w.Currency, w.MethodRef, w.Status, w.Reference, w.Reason, w.ProcessedBy, w.CreatedAt, w.ProcessedAt)
	return mapErr(err)
}

func (r withdrawalRepo) Get(ctx context.Context, id domain.ID) (domain.Withdrawal, error) {
	w, err := scanWithdrawal(r.q.QueryRowContext(ctx, `
		SELECT `+withdrawalColumns+` FROM withdrawals WHERE id = $1`+unit(r).forUpdate(), id))
	return w, mapErr(err)
}

func (r withdrawalRepo) UpdateStatus(ctx context.Context, id domain.ID, from, to domain.WithdrawalStatus, by domain.ID, reason string, at time.Time) error {
	res, err := r.q.ExecContext(ctx, `
		UPDATE withdrawals SET status = $3, processed_by = $4, reason = $5, processed_at = $6
		WHERE id = $1 AND status = $2`, id, from, to, by, reason, at)
	if err != nil {
		return mapErr(err)
	}
	return checkUpdated(ctx, unit(r), res, `SELECT 1 FROM withdrawals WHERE id = $1`, id)
}

func (r withdrawalRepo) List(ctx context.Context, f store.WithdrawalFilter) ([]domain.Withdrawal, error) {
	q := newQuery(`SELECT ` + withdrawalColumns + ` FROM withdrawals`)
	if f.OwnerID != "" {
		q.where("owner_id", f.OwnerID)
	}
	if f.Status != "" {
		q.where("status", f.Status)
	}
	q.tail("ORDER BY created_at DESC, id ASC", f.Limit)

	rows, err := r.q.QueryContext(ctx, q.String(), q.args...)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	var out []domain.Withdrawal
	for rows.Next() {
		w, err := scanWithdrawal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// --- pending payments ---

type paymentRepo unit

const paymentColumns = `id, owner_id, gateway_request_id, phone_ref, amount_minor, currency, status, receipt_ref, result_desc, created_at, updated_at`

func scanPayment(row interface{ Scan(...any) error }) (domain.PendingPayment, error) {
	var p domain.PendingPayment
	err := row.Scan(&p.ID, &p.OwnerID, &p.GatewayRequestID, &p.PhoneRef, &p.Amount, &p.Currency, &p.Status, &p.ReceiptRef, &p.ResultDesc, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

func (r paymentRepo) Insert(ctx context.Context, p domain.PendingPayment) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO pending_payments (`+paymentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		p.ID, p.OwnerID, p.GatewayRequestID, p.PhoneRef, p.Amount, p.Currency, p.Status, p.ReceiptRef, p.ResultDesc, p.CreatedAt, p.UpdatedAt)
	return mapErr(err)
}

func (r paymentRepo) Get(ctx context.Context, id domain.ID) (domain.PendingPayment, error) {
	p, err := scanPayment(r.q.QueryRowContext(ctx, `
		SELECT `+paymentColumns+` FROM pending_payments WHERE id = $1`+unit(r).forUpdate(), id))
	return p, mapErr(err)
}

func (r paymentRepo) GetByGatewayID(ctx context.Context, gatewayRequestID string) (domain.PendingPayment, error) {
	p, err := scanPayment(r.q.QueryRowContext(ctx, `
		SELECT `+paymentColumns+` FROM pending_payments WHERE gateway_request_id = $1`+unit(r).forUpdate(), gatewayRequestID))
	return p, mapErr(err)
}

func (r paymentRepo) UpdateStatus(ctx context.Context, id domain.ID, from, to domain.PaymentStatus, receiptRef, resultDesc string, at time.Time) error {
	res, err := r.q.ExecContext(ctx, `
		UPDATE pending_payments
		SET status = $3,
		    receipt_ref = COALESCE(NULLIF($4, ''), receipt_ref),
		    result_desc = COALESCE(NULLIF($5, ''), result_desc),
		    updated_at = $6
		WHERE id = $1 AND status = $2`, id, from, to, receiptRef, resultDesc, at)
	if err != nil {
		return mapErr(err)
	}
	return checkUpdated(ctx, unit(r), res, `SELECT 1 FROM pending_payments WHERE id = $1`, id)
}

func (r paymentRepo) ListByOwner(ctx context.Context, owner domain.ID, limit int) ([]domain.PendingPayment, error) {
	q := newQuery(`SELECT ` + paymentColumns + ` FROM pending_payments`)
	q.where("owner_id", owner)
	q.tail("ORDER BY created_at DESC, id ASC", limit)

	rows, err := r.q.QueryContext(ctx, q.String(), q.args...)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	var out []domain.PendingPayment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// --- withdrawal methods ---

type methodRepo unit

const methodColumns = `id, owner_id, kind, destination, active, created_at`

func scanMethod(row interface{ Scan(...any) error }) (domain.WithdrawalMethod, error) {
	var m domain.WithdrawalMethod
	err := row.Scan(&m.ID, &m.OwnerID, &m.Kind, &m.Destination, &m.Active, &m.CreatedAt)
	return m, err
}

func (r methodRepo) Get(ctx context.Context, id domain.ID) (domain.WithdrawalMethod, error) {
	m, err := scanMethod(r.q.QueryRowContext(ctx, `
		SELECT `+methodColumns+` FROM withdrawal_methods WHERE id = $1`+unit(r).forUpdate(), id))
	return m, mapErr(err)
}

func (r methodRepo) ListByOwner(ctx context.Context, owner domain.ID) ([]domain.WithdrawalMethod, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT `+methodColumns+` FROM withdrawal_methods WHERE owner_id = $1 ORDER BY id`, owner)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	var out []domain.WithdrawalMethod
	for rows.Next() {
		m, err := scanMethod(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r methodRepo) Upsert(ctx context.Context, m domain.WithdrawalMethod) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO withdrawal_methods (`+methodColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE
		SET kind = EXCLUDED.kind, destination = EXCLUDED.destination, active = EXCLUDED.active`,
		m.ID, m.OwnerID, m.Kind, m.Destination, m.Active, m.CreatedAt)
	return mapErr(err)
}

// --- audit ---

type auditRepo unit

func (r auditRepo) Append(ctx context.Context, e domain.AuditEvent) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO audit_events (id, type, actor_id, actor_role, ip_address, target_id, message, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8::jsonb, $9)`,
		e.ID, e.Type, e.ActorID, e.ActorRole, e.IPAddress, e.TargetID, e.Message, nullString(e.Metadata), e.CreatedAt)
	return mapErr(err)
}

func (r auditRepo) List(ctx context.Context, limit int) ([]domain.AuditEvent, error) {
	q := newQuery(`SELECT id, type, actor_id, actor_role, ip_address, target_id, message, COALESCE(metadata::text, ''), created_at FROM audit_events`)
	q.tail("ORDER BY created_at DESC, id DESC", limit)

	rows, err := r.q.QueryContext(ctx, q.String(), q.args...)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	var out []domain.AuditEvent
	for rows.Next() {
		var e domain.AuditEvent
		if err := rows.Scan(&e.ID, &e.Type, &e.ActorID, &e.ActorRole, &e.IPAddress, &e.TargetID, &e.Message, &e.Metadata, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// query accumulates AND-ed conditions with positional arguments.
type query struct {
	b      strings.Builder
	conds  []string
	args   []any
	suffix string
}

func newQuery(base string) *query {
	q := &query{}
	q.b.WriteString(base)
	return q
}

func (q *query) where(col string, v any) { q.cond(col+" =", v) }

func (q *query) cond(expr string, v any) {
	q.args = append(q.args, v)
	q.conds = append(q.conds, expr+" $"+strconv.Itoa(len(q.args)))
}

func (q *query) tail(order string, limit int) {
	q.suffix = " " + order
	if limit > 0 {
		q.args = append(q.args, limit)
		q.suffix += " LIMIT $" + strconv.Itoa(len(q.args))
	}
}

func (q *query) String() string {
	s := q.b.String()
	if len(q.conds) > 0 {
		s += " WHERE " + strings.Join(q.conds, " AND ")
	}
	return s + q.suffix
}
