package payments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"djtips-platform/internal/auth"
	"djtips-platform/internal/domain"
	"djtips-platform/internal/ledger"
	"djtips-platform/internal/notify"
	"djtips-platform/internal/rbac"
	"djtips-platform/internal/store"
	"djtips-platform/internal/wallet"
)

// MethodSettings is the reference data Initiate validates against.
type MethodSettings interface {
	PaymentMethodActive(kind string) bool
	SupportsCurrency(code string) bool
}

// Reconciler tracks wallet top-ups through the gateway.
//
// Money invariants:
// - Nothing is stored when initiation fails.
// - A PendingPayment leaves PENDING exactly once, under its row lock.
// - At most one topup transaction exists per PendingPayment, however often
//   the gateway redelivers.
type Reconciler struct {
	store    store.Store
	wallet   *wallet.Service
	ledger   *ledger.Recorder
	gateway  Gateway
	settings MethodSettings
	notifier notify.Notifier
	log      *slog.Logger

	limits         domain.Limits
	callbackURL    string
	gatewayTimeout time.Duration
	onOutcome      func(Outcome)
	clock          func() time.Time
}

type Deps struct {
	Store    store.Store
	Wallet   *wallet.Service
	Ledger   *ledger.Recorder
	Gateway  Gateway
	Settings MethodSettings // optional, nil enables every method
	Notifier notify.Notifier
	Logger   *slog.Logger

	Limits         domain.Limits
	CallbackURL    string
	GatewayTimeout time.Duration
	OnOutcome      func(Outcome)
	Clock          func() time.Time
}

func NewReconciler(d Deps) *Reconciler {
	r := &Reconciler{
		store:          d.Store,
		wallet:         d.Wallet,
		ledger:         d.Ledger,
		gateway:        d.Gateway,
		settings:       d.Settings,
		notifier:       d.Notifier,
		log:            d.Logger,
		limits:         d.Limits,
		callbackURL:    d.CallbackURL,
		gatewayTimeout: d.GatewayTimeout,
		onOutcome:      d.OnOutcome,
		clock:          d.Clock,
	}
	if r.notifier == nil {
		r.notifier = notify.Nop{}
	}
	if r.gateway == nil {
		r.gateway = Unavailable{}
	}
	if r.log == nil {
		r.log = slog.Default()
	}
	if r.gatewayTimeout <= 0 {
		r.gatewayTimeout = 15 * time.Second
	}
	if r.clock == nil {
		r.clock = time.Now
	}
	return r
}

func gatewayErr(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, domain.ErrValidation) {
		return err
	}
	return fmt.Errorf("%w: %v", domain.ErrGateway, err)
}

// Initiate asks the gateway to push a payment prompt to phone and records the
// PENDING payment under the returned correlation id.
func (r *Reconciler) Initiate(ctx context.Context, owner domain.ID, amount int64, phone string) (domain.PendingPayment, error) {
	if owner.IsZero() {
		return domain.PendingPayment{}, domain.Invalid("owner required")
	}
	if err := r.limits.Check(amount); err != nil {
		return domain.PendingPayment{}, err
	}
	if r.settings != nil && !r.settings.PaymentMethodActive(MethodMpesa) {
		return domain.PendingPayment{}, domain.Invalid("payment method %s is not available", MethodMpesa)
	}
	if cur := r.wallet.Currency(); cur != MpesaCurrency || (r.settings != nil && !r.settings.SupportsCurrency(cur)) {
		return domain.PendingPayment{}, domain.Invalid("currency %s is not supported for %s top-ups", cur, MethodMpesa)
	}
	msisdn, err := domain.NormalizeMSISDN(phone)
	if err != nil {
		return domain.PendingPayment{}, err
	}

	id := domain.NewID()
	gctx, cancel := context.WithTimeout(ctx, r.gatewayTimeout)
	res, err := r.gateway.InitiatePayment(gctx, amount, msisdn, r.callbackURL, id.String())
	cancel()
	if err != nil {
		r.log.WarnContext(ctx, "payment initiation failed", "owner_id", owner, "error", err)
		return domain.PendingPayment{}, gatewayErr(err)
	}
	if res.GatewayRequestID == "" {
		return domain.PendingPayment{}, gatewayErr(errors.New("empty correlation id"))
	}

	now := r.clock().UTC()
	p := domain.PendingPayment{
		ID:               id,
		OwnerID:          owner,
		GatewayRequestID: res.GatewayRequestID,
		PhoneRef:         msisdn,
		Amount:           amount,
		Currency:         r.wallet.Currency(),
		Status:           domain.PaymentPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	err = r.store.Atomic(ctx, func(ctx context.Context, u store.Unit) error {
		if _, err := u.Wallets().Ensure(ctx, owner, p.Currency, now); err != nil {
			return err
		}
		return u.Payments().Insert(ctx, p)
	})
	if err != nil {
		// The prompt is already on the phone; its callback will be acknowledged as unknown.
		r.log.ErrorContext(ctx, "pending payment not recorded", "gateway_request_id", res.GatewayRequestID, "error", err)
		return domain.PendingPayment{}, err
	}
	r.log.InfoContext(ctx, "payment initiated", "payment_id", p.ID, "gateway_request_id", p.GatewayRequestID, "amount_minor", amount)
	return p, nil
}

// OnCallback applies an asynchronous confirmation. Redelivery of an already
// applied callback is OutcomeReplay with a nil error.
func (r *Reconciler) OnCallback(ctx context.Context, cb Callback) (Outcome, error) {
	var (
		outcome Outcome
		applied domain.PendingPayment
	)
	err := r.store.Atomic(ctx, func(ctx context.Context, u store.Unit) error {
		p, err := u.Payments().GetByGatewayID(ctx, cb.GatewayRequestID)
		if err != nil {
			return err
		}
		outcome, applied, err = r.settle(ctx, u, p, cb.Succeeded(), cb.ReceiptRef, cb.ResultDesc, cb.AmountMinor)
		return err
	})
	if errors.Is(err, domain.ErrNotFound) {
		outcome = OutcomeUnknown
	}
	r.observe(outcome)
	if err != nil {
		return outcome, err
	}
	r.announce(ctx, outcome, applied)
	return outcome, nil
}

// settle moves a locked payment out of PENDING.
func (r *Reconciler) settle(ctx context.Context, u store.Unit, p domain.PendingPayment, success bool, receipt, desc string, confirmed int64) (Outcome, domain.PendingPayment, error) {
	if p.Status != domain.PaymentPending {
		r.log.InfoContext(ctx, "callback replay ignored", "payment_id", p.ID, "status", p.Status)
		return OutcomeReplay, p, nil
	}
	now := r.clock().UTC()

	if !success {
		if err := u.Payments().UpdateStatus(ctx, p.ID, domain.PaymentPending, domain.PaymentFailed, "", desc, now); err != nil {
			return "", p, err
		}
		p.Status, p.ResultDesc, p.UpdatedAt = domain.PaymentFailed, desc, now
		return OutcomeFailed, p, nil
	}

	done, err := r.ledger.ExistsFor(ctx, u, p.ID, domain.TxTopup)
	if err != nil {
		return "", p, err
	}
	if done {
		return OutcomeReplay, p, nil
	}

	amount := p.Amount
	if confirmed > 0 {
		if confirmed != p.Amount {
			r.log.WarnContext(ctx, "confirmed amount differs from initiated", "payment_id", p.ID, "initiated_minor", p.Amount, "confirmed_minor", confirmed)
		}
		amount = confirmed
	}
	if _, err := r.wallet.Post(ctx, u, wallet.Posting{
		OwnerID:        p.OwnerID,
		Type:           domain.TxTopup,
		Delta:          amount,
		RelatedID:      p.ID,
		IdempotencyKey: ledger.Key("payment", p.ID, "completion"),
		Description:    "M-Pesa top-up " + receipt,
	}); err != nil {
		return "", p, err
	}
	if err := u.Payments().UpdateStatus(ctx, p.ID, domain.PaymentPending, domain.PaymentCompleted, receipt, desc, now); err != nil {
		return "", p, err
	}
	p.Status, p.ReceiptRef, p.ResultDesc, p.UpdatedAt = domain.PaymentCompleted, receipt, desc, now
	p.Amount = amount
	return OutcomeCredited, p, nil
}

func (r *Reconciler) observe(o Outcome) {
	if r.onOutcome != nil && o != "" {
		r.onOutcome(o)
	}
}

func (r *Reconciler) announce(ctx context.Context, o Outcome, p domain.PendingPayment) {
	payload := map[string]any{"payment_id": p.ID, "amount_minor": p.Amount, "receipt_ref": p.ReceiptRef}
	switch o {
	case OutcomeCredited:
		r.log.InfoContext(ctx, "payment completed", "payment_id", p.ID, "amount_minor", p.Amount)
		r.notifier.Notify(ctx, p.OwnerID, notify.EventPaymentCompleted, payload)
	case OutcomeFailed:
		r.log.InfoContext(ctx, "payment failed", "payment_id", p.ID, "result_desc", p.ResultDesc)
		r.notifier.Notify(ctx, p.OwnerID, notify.EventPaymentFailed, payload)
	}
}

// Query reports the payment status, asking the gateway while it is still PENDING.
func (r *Reconciler) Query(ctx context.Context, actor auth.Principal, gatewayRequestID string) (domain.PendingPayment, error) {
	p, err := r.get(ctx, actor, gatewayRequestID)
	if err != nil || p.Status != domain.PaymentPending {
		return p, err
	}

	gctx, cancel := context.WithTimeout(ctx, r.gatewayTimeout)
	res, err := r.gateway.QueryPayment(gctx, gatewayRequestID)
	cancel()
	if err != nil {
		return domain.PendingPayment{}, gatewayErr(err)
	}
	if res.State == StatePending {
		return p, nil
	}

	var (
		outcome Outcome
		applied domain.PendingPayment
	)
	err = r.store.Atomic(ctx, func(ctx context.Context, u store.Unit) error {
		cur, err := u.Payments().Get(ctx, p.ID)
		if err != nil {
			return err
		}
		outcome, applied, err = r.settle(ctx, u, cur, res.State == StateSucceeded, res.ReceiptRef, res.ResultDesc, 0)
		return err
	})
	if err != nil {
		return domain.PendingPayment{}, err
	}
	r.observe(outcome)
	r.announce(ctx, outcome, applied)
	return applied, nil
}

// Cancel abandons a PENDING payment. A success callback arriving later is a replay.
func (r *Reconciler) Cancel(ctx context.Context, actor auth.Principal, gatewayRequestID string) (domain.PendingPayment, error) {
	var out domain.PendingPayment
	err := r.store.Atomic(ctx, func(ctx context.Context, u store.Unit) error {
		p, err := u.Payments().GetByGatewayID(ctx, gatewayRequestID)
		if err != nil {
			return err
		}
		if p.OwnerID != actor.ID && !rbac.IsAdmin(actor.Role) {
			return domain.ErrNotFound
		}
		if p.Status != domain.PaymentPending {
			return domain.ErrAlreadyProcessed
		}
		now := r.clock().UTC()
		if err := u.Payments().UpdateStatus(ctx, p.ID, domain.PaymentPending, domain.PaymentCancelled, "", "cancelled by user", now); err != nil {
			return err
		}
		p.Status, p.ResultDesc, p.UpdatedAt = domain.PaymentCancelled, "cancelled by user", now
		out = p
		return nil
	})
	if err != nil {
		return domain.PendingPayment{}, err
	}
	r.log.InfoContext(ctx, "payment cancelled", "payment_id", out.ID)
	return out, nil
}

func (r *Reconciler) get(ctx context.Context, actor auth.Principal, gatewayRequestID string) (domain.PendingPayment, error) {
	var p domain.PendingPayment
	err := r.store.View(ctx, func(ctx context.Context, u store.Unit) error {
		var err error
		p, err = u.Payments().GetByGatewayID(ctx, gatewayRequestID)
		return err
	})
	if err != nil {
		return domain.PendingPayment{}, err
	}
	if p.OwnerID != actor.ID && !rbac.IsAdmin(actor.Role) {
		return domain.PendingPayment{}, domain.ErrNotFound
	}
	return p, nil
}

func (r *Reconciler) List(ctx context.Context, owner domain.ID, limit int) ([]domain.PendingPayment, error) {
	var out []domain.PendingPayment
	err := r.store.View(ctx, func(ctx context.Context, u store.Unit) error {
		var err error
		out, err = u.Payments().ListByOwner(ctx, owner, limit)
		return err
	})
	return out, err
}
