package wallet

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"djtips-platform/internal/audit"
	"djtips-platform/internal/auth"
	"djtips-platform/internal/domain"
	"djtips-platform/internal/ledger"
	"djtips-platform/internal/store"
	"djtips-platform/internal/store/memory"
)

func newTestService() (*Service, *memory.Store) {
	st := memory.New()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	svc := NewService(st, ledger.NewRecorder(ledger.WithClock(clock)), audit.NewService(), "KES").WithClock(clock)
	return svc, st
}

func assertBalanceMatchesLedger(t *testing.T, svc *Service, st *memory.Store, owner domain.ID) {
	t.Helper()
	var sum int64
	for _, tx := range st.Transactions() {
		if tx.OwnerID == owner {
			sum += tx.Amount
		}
	}
	bal, err := svc.GetBalance(context.Background(), owner)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if bal.BalanceMinor != sum {
		t.Fatalf("balance %d != ledger sum %d", bal.BalanceMinor, sum)
	}
}

func TestGetBalance_CreatesEmptyWallet(t *testing.T) {
	svc, _ := newTestService()
	owner := domain.NewID()

	bal, err := svc.GetBalance(context.Background(), owner)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if bal.BalanceMinor != 0 || bal.Currency != "KES" || bal.OwnerID != owner {
		t.Fatalf("unexpected balance %+v", bal)
	}
}

func TestCreditDebit(t *testing.T) {
	svc, st := newTestService()
	ctx := context.Background()
	owner := domain.NewID()

	if _, err := svc.Credit(ctx, owner, 500, "c1"); err != nil {
		t.Fatalf("credit: %v", err)
	}
	r, err := svc.Debit(ctx, owner, 200, "d1")
	if err != nil {
		t.Fatalf("debit: %v", err)
	}
	if r.Balance.BalanceMinor != 300 {
		t.Fatalf("expected 300, got %d", r.Balance.BalanceMinor)
	}
	if r.Transaction.Amount != -200 || r.Transaction.Type != domain.TxDebit {
		t.Fatalf("unexpected transaction %+v", r.Transaction)
	}
	assertBalanceMatchesLedger(t, svc, st, owner)
}

func TestCreditDebit_RejectInvalidAmounts(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	owner := domain.NewID()

	for _, amt := range []int64{0, -1} {
		if _, err := svc.Credit(ctx, owner, amt, "k"); !errors.Is(err, domain.ErrValidation) {
			t.Fatalf("credit %d: expected ErrValidation, got %v", amt, err)
		}
		if _, err := svc.Debit(ctx, owner, amt, "k"); !errors.Is(err, domain.ErrValidation) {
			t.Fatalf("debit %d: expected ErrValidation, got %v", amt, err)
		}
	}
	if _, err := svc.Credit(ctx, owner, 10, ""); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation for missing key, got %v", err)
	}
}

func TestDebit_InsufficientFundsLeavesNoTrace(t *testing.T) {
	svc, st := newTestService()
	ctx := context.Background()
	owner := domain.NewID()

	if _, err := svc.Credit(ctx, owner, 100, "c1"); err != nil {
		t.Fatalf("credit: %v", err)
	}
	_, err := svc.Debit(ctx, owner, 101, "d1")
	var ife *domain.InsufficientFundsError
	if !errors.As(err, &ife) {
		t.Fatalf("expected InsufficientFundsError, got %v", err)
	}
	if ife.Balance != 100 || ife.Requested != 101 {
		t.Fatalf("unexpected error detail %+v", ife)
	}
	if n := len(st.Transactions()); n != 1 {
		t.Fatalf("expected only the credit in the ledger, got %d entries", n)
	}
	assertBalanceMatchesLedger(t, svc, st, owner)
}

func TestPost_IdempotentReplay(t *testing.T) {
	svc, st := newTestService()
	ctx := context.Background()
	owner := domain.NewID()

	first, err := svc.Credit(ctx, owner, 250, "topup-1")
	if err != nil {
		t.Fatalf("credit: %v", err)
	}
	second, err := svc.Credit(ctx, owner, 250, "topup-1")
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if !second.Replayed || second.Transaction.ID != first.Transaction.ID {
		t.Fatalf("expected replay of %s, got %+v", first.Transaction.ID, second)
	}
	if second.Balance.BalanceMinor != 250 {
		t.Fatalf("expected balance unchanged at 250, got %d", second.Balance.BalanceMinor)
	}
	assertBalanceMatchesLedger(t, svc, st, owner)
}

func TestPost_KeyReusedForDifferentPosting(t *testing.T) {
	svc, st := newTestService()
	ctx := context.Background()
	owner := domain.NewID()

	if _, err := svc.Credit(ctx, owner, 100, "k1"); err != nil {
		t.Fatalf("credit: %v", err)
	}
	r, err := svc.Debit(ctx, owner, 40, "k1")
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v (%+v)", err, r)
	}
	if _, err := svc.Credit(ctx, owner, 90, "k1"); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation for a different amount, got %v", err)
	}

	bal, err := svc.GetBalance(ctx, owner)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if bal.BalanceMinor != 100 {
		t.Fatalf("expected balance 100, got %d", bal.BalanceMinor)
	}
	if n := len(st.Transactions()); n != 1 {
		t.Fatalf("expected 1 transaction, got %d", n)
	}
	assertBalanceMatchesLedger(t, svc, st, owner)
}

func TestPost_RollsBackWithUnit(t *testing.T) {
	svc, st := newTestService()
	ctx := context.Background()
	owner := domain.NewID()
	boom := errors.New("boom")

	err := st.Atomic(ctx, func(ctx context.Context, u store.Unit) error {
		if _, err := svc.Post(ctx, u, Posting{OwnerID: owner, Type: domain.TxCredit, Delta: 900, IdempotencyKey: "k"}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	bal, _ := svc.GetBalance(ctx, owner)
	if bal.BalanceMinor != 0 || len(st.Transactions()) != 0 {
		t.Fatalf("expected nothing committed, balance=%d entries=%d", bal.BalanceMinor, len(st.Transactions()))
	}
}

func TestDebit_ConcurrentNeverOverdraws(t *testing.T) {
	svc, st := newTestService()
	ctx := context.Background()
	owner := domain.NewID()
	if _, err := svc.Credit(ctx, owner, 1000, "seed"); err != nil {
		t.Fatalf("credit: %v", err)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	ok := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := svc.Debit(ctx, owner, 100, "d-"+string(rune('a'+i))); err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	if ok != 10 {
		t.Fatalf("expected exactly 10 successful debits, got %d", ok)
	}
	bal, _ := svc.GetBalance(ctx, owner)
	if bal.BalanceMinor != 0 {
		t.Fatalf("expected 0, got %d", bal.BalanceMinor)
	}
	assertBalanceMatchesLedger(t, svc, st, owner)
}

func TestAdminAdjust(t *testing.T) {
	svc, st := newTestService()
	ctx := context.Background()
	owner := domain.NewID()
	admin := auth.Principal{ID: domain.NewID(), Role: "admin"}

	r, err := svc.AdminAdjust(ctx, admin, AdjustRequest{OwnerID: owner, DeltaMinor: -300, Reason: "chargeback", IdempotencyKey: "cb-1"})
	if err != nil {
		t.Fatalf("adjust: %v", err)
	}
	if r.Balance.BalanceMinor != -300 || r.Transaction.Type != domain.TxAdjustment {
		t.Fatalf("unexpected result %+v", r)
	}

	evs, err := audit.NewService().Recent(ctx, st, 0)
	if err != nil {
		t.Fatalf("audit: %v", err)
	}
	if len(evs) != 1 || evs[0].Type != domain.AuditWalletAdjusted || evs[0].TargetID != owner {
		t.Fatalf("expected one wallet_adjusted event, got %+v", evs)
	}

	// replay writes neither ledger nor audit
	if _, err := svc.AdminAdjust(ctx, admin, AdjustRequest{OwnerID: owner, DeltaMinor: -300, Reason: "chargeback", IdempotencyKey: "cb-1"}); err != nil {
		t.Fatalf("replay: %v", err)
	}
	evs, _ = audit.NewService().Recent(ctx, st, 0)
	if len(evs) != 1 || len(st.Transactions()) != 1 {
		t.Fatalf("expected replay to be a no-op")
	}
	assertBalanceMatchesLedger(t, svc, st, owner)
}

func TestAdminAdjust_RequiresAdmin(t *testing.T) {
	svc, _ := newTestService()
	dj := auth.Principal{ID: domain.NewID(), Role: "dj"}

	_, err := svc.AdminAdjust(context.Background(), dj, AdjustRequest{OwnerID: dj.ID, DeltaMinor: 100, Reason: "x", IdempotencyKey: "k"})
	if !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}
