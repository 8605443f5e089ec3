package requests

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"djtips-platform/internal/audit"
	"djtips-platform/internal/auth"
	"djtips-platform/internal/catalog"
	"djtips-platform/internal/domain"
	"djtips-platform/internal/dupguard"
	"djtips-platform/internal/ledger"
	"djtips-platform/internal/store/memory"
	"djtips-platform/internal/wallet"
)

type fixture struct {
	st     *memory.Store
	wallet *wallet.Service
	svc    *Service
	now    time.Time

	user auth.Principal
	dj   auth.Principal
}

type failingCatalog struct{ catalog.Catalog }

func (failingCatalog) Lookup(context.Context, string) (catalog.Track, error) {
	return catalog.Track{}, errors.New("provider down")
}

func newFixture(t *testing.T, cat catalog.Catalog) *fixture {
	t.Helper()
	f := &fixture{
		st:   memory.New(),
		now:  time.Date(2026, 6, 12, 22, 0, 0, 0, time.UTC),
		user: auth.Principal{ID: domain.NewID(), Role: "user"},
		dj:   auth.Principal{ID: domain.NewID(), Role: "dj"},
	}
	clock := func() time.Time { return f.now }
	rec := ledger.NewRecorder(ledger.WithClock(clock))
	f.wallet = wallet.NewService(f.st, rec, audit.NewService(), "KES").WithClock(clock)
	f.svc = NewService(Deps{
		Store:   f.st,
		Wallet:  f.wallet,
		Ledger:  rec,
		Guard:   dupguard.New(dupguard.WithClock(clock)),
		Catalog: cat,
		Limits:  domain.Limits{Min: 10, Max: 100000},
		Clock:   clock,
	})
	return f
}

func (f *fixture) fund(t *testing.T, owner domain.ID, amount int64) {
	t.Helper()
	if _, err := f.wallet.Credit(context.Background(), owner, amount, "seed-"+owner.String()); err != nil {
		t.Fatalf("fund: %v", err)
	}
}

func (f *fixture) balance(t *testing.T, owner domain.ID) int64 {
	t.Helper()
	b, err := f.wallet.GetBalance(context.Background(), owner)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	return b.BalanceMinor
}

func (f *fixture) txFor(related domain.ID) []domain.Transaction {
	var out []domain.Transaction
	for _, tx := range f.st.Transactions() {
		if tx.RelatedID == related {
			out = append(out, tx)
		}
	}
	return out
}

func (f *fixture) assertLedgerConsistent(t *testing.T) {
	t.Helper()
	sums := map[domain.ID]int64{}
	for _, tx := range f.st.Transactions() {
		sums[tx.OwnerID] += tx.Amount
	}
	for owner, sum := range sums {
		if got := f.balance(t, owner); got != sum {
			t.Fatalf("owner %s: balance %d != ledger sum %d", owner, got, sum)
		}
	}
}

func (f *fixture) create(t *testing.T, song string, amount int64) domain.SongRequest {
	t.Helper()
	r, err := f.svc.Create(context.Background(), CreateRequest{RequesterID: f.user.ID, DJID: f.dj.ID, SongRef: song, AmountMinor: amount})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return r
}

func TestCreateAccept(t *testing.T) {
	f := newFixture(t, catalog.NewStatic(catalog.Track{ID: "trk-1", Title: "Sura Yako", ArtistName: "Sauti Sol"}))
	f.fund(t, f.user.ID, 50)

	r := f.create(t, "trk-1", 20)
	if r.Status != domain.RequestPending || r.SongTitle != "Sura Yako" {
		t.Fatalf("unexpected request %+v", r)
	}
	if got := f.balance(t, f.user.ID); got != 30 {
		t.Fatalf("expected requester balance 30, got %d", got)
	}

	done, err := f.svc.Accept(context.Background(), f.dj, r.ID)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if done.Status != domain.RequestCompleted || done.CompletedAt == nil {
		t.Fatalf("unexpected request %+v", done)
	}
	if got := f.balance(t, f.dj.ID); got != 20 {
		t.Fatalf("expected dj balance 20, got %d", got)
	}
	if got := f.balance(t, f.user.ID); got != 30 {
		t.Fatalf("expected requester balance to stay 30, got %d", got)
	}
	f.assertLedgerConsistent(t)
}

func TestCreateReject_RefundsOnce(t *testing.T) {
	f := newFixture(t, nil)
	f.fund(t, f.user.ID, 50)
	r := f.create(t, "trk-1", 20)

	done, err := f.svc.Reject(context.Background(), f.dj, r.ID)
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if done.Status != domain.RequestRejected {
		t.Fatalf("expected REJECTED, got %s", done.Status)
	}
	if got := f.balance(t, f.user.ID); got != 50 {
		t.Fatalf("expected balance back to 50, got %d", got)
	}
	refunds := 0
	for _, tx := range f.txFor(r.ID) {
		if tx.Type == domain.TxRefund {
			refunds++
			if tx.Amount != 20 {
				t.Fatalf("expected refund of 20, got %d", tx.Amount)
			}
		}
	}
	if refunds != 1 {
		t.Fatalf("expected exactly one refund, got %d", refunds)
	}
	f.assertLedgerConsistent(t)
}

func TestAcceptTwice_AlreadyProcessed(t *testing.T) {
	f := newFixture(t, nil)
	f.fund(t, f.user.ID, 100)
	r := f.create(t, "trk-1", 40)

	if _, err := f.svc.Accept(context.Background(), f.dj, r.ID); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if _, err := f.svc.Accept(context.Background(), f.dj, r.ID); !errors.Is(err, domain.ErrAlreadyProcessed) {
		t.Fatalf("expected ErrAlreadyProcessed, got %v", err)
	}
	if _, err := f.svc.Reject(context.Background(), f.dj, r.ID); !errors.Is(err, domain.ErrAlreadyProcessed) {
		t.Fatalf("expected ErrAlreadyProcessed on reject after accept, got %v", err)
	}
	if got := f.balance(t, f.dj.ID); got != 40 {
		t.Fatalf("expected dj balance 40, got %d", got)
	}
	if n := len(f.txFor(r.ID)); n != 2 {
		t.Fatalf("expected debit + credit only, got %d transactions", n)
	}
}

func TestConcurrentAccepts_SingleCredit(t *testing.T) {
	f := newFixture(t, nil)
	f.fund(t, f.user.ID, 100)
	r := f.create(t, "trk-1", 25)

	var wg sync.WaitGroup
	var mu sync.Mutex
	var ok, already int
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Accept(context.Background(), f.dj, r.ID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, domain.ErrAlreadyProcessed):
				already++
			default:
				t.Errorf("unexpected err: %v", err)
			}
		}()
	}
	wg.Wait()

	if ok != 1 || already != 15 {
		t.Fatalf("expected 1 success and 15 AlreadyProcessed, got %d/%d", ok, already)
	}
	if got := f.balance(t, f.dj.ID); got != 25 {
		t.Fatalf("expected dj balance 25, got %d", got)
	}
	f.assertLedgerConsistent(t)
}

func TestCancel(t *testing.T) {
	f := newFixture(t, nil)
	f.fund(t, f.user.ID, 100)
	r := f.create(t, "trk-1", 30)

	if _, err := f.svc.Cancel(context.Background(), f.dj, r.ID); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected dj cancel to be forbidden, got %v", err)
	}
	done, err := f.svc.Cancel(context.Background(), f.user, r.ID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if done.Status != domain.RequestCancelled {
		t.Fatalf("expected CANCELLED, got %s", done.Status)
	}
	if got := f.balance(t, f.user.ID); got != 100 {
		t.Fatalf("expected full refund, got %d", got)
	}
	if _, err := f.svc.Accept(context.Background(), f.dj, r.ID); !errors.Is(err, domain.ErrAlreadyProcessed) {
		t.Fatalf("expected ErrAlreadyProcessed, got %v", err)
	}
}

func TestAccept_WrongDJForbidden(t *testing.T) {
	f := newFixture(t, nil)
	f.fund(t, f.user.ID, 100)
	r := f.create(t, "trk-1", 30)

	other := auth.Principal{ID: domain.NewID(), Role: "dj"}
	if _, err := f.svc.Accept(context.Background(), other, r.ID); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if _, err := f.svc.Accept(context.Background(), f.dj, domain.NewID()); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCreate_DuplicateWithinWindow(t *testing.T) {
	f := newFixture(t, nil)
	f.fund(t, f.user.ID, 100)
	first := f.create(t, "trk-1", 20)

	_, err := f.svc.Create(context.Background(), CreateRequest{RequesterID: f.user.ID, DJID: f.dj.ID, SongRef: "trk-1", AmountMinor: 20})
	var dup *domain.DuplicateRequestError
	if !errors.As(err, &dup) || dup.ExistingID != first.ID {
		t.Fatalf("expected duplicate of %s, got %v", first.ID, err)
	}
	if got := f.balance(t, f.user.ID); got != 80 {
		t.Fatalf("expected a single debit, balance %d", got)
	}

	// completed still counts inside the window
	if _, err := f.svc.Accept(context.Background(), f.dj, first.ID); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if _, err := f.svc.Create(context.Background(), CreateRequest{RequesterID: f.user.ID, DJID: f.dj.ID, SongRef: "trk-1", AmountMinor: 20}); !errors.Is(err, domain.ErrDuplicateRequest) {
		t.Fatalf("expected ErrDuplicateRequest, got %v", err)
	}

	// outside the window it is allowed again
	f.now = f.now.Add(61 * time.Minute)
	if _, err := f.svc.Create(context.Background(), CreateRequest{RequesterID: f.user.ID, DJID: f.dj.ID, SongRef: "trk-1", AmountMinor: 20}); err != nil {
		t.Fatalf("expected create after window, got %v", err)
	}
}

func TestCreate_ConcurrentSameSong_SingleDebit(t *testing.T) {
	f := newFixture(t, nil)
	f.fund(t, f.user.ID, 1000)

	var wg sync.WaitGroup
	var mu sync.Mutex
	var ok, dup int
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Create(context.Background(), CreateRequest{RequesterID: f.user.ID, DJID: f.dj.ID, SongRef: "trk-1", AmountMinor: 50})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, domain.ErrDuplicateRequest):
				dup++
			default:
				t.Errorf("unexpected err: %v", err)
			}
		}()
	}
	wg.Wait()

	if ok != 1 || dup != 11 {
		t.Fatalf("expected 1 success and 11 duplicates, got %d/%d", ok, dup)
	}
	debits := 0
	for _, tx := range f.st.Transactions() {
		if tx.OwnerID == f.user.ID && tx.Type == domain.TxDebit {
			debits++
		}
	}
	if debits != 1 {
		t.Fatalf("expected exactly one debit, got %d", debits)
	}
	if got := f.balance(t, f.user.ID); got != 950 {
		t.Fatalf("expected balance 950, got %d", got)
	}
	f.assertLedgerConsistent(t)
}

func TestCreate_PendingDuplicateBlockedAfterWindow(t *testing.T) {
	f := newFixture(t, nil)
	f.fund(t, f.user.ID, 100)
	first := f.create(t, "trk-1", 20)

	// still PENDING when the recent-request window has passed
	f.now = f.now.Add(61 * time.Minute)
	_, err := f.svc.Create(context.Background(), CreateRequest{RequesterID: f.user.ID, DJID: f.dj.ID, SongRef: "trk-1", AmountMinor: 20})
	var dup *domain.DuplicateRequestError
	if !errors.As(err, &dup) || dup.ExistingID != first.ID {
		t.Fatalf("expected duplicate of %s, got %v", first.ID, err)
	}
	if got := f.balance(t, f.user.ID); got != 80 {
		t.Fatalf("expected balance unchanged at 80, got %d", got)
	}
	if n := len(f.txFor(first.ID)); n != 1 {
		t.Fatalf("expected only the first debit, got %d entries", n)
	}
	f.assertLedgerConsistent(t)
}

func TestCreate_InsufficientFundsLeavesNothing(t *testing.T) {
	f := newFixture(t, nil)
	f.fund(t, f.user.ID, 10)

	_, err := f.svc.Create(context.Background(), CreateRequest{RequesterID: f.user.ID, DJID: f.dj.ID, SongRef: "trk-1", AmountMinor: 50})
	if !errors.Is(err, domain.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	list, _ := f.svc.ListForRequester(context.Background(), f.user.ID, 0)
	if len(list) != 0 {
		t.Fatalf("expected no request stored, got %d", len(list))
	}
	if got := f.balance(t, f.user.ID); got != 10 {
		t.Fatalf("expected balance unchanged, got %d", got)
	}
}

func TestCreate_Validation(t *testing.T) {
	f := newFixture(t, nil)
	f.fund(t, f.user.ID, 1000)
	ctx := context.Background()

	cases := []CreateRequest{
		{RequesterID: f.user.ID, DJID: f.dj.ID, SongRef: "trk", AmountMinor: 0},
		{RequesterID: f.user.ID, DJID: f.dj.ID, SongRef: "trk", AmountMinor: -5},
		{RequesterID: f.user.ID, DJID: f.dj.ID, SongRef: "trk", AmountMinor: 5},
		{RequesterID: f.user.ID, DJID: f.dj.ID, SongRef: "  ", AmountMinor: 50},
		{RequesterID: f.user.ID, DJID: f.user.ID, SongRef: "trk", AmountMinor: 50},
	}
	for i, c := range cases {
		if _, err := f.svc.Create(ctx, c); !errors.Is(err, domain.ErrValidation) {
			t.Fatalf("case %d: expected ErrValidation, got %v", i, err)
		}
	}
}

func TestCreate_CatalogFailureTolerated(t *testing.T) {
	f := newFixture(t, failingCatalog{})
	f.fund(t, f.user.ID, 100)

	r, err := f.svc.Create(context.Background(), CreateRequest{RequesterID: f.user.ID, DJID: f.dj.ID, SongRef: "trk-9", SongTitle: "Melody", AmountMinor: 20})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if r.SongTitle != "Melody" {
		t.Fatalf("expected client title to be kept, got %q", r.SongTitle)
	}
}

func TestGetAndList(t *testing.T) {
	f := newFixture(t, nil)
	f.fund(t, f.user.ID, 100)
	r1 := f.create(t, "trk-1", 20)
	f.now = f.now.Add(time.Minute)
	r2 := f.create(t, "trk-2", 20)
	if _, err := f.svc.Accept(context.Background(), f.dj, r1.ID); err != nil {
		t.Fatalf("accept: %v", err)
	}

	pending, err := f.svc.ListForDJ(context.Background(), f.dj.ID, domain.RequestPending, 0)
	if err != nil || len(pending) != 1 || pending[0].ID != r2.ID {
		t.Fatalf("unexpected pending queue %+v %v", pending, err)
	}
	mine, _ := f.svc.ListForRequester(context.Background(), f.user.ID, 0)
	if len(mine) != 2 || mine[0].ID != r2.ID {
		t.Fatalf("expected newest first, got %+v", mine)
	}

	stranger := auth.Principal{ID: domain.NewID(), Role: "user"}
	if _, err := f.svc.Get(context.Background(), stranger, r1.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for stranger, got %v", err)
	}
	if got, err := f.svc.Get(context.Background(), f.dj, r1.ID); err != nil || got.Status != domain.RequestCompleted {
		t.Fatalf("unexpected get %+v %v", got, err)
	}
}
