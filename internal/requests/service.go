package requests

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"djtips-platform/internal/auth"
	"djtips-platform/internal/catalog"
	"djtips-platform/internal/domain"
	"djtips-platform/internal/dupguard"
	"djtips-platform/internal/ledger"
	"djtips-platform/internal/notify"
	"djtips-platform/internal/rbac"
	"djtips-platform/internal/store"
	"djtips-platform/internal/wallet"
)

const maxMessageLen = 280

// Service runs the song-request lifecycle.
//
// Money invariants:
// - Create debits the requester and inserts the PENDING request in one unit.
// - A request leaves PENDING exactly once, together with exactly one crediting
//   transaction: credit to the DJ (accept) or refund to the requester (reject/cancel).
type Service struct {
	store    store.Store
	wallet   *wallet.Service
	ledger   *ledger.Recorder
	guard    *dupguard.Guard
	catalog  catalog.Catalog
	notifier notify.Notifier
	log      *slog.Logger

	limits        domain.Limits
	lookupTimeout time.Duration
	onTransition  func(to domain.RequestStatus)

	clock func() time.Time
	newID func() domain.ID
}

type Deps struct {
	Store    store.Store
	Wallet   *wallet.Service
	Ledger   *ledger.Recorder
	Guard    *dupguard.Guard
	Catalog  catalog.Catalog // optional
	Notifier notify.Notifier // optional
	Logger   *slog.Logger

	Limits        domain.Limits
	LookupTimeout time.Duration

	// OnTransition observes committed status changes (metrics). Optional.
	OnTransition func(to domain.RequestStatus)
	Clock        func() time.Time
}

func NewService(d Deps) *Service {
	s := &Service{
		store:         d.Store,
		wallet:        d.Wallet,
		ledger:        d.Ledger,
		guard:         d.Guard,
		catalog:       d.Catalog,
		notifier:      d.Notifier,
		log:           d.Logger,
		limits:        d.Limits,
		lookupTimeout: d.LookupTimeout,
		onTransition:  d.OnTransition,
		clock:         d.Clock,
		newID:         domain.NewID,
	}
	if s.guard == nil {
		s.guard = dupguard.New()
	}
	if s.notifier == nil {
		s.notifier = notify.Nop{}
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	if s.lookupTimeout <= 0 {
		s.lookupTimeout = 2 * time.Second
	}
	if s.clock == nil {
		s.clock = time.Now
	}
	return s
}

type CreateRequest struct {
	RequesterID domain.ID `json:"-"`
	DJID        domain.ID `json:"dj_id"`
	SongRef     string    `json:"song_ref"`
	SongTitle   string    `json:"song_title,omitempty"`
	ArtistName  string    `json:"artist_name,omitempty"`
	AmountMinor int64     `json:"amount_minor"`
	Message     string    `json:"message,omitempty"`
}

func (r CreateRequest) validate(limits domain.Limits) error {
	if r.RequesterID.IsZero() || r.DJID.IsZero() {
		return domain.Invalid("requester and dj are required")
	}
	if r.RequesterID == r.DJID {
		return domain.Invalid("cannot send a request to yourself")
	}
	if dupguard.NormalizeRef(r.SongRef) == "" {
		return domain.Invalid("song_ref is required")
	}
	if len(r.Message) > maxMessageLen {
		return domain.Invalid("message longer than %d characters", maxMessageLen)
	}
	return limits.Check(r.AmountMinor)
}

// Create funds a new PENDING request from the requester's wallet.
func (s *Service) Create(ctx context.Context, in CreateRequest) (domain.SongRequest, error) {
	if err := in.validate(s.limits); err != nil {
		return domain.SongRequest{}, err
	}
	songRef := dupguard.NormalizeRef(in.SongRef)

	release, err := s.guard.Hold(ctx, in.RequesterID, in.DJID, songRef)
	if err != nil {
		return domain.SongRequest{}, err
	}
	defer release()

	title, artist := s.describe(ctx, songRef, in.SongTitle, in.ArtistName)

	req := domain.SongRequest{
		ID:          s.newID(),
		RequesterID: in.RequesterID,
		DJID:        in.DJID,
		SongRef:     songRef,
		SongTitle:   title,
		ArtistName:  artist,
		Amount:      in.AmountMinor,
		Currency:    s.wallet.Currency(),
		Status:      domain.RequestPending,
		Message:     strings.TrimSpace(in.Message),
	}

	err = s.store.Atomic(ctx, func(ctx context.Context, u store.Unit) error {
		if err := s.guard.Check(ctx, u, req.RequesterID, req.DJID, req.SongRef); err != nil {
			return err
		}
		req.CreatedAt = s.clock().UTC()
		if _, err := s.wallet.Post(ctx, u, wallet.Posting{
			OwnerID:        req.RequesterID,
			Type:           domain.TxDebit,
			Delta:          -req.Amount,
			RelatedID:      req.ID,
			IdempotencyKey: ledger.Key("request", req.ID, "debit"),
			Description:    "song request: " + req.SongTitle,
		}); err != nil {
			return err
		}
		return u.Requests().Insert(ctx, req)
	})
	if err != nil {
		return domain.SongRequest{}, err
	}

	s.committed(domain.RequestPending)
	s.log.InfoContext(ctx, "song request created", "request_id", req.ID, "dj_id", req.DJID, "amount_minor", req.Amount)
	s.notifier.Notify(ctx, req.DJID, notify.EventRequestCreated, payload(req))
	return req, nil
}

// describe resolves display fields from the catalog. Catalog failure is tolerated.
func (s *Service) describe(ctx context.Context, songRef, title, artist string) (string, string) {
	title, artist = strings.TrimSpace(title), strings.TrimSpace(artist)
	if s.catalog != nil {
		lctx, cancel := context.WithTimeout(ctx, s.lookupTimeout)
		defer cancel()
		t, err := s.catalog.Lookup(lctx, songRef)
		if err == nil {
			return t.Title, t.ArtistName
		}
		s.log.WarnContext(ctx, "catalog lookup failed", "song_ref", songRef, "error", err)
	}
	if title == "" {
		title = songRef
	}
	return title, artist
}

// Accept completes the request and pays the DJ the full amount.
func (s *Service) Accept(ctx context.Context, actor auth.Principal, id domain.ID) (domain.SongRequest, error) {
	req, err := s.transition(ctx, id, domain.RequestCompleted, func(r domain.SongRequest) error {
		if r.DJID != actor.ID {
			return domain.ErrForbidden
		}
		return nil
	})
	if err != nil {
		return domain.SongRequest{}, err
	}
	s.notifier.Notify(ctx, req.RequesterID, notify.EventRequestAccepted, payload(req))
	return req, nil
}

// Reject refunds the requester. The addressed DJ or an admin may reject.
func (s *Service) Reject(ctx context.Context, actor auth.Principal, id domain.ID) (domain.SongRequest, error) {
	req, err := s.transition(ctx, id, domain.RequestRejected, func(r domain.SongRequest) error {
		if r.DJID != actor.ID && !rbac.IsAdmin(actor.Role) {
			return domain.ErrForbidden
		}
		return nil
	})
	if err != nil {
		return domain.SongRequest{}, err
	}
	s.notifier.Notify(ctx, req.RequesterID, notify.EventRequestRejected, payload(req))
	return req, nil
}

// Cancel lets the requester withdraw a PENDING request for a refund.
func (s *Service) Cancel(ctx context.Context, actor auth.Principal, id domain.ID) (domain.SongRequest, error) {
	req, err := s.transition(ctx, id, domain.RequestCancelled, func(r domain.SongRequest) error {
		if r.RequesterID != actor.ID {
			return domain.ErrForbidden
		}
		return nil
	})
	if err != nil {
		return domain.SongRequest{}, err
	}
	s.notifier.Notify(ctx, req.DJID, notify.EventRequestCancelled, payload(req))
	return req, nil
}

// transition is the single path out of PENDING. Under the row lock it checks the
// status, refuses when the crediting transaction already exists, posts it and
// writes the new status.
func (s *Service) transition(ctx context.Context, id domain.ID, to domain.RequestStatus, authorize func(domain.SongRequest) error) (domain.SongRequest, error) {
	var out domain.SongRequest
	err := s.store.Atomic(ctx, func(ctx context.Context, u store.Unit) error {
		req, err := u.Requests().Get(ctx, id)
		if err != nil {
			return err
		}
		if err := authorize(req); err != nil {
			return err
		}
		if req.Status != domain.RequestPending {
			return domain.ErrAlreadyProcessed
		}

		p := wallet.Posting{Delta: req.Amount, RelatedID: req.ID}
		switch to {
		case domain.RequestCompleted:
			p.OwnerID, p.Type = req.DJID, domain.TxCredit
			p.IdempotencyKey = ledger.Key("request", req.ID, "fulfillment")
			p.Description = "song request fulfilled: " + req.SongTitle
		default:
			p.OwnerID, p.Type = req.RequesterID, domain.TxRefund
			p.IdempotencyKey = ledger.Key("request", req.ID, "refund")
			p.Description = "song request " + strings.ToLower(string(to))
		}

		done, err := s.ledger.ExistsFor(ctx, u, req.ID, p.Type)
		if err != nil {
			return err
		}
		if done {
			return domain.ErrAlreadyProcessed
		}
		if _, err := s.wallet.Post(ctx, u, p); err != nil {
			return err
		}

		now := s.clock().UTC()
		if err := u.Requests().UpdateStatus(ctx, req.ID, domain.RequestPending, to, now); err != nil {
			return err
		}
		req.Status = to
		req.CompletedAt = &now
		out = req
		return nil
	})
	if err != nil {
		return domain.SongRequest{}, err
	}
	s.committed(to)
	s.log.InfoContext(ctx, "song request "+strings.ToLower(string(to)), "request_id", out.ID, "amount_minor", out.Amount)
	return out, nil
}

func (s *Service) committed(to domain.RequestStatus) {
	if s.onTransition != nil {
		s.onTransition(to)
	}
}

// Get returns a request visible to the requester, the DJ or an admin.
func (s *Service) Get(ctx context.Context, actor auth.Principal, id domain.ID) (domain.SongRequest, error) {
	var out domain.SongRequest
	err := s.store.View(ctx, func(ctx context.Context, u store.Unit) error {
		r, err := u.Requests().Get(ctx, id)
		if err != nil {
			return err
		}
		out = r
		return nil
	})
	if err != nil {
		return domain.SongRequest{}, err
	}
	if out.RequesterID != actor.ID && out.DJID != actor.ID && !rbac.IsAdmin(actor.Role) {
		return domain.SongRequest{}, domain.ErrNotFound
	}
	return out, nil
}

// ListForDJ returns the DJ's queue, newest first. An empty status lists all.
func (s *Service) ListForDJ(ctx context.Context, dj domain.ID, status domain.RequestStatus, limit int) ([]domain.SongRequest, error) {
	return s.list(ctx, store.RequestFilter{DJID: dj, Status: status, Limit: limit})
}

func (s *Service) ListForRequester(ctx context.Context, requester domain.ID, limit int) ([]domain.SongRequest, error) {
	return s.list(ctx, store.RequestFilter{RequesterID: requester, Limit: limit})
}

func (s *Service) list(ctx context.Context, f store.RequestFilter) ([]domain.SongRequest, error) {
	var out []domain.SongRequest
	err := s.store.View(ctx, func(ctx context.Context, u store.Unit) error {
		var err error
		out, err = u.Requests().List(ctx, f)
		return err
	})
	return out, err
}

func payload(r domain.SongRequest) map[string]any {
	return map[string]any{
		"request_id":   r.ID,
		"song_title":   r.SongTitle,
		"artist_name":  r.ArtistName,
		"amount_minor": r.Amount,
		"status":       r.Status,
	}
}
