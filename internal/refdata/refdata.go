package refdata

import (
	"context"
	"encoding/json"
	"slices"
	"strings"
	"time"

	"djtips-platform/internal/audit"
	"djtips-platform/internal/auth"
	"djtips-platform/internal/domain"
	"djtips-platform/internal/rbac"
	"djtips-platform/internal/store"

	"github.com/patrickmn/go-cache"
)

// Method kinds a payout can be sent through.
const (
	KindMpesa = "mpesa"
	KindBank  = "bank"
)

// Settings is the admin-managed configuration read by the money services.
type Settings struct {
	Currency            string
	SupportedCurrencies []string

	TipLimits        domain.Limits
	WithdrawalLimits domain.Limits
	TopupLimits      domain.Limits

	// PaymentMethods maps a method kind to its enabled flag. Missing kinds are disabled.
	PaymentMethods map[string]bool
}

func (s Settings) PaymentMethodActive(kind string) bool {
	return s.PaymentMethods[strings.ToLower(kind)]
}

func (s Settings) SupportsCurrency(code string) bool {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == s.Currency {
		return true
	}
	return slices.Contains(s.SupportedCurrencies, code)
}

// Service serves reference data with a short-lived in-process cache.
type Service struct {
	store    store.Store
	audit    *audit.Service
	settings Settings
	cache    *cache.Cache
	clock    func() time.Time
}

func NewService(st store.Store, aud *audit.Service, settings Settings, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Service{
		store:    st,
		audit:    aud,
		settings: settings,
		cache:    cache.New(ttl, 2*ttl),
		clock:    time.Now,
	}
}

func (s *Service) WithClock(clock func() time.Time) *Service {
	s.clock = clock
	return s
}

func (s *Service) Settings() Settings { return s.settings }

func (s *Service) PaymentMethodActive(kind string) bool { return s.settings.PaymentMethodActive(kind) }

func (s *Service) SupportsCurrency(code string) bool { return s.settings.SupportsCurrency(code) }

func methodKey(id domain.ID) string { return "method:" + id.String() }

// Method returns a withdrawal method by id.
func (s *Service) Method(ctx context.Context, id domain.ID) (domain.WithdrawalMethod, error) {
	if id.IsZero() {
		return domain.WithdrawalMethod{}, domain.Invalid("withdrawal method required")
	}
	if v, ok := s.cache.Get(methodKey(id)); ok {
		return v.(domain.WithdrawalMethod), nil
	}
	var m domain.WithdrawalMethod
	err := s.store.View(ctx, func(ctx context.Context, u store.Unit) error {
		var err error
		m, err = u.Methods().Get(ctx, id)
		return err
	})
	if err != nil {
		return domain.WithdrawalMethod{}, err
	}
	s.cache.SetDefault(methodKey(id), m)
	return m, nil
}

func (s *Service) ListMethods(ctx context.Context, owner domain.ID) ([]domain.WithdrawalMethod, error) {
	var out []domain.WithdrawalMethod
	err := s.store.View(ctx, func(ctx context.Context, u store.Unit) error {
		var err error
		out, err = u.Methods().ListByOwner(ctx, owner)
		return err
	})
	return out, err
}

// AddMethod registers a payout destination for actor. M-Pesa destinations are
// normalized MSISDNs. New methods are active.
func (s *Service) AddMethod(ctx context.Context, actor auth.Principal, kind, destination string) (domain.WithdrawalMethod, error) {
	if actor.ID.IsZero() {
		return domain.WithdrawalMethod{}, domain.ErrUnauthenticated
	}
	kind = strings.ToLower(strings.TrimSpace(kind))
	destination = strings.TrimSpace(destination)
	switch kind {
	case KindMpesa:
		msisdn, err := domain.NormalizeMSISDN(destination)
		if err != nil {
			return domain.WithdrawalMethod{}, err
		}
		destination = msisdn
	case KindBank:
		if destination == "" {
			return domain.WithdrawalMethod{}, domain.Invalid("bank destination required")
		}
	default:
		return domain.WithdrawalMethod{}, domain.Invalid("unsupported withdrawal method %q", kind)
	}

	m := domain.WithdrawalMethod{
		ID:          domain.NewID(),
		OwnerID:     actor.ID,
		Kind:        kind,
		Destination: destination,
		Active:      true,
		CreatedAt:   s.clock().UTC(),
	}
	err := s.store.Atomic(ctx, func(ctx context.Context, u store.Unit) error {
		return u.Methods().Upsert(ctx, m)
	})
	if err != nil {
		return domain.WithdrawalMethod{}, err
	}
	return m, nil
}

// SetMethodActive enables or disables a method. Admin only; audited.
func (s *Service) SetMethodActive(ctx context.Context, admin auth.Principal, id domain.ID, active bool) (domain.WithdrawalMethod, error) {
	if !rbac.IsAdmin(admin.Role) {
		return domain.WithdrawalMethod{}, domain.ErrForbidden
	}
	var out domain.WithdrawalMethod
	err := s.store.Atomic(ctx, func(ctx context.Context, u store.Unit) error {
		m, err := u.Methods().Get(ctx, id)
		if err != nil {
			return err
		}
		m.Active = active
		if err := u.Methods().Upsert(ctx, m); err != nil {
			return err
		}
		meta, _ := json.Marshal(map[string]any{"active": active, "owner_id": m.OwnerID, "kind": m.Kind})
		if err := s.audit.LogAdminAction(ctx, u, admin, domain.AuditMethodChanged, m.ID, "withdrawal method updated", string(meta)); err != nil {
			return err
		}
		out = m
		return nil
	})
	if err != nil {
		return domain.WithdrawalMethod{}, err
	}
	s.cache.Delete(methodKey(id))
	return out, nil
}
