package dupguard

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"djtips-platform/internal/domain"
	"djtips-platform/internal/store"
	"djtips-platform/pkg/utils"

	"github.com/redis/go-redis/v9"
)

const (
	DefaultWindow  = 60 * time.Minute
	defaultLockTTL = 10 * time.Second
)

// Guard detects a requester re-submitting the same song to the same DJ.
//
// Check is a plain read and is racy on its own. Concurrent PENDING duplicates
// are stopped by the store's unique index; Hold narrows the window further
// across processes when Redis is configured.
type Guard struct {
	window time.Duration
	clock  func() time.Time

	rdb     *redis.Client // optional
	lockTTL time.Duration
	log     *slog.Logger
}

type Option func(*Guard)

func WithWindow(d time.Duration) Option {
	return func(g *Guard) {
		if d > 0 {
			g.window = d
		}
	}
}

func WithClock(clock func() time.Time) Option { return func(g *Guard) { g.clock = clock } }

// WithRedis enables the cross-process in-flight lock.
func WithRedis(rdb *redis.Client, ttl time.Duration) Option {
	return func(g *Guard) {
		g.rdb = rdb
		if ttl > 0 {
			g.lockTTL = ttl
		}
	}
}

func WithLogger(l *slog.Logger) Option { return func(g *Guard) { g.log = l } }

func New(opts ...Option) *Guard {
	g := &Guard{window: DefaultWindow, clock: time.Now, lockTTL: defaultLockTTL, log: slog.Default()}
	for _, o := range opts {
		o(g)
	}
	return g
}

func (g *Guard) Window() time.Duration { return g.window }

// Check returns *domain.DuplicateRequestError when a non-refunded request for the
// same (requester, dj, song) was created inside the window.
func (g *Guard) Check(ctx context.Context, u store.Unit, requester, dj domain.ID, songRef string) error {
	since := g.clock().UTC().Add(-g.window)
	existing, ok, err := u.Requests().FindRecent(ctx, requester, dj, NormalizeRef(songRef), since)
	if err != nil {
		return err
	}
	if ok {
		return &domain.DuplicateRequestError{ExistingID: existing.ID}
	}
	return nil
}

// Hold takes the in-flight lock for the triple. It returns ErrDuplicateRequest
// when another submission holds it. Redis being absent or failing never blocks
// the caller. release is always safe to call.
func (g *Guard) Hold(ctx context.Context, requester, dj domain.ID, songRef string) (release func(), err error) {
	noop := func() {}
	if g.rdb == nil {
		return noop, nil
	}

	key := "dupguard:" + requester.String() + ":" + dj.String() + ":" + NormalizeRef(songRef)
	token := domain.NewID().String()
	ok, err := utils.AcquireLock(ctx, g.rdb, key, token, g.lockTTL)
	if err != nil {
		g.log.Warn("dupguard lock unavailable, continuing", "error", err)
		return noop, nil
	}
	if !ok {
		return noop, &domain.DuplicateRequestError{}
	}
	return func() {
		// the caller's ctx may already be cancelled
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		if err := utils.ReleaseLock(rctx, g.rdb, key, token); err != nil {
			g.log.Warn("dupguard release failed", "error", err)
		}
	}, nil
}

// NormalizeRef is the song reference as stored and compared.
func NormalizeRef(ref string) string { return strings.TrimSpace(ref) }
