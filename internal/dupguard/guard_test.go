package dupguard

import (
	"context"
	"errors"
	"testing"
	"time"

	"djtips-platform/internal/domain"
	"djtips-platform/internal/store"
	"djtips-platform/internal/store/memory"
)

func seed(t *testing.T, st *memory.Store, r domain.SongRequest) {
	t.Helper()
	err := st.Atomic(context.Background(), func(ctx context.Context, u store.Unit) error {
		return u.Requests().Insert(ctx, r)
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func check(g *Guard, st *memory.Store, requester, dj domain.ID, song string) error {
	return st.View(context.Background(), func(ctx context.Context, u store.Unit) error {
		return g.Check(ctx, u, requester, dj, song)
	})
}

func TestCheck_Window(t *testing.T) {
	st := memory.New()
	now := time.Date(2026, 5, 1, 20, 0, 0, 0, time.UTC)
	g := New(WithClock(func() time.Time { return now }))
	requester, dj := domain.NewID(), domain.NewID()

	recent := domain.SongRequest{ID: domain.NewID(), RequesterID: requester, DJID: dj, SongRef: "trk-1", Amount: 100, Status: domain.RequestCompleted, CreatedAt: now.Add(-10 * time.Minute)}
	seed(t, st, recent)

	err := check(g, st, requester, dj, " trk-1 ")
	var dup *domain.DuplicateRequestError
	if !errors.As(err, &dup) || dup.ExistingID != recent.ID {
		t.Fatalf("expected duplicate of %s, got %v", recent.ID, err)
	}

	if err := check(g, st, requester, dj, "trk-2"); err != nil {
		t.Fatalf("different song should pass, got %v", err)
	}
	if err := check(g, st, domain.NewID(), dj, "trk-1"); err != nil {
		t.Fatalf("different requester should pass, got %v", err)
	}
}

func TestCheck_IgnoresOldAndRefunded(t *testing.T) {
	st := memory.New()
	now := time.Date(2026, 5, 1, 20, 0, 0, 0, time.UTC)
	g := New(WithClock(func() time.Time { return now }))
	requester, dj := domain.NewID(), domain.NewID()

	seed(t, st, domain.SongRequest{ID: domain.NewID(), RequesterID: requester, DJID: dj, SongRef: "trk-1", Status: domain.RequestCompleted, CreatedAt: now.Add(-61 * time.Minute)})
	seed(t, st, domain.SongRequest{ID: domain.NewID(), RequesterID: requester, DJID: dj, SongRef: "trk-1", Status: domain.RequestRejected, CreatedAt: now.Add(-time.Minute)})
	seed(t, st, domain.SongRequest{ID: domain.NewID(), RequesterID: requester, DJID: dj, SongRef: "trk-1", Status: domain.RequestCancelled, CreatedAt: now.Add(-time.Minute)})

	if err := check(g, st, requester, dj, "trk-1"); err != nil {
		t.Fatalf("expected no duplicate, got %v", err)
	}
}

func TestHold_WithoutRedisIsNoop(t *testing.T) {
	g := New()
	release, err := g.Hold(context.Background(), domain.NewID(), domain.NewID(), "trk")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	release()
}
