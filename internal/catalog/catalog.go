package catalog

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
)

var ErrTrackNotFound = errors.New("catalog: track not found")

type Track struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	ArtistName string `json:"artist_name"`
	DurationMs int64  `json:"duration_ms"`
	Art        string `json:"art,omitempty"`
}

// Catalog is the song search capability. Implementations talk to an external provider.
type Catalog interface {
	Search(ctx context.Context, query string, limit int) ([]Track, error)
	Lookup(ctx context.Context, id string) (Track, error)
}

// Cached memoizes lookups and searches in process.
type Cached struct {
	inner Catalog
	c     *cache.Cache
}

func NewCached(inner Catalog, ttl time.Duration) *Cached {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Cached{inner: inner, c: cache.New(ttl, 2*ttl)}
}

func (c *Cached) Lookup(ctx context.Context, id string) (Track, error) {
	key := "track:" + id
	if v, ok := c.c.Get(key); ok {
		return v.(Track), nil
	}
	t, err := c.inner.Lookup(ctx, id)
	if err != nil {
		return Track{}, err
	}
	c.c.SetDefault(key, t)
	return t, nil
}

func (c *Cached) Search(ctx context.Context, query string, limit int) ([]Track, error) {
	key := "search:" + strings.ToLower(strings.TrimSpace(query))
	if v, ok := c.c.Get(key); ok {
		return clip(v.([]Track), limit), nil
	}
	out, err := c.inner.Search(ctx, query, 0)
	if err != nil {
		return nil, err
	}
	c.c.SetDefault(key, out)
	for _, t := range out {
		c.c.SetDefault("track:"+t.ID, t)
	}
	return clip(out, limit), nil
}

// Static is a fixed in-process catalog (local development, tests).
type Static struct {
	mu     sync.RWMutex
	tracks map[string]Track
}

func NewStatic(tracks ...Track) *Static {
	s := &Static{tracks: map[string]Track{}}
	for _, t := range tracks {
		s.tracks[t.ID] = t
	}
	return s
}

func (s *Static) Lookup(ctx context.Context, id string) (Track, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tracks[id]
	if !ok {
		return Track{}, ErrTrackNotFound
	}
	return t, nil
}

func (s *Static) Search(ctx context.Context, query string, limit int) ([]Track, error) {
	q := strings.ToLower(strings.TrimSpace(query))
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Track
	for _, t := range s.tracks {
		if q == "" || strings.Contains(strings.ToLower(t.Title), q) || strings.Contains(strings.ToLower(t.ArtistName), q) {
			out = append(out, t)
		}
	}
	return clip(out, limit), nil
}

func clip(in []Track, limit int) []Track {
	if limit > 0 && len(in) > limit {
		return in[:limit]
	}
	return in
}
