package auth

import (
	"context"

	"djtips-platform/internal/domain"
)

// Principal is the authenticated caller.
type Principal struct {
	ID   domain.ID `json:"id"`
	Role string    `json:"role"`
}

type ctxKey int

const ctxPrincipal ctxKey = iota

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, ctxPrincipal, p)
}

// Resolve returns the caller bound to ctx or domain.ErrUnauthenticated.
func Resolve(ctx context.Context) (Principal, error) {
	p, ok := ctx.Value(ctxPrincipal).(Principal)
	if !ok || p.ID.IsZero() || p.Role == "" {
		return Principal{}, domain.ErrUnauthenticated
	}
	return p, nil
}

func Role(ctx context.Context) (string, error) {
	p, err := Resolve(ctx)
	return p.Role, err
}
