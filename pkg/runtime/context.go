package runtime

import (
	"context"

	"github.com/arborstore/arbor/pkg/domain"
	"github.com/arborstore/arbor/pkg/errors"
)

// Per-call state — current owner, current scope, error chain — travels on a
// context.Context rather than in thread-local storage; every public Runtime
// operation takes a ctx and reads its state from there.
type ctxKey int

const (
	ownerKey ctxKey = iota
	scopeKey
	chainKey
)

// WithOwner tags ctx with the identity that subsequent declares, updates
// and publishes are attributed to. Mounts set their own identity here so
// their echoes can be suppressed.
func WithOwner(ctx context.Context, owner domain.EntityID) context.Context {
	return context.WithValue(ctx, ownerKey, owner)
}

// OwnerFrom returns the owner identity carried by ctx, or "".
func OwnerFrom(ctx context.Context) domain.EntityID {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ownerKey).(domain.EntityID); ok {
		return v
	}
	return ""
}

// WithScope sets the current scope relative paths resolve against.
func WithScope(ctx context.Context, scope string) context.Context {
	return context.WithValue(ctx, scopeKey, scope)
}

// ScopeFrom returns the current scope carried by ctx, defaulting to the
// root.
func ScopeFrom(ctx context.Context) string {
	if ctx == nil {
		return "/"
	}
	if v, ok := ctx.Value(scopeKey).(string); ok && v != "" {
		return v
	}
	return "/"
}

// WithChain attaches a fresh error chain to ctx and returns both. Layers
// below append to it via ChainFrom; the caller inspects Last/All when the
// operation returns.
func WithChain(ctx context.Context) (context.Context, *errors.Chain) {
	c := errors.NewChain()
	return context.WithValue(ctx, chainKey, c), c
}

// ChainFrom returns the error chain carried by ctx, or nil.
func ChainFrom(ctx context.Context) *errors.Chain {
	if ctx == nil {
		return nil
	}
	if v, ok := ctx.Value(chainKey).(*errors.Chain); ok {
		return v
	}
	return nil
}

// raise appends err to ctx's chain when one is present and returns err.
func raise(ctx context.Context, err *errors.Error) *errors.Error {
	if c := ChainFrom(ctx); c != nil {
		return c.Raise(err)
	}
	return err
}
