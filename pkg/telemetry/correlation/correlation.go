package correlation

import (
	"context"
	"strings"

	"github.com/oklog/ulid/v2"
)

// Scopes prefix generated ids so a log line shows what started the flow.
const (
	ScopeJoin  = "join"
	ScopeSweep = "sweep"
)

type correlationKey struct{}

// NewID returns "<scope>_<ulid>", or a bare ulid when scope is empty.
func NewID(scope string) string {
	id := ulid.Make().String()
	scope = strings.TrimSpace(scope)
	if scope == "" {
		return id
	}
	return scope + "_" + id
}

// Scope returns the prefix of an id made by NewID.
func Scope(id string) string {
	scope, _, ok := strings.Cut(id, "_")
	if !ok {
		return ""
	}
	return scope
}

func ExtractCorrelationID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if val, ok := ctx.Value(correlationKey{}).(string); ok {
		return val
	}
	return ""
}

func ContextWithCorrelationID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, correlationKey{}, id)
}

// EnsureCorrelationID keeps an id already on ctx and otherwise generates one
// in scope.
func EnsureCorrelationID(ctx context.Context, scope string) (context.Context, string) {
	if cid := ExtractCorrelationID(ctx); cid != "" {
		return ctx, cid
	}
	cid := NewID(scope)
	return ContextWithCorrelationID(ctx, cid), cid
}
