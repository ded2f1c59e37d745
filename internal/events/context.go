package events

import "context"

type visitIDKey struct{}

// ContextWithVisitID returns a new context carrying the visit ID.
func ContextWithVisitID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, visitIDKey{}, id)
}

// VisitIDFromContext extracts the visit ID from the context, or "" if absent.
func VisitIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(visitIDKey{}).(string); ok {
		return id
	}
	return ""
}
