package protocol

import "context"

type attemptIDKey struct{}

// ContextWithAttemptID returns a new context carrying the attempt ID that
// protocol log events are tagged with.
func ContextWithAttemptID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, attemptIDKey{}, id)
}

// AttemptIDFromContext extracts the attempt ID from the context.
// Returns empty string if not set.
func AttemptIDFromContext(ctx context.Context) string {
	if v := ctx.Value(attemptIDKey{}); v != nil {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}
