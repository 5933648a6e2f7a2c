package advisor

import (
	"context"

	"github.com/nugget/tollgate/internal/tools"
)

type contextKey string

const traceEnabledKey contextKey = "trace_enabled"

// WithConversationID scopes memory and tool handlers to a conversation.
func WithConversationID(ctx context.Context, id string) context.Context {
	return tools.WithConversationID(ctx, id)
}

// ConversationID returns the conversation for this call, or "default".
func ConversationID(ctx context.Context) string {
	return tools.ConversationIDFromContext(ctx)
}

// WithTraceEnabled records whether the caller wants the model's
// reasoning trace kept for this call.
func WithTraceEnabled(ctx context.Context, enabled bool) context.Context {
	return context.WithValue(ctx, traceEnabledKey, enabled)
}

// TraceEnabled reports the caller's trace preference. Calls that never
// set one keep the trace.
func TraceEnabled(ctx context.Context) bool {
	if v, ok := ctx.Value(traceEnabledKey).(bool); ok {
		return v
	}
	return true
}
