package appctx

import "context"

// ContextKey is the shared type for all context keys in this codebase.
// Keeping it in a tiny package avoids import cycles (config <-> utils).
type ContextKey string

func (c ContextKey) String() string { return string(c) }

var (
	ContextKeyCorrelationId = ContextKey("CorrelationId")
	// ContextKeyActor names the caller that invoked a tool (agent name, cli tool, user).
	ContextKeyActor = ContextKey("Actor")
	// ContextKeyToolName is the tool-call operation currently executing.
	ContextKeyToolName = ContextKey("ToolName")

	// ContextKeyReadOnly marks a request that must not write to the store.
	// The read-only guard plugin rejects create/update/delete statements carrying it.
	ContextKeyReadOnly = ContextKey("ReadOnly")
)

func GetString(ctx context.Context, key ContextKey) (string, bool) {
	v, ok := ctx.Value(key).(string)
	return v, ok
}

func GetBool(ctx context.Context, key ContextKey) (bool, bool) {
	v, ok := ctx.Value(key).(bool)
	return v, ok
}

func Set(ctx context.Context, key ContextKey, value any) context.Context {
	return context.WithValue(ctx, key, value)
}
