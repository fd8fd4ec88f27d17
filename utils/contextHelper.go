package utils

import (
	"context"

	"github.com/mmdatafocus/household_backend/appctx"
)

var (
	ContextKeyCorrelationId = appctx.ContextKeyCorrelationId
	ContextKeyActor         = appctx.ContextKeyActor
	ContextKeyToolName      = appctx.ContextKeyToolName
)

func GetCorrelationIdFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyCorrelationId)
}

func SetCorrelationIdInContext(ctx context.Context, correlationId string) context.Context {
	return appctx.Set(ctx, ContextKeyCorrelationId, correlationId)
}

func GetActorFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyActor)
}

func SetActorInContext(ctx context.Context, actor string) context.Context {
	return appctx.Set(ctx, ContextKeyActor, actor)
}

func GetToolNameFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyToolName)
}

func SetToolNameInContext(ctx context.Context, name string) context.Context {
	return appctx.Set(ctx, ContextKeyToolName, name)
}
