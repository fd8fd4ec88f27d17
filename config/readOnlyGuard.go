package config

import (
	"context"
	"errors"

	"github.com/mmdatafocus/household_backend/appctx"
	"gorm.io/gorm"
)

// ErrReadOnlyContext is raised when a write statement runs under a read-only request context.
var ErrReadOnlyContext = errors.New("write attempted in read-only context")

// ReadOnlyGuardPlugin rejects create/update/delete statements issued with a context
// marked by appctx.ContextKeyReadOnly. Analysis operations (anomaly detection,
// recommendation generation, trend analysis) run under that flag.
//
// NOTE:
// - Raw SELECTs are untouched; Exec is guarded.
// - Transactions opened under the flag inherit it through Statement.Context.
type ReadOnlyGuardPlugin struct{}

func NewReadOnlyGuardPlugin() *ReadOnlyGuardPlugin { return &ReadOnlyGuardPlugin{} }

func (p *ReadOnlyGuardPlugin) Name() string { return "read_only_guard" }

func (p *ReadOnlyGuardPlugin) Initialize(db *gorm.DB) error {
	if err := db.Callback().Create().Before("gorm:create").Register("read_only_guard:create", readOnlyGuardCallback); err != nil {
		return err
	}
	if err := db.Callback().Update().Before("gorm:update").Register("read_only_guard:update", readOnlyGuardCallback); err != nil {
		return err
	}
	if err := db.Callback().Delete().Before("gorm:delete").Register("read_only_guard:delete", readOnlyGuardCallback); err != nil {
		return err
	}
	if err := db.Callback().Raw().Before("gorm:raw").Register("read_only_guard:raw", readOnlyGuardCallback); err != nil {
		return err
	}
	return nil
}

func readOnlyGuardCallback(db *gorm.DB) {
	if db == nil || db.Statement == nil {
		return
	}
	if IsReadOnlyContext(db.Statement.Context) {
		_ = db.AddError(ErrReadOnlyContext)
	}
}

// WithReadOnly marks ctx read-only for the read-only guard plugin and the memory store.
func WithReadOnly(ctx context.Context) context.Context {
	return appctx.Set(ctx, appctx.ContextKeyReadOnly, true)
}

func IsReadOnlyContext(ctx context.Context) bool {
	if ctx == nil {
		return false
	}
	v, ok := appctx.GetBool(ctx, appctx.ContextKeyReadOnly)
	return ok && v
}
