package procurement

import (
	"context"
	"time"

	"github.com/mmdatafocus/household_backend/config"
	"github.com/mmdatafocus/household_backend/models"
	"github.com/mmdatafocus/household_backend/utils"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("household_backend/procurement")

// Recorder receives engine counters. metrics.Registry implements it.
type Recorder interface {
	AnomaliesDetected(kind string, count int)
	FeedbackRecorded(action string)
}

type noopRecorder struct{}

func (noopRecorder) AnomaliesDetected(string, int) {}
func (noopRecorder) FeedbackRecorded(string)       {}

// Engine computes recommendations, anomalies, trends and learned preferences from the
// purchase history held in a models.Store. It keeps no state between calls.
type Engine struct {
	store         models.Store
	cfg           config.EngineConfig
	loc           *time.Location
	logger        *logrus.Logger
	locker        utils.Locker
	recorder      Recorder
	now           func() time.Time
	eventsEnabled bool
}

type Option func(*Engine)

func WithLogger(logger *logrus.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithLocker serializes preference and metrics writers across processes.
func WithLocker(locker utils.Locker) Option {
	return func(e *Engine) { e.locker = locker }
}

func WithRecorder(r Recorder) Option {
	return func(e *Engine) { e.recorder = r }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithEvents makes write operations append engine events to the outbox table.
func WithEvents(enabled bool) Option {
	return func(e *Engine) { e.eventsEnabled = enabled }
}

func NewEngine(store models.Store, cfg config.EngineConfig, opts ...Option) *Engine {
	e := &Engine{
		store:    store,
		cfg:      cfg,
		loc:      cfg.Location(),
		recorder: noopRecorder{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = config.GetLogger()
	}
	return e
}

func (e *Engine) Config() config.EngineConfig {
	return e.cfg
}

func (e *Engine) Location() *time.Location {
	return e.loc
}

func (e *Engine) Store() models.Store {
	return e.store
}

func (e *Engine) today() time.Time {
	return utils.StartOfDay(e.now(), e.loc)
}

// readOnly runs fn in a transaction that rejects writes, so every query sees one snapshot.
func (e *Engine) readOnly(ctx context.Context, fn func(ctx context.Context, tx models.Store) error) error {
	ctx = config.WithReadOnly(ctx)
	return e.store.Transaction(ctx, func(tx models.Store) error {
		return fn(ctx, tx)
	})
}

func (e *Engine) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if tool, ok := utils.GetToolNameFromContext(ctx); ok {
		attrs = append(attrs, attribute.String("tool", tool))
	}
	return tracer.Start(ctx, "procurement."+name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func (e *Engine) logError(funcName string, data interface{}, err error) {
	if utils.IsValidationError(err) || utils.IsDomainError(err) {
		e.logger.WithFields(logrus.Fields{
			"module":   "procurement",
			"funcName": funcName,
		}).Info(err.Error())
		return
	}
	config.LogError(e.logger, "procurement", funcName, "engine operation failed", data, err)
}
