package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"time"

	"github.com/mmdatafocus/household_backend/config"
	"github.com/mmdatafocus/household_backend/metrics"
	"github.com/mmdatafocus/household_backend/procurement"
	"github.com/mmdatafocus/household_backend/utils"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("household_backend/tools")

// Error codes of the result envelope.
const (
	CodeValidation  = "validation_error"
	CodeDomain      = "domain_error"
	CodeStore       = "store_error"
	CodeUnknownTool = "unknown_tool"
	CodeInternal    = "internal_error"
)

type ErrorInfo struct {
	Code    string            `json:"code"`
	Reason  string            `json:"reason,omitempty"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// Result is the uniform envelope every tool call returns.
type Result struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *ErrorInfo  `json:"error,omitempty"`
}

// Handler decodes raw JSON arguments and runs one operation.
type Handler func(ctx context.Context, args json.RawMessage) (interface{}, error)

type Tool struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	handler     Handler
}

type Registry struct {
	engine  *procurement.Engine
	tools   map[string]Tool
	logger  *logrus.Logger
	metrics *metrics.Registry
}

// typed wraps an engine method so arguments are strictly decoded into its request type.
func typed[Req any, Resp any](fn func(context.Context, Req) (Resp, error)) Handler {
	return func(ctx context.Context, args json.RawMessage) (interface{}, error) {
		var req Req
		if err := utils.DecodeStrictJSON(args, &req); err != nil {
			return nil, err
		}
		return fn(ctx, req)
	}
}

func NewRegistry(engine *procurement.Engine, logger *logrus.Logger, m *metrics.Registry) *Registry {
	if logger == nil {
		logger = config.GetLogger()
	}
	r := &Registry{engine: engine, tools: map[string]Tool{}, logger: logger, metrics: m}

	r.Register("generate_purchase_recommendations", "Rank low-stock items with suggested quantities and priority 1-5.", typed(engine.GenerateRecommendations))
	r.Register("detect_anomalous_spending", "Flag daily, category, item and frequency spending anomalies with a risk level.", typed(engine.DetectAnomalies))
	r.Register("analyze_spending_trends", "Bucket spending by period, derive trend direction and forecast three periods.", typed(engine.AnalyzeTrends))
	r.Register("record_user_feedback", "Record a decision on a recommendation and update learned preferences.", typed(engine.RecordFeedback))
	r.Register("process_recommendation_feedback", "Record a batch of decisions; failures are reported per item.", typed(engine.ProcessFeedbackBatch))
	r.Register("get_personalized_recommendations", "Recommendations re-ranked by learned preferences and acceptance history.", typed(engine.GetPersonalizedRecommendations))
	r.Register("update_recommendation_metrics", "Roll up one day of feedback into acceptance and accuracy metrics.", typed(engine.UpdateRecommendationMetrics))
	r.Register("get_recommendation_metrics", "List daily recommendation metrics for a date range.", typed(engine.GetRecommendationMetrics))
	r.Register("recompute_user_preferences", "Replay recent feedback into preferences with the bulk confidence increment.", typed(engine.RecomputePreferences))
	r.Register("get_user_preferences", "List learned preferences above a confidence threshold.", typed(engine.GetUserPreferences))
	r.Register("import_purchase_orders", "Import parsed purchase orders; duplicate ids reject the batch.", typed(engine.ImportPurchaseOrders))
	r.Register("update_inventory", "Stock in or consume an inventory item.", typed(engine.UpdateInventory))
	r.Register("apply_recommendations", "Upsert recommendations into the pending shopping list.", typed(engine.ApplyRecommendations))
	r.Register("get_shopping_list", "List shopping list entries, optionally by status.", typed(engine.GetShoppingList))
	r.Register("complete_shopping_list_item", "Mark the pending shopping list entry of an item as completed.", typed(engine.CompleteShoppingListItem))
	return r
}

func (r *Registry) Register(name, description string, h Handler) {
	r.tools[name] = Tool{Name: name, Description: description, handler: h}
}

// List returns the registered tools sorted by name.
func (r *Registry) List() []Tool {
	out := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Call runs the named tool. It never panics and never returns a Go error: every failure
// is folded into the envelope.
func (r *Registry) Call(ctx context.Context, name string, args json.RawMessage) (result Result) {
	start := time.Now()
	ctx = utils.SetToolNameInContext(ctx, name)
	ctx, span := tracer.Start(ctx, "tools."+name)
	correlationId, _ := utils.GetCorrelationIdFromContext(ctx)
	actor, _ := utils.GetActorFromContext(ctx)
	span.SetAttributes(attribute.String("tool", name), attribute.String("correlation_id", correlationId))

	defer func() {
		if rec := recover(); rec != nil {
			config.LogError(r.logger, "tools", "Call", "panic in tool "+name, string(debug.Stack()), fmt.Errorf("%v", rec))
			result = Result{Error: &ErrorInfo{Code: CodeInternal, Message: "internal error"}}
		}
		status := "success"
		if !result.Success {
			status = result.Error.Code
			span.SetStatus(codes.Error, result.Error.Message)
		}
		span.End()
		elapsed := time.Since(start)
		if r.metrics != nil {
			r.metrics.ObserveToolCall(name, status, elapsed)
		}
		r.logger.WithFields(logrus.Fields{
			"tool":           name,
			"correlation_id": correlationId,
			"actor":          actor,
			"duration_ms":    elapsed.Milliseconds(),
			"success":        result.Success,
		}).Info("tool call")
	}()

	tool, ok := r.tools[name]
	if !ok {
		return Result{Error: &ErrorInfo{Code: CodeUnknownTool, Message: fmt.Sprintf("unknown tool %q", name)}}
	}
	data, err := tool.handler(ctx, args)
	if err != nil {
		span.RecordError(err)
		return Result{Error: classify(err)}
	}
	return Result{Success: true, Data: data}
}

func classify(err error) *ErrorInfo {
	var ve *utils.ValidationError
	if errors.As(err, &ve) {
		return &ErrorInfo{Code: CodeValidation, Message: ve.Message, Fields: ve.Fields}
	}
	var de *utils.DomainError
	if errors.As(err, &de) {
		return &ErrorInfo{Code: CodeDomain, Reason: de.Code, Message: de.Message}
	}
	return &ErrorInfo{Code: CodeStore, Message: err.Error()}
}
