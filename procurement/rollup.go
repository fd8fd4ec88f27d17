package procurement

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/mmdatafocus/household_backend/models"
	"github.com/mmdatafocus/household_backend/utils"
)

const metricsLockTTL = 30 * time.Second

type MetricsResult struct {
	Metrics      models.RecommendationMetrics `json:"metrics"`
	Recalculated bool                         `json:"recalculated"`
}

// computeMetrics aggregates one day's feedback. Accuracy only counts accepted/modified
// records with both the recommended and the actual value present.
func computeMetrics(date string, rows []models.UserFeedback) models.RecommendationMetrics {
	m := models.RecommendationMetrics{MetricDate: date, TotalRecommendations: len(rows)}
	var priorityErr, quantityErr float64
	var priorityN, quantityN int
	for _, fb := range rows {
		switch fb.UserAction {
		case models.UserActionAccepted:
			m.AcceptedCount++
		case models.UserActionRejected:
			m.RejectedCount++
		case models.UserActionModified:
			m.ModifiedCount++
		case models.UserActionIgnored:
			m.IgnoredCount++
		}
		if fb.UserAction != models.UserActionAccepted && fb.UserAction != models.UserActionModified {
			continue
		}
		if fb.RecommendedPriority != nil && fb.ActualPriority != nil {
			priorityErr += math.Abs(float64(*fb.RecommendedPriority - *fb.ActualPriority))
			priorityN++
		}
		if fb.RecommendedQuantity != nil && fb.ActualQuantity != nil && *fb.RecommendedQuantity > 0 {
			quantityErr += math.Abs(float64(*fb.RecommendedQuantity-*fb.ActualQuantity)) / float64(*fb.RecommendedQuantity)
			quantityN++
		}
	}
	if m.TotalRecommendations > 0 {
		m.AcceptanceRate = utils.RoundFloat(float64(m.AcceptedCount)/float64(m.TotalRecommendations), 4)
	}
	if priorityN > 0 {
		m.AvgPriorityAccuracy = utils.RoundFloat(math.Max(0, 100-priorityErr/float64(priorityN)*25), 2)
	}
	if quantityN > 0 {
		m.AvgQuantityAccuracy = utils.RoundFloat(math.Max(0, 100-quantityErr/float64(quantityN)*100), 2)
	}
	return m
}

// UpdateRecommendationMetrics rolls up the feedback of one calendar day. An existing row is
// returned unchanged unless ForceRecalculate is set.
func (e *Engine) UpdateRecommendationMetrics(ctx context.Context, req MetricsUpdateRequest) (result *MetricsResult, err error) {
	ctx, span := e.startSpan(ctx, "UpdateRecommendationMetrics")
	defer func() { endSpan(span, err) }()

	if err := utils.ValidateStruct(req); err != nil {
		return nil, err
	}
	date := req.Date
	if date == "" {
		date = utils.DateKey(e.now(), e.loc)
	}
	dayStart, err := utils.ParseDateKey(date, e.loc)
	if err != nil {
		return nil, utils.FieldError("date", "datetime=2006-01-02")
	}
	dayEnd := dayStart.AddDate(0, 0, 1)

	err = utils.WithKeyLock(ctx, e.locker, "household:metrics:"+date, metricsLockTTL, func() error {
		return e.store.Transaction(ctx, func(tx models.Store) error {
			existing, err := tx.GetRecommendationMetrics(ctx, date)
			if err != nil && !errors.Is(err, utils.ErrorRecordNotFound) {
				return err
			}
			if existing != nil && !req.ForceRecalculate {
				result = &MetricsResult{Metrics: *existing}
				return nil
			}
			rows, err := tx.ListFeedback(ctx, models.FeedbackFilter{From: &dayStart, To: &dayEnd})
			if err != nil {
				return err
			}
			m := computeMetrics(date, rows)
			if err := tx.SaveRecommendationMetrics(ctx, &m); err != nil {
				return err
			}
			result = &MetricsResult{Metrics: m, Recalculated: true}
			return e.emitEvent(ctx, tx, models.EngineEventMetricsUpdated, date, m)
		})
	})
	if err != nil {
		e.logError("UpdateRecommendationMetrics", req, err)
		return nil, err
	}
	return result, nil
}

// GetRecommendationMetrics lists stored rollups for the inclusive date range.
func (e *Engine) GetRecommendationMetrics(ctx context.Context, req MetricsQueryRequest) ([]models.RecommendationMetrics, error) {
	if err := utils.ValidateStruct(req); err != nil {
		return nil, err
	}
	if req.From > req.To {
		return nil, utils.NewValidationError("from must not be after to", map[string]string{"from": "ltefield=to"})
	}
	rows, err := e.store.ListRecommendationMetrics(ctx, req.From, req.To)
	if err != nil {
		e.logError("GetRecommendationMetrics", req, err)
		return nil, err
	}
	if rows == nil {
		rows = []models.RecommendationMetrics{}
	}
	return rows, nil
}
