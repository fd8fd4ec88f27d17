package procurement

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/mmdatafocus/household_backend/models"
	"github.com/mmdatafocus/household_backend/utils"
)

const (
	minHistoryRecords   = 2
	lowAcceptanceRate   = 0.3
	highAcceptanceRate  = 0.8
	historyConfidenceAt = 10
)

type PersonalizedResult struct {
	RecommendationResult
	PersonalizationApplied bool    `json:"personalization_applied"`
	PreferencesUsed        int     `json:"preferences_used"`
	MinConfidence          float64 `json:"min_confidence"`
}

// itemAcceptance summarizes the feedback history of one item.
type itemAcceptance struct {
	total          int
	accepted       int
	actualQtySum   int
	actualQtyCount int
}

func (a itemAcceptance) rate() float64 {
	if a.total == 0 {
		return 0
	}
	return float64(a.accepted) / float64(a.total)
}

func summarizeFeedback(rows []models.UserFeedback) map[string]*itemAcceptance {
	out := map[string]*itemAcceptance{}
	for _, fb := range rows {
		a, ok := out[fb.ItemName]
		if !ok {
			a = &itemAcceptance{}
			out[fb.ItemName] = a
		}
		a.total++
		if fb.UserAction == models.UserActionAccepted {
			a.accepted++
		}
		if fb.ActualQuantity != nil {
			a.actualQtySum += *fb.ActualQuantity
			a.actualQtyCount++
		}
	}
	return out
}

// GetPersonalizedRecommendations re-ranks the base recommendations with learned
// preferences (confidence at or above MinConfidence) and per-item acceptance history.
func (e *Engine) GetPersonalizedRecommendations(ctx context.Context, req PersonalizedRequest) (result *PersonalizedResult, err error) {
	ctx, span := e.startSpan(ctx, "GetPersonalizedRecommendations")
	defer func() { endSpan(span, err) }()

	if err := utils.ValidateStruct(req); err != nil {
		return nil, err
	}
	minConfidence := utils.DereferencePtr(req.MinConfidence, e.cfg.Personalization.MinConfidence)

	err = e.readOnly(ctx, func(ctx context.Context, tx models.Store) error {
		base, err := e.generateRecommendations(ctx, tx, req.RecommendationRequest)
		if err != nil {
			return err
		}
		prefs, err := tx.ListPreferences(ctx, models.PreferenceFilter{MinConfidence: minConfidence})
		if err != nil {
			return err
		}
		items := make([]string, 0, len(base.Recommendations))
		for _, r := range base.Recommendations {
			items = append(items, r.ItemName)
		}
		var history []models.UserFeedback
		if len(items) > 0 {
			history, err = tx.ListFeedback(ctx, models.FeedbackFilter{ItemNames: items})
			if err != nil {
				return err
			}
		}
		result = &PersonalizedResult{
			RecommendationResult: *base,
			PreferencesUsed:      len(prefs),
			MinConfidence:        minConfidence,
		}
		result.PersonalizationApplied = personalize(result.Recommendations, prefs, summarizeFeedback(history))
		return nil
	})
	if err != nil {
		e.logError("GetPersonalizedRecommendations", req, err)
		return nil, err
	}
	return result, nil
}

type preferenceIndex map[models.PreferenceType]map[string]models.UserPreference

func indexPreferences(prefs []models.UserPreference) preferenceIndex {
	idx := preferenceIndex{}
	for _, p := range prefs {
		if idx[p.PreferenceType] == nil {
			idx[p.PreferenceType] = map[string]models.UserPreference{}
		}
		idx[p.PreferenceType][p.PreferenceKey] = p
	}
	return idx
}

func (idx preferenceIndex) lookup(t models.PreferenceType, key string) (models.UserPreference, bool) {
	if key == "" {
		return models.UserPreference{}, false
	}
	p, ok := idx[t][key]
	return p, ok
}

// personalize adjusts recs in place and re-sorts them by priority desc, then
// learning_confidence desc. It reports whether anything was adjusted.
func personalize(recs []Recommendation, prefs []models.UserPreference, history map[string]*itemAcceptance) bool {
	idx := indexPreferences(prefs)
	applied := false
	for i := range recs {
		r := &recs[i]
		if p, ok := idx.lookup(models.PreferenceTypeCategoryPriority, r.Category); ok {
			r.Priority = utils.ClampInt(int(math.Round(float64(r.Priority)*p.PreferenceValue)), minPriority, maxPriority)
			r.Reason += fmt.Sprintf("; learned category weight %.2f (confidence %.0f%%)", p.PreferenceValue, p.ConfidenceScore*100)
			r.LearningConfidence = math.Max(r.LearningConfidence, p.ConfidenceScore)
			applied = true
		}
		if p, ok := idx.lookup(models.PreferenceTypeQuantityAdjustment, r.ItemName); ok {
			q := int(math.Round(float64(r.SuggestedQuantity) * p.PreferenceValue))
			r.SuggestedQuantity = utils.ClampInt(q, 1, math.MaxInt32)
			r.Reason += fmt.Sprintf("; quantity adjusted x%.2f from past purchases", p.PreferenceValue)
			r.LearningConfidence = math.Max(r.LearningConfidence, p.ConfidenceScore)
			applied = true
		}
		if a, ok := history[r.ItemName]; ok && a.total >= minHistoryRecords {
			rate := a.rate()
			switch {
			case rate < lowAcceptanceRate:
				r.Priority = utils.ClampInt(r.Priority-1, minPriority, maxPriority)
			case rate > highAcceptanceRate:
				r.Priority = utils.ClampInt(r.Priority+1, minPriority, maxPriority)
			}
			if a.actualQtyCount > 0 {
				avgActual := float64(a.actualQtySum) / float64(a.actualQtyCount)
				blended := int(math.Round((float64(r.SuggestedQuantity) + avgActual) / 2))
				r.SuggestedQuantity = utils.ClampInt(blended, 1, math.MaxInt32)
			}
			r.Reason += fmt.Sprintf("; historical acceptance %.0f%% over %d decisions", rate*100, a.total)
			r.LearningConfidence = math.Max(r.LearningConfidence, math.Min(1, float64(a.total)/historyConfidenceAt))
			applied = true
		}
		r.LearningConfidence = utils.RoundFloat(r.LearningConfidence, 4)
		r.refreshEstimatedCost()
	}
	sort.SliceStable(recs, func(i, j int) bool {
		if recs[i].Priority != recs[j].Priority {
			return recs[i].Priority > recs[j].Priority
		}
		return recs[i].LearningConfidence > recs[j].LearningConfidence
	})
	return applied
}
