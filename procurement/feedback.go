package procurement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/mmdatafocus/household_backend/models"
	"github.com/mmdatafocus/household_backend/utils"
	"gorm.io/datatypes"
)

const (
	singleRecordIncrement   = 0.05
	bulkRecomputeIncrement  = 0.1
	preferenceWriteAttempts = 3
	preferenceLockTTL       = 10 * time.Second
	defaultRecomputeDays    = 30

	categoryWeightAccepted = 1.2
	categoryWeightRejected = 0.8
	categoryWeightNeutral  = 1.0
	seasonalAcceptedValue  = 1.1
	generalPreferenceKey   = "general"
)

// Confidence seeds for a preference's first sample.
var preferenceSeeds = map[models.PreferenceType]float64{
	models.PreferenceTypeCategoryPriority:   0.6,
	models.PreferenceTypeQuantityAdjustment: 0.7,
	models.PreferenceTypePriorityAdjustment: 0.5,
	models.PreferenceTypeSeasonalAdjustment: 0.4,
}

type preferenceUpdate struct {
	Type  models.PreferenceType
	Key   string
	Value float64
}

func (u preferenceUpdate) lockKey() string {
	return fmt.Sprintf("household:preference:%s:%s", u.Type, u.Key)
}

// derivePreferenceUpdates turns one feedback row into independent preference samples.
// Each sample applies only when the fields it needs are present.
func derivePreferenceUpdates(fb models.UserFeedback, loc *time.Location) []preferenceUpdate {
	var updates []preferenceUpdate
	if fb.Category != "" {
		weight := categoryWeightNeutral
		switch fb.UserAction {
		case models.UserActionAccepted:
			weight = categoryWeightAccepted
		case models.UserActionRejected:
			weight = categoryWeightRejected
		}
		updates = append(updates, preferenceUpdate{models.PreferenceTypeCategoryPriority, fb.Category, weight})
	}
	if fb.RecommendedQuantity != nil && fb.ActualQuantity != nil && *fb.RecommendedQuantity > 0 {
		updates = append(updates, preferenceUpdate{
			models.PreferenceTypeQuantityAdjustment, fb.ItemName,
			float64(*fb.ActualQuantity) / float64(*fb.RecommendedQuantity),
		})
	}
	if fb.RecommendedPriority != nil && fb.ActualPriority != nil && *fb.RecommendedPriority > 0 {
		key := fb.Category
		if key == "" {
			key = generalPreferenceKey
		}
		updates = append(updates, preferenceUpdate{
			models.PreferenceTypePriorityAdjustment, key,
			float64(*fb.ActualPriority) / float64(*fb.RecommendedPriority),
		})
	}
	if fb.UserAction == models.UserActionAccepted && fb.Category != "" {
		key := fmt.Sprintf("%s:%d", fb.Category, int(fb.CreatedAt.In(loc).Month()))
		updates = append(updates, preferenceUpdate{models.PreferenceTypeSeasonalAdjustment, key, seasonalAcceptedValue})
	}
	return updates
}

// mergePreference folds one sample into the running mean. Confidence only grows, capped at 1.
func mergePreference(p *models.UserPreference, value, increment float64) {
	n := float64(p.SampleCount)
	p.PreferenceValue = (p.PreferenceValue*n + value) / (n + 1)
	p.ConfidenceScore = utils.RoundFloat(minFloat(1.0, p.ConfidenceScore+increment), 4)
	p.SampleCount++
}

// preferenceSamples is every sample one (type, key) has received.
type preferenceSamples struct {
	preferenceUpdate
	sum   float64
	count int
}

// rebuildPreference sets p to the mean of all its samples. The bulk increment is credited once
// per sample after the first; confidence never drops below what p already had.
func rebuildPreference(p *models.UserPreference, samples preferenceSamples) {
	p.PreferenceValue = samples.sum / float64(samples.count)
	p.SampleCount = samples.count
	confidence := minFloat(1.0, preferenceSeeds[samples.Type]+float64(samples.count-1)*bulkRecomputeIncrement)
	if confidence > p.ConfidenceScore {
		p.ConfidenceScore = utils.RoundFloat(confidence, 4)
	}
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

type PreferenceChange struct {
	PreferenceType  models.PreferenceType `json:"preference_type"`
	PreferenceKey   string                `json:"preference_key"`
	PreviousValue   *float64              `json:"previous_value"`
	PreferenceValue float64               `json:"preference_value"`
	ConfidenceScore float64               `json:"confidence_score"`
	SampleCount     int                   `json:"sample_count"`
}

type FeedbackResult struct {
	FeedbackId         int                `json:"feedback_id"`
	ItemName           string             `json:"item_name"`
	UserAction         models.UserAction  `json:"user_action"`
	PreferencesUpdated []PreferenceChange `json:"preferences_updated"`
}

type BatchItemResult struct {
	Index              int    `json:"index"`
	ItemName           string `json:"item_name"`
	Success            bool   `json:"success"`
	FeedbackId         int    `json:"feedback_id,omitempty"`
	PreferencesUpdated int    `json:"preferences_updated"`
	Error              string `json:"error,omitempty"`
}

type BatchFeedbackResult struct {
	Processed int               `json:"processed"`
	Succeeded int               `json:"succeeded"`
	Failed    int               `json:"failed"`
	Results   []BatchItemResult `json:"results"`
}

type RecomputeResult struct {
	FeedbackProcessed  int `json:"feedback_processed"`
	PreferencesUpdated int `json:"preferences_updated"`
}

func (e *Engine) feedbackFromRequest(req FeedbackRequest) (*models.UserFeedback, error) {
	if err := utils.ValidateStruct(req); err != nil {
		return nil, err
	}
	action, err := models.ParseUserAction(req.UserAction)
	if err != nil {
		return nil, utils.FieldError("userAction", "oneof=accepted rejected modified ignored")
	}
	fb := &models.UserFeedback{
		RecommendationId:    req.RecommendationId,
		ItemName:            req.ItemName,
		Category:            req.Category,
		RecommendedQuantity: req.RecommendedQuantity,
		ActualQuantity:      req.ActualQuantity,
		RecommendedPriority: req.RecommendedPriority,
		ActualPriority:      req.ActualPriority,
		UserAction:          action,
		Feedback:            req.Feedback,
		CreatedAt:           e.now().UTC(),
	}
	if raw := req.ContextData; len(raw) > 0 && string(raw) != "null" {
		if !json.Valid(raw) {
			return nil, utils.FieldError("contextData", "json")
		}
		fb.ContextData = datatypes.JSON(raw)
	}
	return fb, nil
}

// withPreferenceLocks holds the redis locks of every preference touched around fn.
func (e *Engine) withPreferenceLocks(ctx context.Context, updates []preferenceUpdate, fn func() error) error {
	return e.withLocks(ctx, lockKeys(updates), preferenceLockTTL, fn)
}

func lockKeys(updates []preferenceUpdate) []string {
	keys := make([]string, 0, len(updates))
	for _, u := range updates {
		keys = append(keys, u.lockKey())
	}
	return keys
}

// withLocks takes the redis lock of every key, deduplicated and in sorted order, around fn.
func (e *Engine) withLocks(ctx context.Context, keys []string, ttl time.Duration, fn func() error) error {
	keys = utils.UniqueSlice(keys)
	sort.Strings(keys)
	return e.withSortedLocks(ctx, keys, ttl, fn)
}

func (e *Engine) withSortedLocks(ctx context.Context, keys []string, ttl time.Duration, fn func() error) error {
	if len(keys) == 0 {
		return fn()
	}
	return utils.WithKeyLock(ctx, e.locker, keys[0], ttl, func() error {
		return e.withSortedLocks(ctx, keys[1:], ttl, fn)
	})
}

// applyPreference inserts or merges one sample.
func (e *Engine) applyPreference(ctx context.Context, tx models.Store, upd preferenceUpdate, increment float64) (*PreferenceChange, error) {
	return e.writePreference(ctx, tx, upd, func(current *models.UserPreference) *models.UserPreference {
		if current == nil {
			return &models.UserPreference{
				PreferenceType:  upd.Type,
				PreferenceKey:   upd.Key,
				PreferenceValue: upd.Value,
				ConfidenceScore: preferenceSeeds[upd.Type],
				SampleCount:     1,
			}
		}
		mergePreference(current, upd.Value, increment)
		return current
	})
}

// writePreference creates or rewrites the row of upd's (type, key). next gets the stored row,
// or nil when there is none, and returns the row to write. The update is conditional on the
// version read; a lost race re-reads and retries a bounded number of times.
func (e *Engine) writePreference(ctx context.Context, tx models.Store, upd preferenceUpdate, next func(current *models.UserPreference) *models.UserPreference) (*PreferenceChange, error) {
	for attempt := 0; attempt < preferenceWriteAttempts; attempt++ {
		var change *PreferenceChange
		err := tx.Transaction(ctx, func(stx models.Store) error {
			current, err := stx.GetPreference(ctx, upd.Type, upd.Key)
			if errors.Is(err, utils.ErrorRecordNotFound) {
				pref := next(nil)
				if err := stx.CreatePreference(ctx, pref); err != nil {
					return err
				}
				change = preferenceChange(pref, nil)
				return nil
			} else if err != nil {
				return err
			}
			previous := current.PreferenceValue
			version := current.Version
			updated := next(current)
			if err := stx.UpdatePreference(ctx, updated, version); err != nil {
				return err
			}
			change = preferenceChange(updated, &previous)
			return nil
		})
		if errors.Is(err, utils.ErrStalePreference) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return change, nil
	}
	return nil, utils.NewDomainError(utils.DomainCodePreferenceBusy,
		"preference %s/%s kept changing; try again", upd.Type, upd.Key)
}

func preferenceChange(p *models.UserPreference, previous *float64) *PreferenceChange {
	return &PreferenceChange{
		PreferenceType:  p.PreferenceType,
		PreferenceKey:   p.PreferenceKey,
		PreviousValue:   previous,
		PreferenceValue: utils.RoundFloat(p.PreferenceValue, 4),
		ConfidenceScore: p.ConfidenceScore,
		SampleCount:     p.SampleCount,
	}
}

// RecordFeedback appends one decision and folds it into the learned preferences, all in
// one transaction.
func (e *Engine) RecordFeedback(ctx context.Context, req FeedbackRequest) (result *FeedbackResult, err error) {
	ctx, span := e.startSpan(ctx, "RecordFeedback")
	defer func() { endSpan(span, err) }()

	fb, err := e.feedbackFromRequest(req)
	if err != nil {
		return nil, err
	}
	updates := derivePreferenceUpdates(*fb, e.loc)
	err = e.withPreferenceLocks(ctx, updates, func() error {
		return e.store.Transaction(ctx, func(tx models.Store) error {
			result, err = e.recordFeedback(ctx, tx, fb, updates)
			return err
		})
	})
	if err != nil {
		e.logError("RecordFeedback", req, err)
		return nil, err
	}
	e.recorder.FeedbackRecorded(string(fb.UserAction))
	return result, nil
}

func (e *Engine) recordFeedback(ctx context.Context, tx models.Store, fb *models.UserFeedback, updates []preferenceUpdate) (*FeedbackResult, error) {
	if err := tx.CreateFeedback(ctx, fb); err != nil {
		return nil, err
	}
	result := &FeedbackResult{
		FeedbackId:         fb.ID,
		ItemName:           fb.ItemName,
		UserAction:         fb.UserAction,
		PreferencesUpdated: []PreferenceChange{},
	}
	for _, upd := range updates {
		change, err := e.applyPreference(ctx, tx, upd, singleRecordIncrement)
		if err != nil {
			return nil, err
		}
		result.PreferencesUpdated = append(result.PreferencesUpdated, *change)
	}
	if err := e.emitEvent(ctx, tx, models.EngineEventFeedbackRecorded, fb.ItemName, result); err != nil {
		return nil, err
	}
	return result, nil
}

// ProcessFeedbackBatch records each item in its own savepoint inside one transaction.
// A failing item is reported and rolled back alone; the rest of the batch commits.
func (e *Engine) ProcessFeedbackBatch(ctx context.Context, req BatchFeedbackRequest) (result *BatchFeedbackResult, err error) {
	ctx, span := e.startSpan(ctx, "ProcessFeedbackBatch")
	defer func() { endSpan(span, err) }()

	if err := utils.ValidateStruct(req); err != nil {
		return nil, err
	}
	type prepared struct {
		fb      *models.UserFeedback
		updates []preferenceUpdate
		err     error
	}
	items := make([]prepared, len(req.Feedbacks))
	var allUpdates []preferenceUpdate
	for i, r := range req.Feedbacks {
		fb, err := e.feedbackFromRequest(r)
		if err != nil {
			items[i] = prepared{err: err}
			continue
		}
		updates := derivePreferenceUpdates(*fb, e.loc)
		items[i] = prepared{fb: fb, updates: updates}
		allUpdates = append(allUpdates, updates...)
	}

	result = &BatchFeedbackResult{Processed: len(items), Results: make([]BatchItemResult, len(items))}
	err = e.withPreferenceLocks(ctx, allUpdates, func() error {
		return e.store.Transaction(ctx, func(tx models.Store) error {
			for i, it := range items {
				res := BatchItemResult{Index: i, ItemName: req.Feedbacks[i].ItemName}
				if it.err != nil {
					res.Error = it.err.Error()
					result.Results[i] = res
					continue
				}
				var recorded *FeedbackResult
				itemErr := tx.Transaction(ctx, func(stx models.Store) error {
					var err error
					recorded, err = e.recordFeedback(ctx, stx, it.fb, it.updates)
					return err
				})
				if itemErr != nil {
					e.logError("ProcessFeedbackBatch", req.Feedbacks[i], itemErr)
					res.Error = itemErr.Error()
				} else {
					res.Success = true
					res.FeedbackId = recorded.FeedbackId
					res.PreferencesUpdated = len(recorded.PreferencesUpdated)
				}
				result.Results[i] = res
			}
			return nil
		})
	})
	if err != nil {
		e.logError("ProcessFeedbackBatch", nil, err)
		return nil, err
	}
	for i, r := range result.Results {
		if r.Success {
			result.Succeeded++
			e.recorder.FeedbackRecorded(string(items[i].fb.UserAction))
		} else {
			result.Failed++
		}
	}
	return result, nil
}

// RecomputePreferences rebuilds every preference touched by feedback in the last SinceDays
// days from that preference's whole feedback history. Rebuilt rows hold the mean of all their
// samples with sample_count equal to the number of samples, so repeating the call changes
// nothing.
func (e *Engine) RecomputePreferences(ctx context.Context, req RecomputePreferencesRequest) (result *RecomputeResult, err error) {
	ctx, span := e.startSpan(ctx, "RecomputePreferences")
	defer func() { endSpan(span, err) }()

	if err := utils.ValidateStruct(req); err != nil {
		return nil, err
	}
	since := e.today().AddDate(0, 0, -utils.DereferencePtr(req.SinceDays, defaultRecomputeDays))
	recent, err := e.store.ListFeedback(ctx, models.FeedbackFilter{From: &since})
	if err != nil {
		e.logError("RecomputePreferences", req, err)
		return nil, err
	}
	result = &RecomputeResult{}
	if len(recent) == 0 {
		return result, nil
	}
	var touched []preferenceUpdate
	for _, fb := range recent {
		touched = append(touched, derivePreferenceUpdates(fb, e.loc)...)
	}
	rebuilt := 0
	err = e.withPreferenceLocks(ctx, touched, func() error {
		return e.store.Transaction(ctx, func(tx models.Store) error {
			history, err := tx.ListFeedback(ctx, models.FeedbackFilter{})
			if err != nil {
				return err
			}
			groups := collectSamples(history, touched, e.loc)
			for _, samples := range groups {
				if samples.count == 0 {
					continue
				}
				_, err := e.writePreference(ctx, tx, samples.preferenceUpdate, func(current *models.UserPreference) *models.UserPreference {
					if current == nil {
						current = &models.UserPreference{PreferenceType: samples.Type, PreferenceKey: samples.Key}
					}
					rebuildPreference(current, samples)
					return current
				})
				if err != nil {
					return err
				}
			}
			rebuilt = len(groups)
			return nil
		})
	})
	if err != nil {
		e.logError("RecomputePreferences", req, err)
		return nil, err
	}
	result.FeedbackProcessed = len(recent)
	result.PreferencesUpdated = rebuilt
	return result, nil
}

// collectSamples groups the samples of history by (type, key), keeping only the keys in
// touched. Groups come back in lock key order.
func collectSamples(history []models.UserFeedback, touched []preferenceUpdate, loc *time.Location) []preferenceSamples {
	groups := map[string]*preferenceSamples{}
	for _, u := range touched {
		if _, ok := groups[u.lockKey()]; !ok {
			groups[u.lockKey()] = &preferenceSamples{preferenceUpdate: preferenceUpdate{Type: u.Type, Key: u.Key}}
		}
	}
	for _, fb := range history {
		for _, u := range derivePreferenceUpdates(fb, loc) {
			if g, ok := groups[u.lockKey()]; ok {
				g.sum += u.Value
				g.count++
			}
		}
	}
	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]preferenceSamples, 0, len(keys))
	for _, k := range keys {
		out = append(out, *groups[k])
	}
	return out
}

// GetUserPreferences lists learned preferences at or above MinConfidence (default 0).
func (e *Engine) GetUserPreferences(ctx context.Context, req PreferencesQueryRequest) ([]models.UserPreference, error) {
	if err := utils.ValidateStruct(req); err != nil {
		return nil, err
	}
	prefs, err := e.store.ListPreferences(ctx, models.PreferenceFilter{
		MinConfidence:  utils.DereferencePtr(req.MinConfidence, 0),
		PreferenceType: models.PreferenceType(req.PreferenceType),
	})
	if err != nil {
		e.logError("GetUserPreferences", req, err)
		return nil, err
	}
	if prefs == nil {
		prefs = []models.UserPreference{}
	}
	return prefs, nil
}
