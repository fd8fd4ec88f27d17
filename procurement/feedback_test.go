package procurement

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mmdatafocus/household_backend/models"
	"github.com/mmdatafocus/household_backend/utils"
)

func TestCategoryPriorityRunningMean(t *testing.T) {
	now := time.Date(2024, 5, 15, 12, 0, 0, 0, time.UTC)
	engine, store := newTestEngine(t, now)
	ctx := context.Background()

	for _, action := range []string{"accepted", "accepted", "rejected"} {
		if _, err := engine.RecordFeedback(ctx, FeedbackRequest{ItemName: "米", Category: "食品", UserAction: action}); err != nil {
			t.Fatalf("RecordFeedback(%s): %v", action, err)
		}
	}

	pref, err := store.GetPreference(ctx, models.PreferenceTypeCategoryPriority, "食品")
	if err != nil {
		t.Fatalf("GetPreference: %v", err)
	}
	if !almostEqual(pref.PreferenceValue, 3.2/3) {
		t.Fatalf("preference value = %v, want %v", pref.PreferenceValue, 3.2/3)
	}
	if !almostEqual(pref.ConfidenceScore, 0.70) {
		t.Fatalf("confidence = %v, want 0.70", pref.ConfidenceScore)
	}
	if pref.SampleCount != 3 {
		t.Fatalf("sample count = %d, want 3", pref.SampleCount)
	}

	seasonal, err := store.GetPreference(ctx, models.PreferenceTypeSeasonalAdjustment, "食品:5")
	if err != nil {
		t.Fatalf("seasonal preference: %v", err)
	}
	if seasonal.SampleCount != 2 || !almostEqual(seasonal.ConfidenceScore, 0.45) || !almostEqual(seasonal.PreferenceValue, 1.1) {
		t.Fatalf("unexpected seasonal preference %+v", seasonal)
	}

	rows, _ := store.ListFeedback(ctx, models.FeedbackFilter{})
	if len(rows) != 3 {
		t.Fatalf("expected 3 feedback rows, got %d", len(rows))
	}
}

func TestQuantityAdjustmentIsArithmeticMean(t *testing.T) {
	engine, store := newTestEngine(t, time.Date(2024, 5, 15, 12, 0, 0, 0, time.UTC))
	ctx := context.Background()

	actuals := []int{10, 5, 20, 8}
	var sum float64
	for _, a := range actuals {
		sum += float64(a) / 10
		_, err := engine.RecordFeedback(ctx, FeedbackRequest{
			ItemName:            "鸡蛋",
			UserAction:          "modified",
			RecommendedQuantity: utils.Ptr(10),
			ActualQuantity:      utils.Ptr(a),
		})
		if err != nil {
			t.Fatalf("RecordFeedback: %v", err)
		}
	}
	pref, err := store.GetPreference(ctx, models.PreferenceTypeQuantityAdjustment, "鸡蛋")
	if err != nil {
		t.Fatalf("GetPreference: %v", err)
	}
	if !almostEqual(pref.PreferenceValue, sum/float64(len(actuals))) {
		t.Fatalf("value = %v, want mean %v", pref.PreferenceValue, sum/float64(len(actuals)))
	}
	if pref.SampleCount != len(actuals) {
		t.Fatalf("sample count = %d, want %d", pref.SampleCount, len(actuals))
	}
	if _, err := store.GetPreference(ctx, models.PreferenceTypeCategoryPriority, ""); !errors.Is(err, utils.ErrorRecordNotFound) {
		t.Fatalf("no category preference expected without a category")
	}
}

func TestMergePreferenceConfidenceCapped(t *testing.T) {
	p := &models.UserPreference{PreferenceValue: 1, ConfidenceScore: 0.98, SampleCount: 4}
	mergePreference(p, 2, singleRecordIncrement)
	if p.ConfidenceScore != 1.0 {
		t.Fatalf("confidence = %v, want 1.0", p.ConfidenceScore)
	}
	if !almostEqual(p.PreferenceValue, 1.2) || p.SampleCount != 5 {
		t.Fatalf("unexpected merge result %+v", p)
	}
}

func TestDerivePreferenceUpdates(t *testing.T) {
	fb := models.UserFeedback{
		ItemName:            "牛奶",
		UserAction:          models.UserActionModified,
		RecommendedPriority: utils.Ptr(4),
		ActualPriority:      utils.Ptr(2),
		CreatedAt:           time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
	}
	updates := derivePreferenceUpdates(fb, time.UTC)
	if len(updates) != 1 {
		t.Fatalf("expected only a priority adjustment, got %+v", updates)
	}
	if updates[0].Type != models.PreferenceTypePriorityAdjustment || updates[0].Key != "general" || updates[0].Value != 0.5 {
		t.Fatalf("unexpected update %+v", updates[0])
	}
}

func TestRecordFeedbackRejectsInvalidAction(t *testing.T) {
	engine, store := newTestEngine(t, time.Now())
	ctx := context.Background()

	_, err := engine.RecordFeedback(ctx, FeedbackRequest{ItemName: "米", UserAction: "maybe"})
	if !utils.IsValidationError(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	_, err = engine.RecordFeedback(ctx, FeedbackRequest{UserAction: "accepted"})
	if !utils.IsValidationError(err) {
		t.Fatalf("missing item name must be a validation error, got %v", err)
	}
	rows, _ := store.ListFeedback(ctx, models.FeedbackFilter{})
	if len(rows) != 0 {
		t.Fatalf("nothing may be written on validation failure")
	}
}

func TestRecordFeedbackAcceptsAnyCase(t *testing.T) {
	engine, _ := newTestEngine(t, time.Now())
	res, err := engine.RecordFeedback(context.Background(), FeedbackRequest{ItemName: "米", UserAction: "Accepted"})
	if err != nil {
		t.Fatalf("RecordFeedback: %v", err)
	}
	if res.UserAction != models.UserActionAccepted {
		t.Fatalf("user action = %s", res.UserAction)
	}
}

func TestProcessFeedbackBatchCollectsFailures(t *testing.T) {
	engine, store := newTestEngine(t, time.Date(2024, 5, 15, 12, 0, 0, 0, time.UTC))
	ctx := context.Background()

	res, err := engine.ProcessFeedbackBatch(ctx, BatchFeedbackRequest{Feedbacks: []FeedbackRequest{
		{ItemName: "米", Category: "食品", UserAction: "accepted"},
		{ItemName: "面", Category: "食品", UserAction: "unknown"},
		{ItemName: "油", Category: "食品", UserAction: "rejected"},
	}})
	if err != nil {
		t.Fatalf("ProcessFeedbackBatch: %v", err)
	}
	if res.Processed != 3 || res.Succeeded != 2 || res.Failed != 1 {
		t.Fatalf("unexpected batch counts %+v", res)
	}
	if res.Results[1].Success || res.Results[1].Error == "" {
		t.Fatalf("second item must fail with an error, got %+v", res.Results[1])
	}
	rows, _ := store.ListFeedback(ctx, models.FeedbackFilter{})
	if len(rows) != 2 {
		t.Fatalf("expected 2 stored feedback rows, got %d", len(rows))
	}
	pref, _ := store.GetPreference(ctx, models.PreferenceTypeCategoryPriority, "食品")
	if pref == nil || pref.SampleCount != 2 || !almostEqual(pref.PreferenceValue, 1.0) {
		t.Fatalf("unexpected category preference %+v", pref)
	}
}

func TestRecomputePreferencesIsIdempotent(t *testing.T) {
	now := time.Date(2024, 5, 15, 12, 0, 0, 0, time.UTC)
	engine, store := newTestEngine(t, now)
	ctx := context.Background()

	for _, action := range []string{"accepted", "accepted", "rejected"} {
		if _, err := engine.RecordFeedback(ctx, FeedbackRequest{ItemName: "米", Category: "食品", UserAction: action}); err != nil {
			t.Fatalf("RecordFeedback(%s): %v", action, err)
		}
	}
	for round := 1; round <= 2; round++ {
		res, err := engine.RecomputePreferences(ctx, RecomputePreferencesRequest{})
		if err != nil {
			t.Fatalf("RecomputePreferences round %d: %v", round, err)
		}
		// category_priority/食品 and seasonal_adjustment/食品:5
		if res.FeedbackProcessed != 3 || res.PreferencesUpdated != 2 {
			t.Fatalf("round %d: unexpected recompute result %+v", round, res)
		}
		pref, err := store.GetPreference(ctx, models.PreferenceTypeCategoryPriority, "食品")
		if err != nil {
			t.Fatalf("GetPreference: %v", err)
		}
		if pref.SampleCount != 3 || !almostEqual(pref.PreferenceValue, 3.2/3) {
			t.Fatalf("round %d: sample count and mean must match the 3 events, got %+v", round, pref)
		}
		// seed 0.6 plus 0.1 for each of the 2 further samples
		if !almostEqual(pref.ConfidenceScore, 0.8) {
			t.Fatalf("round %d: confidence = %v, want 0.8", round, pref.ConfidenceScore)
		}
		seasonal, err := store.GetPreference(ctx, models.PreferenceTypeSeasonalAdjustment, "食品:5")
		if err != nil {
			t.Fatalf("seasonal preference: %v", err)
		}
		if seasonal.SampleCount != 2 || !almostEqual(seasonal.PreferenceValue, 1.1) {
			t.Fatalf("round %d: unexpected seasonal preference %+v", round, seasonal)
		}
	}
}

func TestRecomputePreferencesUsesWholeHistory(t *testing.T) {
	now := time.Date(2024, 5, 15, 12, 0, 0, 0, time.UTC)
	engine, store := newTestEngine(t, now)
	ctx := context.Background()

	// older than the window and never merged
	old := &models.UserFeedback{ItemName: "米", Category: "食品", UserAction: models.UserActionAccepted, CreatedAt: now.AddDate(0, 0, -60)}
	if err := store.CreateFeedback(ctx, old); err != nil {
		t.Fatalf("CreateFeedback: %v", err)
	}
	// stored without its preference update
	lost := &models.UserFeedback{ItemName: "油", Category: "调味品", UserAction: models.UserActionRejected, CreatedAt: now}
	if err := store.CreateFeedback(ctx, lost); err != nil {
		t.Fatalf("CreateFeedback: %v", err)
	}
	if _, err := engine.RecordFeedback(ctx, FeedbackRequest{ItemName: "米", Category: "食品", UserAction: "rejected"}); err != nil {
		t.Fatalf("RecordFeedback: %v", err)
	}

	res, err := engine.RecomputePreferences(ctx, RecomputePreferencesRequest{})
	if err != nil {
		t.Fatalf("RecomputePreferences: %v", err)
	}
	if res.FeedbackProcessed != 2 || res.PreferencesUpdated != 2 {
		t.Fatalf("unexpected recompute result %+v", res)
	}
	food, _ := store.GetPreference(ctx, models.PreferenceTypeCategoryPriority, "食品")
	if food == nil || food.SampleCount != 2 || !almostEqual(food.PreferenceValue, 1.0) || !almostEqual(food.ConfidenceScore, 0.7) {
		t.Fatalf("食品 must be rebuilt from both samples, got %+v", food)
	}
	spice, _ := store.GetPreference(ctx, models.PreferenceTypeCategoryPriority, "调味品")
	if spice == nil || spice.SampleCount != 1 || !almostEqual(spice.PreferenceValue, 0.8) || !almostEqual(spice.ConfidenceScore, 0.6) {
		t.Fatalf("调味品 must be created from its single sample, got %+v", spice)
	}
	if _, err := store.GetPreference(ctx, models.PreferenceTypeSeasonalAdjustment, "食品:3"); !errors.Is(err, utils.ErrorRecordNotFound) {
		t.Fatalf("keys only seen outside the window are not rebuilt, got %v", err)
	}
}

func TestRebuildPreferenceKeepsHigherConfidence(t *testing.T) {
	p := &models.UserPreference{PreferenceValue: 1, ConfidenceScore: 0.95, SampleCount: 9}
	rebuildPreference(p, preferenceSamples{
		preferenceUpdate: preferenceUpdate{Type: models.PreferenceTypeCategoryPriority, Key: "食品"},
		sum:              2.0,
		count:            2,
	})
	if p.SampleCount != 2 || !almostEqual(p.PreferenceValue, 1.0) || p.ConfidenceScore != 0.95 {
		t.Fatalf("unexpected rebuild %+v", p)
	}
}

func TestSeasonalPreferenceNeedsCategory(t *testing.T) {
	fb := models.UserFeedback{
		ItemName:   "牛奶",
		UserAction: models.UserActionAccepted,
		CreatedAt:  time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
	}
	if updates := derivePreferenceUpdates(fb, time.UTC); len(updates) != 0 {
		t.Fatalf("accepted feedback without a category derives nothing, got %+v", updates)
	}
	fb.Category = "食品"
	updates := derivePreferenceUpdates(fb, time.UTC)
	if len(updates) != 2 || updates[1].Type != models.PreferenceTypeSeasonalAdjustment || updates[1].Key != "食品:3" {
		t.Fatalf("unexpected updates %+v", updates)
	}
}

func TestProcessFeedbackBatchRejectsOversizedBatch(t *testing.T) {
	engine, store := newTestEngine(t, time.Now())
	feedbacks := make([]FeedbackRequest, maxFeedbackBatch+1)
	for i := range feedbacks {
		feedbacks[i] = FeedbackRequest{ItemName: "米", UserAction: "accepted"}
	}
	_, err := engine.ProcessFeedbackBatch(context.Background(), BatchFeedbackRequest{Feedbacks: feedbacks})
	var ve *utils.ValidationError
	if !errors.As(err, &ve) || ve.Fields["feedbacks"] != "max=100" {
		t.Fatalf("expected max=100 on feedbacks, got %v", err)
	}
	rows, _ := store.ListFeedback(context.Background(), models.FeedbackFilter{})
	if len(rows) != 0 {
		t.Fatalf("nothing may be written for a rejected batch")
	}
}

// staleStore loses the version race a fixed number of times.
type staleStore struct {
	*models.MemoryStore
	failures int
}

func (s *staleStore) Transaction(ctx context.Context, fn func(tx models.Store) error) error {
	return s.MemoryStore.Transaction(ctx, func(models.Store) error { return fn(s) })
}

func (s *staleStore) UpdatePreference(ctx context.Context, pref *models.UserPreference, expectedVersion int) error {
	if s.failures > 0 {
		s.failures--
		return utils.ErrStalePreference
	}
	return s.MemoryStore.UpdatePreference(ctx, pref, expectedVersion)
}

func TestApplyPreferenceRetriesAfterStaleVersion(t *testing.T) {
	ctx := context.Background()
	store := &staleStore{MemoryStore: models.NewMemoryStore()}
	engine := NewEngine(store, testConfig(), WithLogger(quietLogger()))
	upd := preferenceUpdate{models.PreferenceTypeCategoryPriority, "食品", 1.2}

	if _, err := engine.applyPreference(ctx, store, upd, singleRecordIncrement); err != nil {
		t.Fatalf("first sample: %v", err)
	}
	store.failures = 2
	change, err := engine.applyPreference(ctx, store, upd, singleRecordIncrement)
	if err != nil {
		t.Fatalf("expected success on third attempt, got %v", err)
	}
	if change.SampleCount != 2 {
		t.Fatalf("sample count = %d, want 2", change.SampleCount)
	}

	store.failures = preferenceWriteAttempts
	_, err = engine.applyPreference(ctx, store, upd, singleRecordIncrement)
	var de *utils.DomainError
	if !errors.As(err, &de) || de.Code != utils.DomainCodePreferenceBusy {
		t.Fatalf("expected preference conflict, got %v", err)
	}
}

func TestRecordFeedbackWritesOutboxEvent(t *testing.T) {
	engine, store := newTestEngine(t, time.Now(), WithEvents(true))
	ctx := utils.SetCorrelationIdInContext(context.Background(), "corr-1")
	if _, err := engine.RecordFeedback(ctx, FeedbackRequest{ItemName: "米", UserAction: "ignored"}); err != nil {
		t.Fatalf("RecordFeedback: %v", err)
	}
	events := store.Events()
	if len(events) != 1 || events[0].EventType != models.EngineEventFeedbackRecorded || events[0].CorrelationId != "corr-1" {
		t.Fatalf("unexpected outbox events %+v", events)
	}
}
