package procurement

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/mmdatafocus/household_backend/models"
	"github.com/mmdatafocus/household_backend/utils"
)

func TestGenerateRecommendationsOutOfStockItem(t *testing.T) {
	now := time.Date(2024, 5, 15, 12, 0, 0, 0, time.UTC)
	engine, store := newTestEngine(t, now)

	for i, daysAgo := range []int{90, 60, 30} {
		seedOrder(t, store, "JD-"+string(rune('A'+i)), now.AddDate(0, 0, -daysAgo), line{"抽纸", "日用品", 30, 2.5})
	}
	seedInventory(t, store, "抽纸", "日用品", 0)

	res, err := engine.GenerateRecommendations(context.Background(), RecommendationRequest{})
	if err != nil {
		t.Fatalf("GenerateRecommendations: %v", err)
	}
	rec, ok := findRecommendation(res.Recommendations, "抽纸")
	if !ok {
		t.Fatalf("expected recommendation for 抽纸, got %+v", res.Recommendations)
	}
	if rec.Priority != 5 {
		t.Fatalf("priority = %d, want 5", rec.Priority)
	}
	if rec.SuggestedQuantity != 30 {
		t.Fatalf("suggested quantity = %d, want 30", rec.SuggestedQuantity)
	}
	if !almostEqual(rec.ConsumptionRate, 1.0) {
		t.Fatalf("consumption rate = %v, want 1.0", rec.ConsumptionRate)
	}
	if rec.DaysUntilEmpty == nil || *rec.DaysUntilEmpty != 0 {
		t.Fatalf("days until empty = %v, want 0", rec.DaysUntilEmpty)
	}
	if rec.DaysSinceLastPurchase != 30 {
		t.Fatalf("days since last purchase = %d, want 30", rec.DaysSinceLastPurchase)
	}
	if got := rec.EstimatedCost.String(); got != "75" {
		t.Fatalf("estimated cost = %s, want 75", got)
	}
	if res.AnalysisPeriodDays != 90 || res.TotalItemsAnalyzed != 1 || res.RecommendationsGenerated != 1 {
		t.Fatalf("unexpected summary: %+v", res)
	}
}

func TestBasePriorityFirstMatchWins(t *testing.T) {
	cases := []struct {
		name          string
		qty           int
		daysUntil     float64
		daysSinceLast int
		rate          float64
		want          int
	}{
		{"empty", 0, 0, 40, 1, 5},
		{"one week", 5, 7, 40, 1, 4},
		{"two weeks", 10, 14, 40, 1, 3},
		{"stale", 100, 100, 31, 1, 2},
		{"stale but not consumed", 100, 100, 31, 0, 1},
		{"fine", 100, 100, 10, 1, 1},
	}
	for _, tc := range cases {
		got, reason := basePriority(tc.qty, tc.daysUntil, tc.daysSinceLast, tc.rate)
		if got != tc.want {
			t.Fatalf("%s: priority = %d, want %d", tc.name, got, tc.want)
		}
		if reason == "" {
			t.Fatalf("%s: empty reason", tc.name)
		}
	}
}

func TestSeasonalityNeverLowersPriorityOrExceedsCap(t *testing.T) {
	for p := 1; p <= 5; p++ {
		for _, m := range []float64{0.9, 1.0, 1.2, 1.21, 1.3, 1.4} {
			got, reason := applySeasonality(p, "base", m)
			if got < p {
				t.Fatalf("priority %d with multiplier %v lowered to %d", p, m, got)
			}
			if got > 5 {
				t.Fatalf("priority %d with multiplier %v exceeded cap: %d", p, m, got)
			}
			boosted := m > 1.2
			if boosted != strings.Contains(reason, "seasonal") {
				t.Fatalf("multiplier %v: reason %q", m, reason)
			}
		}
	}
}

func TestGenerateRecommendationsSeasonalBoost(t *testing.T) {
	now := time.Date(2024, 2, 10, 9, 0, 0, 0, time.UTC)
	engine, store := newTestEngine(t, now)

	// 10 units over 50 days; 100 on hand lasts 500 days, so only the stale-purchase rule applies.
	seedOrder(t, store, "TB-1", now.AddDate(0, 0, -50), line{"饺子", "食品", 10, 20})
	seedInventory(t, store, "饺子", "食品", 100)

	res, err := engine.GenerateRecommendations(context.Background(), RecommendationRequest{})
	if err != nil {
		t.Fatalf("GenerateRecommendations: %v", err)
	}
	rec, ok := findRecommendation(res.Recommendations, "饺子")
	if !ok {
		t.Fatalf("expected seasonal recommendation, got %+v", res.Recommendations)
	}
	if rec.Priority != 3 {
		t.Fatalf("priority = %d, want 3 (stale 2 + seasonal 1)", rec.Priority)
	}
	if rec.SeasonalMultiplier != 1.4 {
		t.Fatalf("seasonal multiplier = %v, want 1.4", rec.SeasonalMultiplier)
	}

	res, err = engine.GenerateRecommendations(context.Background(), RecommendationRequest{IncludeSeasonality: utils.NewFalse()})
	if err != nil {
		t.Fatalf("GenerateRecommendations: %v", err)
	}
	rec, _ = findRecommendation(res.Recommendations, "饺子")
	if rec.Priority != 2 {
		t.Fatalf("priority without seasonality = %d, want 2", rec.Priority)
	}
}

func TestGenerateRecommendationsExcludesPendingAndLowPriority(t *testing.T) {
	now := time.Date(2024, 5, 15, 12, 0, 0, 0, time.UTC)
	engine, store := newTestEngine(t, now)
	ctx := context.Background()

	seedOrder(t, store, "JD-1", now.AddDate(0, 0, -10), line{"牛奶", "食品", 10, 5}, line{"洗洁精", "日用品", 1, 15})
	seedOrder(t, store, "JD-2", now.AddDate(0, 0, -5), line{"牙膏", "个人护理", 2, 12})
	seedInventory(t, store, "牛奶", "食品", 0)
	seedInventory(t, store, "洗洁精", "日用品", 50)
	seedInventory(t, store, "牙膏", "个人护理", 0)

	pending := &models.ShoppingListEntry{ItemName: "牙膏", SuggestedQuantity: 2, Priority: 5, Status: models.ShoppingListStatusPending, AddedAt: now}
	if err := store.SaveShoppingEntry(ctx, pending); err != nil {
		t.Fatalf("seed shopping entry: %v", err)
	}

	res, err := engine.GenerateRecommendations(ctx, RecommendationRequest{})
	if err != nil {
		t.Fatalf("GenerateRecommendations: %v", err)
	}
	if _, ok := findRecommendation(res.Recommendations, "牙膏"); ok {
		t.Fatalf("pending item must not be recommended again")
	}
	if _, ok := findRecommendation(res.Recommendations, "洗洁精"); ok {
		t.Fatalf("well stocked item must be filtered out")
	}
	if len(res.Recommendations) != 1 || res.Recommendations[0].ItemName != "牛奶" {
		t.Fatalf("unexpected recommendations: %+v", res.Recommendations)
	}
	if res.TotalItemsAnalyzed != 3 {
		t.Fatalf("total items analyzed = %d, want 3", res.TotalItemsAnalyzed)
	}
}

func TestGenerateRecommendationsOrderingAndLimit(t *testing.T) {
	now := time.Date(2024, 5, 15, 12, 0, 0, 0, time.UTC)
	engine, store := newTestEngine(t, now)
	engine.cfg.Recommendation.MaxResults = 2

	// 1 unit/day for each item; stock decides urgency.
	seedOrder(t, store, "JD-1", now.AddDate(0, 0, -20),
		line{"A", "", 20, 1}, line{"B", "", 20, 1}, line{"C", "", 20, 1})
	seedInventory(t, store, "A", "", 12) // 12 days -> 3
	seedInventory(t, store, "B", "", 3)  // 3 days -> 4
	seedInventory(t, store, "C", "", 6)  // 6 days -> 4

	res, err := engine.GenerateRecommendations(context.Background(), RecommendationRequest{})
	if err != nil {
		t.Fatalf("GenerateRecommendations: %v", err)
	}
	if len(res.Recommendations) != 2 {
		t.Fatalf("expected truncation to 2, got %d", len(res.Recommendations))
	}
	if res.Recommendations[0].ItemName != "B" || res.Recommendations[1].ItemName != "C" {
		t.Fatalf("unexpected order: %s, %s", res.Recommendations[0].ItemName, res.Recommendations[1].ItemName)
	}
}

func TestGenerateRecommendationsRejectsInvalidDepth(t *testing.T) {
	engine, _ := newTestEngine(t, time.Now())
	_, err := engine.GenerateRecommendations(context.Background(), RecommendationRequest{AnalysisDepthDays: utils.Ptr(-1)})
	if !utils.IsValidationError(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
