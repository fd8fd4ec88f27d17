package procurement

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/mmdatafocus/household_backend/models"
	"github.com/mmdatafocus/household_backend/utils"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
)

const (
	maxPriority           = 5
	minPriority           = 1
	minReportedPriority   = 2
	supplyTargetDays      = 30
	staleLastPurchaseDays = 30
	seasonalBoostAbove    = 1.2
)

type Recommendation struct {
	RecommendationId      string          `json:"recommendation_id"`
	ItemName              string          `json:"item_name"`
	Category              string          `json:"category"`
	CurrentQuantity       int             `json:"current_quantity"`
	SuggestedQuantity     int             `json:"suggested_quantity"`
	Priority              int             `json:"priority"`
	Reason                string          `json:"reason"`
	ConsumptionRate       float64         `json:"consumption_rate"`
	DaysUntilEmpty        *float64        `json:"days_until_empty"`
	DaysSinceLastPurchase int             `json:"days_since_last_purchase"`
	AveragePrice          decimal.Decimal `json:"average_price"`
	EstimatedCost         decimal.Decimal `json:"estimated_cost"`
	SeasonalMultiplier    float64         `json:"seasonal_multiplier"`
	LearningConfidence    float64         `json:"learning_confidence"`

	// daysUntilEmpty is +Inf when nothing is consumed; DaysUntilEmpty is then nil.
	daysUntilEmpty float64
}

type RecommendationResult struct {
	Recommendations          []Recommendation `json:"recommendations"`
	AnalysisPeriodDays       int              `json:"analysis_period_days"`
	TotalItemsAnalyzed       int              `json:"total_items_analyzed"`
	RecommendationsGenerated int              `json:"recommendations_generated"`
}

// itemHistory aggregates the purchase lines of one item inside the analysis window.
type itemHistory struct {
	itemName      string
	category      string
	totalQuantity int
	totalSpent    decimal.Decimal
	firstPurchase time.Time
	lastPurchase  time.Time
}

func aggregateItemHistory(lines []models.PurchaseLine) []*itemHistory {
	var order []string
	byItem := map[string]*itemHistory{}
	for _, l := range lines {
		h, ok := byItem[l.ItemName]
		if !ok {
			h = &itemHistory{itemName: l.ItemName, firstPurchase: l.PurchaseDate, lastPurchase: l.PurchaseDate}
			byItem[l.ItemName] = h
			order = append(order, l.ItemName)
		}
		h.totalQuantity += l.Quantity
		h.totalSpent = h.totalSpent.Add(l.LineTotal())
		if l.PurchaseDate.Before(h.firstPurchase) {
			h.firstPurchase = l.PurchaseDate
		}
		if !l.PurchaseDate.Before(h.lastPurchase) {
			h.lastPurchase = l.PurchaseDate
			if l.Category != "" {
				h.category = l.Category
			}
		}
		if h.category == "" {
			h.category = l.Category
		}
	}
	out := make([]*itemHistory, 0, len(order))
	for _, name := range order {
		out = append(out, byItem[name])
	}
	return out
}

// basePriority applies the stock rules in order; the first match wins.
func basePriority(currentQuantity int, daysUntilEmpty float64, daysSinceLast int, rate float64) (int, string) {
	switch {
	case currentQuantity == 0:
		return 5, "Out of stock"
	case daysUntilEmpty <= 7:
		return 4, fmt.Sprintf("Stock runs out in about %.0f days", math.Ceil(daysUntilEmpty))
	case daysUntilEmpty <= 14:
		return 3, fmt.Sprintf("Stock runs out in about %.0f days", math.Ceil(daysUntilEmpty))
	case daysSinceLast > staleLastPurchaseDays && rate > 0:
		return 2, fmt.Sprintf("Not purchased for %d days", daysSinceLast)
	}
	return 1, "Stock is sufficient"
}

// applySeasonality raises priority by one (capped) when the multiplier exceeds 1.2.
// It never lowers priority.
func applySeasonality(priority int, reason string, multiplier float64) (int, string) {
	if multiplier <= seasonalBoostAbove {
		return priority, reason
	}
	return utils.ClampInt(priority+1, minPriority, maxPriority), fmt.Sprintf("%s; seasonal demand x%.2f", reason, multiplier)
}

func suggestedQuantity(rate float64) int {
	q := int(math.Ceil(rate * supplyTargetDays))
	if q < 1 {
		return 1
	}
	return q
}

// GenerateRecommendations ranks items bought in the analysis window by restock urgency.
// Items with a pending shopping list entry are excluded. It never writes.
func (e *Engine) GenerateRecommendations(ctx context.Context, req RecommendationRequest) (result *RecommendationResult, err error) {
	ctx, span := e.startSpan(ctx, "GenerateRecommendations")
	defer func() { endSpan(span, err) }()

	if err := utils.ValidateStruct(req); err != nil {
		return nil, err
	}
	err = e.readOnly(ctx, func(ctx context.Context, tx models.Store) error {
		result, err = e.generateRecommendations(ctx, tx, req)
		return err
	})
	if err != nil {
		e.logError("GenerateRecommendations", req, err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("recommendations", result.RecommendationsGenerated))
	return result, nil
}

func (e *Engine) generateRecommendations(ctx context.Context, tx models.Store, req RecommendationRequest) (*RecommendationResult, error) {
	depth := utils.DereferencePtr(req.AnalysisDepthDays, e.cfg.Recommendation.AnalysisDepthDays)
	seasonal := utils.DereferencePtr(req.IncludeSeasonality, e.cfg.Recommendation.IncludeSeasonality)
	now := e.now()
	start := e.today().AddDate(0, 0, -depth)

	lines, err := tx.ListPurchaseLines(ctx, models.PurchaseLineFilter{From: start, Categories: req.Categories})
	if err != nil {
		return nil, err
	}
	histories := aggregateItemHistory(lines)

	inventory, err := tx.ListInventoryItems(ctx, nil)
	if err != nil {
		return nil, err
	}
	stock := make(map[string]models.InventoryItem, len(inventory))
	for _, it := range inventory {
		stock[it.ItemName] = it
	}

	pending, err := tx.ListShoppingList(ctx, models.ShoppingListStatusPending)
	if err != nil {
		return nil, err
	}
	onList := make(map[string]bool, len(pending))
	for _, p := range pending {
		onList[p.ItemName] = true
	}

	month := now.In(e.loc).Month()
	recs := []Recommendation{}
	for _, h := range histories {
		if onList[h.itemName] {
			continue
		}
		item, known := stock[h.itemName]
		category := h.category
		if category == "" && known {
			category = item.Category
		}
		rec := e.scoreItem(h, item.CurrentQuantity, category, now)
		if seasonal {
			rec.SeasonalMultiplier = e.cfg.Seasonal.Multiplier(category, month)
			rec.Priority, rec.Reason = applySeasonality(rec.Priority, rec.Reason, rec.SeasonalMultiplier)
		}
		if rec.Priority < minReportedPriority {
			continue
		}
		recs = append(recs, rec)
	}

	sortRecommendations(recs)
	if limit := e.cfg.Recommendation.MaxResults; len(recs) > limit {
		recs = recs[:limit]
	}
	return &RecommendationResult{
		Recommendations:          recs,
		AnalysisPeriodDays:       depth,
		TotalItemsAnalyzed:       len(histories),
		RecommendationsGenerated: len(recs),
	}, nil
}

func (e *Engine) scoreItem(h *itemHistory, currentQuantity int, category string, now time.Time) Recommendation {
	daysSinceFirst := utils.WholeDaysBetween(h.firstPurchase, now, e.loc)
	if daysSinceFirst < 1 {
		daysSinceFirst = 1
	}
	rate := float64(h.totalQuantity) / float64(daysSinceFirst)
	daysSinceLast := utils.WholeDaysBetween(h.lastPurchase, now, e.loc)
	if daysSinceLast < 0 {
		daysSinceLast = 0
	}
	daysUntilEmpty := math.Inf(1)
	if rate > 0 {
		daysUntilEmpty = float64(currentQuantity) / rate
	}

	priority, reason := basePriority(currentQuantity, daysUntilEmpty, daysSinceLast, rate)
	qty := suggestedQuantity(rate)
	avgPrice := decimal.Zero
	if h.totalQuantity > 0 {
		avgPrice = h.totalSpent.Div(decimal.NewFromInt(int64(h.totalQuantity))).Round(2)
	}

	rec := Recommendation{
		RecommendationId:      uuid.NewString(),
		ItemName:              h.itemName,
		Category:              category,
		CurrentQuantity:       currentQuantity,
		SuggestedQuantity:     qty,
		Priority:              priority,
		Reason:                reason,
		ConsumptionRate:       utils.RoundFloat(rate, 4),
		DaysSinceLastPurchase: daysSinceLast,
		AveragePrice:          avgPrice,
		EstimatedCost:         avgPrice.Mul(decimal.NewFromInt(int64(qty))).Round(2),
		SeasonalMultiplier:    1.0,
		daysUntilEmpty:        daysUntilEmpty,
	}
	if !math.IsInf(daysUntilEmpty, 1) {
		rec.DaysUntilEmpty = utils.Ptr(utils.RoundFloat(daysUntilEmpty, 1))
	}
	return rec
}

// sortRecommendations orders by priority desc, then days until empty asc.
func sortRecommendations(recs []Recommendation) {
	sort.SliceStable(recs, func(i, j int) bool {
		if recs[i].Priority != recs[j].Priority {
			return recs[i].Priority > recs[j].Priority
		}
		return recs[i].daysUntilEmpty < recs[j].daysUntilEmpty
	})
}

func (r *Recommendation) refreshEstimatedCost() {
	r.EstimatedCost = r.AveragePrice.Mul(decimal.NewFromInt(int64(r.SuggestedQuantity))).Round(2)
}
