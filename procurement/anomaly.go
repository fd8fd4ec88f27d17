package procurement

import (
	"context"
	"sort"
	"time"

	"github.com/mmdatafocus/household_backend/models"
	"github.com/mmdatafocus/household_backend/utils"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
)

type RiskLevel string

const (
	RiskLevelNormal RiskLevel = "normal"
	RiskLevelLow    RiskLevel = "low"
	RiskLevelMedium RiskLevel = "medium"
	RiskLevelHigh   RiskLevel = "high"
)

const (
	frequencyMinPurchases = 5
	frequencyMaxSpanDays  = 7
)

// RiskLevelFor maps a total anomaly count to a risk level; it is monotonic in total.
func RiskLevelFor(total int) RiskLevel {
	switch {
	case total >= 10:
		return RiskLevelHigh
	case total >= 5:
		return RiskLevelMedium
	case total >= 1:
		return RiskLevelLow
	}
	return RiskLevelNormal
}

type AnomalyParameters struct {
	AnalysisDepthDays           int     `json:"analysisDepthDays"`
	DailyThresholdMultiplier    float64 `json:"dailyThresholdMultiplier"`
	CategoryThresholdMultiplier float64 `json:"categoryThresholdMultiplier"`
	UnusualItemThreshold        float64 `json:"unusualItemThreshold"`
}

type Period struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

type DailyAnomaly struct {
	Date       string          `json:"date"`
	Spending   decimal.Decimal `json:"spending"`
	Threshold  float64         `json:"threshold"`
	OrderCount int             `json:"order_count"`
}

type CategoryAnomaly struct {
	Category     string          `json:"category"`
	Date         string          `json:"date"`
	Spending     decimal.Decimal `json:"spending"`
	Threshold    float64         `json:"threshold"`
	BaselineMean float64         `json:"baseline_mean"`
}

type ItemAnomaly struct {
	OrderId      string          `json:"order_id"`
	ItemName     string          `json:"item_name"`
	Category     string          `json:"category"`
	Quantity     int             `json:"quantity"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
	TotalPrice   decimal.Decimal `json:"total_price"`
	PurchaseDate string          `json:"purchase_date"`
	StoreName    string          `json:"store_name"`
}

type FrequencyAnomaly struct {
	ItemName      string `json:"item_name"`
	Category      string `json:"category"`
	PurchaseCount int    `json:"purchase_count"`
	FirstPurchase string `json:"first_purchase"`
	LastPurchase  string `json:"last_purchase"`
	SpanDays      int    `json:"span_days"`
}

type AnomalyLists struct {
	DailySpending      []DailyAnomaly     `json:"dailySpending"`
	CategorySpending   []CategoryAnomaly  `json:"categorySpending"`
	UnusualItems       []ItemAnomaly      `json:"unusualItems"`
	FrequencyAnomalies []FrequencyAnomaly `json:"frequencyAnomalies"`
}

func (l AnomalyLists) Total() int {
	return len(l.DailySpending) + len(l.CategorySpending) + len(l.UnusualItems) + len(l.FrequencyAnomalies)
}

type AnomalySummary struct {
	TotalAnomalies int       `json:"totalAnomalies"`
	RiskLevel      RiskLevel `json:"riskLevel"`
}

// AnomalyReport. Baseline is nil when the lookback window holds no orders, in which case
// no daily anomalies are evaluated.
type AnomalyReport struct {
	AnalysisParameters AnomalyParameters    `json:"analysisParameters"`
	AnalysisPeriod     Period               `json:"analysisPeriod"`
	Baseline           *Baseline            `json:"baseline"`
	CategoryBaselines  map[string]*Baseline `json:"categoryBaselines"`
	Anomalies          AnomalyLists         `json:"anomalies"`
	Summary            AnomalySummary       `json:"summary"`
}

func (e *Engine) anomalyParameters(req AnomalyRequest) AnomalyParameters {
	d := e.cfg.Anomaly
	return AnomalyParameters{
		AnalysisDepthDays:           utils.DereferencePtr(req.AnalysisDepthDays, d.AnalysisDepthDays),
		DailyThresholdMultiplier:    utils.DereferencePtr(req.DailyThresholdMultiplier, d.DailyThresholdMultiplier),
		CategoryThresholdMultiplier: utils.DereferencePtr(req.CategoryThresholdMultiplier, d.CategoryThresholdMultiplier),
		UnusualItemThreshold:        utils.DereferencePtr(req.UnusualItemThreshold, d.UnusualItemThreshold),
	}
}

// DetectAnomalies flags daily, category, item-level and purchase-frequency anomalies over
// the last AnalysisDepthDays days. It never writes.
func (e *Engine) DetectAnomalies(ctx context.Context, req AnomalyRequest) (report *AnomalyReport, err error) {
	ctx, span := e.startSpan(ctx, "DetectAnomalies")
	defer func() { endSpan(span, err) }()

	if err := utils.ValidateStruct(req); err != nil {
		return nil, err
	}
	params := e.anomalyParameters(req)
	span.SetAttributes(attribute.Int("analysis_depth_days", params.AnalysisDepthDays))

	now := e.now()
	start := e.today().AddDate(0, 0, -params.AnalysisDepthDays)

	err = e.readOnly(ctx, func(ctx context.Context, tx models.Store) error {
		baseline, err := e.dailyBaseline(ctx, tx, start)
		if err != nil {
			return err
		}
		catBaselines, err := e.categoryBaselines(ctx, tx, start, nil)
		if err != nil {
			return err
		}
		orders, err := tx.ListPurchaseOrders(ctx, start, time.Time{})
		if err != nil {
			return err
		}
		lines, err := tx.ListPurchaseLines(ctx, models.PurchaseLineFilter{From: start})
		if err != nil {
			return err
		}

		lists := AnomalyLists{
			DailySpending:      e.dailyAnomalies(orders, baseline, params.DailyThresholdMultiplier),
			CategorySpending:   e.categoryAnomalies(lines, catBaselines, params.CategoryThresholdMultiplier),
			UnusualItems:       e.itemAnomalies(lines, params.UnusualItemThreshold),
			FrequencyAnomalies: e.frequencyAnomalies(lines),
		}
		total := lists.Total()
		report = &AnomalyReport{
			AnalysisParameters: params,
			AnalysisPeriod: Period{
				Start: utils.DateKey(start, e.loc),
				End:   utils.DateKey(now, e.loc),
			},
			Baseline:          baseline,
			CategoryBaselines: catBaselines,
			Anomalies:         lists,
			Summary: AnomalySummary{
				TotalAnomalies: total,
				RiskLevel:      RiskLevelFor(total),
			},
		}
		return nil
	})
	if err != nil {
		e.logError("DetectAnomalies", params, err)
		return nil, err
	}

	e.recorder.AnomaliesDetected("daily", len(report.Anomalies.DailySpending))
	e.recorder.AnomaliesDetected("category", len(report.Anomalies.CategorySpending))
	e.recorder.AnomaliesDetected("item", len(report.Anomalies.UnusualItems))
	e.recorder.AnomaliesDetected("frequency", len(report.Anomalies.FrequencyAnomalies))
	return report, nil
}

func (e *Engine) dailyAnomalies(orders []models.PurchaseOrder, baseline *Baseline, multiplier float64) []DailyAnomaly {
	out := []DailyAnomaly{}
	if baseline == nil {
		return out
	}
	type day struct {
		total decimal.Decimal
		count int
	}
	perDay := map[string]*day{}
	for _, o := range orders {
		key := utils.DateKey(o.PurchaseDate, e.loc)
		d, ok := perDay[key]
		if !ok {
			d = &day{}
			perDay[key] = d
		}
		d.total = d.total.Add(o.TotalPrice)
		d.count++
	}
	threshold := baseline.Threshold(multiplier)
	for key, d := range perDay {
		if !baseline.Exceeds(d.total.InexactFloat64(), multiplier) {
			continue
		}
		out = append(out, DailyAnomaly{
			Date:       key,
			Spending:   d.total,
			Threshold:  utils.RoundFloat(threshold, 2),
			OrderCount: d.count,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out
}

// categoryAnomalies skips categories without a baseline instead of comparing against zero.
func (e *Engine) categoryAnomalies(lines []models.PurchaseLine, baselines map[string]*Baseline, multiplier float64) []CategoryAnomaly {
	out := []CategoryAnomaly{}
	type key struct{ category, date string }
	perKey := map[key]decimal.Decimal{}
	for _, l := range lines {
		if l.Category == "" {
			continue
		}
		k := key{l.Category, utils.DateKey(l.PurchaseDate, e.loc)}
		perKey[k] = perKey[k].Add(l.LineTotal())
	}
	for k, total := range perKey {
		baseline := baselines[k.category]
		if baseline == nil {
			continue
		}
		if !baseline.Exceeds(total.InexactFloat64(), multiplier) {
			continue
		}
		out = append(out, CategoryAnomaly{
			Category:     k.category,
			Date:         k.date,
			Spending:     total,
			Threshold:    utils.RoundFloat(baseline.Threshold(multiplier), 2),
			BaselineMean: baseline.Mean,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date < out[j].Date
		}
		return out[i].Category < out[j].Category
	})
	return out
}

func (e *Engine) itemAnomalies(lines []models.PurchaseLine, threshold float64) []ItemAnomaly {
	out := []ItemAnomaly{}
	limit := decimal.NewFromFloat(threshold)
	for _, l := range lines {
		total := l.LineTotal()
		if !l.UnitPrice.GreaterThan(limit) && !total.GreaterThan(limit) {
			continue
		}
		out = append(out, ItemAnomaly{
			OrderId:      l.OrderId,
			ItemName:     l.ItemName,
			Category:     l.Category,
			Quantity:     l.Quantity,
			UnitPrice:    l.UnitPrice,
			TotalPrice:   total,
			PurchaseDate: utils.DateKey(l.PurchaseDate, e.loc),
			StoreName:    l.StoreName,
		})
	}
	return out
}

// frequencyAnomalies flags (item, category) pairs bought at least five times within a
// span of seven days or less.
func (e *Engine) frequencyAnomalies(lines []models.PurchaseLine) []FrequencyAnomaly {
	out := []FrequencyAnomaly{}
	type key struct{ item, category string }
	type agg struct {
		count       int
		first, last time.Time
	}
	var order []key
	groups := map[key]*agg{}
	for _, l := range lines {
		k := key{l.ItemName, l.Category}
		g, ok := groups[k]
		if !ok {
			g = &agg{first: l.PurchaseDate, last: l.PurchaseDate}
			groups[k] = g
			order = append(order, k)
		}
		g.count++
		if l.PurchaseDate.Before(g.first) {
			g.first = l.PurchaseDate
		}
		if l.PurchaseDate.After(g.last) {
			g.last = l.PurchaseDate
		}
	}
	for _, k := range order {
		g := groups[k]
		if g.count < frequencyMinPurchases {
			continue
		}
		span := utils.WholeDaysBetween(g.first, g.last, e.loc)
		if span > frequencyMaxSpanDays {
			continue
		}
		out = append(out, FrequencyAnomaly{
			ItemName:      k.item,
			Category:      k.category,
			PurchaseCount: g.count,
			FirstPurchase: utils.DateKey(g.first, e.loc),
			LastPurchase:  utils.DateKey(g.last, e.loc),
			SpanDays:      span,
		})
	}
	return out
}
