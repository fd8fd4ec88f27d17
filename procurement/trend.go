package procurement

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/mmdatafocus/household_backend/config"
	"github.com/mmdatafocus/household_backend/models"
	"github.com/mmdatafocus/household_backend/utils"
	"github.com/shopspring/decimal"
)

type TrendDirection string

const (
	TrendIncreasing TrendDirection = "increasing"
	TrendDecreasing TrendDirection = "decreasing"
	TrendStable     TrendDirection = "stable"
)

const (
	trendChangeThreshold = 0.10
	forecastPeriods      = 3
	minForecastBuckets   = 3
	highVariationCV      = 0.5
	lowVariationCV       = 0.2
)

type TrendBucket struct {
	Period            string          `json:"period"`
	TotalSpending     decimal.Decimal `json:"total_spending"`
	OrderCount        int             `json:"order_count"`
	AverageOrderValue decimal.Decimal `json:"average_order_value"`
}

type TrendStatistics struct {
	TotalSpending          decimal.Decimal `json:"total_spending"`
	TotalOrders            int             `json:"total_orders"`
	AveragePerPeriod       float64         `json:"average_per_period"`
	Variance               float64         `json:"variance"`
	Stddev                 float64         `json:"stddev"`
	CoefficientOfVariation float64         `json:"coefficient_of_variation"`
	TrendDirection         TrendDirection  `json:"trend_direction"`
	ChangeRate             float64         `json:"change_rate"`
	PeriodCount            int             `json:"period_count"`
}

type CategoryTrend struct {
	Category       string          `json:"category"`
	TotalSpending  decimal.Decimal `json:"total_spending"`
	TrendDirection TrendDirection  `json:"trend_direction"`
	ChangeRate     float64         `json:"change_rate"`
	Periods        []TrendBucket   `json:"periods"`
}

type ForecastPoint struct {
	Period     string  `json:"period"`
	Value      float64 `json:"value"`
	Confidence float64 `json:"confidence"`
}

type Forecast struct {
	Method    string          `json:"method"`
	Slope     float64         `json:"slope"`
	Intercept float64         `json:"intercept"`
	Points    []ForecastPoint `json:"points"`
}

type TrendReport struct {
	TimeRange      int             `json:"time_range"`
	Granularity    string          `json:"granularity"`
	Trends         []TrendBucket   `json:"trends"`
	Statistics     TrendStatistics `json:"statistics"`
	CategoryTrends []CategoryTrend `json:"categoryTrends"`
	Forecast       *Forecast       `json:"forecast"`
	Insights       []string        `json:"insights"`
}

// bucketStart truncates t to the start of its bucket in loc. Weeks start on Monday.
func bucketStart(t time.Time, granularity string, loc *time.Location) time.Time {
	day := utils.StartOfDay(t, loc)
	switch granularity {
	case config.GranularityWeekly:
		offset := (int(day.Weekday()) + 6) % 7
		return day.AddDate(0, 0, -offset)
	case config.GranularityMonthly:
		return time.Date(day.Year(), day.Month(), 1, 0, 0, 0, 0, loc)
	}
	return day
}

func bucketLabel(start time.Time, granularity string) string {
	if granularity == config.GranularityMonthly {
		return start.Format("2006-01")
	}
	return start.Format("2006-01-02")
}

func nextBucket(start time.Time, granularity string, n int) time.Time {
	switch granularity {
	case config.GranularityWeekly:
		return start.AddDate(0, 0, 7*n)
	case config.GranularityMonthly:
		return start.AddDate(0, n, 0)
	}
	return start.AddDate(0, 0, n)
}

// spendPoint is one order's (or one category's share of an order's) spend.
type spendPoint struct {
	orderId string
	at      time.Time
	amount  decimal.Decimal
}

type bucketAgg struct {
	start  time.Time
	total  decimal.Decimal
	orders map[string]bool
}

// bucketize groups points into ascending buckets; only buckets with activity are returned.
func bucketize(points []spendPoint, granularity string, loc *time.Location) ([]TrendBucket, time.Time) {
	byStart := map[time.Time]*bucketAgg{}
	for _, p := range points {
		s := bucketStart(p.at, granularity, loc)
		b, ok := byStart[s]
		if !ok {
			b = &bucketAgg{start: s, orders: map[string]bool{}}
			byStart[s] = b
		}
		b.total = b.total.Add(p.amount)
		b.orders[p.orderId] = true
	}
	aggs := make([]*bucketAgg, 0, len(byStart))
	for _, b := range byStart {
		aggs = append(aggs, b)
	}
	sort.Slice(aggs, func(i, j int) bool { return aggs[i].start.Before(aggs[j].start) })

	out := make([]TrendBucket, 0, len(aggs))
	var last time.Time
	for _, b := range aggs {
		count := len(b.orders)
		avg := decimal.Zero
		if count > 0 {
			avg = b.total.Div(decimal.NewFromInt(int64(count))).Round(2)
		}
		out = append(out, TrendBucket{
			Period:            bucketLabel(b.start, granularity),
			TotalSpending:     b.total,
			OrderCount:        count,
			AverageOrderValue: avg,
		})
		last = b.start
	}
	return out, last
}

func bucketValues(buckets []TrendBucket) []float64 {
	values := make([]float64, len(buckets))
	for i, b := range buckets {
		values[i] = b.TotalSpending.InexactFloat64()
	}
	return values
}

// trendDirection compares the mean of the first half of the series with the second half.
// The middle element of an odd series belongs to the second half.
func trendDirection(values []float64) (TrendDirection, float64) {
	if len(values) < 2 {
		return TrendStable, 0
	}
	half := len(values) / 2
	first, _ := meanStddev(values[:half])
	second, _ := meanStddev(values[half:])
	if first == 0 {
		if second > 0 {
			return TrendIncreasing, 0
		}
		return TrendStable, 0
	}
	change := (second - first) / first
	switch {
	case change > trendChangeThreshold:
		return TrendIncreasing, change
	case change < -trendChangeThreshold:
		return TrendDecreasing, change
	}
	return TrendStable, change
}

// linearFit is ordinary least squares over x = 0..n-1.
func linearFit(values []float64) (slope, intercept float64) {
	n := float64(len(values))
	if n == 0 {
		return 0, 0
	}
	var sumX, sumY, sumXY, sumXX float64
	for i, y := range values {
		x := float64(i)
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}
	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return 0, sumY / n
	}
	slope = (n*sumXY - sumX*sumY) / denom
	intercept = (sumY - slope*sumX) / n
	return slope, intercept
}

func forecastConfidence(i int) float64 {
	return utils.RoundFloat(math.Max(0.3, 1-float64(i)*0.2), 2)
}

func buildForecast(values []float64, lastStart time.Time, granularity string) *Forecast {
	if len(values) < minForecastBuckets {
		return nil
	}
	slope, intercept := linearFit(values)
	n := len(values)
	points := make([]ForecastPoint, 0, forecastPeriods)
	for i := 1; i <= forecastPeriods; i++ {
		v := intercept + slope*float64(n-1+i)
		if v < 0 {
			v = 0
		}
		points = append(points, ForecastPoint{
			Period:     bucketLabel(nextBucket(lastStart, granularity, i), granularity),
			Value:      utils.RoundFloat(v, 2),
			Confidence: forecastConfidence(i),
		})
	}
	return &Forecast{
		Method:    "linear_regression",
		Slope:     utils.RoundFloat(slope, 4),
		Intercept: utils.RoundFloat(intercept, 4),
		Points:    points,
	}
}

func trendStatistics(buckets []TrendBucket) TrendStatistics {
	values := bucketValues(buckets)
	mean, stddev := meanStddev(values)
	direction, change := trendDirection(values)
	stats := TrendStatistics{
		TotalSpending:    decimal.Zero,
		AveragePerPeriod: utils.RoundFloat(mean, 2),
		Variance:         utils.RoundFloat(populationVariance(values, mean), 2),
		Stddev:           utils.RoundFloat(stddev, 2),
		TrendDirection:   direction,
		ChangeRate:       utils.RoundFloat(change, 4),
		PeriodCount:      len(buckets),
	}
	for _, b := range buckets {
		stats.TotalSpending = stats.TotalSpending.Add(b.TotalSpending)
		stats.TotalOrders += b.OrderCount
	}
	if mean > 0 {
		stats.CoefficientOfVariation = utils.RoundFloat(stddev/mean, 4)
	}
	return stats
}

// AnalyzeTrends buckets spending over the last TimeRange days, derives direction and
// variance, and projects three periods ahead when at least three buckets exist.
func (e *Engine) AnalyzeTrends(ctx context.Context, req TrendRequest) (report *TrendReport, err error) {
	ctx, span := e.startSpan(ctx, "AnalyzeTrends")
	defer func() { endSpan(span, err) }()

	if err := utils.ValidateStruct(req); err != nil {
		return nil, err
	}
	err = e.readOnly(ctx, func(ctx context.Context, tx models.Store) error {
		report, err = e.analyzeTrends(ctx, tx, req)
		return err
	})
	if err != nil {
		e.logError("AnalyzeTrends", req, err)
		return nil, err
	}
	return report, nil
}

func (e *Engine) analyzeTrends(ctx context.Context, tx models.Store, req TrendRequest) (*TrendReport, error) {
	timeRange := utils.DereferencePtr(req.TimeRange, e.cfg.Trend.TimeRangeDays)
	granularity := req.Granularity
	if granularity == "" {
		granularity = e.cfg.Trend.Granularity
	}
	forecasting := utils.DereferencePtr(req.IncludeForecasting, true)
	start := e.today().AddDate(0, 0, -timeRange)

	var points []spendPoint
	var lines []models.PurchaseLine
	var err error
	if len(req.Categories) > 0 {
		lines, err = tx.ListPurchaseLines(ctx, models.PurchaseLineFilter{From: start, Categories: req.Categories})
		if err != nil {
			return nil, err
		}
		for _, l := range lines {
			points = append(points, spendPoint{orderId: l.OrderId, at: l.PurchaseDate, amount: l.LineTotal()})
		}
	} else {
		orders, err := tx.ListPurchaseOrders(ctx, start, time.Time{})
		if err != nil {
			return nil, err
		}
		for _, o := range orders {
			points = append(points, spendPoint{orderId: o.ID, at: o.PurchaseDate, amount: o.TotalPrice})
		}
		lines, err = tx.ListPurchaseLines(ctx, models.PurchaseLineFilter{From: start})
		if err != nil {
			return nil, err
		}
	}

	buckets, lastStart := bucketize(points, granularity, e.loc)
	report := &TrendReport{
		TimeRange:      timeRange,
		Granularity:    granularity,
		Trends:         buckets,
		Statistics:     trendStatistics(buckets),
		CategoryTrends: []CategoryTrend{},
	}
	if forecasting {
		report.Forecast = buildForecast(bucketValues(buckets), lastStart, granularity)
	}
	if len(req.Categories) == 0 {
		report.CategoryTrends = e.categoryTrends(lines, granularity)
	}
	report.Insights = trendInsights(report.Statistics, report.CategoryTrends)
	return report, nil
}

func (e *Engine) categoryTrends(lines []models.PurchaseLine, granularity string) []CategoryTrend {
	byCategory := map[string][]spendPoint{}
	for _, l := range lines {
		if l.Category == "" {
			continue
		}
		byCategory[l.Category] = append(byCategory[l.Category], spendPoint{orderId: l.OrderId, at: l.PurchaseDate, amount: l.LineTotal()})
	}
	out := make([]CategoryTrend, 0, len(byCategory))
	for category, points := range byCategory {
		buckets, _ := bucketize(points, granularity, e.loc)
		direction, change := trendDirection(bucketValues(buckets))
		total := decimal.Zero
		for _, b := range buckets {
			total = total.Add(b.TotalSpending)
		}
		out = append(out, CategoryTrend{
			Category:       category,
			TotalSpending:  total,
			TrendDirection: direction,
			ChangeRate:     utils.RoundFloat(change, 4),
			Periods:        buckets,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].TotalSpending.Equal(out[j].TotalSpending) {
			return out[i].TotalSpending.GreaterThan(out[j].TotalSpending)
		}
		return out[i].Category < out[j].Category
	})
	return out
}

func trendInsights(stats TrendStatistics, categories []CategoryTrend) []string {
	insights := []string{}
	if stats.PeriodCount == 0 {
		return append(insights, "No purchases in the selected period.")
	}
	switch stats.TrendDirection {
	case TrendIncreasing:
		insights = append(insights, fmt.Sprintf("Spending is trending up (%+.0f%% between the first and second half of the period).", stats.ChangeRate*100))
	case TrendDecreasing:
		insights = append(insights, fmt.Sprintf("Spending is trending down (%+.0f%% between the first and second half of the period).", stats.ChangeRate*100))
	default:
		insights = append(insights, "Spending is stable across the period.")
	}
	switch {
	case stats.CoefficientOfVariation > highVariationCV:
		insights = append(insights, fmt.Sprintf("Spending varies strongly between periods (CV %.2f); consider spreading large purchases.", stats.CoefficientOfVariation))
	case stats.CoefficientOfVariation > lowVariationCV:
		insights = append(insights, fmt.Sprintf("Spending varies moderately between periods (CV %.2f).", stats.CoefficientOfVariation))
	default:
		insights = append(insights, fmt.Sprintf("Spending is consistent between periods (CV %.2f).", stats.CoefficientOfVariation))
	}
	for _, c := range categories {
		if c.TrendDirection == TrendIncreasing {
			insights = append(insights, fmt.Sprintf("Spending on %s is increasing.", c.Category))
		}
	}
	return insights
}
