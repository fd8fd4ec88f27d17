package procurement

import (
	"context"
	"math"
	"time"

	"github.com/mmdatafocus/household_backend/models"
	"github.com/mmdatafocus/household_backend/utils"
	"github.com/shopspring/decimal"
)

// baselineLookbackDays is fixed and independent of the analysis depth.
const baselineLookbackDays = 90

// Baseline is the mean and population standard deviation of per-day spending.
type Baseline struct {
	Mean       float64 `json:"mean"`
	Stddev     float64 `json:"stddev"`
	SampleDays int     `json:"sample_days"`
}

func (b Baseline) Threshold(multiplier float64) float64 {
	return b.Mean + multiplier*b.Stddev
}

// Exceeds reports whether spending is strictly above the threshold. With a zero stddev
// any spend above the mean qualifies.
func (b Baseline) Exceeds(spending, multiplier float64) bool {
	return spending > b.Threshold(multiplier)
}

// NewBaseline returns nil for an empty sample: no history means no baseline.
func NewBaseline(values []float64) *Baseline {
	if len(values) == 0 {
		return nil
	}
	mean, stddev := meanStddev(values)
	return &Baseline{
		Mean:       utils.RoundFloat(mean, 4),
		Stddev:     utils.RoundFloat(stddev, 4),
		SampleDays: len(values),
	}
}

func meanStddev(values []float64) (float64, float64) {
	if len(values) == 0 {
		return 0, 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))
	return mean, math.Sqrt(populationVariance(values, mean))
}

func populationVariance(values []float64, mean float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sq float64
	for _, v := range values {
		d := v - mean
		sq += d * d
	}
	return sq / float64(len(values))
}

func baselineWindow(analysisStart time.Time) (time.Time, time.Time) {
	return analysisStart.AddDate(0, 0, -baselineLookbackDays), analysisStart
}

// dailyBaseline uses whole-order totals per calendar day in the lookback window.
func (e *Engine) dailyBaseline(ctx context.Context, tx models.Store, analysisStart time.Time) (*Baseline, error) {
	from, to := baselineWindow(analysisStart)
	orders, err := tx.ListPurchaseOrders(ctx, from, to)
	if err != nil {
		return nil, err
	}
	perDay := map[string]decimal.Decimal{}
	var days []string
	for _, o := range orders {
		key := utils.DateKey(o.PurchaseDate, e.loc)
		if _, ok := perDay[key]; !ok {
			days = append(days, key)
		}
		perDay[key] = perDay[key].Add(o.TotalPrice)
	}
	values := make([]float64, 0, len(days))
	for _, d := range days {
		values = append(values, perDay[d].InexactFloat64())
	}
	return NewBaseline(values), nil
}

// categoryBaselines uses sum(unit_price*quantity) per category and day. Categories with no
// lookback data are absent from the map.
func (e *Engine) categoryBaselines(ctx context.Context, tx models.Store, analysisStart time.Time, categories []string) (map[string]*Baseline, error) {
	from, to := baselineWindow(analysisStart)
	lines, err := tx.ListPurchaseLines(ctx, models.PurchaseLineFilter{From: from, To: to, Categories: categories})
	if err != nil {
		return nil, err
	}
	perCategory := map[string]map[string]decimal.Decimal{}
	for _, l := range lines {
		if l.Category == "" {
			continue
		}
		days, ok := perCategory[l.Category]
		if !ok {
			days = map[string]decimal.Decimal{}
			perCategory[l.Category] = days
		}
		key := utils.DateKey(l.PurchaseDate, e.loc)
		days[key] = days[key].Add(l.LineTotal())
	}
	out := make(map[string]*Baseline, len(perCategory))
	for category, days := range perCategory {
		values := make([]float64, 0, len(days))
		for _, v := range days {
			values = append(values, v.InexactFloat64())
		}
		out[category] = NewBaseline(values)
	}
	return out, nil
}
