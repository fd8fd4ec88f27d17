package procurement

import (
	"context"
	"fmt"

	"github.com/mmdatafocus/household_backend/utils"
	"github.com/xuri/excelize/v2"
)

const (
	SheetRecommendations = "Recommendations"
	SheetAnomalies       = "Anomalies"
	SheetTrends          = "Trends"
)

// BuildSpendingReport renders current recommendations, anomalies and trends as an xlsx workbook.
func (e *Engine) BuildSpendingReport(ctx context.Context, req SpendingReportRequest) (f *excelize.File, err error) {
	ctx, span := e.startSpan(ctx, "BuildSpendingReport")
	defer func() { endSpan(span, err) }()

	if err := utils.ValidateStruct(req); err != nil {
		return nil, err
	}
	recs, err := e.GenerateRecommendations(ctx, RecommendationRequest{AnalysisDepthDays: req.AnalysisDepthDays})
	if err != nil {
		return nil, err
	}
	anomalies, err := e.DetectAnomalies(ctx, AnomalyRequest{AnalysisDepthDays: req.AnalysisDepthDays})
	if err != nil {
		return nil, err
	}
	trends, err := e.AnalyzeTrends(ctx, TrendRequest{TimeRange: req.AnalysisDepthDays, Granularity: req.Granularity})
	if err != nil {
		return nil, err
	}

	f = excelize.NewFile()
	if err := f.SetSheetName("Sheet1", SheetRecommendations); err != nil {
		return nil, err
	}
	recRows := make([][]interface{}, 0, len(recs.Recommendations))
	for _, r := range recs.Recommendations {
		recRows = append(recRows, []interface{}{
			r.ItemName, r.Category, r.CurrentQuantity, r.SuggestedQuantity, r.Priority,
			r.ConsumptionRate, r.EstimatedCost.InexactFloat64(), r.Reason,
		})
	}
	if err := writeSheet(f, SheetRecommendations,
		[]string{"Item", "Category", "Current Qty", "Suggested Qty", "Priority", "Units/Day", "Estimated Cost", "Reason"},
		recRows); err != nil {
		return nil, err
	}

	var anomalyRows [][]interface{}
	for _, a := range anomalies.Anomalies.DailySpending {
		anomalyRows = append(anomalyRows, []interface{}{"daily", a.Date, "", a.Spending.InexactFloat64(), a.Threshold})
	}
	for _, a := range anomalies.Anomalies.CategorySpending {
		anomalyRows = append(anomalyRows, []interface{}{"category", a.Date, a.Category, a.Spending.InexactFloat64(), a.Threshold})
	}
	for _, a := range anomalies.Anomalies.UnusualItems {
		anomalyRows = append(anomalyRows, []interface{}{"item", a.PurchaseDate, a.ItemName, a.TotalPrice.InexactFloat64(), anomalies.AnalysisParameters.UnusualItemThreshold})
	}
	for _, a := range anomalies.Anomalies.FrequencyAnomalies {
		anomalyRows = append(anomalyRows, []interface{}{"frequency", a.LastPurchase, a.ItemName, a.PurchaseCount, fmt.Sprintf("%d days", a.SpanDays)})
	}
	anomalyRows = append(anomalyRows, []interface{}{"risk", anomalies.AnalysisPeriod.End, string(anomalies.Summary.RiskLevel), anomalies.Summary.TotalAnomalies, ""})
	if _, err := f.NewSheet(SheetAnomalies); err != nil {
		return nil, err
	}
	if err := writeSheet(f, SheetAnomalies, []string{"Kind", "Date", "Subject", "Value", "Threshold"}, anomalyRows); err != nil {
		return nil, err
	}

	var trendRows [][]interface{}
	for _, b := range trends.Trends {
		trendRows = append(trendRows, []interface{}{b.Period, b.TotalSpending.InexactFloat64(), b.OrderCount, b.AverageOrderValue.InexactFloat64(), ""})
	}
	if trends.Forecast != nil {
		for _, p := range trends.Forecast.Points {
			trendRows = append(trendRows, []interface{}{p.Period, p.Value, "", "", p.Confidence})
		}
	}
	if _, err := f.NewSheet(SheetTrends); err != nil {
		return nil, err
	}
	if err := writeSheet(f, SheetTrends, []string{"Period", "Spending", "Orders", "Avg Order", "Forecast Confidence"}, trendRows); err != nil {
		return nil, err
	}
	return f, nil
}

func writeSheet(f *excelize.File, sheet string, headers []string, rows [][]interface{}) error {
	for i, h := range headers {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheet, cell, h); err != nil {
			return err
		}
	}
	for r, row := range rows {
		for c, v := range row {
			cell, err := excelize.CoordinatesToCellName(c+1, r+2)
			if err != nil {
				return err
			}
			if err := f.SetCellValue(sheet, cell, v); err != nil {
				return err
			}
		}
	}
	return nil
}
