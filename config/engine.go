package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Granularity values accepted by trend analysis.
const (
	GranularityDaily   = "daily"
	GranularityWeekly  = "weekly"
	GranularityMonthly = "monthly"
)

// EngineConfig is the one place holding the engine's default thresholds and data tables.
// Both the tool boundary and the engine read defaults from here.
type EngineConfig struct {
	Timezone        string                  `yaml:"timezone"`
	Anomaly         AnomalyDefaults         `yaml:"anomaly"`
	Recommendation  RecommendationDefaults  `yaml:"recommendation"`
	Trend           TrendDefaults           `yaml:"trend"`
	Personalization PersonalizationDefaults `yaml:"personalization"`
	Seasonal        SeasonalTable           `yaml:"seasonal"`
}

type AnomalyDefaults struct {
	AnalysisDepthDays           int     `yaml:"analysis_depth_days"`
	DailyThresholdMultiplier    float64 `yaml:"daily_threshold_multiplier"`
	CategoryThresholdMultiplier float64 `yaml:"category_threshold_multiplier"`
	UnusualItemThreshold        float64 `yaml:"unusual_item_threshold"`
}

type RecommendationDefaults struct {
	AnalysisDepthDays  int  `yaml:"analysis_depth_days"`
	MaxResults         int  `yaml:"max_results"`
	IncludeSeasonality bool `yaml:"include_seasonality"`
}

type TrendDefaults struct {
	TimeRangeDays int    `yaml:"time_range_days"`
	Granularity   string `yaml:"granularity"`
}

type PersonalizationDefaults struct {
	MinConfidence float64 `yaml:"min_confidence"`
}

// SeasonalTable maps category -> month (1-12) -> multiplier.
// Unknown categories and months resolve to 1.0.
type SeasonalTable map[string]map[int]float64

func (t SeasonalTable) Multiplier(category string, month time.Month) float64 {
	row, ok := t[category]
	if !ok {
		return 1.0
	}
	m, ok := row[int(month)]
	if !ok || m <= 0 {
		return 1.0
	}
	return m
}

// DefaultSeasonalTable covers food, household supplies and personal care.
func DefaultSeasonalTable() SeasonalTable {
	return SeasonalTable{
		// Spring Festival stock-up in Jan/Feb, Mid-Autumn and National Day in Sep/Oct.
		"食品": {1: 1.3, 2: 1.4, 3: 1.0, 4: 1.0, 5: 1.0, 6: 1.1, 7: 1.1, 8: 1.0, 9: 1.2, 10: 1.25, 11: 1.0, 12: 1.3},
		"日用品": {1: 1.25, 2: 1.3, 3: 1.0, 4: 0.95, 5: 1.0, 6: 1.05, 7: 1.1, 8: 1.1, 9: 1.0, 10: 1.0, 11: 1.3, 12: 1.2},
		// sunscreen and summer toiletries
		"个人护理": {1: 1.0, 2: 0.95, 3: 1.0, 4: 1.05, 5: 1.15, 6: 1.3, 7: 1.35, 8: 1.3, 9: 1.1, 10: 0.95, 11: 0.9, 12: 0.95},
	}
}

func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Timezone: "Asia/Shanghai",
		Anomaly: AnomalyDefaults{
			AnalysisDepthDays:           30,
			DailyThresholdMultiplier:    3.0,
			CategoryThresholdMultiplier: 2.5,
			UnusualItemThreshold:        500,
		},
		Recommendation: RecommendationDefaults{
			AnalysisDepthDays:  90,
			MaxResults:         20,
			IncludeSeasonality: true,
		},
		Trend: TrendDefaults{
			TimeRangeDays: 90,
			Granularity:   GranularityWeekly,
		},
		Personalization: PersonalizationDefaults{
			MinConfidence: 0.3,
		},
		Seasonal: DefaultSeasonalTable(),
	}
}

// LoadEngineConfig starts from DefaultEngineConfig, overlays the YAML file at
// ENGINE_CONFIG_PATH (if set) and then individual env overrides.
func LoadEngineConfig() (EngineConfig, error) {
	cfg := DefaultEngineConfig()
	if path := strings.TrimSpace(os.Getenv("ENGINE_CONFIG_PATH")); path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read engine config %q: %w", path, err)
		}
		if err := ParseEngineConfigYAML(b, &cfg); err != nil {
			return cfg, err
		}
	}

	if v := strings.TrimSpace(os.Getenv("ENGINE_TIMEZONE")); v != "" {
		cfg.Timezone = v
	}
	cfg.Anomaly.AnalysisDepthDays = intFromEnv("ANOMALY_ANALYSIS_DEPTH_DAYS", cfg.Anomaly.AnalysisDepthDays)
	cfg.Anomaly.DailyThresholdMultiplier = floatFromEnv("ANOMALY_DAILY_THRESHOLD_MULTIPLIER", cfg.Anomaly.DailyThresholdMultiplier)
	cfg.Anomaly.CategoryThresholdMultiplier = floatFromEnv("ANOMALY_CATEGORY_THRESHOLD_MULTIPLIER", cfg.Anomaly.CategoryThresholdMultiplier)
	cfg.Anomaly.UnusualItemThreshold = floatFromEnv("ANOMALY_UNUSUAL_ITEM_THRESHOLD", cfg.Anomaly.UnusualItemThreshold)
	cfg.Recommendation.AnalysisDepthDays = intFromEnv("RECOMMENDATION_ANALYSIS_DEPTH_DAYS", cfg.Recommendation.AnalysisDepthDays)
	cfg.Recommendation.MaxResults = intFromEnv("RECOMMENDATION_MAX_RESULTS", cfg.Recommendation.MaxResults)
	cfg.Trend.TimeRangeDays = intFromEnv("TREND_TIME_RANGE_DAYS", cfg.Trend.TimeRangeDays)
	cfg.Personalization.MinConfidence = floatFromEnv("PERSONALIZATION_MIN_CONFIDENCE", cfg.Personalization.MinConfidence)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ParseEngineConfigYAML overlays YAML onto cfg. Seasonal rows in the file replace
// rows of the same category; other categories are kept.
func ParseEngineConfigYAML(b []byte, cfg *EngineConfig) error {
	var overlay EngineConfig
	if err := yaml.Unmarshal(b, &overlay); err != nil {
		return fmt.Errorf("parse engine config: %w", err)
	}
	if overlay.Timezone != "" {
		cfg.Timezone = overlay.Timezone
	}
	if overlay.Anomaly.AnalysisDepthDays != 0 {
		cfg.Anomaly.AnalysisDepthDays = overlay.Anomaly.AnalysisDepthDays
	}
	if overlay.Anomaly.DailyThresholdMultiplier != 0 {
		cfg.Anomaly.DailyThresholdMultiplier = overlay.Anomaly.DailyThresholdMultiplier
	}
	if overlay.Anomaly.CategoryThresholdMultiplier != 0 {
		cfg.Anomaly.CategoryThresholdMultiplier = overlay.Anomaly.CategoryThresholdMultiplier
	}
	if overlay.Anomaly.UnusualItemThreshold != 0 {
		cfg.Anomaly.UnusualItemThreshold = overlay.Anomaly.UnusualItemThreshold
	}
	if overlay.Recommendation.AnalysisDepthDays != 0 {
		cfg.Recommendation.AnalysisDepthDays = overlay.Recommendation.AnalysisDepthDays
	}
	if overlay.Recommendation.MaxResults != 0 {
		cfg.Recommendation.MaxResults = overlay.Recommendation.MaxResults
	}
	if overlay.Trend.TimeRangeDays != 0 {
		cfg.Trend.TimeRangeDays = overlay.Trend.TimeRangeDays
	}
	if overlay.Trend.Granularity != "" {
		cfg.Trend.Granularity = overlay.Trend.Granularity
	}
	if overlay.Personalization.MinConfidence != 0 {
		cfg.Personalization.MinConfidence = overlay.Personalization.MinConfidence
	}
	if cfg.Seasonal == nil {
		cfg.Seasonal = SeasonalTable{}
	}
	for category, row := range overlay.Seasonal {
		cfg.Seasonal[category] = row
	}
	return nil
}

func (c EngineConfig) Validate() error {
	var errs []error
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("timezone %q: %w", c.Timezone, err))
	}
	if c.Anomaly.AnalysisDepthDays <= 0 {
		errs = append(errs, errors.New("anomaly.analysis_depth_days must be positive"))
	}
	if c.Anomaly.DailyThresholdMultiplier <= 0 || c.Anomaly.CategoryThresholdMultiplier <= 0 {
		errs = append(errs, errors.New("anomaly threshold multipliers must be positive"))
	}
	if c.Anomaly.UnusualItemThreshold <= 0 {
		errs = append(errs, errors.New("anomaly.unusual_item_threshold must be positive"))
	}
	if c.Recommendation.AnalysisDepthDays <= 0 || c.Recommendation.MaxResults <= 0 {
		errs = append(errs, errors.New("recommendation depth and max_results must be positive"))
	}
	if c.Trend.TimeRangeDays <= 0 {
		errs = append(errs, errors.New("trend.time_range_days must be positive"))
	}
	switch c.Trend.Granularity {
	case GranularityDaily, GranularityWeekly, GranularityMonthly:
	default:
		errs = append(errs, fmt.Errorf("trend.granularity %q is not daily|weekly|monthly", c.Trend.Granularity))
	}
	if c.Personalization.MinConfidence < 0 || c.Personalization.MinConfidence > 1 {
		errs = append(errs, errors.New("personalization.min_confidence must be within [0,1]"))
	}
	for category, row := range c.Seasonal {
		if len(row) == 0 {
			errs = append(errs, fmt.Errorf("seasonal row %q is empty", category))
		}
		for month, m := range row {
			if month < 1 || month > 12 {
				errs = append(errs, fmt.Errorf("seasonal row %q: month %d outside 1-12", category, month))
			}
			if m <= 0 {
				errs = append(errs, fmt.Errorf("seasonal row %q: multiplier for month %d must be positive", category, month))
			}
		}
	}
	return errors.Join(errs...)
}

// Location resolves Timezone, falling back to UTC.
func (c EngineConfig) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
