package models

import "time"

// RecommendationMetrics is the per-day rollup of user_feedback.
// MetricDate is a calendar date (YYYY-MM-DD) in the engine time zone.
type RecommendationMetrics struct {
	MetricDate           string    `gorm:"primaryKey;size:10" json:"metric_date"`
	TotalRecommendations int       `gorm:"not null;default:0" json:"total_recommendations"`
	AcceptedCount        int       `gorm:"not null;default:0" json:"accepted_count"`
	RejectedCount        int       `gorm:"not null;default:0" json:"rejected_count"`
	ModifiedCount        int       `gorm:"not null;default:0" json:"modified_count"`
	IgnoredCount         int       `gorm:"not null;default:0" json:"ignored_count"`
	AcceptanceRate       float64   `gorm:"not null;default:0" json:"acceptance_rate"`
	AvgPriorityAccuracy  float64   `gorm:"not null;default:0" json:"avg_priority_accuracy"`
	AvgQuantityAccuracy  float64   `gorm:"not null;default:0" json:"avg_quantity_accuracy"`
	CreatedAt            time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt            time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (RecommendationMetrics) TableName() string { return "recommendation_metrics" }
