package models

import (
	"time"

	"gorm.io/datatypes"
)

// UserFeedback is append-only: one row per recorded decision on a recommendation.
type UserFeedback struct {
	ID                  int            `gorm:"primary_key" json:"id"`
	RecommendationId    string         `gorm:"size:100;index" json:"recommendation_id"`
	ItemName            string         `gorm:"size:255;index;not null" json:"item_name"`
	Category            string         `gorm:"size:100;default:null" json:"category"`
	RecommendedQuantity *int           `gorm:"default:null" json:"recommended_quantity"`
	ActualQuantity      *int           `gorm:"default:null" json:"actual_quantity"`
	RecommendedPriority *int           `gorm:"default:null" json:"recommended_priority"`
	ActualPriority      *int           `gorm:"default:null" json:"actual_priority"`
	UserAction          UserAction     `gorm:"size:20;not null;index" json:"user_action"`
	Feedback            string         `gorm:"type:text;default:null" json:"feedback"`
	ContextData         datatypes.JSON `gorm:"default:null" json:"context_data"`
	CreatedAt           time.Time      `gorm:"not null;index" json:"created_at"`
}

func (UserFeedback) TableName() string { return "user_feedback" }
