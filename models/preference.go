package models

import "time"

// UserPreference is a learned running mean keyed by (preference_type, preference_key).
// Version increments on every write; updates are conditional on the version read.
type UserPreference struct {
	ID              int            `gorm:"primary_key" json:"id"`
	PreferenceType  PreferenceType `gorm:"size:50;not null;uniqueIndex:idx_pref_type_key,priority:1" json:"preference_type"`
	PreferenceKey   string         `gorm:"size:255;not null;uniqueIndex:idx_pref_type_key,priority:2" json:"preference_key"`
	PreferenceValue float64        `gorm:"not null;default:0" json:"preference_value"`
	ConfidenceScore float64        `gorm:"not null;default:0" json:"confidence_score"`
	SampleCount     int            `gorm:"not null;default:1" json:"sample_count"`
	Version         int            `gorm:"not null;default:1" json:"version"`
	CreatedAt       time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

func (UserPreference) TableName() string { return "user_preferences" }
