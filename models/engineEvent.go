package models

import (
	"time"

	"gorm.io/datatypes"
)

// EngineEvent is a transactional outbox row. It is written in the same transaction
// as the state change it describes and published to Pub/Sub after commit.
type EngineEvent struct {
	ID               int            `gorm:"primary_key" json:"id"`
	EventType        string         `gorm:"size:100;not null;index" json:"event_type"`
	AggregateKey     string         `gorm:"size:255;default:null" json:"aggregate_key"`
	Payload          datatypes.JSON `json:"payload"`
	CorrelationId    string         `gorm:"size:100;default:null" json:"correlation_id"`
	PublishStatus    string         `gorm:"size:20;not null;default:PENDING;index" json:"publish_status"`
	PublishAttempts  int            `gorm:"not null;default:0" json:"publish_attempts"`
	LastPublishError *string        `gorm:"type:text;default:null" json:"last_publish_error"`
	NextAttemptAt    *time.Time     `gorm:"default:null" json:"next_attempt_at"`
	LockedAt         *time.Time     `gorm:"default:null" json:"locked_at"`
	LockedBy         *string        `gorm:"size:100;default:null" json:"locked_by"`
	PublishedAt      *time.Time     `gorm:"default:null" json:"published_at"`
	PubSubMessageId  *string        `gorm:"size:255;default:null" json:"pub_sub_message_id"`
	CreatedAt        time.Time      `gorm:"autoCreateTime" json:"created_at"`
}

func (EngineEvent) TableName() string { return "engine_events" }
