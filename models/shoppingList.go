package models

import "time"

// ShoppingListEntry: at most one pending entry per item name. PendingKey holds the item
// name while the entry is pending and NULL afterwards; its unique index enforces the rule.
type ShoppingListEntry struct {
	ID                int                `gorm:"primary_key" json:"id"`
	ItemName          string             `gorm:"size:255;not null;index:idx_shopping_item_status,priority:1" json:"item_name"`
	SuggestedQuantity int                `gorm:"not null;default:1" json:"suggested_quantity"`
	Priority          int                `gorm:"not null;default:1" json:"priority"`
	Status            ShoppingListStatus `gorm:"size:20;not null;default:pending;index:idx_shopping_item_status,priority:2" json:"status"`
	PendingKey        *string            `gorm:"size:255;uniqueIndex:idx_shopping_pending_key" json:"-"`
	Reason            string             `gorm:"type:text;default:null" json:"reason"`
	AddedAt           time.Time          `gorm:"not null" json:"added_at"`
	CompletedAt       *time.Time         `gorm:"default:null" json:"completed_at"`
	UpdatedAt         time.Time          `gorm:"autoUpdateTime" json:"updated_at"`
}

func (ShoppingListEntry) TableName() string { return "shopping_list" }

// syncPendingKey derives PendingKey from Status.
func (e *ShoppingListEntry) syncPendingKey() {
	if e.Status == ShoppingListStatusPending {
		key := e.ItemName
		e.PendingKey = &key
		return
	}
	e.PendingKey = nil
}
