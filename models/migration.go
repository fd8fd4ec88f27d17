package models

import (
	"fmt"

	"gorm.io/gorm"
)

// AllModels lists every table owned or read by the engine.
func AllModels() []interface{} {
	return []interface{}{
		&InventoryItem{},
		&PurchaseOrder{}, &PurchaseLineItem{},
		&ShoppingListEntry{},
		&UserFeedback{}, &UserPreference{}, &RecommendationMetrics{},
		&EngineEvent{},
	}
}

func MigrateTable(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return err
	}
	// rows written before pending_key existed
	err := db.Model(&ShoppingListEntry{}).
		Where("status = ? AND pending_key IS NULL", ShoppingListStatusPending).
		Update("pending_key", gorm.Expr("item_name")).Error
	if err != nil {
		return fmt.Errorf("backfill shopping_list.pending_key: %w", err)
	}
	return nil
}
