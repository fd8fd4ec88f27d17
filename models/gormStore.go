package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mmdatafocus/household_backend/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormStore implements Store on a gorm handle (MySQL in production, SQLite in tests).
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) DB() *gorm.DB {
	return s.db
}

func (s *GormStore) Transaction(ctx context.Context, fn func(tx Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormStore{db: tx})
	})
}

func (s *GormStore) CreatePurchaseOrder(ctx context.Context, order *PurchaseOrder) error {
	err := s.db.WithContext(ctx).Create(order).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return utils.NewDomainError(utils.DomainCodeDuplicateOrder, "purchase order %q already imported", order.ID)
	}
	if err != nil {
		return fmt.Errorf("create purchase order %q: %w", order.ID, err)
	}
	return nil
}

func (s *GormStore) PurchaseOrderExists(ctx context.Context, id string) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&PurchaseOrder{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return false, fmt.Errorf("count purchase order: %w", err)
	}
	return count > 0, nil
}

func (s *GormStore) ListPurchaseOrders(ctx context.Context, from, to time.Time) ([]PurchaseOrder, error) {
	q := s.db.WithContext(ctx).Model(&PurchaseOrder{}).Where("purchase_date >= ?", from)
	if !to.IsZero() {
		q = q.Where("purchase_date < ?", to)
	}
	var orders []PurchaseOrder
	if err := q.Order("purchase_date ASC, id ASC").Find(&orders).Error; err != nil {
		return nil, fmt.Errorf("list purchase orders: %w", err)
	}
	return orders, nil
}

func (s *GormStore) ListPurchaseLines(ctx context.Context, filter PurchaseLineFilter) ([]PurchaseLine, error) {
	q := s.db.WithContext(ctx).
		Table("purchase_sub_list AS l").
		Select("l.parent_id AS order_id, l.item_name, l.category, l.model, l.quantity, l.unit_price, h.purchase_date, h.store_name").
		Joins("JOIN purchase_history AS h ON h.id = l.parent_id").
		Where("h.purchase_date >= ?", filter.From)
	if !filter.To.IsZero() {
		q = q.Where("h.purchase_date < ?", filter.To)
	}
	if len(filter.Categories) > 0 {
		q = q.Where("l.category IN ?", filter.Categories)
	}
	if len(filter.ItemNames) > 0 {
		q = q.Where("l.item_name IN ?", filter.ItemNames)
	}
	var lines []PurchaseLine
	if err := q.Order("h.purchase_date ASC, l.id ASC").Scan(&lines).Error; err != nil {
		return nil, fmt.Errorf("list purchase lines: %w", err)
	}
	return lines, nil
}

func (s *GormStore) ListInventoryItems(ctx context.Context, categories []string) ([]InventoryItem, error) {
	q := s.db.WithContext(ctx).Model(&InventoryItem{})
	if len(categories) > 0 {
		q = q.Where("category IN ?", categories)
	}
	var items []InventoryItem
	if err := q.Order("item_name ASC").Find(&items).Error; err != nil {
		return nil, fmt.Errorf("list inventory: %w", err)
	}
	return items, nil
}

func (s *GormStore) GetInventoryItem(ctx context.Context, itemName string) (*InventoryItem, error) {
	var item InventoryItem
	err := s.db.WithContext(ctx).Where("item_name = ?", itemName).First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.ErrorRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get inventory item: %w", err)
	}
	return &item, nil
}

func (s *GormStore) SaveInventoryItem(ctx context.Context, item *InventoryItem) error {
	var err error
	if item.ID == 0 {
		err = s.db.WithContext(ctx).Create(item).Error
	} else {
		err = s.db.WithContext(ctx).Save(item).Error
	}
	if err != nil {
		return fmt.Errorf("save inventory item %q: %w", item.ItemName, err)
	}
	return nil
}

func (s *GormStore) ListShoppingList(ctx context.Context, status ShoppingListStatus) ([]ShoppingListEntry, error) {
	q := s.db.WithContext(ctx).Model(&ShoppingListEntry{})
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var entries []ShoppingListEntry
	if err := q.Order("priority DESC, added_at ASC, id ASC").Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("list shopping list: %w", err)
	}
	return entries, nil
}

func (s *GormStore) GetPendingShoppingEntry(ctx context.Context, itemName string) (*ShoppingListEntry, error) {
	var entry ShoppingListEntry
	err := s.db.WithContext(ctx).
		Where("item_name = ? AND status = ?", itemName, ShoppingListStatusPending).
		Order("id ASC").
		First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.ErrorRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get pending shopping entry: %w", err)
	}
	return &entry, nil
}

func (s *GormStore) SaveShoppingEntry(ctx context.Context, entry *ShoppingListEntry) error {
	entry.syncPendingKey()
	var err error
	if entry.ID == 0 {
		err = s.db.WithContext(ctx).Create(entry).Error
	} else {
		err = s.db.WithContext(ctx).Save(entry).Error
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return utils.NewDomainError(utils.DomainCodePendingExists, "item %q already has a pending shopping list entry", entry.ItemName)
	}
	if err != nil {
		return fmt.Errorf("save shopping entry %q: %w", entry.ItemName, err)
	}
	return nil
}

func (s *GormStore) CreateFeedback(ctx context.Context, feedback *UserFeedback) error {
	if err := s.db.WithContext(ctx).Create(feedback).Error; err != nil {
		return fmt.Errorf("create feedback: %w", err)
	}
	return nil
}

func (s *GormStore) ListFeedback(ctx context.Context, filter FeedbackFilter) ([]UserFeedback, error) {
	q := s.db.WithContext(ctx).Model(&UserFeedback{})
	if filter.From != nil {
		q = q.Where("created_at >= ?", *filter.From)
	}
	if filter.To != nil {
		q = q.Where("created_at < ?", *filter.To)
	}
	if len(filter.ItemNames) > 0 {
		q = q.Where("item_name IN ?", filter.ItemNames)
	}
	var rows []UserFeedback
	if err := q.Order("created_at ASC, id ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list feedback: %w", err)
	}
	return rows, nil
}

func (s *GormStore) GetPreference(ctx context.Context, prefType PreferenceType, key string) (*UserPreference, error) {
	var pref UserPreference
	err := s.db.WithContext(ctx).
		Where("preference_type = ? AND preference_key = ?", prefType, key).
		First(&pref).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.ErrorRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get preference: %w", err)
	}
	return &pref, nil
}

func (s *GormStore) CreatePreference(ctx context.Context, pref *UserPreference) error {
	if pref.Version == 0 {
		pref.Version = 1
	}
	err := s.db.WithContext(ctx).Create(pref).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		// another writer created the same (type, key) first
		return utils.ErrStalePreference
	}
	if err != nil {
		return fmt.Errorf("create preference: %w", err)
	}
	return nil
}

func (s *GormStore) UpdatePreference(ctx context.Context, pref *UserPreference, expectedVersion int) error {
	res := s.db.WithContext(ctx).Model(&UserPreference{}).
		Where("id = ? AND version = ?", pref.ID, expectedVersion).
		Updates(map[string]interface{}{
			"preference_value": pref.PreferenceValue,
			"confidence_score": pref.ConfidenceScore,
			"sample_count":     pref.SampleCount,
			"version":          expectedVersion + 1,
		})
	if res.Error != nil {
		return fmt.Errorf("update preference: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return utils.ErrStalePreference
	}
	pref.Version = expectedVersion + 1
	return nil
}

func (s *GormStore) ListPreferences(ctx context.Context, filter PreferenceFilter) ([]UserPreference, error) {
	q := s.db.WithContext(ctx).Model(&UserPreference{}).Where("confidence_score >= ?", filter.MinConfidence)
	if filter.PreferenceType != "" {
		q = q.Where("preference_type = ?", filter.PreferenceType)
	}
	var prefs []UserPreference
	if err := q.Order("preference_type ASC, preference_key ASC").Find(&prefs).Error; err != nil {
		return nil, fmt.Errorf("list preferences: %w", err)
	}
	return prefs, nil
}

func (s *GormStore) GetRecommendationMetrics(ctx context.Context, metricDate string) (*RecommendationMetrics, error) {
	var m RecommendationMetrics
	err := s.db.WithContext(ctx).Where("metric_date = ?", metricDate).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.ErrorRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get recommendation metrics: %w", err)
	}
	return &m, nil
}

func (s *GormStore) SaveRecommendationMetrics(ctx context.Context, metrics *RecommendationMetrics) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "metric_date"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"total_recommendations", "accepted_count", "rejected_count", "modified_count", "ignored_count",
			"acceptance_rate", "avg_priority_accuracy", "avg_quantity_accuracy", "updated_at",
		}),
	}).Create(metrics).Error
	if err != nil {
		return fmt.Errorf("save recommendation metrics %s: %w", metrics.MetricDate, err)
	}
	return nil
}

func (s *GormStore) ListRecommendationMetrics(ctx context.Context, fromDate, toDate string) ([]RecommendationMetrics, error) {
	var rows []RecommendationMetrics
	err := s.db.WithContext(ctx).
		Where("metric_date >= ? AND metric_date <= ?", fromDate, toDate).
		Order("metric_date ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list recommendation metrics: %w", err)
	}
	return rows, nil
}

func (s *GormStore) CreateEngineEvent(ctx context.Context, event *EngineEvent) error {
	if event.PublishStatus == "" {
		event.PublishStatus = OutboxPublishStatusPending
	}
	if err := s.db.WithContext(ctx).Create(event).Error; err != nil {
		return fmt.Errorf("create engine event: %w", err)
	}
	return nil
}
