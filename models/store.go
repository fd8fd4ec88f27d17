package models

import (
	"context"
	"time"
)

// Store is the data-access contract the engine runs against. GormStore is the
// MySQL implementation; MemoryStore backs tests and STORE_DRIVER=memory.
//
// Lookups of a single row return utils.ErrorRecordNotFound when absent.
type Store interface {
	// Transaction runs fn against a transactional Store. fn's error rolls everything back;
	// nested calls become savepoints.
	Transaction(ctx context.Context, fn func(tx Store) error) error

	CreatePurchaseOrder(ctx context.Context, order *PurchaseOrder) error
	PurchaseOrderExists(ctx context.Context, id string) (bool, error)
	ListPurchaseOrders(ctx context.Context, from, to time.Time) ([]PurchaseOrder, error)
	ListPurchaseLines(ctx context.Context, filter PurchaseLineFilter) ([]PurchaseLine, error)

	ListInventoryItems(ctx context.Context, categories []string) ([]InventoryItem, error)
	GetInventoryItem(ctx context.Context, itemName string) (*InventoryItem, error)
	SaveInventoryItem(ctx context.Context, item *InventoryItem) error

	ListShoppingList(ctx context.Context, status ShoppingListStatus) ([]ShoppingListEntry, error)
	GetPendingShoppingEntry(ctx context.Context, itemName string) (*ShoppingListEntry, error)
	SaveShoppingEntry(ctx context.Context, entry *ShoppingListEntry) error

	CreateFeedback(ctx context.Context, feedback *UserFeedback) error
	ListFeedback(ctx context.Context, filter FeedbackFilter) ([]UserFeedback, error)

	GetPreference(ctx context.Context, prefType PreferenceType, key string) (*UserPreference, error)
	CreatePreference(ctx context.Context, pref *UserPreference) error
	// UpdatePreference writes pref only if the stored version still equals expectedVersion,
	// otherwise it returns utils.ErrStalePreference. On success pref.Version is bumped.
	UpdatePreference(ctx context.Context, pref *UserPreference, expectedVersion int) error
	ListPreferences(ctx context.Context, filter PreferenceFilter) ([]UserPreference, error)

	GetRecommendationMetrics(ctx context.Context, metricDate string) (*RecommendationMetrics, error)
	SaveRecommendationMetrics(ctx context.Context, metrics *RecommendationMetrics) error
	ListRecommendationMetrics(ctx context.Context, fromDate, toDate string) ([]RecommendationMetrics, error)

	CreateEngineEvent(ctx context.Context, event *EngineEvent) error
}

// PurchaseLineFilter selects line items whose order date is within [From, To).
// A zero To leaves the range open-ended.
type PurchaseLineFilter struct {
	From       time.Time
	To         time.Time
	Categories []string
	ItemNames  []string
}

// FeedbackFilter selects feedback created within [From, To) for the given items.
type FeedbackFilter struct {
	From      *time.Time
	To        *time.Time
	ItemNames []string
}

type PreferenceFilter struct {
	MinConfidence  float64
	PreferenceType PreferenceType
}
