package models_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/mmdatafocus/household_backend/config"
	"github.com/mmdatafocus/household_backend/models"
	"github.com/mmdatafocus/household_backend/utils"
	"github.com/shopspring/decimal"
)

// storeFactories builds a fresh, migrated store per test for every implementation.
func storeFactories() map[string]func(t *testing.T) models.Store {
	return map[string]func(t *testing.T) models.Store{
		"memory": func(t *testing.T) models.Store {
			return models.NewMemoryStore()
		},
		"sqlite": func(t *testing.T) models.Store {
			db, err := config.OpenSQLite(fmt.Sprintf("file:%d?mode=memory&cache=shared", time.Now().UnixNano()))
			if err != nil {
				t.Fatalf("open sqlite: %v", err)
			}
			if err := models.MigrateTable(db); err != nil {
				t.Fatalf("migrate: %v", err)
			}
			return models.NewGormStore(db)
		},
	}
}

var storeContract = []struct {
	name string
	fn   func(t *testing.T, store models.Store)
}{
	{"purchase_orders", contractPurchaseOrders},
	{"transaction_rolls_back", contractTransactionRollsBack},
	{"preference_versioning", contractPreferenceVersioning},
	{"metrics_upsert", contractMetricsUpsert},
	{"read_only_context", contractReadOnlyContext},
	{"shopping_list", contractShoppingList},
	{"one_pending_entry_per_item", contractOnePendingEntryPerItem},
}

func TestStoreContract(t *testing.T) {
	for name, factory := range storeFactories() {
		for _, c := range storeContract {
			t.Run(name+"/"+c.name, func(t *testing.T) {
				c.fn(t, factory(t))
			})
		}
	}
}

func order(id string, at time.Time, lines ...models.PurchaseLineItem) *models.PurchaseOrder {
	total := decimal.Zero
	for _, l := range lines {
		total = total.Add(l.LineTotal())
	}
	return &models.PurchaseOrder{ID: id, PurchaseDate: at, TotalPrice: total, Items: lines}
}

func lineItem(name, category string, qty int, price float64) models.PurchaseLineItem {
	return models.PurchaseLineItem{ItemName: name, Category: category, Quantity: qty, UnitPrice: decimal.NewFromFloat(price)}
}

func contractPurchaseOrders(t *testing.T, store models.Store) {
	ctx := context.Background()
	may1 := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	may20 := time.Date(2024, 5, 20, 9, 0, 0, 0, time.UTC)

	if err := store.CreatePurchaseOrder(ctx, order("TB-2", may20, lineItem("牛奶", "食品", 2, 12.5))); err != nil {
		t.Fatalf("create TB-2: %v", err)
	}
	if err := store.CreatePurchaseOrder(ctx, order("JD-1", may1, lineItem("抽纸", "日用品", 10, 2.5), lineItem("苹果", "食品", 3, 4))); err != nil {
		t.Fatalf("create JD-1: %v", err)
	}

	err := store.CreatePurchaseOrder(ctx, order("JD-1", may1, lineItem("抽纸", "日用品", 1, 2.5)))
	var de *utils.DomainError
	if !errors.As(err, &de) || de.Code != utils.DomainCodeDuplicateOrder {
		t.Fatalf("expected duplicate_order, got %v", err)
	}

	exists, err := store.PurchaseOrderExists(ctx, "TB-2")
	if err != nil || !exists {
		t.Fatalf("expected TB-2 to exist, got %v %v", exists, err)
	}

	lines, err := store.ListPurchaseLines(ctx, models.PurchaseLineFilter{From: may1, Categories: []string{"食品"}})
	if err != nil {
		t.Fatalf("list lines: %v", err)
	}
	if len(lines) != 2 || lines[0].ItemName != "苹果" || lines[1].ItemName != "牛奶" {
		t.Fatalf("expected 苹果 then 牛奶, got %+v", lines)
	}
	if !lines[1].LineTotal().Equal(decimal.NewFromInt(25)) {
		t.Fatalf("expected line total 25, got %s", lines[1].LineTotal())
	}

	orders, err := store.ListPurchaseOrders(ctx, may1, may20)
	if err != nil {
		t.Fatalf("list orders: %v", err)
	}
	if len(orders) != 1 || orders[0].ID != "JD-1" {
		t.Fatalf("expected only JD-1 in [may1, may20), got %+v", orders)
	}
}

func contractTransactionRollsBack(t *testing.T, store models.Store) {
	ctx := context.Background()
	boom := errors.New("boom")
	err := store.Transaction(ctx, func(tx models.Store) error {
		if err := tx.CreatePurchaseOrder(ctx, order("JD-9", time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC), lineItem("抽纸", "日用品", 1, 2.5))); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	exists, err := store.PurchaseOrderExists(ctx, "JD-9")
	if err != nil || exists {
		t.Fatalf("expected rollback, exists=%v err=%v", exists, err)
	}
}

func contractPreferenceVersioning(t *testing.T, store models.Store) {
	ctx := context.Background()
	pref := &models.UserPreference{
		PreferenceType:  models.PreferenceTypeCategoryPriority,
		PreferenceKey:   "食品",
		PreferenceValue: 1.2,
		ConfidenceScore: 0.6,
		SampleCount:     1,
	}
	if err := store.CreatePreference(ctx, pref); err != nil {
		t.Fatalf("create: %v", err)
	}
	if pref.Version != 1 {
		t.Fatalf("expected version 1, got %d", pref.Version)
	}

	dup := &models.UserPreference{PreferenceType: models.PreferenceTypeCategoryPriority, PreferenceKey: "食品"}
	if err := store.CreatePreference(ctx, dup); !errors.Is(err, utils.ErrStalePreference) {
		t.Fatalf("expected stale preference on duplicate create, got %v", err)
	}

	pref.PreferenceValue = 1.0
	pref.SampleCount = 2
	if err := store.UpdatePreference(ctx, pref, 1); err != nil {
		t.Fatalf("update: %v", err)
	}
	if pref.Version != 2 {
		t.Fatalf("expected version 2, got %d", pref.Version)
	}
	if err := store.UpdatePreference(ctx, pref, 1); !errors.Is(err, utils.ErrStalePreference) {
		t.Fatalf("expected stale preference, got %v", err)
	}

	got, err := store.GetPreference(ctx, models.PreferenceTypeCategoryPriority, "食品")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.SampleCount != 2 || got.Version != 2 || got.PreferenceValue != 1.0 {
		t.Fatalf("unexpected stored preference %+v", got)
	}

	if _, err := store.GetPreference(ctx, models.PreferenceTypeQuantityAdjustment, "食品"); !errors.Is(err, utils.ErrorRecordNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	prefs, err := store.ListPreferences(ctx, models.PreferenceFilter{MinConfidence: 0.7})
	if err != nil || len(prefs) != 0 {
		t.Fatalf("expected no preference above 0.7, got %d %v", len(prefs), err)
	}
}

func contractMetricsUpsert(t *testing.T, store models.Store) {
	ctx := context.Background()
	m := &models.RecommendationMetrics{MetricDate: "2024-06-10", TotalRecommendations: 2, AcceptedCount: 1, AcceptanceRate: 0.5}
	if err := store.SaveRecommendationMetrics(ctx, m); err != nil {
		t.Fatalf("save: %v", err)
	}
	m2 := &models.RecommendationMetrics{MetricDate: "2024-06-10", TotalRecommendations: 4, AcceptedCount: 3, AcceptanceRate: 0.75}
	if err := store.SaveRecommendationMetrics(ctx, m2); err != nil {
		t.Fatalf("save again: %v", err)
	}
	rows, err := store.ListRecommendationMetrics(ctx, "2024-06-01", "2024-06-30")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rows) != 1 || rows[0].TotalRecommendations != 4 || rows[0].AcceptanceRate != 0.75 {
		t.Fatalf("expected one upserted row, got %+v", rows)
	}
}

func contractReadOnlyContext(t *testing.T, store models.Store) {
	ctx := config.WithReadOnly(context.Background())
	err := store.Transaction(ctx, func(tx models.Store) error {
		return tx.CreateFeedback(ctx, &models.UserFeedback{
			ItemName:   "抽纸",
			UserAction: models.UserActionAccepted,
			CreatedAt:  time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC),
		})
	})
	if !errors.Is(err, config.ErrReadOnlyContext) {
		t.Fatalf("expected read-only error, got %v", err)
	}
	rows, err := store.ListFeedback(context.Background(), models.FeedbackFilter{})
	if err != nil || len(rows) != 0 {
		t.Fatalf("expected no feedback written, got %d %v", len(rows), err)
	}
}

func contractShoppingList(t *testing.T, store models.Store) {
	ctx := context.Background()
	if _, err := store.GetPendingShoppingEntry(ctx, "抽纸"); !errors.Is(err, utils.ErrorRecordNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	added := time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC)
	for _, e := range []models.ShoppingListEntry{
		{ItemName: "牛奶", Priority: 3, SuggestedQuantity: 2, Status: models.ShoppingListStatusPending, AddedAt: added},
		{ItemName: "抽纸", Priority: 5, SuggestedQuantity: 30, Status: models.ShoppingListStatusPending, AddedAt: added},
	} {
		entry := e
		if err := store.SaveShoppingEntry(ctx, &entry); err != nil {
			t.Fatalf("save %s: %v", entry.ItemName, err)
		}
	}
	pending, err := store.ListShoppingList(ctx, models.ShoppingListStatusPending)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(pending) != 2 || pending[0].ItemName != "抽纸" {
		t.Fatalf("expected 抽纸 first by priority, got %+v", pending)
	}

	entry, err := store.GetPendingShoppingEntry(ctx, "抽纸")
	if err != nil {
		t.Fatalf("get pending: %v", err)
	}
	entry.Status = models.ShoppingListStatusCompleted
	if err := store.SaveShoppingEntry(ctx, entry); err != nil {
		t.Fatalf("complete: %v", err)
	}
	pending, _ = store.ListShoppingList(ctx, models.ShoppingListStatusPending)
	if len(pending) != 1 || pending[0].ItemName != "牛奶" {
		t.Fatalf("expected only 牛奶 pending, got %+v", pending)
	}
}

func contractOnePendingEntryPerItem(t *testing.T, store models.Store) {
	ctx := context.Background()
	added := time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC)
	pending := func() *models.ShoppingListEntry {
		return &models.ShoppingListEntry{ItemName: "抽纸", Priority: 5, SuggestedQuantity: 30, Status: models.ShoppingListStatusPending, AddedAt: added}
	}
	expectPendingExists := func(err error) {
		t.Helper()
		var de *utils.DomainError
		if !errors.As(err, &de) || de.Code != utils.DomainCodePendingExists {
			t.Fatalf("expected %s, got %v", utils.DomainCodePendingExists, err)
		}
	}

	first := pending()
	if err := store.SaveShoppingEntry(ctx, first); err != nil {
		t.Fatalf("save first: %v", err)
	}
	expectPendingExists(store.SaveShoppingEntry(ctx, pending()))

	first.Status = models.ShoppingListStatusCompleted
	if err := store.SaveShoppingEntry(ctx, first); err != nil {
		t.Fatalf("complete first: %v", err)
	}
	second := pending()
	if err := store.SaveShoppingEntry(ctx, second); err != nil {
		t.Fatalf("a completed entry frees the item: %v", err)
	}
	second.Status = models.ShoppingListStatusCompleted
	if err := store.SaveShoppingEntry(ctx, second); err != nil {
		t.Fatalf("complete second: %v", err)
	}
	if err := store.SaveShoppingEntry(ctx, pending()); err != nil {
		t.Fatalf("save third: %v", err)
	}
	completed, err := store.ListShoppingList(ctx, models.ShoppingListStatusCompleted)
	if err != nil {
		t.Fatalf("list completed: %v", err)
	}
	if len(completed) != 2 {
		t.Fatalf("completed entries of one item must coexist, got %+v", completed)
	}

	first.Status = models.ShoppingListStatusPending
	expectPendingExists(store.SaveShoppingEntry(ctx, first))
	stillPending, _ := store.ListShoppingList(ctx, models.ShoppingListStatusPending)
	if len(stillPending) != 1 {
		t.Fatalf("expected exactly one pending 抽纸, got %+v", stillPending)
	}
}
