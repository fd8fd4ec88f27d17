package procurement

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/mmdatafocus/household_backend/config"
	"github.com/mmdatafocus/household_backend/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

func testConfig() config.EngineConfig {
	cfg := config.DefaultEngineConfig()
	cfg.Timezone = "UTC"
	return cfg
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newTestEngine(t *testing.T, now time.Time, opts ...Option) (*Engine, *models.MemoryStore) {
	t.Helper()
	store := models.NewMemoryStore()
	store.Now = func() time.Time { return now }
	base := []Option{WithLogger(quietLogger()), WithClock(func() time.Time { return now })}
	return NewEngine(store, testConfig(), append(base, opts...)...), store
}

type line struct {
	item     string
	category string
	qty      int
	price    float64
}

func seedOrder(t *testing.T, store models.Store, id string, at time.Time, lines ...line) {
	t.Helper()
	order := &models.PurchaseOrder{ID: id, PurchaseDate: at, StoreName: "test"}
	total := decimal.Zero
	for _, l := range lines {
		li := models.PurchaseLineItem{
			ItemName:  l.item,
			Category:  l.category,
			Quantity:  l.qty,
			UnitPrice: decimal.NewFromFloat(l.price),
		}
		total = total.Add(li.LineTotal())
		order.Items = append(order.Items, li)
	}
	order.TotalPrice = total
	if err := store.CreatePurchaseOrder(context.Background(), order); err != nil {
		t.Fatalf("seed order %s: %v", id, err)
	}
}

func seedInventory(t *testing.T, store models.Store, name, category string, qty int) {
	t.Helper()
	item := &models.InventoryItem{ItemName: name, Category: category, CurrentQuantity: qty}
	if err := store.SaveInventoryItem(context.Background(), item); err != nil {
		t.Fatalf("seed inventory %s: %v", name, err)
	}
}

func findRecommendation(recs []Recommendation, item string) (Recommendation, bool) {
	for _, r := range recs {
		if r.ItemName == item {
			return r, true
		}
	}
	return Recommendation{}, false
}

func almostEqual(a, b float64) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d < 1e-6
}
