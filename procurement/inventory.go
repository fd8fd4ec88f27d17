package procurement

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/mmdatafocus/household_backend/models"
	"github.com/mmdatafocus/household_backend/utils"
)

// parseDate accepts YYYY-MM-DD (midnight in loc) or RFC 3339.
func parseDate(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := utils.ParseDateKey(s, loc); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}

// UpdateInventory applies a stock delta. A positive delta on an unknown item creates it;
// consuming an unknown item is a domain error. Quantity never goes below zero.
func (e *Engine) UpdateInventory(ctx context.Context, req InventoryUpdateRequest) (item *models.InventoryItem, err error) {
	ctx, span := e.startSpan(ctx, "UpdateInventory")
	defer func() { endSpan(span, err) }()

	if err := utils.ValidateStruct(req); err != nil {
		return nil, err
	}
	var production, expiry *time.Time
	if req.ProductionDate != nil {
		t, err := parseDate(*req.ProductionDate, e.loc)
		if err != nil {
			return nil, utils.FieldError("productionDate", "date")
		}
		production = &t
	}
	if req.ExpiryDate != nil {
		t, err := parseDate(*req.ExpiryDate, e.loc)
		if err != nil {
			return nil, utils.FieldError("expiryDate", "date")
		}
		expiry = &t
	}

	err = e.store.Transaction(ctx, func(tx models.Store) error {
		item, err = e.applyInventoryDelta(ctx, tx, req.ItemName, req.Delta, req.Category)
		if err != nil {
			return err
		}
		changed := false
		if req.Unit != "" {
			item.Unit, changed = req.Unit, true
		}
		if req.StorageLocation != "" {
			item.StorageLocation, changed = req.StorageLocation, true
		}
		if req.WarrantyPeriod != "" {
			item.WarrantyPeriod, changed = req.WarrantyPeriod, true
		}
		if production != nil {
			item.ProductionDate, changed = production, true
		}
		if expiry != nil {
			item.ExpiryDate, changed = expiry, true
		}
		if !changed {
			return nil
		}
		return tx.SaveInventoryItem(ctx, item)
	})
	if err != nil {
		e.logError("UpdateInventory", req, err)
		return nil, err
	}
	return item, nil
}

func (e *Engine) applyInventoryDelta(ctx context.Context, tx models.Store, itemName string, delta int, category string) (*models.InventoryItem, error) {
	item, err := tx.GetInventoryItem(ctx, itemName)
	if errors.Is(err, utils.ErrorRecordNotFound) {
		if delta <= 0 {
			return nil, utils.NewDomainError(utils.DomainCodeItemNotFound, "inventory item %q does not exist", itemName)
		}
		item = &models.InventoryItem{ItemName: itemName, Category: category}
	} else if err != nil {
		return nil, err
	}
	if item.Category == "" && category != "" {
		item.Category = category
	}
	item.ApplyDelta(delta)
	if err := tx.SaveInventoryItem(ctx, item); err != nil {
		return nil, err
	}
	return item, nil
}
