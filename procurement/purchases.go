package procurement

import (
	"context"
	"strconv"

	"github.com/mmdatafocus/household_backend/models"
	"github.com/mmdatafocus/household_backend/utils"
	"github.com/shopspring/decimal"
)

type ImportResult struct {
	Imported         int      `json:"imported"`
	OrderIds         []string `json:"order_ids"`
	InventoryUpdated int      `json:"inventory_updated"`
}

func (e *Engine) orderFromInput(i int, in OrderInput) (*models.PurchaseOrder, error) {
	date, err := parseDate(in.PurchaseDate, e.loc)
	if err != nil {
		return nil, utils.NewValidationError("invalid purchase date", map[string]string{
			"orders[" + strconv.Itoa(i) + "].purchaseDate": "date",
		})
	}
	order := &models.PurchaseOrder{
		ID:              in.ID,
		StoreName:       in.StoreName,
		DeliveryCost:    in.DeliveryCost,
		PayFee:          in.PayFee,
		PurchaseDate:    date.UTC(),
		PurchaseChannel: in.PurchaseChannel,
	}
	linesTotal := decimal.Zero
	for j, li := range in.Items {
		if li.UnitPrice.IsNegative() {
			return nil, utils.NewValidationError("invalid unit price", map[string]string{
				"orders[" + strconv.Itoa(i) + "].items[" + strconv.Itoa(j) + "].unitPrice": "gte=0",
			})
		}
		line := models.PurchaseLineItem{
			ItemName:  li.ItemName,
			Quantity:  li.Quantity,
			Model:     li.Model,
			UnitPrice: li.UnitPrice,
			Category:  li.Category,
		}
		linesTotal = linesTotal.Add(line.LineTotal())
		order.Items = append(order.Items, line)
	}
	if in.TotalPrice != nil {
		order.TotalPrice = *in.TotalPrice
	} else {
		order.TotalPrice = linesTotal.Add(in.DeliveryCost).Add(in.PayFee)
	}
	return order, nil
}

// ImportPurchaseOrders inserts already-parsed orders in one transaction. A duplicate order
// id, either stored already or repeated in the batch, rejects the whole batch.
func (e *Engine) ImportPurchaseOrders(ctx context.Context, req ImportOrdersRequest) (result *ImportResult, err error) {
	ctx, span := e.startSpan(ctx, "ImportPurchaseOrders")
	defer func() { endSpan(span, err) }()

	if err := utils.ValidateStruct(req); err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	orders := make([]*models.PurchaseOrder, 0, len(req.Orders))
	for i, in := range req.Orders {
		if seen[in.ID] {
			return nil, utils.NewDomainError(utils.DomainCodeDuplicateOrder, "purchase order %q appears more than once in the batch", in.ID)
		}
		seen[in.ID] = true
		order, err := e.orderFromInput(i, in)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}

	err = e.store.Transaction(ctx, func(tx models.Store) error {
		result = &ImportResult{OrderIds: []string{}}
		for _, order := range orders {
			exists, err := tx.PurchaseOrderExists(ctx, order.ID)
			if err != nil {
				return err
			}
			if exists {
				return utils.NewDomainError(utils.DomainCodeDuplicateOrder, "purchase order %q already imported", order.ID)
			}
			if err := tx.CreatePurchaseOrder(ctx, order); err != nil {
				return err
			}
			result.Imported++
			result.OrderIds = append(result.OrderIds, order.ID)
			if !req.UpdateInventory {
				continue
			}
			for _, line := range order.Items {
				if _, err := e.applyInventoryDelta(ctx, tx, line.ItemName, line.Quantity, line.Category); err != nil {
					return err
				}
				result.InventoryUpdated++
			}
		}
		return nil
	})
	if err != nil {
		e.logError("ImportPurchaseOrders", nil, err)
		return nil, err
	}
	return result, nil
}
