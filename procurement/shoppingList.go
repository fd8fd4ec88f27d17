package procurement

import (
	"context"
	"errors"
	"time"

	"github.com/mmdatafocus/household_backend/models"
	"github.com/mmdatafocus/household_backend/utils"
)

type ApplyResult struct {
	Inserted int                        `json:"inserted"`
	Updated  int                        `json:"updated"`
	Entries  []models.ShoppingListEntry `json:"entries"`
}

const shoppingLockTTL = 10 * time.Second

func shoppingLockKey(itemName string) string {
	return "household:shopping:" + itemName
}

// ApplyRecommendations upserts items into the shopping list in one transaction: a pending
// entry for the item is updated, otherwise a new pending entry is added. Without explicit
// items the current recommendations are generated and applied. Writers of the same item are
// serialized by its redis lock; the store's pending key rejects whatever slips past.
func (e *Engine) ApplyRecommendations(ctx context.Context, req ApplyRecommendationsRequest) (result *ApplyResult, err error) {
	ctx, span := e.startSpan(ctx, "ApplyRecommendations")
	defer func() { endSpan(span, err) }()

	if err := utils.ValidateStruct(req); err != nil {
		return nil, err
	}
	items := req.Items
	if len(items) == 0 {
		err = e.readOnly(ctx, func(ctx context.Context, tx models.Store) error {
			generated, err := e.generateRecommendations(ctx, tx, req.RecommendationRequest)
			if err != nil {
				return err
			}
			for _, r := range generated.Recommendations {
				items = append(items, ApplyItem{
					ItemName:          r.ItemName,
					SuggestedQuantity: r.SuggestedQuantity,
					Priority:          r.Priority,
					Reason:            r.Reason,
				})
			}
			return nil
		})
		if err != nil {
			e.logError("ApplyRecommendations", nil, err)
			return nil, err
		}
	}
	keys := make([]string, 0, len(items))
	for _, it := range items {
		keys = append(keys, shoppingLockKey(it.ItemName))
	}
	err = e.withLocks(ctx, keys, shoppingLockTTL, func() error {
		return e.store.Transaction(ctx, func(tx models.Store) error {
			result = &ApplyResult{Entries: []models.ShoppingListEntry{}}
			for _, it := range items {
				entry, err := tx.GetPendingShoppingEntry(ctx, it.ItemName)
				switch {
				case errors.Is(err, utils.ErrorRecordNotFound):
					entry = &models.ShoppingListEntry{
						ItemName: it.ItemName,
						Status:   models.ShoppingListStatusPending,
						AddedAt:  e.now().UTC(),
					}
					result.Inserted++
				case err != nil:
					return err
				default:
					result.Updated++
				}
				entry.SuggestedQuantity = it.SuggestedQuantity
				entry.Priority = it.Priority
				entry.Reason = it.Reason
				if err := tx.SaveShoppingEntry(ctx, entry); err != nil {
					return err
				}
				result.Entries = append(result.Entries, *entry)
			}
			if len(result.Entries) == 0 {
				return nil
			}
			return e.emitEvent(ctx, tx, models.EngineEventShoppingListUpdated, "apply", result)
		})
	})
	if err != nil {
		e.logError("ApplyRecommendations", nil, err)
		return nil, err
	}
	return result, nil
}

func (e *Engine) GetShoppingList(ctx context.Context, req ShoppingListRequest) ([]models.ShoppingListEntry, error) {
	if err := utils.ValidateStruct(req); err != nil {
		return nil, err
	}
	entries, err := e.store.ListShoppingList(ctx, models.ShoppingListStatus(req.Status))
	if err != nil {
		e.logError("GetShoppingList", req, err)
		return nil, err
	}
	if entries == nil {
		entries = []models.ShoppingListEntry{}
	}
	return entries, nil
}

// CompleteShoppingListItem moves the pending entry of an item to completed.
func (e *Engine) CompleteShoppingListItem(ctx context.Context, req CompleteShoppingItemRequest) (entry *models.ShoppingListEntry, err error) {
	ctx, span := e.startSpan(ctx, "CompleteShoppingListItem")
	defer func() { endSpan(span, err) }()

	if err := utils.ValidateStruct(req); err != nil {
		return nil, err
	}
	err = e.withLocks(ctx, []string{shoppingLockKey(req.ItemName)}, shoppingLockTTL, func() error {
		return e.store.Transaction(ctx, func(tx models.Store) error {
			entry, err = tx.GetPendingShoppingEntry(ctx, req.ItemName)
			if errors.Is(err, utils.ErrorRecordNotFound) {
				return utils.NewDomainError(utils.DomainCodeEntryNotPending, "no pending shopping list entry for %q", req.ItemName)
			} else if err != nil {
				return err
			}
			completedAt := e.now().UTC()
			entry.Status = models.ShoppingListStatusCompleted
			entry.CompletedAt = &completedAt
			if err := tx.SaveShoppingEntry(ctx, entry); err != nil {
				return err
			}
			return e.emitEvent(ctx, tx, models.EngineEventShoppingListUpdated, entry.ItemName, entry)
		})
	})
	if err != nil {
		e.logError("CompleteShoppingListItem", req, err)
		return nil, err
	}
	return entry, nil
}
