package procurement

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mmdatafocus/household_backend/models"
	"github.com/mmdatafocus/household_backend/utils"
	"gorm.io/datatypes"
)

// emitEvent appends an outbox row inside tx; the workflow dispatcher publishes it after commit.
func (e *Engine) emitEvent(ctx context.Context, tx models.Store, eventType, aggregateKey string, payload interface{}) error {
	if !e.eventsEnabled {
		return nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	correlationId, _ := utils.GetCorrelationIdFromContext(ctx)
	return tx.CreateEngineEvent(ctx, &models.EngineEvent{
		EventType:     eventType,
		AggregateKey:  aggregateKey,
		Payload:       datatypes.JSON(b),
		CorrelationId: correlationId,
	})
}
