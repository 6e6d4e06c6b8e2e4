package historyservice

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/jcmexdev/ecommerce-choreography/internal/broker"
	"github.com/jcmexdev/ecommerce-choreography/internal/messaging"
)

// Projector is the order-initiated consumer callback.
type Projector struct {
	store *Store
}

func NewProjector(store *Store) *Projector {
	return &Projector{store: store}
}

// Handle decodes one order-initiated event and upserts the projection. The
// order id is the idempotency key, so redelivery replaces rather than
// duplicates.
func (p *Projector) Handle(ctx context.Context, msg broker.Message) error {
	var event messaging.OrderInitiatedMessage
	if err := json.Unmarshal(msg.Body, &event); err != nil {
		return fmt.Errorf("history: decode order initiated: %w", err)
	}
	if event.Order.ID == "" {
		return fmt.Errorf("history: order initiated message %q has no order id", msg.ID)
	}

	if err := p.store.UpsertOrder(ctx, event.Order); err != nil {
		return err
	}

	slog.InfoContext(ctx, "order projection written",
		"order_id", event.Order.ID, "items", len(event.Order.Items))
	return nil
}
