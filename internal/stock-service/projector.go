package stockservice

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/jcmexdev/ecommerce-choreography/internal/broker"
	"github.com/jcmexdev/ecommerce-choreography/internal/messaging"
)

// Projector is the stock-update consumer callback. It owns no broker state;
// the consumer runtime drives it one message at a time.
type Projector struct {
	store *Store
}

func NewProjector(store *Store) *Projector {
	return &Projector{store: store}
}

// Handle decodes one stock-update event and applies the deduction. Errors
// bubble up to the consumer runtime, which retries and eventually
// dead-letters.
func (p *Projector) Handle(ctx context.Context, msg broker.Message) error {
	var event messaging.StockUpdateMessage
	if err := json.Unmarshal(msg.Body, &event); err != nil {
		return fmt.Errorf("stock: decode stock update: %w", err)
	}
	if len(event.Products) == 0 {
		return fmt.Errorf("stock: stock update %q has no products", msg.ID)
	}

	applied, err := p.store.ApplyDeduction(ctx, msg.ID, event.Products)
	if err != nil {
		return err
	}
	if !applied {
		slog.InfoContext(ctx, "duplicate stock update skipped", "message_id", msg.ID)
		return nil
	}

	slog.InfoContext(ctx, "stock deducted", "message_id", msg.ID, "products", len(event.Products))
	return nil
}
