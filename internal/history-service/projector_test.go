package historyservice

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jcmexdev/ecommerce-choreography/internal/broker"
	"github.com/jcmexdev/ecommerce-choreography/internal/messaging"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := OpenStore(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func initiatedMessage() messaging.OrderInitiatedMessage {
	return messaging.OrderInitiatedMessage{
		Order: messaging.OrderInitiatedPayload{
			ID:                "order-1",
			OrderDate:         "2026-08-28T10:00:00Z",
			Status:            messaging.StatusInitiated,
			Subtotal:          100,
			Taxes:             19,
			Total:             119,
			Currency:          "USD",
			ClientID:          "client-1",
			PaymentID:         "pay-1",
			TransactionStatus: "APROBADO",
			TransactionDate:   "2026-08-28T10:00:01Z",
			TransactionID:     "tx-1",
			Items: []messaging.OrderInitiatedItem{
				{ID: "d1", ProductID: "p1", Quantity: 1, UnitPrice: 50, TotalPrice: 50, Currency: "USD"},
				{ID: "d2", ProductID: "p2", Quantity: 1, UnitPrice: 50, TotalPrice: 50, Currency: "USD"},
			},
		},
	}
}

func deliver(t *testing.T, projector *Projector, event messaging.OrderInitiatedMessage) error {
	t.Helper()
	body, err := json.Marshal(event)
	require.NoError(t, err)
	return projector.Handle(context.Background(), broker.Message{ID: event.Order.ID, Body: body})
}

// The wire round-trip property: what the orchestrator serialises is exactly
// what ends up in the downstream projection.
func TestProjector_RoundTrip(t *testing.T) {
	store := openTestStore(t)
	projector := NewProjector(store)
	event := initiatedMessage()

	require.NoError(t, deliver(t, projector, event))

	got, err := store.GetOrder(context.Background(), "order-1")
	require.NoError(t, err)

	assert.Equal(t, event.Order.ID, got.ID)
	assert.Equal(t, messaging.StatusInitiated, got.Status)
	assert.Equal(t, event.Order.Subtotal, got.Subtotal)
	assert.Equal(t, event.Order.Taxes, got.Taxes)
	assert.Equal(t, event.Order.Total, got.Total)
	assert.Equal(t, event.Order.ClientID, got.ClientID)
	assert.Equal(t, event.Order.PaymentID, got.PaymentID)
	assert.Equal(t, event.Order.TransactionStatus, got.TransactionStatus)
	assert.Equal(t, event.Order.TransactionID, got.TransactionID)
	assert.Equal(t, event.Order.Items, got.Items)

	require.Len(t, got.History, 1)
	assert.Equal(t, "Order initiated", got.History[0].Description)
	assert.Equal(t, event.Order.OrderDate, got.History[0].Date)
}

func TestProjector_RedeliveryDoesNotDuplicate(t *testing.T) {
	store := openTestStore(t)
	projector := NewProjector(store)
	event := initiatedMessage()

	require.NoError(t, deliver(t, projector, event))
	require.NoError(t, deliver(t, projector, event))

	got, err := store.GetOrder(context.Background(), "order-1")
	require.NoError(t, err)
	assert.Len(t, got.Items, 2)
	assert.Len(t, got.History, 1)
}

func TestProjector_RejectsEventWithoutOrderID(t *testing.T) {
	projector := NewProjector(openTestStore(t))
	event := initiatedMessage()
	event.Order.ID = ""

	require.Error(t, deliver(t, projector, event))
}

func TestProjector_RejectsMalformedBody(t *testing.T) {
	projector := NewProjector(openTestStore(t))

	err := projector.Handle(context.Background(), broker.Message{ID: "x", Body: []byte(`{`)})
	require.Error(t, err)
}

func TestStore_GetUnknownOrder(t *testing.T) {
	store := openTestStore(t)

	_, err := store.GetOrder(context.Background(), "missing")
	require.ErrorIs(t, err, ErrProjectionNotFound)
}
