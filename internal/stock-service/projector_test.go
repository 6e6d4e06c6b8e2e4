package stockservice

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
	store, err := OpenStore(filepath.Join(t.TempDir(), "stock.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func stockMessage(t *testing.T, id string, entries ...messaging.StockUpdateEntry) broker.Message {
	t.Helper()
	body, err := json.Marshal(messaging.StockUpdateMessage{Products: entries})
	require.NoError(t, err)
	return broker.Message{ID: id, Body: body}
}

func TestProjector_DeductsStock(t *testing.T) {
	store := openTestStore(t)
	projector := NewProjector(store)

	msg := stockMessage(t, "order-1",
		messaging.StockUpdateEntry{ProductID: "p1", Quantity: 1},
		messaging.StockUpdateEntry{ProductID: "p2", Quantity: 3},
	)
	require.NoError(t, projector.Handle(context.Background(), msg))

	q1, err := store.Quantity(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, -1, q1)

	q2, err := store.Quantity(context.Background(), "p2")
	require.NoError(t, err)
	assert.Equal(t, -3, q2)
}

func TestProjector_RedeliveryIsIdempotent(t *testing.T) {
	store := openTestStore(t)
	projector := NewProjector(store)

	msg := stockMessage(t, "order-1", messaging.StockUpdateEntry{ProductID: "p1", Quantity: 2})

	require.NoError(t, projector.Handle(context.Background(), msg))
	require.NoError(t, projector.Handle(context.Background(), msg))

	qty, err := store.Quantity(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, -2, qty, "a redelivered message must not deduct twice")
}

func TestProjector_DistinctOrdersAccumulate(t *testing.T) {
	store := openTestStore(t)
	projector := NewProjector(store)

	require.NoError(t, projector.Handle(context.Background(),
		stockMessage(t, "order-1", messaging.StockUpdateEntry{ProductID: "p1", Quantity: 2})))
	require.NoError(t, projector.Handle(context.Background(),
		stockMessage(t, "order-2", messaging.StockUpdateEntry{ProductID: "p1", Quantity: 5})))

	qty, err := store.Quantity(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, -7, qty)
}

func TestProjector_RejectsEmptyAndMalformedPayloads(t *testing.T) {
	store := openTestStore(t)
	projector := NewProjector(store)

	err := projector.Handle(context.Background(), stockMessage(t, "order-1"))
	require.Error(t, err)

	err = projector.Handle(context.Background(), broker.Message{ID: "x", Body: []byte(`{"products":`)})
	require.Error(t, err)
}
