package broker

import (
	"context"
	"errors"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jcmexdev/ecommerce-choreography/internal/pkg/metrics"
)

// fakeAcker implements amqp.Acknowledger so deliveries can be dispatched
// without a broker.
type fakeAcker struct {
	acked   bool
	nacked  bool
	requeue bool
}

func (f *fakeAcker) Ack(uint64, bool) error { f.acked = true; return nil }
func (f *fakeAcker) Nack(_ uint64, _ bool, requeue bool) error {
	f.nacked = true
	f.requeue = requeue
	return nil
}
func (f *fakeAcker) Reject(_ uint64, requeue bool) error {
	f.nacked = true
	f.requeue = requeue
	return nil
}

type captured struct {
	exchange string
	key      string
	msg      amqp.Publishing
}

// fakeChannel implements republisher and records retry/DLQ publishes.
type fakeChannel struct {
	published []captured
	err       error
}

func (f *fakeChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, captured{exchange, key, msg})
	return nil
}

func newTestConsumer(maxRetries int, handler HandlerFunc) *Consumer {
	return NewConsumer(nil, ConsumerConfig{
		Queue:      "test_queue",
		MaxRetries: maxRetries,
	}, handler, metrics.NewCounters())
}

func delivery(acker amqp.Acknowledger, body string, headers amqp.Table) amqp.Delivery {
	return amqp.Delivery{
		Acknowledger: acker,
		MessageId:    "msg-1",
		Body:         []byte(body),
		Headers:      headers,
		ContentType:  "application/json",
	}
}

func TestDispatch_SuccessAcks(t *testing.T) {
	var got Message
	consumer := newTestConsumer(3, func(_ context.Context, msg Message) error {
		got = msg
		return nil
	})

	acker := &fakeAcker{}
	ch := &fakeChannel{}
	consumer.dispatch(context.Background(), ch, delivery(acker, `{"ok":true}`, nil))

	assert.True(t, acker.acked)
	assert.False(t, acker.nacked)
	assert.Empty(t, ch.published)
	assert.Equal(t, "msg-1", got.ID)
	assert.JSONEq(t, `{"ok":true}`, string(got.Body))
}

func TestDispatch_FailureRequeuesWithBumpedCounter(t *testing.T) {
	consumer := newTestConsumer(3, func(context.Context, Message) error {
		return errors.New("projection write failed")
	})

	acker := &fakeAcker{}
	ch := &fakeChannel{}
	consumer.dispatch(context.Background(), ch, delivery(acker, `{"ok":true}`, nil))

	// The copy goes back through the queue, then the original is acked.
	require.Len(t, ch.published, 1)
	assert.Equal(t, "", ch.published[0].exchange)
	assert.Equal(t, "test_queue", ch.published[0].key)
	assert.Equal(t, int32(1), ch.published[0].msg.Headers[retryCountHeader])
	assert.Equal(t, "msg-1", ch.published[0].msg.MessageId)
	assert.True(t, acker.acked)
	assert.False(t, acker.nacked)
}

func TestDispatch_RedeliveryReachesHandlerAgain(t *testing.T) {
	var invocations int
	var secondBody []byte
	consumer := newTestConsumer(3, func(_ context.Context, msg Message) error {
		invocations++
		if invocations == 1 {
			return errors.New("transient failure")
		}
		secondBody = msg.Body
		return nil
	})

	acker := &fakeAcker{}
	ch := &fakeChannel{}
	consumer.dispatch(context.Background(), ch, delivery(acker, `{"value":42}`, nil))
	require.Len(t, ch.published, 1)

	// Feed the republished copy back in, as the broker would.
	redelivered := delivery(&fakeAcker{}, string(ch.published[0].msg.Body), ch.published[0].msg.Headers)
	consumer.dispatch(context.Background(), ch, redelivered)

	assert.Equal(t, 2, invocations)
	assert.JSONEq(t, `{"value":42}`, string(secondBody))
}

func TestDispatch_ExhaustedRetriesDeadLetter(t *testing.T) {
	handlerErr := errors.New("permanently failing")
	consumer := newTestConsumer(3, func(context.Context, Message) error { return handlerErr })

	acker := &fakeAcker{}
	ch := &fakeChannel{}
	headers := amqp.Table{retryCountHeader: int32(3)}
	consumer.dispatch(context.Background(), ch, delivery(acker, `{"ok":true}`, headers))

	require.Len(t, ch.published, 1)
	assert.Equal(t, "test_queue.dlq", ch.published[0].key)
	assert.Equal(t, handlerErr.Error(), ch.published[0].msg.Headers[deadReasonHeader])
	assert.True(t, acker.acked)
}

func TestDispatch_MalformedBodyGoesStraightToDLQ(t *testing.T) {
	var handlerCalled bool
	consumer := newTestConsumer(3, func(context.Context, Message) error {
		handlerCalled = true
		return nil
	})

	acker := &fakeAcker{}
	ch := &fakeChannel{}
	consumer.dispatch(context.Background(), ch, delivery(acker, `not json at all`, nil))

	assert.False(t, handlerCalled)
	require.Len(t, ch.published, 1)
	assert.Equal(t, "test_queue.dlq", ch.published[0].key)
	assert.True(t, acker.acked)
}

func TestDispatch_RepublishFailureNacksWithRequeue(t *testing.T) {
	consumer := newTestConsumer(3, func(context.Context, Message) error {
		return errors.New("handler failure")
	})

	acker := &fakeAcker{}
	ch := &fakeChannel{err: errors.New("channel gone")}
	consumer.dispatch(context.Background(), ch, delivery(acker, `{"ok":true}`, nil))

	assert.False(t, acker.acked)
	assert.True(t, acker.nacked)
	assert.True(t, acker.requeue)
}

func TestDispatch_HandlerPanicIsAFailure(t *testing.T) {
	consumer := newTestConsumer(3, func(context.Context, Message) error {
		panic("boom")
	})

	acker := &fakeAcker{}
	ch := &fakeChannel{}
	consumer.dispatch(context.Background(), ch, delivery(acker, `{"ok":true}`, nil))

	require.Len(t, ch.published, 1)
	assert.Equal(t, "test_queue", ch.published[0].key)
	assert.True(t, acker.acked)
}

func TestRetryCount_ToleratesHeaderWidths(t *testing.T) {
	assert.Equal(t, 0, retryCount(nil))
	assert.Equal(t, 2, retryCount(amqp.Table{retryCountHeader: int32(2)}))
	assert.Equal(t, 3, retryCount(amqp.Table{retryCountHeader: int64(3)}))
	assert.Equal(t, 4, retryCount(amqp.Table{retryCountHeader: 4}))
	assert.Equal(t, 5, retryCount(amqp.Table{retryCountHeader: float64(5)}))
	assert.Equal(t, 0, retryCount(amqp.Table{retryCountHeader: "bogus"}))
}

func TestRun_GivesUpAfterMaxConnectAttempts(t *testing.T) {
	dialErr := errors.New("connection refused")
	var dials int
	dial := func() (Conn, error) {
		dials++
		return nil, dialErr
	}

	consumer := NewConsumer(dial, ConsumerConfig{
		Queue:              "test_queue",
		MaxConnectAttempts: 3,
		ReconnectBackoff:   time.Millisecond,
	}, func(context.Context, Message) error { return nil }, metrics.NewCounters())

	err := consumer.Run(context.Background())
	require.ErrorIs(t, err, dialErr)
	assert.Equal(t, 3, dials)
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	dial := func() (Conn, error) { return nil, errors.New("connection refused") }
	consumer := NewConsumer(dial, ConsumerConfig{
		Queue:            "test_queue",
		ReconnectBackoff: time.Millisecond,
	}, func(context.Context, Message) error { return nil }, metrics.NewCounters())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := consumer.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
}
