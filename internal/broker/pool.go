// Package broker contains the RabbitMQ plumbing of the order saga: a bounded
// connection pool, a fire-and-forget publisher and a self-healing consumer
// runtime. Everything is constructed explicitly and injected; there is no
// package-level connection state.
package broker

import (
	"context"
	"errors"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ErrPoolClosed is returned by Get after Close has been called.
var ErrPoolClosed = errors.New("broker: pool is closed")

// Conn is the slice of *amqp091.Connection the pool needs. Declared as an
// interface so the pool can be exercised in tests without a broker.
type Conn interface {
	Channel() (*amqp.Channel, error)
	IsClosed() bool
	Close() error
}

// DialFunc produces a fresh broker connection.
type DialFunc func() (Conn, error)

// AMQPDial returns a DialFunc for the given amqp:// URL.
func AMQPDial(url string) DialFunc {
	return func() (Conn, error) {
		return amqp.Dial(url)
	}
}

// Pool lends reusable connections around channel-scoped operations. At most
// `size` connections exist at any time; Get blocks while all of them are
// checked out. Lifecycle is explicit: NewPool at boot, Close at shutdown.
type Pool struct {
	dial DialFunc

	slots chan struct{} // counting semaphore: one token per live checkout
	idle  chan Conn

	mu     sync.Mutex
	closed bool
}

func NewPool(dial DialFunc, size int) *Pool {
	if size < 1 {
		size = 1
	}
	p := &Pool{
		dial:  dial,
		slots: make(chan struct{}, size),
		idle:  make(chan Conn, size),
	}
	for i := 0; i < size; i++ {
		p.slots <- struct{}{}
	}
	return p
}

// Get checks a connection out of the pool, dialing a new one if no idle
// connection is available. Stale idle connections are discarded.
func (p *Pool) Get(ctx context.Context) (Conn, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	p.mu.Unlock()

	select {
	case <-p.slots:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	for {
		select {
		case conn := <-p.idle:
			if conn.IsClosed() {
				_ = conn.Close()
				continue
			}
			return conn, nil
		default:
			conn, err := p.dial()
			if err != nil {
				p.slots <- struct{}{}
				return nil, err
			}
			return conn, nil
		}
	}
}

// Put returns a connection to the pool. Broken connections are closed and
// their slot freed for a future dial.
func (p *Pool) Put(conn Conn) {
	if conn == nil {
		return
	}
	defer func() { p.slots <- struct{}{} }()

	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()

	if closed || conn.IsClosed() {
		_ = conn.Close()
		return
	}
	select {
	case p.idle <- conn:
	default:
		_ = conn.Close()
	}
}

// Close marks the pool closed and tears down all idle connections.
// Connections currently checked out are closed when they are returned.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	for {
		select {
		case conn := <-p.idle:
			_ = conn.Close()
		default:
			return nil
		}
	}
}
