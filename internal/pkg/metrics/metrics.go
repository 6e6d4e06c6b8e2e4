// Package metrics keeps simple process-wide counters for the messaging
// pipeline and exposes them as a JSON snapshot. Publish failures are
// deliberately swallowed by the checkout path, so these counters are the
// only place where that loss becomes visible.
package metrics

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync/atomic"
)

type Counters struct {
	published       atomic.Int64
	publishFailures atomic.Int64
	breakerOpen     atomic.Int64
	consumed        atomic.Int64
	retried         atomic.Int64
	deadLettered    atomic.Int64
}

// Default is the instance shared by a process.
var Default = NewCounters()

func NewCounters() *Counters {
	return &Counters{}
}

func (c *Counters) IncPublished()      { c.published.Add(1) }
func (c *Counters) IncPublishFailure() { c.publishFailures.Add(1) }
func (c *Counters) IncBreakerOpen()    { c.breakerOpen.Add(1) }
func (c *Counters) IncConsumed()       { c.consumed.Add(1) }
func (c *Counters) IncRetried()        { c.retried.Add(1) }
func (c *Counters) IncDeadLettered()   { c.deadLettered.Add(1) }

func (c *Counters) Snapshot() map[string]int64 {
	return map[string]int64{
		"published":        c.published.Load(),
		"publish_failures": c.publishFailures.Load(),
		"breaker_open":     c.breakerOpen.Load(),
		"consumed":         c.consumed.Load(),
		"retried":          c.retried.Load(),
		"dead_lettered":    c.deadLettered.Load(),
	}
}

// Handler serves the snapshot of the default counters as JSON.
func Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(Default.Snapshot()); err != nil {
			slog.Error("failed to write metrics snapshot", "error", err)
		}
	}
}

// StartServer runs a standalone metrics endpoint for binaries that have no
// HTTP surface of their own (the consumer processes).
func StartServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", Handler())

	server := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("metrics server stopped", "error", err)
		}
	}()
	return server
}
