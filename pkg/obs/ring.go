// Package obs provides provider observability: a bounded in-process ring of
// broker API events, an asynchronous audit sink, and the tracer used by the
// report orchestrator.
package obs

import (
	"context"
	"log/slog"
	"sync"

	"github.com/finsight-ai/finsight/pkg/models"
)

// DefaultRingCapacity bounds the in-process event ring.
const DefaultRingCapacity = 512

// AuditSink persists broker events. Implementations must be safe for
// concurrent use. Persistence is best-effort — the ring never blocks on it.
type AuditSink interface {
	InsertBrokerEvent(ctx context.Context, ev models.BrokerEvent) error
}

// Ring is a bounded append-only ring of broker API events. Append order is
// preserved; when full, the oldest events are dropped. Every append also
// fires an asynchronous write to the audit sink when one is configured.
type Ring struct {
	mu       sync.RWMutex
	events   []models.BrokerEvent
	start    int
	count    int
	capacity int

	// last error per app, for the status query
	lastErrors map[string]models.BrokerEvent

	sink AuditSink
	wg   sync.WaitGroup
}

// NewRing creates a ring with the given capacity (DefaultRingCapacity when
// capacity <= 0). sink may be nil (no persistence).
func NewRing(capacity int, sink AuditSink) *Ring {
	if capacity <= 0 {
		capacity = DefaultRingCapacity
	}
	return &Ring{
		events:     make([]models.BrokerEvent, capacity),
		capacity:   capacity,
		lastErrors: make(map[string]models.BrokerEvent),
		sink:       sink,
	}
}

// Append records an event, evicting the oldest when the ring is full, and
// schedules an asynchronous audit write.
func (r *Ring) Append(ev models.BrokerEvent) {
	r.mu.Lock()
	idx := (r.start + r.count) % r.capacity
	r.events[idx] = ev
	if r.count < r.capacity {
		r.count++
	} else {
		r.start = (r.start + 1) % r.capacity
	}
	if !ev.Success {
		r.lastErrors[ev.App] = ev
	}
	r.mu.Unlock()

	if r.sink != nil {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			if err := r.sink.InsertBrokerEvent(context.Background(), ev); err != nil {
				slog.Warn("broker event audit write failed",
					"provider", ev.Provider, "endpoint", ev.Endpoint, "error", err)
			}
		}()
	}
}

// Snapshot returns the buffered events in append order.
func (r *Ring) Snapshot() []models.BrokerEvent {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.BrokerEvent, r.count)
	for i := 0; i < r.count; i++ {
		out[i] = r.events[(r.start+i)%r.capacity]
	}
	return out
}

// LastError returns the most recent failed event for an app, if any.
func (r *Ring) LastError(app string) (models.BrokerEvent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ev, ok := r.lastErrors[app]
	return ev, ok
}

// LastErrors returns the most recent failed event for every app.
func (r *Ring) LastErrors() map[string]models.BrokerEvent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]models.BrokerEvent, len(r.lastErrors))
	for app, ev := range r.lastErrors {
		out[app] = ev
	}
	return out
}

// Flush waits for in-flight audit writes. Used during shutdown and in tests.
func (r *Ring) Flush() {
	r.wg.Wait()
}
