package obs

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finsight-ai/finsight/pkg/models"
)

type captureSink struct {
	mu     sync.Mutex
	events []models.BrokerEvent
}

func (s *captureSink) InsertBrokerEvent(_ context.Context, ev models.BrokerEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func TestRing_AppendOrderPreserved(t *testing.T) {
	r := NewRing(8, nil)
	for i := 0; i < 5; i++ {
		r.Append(models.BrokerEvent{Endpoint: fmt.Sprintf("/e%d", i)})
	}

	snap := r.Snapshot()
	require.Len(t, snap, 5)
	for i, ev := range snap {
		assert.Equal(t, fmt.Sprintf("/e%d", i), ev.Endpoint)
	}
}

func TestRing_EvictsOldestWhenFull(t *testing.T) {
	r := NewRing(3, nil)
	for i := 0; i < 5; i++ {
		r.Append(models.BrokerEvent{Endpoint: fmt.Sprintf("/e%d", i)})
	}

	snap := r.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, "/e2", snap[0].Endpoint)
	assert.Equal(t, "/e4", snap[2].Endpoint)
}

func TestRing_LastErrorPerApp(t *testing.T) {
	r := NewRing(8, nil)
	r.Append(models.BrokerEvent{App: "market", Success: true, Endpoint: "/ok"})
	r.Append(models.BrokerEvent{App: "market", Success: false, Endpoint: "/fail1", Error: "boom"})
	r.Append(models.BrokerEvent{App: "trader", Success: true, Endpoint: "/ok"})
	r.Append(models.BrokerEvent{App: "market", Success: false, Endpoint: "/fail2", Error: "again"})

	ev, ok := r.LastError("market")
	require.True(t, ok)
	assert.Equal(t, "/fail2", ev.Endpoint)

	_, ok = r.LastError("trader")
	assert.False(t, ok, "trader has no failed events")
}

func TestRing_AsyncAuditWrite(t *testing.T) {
	sink := &captureSink{}
	r := NewRing(8, sink)

	r.Append(models.BrokerEvent{Provider: "schwab", Endpoint: "/quote"})
	r.Append(models.BrokerEvent{Provider: "alpaca", Endpoint: "/bars"})
	r.Flush()

	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.Len(t, sink.events, 2)
}
