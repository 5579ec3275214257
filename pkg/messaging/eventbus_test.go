package messaging

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plaenen/iamcore/pkg/domain"
)

func newEvent(instanceID string, aggregateType domain.AggregateType, eventType domain.EventType) *domain.Event {
	return &domain.Event{
		ID:            "evt-" + string(eventType) + "-" + instanceID,
		EventType:     eventType,
		AggregateType: aggregateType,
		AggregateID:   "agg-1",
		InstanceID:    instanceID,
	}
}

func TestEventFilterMatches(t *testing.T) {
	event := newEvent("i1", domain.AggregateTypeUser, domain.UserHumanAddedType)

	tests := []struct {
		name   string
		filter EventFilter
		want   bool
	}{
		{"empty matches all", EventFilter{}, true},
		{"instance match", EventFilter{InstanceID: "i1"}, true},
		{"instance mismatch", EventFilter{InstanceID: "i2"}, false},
		{"aggregate type match", EventFilter{AggregateTypes: []domain.AggregateType{domain.AggregateTypeUser}}, true},
		{"aggregate type mismatch", EventFilter{AggregateTypes: []domain.AggregateType{domain.AggregateTypeOrg}}, false},
		{"event type match", EventFilter{EventTypes: []domain.EventType{domain.UserHumanAddedType}}, true},
		{"event type mismatch", EventFilter{EventTypes: []domain.EventType{domain.UserRemovedType}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.filter.Matches(event))
		})
	}
}

func TestMemoryBusPublishSubscribe(t *testing.T) {
	bus := NewMemoryBus()
	defer bus.Close()

	var mu sync.Mutex
	var received []*domain.Event

	sub, err := bus.Subscribe(EventFilter{InstanceID: "i1"}, func(event *domain.Event) error {
		mu.Lock()
		defer mu.Unlock()
		received = append(received, event)
		return nil
	})
	require.NoError(t, err)

	err = bus.Publish(context.Background(), []*domain.Event{
		newEvent("i1", domain.AggregateTypeUser, domain.UserHumanAddedType),
		newEvent("i2", domain.AggregateTypeUser, domain.UserHumanAddedType),
	})
	require.NoError(t, err)

	mu.Lock()
	assert.Len(t, received, 1)
	assert.Equal(t, "i1", received[0].InstanceID)
	mu.Unlock()

	require.NoError(t, sub.Unsubscribe())
	require.NoError(t, bus.Publish(context.Background(), []*domain.Event{
		newEvent("i1", domain.AggregateTypeUser, domain.UserRemovedType),
	}))

	mu.Lock()
	assert.Len(t, received, 1)
	mu.Unlock()
}

// startEmbeddedNATS runs a JetStream-enabled server on a random port.
func startEmbeddedNATS(t *testing.T) string {
	t.Helper()

	opts := &server.Options{
		Host:      "127.0.0.1",
		Port:      -1,
		JetStream: true,
		StoreDir:  t.TempDir(),
	}
	s, err := server.NewServer(opts)
	require.NoError(t, err)
	go s.Start()
	require.True(t, s.ReadyForConnections(5*time.Second), "embedded server not ready")
	t.Cleanup(s.Shutdown)
	return s.ClientURL()
}

func TestNATSBusPublishSubscribe(t *testing.T) {
	if testing.Short() {
		t.Skip("embedded NATS in short mode")
	}

	url := startEmbeddedNATS(t)
	bus, err := NewNATSBus(NATSConfig{URL: url, StreamName: "TEST_EVENTS", MaxAge: time.Minute})
	require.NoError(t, err)
	defer bus.Close()

	received := make(chan *domain.Event, 4)
	_, err = bus.Subscribe(EventFilter{
		InstanceID:     "i1",
		AggregateTypes: []domain.AggregateType{domain.AggregateTypeOrg},
	}, func(event *domain.Event) error {
		received <- event
		return nil
	})
	require.NoError(t, err)

	err = bus.Publish(context.Background(), []*domain.Event{
		newEvent("i1", domain.AggregateTypeOrg, domain.OrgAddedType),
		newEvent("i1", domain.AggregateTypeUser, domain.UserHumanAddedType),
	})
	require.NoError(t, err)

	select {
	case event := <-received:
		assert.Equal(t, domain.OrgAddedType, event.EventType)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
	}

	select {
	case event := <-received:
		t.Fatalf("unexpected event %s", event.EventType)
	case <-time.After(200 * time.Millisecond):
	}
}
