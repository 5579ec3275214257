package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/plaenen/iamcore/pkg/domain"
	"github.com/plaenen/iamcore/pkg/idgen"
)

// NATSBus is a JetStream-backed EventBus with at-least-once delivery for
// cross-process subscribers.
type NATSBus struct {
	nc         *nats.Conn
	js         nats.JetStreamContext
	streamName string
	mu         sync.Mutex
	subs       map[string]*nats.Subscription
}

// NATSConfig holds configuration for the NATS event bus.
type NATSConfig struct {
	// URL is the NATS server URL
	URL string

	// StreamName is the JetStream stream name for events
	StreamName string

	// MaxAge is how long to retain events in the stream
	MaxAge time.Duration
}

// DefaultNATSConfig returns sensible defaults.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:        nats.DefaultURL,
		StreamName: "IAM_EVENTS",
		MaxAge:     24 * time.Hour,
	}
}

// NewNATSBus connects to NATS and ensures the stream exists.
func NewNATSBus(config NATSConfig) (*NATSBus, error) {
	if config.StreamName == "" {
		config.StreamName = "IAM_EVENTS"
	}

	nc, err := nats.Connect(config.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	bus := &NATSBus{
		nc:         nc,
		js:         js,
		streamName: config.StreamName,
		subs:       make(map[string]*nats.Subscription),
	}

	streamConfig := &nats.StreamConfig{
		Name:      config.StreamName,
		Subjects:  []string{"events.>"},
		Retention: nats.LimitsPolicy,
		MaxAge:    config.MaxAge,
		Storage:   nats.FileStorage,
		Replicas:  1,
	}
	if _, err := js.StreamInfo(config.StreamName); err != nil {
		if _, err := js.AddStream(streamConfig); err != nil {
			nc.Close()
			return nil, fmt.Errorf("failed to create stream: %w", err)
		}
	}

	return bus, nil
}

// subjectFor maps an event to its publish subject:
// events.<instanceID>.<aggregateType>.<eventType with dots replaced>.
func subjectFor(e *domain.Event) string {
	return fmt.Sprintf("events.%s.%s.%s", e.InstanceID, e.AggregateType, sanitizeToken(string(e.EventType)))
}

func sanitizeToken(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if r == '.' || r == ' ' {
			out = append(out, '_')
			continue
		}
		out = append(out, r)
	}
	return string(out)
}

// Publish publishes events to JetStream, using the event id for dedup.
func (b *NATSBus) Publish(_ context.Context, events []*domain.Event) error {
	for _, event := range events {
		data, err := json.Marshal(event)
		if err != nil {
			return fmt.Errorf("failed to serialize event %s: %w", event.ID, err)
		}
		if _, err := b.js.Publish(subjectFor(event), data, nats.MsgId(event.ID)); err != nil {
			return fmt.Errorf("failed to publish event %s: %w", event.ID, err)
		}
	}
	return nil
}

// Subscribe subscribes to events matching the filter. Filters that select
// more than one aggregate or event type subscribe to the wide subject and
// filter in the handler.
func (b *NATSBus) Subscribe(filter EventFilter, handler EventHandler) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subject := b.buildSubject(filter)
	consumerName := "consumer_" + idgen.MustGenerateSortableID()[:10]

	sub, err := b.js.Subscribe(
		subject,
		func(msg *nats.Msg) {
			var event domain.Event
			if err := json.Unmarshal(msg.Data, &event); err != nil {
				_ = msg.Term()
				return
			}
			if !filter.Matches(&event) {
				_ = msg.Ack()
				return
			}
			if err := handler(&event); err != nil {
				_ = msg.Nak()
				return
			}
			_ = msg.Ack()
		},
		nats.Durable(consumerName),
		nats.ManualAck(),
		nats.AckExplicit(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}

	b.subs[consumerName] = sub
	return &natsSubscription{bus: b, sub: sub, consumerName: consumerName}, nil
}

func (b *NATSBus) buildSubject(filter EventFilter) string {
	instance := filter.InstanceID
	if instance == "" {
		instance = "*"
	}
	if len(filter.AggregateTypes) == 1 {
		if len(filter.EventTypes) == 1 {
			return fmt.Sprintf("events.%s.%s.%s", instance, filter.AggregateTypes[0], sanitizeToken(string(filter.EventTypes[0])))
		}
		return fmt.Sprintf("events.%s.%s.>", instance, filter.AggregateTypes[0])
	}
	return fmt.Sprintf("events.%s.>", instance)
}

// Close drains all subscriptions and disconnects.
func (b *NATSBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.subs {
		_ = sub.Unsubscribe()
	}
	b.subs = map[string]*nats.Subscription{}
	b.nc.Close()
	return nil
}

type natsSubscription struct {
	bus          *NATSBus
	sub          *nats.Subscription
	consumerName string
}

func (s *natsSubscription) Unsubscribe() error {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	delete(s.bus.subs, s.consumerName)
	return s.sub.Unsubscribe()
}
