package events

import (
	"context"
	"fmt"
	"sync"

	"ms-ledger/internal/config"
	"ms-ledger/internal/logger"
	"ms-ledger/internal/metrics"
	"ms-ledger/internal/models"
)

// Emitter receives every committed wallet or reservation change exactly once.
// Implementations must not fail the caller: the change is already durable.
type Emitter interface {
	Emit(ctx context.Context, ev models.ChangeEvent)
}

// Publisher is implemented by the Kafka producer.
type Publisher interface {
	Publish(ctx context.Context, topic, key string, value interface{}) error
}

// KafkaEmitter publishes change events to their topic, keyed so that the
// events of one wallet or one element land on one partition.
type KafkaEmitter struct {
	publisher Publisher
	topics    config.TopicConfig
	logger    *logger.Logger
}

func NewKafkaEmitter(p Publisher, topics config.TopicConfig, log *logger.Logger) *KafkaEmitter {
	return &KafkaEmitter{publisher: p, topics: topics, logger: log}
}

func (k *KafkaEmitter) Emit(ctx context.Context, ev models.ChangeEvent) {
	topic := k.topics.WalletChanged
	if ev.Type == models.EventReservationChanged {
		topic = k.topics.ReservationChanged
	}

	// The request may finish before the broker answers.
	if err := k.publisher.Publish(context.WithoutCancel(ctx), topic, ev.Key(), ev); err != nil {
		k.logger.Error("KAFKA", fmt.Sprintf("Failed to publish %s/%s for %s: %v", ev.Type, ev.Action, ev.Key(), err))
		metrics.RecordEventPublished("kafka", "error")
		return
	}
	metrics.RecordEventPublished("kafka", "ok")
}

// Multi forwards each event to every emitter in order.
type Multi []Emitter

func (m Multi) Emit(ctx context.Context, ev models.ChangeEvent) {
	for _, e := range m {
		if e != nil {
			e.Emit(ctx, ev)
		}
	}
}

type Nop struct{}

func (Nop) Emit(context.Context, models.ChangeEvent) {}

// Recorder keeps emitted events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []models.ChangeEvent
}

func (r *Recorder) Emit(_ context.Context, ev models.ChangeEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []models.ChangeEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.ChangeEvent, len(r.events))
	copy(out, r.events)
	return out
}

// Count returns how many recorded events match type and action. An empty
// action matches any.
func (r *Recorder) Count(eventType, action string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Type == eventType && (action == "" || ev.Action == action) {
			n++
		}
	}
	return n
}
