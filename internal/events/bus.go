// Package events carries outbound notifications from the trading core to
// whatever sinks are wired (Redis, Kafka, WebSocket, chat notifiers).
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/flasharb/internal/domain"
	"github.com/alanyoungcy/flasharb/internal/metrics"
)

// Sink receives events from the bus. Deliver may be retried with the same
// event, so sinks must tolerate duplicates.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, ev domain.Event) error
}

// Bus is a buffered publish channel. Producers never block. Opportunity
// events are dropped and counted when the buffer is full; execution, risk
// and bot status events go to a separate queue that is never dropped and is
// dispatched ahead of the buffer.
type Bus struct {
	ch      chan domain.Event
	mu      sync.RWMutex
	sinks   []Sink
	retries int
	backoff time.Duration
	now     func() time.Time
	logger  *slog.Logger

	qmu      sync.Mutex
	critical []domain.Event
	wake     chan struct{}
}

// NewBus creates a Bus with the given buffer size.
func NewBus(buffer int, logger *slog.Logger) *Bus {
	if buffer <= 0 {
		buffer = 1024
	}
	return &Bus{
		ch:      make(chan domain.Event, buffer),
		wake:    make(chan struct{}, 1),
		retries: 3,
		backoff: 100 * time.Millisecond,
		now:     time.Now,
		logger:  logger.With(slog.String("component", "event_bus")),
	}
}

// AddSink registers a sink. Sinks added after Run starts receive only later
// events.
func (b *Bus) AddSink(s Sink) {
	b.mu.Lock()
	b.sinks = append(b.sinks, s)
	b.mu.Unlock()
}

// critical reports whether losing an event of kind would leave the audit
// trail or operator view inconsistent.
func critical(kind domain.EventKind) bool {
	switch kind {
	case domain.EventExecutionAttempt, domain.EventRiskTransition, domain.EventBotStatus:
		return true
	}
	return false
}

// Publish implements domain.EventPublisher.
func (b *Bus) Publish(kind domain.EventKind, key string, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		b.logger.Error("event marshal failed",
			slog.String("kind", string(kind)),
			slog.String("error", err.Error()),
		)
		return
	}
	ev := domain.Event{
		ID:      uuid.NewString(),
		Kind:    kind,
		Key:     key,
		At:      b.now().UTC(),
		Payload: raw,
	}
	if critical(kind) {
		b.qmu.Lock()
		b.critical = append(b.critical, ev)
		b.qmu.Unlock()
		select {
		case b.wake <- struct{}{}:
		default:
		}
		return
	}
	select {
	case b.ch <- ev:
	default:
		metrics.EventsDropped.WithLabelValues("bus").Inc()
		b.logger.Warn("event buffer full, dropping", slog.String("kind", string(kind)))
	}
}

// Run fans events out to every sink until ctx is cancelled, then drains what
// is already buffered.
func (b *Bus) Run(ctx context.Context) error {
	b.logger.Info("event bus started")
	defer b.logger.Info("event bus stopped")

	for {
		b.dispatchCritical(ctx)
		select {
		case <-ctx.Done():
			b.drain()
			return nil
		case <-b.wake:
		case ev := <-b.ch:
			b.dispatch(ctx, ev)
		}
	}
}

// takeCritical empties the critical queue.
func (b *Bus) takeCritical() []domain.Event {
	b.qmu.Lock()
	defer b.qmu.Unlock()
	evs := b.critical
	b.critical = nil
	return evs
}

func (b *Bus) dispatchCritical(ctx context.Context) {
	for _, ev := range b.takeCritical() {
		b.dispatch(ctx, ev)
	}
}

func (b *Bus) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	b.dispatchCritical(ctx)
	for {
		select {
		case ev := <-b.ch:
			b.dispatch(ctx, ev)
		default:
			b.dispatchCritical(ctx)
			return
		}
	}
}

func (b *Bus) dispatch(ctx context.Context, ev domain.Event) {
	b.mu.RLock()
	sinks := make([]Sink, len(b.sinks))
	copy(sinks, b.sinks)
	b.mu.RUnlock()

	for _, s := range sinks {
		if err := b.deliver(ctx, s, ev); err != nil {
			metrics.EventsDropped.WithLabelValues(s.Name()).Inc()
			b.logger.Warn("event delivery failed",
				slog.String("sink", s.Name()),
				slog.String("kind", string(ev.Kind)),
				slog.String("event_id", ev.ID),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (b *Bus) deliver(ctx context.Context, s Sink, ev domain.Event) error {
	var err error
	delay := b.backoff
	for i := 0; i < b.retries; i++ {
		if err = s.Deliver(ctx, ev); err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return err
		case <-time.After(delay):
		}
		delay *= 2
	}
	return err
}
