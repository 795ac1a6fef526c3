package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

// StreamName is the durable Redis stream every event is appended to.
const StreamName = "arbbot:events"

// ChannelName returns the pub/sub channel for an event kind.
func ChannelName(kind domain.EventKind) string {
	return "events:" + string(kind)
}

// RedisSink publishes events on a per-kind pub/sub channel and appends them to
// a capped stream so late consumers can replay.
type RedisSink struct {
	bus domain.SignalBus
}

// NewRedisSink wraps a signal bus.
func NewRedisSink(bus domain.SignalBus) *RedisSink {
	return &RedisSink{bus: bus}
}

// Name implements Sink.
func (r *RedisSink) Name() string { return "redis" }

// Deliver implements Sink.
func (r *RedisSink) Deliver(ctx context.Context, ev domain.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("events/redis: marshal: %w", err)
	}
	if err := r.bus.StreamAppend(ctx, StreamName, data); err != nil {
		return err
	}
	return r.bus.Publish(ctx, ChannelName(ev.Kind), data)
}
