// Package notify forwards selected bot events to chat channels.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

// Sender is one chat channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier fans messages out to every sender. It also acts as an event sink
// that only forwards the configured event kinds; an empty list forwards
// everything.
type Notifier struct {
	senders []Sender
	kinds   map[domain.EventKind]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier.
func NewNotifier(senders []Sender, kinds []string, logger *slog.Logger) *Notifier {
	allowed := make(map[domain.EventKind]bool, len(kinds))
	for _, k := range kinds {
		if k = strings.TrimSpace(k); k != "" {
			allowed[domain.EventKind(k)] = true
		}
	}
	return &Notifier{
		senders: senders,
		kinds:   allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Enabled reports whether any sender is configured.
func (n *Notifier) Enabled() bool {
	return len(n.senders) > 0
}

// Name implements events.Sink.
func (n *Notifier) Name() string { return "notify" }

// Deliver implements events.Sink. Unselected kinds and events that format
// to nothing are dropped silently.
func (n *Notifier) Deliver(ctx context.Context, ev domain.Event) error {
	if len(n.kinds) > 0 && !n.kinds[ev.Kind] {
		return nil
	}
	title, msg, ok := Format(ev)
	if !ok {
		return nil
	}
	return n.dispatch(ctx, title, msg)
}

// NotifyAll sends to every sender regardless of the kind filter.
func (n *Notifier) NotifyAll(ctx context.Context, title, message string) error {
	return n.dispatch(ctx, title, message)
}

// dispatch keeps going after a sender fails and returns the joined errors.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %w", errors.Join(errs...))
	}
	return nil
}
