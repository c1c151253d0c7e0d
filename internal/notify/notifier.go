// Package notify alerts operators about failed refresh cycles over Telegram
// and Discord. Alerts are filtered by event type and throttled per identity
// so a watch loop that keeps failing does not flood the channels.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Event classifies an alert.
type Event string

const (
	// EventCycleFailed fires when a refresh cycle ends in the failed state.
	EventCycleFailed Event = "cycle_failed"
	// EventInconsistentDeployment fires when the membership interface is
	// only partially deployed.
	EventInconsistentDeployment Event = "inconsistent_deployment"
)

// DefaultCooldown is the minimum gap between two alerts with the same key.
const DefaultCooldown = 15 * time.Minute

// Sender is the interface that each notification channel must implement.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Alert is one notification.
type Alert struct {
	Event   Event
	Key     string // throttling key, usually owner and chain
	Title   string
	Message string
}

// Notifier dispatches alerts to every sender.
type Notifier struct {
	senders  []Sender
	events   map[Event]bool
	cooldown time.Duration
	now      func() time.Time
	logger   *slog.Logger

	mu   sync.Mutex
	last map[string]time.Time
}

// NewNotifier creates a Notifier. Only events listed in events are forwarded;
// an empty list allows every event. A non-positive cooldown uses
// DefaultCooldown.
func NewNotifier(senders []Sender, events []string, cooldown time.Duration, logger *slog.Logger) *Notifier {
	allowed := make(map[Event]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[Event(e)] = true
		}
	}
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		senders:  senders,
		events:   allowed,
		cooldown: cooldown,
		now:      time.Now,
		logger:   logger.With(slog.String("component", "notifier")),
		last:     make(map[string]time.Time),
	}
}

// Enabled reports whether any sender is configured.
func (n *Notifier) Enabled() bool {
	return len(n.senders) > 0
}

// Notify sends a to every sender unless its event is filtered out or the same
// alert went out within the cooldown.
func (n *Notifier) Notify(ctx context.Context, a Alert) error {
	if len(n.events) > 0 && !n.events[a.Event] {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("event", string(a.Event)))
		return nil
	}
	if !n.admit(a) {
		n.logger.DebugContext(ctx, "alert throttled",
			slog.String("event", string(a.Event)),
			slog.String("key", a.Key),
		)
		return nil
	}
	return n.dispatch(ctx, a.Title, a.Message)
}

func (n *Notifier) admit(a Alert) bool {
	key := string(a.Event) + "|" + a.Key
	now := n.now()
	n.mu.Lock()
	defer n.mu.Unlock()
	if at, ok := n.last[key]; ok && now.Sub(at) < n.cooldown {
		return false
	}
	n.last[key] = now
	return true
}

// dispatch delivers to every sender. One sender failing does not stop the
// others; the failures are joined.
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
		return fmt.Errorf("notify: %d sender(s) failed: %w", len(errs), errors.Join(errs...))
	}
	return nil
}
