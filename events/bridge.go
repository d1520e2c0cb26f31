package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/c360/flowcanvas/errors"
)

// DefaultSubjectPrefix is the NATS subject root for bridged events
const DefaultSubjectPrefix = "flowcanvas.events"

// Publisher sends a payload to a subject. natsclient.Client satisfies it.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// NATSBridge forwards every event of a Manager to NATS as JSON
type NATSBridge struct {
	pub     Publisher
	prefix  string
	timeout time.Duration
	logger  *slog.Logger

	mu      sync.Mutex
	manager *Manager
	id      ListenerID
}

// NewNATSBridge creates a bridge publishing under prefix
func NewNATSBridge(pub Publisher, prefix string, logger *slog.Logger) *NATSBridge {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &NATSBridge{
		pub:     pub,
		prefix:  prefix,
		timeout: 2 * time.Second,
		logger:  logger.With("component", "nats-bridge"),
	}
}

// Subject maps an event name to its NATS subject. ':' separators become
// subject tokens so subscribers can use "flowcanvas.events.node.>".
func (b *NATSBridge) Subject(event string) string {
	token := strings.NewReplacer(":", ".", " ", "_", "*", "_", ">", "_").Replace(event)
	return b.prefix + "." + token
}

// Attach subscribes the bridge to every event of m
func (b *NATSBridge) Attach(m *Manager) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.manager != nil {
		return errors.Newf(errors.ErrBusy, "bridge already attached")
	}
	id, err := m.On(Wildcard, b.forward, WithPriority(-1))
	if err != nil {
		return errors.Wrap(err, "NATSBridge", "Attach", "subscribe to events")
	}
	b.manager, b.id = m, id
	return nil
}

// Detach stops forwarding
func (b *NATSBridge) Detach() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.manager != nil {
		b.manager.Off(Wildcard, b.id)
		b.manager, b.id = nil, ""
	}
}

// forward never fails the listener; publish problems are logged only
func (b *NATSBridge) forward(ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		b.logger.Warn("event not serializable", "event", ev.Name, "error", err)
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()

	subject := b.Subject(ev.Name)
	if err := b.pub.Publish(ctx, subject, payload); err != nil {
		b.logger.Warn("event publish failed", "subject", subject, "error", err)
	}
	return nil
}
