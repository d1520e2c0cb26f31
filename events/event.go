package events

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/c360/flowcanvas/scheduler"
)

// Event names emitted by the canvas core
const (
	EventListenerError = "listener:error"

	EventCanvasInitialized = "canvas-initialized"
	EventCanvasDestroyed   = "canvas-destroyed"
	EventCanvasReset       = "canvas-reset"
	EventCanvasError       = "canvas-error"
	EventNodeDeleteRequest = "node-delete-requested"

	EventNodeAdded   = "node:added"
	EventNodeRemoved = "node:removed"
	EventNodeMoved   = "node:moved"
	EventEdgeAdded   = "edge:added"
	EventEdgeRemoved = "edge:removed"

	EventPreviewCreated   = "preview-created"
	EventPreviewDeleted   = "preview-deleted"
	EventPreviewConverted = "preview-converted"
	EventPreviewError     = "preview-error"
	EventLimitExceeded    = "limit-exceeded"

	EventBranchCreated      = "branchCreated"
	EventBranchUpdated      = "branchUpdated"
	EventBranchDeleted      = "branchDeleted"
	EventBranchActivated    = "branchActivated"
	EventBranchDeactivated  = "branchDeactivated"
	EventBranchStateChanged = "branchStateChanged"
	EventSyncCompleted      = "syncCompleted"
	EventSyncError          = "syncError"
)

// Wildcard receives every event
const Wildcard = "*"

// Event is a single emitted event
type Event struct {
	Name      string    `json:"event"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Listener receives events. A returned error (or a panic) is counted and
// re-emitted as listener:error; it never stops dispatch to other listeners.
type Listener func(Event) error

// ListenerID identifies a registration for Off
type ListenerID string

// ListenerError is the payload of listener:error
type ListenerError struct {
	Event string `json:"event"`
	Error string `json:"error"`
}

// ListenerOption configures a registration
type ListenerOption func(*listener)

// WithPriority orders listeners; higher runs first, ties keep registration order
func WithPriority(p int) ListenerOption {
	return func(l *listener) { l.priority = p }
}

// Once removes the listener after its first invocation
func Once() ListenerOption {
	return func(l *listener) { l.once = true }
}

// WithNamespace tags the listener so OffNamespace can remove it in bulk
func WithNamespace(ns string) ListenerOption {
	return func(l *listener) { l.namespace = ns }
}

// WithDebounce delays delivery until no new event arrived for d; only the
// latest event is delivered.
func WithDebounce(d time.Duration) ListenerOption {
	return func(l *listener) { l.debounce = d }
}

// WithThrottle delivers at most one event per d and drops the rest
func WithThrottle(d time.Duration) ListenerOption {
	return func(l *listener) { l.throttle = d }
}

type listener struct {
	id        ListenerID
	pattern   string
	fn        Listener
	seq       uint64
	priority  int
	once      bool
	namespace string
	debounce  time.Duration
	throttle  time.Duration

	fired   atomic.Bool
	limiter *rate.Limiter

	mu    sync.Mutex
	timer scheduler.Timer
}

// cancel stops a pending debounced delivery
func (l *listener) cancel() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
}

// matches reports whether a listener registered under pattern receives
// event. Patterns are exact names, globs containing '*', or namespaces
// ending in ':' which receive every event with that prefix.
func matches(pattern, event string) bool {
	switch {
	case pattern == event:
		return true
	case strings.Contains(pattern, "*"):
		return glob(pattern, event)
	case strings.HasSuffix(pattern, ":"):
		return strings.HasPrefix(event, pattern)
	}
	return false
}

func glob(pattern, s string) bool {
	parts := strings.Split(pattern, "*")
	if !strings.HasPrefix(s, parts[0]) {
		return false
	}
	s = s[len(parts[0]):]
	last := len(parts) - 1
	for _, part := range parts[1:last] {
		i := strings.Index(s, part)
		if i < 0 {
			return false
		}
		s = s[i+len(part):]
	}
	return strings.HasSuffix(s, parts[last])
}
