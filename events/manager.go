package events

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/c360/flowcanvas/errors"
	"github.com/c360/flowcanvas/metric"
	"github.com/c360/flowcanvas/scheduler"
)

const (
	DefaultMaxListeners = 100
	DefaultHistorySize  = 1000
	DefaultQueueSize    = 256
)

// Options configures a Manager
type Options struct {
	// MaxListeners caps registrations per event name
	MaxListeners int
	// HistorySize caps the emitted-event ring
	HistorySize int
	// QueueSize bounds the EmitAsync queue
	QueueSize int

	Clock   scheduler.Clock
	Logger  *slog.Logger
	Metrics *metric.Metrics
}

// Stats is a point-in-time view of Manager counters
type Stats struct {
	Emitted     int64 `json:"emitted"`
	Handled     int64 `json:"handled"`
	Errors      int64 `json:"errors"`
	Listeners   int   `json:"listeners"`
	Events      int   `json:"events"`
	HistorySize int   `json:"historySize"`
	Queued      int64 `json:"queued"`
	Dropped     int64 `json:"dropped"`
}

// Manager is the publish/subscribe layer of the event system. Listeners are
// invoked synchronously on the emitting goroutine, outside the manager lock,
// so they may register, remove and emit freely.
type Manager struct {
	maxListeners int
	historySize  int
	clock        scheduler.Clock
	logger       *slog.Logger
	metrics      *metric.Metrics

	mu        sync.RWMutex
	listeners map[string][]*listener
	seq       uint64
	destroyed bool

	historyMu sync.Mutex
	history   []Event
	next      int
	full      bool

	dispatcher *dispatcher

	emitted atomic.Int64
	handled atomic.Int64
	errs    atomic.Int64
}

// NewManager creates an event manager
func NewManager(opts Options) *Manager {
	if opts.MaxListeners <= 0 {
		opts.MaxListeners = DefaultMaxListeners
	}
	if opts.HistorySize <= 0 {
		opts.HistorySize = DefaultHistorySize
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	m := &Manager{
		maxListeners: opts.MaxListeners,
		historySize:  opts.HistorySize,
		clock:        scheduler.OrReal(opts.Clock),
		logger:       opts.Logger.With("component", "events"),
		metrics:      opts.Metrics,
		listeners:    make(map[string][]*listener),
		history:      make([]Event, opts.HistorySize),
	}
	m.dispatcher = newDispatcher(opts.QueueSize, func(ev Event) { m.Emit(ev.Name, ev.Data) })
	return m
}

// On registers fn for event. event may be an exact name, a glob such as
// "node:*", the Wildcard, or a namespace ending in ':'.
func (m *Manager) On(event string, fn Listener, opts ...ListenerOption) (ListenerID, error) {
	if event == "" || fn == nil {
		return "", errors.Newf(errors.ErrInvalidArgument, "event name and listener are required")
	}

	l := &listener{
		id:      ListenerID(uuid.NewString()),
		pattern: event,
		fn:      fn,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.throttle > 0 {
		l.limiter = rate.NewLimiter(rate.Every(l.throttle), 1)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.destroyed {
		return "", errors.Newf(errors.ErrNotReady, "event manager destroyed")
	}
	if len(m.listeners[event]) >= m.maxListeners {
		m.logger.Warn("listener limit reached", "event", event, "limit", m.maxListeners)
		return "", errors.Newf(errors.ErrLimitExceeded, "event %q already has %d listeners", event, m.maxListeners)
	}

	m.seq++
	l.seq = m.seq

	list := append(m.listeners[event], l)
	sort.SliceStable(list, func(i, j int) bool { return list[i].priority > list[j].priority })
	m.listeners[event] = list

	return l.id, nil
}

// Once registers fn to run for the first matching event only
func (m *Manager) Once(event string, fn Listener, opts ...ListenerOption) (ListenerID, error) {
	return m.On(event, fn, append(opts, Once())...)
}

// Off removes a single registration
func (m *Manager) Off(event string, id ListenerID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.removeLocked(event, id)
}

func (m *Manager) removeLocked(event string, id ListenerID) bool {
	list := m.listeners[event]
	for i, l := range list {
		if l.id != id {
			continue
		}
		l.cancel()
		list = append(list[:i:i], list[i+1:]...)
		if len(list) == 0 {
			delete(m.listeners, event)
		} else {
			m.listeners[event] = list
		}
		return true
	}
	return false
}

// OffNamespace removes every listener registered WithNamespace(ns)
func (m *Manager) OffNamespace(ns string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for event, list := range m.listeners {
		kept := list[:0:0]
		for _, l := range list {
			if l.namespace == ns {
				l.cancel()
				removed++
				continue
			}
			kept = append(kept, l)
		}
		if len(kept) == 0 {
			delete(m.listeners, event)
		} else {
			m.listeners[event] = kept
		}
	}
	return removed
}

// RemoveAllListeners removes the listeners of event, or every listener when
// event is empty.
func (m *Manager) RemoveAllListeners(event string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for pattern, list := range m.listeners {
		if event != "" && pattern != event {
			continue
		}
		for _, l := range list {
			l.cancel()
		}
		removed += len(list)
		delete(m.listeners, pattern)
	}
	return removed
}

// ListenerCount returns the registrations for event, or all of them when
// event is empty.
func (m *Manager) ListenerCount(event string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if event != "" {
		return len(m.listeners[event])
	}
	n := 0
	for _, list := range m.listeners {
		n += len(list)
	}
	return n
}

// Emit delivers data to every matching listener and returns how many were
// invoked. Debounced deliveries and throttled drops are not counted.
func (m *Manager) Emit(event string, data any) int {
	ev := Event{Name: event, Data: data, Timestamp: m.clock.Now()}

	m.emitted.Add(1)
	m.metrics.RecordEventEmitted(event)
	m.record(ev)

	invoked := 0
	for _, l := range m.matching(event) {
		if l.once {
			if !l.fired.CompareAndSwap(false, true) {
				continue
			}
			m.Off(l.pattern, l.id)
		}
		if m.deliver(l, ev) {
			invoked++
		}
	}
	return invoked
}

// matching snapshots the listeners for event ordered by priority then
// registration. A listener is returned once even if several patterns match.
func (m *Manager) matching(event string) []*listener {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.destroyed {
		return nil
	}

	var out []*listener
	for pattern, list := range m.listeners {
		if matches(pattern, event) {
			out = append(out, list...)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].priority != out[j].priority {
			return out[i].priority > out[j].priority
		}
		return out[i].seq < out[j].seq
	})
	return out
}

func (m *Manager) deliver(l *listener, ev Event) bool {
	if l.limiter != nil && !l.limiter.AllowN(m.clock.Now(), 1) {
		return false
	}
	if l.debounce > 0 {
		l.mu.Lock()
		if l.timer != nil {
			l.timer.Stop()
		}
		l.timer = m.clock.AfterFunc(l.debounce, func() {
			l.mu.Lock()
			l.timer = nil
			l.mu.Unlock()
			m.invoke(l, ev)
		})
		l.mu.Unlock()
		return false
	}
	m.invoke(l, ev)
	return true
}

func (m *Manager) invoke(l *listener, ev Event) {
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("listener panic: %v", r)
			}
		}()
		return l.fn(ev)
	}()

	m.handled.Add(1)
	if err == nil {
		return
	}

	m.errs.Add(1)
	m.metrics.RecordListenerError(ev.Name)
	m.logger.Warn("listener failed", "event", ev.Name, "listener_id", l.id, "error", err)

	if ev.Name != EventListenerError {
		m.Emit(EventListenerError, ListenerError{Event: ev.Name, Error: err.Error()})
	}
}

// EmitAsync queues event for ordered delivery on the dispatcher goroutine.
// Start must have been called.
func (m *Manager) EmitAsync(event string, data any) error {
	return m.dispatcher.submit(Event{Name: event, Data: data, Timestamp: m.clock.Now()})
}

// EmitBatch emits events in order and returns the invocation count of each
func (m *Manager) EmitBatch(batch []Event) []int {
	counts := make([]int, len(batch))
	for i, ev := range batch {
		counts[i] = m.Emit(ev.Name, ev.Data)
	}
	return counts
}

// Start runs the EmitAsync dispatcher until ctx is cancelled or Stop is called
func (m *Manager) Start(ctx context.Context) error {
	return m.dispatcher.start(ctx)
}

// Stop drains the EmitAsync queue, waiting at most timeout
func (m *Manager) Stop(timeout time.Duration) error {
	return m.dispatcher.stop(timeout)
}

func (m *Manager) record(ev Event) {
	m.historyMu.Lock()
	defer m.historyMu.Unlock()

	m.history[m.next] = ev
	m.next = (m.next + 1) % m.historySize
	if m.next == 0 {
		m.full = true
	}
}

// History returns recorded events oldest first. A non-empty filter is
// matched like a listener pattern.
func (m *Manager) History(filter string) []Event {
	m.historyMu.Lock()
	defer m.historyMu.Unlock()

	var ordered []Event
	if m.full {
		ordered = append(ordered, m.history[m.next:]...)
	}
	ordered = append(ordered, m.history[:m.next]...)

	if filter == "" {
		return ordered
	}
	out := ordered[:0]
	for _, ev := range ordered {
		if matches(filter, ev.Name) {
			out = append(out, ev)
		}
	}
	return out
}

// ClearHistory drops all recorded events
func (m *Manager) ClearHistory() {
	m.historyMu.Lock()
	defer m.historyMu.Unlock()

	clear(m.history)
	m.next = 0
	m.full = false
}

func (m *Manager) historyLen() int {
	m.historyMu.Lock()
	defer m.historyMu.Unlock()
	if m.full {
		return m.historySize
	}
	return m.next
}

// Stats returns the manager counters
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	events := len(m.listeners)
	listeners := 0
	for _, list := range m.listeners {
		listeners += len(list)
	}
	m.mu.RUnlock()

	ds := m.dispatcher.stats()
	return Stats{
		Emitted:     m.emitted.Load(),
		Handled:     m.handled.Load(),
		Errors:      m.errs.Load(),
		Listeners:   listeners,
		Events:      events,
		HistorySize: m.historyLen(),
		Queued:      ds.submitted,
		Dropped:     ds.dropped,
	}
}

// Destroy removes every listener, cancels pending debounced deliveries and
// stops the dispatcher. The manager rejects registrations afterwards.
func (m *Manager) Destroy() {
	m.mu.Lock()
	if m.destroyed {
		m.mu.Unlock()
		return
	}
	m.destroyed = true
	for event, list := range m.listeners {
		for _, l := range list {
			l.cancel()
		}
		delete(m.listeners, event)
	}
	m.mu.Unlock()

	if err := m.dispatcher.stop(time.Second); err != nil {
		m.logger.Warn("dispatcher did not drain", "error", err)
	}
	m.ClearHistory()
}
