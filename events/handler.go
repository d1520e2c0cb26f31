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

	"github.com/c360/flowcanvas/errors"
	"github.com/c360/flowcanvas/metric"
)

// Stop is returned by a Handler to skip the remaining handlers of an event
const Stop = false

// Context carries caller-supplied values through a Handle call
type Context map[string]any

// Handler processes one event. Returning Stop short-circuits the pipeline.
type Handler func(ctx context.Context, data any, hctx Context) (any, error)

// Middleware wraps a Handler; the first middleware given is outermost
type Middleware func(next Handler) Handler

// HandlerID identifies a registration for Unregister
type HandlerID string

// HandlerOption configures a registration
type HandlerOption func(*registration)

// WithHandlerPriority orders handlers; higher runs first
func WithHandlerPriority(p int) HandlerOption {
	return func(r *registration) { r.priority = p }
}

// Async runs the handler on its own goroutine. It is awaited up to its
// timeout; without one the result is never collected.
func Async() HandlerOption {
	return func(r *registration) { r.async = true }
}

// WithValidate skips the handler when pred rejects the payload
func WithValidate(pred func(data any) bool) HandlerOption {
	return func(r *registration) { r.validate = pred }
}

// WithTransform maps the payload before middleware and handler run
func WithTransform(fn func(data any) any) HandlerOption {
	return func(r *registration) { r.transform = fn }
}

// WithTimeout bounds the handler. An expired handler is recorded as timed
// out and never retried.
func WithTimeout(d time.Duration) HandlerOption {
	return func(r *registration) { r.timeout = d }
}

// WithMiddleware adds per-registration hooks around the handler
func WithMiddleware(mw ...Middleware) HandlerOption {
	return func(r *registration) { r.middleware = append(r.middleware, mw...) }
}

// Critical makes a handler error abort the whole Handle call
func Critical() HandlerOption {
	return func(r *registration) { r.critical = true }
}

type registration struct {
	id         HandlerID
	handler    Handler
	seq        uint64
	priority   int
	async      bool
	critical   bool
	timeout    time.Duration
	validate   func(any) bool
	transform  func(any) any
	middleware []Middleware
}

func (r *registration) wrapped() Handler {
	h := r.handler
	for i := len(r.middleware) - 1; i >= 0; i-- {
		h = r.middleware[i](h)
	}
	return h
}

// HandlerOutcome is the result of one handler within a Handle call
type HandlerOutcome struct {
	HandlerID HandlerID `json:"handlerId"`
	Result    any       `json:"result,omitempty"`
	Err       error     `json:"-"`
	Skipped   bool      `json:"skipped,omitempty"`
	TimedOut  bool      `json:"timedOut,omitempty"`
	Pending   bool      `json:"pending,omitempty"`
}

// HandleResult collects the outcomes of a Handle call in execution order
type HandleResult struct {
	Results        []HandlerOutcome `json:"results"`
	ShortCircuited bool             `json:"shortCircuited"`
}

// HandlerStats is a point-in-time view of registry counters
type HandlerStats struct {
	Handled            int64 `json:"handled"`
	Errors             int64 `json:"errors"`
	Timeouts           int64 `json:"timeouts"`
	ValidationFailures int64 `json:"validationFailures"`
	Handlers           int   `json:"handlers"`
}

// HandlerRegistry is the pipeline layer of the event system: handlers with
// validation, transformation, middleware and timeouts.
type HandlerRegistry struct {
	logger  *slog.Logger
	metrics *metric.Metrics

	mu       sync.RWMutex
	handlers map[string][]*registration
	cache    map[string][]*registration
	seq      uint64

	handled            atomic.Int64
	errors             atomic.Int64
	timeouts           atomic.Int64
	validationFailures atomic.Int64
}

// NewHandlerRegistry creates an empty registry
func NewHandlerRegistry(logger *slog.Logger, metrics *metric.Metrics) *HandlerRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &HandlerRegistry{
		logger:   logger.With("component", "event-handlers"),
		metrics:  metrics,
		handlers: make(map[string][]*registration),
		cache:    make(map[string][]*registration),
	}
}

// Register adds a handler for event
func (hr *HandlerRegistry) Register(event string, h Handler, opts ...HandlerOption) (HandlerID, error) {
	if event == "" || h == nil {
		return "", errors.Newf(errors.ErrInvalidArgument, "event name and handler are required")
	}

	r := &registration{id: HandlerID(uuid.NewString()), handler: h}
	for _, opt := range opts {
		opt(r)
	}

	hr.mu.Lock()
	defer hr.mu.Unlock()

	hr.seq++
	r.seq = hr.seq
	hr.handlers[event] = append(hr.handlers[event], r)
	delete(hr.cache, event)
	return r.id, nil
}

// Unregister removes a handler
func (hr *HandlerRegistry) Unregister(event string, id HandlerID) bool {
	hr.mu.Lock()
	defer hr.mu.Unlock()

	list := hr.handlers[event]
	for i, r := range list {
		if r.id != id {
			continue
		}
		list = append(list[:i:i], list[i+1:]...)
		if len(list) == 0 {
			delete(hr.handlers, event)
		} else {
			hr.handlers[event] = list
		}
		delete(hr.cache, event)
		return true
	}
	return false
}

// sorted returns the cached priority order for event, building it on a miss
func (hr *HandlerRegistry) sorted(event string) []*registration {
	hr.mu.RLock()
	cached, ok := hr.cache[event]
	hr.mu.RUnlock()
	if ok {
		return cached
	}

	hr.mu.Lock()
	defer hr.mu.Unlock()
	if cached, ok := hr.cache[event]; ok {
		return cached
	}

	list := append([]*registration(nil), hr.handlers[event]...)
	sort.SliceStable(list, func(i, j int) bool { return list[i].priority > list[j].priority })
	hr.cache[event] = list
	return list
}

// Handle runs the handlers of event in priority order. Non-critical failures
// are recorded in the result and handling continues; a critical handler's
// error aborts and is returned along with the outcomes so far.
func (hr *HandlerRegistry) Handle(ctx context.Context, event string, data any, hctx Context) (HandleResult, error) {
	var result HandleResult
	if hctx == nil {
		hctx = Context{}
	}

	for _, r := range hr.sorted(event) {
		if err := ctx.Err(); err != nil {
			return result, errors.WrapTransient(err, "HandlerRegistry", "Handle", "run handlers for "+event)
		}

		if r.validate != nil && !r.validate(data) {
			hr.validationFailures.Add(1)
			hr.metrics.RecordHandlerOutcome(event, "validation_failed")
			hr.logger.Debug("handler payload rejected", "event", event, "handler_id", r.id)
			result.Results = append(result.Results, HandlerOutcome{
				HandlerID: r.id,
				Skipped:   true,
				Err:       errors.Newf(errors.ErrValidationFailed, "payload rejected for %s", event),
			})
			continue
		}

		payload := data
		if r.transform != nil {
			payload = r.transform(data)
		}

		outcome := hr.run(ctx, r, payload, hctx)
		result.Results = append(result.Results, outcome)

		switch {
		case outcome.TimedOut:
			hr.timeouts.Add(1)
			hr.metrics.RecordHandlerOutcome(event, "timeout")
			hr.logger.Warn("handler timed out", "event", event, "handler_id", r.id, "timeout", r.timeout)
		case outcome.Pending:
			hr.metrics.RecordHandlerOutcome(event, "async")
		case outcome.Err != nil:
			hr.errors.Add(1)
			hr.metrics.RecordHandlerOutcome(event, "error")
			if r.critical {
				return result, errors.Wrap(outcome.Err, "HandlerRegistry", "Handle", "critical handler for "+event)
			}
			hr.logger.Warn("handler failed", "event", event, "handler_id", r.id, "error", outcome.Err)
		default:
			hr.handled.Add(1)
			hr.metrics.RecordHandlerOutcome(event, "handled")
		}

		if stop, ok := outcome.Result.(bool); ok && stop == Stop && outcome.Err == nil {
			result.ShortCircuited = true
			break
		}
	}
	return result, nil
}

func (hr *HandlerRegistry) run(ctx context.Context, r *registration, payload any, hctx Context) HandlerOutcome {
	h := r.wrapped()
	outcome := HandlerOutcome{HandlerID: r.id}

	if !r.async && r.timeout <= 0 {
		outcome.Result, outcome.Err = call(ctx, h, payload, hctx)
		return outcome
	}

	if r.async && r.timeout <= 0 {
		go func() {
			if _, err := call(context.WithoutCancel(ctx), h, payload, hctx); err != nil {
				hr.errors.Add(1)
				hr.logger.Warn("async handler failed", "handler_id", r.id, "error", err)
			}
		}()
		outcome.Pending = true
		return outcome
	}

	runCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	type reply struct {
		result any
		err    error
	}
	done := make(chan reply, 1)
	go func() {
		res, err := call(runCtx, h, payload, hctx)
		done <- reply{res, err}
	}()

	select {
	case rep := <-done:
		outcome.Result, outcome.Err = rep.result, rep.err
	case <-runCtx.Done():
		outcome.TimedOut = true
		outcome.Err = errors.Newf(errors.ErrHandlerTimeout, "handler %s exceeded %s", r.id, r.timeout)
	}
	return outcome
}

func call(ctx context.Context, h Handler, payload any, hctx Context) (result any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("handler panic: %v", rec)
		}
	}()
	return h(ctx, payload, hctx)
}

// Stats returns the registry counters
func (hr *HandlerRegistry) Stats() HandlerStats {
	hr.mu.RLock()
	n := 0
	for _, list := range hr.handlers {
		n += len(list)
	}
	hr.mu.RUnlock()

	return HandlerStats{
		Handled:            hr.handled.Load(),
		Errors:             hr.errors.Load(),
		Timeouts:           hr.timeouts.Load(),
		ValidationFailures: hr.validationFailures.Load(),
		Handlers:           n,
	}
}
