package events

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/flowcanvas/errors"
)

// dispatcher delivers EmitAsync events on a single goroutine so listeners
// observe them in submission order.
type dispatcher struct {
	queueSize int
	deliver   func(Event)

	queue chan Event
	done  chan struct{}

	lifecycleMu sync.Mutex
	started     bool
	stopped     bool

	submitted atomic.Int64
	processed atomic.Int64
	dropped   atomic.Int64
}

type dispatcherStats struct {
	submitted int64
	processed int64
	dropped   int64
}

func newDispatcher(queueSize int, deliver func(Event)) *dispatcher {
	return &dispatcher{
		queueSize: queueSize,
		deliver:   deliver,
		queue:     make(chan Event, queueSize),
		done:      make(chan struct{}),
	}
}

// submit enqueues without blocking
func (d *dispatcher) submit(ev Event) error {
	d.lifecycleMu.Lock()
	defer d.lifecycleMu.Unlock()

	if !d.started {
		return errors.Newf(errors.ErrNotReady, "async dispatcher not started")
	}
	if d.stopped {
		return errors.Newf(errors.ErrNotReady, "async dispatcher stopped")
	}

	select {
	case d.queue <- ev:
		d.submitted.Add(1)
		return nil
	default:
		d.dropped.Add(1)
		return errors.Newf(errors.ErrQueueFull, "async queue holds %d events", d.queueSize)
	}
}

func (d *dispatcher) start(ctx context.Context) error {
	d.lifecycleMu.Lock()
	defer d.lifecycleMu.Unlock()

	if d.stopped {
		return errors.Newf(errors.ErrNotReady, "async dispatcher stopped")
	}
	if d.started {
		return errors.Newf(errors.ErrBusy, "async dispatcher already started")
	}
	d.started = true

	go d.run(ctx)
	return nil
}

func (d *dispatcher) run(ctx context.Context) {
	defer close(d.done)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-d.queue:
			if !ok {
				return
			}
			d.deliver(ev)
			d.processed.Add(1)
		}
	}
}

// stop closes the queue and waits for queued events to be delivered
func (d *dispatcher) stop(timeout time.Duration) error {
	d.lifecycleMu.Lock()
	if !d.started || d.stopped {
		d.stopped = true
		d.lifecycleMu.Unlock()
		return nil
	}
	d.stopped = true
	close(d.queue)
	d.lifecycleMu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-d.done:
		return nil
	case <-timer.C:
		return errors.Newf(errors.ErrBusy, "async queue not drained within %s", timeout)
	}
}

func (d *dispatcher) stats() dispatcherStats {
	return dispatcherStats{
		submitted: d.submitted.Load(),
		processed: d.processed.Load(),
		dropped:   d.dropped.Load(),
	}
}
