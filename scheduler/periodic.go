package scheduler

import (
	"sync"
	"time"
)

// Periodic runs a task every interval until stopped. The next run is
// scheduled only after the current one returns, so runs never overlap.
type Periodic struct {
	clock    Clock
	interval time.Duration
	task     func()

	mu      sync.Mutex
	timer   Timer
	running bool
	gen     uint64
	runs    int64
}

// NewPeriodic creates a stopped periodic task
func NewPeriodic(clock Clock, interval time.Duration, task func()) *Periodic {
	return &Periodic{
		clock:    OrReal(clock),
		interval: interval,
		task:     task,
	}
}

// Start schedules the first run one interval from now. Starting a running
// task is a no-op. It returns false when the interval is not positive.
func (p *Periodic) Start() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.interval <= 0 {
		return false
	}
	if p.running {
		return true
	}
	p.running = true
	p.gen++
	p.scheduleLocked(p.gen)
	return true
}

// Stop cancels the pending run. A run already in progress completes.
func (p *Periodic) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.running = false
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
}

// Running reports whether the task is scheduled
func (p *Periodic) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Runs returns how many times the task has run
func (p *Periodic) Runs() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.runs
}

func (p *Periodic) scheduleLocked(gen uint64) {
	p.timer = p.clock.AfterFunc(p.interval, func() { p.fire(gen) })
}

func (p *Periodic) fire(gen uint64) {
	p.mu.Lock()
	// A stale timer from before a Stop/Start cycle must not run.
	if !p.running || gen != p.gen {
		p.mu.Unlock()
		return
	}
	p.runs++
	p.mu.Unlock()

	p.task()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running && gen == p.gen {
		p.scheduleLocked(gen)
	}
}
