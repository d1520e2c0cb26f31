package canvas

import (
	"log/slog"
	"sync"
	"time"

	"github.com/c360/flowcanvas/scheduler"
)

const defaultDiagnosticsCapacity = 200

// DiagnosticEntry is one recorded lifecycle step or failure
type DiagnosticEntry struct {
	At      time.Time `json:"at"`
	Stage   string    `json:"stage"`
	Message string    `json:"message"`
	Error   string    `json:"error,omitempty"`
}

// DiagnosticsSnapshot is a copy of the recorder's state
type DiagnosticsSnapshot struct {
	Entries []DiagnosticEntry `json:"entries"`
	Errors  int               `json:"errors"`
	Dropped int               `json:"dropped"`
}

// Diagnostics records lifecycle steps and errors of a canvas. It is passed
// to the controller explicitly; nothing is registered globally.
type Diagnostics struct {
	clock    scheduler.Clock
	capacity int

	mu      sync.Mutex
	entries []DiagnosticEntry
	errors  int
	dropped int
}

// NewDiagnostics keeps the most recent capacity entries (200 when
// capacity is not positive).
func NewDiagnostics(clock scheduler.Clock, capacity int) *Diagnostics {
	if capacity <= 0 {
		capacity = defaultDiagnosticsCapacity
	}
	return &Diagnostics{clock: scheduler.OrReal(clock), capacity: capacity}
}

// Record appends a step
func (d *Diagnostics) Record(stage, message string) {
	d.add(DiagnosticEntry{Stage: stage, Message: message})
}

// RecordError appends a failure
func (d *Diagnostics) RecordError(stage string, err error) {
	if err == nil {
		return
	}
	d.add(DiagnosticEntry{Stage: stage, Message: "failed", Error: err.Error()})
}

func (d *Diagnostics) add(e DiagnosticEntry) {
	if d == nil {
		return
	}
	e.At = d.clock.Now()

	d.mu.Lock()
	defer d.mu.Unlock()
	if e.Error != "" {
		d.errors++
	}
	d.entries = append(d.entries, e)
	if over := len(d.entries) - d.capacity; over > 0 {
		d.entries = append([]DiagnosticEntry(nil), d.entries[over:]...)
		d.dropped += over
	}
}

// Snapshot copies the recorded entries
func (d *Diagnostics) Snapshot() DiagnosticsSnapshot {
	if d == nil {
		return DiagnosticsSnapshot{}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return DiagnosticsSnapshot{
		Entries: append([]DiagnosticEntry(nil), d.entries...),
		Errors:  d.errors,
		Dropped: d.dropped,
	}
}

// Reset forgets every entry
func (d *Diagnostics) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries = nil
	d.errors = 0
	d.dropped = 0
}

// Dump logs the snapshot at info level
func (d *Diagnostics) Dump(logger *slog.Logger) {
	snap := d.Snapshot()
	logger.Info("canvas diagnostics", "entries", len(snap.Entries), "errors", snap.Errors, "dropped", snap.Dropped)
	for _, e := range snap.Entries {
		logger.Info("canvas diagnostic entry", "at", e.At, "stage", e.Stage, "message", e.Message, "error", e.Error)
	}
}
