// Package progress tracks batch counters for the final log line and the
// debug listener. Workers only touch atomics, so the tracker adds no
// coordination between them.
package progress

import "sync/atomic"

// Tracker counts rows through the batch lifecycle.
type Tracker struct {
	total     atomic.Int64
	invalid   atomic.Int64
	submitted atomic.Int64
	polling   atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
}

// Snapshot is a point-in-time copy of the counters. Failed counts only
// remote-path failures; invalid rows never reach the remote service and are
// counted separately.
type Snapshot struct {
	Total     int64 `json:"total"`
	Invalid   int64 `json:"invalid"`
	Submitted int64 `json:"submitted"`
	Polling   int64 `json:"polling"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Done      int64 `json:"done"`
}

// NewTracker creates an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{}
}

// SetTotal records how many rows the batch is working through.
func (t *Tracker) SetTotal(n int) {
	t.total.Store(int64(n))
}

// AddInvalid counts a row rejected before any remote contact.
func (t *Tracker) AddInvalid() {
	t.invalid.Add(1)
}

// AddSubmitted counts a task accepted by the remote service.
func (t *Tracker) AddSubmitted() {
	t.submitted.Add(1)
}

// StartPolling and StopPolling bracket one task's polling loop.
func (t *Tracker) StartPolling() {
	t.polling.Add(1)
}

// StopPolling marks the end of one task's polling loop.
func (t *Tracker) StopPolling() {
	t.polling.Add(-1)
}

// AddCompleted counts a task whose artifact landed on disk.
func (t *Tracker) AddCompleted() {
	t.completed.Add(1)
}

// AddFailed counts a task that failed after submission was attempted.
func (t *Tracker) AddFailed() {
	t.failed.Add(1)
}

// Snapshot returns the current counter values.
func (t *Tracker) Snapshot() Snapshot {
	s := Snapshot{
		Total:     t.total.Load(),
		Invalid:   t.invalid.Load(),
		Submitted: t.submitted.Load(),
		Polling:   t.polling.Load(),
		Completed: t.completed.Load(),
		Failed:    t.failed.Load(),
	}
	s.Done = s.Invalid + s.Completed + s.Failed
	return s
}
