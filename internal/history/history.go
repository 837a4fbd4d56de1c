// Package history records the globally ordered operation history of a
// concurrent benchmark run.
//
// Every API call the harness issues produces two events: an invoke when the
// call starts and a terminal (ok or fail) when it finishes. Consistency
// checkers consume the resulting sequence, so ordering is load-bearing:
// an event's index is its position in the one true global order, assigned
// under the recorder's lock at append time.
//
// Thread-safety model:
//   - Recorder is safe for concurrent use by any number of workers.
//   - Event identity (index) and global order are decided inside the lock;
//     there is no window where two events can observe the same index.
//   - The per-process protocol (invoke, then exactly one terminal, with at
//     most one call in flight) is enforced at record time. A violation is a
//     bug in the calling harness, not a data error, so it panics.
package history

import (
	"fmt"
	"sync"
)

// EventType classifies history events.
type EventType string

const (
	// EventInvoke marks the start of an API call.
	EventInvoke EventType = "invoke"
	// EventOK marks a call that returned successfully.
	EventOK EventType = "ok"
	// EventFail marks a call that returned an error.
	EventFail EventType = "fail"
)

// Event is one entry in the global history.
//
// Value carries the operation payload: for an invoke, the operation in its
// requested shape (reads unresolved); for an ok, the same shape with reads
// filled in from the response; for a fail, the invoke payload again (the
// call's effect on the backend is unknown).
type Event struct {
	Type    EventType `json:"type"`
	F       string    `json:"f"`
	Value   any       `json:"value"`
	Process int       `json:"process"`
	Index   uint64    `json:"index"`
}

// Recorder is the shared, mutex-guarded event log for one run.
//
// Index assignment uses the current event count, so indices are dense and
// strictly increasing: N completed calls yield 2N events with indices
// 0..2N-1.
type Recorder struct {
	mu      sync.Mutex
	events  []Event
	pending map[int]string // process -> operation name of the in-flight call
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{
		events:  make([]Event, 0, 128),
		pending: make(map[int]string),
	}
}

// RecordInvoke appends an invoke event for process and returns it.
// Panics if the process already has a call in flight.
func (r *Recorder) RecordInvoke(process int, f string, value any) Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	if inflight, ok := r.pending[process]; ok {
		panic(fmt.Sprintf("history: process %d invoked %q while %q is still in flight", process, f, inflight))
	}
	r.pending[process] = f
	return r.append(EventInvoke, process, f, value)
}

// RecordOK appends an ok terminal for the process's in-flight call.
// Panics if the process has no call in flight.
func (r *Recorder) RecordOK(process int, f string, value any) Event {
	return r.terminal(EventOK, process, f, value)
}

// RecordFail appends a fail terminal for the process's in-flight call.
// Panics if the process has no call in flight.
func (r *Recorder) RecordFail(process int, f string, value any) Event {
	return r.terminal(EventFail, process, f, value)
}

func (r *Recorder) terminal(typ EventType, process int, f string, value any) Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	inflight, ok := r.pending[process]
	if !ok {
		panic(fmt.Sprintf("history: process %d recorded %s %q with no call in flight", process, typ, f))
	}
	if inflight != f {
		panic(fmt.Sprintf("history: process %d recorded %s %q but %q is in flight", process, typ, f, inflight))
	}
	delete(r.pending, process)
	return r.append(typ, process, f, value)
}

// append assumes r.mu is held.
func (r *Recorder) append(typ EventType, process int, f string, value any) Event {
	e := Event{
		Type:    typ,
		F:       f,
		Value:   value,
		Process: process,
		Index:   uint64(len(r.events)),
	}
	r.events = append(r.events, e)
	return e
}

// Events returns a snapshot copy of the history in index order.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Len returns the number of recorded events.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}
