package history

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorder_SequentialPair(t *testing.T) {
	r := NewRecorder()

	inv := r.RecordInvoke(0, "append", []any{"a"})
	assert.Equal(t, EventInvoke, inv.Type)
	assert.Equal(t, uint64(0), inv.Index)
	assert.Equal(t, 0, inv.Process)

	ok := r.RecordOK(0, "append", []any{"a"})
	assert.Equal(t, EventOK, ok.Type)
	assert.Equal(t, uint64(1), ok.Index)

	events := r.Events()
	require.Len(t, events, 2)
	assert.Equal(t, inv, events[0])
	assert.Equal(t, ok, events[1])
}

func TestRecorder_ConcurrentIndexing(t *testing.T) {
	r := NewRecorder()
	const processes = 8
	const callsPerProcess = 50

	var wg sync.WaitGroup
	for p := 0; p < processes; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < callsPerProcess; i++ {
				r.RecordInvoke(p, "append", i)
				r.RecordOK(p, "append", i)
			}
		}(p)
	}
	wg.Wait()

	events := r.Events()
	total := 2 * processes * callsPerProcess
	require.Len(t, events, total, "N completed calls should yield 2N events")

	// Indices are dense, 0-based, strictly increasing in event order.
	for i, e := range events {
		assert.Equal(t, uint64(i), e.Index, "event %d has wrong index", i)
	}
}

func TestRecorder_PerProcessAlternation(t *testing.T) {
	r := NewRecorder()
	const processes = 4
	const callsPerProcess = 30

	var wg sync.WaitGroup
	for p := 0; p < processes; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < callsPerProcess; i++ {
				r.RecordInvoke(p, "put", i)
				if i%5 == 4 {
					r.RecordFail(p, "put", i)
				} else {
					r.RecordOK(p, "put", i)
				}
			}
		}(p)
	}
	wg.Wait()

	// Per process, the event stream must alternate invoke / terminal and
	// every terminal must match its invoke's operation.
	for p := 0; p < processes; p++ {
		var stream []Event
		for _, e := range r.Events() {
			if e.Process == p {
				stream = append(stream, e)
			}
		}
		require.Len(t, stream, 2*callsPerProcess)
		for i, e := range stream {
			if i%2 == 0 {
				assert.Equal(t, EventInvoke, e.Type, "process %d event %d", p, i)
			} else {
				assert.Contains(t, []EventType{EventOK, EventFail}, e.Type, "process %d event %d", p, i)
				assert.Equal(t, stream[i-1].F, e.F, "terminal must match invoke op")
			}
		}
	}
}

func TestRecorder_PanicsOnDoubleInvoke(t *testing.T) {
	r := NewRecorder()
	r.RecordInvoke(3, "get", nil)

	assert.Panics(t, func() {
		r.RecordInvoke(3, "get", nil)
	}, "second invoke while one is in flight is a harness bug")
}

func TestRecorder_PanicsOnTerminalWithoutInvoke(t *testing.T) {
	r := NewRecorder()

	assert.Panics(t, func() {
		r.RecordOK(0, "get", nil)
	})
	assert.Panics(t, func() {
		r.RecordFail(0, "get", nil)
	})
}

func TestRecorder_PanicsOnTerminalFromWrongProcess(t *testing.T) {
	r := NewRecorder()
	r.RecordInvoke(1, "append", nil)

	// Process 2 has nothing in flight; process 1's call does not cover it.
	assert.Panics(t, func() {
		r.RecordOK(2, "append", nil)
	})
}

func TestRecorder_PanicsOnMismatchedOperation(t *testing.T) {
	r := NewRecorder()
	r.RecordInvoke(0, "append", nil)

	assert.Panics(t, func() {
		r.RecordOK(0, "get", nil)
	})
}

func TestRecorder_FailClearsInFlight(t *testing.T) {
	r := NewRecorder()
	r.RecordInvoke(0, "append", 1)
	r.RecordFail(0, "append", 1)

	// A failed call terminates its pair; the process may invoke again.
	assert.NotPanics(t, func() {
		r.RecordInvoke(0, "append", 2)
		r.RecordOK(0, "append", 2)
	})
	assert.Equal(t, 4, r.Len())
}

func TestRecorder_EventsReturnsSnapshot(t *testing.T) {
	r := NewRecorder()
	r.RecordInvoke(0, "get", nil)
	snap := r.Events()
	r.RecordOK(0, "get", nil)

	assert.Len(t, snap, 1, "snapshot must not grow with later events")
	assert.Len(t, r.Events(), 2)
}
