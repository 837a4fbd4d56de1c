// Package harness drives concurrent workloads against a backend and
// records every call into a history.
//
// The harness is the only component that talks to both the backend and
// the recorder. It partitions a call sequence across a fixed pool of
// workers, executes each worker's share sequentially, and records an
// invoke event before every request and a terminal event after it. The
// resulting history is the sole input to the consistency checkers.
//
// Thread-safety model:
//   - Run spawns its own workers and blocks until all of them return;
//     the returned Result is owned by the caller.
//   - Workers share one history.Recorder, which serializes appends.
//   - A Call value is read-only once Run starts.
package harness

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/roach88/apibench/internal/backend"
	"github.com/roach88/apibench/internal/history"
)

// Call is one backend operation scheduled for execution.
//
// Op names the contract operation, Body is the request payload sent to
// the backend, and Invoke is the value recorded on the invoke event
// (the checker-facing form of the request, which may differ from the
// wire form). Decode converts the backend response into the value
// recorded on the ok event; a nil Decode records the response as-is.
type Call struct {
	Op     string
	Body   any
	Invoke any
	Decode func(resp any) (any, error)
}

// Result is the outcome of one Run.
//
// Complete reports whether every call finished with an ok terminal.
// Failed counts calls whose terminal was a fail event; Skipped counts
// calls that were never attempted because their worker had already
// aborted. Err holds the first worker error, so Complete == (Err == nil).
type Result struct {
	Events   []history.Event
	Complete bool
	Failed   int
	Skipped  int
	Err      error
}

// Option configures a Run.
type Option func(*runner)

// WithLogger sets the logger used for worker progress and abort
// messages. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(r *runner) {
		r.logger = logger
	}
}

type runner struct {
	backend     backend.Backend
	contract    backend.Contract
	calls       []Call
	concurrency int
	logger      *slog.Logger

	rec *history.Recorder

	mu       sync.Mutex
	failed   int
	skipped  int
	firstErr error
}

// Run executes calls against b with the given worker count and returns
// the recorded history.
//
// Worker w owns calls w, w+concurrency, w+2*concurrency, ... and
// executes them sequentially in that order, so each worker has at most
// one call in flight and the worker slot doubles as the history process
// id. When a call fails, the failure is recorded and only that worker
// stops; the others run their share to completion so the partial
// history still covers them.
//
// Run panics on misuse: a nil backend or contract, or concurrency < 1.
// Worker panics (including recorder protocol violations, which indicate
// a harness bug) are not recovered.
func Run(ctx context.Context, b backend.Backend, contract backend.Contract, calls []Call, concurrency int, opts ...Option) *Result {
	if b == nil {
		panic("harness: nil backend")
	}
	if contract == nil {
		panic("harness: nil contract")
	}
	if concurrency < 1 {
		panic(fmt.Sprintf("harness: concurrency must be at least 1, got %d", concurrency))
	}

	r := &runner{
		backend:     b,
		contract:    contract,
		calls:       calls,
		concurrency: concurrency,
		logger:      slog.Default(),
		rec:         history.NewRecorder(),
	}
	for _, opt := range opts {
		opt(r)
	}

	r.logger.Debug("workload started",
		"calls", len(calls),
		"concurrency", concurrency)

	var wg sync.WaitGroup
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(process int) {
			defer wg.Done()
			r.work(ctx, process)
		}(w)
	}
	wg.Wait()

	res := &Result{
		Events:   r.rec.Events(),
		Complete: r.firstErr == nil,
		Failed:   r.failed,
		Skipped:  r.skipped,
		Err:      r.firstErr,
	}
	r.logger.Debug("workload finished",
		"events", len(res.Events),
		"complete", res.Complete,
		"failed", res.Failed,
		"skipped", res.Skipped)
	return res
}

// work runs one worker's share of the call sequence.
func (r *runner) work(ctx context.Context, process int) {
	for i := process; i < len(r.calls); i += r.concurrency {
		if err := ctx.Err(); err != nil {
			// Nothing was attempted for this call, so no events are
			// recorded for it or for the rest of the worker's share.
			r.abort(process, i, remaining(i, len(r.calls), r.concurrency)+1, err)
			return
		}
		call := r.calls[i]
		if err := r.runCall(ctx, process, call); err != nil {
			r.abort(process, i, remaining(i, len(r.calls), r.concurrency), err)
			r.markFailed()
			return
		}
	}
	r.logger.Debug("worker finished", "process", process)
}

// runCall executes a single call, bracketing it with history events.
// The invoke event is recorded before the request and exactly one
// terminal event after it, regardless of outcome.
func (r *runner) runCall(ctx context.Context, process int, call Call) error {
	r.rec.RecordInvoke(process, call.Op, call.Invoke)

	resp, err := r.backend.CallAPI(ctx, r.contract, call.Op, call.Body)
	if err != nil {
		r.rec.RecordFail(process, call.Op, call.Invoke)
		return err
	}

	value := resp
	if call.Decode != nil {
		value, err = call.Decode(resp)
		if err != nil {
			r.rec.RecordFail(process, call.Op, call.Invoke)
			return fmt.Errorf("decode %s response: %w", call.Op, err)
		}
	}

	r.rec.RecordOK(process, call.Op, value)
	return nil
}

// abort records the end of a worker after a failure at call index i,
// with skip calls from its share never attempted.
func (r *runner) abort(process, i, skip int, err error) {
	r.mu.Lock()
	r.skipped += skip
	if r.firstErr == nil {
		r.firstErr = fmt.Errorf("worker %d: call %d (%s): %w", process, i, r.calls[i].Op, err)
	}
	r.mu.Unlock()

	r.logger.Warn("worker aborted",
		"process", process,
		"call", i,
		"op", r.calls[i].Op,
		"skipped", skip,
		"error", err)
}

func (r *runner) markFailed() {
	r.mu.Lock()
	r.failed++
	r.mu.Unlock()
}

// remaining counts the calls after index i that belong to the same
// worker in a strided partition of n calls across c workers.
func remaining(i, n, c int) int {
	if i >= n {
		return 0
	}
	return (n - 1 - i) / c
}
