package task

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"

	"github.com/roach88/apibench/internal/backend"
	"github.com/roach88/apibench/internal/checker"
	"github.com/roach88/apibench/internal/harness"
	"github.com/roach88/apibench/internal/workload"
)

//go:embed contracts/listappend.cue
var listAppendCUE []byte

func init() {
	Register("list-append", NewListAppend)
}

// defaultListAppendWorkload is the stock list workload: a small key space
// under a moderate worker count, biased toward appends so lists grow fast
// enough for reads to disagree about.
var defaultListAppendWorkload = workload.Config{
	NumKeys:         8,
	NumTransactions: 64,
	TransactionSize: 8,
	Concurrency:     4,
	ReadProbability: 0.25,
}

// ListAppend grades transactional list-append semantics: multi-operation
// transactions over per-key lists, judged against serializability.
type ListAppend struct {
	opts     *options
	cfg      workload.Config
	contract *Contract
	checker  checker.Checker
}

// NewListAppend constructs the list-append task. Without WithChecker the
// verdict comes from an external elle binary named "elle" on PATH.
func NewListAppend(opts ...Option) (Task, error) {
	o := buildOptions(opts)

	cfg := defaultListAppendWorkload
	if o.workload != nil {
		cfg = *o.workload
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("list-append workload: %w", err)
	}

	chk := o.checker
	if chk == nil {
		var err error
		chk, err = checker.NewElle("elle", checker.ModelListAppend)
		if err != nil {
			return nil, err
		}
	}

	return &ListAppend{
		opts:     o,
		cfg:      cfg,
		contract: mustContract(listAppendCUE),
		checker:  chk,
	}, nil
}

func (t *ListAppend) Name() string { return "list-append" }

// Contract returns the API contract a backend must implement.
func (t *ListAppend) Contract() *Contract { return t.contract }

// Grade runs the correctness probe and the consistency scenario.
func (t *ListAppend) Grade(ctx context.Context, b backend.Backend) (Scores, error) {
	r, err := newRun(t.opts, t.Name())
	if err != nil {
		return nil, err
	}
	logger := t.opts.logger.With("task", t.Name(), "run", r.id)
	logger.Info("grading started", "seed", t.opts.seed, "artifacts", r.root)

	scenarios := []scenario{
		{name: "basic_append", fatal: true, run: t.probeBasicAppend},
		{name: "elle", run: func(ctx context.Context, b backend.Backend) (float64, error) {
			return t.consistency(ctx, b, r.scenarioDir("elle"), logger)
		}},
	}
	return runScenarios(ctx, b, scenarios, logger)
}

// probeBasicAppend checks read-your-writes within a request and
// persistence across requests, sequentially: a read before and after the
// first append, then a second append observed by a trailing read.
func (t *ListAppend) probeBasicAppend(ctx context.Context, b backend.Backend) (float64, error) {
	steps := []probeStep{
		{
			op:   "append",
			body: []any{[]any{"r", "foo", nil}, []any{"append", "foo", 1}},
			want: []any{[]any{"r", "foo", []any{}}, []any{"append", "foo", float64(1)}},
		},
		{
			op:   "append",
			body: []any{[]any{"append", "foo", 2}, []any{"r", "foo", nil}},
			want: []any{[]any{"append", "foo", float64(2)}, []any{"r", "foo", []any{float64(1), float64(2)}}},
		},
	}
	if err := runProbe(ctx, b, t.contract, steps); err != nil {
		return 0, err
	}
	return 1, nil
}

// consistency runs the seeded concurrent workload and scores the verdict.
func (t *ListAppend) consistency(ctx context.Context, b backend.Backend, dir string, logger *slog.Logger) (float64, error) {
	gen, err := workload.NewGenerator(t.cfg, t.opts.seed)
	if err != nil {
		return 0, err
	}
	calls := listAppendCalls(gen.ListAppend())
	return runConsistency(ctx, b, t.contract, calls, t.cfg.Concurrency, t.checker, dir, logger)
}

// listAppendCalls maps transactions onto harness calls. The tuple list is
// both the request body and the invoke payload; the ok payload is the
// same list with the backend's read results substituted.
func listAppendCalls(txns []workload.Transaction) []harness.Call {
	calls := make([]harness.Call, len(txns))
	for i, txn := range txns {
		txn := txn
		invoke := txn.Invoke()
		calls[i] = harness.Call{
			Op:     "append",
			Body:   invoke,
			Invoke: invoke,
			Decode: func(resp any) (any, error) {
				return decodeListResponse(txn, resp)
			},
		}
	}
	return calls
}

// decodeListResponse validates that the response mirrors the transaction
// shape and extracts its read results. A malformed shape fails the call;
// wrong read values pass through untouched for the checker to judge.
func decodeListResponse(txn workload.Transaction, resp any) (any, error) {
	tuples, ok := resp.([]any)
	if !ok {
		return nil, fmt.Errorf("response must be a tuple list, got %T", resp)
	}
	if len(tuples) != len(txn.Ops) {
		return nil, fmt.Errorf("response has %d tuples, want %d", len(tuples), len(txn.Ops))
	}
	var reads []any
	for i, raw := range tuples {
		elem, ok := raw.([]any)
		if !ok || len(elem) != 3 {
			return nil, fmt.Errorf("response tuple %d: want [op, key, value]", i)
		}
		if txn.Ops[i].Kind == workload.OpRead {
			reads = append(reads, elem[2])
		}
	}
	return txn.Completed(reads)
}
