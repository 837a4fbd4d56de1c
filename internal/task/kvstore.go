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

//go:embed contracts/kvstore.cue
var kvCUE []byte

func init() {
	Register("kv", NewKV)
}

// defaultKVWorkload is the stock register workload. Transactions carry
// exactly one operation so each maps to one point on a per-key
// linearizability timeline.
var defaultKVWorkload = workload.Config{
	NumKeys:         8,
	NumTransactions: 64,
	TransactionSize: 1,
	Concurrency:     4,
	ReadProbability: 0.25,
}

// KV grades key-value register semantics: single-operation put/get
// transactions judged against per-key linearizability.
type KV struct {
	opts     *options
	cfg      workload.Config
	contract *Contract
	checker  checker.Checker
}

// NewKV constructs the kv task. Without WithChecker the verdict comes
// from the embedded linearizability checker.
func NewKV(opts ...Option) (Task, error) {
	o := buildOptions(opts)

	cfg := defaultKVWorkload
	if o.workload != nil {
		cfg = *o.workload
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("kv workload: %w", err)
	}
	if cfg.TransactionSize != 1 {
		return nil, fmt.Errorf("kv workload: transaction_size must be 1 (register transactions are single-operation), got %d", cfg.TransactionSize)
	}

	chk := o.checker
	if chk == nil {
		var err error
		chk, err = checker.NewPorcupine(checker.ModelRegister)
		if err != nil {
			return nil, err
		}
	}

	return &KV{
		opts:     o,
		cfg:      cfg,
		contract: mustContract(kvCUE),
		checker:  chk,
	}, nil
}

func (t *KV) Name() string { return "kv" }

// Contract returns the API contract a backend must implement.
func (t *KV) Contract() *Contract { return t.contract }

// Grade runs the correctness probe and the consistency scenario.
func (t *KV) Grade(ctx context.Context, b backend.Backend) (Scores, error) {
	r, err := newRun(t.opts, t.Name())
	if err != nil {
		return nil, err
	}
	logger := t.opts.logger.With("task", t.Name(), "run", r.id)
	logger.Info("grading started", "seed", t.opts.seed, "artifacts", r.root)

	scenarios := []scenario{
		{name: "basic_kv", fatal: true, run: t.probeBasicKV},
		{name: "linearizable", run: func(ctx context.Context, b backend.Backend) (float64, error) {
			return t.consistency(ctx, b, r.scenarioDir("linearizable"), logger)
		}},
	}
	return runScenarios(ctx, b, scenarios, logger)
}

// probeBasicKV checks store, read-back, missing-key null, and overwrite,
// sequentially.
func (t *KV) probeBasicKV(ctx context.Context, b backend.Backend) (float64, error) {
	steps := []probeStep{
		{
			op:   "put",
			body: map[string]any{"pairs": []any{[]any{"a", 1}, []any{"b", 2}}},
			want: nil,
		},
		{
			op:   "get",
			body: map[string]any{"keys": []any{"a", "b"}},
			want: map[string]any{"pairs": []any{[]any{"a", float64(1)}, []any{"b", float64(2)}}},
		},
		{
			op:   "get",
			body: map[string]any{"keys": []any{"missing"}},
			want: map[string]any{"pairs": []any{[]any{"missing", nil}}},
		},
		{
			op:   "put",
			body: map[string]any{"pairs": []any{[]any{"a", 3}}},
			want: nil,
		},
		{
			op:   "get",
			body: map[string]any{"keys": []any{"a"}},
			want: map[string]any{"pairs": []any{[]any{"a", float64(3)}}},
		},
	}
	if err := runProbe(ctx, b, t.contract, steps); err != nil {
		return 0, err
	}
	return 1, nil
}

// consistency runs the seeded register workload and scores the verdict.
func (t *KV) consistency(ctx context.Context, b backend.Backend, dir string, logger *slog.Logger) (float64, error) {
	gen, err := workload.NewGenerator(t.cfg, t.opts.seed)
	if err != nil {
		return 0, err
	}
	calls, err := kvCalls(gen.Register())
	if err != nil {
		return 0, err
	}
	return runConsistency(ctx, b, t.contract, calls, t.cfg.Concurrency, t.checker, dir, logger)
}

// kvCalls maps single-operation register transactions onto harness calls.
// History payloads use register tuple form: ["w", key, v] / ["r", key, v].
func kvCalls(txns []workload.Transaction) ([]harness.Call, error) {
	calls := make([]harness.Call, len(txns))
	for i, txn := range txns {
		if len(txn.Ops) != 1 {
			return nil, fmt.Errorf("transaction %d has %d operations, want 1", i, len(txn.Ops))
		}
		op := txn.Ops[0]
		invoke := txn.Invoke()
		switch op.Kind {
		case workload.OpPut:
			calls[i] = harness.Call{
				Op:     "put",
				Body:   map[string]any{"pairs": []any{[]any{op.Key, op.Value}}},
				Invoke: invoke,
				Decode: func(resp any) (any, error) {
					if resp != nil {
						return nil, fmt.Errorf("put response must be null, got %v", resp)
					}
					return invoke, nil
				},
			}
		case workload.OpGet:
			txn := txn
			calls[i] = harness.Call{
				Op:     "get",
				Body:   map[string]any{"keys": []any{op.Key}},
				Invoke: invoke,
				Decode: func(resp any) (any, error) {
					return decodeGetResponse(txn, op.Key, resp)
				},
			}
		default:
			return nil, fmt.Errorf("transaction %d: unexpected operation kind %q", i, op.Kind)
		}
	}
	return calls, nil
}

// decodeGetResponse validates the get response shape and substitutes the
// read value into the transaction's tuple form. A mismatched key or a
// malformed shape fails the call; the value itself passes through for
// the checker to judge.
func decodeGetResponse(txn workload.Transaction, key string, resp any) (any, error) {
	body, ok := resp.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("get response must be an object, got %T", resp)
	}
	pairs, ok := body["pairs"].([]any)
	if !ok {
		return nil, fmt.Errorf("get response must contain a pairs list")
	}
	if len(pairs) != 1 {
		return nil, fmt.Errorf("get response has %d pairs, want 1", len(pairs))
	}
	elem, ok := pairs[0].([]any)
	if !ok || len(elem) != 2 {
		return nil, fmt.Errorf("get response pair must be [key, value]")
	}
	got, ok := elem[0].(string)
	if !ok || got != key {
		return nil, fmt.Errorf("get response is for key %v, want %q", elem[0], key)
	}
	return txn.Completed([]any{elem[1]})
}
