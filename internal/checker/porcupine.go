package checker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/anishathalye/porcupine"

	"github.com/roach88/apibench/internal/history"
)

// PorcupineModel selects the embedded consistency model.
type PorcupineModel string

const (
	// ModelRegister checks per-key last-write-wins registers (put/get).
	ModelRegister PorcupineModel = "register"
	// ModelList checks per-key append-only lists (append/read).
	ModelList PorcupineModel = "list"
)

// Porcupine checks per-key linearizability in-process.
//
// The recorder's total order doubles as the timeline: an operation's
// invoke index is its call time and its terminal index its return time.
// Histories are partitioned by key, so only single-operation transactions
// are checkable; multi-operation transactions need the external checker.
//
// On a violation the linearization visualization is written into the
// artifacts directory alongside the serialized history.
type Porcupine struct {
	model   PorcupineModel
	timeout time.Duration
}

// PorcupineOption configures the embedded checker.
type PorcupineOption func(*Porcupine)

// WithCheckTimeout bounds the linearizability search. An exceeded bound is
// an inconclusive check and reported as an error, not a verdict.
func WithCheckTimeout(d time.Duration) PorcupineOption {
	return func(p *Porcupine) { p.timeout = d }
}

// NewPorcupine creates an embedded checker for the given model.
func NewPorcupine(model PorcupineModel, opts ...PorcupineOption) (*Porcupine, error) {
	switch model {
	case ModelRegister, ModelList:
	default:
		return nil, fmt.Errorf("unknown porcupine model %q", model)
	}
	p := &Porcupine{model: model, timeout: time.Minute}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Name identifies the checker in logs and reports.
func (p *Porcupine) Name() string {
	return "porcupine:" + string(p.model)
}

// Check converts the history to operations and searches for a
// linearization.
func (p *Porcupine) Check(ctx context.Context, events []history.Event, artifactsDir string) (Verdict, error) {
	if err := os.MkdirAll(artifactsDir, 0o755); err != nil {
		return 0, fmt.Errorf("create artifacts dir: %w", err)
	}
	if err := history.WriteFile(filepath.Join(artifactsDir, "history.json"), events); err != nil {
		return 0, err
	}

	ops, err := toOperations(events)
	if err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("check cancelled: %w", err)
	}

	model := p.porcupineModel()
	result, info := porcupine.CheckOperationsVerbose(model, ops, p.timeout)

	slog.Debug("checker finished",
		"checker", p.Name(),
		"operations", len(ops),
		"result", string(result))

	switch result {
	case porcupine.Ok:
		return Consistent, nil
	case porcupine.Illegal:
		vizPath := filepath.Join(artifactsDir, "linearization.html")
		if err := porcupine.VisualizePath(model, info, vizPath); err != nil {
			slog.Warn("write linearization artifact", "path", vizPath, "error", err)
		}
		return Inconsistent, nil
	default:
		return 0, fmt.Errorf("linearizability check inconclusive after %s", p.timeout)
	}
}

// kvOp is the porcupine input for one single-operation transaction.
type kvOp struct {
	Write bool
	Key   string
	Value int64
}

// Sentinel for read results the model cannot represent (a non-numeric
// value, a list with non-numeric elements). Workload values start at 1 and
// missing keys read as 0, so the sentinel can never match a real state and
// such a response is judged a violation rather than an infrastructure
// error: the backend produced it, the harness did not.
const unrepresentableRead = int64(math.MinInt64)

// toOperations pairs invokes with their terminals and converts each call
// into a porcupine operation, using history indices as the timeline.
//
// The history must be complete: a fail event or an unterminated invoke
// means the run cannot be checked and is reported as an error.
func toOperations(events []history.Event) ([]porcupine.Operation, error) {
	pending := make(map[int]history.Event)
	ops := make([]porcupine.Operation, 0, len(events)/2)

	for _, e := range events {
		switch e.Type {
		case history.EventInvoke:
			if prev, dup := pending[e.Process]; dup {
				return nil, fmt.Errorf("history index %d: process %d has two open invokes (first at %d)", e.Index, e.Process, prev.Index)
			}
			pending[e.Process] = e
		case history.EventOK:
			inv, ok := pending[e.Process]
			if !ok {
				return nil, fmt.Errorf("history index %d: ok without an open invoke for process %d", e.Index, e.Process)
			}
			delete(pending, e.Process)
			op, err := buildOperation(inv, e)
			if err != nil {
				return nil, err
			}
			ops = append(ops, op)
		case history.EventFail:
			return nil, fmt.Errorf("history index %d: fail events mean an incomplete run, which cannot be checked", e.Index)
		default:
			return nil, fmt.Errorf("history index %d: unknown event type %q", e.Index, e.Type)
		}
	}
	if len(pending) > 0 {
		return nil, fmt.Errorf("history has %d unterminated calls", len(pending))
	}
	return ops, nil
}

func buildOperation(inv, term history.Event) (porcupine.Operation, error) {
	kind, key, invValue, err := singleTuple(inv.Value)
	if err != nil {
		return porcupine.Operation{}, fmt.Errorf("history index %d: %w", inv.Index, err)
	}

	op := kvOp{Key: key}
	var output any
	switch kind {
	case "w", "append":
		// The written value came from the workload generator; failing to
		// parse it is a harness bug, not a backend fault.
		v, err := asInt64(invValue)
		if err != nil {
			return porcupine.Operation{}, fmt.Errorf("history index %d: write value: %w", inv.Index, err)
		}
		op.Write = true
		op.Value = v
		output = int64(0)
	case "r":
		_, _, termValue, err := singleTuple(term.Value)
		if err != nil {
			return porcupine.Operation{}, fmt.Errorf("history index %d: %w", term.Index, err)
		}
		output = readOutput(termValue)
	default:
		return porcupine.Operation{}, fmt.Errorf("history index %d: unknown operation kind %q", inv.Index, kind)
	}

	return porcupine.Operation{
		ClientId: inv.Process,
		Input:    op,
		Call:     int64(inv.Index),
		Output:   output,
		Return:   int64(term.Index),
	}, nil
}

// readOutput normalizes a read result. Scalars become int64 (nil reads as
// 0, the never-written state); lists become their canonical string
// encoding. Unparseable responses map to the sentinel so they can never
// linearize. A result of the wrong shape for its model (a scalar where a
// list is due, or vice versa) fails the step's type check and is judged a
// violation.
func readOutput(v any) any {
	switch val := v.(type) {
	case nil:
		return int64(0)
	case []any:
		elems := make([]int64, len(val))
		for i, raw := range val {
			n, err := asInt64(raw)
			if err != nil {
				return encodeList([]int64{unrepresentableRead})
			}
			elems[i] = n
		}
		return encodeList(elems)
	default:
		n, err := asInt64(val)
		if err != nil {
			return unrepresentableRead
		}
		return n
	}
}

// singleTuple extracts the [kind, key, value] micro-op of a
// single-operation transaction.
func singleTuple(v any) (kind, key string, value any, err error) {
	tuples, ok := v.([]any)
	if !ok {
		return "", "", nil, fmt.Errorf("event value must be a tuple list, got %T", v)
	}
	if len(tuples) != 1 {
		return "", "", nil, fmt.Errorf("per-key linearizability requires single-operation transactions, got %d operations", len(tuples))
	}
	tuple, ok := tuples[0].([]any)
	if !ok || len(tuple) != 3 {
		return "", "", nil, fmt.Errorf("malformed operation tuple %v", tuples[0])
	}
	kind, kindOK := tuple[0].(string)
	key, keyOK := tuple[1].(string)
	if !kindOK || !keyOK {
		return "", "", nil, fmt.Errorf("operation kind and key must be strings in %v", tuple)
	}
	return kind, key, tuple[2], nil
}

func asInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case float64:
		if n != math.Trunc(n) {
			return 0, fmt.Errorf("value %v is not an integer", n)
		}
		return int64(n), nil
	case json.Number:
		return n.Int64()
	default:
		return 0, fmt.Errorf("value %v (%T) is not an integer", v, v)
	}
}

func encodeList(elems []int64) string {
	if len(elems) == 0 {
		return ""
	}
	var b strings.Builder
	for i, e := range elems {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatInt(e, 10))
	}
	return b.String()
}

// partitionByKey groups operations by key in first-seen order. Keys are
// independent objects, so each group is checked on its own.
func partitionByKey(ops []porcupine.Operation) [][]porcupine.Operation {
	groups := make(map[string][]porcupine.Operation)
	var order []string
	for _, op := range ops {
		key := op.Input.(kvOp).Key
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}
		groups[key] = append(groups[key], op)
	}
	out := make([][]porcupine.Operation, len(order))
	for i, key := range order {
		out[i] = groups[key]
	}
	return out
}

func (p *Porcupine) porcupineModel() porcupine.Model {
	if p.model == ModelRegister {
		return registerPorcupineModel()
	}
	return listPorcupineModel()
}

// registerPorcupineModel models each key as a last-write-wins register.
// State is the last written value, 0 before any write.
func registerPorcupineModel() porcupine.Model {
	return porcupine.Model{
		Partition: partitionByKey,
		Init:      func() any { return int64(0) },
		Step: func(state, input, output any) (bool, any) {
			op := input.(kvOp)
			if op.Write {
				return true, op.Value
			}
			got, ok := output.(int64)
			return ok && got == state.(int64), state
		},
		DescribeOperation: func(input, output any) string {
			op := input.(kvOp)
			if op.Write {
				return fmt.Sprintf("put(%s, %d)", op.Key, op.Value)
			}
			return fmt.Sprintf("get(%s) -> %v", op.Key, output)
		},
	}
}

// listPorcupineModel models each key as an append-only list. State is the
// canonical string encoding of the list so states stay comparable.
func listPorcupineModel() porcupine.Model {
	return porcupine.Model{
		Partition: partitionByKey,
		Init:      func() any { return "" },
		Step: func(state, input, output any) (bool, any) {
			op := input.(kvOp)
			s := state.(string)
			if op.Write {
				suffix := strconv.FormatInt(op.Value, 10)
				if s == "" {
					return true, suffix
				}
				return true, s + "," + suffix
			}
			got, ok := output.(string)
			return ok && got == s, state
		},
		DescribeOperation: func(input, output any) string {
			op := input.(kvOp)
			if op.Write {
				return fmt.Sprintf("append(%s, %d)", op.Key, op.Value)
			}
			return fmt.Sprintf("read(%s) -> [%v]", op.Key, output)
		},
	}
}
