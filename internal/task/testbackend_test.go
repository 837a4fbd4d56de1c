package task

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/roach88/apibench/internal/api"
	"github.com/roach88/apibench/internal/backend"
	"github.com/roach88/apibench/internal/checker"
	"github.com/roach88/apibench/internal/history"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// jsonShape forces v through JSON so fakes return wire shapes the way a
// real adapter would.
func jsonShape(v any) any {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		panic(err)
	}
	return out
}

// stubChecker returns a fixed verdict or error and records what it saw.
type stubChecker struct {
	verdict checker.Verdict
	err     error

	mu     sync.Mutex
	events []history.Event
	dir    string
}

func (c *stubChecker) Name() string { return "stub" }

func (c *stubChecker) Check(ctx context.Context, events []history.Event, artifactsDir string) (checker.Verdict, error) {
	c.mu.Lock()
	c.events = events
	c.dir = artifactsDir
	c.mu.Unlock()
	return c.verdict, c.err
}

// memListBackend implements the append endpoint in memory, correctly.
// With failWorkload set, requests touching any key other than "foo" fail,
// which leaves the sequential probe working while every generated
// workload call (digit keys) errors out.
type memListBackend struct {
	mu           sync.Mutex
	lists        map[string][]any
	failWorkload bool
}

func newMemListBackend() *memListBackend {
	return &memListBackend{lists: map[string][]any{}}
}

func (b *memListBackend) APIPrompt(descs []api.Description) string { return api.Render(descs) }
func (b *memListBackend) Description() string                      { return "in-memory list backend" }
func (b *memListBackend) Start(ctx context.Context) error          { return nil }
func (b *memListBackend) Deploy(ctx context.Context) error         { return nil }
func (b *memListBackend) Stop() error                              { return nil }

func (b *memListBackend) CallAPI(ctx context.Context, contract backend.Contract, name string, input any) (any, error) {
	if name != "append" {
		return nil, fmt.Errorf("unknown endpoint %q", name)
	}
	tuples, ok := jsonShape(input).([]any)
	if !ok {
		return nil, fmt.Errorf("append body must be a list")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]any, len(tuples))
	for i, raw := range tuples {
		elem, ok := raw.([]any)
		if !ok || len(elem) != 3 {
			return nil, fmt.Errorf("tuple %d malformed", i)
		}
		kind, _ := elem[0].(string)
		key, _ := elem[1].(string)
		if b.failWorkload && key != "foo" {
			return nil, fmt.Errorf("injected workload failure")
		}
		switch kind {
		case "r":
			out[i] = []any{"r", key, append([]any{}, b.lists[key]...)}
		case "append":
			b.lists[key] = append(b.lists[key], elem[2])
			out[i] = []any{"append", key, elem[2]}
		default:
			return nil, fmt.Errorf("tuple %d: bad op %q", i, kind)
		}
	}
	return out, nil
}

// memKVBackend implements put/get in memory. With zeroForMissing set,
// reads of never-stored keys return 0 instead of null, a deliberate
// contract violation the sequential probe must catch.
type memKVBackend struct {
	mu             sync.Mutex
	regs           map[string]any
	zeroForMissing bool
}

func newMemKVBackend() *memKVBackend {
	return &memKVBackend{regs: map[string]any{}}
}

func (b *memKVBackend) APIPrompt(descs []api.Description) string { return api.Render(descs) }
func (b *memKVBackend) Description() string                      { return "in-memory kv backend" }
func (b *memKVBackend) Start(ctx context.Context) error          { return nil }
func (b *memKVBackend) Deploy(ctx context.Context) error         { return nil }
func (b *memKVBackend) Stop() error                              { return nil }

func (b *memKVBackend) CallAPI(ctx context.Context, contract backend.Contract, name string, input any) (any, error) {
	body, ok := jsonShape(input).(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%s body must be an object", name)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	switch name {
	case "put":
		pairs, ok := body["pairs"].([]any)
		if !ok {
			return nil, fmt.Errorf("put body must contain pairs")
		}
		for i, raw := range pairs {
			elem, ok := raw.([]any)
			if !ok || len(elem) != 2 {
				return nil, fmt.Errorf("pair %d malformed", i)
			}
			key, _ := elem[0].(string)
			b.regs[key] = elem[1]
		}
		return nil, nil
	case "get":
		keys, ok := body["keys"].([]any)
		if !ok {
			return nil, fmt.Errorf("get body must contain keys")
		}
		pairs := make([]any, len(keys))
		for i, raw := range keys {
			key, _ := raw.(string)
			value, stored := b.regs[key]
			if !stored {
				if b.zeroForMissing {
					value = float64(0)
				} else {
					value = nil
				}
			}
			pairs[i] = []any{key, value}
		}
		return map[string]any{"pairs": pairs}, nil
	default:
		return nil, fmt.Errorf("unknown endpoint %q", name)
	}
}
