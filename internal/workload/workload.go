// Package workload generates the randomized operation mix a benchmark run
// executes against a backend.
//
// Generation is deterministic: the same Config and seed always produce the
// same transactions, so any run can be reproduced from its logged seed.
package workload

import (
	"fmt"
)

// Config shapes a generated workload. The zero value is invalid; use a
// task's defaults and override per run.
type Config struct {
	// NumKeys is the size of the key space. Keys are decimal strings
	// "0" .. "NumKeys-1"; a small space forces contention.
	NumKeys int `json:"num_keys" yaml:"num_keys"`
	// NumTransactions is the total number of transactions in the workload.
	NumTransactions int `json:"num_transactions" yaml:"num_transactions"`
	// TransactionSize is the number of operations per transaction.
	TransactionSize int `json:"transaction_size" yaml:"transaction_size"`
	// Concurrency is the number of workers that execute the workload.
	Concurrency int `json:"concurrency" yaml:"concurrency"`
	// ReadProbability is the chance in [0,1] that an operation is a read.
	ReadProbability float64 `json:"read_probability" yaml:"read_probability"`
}

// Validate rejects out-of-range configurations. Counts must be at least 1
// and ReadProbability must be a probability; nothing is clamped.
func (c Config) Validate() error {
	if c.NumKeys < 1 {
		return fmt.Errorf("num_keys must be >= 1, got %d", c.NumKeys)
	}
	if c.NumTransactions < 1 {
		return fmt.Errorf("num_transactions must be >= 1, got %d", c.NumTransactions)
	}
	if c.TransactionSize < 1 {
		return fmt.Errorf("transaction_size must be >= 1, got %d", c.TransactionSize)
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("concurrency must be >= 1, got %d", c.Concurrency)
	}
	if c.ReadProbability < 0 || c.ReadProbability > 1 {
		return fmt.Errorf("read_probability must be in [0,1], got %v", c.ReadProbability)
	}
	return nil
}

// OpKind identifies an operation within a transaction.
type OpKind string

const (
	// OpRead reads the list under a key (list workloads).
	OpRead OpKind = "r"
	// OpAppend appends a value to the list under a key (list workloads).
	OpAppend OpKind = "append"
	// OpGet reads the register under a key (register workloads).
	OpGet OpKind = "get"
	// OpPut overwrites the register under a key (register workloads).
	OpPut OpKind = "put"
)

// Op is one operation. Value is meaningful only for OpAppend and OpPut.
type Op struct {
	Kind  OpKind `json:"kind"`
	Key   string `json:"key"`
	Value int64  `json:"value,omitempty"`
}

// Transaction is an ordered list of operations executed as one API call.
type Transaction struct {
	Ops []Op `json:"ops"`
}

// tupleKind maps an operation to its history micro-op kind. List workloads
// use "r"/"append"; register workloads use the conventional "r"/"w".
func (o Op) tupleKind() string {
	switch o.Kind {
	case OpRead, OpGet:
		return "r"
	case OpAppend:
		return "append"
	case OpPut:
		return "w"
	default:
		panic(fmt.Sprintf("workload: unknown op kind %q", o.Kind))
	}
}

// Invoke returns the transaction in history tuple form with reads
// unresolved: [[kind, key, value-or-null], ...]. This is both the invoke
// event payload and, for list workloads, the request body.
func (t Transaction) Invoke() []any {
	tuples := make([]any, len(t.Ops))
	for i, op := range t.Ops {
		switch op.Kind {
		case OpRead, OpGet:
			tuples[i] = []any{op.tupleKind(), op.Key, nil}
		default:
			tuples[i] = []any{op.tupleKind(), op.Key, op.Value}
		}
	}
	return tuples
}

// Completed returns the transaction in history tuple form with read results
// substituted in op order. reads must hold one value per read operation in
// the transaction; writes keep their requested values.
func (t Transaction) Completed(reads []any) ([]any, error) {
	tuples := make([]any, len(t.Ops))
	r := 0
	for i, op := range t.Ops {
		switch op.Kind {
		case OpRead, OpGet:
			if r >= len(reads) {
				return nil, fmt.Errorf("transaction has %d reads, got %d results", t.readCount(), len(reads))
			}
			tuples[i] = []any{op.tupleKind(), op.Key, reads[r]}
			r++
		default:
			tuples[i] = []any{op.tupleKind(), op.Key, op.Value}
		}
	}
	if r != len(reads) {
		return nil, fmt.Errorf("transaction has %d reads, got %d results", r, len(reads))
	}
	return tuples, nil
}

func (t Transaction) readCount() int {
	n := 0
	for _, op := range t.Ops {
		if op.Kind == OpRead || op.Kind == OpGet {
			n++
		}
	}
	return n
}
