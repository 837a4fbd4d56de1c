package workload

import (
	"math/rand"
	"strconv"
)

// Generator produces transactions from a validated Config and a seed.
//
// A Generator is single-use: it holds the random stream and the unique
// value counter for one workload. Two generators built with the same
// Config and seed produce identical transactions.
type Generator struct {
	cfg  Config
	rng  *rand.Rand
	next int64
}

// NewGenerator validates cfg and creates a generator seeded with seed.
func NewGenerator(cfg Config, seed int64) (*Generator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Generator{
		cfg: cfg,
		rng: rand.New(rand.NewSource(seed)),
	}, nil
}

// ListAppend generates the list workload: NumTransactions transactions of
// TransactionSize operations each. Every operation is a read with
// ReadProbability, otherwise an append of the next unique value. Appended
// values are unique across the whole workload so a lost append is
// attributable to one specific operation.
func (g *Generator) ListAppend() []Transaction {
	txns := make([]Transaction, g.cfg.NumTransactions)
	for i := range txns {
		ops := make([]Op, g.cfg.TransactionSize)
		for j := range ops {
			ops[j] = g.nextOp(OpRead, OpAppend)
		}
		txns[i] = Transaction{Ops: ops}
	}
	return txns
}

// Register generates the register workload: NumTransactions transactions of
// exactly one operation each, a get with ReadProbability, otherwise a put
// of the next unique value. Register transactions are single-operation so
// each maps to one point on a per-key linearizability timeline;
// TransactionSize is ignored here and register tasks pin it to 1.
func (g *Generator) Register() []Transaction {
	txns := make([]Transaction, g.cfg.NumTransactions)
	for i := range txns {
		txns[i] = Transaction{Ops: []Op{g.nextOp(OpGet, OpPut)}}
	}
	return txns
}

// nextOp draws one operation. The draw order (read roll, then key, then
// value for writes) is part of the deterministic stream; do not reorder.
func (g *Generator) nextOp(read, write OpKind) Op {
	isRead := g.rng.Float64() < g.cfg.ReadProbability
	key := strconv.Itoa(g.rng.Intn(g.cfg.NumKeys))
	if isRead {
		return Op{Kind: read, Key: key}
	}
	g.next++
	return Op{Kind: write, Key: key, Value: g.next}
}
