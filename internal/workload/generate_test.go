package workload

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultConfig() Config {
	return Config{
		NumKeys:         8,
		NumTransactions: 64,
		TransactionSize: 8,
		Concurrency:     4,
		ReadProbability: 0.25,
	}
}

func TestNewGeneratorRejectsInvalidConfig(t *testing.T) {
	cfg := defaultConfig()
	cfg.NumKeys = 0
	_, err := NewGenerator(cfg, 1)
	require.Error(t, err)
}

func TestGeneratorDeterministic(t *testing.T) {
	const seed = 42

	g1, err := NewGenerator(defaultConfig(), seed)
	require.NoError(t, err)
	g2, err := NewGenerator(defaultConfig(), seed)
	require.NoError(t, err)

	assert.Equal(t, g1.ListAppend(), g2.ListAppend(),
		"same config and seed must produce identical transactions")
}

func TestGeneratorSeedChangesWorkload(t *testing.T) {
	g1, err := NewGenerator(defaultConfig(), 1)
	require.NoError(t, err)
	g2, err := NewGenerator(defaultConfig(), 2)
	require.NoError(t, err)

	assert.NotEqual(t, g1.ListAppend(), g2.ListAppend())
}

func TestListAppendShape(t *testing.T) {
	cfg := defaultConfig()
	g, err := NewGenerator(cfg, 7)
	require.NoError(t, err)

	txns := g.ListAppend()
	require.Len(t, txns, cfg.NumTransactions)

	var appended []int64
	for i, txn := range txns {
		require.Len(t, txn.Ops, cfg.TransactionSize, "transaction %d", i)
		for _, op := range txn.Ops {
			assert.Contains(t, []OpKind{OpRead, OpAppend}, op.Kind)

			key, err := strconv.Atoi(op.Key)
			require.NoError(t, err)
			assert.GreaterOrEqual(t, key, 0)
			assert.Less(t, key, cfg.NumKeys)

			if op.Kind == OpAppend {
				appended = append(appended, op.Value)
			}
		}
	}

	// Appended values are the dense sequence 1..W with no repeats, so any
	// value lost by a backend traces back to exactly one operation.
	seen := make(map[int64]bool)
	var max int64
	for _, v := range appended {
		assert.False(t, seen[v], "value %d appended twice", v)
		seen[v] = true
		if v > max {
			max = v
		}
	}
	assert.Equal(t, int64(len(appended)), max, "values should be dense from 1")
}

func TestListAppendReadProbabilityBounds(t *testing.T) {
	cfg := defaultConfig()
	cfg.ReadProbability = 0
	g, err := NewGenerator(cfg, 3)
	require.NoError(t, err)
	for _, txn := range g.ListAppend() {
		for _, op := range txn.Ops {
			assert.Equal(t, OpAppend, op.Kind, "probability 0 means no reads")
		}
	}

	cfg.ReadProbability = 1
	g, err = NewGenerator(cfg, 3)
	require.NoError(t, err)
	for _, txn := range g.ListAppend() {
		for _, op := range txn.Ops {
			assert.Equal(t, OpRead, op.Kind, "probability 1 means only reads")
		}
	}
}

func TestRegisterSingleOperation(t *testing.T) {
	cfg := defaultConfig()
	g, err := NewGenerator(cfg, 11)
	require.NoError(t, err)

	txns := g.Register()
	require.Len(t, txns, cfg.NumTransactions)

	puts := 0
	for _, txn := range txns {
		require.Len(t, txn.Ops, 1, "register transactions are single-operation")
		op := txn.Ops[0]
		assert.Contains(t, []OpKind{OpGet, OpPut}, op.Kind)
		if op.Kind == OpPut {
			puts++
			assert.Positive(t, op.Value)
		}
	}
	assert.Positive(t, puts, "workload should contain writes")
}

func TestRegisterDeterministic(t *testing.T) {
	g1, err := NewGenerator(defaultConfig(), 99)
	require.NoError(t, err)
	g2, err := NewGenerator(defaultConfig(), 99)
	require.NoError(t, err)

	assert.Equal(t, g1.Register(), g2.Register())
}
