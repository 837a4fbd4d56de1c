package cli

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkloadDeterministic(t *testing.T) {
	run := func() string {
		buf := &bytes.Buffer{}
		rootOpts := &RootOptions{Format: "text"}
		cmd := NewWorkloadCommand(rootOpts)
		cmd.SetOut(buf)
		cmd.SetArgs([]string{"--task", "list-append", "--seed", "42"})
		require.NoError(t, cmd.Execute())
		return buf.String()
	}

	first := run()
	second := run()
	assert.Equal(t, first, second, "same task and seed must dump the same workload")
	assert.Contains(t, first, "task: list-append")
	assert.Contains(t, first, "seed: 42")
}

func TestWorkloadJSON(t *testing.T) {
	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "json"}
	cmd := NewWorkloadCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--task", "kv", "--seed", "7"})

	require.NoError(t, cmd.Execute())

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)

	data, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	var dump WorkloadDump
	require.NoError(t, json.Unmarshal(data, &dump))

	assert.Equal(t, "kv", dump.Task)
	assert.Equal(t, int64(7), dump.Seed)
	assert.Len(t, dump.Transactions, dump.Config.NumTransactions)
	for _, txn := range dump.Transactions {
		assert.Len(t, txn, 1, "register transactions are single-operation")
	}
}

func TestWorkloadUnknownTask(t *testing.T) {
	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewWorkloadCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--task", "mystery", "--seed", "1"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, buf.String(), `unknown task "mystery"`)
}
