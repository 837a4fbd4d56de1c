package cli

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/apibench/internal/task"
)

func TestPromptText(t *testing.T) {
	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewPromptCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--task", "list-append"})

	require.NoError(t, cmd.Execute())

	output := buf.String()
	assert.Contains(t, output, "- POST /api/append:")
	assert.Contains(t, output, "stores lists of numbers")

	want, err := task.New("list-append")
	require.NoError(t, err)
	assert.Equal(t, want.Contract().Prompt(), output, "text mode prints the prompt verbatim")
}

func TestPromptJSON(t *testing.T) {
	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "json"}
	cmd := NewPromptCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--task", "kv"})

	require.NoError(t, cmd.Execute())

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)

	data, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	var result PromptResult
	require.NoError(t, json.Unmarshal(data, &result))
	assert.Equal(t, "kv", result.Task)
	assert.Contains(t, result.Prompt, "- GET /api/get:")
}

func TestPromptUnknownTask(t *testing.T) {
	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewPromptCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--task", "mystery"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, buf.String(), `unknown task "mystery"`)
}
