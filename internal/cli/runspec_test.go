package cli

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/apibench/internal/backend"
	"github.com/roach88/apibench/internal/workload"
)

func writeRunSpec(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "run.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadRunSpec_Full(t *testing.T) {
	path := writeRunSpec(t, `
task: list-append
seed: 42
backend:
  kind: http
  base_url: http://localhost:8080
  request_timeout: 30s
workload:
  num_transactions: 16
  concurrency: 2
checker:
  kind: elle
  binary: /usr/local/bin/elle
  artifacts_dir: ./artifacts
`)

	spec, err := LoadRunSpec(path)
	require.NoError(t, err)

	assert.Equal(t, "list-append", spec.Task)
	require.NotNil(t, spec.Seed)
	assert.Equal(t, int64(42), *spec.Seed)

	assert.Equal(t, BackendHTTP, spec.Backend.Kind)
	assert.Equal(t, "http://localhost:8080", spec.Backend.BaseURL)
	assert.Equal(t, 30*time.Second, spec.Backend.timeout)

	require.NotNil(t, spec.Workload)
	require.NotNil(t, spec.Workload.NumTransactions)
	assert.Equal(t, 16, *spec.Workload.NumTransactions)
	require.NotNil(t, spec.Workload.Concurrency)
	assert.Equal(t, 2, *spec.Workload.Concurrency)
	assert.Nil(t, spec.Workload.NumKeys, "unset fields stay nil so task defaults survive")

	require.NotNil(t, spec.Checker)
	assert.Equal(t, CheckerElle, spec.Checker.Kind)
	assert.Equal(t, "/usr/local/bin/elle", spec.Checker.Binary)
	assert.Equal(t, "./artifacts", spec.Checker.ArtifactsDir)
}

func TestLoadRunSpec_Minimal(t *testing.T) {
	path := writeRunSpec(t, `
task: kv
backend:
  kind: reference
`)

	spec, err := LoadRunSpec(path)
	require.NoError(t, err)

	assert.Equal(t, "kv", spec.Task)
	assert.Nil(t, spec.Seed)
	assert.Nil(t, spec.Workload)
	assert.Nil(t, spec.Checker)
}

func TestLoadRunSpec_UnknownFieldRejected(t *testing.T) {
	path := writeRunSpec(t, `
task: kv
backnd:
  kind: reference
`)

	_, err := LoadRunSpec(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing run spec")
	assert.Contains(t, err.Error(), "backnd")
}

func TestLoadRunSpec_FileMissing(t *testing.T) {
	_, err := LoadRunSpec(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading run spec")
}

func TestLoadRunSpec_ValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "missing task",
			yaml: "backend:\n  kind: reference\n",
			want: "task is required",
		},
		{
			name: "missing backend kind",
			yaml: "task: kv\nbackend:\n  base_url: http://localhost:8080\n",
			want: "backend: kind is required",
		},
		{
			name: "unknown backend kind",
			yaml: "task: kv\nbackend:\n  kind: podman\n",
			want: `unknown kind "podman"`,
		},
		{
			name: "http requires base_url",
			yaml: "task: kv\nbackend:\n  kind: http\n",
			want: "base_url is required",
		},
		{
			name: "unparseable timeout",
			yaml: "task: kv\nbackend:\n  kind: http\n  base_url: http://localhost:8080\n  request_timeout: soon\n",
			want: "request_timeout",
		},
		{
			name: "negative timeout",
			yaml: "task: kv\nbackend:\n  kind: http\n  base_url: http://localhost:8080\n  request_timeout: -5s\n",
			want: "must not be negative",
		},
		{
			name: "reference rejects base_url",
			yaml: "task: kv\nbackend:\n  kind: reference\n  base_url: http://localhost:8080\n",
			want: "base_url is only valid for the http backend",
		},
		{
			name: "reference rejects timeout",
			yaml: "task: kv\nbackend:\n  kind: reference\n  request_timeout: 5s\n",
			want: "request_timeout is only valid for the http backend",
		},
		{
			name: "unknown checker kind",
			yaml: "task: kv\nbackend:\n  kind: reference\nchecker:\n  kind: tla\n",
			want: `unknown kind "tla"`,
		},
		{
			name: "binary requires elle",
			yaml: "task: kv\nbackend:\n  kind: reference\nchecker:\n  kind: porcupine\n  binary: elle\n",
			want: "binary is only valid for the elle checker",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeRunSpec(t, tt.yaml)
			_, err := LoadRunSpec(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "invalid run spec")
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestWorkloadSpecMerge(t *testing.T) {
	base := workload.Config{
		NumKeys:         8,
		NumTransactions: 64,
		TransactionSize: 8,
		Concurrency:     4,
		ReadProbability: 0.25,
	}
	numTxns := 16
	readP := 0.5
	spec := &WorkloadSpec{NumTransactions: &numTxns, ReadProbability: &readP}

	got := spec.merge(base)
	assert.Equal(t, 8, got.NumKeys)
	assert.Equal(t, 16, got.NumTransactions)
	assert.Equal(t, 8, got.TransactionSize)
	assert.Equal(t, 4, got.Concurrency)
	assert.Equal(t, 0.5, got.ReadProbability)
}

func TestBuildBackend(t *testing.T) {
	ref, err := buildBackend(&BackendSpec{Kind: BackendReference})
	require.NoError(t, err)
	assert.IsType(t, &backend.Reference{}, ref)

	h, err := buildBackend(&BackendSpec{Kind: BackendHTTP, BaseURL: "http://localhost:9"})
	require.NoError(t, err)
	assert.IsType(t, &backend.HTTP{}, h)
}

func TestBuildChecker(t *testing.T) {
	elle, err := buildChecker("list-append", &CheckerSpec{Kind: CheckerElle})
	require.NoError(t, err)
	assert.Equal(t, "elle:list-append", elle.Name())

	elleKV, err := buildChecker("kv", &CheckerSpec{Kind: CheckerElle, Binary: "/opt/elle"})
	require.NoError(t, err)
	assert.Equal(t, "elle:rw-register", elleKV.Name())

	porcKV, err := buildChecker("kv", &CheckerSpec{Kind: CheckerPorcupine})
	require.NoError(t, err)
	assert.Equal(t, "porcupine:register", porcKV.Name())

	porcList, err := buildChecker("list-append", &CheckerSpec{Kind: CheckerPorcupine})
	require.NoError(t, err)
	assert.Equal(t, "porcupine:list", porcList.Name())

	_, err = buildChecker("mystery", &CheckerSpec{Kind: CheckerElle})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no elle model")
}

func TestBuildTaskOptions_SeedResolution(t *testing.T) {
	seed := int64(99)
	spec := &RunSpec{Task: "kv", Seed: &seed, Backend: BackendSpec{Kind: BackendReference}}

	_, got, err := buildTaskOptions(spec)
	require.NoError(t, err)
	assert.Equal(t, int64(99), got)

	spec.Seed = nil
	_, got, err = buildTaskOptions(spec)
	require.NoError(t, err)
	assert.NotZero(t, got, "unset seed falls back to the wall clock")
}

func TestBuildTaskOptions_UnknownTaskWorkload(t *testing.T) {
	numKeys := 4
	spec := &RunSpec{
		Task:     "mystery",
		Backend:  BackendSpec{Kind: BackendReference},
		Workload: &WorkloadSpec{NumKeys: &numKeys},
	}

	_, _, err := buildTaskOptions(spec)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown task "mystery"`)
}
