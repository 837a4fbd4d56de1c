package checker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/roach88/apibench/internal/history"
)

// Models understood by the external checker.
const (
	// ModelListAppend checks multi-operation list transactions.
	ModelListAppend = "list-append"
	// ModelRWRegister checks single-operation register transactions.
	ModelRWRegister = "rw-register"
)

// Elle invokes an external transactional consistency checker as a
// subprocess:
//
//	<binary> --model <model> --format json --directory <artifactsDir> <history.json>
//
// The exit status is the verdict: 0 means consistent, 1 means a violation
// was found. Any other status, and any failure to run the process at all,
// is an infrastructure error. The checker writes its anomaly artifacts
// into the directory it is given.
type Elle struct {
	binary string
	model  string
}

// NewElle creates a checker that runs binary with the given model.
func NewElle(binary, model string) (*Elle, error) {
	if binary == "" {
		return nil, fmt.Errorf("checker binary must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("checker model must not be empty")
	}
	return &Elle{binary: binary, model: model}, nil
}

// Name identifies the checker in logs and reports.
func (e *Elle) Name() string {
	return "elle:" + e.model
}

// Check serializes events into artifactsDir and runs the checker process.
func (e *Elle) Check(ctx context.Context, events []history.Event, artifactsDir string) (Verdict, error) {
	if err := os.MkdirAll(artifactsDir, 0o755); err != nil {
		return 0, fmt.Errorf("create artifacts dir: %w", err)
	}
	historyPath := filepath.Join(artifactsDir, "history.json")
	if err := history.WriteFile(historyPath, events); err != nil {
		return 0, err
	}

	cmd := exec.CommandContext(ctx, e.binary,
		"--model", e.model,
		"--format", "json",
		"--directory", artifactsDir,
		historyPath)
	output, err := cmd.CombinedOutput()

	slog.Debug("checker finished",
		"checker", e.Name(),
		"events", len(events),
		"err", err)

	if err == nil {
		return Consistent, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
		return Inconsistent, nil
	}
	// Startup failure, signal, or an exit status outside the verdict
	// protocol. The run cannot be judged.
	return 0, fmt.Errorf("checker %s: %w (output: %s)", e.binary, err, outputSnippet(output))
}

func outputSnippet(output []byte) string {
	s := strings.TrimSpace(string(output))
	if s == "" {
		return "<none>"
	}
	if len(s) > 512 {
		s = s[:512] + "..."
	}
	return s
}
