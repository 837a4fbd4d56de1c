package task

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"

	"github.com/google/uuid"

	"github.com/roach88/apibench/internal/backend"
	"github.com/roach88/apibench/internal/checker"
	"github.com/roach88/apibench/internal/harness"
	"github.com/roach88/apibench/internal/history"
)

// scenario is one named grading unit.
type scenario struct {
	name string
	// fatal marks the minimal correctness probe. Its failure aborts
	// grading: a backend that cannot serve sequential requests has no
	// meaningful concurrency behavior left to measure.
	fatal bool
	run   func(ctx context.Context, b backend.Backend) (float64, error)
}

// runScenarios executes scenarios in order and assembles the scores.
// Scenario errors abort grading; scores of 0.0 do not.
func runScenarios(ctx context.Context, b backend.Backend, scenarios []scenario, logger *slog.Logger) (Scores, error) {
	scores := make(Scores, len(scenarios))
	for _, sc := range scenarios {
		logger.Info("scenario started", "scenario", sc.name)
		score, err := sc.run(ctx, b)
		if err != nil {
			if sc.fatal {
				return nil, fmt.Errorf("probe %s failed: %w", sc.name, err)
			}
			return nil, fmt.Errorf("scenario %s: %w", sc.name, err)
		}
		scores[sc.name] = score
		logger.Info("scenario finished", "scenario", sc.name, "score", score)
	}
	return scores, nil
}

// run is one grading run's identity and artifact location.
type run struct {
	id   string
	root string
}

// newRun allocates a run id and its artifacts directory. With no
// configured root the run lands under the system temp directory.
func newRun(o *options, taskName string) (*run, error) {
	id := uuid.Must(uuid.NewV7()).String()
	root := o.artifactsDir
	if root == "" {
		root = filepath.Join(os.TempDir(), "apibench")
	}
	dir := filepath.Join(root, taskName+"-"+id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create artifacts dir: %w", err)
	}
	return &run{id: id, root: dir}, nil
}

// scenarioDir returns the artifacts directory for one scenario. The
// checkers create it on use.
func (r *run) scenarioDir(name string) string {
	return filepath.Join(r.root, name)
}

// probeStep is one sequential request with its exact expected response.
type probeStep struct {
	op   string
	body any
	want any
}

// runProbe issues steps one at a time and compares responses exactly.
// Responses are JSON-shaped by the backend adapter, so expectations are
// written in decoded JSON types (float64 numbers, nil for null).
func runProbe(ctx context.Context, b backend.Backend, contract *Contract, steps []probeStep) error {
	for i, step := range steps {
		got, err := b.CallAPI(ctx, contract, step.op, step.body)
		if err != nil {
			return fmt.Errorf("step %d (%s): %w", i+1, step.op, err)
		}
		if !reflect.DeepEqual(got, step.want) {
			return fmt.Errorf("step %d (%s): response mismatch: got %v, want %v", i+1, step.op, got, step.want)
		}
	}
	return nil
}

// runConsistency drives the workload through the harness and maps the
// outcome to a score.
//
// An incomplete run means the backend could not finish the workload: the
// partial history is archived for post-mortem and the scenario scores
// 0.0. A partial history is never handed to a checker as if it were
// complete. On a complete run the checker's verdict decides the score;
// a checker failure is an infrastructure error, not a score.
func runConsistency(ctx context.Context, b backend.Backend, contract *Contract, calls []harness.Call, concurrency int, chk checker.Checker, artifactsDir string, logger *slog.Logger) (float64, error) {
	res := harness.Run(ctx, b, contract, calls, concurrency, harness.WithLogger(logger))
	if !res.Complete {
		logger.Warn("run incomplete",
			"failed", res.Failed,
			"skipped", res.Skipped,
			"error", res.Err)
		if err := os.MkdirAll(artifactsDir, 0o755); err != nil {
			return 0, fmt.Errorf("create artifacts dir: %w", err)
		}
		partial := filepath.Join(artifactsDir, "history.partial.json")
		if err := history.WriteFile(partial, res.Events); err != nil {
			return 0, fmt.Errorf("archive partial history: %w", err)
		}
		logger.Info("partial history archived", "path", partial, "events", len(res.Events))
		return 0, nil
	}

	verdict, err := chk.Check(ctx, res.Events, artifactsDir)
	if err != nil {
		return 0, fmt.Errorf("checker %s: %w", chk.Name(), err)
	}
	logger.Info("verdict",
		"checker", chk.Name(),
		"verdict", verdict.String(),
		"events", len(res.Events))
	if verdict == checker.Consistent {
		return 1, nil
	}
	return 0, nil
}
