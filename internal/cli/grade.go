package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/apibench/internal/task"
)

// GradeOptions holds flags for the grade command.
type GradeOptions struct {
	*RootOptions
	SpecPath string
}

// GradeResult holds the outcome of a completed grading run.
type GradeResult struct {
	Task   string      `json:"task"`
	Seed   int64       `json:"seed"`
	Scores task.Scores `json:"scores"`
}

// NewGradeCommand creates the grade command.
func NewGradeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &GradeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "grade",
		Short: "Grade a backend service against a task",
		Long: `Grade a backend service against a task's contract and workload.

The run spec names the task, the backend under test, and optionally a
workload shape and checker. Grading runs the task's sequential probes
first, then the concurrent workload, and scores every scenario in [0,1].

The exit code reports whether grading completed, not whether the backend
passed: 0 means scores were produced (even all zero), 1 means grading
could not judge the backend, 2 means the command or run spec was invalid.

Example:
  apibench grade --spec run.yaml
  apibench grade --spec run.yaml --format json --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGrade(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.SpecPath, "spec", "", "path to run spec YAML (required)")
	_ = cmd.MarkFlagRequired("spec")

	return cmd
}

func runGrade(opts *GradeOptions, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Progress logs go to stderr to avoid corrupting JSON
		Verbose:   opts.Verbose,
	}

	setupLogging(opts.Verbose)

	spec, err := LoadRunSpec(opts.SpecPath)
	if err != nil {
		return outputGradeError(formatter, ExitCommandError, ErrCodeSpec, "failed to load run spec", err)
	}

	taskOpts, seed, err := buildTaskOptions(spec)
	if err != nil {
		return outputGradeError(formatter, ExitCommandError, ErrCodeTask, "failed to set up task", err)
	}
	t, err := task.New(spec.Task, taskOpts...)
	if err != nil {
		return outputGradeError(formatter, ExitCommandError, ErrCodeTask, "failed to set up task", err)
	}

	b, err := buildBackend(&spec.Backend)
	if err != nil {
		return outputGradeError(formatter, ExitCommandError, ErrCodeBackend, "failed to set up backend", err)
	}

	// Setup signal handling for graceful shutdown
	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan) // Prevent signal handler leak

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, stopping run", "signal", sig)
			cancel()
		case <-ctx.Done():
			// Parent context cancelled (e.g., from test)
		}
	}()

	slog.Info("backend deploying", "kind", spec.Backend.Kind)
	if err := b.Deploy(ctx); err != nil {
		return outputGradeError(formatter, ExitFailure, ErrCodeGradeAborted, "backend deploy failed", err)
	}
	if err := b.Start(ctx); err != nil {
		return outputGradeError(formatter, ExitFailure, ErrCodeGradeAborted, "backend did not come up", err)
	}
	defer func() {
		if stopErr := b.Stop(); stopErr != nil {
			slog.Error("error stopping backend", "error", stopErr)
		}
	}()
	slog.Info("backend ready", "description", b.Description())

	scores, err := t.Grade(ctx, b)
	if err != nil {
		return outputGradeError(formatter, ExitFailure, ErrCodeGradeAborted, "grading aborted", err)
	}

	return outputGradeSuccess(formatter, &GradeResult{
		Task:   t.Name(),
		Seed:   seed,
		Scores: scores,
	})
}

// outputGradeSuccess prints the scores of a completed run.
func outputGradeSuccess(formatter *OutputFormatter, result *GradeResult) error {
	if formatter.Format == "json" {
		return formatter.Success(result)
	}

	// Human-readable text output
	fmt.Fprintf(formatter.Writer, "✓ Graded %s (seed %d)\n\n", result.Task, result.Seed)

	names := make([]string, 0, len(result.Scores))
	for name := range result.Scores {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(formatter.Writer, "  %s: %.2f\n", name, result.Scores[name])
	}

	return nil
}

// outputGradeError reports a failure in the configured format and wraps
// it with the exit code the failure lane calls for.
func outputGradeError(formatter *OutputFormatter, exitCode int, code, message string, err error) error {
	detail := message
	if err != nil {
		detail = fmt.Sprintf("%s: %v", message, err)
	}
	_ = formatter.Error(code, detail, nil)
	return WrapExitError(exitCode, fmt.Sprintf("%s: %s", code, message), err)
}
