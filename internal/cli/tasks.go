package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/apibench/internal/task"
)

// TaskSummary describes one registered task for listings.
type TaskSummary struct {
	Name      string   `json:"name"`
	Endpoints []string `json:"endpoints"`
}

// NewTasksCommand creates the tasks command.
func NewTasksCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "List registered tasks",
		Long: `List registered tasks and the endpoints their contracts define.

Example:
  apibench tasks
  apibench tasks --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTasks(rootOpts, cmd)
		},
	}

	return cmd
}

func runTasks(opts *RootOptions, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	names := task.Names()
	summaries := make([]TaskSummary, 0, len(names))
	for _, name := range names {
		t, err := task.New(name)
		if err != nil {
			_ = formatter.Error(ErrCodeGeneric, fmt.Sprintf("inspecting task %s: %v", name, err), nil)
			return WrapExitError(ExitFailure, fmt.Sprintf("inspecting task %s", name), err)
		}
		summary := TaskSummary{Name: name}
		for _, d := range t.Contract().APIDescription() {
			summary.Endpoints = append(summary.Endpoints, fmt.Sprintf("%s %s", d.Method(), d.Path()))
		}
		summaries = append(summaries, summary)
	}

	if formatter.Format == "json" {
		return formatter.Success(summaries)
	}

	// Human-readable text output
	for _, s := range summaries {
		fmt.Fprintln(formatter.Writer, s.Name)
		for _, e := range s.Endpoints {
			fmt.Fprintf(formatter.Writer, "  %s\n", e)
		}
	}

	return nil
}
