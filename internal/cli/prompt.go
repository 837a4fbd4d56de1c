package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/apibench/internal/task"
)

// PromptOptions holds flags for the prompt command.
type PromptOptions struct {
	*RootOptions
	Task string
}

// PromptResult carries a task's rendered contract prompt.
type PromptResult struct {
	Task   string `json:"task"`
	Prompt string `json:"prompt"`
}

// NewPromptCommand creates the prompt command.
func NewPromptCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PromptOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "prompt",
		Short: "Print a task's contract prompt",
		Long: `Print the prompt a backend implementer receives for a task.

The prompt is the task's prelude, the rendered endpoint list, and the
postlude, exactly as handed to a service generator.

Example:
  apibench prompt --task list-append
  apibench prompt --task kv --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPrompt(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Task, "task", "", "task name (required)")
	_ = cmd.MarkFlagRequired("task")

	return cmd
}

func runPrompt(opts *PromptOptions, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	t, err := task.New(opts.Task)
	if err != nil {
		_ = formatter.Error(ErrCodeTask, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to set up task", err)
	}

	if formatter.Format == "json" {
		return formatter.Success(&PromptResult{
			Task:   t.Name(),
			Prompt: t.Contract().Prompt(),
		})
	}

	fmt.Fprint(formatter.Writer, t.Contract().Prompt())
	return nil
}
