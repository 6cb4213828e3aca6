package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/phrazzld/contentq/internal/domain"
	"github.com/phrazzld/contentq/internal/store"
)

// taskCmd groups the operator commands that act on individual tasks.
func (c *cli) taskCmd() *cobra.Command {
	command := &cobra.Command{
		Use:   "task",
		Short: "Create, inspect and manage tasks",
	}
	command.AddCommand(
		c.taskCreateCmd(),
		c.taskStatusCmd(),
		c.taskResultCmd(),
		c.taskListCmd(),
		c.taskCancelCmd(),
		c.taskRetryCmd(),
		c.taskReleaseCmd(),
		c.taskDeleteCmd(),
	)
	return command
}

// withApp runs fn against a freshly wired application.
func (c *cli) withApp(cmd *cobra.Command, fn func(ctx context.Context, app *application) error) error {
	ctx := cmd.Context()
	app, err := c.app(ctx)
	if err != nil {
		return err
	}
	defer app.cleanup()
	return fn(ctx, app)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

type createOutput struct {
	Task   *domain.Task   `json:"task"`
	Result *domain.Result `json:"result,omitempty"`
}

func (c *cli) taskCreateCmd() *cobra.Command {
	var (
		params   domain.CreateTaskParams
		mode     string
		taskType string
	)

	command := &cobra.Command{
		Use:   "create",
		Short: "Create a task; with --mode sync, run it to completion first",
		RunE: func(cmd *cobra.Command, args []string) error {
			params.Mode = domain.TaskMode(mode)
			params.Type = domain.TaskType(taskType)
			return c.withApp(cmd, func(ctx context.Context, app *application) error {
				created, err := app.queue.Create(ctx, params)
				if err != nil {
					return err
				}
				if created.Mode != domain.TaskModeSync {
					return printJSON(cmd.OutOrStdout(), createOutput{Task: created})
				}

				gen, err := app.generator(ctx)
				if err != nil {
					return err
				}
				inline := app.inlineRunner(gen)
				final, err := inline.Run(ctx, created.ID)
				if err != nil {
					return fmt.Errorf("task %s did not finish: %w", created.ID, err)
				}
				out := createOutput{Task: final}
				if result, found, err := app.queue.GetResult(ctx, final.ID); err != nil {
					return err
				} else if found {
					out.Result = result
				}
				return printJSON(cmd.OutOrStdout(), out)
			})
		},
	}

	f := command.Flags()
	f.StringVar(&params.ID, "id", "", "task ID (generated when empty)")
	f.StringVar(&params.Topic, "topic", "", "what the content is about (required)")
	f.StringVar(&params.Requirements, "requirements", "", "free-form brief")
	f.IntVar(&params.Priority, "priority", 0, "higher runs first")
	f.StringVar(&mode, "mode", string(domain.TaskModeAsync), "sync or async")
	f.StringVar(&taskType, "type", string(domain.TaskTypeArticle), "article or social")
	f.IntVar(&params.HardConstraints.MinWords, "min-words", 0, "minimum word count")
	f.IntVar(&params.HardConstraints.MaxWords, "max-words", 0, "maximum word count")
	f.StringSliceVar(&params.HardConstraints.Keywords, "keyword", nil, "keyword the content must use (repeatable)")
	_ = command.MarkFlagRequired("topic")
	return command
}

func (c *cli) taskStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <id>",
		Short: "Show a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(ctx context.Context, app *application) error {
				t, found, err := app.queue.FindByID(ctx, args[0])
				if err != nil {
					return err
				}
				if !found {
					return fmt.Errorf("%w: %s", store.ErrTaskNotFound, args[0])
				}
				return printJSON(cmd.OutOrStdout(), t)
			})
		},
	}
}

func (c *cli) taskResultCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "result <id>",
		Short: "Show the generated content of a completed task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(ctx context.Context, app *application) error {
				result, found, err := app.queue.GetResult(ctx, args[0])
				if err != nil {
					return err
				}
				if !found {
					return fmt.Errorf("%w: %s", store.ErrResultNotFound, args[0])
				}
				return printJSON(cmd.OutOrStdout(), result)
			})
		},
	}
}

func (c *cli) taskListCmd() *cobra.Command {
	var (
		filter   domain.TaskFilter
		status   string
		taskType string
		mode     string
		page     domain.Pagination
	)

	command := &cobra.Command{
		Use:   "list",
		Short: "List tasks, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter.Status = domain.TaskStatus(status)
			filter.Type = domain.TaskType(taskType)
			filter.Mode = domain.TaskMode(mode)
			if filter.Status != "" && !filter.Status.IsValid() {
				return fmt.Errorf("%w: %q", domain.ErrInvalidStatus, status)
			}
			return c.withApp(cmd, func(ctx context.Context, app *application) error {
				result, err := app.queue.List(ctx, filter, page)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), result)
			})
		},
	}

	f := command.Flags()
	f.StringVar(&status, "status", "", "filter by status")
	f.StringVar(&taskType, "type", "", "filter by type")
	f.StringVar(&mode, "mode", "", "filter by mode")
	f.StringVar(&filter.WorkerID, "worker-id", "", "filter by owning worker")
	f.IntVar(&page.Limit, "limit", domain.DefaultPageLimit, "page size")
	f.IntVar(&page.Offset, "offset", 0, "page offset")
	return command
}

func (c *cli) taskCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <id>",
		Short: "Cancel a pending or running task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(ctx context.Context, app *application) error {
				t, ok, err := app.queue.Cancel(ctx, args[0])
				if err != nil {
					return err
				}
				if !ok {
					if t != nil {
						return fmt.Errorf("task %s is already %s", args[0], t.Status)
					}
					return fmt.Errorf("task %s was not cancelled: missing or modified concurrently", args[0])
				}
				return printJSON(cmd.OutOrStdout(), t)
			})
		},
	}
}

func (c *cli) taskRetryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retry <id>",
		Short: "Queue a copy of a failed or cancelled task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(ctx context.Context, app *application) error {
				t, err := app.queue.Retry(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), t)
			})
		},
	}
}

func (c *cli) taskReleaseCmd() *cobra.Command {
	var (
		workerID string
		version  int64
	)

	command := &cobra.Command{
		Use:   "release <id>",
		Short: "Return a running task to pending on behalf of its worker",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(ctx context.Context, app *application) error {
				expected := version
				if expected == 0 {
					current, found, err := app.queue.FindByID(ctx, args[0])
					if err != nil {
						return err
					}
					if !found {
						return fmt.Errorf("%w: %s", store.ErrTaskNotFound, args[0])
					}
					expected = current.Version
				}
				t, ok, err := app.queue.ReleaseWorker(ctx, args[0], workerID, expected)
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("task %s was not released: not running under %s at version %d", args[0], workerID, expected)
				}
				return printJSON(cmd.OutOrStdout(), t)
			})
		},
	}
	command.Flags().StringVar(&workerID, "worker-id", "", "owning worker (required)")
	command.Flags().Int64Var(&version, "version", 0, "expected version (default: current)")
	_ = command.MarkFlagRequired("worker-id")
	return command
}

func (c *cli) taskDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a task with its snapshot and result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(ctx context.Context, app *application) error {
				deleted, err := app.queue.Delete(ctx, args[0])
				if err != nil {
					return err
				}
				if !deleted {
					return fmt.Errorf("%w: %s", store.ErrTaskNotFound, args[0])
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
				return err
			})
		},
	}
}
