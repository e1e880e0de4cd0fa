package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/syui/aigpt/internal/errs"
	"github.com/syui/aigpt/internal/scheduler"
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Inspect and manage scheduled tasks",
	RunE:  runScheduleList,
}

var scheduleListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks with scheduler stats",
	Args:  cobra.NoArgs,
	RunE:  runScheduleList,
}

func runScheduleList(cmd *cobra.Command, args []string) error {
	return withBackend(cmd, func(ctx context.Context, b backend) error {
		tasks, st, err := b.Scheduler(ctx)
		if err != nil {
			return err
		}
		printTasks(cmd.OutOrStdout(), tasks, st)
		return nil
	})
}

var (
	addName    string
	addUser    string
	addAt      string
	addEvery   time.Duration
	addMaxRuns int
)

var scheduleAddCmd = &cobra.Command{
	Use:   "add <kind>",
	Short: "Add a task (" + kindList() + ")",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := scheduler.ParseKind(args[0])
		if err != nil {
			return errs.E(errs.InvalidInput, "schedule add", err)
		}
		opts := scheduler.CreateOptions{
			Kind:     kind,
			Name:     addName,
			UserID:   addUser,
			Interval: addEvery,
			MaxRuns:  addMaxRuns,
		}
		if addAt != "" {
			if opts.At, err = time.Parse(time.RFC3339, addAt); err != nil {
				return errs.E(errs.InvalidInput, "schedule add", fmt.Errorf("--at: %w", err))
			}
		}
		return withBackend(cmd, func(ctx context.Context, b backend) error {
			t, err := b.CreateTask(ctx, opts)
			if err != nil {
				return err
			}
			next := t.NextRun
			fmt.Fprintf(cmd.OutOrStdout(), "Added %s task %s, next run %s\n", t.Kind, t.ID, formatTime(&next))
			return nil
		})
	},
}

func taskToggle(enabled bool) *cobra.Command {
	use, verb := "disable <task_id>", "Disabled"
	if enabled {
		use, verb = "enable <task_id>", "Enabled"
	}
	return &cobra.Command{
		Use:   use,
		Short: verb + " a task (id prefix accepted)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(cmd, func(ctx context.Context, b backend) error {
				id, err := resolveTask(ctx, b, args[0])
				if err != nil {
					return err
				}
				t, err := b.SetTaskEnabled(ctx, id, enabled)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s task %s\n", verb, t.Kind, t.ID)
				return nil
			})
		},
	}
}

var scheduleDeleteCmd = &cobra.Command{
	Use:   "delete <task_id>",
	Short: "Delete a task (id prefix accepted)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withBackend(cmd, func(ctx context.Context, b backend) error {
			id, err := resolveTask(ctx, b, args[0])
			if err != nil {
				return err
			}
			if err := b.DeleteTask(ctx, id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted task %s\n", id)
			return nil
		})
	},
}

var historyLimit int

var scheduleHistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "Show the newest task executions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withBackend(cmd, func(ctx context.Context, b backend) error {
			hist, err := b.History(ctx, historyLimit)
			if err != nil {
				return err
			}
			printHistory(cmd.OutOrStdout(), hist)
			return nil
		})
	},
}

// resolveTask expands a unique id prefix to the full task id.
func resolveTask(ctx context.Context, b backend, prefix string) (string, error) {
	tasks, _, err := b.Scheduler(ctx)
	if err != nil {
		return "", err
	}
	var matches []string
	for _, t := range tasks {
		if t.ID == prefix {
			return t.ID, nil
		}
		if strings.HasPrefix(t.ID, prefix) {
			matches = append(matches, t.ID)
		}
	}
	switch len(matches) {
	case 0:
		return "", errs.Errorf(errs.NotFound, "resolve task", "no task matches %q", prefix)
	case 1:
		return matches[0], nil
	default:
		return "", errs.Errorf(errs.InvalidInput, "resolve task", "%q matches %d tasks", prefix, len(matches))
	}
}

func kindList() string {
	names := make([]string, len(scheduler.Kinds))
	for i, k := range scheduler.Kinds {
		names[i] = string(k)
	}
	return strings.Join(names, ", ")
}

func init() {
	scheduleAddCmd.Flags().StringVar(&addName, "name", "", "Task name (required for custom tasks)")
	scheduleAddCmd.Flags().StringVar(&addUser, "user", "", "Target user (scheduled_transmission)")
	scheduleAddCmd.Flags().StringVar(&addAt, "at", "", "First run as RFC 3339 time (default now)")
	scheduleAddCmd.Flags().DurationVar(&addEvery, "every", 0, "Repeat interval, e.g. 6h (default run once)")
	scheduleAddCmd.Flags().IntVar(&addMaxRuns, "max-runs", 0, "Stop after this many runs (0 = unlimited)")
	scheduleHistoryCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Maximum number of executions")

	scheduleCmd.AddCommand(scheduleListCmd, scheduleAddCmd, taskToggle(true), taskToggle(false), scheduleDeleteCmd, scheduleHistoryCmd)
}
