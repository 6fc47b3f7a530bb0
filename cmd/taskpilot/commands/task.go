package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/calloway/taskpilot/internal/model"
	"github.com/calloway/taskpilot/internal/store"
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Manage tasks",
	Long: `Create tasks and drive their lifecycle by hand.

The start, complete, and fail subcommands are what agent harnesses call
to report progress; they are exposed here for manual operation too.`,
}

var taskAddCmd = &cobra.Command{
	Use:   "add <title>",
	Short: "Create a task",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskAdd,
}

var taskListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks",
	RunE:  runTaskList,
}

var taskStartCmd = &cobra.Command{
	Use:   "start <id>",
	Short: "Mark an assigned task in progress",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, func(st *store.Store) error {
			if err := st.StartTask(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Printf("Task %s is in progress\n", args[0])
			return nil
		})
	},
}

var taskCompleteCmd = &cobra.Command{
	Use:   "complete <id>",
	Short: "Mark a task completed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, func(st *store.Store) error {
			if err := st.CompleteTask(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Printf("Task %s completed\n", args[0])
			return nil
		})
	},
}

var taskFailCmd = &cobra.Command{
	Use:   "fail <id>",
	Short: "Mark a task failed",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskFail,
}

func init() {
	taskAddCmd.Flags().String("type", string(model.TypeMaintenance), "Task type")
	taskAddCmd.Flags().String("priority", string(model.PriorityMedium), "Task priority: low, medium, high, critical")
	taskAddCmd.Flags().String("description", "", "Task description")
	taskAddCmd.Flags().Bool("auto-assign", true, "Eligible for automatic assignment")
	taskAddCmd.Flags().Float64("estimated-hours", 0, "Estimated effort in hours")

	taskListCmd.Flags().String("status", "", "Filter by status")
	taskListCmd.Flags().IntP("limit", "n", 20, "Maximum tasks to list")

	taskFailCmd.Flags().String("message", "", "Failure message")
	taskFailCmd.Flags().String("step", "", "Step that failed")
	taskFailCmd.Flags().String("severity", "error", "Failure severity (fatal disables retry)")

	taskCmd.AddCommand(taskAddCmd)
	taskCmd.AddCommand(taskListCmd)
	taskCmd.AddCommand(taskStartCmd)
	taskCmd.AddCommand(taskCompleteCmd)
	taskCmd.AddCommand(taskFailCmd)
	rootCmd.AddCommand(taskCmd)
}

// withStore opens the store, runs fn, and closes the database.
func withStore(cmd *cobra.Command, fn func(*store.Store) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	database, st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = database.Close() }()
	return fn(st)
}

func runTaskAdd(cmd *cobra.Command, args []string) error {
	return withStore(cmd, func(st *store.Store) error {
		taskType, _ := cmd.Flags().GetString("type")
		priority, _ := cmd.Flags().GetString("priority")
		description, _ := cmd.Flags().GetString("description")
		autoAssign, _ := cmd.Flags().GetBool("auto-assign")
		hours, _ := cmd.Flags().GetFloat64("estimated-hours")

		task := &model.Task{
			Title:          args[0],
			Description:    description,
			Type:           model.TaskType(taskType),
			Priority:       model.Priority(priority),
			AutoAssign:     autoAssign,
			EstimatedHours: hours,
		}
		if err := st.CreateTask(cmd.Context(), task); err != nil {
			return err
		}
		fmt.Printf("Created task %s\n", task.ID)
		return nil
	})
}

func runTaskList(cmd *cobra.Command, args []string) error {
	return withStore(cmd, func(st *store.Store) error {
		filter := store.TaskFilter{}
		if status, _ := cmd.Flags().GetString("status"); status != "" {
			s := model.TaskStatus(status)
			if !s.Valid() {
				return fmt.Errorf("invalid status %q", status)
			}
			filter.Statuses = []model.TaskStatus{s}
		}
		filter.Limit, _ = cmd.Flags().GetInt("limit")

		tasks, err := st.ListTasks(cmd.Context(), filter)
		if err != nil {
			return err
		}
		if len(tasks) == 0 {
			fmt.Println("No tasks found.")
			return nil
		}
		for _, t := range tasks {
			agent := "-"
			if t.Assigned() {
				agent = *t.AgentName
			}
			fmt.Printf("%s  %-11s %-8s %-20s attempts=%d  %s\n",
				t.ID, t.Status, t.Priority, agent, t.Attempts, t.Title)
		}
		return nil
	})
}

func runTaskFail(cmd *cobra.Command, args []string) error {
	return withStore(cmd, func(st *store.Store) error {
		message, _ := cmd.Flags().GetString("message")
		step, _ := cmd.Flags().GetString("step")
		severity, _ := cmd.Flags().GetString("severity")

		details := &model.ErrorDetails{
			Message:  message,
			Step:     step,
			Severity: severity,
		}
		if err := st.FailTask(cmd.Context(), args[0], details); err != nil {
			return err
		}
		fmt.Printf("Task %s failed\n", args[0])
		return nil
	})
}
