package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Joseda-hg/tasksync/internal/edit"
	"github.com/Joseda-hg/tasksync/internal/filter"
	"github.com/Joseda-hg/tasksync/internal/model"
	"github.com/Joseda-hg/tasksync/internal/tasks"
)

func newListCmd(app *App) *cobra.Command {
	var (
		overdue    bool
		urgency    string
		complexity string
		page       int
		asJSON     bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks from the server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			criteria, err := buildCriteria(overdue, urgency, complexity, page)
			if err != nil {
				return writeErr(cmd, err)
			}
			e, err := openEngine(cmd.Context(), app)
			if err != nil {
				return writeErr(cmd, err)
			}
			defer e.Close()
			if err := e.requireSession(); err != nil {
				return writeErr(cmd, err)
			}

			if err := fetch(cmd.Context(), e, criteria); err != nil {
				return writeErr(cmd, err)
			}
			state := e.store.State()
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), map[string]any{
					"filter": criteria,
					"tasks":  state.Tasks,
					"page":   state.Page,
				})
			}
			return writeTaskTable(cmd.OutOrStdout(), criteria, state)
		},
	}
	cmd.Flags().BoolVar(&overdue, "overdue", false, "Only overdue tasks")
	cmd.Flags().StringVar(&urgency, "urgency", "", "Only tasks with this urgency (Low|Medium|High)")
	cmd.Flags().StringVar(&complexity, "complexity", "", "Only tasks with this complexity (Low|Medium|High)")
	cmd.Flags().IntVar(&page, "page", 0, "Result page (1-based)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON instead of a table")
	return cmd
}

type taskFlags struct {
	title       string
	description string
	urgency     string
	complexity  string
	due         string
}

func (f *taskFlags) bind(cmd *cobra.Command, defaults edit.Fields) {
	cmd.Flags().StringVar(&f.title, "title", defaults.Title, "Task title")
	cmd.Flags().StringVar(&f.description, "description", defaults.Description, "Task description")
	cmd.Flags().StringVar(&f.urgency, "urgency", string(defaults.Priority), "Urgency (Low|Medium|High)")
	cmd.Flags().StringVar(&f.complexity, "complexity", string(defaults.Complexity), "Complexity (Low|Medium|High)")
	cmd.Flags().StringVar(&f.due, "due", defaults.DueDate, "Due date (YYYY-MM-DD, empty for none)")
}

// apply overlays the flags the user actually set onto fields.
func (f *taskFlags) apply(cmd *cobra.Command, fields edit.Fields) edit.Fields {
	changed := cmd.Flags().Changed
	if changed("title") {
		fields.Title = f.title
	}
	if changed("description") {
		fields.Description = f.description
	}
	if changed("urgency") {
		fields.Priority = normalizeLevel(f.urgency)
	}
	if changed("complexity") {
		fields.Complexity = normalizeLevel(f.complexity)
	}
	if changed("due") {
		fields.DueDate = f.due
	}
	return fields
}

func newAddCmd(app *App) *cobra.Command {
	var flags taskFlags
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create a task",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEngine(cmd.Context(), app)
			if err != nil {
				return writeErr(cmd, err)
			}
			defer e.Close()
			if err := e.requireSession(); err != nil {
				return writeErr(cmd, err)
			}

			form := edit.New(e.coord)
			form.BeginCreate()
			form.SetFields(flags.apply(cmd, form.Fields()))
			if err := form.Submit(cmd.Context()); err != nil {
				return writeErr(cmd, submitError(err))
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Task created")
			return nil
		},
	}
	flags.bind(cmd, edit.DefaultFields())
	return cmd
}

func newEditCmd(app *App) *cobra.Command {
	var flags taskFlags
	cmd := &cobra.Command{
		Use:   "edit <id>",
		Short: "Update a task; only the given flags change",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseTaskID(args[0])
			if err != nil {
				return writeErr(cmd, err)
			}
			e, err := openEngine(cmd.Context(), app)
			if err != nil {
				return writeErr(cmd, err)
			}
			defer e.Close()
			if err := e.requireSession(); err != nil {
				return writeErr(cmd, err)
			}

			task, err := e.coord.Task(cmd.Context(), id)
			if err != nil {
				return writeErr(cmd, err)
			}
			form := edit.New(e.coord)
			form.Begin(task)
			form.SetFields(flags.apply(cmd, form.Fields()))
			if err := form.Submit(cmd.Context()); err != nil {
				return writeErr(cmd, submitError(err))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Task %d updated\n", id)
			return nil
		},
	}
	flags.bind(cmd, edit.Fields{})
	return cmd
}

func newDeleteCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseTaskID(args[0])
			if err != nil {
				return writeErr(cmd, err)
			}
			e, err := openEngine(cmd.Context(), app)
			if err != nil {
				return writeErr(cmd, err)
			}
			defer e.Close()
			if err := e.requireSession(); err != nil {
				return writeErr(cmd, err)
			}

			if err := e.coord.DeleteTask(cmd.Context(), id); err != nil {
				return writeErr(cmd, mutationError(e, err))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Task %d deleted\n", id)
			return nil
		},
	}
}

func newDoneCmd(app *App) *cobra.Command {
	var undo bool
	cmd := &cobra.Command{
		Use:   "done <id>",
		Short: "Mark a task completed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseTaskID(args[0])
			if err != nil {
				return writeErr(cmd, err)
			}
			e, err := openEngine(cmd.Context(), app)
			if err != nil {
				return writeErr(cmd, err)
			}
			defer e.Close()
			if err := e.requireSession(); err != nil {
				return writeErr(cmd, err)
			}

			task, err := e.coord.Task(cmd.Context(), id)
			if err != nil {
				return writeErr(cmd, err)
			}
			if task.Completed == !undo {
				fmt.Fprintf(cmd.OutOrStdout(), "Task %d unchanged\n", id)
				return nil
			}
			if err := e.coord.SetCompleted(cmd.Context(), task, !undo); err != nil {
				return writeErr(cmd, mutationError(e, err))
			}
			if undo {
				fmt.Fprintf(cmd.OutOrStdout(), "Task %d reopened\n", id)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "Task %d completed\n", id)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&undo, "undo", false, "Mark the task not completed instead")
	return cmd
}

func buildCriteria(overdue bool, urgency, complexity string, page int) (model.Criteria, error) {
	priority, err := model.ParseLevel(urgency)
	if err != nil {
		return model.Criteria{}, fmt.Errorf("urgency: %w", err)
	}
	level, err := model.ParseLevel(complexity)
	if err != nil {
		return model.Criteria{}, fmt.Errorf("complexity: %w", err)
	}
	criteria := model.Criteria{Overdue: overdue, Priority: priority, Complexity: level, Page: page}
	return criteria, criteria.Validate()
}

// fetch applies criteria and turns a failed refresh into an error.
func fetch(ctx context.Context, e *engine, criteria model.Criteria) error {
	if err := e.coord.SubmitFilter(ctx, criteria); err != nil {
		if state := e.store.State(); state.Err != "" {
			return fmt.Errorf("%s: %w", state.Err, err)
		}
		return err
	}
	return nil
}

func submitError(err error) error {
	if edit.IsValidation(err) {
		return err
	}
	return fmt.Errorf("%s: %w", edit.MsgSaveFailed, err)
}

func mutationError(e *engine, err error) error {
	if message := e.store.State().MutationErr; message != "" {
		return fmt.Errorf("%s: %w", message, err)
	}
	return err
}

func parseTaskID(value string) (int64, error) {
	id, err := strconv.ParseInt(value, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid task id %q", value)
	}
	return id, nil
}

// normalizeLevel keeps unknown input as typed so validation can reject it.
func normalizeLevel(value string) model.Level {
	level, err := model.ParseLevel(value)
	if err != nil {
		return model.Level(value)
	}
	return level
}

func writeTaskTable(out io.Writer, criteria model.Criteria, state tasks.State) error {
	if len(state.Tasks) == 0 {
		_, err := fmt.Fprintf(out, "No tasks found (filter: %s)\n", filter.Describe(criteria))
		return err
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTITLE\tURGENCY\tCOMPLEXITY\tDUE\tDONE\tOVERDUE")
	for _, task := range state.Tasks {
		due := task.DueDate
		if due == "" {
			due = "-"
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			task.ID, task.Title, task.Priority, task.Complexity, due, yesNo(task.Completed), yesNo(task.IsOverdue))
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if state.Page.TotalPages > 1 {
		_, err := fmt.Fprintf(out, "page %d of %d\n", max(state.Page.CurrentPage, 1), state.Page.TotalPages)
		return err
	}
	return nil
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
