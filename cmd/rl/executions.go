package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path"
	"path/filepath"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"routinely/internal/app"
	"routinely/internal/domain"
	"routinely/internal/engine"
	"routinely/internal/repo"
)

func execCmd() *cobra.Command {
	ex := &cobra.Command{
		Use:   "exec",
		Short: "Run routines",
		Long: `Executions belong to the routine and the acting person (--actor-id).
open resumes the open execution or starts a new one; pause, resume and finish act on it.`,
	}
	ex.AddCommand(execOpenCmd())
	ex.AddCommand(execTransitionCmd("pause", "Pause the running execution", func(ctx context.Context, e engine.Engine, routineID string) (domain.Execution, error) {
		return e.Pause(ctx, routineID, actorID())
	}))
	ex.AddCommand(execTransitionCmd("resume", "Resume the paused execution", func(ctx context.Context, e engine.Engine, routineID string) (domain.Execution, error) {
		return e.Resume(ctx, routineID, actorID())
	}))
	ex.AddCommand(execFinishCmd())
	ex.AddCommand(execShowCmd())
	ex.AddCommand(execListCmd())
	ex.AddCommand(execWatchCmd())
	return ex
}

func execOpenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "open <routine-id>",
		Short: "Open (or start) your execution of a routine",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				exec, created, err := a.Engine.OpenExecution(ctx, args[0], actorID())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"execution": engine.View(exec, a.Engine.CurrentTime()), "created": created})
				}
				verb := "Resumed view of"
				if created {
					verb = "Started"
				}
				fmt.Printf("%s execution %s\n", verb, exec.ID)
				return printExecution(a.Engine, exec)
			})
		},
	}
}

func execTransitionCmd(use, short string, fn func(context.Context, engine.Engine, string) (domain.Execution, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <routine-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				exec, err := fn(ctx, a.Engine, args[0])
				if err != nil {
					return err
				}
				return printExecution(a.Engine, exec)
			})
		},
	}
}

func execFinishCmd() *cobra.Command {
	var notes string
	cmd := &cobra.Command{
		Use:   "finish <routine-id>",
		Short: "Finish your execution of a routine",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				exec, err := a.Engine.Finish(ctx, args[0], actorID(), notes)
				if err != nil {
					return err
				}
				return printExecution(a.Engine, exec)
			})
		},
	}
	cmd.Flags().StringVar(&notes, "notes", "", "closing notes")
	return cmd
}

func execShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <execution-id>",
		Short: "Show an execution",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				exec, err := a.Engine.GetExecution(ctx, args[0])
				if err != nil {
					return err
				}
				return printExecution(a.Engine, exec)
			})
		},
	}
}

func execListCmd() *cobra.Command {
	var f repo.ExecutionFilter
	cmd := &cobra.Command{
		Use:   "list <routine-id>",
		Short: "List executions of a routine",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f.RoutineID = args[0]
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				execs, err := a.Engine.ListExecutions(ctx, f)
				if err != nil {
					return err
				}
				now := a.Engine.CurrentTime()
				if viper.GetBool("json") {
					views := make([]engine.ExecutionView, 0, len(execs))
					for _, ex := range execs {
						views = append(views, engine.View(ex, now))
					}
					return printJSON(views)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Executor", "State", "Started", "Elapsed"})
				for _, ex := range execs {
					tw.AppendRow(table.Row{ex.ID, ex.ExecutorID, ex.State(), ex.StartedAt.Local().Format(time.DateTime), formatElapsed(engine.Elapsed(ex, now))})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.ExecutorID, "executor", "", "executor filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 20, "max executions")
	return cmd
}

func execWatchCmd() *cobra.Command {
	var poll time.Duration
	cmd := &cobra.Command{
		Use:   "watch <routine-id>",
		Short: "Show a live elapsed timer for your execution",
		Long:  "The timer ticks while the execution runs, freezes while paused and exits once it is finished or on Ctrl-C.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return withAppNoTimeout(ctx, func(ctx context.Context, a *app.App) error {
				exec, err := a.Engine.CurrentExecution(ctx, args[0], actorID())
				if err != nil {
					return err
				}
				ticker := &engine.ElapsedTicker{Interval: a.Config.Execution.TickInterval.Duration, Now: a.Engine.CurrentTime}
				defer ticker.Stop()
				show := func(ex domain.Execution) func(time.Duration) {
					return func(d time.Duration) {
						fmt.Printf("\r%s  %-8s %s ", ex.ID, ex.State(), formatElapsed(d))
					}
				}
				refresh := func(ex domain.Execution) {
					if !ticker.Sync(ctx, ex, show(ex)) {
						show(ex)(engine.Elapsed(ex, a.Engine.CurrentTime()))
					}
				}
				refresh(exec)

				if poll <= 0 {
					poll = 2 * time.Second
				}
				t := time.NewTicker(poll)
				defer t.Stop()
				for exec.State() != domain.StateFinished {
					select {
					case <-ctx.Done():
						fmt.Println()
						return nil
					case <-t.C:
						latest, err := a.Engine.GetExecution(ctx, exec.ID)
						if err != nil {
							return err
						}
						if latest.State() != exec.State() {
							exec = latest
							refresh(exec)
						}
					}
				}
				fmt.Println()
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&poll, "poll", 2*time.Second, "how often to check for state changes")
	return cmd
}

func printExecution(e engine.Engine, exec domain.Execution) error {
	v := engine.View(exec, e.CurrentTime())
	if viper.GetBool("json") {
		return printJSON(v)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendRows([]table.Row{
		{"ID", exec.ID},
		{"Routine", exec.RoutineID},
		{"Executor", exec.ExecutorID},
		{"State", v.State},
		{"Started", exec.StartedAt.Local().Format(time.DateTime)},
		{"Paused", ptrString(exec.PausedAt)},
		{"Finished", ptrString(exec.FinishedAt)},
		{"Elapsed", formatElapsed(time.Duration(v.ElapsedSeconds) * time.Second)},
	})
	if exec.Notes != "" {
		tw.AppendRow(table.Row{"Notes", exec.Notes})
	}
	tw.Render()
	return nil
}

func checklistCmd() *cobra.Command {
	cl := &cobra.Command{Use: "checklist", Short: "Work with checklists"}
	cl.AddCommand(&cobra.Command{
		Use:   "list <execution-id>",
		Short: "Show an execution's checklist",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				entries, err := a.Engine.Checklist(ctx, args[0])
				if err != nil {
					return err
				}
				return printChecklist(entries)
			})
		},
	})
	cl.AddCommand(&cobra.Command{
		Use:   "toggle <execution-id> <item-id>",
		Short: "Tick or untick a checklist item",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				done, err := a.Engine.ToggleItem(ctx, args[0], args[1], actorID())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"item_id": args[1], "done": done})
				}
				state := "open"
				if done {
					state = "done"
				}
				fmt.Printf("Item %s is %s\n", args[1], state)
				return nil
			})
		},
	})
	var items []string
	add := &cobra.Command{
		Use:   "add <routine-id>",
		Short: "Append items to a routine's checklist",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				added, err := a.Engine.AddChecklistItems(ctx, args[0], items, actorID())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(added)
				}
				for _, it := range added {
					fmt.Printf("Added %d. %s [%s]\n", it.Position, it.Text, it.ID)
				}
				return nil
			})
		},
	}
	add.Flags().StringArrayVar(&items, "item", nil, "checklist item (repeatable)")
	_ = add.MarkFlagRequired("item")
	cl.AddCommand(add)
	return cl
}

func printChecklist(entries []domain.ChecklistEntry) error {
	if viper.GetBool("json") {
		return printJSON(entries)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"#", "Done", "Item", "ID"})
	for _, en := range entries {
		mark := "[ ]"
		if en.Done {
			mark = "[x]"
		}
		tw.AppendRow(table.Row{en.Position, mark, en.Text, en.ItemID})
	}
	tw.Render()
	return nil
}

func attachCmd() *cobra.Command {
	at := &cobra.Command{Use: "attach", Short: "Record evidence for executions"}
	var file, link, name string
	add := &cobra.Command{
		Use:   "add <execution-id>",
		Short: "Upload a file or record a link",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if (file == "") == (link == "") {
				return fmt.Errorf("exactly one of --file or --url is required")
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				var (
					att domain.Attachment
					err error
				)
				if file != "" {
					data, rerr := os.ReadFile(file)
					if rerr != nil {
						return rerr
					}
					if name == "" {
						name = filepath.Base(file)
					}
					att, err = a.Engine.UploadAttachment(ctx, args[0], name, data, actorID())
				} else {
					if name == "" {
						name = path.Base(link)
					}
					att, err = a.Engine.RecordAttachment(ctx, args[0], name, link, actorID())
				}
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(att)
				}
				fmt.Printf("Attached %s (%s)\n", att.Filename, att.URL)
				return nil
			})
		},
	}
	add.Flags().StringVar(&file, "file", "", "file to upload")
	add.Flags().StringVar(&link, "url", "", "link to existing evidence")
	add.Flags().StringVar(&name, "name", "", "display filename")
	at.AddCommand(add)
	at.AddCommand(&cobra.Command{
		Use:   "list <execution-id>",
		Short: "List attachments, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				atts, err := a.Engine.Attachments(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(atts)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Filename", "URL", "Created"})
				for _, att := range atts {
					tw.AppendRow(table.Row{att.ID, att.Filename, att.URL, att.CreatedAt.Local().Format(time.DateTime)})
				}
				tw.Render()
				return nil
			})
		},
	})
	return at
}
