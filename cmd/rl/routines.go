package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"routinely/internal/app"
	"routinely/internal/domain"
	"routinely/internal/engine"
	"routinely/internal/repo"
	"routinely/internal/schedule"
)

func routineCmd() *cobra.Command {
	rt := &cobra.Command{Use: "routine", Short: "Manage routines"}
	rt.AddCommand(routineCreateCmd())
	rt.AddCommand(routineListCmd())
	rt.AddCommand(routineShowCmd())
	rt.AddCommand(routineDueCmd())
	rt.AddCommand(routineAgendaCmd())
	rt.AddCommand(routineConflictCmd())
	return rt
}

func routineCreateCmd() *cobra.Command {
	var opts engine.RoutineCreateOptions
	var kind, every, weekday, date string
	var day int
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a routine",
		Example: `  rl routine create --title "Open store" --every daily --start-time 08:00 --duration 30
  rl routine create --title "Inventory" --every weekly --weekday friday --duration 120 --item "Count shelves" --item "Report gaps"
  rl routine create --title "Audit" --every oneoff --date 2024-03-01 --duration 60 --kind adhoc`,
		RunE: func(cmd *cobra.Command, args []string) error {
			rec, err := parseRecurrence(every, weekday, day, date)
			if err != nil {
				return err
			}
			opts.Recurrence = rec
			opts.Kind = domain.RoutineKind(kind)
			opts.CreatorID = actorID()
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				res, err := a.Engine.CreateRoutine(ctx, opts)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					out := map[string]any{"routine": res.Routine, "checklist": res.Checklist}
					if res.Degraded() {
						out["checklist_error"] = res.ChecklistErr.Error()
					}
					return printJSON(out)
				}
				fmt.Printf("Created routine %s (%s)\n", res.Routine.ID, res.Routine.Title)
				if res.Degraded() {
					fmt.Fprintf(os.Stderr, "warning: routine saved without its checklist: %v\n", res.ChecklistErr)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "routine id (generated when empty)")
	cmd.Flags().StringVar(&opts.Title, "title", "", "routine title")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	cmd.Flags().StringVar(&kind, "kind", "normal", "normal or adhoc")
	cmd.Flags().StringVar(&every, "every", "daily", "recurrence: daily, weekly, monthly or oneoff")
	cmd.Flags().StringVar(&weekday, "weekday", "", "weekday for weekly routines (name or 0-6, 0=sunday)")
	cmd.Flags().IntVar(&day, "day", 0, "day of month for monthly routines (defaults to the start date's day)")
	cmd.Flags().StringVar(&date, "date", "", "date for one-off routines (YYYY-MM-DD)")
	cmd.Flags().StringVar(&opts.StartDate, "start-date", "", "first date the routine applies (YYYY-MM-DD, default today)")
	cmd.Flags().StringVar(&opts.StartTime, "start-time", "", "time of day (HH:MM)")
	cmd.Flags().IntVar(&opts.DurationMinutes, "duration", 0, "duration in minutes")
	cmd.Flags().StringVar(&opts.Priority, "priority", "", "low, medium or high (default from config)")
	cmd.Flags().BoolVar(&opts.ChecklistEnabled, "checklist", false, "enable the checklist without items")
	cmd.Flags().StringArrayVar(&opts.Checklist, "item", nil, "checklist item (repeatable)")
	cmd.Flags().BoolVar(&opts.AttachmentRequired, "attachment-required", false, "executions must carry evidence")
	cmd.Flags().StringVar(&opts.ResponsibleID, "responsible", "", "responsible person (defaults to --actor-id)")
	cmd.Flags().StringVar(&opts.DepartmentID, "department", "", "department id")
	cmd.Flags().StringVar(&opts.SectorID, "sector", "", "sector id")
	cmd.Flags().StringVar(&opts.RegionID, "region", "", "region id")
	_ = cmd.MarkFlagRequired("title")
	_ = cmd.MarkFlagRequired("duration")
	return cmd
}

func routineListCmd() *cobra.Command {
	var f repo.RoutineFilter
	var every, kind string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List routines",
		RunE: func(cmd *cobra.Command, args []string) error {
			f.RecurrenceKind = domain.RecurrenceKind(every)
			f.Kind = domain.RoutineKind(kind)
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				rts, err := a.Engine.ListRoutines(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(rts)
				}
				renderRoutines(rts)
				return nil
			})
		},
	}
	bindRoutineFilter(cmd, &f)
	cmd.Flags().StringVar(&every, "every", "", "recurrence filter")
	cmd.Flags().StringVar(&kind, "kind", "", "kind filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 0, "max routines")
	return cmd
}

func routineShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <routine-id>",
		Short: "Show a routine and its checklist",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				rt, err := a.Engine.GetRoutine(ctx, args[0])
				if err != nil {
					return err
				}
				items, err := a.Engine.ChecklistTemplate(ctx, rt.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"routine": rt, "checklist": items})
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendRows([]table.Row{
					{"ID", rt.ID},
					{"Title", rt.Title},
					{"Kind", rt.Kind},
					{"Recurrence", describeRecurrence(rt.Recurrence)},
					{"Start", strings.TrimSpace(rt.StartDate + " " + rt.StartTime)},
					{"Duration", fmt.Sprintf("%d min", rt.DurationMinutes)},
					{"Priority", rt.Priority},
					{"Responsible", rt.ResponsibleID},
					{"Creator", rt.CreatorID},
					{"Attachment required", rt.AttachmentRequired},
				})
				tw.Render()
				for _, it := range items {
					fmt.Printf("  %d. %s [%s]\n", it.Position, it.Text, it.ID)
				}
				return nil
			})
		},
	}
	return cmd
}

func routineDueCmd() *cobra.Command {
	var f repo.RoutineFilter
	var date string
	cmd := &cobra.Command{
		Use:   "due",
		Short: "List routines due on a date",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				day := a.Engine.Today()
				if date != "" {
					parsed, err := schedule.ParseDate(date)
					if err != nil {
						return fmt.Errorf("invalid --date %q: %w", date, err)
					}
					day = parsed
				}
				rts, err := a.Engine.DueRoutines(ctx, day, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"date": schedule.FormatDate(day), "items": rts})
				}
				fmt.Printf("Due on %s\n", schedule.FormatDate(day))
				renderRoutines(rts)
				return nil
			})
		},
	}
	bindRoutineFilter(cmd, &f)
	cmd.Flags().StringVar(&date, "date", "", "date (YYYY-MM-DD, default today)")
	return cmd
}

func routineAgendaCmd() *cobra.Command {
	var from, to string
	var days int
	cmd := &cobra.Command{
		Use:   "agenda <routine-id>",
		Short: "List the dates a routine is due",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				start := a.Engine.Today()
				if from != "" {
					parsed, err := schedule.ParseDate(from)
					if err != nil {
						return fmt.Errorf("invalid --from %q: %w", from, err)
					}
					start = parsed
				}
				end := start.AddDate(0, 0, days)
				if to != "" {
					parsed, err := schedule.ParseDate(to)
					if err != nil {
						return fmt.Errorf("invalid --to %q: %w", to, err)
					}
					end = parsed
				}
				dates, err := a.Engine.Occurrences(ctx, args[0], start, end)
				if err != nil {
					return err
				}
				out := make([]string, 0, len(dates))
				for _, d := range dates {
					out = append(out, schedule.FormatDate(d))
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"routine_id": args[0], "dates": out})
				}
				for i, d := range dates {
					fmt.Printf("%s  %s\n", out[i], d.Weekday())
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "first date (default today)")
	cmd.Flags().StringVar(&to, "to", "", "last date (default from + --days)")
	cmd.Flags().IntVar(&days, "days", 30, "window length when --to is not set")
	return cmd
}

func routineConflictCmd() *cobra.Command {
	var responsible, start string
	var duration int
	cmd := &cobra.Command{
		Use:   "conflicts",
		Short: "Check whether a daily slot is free for a responsible",
		RunE: func(cmd *cobra.Command, args []string) error {
			if responsible == "" {
				responsible = actorID()
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				other, found, err := a.Engine.FindConflict(ctx, responsible, start, duration)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					out := map[string]any{"conflict": found}
					if found {
						out["routine"] = other
					}
					return printJSON(out)
				}
				if !found {
					fmt.Println("No conflict")
					return nil
				}
				fmt.Printf("Conflicts with %s %q at %s for %d min\n", other.ID, other.Title, other.StartTime, other.DurationMinutes)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&responsible, "responsible", "", "responsible person (defaults to --actor-id)")
	cmd.Flags().StringVar(&start, "start-time", "", "time of day (HH:MM)")
	cmd.Flags().IntVar(&duration, "duration", 0, "duration in minutes")
	_ = cmd.MarkFlagRequired("start-time")
	_ = cmd.MarkFlagRequired("duration")
	return cmd
}

func bindRoutineFilter(cmd *cobra.Command, f *repo.RoutineFilter) {
	cmd.Flags().StringVar(&f.ResponsibleID, "responsible", "", "responsible filter")
	cmd.Flags().StringVar(&f.DepartmentID, "department", "", "department filter")
	cmd.Flags().StringVar(&f.SectorID, "sector", "", "sector filter")
	cmd.Flags().StringVar(&f.RegionID, "region", "", "region filter")
}

func renderRoutines(rts []domain.Routine) {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"ID", "Title", "Recurrence", "Start", "Min", "Priority", "Responsible"})
	for _, rt := range rts {
		tw.AppendRow(table.Row{rt.ID, rt.Title, describeRecurrence(rt.Recurrence), rt.StartTime, rt.DurationMinutes, rt.Priority, rt.ResponsibleID})
	}
	tw.Render()
}

func parseRecurrence(every, weekday string, day int, date string) (domain.Recurrence, error) {
	switch domain.RecurrenceKind(strings.ToLower(strings.TrimSpace(every))) {
	case domain.RecurrenceDaily:
		return domain.Daily(), nil
	case domain.RecurrenceWeekly:
		wd, err := parseWeekday(weekday)
		if err != nil {
			return domain.Recurrence{}, err
		}
		return domain.Weekly(wd), nil
	case domain.RecurrenceMonthly:
		if day == 0 {
			return domain.Recurrence{Kind: domain.RecurrenceMonthly}, nil
		}
		return domain.Monthly(day), nil
	case domain.RecurrenceOneOff:
		if date == "" {
			return domain.Recurrence{}, fmt.Errorf("--date is required for one-off routines")
		}
		return domain.OneOff(date), nil
	default:
		return domain.Recurrence{}, fmt.Errorf("unknown recurrence %q (use daily, weekly, monthly or oneoff)", every)
	}
}

func parseWeekday(s string) (time.Weekday, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return 0, fmt.Errorf("--weekday is required for weekly routines")
	}
	if n, err := strconv.Atoi(s); err == nil {
		if n < 0 || n > 6 {
			return 0, fmt.Errorf("weekday must be between 0 and 6")
		}
		return time.Weekday(n), nil
	}
	for d := time.Sunday; d <= time.Saturday; d++ {
		name := strings.ToLower(d.String())
		if s == name || s == name[:3] {
			return d, nil
		}
	}
	return 0, fmt.Errorf("unknown weekday %q", s)
}

func describeRecurrence(r domain.Recurrence) string {
	switch r.Kind {
	case domain.RecurrenceWeekly:
		if r.Weekday != nil {
			return "weekly on " + time.Weekday(*r.Weekday).String()
		}
	case domain.RecurrenceMonthly:
		if r.DayOfMonth != nil {
			return fmt.Sprintf("monthly on day %d", *r.DayOfMonth)
		}
	case domain.RecurrenceOneOff:
		return "once on " + r.Date
	}
	return string(r.Kind)
}
