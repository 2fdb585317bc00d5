package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"routinely/internal/app"
	"routinely/internal/db"
)

var rootCmd = &cobra.Command{
	Use:   "rl",
	Short: "Routinely CLI",
	Long: `Routinely schedules recurring operational routines and tracks their execution.
Core concepts:
- Routine: a task template with a recurrence (daily, weekly, monthly or one-off), a duration and a responsible person.
- Conflicts: normal daily routines with a start time may not overlap for the same responsible.
- Due: 'rl routine due' lists what has to happen on a date; 'rl routine agenda' lists future occurrences.
- Execution: one person's run of a routine, moving running -> paused -> running -> finished.
- Checklist: per-routine items ticked off per execution.
- Attachments: evidence files or links recorded against an execution.
- Event log: every change, view with 'rl log tail'.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("ROUTINELY")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().Duration("timeout", 30*time.Second, "per-command timeout (0 disables)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (overrides config)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("timeout", rootCmd.PersistentFlags().Lookup("timeout"))
	_ = viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
}

func registerCommands() {
	rootCmd.AddCommand(routineCmd())
	rootCmd.AddCommand(execCmd())
	rootCmd.AddCommand(checklistCmd())
	rootCmd.AddCommand(attachCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(serveCmd())
}

// --- helpers ---

// withApp opens the workspace and runs fn under the --timeout deadline.
func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if d := viper.GetDuration("timeout"); d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}
	return withAppNoTimeout(ctx, fn)
}

func withAppNoTimeout(ctx context.Context, fn func(context.Context, *app.App) error) error {
	a, err := app.Open(ctx, app.Options{
		Workspace: viper.GetString("workspace"),
		LogLevel:  viper.GetString("log-level"),
		LogOutput: os.Stderr,
	})
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func actorID() string {
	return strings.TrimSpace(viper.GetString("actor-id"))
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func formatElapsed(d time.Duration) string {
	d = d.Truncate(time.Second)
	h := int(d / time.Hour)
	m := int(d%time.Hour) / int(time.Minute)
	s := int(d%time.Minute) / int(time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

func ptrString(p *time.Time) string {
	if p == nil {
		return ""
	}
	return p.Local().Format(time.DateTime)
}
