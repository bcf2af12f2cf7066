package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	_ "time/tzdata"

	"github.com/md-rashed-zaman/bookingflow/libs/config"
	"github.com/md-rashed-zaman/bookingflow/libs/db"
	"github.com/md-rashed-zaman/bookingflow/libs/runtime"
	"github.com/md-rashed-zaman/bookingflow/services/lifecycle-service/internal/app"
	"github.com/md-rashed-zaman/bookingflow/services/lifecycle-service/internal/booking"
	"github.com/md-rashed-zaman/bookingflow/services/lifecycle-service/internal/rules"
	"github.com/md-rashed-zaman/bookingflow/services/lifecycle-service/internal/storage"
	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:           "lifecyclectl",
		Short:         "Operator tooling for the booking lifecycle service",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return config.LoadDotEnv()
		},
	}

	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(sweepCmd())
	rootCmd.AddCommand(transitionCmd())
	rootCmd.AddCommand(historyCmd())
	rootCmd.AddCommand(rulesCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func logger(cmd *cobra.Command) *slog.Logger {
	if v, _ := cmd.Flags().GetBool("verbose"); v {
		return runtime.NewLogger("lifecyclectl")
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// withApp builds the service against the configured storage, runs fn and
// releases everything afterwards. Background loops are not started.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	cfg, err := app.ConfigFromEnv(config.String("SERVICE_NAME", "lifecycle-service"))
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	a, err := app.Build(ctx, cfg, logger(cmd))
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "migrate [up|down|status|version]",
		Short:     "Apply database migrations",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{"up", "down", "status", "version"},
		RunE: func(cmd *cobra.Command, args []string) error {
			command := "up"
			if len(args) == 1 {
				command = args[0]
			}
			dbURL, err := config.RequiredString("DATABASE_URL")
			if err != nil {
				return err
			}
			pool, err := db.Open(cmd.Context(), dbURL)
			if err != nil {
				return fmt.Errorf("db connection failed: %w", err)
			}
			defer pool.Close()
			return storage.Migrate(cmd.Context(), pool, command)
		},
	}
}

func sweepCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run a sweep once",
	}
	cmd.PersistentFlags().BoolP("verbose", "v", false, "Log to stderr")

	cmd.AddCommand(&cobra.Command{
		Use:   "auto-progress",
		Short: "Advance every non-archived booking whose facts call for it",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				report, err := a.Service.RunAutoProgressSweep(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), report)
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "due",
		Short: "Deliver scheduled notifications that are due",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				report, err := a.Service.RunDueNotificationSweep(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), report)
			})
		},
	})
	return cmd
}

func transitionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "transition [booking-id] [status]",
		Short: "Request an explicit status change",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := booking.ParseStatus(strings.ToUpper(args[1]))
			if err != nil {
				return err
			}
			notes, _ := cmd.Flags().GetString("notes")
			actor, _ := cmd.Flags().GetString("actor")
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				b, err := a.Service.RequestTransition(ctx, args[0], target, notes, actor)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s\n", b.ID, b.Status)
				return nil
			})
		},
	}
	cmd.Flags().String("notes", "", "Notes appended to the booking")
	cmd.Flags().String("actor", "operator", "Actor recorded in the status history")
	cmd.Flags().BoolP("verbose", "v", false, "Log to stderr")
	return cmd
}

func historyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history [booking-id]",
		Short: "Show a booking's status history and scheduled notifications",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				entries, err := a.Store.History(ctx, args[0])
				if err != nil {
					return err
				}
				notifications, err := a.Store.ListScheduledNotifications(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), map[string]any{
					"history":       entries,
					"notifications": notifications,
				})
			})
		},
	}
	cmd.Flags().BoolP("verbose", "v", false, "Log to stderr")
	return cmd
}

func rulesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Inspect scheduling rule sets",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "validate [file]",
		Short: "Parse and validate a rule set file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rs, err := rules.LoadFile(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ok: version %s, %d rules\n", rs.Version, len(rs.Rules))
			return nil
		},
	})

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the built-in rule set, or a file's, as YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			file, _ := cmd.Flags().GetString("file")
			tz, _ := cmd.Flags().GetString("timezone")
			rs, err := loadRuleSet(file, tz)
			if err != nil {
				return err
			}
			out, err := rules.Encode(rs)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
	show.Flags().StringP("file", "f", "", "Rule set file; the built-in set when empty")
	show.Flags().String("timezone", "UTC", "Business time zone for the built-in set")
	cmd.AddCommand(show)
	return cmd
}
