// Package main is the entry point for the divsync CLI.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"slices"
	"syscall"

	"github.com/flemzord/divsync/internal/core"
	"github.com/flemzord/divsync/internal/dispatch"
	"github.com/flemzord/divsync/internal/job"
	"github.com/flemzord/divsync/internal/ledger"
	"github.com/flemzord/divsync/pkg/app"
	"github.com/spf13/cobra"
)

// Set by goreleaser ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// errRunNotSucceeded makes "divsync run" exit non-zero when the run was
// skipped or failed.
var errRunNotSucceeded = errors.New("run did not succeed")

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "divsync",
		Short:         "Lease-guarded synchronization of division sessions",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringP("config", "c", "", "Path to configuration file")
	root.PersistentFlags().String("data-dir", "", "Override data_dir from the configuration")
	root.PersistentFlags().String("log-level", "", "Override log.level (debug, info, warn, error)")

	root.AddCommand(versionCmd(), startCmd(), runCmd(), statusCmd(), configCmd(), serviceCmd())
	return root
}

// runParams collects the persistent flags shared by every subcommand.
func runParams(cmd *cobra.Command) app.RunParams {
	cfgPath, _ := cmd.Flags().GetString("config")
	dataDir, _ := cmd.Flags().GetString("data-dir")
	logLevel, _ := cmd.Flags().GetString("log-level")
	return app.RunParams{
		ConfigPath: cfgPath,
		DataDir:    dataDir,
		LogLevel:   logLevel,
		Version:    version,
		Commit:     commit,
		Date:       date,
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version and compiled modules",
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "divsync %s (commit: %s, built: %s)\n", version, commit, date)
			mods := core.GetModules()
			if len(mods) == 0 {
				fmt.Fprintln(out, "\nNo compiled modules.")
				return
			}
			fmt.Fprintln(out, "\nCompiled modules:")
			for _, mod := range mods {
				fmt.Fprintf(out, "  %s\n", mod.ID)
			}
		},
	}
}

func startCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the scheduler with all configured modules",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return app.Run(runParams(cmd))
		},
	}
}

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [job]",
		Short: "Trigger a job through the dispatcher and wait for it",
		Long: "Trigger a job once with the same lease, single-flight and ledger " +
			"guards as a scheduled tick. With --forever, keep triggering it on " +
			"its cadence until interrupted.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := job.DivisionSessionsSync
			if len(args) == 1 {
				name = args[0]
			}
			forever, _ := cmd.Flags().GetBool("forever")

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			dec, err := app.RunOnce(ctx, runParams(cmd), name, forever)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s: %s", name, dec.Status)
			if dec.RunID != "" {
				fmt.Fprintf(out, " (run %s)", dec.RunID)
			}
			if dec.Reason != "" {
				fmt.Fprintf(out, ": %s", dec.Reason)
			}
			fmt.Fprintln(out)

			if dec.Status != ledger.StatusSucceeded && !forever {
				return fmt.Errorf("%s: %w", name, errRunNotSucceeded)
			}
			return nil
		},
	}
	cmd.Flags().Bool("forever", false, "Keep triggering the job on its cadence")
	return cmd
}

func statusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status [job]",
		Short: "Show the latest runs of each job from the ledger",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			recent, _ := cmd.Flags().GetInt("recent")
			asJSON, _ := cmd.Flags().GetBool("json")

			statuses, err := app.Status(context.Background(), runParams(cmd), recent)
			if err != nil {
				return err
			}
			if len(args) == 1 {
				statuses = slices.DeleteFunc(statuses, func(st dispatch.JobStatus) bool {
					return st.Job != args[0]
				})
				if len(statuses) == 0 {
					return fmt.Errorf("unknown job %q", args[0])
				}
			}
			if asJSON {
				return writeStatusJSON(cmd.OutOrStdout(), statuses)
			}
			return writeStatusTable(cmd.OutOrStdout(), statuses)
		},
	}
	cmd.Flags().Int("recent", 5, "Number of recent runs listed per job")
	cmd.Flags().Bool("json", false, "Print the status as JSON")
	return cmd
}
