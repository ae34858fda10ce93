package main

import (
	"context"
	"fmt"
	"time"

	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/imedwei/clinic-backup/internal/backup"
	"github.com/imedwei/clinic-backup/internal/schedule"
	"github.com/imedwei/clinic-backup/internal/storage"
)

const commandTimeout = 2 * time.Hour

func newRunCmd() *cobra.Command {
	var (
		req  backup.RunRequest
		file string
	)
	cmd := &cobra.Command{
		Use:     "run",
		Short:   "Back up now to every enabled destination",
		Long:    "Produce a backup and upload it to the enabled destinations, or only those given with '--dest'. The stored configuration is not changed.",
		Example: "clinic-backup run --dest offsite --retention-days 7",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()

			a, err := newApp(ctx, file)
			if err != nil {
				return err
			}
			req.Trigger = backup.TriggerManual

			startLoading("Backing up...")
			report, err := a.service.RunBackup(ctx, req)
			stopLoading()
			return finishRun(report, err)
		},
	}
	cmd.Flags().StringSliceVarP(&req.DestinationIDs, "dest", "d", nil, "Destination ids to back up to (default all enabled)")
	cmd.Flags().IntVarP(&req.RetentionOverrideDays, "retention-days", "r", 0, "Retention override in days for this run only")
	cmd.Flags().BoolVar(&req.SkipCleanup, "skip-cleanup", false, "Do not apply retention after uploading")
	cmd.Flags().StringVarP(&file, "file", "f", "", "Upload an existing file instead of dumping DATABASE_URL")
	return cmd
}

func newCleanupCmd() *cobra.Command {
	var req backup.RunRequest
	cmd := &cobra.Command{
		Use:     "cleanup",
		Short:   "Apply retention without uploading",
		Example: "clinic-backup cleanup --retention-days 14",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()

			a, err := newApp(ctx, "")
			if err != nil {
				return err
			}
			req.Trigger = backup.TriggerCleanup

			startLoading("Cleaning up...")
			report, err := a.service.Cleanup(ctx, req)
			stopLoading()
			return finishRun(report, err)
		},
	}
	cmd.Flags().StringSliceVarP(&req.DestinationIDs, "dest", "d", nil, "Destination ids to clean (default all enabled)")
	cmd.Flags().IntVarP(&req.RetentionOverrideDays, "retention-days", "r", 0, "Retention override in days for this run only")
	return cmd
}

func newTestCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "test <destination-id>...",
		Short:   "Check that destinations are reachable",
		Args:    cobra.MinimumNArgs(1),
		Example: "clinic-backup test offsite nas",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()

			a, err := newApp(ctx, "")
			if err != nil {
				return err
			}

			failed := 0
			for _, id := range lo.Uniq(args) {
				dest, ok := lo.Find(a.service.Destinations(), func(d storage.Config) bool { return d.ID == id })
				if !ok {
					printE(fmt.Sprintf("%s: %v", id, backup.ErrUnknownDestination))
					failed++
					continue
				}
				res := a.service.TestDestination(ctx, dest)
				if res.OK {
					printS(fmt.Sprintf("%s: ok (folder %s)", id, res.ResolvedFolder))
					continue
				}
				failed++
				printE(fmt.Sprintf("%s: %s: %s", id, res.ErrorKind, res.Error))
			}
			if failed > 0 {
				return fmt.Errorf("%d destination(s) failed", failed)
			}
			return nil
		},
	}
}

func newDestinationsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "destinations",
		Short: "List configured destinations",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), "")
			if err != nil {
				return err
			}
			printOut(renderDestinations(a.service.Destinations()))
			return nil
		},
	}
}

func newScheduleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Show the backup schedule",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), "")
			if err != nil {
				return err
			}
			printOut(renderSchedule(a.service.Schedule(), time.Now()))
			return nil
		},
	}
	cmd.AddCommand(newScheduleSetCmd())
	return cmd
}

func newScheduleSetCmd() *cobra.Command {
	var (
		cfg     schedule.Config
		disable bool
	)
	cmd := &cobra.Command{
		Use:     "set",
		Short:   "Replace the backup schedule",
		Long:    "Replace the stored schedule. Days are 0 (Sunday) to 6 (Saturday), times are HH:MM in the given timezone.",
		Example: "clinic-backup schedule set --days 1,3,5 --times 02:00,14:00 --timezone Europe/Berlin",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), "")
			if err != nil {
				return err
			}
			cfg.Enabled = !disable
			stored, err := a.service.UpdateSchedule(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			printS("Schedule updated")
			printOut(renderSchedule(stored, time.Now()))
			return nil
		},
	}
	cmd.Flags().IntSliceVar(&cfg.Days, "days", nil, "Days of the week, 0-6 with 0 = Sunday")
	cmd.Flags().StringSliceVar(&cfg.Times, "times", nil, "Times of day as HH:MM")
	cmd.Flags().StringVar(&cfg.Timezone, "timezone", "UTC", "IANA timezone the times are in")
	cmd.Flags().BoolVar(&disable, "disable", false, "Store the schedule disabled")
	return cmd
}

func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, commandTimeout)
}

func finishRun(report *backup.Report, err error) error {
	if err != nil {
		return err
	}
	printOut(renderReport(report))
	if !report.OK() {
		return fmt.Errorf("destinations failed: %v", report.Failed())
	}
	printS("All destinations succeeded")
	return nil
}
