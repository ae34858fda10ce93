package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/imedwei/clinic-backup/internal/artifact"
	"github.com/imedwei/clinic-backup/internal/backup"
	"github.com/imedwei/clinic-backup/internal/schedule"
	"github.com/imedwei/clinic-backup/internal/storage"
)

var loadingSpinner = spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(os.Stderr))

func startLoading(message string) {
	loadingSpinner.Suffix = " " + message
	loadingSpinner.Start()
}

func stopLoading() {
	loadingSpinner.Stop()
}

func printE(message string) {
	color.New(color.FgRed).Fprintln(os.Stderr, message)
}

func printS(message string) {
	color.Green(message)
}

func printOut(message string) {
	_, _ = fmt.Fprintln(os.Stdout, message)
}

// renderReport writes one row per destination of report.
func renderReport(report *backup.Report) string {
	tw := table.NewWriter()
	tw.SetTitle(fmt.Sprintf("%s run %s", report.Trigger, report.RunID))
	tw.AppendHeader(table.Row{"Destination", "Kind", "Upload", "Folder", "Deleted", "Error"})

	for _, o := range report.Outcomes {
		upload, folder, errs := "-", "", []string{}
		if o.Upload != nil {
			upload = status(o.Upload.OK)
			if o.Upload.OK {
				upload += " " + artifact.FormatBytes(o.Upload.Detail.RemoteSize)
			}
			folder = o.Upload.Detail.Folder
			if o.Upload.Error != "" {
				errs = append(errs, fmt.Sprintf("%s: %s", o.Upload.ErrorKind, o.Upload.Error))
			}
		}
		deleted := "-"
		if o.Cleanup != nil {
			deleted = fmt.Sprintf("%d", len(o.Cleanup.Detail.DeletedNames))
			if folder == "" {
				folder = o.Cleanup.Detail.Folder
			}
			if o.Cleanup.Error != "" {
				errs = append(errs, fmt.Sprintf("%s: %s", o.Cleanup.ErrorKind, o.Cleanup.Error))
			}
		}
		tw.AppendRow(table.Row{o.DestinationID, o.Kind, upload, folder, deleted, strings.Join(errs, "; ")})
	}

	footer := fmt.Sprintf("%d uploaded, %d deleted in %s", report.Uploaded(), report.Deleted(), report.Duration().Round(time.Millisecond))
	if report.Artifact != nil {
		footer = fmt.Sprintf("%s (%s)", footer, artifact.FormatBytes(report.Artifact.Size))
	}
	tw.AppendFooter(table.Row{"", "", "", "", "", footer})
	return tw.Render()
}

func renderDestinations(dests []storage.Config) string {
	tw := table.NewWriter()
	tw.AppendHeader(table.Row{"ID", "Kind", "Enabled", "Folder", "Retention"})
	for _, d := range dests {
		retention := "default"
		if d.RetentionDays > 0 {
			retention = fmt.Sprintf("%d days", d.RetentionDays)
		}
		tw.AppendRow(table.Row{d.ID, d.Kind, d.Enabled, d.FolderPath(), retention})
	}
	return tw.Render()
}

func renderSchedule(cfg schedule.Config, now time.Time) string {
	tw := table.NewWriter()
	tw.AppendRow(table.Row{"Enabled", cfg.Enabled})
	tw.AppendRow(table.Row{"Days", strings.Join(dayNames(cfg.Days), ", ")})
	tw.AppendRow(table.Row{"Times", strings.Join(cfg.Times, ", ")})
	tw.AppendRow(table.Row{"Timezone", cfg.Timezone})
	next := "none"
	if t, ok := schedule.NextFire(cfg, now); ok {
		next = t.Format(time.RFC1123)
	}
	tw.AppendRow(table.Row{"Next run", next})
	return tw.Render()
}

func dayNames(days []int) []string {
	names := make([]string, 0, len(days))
	for _, d := range days {
		names = append(names, time.Weekday(d).String()[:3])
	}
	return names
}

func status(ok bool) string {
	if ok {
		return color.GreenString("ok")
	}
	return color.RedString("failed")
}
