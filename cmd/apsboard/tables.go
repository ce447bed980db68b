package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"

	"github.com/kingrea/apsboard/internal/fetch"
	"github.com/kingrea/apsboard/internal/monthindex"
	"github.com/kingrea/apsboard/internal/schedule"
	"github.com/kingrea/apsboard/internal/stubserver"
)

var (
	bold    = color.New(color.Bold).SprintFunc()
	red     = color.New(color.FgRed, color.Bold).SprintFunc()
	yellow  = color.New(color.FgYellow).SprintFunc()
	blue    = color.New(color.FgBlue).SprintFunc()
	faint   = color.New(color.Faint).SprintFunc()
	timeFmt = "01-02 15:04"
)

func newMonthsCmd() *cobra.Command {
	var includeAll, refresh bool
	cmd := &cobra.Command{
		Use:   "months",
		Short: "List the month index",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := loadConfig(cmd.ErrOrStderr()); err != nil {
				return err
			}
			if !cmd.Flags().Changed("all") {
				includeAll = cfg.Project.Schedule.IncludeAll
			}
			if withStub {
				stop, err := startStub(cmd.Context())
				if err != nil {
					return err
				}
				defer stop()
			}
			client, err := newClient()
			if err != nil {
				return err
			}
			cache := newMonthCache(client)
			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Project.Backend.Timeout)
			defer cancel()
			var snap monthindex.Snapshot
			if refresh {
				snap = cache.Refresh(ctx, includeAll)
			} else {
				snap = cache.Load(ctx, includeAll)
			}
			if snap.Err != nil {
				logger.Warn().Err(snap.Err).Str("status", snap.Status.String()).Msg("month index fetch failed")
			}
			if snap.Status == monthindex.StatusEmpty {
				return fmt.Errorf("month index unavailable: %s", schedule.Describe(snap.Err))
			}

			tbl := uitable.New()
			tbl.Separator = "  "
			tbl.AddRow(bold("MONTH"), bold("KEY"), bold("ORDERS"), bold("DETAILS"))
			for _, b := range snap.Buckets {
				tbl.AddRow(b.Label, b.YMKey, countOrDash(b.OrderCount), countOrDash(b.DetailCount))
			}
			out := color.Output
			fmt.Fprintln(out, tbl)
			fmt.Fprintln(out, faint(fmt.Sprintf("%d month(s) · %s", len(snap.Buckets), snap.Status)))
			return nil
		},
	}
	cmd.Flags().BoolVar(&includeAll, "all", false, "include closed months")
	cmd.Flags().BoolVar(&refresh, "refresh", false, "bypass the cached index")
	return cmd
}

func newRunCmd() *cobra.Command {
	var (
		includeAll bool
		order      string
		anchor     string
		offline    bool
	)
	cmd := &cobra.Command{
		Use:   "run FROM [TO]",
		Short: "Run the schedule for a month range and print it",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := loadConfig(cmd.ErrOrStderr()); err != nil {
				return err
			}
			req := schedule.RunRequest{FromMonth: args[0], ToMonth: args[0], IncludeAll: includeAll}
			if len(args) == 2 {
				req.ToMonth = args[1]
			}
			if order = strings.TrimSpace(order); order != "" {
				for _, id := range strings.Split(order, ",") {
					if id = strings.TrimSpace(id); id != "" {
						req.DetailOrder = append(req.DetailOrder, id)
					}
				}
			}
			if anchor != "" {
				ts, err := time.ParseInLocation(time.RFC3339, anchor, cfg.Location())
				if err != nil {
					return fmt.Errorf("anchor must be RFC3339: %w", err)
				}
				req.AnchorStart = ts
			} else if key, err := schedule.ParseYMKey(args[0]); err == nil {
				start := schedule.MonthBucket{YMKey: key}.MonthStart(cfg.Location())
				req.AnchorStart = cfg.AnchorFor(start, time.Now())
			}

			if offline {
				srv := stubserver.NewServer(stubserver.SettingsFromConfig(cfg))
				plan, err := srv.RunOnce(req)
				if err != nil {
					return err
				}
				printRun(schedule.RunResult{FromMonth: req.FromMonth, ToMonth: req.ToMonth, AnchorStart: req.AnchorStart, Segments: plan.Segments, Warnings: plan.Warnings}, 0)
				return nil
			}

			if withStub {
				stop, err := startStub(cmd.Context())
				if err != nil {
					return err
				}
				defer stop()
			}
			client, err := newClient()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Project.Backend.Timeout)
			defer cancel()
			outcome, err := fetch.New(client).Run(ctx, req)
			if err != nil {
				return err
			}
			if outcome.Status == fetch.StatusFailed {
				if outcome.Note != "" {
					fmt.Fprintln(color.Output, yellow(outcome.Note))
				}
				logger.Error().Err(outcome.Err).Uint64("seq", outcome.Seq).Msg("schedule run failed")
				return errors.New(schedule.Describe(outcome.Err))
			}
			printRun(outcome.Result, len(outcome.Result.Details))
			return nil
		},
	}
	cmd.Flags().BoolVar(&includeAll, "all", false, "include closed details")
	cmd.Flags().StringVar(&order, "order", "", "comma-separated detail ids to schedule first")
	cmd.Flags().StringVar(&anchor, "anchor", "", "RFC3339 start instant (default from config)")
	cmd.Flags().BoolVar(&offline, "offline", false, "pack against the bundled stub catalog without HTTP")
	return cmd
}

func printRun(result schedule.RunResult, details int) {
	out := color.Output
	tbl := uitable.New()
	tbl.Separator = "  "
	tbl.MaxColWidth = 40
	tbl.AddRow(bold("MACHINE"), bold("START"), bold("END"), bold("MIN"), bold("DETAIL"), bold("PROCESS"), bold("BILL"))
	for _, seg := range result.Segments {
		tbl.AddRow(
			seg.MachineIndex,
			seg.StartTime.Format(timeFmt),
			seg.EndTime.Format(timeFmt),
			seg.Minutes,
			seg.DetailID,
			strings.TrimSpace(seg.ProcessNo+" "+seg.ProcessName),
			seg.BillNo,
		)
	}
	fmt.Fprintln(out, tbl)
	if len(result.Warnings) > 0 {
		fmt.Fprintln(out)
		warn := uitable.New()
		warn.Separator = "  "
		warn.Wrap = true
		warn.MaxColWidth = 60
		for _, w := range result.Warnings {
			warn.AddRow(levelLabel(w.Level), w.BillNo+" #"+w.LineNo, w.Message)
		}
		fmt.Fprintln(out, warn)
	}
	summary := fmt.Sprintf("%s → %s · %d segment(s) · %d warning(s)", result.FromMonth, result.ToMonth, len(result.Segments), len(result.Warnings))
	if details > 0 {
		summary += fmt.Sprintf(" · %d detail(s)", details)
	}
	fmt.Fprintln(out, faint(summary))
}

func levelLabel(level schedule.Level) string {
	switch level {
	case schedule.LevelError:
		return red(string(level))
	case schedule.LevelWarn:
		return yellow(string(level))
	default:
		return blue(string(level))
	}
}

func countOrDash(n *int) string {
	if n == nil {
		return "-"
	}
	return fmt.Sprintf("%d", *n)
}
