package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"intakeline/internal/domain"
	"intakeline/internal/engine"
)

func periodCmd() *cobra.Command {
	pc := &cobra.Command{Use: "period", Short: "Periods and period close"}
	pc.AddCommand(&cobra.Command{
		Use:   "current",
		Short: "Show the current period",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.CurrentPeriod(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(p, func() {
					fmt.Printf("%s (%s) #%d since %s\n", p.Key, p.Label, p.Ordinal, p.StartedAt)
				})
			})
		},
	})
	pc.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List periods",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				periods, err := e.ListPeriods(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(periods, func() {
					tw := table.NewWriter()
					tw.SetOutputMirror(os.Stdout)
					tw.AppendHeader(table.Row{"#", "Key", "Label", "Started", "Ended", "Current"})
					for _, p := range periods {
						ended := ""
						if p.EndedAt != nil {
							ended = *p.EndedAt
						}
						tw.AppendRow(table.Row{p.Ordinal, p.Key, p.Label, p.StartedAt, ended, p.Current})
					}
					tw.Render()
				})
			})
		},
	})
	pc.AddCommand(&cobra.Command{
		Use:   "close <team>",
		Short: "Summarize the current period for a team and advance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rec, err := e.ClosePeriod(ctx, caller(), args[0])
				if errors.Is(err, domain.ErrAdvanceFailed) {
					fmt.Fprintf(os.Stderr, "summary %s stored; run 'il period resume %s' to finish\n", rec.ID, args[0])
					return err
				}
				if err != nil {
					return err
				}
				return printJSONOrTable(rec, func() { renderCloseRecord(rec) })
			})
		},
	})
	var periodKey string
	resume := &cobra.Command{
		Use:   "resume <team>",
		Short: "Finish a close whose advance failed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rec, err := e.ResumeClose(ctx, caller(), args[0], periodKey)
				if err != nil {
					return err
				}
				return printJSONOrTable(rec, func() { renderCloseRecord(rec) })
			})
		},
	}
	resume.Flags().StringVar(&periodKey, "period", "", "period key (default: current)")
	pc.AddCommand(resume)
	pc.AddCommand(&cobra.Command{
		Use:   "records <team>",
		Short: "List close summaries of a team",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				recs, err := e.CloseRecords(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(recs, func() {
					tw := table.NewWriter()
					tw.SetOutputMirror(os.Stdout)
					tw.AppendHeader(table.Row{"Label", "Period", "Next", "Total", "Done", "Carried", "Avg", "Closed"})
					for _, r := range recs {
						tw.AppendRow(table.Row{r.Label, r.PeriodKey, r.NextPeriodKey, r.TotalRequests, r.CompletedCount,
							r.CarriedOverCount, fmt.Sprintf("%.2f", r.AverageScore), r.ClosedAt})
					}
					tw.Render()
				})
			})
		},
	})
	return pc
}

func renderCloseRecord(rec domain.PeriodCloseRecord) {
	fmt.Printf("%s closed; next period %s\n", rec.Label, rec.NextPeriodKey)
	fmt.Printf("  total=%d completed=%d carried_over=%d average_score=%.2f\n",
		rec.TotalRequests, rec.CompletedCount, rec.CarriedOverCount, rec.AverageScore)
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Breakdown", "Key", "Count"})
	for _, k := range sortedKeys(rec.ByType) {
		tw.AppendRow(table.Row{"type", k, rec.ByType[k]})
	}
	for _, k := range sortedKeys(rec.ByStatus) {
		tw.AppendRow(table.Row{"status", k, rec.ByStatus[k]})
	}
	tw.Render()
	if len(rec.TopCompleted) > 0 {
		top := table.NewWriter()
		top.SetOutputMirror(os.Stdout)
		top.AppendHeader(table.Row{"Code", "Title", "Type", "Score", "Developer"})
		for _, t := range rec.TopCompleted {
			top.AppendRow(table.Row{t.Code, t.Title, t.Type, fmt.Sprintf("%.2f", t.PriorityScore), t.DeveloperName})
		}
		top.Render()
	}
	if len(rec.LeftBehind) > 0 {
		fmt.Printf("warning: %d unfinished request(s) remain in earlier periods\n", len(rec.LeftBehind))
		lb := table.NewWriter()
		lb.SetOutputMirror(os.Stdout)
		lb.AppendHeader(table.Row{"Code", "Status", "Period"})
		for _, r := range rec.LeftBehind {
			lb.AppendRow(table.Row{r.Code, r.Status, r.PeriodKey})
		}
		lb.Render()
	}
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
