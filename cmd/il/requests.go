package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"intakeline/internal/domain"
	"intakeline/internal/engine"
	"intakeline/internal/engine/priority"
)

func requestCmd() *cobra.Command {
	rc := &cobra.Command{Use: "request", Aliases: []string{"req"}, Short: "Manage requests"}
	rc.AddCommand(requestCreateCmd())
	rc.AddCommand(requestListCmd())
	rc.AddCommand(requestShowCmd())
	rc.AddCommand(requestRescoreCmd())
	rc.AddCommand(requestQuadrantCmd())
	rc.AddCommand(requestAssignCmd())
	rc.AddCommand(requestMoveCmd())
	rc.AddCommand(requestLinkageCmd())
	return rc
}

func requestCreateCmd() *cobra.Command {
	var opts engine.CreateRequestOptions
	cmd := &cobra.Command{
		Use:   "create <team> <title>",
		Short: "File a request in the current period",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.TeamID, opts.Title = args[0], args[1]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				req, err := e.CreateRequest(ctx, caller(), opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(req, func() {
					fmt.Printf("Created %s %q score=%.2f status=%s\n", req.Code, req.Title, req.PriorityScore, req.Status)
				})
			})
		},
	}
	cmd.Flags().StringVar(&opts.Type, "type", domain.TypeImprovement, "incident, improvement or project")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	cmd.Flags().StringVar(&opts.Requester, "requester", "", "who asked for it")
	cmd.Flags().IntVar(&opts.Urgency, "urgency", 1, "urgency 1-5")
	cmd.Flags().IntVar(&opts.Importance, "importance", 1, "importance 1-5")
	cmd.Flags().IntVar(&opts.Complexity, "complexity", 1, "complexity 1-5")
	cmd.Flags().StringVar(&opts.DeveloperID, "developer", "", "primary developer id")
	return cmd
}

func requestListCmd() *cobra.Command {
	var period, status string
	cmd := &cobra.Command{
		Use:   "list <team>",
		Short: "List a team's requests",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				reqs, err := e.ListRequests(ctx, args[0], period, status)
				if err != nil {
					return err
				}
				return printJSONOrTable(reqs, func() { renderRequests(reqs) })
			})
		},
	}
	cmd.Flags().StringVar(&period, "period", "", "period key (default: current)")
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	return cmd
}

func requestShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id|code>",
		Short: "Show a request with its linkage and blocker balance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				req, err := e.GetRequest(ctx, args[0])
				if err != nil {
					return err
				}
				link, err := e.Linkage(ctx, req.ID)
				if err != nil {
					return err
				}
				tally, err := e.BlockerStatus(ctx, req.ID)
				if err != nil {
					return err
				}
				view := map[string]any{"request": req, "linkage": link, "blockers": tally}
				return printJSONOrTable(view, func() {
					fmt.Printf("%s %s\n", req.Code, req.Title)
					fmt.Printf("  type=%s status=%s period=%s version=%d\n", req.Type, req.Status, req.PeriodKey, req.Version)
					fmt.Printf("  urgency=%d importance=%d complexity=%d score=%.2f quadrant=%s\n",
						req.Urgency, req.Importance, req.Complexity, req.PriorityScore, priority.Classify(req.Urgency, req.Importance))
					if req.DeveloperID != nil {
						fmt.Printf("  developer=%s\n", *req.DeveloperID)
					}
					fmt.Printf("  objectives=%s\n", strings.Join(link.ObjectiveIDs, ", "))
					fmt.Printf("  assignees=%s\n", strings.Join(link.AssigneeIDs, ", "))
					fmt.Printf("  blockers reported=%d resolved=%d blocked=%t\n", tally.Reported, tally.Resolved, tally.Active())
				})
			})
		},
	}
}

func requestRescoreCmd() *cobra.Command {
	var expected int
	cmd := &cobra.Command{
		Use:   "rescore <id|code>",
		Short: "Change urgency, importance or complexity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := engine.RescoreOptions{ExpectedVersion: expected}
			for name, dst := range map[string]**int{"urgency": &opts.Urgency, "importance": &opts.Importance, "complexity": &opts.Complexity} {
				if cmd.Flags().Changed(name) {
					v, _ := cmd.Flags().GetInt(name)
					*dst = &v
				}
			}
			if opts.Urgency == nil && opts.Importance == nil && opts.Complexity == nil {
				return fmt.Errorf("set at least one of --urgency, --importance, --complexity")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				req, err := e.Rescore(ctx, caller(), args[0], opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(req, func() {
					fmt.Printf("%s score=%.2f (u=%d i=%d c=%d)\n", req.Code, req.PriorityScore, req.Urgency, req.Importance, req.Complexity)
				})
			})
		},
	}
	cmd.Flags().Int("urgency", 0, "urgency 1-5")
	cmd.Flags().Int("importance", 0, "importance 1-5")
	cmd.Flags().Int("complexity", 0, "complexity 1-5")
	cmd.Flags().IntVar(&expected, "expected-version", 0, "fail unless the stored version matches")
	return cmd
}

func requestQuadrantCmd() *cobra.Command {
	var expected int
	cmd := &cobra.Command{
		Use:   "quadrant <id|code> <Q1|Q2|Q3|Q4>",
		Short: "Move a request to a quadrant",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := priority.ParseQuadrant(args[1])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				req, err := e.MoveToQuadrant(ctx, caller(), args[0], q, expected)
				if err != nil {
					return err
				}
				return printJSONOrTable(req, func() {
					fmt.Printf("%s moved to %s score=%.2f\n", req.Code, q, req.PriorityScore)
				})
			})
		},
	}
	cmd.Flags().IntVar(&expected, "expected-version", 0, "fail unless the stored version matches")
	return cmd
}

func requestAssignCmd() *cobra.Command {
	var expected int
	var unassign bool
	cmd := &cobra.Command{
		Use:   "assign <id|code> [developer-id]",
		Short: "Set or clear the primary developer",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			dev := ""
			if len(args) == 2 {
				dev = args[1]
			} else if !unassign {
				return fmt.Errorf("developer id required (or --clear)")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				req, err := e.AssignDeveloper(ctx, caller(), args[0], dev, expected)
				if err != nil {
					return err
				}
				return printJSONOrTable(req, func() {
					if req.DeveloperID == nil {
						fmt.Printf("%s unassigned\n", req.Code)
						return
					}
					fmt.Printf("%s assigned to %s\n", req.Code, *req.DeveloperID)
				})
			})
		},
	}
	cmd.Flags().BoolVar(&unassign, "clear", false, "clear the primary developer")
	cmd.Flags().IntVar(&expected, "expected-version", 0, "fail unless the stored version matches")
	return cmd
}

func requestMoveCmd() *cobra.Command {
	var objectives, assignees string
	var yes bool
	var expected int
	cmd := &cobra.Command{
		Use:   "move <id|code> <status>",
		Short: "Attempt a status transition",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.AttemptTransition(ctx, caller(), engine.TransitionInput{
					RequestID:       args[0],
					ToStatus:        args[1],
					ObjectiveIDs:    splitList(objectives),
					AssigneeIDs:     splitList(assignees),
					Confirmed:       yes,
					ExpectedVersion: expected,
				})
				if err != nil {
					return err
				}
				if err := printJSONOrTable(res, func() { printOutcome(res) }); err != nil {
					return err
				}
				if res.Outcome == engine.OutcomeRejected {
					return fmt.Errorf("transition rejected: %s", res.Reason)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&objectives, "objective", "", "comma-separated objective ids")
	cmd.Flags().StringVar(&assignees, "assignee", "", "comma-separated developer ids")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "confirm a final status")
	cmd.Flags().IntVar(&expected, "expected-version", 0, "fail unless the stored version matches")
	return cmd
}

func printOutcome(res engine.TransitionResult) {
	switch res.Outcome {
	case engine.OutcomeApplied:
		fmt.Printf("%s: %s -> %s\n", res.Request.Code, res.From, res.To)
	case engine.OutcomeNeedsObjectivesAndAssignees:
		fmt.Printf("%s: %s needs at least one objective and one assignee; retry with --objective and --assignee\n", res.Request.Code, res.To)
	case engine.OutcomeNeedsConfirmation:
		fmt.Printf("%s: %s is final; retry with --yes to confirm\n", res.Request.Code, res.To)
	case engine.OutcomeRejected:
		keys := make([]string, 0, len(res.Allowed))
		for _, s := range res.Allowed {
			keys = append(keys, s.Key)
		}
		fmt.Printf("%s: %s -> %s rejected; allowed: %s\n", res.Request.Code, res.From, res.To, strings.Join(keys, ", "))
	}
}

func requestLinkageCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "linkage <id|code>",
		Short: "Show linked objectives and assignees",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				req, err := e.GetRequest(ctx, args[0])
				if err != nil {
					return err
				}
				link, err := e.Linkage(ctx, req.ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(link, func() {
					tw := table.NewWriter()
					tw.SetOutputMirror(os.Stdout)
					tw.AppendHeader(table.Row{"Kind", "ID"})
					for _, id := range link.ObjectiveIDs {
						tw.AppendRow(table.Row{"objective", id})
					}
					for _, id := range link.AssigneeIDs {
						tw.AppendRow(table.Row{"assignee", id})
					}
					tw.Render()
				})
			})
		},
	}
}

func renderRequests(reqs []domain.Request) {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Code", "Type", "Title", "Status", "U", "I", "C", "Score", "Quadrant"})
	for _, r := range reqs {
		tw.AppendRow(table.Row{r.Code, r.Type, r.Title, r.Status, r.Urgency, r.Importance, r.Complexity,
			fmt.Sprintf("%.2f", r.PriorityScore), priority.Classify(r.Urgency, r.Importance)})
	}
	tw.Render()
}

func boardCmd() *cobra.Command {
	var team string
	cmd := &cobra.Command{
		Use:   "board",
		Short: "Show the quadrant board of a team",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				board, err := e.QuadrantBoard(ctx, team)
				if err != nil {
					return err
				}
				return printJSONOrTable(board, func() {
					fmt.Printf("Board %s (%s)\n", team, board.PeriodKey)
					for _, col := range board.Columns {
						fmt.Printf("\n%s (%d)\n", col.Quadrant, len(col.Requests))
						if len(col.Requests) > 0 {
							renderRequests(col.Requests)
						}
					}
				})
			})
		},
	}
	cmd.Flags().StringVar(&team, "team", "", "team id or code")
	_ = cmd.MarkFlagRequired("team")
	return cmd
}

func blockerCmd() *cobra.Command {
	bc := &cobra.Command{Use: "blocker", Short: "Report and resolve blockers"}
	var note string
	report := &cobra.Command{
		Use:   "report <id|code>",
		Short: "Report a blocker on a request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.ReportBlocker(ctx, caller(), args[0], note)
				if err != nil {
					return err
				}
				return printJSONOrTable(t, func() { printTally(args[0], t.Reported, t.Resolved, t.Active()) })
			})
		},
	}
	report.Flags().StringVar(&note, "note", "", "what blocks the request")
	bc.AddCommand(report)
	var resolveNote string
	resolve := &cobra.Command{
		Use:   "resolve <id|code>",
		Short: "Resolve a blocker on a request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.ResolveBlocker(ctx, caller(), args[0], resolveNote)
				if err != nil {
					return err
				}
				return printJSONOrTable(t, func() { printTally(args[0], t.Reported, t.Resolved, t.Active()) })
			})
		},
	}
	resolve.Flags().StringVar(&resolveNote, "note", "", "how it was resolved")
	bc.AddCommand(resolve)
	bc.AddCommand(&cobra.Command{
		Use:   "show <id|code>",
		Short: "Show the blocker balance of a request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.BlockerStatus(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(t, func() { printTally(args[0], t.Reported, t.Resolved, t.Active()) })
			})
		},
	})
	bc.AddCommand(&cobra.Command{
		Use:   "open <team>",
		Short: "List blocked requests of a team",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				open, err := e.OpenBlockers(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(open, func() {
					tw := table.NewWriter()
					tw.SetOutputMirror(os.Stdout)
					tw.AppendHeader(table.Row{"Request", "Reported", "Resolved", "Balance"})
					for _, t := range open.Tallies {
						tw.AppendRow(table.Row{t.RequestID, t.Reported, t.Resolved, t.Balance})
					}
					tw.AppendFooter(table.Row{"open", "", "", open.Count})
					tw.Render()
				})
			})
		},
	})
	return bc
}

func printTally(ref string, reported, resolved int, blocked bool) {
	fmt.Printf("%s: reported=%d resolved=%d blocked=%t\n", ref, reported, resolved, blocked)
}
