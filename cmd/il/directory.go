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
)

func teamCmd() *cobra.Command {
	tc := &cobra.Command{Use: "team", Short: "Manage teams"}
	tc.AddCommand(&cobra.Command{
		Use:   "create <code> <name>",
		Short: "Create a team",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.CreateTeam(ctx, caller(), args[0], args[1])
				if err != nil {
					return err
				}
				return printJSONOrTable(t, func() {
					fmt.Printf("Created team %s (%s) %s\n", t.Code, t.Name, t.ID)
				})
			})
		},
	})
	tc.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List teams",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				teams, err := e.ListTeams(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(teams, func() {
					tw := table.NewWriter()
					tw.SetOutputMirror(os.Stdout)
					tw.AppendHeader(table.Row{"Code", "Name", "ID", "Created"})
					for _, t := range teams {
						tw.AppendRow(table.Row{t.Code, t.Name, t.ID, t.CreatedAt})
					}
					tw.Render()
				})
			})
		},
	})
	return tc
}

func devCmd() *cobra.Command {
	dc := &cobra.Command{Use: "dev", Short: "Manage team developers"}
	var email string
	add := &cobra.Command{
		Use:   "add <team> <name>",
		Short: "Add a developer to a team",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				d, err := e.AddDeveloper(ctx, caller(), args[0], args[1], email)
				if err != nil {
					return err
				}
				return printJSONOrTable(d, func() {
					fmt.Printf("Added developer %s (%s)\n", d.Name, d.ID)
				})
			})
		},
	}
	add.Flags().StringVar(&email, "email", "", "developer email")
	dc.AddCommand(add)
	dc.AddCommand(&cobra.Command{
		Use:   "list <team>",
		Short: "List developers of a team",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				devs, err := e.ListDevelopers(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(devs, func() {
					tw := table.NewWriter()
					tw.SetOutputMirror(os.Stdout)
					tw.AppendHeader(table.Row{"ID", "Name", "Email", "Active"})
					for _, d := range devs {
						tw.AppendRow(table.Row{d.ID, d.Name, d.Email, d.Active})
					}
					tw.Render()
				})
			})
		},
	})
	return dc
}

func objectiveCmd() *cobra.Command {
	oc := &cobra.Command{Use: "objective", Short: "Manage period objectives"}
	oc.AddCommand(&cobra.Command{
		Use:   "create <team> <code> <title>",
		Short: "Create an objective in the current period",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				o, err := e.CreateObjective(ctx, caller(), args[0], args[1], args[2])
				if err != nil {
					return err
				}
				return printJSONOrTable(o, func() {
					fmt.Printf("Created objective %s %q for %s (%s)\n", o.Code, o.Title, o.PeriodKey, o.ID)
				})
			})
		},
	})
	var period string
	var all bool
	list := &cobra.Command{
		Use:   "list <team>",
		Short: "List objectives of a team",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				objs, err := e.ListObjectives(ctx, args[0], period, !all)
				if err != nil {
					return err
				}
				return printJSONOrTable(objs, func() {
					tw := table.NewWriter()
					tw.SetOutputMirror(os.Stdout)
					tw.AppendHeader(table.Row{"ID", "Code", "Title", "Period", "Active"})
					for _, o := range objs {
						tw.AppendRow(table.Row{o.ID, o.Code, o.Title, o.PeriodKey, o.Active})
					}
					tw.Render()
				})
			})
		},
	}
	list.Flags().StringVar(&period, "period", "", "period key (default: current)")
	list.Flags().BoolVar(&all, "all", false, "include inactive objectives")
	oc.AddCommand(list)
	return oc
}

func statusCmd() *cobra.Command {
	sc := &cobra.Command{Use: "status", Short: "Manage the status pipeline"}
	sc.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List status definitions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				defs, err := e.ListStatuses(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(defs, func() { renderStatuses(defs) })
			})
		},
	})
	var label, next string
	var position int
	var inactive bool
	set := &cobra.Command{
		Use:   "set <key>",
		Short: "Create or update a status definition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				def := domain.StatusDefinition{
					Key:         args[0],
					Label:       label,
					Position:    position,
					AllowedNext: splitList(next),
					Active:      !inactive,
				}
				if cmd.Flags().Changed("next") && def.AllowedNext == nil {
					def.AllowedNext = []string{}
				}
				saved, err := e.UpsertStatus(ctx, caller(), def)
				if err != nil {
					return err
				}
				return printJSONOrTable(saved, func() { renderStatuses([]domain.StatusDefinition{saved}) })
			})
		},
	}
	set.Flags().StringVar(&label, "label", "", "display label")
	set.Flags().IntVar(&position, "position", 0, "display position")
	set.Flags().StringVar(&next, "next", "", "comma-separated allowed next statuses (default: keep stored)")
	set.Flags().BoolVar(&inactive, "inactive", false, "store the status as inactive")
	sc.AddCommand(set)
	sc.AddCommand(&cobra.Command{
		Use:   "deactivate <key>",
		Short: "Deactivate a status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				def, err := e.DeactivateStatus(ctx, caller(), args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(def, func() {
					fmt.Printf("Deactivated status %s\n", def.Key)
				})
			})
		},
	})
	sc.AddCommand(&cobra.Command{
		Use:   "next <key>",
		Short: "List statuses reachable from a status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				defs, err := e.AllowedTransitions(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(defs, func() { renderStatuses(defs) })
			})
		},
	})
	return sc
}

func renderStatuses(defs []domain.StatusDefinition) {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Pos", "Key", "Label", "Next", "Active"})
	for _, d := range defs {
		tw.AppendRow(table.Row{d.Position, d.Key, d.Label, strings.Join(d.AllowedNext, ", "), d.Active})
	}
	tw.Render()
}
