package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"intakeline/internal/app"
	"intakeline/internal/config"
	"intakeline/internal/db"
	"intakeline/internal/engine"
	"intakeline/internal/repo"
	"intakeline/internal/server"
)

func initCmd() *cobra.Command {
	var workspaceID string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a workspace with default config, statuses and the first period",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			if workspaceID == "" {
				abs, err := filepath.Abs(workspace)
				if err != nil {
					return err
				}
				workspaceID = filepath.Base(abs)
			}
			cfgPath := config.Path(workspace)
			if _, err := os.Stat(cfgPath); errors.Is(err, os.ErrNotExist) {
				if err := os.WriteFile(cfgPath, []byte(config.GenerateDefault(workspaceID)), 0o644); err != nil {
					return err
				}
				fmt.Println("Wrote", cfgPath)
			} else if err != nil {
				return err
			}
			envPath := filepath.Join(workspace, ".env")
			if os.Getenv("INTAKELINE_JWT_SECRET") == "" {
				if err := setEnvValue(envPath, "INTAKELINE_JWT_SECRET", uuid.NewString()); err != nil {
					return err
				}
				fmt.Println("Wrote JWT secret to", envPath)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.CurrentPeriod(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("Workspace %s ready; current period %s (%s)\n", e.Config.Workspace.ID, p.Key, p.Label)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&workspaceID, "id", "", "workspace id (default: directory name)")
	return cmd
}

func configCmd() *cobra.Command {
	cfgCmd := &cobra.Command{Use: "config", Short: "Inspect workspace config"}
	cfgCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(cfg)
			}
			out, err := yaml.Marshal(cfg)
			if err != nil {
				return err
			}
			fmt.Print(string(out))
			return nil
		},
	})
	cfgCmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate the config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			fmt.Println("config ok")
			return nil
		},
	})
	return cfgCmd
}

func loadConfig() (*config.Config, error) {
	if path := viper.GetString("config"); path != "" {
		return config.FromFile(path)
	}
	return config.Load(viper.GetString("workspace"))
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var legacyHeaders, devLogin bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := viper.GetString("jwt-secret")
			if secret == "" {
				return fmt.Errorf("INTAKELINE_JWT_SECRET is required for bearer auth")
			}
			log, err := newLogger()
			if err != nil {
				return err
			}
			defer log.Sync()
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			e, conn, err := app.Open(ctx, settings(log))
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := app.Bootstrap(ctx, e, viper.GetString("actor-id")); err != nil {
				return err
			}
			handler, err := server.New(server.Config{
				Engine:   e,
				BasePath: basePath,
				Logger:   log,
				Auth: server.AuthConfig{
					JWTSecret:              secret,
					AllowLegacyActorHeader: legacyHeaders,
					EnableDevLogin:         devLogin,
				},
			})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(shutdownCtx)
			}()
			fmt.Printf("Serving Intakeline API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&legacyHeaders, "legacy-headers", false, "accept unauthenticated X-Actor-Id/X-Role headers (dev only)")
	cmd.Flags().BoolVar(&devLogin, "dev-login", false, "expose POST /auth/dev/login (dev only)")
	return cmd
}

func tokenCmd() *cobra.Command {
	var actor, role string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for the API",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := viper.GetString("jwt-secret")
			if secret == "" {
				return fmt.Errorf("INTAKELINE_JWT_SECRET is required")
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if _, ok := cfg.RBAC.Roles[role]; !ok && len(cfg.RBAC.Roles) > 0 {
				return fmt.Errorf("unknown role %q", role)
			}
			token, err := server.SignToken(secret, actor, role, ttl, time.Now())
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "", "actor id (token subject)")
	cmd.Flags().StringVar(&role, "role", "", "role claim")
	cmd.Flags().DurationVar(&ttl, "ttl", 12*time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("actor")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}

func logCmd() *cobra.Command {
	lg := &cobra.Command{Use: "log", Short: "Event log"}
	lg.AddCommand(logTailCmd())
	return lg
}

func logTailCmd() *cobra.Command {
	var n int
	var team, period, evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				f := repo.EventFilter{PeriodKey: period, EntityKind: entityKind, Limit: n}
				if team != "" {
					t, err := e.GetTeam(ctx, team)
					if err != nil {
						return err
					}
					f.TeamID = t.ID
				}
				if evtType != "" {
					f.Types = []string{evtType}
				}
				if entityID != "" {
					f.EntityIDs = []string{entityID}
				}
				events, err := e.ActivityLog(ctx, f)
				if err != nil {
					return err
				}
				return printJSONOrTable(events, func() {
					tw := table.NewWriter()
					tw.SetOutputMirror(os.Stdout)
					tw.AppendHeader(table.Row{"ID", "TS", "Type", "Entity", "Actor", "Payload"})
					for _, evt := range events {
						entity := evt.EntityKind
						if evt.EntityID != "" {
							entity += ":" + evt.EntityID
						}
						tw.AppendRow(table.Row{evt.ID, evt.TS, evt.Type, entity, evt.ActorID, strings.TrimSpace(evt.Payload)})
					}
					tw.Render()
				})
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&team, "team", "", "team id or code")
	cmd.Flags().StringVar(&period, "period", "", "period key")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}
