package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"intakeline/internal/app"
	"intakeline/internal/engine"
	"intakeline/internal/engine/auth"
)

var rootCmd = &cobra.Command{
	Use:   "il",
	Short: "Intakeline CLI",
	Long: `Intakeline takes in team requests, ranks them and closes planning periods.
Core concepts:
- Requests: incidents, improvements and projects filed per team, scored from urgency, importance and complexity.
- Quadrants: the urgency/importance board; dropping a request into a quadrant applies canonical levels.
- Statuses: an admin-editable pipeline; each status lists the statuses it may move to.
- Work gate: entering in_progress needs at least one objective and one assignee.
- Blockers: reported and resolved events; a request is blocked while reports outnumber resolutions.
- Period close: summarize a team's period, carry pending requests over and open the next period.
- Event log: every change is recorded, view with 'il log tail'.`,
	SilenceUsage: true,
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

// initConfig loads <workspace>/.env before reading INTAKELINE_* variables.
// Variables already set in the environment win.
func initConfig() {
	workspace := viper.GetString("workspace")
	if workspace == "" {
		workspace = "."
	}
	if err := godotenv.Load(filepath.Join(workspace, ".env")); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintln(os.Stderr, "warning: .env:", err)
	}
	viper.SetEnvPrefix("INTAKELINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	flags := rootCmd.PersistentFlags()
	flags.StringP("workspace", "w", ".", "workspace directory")
	flags.String("config", "", "config file (default <workspace>/intakeline.yml)")
	flags.String("driver", "sqlite", "database driver: sqlite or postgres")
	flags.String("dsn", "", "postgres connection string")
	flags.Bool("json", false, "output JSON")
	flags.String("actor-id", "local-user", "actor identifier")
	flags.String("role", "admin", "role used for permission checks")
	flags.String("log-level", "warn", "log level: debug, info, warn, error")
	for _, name := range []string{"workspace", "config", "driver", "dsn", "json", "actor-id", "role", "log-level"} {
		_ = viper.BindPFlag(name, flags.Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(teamCmd())
	rootCmd.AddCommand(devCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(objectiveCmd())
	rootCmd.AddCommand(requestCmd())
	rootCmd.AddCommand(blockerCmd())
	rootCmd.AddCommand(boardCmd())
	rootCmd.AddCommand(periodCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(tokenCmd())
}

func newLogger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(viper.GetString("log-level"))
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.Encoding = "console"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.OutputPaths = []string{"stderr"}
	return cfg.Build()
}

func settings(log *zap.Logger) app.Settings {
	return app.Settings{
		Workspace:  viper.GetString("workspace"),
		Driver:     viper.GetString("driver"),
		DSN:        viper.GetString("dsn"),
		ConfigPath: viper.GetString("config"),
		Log:        log,
	}
}

func caller() auth.Caller {
	return auth.Caller{ActorID: viper.GetString("actor-id"), Role: viper.GetString("role")}
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	log, err := newLogger()
	if err != nil {
		return err
	}
	defer log.Sync()
	e, conn, err := app.Open(ctx, settings(log))
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := app.Bootstrap(ctx, e, viper.GetString("actor-id")); err != nil {
		return err
	}
	return fn(ctx, e)
}

func printJSONOrTable(v any, table func()) error {
	if viper.GetBool("json") || table == nil {
		return printJSON(v)
	}
	table()
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func setEnvValue(path, key, value string) error {
	var lines []string
	seen := false
	f, err := os.Open(path)
	if err == nil {
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := scanner.Text()
			if strings.HasPrefix(line, key+"=") {
				lines = append(lines, fmt.Sprintf("%s=%s", key, value))
				seen = true
			} else {
				lines = append(lines, line)
			}
		}
		if err := scanner.Err(); err != nil {
			f.Close()
			return err
		}
		f.Close()
	} else if !os.IsNotExist(err) {
		return err
	}
	if !seen {
		lines = append(lines, fmt.Sprintf("%s=%s", key, value))
	}
	content := strings.Join(lines, "\n")
	if content != "" && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	return os.WriteFile(path, []byte(content), 0o600)
}
