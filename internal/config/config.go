package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"intakeline/internal/domain"
	"intakeline/internal/engine/pipeline"
)

// Config models intakeline.yml.
type Config struct {
	Workspace struct {
		ID string `yaml:"id"`
	} `yaml:"workspace"`
	Workflow struct {
		InitialStatus   string         `yaml:"initial_status"`
		ActiveStatus    string         `yaml:"active_status"`
		DoneStatus      string         `yaml:"done_status"`
		ConfirmStatuses []string       `yaml:"confirm_statuses"`
		Statuses        []StatusConfig `yaml:"statuses"`
	} `yaml:"workflow"`
	Quadrants struct {
		ExcludeStatuses []string `yaml:"exclude_statuses"`
	} `yaml:"quadrants"`
	Periods struct {
		InitialKey   string `yaml:"initial_key"`
		InitialLabel string `yaml:"initial_label"`
		TopCompleted int    `yaml:"top_completed"`
	} `yaml:"periods"`
	RBAC struct {
		Roles map[string]RBACRole `yaml:"roles"`
	} `yaml:"rbac"`
}

type StatusConfig struct {
	Key      string   `yaml:"key"`
	Label    string   `yaml:"label"`
	Position int      `yaml:"position"`
	Next     []string `yaml:"next"`
	Inactive bool     `yaml:"inactive"`
}

type RBACRole struct {
	Description string   `yaml:"description"`
	Permissions []string `yaml:"permissions"`
}

// SeedStatuses returns the configured bootstrap pipeline, or the built-in
// default when none is configured.
func (c *Config) SeedStatuses() []domain.StatusDefinition {
	if len(c.Workflow.Statuses) == 0 {
		return pipeline.DefaultStatuses()
	}
	out := make([]domain.StatusDefinition, 0, len(c.Workflow.Statuses))
	for _, s := range c.Workflow.Statuses {
		out = append(out, domain.StatusDefinition{
			Key:         s.Key,
			Label:       s.Label,
			Position:    s.Position,
			AllowedNext: s.Next,
			Active:      !s.Inactive,
		})
	}
	return out
}

// RequiresConfirmation reports whether moving into status needs an explicit
// confirmation from the caller.
func (c *Config) RequiresConfirmation(status string) bool {
	for _, s := range c.Workflow.ConfirmStatuses {
		if strings.EqualFold(strings.TrimSpace(s), status) {
			return true
		}
	}
	return false
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Workspace.ID == "" {
		return fmt.Errorf("config.workspace.id is required")
	}
	seed, err := pipeline.Normalize(c.SeedStatuses())
	if err != nil {
		return fmt.Errorf("config.workflow.statuses: %w", err)
	}
	known := map[string]bool{}
	for _, s := range seed {
		known[s.Key] = true
	}
	for name, key := range map[string]string{
		"initial_status": c.Workflow.InitialStatus,
		"active_status":  c.Workflow.ActiveStatus,
		"done_status":    c.Workflow.DoneStatus,
	} {
		if key == "" {
			return fmt.Errorf("config.workflow.%s is required", name)
		}
		if !known[key] {
			return fmt.Errorf("config.workflow.%s references unknown status %s", name, key)
		}
	}
	for _, key := range c.Workflow.ConfirmStatuses {
		if !known[key] {
			return fmt.Errorf("config.workflow.confirm_statuses references unknown status %s", key)
		}
	}
	if c.Periods.InitialKey == "" {
		return fmt.Errorf("config.periods.initial_key is required")
	}
	if c.Periods.TopCompleted < 0 {
		return fmt.Errorf("config.periods.top_completed must not be negative")
	}
	if len(c.RBAC.Roles) > 0 {
		if _, ok := c.RBAC.Roles["admin"]; !ok {
			return fmt.Errorf("config.rbac.roles must include admin")
		}
		for roleID, role := range c.RBAC.Roles {
			if roleID == "" {
				return fmt.Errorf("config.rbac.roles contains empty role id")
			}
			for _, perm := range role.Permissions {
				if perm == "" {
					return fmt.Errorf("role %s has empty permission id", roleID)
				}
			}
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "intakeline.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(workspaceID string) string {
	return fmt.Sprintf(defaultTemplate, workspaceID)
}

// Load reads config from the workspace, falling back to the default when the
// file does not exist.
func Load(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default("default"), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct.
func Default(workspaceID string) *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(GenerateDefault(workspaceID))).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if cfg.Periods.TopCompleted == 0 {
		cfg.Periods.TopCompleted = 5
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `workspace:
  id: %s

workflow:
  initial_status: backlog
  active_status: in_progress
  done_status: done
  confirm_statuses: [done, cancelled]
  statuses:
    - {key: backlog, label: Backlog, position: 10, next: [prioritized, cancelled]}
    - {key: prioritized, label: Prioritized, position: 20, next: [in_progress, backlog, cancelled]}
    - {key: in_progress, label: In progress, position: 30, next: [qa_review, done, prioritized, cancelled]}
    - {key: qa_review, label: QA review, position: 40, next: [done, in_progress]}
    - {key: done, label: Done, position: 50, next: [backlog]}
    - {key: cancelled, label: Cancelled, position: 60, next: [backlog]}

quadrants:
  exclude_statuses: [backlog, cancelled]

periods:
  initial_key: FY26-27
  initial_label: FY 2026-27
  top_completed: 5

rbac:
  roles:
    admin:
      description: "Manages statuses, teams and period close"
      permissions: [request.write, request.transition, blocker.write, objective.write, status.write, team.write, period.close]
    lead:
      description: "Team lead; triages and closes periods"
      permissions: [request.write, request.transition, blocker.write, objective.write, period.close]
    developer:
      description: "Works requests"
      permissions: [request.write, request.transition, blocker.write]
    viewer:
      description: "Read only"
      permissions: []
`
