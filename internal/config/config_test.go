package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultValidates(t *testing.T) {
	cfg := Default("ws-1")
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Workflow.ActiveStatus != "in_progress" || cfg.Workflow.DoneStatus != "done" {
		t.Fatalf("unexpected workflow: %+v", cfg.Workflow)
	}
	if !cfg.RequiresConfirmation("cancelled") || cfg.RequiresConfirmation("in_progress") {
		t.Fatalf("unexpected confirmation set %v", cfg.Workflow.ConfirmStatuses)
	}
	if len(cfg.SeedStatuses()) != 6 {
		t.Fatalf("expected 6 seed statuses")
	}
}

func TestValidateRejectsUnknownActiveStatus(t *testing.T) {
	yml := strings.Replace(GenerateDefault("ws"), "active_status: in_progress", "active_status: doing", 1)
	if _, err := FromYAML([]byte(yml)); err == nil || !strings.Contains(err.Error(), "active_status") {
		t.Fatalf("expected active_status error, got %v", err)
	}
}

func TestValidateRejectsBadStatusKey(t *testing.T) {
	yml := strings.Replace(GenerateDefault("ws"), "{key: qa_review,", "{key: \"qa review\",", 1)
	if _, err := FromYAML([]byte(yml)); err == nil {
		t.Fatalf("expected malformed key error")
	}
}

func TestValidateRequiresAdminRole(t *testing.T) {
	cfg := Default("ws")
	delete(cfg.RBAC.Roles, "admin")
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected admin role error")
	}
}

func TestLoadFallsBackToDefault(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Periods.InitialKey != "FY26-27" {
		t.Fatalf("unexpected initial key %q", cfg.Periods.InitialKey)
	}
	yml := strings.Replace(GenerateDefault("custom"), "initial_key: FY26-27", "initial_key: PERIOD-1", 1)
	if err := os.WriteFile(filepath.Join(dir, "intakeline.yml"), []byte(yml), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err = Load(dir)
	if err != nil {
		t.Fatalf("load file: %v", err)
	}
	if cfg.Workspace.ID != "custom" || cfg.Periods.InitialKey != "PERIOD-1" {
		t.Fatalf("file not honored: %+v", cfg)
	}
}
