package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
)

func clearProviderKeys(t *testing.T) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("GEMINI_API_KEY", "")
}

func TestLoadDefaults(t *testing.T) {
	clearProviderKeys(t)

	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Server.Port != DefaultServerPort {
		t.Errorf("Expected default port %d, got %d", DefaultServerPort, cfg.Server.Port)
	}
	if cfg.Models.Default != DefaultModelDefault {
		t.Errorf("Expected default model %s, got %s", DefaultModelDefault, cfg.Models.Default)
	}
	if cfg.Quota.Backend != DefaultQuotaBackend {
		t.Errorf("Expected default quota backend %s, got %s", DefaultQuotaBackend, cfg.Quota.Backend)
	}
	if cfg.Quota.MessageLimit != DefaultQuotaMessageLimit {
		t.Errorf("Expected default message limit %d, got %d", DefaultQuotaMessageLimit, cfg.Quota.MessageLimit)
	}
	if cfg.Quota.WarningRemaining != DefaultQuotaWarningRemaining {
		t.Errorf("Expected default warning remaining %d, got %d", DefaultQuotaWarningRemaining, cfg.Quota.WarningRemaining)
	}
	if cfg.Orchestrator.MaxRounds != DefaultOrchestratorMaxRounds {
		t.Errorf("Expected default max rounds %d, got %d", DefaultOrchestratorMaxRounds, cfg.Orchestrator.MaxRounds)
	}
	if cfg.Stream.BufferSize != DefaultStreamBufferSize {
		t.Errorf("Expected default stream buffer %d, got %d", DefaultStreamBufferSize, cfg.Stream.BufferSize)
	}
	if cfg.Speakers.Default != DefaultSpeakersDefault {
		t.Errorf("Expected default speaker %s, got %s", DefaultSpeakersDefault, cfg.Speakers.Default)
	}
	if len(cfg.Tools.Enabled) != len(DefaultTools) {
		t.Errorf("Expected %d default tools, got %v", len(DefaultTools), cfg.Tools.Enabled)
	}
	if cfg.Store.InboxSize != DefaultStoreInboxSize {
		t.Errorf("Expected default store inbox size %d, got %d", DefaultStoreInboxSize, cfg.Store.InboxSize)
	}
	if cfg.Daemon.WorkspaceID != DefaultWorkspaceID {
		t.Errorf("Expected default workspace id %s, got %s", DefaultWorkspaceID, cfg.Daemon.WorkspaceID)
	}
	if len(cfg.Models.Registry) != 3 {
		t.Fatalf("Expected 3 default registry entries, got %d", len(cfg.Models.Registry))
	}
	if cfg.Models.Registry[0].Provider != "anthropic" {
		t.Errorf("Expected first registry entry to be anthropic, got %s", cfg.Models.Registry[0].Provider)
	}
}

func TestLoadWithConfigFlag(t *testing.T) {
	clearProviderKeys(t)
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	content := []byte(`
server:
  port: 9090
quota:
  message_limit: 7
  unlimited_principals: [staff]
models:
  default: custom-model
  registry:
    - name: custom-model
      provider: anthropic
`)
	if err := os.WriteFile(configPath, content, 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cmd := &cobra.Command{}
	cmd.Flags().String("config", "", "config file path")
	if err := cmd.Flags().Set("config", configPath); err != nil {
		t.Fatalf("failed to set config flag: %v", err)
	}

	cfg, err := Load(cmd)
	if err != nil {
		t.Fatalf("failed to load config with --config: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Fatalf("expected port 9090, got %d", cfg.Server.Port)
	}
	if cfg.Quota.MessageLimit != 7 {
		t.Fatalf("expected message limit 7, got %d", cfg.Quota.MessageLimit)
	}
	if !cfg.Quota.IsUnlimited("STAFF") {
		t.Fatal("expected staff to be unlimited")
	}
	if cfg.Quota.IsUnlimited("guest") {
		t.Fatal("guest must not be unlimited")
	}
	if cfg.Models.Registry[0].Model != "custom-model" {
		t.Fatalf("expected model to default to the entry name, got %q", cfg.Models.Registry[0].Model)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	clearProviderKeys(t)
	t.Setenv("CHORUS_QUOTA__MESSAGE_LIMIT", "3")
	t.Setenv("CHORUS_STREAM__BUFFER_SIZE", "8")

	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Quota.MessageLimit != 3 {
		t.Fatalf("expected env message limit 3, got %d", cfg.Quota.MessageLimit)
	}
	if cfg.Stream.BufferSize != 8 {
		t.Fatalf("expected env buffer size 8, got %d", cfg.Stream.BufferSize)
	}
}

func TestLoadWithMissingConfigFlagReturnsError(t *testing.T) {
	cmd := &cobra.Command{}
	cmd.Flags().String("config", "", "config file path")
	if err := cmd.Flags().Set("config", filepath.Join(t.TempDir(), "missing.yaml")); err != nil {
		t.Fatalf("failed to set config flag: %v", err)
	}

	if _, err := Load(cmd); err == nil {
		t.Fatal("expected error when --config points to missing file")
	}
}

func TestLoad_ExpandsConfiguredPaths(t *testing.T) {
	clearProviderKeys(t)
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)

	configPath := filepath.Join(tmpDir, "config.yaml")
	content := []byte(`
daemon:
  workspace_path: ~/.chorus/workspaces
speakers:
  catalog_path: ~/.chorus/speakers.yaml
`)
	if err := os.WriteFile(configPath, content, 0644); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	cmd := &cobra.Command{}
	cmd.Flags().String("config", "", "config file path")
	if err := cmd.Flags().Set("config", configPath); err != nil {
		t.Fatalf("set config flag: %v", err)
	}

	cfg, err := Load(cmd)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	wantWorkspacePath := filepath.Join(tmpDir, ".chorus", "workspaces")
	if cfg.Daemon.WorkspacePath != wantWorkspacePath {
		t.Fatalf("workspace path = %q, want %q", cfg.Daemon.WorkspacePath, wantWorkspacePath)
	}
	wantCatalog := filepath.Join(tmpDir, ".chorus", "speakers.yaml")
	if cfg.Speakers.CatalogPath != wantCatalog {
		t.Fatalf("catalog path = %q, want %q", cfg.Speakers.CatalogPath, wantCatalog)
	}
}

func TestValidate(t *testing.T) {
	base := func() Config {
		return Config{
			Quota:        QuotaConfig{Backend: "store", MessageLimit: 1},
			Orchestrator: OrchestratorConfig{MaxRounds: 5},
			Stream:       StreamConfig{BufferSize: 1, PacingPerChar: "0s"},
		}
	}

	cfg := base()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	cfg = base()
	cfg.Quota.Backend = "redis"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected unknown backend to be rejected")
	}

	cfg = base()
	cfg.Quota.Backend = "postgres"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected postgres without dsn to be rejected")
	}

	cfg = base()
	cfg.Orchestrator.MaxRounds = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected zero max rounds to be rejected")
	}

	cfg = base()
	cfg.Stream.PacingPerChar = "fast"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected bad pacing duration to be rejected")
	}
}

func TestDurationOrDefault(t *testing.T) {
	d, err := DurationOrDefault("", "2s")
	if err != nil || d.Seconds() != 2 {
		t.Fatalf("expected fallback 2s, got %v (%v)", d, err)
	}
	if _, err := DurationOrDefault("-1s", "2s"); err == nil {
		t.Fatal("expected negative duration to be rejected")
	}
	if _, err := DurationOrDefault("", ""); err == nil {
		t.Fatal("expected empty duration to be rejected")
	}
}
