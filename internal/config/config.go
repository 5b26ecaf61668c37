package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/cobra"
)

// EnvPrefix is the prefix for environment overrides. A double underscore
// separates nesting levels: CHORUS_QUOTA__MESSAGE_LIMIT sets quota.message_limit.
const EnvPrefix = "CHORUS_"

type Config struct {
	Server       ServerConfig       `koanf:"server"`
	Models       ModelsConfig       `koanf:"models"`
	Quota        QuotaConfig        `koanf:"quota"`
	Orchestrator OrchestratorConfig `koanf:"orchestrator"`
	Stream       StreamConfig       `koanf:"stream"`
	Speakers     SpeakersConfig     `koanf:"speakers"`
	Tools        ToolsConfig        `koanf:"tools"`
	Store        StoreConfig        `koanf:"store"`
	Daemon       DaemonConfig       `koanf:"daemon"`
	Observe      ObserveConfig      `koanf:"observe"`
}

type ServerConfig struct {
	Port            int    `koanf:"port"`
	LogLevel        string `koanf:"log_level"`
	ReadTimeout     string `koanf:"read_timeout"`
	WriteTimeout    string `koanf:"write_timeout"`
	IdleTimeout     string `koanf:"idle_timeout"`
	ShutdownTimeout string `koanf:"shutdown_timeout"`

	// FrameWriteTimeout bounds each flushed stream frame.
	FrameWriteTimeout string `koanf:"frame_write_timeout"`
}

type ModelsConfig struct {
	Default   string          `koanf:"default"`
	Embedding string          `koanf:"embedding"`
	Registry  []ModelRegistry `koanf:"registry"`
}

type ModelRegistry struct {
	Name           string `koanf:"name"`
	Provider       string `koanf:"provider"`
	Model          string `koanf:"model"`
	BaseURL        string `koanf:"base_url"`
	APIKey         string `koanf:"api_key"`
	MaxTokens      int    `koanf:"max_tokens"`
	RequestTimeout string `koanf:"request_timeout"`
}

type QuotaConfig struct {
	Backend             string   `koanf:"backend"`
	MessageLimit        int      `koanf:"message_limit"`
	WarningRemaining    int      `koanf:"warning_remaining"`
	UnlimitedPrincipals []string `koanf:"unlimited_principals"`
	SQLitePath          string   `koanf:"sqlite_path"`
	PostgresDSN         string   `koanf:"postgres_dsn"`
}

type OrchestratorConfig struct {
	MaxRounds    int    `koanf:"max_rounds"`
	SystemPrompt string `koanf:"system_prompt"`
	MaxTokens    int    `koanf:"max_tokens"`

	// HistoryLimit caps transcript lines replayed when a request carries no history.
	HistoryLimit int `koanf:"history_limit"`
}

type StreamConfig struct {
	BufferSize    int    `koanf:"buffer_size"`
	PacingPerChar string `koanf:"pacing_per_char"`
}

type SpeakersConfig struct {
	CatalogPath string `koanf:"catalog_path"`
	Default     string `koanf:"default"`
}

type ToolsConfig struct {
	Enabled   []string        `koanf:"enabled"`
	Timeout   string          `koanf:"timeout"`
	Bookmarks BookmarksConfig `koanf:"bookmarks"`
}

type BookmarksConfig struct {
	Collection   string `koanf:"collection"`
	DefaultLimit int    `koanf:"default_limit"`
}

type StoreConfig struct {
	LockTimeout              string `koanf:"lock_timeout"`
	LockRetry                string `koanf:"lock_retry"`
	InboxSize                int    `koanf:"inbox_size"`
	TranscriptRotateMaxBytes int64  `koanf:"transcript_rotate_max_bytes"`
}

type DaemonConfig struct {
	ShutdownTimeout        string `koanf:"shutdown_timeout"`
	HealthCheckInterval    string `koanf:"health_check_interval"`
	StartupShutdownTimeout string `koanf:"startup_shutdown_timeout"`
	StaleLockTTL           string `koanf:"stale_lock_ttl"`
	WorkspacePath          string `koanf:"workspace_path"`
	WorkspaceID            string `koanf:"workspace_id"`
}

type ObserveConfig struct {
	MetricsEnabled bool   `koanf:"metrics_enabled"`
	ServiceName    string `koanf:"service_name"`
}

const (
	DefaultWorkspaceID                   = "default"
	DefaultServerPort                    = 8080
	DefaultServerLogLevel                = "info"
	DefaultServerReadTimeout             = "10s"
	DefaultServerWriteTimeout            = "0s"
	DefaultServerIdleTimeout             = "60s"
	DefaultServerShutdownTimeout         = "5s"
	DefaultServerFrameWriteTimeout       = "10s"
	DefaultModelDefault                  = "claude-sonnet"
	DefaultModelEmbedding                = "text-embedding-3-small"
	DefaultAnthropicModel                = "claude-sonnet-4-5"
	DefaultOpenAIModel                   = "gpt-4o-mini"
	DefaultModelMaxTokens                = 4096
	DefaultModelRequestTimeout           = "120s"
	DefaultQuotaBackend                  = "store"
	DefaultQuotaMessageLimit             = 20
	DefaultQuotaWarningRemaining         = 3
	DefaultOrchestratorMaxRounds         = 5
	DefaultOrchestratorMaxTokens         = 4096
	DefaultOrchestratorHistoryLimit      = 40
	DefaultOrchestratorSystemPrompt      = "You are a helpful assistant working inside a team of specialists. Use the available tools when they help the user, and answer directly when they do not."
	DefaultStreamBufferSize              = 64
	DefaultStreamPacingPerChar           = "0s"
	DefaultSpeakersDefault               = "assistant"
	DefaultToolsTimeout                  = "30s"
	DefaultBookmarksCollection           = "bookmarks"
	DefaultBookmarksLimit                = 5
	DefaultStoreLockTimeout              = "30s"
	DefaultStoreLockRetry                = "100ms"
	DefaultStoreInboxSize                = 100
	DefaultStoreTranscriptRotateMaxBytes = 10 * 1024 * 1024
	DefaultDaemonShutdownTimeout         = "30s"
	DefaultDaemonHealthCheckInterval     = "30s"
	DefaultDaemonStartupShutdownTimeout  = "10s"
	DefaultDaemonStaleLockTTL            = "15m"
	DefaultObserveMetricsEnabled         = true
	DefaultObserveServiceName            = "chorus"
)

// DefaultTools lists the built-in tools enabled when tools.enabled is unset.
var DefaultTools = []string{"switch_speaker", "recommend_action", "generate_document", "search_bookmarks", "save_bookmark"}

func Load(cmd *cobra.Command) (*Config, error) {
	k := koanf.New(".")

	defaults := map[string]interface{}{
		"server.port":                DefaultServerPort,
		"server.log_level":           DefaultServerLogLevel,
		"server.read_timeout":        DefaultServerReadTimeout,
		"server.write_timeout":       DefaultServerWriteTimeout,
		"server.idle_timeout":        DefaultServerIdleTimeout,
		"server.shutdown_timeout":    DefaultServerShutdownTimeout,
		"server.frame_write_timeout": DefaultServerFrameWriteTimeout,
		"models.default":             DefaultModelDefault,
		"models.embedding":           DefaultModelEmbedding,
		"models.registry": []ModelRegistry{
			{Name: DefaultModelDefault, Provider: "anthropic", Model: DefaultAnthropicModel},
			{Name: "gpt-mini", Provider: "openai", Model: DefaultOpenAIModel},
			{Name: DefaultModelEmbedding, Provider: "openai", Model: DefaultModelEmbedding},
		},
		"quota.backend":                     DefaultQuotaBackend,
		"quota.message_limit":               DefaultQuotaMessageLimit,
		"quota.warning_remaining":           DefaultQuotaWarningRemaining,
		"quota.unlimited_principals":        []string{},
		"orchestrator.max_rounds":           DefaultOrchestratorMaxRounds,
		"orchestrator.max_tokens":           DefaultOrchestratorMaxTokens,
		"orchestrator.history_limit":        DefaultOrchestratorHistoryLimit,
		"orchestrator.system_prompt":        DefaultOrchestratorSystemPrompt,
		"stream.buffer_size":                DefaultStreamBufferSize,
		"stream.pacing_per_char":            DefaultStreamPacingPerChar,
		"speakers.default":                  DefaultSpeakersDefault,
		"tools.enabled":                     DefaultTools,
		"tools.timeout":                     DefaultToolsTimeout,
		"tools.bookmarks.collection":        DefaultBookmarksCollection,
		"tools.bookmarks.default_limit":     DefaultBookmarksLimit,
		"store.lock_timeout":                DefaultStoreLockTimeout,
		"store.lock_retry":                  DefaultStoreLockRetry,
		"store.inbox_size":                  DefaultStoreInboxSize,
		"store.transcript_rotate_max_bytes": DefaultStoreTranscriptRotateMaxBytes,
		"daemon.shutdown_timeout":           DefaultDaemonShutdownTimeout,
		"daemon.health_check_interval":      DefaultDaemonHealthCheckInterval,
		"daemon.startup_shutdown_timeout":   DefaultDaemonStartupShutdownTimeout,
		"daemon.stale_lock_ttl":             DefaultDaemonStaleLockTTL,
		"daemon.workspace_path":             filepath.Join(os.Getenv("HOME"), ".chorus", "workspaces"),
		"daemon.workspace_id":               DefaultWorkspaceID,
		"observe.metrics_enabled":           DefaultObserveMetricsEnabled,
		"observe.service_name":              DefaultObserveServiceName,
	}
	for key, value := range defaults {
		k.Set(key, value)
	}

	configPath := ""
	if cmd != nil {
		if flag := cmd.Flags().Lookup("config"); flag != nil {
			configPath = strings.TrimSpace(flag.Value.String())
		}
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, err
		}
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			globalPath := filepath.Join(home, ".chorus", "config.yaml")
			if err := k.Load(file.Provider(globalPath), yaml.Parser()); err != nil {
				slog.Debug("Global config not found or invalid", "path", globalPath, "error", err)
			}
		}
	}

	k.Load(env.Provider(EnvPrefix, ".", envKey), nil)

	if cmd != nil {
		k.Load(posflag.Provider(cmd.Flags(), ".", k), nil)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	for i, m := range cfg.Models.Registry {
		if m.Provider == "" {
			cfg.Models.Registry[i].Provider = "openai"
		}
		if m.Model == "" {
			cfg.Models.Registry[i].Model = m.Name
		}
	}

	if err := normalizePathFields(&cfg); err != nil {
		return nil, err
	}

	injectProviderKeys(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects settings the service cannot run with.
func (c *Config) Validate() error {
	if c.Quota.MessageLimit < 0 {
		return fmt.Errorf("quota.message_limit must not be negative, got %d", c.Quota.MessageLimit)
	}
	switch c.Quota.Backend {
	case "store", "sqlite", "postgres", "memory":
	default:
		return fmt.Errorf("quota.backend %q is not one of store, sqlite, postgres, memory", c.Quota.Backend)
	}
	if c.Quota.Backend == "postgres" && strings.TrimSpace(c.Quota.PostgresDSN) == "" {
		return fmt.Errorf("quota.postgres_dsn is required for the postgres backend")
	}
	if c.Orchestrator.MaxRounds <= 0 {
		return fmt.Errorf("orchestrator.max_rounds must be positive, got %d", c.Orchestrator.MaxRounds)
	}
	if c.Stream.BufferSize <= 0 {
		return fmt.Errorf("stream.buffer_size must be positive, got %d", c.Stream.BufferSize)
	}
	if _, err := DurationOrDefault(c.Stream.PacingPerChar, DefaultStreamPacingPerChar); err != nil {
		return fmt.Errorf("stream.pacing_per_char: %w", err)
	}
	return nil
}

// IsUnlimited reports whether principal bypasses the message quota.
func (q QuotaConfig) IsUnlimited(principal string) bool {
	principal = strings.TrimSpace(principal)
	if principal == "" {
		return false
	}
	for _, p := range q.UnlimitedPrincipals {
		if strings.EqualFold(strings.TrimSpace(p), principal) {
			return true
		}
	}
	return false
}

func envKey(s string) string {
	trimmed := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(trimmed, "__", ".")
}

func injectProviderKeys(cfg *Config) {
	keys := map[string]string{
		"openai":    os.Getenv("OPENAI_API_KEY"),
		"anthropic": os.Getenv("ANTHROPIC_API_KEY"),
		"gemini":    os.Getenv("GEMINI_API_KEY"),
	}
	for i, m := range cfg.Models.Registry {
		if m.APIKey != "" {
			continue
		}
		if key := keys[m.Provider]; key != "" {
			cfg.Models.Registry[i].APIKey = key
		}
	}
}

func normalizePathFields(cfg *Config) error {
	if cfg == nil {
		return nil
	}

	fields := []*string{
		&cfg.Daemon.WorkspacePath,
		&cfg.Speakers.CatalogPath,
		&cfg.Quota.SQLitePath,
	}
	for _, field := range fields {
		expanded, err := ExpandPath(*field)
		if err != nil {
			return err
		}
		if expanded != "" {
			*field = expanded
		}
	}

	return nil
}
