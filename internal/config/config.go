// Package config provides configuration management for the ads server.
// It supports loading configuration from environment variables, an optional
// config file, and defaults.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/adskit/ads/internal/common/logger"
)

// Config holds all configuration sections for the ads server.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Workspace   WorkspaceConfig   `mapstructure:"workspace"`
	Agents      AgentsConfig      `mapstructure:"agents"`
	Session     SessionConfig     `mapstructure:"session"`
	Coordinator CoordinatorConfig `mapstructure:"coordinator"`
	Gateway     GatewayConfig     `mapstructure:"gateway"`
	NATS        NATSConfig        `mapstructure:"nats"`
	Logging     logger.Config     `mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"readTimeout"`  // in seconds
	WriteTimeout int    `mapstructure:"writeTimeout"` // in seconds
}

// ReadTimeoutDuration returns the read timeout as a duration.
func (c ServerConfig) ReadTimeoutDuration() time.Duration {
	return time.Duration(c.ReadTimeout) * time.Second
}

// WriteTimeoutDuration returns the write timeout as a duration.
func (c ServerConfig) WriteTimeoutDuration() time.Duration {
	return time.Duration(c.WriteTimeout) * time.Second
}

// WorkspaceConfig holds the workspace root; all persisted state lives under
// <root>/.ads/.
type WorkspaceConfig struct {
	Root string `mapstructure:"root"`
}

// StateDir returns the directory holding persisted state.
func (c WorkspaceConfig) StateDir() string {
	return filepath.Join(c.Root, ".ads")
}

// StateDBPath returns the SQLite database path.
func (c WorkspaceConfig) StateDBPath() string {
	return filepath.Join(c.StateDir(), "state.db")
}

// MarkerPath returns the workspace marker file path.
func (c WorkspaceConfig) MarkerPath() string {
	return filepath.Join(c.StateDir(), "workspace.json")
}

// AgentsConfig holds per-agent binaries, credentials and feature toggles.
type AgentsConfig struct {
	CodexBin  string `mapstructure:"codexBin"`
	AmpBin    string `mapstructure:"ampBin"`
	ClaudeBin string `mapstructure:"claudeBin"`
	GeminiBin string `mapstructure:"geminiBin"`
	DroidBin  string `mapstructure:"droidBin"`

	ProbeTimeoutMs int `mapstructure:"probeTimeoutMs"`

	EnableClaude bool `mapstructure:"enableClaude"`
	EnableGemini bool `mapstructure:"enableGemini"`

	ClaudeAPIKey    string `mapstructure:"claudeApiKey"`
	AnthropicAPIKey string `mapstructure:"anthropicApiKey"`
	ClaudeModel     string `mapstructure:"claudeModel"`
	ClaudeBaseURL   string `mapstructure:"claudeBaseUrl"`

	GeminiAPIKey string `mapstructure:"geminiApiKey"`
	GoogleAPIKey string `mapstructure:"googleApiKey"`
	GeminiModel  string `mapstructure:"geminiModel"`
	UseVertexAI  bool   `mapstructure:"useVertexAi"`
}

// ProbeTimeout returns the availability probe timeout.
func (c AgentsConfig) ProbeTimeout() time.Duration {
	if c.ProbeTimeoutMs <= 0 {
		return 3 * time.Second
	}
	return time.Duration(c.ProbeTimeoutMs) * time.Millisecond
}

// SessionConfig holds session manager configuration.
type SessionConfig struct {
	IdleTimeoutMs     int `mapstructure:"idleTimeoutMs"`     // 0 = never expire
	CleanupIntervalMs int `mapstructure:"cleanupIntervalMs"` // 0 = disabled
}

// IdleTimeout returns the idle timeout; zero or negative disables expiry.
func (c SessionConfig) IdleTimeout() time.Duration {
	return time.Duration(c.IdleTimeoutMs) * time.Millisecond
}

// CleanupInterval returns the cleanup ticker interval.
func (c SessionConfig) CleanupInterval() time.Duration {
	return time.Duration(c.CleanupIntervalMs) * time.Millisecond
}

// CoordinatorConfig holds the task coordinator and verification settings.
type CoordinatorConfig struct {
	Enabled                bool   `mapstructure:"enabled"`
	SupervisorAgentID      string `mapstructure:"supervisorAgentId"`
	MaxSupervisorRounds    int    `mapstructure:"maxSupervisorRounds"`
	MaxDelegations         int    `mapstructure:"maxDelegations"`
	MaxParallelDelegations int    `mapstructure:"maxParallelDelegations"`
	TaskTimeoutMs          int    `mapstructure:"taskTimeoutMs"`
	MaxTaskAttempts        int    `mapstructure:"maxTaskAttempts"`
	RetryBackoffMs         int    `mapstructure:"retryBackoffMs"`

	VerificationEnabled bool     `mapstructure:"verificationEnabled"`
	ExecToolEnabled     bool     `mapstructure:"execToolEnabled"`
	CommandAllowList    []string `mapstructure:"commandAllowList"`
}

// GatewayConfig holds WebSocket bridge configuration.
type GatewayConfig struct {
	AllowedOrigins []string `mapstructure:"allowedOrigins"`
	BearerToken    string   `mapstructure:"bearerToken"`
	MaxClients     int      `mapstructure:"maxClients"`
	HeartbeatMs    int      `mapstructure:"heartbeatMs"`
	MaxMissedPongs int      `mapstructure:"maxMissedPongs"`
	HistoryLimit   int      `mapstructure:"historyLimit"`
}

// NATSConfig holds optional NATS event bus configuration. An empty URL keeps
// fan-out on the in-memory bus.
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	MaxReconnects int    `mapstructure:"maxReconnects"`
}

// Load reads configuration from the environment and an optional .ads.yaml in
// the working directory.
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)
	bindEnv(v)

	v.SetConfigName(".ads")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8788)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 30)

	v.SetDefault("workspace.root", ".")

	v.SetDefault("agents.codexBin", "codex")
	v.SetDefault("agents.ampBin", "amp")
	v.SetDefault("agents.claudeBin", "claude")
	v.SetDefault("agents.geminiBin", "gemini")
	v.SetDefault("agents.droidBin", "droid")
	v.SetDefault("agents.probeTimeoutMs", 3000)
	v.SetDefault("agents.enableClaude", true)
	v.SetDefault("agents.enableGemini", true)
	v.SetDefault("agents.claudeApiKey", "")
	v.SetDefault("agents.anthropicApiKey", "")
	v.SetDefault("agents.claudeModel", "")
	v.SetDefault("agents.claudeBaseUrl", "")
	v.SetDefault("agents.geminiApiKey", "")
	v.SetDefault("agents.googleApiKey", "")
	v.SetDefault("agents.geminiModel", "")
	v.SetDefault("agents.useVertexAi", false)

	v.SetDefault("session.idleTimeoutMs", 0)
	v.SetDefault("session.cleanupIntervalMs", 60000)

	v.SetDefault("coordinator.enabled", true)
	v.SetDefault("coordinator.supervisorAgentId", "codex")
	v.SetDefault("coordinator.maxSupervisorRounds", 3)
	v.SetDefault("coordinator.maxDelegations", 4)
	v.SetDefault("coordinator.maxParallelDelegations", 2)
	v.SetDefault("coordinator.taskTimeoutMs", 10*60*1000)
	v.SetDefault("coordinator.maxTaskAttempts", 2)
	v.SetDefault("coordinator.retryBackoffMs", 1000)
	v.SetDefault("coordinator.verificationEnabled", true)
	v.SetDefault("coordinator.execToolEnabled", true)
	v.SetDefault("coordinator.commandAllowList", []string{
		"go", "node", "npm", "pnpm", "yarn", "make", "cargo", "pytest",
	})

	v.SetDefault("gateway.allowedOrigins", []string{})
	v.SetDefault("gateway.bearerToken", "")
	v.SetDefault("gateway.maxClients", 16)
	v.SetDefault("gateway.heartbeatMs", 30000)
	v.SetDefault("gateway.maxMissedPongs", 2)
	v.SetDefault("gateway.historyLimit", 200)

	v.SetDefault("nats.url", "")
	v.SetDefault("nats.maxReconnects", 10)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "")
}

// bindEnv wires the recognised environment variables. Names are contractual;
// a missing variable falls through to the default.
func bindEnv(v *viper.Viper) {
	bind := func(key string, envs ...string) {
		args := append([]string{key}, envs...)
		_ = v.BindEnv(args...)
	}

	bind("server.host", "ADS_HOST")
	bind("server.port", "ADS_PORT")
	bind("workspace.root", "ADS_WORKSPACE")

	bind("agents.codexBin", "ADS_CODEX_BIN")
	bind("agents.ampBin", "ADS_AMP_BIN")
	bind("agents.claudeBin", "ADS_CLAUDE_BIN")
	bind("agents.geminiBin", "ADS_GEMINI_BIN")
	bind("agents.droidBin", "ADS_DROID_BIN")
	bind("agents.probeTimeoutMs", "ADS_AGENT_PROBE_TIMEOUT_MS")
	bind("agents.enableClaude", "ENABLE_CLAUDE_AGENT")
	bind("agents.enableGemini", "ENABLE_GEMINI_AGENT")
	bind("agents.claudeApiKey", "CLAUDE_API_KEY")
	bind("agents.anthropicApiKey", "ANTHROPIC_API_KEY")
	bind("agents.claudeModel", "CLAUDE_MODEL")
	bind("agents.claudeBaseUrl", "CLAUDE_BASE_URL")
	bind("agents.geminiApiKey", "GEMINI_API_KEY")
	bind("agents.googleApiKey", "GOOGLE_API_KEY")
	bind("agents.geminiModel", "GEMINI_MODEL")
	bind("agents.useVertexAi", "GOOGLE_GENAI_USE_VERTEXAI")

	bind("session.idleTimeoutMs", "ADS_SESSION_TIMEOUT_MS")

	bind("coordinator.enabled", "ADS_COORDINATOR_ENABLED")
	bind("coordinator.supervisorAgentId", "ADS_SUPERVISOR_AGENT")
	bind("coordinator.verificationEnabled", "ADS_TASK_VERIFICATION_ENABLED")
	bind("coordinator.execToolEnabled", "ENABLE_AGENT_EXEC_TOOL")
	bind("coordinator.taskTimeoutMs", "ADS_TASK_TIMEOUT_MS")
	bind("coordinator.maxTaskAttempts", "ADS_MAX_TASK_ATTEMPTS")

	bind("gateway.bearerToken", "ADS_GATEWAY_TOKEN")
	bind("gateway.maxClients", "ADS_GATEWAY_MAX_CLIENTS")

	bind("nats.url", "ADS_NATS_URL")

	bind("logging.level", "ADS_LOG_LEVEL")
	bind("logging.format", "ADS_LOG_FORMAT")
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if c.Coordinator.MaxSupervisorRounds <= 0 {
		return fmt.Errorf("coordinator.maxSupervisorRounds must be positive")
	}
	if c.Coordinator.MaxTaskAttempts <= 0 {
		return fmt.Errorf("coordinator.maxTaskAttempts must be positive")
	}
	if c.Coordinator.MaxParallelDelegations <= 0 {
		return fmt.Errorf("coordinator.maxParallelDelegations must be positive")
	}
	if c.Gateway.MaxClients <= 0 {
		return fmt.Errorf("gateway.maxClients must be positive")
	}
	return nil
}

// FeatureFlags captures which optional agents are usable. Codex is always
// enabled; Claude and Gemini additionally require credentials.
type FeatureFlags struct {
	Claude bool
	Gemini bool
}

// AgentFeatureFlags derives the feature flags from configuration. Pure
// function over the config struct.
func AgentFeatureFlags(cfg *Config) FeatureFlags {
	claude := ResolveClaudeConfig(cfg)
	gemini := ResolveGeminiConfig(cfg)
	return FeatureFlags{
		Claude: cfg.Agents.EnableClaude && claude.APIKey != "",
		Gemini: cfg.Agents.EnableGemini && gemini.APIKey != "",
	}
}

// ClaudeAgentConfig is the resolved Claude SDK configuration.
type ClaudeAgentConfig struct {
	APIKey  string
	Model   string
	BaseURL string
}

// ResolveClaudeConfig resolves the Claude credentials; CLAUDE_API_KEY takes
// precedence over ANTHROPIC_API_KEY.
func ResolveClaudeConfig(cfg *Config) ClaudeAgentConfig {
	key := cfg.Agents.ClaudeAPIKey
	if key == "" {
		key = cfg.Agents.AnthropicAPIKey
	}
	model := cfg.Agents.ClaudeModel
	if model == "" {
		model = "claude-sonnet-4-5"
	}
	return ClaudeAgentConfig{
		APIKey:  key,
		Model:   model,
		BaseURL: strings.TrimSuffix(cfg.Agents.ClaudeBaseURL, "/"),
	}
}

// GeminiAgentConfig is the resolved Gemini HTTP configuration.
type GeminiAgentConfig struct {
	APIKey      string
	Model       string
	UseVertexAI bool
}

// ResolveGeminiConfig resolves the Gemini credentials; GEMINI_API_KEY takes
// precedence over GOOGLE_API_KEY.
func ResolveGeminiConfig(cfg *Config) GeminiAgentConfig {
	key := cfg.Agents.GeminiAPIKey
	if key == "" {
		key = cfg.Agents.GoogleAPIKey
	}
	model := cfg.Agents.GeminiModel
	if model == "" {
		model = "gemini-2.0-flash"
	}
	return GeminiAgentConfig{APIKey: key, Model: model, UseVertexAI: cfg.Agents.UseVertexAI}
}
