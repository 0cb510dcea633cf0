// Package config loads and validates the gateway's on-disk config.toml
// into a single Config struct aggregating per-component sub-configs with
// struct tags, following internal/sessions and internal/providers' shape
// one level up. Grounded on internal/config/config.go's
// Load/applyDefaults/applyEnvOverrides/validateConfig pattern, re-tagged
// for TOML.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the gateway's root configuration.
type Config struct {
	Server    ServerConfig    `toml:"server"`
	Auth      AuthConfig      `toml:"auth"`
	Session   SessionConfig   `toml:"session"`
	LLM       LLMConfig       `toml:"llm"`
	Nodes     NodesConfig     `toml:"nodes"`
	Quota     QuotaConfig     `toml:"quota"`
	Approval  ApprovalConfig  `toml:"approval"`
	Pruning   PruningConfig   `toml:"pruning"`
	Tasks     TasksConfig     `toml:"tasks"`
	Logging   LoggingConfig   `toml:"logging"`
}

// ServerConfig configures the HTTP/WS listener and on-startup provider policy.
type ServerConfig struct {
	Host        string `toml:"host"`
	HTTPPort    int    `toml:"http_port"`
	MetricsPort int    `toml:"metrics_port"`
	RequireLLM  bool   `toml:"require_llm"`
	DataDir     string `toml:"data_dir"`
}

// AuthConfig configures client/admin bearer authentication.
type AuthConfig struct {
	APIToken   string `toml:"api_token"`
	AdminToken string `toml:"admin_token"`
}

// SessionConfig configures session key routing and workspace context.
type SessionConfig struct {
	DefaultAgentID string                        `toml:"default_agent_id"`
	DMScope        string                        `toml:"dm_scope"`
	IdentityLinks  map[string]string             `toml:"identity_links"`
	Reset          ResetConfig                   `toml:"reset"`
}

// ResetConfig controls automatic session lifecycle resets.
type ResetConfig struct {
	Mode        string `toml:"mode"`
	AtHour      int    `toml:"at_hour"`
	IdleMinutes int    `toml:"idle_minutes"`
}

// LLMConfig configures the provider registry and role table.
type LLMConfig struct {
	ExecutorRole string                       `toml:"executor_role"`
	Anthropic    *ProviderKeyConfig           `toml:"anthropic"`
	OpenAI       *ProviderKeyConfig           `toml:"openai"`
	Bedrock      *BedrockKeyConfig            `toml:"bedrock"`
	Gemini       *ProviderKeyConfig           `toml:"gemini"`
	Roles        map[string]RoleTableEntry    `toml:"roles"`
}

// ProviderKeyConfig configures an API-key-based provider (anthropic, openai,
// gemini).
type ProviderKeyConfig struct {
	APIKey       string `toml:"api_key"`
	BaseURL      string `toml:"base_url"`
	DefaultModel string `toml:"default_model"`
}

// BedrockKeyConfig configures the AWS Bedrock provider.
type BedrockKeyConfig struct {
	Region          string `toml:"region"`
	AccessKeyID     string `toml:"access_key_id"`
	SecretAccessKey string `toml:"secret_access_key"`
	SessionToken    string `toml:"session_token"`
	DefaultModel    string `toml:"default_model"`
}

// RoleTableEntry binds a model role to a primary spec and fallback chain,
// mirroring providers.RoleConfig in TOML form.
type RoleTableEntry struct {
	Model            string   `toml:"model"`
	RequireTools     bool     `toml:"require_tools"`
	RequireJSON      bool     `toml:"require_json"`
	RequireStreaming bool     `toml:"require_streaming"`
	Fallbacks        []string `toml:"fallbacks"`
}

// NodesConfig configures node WebSocket auth.
type NodesConfig struct {
	SharedToken  string            `toml:"shared_token"`
	PerNodeToken map[string]string `toml:"per_node_token"`
	PairingTTL   time.Duration     `toml:"pairing_ttl"`
}

// QuotaConfig configures per-agent daily quota.
type QuotaConfig struct {
	DefaultDailyTokens  *int64               `toml:"default_daily_tokens"`
	DefaultDailyCostUSD *float64             `toml:"default_daily_cost_usd"`
	PerAgent            map[string]AgentQuota `toml:"per_agent"`
}

// AgentQuota overrides the default quota for one agent id.
type AgentQuota struct {
	DailyTokens  *int64   `toml:"daily_tokens"`
	DailyCostUSD *float64 `toml:"daily_cost_usd"`
}

// ApprovalConfig configures the human-gated tool/process approval policy.
type ApprovalConfig struct {
	Denylist        []string      `toml:"denylist"`
	RequireApproval []string      `toml:"require_approval"`
	Allowlist       []string      `toml:"allowlist"`
	Timeout         time.Duration `toml:"timeout"`
}

// PruningConfig configures context pruning and compaction.
type PruningConfig struct {
	MaxTurns       int `toml:"max_turns"`
	KeepLastTurns  int `toml:"keep_last_turns"`
	ContextWindow  int `toml:"context_window_chars"`
}

// TasksConfig configures the scheduler's on-disk roots.
type TasksConfig struct {
	Enabled      bool          `toml:"enabled"`
	TickInterval time.Duration `toml:"tick_interval"`
}

// LoggingConfig configures the zap logger.
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// ConfigValidationError aggregates every validation failure found in one
// pass, matching a familiar all-at-once reporting style.
type ConfigValidationError struct {
	Issues []string
}

func (e *ConfigValidationError) Error() string {
	return "config validation failed:\n- " + strings.Join(e.Issues, "\n- ")
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.HTTPPort == 0 {
		cfg.Server.HTTPPort = 8080
	}
	if cfg.Server.MetricsPort == 0 {
		cfg.Server.MetricsPort = 9090
	}
	if cfg.Server.DataDir == "" {
		cfg.Server.DataDir = "."
	}
	if cfg.Session.DefaultAgentID == "" {
		cfg.Session.DefaultAgentID = "main"
	}
	if cfg.Session.DMScope == "" {
		cfg.Session.DMScope = "main"
	}
	if cfg.Session.Reset.Mode == "" {
		cfg.Session.Reset.Mode = "never"
	}
	if cfg.LLM.ExecutorRole == "" {
		cfg.LLM.ExecutorRole = "executor"
	}
	if cfg.Nodes.PairingTTL == 0 {
		cfg.Nodes.PairingTTL = 10 * time.Minute
	}
	if cfg.Approval.Timeout == 0 {
		cfg.Approval.Timeout = 5 * time.Minute
	}
	if cfg.Pruning.MaxTurns == 0 {
		cfg.Pruning.MaxTurns = 40
	}
	if cfg.Pruning.KeepLastTurns == 0 {
		cfg.Pruning.KeepLastTurns = 10
	}
	if cfg.Pruning.ContextWindow == 0 {
		cfg.Pruning.ContextWindow = 400000
	}
	if cfg.Tasks.TickInterval == 0 {
		cfg.Tasks.TickInterval = 30 * time.Second
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

// applyEnvOverrides applies the authoritative environment variable
// set over whatever config.toml already set.
func applyEnvOverrides(cfg *Config) {
	if value := strings.TrimSpace(os.Getenv("SA_API_TOKEN")); value != "" {
		cfg.Auth.APIToken = value
	}
	if value := strings.TrimSpace(os.Getenv("SA_ADMIN_TOKEN")); value != "" {
		cfg.Auth.AdminToken = value
	}
	if value := strings.TrimSpace(os.Getenv("SA_NODE_TOKEN")); value != "" {
		cfg.Nodes.SharedToken = value
	}
	if value := strings.TrimSpace(os.Getenv("SA_NODE_TOKENS")); value != "" {
		cfg.Nodes.PerNodeToken = parseNodeTokenTable(value)
	}
	if value := strings.TrimSpace(os.Getenv("SA_REQUIRE_LLM")); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			cfg.Server.RequireLLM = parsed
		}
	}
	for provider, envVar := range map[string]string{
		"anthropic": "ANTHROPIC_API_KEY",
		"openai":    "OPENAI_API_KEY",
		"gemini":    "GEMINI_API_KEY",
	} {
		key := strings.TrimSpace(os.Getenv(envVar))
		if key == "" {
			continue
		}
		switch provider {
		case "anthropic":
			if cfg.LLM.Anthropic == nil {
				cfg.LLM.Anthropic = &ProviderKeyConfig{}
			}
			cfg.LLM.Anthropic.APIKey = key
		case "openai":
			if cfg.LLM.OpenAI == nil {
				cfg.LLM.OpenAI = &ProviderKeyConfig{}
			}
			cfg.LLM.OpenAI.APIKey = key
		case "gemini":
			if cfg.LLM.Gemini == nil {
				cfg.LLM.Gemini = &ProviderKeyConfig{}
			}
			cfg.LLM.Gemini.APIKey = key
		}
	}
}

func parseNodeTokenTable(raw string) map[string]string {
	out := map[string]string{}
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		idx := strings.IndexByte(pair, ':')
		if idx < 0 {
			continue
		}
		id := strings.TrimSpace(pair[:idx])
		tok := strings.TrimSpace(pair[idx+1:])
		if id == "" || tok == "" {
			continue
		}
		out[id] = tok
	}
	return out
}

func validate(cfg *Config) error {
	var issues []string

	switch strings.ToLower(strings.TrimSpace(cfg.Session.DMScope)) {
	case "main", "per_peer", "per_channel_peer", "per_account_channel_peer":
	default:
		issues = append(issues, fmt.Sprintf("session.dm_scope %q must be main, per_peer, per_channel_peer, or per_account_channel_peer", cfg.Session.DMScope))
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Session.Reset.Mode)) {
	case "never", "daily", "idle", "daily+idle":
	default:
		issues = append(issues, fmt.Sprintf("session.reset.mode %q must be never, daily, idle, or daily+idle", cfg.Session.Reset.Mode))
	}
	if cfg.Session.Reset.AtHour < 0 || cfg.Session.Reset.AtHour > 23 {
		issues = append(issues, "session.reset.at_hour must be between 0 and 23")
	}

	if cfg.Pruning.KeepLastTurns <= 0 {
		issues = append(issues, "pruning.keep_last_turns must be > 0")
	}
	if cfg.Pruning.MaxTurns < cfg.Pruning.KeepLastTurns {
		issues = append(issues, "pruning.max_turns must be >= pruning.keep_last_turns")
	}

	for agentID, q := range cfg.Quota.PerAgent {
		if q.DailyTokens != nil && *q.DailyTokens < 0 {
			issues = append(issues, fmt.Sprintf("quota.per_agent[%s].daily_tokens must be >= 0", agentID))
		}
		if q.DailyCostUSD != nil && *q.DailyCostUSD < 0 {
			issues = append(issues, fmt.Sprintf("quota.per_agent[%s].daily_cost_usd must be >= 0", agentID))
		}
	}

	if cfg.Server.RequireLLM && cfg.LLM.Anthropic == nil && cfg.LLM.OpenAI == nil && cfg.LLM.Bedrock == nil && cfg.LLM.Gemini == nil {
		issues = append(issues, "server.require_llm is set but no llm provider is configured")
	}

	if len(issues) > 0 {
		return &ConfigValidationError{Issues: issues}
	}
	return nil
}
