package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Gateway: GatewayConfig{
			Host:         "0.0.0.0",
			Port:         8000,
			RateLimitRPM: 60,
		},
		Inbound: InboundConfig{
			PollIntervalMs:  3500,
			SettleThreshold: 3,
			CooldownTTLMs:   90000,
			RearmAfterTurn:  true,
			ReadDelayMinMs:  1500,
			ReadDelayMaxMs:  3000,
			ReplyPauseMs:    500,
		},
		Memory: MemoryConfig{
			KeepCount:        6,
			CompactionMargin: 3,
			SummaryTimeoutMs: 60000,
		},
		Agent: AgentConfig{
			Provider:          "openai",
			APIBase:           "https://api.openai.com/v1",
			Model:             "gpt-4o-mini",
			Temperature:       0,
			MaxTokens:         2048,
			MaxToolIterations: 8,
		},
		WhatsApp: WhatsAppConfig{
			RequestsPerSecond: 5,
		},
		Database: DatabaseConfig{
			Mode: "standalone",
		},
		Telemetry: TelemetryConfig{
			ServiceName: "mercabot",
		},
		Logging: LoggingConfig{
			Format: "text",
			Level:  "info",
		},
	}
}

// Load reads config from a JSON5 file, then overlays env vars.
// A missing file yields the defaults plus env.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	envBool := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			if b, err := strconv.ParseBool(v); err == nil {
				*dst = b
			}
		}
	}

	// Secrets
	envStr("MERCABOT_OPENAI_API_KEY", &c.Agent.APIKey)
	envStr("MERCABOT_WHATSAPP_TOKEN", &c.WhatsApp.Token)
	envStr("MERCABOT_STORE_AUTH_TOKEN", &c.Store.AuthToken)
	envStr("MERCABOT_KNOWLEDGE_TOKEN", &c.Store.KnowledgeToken)
	envStr("MERCABOT_KNOWLEDGE_APIKEY", &c.Store.KnowledgeKey)
	envStr("MERCABOT_POSTGRES_DSN", &c.Database.PostgresDSN)

	envStr("MERCABOT_HOST", &c.Gateway.Host)
	envInt("MERCABOT_PORT", &c.Gateway.Port)
	envStr("MERCABOT_MODE", &c.Database.Mode)
	envStr("MERCABOT_SQLITE_PATH", &c.Database.SQLitePath)
	envStr("MERCABOT_PROVIDER_API_BASE", &c.Agent.APIBase)
	envStr("MERCABOT_MODEL", &c.Agent.Model)
	envStr("MERCABOT_PROMPT_FILE", &c.Agent.PromptFile)
	envStr("MERCABOT_WHATSAPP_API_URL", &c.WhatsApp.APIURL)
	envStr("MERCABOT_STORE_BASE_URL", &c.Store.BaseURL)
	envStr("MERCABOT_STORE_EAN_BASE_URL", &c.Store.EANBaseURL)
	envStr("MERCABOT_KNOWLEDGE_URL", &c.Store.KnowledgeURL)
	envInt("MERCABOT_COOLDOWN_TTL_MS", &c.Inbound.CooldownTTLMs)
	envBool("MERCABOT_TELEMETRY_ENABLED", &c.Telemetry.Enabled)
	envStr("MERCABOT_TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
	envStr("MERCABOT_LOG_FORMAT", &c.Logging.Format)
	envStr("MERCABOT_LOG_LEVEL", &c.Logging.Level)

	c.Logging.Format = strings.ToLower(c.Logging.Format)
}

// Validate reports settings the gateway cannot start with.
func (c *Config) Validate() error {
	var problems []string
	if c.Gateway.Port <= 0 || c.Gateway.Port > 65535 {
		problems = append(problems, fmt.Sprintf("gateway.port %d out of range", c.Gateway.Port))
	}
	switch c.Database.Mode {
	case "", "standalone":
	case "managed":
		if c.Database.PostgresDSN == "" {
			problems = append(problems, "database.mode is managed but MERCABOT_POSTGRES_DSN is not set")
		}
	default:
		problems = append(problems, fmt.Sprintf("database.mode %q is not standalone or managed", c.Database.Mode))
	}
	if c.Inbound.ReadDelayMaxMs < c.Inbound.ReadDelayMinMs {
		problems = append(problems, "inbound.read_delay_max_ms is below read_delay_min_ms")
	}
	if c.Memory.KeepCount < 1 {
		problems = append(problems, "memory.keep_count must be at least 1")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

const secretMask = "***"

// MaskedCopy returns a copy of the config with every secret field masked.
// Used by doctor output so secrets never reach a terminal log.
func (c *Config) MaskedCopy() *Config {
	// Deep copy via JSON round-trip; secret fields are json:"-" and must be copied by hand.
	data, err := json.Marshal(c)
	if err != nil {
		return &Config{}
	}
	cp := Default()
	if err := json.Unmarshal(data, cp); err != nil {
		return &Config{}
	}
	cp.Agent.APIKey = mask(c.Agent.APIKey)
	cp.WhatsApp.Token = mask(c.WhatsApp.Token)
	cp.Store.AuthToken = mask(c.Store.AuthToken)
	cp.Store.KnowledgeToken = mask(c.Store.KnowledgeToken)
	cp.Store.KnowledgeKey = mask(c.Store.KnowledgeKey)
	cp.Database.PostgresDSN = mask(c.Database.PostgresDSN)
	return cp
}

func mask(s string) string {
	if s != "" {
		return secretMask
	}
	return ""
}

// ExpandHome replaces leading ~ with the user home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	if len(path) > 1 && path[1] == '/' {
		return home + path[1:]
	}
	return home
}
