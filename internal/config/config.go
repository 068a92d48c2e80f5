package config

import "time"

// Config is the root configuration for the mercabot gateway.
type Config struct {
	Gateway   GatewayConfig   `json:"gateway"`
	Inbound   InboundConfig   `json:"inbound"`
	Memory    MemoryConfig    `json:"memory"`
	Agent     AgentConfig     `json:"agent"`
	WhatsApp  WhatsAppConfig  `json:"whatsapp"`
	Store     StoreConfig     `json:"store"`
	Database  DatabaseConfig  `json:"database,omitempty"`
	Telemetry TelemetryConfig `json:"telemetry,omitempty"`
	Logging   LoggingConfig   `json:"logging,omitempty"`
}

// GatewayConfig controls the HTTP listener.
type GatewayConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	RateLimitRPM int    `json:"rate_limit_rpm,omitempty"` // per sender; 0 disables
}

// InboundConfig tunes fragment batching and reply pacing.
type InboundConfig struct {
	PollIntervalMs  int  `json:"poll_interval_ms"`
	SettleThreshold int  `json:"settle_threshold"`
	CooldownTTLMs   int  `json:"cooldown_ttl_ms"`
	RearmAfterTurn  bool `json:"rearm_after_turn"`
	ReadDelayMinMs  int  `json:"read_delay_min_ms"`
	ReadDelayMaxMs  int  `json:"read_delay_max_ms"`
	ReplyPauseMs    int  `json:"reply_pause_ms"`
}

func (c InboundConfig) PollInterval() time.Duration { return ms(c.PollIntervalMs) }
func (c InboundConfig) CooldownTTL() time.Duration  { return ms(c.CooldownTTLMs) }
func (c InboundConfig) ReadDelayMin() time.Duration { return ms(c.ReadDelayMinMs) }
func (c InboundConfig) ReadDelayMax() time.Duration { return ms(c.ReadDelayMaxMs) }
func (c InboundConfig) ReplyPause() time.Duration   { return ms(c.ReplyPauseMs) }

// MemoryConfig configures rolling-summary compaction.
type MemoryConfig struct {
	KeepCount        int    `json:"keep_count"`
	CompactionMargin int    `json:"compaction_margin"`
	SummaryModel     string `json:"summary_model,omitempty"` // default: agent model
	SummaryTimeoutMs int    `json:"summary_timeout_ms"`
}

func (c MemoryConfig) SummaryTimeout() time.Duration { return ms(c.SummaryTimeoutMs) }

// AgentConfig selects the chat model and prompt.
type AgentConfig struct {
	Provider          string  `json:"provider"`
	APIBase           string  `json:"api_base,omitempty"`
	APIKey            string  `json:"-"` // from env MERCABOT_OPENAI_API_KEY only
	Model             string  `json:"model"`
	Temperature       float64 `json:"temperature"`
	MaxTokens         int     `json:"max_tokens,omitempty"`
	MaxToolIterations int     `json:"max_tool_iterations"`
	PromptFile        string  `json:"prompt_file,omitempty"`
	DefaultReply      string  `json:"default_reply,omitempty"`
	FailureReply      string  `json:"failure_reply,omitempty"`
}

// WhatsAppConfig points at the uazapi-compatible HTTP API.
type WhatsAppConfig struct {
	APIURL            string  `json:"api_url"`
	Token             string  `json:"-"` // from env MERCABOT_WHATSAPP_TOKEN only
	RequestsPerSecond float64 `json:"requests_per_second,omitempty"`
}

// StoreConfig points the tools at the supermarket backend.
type StoreConfig struct {
	BaseURL        string `json:"base_url"`
	EANBaseURL     string `json:"ean_base_url"`
	AuthToken      string `json:"-"` // from env MERCABOT_STORE_AUTH_TOKEN only
	KnowledgeURL   string `json:"knowledge_url,omitempty"`
	KnowledgeToken string `json:"-"` // from env MERCABOT_KNOWLEDGE_TOKEN only
	KnowledgeKey   string `json:"-"` // from env MERCABOT_KNOWLEDGE_APIKEY only
}

// DatabaseConfig selects the storage backends.
// PostgresDSN is NEVER read from the config file (secret), only from env MERCABOT_POSTGRES_DSN.
type DatabaseConfig struct {
	Mode        string `json:"mode,omitempty"`        // "standalone" (default) or "managed"
	SQLitePath  string `json:"sqlite_path,omitempty"` // standalone conversation log; empty keeps it in memory
	PostgresDSN string `json:"-"`
}

// IsManagedMode returns true if the keyed stores live in Postgres.
func (c *Config) IsManagedMode() bool {
	return c.Database.Mode == "managed" && c.Database.PostgresDSN != ""
}

// TelemetryConfig configures OTLP trace export.
type TelemetryConfig struct {
	Enabled     bool   `json:"enabled,omitempty"`
	Endpoint    string `json:"endpoint,omitempty"` // host:port of the OTLP/HTTP collector
	Insecure    bool   `json:"insecure,omitempty"`
	ServiceName string `json:"service_name,omitempty"`
}

// LoggingConfig selects the slog handler.
type LoggingConfig struct {
	Format string `json:"format,omitempty"` // "text" (default) or "json"
	Level  string `json:"level,omitempty"`  // "debug", "info", "warn", "error"
}

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }
