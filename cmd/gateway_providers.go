package cmd

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/nextlevelbuilder/mercabot/internal/config"
	"github.com/nextlevelbuilder/mercabot/internal/providers"
)

// OpenAI-compatible endpoints selectable by agent.provider.
var providerBases = map[string]string{
	"openai":     "https://api.openai.com/v1",
	"openrouter": "https://openrouter.ai/api/v1",
	"groq":       "https://api.groq.com/openai/v1",
	"deepseek":   "https://api.deepseek.com/v1",
	"gemini":     "https://generativelanguage.googleapis.com/v1beta/openai",
	"mistral":    "https://api.mistral.ai/v1",
	"xai":        "https://api.x.ai/v1",
}

// buildProvider creates the chat provider named in cfg. An explicit
// api_base wins over the built-in endpoint table.
func buildProvider(cfg config.AgentConfig) (providers.Provider, error) {
	name := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if name == "" {
		name = "openai"
	}
	base := cfg.APIBase
	if base == "" {
		var ok bool
		if base, ok = providerBases[name]; !ok {
			return nil, fmt.Errorf("unknown provider %q and no api_base set", cfg.Provider)
		}
	}
	if cfg.APIKey == "" {
		slog.Warn("provider: no api key configured", "name", name)
	}

	p := providers.NewOpenAIProvider(name, cfg.APIKey, base, cfg.Model).
		WithRetry(providers.DefaultRetryConfig())
	slog.Info("registered provider", "name", name, "model", cfg.Model)
	return p, nil
}
