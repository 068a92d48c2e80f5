package agent

import (
	"log/slog"
	"os"
	"strings"
)

const fallbackPrompt = "Você é um assistente de supermercado."

// LoadSystemPrompt reads the prompt file and fills the {base_url} and
// {ean_base} placeholders. A missing file yields the fallback prompt.
func LoadSystemPrompt(path, baseURL, eanBase string) string {
	if path == "" {
		return fallbackPrompt
	}
	data, err := os.ReadFile(path)
	if err != nil {
		slog.Error("agent: failed to load prompt", "path", path, "error", err)
		return fallbackPrompt
	}
	r := strings.NewReplacer("{base_url}", baseURL, "{ean_base}", eanBase)
	return r.Replace(string(data))
}
