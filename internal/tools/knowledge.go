package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
)

// KnowledgeTool queries the product knowledge base to identify products
// (and their EAN) from a free-text description.
type KnowledgeTool struct{ backend *Backend }

func NewKnowledgeTool(b *Backend) *KnowledgeTool { return &KnowledgeTool{backend: b} }

func (t *KnowledgeTool) Name() string        { return "ean" }
func (t *KnowledgeTool) Description() string { return "Buscar EAN e informações do produto pela descrição." }

func (t *KnowledgeTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{
				"type":        "string",
				"description": "Descrição do produto",
			},
		},
		"required": []string{"query"},
	}
}

func (t *KnowledgeTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	cfg := t.backend.cfg
	url := strings.ReplaceAll(strings.TrimSpace(cfg.KnowledgeURL), "`", "")
	token := strings.TrimSpace(cfg.KnowledgeAuth)
	if url == "" || token == "" {
		return ErrorResult("Erro: base de conhecimento não configurada.")
	}

	query, _ := args["query"].(string)
	query = strings.TrimSpace(query)
	// Models sometimes echo the argument object back as the query.
	if strings.HasPrefix(query, "{") && strings.HasSuffix(query, "}") {
		query = ""
	}

	if !strings.HasPrefix(strings.ToLower(token), "bearer ") {
		token = "Bearer " + token
	}
	headers := map[string]string{"Authorization": token}
	if cfg.KnowledgeKey != "" {
		headers["apikey"] = cfg.KnowledgeKey
	}

	data, _, err := t.backend.do(ctx, http.MethodPost, url, map[string]string{"query": query}, headers)
	if err != nil {
		slog.Warn("tools: knowledge lookup failed", "error", err)
		return ErrorResult("Não consegui consultar a base de conhecimento no momento.").WithError(err)
	}

	var pretty bytes.Buffer
	if json.Indent(&pretty, data, "", "  ") == nil {
		return NewResult(pretty.String())
	}
	return NewResult(string(data))
}
