package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/nextlevelbuilder/mercabot/internal/store"
)

const (
	historyMaxCharsPerMessage = 1000
	historyMaxTotalBytes      = 32 * 1024
	historyDefaultLimit       = 20
)

// HistoryTool searches the current user's conversation log.
type HistoryTool struct {
	conversations store.ConversationStore
}

func NewHistoryTool(s store.ConversationStore) *HistoryTool { return &HistoryTool{conversations: s} }

func (t *HistoryTool) Name() string { return "historico" }
func (t *HistoryTool) Description() string {
	return "Busca mensagens anteriores deste cliente, opcionalmente filtrando por palavra-chave."
}

func (t *HistoryTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"keyword": map[string]interface{}{
				"type":        "string",
				"description": "Palavra-chave (opcional)",
			},
			"limit": map[string]interface{}{
				"type":        "number",
				"description": "Máximo de mensagens (padrão 20)",
			},
		},
	}
}

func (t *HistoryTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	userID := UserIDFromCtx(ctx)
	if userID == "" {
		return ErrorResult("no active user")
	}

	keyword, _ := args["keyword"].(string)
	keyword = strings.ToLower(strings.TrimSpace(keyword))
	limit := historyDefaultLimit
	if v, ok := args["limit"].(float64); ok && int(v) > 0 {
		limit = int(v)
	}

	history, err := t.conversations.ReadAll(ctx, userID)
	if err != nil {
		return ErrorResult("histórico indisponível no momento").WithError(err)
	}

	type msgEntry struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}
	entries := []msgEntry{}
	for _, e := range history {
		if keyword != "" && !strings.Contains(strings.ToLower(e.Content), keyword) {
			continue
		}
		content := e.Content
		if utf8.RuneCountInString(content) > historyMaxCharsPerMessage {
			runes := []rune(content)
			content = string(runes[:historyMaxCharsPerMessage]) + "... [truncated]"
		}
		entries = append(entries, msgEntry{Role: string(e.Role), Content: content})
	}
	if len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}

	out, _ := json.Marshal(map[string]interface{}{
		"messages": entries,
		"count":    len(entries),
	})
	if len(out) > historyMaxTotalBytes {
		return ErrorResult(fmt.Sprintf("history too large (%d bytes), use a keyword or smaller limit", len(out)))
	}
	return NewResult(string(out))
}
