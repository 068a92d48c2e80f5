package agent

import (
	"github.com/nextlevelbuilder/mercabot/internal/providers"
	"github.com/nextlevelbuilder/mercabot/internal/store"
)

const summaryContextHeader = "RESUMO DO CONTEXTO (conversa anterior com este cliente):\n"

// buildMessages constructs the full message list for an LLM request:
// system prompt, rolling summary, recent history, then the current message.
func buildMessages(systemPrompt string, history []store.Entry, text, imageURL string) []providers.Message {
	messages := make([]providers.Message, 0, len(history)+2)
	messages = append(messages, providers.Message{Role: "system", Content: systemPrompt})

	for _, e := range history {
		switch {
		case e.IsSummary():
			if s := e.SummaryText(); s != "" {
				messages = append(messages, providers.Message{Role: "system", Content: summaryContextHeader + s})
			}
		case e.Role == store.RoleUser:
			messages = append(messages, providers.Message{Role: "user", Content: stripMediaMarkers(e.Content)})
		case e.Role == store.RoleAssistant:
			messages = append(messages, providers.Message{Role: "assistant", Content: e.Content})
		}
	}

	current := providers.Message{Role: "user", Content: text}
	if imageURL != "" {
		current.Images = []providers.ImagePart{{URL: imageURL}}
	}
	return append(messages, current)
}
