package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/nextlevelbuilder/mercabot/internal/providers"
)

// ErrEmptySummary is returned when the model produces no summary text.
var ErrEmptySummary = errors.New("memory: summarizer returned empty text")

// ErrLogChanged means the log no longer starts with the entries that were summarized.
var ErrLogChanged = errors.New("memory: log changed during compaction")

// Summarizer folds older transcript lines into the existing summary.
type Summarizer interface {
	Summarize(ctx context.Context, existing, transcript string) (string, error)
}

const summaryInstruction = `Atualize o resumo da conversa com as novas informações.

RESUMO ANTERIOR:
%s

NOVAS MENSAGENS ANTIGAS PARA INCORPORAR:
%s

Gere um novo resumo consolidado mantendo OBRIGATORIAMENTE:
1. Nome do cliente, endereço e telefone (se houver).
2. Lista de itens/pedidos confirmados (produto, quantidade, valor).
3. Status do pagamento/entrega.

Ignore saudações e conversas irrelevantes. Seja técnico e direto.`

// SummaryPrompt renders the summarization instruction.
func SummaryPrompt(existing, transcript string) string {
	if strings.TrimSpace(existing) == "" {
		existing = "(nenhum)"
	}
	return fmt.Sprintf(summaryInstruction, existing, transcript)
}

// LLMSummarizer implements Summarizer over a chat provider.
type LLMSummarizer struct {
	provider providers.Provider
	model    string
}

func NewLLMSummarizer(p providers.Provider, model string) *LLMSummarizer {
	return &LLMSummarizer{provider: p, model: model}
}

func (s *LLMSummarizer) Summarize(ctx context.Context, existing, transcript string) (string, error) {
	resp, err := s.provider.Chat(ctx, providers.ChatRequest{
		Messages: []providers.Message{{Role: "user", Content: SummaryPrompt(existing, transcript)}},
		Model:    s.model,
		Options: map[string]interface{}{
			providers.OptMaxTokens:   1024,
			providers.OptTemperature: 0.0,
		},
	})
	if err != nil {
		return "", fmt.Errorf("summarize: %w", err)
	}
	text := strings.TrimSpace(resp.Content)
	if text == "" {
		return "", ErrEmptySummary
	}
	return text, nil
}
