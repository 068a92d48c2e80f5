package tools

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/nextlevelbuilder/mercabot/internal/sessions"
)

// StockByEANTool looks up price and stock for a barcode. Only available
// items are returned.
type StockByEANTool struct{ backend *Backend }

func NewStockByEANTool(b *Backend) *StockByEANTool { return &StockByEANTool{backend: b} }

func (t *StockByEANTool) Name() string { return "estoque" }
func (t *StockByEANTool) Description() string {
	return "Consulta preço e disponibilidade de um produto pelo código de barras (EAN)."
}

func (t *StockByEANTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"ean": map[string]interface{}{
				"type":        "string",
				"description": "Código EAN, apenas números",
			},
		},
		"required": []string{"ean"},
	}
}

func (t *StockByEANTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	if t.backend.cfg.EANBaseURL == "" {
		return ErrorResult("Erro: URL de estoque EAN não configurada.")
	}
	raw, _ := args["ean"].(string)
	ean := sessions.Digits(raw)
	if ean == "" {
		return ErrorResult("Erro: EAN inválido (informe apenas números).")
	}

	data, status, err := t.backend.erp(ctx, http.MethodGet, t.backend.cfg.EANBaseURL+"/"+ean, nil)
	if status == http.StatusNotFound {
		return NewResult("[]")
	}
	if err != nil {
		slog.Warn("tools: ean lookup failed", "ean", ean, "error", err)
		return ErrorResult(fmt.Sprintf("Erro técnico ao buscar produto pelo código: %v", err)).WithError(err)
	}
	items, err := decodeItems(data)
	if err != nil {
		return ErrorResult("Erro: resposta inválida do estoque.").WithError(err)
	}

	available := []Product{}
	for _, it := range items {
		if p := NormalizeProduct(it); p.Available {
			available = append(available, p)
		}
	}
	slog.Debug("tools: ean lookup", "ean", ean, "available", len(available))
	return jsonResult(available)
}

// StockSearchTool queries the stock endpoint by URL (name search).
// URLs outside the configured backend are refused.
type StockSearchTool struct{ backend *Backend }

func NewStockSearchTool(b *Backend) *StockSearchTool { return &StockSearchTool{backend: b} }

func (t *StockSearchTool) Name() string { return "estoque_busca" }
func (t *StockSearchTool) Description() string {
	return "Consulta estoque e preço atual por busca de nome. Recebe a URL completa da consulta."
}

func (t *StockSearchTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"url": map[string]interface{}{
				"type":        "string",
				"description": "URL da consulta de estoque",
			},
		},
		"required": []string{"url"},
	}
}

func (t *StockSearchTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	url, _ := args["url"].(string)
	url = strings.TrimSpace(url)
	if url == "" {
		return ErrorResult("url is required")
	}
	if !t.allowed(url) {
		return ErrorResult("Erro: URL fora da API do supermercado.")
	}

	data, _, err := t.backend.erp(ctx, http.MethodGet, url, nil)
	if err != nil {
		slog.Warn("tools: stock search failed", "error", err)
		return ErrorResult(fmt.Sprintf("Erro técnico ao consultar estoque: %v", err)).WithError(err)
	}
	items, err := decodeItems(data)
	if err != nil {
		return ErrorResult("Erro: resposta inválida do estoque.").WithError(err)
	}
	products := make([]Product, 0, len(items))
	for _, it := range items {
		products = append(products, NormalizeProduct(it))
	}
	return jsonResult(products)
}

func (t *StockSearchTool) allowed(url string) bool {
	for _, base := range []string{t.backend.cfg.BaseURL, t.backend.cfg.EANBaseURL} {
		if base != "" && (url == base || strings.HasPrefix(url, base+"/") || strings.HasPrefix(url, base+"?")) {
			return true
		}
	}
	return false
}
