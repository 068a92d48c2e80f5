package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/nextlevelbuilder/mercabot/internal/sessions"
)

// parseOrderBody accepts the order as a JSON string or an object.
func parseOrderBody(v interface{}) (interface{}, error) {
	switch x := v.(type) {
	case string:
		var body interface{}
		if err := json.Unmarshal([]byte(x), &body); err != nil {
			return nil, err
		}
		return body, nil
	case map[string]interface{}:
		return x, nil
	}
	return nil, fmt.Errorf("missing order body")
}

var orderBodyParam = map[string]interface{}{
	"type":        "string",
	"description": "Pedido em JSON",
}

// SubmitOrderTool sends a finished order to the store panel.
type SubmitOrderTool struct{ backend *Backend }

func NewSubmitOrderTool(b *Backend) *SubmitOrderTool { return &SubmitOrderTool{backend: b} }

func (t *SubmitOrderTool) Name() string        { return "pedidos" }
func (t *SubmitOrderTool) Description() string { return "Enviar o pedido finalizado." }

func (t *SubmitOrderTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{"json_body": orderBodyParam},
		"required":   []string{"json_body"},
	}
}

func (t *SubmitOrderTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	body, err := parseOrderBody(args["json_body"])
	if err != nil {
		return ErrorResult("Erro: O formato do pedido está incorreto (JSON inválido).")
	}

	data, _, err := t.backend.erp(ctx, http.MethodPost, t.backend.cfg.BaseURL+"/pedidos/", body)
	if err != nil {
		slog.Warn("tools: submit order failed", "user_id", sessions.MaskUserID(UserIDFromCtx(ctx)), "error", err)
		return ErrorResult(fmt.Sprintf("Erro ao enviar pedido para o sistema: %v", err)).WithError(err)
	}

	id := "N/A"
	var resp map[string]interface{}
	if json.Unmarshal(data, &resp) == nil {
		for _, k := range []string{"id", "numero_pedido"} {
			if v, ok := resp[k]; ok && v != nil {
				id = fmt.Sprint(v)
				break
			}
		}
	}
	slog.Info("tools: order submitted", "user_id", sessions.MaskUserID(UserIDFromCtx(ctx)), "order_id", id)
	return NewResult(fmt.Sprintf("Pedido enviado com sucesso! (ID: %s)", id))
}

// UpdateOrderTool updates the open order for a phone number.
type UpdateOrderTool struct{ backend *Backend }

func NewUpdateOrderTool(b *Backend) *UpdateOrderTool { return &UpdateOrderTool{backend: b} }

func (t *UpdateOrderTool) Name() string        { return "alterar" }
func (t *UpdateOrderTool) Description() string { return "Atualizar o pedido no painel." }

func (t *UpdateOrderTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"telefone": map[string]interface{}{
				"type":        "string",
				"description": "Telefone do cliente (padrão: o cliente atual)",
			},
			"json_body": orderBodyParam,
		},
		"required": []string{"json_body"},
	}
}

func (t *UpdateOrderTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	phone, _ := args["telefone"].(string)
	phone = sessions.Digits(phone)
	if phone == "" {
		phone = UserIDFromCtx(ctx)
	}
	if phone == "" {
		return ErrorResult("telefone is required")
	}
	body, err := parseOrderBody(args["json_body"])
	if err != nil {
		return ErrorResult("Erro: O formato do pedido está incorreto (JSON inválido).")
	}

	if _, _, err := t.backend.erp(ctx, http.MethodPut, t.backend.cfg.BaseURL+"/pedidos/telefone/"+phone, body); err != nil {
		slog.Warn("tools: update order failed", "user_id", sessions.MaskUserID(phone), "error", err)
		return ErrorResult(fmt.Sprintf("Erro ao atualizar pedido: %v", err)).WithError(err)
	}
	return NewResult("Pedido atualizado com sucesso!")
}
