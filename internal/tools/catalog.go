package tools

import (
	"fmt"
	"strconv"
	"strings"
)

// Sale types for catalog items.
const (
	SaleUnit       = "UNITARIO"
	SaleByWeight   = "PESAVEL"
	SaleClosedPack = "EMBALAGEM_FECHADA"
)

var (
	technicalTerms = map[string]bool{
		"CBOX": true, "RESF": true, "CONG": true, "VACUO": true, "VÁCUO": true,
		"C/OSSO": true, "S/OSSO": true, "RESFRIADO": true, "CONGELADO": true,
	}
	packTerms = map[string]bool{
		"PCT": true, "PACOTE": true, "EMB": true, "CX": true, "CAIXA": true, "FARDO": true, "FD": true,
	}
	packUnits = map[string]bool{"CX": true, "FD": true, "PCT": true}
)

// Product is an ERP item rewritten into selling instructions for the agent.
type Product struct {
	ID          interface{} `json:"id"`
	Name        string      `json:"produto"`
	Price       float64     `json:"preco"`
	Available   bool        `json:"estoque_disponivel"`
	SaleType    string      `json:"tipo_venda"`
	Unit        string      `json:"unidade"`
	Instruction string      `json:"INSTRUCAO_IA"`
	RawName     string      `json:"meta_original"`
	RawUnit     string      `json:"meta_emb"`
}

// NormalizeProduct classifies a raw ERP record and picks its selling price.
func NormalizeProduct(raw map[string]interface{}) Product {
	rawName := firstString(raw, "produto", "nome", "descricao")
	if rawName == "" {
		rawName = "Produto sem nome"
	}

	price := toFloat(raw["vl_produto"])
	promo := toFloat(raw["preco_fidelidade_promocao"])
	if promo == 0 {
		promo = toFloat(raw["vl_promocao"])
	}
	if promo > 0 && promo < price {
		price = promo
	}

	var stock float64
	switch {
	case raw["qtd_produto"] != nil:
		stock = toFloat(raw["qtd_produto"])
	case raw["estoque"] != nil:
		stock = toFloat(raw["estoque"])
	default:
		stock = toFloat(raw["quantidade"])
	}
	active := true
	if v, ok := raw["ativo"].(bool); ok {
		active = v
	}

	unit := strings.ToUpper(strings.TrimSpace(fmt.Sprint(valueOr(raw["emb"], ""))))
	upperName := strings.ToUpper(rawName)
	words := strings.Fields(upperName)

	isPack := packUnits[unit]
	for _, w := range words {
		if packTerms[w] {
			isPack = true
			break
		}
	}
	fractional, _ := raw["fracionado"].(bool)
	byWeight := (fractional || unit == "KG" || strings.Contains(upperName, "KG")) && !isPack

	p := Product{
		ID:        valueOr(raw["id_produto"], raw["id"]),
		Name:      cleanName(rawName),
		Price:     price,
		Available: active && stock > 0,
		SaleType:  SaleUnit,
		Unit:      "UN",
		RawName:   rawName,
		RawUnit:   unit,
	}
	switch {
	case isPack:
		p.SaleType = SaleClosedPack
		p.Unit = unit
		if p.Unit == "" || p.Unit == "NONE" {
			p.Unit = "PCT"
		}
		p.Instruction = fmt.Sprintf(
			"EMBALAGEM FECHADA: pacote/caixa fechado. Preço: R$ %.2f por %s. "+
				"Se o cliente pediu uma unidade, pergunte se quer o pacote fechado ou solto a granel.",
			price, p.Unit)
	case byWeight:
		p.SaleType = SaleByWeight
		p.Unit = "KG"
		p.Instruction = fmt.Sprintf(
			"PESO VARIÁVEL: o preço R$ %.2f é por quilo. "+
				"Pedido por unidade: aceite, avise que o valor é aproximado e confirmado na balança, "+
				"e registre a intenção original na observação do pedido. "+
				"Pedido por valor: calcule o peso estimado e registre na observação.",
			price)
	default:
		p.Instruction = "Venda normal por unidade. Preço fixo."
	}
	return p
}

// cleanName drops ERP technical words and collapses whitespace.
func cleanName(name string) string {
	words := strings.Fields(name)
	kept := words[:0]
	for _, w := range words {
		if technicalTerms[strings.ToUpper(w)] {
			continue
		}
		kept = append(kept, w)
	}
	if len(kept) == 0 {
		return strings.TrimSpace(name)
	}
	return strings.Join(kept, " ")
}

func firstString(m map[string]interface{}, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

func valueOr(v, fallback interface{}) interface{} {
	if v == nil {
		return fallback
	}
	return v
}

func toFloat(v interface{}) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case int:
		return float64(x)
	case string:
		f, err := strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(x), ",", "."), 64)
		if err == nil {
			return f
		}
	}
	return 0
}
