package tools

import (
	"context"
	"time"
	_ "time/tzdata"
)

const storeTimezone = "America/Sao_Paulo"

// TimeTool reports the store's local date and time.
type TimeTool struct {
	loc *time.Location
	now func() time.Time
}

func NewTimeTool() *TimeTool {
	loc, err := time.LoadLocation(storeTimezone)
	if err != nil {
		loc = time.FixedZone("BRT", -3*60*60)
	}
	return &TimeTool{loc: loc, now: time.Now}
}

func (t *TimeTool) Name() string        { return "time" }
func (t *TimeTool) Description() string { return "Retorna a data e hora atual." }

func (t *TimeTool) Parameters() map[string]interface{} {
	return map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
}

var weekdays = [...]string{"domingo", "segunda-feira", "terça-feira", "quarta-feira", "quinta-feira", "sexta-feira", "sábado"}

func (t *TimeTool) Execute(context.Context, map[string]interface{}) *Result {
	now := t.now().In(t.loc)
	return NewResult(now.Format("02/01/2006 15:04") + " (" + weekdays[now.Weekday()] + ")")
}
