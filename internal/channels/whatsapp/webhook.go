package whatsapp

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nextlevelbuilder/mercabot/internal/sessions"
)

// MessageType classifies an inbound message.
type MessageType string

const (
	TypeText     MessageType = "text"
	TypeAudio    MessageType = "audio"
	TypeImage    MessageType = "image"
	TypeDocument MessageType = "document"
)

// Incoming is the normalised content of one webhook call.
type Incoming struct {
	UserID    string // digits only; empty when no valid sender was found
	Text      string
	MessageID string
	Type      MessageType
	MimeType  string
	FromMe    bool
}

// IsPDF reports whether the message carries a PDF document.
func (in *Incoming) IsPDF() bool {
	return in.Type == TypeDocument && strings.Contains(in.MimeType, "pdf")
}

// ParseWebhook decodes a uazapi webhook body. The API posts several shapes:
// a top-level "message" object with "chat", a "messages" array, or flat
// "from"/"text" fields.
func ParseWebhook(body []byte) (*Incoming, error) {
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode webhook: %w", err)
	}

	chat := object(payload["chat"])
	msg := object(payload["message"])
	if list, ok := payload["messages"].([]any); ok && len(list) > 0 {
		if first := object(list[0]); first != nil {
			msg = first
			chat = map[string]any{"wa_id": first["sender"]}
		}
	}

	in := &Incoming{Type: TypeText}
	for _, candidate := range []any{msg["sender"], msg["chatid"], chat["id"], chat["wa_id"], payload["from"]} {
		if id, ok := sessions.NormalizeUserID(str(candidate)); ok {
			in.UserID = id
			break
		}
	}

	in.Text = str(payload["text"])
	in.MessageID = firstNonEmpty(str(payload["id"]), str(payload["messageid"]))

	rawType := strings.ToLower(str(msg["messageType"]))
	in.MimeType = strings.ToLower(str(msg["mimetype"]))
	switch {
	case strings.Contains(rawType, "audio"), strings.Contains(rawType, "ptt"):
		in.Type = TypeAudio
	case strings.Contains(rawType, "image"):
		in.Type = TypeImage
	case strings.Contains(rawType, "document"), strings.Contains(in.MimeType, "pdf"):
		in.Type = TypeDocument
	}

	if msg != nil {
		in.MessageID = firstNonEmpty(str(msg["messageid"]), str(msg["id"]), in.MessageID)
		switch content := msg["content"].(type) {
		case string:
			if in.Text == "" {
				in.Text = content
			}
		case map[string]any:
			in.Text = firstNonEmpty(str(content["text"]), str(content["caption"]))
		}
		if in.Text == "" {
			switch t := msg["text"].(type) {
			case string:
				in.Text = t
			case map[string]any:
				in.Text = str(t["body"])
			}
		}
		in.FromMe, _ = msg["fromMe"].(bool)
	}
	return in, nil
}

func object(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

func str(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case json.Number:
		return s.String()
	case float64:
		return fmt.Sprintf("%.0f", s)
	}
	return ""
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
