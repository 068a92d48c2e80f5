package whatsapp

import (
	"context"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/nextlevelbuilder/mercabot/internal/sessions"
)

// SplitReply breaks a reply into chat bubbles at blank lines.
func SplitReply(text string) []string {
	var parts []string
	for _, p := range strings.Split(text, "\n\n") {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return parts
}

// ChunkDelay is the reading pause after a bubble: 1.5s plus 1s per 45
// characters, capped at 4s.
func ChunkDelay(chunk string) time.Duration {
	secs := min(1.5+float64(utf8.RuneCountInString(chunk))/45, 4.0)
	return time.Duration(secs * float64(time.Second))
}

// Send delivers text to userID, one bubble per paragraph.
func (c *Channel) Send(ctx context.Context, userID, text string) error {
	parts := SplitReply(text)
	number := sessions.Digits(userID)
	for i, part := range parts {
		body := map[string]string{"number": number, "text": part, "openTicket": "1"}
		if err := c.post(ctx, "/send/text", sendTimeout, body, nil); err != nil {
			return err
		}
		if i == len(parts)-1 {
			break
		}
		if d := c.pace(part); d > 0 {
			t := time.NewTimer(d)
			select {
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			case <-t.C:
			}
		}
	}
	slog.Debug("whatsapp: reply sent", "user_id", sessions.MaskUserID(userID), "bubbles", len(parts))
	return nil
}

// SendPresence sets the chat state shown to userID ("composing", "paused").
func (c *Channel) SendPresence(ctx context.Context, userID, presence string) error {
	body := map[string]string{"number": sessions.Digits(userID), "presence": presence}
	return c.post(ctx, "/message/presence", presenceTimeout, body, nil)
}
