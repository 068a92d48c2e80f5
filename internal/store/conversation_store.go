package store

import (
	"context"
	"strings"
	"time"
)

// Role is the author of a conversation entry.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Valid reports whether r is one of the persisted roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// SummaryPrefix marks the rolling summary entry at the head of a log.
const SummaryPrefix = "SUMMARY:"

// Entry is one persisted conversation message.
type Entry struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// NewEntry stamps an entry with the current time.
func NewEntry(role Role, content string) Entry {
	return Entry{Role: role, Content: content, CreatedAt: time.Now().UTC()}
}

// NewSummaryEntry wraps summary text as a system entry.
func NewSummaryEntry(text string) Entry {
	return NewEntry(RoleSystem, SummaryPrefix+" "+strings.TrimSpace(text))
}

// IsSummary reports whether e is a rolling summary entry.
func (e Entry) IsSummary() bool {
	return e.Role == RoleSystem && strings.HasPrefix(e.Content, SummaryPrefix)
}

// SummaryText returns the summary body without the prefix.
// It returns "" for non-summary entries.
func (e Entry) SummaryText() string {
	if !e.IsSummary() {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(e.Content, SummaryPrefix))
}

// ConversationStore is the durable per-user conversation log.
//
// Entries are totally ordered by insertion. The log is created implicitly by
// the first Append and removed only by Clear. ReplaceAll is the only
// operation that rewrites history and must be applied atomically.
type ConversationStore interface {
	Append(ctx context.Context, userID string, e Entry) error
	// ReadAll returns every entry, oldest first. Unknown user → empty slice.
	ReadAll(ctx context.Context, userID string) ([]Entry, error)
	Count(ctx context.Context, userID string) (int, error)
	ReplaceAll(ctx context.Context, userID string, entries []Entry) error
	Clear(ctx context.Context, userID string) error
}
