// Package sessions maps WhatsApp JIDs to per-user keys.
//
// Every keyed store is indexed by the user's phone number, digits only:
//
//	5511999990000@s.whatsapp.net → 5511999990000
//	+55 (11) 99999-0000          → 5511999990000
//
// Group chats (…@g.us) and linked-device identities (…@lid) have no stable
// phone number and are rejected.
package sessions

import "strings"

const (
	minUserIDDigits = 10
	maxUserIDDigits = 15
)

// Digits strips every non-digit rune from s.
func Digits(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// IsGroupJID reports whether jid addresses a group or a linked-device identity.
func IsGroupJID(jid string) bool {
	return strings.Contains(jid, "@g.us") || strings.Contains(jid, "@lid")
}

// NormalizeUserID converts a JID or free-form phone into a user id.
// It reports false when no valid 10–15 digit number can be extracted.
func NormalizeUserID(jid string) (string, bool) {
	jid = strings.TrimSpace(jid)
	if jid == "" || IsGroupJID(jid) {
		return "", false
	}
	if i := strings.IndexByte(jid, '@'); i >= 0 {
		jid = jid[:i]
	}
	// Multi-device JIDs carry a ":device" suffix.
	if i := strings.IndexByte(jid, ':'); i >= 0 {
		jid = jid[:i]
	}
	num := Digits(jid)
	if len(num) < minUserIDDigits || len(num) > maxUserIDDigits {
		return "", false
	}
	return num, true
}

// MaskUserID hides the middle digits of a user id for logs.
func MaskUserID(userID string) string {
	if len(userID) <= 6 {
		return userID
	}
	return userID[:4] + strings.Repeat("*", len(userID)-6) + userID[len(userID)-2:]
}
