// Package memory keeps each user's conversation log within a fixed budget by
// folding older entries into a single rolling summary.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/attribute"

	"github.com/nextlevelbuilder/mercabot/internal/sessions"
	"github.com/nextlevelbuilder/mercabot/internal/store"
	"github.com/nextlevelbuilder/mercabot/internal/tracing"
)

const (
	DefaultKeepCount = 6
	DefaultMargin    = 3
)

// Result describes one Compact call.
type Result struct {
	Compacted  bool
	Summarized int // entries folded into the summary (previous summary excluded)
	Kept       int
	Skipped    string // reason when nothing was done
}

// Compactor rewrites a log as [summary] + last KeepCount entries once it
// reaches KeepCount+Margin entries.
type Compactor struct {
	store      store.ConversationStore
	summarizer Summarizer
	keep       int
	margin     int

	// Per-user lock so two compactions of the same log never interleave.
	locks sync.Map
}

func NewCompactor(s store.ConversationStore, sum Summarizer, keep, margin int) *Compactor {
	if keep <= 0 {
		keep = DefaultKeepCount
	}
	if margin <= 0 {
		margin = DefaultMargin
	}
	return &Compactor{store: s, summarizer: sum, keep: keep, margin: margin}
}

// Threshold is the entry count at which compaction runs.
func (c *Compactor) Threshold() int { return c.keep + c.margin }

// NeedsCompaction reports whether a log of count entries should be compacted.
func (c *Compactor) NeedsCompaction(count int) bool { return count >= c.Threshold() }

// Compact folds all but the last KeepCount entries into the summary. On any
// error the stored log is left untouched. If the log was cleared or rewritten
// while the summary was produced, Compact returns ErrLogChanged.
func (c *Compactor) Compact(ctx context.Context, userID string) (res Result, err error) {
	ctx, span := tracing.Start(ctx, "memory.compact", attribute.String("user_id", sessions.MaskUserID(userID)))
	defer func() {
		span.SetAttributes(attribute.Bool("compacted", res.Compacted), attribute.Int("summarized", res.Summarized))
		tracing.End(span, err)
	}()

	muI, _ := c.locks.LoadOrStore(userID, &sync.Mutex{})
	mu := muI.(*sync.Mutex)
	if !mu.TryLock() {
		slog.Debug("memory: compaction already in progress", "user_id", sessions.MaskUserID(userID))
		return Result{Skipped: "in progress"}, nil
	}
	defer mu.Unlock()

	entries, err := c.store.ReadAll(ctx, userID)
	if err != nil {
		return Result{}, fmt.Errorf("read log: %w", err)
	}
	if len(entries) < c.Threshold() {
		return Result{Skipped: "below threshold", Kept: len(entries)}, nil
	}

	split := len(entries) - c.keep
	toSummarize := entries[:split]
	toKeep := entries[split:]

	existing := ""
	if toSummarize[0].IsSummary() {
		existing = toSummarize[0].SummaryText()
		toSummarize = toSummarize[1:]
	}
	if len(toSummarize) == 0 {
		return Result{Skipped: "nothing to summarize", Kept: len(entries)}, nil
	}

	text, err := c.summarizer.Summarize(ctx, existing, Transcript(toSummarize))
	if err != nil {
		return Result{}, fmt.Errorf("summarize: %w", err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return Result{}, ErrEmptySummary
	}

	// Entries appended while the summarizer ran are carried over after toKeep.
	current, err := c.store.ReadAll(ctx, userID)
	if err != nil {
		return Result{}, fmt.Errorf("re-read log: %w", err)
	}
	if !hasPrefix(current, entries) {
		return Result{}, ErrLogChanged
	}
	appended := current[len(entries):]

	next := make([]store.Entry, 0, len(toKeep)+len(appended)+1)
	next = append(next, store.NewSummaryEntry(text))
	next = append(next, toKeep...)
	next = append(next, appended...)
	if err := c.store.ReplaceAll(ctx, userID, next); err != nil {
		return Result{}, fmt.Errorf("replace log: %w", err)
	}

	kept := len(toKeep) + len(appended)
	slog.Info("memory: compacted conversation",
		"user_id", sessions.MaskUserID(userID),
		"summarized", len(toSummarize),
		"kept", kept,
		"appended_during", len(appended),
		"carried_summary", existing != "",
	)
	return Result{Compacted: true, Summarized: len(toSummarize), Kept: kept}, nil
}

// hasPrefix reports whether log still starts with the entries read earlier.
func hasPrefix(log, prefix []store.Entry) bool {
	if len(log) < len(prefix) {
		return false
	}
	for i, e := range prefix {
		if log[i].Role != e.Role || log[i].Content != e.Content || !log[i].CreatedAt.Equal(e.CreatedAt) {
			return false
		}
	}
	return true
}

// Transcript renders entries as "role: content" lines, oldest first.
func Transcript(entries []store.Entry) string {
	var sb strings.Builder
	for i, e := range entries {
		if i > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(string(e.Role))
		sb.WriteString(": ")
		sb.WriteString(e.Content)
	}
	return sb.String()
}
