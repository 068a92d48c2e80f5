// Package turn runs one conversation turn for a user: cooldown, history,
// agent invocation, persistence and compaction.
package turn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/nextlevelbuilder/mercabot/internal/agent"
	"github.com/nextlevelbuilder/mercabot/internal/memory"
	"github.com/nextlevelbuilder/mercabot/internal/metrics"
	"github.com/nextlevelbuilder/mercabot/internal/sessions"
	"github.com/nextlevelbuilder/mercabot/internal/store"
	"github.com/nextlevelbuilder/mercabot/internal/tracing"
)

var (
	// ErrTurnInProgress is returned when another turn holds the user's cooldown.
	ErrTurnInProgress = errors.New("turn: another turn is in progress")

	// ErrTurnPanic wraps a panic recovered while running a turn.
	ErrTurnPanic = errors.New("turn: panic")

	// ErrTurnNotStarted is returned when the context ends before the agent
	// ran; the text was not consumed and can be requeued.
	ErrTurnNotStarted = errors.New("turn: not started")
)

// Step names a turn stage that may fail without aborting the turn.
type Step string

const (
	StepCooldownAcquire Step = "cooldown_acquire"
	StepReadHistory     Step = "read_history"
	StepAppendUser      Step = "append_user"
	StepInvoke          Step = "invoke"
	StepAppendAssistant Step = "append_assistant"
	StepCount           Step = "count"
	StepCompact         Step = "compact"
	StepCooldownClear   Step = "cooldown_clear"
)

// StepFault records a non-fatal failure.
type StepFault struct {
	Step Step
	Err  error
}

func (f StepFault) Error() string { return string(f.Step) + ": " + f.Err.Error() }
func (f StepFault) Unwrap() error { return f.Err }

// Outcome is the result of a turn that ran.
type Outcome struct {
	TurnID    string
	Reply     string
	Fallback  bool
	Compacted bool
	Faults    []StepFault
}

func (o *Outcome) fault(step Step, err error) {
	o.Faults = append(o.Faults, StepFault{Step: step, Err: err})
}

// Compactor is the subset of memory.Compactor the runner needs.
type Compactor interface {
	NeedsCompaction(count int) bool
	Compact(ctx context.Context, userID string) (memory.Result, error)
}

const (
	DefaultCooldownTTL    = 90 * time.Second
	DefaultCompactTimeout = 60 * time.Second
	DefaultReply          = "Desculpe, não entendi."
	DefaultFailureReply   = "Tive um problema técnico, tente novamente."

	clearTimeout = 5 * time.Second
)

// Config holds the runner settings.
type Config struct {
	CooldownTTL    time.Duration
	CompactTimeout time.Duration
	DefaultReply   string // sent when the agent returns nothing
	FailureReply   string // sent when the agent fails
}

// Runner executes turns. It is safe for concurrent use across users.
type Runner struct {
	cooldowns     store.CooldownStore
	conversations store.ConversationStore
	agent         agent.Agent
	compactor     Compactor
	metrics       *metrics.Metrics
	cfg           Config
}

func NewRunner(cooldowns store.CooldownStore, conversations store.ConversationStore, a agent.Agent, c Compactor, cfg Config) *Runner {
	if cfg.CooldownTTL <= 0 {
		cfg.CooldownTTL = DefaultCooldownTTL
	}
	if cfg.CompactTimeout <= 0 {
		cfg.CompactTimeout = DefaultCompactTimeout
	}
	if cfg.DefaultReply == "" {
		cfg.DefaultReply = DefaultReply
	}
	if cfg.FailureReply == "" {
		cfg.FailureReply = DefaultFailureReply
	}
	return &Runner{cooldowns: cooldowns, conversations: conversations, agent: a, compactor: c, cfg: cfg}
}

// WithMetrics attaches collectors.
func (r *Runner) WithMetrics(m *metrics.Metrics) *Runner {
	r.metrics = m
	return r
}

// FailureReply is the text sent when a turn cannot produce a reply.
func (r *Runner) FailureReply() string { return r.cfg.FailureReply }

// Hold is a turn's claim on the user's cooldown. It is taken before any
// reply pacing starts and released once the reply has been delivered.
type Hold struct {
	r      *Runner
	userID string
	turnID string
	held   bool // false when the cooldown store could not be reached
	faults []StepFault
	once   sync.Once
}

// TurnID identifies the turn the hold was taken for.
func (h *Hold) TurnID() string { return h.turnID }

// Hold acquires the user's cooldown for a new turn. It returns
// ErrTurnInProgress when another turn holds it. A failing cooldown store is
// recorded as a fault and the turn proceeds ungated; the TTL still bounds it.
func (r *Runner) Hold(ctx context.Context, userID string) (*Hold, error) {
	h := &Hold{r: r, userID: userID, turnID: uuid.Must(uuid.NewV7()).String()}
	acquired, err := r.cooldowns.Acquire(ctx, userID, h.turnID, r.cfg.CooldownTTL)
	switch {
	case err != nil:
		slog.Warn("turn: cooldown acquire failed", "user_id", sessions.MaskUserID(userID), "error", err)
		h.faults = append(h.faults, StepFault{Step: StepCooldownAcquire, Err: err})
	case !acquired:
		r.metrics.Turn(metrics.TurnBusy, 0)
		return nil, ErrTurnInProgress
	default:
		h.held = true
	}
	return h, nil
}

// Release clears the cooldown if this hold still owns it. Only the first
// call has an effect. It runs on a detached context.
func (h *Hold) Release(ctx context.Context) (err error) {
	h.once.Do(func() {
		if !h.held {
			return
		}
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), clearTimeout)
		defer cancel()
		if err = h.r.cooldowns.Clear(cctx, h.userID, h.turnID); err != nil {
			slog.Warn("turn: cooldown clear failed", "user_id", sessions.MaskUserID(h.userID), "error", err)
			h.r.metrics.StepFault(string(StepCooldownClear))
		}
	})
	return err
}

// RunTurn takes the cooldown, produces the reply for text and releases the
// cooldown. Store and agent failures are recorded in Outcome.Faults; only
// ErrTurnInProgress and ErrTurnPanic are returned.
func (r *Runner) RunTurn(ctx context.Context, userID, text string) (*Outcome, error) {
	h, err := r.Hold(ctx, userID)
	if err != nil {
		return nil, err
	}
	out, err := r.RunHeld(ctx, h, text)
	if cerr := h.Release(ctx); cerr != nil && out != nil {
		out.fault(StepCooldownClear, cerr)
	}
	return out, err
}

// RunHeld produces the reply for text under an already acquired hold. The
// caller releases h.
func (r *Runner) RunHeld(ctx context.Context, h *Hold, text string) (out *Outcome, err error) {
	userID := h.userID
	masked := sessions.MaskUserID(userID)
	turnID := h.turnID
	ctx, span := tracing.Start(ctx, "turn.run",
		attribute.String("user_id", masked),
		attribute.String("turn_id", turnID),
	)
	defer func() { tracing.End(span, err) }()

	start := time.Now()
	out = &Outcome{TurnID: turnID, Faults: append([]StepFault(nil), h.faults...)}

	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("turn: panic recovered", "user_id", masked, "panic", rec)
			err = fmt.Errorf("%w: %v", ErrTurnPanic, rec)
		}

		result := metrics.TurnOK
		switch {
		case err != nil:
			result = metrics.TurnPanic
			out = nil
		case out.Fallback:
			result = metrics.TurnFallback
		}
		if out != nil {
			for _, f := range out.Faults {
				r.metrics.StepFault(string(f.Step))
			}
		}
		r.metrics.Turn(result, time.Since(start))
	}()

	history, herr := r.conversations.ReadAll(ctx, userID)
	if herr != nil {
		slog.Warn("turn: read history failed", "user_id", masked, "error", herr)
		out.fault(StepReadHistory, herr)
		history = nil
	}

	if perr := r.conversations.Append(ctx, userID, store.NewEntry(store.RoleUser, text)); perr != nil {
		slog.Warn("turn: append user entry failed", "user_id", masked, "error", perr)
		out.fault(StepAppendUser, perr)
	}

	reply, ierr := r.agent.Invoke(ctx, agent.Request{UserID: userID, Message: text, History: history})
	persist := true
	switch {
	case ierr != nil:
		slog.Error("turn: agent failed", "user_id", masked, "error", ierr)
		out.fault(StepInvoke, ierr)
		reply, out.Fallback, persist = r.cfg.FailureReply, true, false
	case strings.TrimSpace(reply) == "":
		reply, out.Fallback = r.cfg.DefaultReply, true
	}
	out.Reply = reply

	if persist {
		if perr := r.conversations.Append(ctx, userID, store.NewEntry(store.RoleAssistant, reply)); perr != nil {
			slog.Warn("turn: append assistant entry failed", "user_id", masked, "error", perr)
			out.fault(StepAppendAssistant, perr)
		}
	}

	r.maybeCompact(ctx, userID, out)

	slog.Info("turn: completed",
		"user_id", masked,
		"turn_id", turnID,
		"fallback", out.Fallback,
		"faults", len(out.Faults),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return out, nil
}

func (r *Runner) maybeCompact(ctx context.Context, userID string, out *Outcome) {
	if r.compactor == nil {
		return
	}
	masked := sessions.MaskUserID(userID)

	count, err := r.conversations.Count(ctx, userID)
	if err != nil {
		slog.Warn("turn: count entries failed", "user_id", masked, "error", err)
		out.fault(StepCount, err)
		return
	}
	if !r.compactor.NeedsCompaction(count) {
		return
	}

	slog.Info("turn: compacting conversation", "user_id", masked, "count", count)
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.CompactTimeout)
	defer cancel()

	res, err := r.compactor.Compact(cctx, userID)
	switch {
	case err != nil:
		slog.Warn("turn: compaction failed", "user_id", masked, "error", err)
		out.fault(StepCompact, err)
		r.metrics.Compaction("error")
	case res.Compacted:
		out.Compacted = true
		r.metrics.Compaction("compacted")
	default:
		r.metrics.Compaction("skipped")
	}
}
