// Package inbound batches rapid-fire message fragments into one turn per user.
package inbound

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/mercabot/internal/metrics"
	"github.com/nextlevelbuilder/mercabot/internal/sessions"
	"github.com/nextlevelbuilder/mercabot/internal/store"
	"github.com/nextlevelbuilder/mercabot/internal/turn"
)

const (
	DefaultPollInterval    = 3500 * time.Millisecond
	DefaultSettleThreshold = 3

	releaseTimeout = 5 * time.Second
)

// Handler runs a turn for the settled text of one user.
type Handler interface {
	Process(ctx context.Context, userID, text string) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, userID, text string) error

func (f HandlerFunc) Process(ctx context.Context, userID, text string) error { return f(ctx, userID, text) }

// AggregatorConfig tunes the debounce loop.
type AggregatorConfig struct {
	PollInterval    time.Duration
	SettleThreshold int
	// LeaseTTL bounds how long a crashed watcher keeps other watchers out.
	LeaseTTL       time.Duration
	RearmAfterTurn bool
	CooldownTTL    time.Duration // used to derive LeaseTTL when unset
}

// Aggregator runs at most one watcher per user. A watcher waits until the
// user's buffer stops growing for SettleThreshold polls, then drains it and
// hands the joined text to the Handler.
type Aggregator struct {
	buffer  store.FragmentBuffer
	leases  store.LeaseStore
	handler Handler
	cfg     AggregatorConfig
	metrics *metrics.Metrics

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewAggregator(buffer store.FragmentBuffer, leases store.LeaseStore, h Handler, cfg AggregatorConfig) *Aggregator {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.SettleThreshold <= 0 {
		cfg.SettleThreshold = DefaultSettleThreshold
	}
	if cfg.CooldownTTL <= 0 {
		cfg.CooldownTTL = turn.DefaultCooldownTTL
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = time.Duration(cfg.SettleThreshold+2)*cfg.PollInterval + cfg.CooldownTTL
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Aggregator{buffer: buffer, leases: leases, handler: h, cfg: cfg, ctx: ctx, cancel: cancel}
}

// WithMetrics attaches collectors.
func (a *Aggregator) WithMetrics(m *metrics.Metrics) *Aggregator {
	a.metrics = m
	return a
}

// Arm starts a watcher for userID unless one already holds the lease.
// It reports whether a watcher was started.
func (a *Aggregator) Arm(ctx context.Context, userID string) (bool, error) {
	if a.ctx.Err() != nil {
		return false, a.ctx.Err()
	}
	owner := uuid.Must(uuid.NewV7()).String()
	ok, err := a.leases.TryAcquire(ctx, userID, owner, a.cfg.LeaseTTL)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	a.start(userID, owner)
	return true, nil
}

// ArmUnleased starts a watcher without a lease. Used when the lease store is
// unreachable; Drain atomicity still prevents duplicate delivery.
func (a *Aggregator) ArmUnleased(userID string) {
	if a.ctx.Err() != nil {
		return
	}
	a.start(userID, "")
}

// Go runs fn on the aggregator's lifetime context and tracks it for Close.
func (a *Aggregator) Go(fn func(ctx context.Context)) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		fn(a.ctx)
	}()
}

// Close stops all watchers and waits for them to exit.
func (a *Aggregator) Close() {
	a.cancel()
	a.wg.Wait()
}

// Wait blocks until every watcher has exited.
func (a *Aggregator) Wait() { a.wg.Wait() }

func (a *Aggregator) start(userID, owner string) {
	a.wg.Add(1)
	go a.watch(userID, owner)
}

func (a *Aggregator) watch(userID, owner string) {
	defer a.wg.Done()
	defer a.metrics.AggregatorStarted()()

	ctx := a.ctx
	masked := sessions.MaskUserID(userID)
	rearm := false
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("inbound: aggregator panic recovered", "user_id", masked, "panic", rec)
			rearm = false
		}
		a.release(userID, owner)
		// Fragments pushed between the last poll and the release found
		// the lease taken; pick them up now.
		if rearm && ctx.Err() == nil {
			if n, err := a.buffer.Len(ctx, userID); err == nil && n > 0 {
				if _, err := a.Arm(ctx, userID); err != nil {
					slog.Warn("inbound: re-arm failed", "user_id", masked, "error", err)
				}
			}
		}
	}()

	slog.Debug("inbound: watching buffer", "user_id", masked)
	for {
		if !a.settle(ctx, userID) {
			return
		}
		if owner != "" {
			ok, err := a.leases.TryAcquire(ctx, userID, owner, a.cfg.LeaseTTL)
			if err != nil {
				slog.Warn("inbound: lease renew failed", "user_id", masked, "error", err)
			} else if !ok {
				slog.Info("inbound: lease lost, another watcher owns the buffer", "user_id", masked)
				owner = ""
				return
			}
		}

		text, err := a.collect(ctx, userID)
		if err != nil {
			slog.Warn("inbound: drain failed", "user_id", masked, "error", err)
			return
		}
		requeued := false
		if text == "" {
			slog.Debug("inbound: settled with nothing to send", "user_id", masked)
		} else {
			slog.Info("inbound: buffer settled", "user_id", masked, "chars", len(text))
			if err := a.handler.Process(ctx, userID, text); err != nil {
				switch {
				case errors.Is(err, turn.ErrTurnInProgress):
					requeued = a.requeue(ctx, userID, text)
				case errors.Is(err, turn.ErrTurnNotStarted):
					// Closing before the turn ran: hand the text back to the buffer.
					rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
					requeued = a.requeue(rctx, userID, text)
					cancel()
				case ctx.Err() == nil:
					slog.Warn("inbound: turn handler failed", "user_id", masked, "error", err)
				}
			}
		}

		if !a.cfg.RearmAfterTurn && !requeued {
			return
		}
		rearm = a.cfg.RearmAfterTurn
		n, err := a.buffer.Len(ctx, userID)
		if err != nil || n == 0 {
			return
		}
		slog.Debug("inbound: re-arming for pending fragments", "user_id", masked, "pending", n)
	}
}

// settle polls until the buffer length has not grown for SettleThreshold
// consecutive polls. It returns false when the aggregator is closing.
func (a *Aggregator) settle(ctx context.Context, userID string) bool {
	prev, err := a.buffer.Len(ctx, userID)
	if err != nil {
		prev = 0
	}
	t := time.NewTimer(a.cfg.PollInterval)
	defer t.Stop()

	for stall := 0; stall < a.cfg.SettleThreshold; {
		select {
		case <-ctx.Done():
			return false
		case <-t.C:
		}
		curr, err := a.buffer.Len(ctx, userID)
		if err == nil && curr > prev {
			prev, stall = curr, 0
		} else {
			stall++
		}
		t.Reset(a.cfg.PollInterval)
	}
	return true
}

// collect drains the buffer and joins the non-blank fragments.
func (a *Aggregator) collect(ctx context.Context, userID string) (string, error) {
	fragments, err := a.buffer.Drain(ctx, userID)
	if err != nil {
		return "", err
	}
	return JoinFragments(fragments), nil
}

func (a *Aggregator) requeue(ctx context.Context, userID, text string) bool {
	if err := a.buffer.Push(ctx, userID, text); err != nil {
		slog.Warn("inbound: turn busy and requeue failed, dropping text",
			"user_id", sessions.MaskUserID(userID), "error", err)
		return false
	}
	slog.Info("inbound: turn busy, requeued text", "user_id", sessions.MaskUserID(userID))
	return true
}

func (a *Aggregator) release(userID, owner string) {
	if owner == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(a.ctx), releaseTimeout)
	defer cancel()
	if err := a.leases.Release(ctx, userID, owner); err != nil {
		slog.Warn("inbound: lease release failed", "user_id", sessions.MaskUserID(userID), "error", err)
	}
}

// JoinFragments drops blank fragments and joins the rest with single spaces.
func JoinFragments(fragments []string) string {
	kept := make([]string, 0, len(fragments))
	for _, f := range fragments {
		if strings.TrimSpace(f) != "" {
			kept = append(kept, f)
		}
	}
	return strings.Join(kept, " ")
}
