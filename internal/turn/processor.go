package turn

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/nextlevelbuilder/mercabot/internal/sessions"
)

// Presence states sent while a reply is being prepared.
const (
	PresenceComposing = "composing"
	PresencePaused    = "paused"
)

// Sender delivers replies and typing indicators to a user.
type Sender interface {
	Send(ctx context.Context, userID, text string) error
	SendPresence(ctx context.Context, userID, presence string) error
}

// ProcessorConfig holds the delivery pacing. Zero values disable the delay.
type ProcessorConfig struct {
	ReadDelayMin time.Duration
	ReadDelayMax time.Duration
	ReplyPause   time.Duration
}

// DefaultProcessorConfig mirrors a person reading then typing.
func DefaultProcessorConfig() ProcessorConfig {
	return ProcessorConfig{
		ReadDelayMin: 1500 * time.Millisecond,
		ReadDelayMax: 3 * time.Second,
		ReplyPause:   500 * time.Millisecond,
	}
}

// Processor runs a settled turn and delivers its reply.
type Processor struct {
	runner *Runner
	sender Sender
	cfg    ProcessorConfig
}

func NewProcessor(r *Runner, s Sender, cfg ProcessorConfig) *Processor {
	if cfg.ReadDelayMax < cfg.ReadDelayMin {
		cfg.ReadDelayMax = cfg.ReadDelayMin
	}
	return &Processor{runner: r, sender: s, cfg: cfg}
}

// Process runs one turn for text and sends the reply. The user's cooldown
// is held from before the read delay until the reply has been sent.
// ErrTurnInProgress is returned untouched so the caller can requeue text, as
// is ErrTurnNotStarted when ctx ends before the agent ran. Turn failures and
// panics are answered with the failure reply.
func (p *Processor) Process(ctx context.Context, userID, text string) (err error) {
	masked := sessions.MaskUserID(userID)
	h, err := p.runner.Hold(ctx, userID)
	if err != nil {
		slog.Info("turn: another turn in progress", "user_id", masked)
		return err
	}
	defer h.Release(ctx)
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("turn: processor panic recovered", "user_id", masked, "panic", rec)
			err = p.send(context.WithoutCancel(ctx), userID, p.runner.FailureReply())
		}
		p.presence(context.WithoutCancel(ctx), userID, PresencePaused)
	}()

	if err := sleep(ctx, p.readDelay()); err != nil {
		return fmt.Errorf("%w: %w", ErrTurnNotStarted, err)
	}
	p.presence(ctx, userID, PresenceComposing)

	out, err := p.runner.RunHeld(ctx, h, text)
	reply := ""
	if err != nil {
		slog.Error("turn: run failed", "user_id", masked, "error", err)
		reply = p.runner.FailureReply()
	} else {
		reply = out.Reply
	}

	p.presence(ctx, userID, PresencePaused)
	if err := sleep(ctx, p.cfg.ReplyPause); err != nil {
		// The reply is already persisted; still deliver it.
		ctx = context.WithoutCancel(ctx)
	}
	return p.send(ctx, userID, reply)
}

func (p *Processor) send(ctx context.Context, userID, text string) error {
	if err := p.sender.Send(ctx, userID, text); err != nil {
		slog.Error("turn: send reply failed", "user_id", sessions.MaskUserID(userID), "error", err)
		return fmt.Errorf("send reply: %w", err)
	}
	return nil
}

func (p *Processor) presence(ctx context.Context, userID, state string) {
	if err := p.sender.SendPresence(ctx, userID, state); err != nil {
		slog.Debug("turn: presence failed", "user_id", sessions.MaskUserID(userID), "presence", state, "error", err)
	}
}

func (p *Processor) readDelay() time.Duration {
	lo, hi := p.cfg.ReadDelayMin, p.cfg.ReadDelayMax
	if hi <= lo {
		return lo
	}
	return lo + rand.N(hi-lo)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
