package inbound

import (
	"context"
	"errors"
	"log/slog"

	"github.com/nextlevelbuilder/mercabot/internal/metrics"
	"github.com/nextlevelbuilder/mercabot/internal/sessions"
	"github.com/nextlevelbuilder/mercabot/internal/store"
	"github.com/nextlevelbuilder/mercabot/internal/turn"
)

// ErrEmptyUser is returned for fragments without a sender.
var ErrEmptyUser = errors.New("inbound: empty user id")

// Status reports what happened to a fragment.
type Status string

const (
	StatusBuffering  Status = "buffering"
	StatusCooldown   Status = "cooldown"
	StatusProcessing Status = "processing"
)

// Dispatcher routes each inbound fragment to the buffer, the aggregator or,
// when buffering is unavailable, straight to a turn.
type Dispatcher struct {
	buffer     store.FragmentBuffer
	cooldowns  store.CooldownStore
	aggregator *Aggregator
	handler    Handler
	metrics    *metrics.Metrics
}

func NewDispatcher(buffer store.FragmentBuffer, cooldowns store.CooldownStore, agg *Aggregator, h Handler) *Dispatcher {
	return &Dispatcher{buffer: buffer, cooldowns: cooldowns, aggregator: agg, handler: h}
}

// WithMetrics attaches collectors.
func (d *Dispatcher) WithMetrics(m *metrics.Metrics) *Dispatcher {
	d.metrics = m
	return d
}

// OnFragment accepts one message fragment from userID. It never blocks on a turn.
func (d *Dispatcher) OnFragment(ctx context.Context, userID, text string) (Status, error) {
	if userID == "" {
		return "", ErrEmptyUser
	}
	masked := sessions.MaskUserID(userID)

	active, remaining, err := d.cooldowns.Status(ctx, userID)
	if err != nil {
		slog.Warn("inbound: cooldown status failed", "user_id", masked, "error", err)
		active = false
	}

	if active {
		if err := d.buffer.Push(ctx, userID, text); err != nil {
			slog.Warn("inbound: buffer unavailable during cooldown, dropping fragment",
				"user_id", masked, "error", err)
		} else {
			slog.Debug("inbound: buffered during cooldown", "user_id", masked, "remaining", remaining)
		}
		d.metrics.Fragment(string(StatusCooldown))
		return StatusCooldown, nil
	}

	if err := d.buffer.Push(ctx, userID, text); err != nil {
		slog.Warn("inbound: buffer unavailable, processing immediately", "user_id", masked, "error", err)
		d.processNow(userID, text)
		d.metrics.Fragment(string(StatusProcessing))
		return StatusProcessing, nil
	}

	started, err := d.aggregator.Arm(ctx, userID)
	switch {
	case err != nil:
		slog.Warn("inbound: lease unavailable, watching without lease", "user_id", masked, "error", err)
		d.aggregator.ArmUnleased(userID)
	case started:
		slog.Debug("inbound: aggregator started", "user_id", masked)
	}
	d.metrics.Fragment(string(StatusBuffering))
	return StatusBuffering, nil
}

func (d *Dispatcher) processNow(userID, text string) {
	d.aggregator.Go(func(ctx context.Context) {
		err := d.handler.Process(ctx, userID, text)
		if errors.Is(err, turn.ErrTurnInProgress) {
			slog.Warn("inbound: turn busy and buffer unavailable, dropping text", "user_id", sessions.MaskUserID(userID))
		}
	})
}
