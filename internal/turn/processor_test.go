package turn

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nextlevelbuilder/mercabot/internal/agent"
	"github.com/nextlevelbuilder/mercabot/internal/store/mem"
)

type recordingSender struct {
	mu       sync.Mutex
	sent     []string
	presence []string
	err      error
}

func (s *recordingSender) Send(_ context.Context, _, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, text)
	return s.err
}

func (s *recordingSender) SendPresence(_ context.Context, _, p string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.presence = append(s.presence, p)
	return nil
}

func TestProcess_SendsReplyWithPresence(t *testing.T) {
	r, _, _ := newRunner(echo("Olá! Como posso ajudar?"))
	s := &recordingSender{}

	if err := NewProcessor(r, s, ProcessorConfig{}).Process(context.Background(), user, "oi"); err != nil {
		t.Fatalf("expected nil error, got: %v", err)
	}
	if len(s.sent) != 1 || s.sent[0] != "Olá! Como posso ajudar?" {
		t.Fatalf("unexpected sends %v", s.sent)
	}
	if len(s.presence) < 2 || s.presence[0] != PresenceComposing || s.presence[len(s.presence)-1] != PresencePaused {
		t.Fatalf("expected composing then paused, got %v", s.presence)
	}
}

func TestProcess_PanicSendsFailureReply(t *testing.T) {
	r, _, _ := newRunner(agentFunc(func(context.Context, agent.Request) (string, error) { panic("boom") }))
	s := &recordingSender{}

	if err := NewProcessor(r, s, ProcessorConfig{}).Process(context.Background(), user, "oi"); err != nil {
		t.Fatalf("expected nil error, got: %v", err)
	}
	if len(s.sent) != 1 || s.sent[0] != DefaultFailureReply {
		t.Fatalf("expected failure reply, got %v", s.sent)
	}
}

func TestProcess_InProgressNotAnswered(t *testing.T) {
	r, cd, _ := newRunner(echo("ok"))
	cd.Acquire(context.Background(), user, "other-turn", time.Minute)
	s := &recordingSender{}

	err := NewProcessor(r, s, ProcessorConfig{}).Process(context.Background(), user, "oi")
	if !errors.Is(err, ErrTurnInProgress) {
		t.Fatalf("expected ErrTurnInProgress, got %v", err)
	}
	if len(s.sent) != 0 {
		t.Fatalf("expected nothing sent, got %v", s.sent)
	}
}

func TestProcess_SendError(t *testing.T) {
	r, _, _ := newRunner(echo("ok"))
	s := &recordingSender{err: errors.New("503")}
	if err := NewProcessor(r, s, ProcessorConfig{}).Process(context.Background(), user, "oi"); err == nil {
		t.Fatal("expected send error")
	}
}

func TestProcess_ReadDelayHonoursContext(t *testing.T) {
	r, cd, conv := newRunner(echo("ok"))
	s := &recordingSender{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := NewProcessor(r, s, ProcessorConfig{ReadDelayMin: time.Hour, ReadDelayMax: time.Hour}).Process(ctx, user, "oi")
	if !errors.Is(err, context.Canceled) || !errors.Is(err, ErrTurnNotStarted) {
		t.Fatalf("expected ErrTurnNotStarted wrapping context.Canceled, got %v", err)
	}
	if len(s.sent) != 0 {
		t.Fatalf("expected nothing sent, got %v", s.sent)
	}
	if n, _ := conv.Count(context.Background(), user); n != 0 {
		t.Fatalf("expected nothing persisted, got %d entries", n)
	}
	if active, _, _ := cd.Status(context.Background(), user); active {
		t.Fatal("expected cooldown released when the turn never started")
	}
}

type statusSender struct {
	recordingSender
	cd           *mem.Cooldowns
	activeAtSend bool
}

func (s *statusSender) Send(ctx context.Context, userID, text string) error {
	s.activeAtSend, _, _ = s.cd.Status(ctx, userID)
	return s.recordingSender.Send(ctx, userID, text)
}

func TestProcess_CooldownCoversDelayAndDelivery(t *testing.T) {
	r, cd, _ := newRunner(echo("ok"))
	s := &statusSender{cd: cd}
	p := NewProcessor(r, s, ProcessorConfig{
		ReadDelayMin: 150 * time.Millisecond,
		ReadDelayMax: 150 * time.Millisecond,
		ReplyPause:   10 * time.Millisecond,
	})

	done := make(chan error, 1)
	go func() { done <- p.Process(context.Background(), user, "oi") }()

	time.Sleep(50 * time.Millisecond)
	if active, _, _ := cd.Status(context.Background(), user); !active {
		t.Fatal("expected cooldown active during the read delay")
	}
	if err := <-done; err != nil {
		t.Fatalf("expected nil error, got: %v", err)
	}
	if !s.activeAtSend {
		t.Fatal("expected cooldown active while the reply is sent")
	}
	if active, _, _ := cd.Status(context.Background(), user); active {
		t.Fatal("expected cooldown cleared after delivery")
	}
}

func TestReadDelayWithinBounds(t *testing.T) {
	p := NewProcessor(nil, nil, DefaultProcessorConfig())
	for i := 0; i < 100; i++ {
		if d := p.readDelay(); d < 1500*time.Millisecond || d >= 3*time.Second {
			t.Fatalf("read delay %v out of range", d)
		}
	}
}
