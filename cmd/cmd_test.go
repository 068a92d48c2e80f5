package cmd

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nextlevelbuilder/mercabot/internal/config"
	"github.com/nextlevelbuilder/mercabot/internal/memory"
	"github.com/nextlevelbuilder/mercabot/internal/store/mem"
	"github.com/nextlevelbuilder/mercabot/internal/turn"
)

func TestBuildProvider(t *testing.T) {
	p, err := buildProvider(config.AgentConfig{Provider: "Groq", APIKey: "k", Model: "llama"})
	if err != nil {
		t.Fatalf("expected nil error, got: %v", err)
	}
	if p.Name() != "groq" || p.DefaultModel() != "llama" {
		t.Fatalf("expected groq/llama, got %s/%s", p.Name(), p.DefaultModel())
	}

	if _, err := buildProvider(config.AgentConfig{Provider: "acme"}); err == nil {
		t.Fatal("expected error for unknown provider without api_base")
	}
	if _, err := buildProvider(config.AgentConfig{Provider: "acme", APIBase: "http://localhost:8080/v1"}); err != nil {
		t.Fatalf("expected explicit api_base to be accepted, got: %v", err)
	}
}

func TestOneLine(t *testing.T) {
	if got := oneLine("a\nb\tc", 10); got != "a b c" {
		t.Fatalf("expected %q, got %q", "a b c", got)
	}
	if got := oneLine("ãéíõú-long", 5); got != "ãéíõú..." {
		t.Fatalf("expected rune-safe truncation, got %q", got)
	}
}

func TestResolveConfigPath(t *testing.T) {
	t.Setenv("MERCABOT_CONFIG", "/etc/mercabot.json5")
	cfgFile = ""
	if got := resolveConfigPath(); got != "/etc/mercabot.json5" {
		t.Fatalf("expected env path, got %q", got)
	}
	cfgFile = "local.json"
	defer func() { cfgFile = "" }()
	if got := resolveConfigPath(); got != "local.json" {
		t.Fatalf("expected flag path, got %q", got)
	}
}

type cooldownCheckingCompactor struct {
	cooldowns *mem.Cooldowns
	calls     int
	held      bool
}

func (c *cooldownCheckingCompactor) NeedsCompaction(int) bool { return true }

func (c *cooldownCheckingCompactor) Compact(ctx context.Context, userID string) (memory.Result, error) {
	c.calls++
	c.held, _, _ = c.cooldowns.Status(ctx, userID)
	return memory.Result{Compacted: true}, nil
}

func TestCompactIdle_HoldsCooldown(t *testing.T) {
	cd := mem.NewCooldowns()
	c := &cooldownCheckingCompactor{cooldowns: cd}
	ctx := context.Background()

	res, err := compactIdle(ctx, cd, c, "5511999990000", time.Minute)
	if err != nil {
		t.Fatalf("expected nil error, got: %v", err)
	}
	if !res.Compacted || !c.held {
		t.Fatalf("expected compaction under the cooldown, got %+v held=%v", res, c.held)
	}
	if active, _, _ := cd.Status(ctx, "5511999990000"); active {
		t.Fatal("expected cooldown cleared after compaction")
	}
}

func TestCompactIdle_RefusesDuringTurn(t *testing.T) {
	cd := mem.NewCooldowns()
	c := &cooldownCheckingCompactor{cooldowns: cd}
	ctx := context.Background()
	cd.Acquire(ctx, "5511999990000", "live-turn", time.Minute)

	if _, err := compactIdle(ctx, cd, c, "5511999990000", time.Minute); !errors.Is(err, turn.ErrTurnInProgress) {
		t.Fatalf("expected ErrTurnInProgress, got %v", err)
	}
	if c.calls != 0 {
		t.Fatalf("expected no compaction, got %d calls", c.calls)
	}
	if active, _, _ := cd.Status(ctx, "5511999990000"); !active {
		t.Fatal("refused compaction must not clear the live turn's cooldown")
	}
}
