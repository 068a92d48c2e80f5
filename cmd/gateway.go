package cmd

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/nextlevelbuilder/mercabot/internal/agent"
	"github.com/nextlevelbuilder/mercabot/internal/channels/whatsapp"
	"github.com/nextlevelbuilder/mercabot/internal/config"
	"github.com/nextlevelbuilder/mercabot/internal/gateway"
	"github.com/nextlevelbuilder/mercabot/internal/inbound"
	"github.com/nextlevelbuilder/mercabot/internal/memory"
	"github.com/nextlevelbuilder/mercabot/internal/metrics"
	"github.com/nextlevelbuilder/mercabot/internal/sessions"
	"github.com/nextlevelbuilder/mercabot/internal/tools"
	"github.com/nextlevelbuilder/mercabot/internal/tracing"
	"github.com/nextlevelbuilder/mercabot/internal/turn"
)

func runGateway() {
	setupLogging(config.LoggingConfig{})

	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	setupLogging(cfg.Logging)
	if err := cfg.Validate(); err != nil {
		slog.Error("config rejected", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Setup(ctx, tracing.Config{
		Enabled:     cfg.Telemetry.Enabled,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		ServiceName: cfg.Telemetry.ServiceName,
		Version:     Version,
	})
	if err != nil {
		slog.Error("failed to set up tracing", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := shutdownTracing(context.WithoutCancel(ctx)); err != nil {
			slog.Warn("tracing: shutdown failed", "error", err)
		}
	}()

	stores, err := openStores(ctx, cfg)
	if err != nil {
		slog.Error("failed to open stores", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := stores.Close(); err != nil {
			slog.Warn("stores: close failed", "error", err)
		}
	}()

	provider, err := buildProvider(cfg.Agent)
	if err != nil {
		slog.Error("failed to build provider", "error", err)
		os.Exit(1)
	}

	backend := tools.NewBackend(tools.BackendConfig{
		BaseURL:       cfg.Store.BaseURL,
		EANBaseURL:    cfg.Store.EANBaseURL,
		AuthToken:     cfg.Store.AuthToken,
		KnowledgeURL:  cfg.Store.KnowledgeURL,
		KnowledgeAuth: cfg.Store.KnowledgeToken,
		KnowledgeKey:  cfg.Store.KnowledgeKey,
	})
	registry := tools.NewStoreRegistry(backend, stores.Conversations)
	slog.Info("tools registered", "tools", registry.Names())

	loop := agent.NewLoop(provider, registry, agent.Config{
		Model:         cfg.Agent.Model,
		Temperature:   cfg.Agent.Temperature,
		MaxTokens:     cfg.Agent.MaxTokens,
		MaxIterations: cfg.Agent.MaxToolIterations,
		SystemPrompt:  agent.LoadSystemPrompt(config.ExpandHome(cfg.Agent.PromptFile), cfg.Store.BaseURL, cfg.Store.EANBaseURL),
	})

	summaryModel := cfg.Memory.SummaryModel
	if summaryModel == "" {
		summaryModel = cfg.Agent.Model
	}
	compactor := memory.NewCompactor(stores.Conversations,
		memory.NewLLMSummarizer(provider, summaryModel),
		cfg.Memory.KeepCount, cfg.Memory.CompactionMargin)

	m := metrics.New()

	runner := turn.NewRunner(stores.Cooldowns, stores.Conversations, loop, compactor, turn.Config{
		CooldownTTL:    cfg.Inbound.CooldownTTL(),
		CompactTimeout: cfg.Memory.SummaryTimeout(),
		DefaultReply:   cfg.Agent.DefaultReply,
		FailureReply:   cfg.Agent.FailureReply,
	}).WithMetrics(m)

	var (
		sender turn.Sender
		media  gateway.MediaResolver
	)
	if cfg.WhatsApp.APIURL != "" {
		wa, err := whatsapp.New(whatsapp.Config{
			APIURL:            cfg.WhatsApp.APIURL,
			Token:             cfg.WhatsApp.Token,
			OpenAIKey:         cfg.Agent.APIKey,
			RequestsPerSecond: cfg.WhatsApp.RequestsPerSecond,
		})
		if err != nil {
			slog.Error("failed to configure whatsapp", "error", err)
			os.Exit(1)
		}
		sender, media = wa, wa
	} else {
		slog.Warn("whatsapp: api_url not set, replies are only logged")
		sender = logSender{}
	}

	processor := turn.NewProcessor(runner, sender, turn.ProcessorConfig{
		ReadDelayMin: cfg.Inbound.ReadDelayMin(),
		ReadDelayMax: cfg.Inbound.ReadDelayMax(),
		ReplyPause:   cfg.Inbound.ReplyPause(),
	})

	agg := inbound.NewAggregator(stores.Buffer, stores.Leases, processor, inbound.AggregatorConfig{
		PollInterval:    cfg.Inbound.PollInterval(),
		SettleThreshold: cfg.Inbound.SettleThreshold,
		RearmAfterTurn:  cfg.Inbound.RearmAfterTurn,
		CooldownTTL:     cfg.Inbound.CooldownTTL(),
	}).WithMetrics(m)
	dispatcher := inbound.NewDispatcher(stores.Buffer, stores.Cooldowns, agg, processor).WithMetrics(m)

	server := gateway.NewServer(gateway.Config{
		Host:         cfg.Gateway.Host,
		Port:         cfg.Gateway.Port,
		RateLimitRPM: cfg.Gateway.RateLimitRPM,
		Version:      Version,
	}, dispatcher, media, m)

	slog.Info("mercabot gateway starting",
		"version", Version,
		"host", cfg.Gateway.Host,
		"port", cfg.Gateway.Port,
		"mode", cfg.Database.Mode,
		"model", cfg.Agent.Model,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Start(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("gateway: draining watchers")
		agg.Close()
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("gateway error", "error", err)
		os.Exit(1)
	}
	slog.Info("gateway stopped")
}

// logSender stands in for the WhatsApp API in local runs.
type logSender struct{}

func (logSender) Send(_ context.Context, userID, text string) error {
	slog.Info("reply", "user", sessions.MaskUserID(userID), "text", text)
	return nil
}

func (logSender) SendPresence(_ context.Context, userID, presence string) error {
	slog.Debug("presence", "user", sessions.MaskUserID(userID), "presence", presence)
	return nil
}
