package cmd

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/mercabot/internal/agent"
	"github.com/nextlevelbuilder/mercabot/internal/config"
	"github.com/nextlevelbuilder/mercabot/internal/store/pg"
	"github.com/nextlevelbuilder/mercabot/internal/upgrade"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check environment and configuration health",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor()
		},
	}
}

func runDoctor() {
	fmt.Println("mercabot doctor")
	fmt.Printf("  Version:  %s\n", Version)
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	cfgPath := resolveConfigPath()
	fmt.Printf("  Config:   %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Println(" (NOT FOUND, using defaults + env)")
	} else {
		fmt.Println(" (OK)")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("  Config load error: %s\n", err)
		return
	}
	if err := cfg.Validate(); err != nil {
		fmt.Printf("  %s\n", err)
	}
	masked := cfg.MaskedCopy()

	fmt.Println()
	fmt.Println("  Database:")
	if cfg.IsManagedMode() {
		fmt.Printf("    %-12s managed\n", "Mode:")
		checkDatabase(cfg.Database.PostgresDSN)
	} else {
		fmt.Printf("    %-12s standalone\n", "Mode:")
		if cfg.Database.SQLitePath != "" {
			fmt.Printf("    %-12s %s\n", "SQLite:", config.ExpandHome(cfg.Database.SQLitePath))
		} else {
			fmt.Printf("    %-12s in-memory\n", "History:")
		}
	}

	fmt.Println()
	fmt.Println("  Agent:")
	fmt.Printf("    %-12s %s\n", "Provider:", cfg.Agent.Provider)
	fmt.Printf("    %-12s %s\n", "Model:", cfg.Agent.Model)
	checkSecret("API key:", masked.Agent.APIKey)
	checkPrompt(cfg)

	fmt.Println()
	fmt.Println("  WhatsApp:")
	checkValue("API URL:", cfg.WhatsApp.APIURL)
	checkSecret("Token:", masked.WhatsApp.Token)

	fmt.Println()
	fmt.Println("  Store backend:")
	checkValue("Base URL:", cfg.Store.BaseURL)
	checkValue("EAN URL:", cfg.Store.EANBaseURL)
	checkSecret("Auth token:", masked.Store.AuthToken)
	checkValue("Knowledge:", cfg.Store.KnowledgeURL)

	fmt.Println()
	fmt.Println("Doctor check complete.")
}

func checkDatabase(dsn string) {
	db, err := pg.OpenDB(dsn)
	if err != nil {
		fmt.Printf("    %-12s CONNECT FAILED (%s)\n", "Status:", err)
		return
	}
	defer db.Close()
	fmt.Printf("    %-12s connected\n", "Status:")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s, err := upgrade.CheckSchema(ctx, db)
	switch {
	case err != nil:
		fmt.Printf("    %-12s CHECK FAILED (%s)\n", "Schema:", err)
	case s.Dirty:
		fmt.Printf("    %-12s v%d (DIRTY, run: mercabot migrate force %d)\n", "Schema:", s.CurrentVersion, max(s.CurrentVersion, 1)-1)
	case s.Compatible:
		fmt.Printf("    %-12s v%d (up to date)\n", "Schema:", s.CurrentVersion)
	case s.CurrentVersion > s.RequiredVersion:
		fmt.Printf("    %-12s v%d (binary too old, requires v%d)\n", "Schema:", s.CurrentVersion, s.RequiredVersion)
	default:
		fmt.Printf("    %-12s v%d (upgrade needed, run: mercabot migrate up)\n", "Schema:", s.CurrentVersion)
	}
}

func checkPrompt(cfg *config.Config) {
	path := config.ExpandHome(cfg.Agent.PromptFile)
	if path == "" {
		fmt.Printf("    %-12s (built-in fallback)\n", "Prompt:")
		return
	}
	if _, err := os.Stat(path); err != nil {
		fmt.Printf("    %-12s %s (NOT FOUND)\n", "Prompt:", path)
		return
	}
	prompt := agent.LoadSystemPrompt(path, cfg.Store.BaseURL, cfg.Store.EANBaseURL)
	fmt.Printf("    %-12s %s (%d chars)\n", "Prompt:", path, len([]rune(prompt)))
}

func checkSecret(label, masked string) {
	if masked != "" {
		fmt.Printf("    %-12s %s\n", label, masked)
	} else {
		fmt.Printf("    %-12s (not configured)\n", label)
	}
}

func checkValue(label, v string) {
	if v == "" {
		v = "(not configured)"
	}
	fmt.Printf("    %-12s %s\n", label, v)
}
