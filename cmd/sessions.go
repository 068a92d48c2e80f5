package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/mercabot/internal/config"
	"github.com/nextlevelbuilder/mercabot/internal/memory"
	"github.com/nextlevelbuilder/mercabot/internal/sessions"
	"github.com/nextlevelbuilder/mercabot/internal/store"
	"github.com/nextlevelbuilder/mercabot/internal/turn"
)

func sessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect and maintain per-user conversation logs",
	}
	cmd.AddCommand(sessionsShowCmd())
	cmd.AddCommand(sessionsClearCmd())
	cmd.AddCommand(sessionsCompactCmd())
	return cmd
}

// withSessionStores loads config, opens the stores and resolves the phone
// argument into a user key.
func withSessionStores(phone string, fn func(ctx context.Context, cfg *config.Config, s *store.Stores, userID string) error) error {
	userID, ok := sessions.NormalizeUserID(phone)
	if !ok {
		return fmt.Errorf("%q is not a valid phone number", phone)
	}
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	setupLogging(cfg.Logging)
	if !cfg.IsManagedMode() && cfg.Database.SQLitePath == "" {
		return fmt.Errorf("conversations are in-memory in this configuration; set database.sqlite_path or managed mode")
	}

	ctx := context.Background()
	s, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(ctx, cfg, s, userID)
}

func sessionsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <phone>",
		Short: "Print a user's conversation log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSessionStores(args[0], func(ctx context.Context, _ *config.Config, s *store.Stores, userID string) error {
				entries, err := s.Conversations.ReadAll(ctx, userID)
				if err != nil {
					return err
				}
				if len(entries) == 0 {
					fmt.Println("No conversation found.")
					return nil
				}
				tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
				fmt.Fprintf(tw, "#\tROLE\tCONTENT\n")
				for i, e := range entries {
					role := string(e.Role)
					if e.IsSummary() {
						role = "summary"
					}
					fmt.Fprintf(tw, "%d\t%s\t%s\n", i+1, role, oneLine(e.Content, 100))
				}
				return tw.Flush()
			})
		},
	}
}

func sessionsClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear <phone>",
		Short: "Delete a user's conversation log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSessionStores(args[0], func(ctx context.Context, _ *config.Config, s *store.Stores, userID string) error {
				if err := s.Conversations.Clear(ctx, userID); err != nil {
					return err
				}
				fmt.Printf("Cleared conversation for %s.\n", sessions.MaskUserID(userID))
				return nil
			})
		},
	}
}

func sessionsCompactCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "compact <phone>",
		Short: "Fold older messages into the rolling summary now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSessionStores(args[0], func(ctx context.Context, cfg *config.Config, s *store.Stores, userID string) error {
				p, err := buildProvider(cfg.Agent)
				if err != nil {
					return err
				}
				model := cfg.Memory.SummaryModel
				if model == "" {
					model = cfg.Agent.Model
				}
				c := memory.NewCompactor(s.Conversations, memory.NewLLMSummarizer(p, model),
					cfg.Memory.KeepCount, cfg.Memory.CompactionMargin)

				timeout := cfg.Memory.SummaryTimeout()
				if timeout <= 0 {
					timeout = turn.DefaultCompactTimeout
				}
				ctx, cancel := context.WithTimeout(ctx, timeout)
				defer cancel()
				res, err := compactIdle(ctx, s.Cooldowns, c, userID, timeout)
				if err != nil {
					return fmt.Errorf("compact: %w", err)
				}
				if !res.Compacted {
					fmt.Printf("Nothing to compact (%s).\n", res.Skipped)
					return nil
				}
				fmt.Printf("Summarized %d entries, kept %d.\n", res.Summarized, res.Kept)
				return nil
			})
		},
	}
}

// compactIdle holds the user's cooldown for the duration of the compaction so
// a live turn cannot append between the read and the rewrite of the log.
func compactIdle(ctx context.Context, cooldowns store.CooldownStore, c turn.Compactor, userID string, ttl time.Duration) (memory.Result, error) {
	owner := "compact-" + uuid.Must(uuid.NewV7()).String()
	ok, err := cooldowns.Acquire(ctx, userID, owner, ttl)
	if err != nil {
		return memory.Result{}, fmt.Errorf("acquire cooldown: %w", err)
	}
	if !ok {
		return memory.Result{}, turn.ErrTurnInProgress
	}
	defer func() {
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := cooldowns.Clear(cctx, userID, owner); err != nil {
			slog.Warn("sessions: cooldown clear failed", "user_id", sessions.MaskUserID(userID), "error", err)
		}
	}()
	return c.Compact(ctx, userID)
}

func oneLine(s string, n int) string {
	r := []rune(s)
	for i, c := range r {
		if c == '\n' || c == '\t' {
			r[i] = ' '
		}
	}
	if len(r) > n {
		return string(r[:n]) + "..."
	}
	return string(r)
}
