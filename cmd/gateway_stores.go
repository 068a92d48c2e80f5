package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nextlevelbuilder/mercabot/internal/config"
	"github.com/nextlevelbuilder/mercabot/internal/store"
	"github.com/nextlevelbuilder/mercabot/internal/store/mem"
	"github.com/nextlevelbuilder/mercabot/internal/store/pg"
	"github.com/nextlevelbuilder/mercabot/internal/store/sqlite"
	"github.com/nextlevelbuilder/mercabot/internal/upgrade"
)

// openStores builds the storage backends for the configured mode.
// Managed mode refuses to start on an incompatible schema.
func openStores(ctx context.Context, cfg *config.Config) (*store.Stores, error) {
	if cfg.IsManagedMode() {
		if err := checkSchema(ctx, cfg.Database.PostgresDSN); err != nil {
			return nil, err
		}
		stores, err := pg.NewPGStores(store.StoreConfig{
			Mode:        "managed",
			PostgresDSN: cfg.Database.PostgresDSN,
		})
		if err != nil {
			return nil, err
		}
		slog.Info("stores: managed mode (postgres)")
		return stores, nil
	}

	stores := mem.NewStores()
	if path := config.ExpandHome(cfg.Database.SQLitePath); path != "" {
		conv, err := sqlite.Open(path)
		if err != nil {
			return nil, err
		}
		stores.Conversations = conv
		stores.OnClose(conv.Close)
		slog.Info("stores: standalone mode", "conversations", path)
	} else {
		slog.Info("stores: standalone mode (in-memory)")
	}
	return stores, nil
}

func checkSchema(ctx context.Context, dsn string) error {
	db, err := pg.OpenDB(dsn)
	if err != nil {
		return fmt.Errorf("open postgres: %w", err)
	}
	defer db.Close()

	s, err := upgrade.CheckSchema(ctx, db)
	if err != nil {
		return fmt.Errorf("check schema: %w", err)
	}
	if err := s.Err(); err != nil {
		fmt.Println(upgrade.FormatError(s))
		return err
	}
	return nil
}
