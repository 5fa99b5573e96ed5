package main

import (
	"context"
	"fmt"

	"cloud.google.com/go/datastore"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	ws "github.com/panyam/websession"
	"github.com/panyam/websession/internal/config"
	"github.com/panyam/websession/stores"
	"github.com/panyam/websession/stores/gae"
	gormstore "github.com/panyam/websession/stores/gorm"
)

const appName = "sessionctl"

// openTokenStore builds the configured backend. The returned closer releases
// any connection the backend holds.
func openTokenStore(ctx context.Context, conf config.Store) (ws.TokenStore, func() error, error) {
	noop := func() error { return nil }

	switch conf.Backend {
	case config.BackendMemory:
		return stores.NewMemoryTokenStore(), noop, nil

	case config.BackendFS:
		store, err := stores.NewFSTokenStore(conf.Path, appName, conf.Profile, stores.WithPassphrase(conf.Passphrase))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open token file: %w", err)
		}
		return store, noop, nil

	case config.BackendSQLite:
		db, err := gorm.Open(sqlite.Open(conf.DSN), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open sqlite database: %w", err)
		}
		if err := gormstore.AutoMigrate(db); err != nil {
			return nil, nil, fmt.Errorf("failed to migrate token table: %w", err)
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, nil, err
		}
		return gormstore.NewTokenStore(db, conf.Profile), sqlDB.Close, nil

	case config.BackendDatastore:
		dsClient, err := datastore.NewClient(ctx, conf.ProjectID)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create datastore client: %w", err)
		}
		store := gae.NewTokenStore(dsClient, conf.Namespace, conf.Profile).WithContext(ctx)
		return store, dsClient.Close, nil

	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", conf.Backend)
	}
}
