package main

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"sync"
	"time"

	"github.com/goliatone/go-access"
	"github.com/goliatone/go-access/config"
	persistence "github.com/goliatone/go-persistence-bun"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
	"github.com/uptrace/bun/schema"
)

const (
	migrationsDir = "data/sql/migrations"
	pingTimeout   = 5 * time.Second
)

var registerModels sync.Once

// persistenceConfig exposes the database settings to the persistence client.
type persistenceConfig struct {
	cfg *config.Config
}

func (p persistenceConfig) GetDebug() bool {
	return p.cfg.Debug
}

func (p persistenceConfig) GetDriver() string {
	if p.cfg.DBDriver == config.DriverPostgres {
		return "pgx"
	}
	return sqliteshim.ShimName
}

func (p persistenceConfig) GetServer() string {
	return p.cfg.DBDSN
}

func (p persistenceConfig) GetDSN() string {
	return p.cfg.DBDSN
}

func (p persistenceConfig) GetPingTimeout() time.Duration {
	return pingTimeout
}

func (p persistenceConfig) GetOtelIdentifier() string {
	return ""
}

// openDB opens the configured driver and returns the persistence client
// with the embedded migrations registered.
func (a *App) openDB() (*persistence.Client, error) {
	sqldb, dialect, err := openSQL(a.config)
	if err != nil {
		return nil, err
	}

	registerModels.Do(func() {
		for _, model := range access.SchemaModels() {
			persistence.RegisterModel(model)
		}
	})

	client, err := persistence.New(persistenceConfig{cfg: a.config}, sqldb, dialect)
	if err != nil {
		_ = sqldb.Close()
		return nil, fmt.Errorf("failed to create persistence client: %w", err)
	}
	client.SetLogger(a.logger.GetLogger("persistence"))

	migrations, err := fs.Sub(access.GetMigrationsFS(), migrationsDir)
	if err != nil {
		_ = sqldb.Close()
		return nil, err
	}
	client.RegisterDialectMigrations(
		migrations,
		persistence.WithDialectSourceLabel(migrationsDir),
		persistence.WithValidationTargets("postgres", "sqlite"),
	)

	return client, nil
}

func openSQL(cfg *config.Config) (*sql.DB, schema.Dialect, error) {
	switch cfg.DBDriver {
	case config.DriverPostgres:
		sqldb, err := sql.Open("pgx", cfg.DBDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open postgres: %w", err)
		}
		return sqldb, pgdialect.New(), nil
	default:
		sqldb, err := sql.Open(sqliteshim.ShimName, cfg.DBDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open sqlite: %w", err)
		}
		// sqlite allows a single writer
		sqldb.SetMaxOpenConns(1)
		return sqldb, sqlitedialect.New(), nil
	}
}

// Migrate validates the dialect migrations and applies pending ones.
func (a *App) Migrate(ctx context.Context) error {
	if err := a.persistence.ValidateDialects(ctx); err != nil {
		return fmt.Errorf("invalid migrations: %w", err)
	}
	if err := a.persistence.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to migrate: %w", err)
	}
	return nil
}
