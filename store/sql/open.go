package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"strings"
	"time"

	persistence "github.com/goliatone/go-persistence-bun"
	"github.com/goliatone/go-relay/core"
	relaymigrations "github.com/goliatone/go-relay/migrations"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/schema"
)

const DefaultSQLiteDSN = "file:relay.db?cache=shared&_foreign_keys=on"

type persistenceConfig struct {
	driver string
	server string
	debug  bool
}

func (c persistenceConfig) GetDebug() bool {
	return c.debug
}

func (c persistenceConfig) GetDriver() string {
	return c.driver
}

func (c persistenceConfig) GetServer() string {
	return c.server
}

func (c persistenceConfig) GetPingTimeout() time.Duration {
	return 5 * time.Second
}

func (c persistenceConfig) GetOtelIdentifier() string {
	return "go-relay"
}

// Open connects to the configured database, registers the embedded
// migrations for its dialect and applies them.
func Open(ctx context.Context, cfg core.StoreConfig) (*persistence.Client, error) {
	driver, migrationDialect, dialect, err := resolveDriver(cfg.Driver)
	if err != nil {
		return nil, err
	}
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		if driver != "sqlite3" {
			return nil, core.BadInput("sqlstore: dsn is required for postgres", nil)
		}
		dsn = DefaultSQLiteDSN
	}

	sqlDB, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open %s: %w", driver, err)
	}
	if driver == "sqlite3" {
		sqlDB.SetMaxOpenConns(1)
	}

	client, err := persistence.New(persistenceConfig{driver: driver, server: dsn, debug: cfg.Debug}, sqlDB, dialect)
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("sqlstore: new persistence client: %w", err)
	}
	if _, err := relaymigrations.Register(migrationDialect, func(fsys fs.FS) {
		client.RegisterSQLMigrations(fsys)
	}); err != nil {
		_ = client.Close()
		return nil, err
	}
	if err := client.Migrate(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("sqlstore: migrate: %w", err)
	}
	return client, nil
}

func resolveDriver(name string) (string, string, schema.Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "sqlite", "sqlite3":
		return "sqlite3", relaymigrations.DialectSQLite, sqlitedialect.New(), nil
	case "postgres", "postgresql":
		return "postgres", relaymigrations.DialectPostgres, pgdialect.New(), nil
	default:
		return "", "", nil, core.BadInput("sqlstore: unsupported driver", map[string]any{"driver": name})
	}
}
