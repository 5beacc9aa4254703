package migrations

import (
	"context"
	"database/sql"
	"io/fs"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"

	relay "github.com/goliatone/go-relay"
	_ "github.com/mattn/go-sqlite3"
)

func TestSources_ListBothDialects(t *testing.T) {
	sources, err := Sources()
	if err != nil {
		t.Fatalf("sources: %v", err)
	}
	if len(sources) != 2 {
		t.Fatalf("expected 2 sources, got %d", len(sources))
	}
	for _, source := range sources {
		versions, err := Versions(source)
		if err != nil {
			t.Fatalf("versions %s: %v", source.Dialect, err)
		}
		if len(versions) == 0 || versions[0].String() != "00001_relay_core_schema" {
			t.Fatalf("expected core schema first for %s, got %v", source.Dialect, versions)
		}
	}
}

func TestFor_AcceptsDriverAliases(t *testing.T) {
	cases := map[string]string{
		"sqlite3":    DialectSQLite,
		" SQLite ":   DialectSQLite,
		"postgresql": DialectPostgres,
		"postgres":   DialectPostgres,
	}
	for name, want := range cases {
		source, err := For(name)
		if err != nil {
			t.Fatalf("for %q: %v", name, err)
		}
		if source.Dialect != want {
			t.Fatalf("for %q: expected %s, got %s", name, want, source.Dialect)
		}
	}
	if _, err := For("mysql"); err == nil {
		t.Fatalf("expected unsupported dialect error")
	}
}

func TestRegister_PassesDialectTree(t *testing.T) {
	var registered fs.FS
	source, err := Register("sqlite3", func(fsys fs.FS) { registered = fsys })
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if registered == nil || source.Dialect != DialectSQLite {
		t.Fatalf("expected sqlite tree registered, got %+v", source)
	}
	if _, err := fs.Stat(registered, "00001_relay_core_schema.up.sql"); err != nil {
		t.Fatalf("expected sqlite migration at tree root: %v", err)
	}
}

func TestRegister_RequiresRegisterFunc(t *testing.T) {
	if _, err := Register(DialectSQLite, nil); err == nil {
		t.Fatalf("expected error for nil register function")
	}
}

func TestVersions_RejectsIncompleteTrees(t *testing.T) {
	cases := map[string]fstest.MapFS{
		"missing down": {
			"00001_init.up.sql": {Data: []byte("SELECT 1;")},
		},
		"duplicate number": {
			"00001_init.up.sql":   {Data: []byte("SELECT 1;")},
			"00001_init.down.sql": {Data: []byte("SELECT 1;")},
			"1_again.up.sql":      {Data: []byte("SELECT 1;")},
			"1_again.down.sql":    {Data: []byte("SELECT 1;")},
		},
		"bad name": {
			"init.up.sql":   {Data: []byte("SELECT 1;")},
			"init.down.sql": {Data: []byte("SELECT 1;")},
		},
		"empty": {},
	}
	for name, tree := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Versions(Source{Dialect: DialectSQLite, Path: "test", FS: tree}); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestVersions_SortsByNumber(t *testing.T) {
	tree := fstest.MapFS{
		"00010_later.up.sql":   {Data: []byte("SELECT 1;")},
		"00010_later.down.sql": {Data: []byte("SELECT 1;")},
		"00002_first.up.sql":   {Data: []byte("SELECT 1;")},
		"00002_first.down.sql": {Data: []byte("SELECT 1;")},
	}
	versions, err := Versions(Source{Dialect: DialectPostgres, FS: tree})
	if err != nil {
		t.Fatalf("versions: %v", err)
	}
	if len(versions) != 2 || versions[0].Number != 2 || versions[1].Name != "later" {
		t.Fatalf("unexpected order %v", versions)
	}
}

func TestCoreSchemaMigrationPair_ExistsForBothDialects(t *testing.T) {
	root := relay.GetMigrationsFS()
	paths := []string{
		"data/sql/migrations/00001_relay_core_schema.up.sql",
		"data/sql/migrations/00001_relay_core_schema.down.sql",
		"data/sql/migrations/sqlite/00001_relay_core_schema.up.sql",
		"data/sql/migrations/sqlite/00001_relay_core_schema.down.sql",
	}
	for _, migrationPath := range paths {
		content, err := fs.ReadFile(root, migrationPath)
		if err != nil {
			t.Fatalf("read migration %s: %v", migrationPath, err)
		}
		if strings.TrimSpace(string(content)) == "" {
			t.Fatalf("expected migration %s to have SQL content", migrationPath)
		}
	}
}

func TestSQLiteCoreSchema_ApplyAndRollback(t *testing.T) {
	db, err := sql.Open("sqlite3", "file:migrations-core-schema?mode=memory&cache=shared&_foreign_keys=on")
	if err != nil {
		t.Fatalf("open sqlite db: %v", err)
	}
	defer func() { _ = db.Close() }()
	db.SetMaxOpenConns(1)

	sqliteMigrations, err := fs.Sub(relay.GetMigrationsFS(), "data/sql/migrations/sqlite")
	if err != nil {
		t.Fatalf("resolve sqlite migrations: %v", err)
	}
	ctx := context.Background()
	if err := execSQLMigration(ctx, db, sqliteMigrations, "00001_relay_core_schema.up.sql"); err != nil {
		t.Fatalf("apply up: %v", err)
	}

	insert := `INSERT INTO relay_webhook_deliveries (id, provider_id, delivery_id, status) VALUES (?, ?, ?, ?)`
	if _, err := db.ExecContext(ctx, insert, "d1", "twilio", "SM1", "processing"); err != nil {
		t.Fatalf("insert delivery: %v", err)
	}
	if _, err := db.ExecContext(ctx, insert, "d2", "twilio", "SM1", "processing"); err == nil {
		t.Fatalf("expected unique violation for duplicate delivery")
	}

	for _, table := range []string{"relay_webhook_deliveries", "relay_messages", "relay_rate_limit_states"} {
		if !tableExists(t, db, table) {
			t.Fatalf("expected table %s after up migration", table)
		}
	}

	if err := execSQLMigration(ctx, db, sqliteMigrations, "00001_relay_core_schema.down.sql"); err != nil {
		t.Fatalf("apply down: %v", err)
	}
	if tableExists(t, db, "relay_messages") {
		t.Fatalf("expected relay_messages dropped after down migration")
	}
}

func tableExists(t *testing.T, db *sql.DB, name string) bool {
	t.Helper()
	var count int
	if err := db.QueryRowContext(
		context.Background(),
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?",
		name,
	).Scan(&count); err != nil {
		t.Fatalf("query sqlite master: %v", err)
	}
	return count == 1
}

func execSQLMigration(ctx context.Context, db *sql.DB, fsys fs.FS, filename string) error {
	content, err := fs.ReadFile(fsys, filepath.Clean(filename))
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, string(content))
	return err
}
