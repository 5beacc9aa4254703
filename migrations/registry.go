// Package migrations locates the embedded relay schema for each supported SQL
// dialect and checks the tree is complete before it is handed to a migrator.
package migrations

import (
	"fmt"
	"io/fs"
	"slices"
	"strconv"
	"strings"

	relay "github.com/goliatone/go-relay"
)

const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"
)

const migrationsRoot = "data/sql/migrations"

// Source is the migration tree for one dialect.
type Source struct {
	Dialect string
	Path    string
	FS      fs.FS
}

// Version is one numbered migration, e.g. 00001_relay_core_schema.
type Version struct {
	Number int
	Name   string
}

func (v Version) String() string {
	return fmt.Sprintf("%05d_%s", v.Number, v.Name)
}

// Sources lists the embedded relay schema per dialect. Postgres files live at
// the root of the tree and SQLite variants under sqlite/.
func Sources() ([]Source, error) {
	return sourcesFrom(relay.GetMigrationsFS())
}

func sourcesFrom(root fs.FS) ([]Source, error) {
	postgres, err := fs.Sub(root, migrationsRoot)
	if err != nil {
		return nil, fmt.Errorf("migrations: open %s: %w", migrationsRoot, err)
	}
	sqlite, err := fs.Sub(postgres, DialectSQLite)
	if err != nil {
		return nil, fmt.Errorf("migrations: open sqlite tree: %w", err)
	}
	return []Source{
		{Dialect: DialectPostgres, Path: migrationsRoot, FS: postgres},
		{Dialect: DialectSQLite, Path: migrationsRoot + "/" + DialectSQLite, FS: sqlite},
	}, nil
}

// For returns the source for a dialect or driver name; sqlite3 and
// postgresql are accepted as aliases.
func For(dialect string) (Source, error) {
	sources, err := Sources()
	if err != nil {
		return Source{}, err
	}
	return pick(sources, dialect)
}

func pick(sources []Source, dialect string) (Source, error) {
	want := canonicalDialect(dialect)
	for _, source := range sources {
		if source.Dialect == want {
			return source, nil
		}
	}
	return Source{}, fmt.Errorf("migrations: no schema for dialect %q", dialect)
}

func canonicalDialect(name string) string {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "sqlite", "sqlite3":
		return DialectSQLite
	case "postgres", "postgresql", "pg":
		return DialectPostgres
	default:
		return strings.ToLower(strings.TrimSpace(name))
	}
}

// Register validates the tree for dialect and passes it to register,
// typically a persistence client's RegisterSQLMigrations.
func Register(dialect string, register func(fs.FS)) (Source, error) {
	if register == nil {
		return Source{}, fmt.Errorf("migrations: register function is required")
	}
	source, err := For(dialect)
	if err != nil {
		return Source{}, err
	}
	if _, err := Versions(source); err != nil {
		return source, err
	}
	register(source.FS)
	return source, nil
}

// Versions lists the migrations in a source in order. Every up file must have
// a matching down file and numbers must not repeat.
func Versions(source Source) ([]Version, error) {
	if source.FS == nil {
		return nil, fmt.Errorf("migrations: %s source has no filesystem", source.Dialect)
	}
	ups, err := fs.Glob(source.FS, "*.up.sql")
	if err != nil {
		return nil, fmt.Errorf("migrations: glob %s: %w", source.Path, err)
	}
	if len(ups) == 0 {
		return nil, fmt.Errorf("migrations: %s has no *.up.sql files", source.Path)
	}

	seen := map[int]string{}
	versions := make([]Version, 0, len(ups))
	for _, up := range ups {
		base := strings.TrimSuffix(up, ".up.sql")
		version, err := parseVersion(base)
		if err != nil {
			return nil, fmt.Errorf("migrations: %s/%s: %w", source.Path, up, err)
		}
		if other, dup := seen[version.Number]; dup {
			return nil, fmt.Errorf("migrations: %s: version %d used by %s and %s", source.Path, version.Number, other, base)
		}
		seen[version.Number] = base
		if _, err := fs.Stat(source.FS, base+".down.sql"); err != nil {
			return nil, fmt.Errorf("migrations: %s/%s has no down migration", source.Path, base)
		}
		versions = append(versions, version)
	}
	slices.SortFunc(versions, func(a, b Version) int { return a.Number - b.Number })
	return versions, nil
}

func parseVersion(base string) (Version, error) {
	number, name, ok := strings.Cut(base, "_")
	if !ok || name == "" {
		return Version{}, fmt.Errorf("expected NNNNN_name, got %q", base)
	}
	n, err := strconv.Atoi(number)
	if err != nil || n <= 0 {
		return Version{}, fmt.Errorf("invalid version number %q", number)
	}
	return Version{Number: n, Name: name}, nil
}
