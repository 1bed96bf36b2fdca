// Package migrations locates the embedded guard schema and hands the tree for
// one SQL dialect to a persistence client.
package migrations

import (
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"

	guard "github.com/arka-hq/go-guard"
)

const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"

	rootDir = "data/sql/migrations"
)

// Tree is the migration directory for one dialect. Postgres files sit at the
// root, sqlite variants in a sqlite/ subdirectory.
type Tree struct {
	Dialect string
	Dir     string
	FS      fs.FS
}

// NormalizeDialect maps driver names onto DialectPostgres or DialectSQLite.
func NormalizeDialect(name string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "sqlite", "sqlite3":
		return DialectSQLite, true
	case "postgres", "postgresql", "pq", "pgx":
		return DialectPostgres, true
	default:
		return "", false
	}
}

// Trees returns the postgres and sqlite trees found under root, or under the
// embedded schema when root is nil. Every tree must hold at least one up
// migration and a down file for each of them.
func Trees(root fs.FS) ([]Tree, error) {
	if root == nil {
		root = guard.GetMigrationsFS()
	}
	base, err := fs.Sub(root, rootDir)
	if err != nil {
		return nil, fmt.Errorf("migrations: open %s: %w", rootDir, err)
	}
	sqliteFS, err := fs.Sub(base, DialectSQLite)
	if err != nil {
		return nil, fmt.Errorf("migrations: open sqlite tree: %w", err)
	}

	trees := []Tree{
		{Dialect: DialectPostgres, Dir: rootDir, FS: base},
		{Dialect: DialectSQLite, Dir: path.Join(rootDir, DialectSQLite), FS: sqliteFS},
	}
	for _, tree := range trees {
		if _, err := Versions(tree); err != nil {
			return nil, err
		}
	}
	return trees, nil
}

// TreeFor returns the tree for dialect from the embedded schema.
func TreeFor(dialect string) (Tree, error) {
	normalized, ok := NormalizeDialect(dialect)
	if !ok {
		return Tree{}, fmt.Errorf("migrations: unsupported dialect %q", dialect)
	}
	trees, err := Trees(nil)
	if err != nil {
		return Tree{}, err
	}
	for _, tree := range trees {
		if tree.Dialect == normalized {
			return tree, nil
		}
	}
	return Tree{}, fmt.Errorf("migrations: no tree for %q", normalized)
}

// Apply passes the tree for dialect to register, usually a go-persistence-bun
// client's RegisterSQLMigrations.
func Apply(dialect string, register func(fs.FS)) (Tree, error) {
	if register == nil {
		return Tree{}, fmt.Errorf("migrations: register function is required")
	}
	tree, err := TreeFor(dialect)
	if err != nil {
		return Tree{}, err
	}
	register(tree.FS)
	return tree, nil
}

// Versions lists the migration names of tree in apply order, without the
// .up.sql suffix.
func Versions(tree Tree) ([]string, error) {
	if tree.FS == nil {
		return nil, fmt.Errorf("migrations: %s tree is nil", tree.Dialect)
	}
	ups, err := fs.Glob(tree.FS, "*.up.sql")
	if err != nil {
		return nil, fmt.Errorf("migrations: glob %s: %w", tree.Dir, err)
	}
	if len(ups) == 0 {
		return nil, fmt.Errorf("migrations: %s tree %q has no up migrations", tree.Dialect, tree.Dir)
	}
	sort.Strings(ups)

	versions := make([]string, 0, len(ups))
	for _, up := range ups {
		version := strings.TrimSuffix(up, ".up.sql")
		if _, err := fs.Stat(tree.FS, version+".down.sql"); err != nil {
			return nil, fmt.Errorf("migrations: %s/%s has no down migration", tree.Dir, version)
		}
		versions = append(versions, version)
	}
	return versions, nil
}
