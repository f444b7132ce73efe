package db

import (
	"database/sql"
	"embed"
	"path"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/basilisk-ti/basilisk/errors"
	"github.com/basilisk-ti/basilisk/sym"
)

//go:embed sqlite/migrations/*.sql
var migrationFS embed.FS

const migrationDir = "sqlite/migrations"

// Migrate applies pending schema migrations in filename order. Migration 000
// creates the schema_migrations bookkeeping table; every file records its
// version inside the same transaction that ran it, so a failed migration
// leaves no partial state. Re-running is a no-op. A nil logger is fine.
func Migrate(conn *sql.DB, logger *zap.SugaredLogger) error {
	files, err := listMigrations()
	if err != nil {
		return err
	}

	done, err := appliedVersions(conn)
	if err != nil {
		return err
	}

	applied := 0
	for _, name := range files {
		version := strings.SplitN(name, "_", 2)[0]
		if done[version] {
			continue
		}
		if err := runMigration(conn, name, version); err != nil {
			return err
		}
		applied++
		if logger != nil {
			logger.Infow(sym.DB+" Applied migration", "migration", name)
		}
	}

	if logger != nil && applied == 0 {
		logger.Debugw(sym.DB+" Schema up to date", "migrations", len(files))
	}
	return nil
}

func listMigrations() ([]string, error) {
	entries, err := migrationFS.ReadDir(migrationDir)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read migrations")
	}

	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)
	return files, nil
}

// appliedVersions reads the bookkeeping table. On a fresh database the table
// does not exist yet; that reads as "nothing applied" and migration 000
// creates it.
func appliedVersions(conn *sql.DB) (map[string]bool, error) {
	rows, err := conn.Query(`SELECT version FROM schema_migrations`)
	if err != nil {
		if strings.Contains(err.Error(), "no such table") {
			return map[string]bool{}, nil
		}
		return nil, errors.Wrap(err, "failed to read applied migrations")
	}
	defer rows.Close()

	done := make(map[string]bool)
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			return nil, errors.Wrap(err, "failed to scan migration version")
		}
		done[version] = true
	}
	return done, rows.Err()
}

func runMigration(conn *sql.DB, name, version string) error {
	ddl, err := migrationFS.ReadFile(path.Join(migrationDir, name))
	if err != nil {
		return errors.Wrapf(err, "failed to read migration %s", name)
	}

	tx, err := conn.Begin()
	if err != nil {
		return errors.Wrapf(err, "failed to begin migration %s", name)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(string(ddl)); err != nil {
		return errors.Wrapf(err, "failed to execute migration %s", name)
	}
	if _, err := tx.Exec(`INSERT INTO schema_migrations (version) VALUES (?)`, version); err != nil {
		return errors.Wrapf(err, "failed to record migration %s", name)
	}

	return errors.Wrapf(tx.Commit(), "failed to commit migration %s", name)
}
