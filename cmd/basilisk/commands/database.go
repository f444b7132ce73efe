package commands

import (
	"database/sql"

	"github.com/basilisk-ti/basilisk/config"
	"github.com/basilisk-ti/basilisk/db"
	"github.com/basilisk-ti/basilisk/errors"
	"github.com/basilisk-ti/basilisk/graph"
	"github.com/basilisk-ti/basilisk/kb/storage"
	"github.com/basilisk-ti/basilisk/kb/tagging"
	"github.com/basilisk-ti/basilisk/logger"
)

// openDatabase opens and migrates the database. An empty path uses the
// configured one.
func openDatabase(dbPath string) (*sql.DB, error) {
	if dbPath == "" {
		path, err := config.GetDatabasePath()
		if err != nil {
			return nil, errors.Wrap(err, "failed to get database path")
		}
		dbPath = path
	}

	database, err := db.OpenWithMigrations(dbPath, logger.Logger)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open database at %s", dbPath)
	}

	return database, nil
}

// kbStores bundles the knowledge-base stores the commands work with.
type kbStores struct {
	tags        *storage.TagStore
	observables *storage.ObservableStore
	entities    *storage.EntityStore
	links       *graph.LinkStore
	engine      *tagging.Engine
}

func newKBStores(database *sql.DB) *kbStores {
	tags := storage.NewTagStore(database, logger.Logger)
	observables := storage.NewObservableStore(database, logger.Logger)
	entities := storage.NewEntityStore(database, logger.Logger)
	links := graph.NewLinkStore(database, logger.Logger)

	return &kbStores{
		tags:        tags,
		observables: observables,
		entities:    entities,
		links:       links,
		engine:      tagging.NewEngine(tags, observables, entities, links),
	}
}
