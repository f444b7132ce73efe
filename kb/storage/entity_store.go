package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/basilisk-ti/basilisk/errors"
	"github.com/basilisk-ti/basilisk/kb"
)

// EntityStore persists entities and serves the declared-tag lookups the
// auto-linker runs on every tagging operation.
type EntityStore struct {
	db     *sql.DB
	logger *zap.SugaredLogger
}

// NewEntityStore creates an entity store backed by the given database.
func NewEntityStore(db *sql.DB, logger *zap.SugaredLogger) *EntityStore {
	return &EntityStore{db: db, logger: logger}
}

const entityColumns = `id, name, type, description, tags, created_at`

// GetOrCreate returns the entity with the given name, creating it when
// absent. The unique name key collapses racing creators to one row.
func (s *EntityStore) GetOrCreate(ctx context.Context, name string, typ kb.EntityType) (*kb.Entity, error) {
	if name == "" {
		return nil, errors.NewValidationError("entity name is empty")
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO entities (id, name, type, description, tags, created_at)
		VALUES (?, ?, ?, '', '[]', ?)
		ON CONFLICT(name) DO NOTHING`,
		uuid.NewString(), name, typ, time.Now().UTC())
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create entity %q", name)
	}

	return s.Get(ctx, name)
}

// Get returns the entity with the given name.
func (s *EntityStore) Get(ctx context.Context, name string) (*kb.Entity, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+entityColumns+` FROM entities WHERE name = ?`, name)
	entity, err := scanEntity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("entity %q", name)
	}
	return entity, err
}

// List returns all entities ordered by name.
func (s *EntityStore) List(ctx context.Context) ([]*kb.Entity, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+entityColumns+` FROM entities ORDER BY name`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list entities")
	}
	defer rows.Close()

	var entities []*kb.Entity
	for rows.Next() {
		entity, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		entities = append(entities, entity)
	}
	return entities, rows.Err()
}

// FindByDeclaredTags returns entities declaring any of the given tag names.
// json_each keeps the set-membership scan in SQL instead of loading every
// entity.
func (s *EntityStore) FindByDeclaredTags(ctx context.Context, names []string) ([]*kb.Entity, error) {
	if len(names) == 0 {
		return nil, nil
	}

	query := `
		SELECT DISTINCT ` + entityColumns + ` FROM entities
		WHERE EXISTS (
			SELECT 1 FROM json_each(entities.tags)
			WHERE json_each.value IN (?` + repeatPlaceholder(len(names)-1) + `)
		)
		ORDER BY name`
	args := make([]interface{}, len(names))
	for i, n := range names {
		args[i] = n
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to find entities by tag")
	}
	defer rows.Close()

	var entities []*kb.Entity
	for rows.Next() {
		entity, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		entities = append(entities, entity)
	}
	return entities, rows.Err()
}

// Update rewrites an entity's mutable fields. The name is immutable.
func (s *EntityStore) Update(ctx context.Context, entity *kb.Entity) error {
	tags, err := json.Marshal(normalizeAll(entity.Tags))
	if err != nil {
		return errors.Wrap(err, "failed to marshal entity tags")
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE entities SET type = ?, description = ?, tags = ? WHERE name = ?`,
		entity.Type, entity.Description, string(tags), entity.Name)
	if err != nil {
		return errors.Wrapf(err, "failed to update entity %q", entity.Name)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NewNotFoundError("entity %q", entity.Name)
	}
	return nil
}

// entityImport is the YAML wire shape for bulk entity loading.
type entityImport struct {
	Name        string   `yaml:"name"`
	Type        string   `yaml:"type"`
	Description string   `yaml:"description"`
	Tags        []string `yaml:"tags"`
}

// Import loads entities from a YAML document, a list of name/type/
// description/tags records. Existing entities are updated in place, so
// re-importing the same file is idempotent.
func (s *EntityStore) Import(ctx context.Context, r io.Reader) (int, error) {
	var records []entityImport
	if err := yaml.NewDecoder(r).Decode(&records); err != nil {
		return 0, errors.Wrap(err, "failed to decode entity import")
	}

	imported := 0
	for _, rec := range records {
		if rec.Name == "" {
			return imported, errors.NewValidationError("entity import record missing name")
		}
		entity, err := s.GetOrCreate(ctx, rec.Name, kb.EntityType(rec.Type))
		if err != nil {
			return imported, err
		}
		entity.Type = kb.EntityType(rec.Type)
		entity.Description = rec.Description
		entity.Tags = rec.Tags
		if err := s.Update(ctx, entity); err != nil {
			return imported, err
		}
		imported++
	}

	if s.logger != nil {
		s.logger.Infow("Imported entities", "count", imported)
	}
	return imported, nil
}

func scanEntity(row rowScanner) (*kb.Entity, error) {
	var entity kb.Entity
	var tags string

	if err := row.Scan(&entity.ID, &entity.Name, &entity.Type, &entity.Description,
		&tags, &entity.Created); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(tags), &entity.Tags); err != nil {
		return nil, errors.Wrapf(err, "corrupt tags for entity %q", entity.Name)
	}
	return &entity, nil
}
