// Package storage persists the knowledge-base domain on SQLite. Correctness
// under concurrent feed tasks comes from atomic statements (unique keys,
// INSERT ... ON CONFLICT upserts, RowsAffected-driven fallbacks), never from
// in-process locks.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/basilisk-ti/basilisk/errors"
	"github.com/basilisk-ti/basilisk/kb"
)

// TagStore is the canonical tag catalog.
type TagStore struct {
	db     *sql.DB
	logger *zap.SugaredLogger
}

// NewTagStore creates a tag catalog backed by the given database.
func NewTagStore(db *sql.DB, logger *zap.SugaredLogger) *TagStore {
	return &TagStore{db: db, logger: logger}
}

const tagColumns = `name, replaces, produces, default_expiration_seconds, count, created_at`

// GetOrCreate resolves a raw tag name to its canonical catalog entry,
// creating the entry when it does not exist. If an existing tag lists the
// name in its replaces set, that canonical tag is returned instead of
// creating a duplicate. Concurrent creators racing on the same new name
// resolve to one row via the primary-key constraint: the losing INSERT is
// ignored and the re-read returns the winner's row.
func (s *TagStore) GetOrCreate(ctx context.Context, name string) (*kb.Tag, error) {
	name = kb.NormalizeTagName(name)
	if name == "" {
		return nil, errors.NewValidationError("tag name is empty")
	}

	// Alias indirection first: a deprecated name folds into its replacement.
	if tag, err := s.findReplacing(ctx, name); err != nil {
		return nil, err
	} else if tag != nil {
		return tag, nil
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tags (name, replaces, produces, default_expiration_seconds, count, created_at)
		VALUES (?, '[]', '[]', NULL, 0, ?)
		ON CONFLICT(name) DO NOTHING`,
		name, time.Now().UTC())
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create tag %q", name)
	}

	return s.Get(ctx, name)
}

// ResolveCanonical follows alias indirection without creating anything.
// Returns kb.ErrUnknownTag when neither the name nor an alias of it exists.
func (s *TagStore) ResolveCanonical(ctx context.Context, name string) (*kb.Tag, error) {
	name = kb.NormalizeTagName(name)

	if tag, err := s.findReplacing(ctx, name); err != nil {
		return nil, err
	} else if tag != nil {
		return tag, nil
	}

	tag, err := s.Get(ctx, name)
	if errors.IsNotFoundError(err) {
		return nil, errors.Wrapf(kb.ErrUnknownTag, "%q", name)
	}
	return tag, err
}

// Get returns the catalog entry with the exact normalized name.
func (s *TagStore) Get(ctx context.Context, name string) (*kb.Tag, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+tagColumns+` FROM tags WHERE name = ?`, kb.NormalizeTagName(name))
	tag, err := scanTag(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("tag %q", name)
	}
	return tag, err
}

// List returns all catalog entries ordered by name.
func (s *TagStore) List(ctx context.Context) ([]*kb.Tag, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+tagColumns+` FROM tags ORDER BY name`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list tags")
	}
	defer rows.Close()

	var tags []*kb.Tag
	for rows.Next() {
		tag, err := scanTag(rows)
		if err != nil {
			return nil, err
		}
		tags = append(tags, tag)
	}
	return tags, rows.Err()
}

// IncrementUsage bumps a tag's usage counter. Side effect only: failures are
// logged and swallowed so they never abort a tagging operation.
func (s *TagStore) IncrementUsage(ctx context.Context, name string) {
	_, err := s.db.ExecContext(ctx,
		`UPDATE tags SET count = count + 1 WHERE name = ?`, kb.NormalizeTagName(name))
	if err != nil && s.logger != nil {
		s.logger.Warnw("Failed to increment tag usage", "tag", name, "error", err)
	}
}

// Update administratively edits a tag's replaces/produces sets and default
// expiration. The name itself is immutable.
func (s *TagStore) Update(ctx context.Context, tag *kb.Tag) error {
	replaces, err := json.Marshal(normalizeAll(tag.Replaces))
	if err != nil {
		return errors.Wrap(err, "failed to marshal replaces")
	}
	produces, err := json.Marshal(normalizeAll(tag.Produces))
	if err != nil {
		return errors.Wrap(err, "failed to marshal produces")
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE tags
		SET replaces = ?, produces = ?, default_expiration_seconds = ?
		WHERE name = ?`,
		string(replaces), string(produces), durationSeconds(tag.DefaultExpiration), tag.Name)
	if err != nil {
		return errors.Wrapf(err, "failed to update tag %q", tag.Name)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NewNotFoundError("tag %q", tag.Name)
	}
	return nil
}

// Merge folds the tag named from into the tag named into: from becomes an
// alias of into (its replaces and produces are absorbed) and its catalog row
// is removed. Observable-side renames are the tagging engine's job.
func (s *TagStore) Merge(ctx context.Context, from, into string) error {
	from = kb.NormalizeTagName(from)
	into = kb.NormalizeTagName(into)
	if from == into {
		return errors.NewValidationError("cannot merge tag %q into itself", from)
	}

	fromTag, err := s.Get(ctx, from)
	if err != nil {
		return err
	}
	intoTag, err := s.GetOrCreate(ctx, into)
	if err != nil {
		return err
	}

	intoTag.Replaces = appendUnique(intoTag.Replaces, from)
	intoTag.Replaces = appendUnique(intoTag.Replaces, fromTag.Replaces...)
	intoTag.Produces = appendUnique(intoTag.Produces, fromTag.Produces...)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	replaces, err := json.Marshal(intoTag.Replaces)
	if err != nil {
		return errors.Wrap(err, "failed to marshal replaces")
	}
	produces, err := json.Marshal(intoTag.Produces)
	if err != nil {
		return errors.Wrap(err, "failed to marshal produces")
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE tags SET replaces = ?, produces = ?, count = count + ?
		WHERE name = ?`,
		string(replaces), string(produces), fromTag.Count, intoTag.Name); err != nil {
		return errors.Wrapf(err, "failed to absorb tag %q into %q", from, into)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM tags WHERE name = ?`, from); err != nil {
		return errors.Wrapf(err, "failed to remove merged tag %q", from)
	}

	return errors.Wrap(tx.Commit(), "failed to commit tag merge")
}

// findReplacing returns the tag whose replaces set contains name, or nil.
// SQLite's json_each lets the alias scan stay in one query.
func (s *TagStore) findReplacing(ctx context.Context, name string) (*kb.Tag, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+tagColumns+` FROM tags
		WHERE EXISTS (SELECT 1 FROM json_each(tags.replaces) WHERE json_each.value = ?)
		LIMIT 1`, name)
	tag, err := scanTag(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed alias lookup for %q", name)
	}
	return tag, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTag(row rowScanner) (*kb.Tag, error) {
	var tag kb.Tag
	var replaces, produces string
	var expiration sql.NullInt64

	if err := row.Scan(&tag.Name, &replaces, &produces, &expiration, &tag.Count, &tag.Created); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(replaces), &tag.Replaces); err != nil {
		return nil, errors.Wrapf(err, "corrupt replaces for tag %q", tag.Name)
	}
	if err := json.Unmarshal([]byte(produces), &tag.Produces); err != nil {
		return nil, errors.Wrapf(err, "corrupt produces for tag %q", tag.Name)
	}
	if expiration.Valid {
		d := time.Duration(expiration.Int64) * time.Second
		tag.DefaultExpiration = &d
	}

	return &tag, nil
}

// durationSeconds converts a nullable duration to the integer-seconds column
// representation.
func durationSeconds(d *time.Duration) interface{} {
	if d == nil {
		return nil
	}
	return int64(d.Seconds())
}

func normalizeAll(names []string) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		if n = kb.NormalizeTagName(n); n != "" {
			out = append(out, n)
		}
	}
	return out
}

func appendUnique(dst []string, names ...string) []string {
	for _, n := range names {
		found := false
		for _, existing := range dst {
			if existing == n {
				found = true
				break
			}
		}
		if !found {
			dst = append(dst, n)
		}
	}
	return dst
}
