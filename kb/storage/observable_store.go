package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/basilisk-ti/basilisk/errors"
	"github.com/basilisk-ti/basilisk/kb"
)

// ObservableStore persists observables, their context entries and their tag
// applications. Tag application rows carry a UNIQUE(observable_id, name) key,
// so the refresh-or-insert upsert is a single atomic statement and concurrent
// taggers cannot duplicate an application.
type ObservableStore struct {
	db     *sql.DB
	logger *zap.SugaredLogger
}

// NewObservableStore creates an observable store backed by the given database.
func NewObservableStore(db *sql.DB, logger *zap.SugaredLogger) *ObservableStore {
	return &ObservableStore{db: db, logger: logger}
}

const observableColumns = `id, value, type, context, sources, last_analyses, created_at, last_tagged`

// GetOrCreate returns the observable with the given value, creating it with
// an inferred type when absent. Racing creators resolve to one row through
// the unique value key: the losing insert is a no-op and the re-read returns
// the winner's row.
func (s *ObservableStore) GetOrCreate(ctx context.Context, value string) (*kb.Observable, error) {
	typ, err := kb.GuessType(value)
	if err != nil {
		return nil, err
	}
	return s.getOrCreateTyped(ctx, value, typ)
}

// GetOrCreateTyped is GetOrCreate with the caller supplying the type, for
// values whose type the feed already knows.
func (s *ObservableStore) GetOrCreateTyped(ctx context.Context, value string, typ kb.ObservableType) (*kb.Observable, error) {
	return s.getOrCreateTyped(ctx, value, typ)
}

func (s *ObservableStore) getOrCreateTyped(ctx context.Context, value string, typ kb.ObservableType) (*kb.Observable, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO observables (id, value, type, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(value) DO NOTHING`,
		uuid.NewString(), value, typ, time.Now().UTC())
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create observable %q", value)
	}
	return s.Find(ctx, value)
}

// Find returns the observable with the given value, tags included.
func (s *ObservableStore) Find(ctx context.Context, value string) (*kb.Observable, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+observableColumns+` FROM observables WHERE value = ?`, value)
	obs, err := s.scanObservable(ctx, row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("observable %q", value)
	}
	return obs, err
}

// Reload re-reads the observable's current persisted state.
func (s *ObservableStore) Reload(ctx context.Context, obs *kb.Observable) (*kb.Observable, error) {
	return s.Find(ctx, obs.Value)
}

// AddContext attaches a provenance entry to an observable. The entry must
// carry a "source" field. If replaceSource is non-empty, entries from that
// source are removed first; removal and insert are separate transactions, so
// a reader between the two may transiently observe neither the old nor the
// new entry. Within each step, read-modify-write runs in one transaction so
// concurrent writers do not lose each other's entries. Entries are
// deduplicated by key-sorted encoding, not identity.
func (s *ObservableStore) AddContext(ctx context.Context, obs *kb.Observable, entry map[string]string, replaceSource string) (*kb.Observable, error) {
	if entry["source"] == "" {
		return nil, errors.Wrapf(kb.ErrInvalidContext, "observable %q", obs.Value)
	}

	if replaceSource != "" {
		if err := s.mutateContext(ctx, obs.ID, func(entries []map[string]string) ([]map[string]string, error) {
			kept := entries[:0]
			for _, e := range entries {
				if e["source"] != replaceSource {
					kept = append(kept, e)
				}
			}
			return kept, nil
		}); err != nil {
			return nil, err
		}
	}

	canonical, err := kb.CanonicalContext(entry)
	if err != nil {
		return nil, errors.Wrap(err, "failed to canonicalize context")
	}

	if err := s.mutateContext(ctx, obs.ID, func(entries []map[string]string) ([]map[string]string, error) {
		for _, e := range entries {
			existing, err := kb.CanonicalContext(e)
			if err != nil {
				return nil, errors.Wrap(err, "corrupt context entry")
			}
			if existing == canonical {
				return entries, nil // already present
			}
		}
		return append(entries, entry), nil
	}); err != nil {
		return nil, err
	}

	return s.Reload(ctx, obs)
}

// RemoveContext removes the entry matching the given fields exactly,
// compared by key-sorted encoding. Removing an absent entry is a no-op.
func (s *ObservableStore) RemoveContext(ctx context.Context, obs *kb.Observable, entry map[string]string) (*kb.Observable, error) {
	canonical, err := kb.CanonicalContext(entry)
	if err != nil {
		return nil, errors.Wrap(err, "failed to canonicalize context")
	}

	if err := s.mutateContext(ctx, obs.ID, func(entries []map[string]string) ([]map[string]string, error) {
		kept := entries[:0]
		for _, e := range entries {
			existing, err := kb.CanonicalContext(e)
			if err != nil {
				return nil, errors.Wrap(err, "corrupt context entry")
			}
			if existing != canonical {
				kept = append(kept, e)
			}
		}
		return kept, nil
	}); err != nil {
		return nil, err
	}

	return s.Reload(ctx, obs)
}

// mutateContext applies fn to the observable's context array inside one
// transaction.
func (s *ObservableStore) mutateContext(ctx context.Context, observableID string, fn func([]map[string]string) ([]map[string]string, error)) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	var raw string
	if err := tx.QueryRowContext(ctx,
		`SELECT context FROM observables WHERE id = ?`, observableID).Scan(&raw); err != nil {
		return errors.Wrap(err, "failed to read context")
	}

	var entries []map[string]string
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return errors.Wrap(err, "corrupt context column")
	}

	entries, err = fn(entries)
	if err != nil {
		return err
	}

	updated, err := json.Marshal(entries)
	if err != nil {
		return errors.Wrap(err, "failed to marshal context")
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE observables SET context = ? WHERE id = ?`, string(updated), observableID); err != nil {
		return errors.Wrap(err, "failed to write context")
	}

	return errors.Wrap(tx.Commit(), "failed to commit context change")
}

// AddSource records a feed name on the observable's source set.
func (s *ObservableStore) AddSource(ctx context.Context, obs *kb.Observable, source string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	var raw string
	if err := tx.QueryRowContext(ctx,
		`SELECT sources FROM observables WHERE id = ?`, obs.ID).Scan(&raw); err != nil {
		return errors.Wrap(err, "failed to read sources")
	}

	var sources []string
	if err := json.Unmarshal([]byte(raw), &sources); err != nil {
		return errors.Wrap(err, "corrupt sources column")
	}
	for _, existing := range sources {
		if existing == source {
			return nil // already recorded, tx rolls back harmlessly
		}
	}
	sources = append(sources, source)

	updated, err := json.Marshal(sources)
	if err != nil {
		return errors.Wrap(err, "failed to marshal sources")
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE observables SET sources = ? WHERE id = ?`, string(updated), obs.ID); err != nil {
		return errors.Wrap(err, "failed to write sources")
	}

	return errors.Wrap(tx.Commit(), "failed to commit source change")
}

// AnalysisDone records the completion timestamp of an analytics module run.
// The module name is bound through json_object rather than spliced into a
// json path, so names carrying quotes cannot corrupt the statement. The
// merge stays a single atomic statement.
func (s *ObservableStore) AnalysisDone(ctx context.Context, obs *kb.Observable, module string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE observables SET last_analyses = json_patch(last_analyses, json_object(?, ?)) WHERE id = ?`,
		module, time.Now().UTC().Format(time.RFC3339), obs.ID)
	return errors.Wrapf(err, "failed to record analysis %q", module)
}

// RefreshTagApplication flips the named application fresh and advances its
// last_seen. The returned bool is the authoritative "was it present" signal:
// false tells the caller to take the insert path.
func (s *ObservableStore) RefreshTagApplication(ctx context.Context, observableID, name string, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE observable_tags SET fresh = 1, last_seen = ?
		WHERE observable_id = ? AND name = ?`,
		now, observableID, name)
	if err != nil {
		return false, errors.Wrapf(err, "failed to refresh tag %q", name)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "failed to read rows affected")
	}
	return n > 0, nil
}

// InsertTagApplication appends a new application. The ON CONFLICT clause
// closes the race where another writer inserted the same name after the
// caller's refresh missed: the losing insert degrades to a refresh instead
// of failing or duplicating.
func (s *ObservableStore) InsertTagApplication(ctx context.Context, observableID, name string, now time.Time, expiration *time.Duration) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO observable_tags (observable_id, name, first_seen, last_seen, expiration_seconds, fresh)
		VALUES (?, ?, ?, ?, ?, 1)
		ON CONFLICT(observable_id, name) DO UPDATE SET fresh = 1, last_seen = excluded.last_seen`,
		observableID, name, now, now, durationSeconds(expiration))
	return errors.Wrapf(err, "failed to insert tag %q", name)
}

// RemoveTagApplication deletes the named application. Idempotent.
func (s *ObservableStore) RemoveTagApplication(ctx context.Context, observableID, name string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM observable_tags WHERE observable_id = ? AND name = ?`, observableID, name)
	return errors.Wrapf(err, "failed to remove tag %q", name)
}

// RenameTagApplication renames oldName in place, preserving first_seen.
// Returns false without changing anything when an application named newName
// already coexists; the caller then merges instead.
func (s *ObservableStore) RenameTagApplication(ctx context.Context, observableID, oldName, newName string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE observable_tags SET name = ?
		WHERE observable_id = ? AND name = ?
		  AND NOT EXISTS (
			SELECT 1 FROM observable_tags WHERE observable_id = ? AND name = ?
		  )`,
		newName, observableID, oldName, observableID, newName)
	if err != nil {
		return false, errors.Wrapf(err, "failed to rename tag %q to %q", oldName, newName)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "failed to read rows affected")
	}
	return n > 0, nil
}

// ListTagApplications returns the observable's tag applications ordered by
// first_seen.
func (s *ObservableStore) ListTagApplications(ctx context.Context, observableID string) ([]kb.TagApplication, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, first_seen, last_seen, expiration_seconds, fresh
		FROM observable_tags
		WHERE observable_id = ?
		ORDER BY first_seen, name`, observableID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list tag applications")
	}
	defer rows.Close()

	var apps []kb.TagApplication
	for rows.Next() {
		var app kb.TagApplication
		var expiration sql.NullInt64
		var fresh int
		if err := rows.Scan(&app.Name, &app.FirstSeen, &app.LastSeen, &expiration, &fresh); err != nil {
			return nil, errors.Wrap(err, "failed to scan tag application")
		}
		if expiration.Valid {
			d := time.Duration(expiration.Int64) * time.Second
			app.Expiration = &d
		}
		app.Fresh = fresh != 0
		apps = append(apps, app)
	}
	return apps, rows.Err()
}

// ExpireTagApplication flips one application stale. The last_seen equality
// guard makes the flip conditional: if a concurrent re-tag advanced
// last_seen after the caller's read, the expiry no-ops instead of clobbering
// the refresh.
func (s *ObservableStore) ExpireTagApplication(ctx context.Context, observableID string, app kb.TagApplication) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE observable_tags SET fresh = 0
		WHERE observable_id = ? AND name = ? AND last_seen = ?`,
		observableID, app.Name, app.LastSeen)
	return errors.Wrapf(err, "failed to expire tag %q", app.Name)
}

// SetLastTagged advances the observable's last-tagged timestamp.
func (s *ObservableStore) SetLastTagged(ctx context.Context, observableID string, now time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE observables SET last_tagged = ? WHERE id = ?`, now, observableID)
	return errors.Wrap(err, "failed to set last_tagged")
}

// LastTagged returns the observable's last-tagged timestamp, lazily
// backfilling it from the newest tag application when the column is unset.
func (s *ObservableStore) LastTagged(ctx context.Context, obs *kb.Observable) (*time.Time, error) {
	if obs.LastTagged != nil {
		return obs.LastTagged, nil
	}

	if _, err := s.db.ExecContext(ctx, `
		UPDATE observables
		SET last_tagged = (SELECT MAX(last_seen) FROM observable_tags WHERE observable_id = ?)
		WHERE id = ? AND last_tagged IS NULL`,
		obs.ID, obs.ID); err != nil {
		return nil, errors.Wrap(err, "failed to backfill last_tagged")
	}

	reloaded, err := s.Reload(ctx, obs)
	if err != nil {
		return nil, err
	}
	return reloaded.LastTagged, nil
}

// ListIDsWithTag returns the IDs of all observables carrying any of the
// given tag names. Used by bulk renames.
func (s *ObservableStore) ListIDsWithTag(ctx context.Context, names []string) ([]string, error) {
	if len(names) == 0 {
		return nil, nil
	}

	query := `SELECT DISTINCT observable_id FROM observable_tags WHERE name IN (?` +
		repeatPlaceholder(len(names)-1) + `)`
	args := make([]interface{}, len(names))
	for i, n := range names {
		args[i] = n
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list observables by tag")
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "failed to scan observable id")
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// GetByID returns the observable with the given ID, tags included.
func (s *ObservableStore) GetByID(ctx context.Context, id string) (*kb.Observable, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+observableColumns+` FROM observables WHERE id = ?`, id)
	obs, err := s.scanObservable(ctx, row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("observable id %q", id)
	}
	return obs, err
}

func (s *ObservableStore) scanObservable(ctx context.Context, row rowScanner) (*kb.Observable, error) {
	var obs kb.Observable
	var contextJSON, sourcesJSON, analysesJSON string
	var lastTagged sql.NullTime

	if err := row.Scan(&obs.ID, &obs.Value, &obs.Type, &contextJSON, &sourcesJSON,
		&analysesJSON, &obs.Created, &lastTagged); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(contextJSON), &obs.Context); err != nil {
		return nil, errors.Wrapf(err, "corrupt context for %q", obs.Value)
	}
	if err := json.Unmarshal([]byte(sourcesJSON), &obs.Sources); err != nil {
		return nil, errors.Wrapf(err, "corrupt sources for %q", obs.Value)
	}

	var analyses map[string]string
	if err := json.Unmarshal([]byte(analysesJSON), &analyses); err != nil {
		return nil, errors.Wrapf(err, "corrupt last_analyses for %q", obs.Value)
	}
	if len(analyses) > 0 {
		obs.LastAnalyses = make(map[string]time.Time, len(analyses))
		for module, raw := range analyses {
			ts, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				return nil, errors.Wrapf(err, "corrupt analysis timestamp for %q", module)
			}
			obs.LastAnalyses[module] = ts
		}
	}
	if lastTagged.Valid {
		obs.LastTagged = &lastTagged.Time
	}

	apps, err := s.ListTagApplications(ctx, obs.ID)
	if err != nil {
		return nil, err
	}
	obs.Tags = apps

	return &obs, nil
}

func repeatPlaceholder(n int) string {
	out := ""
	for i := 0; i < n; i++ {
		out += ", ?"
	}
	return out
}
