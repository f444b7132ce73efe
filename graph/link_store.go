package graph

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/basilisk-ti/basilisk/errors"
)

// LinkStore persists relationships in the links table.
type LinkStore struct {
	db     *sql.DB
	logger *zap.SugaredLogger
}

// NewLinkStore creates a link store backed by the given database.
func NewLinkStore(db *sql.DB, logger *zap.SugaredLogger) *LinkStore {
	return &LinkStore{db: db, logger: logger}
}

// UpsertOptions controls UpsertEdge behavior.
type UpsertOptions struct {
	// CleanOld removes existing edges with the same (source, target, type)
	// before inserting, guaranteeing at most one live edge for the triple.
	CleanOld bool
}

const linkColumns = `id, source, target, type, description, created_at, modified_at`

// UpsertEdge inserts a directed edge. With CleanOld, stale duplicates for the
// (source, target, type) triple are deleted and the insert happens in the
// same transaction, so readers never see zero-then-two edges. Without
// CleanOld, duplicates are permitted.
func (s *LinkStore) UpsertEdge(ctx context.Context, src, dst NodeRef, typ, description string, opts UpsertOptions) (*Relationship, error) {
	now := time.Now().UTC()
	rel := &Relationship{
		ID:          uuid.NewString(),
		Source:      src.String(),
		Target:      dst.String(),
		Type:        typ,
		Description: description,
		Created:     now,
		Modified:    now,
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	if opts.CleanOld {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM links WHERE source = ? AND target = ? AND type = ?`,
			rel.Source, rel.Target, rel.Type); err != nil {
			return nil, errors.Wrap(err, "failed to clean old edges")
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO links (id, source, target, type, description, created_at, modified_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rel.ID, rel.Source, rel.Target, rel.Type, rel.Description, rel.Created, rel.Modified); err != nil {
		return nil, errors.Wrapf(err, "failed to insert %s edge", typ)
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "failed to commit edge upsert")
	}
	return rel, nil
}

// UpsertTagEdge maintains the Tagged edge between an observable and an
// entity. The existing edge's first_seen is carried over inside the
// clean-and-insert transaction, so repeated tagging refreshes last_seen
// without resetting when the link was first made. At most one Tagged edge
// survives per (source, target).
func (s *LinkStore) UpsertTagEdge(ctx context.Context, src, dst NodeRef, description string, now time.Time) (*TagRelationship, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	firstSeen := now
	var created time.Time
	err = tx.QueryRowContext(ctx, `
		SELECT first_seen, created_at FROM links
		WHERE source = ? AND target = ? AND type = ?
		ORDER BY first_seen LIMIT 1`,
		src.String(), dst.String(), RelTagged).Scan(&firstSeen, &created)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrap(err, "failed to read existing tag edge")
	}
	if errors.Is(err, sql.ErrNoRows) {
		created = now
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM links WHERE source = ? AND target = ? AND type = ?`,
		src.String(), dst.String(), RelTagged); err != nil {
		return nil, errors.Wrap(err, "failed to clean old tag edges")
	}

	rel := &TagRelationship{
		Relationship: Relationship{
			ID:          uuid.NewString(),
			Source:      src.String(),
			Target:      dst.String(),
			Type:        RelTagged,
			Description: description,
			Created:     created,
			Modified:    now,
		},
		FirstSeen: firstSeen,
		LastSeen:  now,
		Fresh:     true,
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO links (id, source, target, type, description, created_at, modified_at,
			first_seen, last_seen, fresh)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 1)`,
		rel.ID, rel.Source, rel.Target, rel.Type, rel.Description,
		rel.Created, rel.Modified, rel.FirstSeen, rel.LastSeen); err != nil {
		return nil, errors.Wrap(err, "failed to insert tag edge")
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "failed to commit tag edge upsert")
	}
	return rel, nil
}

// LinkTo adds a plain directed edge without deduplication checks beyond
// CleanOld semantics. Feeds use this for structural edges, certificate to
// fingerprint and the like.
func (s *LinkStore) LinkTo(ctx context.Context, src, dst NodeRef, typ, description string) (*Relationship, error) {
	return s.UpsertEdge(ctx, src, dst, typ, description, UpsertOptions{CleanOld: true})
}

// ListNeighbors returns all edges touching the node, outgoing and incoming.
func (s *LinkStore) ListNeighbors(ctx context.Context, node NodeRef) ([]*Relationship, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+linkColumns+` FROM links
		WHERE source = ? OR target = ?
		ORDER BY created_at, id`, node.String(), node.String())
	if err != nil {
		return nil, errors.Wrap(err, "failed to list neighbors")
	}
	defer rows.Close()

	var rels []*Relationship
	for rows.Next() {
		var rel Relationship
		if err := rows.Scan(&rel.ID, &rel.Source, &rel.Target, &rel.Type,
			&rel.Description, &rel.Created, &rel.Modified); err != nil {
			return nil, errors.Wrap(err, "failed to scan edge")
		}
		rels = append(rels, &rel)
	}
	return rels, rows.Err()
}

// ListEdges returns all edges of the given type from the node.
func (s *LinkStore) ListEdges(ctx context.Context, src NodeRef, typ string) ([]*Relationship, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+linkColumns+` FROM links
		WHERE source = ? AND type = ?
		ORDER BY created_at, id`, src.String(), typ)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list edges")
	}
	defer rows.Close()

	var rels []*Relationship
	for rows.Next() {
		var rel Relationship
		if err := rows.Scan(&rel.ID, &rel.Source, &rel.Target, &rel.Type,
			&rel.Description, &rel.Created, &rel.Modified); err != nil {
			return nil, errors.Wrap(err, "failed to scan edge")
		}
		rels = append(rels, &rel)
	}
	return rels, rows.Err()
}

// GetTagEdge returns the live Tagged edge for the pair, or a not-found error.
func (s *LinkStore) GetTagEdge(ctx context.Context, src, dst NodeRef) (*TagRelationship, error) {
	var rel TagRelationship
	var fresh int
	err := s.db.QueryRowContext(ctx, `
		SELECT id, source, target, type, description, created_at, modified_at,
			first_seen, last_seen, fresh
		FROM links
		WHERE source = ? AND target = ? AND type = ?`,
		src.String(), dst.String(), RelTagged).
		Scan(&rel.ID, &rel.Source, &rel.Target, &rel.Type, &rel.Description,
			&rel.Created, &rel.Modified, &rel.FirstSeen, &rel.LastSeen, &fresh)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("tag edge %s -> %s", src, dst)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to read tag edge")
	}
	rel.Fresh = fresh != 0
	return &rel, nil
}
