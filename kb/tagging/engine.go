// Package tagging implements the tag lifecycle: normalization, alias
// resolution, derived-tag expansion, freshness, and entity auto-linking.
package tagging

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/basilisk-ti/basilisk/graph"
	"github.com/basilisk-ti/basilisk/kb"
	"github.com/basilisk-ti/basilisk/kb/storage"
	"github.com/basilisk-ti/basilisk/logger"
	"github.com/basilisk-ti/basilisk/sym"
)

// Engine coordinates the tag catalog, per-observable applications, and the
// entity graph. It holds no state of its own; every operation is a sequence
// of atomic store statements, safe under concurrent feed workers.
type Engine struct {
	tags        *storage.TagStore
	observables *storage.ObservableStore
	entities    *storage.EntityStore
	links       *graph.LinkStore
	logger      *zap.SugaredLogger

	// now is swappable for tests.
	now func() time.Time
}

// NewEngine creates a tagging engine over the given stores.
func NewEngine(tags *storage.TagStore, observables *storage.ObservableStore, entities *storage.EntityStore, links *graph.LinkStore) *Engine {
	return &Engine{
		tags:        tags,
		observables: observables,
		entities:    entities,
		links:       links,
		logger:      logger.ComponentLogger("tagging"),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// TagOptions modifies Tag behavior.
type TagOptions struct {
	// Strict removes existing tag applications not in the requested set
	// before applying.
	Strict bool
	// Expiration overrides the per-tag default expiration for every
	// application made by this call.
	Expiration *time.Duration
}

// Tag applies the named tags to the observable. Each name is normalized and
// resolved through catalog aliases; the canonical tag's produces set expands
// the application one level (derived tags do not chase their own produces
// sets, so produces cycles terminate). Entities declaring an applied tag are
// linked before the application lands. Returns the reloaded observable.
func (e *Engine) Tag(ctx context.Context, obs *kb.Observable, names []string, opts TagOptions) (*kb.Observable, error) {
	now := e.now()

	requested := make([]string, 0, len(names))
	for _, name := range names {
		if name = kb.NormalizeTagName(name); name != "" {
			requested = append(requested, name)
		}
	}

	if opts.Strict {
		if err := e.untagComplement(ctx, obs, requested); err != nil {
			return nil, err
		}
	}

	applied := false
	for _, name := range requested {
		tag, err := e.tags.GetOrCreate(ctx, name)
		if err != nil {
			return nil, err
		}

		// The canonical tag plus one level of derived tags. Each derived
		// name is a real catalog entry; its own produces set is not
		// followed.
		apply := []*kb.Tag{tag}
		for _, produced := range tag.Produces {
			derived, err := e.tags.GetOrCreate(ctx, produced)
			if err != nil {
				return nil, err
			}
			apply = append(apply, derived)
		}

		if err := e.autoLink(ctx, obs, tag.Name, now); err != nil {
			return nil, err
		}

		for _, entry := range apply {
			expiration := opts.Expiration
			if expiration == nil {
				expiration = entry.DefaultExpiration
			}
			inserted, err := e.applyTag(ctx, obs.ID, entry.Name, now, expiration)
			if err != nil {
				return nil, err
			}
			if inserted {
				e.tags.IncrementUsage(ctx, entry.Name)
			}
			applied = true
		}
	}

	if applied {
		if err := e.observables.SetLastTagged(ctx, obs.ID, now); err != nil {
			return nil, err
		}
		e.logger.Debugw(sym.Tag+" Tagged observable",
			logger.FieldComponent, "tagging",
			"observable", obs.Value,
			"tags", requested)
	}

	return e.observables.Reload(ctx, obs)
}

// applyTag refreshes an existing application or inserts a new one. The
// refresh-then-insert pair reports whether this call created the row; the
// insert's ON CONFLICT clause absorbs the race where another writer created
// it between the two statements.
func (e *Engine) applyTag(ctx context.Context, observableID, name string, now time.Time, expiration *time.Duration) (bool, error) {
	present, err := e.observables.RefreshTagApplication(ctx, observableID, name, now)
	if err != nil {
		return false, err
	}
	if present {
		return false, nil
	}
	if err := e.observables.InsertTagApplication(ctx, observableID, name, now, expiration); err != nil {
		return false, err
	}
	return true, nil
}

// autoLink connects the observable to every entity declaring the tag. The
// link lands before the tag application, so a reader that sees the tag also
// sees the edge. CleanOld keeps at most one Tagged edge per pair.
func (e *Engine) autoLink(ctx context.Context, obs *kb.Observable, name string, now time.Time) error {
	entities, err := e.entities.FindByDeclaredTags(ctx, []string{name})
	if err != nil {
		return err
	}
	for _, entity := range entities {
		if _, err := e.links.UpsertTagEdge(ctx,
			graph.ObservableRef(obs.ID), graph.EntityRef(entity.ID), "tags", now); err != nil {
			return err
		}
		e.logger.Debugw(sym.Graph+" Linked observable to entity",
			"observable", obs.Value,
			"entity", entity.Name,
			"tag", name)
	}
	return nil
}

// untagComplement removes applications outside the requested set.
func (e *Engine) untagComplement(ctx context.Context, obs *kb.Observable, requested []string) error {
	keep := make(map[string]bool, len(requested))
	for _, name := range requested {
		keep[name] = true
	}

	apps, err := e.observables.ListTagApplications(ctx, obs.ID)
	if err != nil {
		return err
	}
	for _, app := range apps {
		if !keep[app.Name] {
			if err := e.observables.RemoveTagApplication(ctx, obs.ID, app.Name); err != nil {
				return err
			}
		}
	}
	return nil
}

// Untag removes the named tag applications. Unknown names are ignored.
func (e *Engine) Untag(ctx context.Context, obs *kb.Observable, names []string) (*kb.Observable, error) {
	for _, name := range names {
		name = kb.NormalizeTagName(name)
		if name == "" {
			continue
		}
		if err := e.observables.RemoveTagApplication(ctx, obs.ID, name); err != nil {
			return nil, err
		}
	}
	return e.observables.Reload(ctx, obs)
}

// ChangeTag renames an application from oldName to newName. When the
// observable does not already carry newName, the application is renamed in
// place and keeps its first_seen. When both exist, the two merge: the old
// application is removed and the surviving one is refreshed. Either way, at
// most one of the two names remains.
func (e *Engine) ChangeTag(ctx context.Context, obs *kb.Observable, oldName, newName string) (*kb.Observable, error) {
	oldName = kb.NormalizeTagName(oldName)
	newName = kb.NormalizeTagName(newName)
	if oldName == "" || newName == "" || oldName == newName {
		return e.observables.Reload(ctx, obs)
	}

	// Make sure the target name exists in the catalog.
	if _, err := e.tags.GetOrCreate(ctx, newName); err != nil {
		return nil, err
	}

	renamed, err := e.observables.RenameTagApplication(ctx, obs.ID, oldName, newName)
	if err != nil {
		return nil, err
	}
	if !renamed {
		// Both names coexist (or oldName is absent): drop the old
		// application and refresh the survivor if it is there.
		if err := e.observables.RemoveTagApplication(ctx, obs.ID, oldName); err != nil {
			return nil, err
		}
		if _, err := e.observables.RefreshTagApplication(ctx, obs.ID, newName, e.now()); err != nil {
			return nil, err
		}
	}

	return e.observables.Reload(ctx, obs)
}

// ChangeAllTags renames a tag across every observable carrying it. Used
// after catalog merges to move applications onto the surviving name.
func (e *Engine) ChangeAllTags(ctx context.Context, oldName, newName string) (int, error) {
	oldName = kb.NormalizeTagName(oldName)
	newName = kb.NormalizeTagName(newName)
	if oldName == "" || newName == "" || oldName == newName {
		return 0, nil
	}

	ids, err := e.observables.ListIDsWithTag(ctx, []string{oldName})
	if err != nil {
		return 0, err
	}

	changed := 0
	for _, id := range ids {
		obs, err := e.observables.GetByID(ctx, id)
		if err != nil {
			return changed, err
		}
		if _, err := e.ChangeTag(ctx, obs, oldName, newName); err != nil {
			return changed, err
		}
		changed++
	}

	if changed > 0 {
		e.logger.Infow(sym.Tag+" Renamed tag across observables",
			"old", oldName, "new", newName, "observables", changed)
	}
	return changed, nil
}

// ExpireTags flips stale applications on the observable. Freshness only ever
// moves fresh to stale here; re-tagging is the only way back.
func (e *Engine) ExpireTags(ctx context.Context, obs *kb.Observable) (*kb.Observable, error) {
	now := e.now()

	apps, err := e.observables.ListTagApplications(ctx, obs.ID)
	if err != nil {
		return nil, err
	}
	for _, app := range apps {
		if app.Fresh && app.Expired(now) {
			if err := e.observables.ExpireTagApplication(ctx, obs.ID, app); err != nil {
				return nil, err
			}
		}
	}

	return e.observables.Reload(ctx, obs)
}

// FindRecommendedTags tallies the produces sets of the observable's current
// tags, keyed by derived tag name, and drops names the observable already
// carries. The count is how many current tags recommend the name.
func (e *Engine) FindRecommendedTags(ctx context.Context, obs *kb.Observable) (map[string]int, error) {
	apps, err := e.observables.ListTagApplications(ctx, obs.ID)
	if err != nil {
		return nil, err
	}

	present := make(map[string]bool, len(apps))
	for _, app := range apps {
		present[app.Name] = true
	}

	recommended := make(map[string]int)
	for _, app := range apps {
		tag, err := e.tags.Get(ctx, app.Name)
		if err != nil {
			// Applications can outlive catalog rows after admin deletes.
			continue
		}
		for _, produced := range tag.Produces {
			if !present[produced] {
				recommended[produced]++
			}
		}
	}
	return recommended, nil
}
