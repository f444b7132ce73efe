package kb

import (
	"strings"
	"time"
)

// Tag is a catalog entry. Tags are created lazily on first application and
// never deleted; administrative edits touch only Replaces, Produces and the
// default expiration.
type Tag struct {
	// Name is the canonical, normalized tag name.
	Name string `json:"name"`

	// Replaces lists deprecated names that resolve to this tag.
	Replaces []string `json:"replaces"`

	// Produces lists tag names implied whenever this tag is applied.
	// Expansion is a single level: produced tags are applied but their own
	// Produces sets are not chased.
	Produces []string `json:"produces"`

	// DefaultExpiration is applied to new tag applications when the caller
	// supplies none. nil means applications never expire.
	DefaultExpiration *time.Duration `json:"default_expiration,omitempty"`

	// Count is a fire-and-forget usage counter, bumped on each fresh
	// application. Not part of correctness.
	Count int64 `json:"count"`

	Created time.Time `json:"created"`
}

// NormalizeTagName lowercases and trims a raw tag name. An empty result
// means the name is unusable and the caller should skip it.
func NormalizeTagName(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

// ReplacesName reports whether name is one of the tag's deprecated synonyms.
func (t *Tag) ReplacesName(name string) bool {
	for _, r := range t.Replaces {
		if r == name {
			return true
		}
	}
	return false
}
