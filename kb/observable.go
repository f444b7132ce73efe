// Package kb defines the knowledge-base domain model: observables (technical
// indicators), the tag catalog, per-observable tag applications, and entities.
// Persistence lives in kb/storage; the tag lifecycle rules live in kb/tagging.
package kb

import (
	"encoding/json"
	"sort"
	"time"
)

// TagApplication is one tag attached to an observable. Applications are
// unique by name within an observable; reapplying a tag refreshes the
// existing application instead of creating a second one.
type TagApplication struct {
	Name       string         `json:"name"`
	FirstSeen  time.Time      `json:"first_seen"`
	LastSeen   time.Time      `json:"last_seen"`
	Expiration *time.Duration `json:"expiration,omitempty"` // nil = never expires
	Fresh      bool           `json:"fresh"`
}

// Expired reports whether the application's expiration window has elapsed.
// Applications without an expiration never expire.
func (ta TagApplication) Expired(now time.Time) bool {
	if ta.Expiration == nil {
		return false
	}
	return now.After(ta.LastSeen.Add(*ta.Expiration))
}

// Observable is a technical indicator under investigation: an IP, hash, URL,
// hostname, email or certificate reference. The value is the identity key.
type Observable struct {
	ID           string               `json:"id"`
	Value        string               `json:"value"`
	Type         ObservableType       `json:"type"`
	Context      []map[string]string  `json:"context"`
	Sources      []string             `json:"sources"`
	Tags         []TagApplication     `json:"tags"`
	LastAnalyses map[string]time.Time `json:"last_analyses"`
	Created      time.Time            `json:"created"`
	LastTagged   *time.Time           `json:"last_tagged,omitempty"`
}

// HasTag reports whether the observable carries a tag application with the
// given name, fresh or not.
func (o *Observable) HasTag(name string) bool {
	for _, t := range o.Tags {
		if t.Name == name {
			return true
		}
	}
	return false
}

// TagNames returns the names of all tag applications. Pass freshOnly to
// restrict the result to fresh applications.
func (o *Observable) TagNames(freshOnly bool) []string {
	names := make([]string, 0, len(o.Tags))
	for _, t := range o.Tags {
		if t.Fresh || !freshOnly {
			names = append(names, t.Name)
		}
	}
	return names
}

// FreshTags returns the applications that are currently fresh.
func (o *Observable) FreshTags() []TagApplication {
	var fresh []TagApplication
	for _, t := range o.Tags {
		if t.Fresh {
			fresh = append(fresh, t)
		}
	}
	return fresh
}

// Summary is the read-only view of an observable handed to presentation
// layers. The core does not format or transport it further.
type Summary struct {
	ID           string               `json:"id"`
	Value        string               `json:"value"`
	Type         ObservableType       `json:"type"`
	Context      []map[string]string  `json:"context"`
	Sources      []string             `json:"sources"`
	Tags         []TagApplication     `json:"tags"`
	LastAnalyses map[string]time.Time `json:"last_analyses"`
	Created      time.Time            `json:"created"`
	LastTagged   *time.Time           `json:"last_tagged,omitempty"`
}

// Summary returns the serializable view of the observable.
func (o *Observable) Summary() Summary {
	return Summary{
		ID:           o.ID,
		Value:        o.Value,
		Type:         o.Type,
		Context:      o.Context,
		Sources:      o.Sources,
		Tags:         o.Tags,
		LastAnalyses: o.LastAnalyses,
		Created:      o.Created,
		LastTagged:   o.LastTagged,
	}
}

// CanonicalContext encodes a context entry with its keys sorted, which is the
// identity used for context deduplication. Two entries with the same field
// set are the same entry regardless of insertion order.
func CanonicalContext(entry map[string]string) (string, error) {
	keys := make([]string, 0, len(entry))
	for k := range entry {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	ordered := make([][2]string, len(keys))
	for i, k := range keys {
		ordered[i] = [2]string{k, entry[k]}
	}
	raw, err := json.Marshal(ordered)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
