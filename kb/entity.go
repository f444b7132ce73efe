package kb

import "time"

// EntityType classifies higher-level knowledge-base objects.
type EntityType string

const (
	EntityThreatActor EntityType = "threat-actor"
	EntityMalware     EntityType = "malware"
	EntityCampaign    EntityType = "campaign"
	EntityExploitKit  EntityType = "exploit-kit"
	EntityCompany     EntityType = "company"
)

// Entity is an actor, malware family or campaign. Its declared tag set is
// what the auto-linker matches against when observables are tagged; the rest
// of the record is opaque to the tagging core.
type Entity struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Type        EntityType `json:"type"`
	Description string     `json:"description"`
	Tags        []string   `json:"tags"`
	Created     time.Time  `json:"created"`
}

// HasDeclaredTag reports whether the entity declares the given tag name.
func (e *Entity) HasDeclaredTag(name string) bool {
	for _, t := range e.Tags {
		if t == name {
			return true
		}
	}
	return false
}
