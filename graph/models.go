// Package graph stores typed, directed edges between knowledge-base nodes.
// Nodes are referenced by kind-qualified IDs so observables, entities and
// future node kinds share one links table.
package graph

import "time"

// NodeKind discriminates what a NodeRef points at.
type NodeKind string

const (
	KindObservable NodeKind = "observable"
	KindEntity     NodeKind = "entity"
)

// NodeRef identifies a graph node as "<kind>:<id>".
type NodeRef struct {
	Kind NodeKind
	ID   string
}

// Ref builds a node reference.
func Ref(kind NodeKind, id string) NodeRef {
	return NodeRef{Kind: kind, ID: id}
}

// ObservableRef references an observable node.
func ObservableRef(id string) NodeRef { return Ref(KindObservable, id) }

// EntityRef references an entity node.
func EntityRef(id string) NodeRef { return Ref(KindEntity, id) }

// String returns the kind-qualified form stored in the links table.
func (r NodeRef) String() string {
	return string(r.Kind) + ":" + r.ID
}

// RelTagged links an observable to an entity whose declared tags it matched.
const RelTagged = "Tagged"

// Relationship is one directed edge.
type Relationship struct {
	ID          string    `json:"id"`
	Source      string    `json:"source"`
	Target      string    `json:"target"`
	Type        string    `json:"type"`
	Description string    `json:"description"`
	Created     time.Time `json:"created"`
	Modified    time.Time `json:"modified"`
}

// TagRelationship is a Tagged edge with its freshness window. first_seen
// survives re-upserts; last_seen advances on every re-tag.
type TagRelationship struct {
	Relationship
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
	Fresh     bool      `json:"fresh"`
}
