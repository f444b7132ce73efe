// Package sym defines canonical symbols for basilisk subsystems and log markers.
// These symbols are stable across CLI output, structured logs, and documentation.
package sym

// Knowledge-base symbols. Each maps to a top-level CLI command.
const (
	Observable = "◉" // observable — atomic technical indicator
	Tag        = "⊛" // tag — lifecycle label on an observable
	Entity     = "⬡" // entity — actor, campaign, malware family
	Graph      = "⌁" // graph — typed links between nodes
	Feed       = "⇣" // feed — external intelligence ingest
)

// System infrastructure symbols.
const (
	Pulse      = "꩜" // async jobs and scheduling
	PulseOpen  = "✿" // graceful startup with orphaned job recovery
	PulseClose = "❀" // graceful shutdown with checkpoint preservation
	DB         = "⊔" // database/storage layer
	AM         = "≡" // configuration and system settings
)

// SymbolToCommand maps glyph strings to their CLI command equivalents.
var SymbolToCommand = map[string]string{
	Observable: "observable",
	Tag:        "tag",
	Entity:     "entity",
	Graph:      "graph",
	Feed:       "feed",
	Pulse:      "daemon",
	DB:         "db",
	AM:         "config",
}

// CommandToSymbol maps CLI commands to their canonical glyph strings.
var CommandToSymbol = map[string]string{
	"observable": Observable,
	"tag":        Tag,
	"entity":     Entity,
	"graph":      Graph,
	"feed":       Feed,
	"daemon":     Pulse,
	"db":         DB,
	"config":     AM,
}

// Commands lists every glyph-bearing CLI command in display order.
var Commands = []string{
	"observable",
	"tag",
	"entity",
	"graph",
	"feed",
	"daemon",
	"db",
	"config",
}

// CommandDescriptions provides human-readable explanations for help output.
var CommandDescriptions = map[string]string{
	"observable": "Observable — Atomic technical indicators (URLs, IPs, hashes)",
	"tag":        "Tag — Lifecycle labels linking observables to entities",
	"entity":     "Entity — Actors, campaigns, and malware families",
	"graph":      "Graph — Typed links between knowledge-base nodes",
	"feed":       "Feed — External intelligence ingest tasks",
	"daemon":     "Daemon — Background workers and the feed scheduler",
	"db":         "Database — Storage layer management",
	"config":     "Configuration — System settings and state",
}
