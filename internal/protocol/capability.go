// ABOUTME: Static capability catalog answered synchronously to capability_request.
// ABOUTME: The table is fixed at build time; accessors hand out copies only.

package protocol

import "slices"

// RuntimeVersion is the version advertised in capability responses and by
// the daemon's version subcommand.
const RuntimeVersion = "0.3.0"

// ProtocolVersion identifies the wire contract. Bumped only on breaking
// envelope or type-set changes.
const ProtocolVersion = "1.0"

// Capabilities describes what the runtime can do for a connected agent.
type Capabilities struct {
	ProtocolVersion string   `json:"protocolVersion"`
	RuntimeVersion  string   `json:"runtimeVersion"`
	Operations      []string `json:"operations"`
	Languages       []string `json:"languages"`
	Features        []string `json:"features"`
}

var catalog = Capabilities{
	ProtocolVersion: ProtocolVersion,
	RuntimeVersion:  RuntimeVersion,
	Operations: []string{
		"context.get",
		"context.symbols",
		"refactor.rename",
		"refactor.extract",
		"analyze.metrics",
		"analyze.dependencies",
		"validate.syntax",
		"validate.semantics",
	},
	Languages: []string{"c", "cpp", "go", "java", "python", "rust"},
	Features:  []string{"sessions", "broadcast", "failover", "dedupe"},
}

// Catalog returns the capability table. Slice fields are cloned so callers
// cannot mutate the catalog.
func Catalog() Capabilities {
	c := catalog
	c.Operations = slices.Clone(catalog.Operations)
	c.Languages = slices.Clone(catalog.Languages)
	c.Features = slices.Clone(catalog.Features)
	return c
}

// Payload renders the capabilities as a wire payload map.
func (c Capabilities) Payload() map[string]any {
	return map[string]any{
		"protocolVersion": c.ProtocolVersion,
		"runtimeVersion":  c.RuntimeVersion,
		"operations":      c.Operations,
		"languages":       c.Languages,
		"features":        c.Features,
	}
}
