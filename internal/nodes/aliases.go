package nodes

import "strings"

// AliasTable rewrites legacy or shorthand tool names to their canonical
// form before resolution. web.fetch and web.search are
// intentionally absent: they stay distinct tools and must never be
// folded into one another.
type AliasTable struct {
	aliases map[string]string
}

// DefaultAliases mirrors the MCP-style manifest naming the gateway
// accepts from older node builds and direct CLI usage.
func DefaultAliases() map[string]string {
	return map[string]string{
		"bash":      "exec",
		"read_file": "fs.read_text",
	}
}

// NewAliasTable builds a table from a mapping, lowercasing both sides.
// A nil map falls back to DefaultAliases.
func NewAliasTable(aliases map[string]string) *AliasTable {
	if aliases == nil {
		aliases = DefaultAliases()
	}
	t := &AliasTable{aliases: make(map[string]string, len(aliases))}
	for from, to := range aliases {
		t.aliases[strings.ToLower(from)] = strings.ToLower(to)
	}
	return t
}

// Apply rewrites name if it has a registered alias, otherwise returns
// it unchanged.
func (t *AliasTable) Apply(name string) string {
	if t == nil {
		return name
	}
	lower := strings.ToLower(strings.TrimSpace(name))
	if canonical, ok := t.aliases[lower]; ok {
		return canonical
	}
	return name
}
