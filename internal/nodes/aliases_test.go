package nodes

import "testing"

func TestAliasTable_DefaultAliases(t *testing.T) {
	table := NewAliasTable(nil)

	tests := []struct {
		in   string
		want string
	}{
		{"bash", "exec"},
		{"BASH", "exec"},
		{"read_file", "fs.read_text"},
		{"web.fetch", "web.fetch"},
		{"web.search", "web.search"},
		{"fs.write_text", "fs.write_text"},
	}
	for _, tt := range tests {
		if got := table.Apply(tt.in); got != tt.want {
			t.Errorf("Apply(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestAliasTable_WebFetchAndSearchStayDistinct(t *testing.T) {
	table := NewAliasTable(nil)
	fetch := table.Apply("web.fetch")
	search := table.Apply("web.search")
	if fetch == search {
		t.Errorf("web.fetch and web.search must resolve to distinct names, got %q and %q", fetch, search)
	}
}

func TestAliasTable_CustomMapping(t *testing.T) {
	table := NewAliasTable(map[string]string{"shorthand": "canonical.name"})
	if got := table.Apply("shorthand"); got != "canonical.name" {
		t.Errorf("Apply(shorthand) = %q, want canonical.name", got)
	}
	if got := table.Apply("bash"); got != "bash" {
		t.Errorf("Apply(bash) = %q, want bash unchanged when custom map omits it", got)
	}
}

func TestAliasTable_NilReceiver(t *testing.T) {
	var table *AliasTable
	if got := table.Apply("anything"); got != "anything" {
		t.Errorf("Apply on nil table = %q, want unchanged input", got)
	}
}
