package style

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/wegman-software/pbfkit/internal/pbf"
)

func TestRulesMatch(t *testing.T) {
	rules := &Rules{
		Include:    map[string][]string{"highway": nil, "amenity": {"cafe", "pub"}},
		Exclude:    map[string][]string{"access": {"private"}},
		RequireAny: []string{"highway", "amenity", "name"},
	}

	tests := []struct {
		name string
		tags map[string]string
		want bool
	}{
		{"any highway", map[string]string{"highway": "residential"}, true},
		{"listed amenity", map[string]string{"amenity": "cafe"}, true},
		{"unlisted amenity", map[string]string{"amenity": "bank"}, false},
		{"excluded", map[string]string{"highway": "service", "access": "private"}, false},
		{"name only", map[string]string{"name": "Main"}, false},
		{"untagged", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := rules.Match(tt.tags); got != tt.want {
				t.Errorf("Match(%v) = %v, want %v", tt.tags, got, tt.want)
			}
		})
	}

	rules.Untagged = true
	if !rules.Match(nil) {
		t.Error("untagged entities should match when Untagged is set")
	}

	var none *Rules
	if !none.Match(map[string]string{"x": "y"}) || none.HasFilter() {
		t.Error("nil rules should match everything")
	}
}

func TestFilterApply(t *testing.T) {
	f := NewFilter(&Config{
		Nodes: &Rules{Untagged: true, Exclude: map[string][]string{"barrier": nil}},
		Ways:  &Rules{Include: map[string][]string{"building": {"*"}}, DropTags: []string{"source"}},
	})

	ents := &pbf.Entities{
		Nodes: []pbf.Node{
			{ID: 1},
			{ID: 2, Tags: map[string]string{"barrier": "gate"}},
		},
		Ways: []pbf.Way{
			{ID: 10, Tags: map[string]string{"building": "yes", "source": "survey"}},
			{ID: 11, Tags: map[string]string{"highway": "path"}},
		},
		Relations: []pbf.Relation{{ID: 20}},
	}
	f.Apply(ents)

	if len(ents.Nodes) != 1 || ents.Nodes[0].ID != 1 {
		t.Errorf("unexpected nodes %+v", ents.Nodes)
	}
	if len(ents.Ways) != 1 || ents.Ways[0].ID != 10 {
		t.Fatalf("unexpected ways %+v", ents.Ways)
	}
	if _, ok := ents.Ways[0].Tags["source"]; ok {
		t.Error("source tag should be dropped")
	}
	if len(ents.Relations) != 1 {
		t.Error("relations without rules should be kept")
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "style.yaml")
	data := `
nodes:
  untagged: true
ways:
  include:
    highway: []
  drop_tags: [created_by]
`
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Nodes == nil || !cfg.Nodes.Untagged {
		t.Error("nodes section not loaded")
	}
	if cfg.Ways == nil || !cfg.Ways.HasFilter() {
		t.Error("ways section not loaded")
	}
	if cfg.Relations != nil {
		t.Error("relations section should be absent")
	}

	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}
