// Package style selects which entities and tags reach an export or load.
package style

import (
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/wegman-software/pbfkit/internal/pbf"
)

// Config holds one rule set per entity type. A missing section keeps every
// entity of that type.
type Config struct {
	Nodes     *Rules `yaml:"nodes,omitempty"`
	Ways      *Rules `yaml:"ways,omitempty"`
	Relations *Rules `yaml:"relations,omitempty"`
}

// Rules decide whether an entity is kept based on its tags.
type Rules struct {
	// Include keeps entities having any listed key. An empty value list or
	// "*" accepts any value for that key.
	Include map[string][]string `yaml:"include,omitempty"`
	// Exclude drops entities matching a listed key/value, after Include.
	Exclude map[string][]string `yaml:"exclude,omitempty"`
	// RequireAny drops entities lacking all of these keys.
	RequireAny []string `yaml:"require_any,omitempty"`
	// Untagged keeps entities without tags. Nodes referenced by ways are
	// usually untagged, so an export of way geometry needs this.
	Untagged bool `yaml:"untagged,omitempty"`
	// DropTags removes these keys from kept entities.
	DropTags []string `yaml:"drop_tags,omitempty"`
}

// LoadConfig loads a style configuration from a YAML file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read style file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse style YAML: %w", err)
	}
	return &cfg, nil
}

// Filter applies a Config to decoded entities.
type Filter struct {
	nodes, ways, relations *Rules
}

// NewFilter creates a filter from cfg. A nil cfg keeps everything.
func NewFilter(cfg *Config) *Filter {
	if cfg == nil {
		return &Filter{}
	}
	return &Filter{nodes: cfg.Nodes, ways: cfg.Ways, relations: cfg.Relations}
}

// KeepNode reports whether n passes the node rules.
func (f *Filter) KeepNode(n pbf.Node) bool { return f.nodes.Match(n.Tags) }

// KeepWay reports whether w passes the way rules.
func (f *Filter) KeepWay(w pbf.Way) bool { return f.ways.Match(w.Tags) }

// KeepRelation reports whether r passes the relation rules.
func (f *Filter) KeepRelation(r pbf.Relation) bool { return f.relations.Match(r.Tags) }

// Apply filters ents in place and strips dropped tags.
func (f *Filter) Apply(ents *pbf.Entities) {
	ents.Nodes = slices.DeleteFunc(ents.Nodes, func(n pbf.Node) bool { return !f.KeepNode(n) })
	ents.Ways = slices.DeleteFunc(ents.Ways, func(w pbf.Way) bool { return !f.KeepWay(w) })
	ents.Relations = slices.DeleteFunc(ents.Relations, func(r pbf.Relation) bool { return !f.KeepRelation(r) })

	for i := range ents.Nodes {
		ents.Nodes[i].Tags = f.nodes.strip(ents.Nodes[i].Tags)
	}
	for i := range ents.Ways {
		ents.Ways[i].Tags = f.ways.strip(ents.Ways[i].Tags)
	}
	for i := range ents.Relations {
		ents.Relations[i].Tags = f.relations.strip(ents.Relations[i].Tags)
	}
}

// Match reports whether tags pass the rules. Nil rules match everything.
func (r *Rules) Match(tags map[string]string) bool {
	if r == nil {
		return true
	}
	if len(tags) == 0 {
		return r.Untagged || !r.HasFilter()
	}

	if len(r.RequireAny) > 0 && !slices.ContainsFunc(r.RequireAny, func(k string) bool {
		_, ok := tags[k]
		return ok
	}) {
		return false
	}

	if len(r.Include) > 0 {
		matched := false
		for key, values := range r.Include {
			if v, ok := tags[key]; ok && valueMatches(values, v) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}

	for key, values := range r.Exclude {
		if v, ok := tags[key]; ok && valueMatches(values, v) {
			return false
		}
	}
	return true
}

// HasFilter returns true if any selection rule is set
func (r *Rules) HasFilter() bool {
	if r == nil {
		return false
	}
	return len(r.Include) > 0 || len(r.Exclude) > 0 || len(r.RequireAny) > 0
}

func (r *Rules) strip(tags map[string]string) map[string]string {
	if r == nil || len(r.DropTags) == 0 || len(tags) == 0 {
		return tags
	}
	out := make(map[string]string, len(tags))
	for k, v := range tags {
		if !slices.Contains(r.DropTags, k) {
			out[k] = v
		}
	}
	return out
}

// an empty list matches any value
func valueMatches(values []string, v string) bool {
	return len(values) == 0 || slices.Contains(values, v) || slices.Contains(values, "*")
}
