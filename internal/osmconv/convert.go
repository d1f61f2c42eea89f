// Package osmconv converts decoded entities to github.com/paulmach/osm types
// for the sinks built on that ecosystem.
package osmconv

import (
	"sort"

	"github.com/paulmach/osm"

	"github.com/wegman-software/pbfkit/internal/nodeindex"
	"github.com/wegman-software/pbfkit/internal/pbf"
)

// Tags converts a tag map to osm.Tags sorted by key.
func Tags(m map[string]string) osm.Tags {
	if len(m) == 0 {
		return nil
	}
	tags := make(osm.Tags, 0, len(m))
	for k, v := range m {
		tags = append(tags, osm.Tag{Key: k, Value: v})
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i].Key < tags[j].Key })
	return tags
}

func Node(n pbf.Node) *osm.Node {
	return &osm.Node{
		ID:      osm.NodeID(n.ID),
		Lat:     n.LatDegrees(),
		Lon:     n.LonDegrees(),
		Tags:    Tags(n.Tags),
		Visible: true,
	}
}

// Way converts w. When idx is non-nil, way nodes carry the coordinates found
// in it; refs missing from idx keep zero coordinates.
func Way(w pbf.Way, idx nodeindex.Index) *osm.Way {
	nodes := make(osm.WayNodes, len(w.Refs))
	for i, ref := range w.Refs {
		nodes[i].ID = osm.NodeID(ref)
		if idx == nil {
			continue
		}
		if lat, lon, ok := idx.Get(ref); ok {
			nodes[i].Lat = float64(lat) / pbf.CoordinateScale
			nodes[i].Lon = float64(lon) / pbf.CoordinateScale
		}
	}
	return &osm.Way{
		ID:      osm.WayID(w.ID),
		Nodes:   nodes,
		Tags:    Tags(w.Tags),
		Visible: true,
	}
}

func Relation(r pbf.Relation) *osm.Relation {
	members := make(osm.Members, len(r.Members))
	for i, m := range r.Members {
		members[i] = osm.Member{Type: memberType(m.Type), Ref: m.Ref, Role: m.Role}
	}
	return &osm.Relation{
		ID:      osm.RelationID(r.ID),
		Members: members,
		Tags:    Tags(r.Tags),
		Visible: true,
	}
}

func memberType(t pbf.MemberType) osm.Type {
	switch t {
	case pbf.MemberWay:
		return osm.TypeWay
	case pbf.MemberRelation:
		return osm.TypeRelation
	default:
		return osm.TypeNode
	}
}
