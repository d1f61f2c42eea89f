package pbf

// CoordinateScale converts stored coordinates to degrees.
const CoordinateScale = 1e7

// Node is a decoded node. Lat and Lon are in 1e-7 degrees.
type Node struct {
	ID   int64
	Lat  int64
	Lon  int64
	Tags map[string]string
}

func (n Node) LatDegrees() float64 { return float64(n.Lat) / CoordinateScale }
func (n Node) LonDegrees() float64 { return float64(n.Lon) / CoordinateScale }

// Way is a decoded way. Refs are absolute node ids in path order.
type Way struct {
	ID   int64
	Refs []int64
	Tags map[string]string
}

// Closed reports whether the way starts and ends on the same node.
func (w Way) Closed() bool {
	return len(w.Refs) >= 4 && w.Refs[0] == w.Refs[len(w.Refs)-1]
}

// Member is one relation member.
type Member struct {
	Type MemberType
	Ref  int64
	Role string
}

// Relation is a decoded relation.
type Relation struct {
	ID      int64
	Members []Member
	Tags    map[string]string
}

// Entities is everything decoded from one primitive record.
type Entities struct {
	Nodes     []Node
	Ways      []Way
	Relations []Relation
}

// Expand turns the three dense columns into nodes. Each column gets its own
// accumulator, reset for every set.
func (d *DenseNodes) Expand(st StringTable) ([]Node, error) {
	const op = "expand dense nodes"
	if len(d.ID) != len(d.Lat) || len(d.ID) != len(d.Lon) {
		return nil, newError(KindSchemaViolation, op,
			"column lengths differ: id=%d lat=%d lon=%d", len(d.ID), len(d.Lat), len(d.Lon))
	}

	ids, err := DeltaDecode(d.ID)
	if err != nil {
		return nil, err
	}
	lats, err := DeltaDecode(d.Lat)
	if err != nil {
		return nil, err
	}
	lons, err := DeltaDecode(d.Lon)
	if err != nil {
		return nil, err
	}

	tags := denseTags{kv: d.KeysVals, st: st}
	nodes := make([]Node, len(ids))
	for i := range ids {
		t, err := tags.next()
		if err != nil {
			return nil, err
		}
		nodes[i] = Node{ID: ids[i], Lat: lats[i], Lon: lons[i], Tags: t}
	}
	return nodes, nil
}

// Expand resolves a sparse node's tags.
func (n *RawNode) Expand(st StringTable) (Node, error) {
	tags, err := ResolveTags(n.Keys, n.Vals, st)
	if err != nil {
		return Node{}, err
	}
	return Node{ID: n.ID, Lat: n.Lat, Lon: n.Lon, Tags: tags}, nil
}

// Expand turns the way's ref deltas into absolute node ids and resolves its tags.
func (w *RawWay) Expand(st StringTable) (Way, error) {
	refs, err := DeltaDecode(w.Refs)
	if err != nil {
		return Way{}, err
	}
	tags, err := ResolveTags(w.Keys, w.Vals, st)
	if err != nil {
		return Way{}, err
	}
	return Way{ID: w.ID, Refs: refs, Tags: tags}, nil
}

// Expand decodes member ids and resolves roles and tags.
func (r *RawRelation) Expand(st StringTable) (Relation, error) {
	const op = "expand relation"
	if len(r.MemIDs) != len(r.RolesSID) || len(r.MemIDs) != len(r.Types) {
		return Relation{}, newError(KindSchemaViolation, op,
			"member columns differ: memids=%d roles=%d types=%d", len(r.MemIDs), len(r.RolesSID), len(r.Types))
	}

	ids, err := DeltaDecode(r.MemIDs)
	if err != nil {
		return Relation{}, err
	}
	tags, err := ResolveTags(r.Keys, r.Vals, st)
	if err != nil {
		return Relation{}, err
	}

	members := make([]Member, len(ids))
	for i, id := range ids {
		if r.Types[i] < MemberNode || r.Types[i] > MemberRelation {
			return Relation{}, newError(KindSchemaViolation, op, "member type %d", r.Types[i])
		}
		role, err := st.Lookup(int64(r.RolesSID[i]))
		if err != nil {
			return Relation{}, err
		}
		members[i] = Member{Type: r.Types[i], Ref: id, Role: role}
	}
	return Relation{ID: r.ID, Members: members, Tags: tags}, nil
}

// Entities expands every group of the record. It reads only the record
// itself, so separate records can be expanded concurrently.
func (p *PrimitiveRecord) Entities() (*Entities, error) {
	out := &Entities{}
	for gi := range p.Groups {
		g := &p.Groups[gi]

		for i := range g.Nodes {
			n, err := g.Nodes[i].Expand(p.StringTable)
			if err != nil {
				return nil, err
			}
			out.Nodes = append(out.Nodes, n)
		}

		if g.Dense != nil {
			nodes, err := g.Dense.Expand(p.StringTable)
			if err != nil {
				return nil, err
			}
			out.Nodes = append(out.Nodes, nodes...)
		}

		for i := range g.Ways {
			w, err := g.Ways[i].Expand(p.StringTable)
			if err != nil {
				return nil, err
			}
			out.Ways = append(out.Ways, w)
		}

		for i := range g.Relations {
			r, err := g.Relations[i].Expand(p.StringTable)
			if err != nil {
				return nil, err
			}
			out.Relations = append(out.Relations, r)
		}
	}
	return out, nil
}
