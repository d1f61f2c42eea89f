// Package nodeindex stores node coordinates by id so ways can be resolved
// to geometry after nodes have been streamed past.
package nodeindex

import (
	"errors"
	"sync"

	"github.com/wegman-software/pbfkit/internal/pbf"
)

// ErrOutOfRange is returned when a node id or location does not fit the index.
var ErrOutOfRange = errors.New("node out of range")

// Index maps node ids to coordinates in 1e-7 degree units.
type Index interface {
	Put(id, lat, lon int64) error
	Get(id int64) (lat, lon int64, ok bool)
}

// MapIndex is an in-memory Index for small extracts and tests. It is safe
// for concurrent use.
type MapIndex struct {
	mu    sync.RWMutex
	nodes map[int64][2]int64
}

func NewMapIndex() *MapIndex {
	return &MapIndex{nodes: make(map[int64][2]int64)}
}

func (m *MapIndex) Put(id, lat, lon int64) error {
	m.mu.Lock()
	m.nodes[id] = [2]int64{lat, lon}
	m.mu.Unlock()
	return nil
}

func (m *MapIndex) Get(id int64) (lat, lon int64, ok bool) {
	m.mu.RLock()
	c, ok := m.nodes[id]
	m.mu.RUnlock()
	return c[0], c[1], ok
}

// Len returns the number of stored nodes.
func (m *MapIndex) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.nodes)
}

// AddNodes stores every node in nodes.
func AddNodes(idx Index, nodes []pbf.Node) error {
	for _, n := range nodes {
		if err := idx.Put(n.ID, n.Lat, n.Lon); err != nil {
			return err
		}
	}
	return nil
}

// Resolve returns the coordinates of w's nodes in path order. missing
// counts refs not present in idx; those positions are left out.
func Resolve(idx Index, w pbf.Way) (coords [][2]int64, missing int) {
	coords = make([][2]int64, 0, len(w.Refs))
	for _, ref := range w.Refs {
		lat, lon, ok := idx.Get(ref)
		if !ok {
			missing++
			continue
		}
		coords = append(coords, [2]int64{lat, lon})
	}
	return coords, missing
}
