package pipeline

import (
	"sync/atomic"

	"github.com/wegman-software/pbfkit/internal/pbf"
)

// BlockResult is the decoded form of one block. Exactly one of Header and
// Entities is set.
type BlockResult struct {
	Index    int
	Offset   int64
	Kind     string
	Header   *pbf.HeaderRecord
	Entities *pbf.Entities
}

// Counters are updated by decode workers and read by the progress reporter.
type Counters struct {
	Blocks    atomic.Int64
	Nodes     atomic.Int64
	Ways      atomic.Int64
	Relations atomic.Int64
}

// Stats is a snapshot of a finished run.
type Stats struct {
	Blocks       int64
	HeaderBlocks int64
	DataBlocks   int64
	Nodes        int64
	Ways         int64
	Relations    int64
	BytesRead    int64
}

// Dataset is the merged output of a whole file.
type Dataset struct {
	Header *pbf.HeaderRecord
	// Nodes is keyed by node id. A node id seen in several blocks keeps
	// one entry; its value depends only on the encoded id.
	Nodes     map[int64]pbf.Node
	Ways      []pbf.Way
	Relations []pbf.Relation
	Stats     Stats
}

// WayNodes returns the nodes of w in path order. ok is false when any
// referenced node is missing from the dataset.
func (d *Dataset) WayNodes(w pbf.Way) (nodes []pbf.Node, ok bool) {
	nodes = make([]pbf.Node, 0, len(w.Refs))
	for _, ref := range w.Refs {
		n, found := d.Nodes[ref]
		if !found {
			return nil, false
		}
		nodes = append(nodes, n)
	}
	return nodes, true
}
