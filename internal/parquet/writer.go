// Package parquet writes decoded OSM entities as zstd-compressed Parquet
// tables: nodes, ways, way_nodes, relations and relation_members. Node and
// way rows carry an EWKB geom column.
package parquet

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/apache/arrow/go/v14/arrow/memory"
	"github.com/apache/arrow/go/v14/parquet"
	"github.com/apache/arrow/go/v14/parquet/compress"
	"github.com/apache/arrow/go/v14/parquet/pqarrow"
	"github.com/paulmach/osm"
)

// TagsToJSON converts OSM tags to a JSON object string
func TagsToJSON(tags osm.Tags) string {
	if len(tags) == 0 {
		return "{}"
	}
	b, _ := json.Marshal(tags.Map())
	return string(b)
}

// table buffers rows in a record builder and writes a row group every
// batchSize rows.
type table struct {
	file      *os.File
	writer    *pqarrow.FileWriter
	builder   *array.RecordBuilder
	batchSize int
	pending   int
	rows      int64
}

func newTable(path string, batchSize int, fields ...arrow.Field) (*table, error) {
	if batchSize < 1 {
		batchSize = 100000
	}
	schema := arrow.NewSchema(fields, nil)

	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}

	props := parquet.NewWriterProperties(
		parquet.WithCompression(compress.Codecs.Zstd),
		parquet.WithDictionaryDefault(false),
	)
	writer, err := pqarrow.NewFileWriter(schema, f, props, pqarrow.DefaultWriterProps())
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create parquet writer for %s: %w", path, err)
	}

	return &table{
		file:      f,
		writer:    writer,
		builder:   array.NewRecordBuilder(memory.DefaultAllocator, schema),
		batchSize: batchSize,
	}, nil
}

func (t *table) int64s(i int) *array.Int64Builder {
	return t.builder.Field(i).(*array.Int64Builder)
}

func (t *table) int32s(i int) *array.Int32Builder {
	return t.builder.Field(i).(*array.Int32Builder)
}

func (t *table) float64s(i int) *array.Float64Builder {
	return t.builder.Field(i).(*array.Float64Builder)
}

func (t *table) strings(i int) *array.StringBuilder {
	return t.builder.Field(i).(*array.StringBuilder)
}

func (t *table) bools(i int) *array.BooleanBuilder {
	return t.builder.Field(i).(*array.BooleanBuilder)
}

func (t *table) appendGeom(i int, geom []byte) {
	b := t.builder.Field(i).(*array.BinaryBuilder)
	if geom == nil {
		b.AppendNull()
		return
	}
	b.Append(geom)
}

// rowDone is called after each appended row.
func (t *table) rowDone() error {
	t.pending++
	t.rows++
	if t.pending >= t.batchSize {
		return t.flush()
	}
	return nil
}

func (t *table) flush() error {
	if t.pending == 0 {
		return nil
	}
	rec := t.builder.NewRecord()
	defer rec.Release()
	t.pending = 0
	return t.writer.Write(rec)
}

// Rows returns the number of rows written so far.
func (t *table) Rows() int64 {
	return t.rows
}

func (t *table) Close() error {
	defer t.builder.Release()
	if err := t.flush(); err != nil {
		t.writer.Close()
		t.file.Close()
		return err
	}
	if err := t.writer.Close(); err != nil {
		t.file.Close()
		return err
	}
	// pqarrow may already have closed the sink
	if err := t.file.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
		return err
	}
	return nil
}

// NodeWriter writes the nodes table
type NodeWriter struct{ *table }

func NewNodeWriter(path string, batchSize int) (*NodeWriter, error) {
	t, err := newTable(path, batchSize,
		arrow.Field{Name: "id", Type: arrow.PrimitiveTypes.Int64},
		arrow.Field{Name: "lat", Type: arrow.PrimitiveTypes.Float64},
		arrow.Field{Name: "lon", Type: arrow.PrimitiveTypes.Float64},
		arrow.Field{Name: "tags", Type: arrow.BinaryTypes.String},
		arrow.Field{Name: "geom", Type: arrow.BinaryTypes.Binary, Nullable: true},
	)
	if err != nil {
		return nil, err
	}
	return &NodeWriter{t}, nil
}

// Write writes n with its EWKB point geometry; nil geom is stored as null.
func (w *NodeWriter) Write(n *osm.Node, geom []byte) error {
	w.int64s(0).Append(int64(n.ID))
	w.float64s(1).Append(n.Lat)
	w.float64s(2).Append(n.Lon)
	w.strings(3).Append(TagsToJSON(n.Tags))
	w.appendGeom(4, geom)
	return w.rowDone()
}

// WayWriter writes the ways table
type WayWriter struct{ *table }

func NewWayWriter(path string, batchSize int) (*WayWriter, error) {
	t, err := newTable(path, batchSize,
		arrow.Field{Name: "id", Type: arrow.PrimitiveTypes.Int64},
		arrow.Field{Name: "node_count", Type: arrow.PrimitiveTypes.Int32},
		arrow.Field{Name: "closed", Type: arrow.FixedWidthTypes.Boolean},
		arrow.Field{Name: "tags", Type: arrow.BinaryTypes.String},
		arrow.Field{Name: "geom", Type: arrow.BinaryTypes.Binary, Nullable: true},
	)
	if err != nil {
		return nil, err
	}
	return &WayWriter{t}, nil
}

// Write writes way with its EWKB geometry; nil geom is stored as null.
func (w *WayWriter) Write(way *osm.Way, geom []byte) error {
	w.int64s(0).Append(int64(way.ID))
	w.int32s(1).Append(int32(len(way.Nodes)))
	w.bools(2).Append(len(way.Nodes) >= 4 && way.Nodes[0].ID == way.Nodes[len(way.Nodes)-1].ID)
	w.strings(3).Append(TagsToJSON(way.Tags))
	w.appendGeom(4, geom)
	return w.rowDone()
}

// WayNodeWriter writes the way_nodes table, one row per way ref. lat and lon
// are null when the node location is unknown.
type WayNodeWriter struct{ *table }

func NewWayNodeWriter(path string, batchSize int) (*WayNodeWriter, error) {
	t, err := newTable(path, batchSize,
		arrow.Field{Name: "way_id", Type: arrow.PrimitiveTypes.Int64},
		arrow.Field{Name: "seq", Type: arrow.PrimitiveTypes.Int32},
		arrow.Field{Name: "node_id", Type: arrow.PrimitiveTypes.Int64},
		arrow.Field{Name: "lat", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
		arrow.Field{Name: "lon", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
	)
	if err != nil {
		return nil, err
	}
	return &WayNodeWriter{t}, nil
}

// Write writes every node of way. located reports whether a way node has a
// known location.
func (w *WayNodeWriter) Write(way *osm.Way, located func(osm.NodeID) bool) error {
	for i, wn := range way.Nodes {
		w.int64s(0).Append(int64(way.ID))
		w.int32s(1).Append(int32(i))
		w.int64s(2).Append(int64(wn.ID))
		if located != nil && located(wn.ID) {
			w.float64s(3).Append(wn.Lat)
			w.float64s(4).Append(wn.Lon)
		} else {
			w.float64s(3).AppendNull()
			w.float64s(4).AppendNull()
		}
		if err := w.rowDone(); err != nil {
			return err
		}
	}
	return nil
}

// RelationWriter writes the relations table
type RelationWriter struct{ *table }

func NewRelationWriter(path string, batchSize int) (*RelationWriter, error) {
	t, err := newTable(path, batchSize,
		arrow.Field{Name: "id", Type: arrow.PrimitiveTypes.Int64},
		arrow.Field{Name: "member_count", Type: arrow.PrimitiveTypes.Int32},
		arrow.Field{Name: "tags", Type: arrow.BinaryTypes.String},
	)
	if err != nil {
		return nil, err
	}
	return &RelationWriter{t}, nil
}

func (w *RelationWriter) Write(rel *osm.Relation) error {
	w.int64s(0).Append(int64(rel.ID))
	w.int32s(1).Append(int32(len(rel.Members)))
	w.strings(2).Append(TagsToJSON(rel.Tags))
	return w.rowDone()
}

// RelationMemberWriter writes the relation_members table
type RelationMemberWriter struct{ *table }

func NewRelationMemberWriter(path string, batchSize int) (*RelationMemberWriter, error) {
	t, err := newTable(path, batchSize,
		arrow.Field{Name: "relation_id", Type: arrow.PrimitiveTypes.Int64},
		arrow.Field{Name: "seq", Type: arrow.PrimitiveTypes.Int32},
		arrow.Field{Name: "type", Type: arrow.BinaryTypes.String},
		arrow.Field{Name: "ref", Type: arrow.PrimitiveTypes.Int64},
		arrow.Field{Name: "role", Type: arrow.BinaryTypes.String},
	)
	if err != nil {
		return nil, err
	}
	return &RelationMemberWriter{t}, nil
}

func (w *RelationMemberWriter) Write(rel *osm.Relation) error {
	for i, m := range rel.Members {
		w.int64s(0).Append(int64(rel.ID))
		w.int32s(1).Append(int32(i))
		w.strings(2).Append(string(m.Type))
		w.int64s(3).Append(m.Ref)
		w.strings(4).Append(m.Role)
		if err := w.rowDone(); err != nil {
			return err
		}
	}
	return nil
}
