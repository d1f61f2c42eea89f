package pbf

import (
	"fmt"
	"unicode/utf8"

	"github.com/paulmach/protoscan"
	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers of fileformat.proto and osmformat.proto.
const (
	blobHeaderType      = 1
	blobHeaderIndexData = 2
	blobHeaderDataSize  = 3

	blobRaw      = 1
	blobRawSize  = 2
	blobZlibData = 3
	blobLZMAData = 4
	blobBzip2    = 5
	blobLZ4Data  = 6
	blobZstdData = 7

	headerBBox             = 1
	headerRequiredFeatures = 4
	headerOptionalFeatures = 5
	headerWritingProgram   = 16
	headerSource           = 17
	headerReplTimestamp    = 32
	headerReplSequence     = 33
	headerReplBaseURL      = 34

	primitiveStringTable     = 1
	primitiveGroup           = 2
	primitiveGranularity     = 17
	primitiveDateGranularity = 18
	primitiveLatOffset       = 19
	primitiveLonOffset       = 20

	groupNodes     = 1
	groupDense     = 2
	groupWays      = 3
	groupRelations = 4

	nodeID   = 1
	nodeKeys = 2
	nodeVals = 3
	nodeLat  = 8
	nodeLon  = 9

	denseID       = 1
	denseLat      = 8
	denseLon      = 9
	denseKeysVals = 10

	wayID   = 1
	wayKeys = 2
	wayVals = 3
	wayRefs = 8

	relID       = 1
	relKeys     = 2
	relVals     = 3
	relRolesSID = 8
	relMemIDs   = 9
	relTypes    = 10
)

func schemaError(op string, err error) error {
	return wrapError(KindSchemaViolation, op, err)
}

type blobHeader struct {
	kind        string
	hasKind     bool
	indexData   []byte
	dataSize    int32
	hasDataSize bool
}

func decodeBlobHeader(data []byte) (blobHeader, error) {
	const op = "decode blob header"
	var h blobHeader
	var err error

	msg := protoscan.New(data)
	for msg.Next() {
		switch msg.FieldNumber() {
		case blobHeaderType:
			h.kind, err = msg.String()
			h.hasKind = true
		case blobHeaderIndexData:
			h.indexData, err = msg.Bytes()
		case blobHeaderDataSize:
			h.dataSize, err = msg.Int32()
			h.hasDataSize = true
		default:
			msg.Skip()
		}
		if err != nil {
			return h, schemaError(op, err)
		}
	}
	if msg.Err() != nil {
		return h, schemaError(op, msg.Err())
	}
	if !h.hasKind {
		return h, newError(KindSchemaViolation, op, "missing type")
	}
	if !h.hasDataSize {
		return h, newError(KindSchemaViolation, op, "missing datasize")
	}
	return h, nil
}

func marshalBlobHeader(kind string, indexData []byte, dataSize int32) []byte {
	var b []byte
	b = protowire.AppendTag(b, blobHeaderType, protowire.BytesType)
	b = protowire.AppendString(b, kind)
	if len(indexData) > 0 {
		b = protowire.AppendTag(b, blobHeaderIndexData, protowire.BytesType)
		b = protowire.AppendBytes(b, indexData)
	}
	b = protowire.AppendTag(b, blobHeaderDataSize, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(int64(dataSize)))
	return b
}

func decodeBlob(data []byte) (Blob, error) {
	const op = "decode blob"
	var blob Blob
	var err error

	msg := protoscan.New(data)
	for msg.Next() {
		var enc Encoding
		switch msg.FieldNumber() {
		case blobRaw:
			enc = EncodingRaw
		case blobRawSize:
			blob.RawSize, err = msg.Int32()
			blob.HasRawSize = true
		case blobZlibData:
			enc = EncodingZlib
		case blobLZMAData:
			enc = EncodingLZMA
		case blobBzip2:
			enc = EncodingBzip2
		case blobLZ4Data:
			enc = EncodingLZ4
		case blobZstdData:
			enc = EncodingZstd
		default:
			msg.Skip()
		}
		if enc != EncodingNone {
			blob.Encoding = enc
			blob.Data, err = msg.Bytes()
		}
		if err != nil {
			return blob, schemaError(op, err)
		}
	}
	if msg.Err() != nil {
		return blob, schemaError(op, msg.Err())
	}
	return blob, nil
}

func marshalBlob(blob Blob) []byte {
	var b []byte
	field := protowire.Number(blobRaw)
	switch blob.Encoding {
	case EncodingZlib:
		field = blobZlibData
	case EncodingLZMA:
		field = blobLZMAData
	case EncodingBzip2:
		field = blobBzip2
	case EncodingLZ4:
		field = blobLZ4Data
	case EncodingZstd:
		field = blobZstdData
	}
	if blob.HasRawSize {
		b = protowire.AppendTag(b, blobRawSize, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(int64(blob.RawSize)))
	}
	if blob.Encoding != EncodingNone {
		b = protowire.AppendTag(b, field, protowire.BytesType)
		b = protowire.AppendBytes(b, blob.Data)
	}
	return b
}

func decodeHeaderRecord(data []byte) (*HeaderRecord, error) {
	const op = "decode header record"
	h := &HeaderRecord{}
	var err error

	msg := protoscan.New(data)
	for msg.Next() {
		switch msg.FieldNumber() {
		case headerBBox:
			var bbox []byte
			bbox, err = msg.MessageData()
			if err == nil {
				h.BBox, err = decodeBBox(bbox)
			}
		case headerRequiredFeatures:
			var s string
			s, err = msg.String()
			h.RequiredFeatures = append(h.RequiredFeatures, s)
		case headerOptionalFeatures:
			var s string
			s, err = msg.String()
			h.OptionalFeatures = append(h.OptionalFeatures, s)
		case headerWritingProgram:
			h.WritingProgram, err = msg.String()
		case headerSource:
			h.Source, err = msg.String()
		case headerReplTimestamp:
			h.ReplicationTimestamp, err = msg.Int64()
		case headerReplSequence:
			h.ReplicationSequenceNumber, err = msg.Int64()
		case headerReplBaseURL:
			h.ReplicationBaseURL, err = msg.String()
		default:
			msg.Skip()
		}
		if err != nil {
			return nil, schemaError(op, err)
		}
	}
	if msg.Err() != nil {
		return nil, schemaError(op, msg.Err())
	}
	return h, nil
}

func decodeBBox(data []byte) (*BBox, error) {
	bbox := &BBox{}
	var err error
	msg := protoscan.New(data)
	for msg.Next() {
		switch msg.FieldNumber() {
		case 1:
			bbox.Left, err = msg.Sint64()
		case 2:
			bbox.Right, err = msg.Sint64()
		case 3:
			bbox.Top, err = msg.Sint64()
		case 4:
			bbox.Bottom, err = msg.Sint64()
		default:
			msg.Skip()
		}
		if err != nil {
			return nil, err
		}
	}
	return bbox, msg.Err()
}

// Marshal serializes the header record.
func (h *HeaderRecord) Marshal() []byte {
	var b []byte
	if h.BBox != nil {
		var bb []byte
		bb = appendSint64(bb, 1, h.BBox.Left)
		bb = appendSint64(bb, 2, h.BBox.Right)
		bb = appendSint64(bb, 3, h.BBox.Top)
		bb = appendSint64(bb, 4, h.BBox.Bottom)
		b = protowire.AppendTag(b, headerBBox, protowire.BytesType)
		b = protowire.AppendBytes(b, bb)
	}
	for _, f := range h.RequiredFeatures {
		b = appendString(b, headerRequiredFeatures, f)
	}
	for _, f := range h.OptionalFeatures {
		b = appendString(b, headerOptionalFeatures, f)
	}
	if h.WritingProgram != "" {
		b = appendString(b, headerWritingProgram, h.WritingProgram)
	}
	if h.Source != "" {
		b = appendString(b, headerSource, h.Source)
	}
	if h.ReplicationTimestamp != 0 {
		b = appendInt64(b, headerReplTimestamp, h.ReplicationTimestamp)
	}
	if h.ReplicationSequenceNumber != 0 {
		b = appendInt64(b, headerReplSequence, h.ReplicationSequenceNumber)
	}
	if h.ReplicationBaseURL != "" {
		b = appendString(b, headerReplBaseURL, h.ReplicationBaseURL)
	}
	return b
}

func decodePrimitiveRecord(data []byte) (*PrimitiveRecord, error) {
	const op = "decode primitive record"
	p := &PrimitiveRecord{
		Granularity:     DefaultGranularity,
		DateGranularity: DefaultDateGranularity,
	}
	var err error

	msg := protoscan.New(data)
	for msg.Next() {
		switch msg.FieldNumber() {
		case primitiveStringTable:
			var st []byte
			st, err = msg.MessageData()
			if err == nil {
				p.StringTable, err = decodeStringTable(st)
			}
		case primitiveGroup:
			var gd []byte
			gd, err = msg.MessageData()
			if err == nil {
				var g PrimitiveGroup
				g, err = decodeGroup(gd)
				p.Groups = append(p.Groups, g)
			}
		case primitiveGranularity:
			p.Granularity, err = msg.Int32()
		case primitiveDateGranularity:
			p.DateGranularity, err = msg.Int32()
		case primitiveLatOffset:
			p.LatOffset, err = msg.Int64()
		case primitiveLonOffset:
			p.LonOffset, err = msg.Int64()
		default:
			msg.Skip()
		}
		if err != nil {
			return nil, schemaError(op, err)
		}
	}
	if msg.Err() != nil {
		return nil, schemaError(op, msg.Err())
	}
	return p, nil
}

func decodeStringTable(data []byte) (StringTable, error) {
	var st StringTable
	msg := protoscan.New(data)
	for msg.Next() {
		if msg.FieldNumber() != 1 {
			msg.Skip()
			continue
		}
		s, err := msg.Bytes()
		if err != nil {
			return nil, err
		}
		if !utf8.Valid(s) {
			return nil, fmt.Errorf("string table entry %d is not valid UTF-8", len(st))
		}
		st = append(st, string(s))
	}
	return st, msg.Err()
}

func decodeGroup(data []byte) (PrimitiveGroup, error) {
	var g PrimitiveGroup
	var err error
	msg := protoscan.New(data)
	for msg.Next() {
		var sub []byte
		switch msg.FieldNumber() {
		case groupNodes:
			if sub, err = msg.MessageData(); err == nil {
				var n RawNode
				n, err = decodeNode(sub)
				g.Nodes = append(g.Nodes, n)
			}
		case groupDense:
			if sub, err = msg.MessageData(); err == nil {
				g.Dense, err = decodeDense(sub)
			}
		case groupWays:
			if sub, err = msg.MessageData(); err == nil {
				var w RawWay
				w, err = decodeWay(sub)
				g.Ways = append(g.Ways, w)
			}
		case groupRelations:
			if sub, err = msg.MessageData(); err == nil {
				var r RawRelation
				r, err = decodeRelation(sub)
				g.Relations = append(g.Relations, r)
			}
		default:
			msg.Skip()
		}
		if err != nil {
			return g, err
		}
	}
	return g, msg.Err()
}

func decodeNode(data []byte) (RawNode, error) {
	var n RawNode
	var err error
	msg := protoscan.New(data)
	for msg.Next() {
		switch msg.FieldNumber() {
		case nodeID:
			n.ID, err = msg.Sint64()
		case nodeKeys:
			n.Keys, err = msg.RepeatedUint32(n.Keys)
		case nodeVals:
			n.Vals, err = msg.RepeatedUint32(n.Vals)
		case nodeLat:
			n.Lat, err = msg.Sint64()
		case nodeLon:
			n.Lon, err = msg.Sint64()
		default:
			msg.Skip()
		}
		if err != nil {
			return n, err
		}
	}
	return n, msg.Err()
}

func decodeDense(data []byte) (*DenseNodes, error) {
	d := &DenseNodes{}
	var err error
	msg := protoscan.New(data)
	for msg.Next() {
		switch msg.FieldNumber() {
		case denseID:
			d.ID, err = msg.RepeatedSint64(d.ID)
		case denseLat:
			d.Lat, err = msg.RepeatedSint64(d.Lat)
		case denseLon:
			d.Lon, err = msg.RepeatedSint64(d.Lon)
		case denseKeysVals:
			d.KeysVals, err = msg.RepeatedInt32(d.KeysVals)
		default:
			msg.Skip()
		}
		if err != nil {
			return nil, err
		}
	}
	return d, msg.Err()
}

func decodeWay(data []byte) (RawWay, error) {
	var w RawWay
	var err error
	msg := protoscan.New(data)
	for msg.Next() {
		switch msg.FieldNumber() {
		case wayID:
			w.ID, err = msg.Int64()
		case wayKeys:
			w.Keys, err = msg.RepeatedUint32(w.Keys)
		case wayVals:
			w.Vals, err = msg.RepeatedUint32(w.Vals)
		case wayRefs:
			w.Refs, err = msg.RepeatedSint64(w.Refs)
		default:
			msg.Skip()
		}
		if err != nil {
			return w, err
		}
	}
	return w, msg.Err()
}

func decodeRelation(data []byte) (RawRelation, error) {
	var r RawRelation
	var types []int32
	var err error
	msg := protoscan.New(data)
	for msg.Next() {
		switch msg.FieldNumber() {
		case relID:
			r.ID, err = msg.Int64()
		case relKeys:
			r.Keys, err = msg.RepeatedUint32(r.Keys)
		case relVals:
			r.Vals, err = msg.RepeatedUint32(r.Vals)
		case relRolesSID:
			r.RolesSID, err = msg.RepeatedInt32(r.RolesSID)
		case relMemIDs:
			r.MemIDs, err = msg.RepeatedSint64(r.MemIDs)
		case relTypes:
			types, err = msg.RepeatedInt32(types)
		default:
			msg.Skip()
		}
		if err != nil {
			return r, err
		}
	}
	if len(types) > 0 {
		r.Types = make([]MemberType, len(types))
		for i, t := range types {
			r.Types[i] = MemberType(t)
		}
	}
	return r, msg.Err()
}

// Marshal serializes the primitive record. Entity columns are written as
// given; callers supply them already delta-encoded.
func (p *PrimitiveRecord) Marshal() []byte {
	var b []byte

	var st []byte
	for _, s := range p.StringTable {
		st = appendString(st, 1, s)
	}
	b = protowire.AppendTag(b, primitiveStringTable, protowire.BytesType)
	b = protowire.AppendBytes(b, st)

	for i := range p.Groups {
		b = protowire.AppendTag(b, primitiveGroup, protowire.BytesType)
		b = protowire.AppendBytes(b, marshalGroup(&p.Groups[i]))
	}

	if p.Granularity != 0 && p.Granularity != DefaultGranularity {
		b = appendInt64(b, primitiveGranularity, int64(p.Granularity))
	}
	if p.DateGranularity != 0 && p.DateGranularity != DefaultDateGranularity {
		b = appendInt64(b, primitiveDateGranularity, int64(p.DateGranularity))
	}
	if p.LatOffset != 0 {
		b = appendInt64(b, primitiveLatOffset, p.LatOffset)
	}
	if p.LonOffset != 0 {
		b = appendInt64(b, primitiveLonOffset, p.LonOffset)
	}
	return b
}

func marshalGroup(g *PrimitiveGroup) []byte {
	var b []byte
	for _, n := range g.Nodes {
		var nb []byte
		nb = appendSint64(nb, nodeID, n.ID)
		nb = appendPackedUint32(nb, nodeKeys, n.Keys)
		nb = appendPackedUint32(nb, nodeVals, n.Vals)
		nb = appendSint64(nb, nodeLat, n.Lat)
		nb = appendSint64(nb, nodeLon, n.Lon)
		b = protowire.AppendTag(b, groupNodes, protowire.BytesType)
		b = protowire.AppendBytes(b, nb)
	}
	if g.Dense != nil {
		var db []byte
		db = appendPackedSint64(db, denseID, g.Dense.ID)
		db = appendPackedSint64(db, denseLat, g.Dense.Lat)
		db = appendPackedSint64(db, denseLon, g.Dense.Lon)
		db = appendPackedInt32(db, denseKeysVals, g.Dense.KeysVals)
		b = protowire.AppendTag(b, groupDense, protowire.BytesType)
		b = protowire.AppendBytes(b, db)
	}
	for _, w := range g.Ways {
		var wb []byte
		wb = appendInt64(wb, wayID, w.ID)
		wb = appendPackedUint32(wb, wayKeys, w.Keys)
		wb = appendPackedUint32(wb, wayVals, w.Vals)
		wb = appendPackedSint64(wb, wayRefs, w.Refs)
		b = protowire.AppendTag(b, groupWays, protowire.BytesType)
		b = protowire.AppendBytes(b, wb)
	}
	for _, r := range g.Relations {
		types := make([]int32, len(r.Types))
		for i, t := range r.Types {
			types[i] = int32(t)
		}
		var rb []byte
		rb = appendInt64(rb, relID, r.ID)
		rb = appendPackedUint32(rb, relKeys, r.Keys)
		rb = appendPackedUint32(rb, relVals, r.Vals)
		rb = appendPackedInt32(rb, relRolesSID, r.RolesSID)
		rb = appendPackedSint64(rb, relMemIDs, r.MemIDs)
		rb = appendPackedInt32(rb, relTypes, types)
		b = protowire.AppendTag(b, groupRelations, protowire.BytesType)
		b = protowire.AppendBytes(b, rb)
	}
	return b
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendInt64(b []byte, num protowire.Number, v int64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(v))
}

func appendSint64(b []byte, num protowire.Number, v int64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, protowire.EncodeZigZag(v))
}

func appendPackedSint64(b []byte, num protowire.Number, vs []int64) []byte {
	if len(vs) == 0 {
		return b
	}
	var p []byte
	for _, v := range vs {
		p = protowire.AppendVarint(p, protowire.EncodeZigZag(v))
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, p)
}

func appendPackedUint32(b []byte, num protowire.Number, vs []uint32) []byte {
	if len(vs) == 0 {
		return b
	}
	var p []byte
	for _, v := range vs {
		p = protowire.AppendVarint(p, uint64(v))
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, p)
}

func appendPackedInt32(b []byte, num protowire.Number, vs []int32) []byte {
	if len(vs) == 0 {
		return b
	}
	var p []byte
	for _, v := range vs {
		p = protowire.AppendVarint(p, uint64(int64(v)))
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, p)
}
