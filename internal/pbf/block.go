// Package pbf reads and writes the OSM PBF block container.
//
// A stream is a sequence of blocks with no magic number and no trailer:
//
//	[uint32 big-endian header length][BlobHeader][Blob]
//
// The BlobHeader names the block kind ("OSMHeader" or "OSMData") and the
// byte length of the Blob that follows. The Blob carries the serialized
// record either raw or zlib-compressed. Reader frames the stream, Blob.Decode
// inflates a payload, DecodeRecord parses it and PrimitiveRecord.Entities
// expands the delta-encoded columns into absolute nodes, ways and relations.
package pbf

const (
	// KindHeader is the block kind of the file header record.
	KindHeader = "OSMHeader"
	// KindData is the block kind of a primitive data record.
	KindData = "OSMData"
)

// Size limits. The "Max" values are hard limits; the "Recommended" values
// only trigger a warning.
const (
	MaxHeaderSize         = 64 << 10
	RecommendedHeaderSize = 32 << 10
	MaxRawSize            = 32 << 20
	RecommendedRawSize    = 16 << 20
	// MaxBlobSize bounds the on-wire Blob message read for one block.
	MaxBlobSize = 32 << 20
)

// Encoding identifies which data field of a Blob is populated.
type Encoding int

const (
	EncodingNone Encoding = iota
	EncodingRaw
	EncodingZlib
	EncodingLZMA
	EncodingBzip2
	EncodingLZ4
	EncodingZstd
)

func (e Encoding) String() string {
	switch e {
	case EncodingRaw:
		return "raw"
	case EncodingZlib:
		return "zlib"
	case EncodingLZMA:
		return "lzma"
	case EncodingBzip2:
		return "bzip2"
	case EncodingLZ4:
		return "lz4"
	case EncodingZstd:
		return "zstd"
	default:
		return "none"
	}
}

// Blob is the payload of a block: one encoded record.
type Blob struct {
	Encoding Encoding
	Data     []byte
	// RawSize is the declared uncompressed length. Only meaningful when
	// HasRawSize is set.
	RawSize    int32
	HasRawSize bool
}

// Block is one framed unit of the stream. Blocks are immutable once read.
type Block struct {
	Kind         string
	HeaderLength int
	// DataSize is the on-wire length of the Blob message.
	DataSize int32
	// Offset is where the block's length prefix starts in the stream.
	Offset int64
	// IndexData is the optional opaque indexdata field of the BlobHeader.
	IndexData []byte
	Blob      Blob
}

// Known reports whether the block kind is one this package can decode.
func (b *Block) Known() bool {
	return b.Kind == KindHeader || b.Kind == KindData
}

// Data returns the serialized record carried by the block.
func (b *Block) Data() ([]byte, error) {
	data, err := b.Blob.Decode()
	if err != nil {
		return nil, withOffset(err, b.Offset)
	}
	return data, nil
}

// Decode inflates the block and parses it into a Record.
func (b *Block) Decode() (Record, error) {
	data, err := b.Data()
	if err != nil {
		return nil, err
	}
	rec, err := DecodeRecord(b.Kind, data)
	if err != nil {
		return nil, withOffset(err, b.Offset)
	}
	return rec, nil
}
