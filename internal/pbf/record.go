package pbf

// Record is the decoded contents of one block: either a *HeaderRecord or a
// *PrimitiveRecord. The set is closed.
type Record interface {
	Kind() string
	Marshal() []byte
	isRecord()
}

// Features this package can read. Files requiring anything else are refused
// by HeaderRecord.CheckFeatures.
var SupportedFeatures = []string{
	"OsmSchema-V0.6",
	"DenseNodes",
}

// BBox is a header bounding box in nanodegrees.
type BBox struct {
	Left, Right, Top, Bottom int64
}

// HeaderRecord is the file-level metadata record.
type HeaderRecord struct {
	BBox             *BBox
	RequiredFeatures []string
	OptionalFeatures []string
	WritingProgram   string
	Source           string

	ReplicationTimestamp      int64
	ReplicationSequenceNumber int64
	ReplicationBaseURL        string
}

func (*HeaderRecord) Kind() string { return KindHeader }
func (*HeaderRecord) isRecord()    {}

// CheckFeatures fails when the file requires a feature outside SupportedFeatures.
func (h *HeaderRecord) CheckFeatures() error {
	for _, feature := range h.RequiredFeatures {
		supported := false
		for _, capability := range SupportedFeatures {
			if capability == feature {
				supported = true
				break
			}
		}
		if !supported {
			return newError(KindUnsupportedEncoding, "check features", "required feature %q", feature)
		}
	}
	return nil
}

// Default values of the primitive block scaling fields.
const (
	DefaultGranularity     = 100
	DefaultDateGranularity = 1000
)

// PrimitiveRecord is one OSMData block: a string table plus groups of
// encoded entities.
type PrimitiveRecord struct {
	StringTable     StringTable
	Groups          []PrimitiveGroup
	Granularity     int32
	LatOffset       int64
	LonOffset       int64
	DateGranularity int32
}

func (*PrimitiveRecord) Kind() string { return KindData }
func (*PrimitiveRecord) isRecord()    {}

// PrimitiveGroup holds entities of a single type in practice, though the
// decoder accepts any mix.
type PrimitiveGroup struct {
	Nodes     []RawNode
	Dense     *DenseNodes
	Ways      []RawWay
	Relations []RawRelation
}

// RawNode is a sparse node: absolute coordinates, tags as string table indices.
type RawNode struct {
	ID   int64
	Keys []uint32
	Vals []uint32
	Lat  int64
	Lon  int64
}

// DenseNodes is the columnar node encoding. ID, Lat and Lon are deltas.
// KeysVals is a flat list of key/value index pairs, each node's list
// terminated by 0.
type DenseNodes struct {
	ID       []int64
	Lat      []int64
	Lon      []int64
	KeysVals []int32
}

// RawWay is a way as stored: tag indices and delta-encoded node refs.
type RawWay struct {
	ID   int64
	Keys []uint32
	Vals []uint32
	Refs []int64
}

// MemberType is the entity type a relation member refers to.
type MemberType int32

const (
	MemberNode MemberType = iota
	MemberWay
	MemberRelation
)

func (t MemberType) String() string {
	switch t {
	case MemberNode:
		return "node"
	case MemberWay:
		return "way"
	case MemberRelation:
		return "relation"
	default:
		return "unknown"
	}
}

// RawRelation is a relation as stored: member ids are delta-encoded.
type RawRelation struct {
	ID       int64
	Keys     []uint32
	Vals     []uint32
	RolesSID []int32
	MemIDs   []int64
	Types    []MemberType
}

// DecodeRecord parses data with the schema selected by kind.
func DecodeRecord(kind string, data []byte) (Record, error) {
	switch kind {
	case KindHeader:
		return decodeHeaderRecord(data)
	case KindData:
		p, err := decodePrimitiveRecord(data)
		if err != nil {
			return nil, err
		}
		if p.LatOffset != 0 || p.LonOffset != 0 {
			return nil, newError(KindSchemaViolation, "decode primitive record",
				"lat_offset=%d lon_offset=%d, offsets are not supported", p.LatOffset, p.LonOffset)
		}
		if p.Granularity != DefaultGranularity {
			return nil, newError(KindSchemaViolation, "decode primitive record",
				"granularity %d, only %d is supported", p.Granularity, DefaultGranularity)
		}
		return p, nil
	default:
		return nil, newError(KindUnsupportedEncoding, "decode record", "unknown block kind %q", kind)
	}
}
