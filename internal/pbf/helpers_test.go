package pbf

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

// streamOf writes the given records to an in-memory stream.
func streamOf(t *testing.T, recs ...Record) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := NewWriter(&buf)
	for _, rec := range recs {
		require.NoError(t, w.WriteRecord(rec))
	}
	return buf.Bytes()
}

// rawFrame frames an arbitrary kind and blob by hand.
func rawFrame(kind string, blob Blob) []byte {
	body := marshalBlob(blob)
	header := marshalBlobHeader(kind, nil, int32(len(body)))
	var out bytes.Buffer
	binary.Write(&out, binary.BigEndian, uint32(len(header)))
	out.Write(header)
	out.Write(body)
	return out.Bytes()
}

func denseRecord(ids, lats, lons []int64) *PrimitiveRecord {
	return &PrimitiveRecord{
		StringTable: StringTable{""},
		Granularity: DefaultGranularity,
		Groups: []PrimitiveGroup{{
			Dense: &DenseNodes{ID: ids, Lat: lats, Lon: lons},
		}},
	}
}

func testHeader() *HeaderRecord {
	return &HeaderRecord{
		RequiredFeatures: []string{"OsmSchema-V0.6", "DenseNodes"},
		WritingProgram:   "pbfkit-test",
	}
}

// countingReader records how many bytes were requested from it.
type countingReader struct {
	r     io.Reader
	reads int
	bytes int
}

func (c *countingReader) Read(p []byte) (int, error) {
	c.reads++
	n, err := c.r.Read(p)
	c.bytes += n
	return n, err
}
