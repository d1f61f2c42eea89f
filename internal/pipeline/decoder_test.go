package pipeline

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wegman-software/pbfkit/internal/config"
	"github.com/wegman-software/pbfkit/internal/pbf"
)

func header() *pbf.HeaderRecord {
	return &pbf.HeaderRecord{
		RequiredFeatures: []string{"OsmSchema-V0.6", "DenseNodes"},
		WritingProgram:   "pipeline-test",
	}
}

// nodeBlock holds n dense nodes with ids first..first+n-1.
func nodeBlock(first int64, n int) *pbf.PrimitiveRecord {
	ids := make([]int64, n)
	lats := make([]int64, n)
	lons := make([]int64, n)
	for i := range ids {
		ids[i] = first + int64(i)
		lats[i] = 420000000 + int64(i)*10
		lons[i] = -710000000 - int64(i)*10
	}
	dID, _ := pbf.DeltaEncode(ids)
	dLat, _ := pbf.DeltaEncode(lats)
	dLon, _ := pbf.DeltaEncode(lons)
	return &pbf.PrimitiveRecord{
		StringTable: pbf.StringTable{""},
		Granularity: pbf.DefaultGranularity,
		Groups:      []pbf.PrimitiveGroup{{Dense: &pbf.DenseNodes{ID: dID, Lat: dLat, Lon: dLon}}},
	}
}

func wayBlock(id int64, refs ...int64) *pbf.PrimitiveRecord {
	d, _ := pbf.DeltaEncode(refs)
	return &pbf.PrimitiveRecord{
		StringTable: pbf.StringTable{"", "highway", "service"},
		Granularity: pbf.DefaultGranularity,
		Groups: []pbf.PrimitiveGroup{{
			Ways: []pbf.RawWay{{ID: id, Keys: []uint32{1}, Vals: []uint32{2}, Refs: d}},
		}},
	}
}

func writeStream(t *testing.T, recs ...pbf.Record) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := pbf.NewWriter(&buf)
	for _, rec := range recs {
		require.NoError(t, w.WriteRecord(rec))
	}
	return buf.Bytes()
}

func sampleStream(t *testing.T) []byte {
	return writeStream(t,
		header(),
		nodeBlock(1, 50),
		nodeBlock(51, 50),
		nodeBlock(101, 25),
		wayBlock(1000, 1, 2, 3, 1),
		wayBlock(1001, 120, 999),
	)
}

func TestParallelDecodeMatchesSequential(t *testing.T) {
	stream := sampleStream(t)
	blocks, err := CollectBlocks(pbf.NewReader(bytes.NewReader(stream)))
	require.NoError(t, err)
	require.Len(t, blocks, 6)

	sequential := make([]BlockResult, len(blocks))
	for i, b := range blocks {
		sequential[i], err = DecodeBlock(i, b)
		require.NoError(t, err)
	}

	cfg := config.DefaultConfig()
	cfg.Workers = 4
	dec := NewDecoder(cfg)
	parallel, err := dec.DecodeBlocks(context.Background(), blocks)
	require.NoError(t, err)
	assert.Equal(t, sequential, parallel)

	assert.Equal(t, int64(6), dec.Counters().Blocks.Load())
	assert.Equal(t, int64(125), dec.Counters().Nodes.Load())
	assert.Equal(t, int64(2), dec.Counters().Ways.Load())
}

func TestMerge(t *testing.T) {
	blocks, err := CollectBlocks(pbf.NewReader(bytes.NewReader(sampleStream(t))))
	require.NoError(t, err)

	results, err := NewDecoder(config.DefaultConfig()).DecodeBlocks(context.Background(), blocks)
	require.NoError(t, err)

	ds, err := Merge(results)
	require.NoError(t, err)
	require.NotNil(t, ds.Header)
	assert.Equal(t, "pipeline-test", ds.Header.WritingProgram)
	assert.Equal(t, int64(6), ds.Stats.Blocks)
	assert.Equal(t, int64(1), ds.Stats.HeaderBlocks)
	assert.Equal(t, int64(5), ds.Stats.DataBlocks)
	assert.Equal(t, int64(125), ds.Stats.Nodes)
	require.Len(t, ds.Ways, 2)
	assert.Equal(t, int64(1000), ds.Ways[0].ID)
	assert.Equal(t, "service", ds.Ways[0].Tags["highway"])
	assert.True(t, ds.Ways[0].Closed())

	nodes, ok := ds.WayNodes(ds.Ways[0])
	require.True(t, ok)
	assert.Equal(t, int64(420000010), nodes[1].Lat)

	_, ok = ds.WayNodes(ds.Ways[1])
	assert.False(t, ok, "node 999 is not in the dataset")
}

func TestMergeRejectsUnsupportedFeatures(t *testing.T) {
	h := header()
	h.RequiredFeatures = append(h.RequiredFeatures, "HistoricalInformation")
	_, err := Merge([]BlockResult{{Header: h}})
	assert.ErrorIs(t, err, pbf.ErrUnsupportedEncoding)
}

func TestDecodeBlocksFailureCancels(t *testing.T) {
	stream := sampleStream(t)
	blocks, err := CollectBlocks(pbf.NewReader(bytes.NewReader(stream)))
	require.NoError(t, err)

	// corrupt the zlib payload of one block
	bad := *blocks[2]
	bad.Blob.Data = []byte{0x78, 0x9c, 0xff, 0xff, 0xff}
	blocks[2] = &bad

	_, err = NewDecoder(config.DefaultConfig()).DecodeBlocks(context.Background(), blocks)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "block 2")
}

func TestDecodeBlocksCancelledContext(t *testing.T) {
	blocks, err := CollectBlocks(pbf.NewReader(bytes.NewReader(sampleStream(t))))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = NewDecoder(config.DefaultConfig()).DecodeBlocks(ctx, blocks)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDecoderSkipFlags(t *testing.T) {
	blocks, err := CollectBlocks(pbf.NewReader(bytes.NewReader(sampleStream(t))))
	require.NoError(t, err)

	cfg := config.DefaultConfig()
	cfg.SkipNodes = true
	results, err := NewDecoder(cfg).DecodeBlocks(context.Background(), blocks)
	require.NoError(t, err)

	ds, err := Merge(results)
	require.NoError(t, err)
	assert.Empty(t, ds.Nodes)
	assert.Len(t, ds.Ways, 2)
}

func TestEachPreservesOrder(t *testing.T) {
	r := pbf.NewReader(bytes.NewReader(sampleStream(t)))

	var indexes []int
	var kinds []string
	err := Each(context.Background(), r, 3, func(res BlockResult) error {
		indexes = append(indexes, res.Index)
		kinds = append(kinds, res.Kind)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5}, indexes)
	assert.Equal(t, pbf.KindHeader, kinds[0])
	assert.Equal(t, pbf.KindData, kinds[5])
}

func TestEachCallbackNeverOverlaps(t *testing.T) {
	r := pbf.NewReader(bytes.NewReader(sampleStream(t)))

	var active, maxActive atomic.Int32
	err := Each(context.Background(), r, 4, func(BlockResult) error {
		n := active.Add(1)
		if n > maxActive.Load() {
			maxActive.Store(n)
		}
		time.Sleep(time.Millisecond)
		active.Add(-1)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int32(1), maxActive.Load())
}

func TestEachStopsOnCallbackError(t *testing.T) {
	r := pbf.NewReader(bytes.NewReader(sampleStream(t)))
	stop := errors.New("stop")

	calls := 0
	err := Each(context.Background(), r, 2, func(BlockResult) error {
		calls++
		if calls == 2 {
			return stop
		}
		return nil
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 2, calls)
}

func TestEachTruncatedStream(t *testing.T) {
	stream := sampleStream(t)
	r := pbf.NewReader(bytes.NewReader(stream[:len(stream)-3]))

	err := Each(context.Background(), r, 2, func(BlockResult) error { return nil })
	assert.ErrorIs(t, err, pbf.ErrTruncated)
}

func TestRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sample.osm.pbf")
	require.NoError(t, os.WriteFile(path, sampleStream(t), 0644))

	cfg := config.DefaultConfig()
	cfg.InputFile = path
	cfg.Workers = 2
	cfg.MetricsInterval = 0

	ds, err := Run(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, int64(125), ds.Stats.Nodes)
	assert.Equal(t, int64(len(sampleStream(t))), ds.Stats.BytesRead)
}

func TestRunStrictKinds(t *testing.T) {
	// an unknown block kind between header and data
	var unknown bytes.Buffer
	blobHeader := []byte{0x0a, 0x08, 'O', 'S', 'M', 'I', 'n', 'd', 'e', 'x', 0x18, 0x00}
	binary.Write(&unknown, binary.BigEndian, uint32(len(blobHeader)))
	unknown.Write(blobHeader)

	stream := append(writeStream(t, header()), unknown.Bytes()...)
	stream = append(stream, writeStream(t, nodeBlock(1, 3))...)

	path := filepath.Join(t.TempDir(), "unknown.osm.pbf")
	require.NoError(t, os.WriteFile(path, stream, 0644))

	cfg := config.DefaultConfig()
	cfg.InputFile = path
	cfg.MetricsInterval = 0

	ds, err := Run(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, int64(3), ds.Stats.Nodes)

	cfg.StrictKinds = true
	_, err = Run(context.Background(), cfg)
	assert.ErrorIs(t, err, pbf.ErrUnsupportedEncoding)
}
