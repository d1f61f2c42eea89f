package cmd

import (
	"bufio"
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/wegman-software/pbfkit/internal/config"
	"github.com/wegman-software/pbfkit/internal/pbf"
	"github.com/wegman-software/pbfkit/internal/pipeline"
)

func sampleFile(t *testing.T) []byte {
	t.Helper()
	ids, _ := pbf.DeltaEncode([]int64{1, 2, 3})
	var buf bytes.Buffer
	w := pbf.NewWriter(&buf)
	require.NoError(t, w.WriteRecord(&pbf.HeaderRecord{
		RequiredFeatures: []string{"OsmSchema-V0.6", "DenseNodes"},
		WritingProgram:   "cmd-test",
	}))
	require.NoError(t, w.WriteRecord(&pbf.PrimitiveRecord{
		StringTable: pbf.StringTable{""},
		Granularity: pbf.DefaultGranularity,
		Groups: []pbf.PrimitiveGroup{{
			Dense: &pbf.DenseNodes{ID: ids, Lat: []int64{10, 1, 1}, Lon: []int64{20, 1, 1}},
		}},
	}))
	return buf.Bytes()
}

func withConfig(t *testing.T, c *config.Config) {
	old := cfg
	cfg = c
	t.Cleanup(func() { cfg = old })
}

func TestRepackRaw(t *testing.T) {
	c := config.DefaultConfig()
	c.RawBlobs = true
	withConfig(t, c)

	var out bytes.Buffer
	buf := bufio.NewWriter(&out)
	w := newPBFWriter(buf)
	require.NoError(t, repack(pbf.NewReader(bytes.NewReader(sampleFile(t))), w))
	require.NoError(t, buf.Flush())
	assert.Equal(t, int64(2), w.Blocks())

	blocks, err := pipeline.CollectBlocks(pbf.NewReader(bytes.NewReader(out.Bytes())))
	require.NoError(t, err)
	require.Len(t, blocks, 2)
	for _, b := range blocks {
		assert.Equal(t, pbf.EncodingRaw, b.Blob.Encoding)
	}

	res, err := pipeline.DecodeBlock(1, blocks[1])
	require.NoError(t, err)
	require.Len(t, res.Entities.Nodes, 3)
	assert.Equal(t, int64(3), res.Entities.Nodes[2].ID)
	assert.Equal(t, int64(12), res.Entities.Nodes[2].Lat)
}

// denseWithInfo is an OSMData payload whose dense group carries DenseInfo
// with version 7.
func denseWithInfo() []byte {
	packed := func(num protowire.Number, v int64) []byte {
		b := protowire.AppendTag(nil, num, protowire.BytesType)
		return protowire.AppendBytes(b, protowire.AppendVarint(nil, protowire.EncodeZigZag(v)))
	}
	info := protowire.AppendTag(nil, 1, protowire.BytesType)
	info = protowire.AppendBytes(info, protowire.AppendVarint(nil, 7))

	dense := packed(1, 42)
	dense = protowire.AppendTag(dense, 5, protowire.BytesType)
	dense = protowire.AppendBytes(dense, info)
	dense = append(dense, packed(8, 1)...)
	dense = append(dense, packed(9, 2)...)

	group := protowire.AppendTag(nil, 2, protowire.BytesType)
	group = protowire.AppendBytes(group, dense)

	st := protowire.AppendTag(nil, 1, protowire.BytesType)
	st = protowire.AppendBytes(st, nil)

	b := protowire.AppendTag(nil, 1, protowire.BytesType)
	b = protowire.AppendBytes(b, st)
	b = protowire.AppendTag(b, 2, protowire.BytesType)
	return protowire.AppendBytes(b, group)
}

func TestRepackPreservesMetadata(t *testing.T) {
	c := config.DefaultConfig()
	c.CompressionLevel = 9
	withConfig(t, c)

	payload := denseWithInfo()
	var in bytes.Buffer
	src := pbf.NewWriter(&in, pbf.WithCompressionLevel(1))
	require.NoError(t, src.WriteRecord(&pbf.HeaderRecord{
		RequiredFeatures: []string{"OsmSchema-V0.6", "DenseNodes"},
		OptionalFeatures: []string{"Has_Metadata"},
	}))
	require.NoError(t, src.WritePayload(pbf.KindData, nil, payload))

	var out bytes.Buffer
	buf := bufio.NewWriter(&out)
	require.NoError(t, repack(pbf.NewReader(bytes.NewReader(in.Bytes())), newPBFWriter(buf)))
	require.NoError(t, buf.Flush())

	blocks, err := pipeline.CollectBlocks(pbf.NewReader(bytes.NewReader(out.Bytes())))
	require.NoError(t, err)
	require.Len(t, blocks, 2)
	data, err := blocks[1].Data()
	require.NoError(t, err)
	assert.Equal(t, payload, data)
}

func TestRepackKeepCompression(t *testing.T) {
	c := config.DefaultConfig()
	c.KeepCompression = true
	withConfig(t, c)

	in := sampleFile(t)
	var out bytes.Buffer
	buf := bufio.NewWriter(&out)
	require.NoError(t, repack(pbf.NewReader(bytes.NewReader(in)), newPBFWriter(buf)))
	require.NoError(t, buf.Flush())
	assert.Equal(t, in, out.Bytes())
}

func TestRepackTruncatedInput(t *testing.T) {
	withConfig(t, config.DefaultConfig())

	in := sampleFile(t)
	var out bytes.Buffer
	err := repack(pbf.NewReader(bytes.NewReader(in[:len(in)-1])), newPBFWriter(bufio.NewWriter(&out)))
	assert.ErrorIs(t, err, pbf.ErrTruncated)
}

func TestLoadConfigFileFlagsWin(t *testing.T) {
	c := config.DefaultConfig()
	withConfig(t, c)

	path := filepath.Join(t.TempDir(), "pbfkit.yaml")
	require.NoError(t, os.WriteFile(path, []byte("workers: 3\nbatch_size: 500\n"), 0644))

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.IntVar(&c.Workers, "workers", c.Workers, "")
	fs.IntVar(&c.BatchSize, "batch-size", c.BatchSize, "")
	require.NoError(t, fs.Parse([]string{"--workers", "7"}))

	require.NoError(t, loadConfigFile(fs, path))
	assert.Equal(t, 7, cfg.Workers, "explicit flag overrides the file")
	assert.Equal(t, 500, cfg.BatchSize, "file overrides defaults")
}

func TestPrintStats(t *testing.T) {
	ds := &pipeline.Dataset{
		Header: &pbf.HeaderRecord{WritingProgram: "osmium", RequiredFeatures: []string{"OsmSchema-V0.6"}},
		Stats:  pipeline.Stats{Blocks: 3, HeaderBlocks: 1, DataBlocks: 2, Nodes: 10, Ways: 2},
	}
	var out bytes.Buffer
	printStats(&out, ds)

	text := out.String()
	assert.True(t, strings.Contains(text, "writing program:   osmium"), text)
	assert.True(t, strings.Contains(text, "blocks:            3 (1 header, 2 data)"), text)
	assert.True(t, strings.Contains(text, "nodes:             10"), text)
}
