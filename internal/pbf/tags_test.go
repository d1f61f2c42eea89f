package pbf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveTags(t *testing.T) {
	st := StringTable{"highway", "residential", "building", "yes"}

	tags, err := ResolveTags([]uint32{0, 2}, []uint32{1, 3}, st)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"highway": "residential", "building": "yes"}, tags)
}

func TestResolveTagsErrors(t *testing.T) {
	st := StringTable{"highway", "residential"}

	_, err := ResolveTags([]uint32{0, 1}, []uint32{1}, st)
	assert.ErrorIs(t, err, ErrSchemaViolation, "mismatched lengths")

	_, err = ResolveTags([]uint32{0}, []uint32{2}, st)
	assert.ErrorIs(t, err, ErrSchemaViolation, "value index out of range")

	_, err = ResolveTags([]uint32{7}, []uint32{0}, st)
	assert.ErrorIs(t, err, ErrSchemaViolation, "key index out of range")
}

func TestResolveTagsEmpty(t *testing.T) {
	tags, err := ResolveTags(nil, nil, nil)
	require.NoError(t, err)
	assert.Nil(t, tags)
}

func TestDenseTags(t *testing.T) {
	st := StringTable{"", "amenity", "cafe", "name", "Corner"}
	d := &DenseNodes{
		ID:  []int64{1, 1, 1},
		Lat: []int64{0, 0, 0},
		Lon: []int64{0, 0, 0},
		// node 1: amenity=cafe name=Corner; node 2: none; node 3: amenity=cafe
		KeysVals: []int32{1, 2, 3, 4, 0, 0, 1, 2, 0},
	}
	nodes, err := d.Expand(st)
	require.NoError(t, err)
	require.Len(t, nodes, 3)

	assert.Equal(t, map[string]string{"amenity": "cafe", "name": "Corner"}, nodes[0].Tags)
	assert.Nil(t, nodes[1].Tags)
	assert.Equal(t, map[string]string{"amenity": "cafe"}, nodes[2].Tags)
}

func TestDenseTagsShortColumn(t *testing.T) {
	st := StringTable{"", "k", "v"}
	d := &DenseNodes{
		ID:       []int64{1, 1},
		Lat:      []int64{0, 0},
		Lon:      []int64{0, 0},
		KeysVals: []int32{1, 2, 0},
	}
	nodes, err := d.Expand(st)
	require.NoError(t, err)
	assert.Equal(t, "v", nodes[0].Tags["k"])
	assert.Nil(t, nodes[1].Tags)

	d.KeysVals = []int32{1, 2}
	_, err = d.Expand(st)
	assert.ErrorIs(t, err, ErrSchemaViolation, "unterminated keys_vals")
}
