package nodeindex

import (
	"errors"
	"math"
	"path/filepath"
	"testing"

	"github.com/wegman-software/pbfkit/internal/pbf"
)

func testIndexes(t *testing.T) map[string]Index {
	m, err := NewMmapIndex(filepath.Join(t.TempDir(), "nodes.idx"), 1000)
	if err != nil {
		t.Fatalf("NewMmapIndex failed: %v", err)
	}
	t.Cleanup(func() { m.Close() })
	return map[string]Index{"map": NewMapIndex(), "mmap": m}
}

func TestIndexPutGet(t *testing.T) {
	for name, idx := range testIndexes(t) {
		t.Run(name, func(t *testing.T) {
			cases := []struct{ id, lat, lon int64 }{
				{1, 423867550, -711000000},
				{2, 0, 0}, // null island is a real location
				{3, -900000000, 1800000000 - 1},
				{999, 900000000, -1800000000},
			}
			for _, c := range cases {
				if err := idx.Put(c.id, c.lat, c.lon); err != nil {
					t.Fatalf("Put(%d) failed: %v", c.id, err)
				}
			}
			for _, c := range cases {
				lat, lon, ok := idx.Get(c.id)
				if !ok {
					t.Errorf("Get(%d): not found", c.id)
					continue
				}
				if lat != c.lat || lon != c.lon {
					t.Errorf("Get(%d) = (%d,%d), want (%d,%d)", c.id, lat, lon, c.lat, c.lon)
				}
			}
			if _, _, ok := idx.Get(4); ok {
				t.Error("Get(4) should not be found")
			}
		})
	}
}

func TestMmapIndexRange(t *testing.T) {
	m, err := NewMmapIndex(filepath.Join(t.TempDir(), "nodes.idx"), 10)
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close()

	if err := m.Put(10, 1, 1); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("expected ErrOutOfRange, got %v", err)
	}
	if err := m.Put(-1, 1, 1); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("expected ErrOutOfRange, got %v", err)
	}
	if _, _, ok := m.Get(10); ok {
		t.Error("out of range Get should miss")
	}

	for _, loc := range [][2]int64{{math.MaxInt32 + 1, 0}, {0, math.MinInt32}, {-5_000_000_000, 1}} {
		if err := m.Put(3, loc[0], loc[1]); !errors.Is(err, ErrOutOfRange) {
			t.Errorf("Put(3, %d, %d): expected ErrOutOfRange, got %v", loc[0], loc[1], err)
		}
	}
	if _, _, ok := m.Get(3); ok {
		t.Error("rejected location should not be stored")
	}
	if err := m.Put(3, math.MaxInt32, math.MinInt32+1); err != nil {
		t.Fatal(err)
	}
	if lat, lon, ok := m.Get(3); !ok || lat != math.MaxInt32 || lon != math.MinInt32+1 {
		t.Errorf("Get(3) = %d, %d, %v", lat, lon, ok)
	}
	if _, err := NewMmapIndex(filepath.Join(t.TempDir(), "x.idx"), 0); err == nil {
		t.Error("expected error for zero max node id")
	}
}

func TestMmapIndexReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nodes.idx")
	m, err := NewMmapIndex(path, 100)
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Put(42, 515000000, -1200000); err != nil {
		t.Fatal(err)
	}
	if err := m.Sync(); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	r, err := OpenMmapIndex(path)
	if err != nil {
		t.Fatalf("OpenMmapIndex failed: %v", err)
	}
	defer r.Close()

	lat, lon, ok := r.Get(42)
	if !ok || lat != 515000000 || lon != -1200000 {
		t.Errorf("Get(42) = (%d,%d,%v)", lat, lon, ok)
	}
	if err := r.Put(1, 1, 1); err == nil {
		t.Error("expected error writing read-only index")
	}
}

func TestResolve(t *testing.T) {
	idx := NewMapIndex()
	err := AddNodes(idx, []pbf.Node{
		{ID: 1, Lat: 10, Lon: 20},
		{ID: 2, Lat: 30, Lon: 40},
	})
	if err != nil {
		t.Fatal(err)
	}
	if idx.Len() != 2 {
		t.Errorf("expected 2 nodes, got %d", idx.Len())
	}

	coords, missing := Resolve(idx, pbf.Way{ID: 7, Refs: []int64{2, 3, 1}})
	if missing != 1 {
		t.Errorf("expected 1 missing ref, got %d", missing)
	}
	if len(coords) != 2 || coords[0] != [2]int64{30, 40} || coords[1] != [2]int64{10, 20} {
		t.Errorf("unexpected coords %v", coords)
	}
}
