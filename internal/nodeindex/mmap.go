package nodeindex

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"

	"github.com/edsrzf/mmap-go"
)

// Each entry is lat then lon as biased uint32, 8 bytes at offset id*8.
const entrySize = 8

// coordinates are stored shifted by 2^31 so an unwritten (zero) slot never
// decodes to a valid latitude
const bias = 1 << 31

// MmapIndex is a file-backed node coordinate index with O(1) lookups. The
// file is sparse, so disk usage follows the ids actually written.
type MmapIndex struct {
	file      *os.File
	data      mmap.MMap
	maxNodeID int64
	writable  bool
}

// NewMmapIndex creates (or truncates) path and maps room for ids in
// [0, maxNodeID).
func NewMmapIndex(path string, maxNodeID int64) (*MmapIndex, error) {
	if maxNodeID < 1 {
		return nil, fmt.Errorf("max node id must be positive, got %d", maxNodeID)
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create index file: %w", err)
	}
	if err := f.Truncate(maxNodeID * entrySize); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to size index file: %w", err)
	}

	data, err := mmap.Map(f, mmap.RDWR, 0)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to mmap index file: %w", err)
	}

	return &MmapIndex{file: f, data: data, maxNodeID: maxNodeID, writable: true}, nil
}

// OpenMmapIndex maps an existing index file read-only.
func OpenMmapIndex(path string) (*MmapIndex, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open index file: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to stat index file: %w", err)
	}
	if info.Size() == 0 || info.Size()%entrySize != 0 {
		f.Close()
		return nil, fmt.Errorf("index file size %d is not a multiple of %d", info.Size(), entrySize)
	}

	data, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to mmap index file: %w", err)
	}

	return &MmapIndex{file: f, data: data, maxNodeID: info.Size() / entrySize}, nil
}

// Put stores a node's coordinates in 1e-7 degree units.
func (m *MmapIndex) Put(id, lat, lon int64) error {
	if !m.writable {
		return fmt.Errorf("index is read-only")
	}
	if id < 0 || id >= m.maxNodeID {
		return fmt.Errorf("%w: %d not in [0,%d)", ErrOutOfRange, id, m.maxNodeID)
	}
	if !fits(lat) || !fits(lon) {
		return fmt.Errorf("%w: node %d location %d,%d", ErrOutOfRange, id, lat, lon)
	}
	off := id * entrySize
	binary.LittleEndian.PutUint32(m.data[off:], uint32(int32(lat))+bias)
	binary.LittleEndian.PutUint32(m.data[off+4:], uint32(int32(lon))+bias)
	return nil
}

// Get returns a node's coordinates. ok is false for ids never written.
func (m *MmapIndex) Get(id int64) (lat, lon int64, ok bool) {
	if id < 0 || id >= m.maxNodeID {
		return 0, 0, false
	}
	off := id * entrySize
	rawLat := binary.LittleEndian.Uint32(m.data[off:])
	if rawLat == 0 {
		return 0, 0, false
	}
	rawLon := binary.LittleEndian.Uint32(m.data[off+4:])
	return int64(int32(rawLat - bias)), int64(int32(rawLon - bias)), true
}

// Sync flushes written pages to disk.
func (m *MmapIndex) Sync() error {
	if !m.writable {
		return nil
	}
	return m.data.Flush()
}

// Close unmaps and closes the index file.
func (m *MmapIndex) Close() error {
	if err := m.data.Unmap(); err != nil {
		m.file.Close()
		return err
	}
	return m.file.Close()
}

// fits reports whether v survives the biased uint32 encoding. MinInt32
// would encode as 0, the empty slot marker.
func fits(v int64) bool {
	return v > math.MinInt32 && v <= math.MaxInt32
}
