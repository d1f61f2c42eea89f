package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/compress/zlib"
	"gopkg.in/yaml.v3"
)

// BBox represents a geographic bounding box
type BBox struct {
	MinLon, MinLat, MaxLon, MaxLat float64
	IsSet                          bool
}

// Contains checks if a point is within the bounding box
func (b *BBox) Contains(lat, lon float64) bool {
	if b == nil || !b.IsSet {
		return true
	}
	return lon >= b.MinLon && lon <= b.MaxLon && lat >= b.MinLat && lat <= b.MaxLat
}

// ParseBBox parses a bbox string in format "minlon,minlat,maxlon,maxlat"
func ParseBBox(s string) (*BBox, error) {
	if s == "" {
		return &BBox{IsSet: false}, nil
	}

	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return nil, fmt.Errorf("bbox must have 4 values: minlon,minlat,maxlon,maxlat")
	}

	var coords [4]float64
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid bbox coordinate %q: %w", p, err)
		}
		coords[i] = v
	}

	bbox := &BBox{
		MinLon: coords[0],
		MinLat: coords[1],
		MaxLon: coords[2],
		MaxLat: coords[3],
		IsSet:  true,
	}

	if bbox.MinLon > bbox.MaxLon {
		return nil, fmt.Errorf("minlon (%f) must be <= maxlon (%f)", bbox.MinLon, bbox.MaxLon)
	}
	if bbox.MinLat > bbox.MaxLat {
		return nil, fmt.Errorf("minlat (%f) must be <= maxlat (%f)", bbox.MinLat, bbox.MaxLat)
	}

	return bbox, nil
}

// Config holds the configuration shared by all commands. Fields with a yaml
// tag can be set from a --config file; flags override the file.
type Config struct {
	// Input/output
	InputFile  string `yaml:"-"`
	OutputFile string `yaml:"-"`
	OutputDir  string `yaml:"output_dir"`
	StyleFile  string `yaml:"style"`
	BBoxSpec   string `yaml:"bbox"`
	BBox       *BBox  `yaml:"-"`

	// Decoding
	Workers       int  `yaml:"workers"`
	StrictKinds   bool `yaml:"strict_kinds"` // fail on unknown block kinds instead of skipping them
	SkipNodes     bool `yaml:"skip_nodes"`
	SkipWays      bool `yaml:"skip_ways"`
	SkipRelations bool `yaml:"skip_relations"`

	// Writing
	CompressionLevel int  `yaml:"compression_level"`
	RawBlobs         bool `yaml:"raw_blobs"`
	KeepCompression  bool `yaml:"keep_compression"` // repack without re-encoding blobs

	// Sinks
	BatchSize     int    `yaml:"batch_size"`
	SRID          int    `yaml:"srid"`       // 4326 or 3857
	NodeIndexFile string `yaml:"node_index"` // empty keeps the index in memory
	MaxNodeID     int64  `yaml:"max_node_id"`

	// Database settings
	DBHost       string `yaml:"db_host"`
	DBPort       int    `yaml:"db_port"`
	DBName       string `yaml:"db_name"`
	DBUser       string `yaml:"db_user"`
	DBPassword   string `yaml:"db_password"`
	DBSchema     string `yaml:"db_schema"`
	DropExisting bool   `yaml:"drop_existing"`

	// Logging and metrics
	Verbose         bool          `yaml:"verbose"`
	LogFile         string        `yaml:"log_file"`
	MetricsInterval time.Duration `yaml:"metrics_interval"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		OutputDir:        "./pbf_out",
		Workers:          runtime.NumCPU(),
		CompressionLevel: zlib.DefaultCompression,
		BatchSize:        100000,
		SRID:             4326,
		MaxNodeID:        16_000_000_000,
		DBHost:           "localhost",
		DBPort:           5432,
		DBName:           "osm",
		DBUser:           "postgres",
		DBSchema:         "public",
		MetricsInterval:  30 * time.Second,
	}
}

// LoadFile overlays the YAML file at path onto c. Keys absent from the file
// keep their current values.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config YAML: %w", err)
	}
	return nil
}

// ConnectionString returns a PostgreSQL connection string
func (c *Config) ConnectionString() string {
	connStr := fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s sslmode=disable",
		c.DBHost, c.DBPort, c.DBName, c.DBUser,
	)
	if c.DBPassword != "" {
		connStr += fmt.Sprintf(" password=%s", c.DBPassword)
	}
	return connStr
}

// Validate checks that the configuration is valid and parses the bbox
func (c *Config) Validate() error {
	if c.InputFile == "" {
		return fmt.Errorf("input file is required")
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1")
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("batch size must be at least 1")
	}
	if c.CompressionLevel < zlib.HuffmanOnly || c.CompressionLevel > zlib.BestCompression {
		return fmt.Errorf("compression level %d out of range [%d,%d]", c.CompressionLevel, zlib.HuffmanOnly, zlib.BestCompression)
	}
	if c.SRID != 4326 && c.SRID != 3857 {
		return fmt.Errorf("srid must be 4326 or 3857, got %d", c.SRID)
	}
	if c.MaxNodeID < 1 {
		return fmt.Errorf("max node id must be positive")
	}

	bbox, err := ParseBBox(c.BBoxSpec)
	if err != nil {
		return err
	}
	c.BBox = bbox
	return nil
}
