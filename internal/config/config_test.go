package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestParseBBox(t *testing.T) {
	bbox, err := ParseBBox("-71.2, 42.3, -71.0, 42.5")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bbox.IsSet {
		t.Fatal("expected bbox to be set")
	}
	if !bbox.Contains(42.4, -71.1) {
		t.Error("expected point inside bbox")
	}
	if bbox.Contains(43.0, -71.1) {
		t.Error("expected point outside bbox")
	}

	empty, err := ParseBBox("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !empty.Contains(89, 179) {
		t.Error("unset bbox should contain everything")
	}

	for _, bad := range []string{"1,2,3", "a,b,c,d", "10,0,0,1", "0,10,1,0"} {
		if _, err := ParseBBox(bad); err == nil {
			t.Errorf("expected error for %q", bad)
		}
	}
}

func TestLoadFileOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pbfkit.yaml")
	yamlData := `
workers: 3
strict_kinds: true
bbox: "7.40,43.72,7.44,43.75"
compression_level: 9
metrics_interval: 10s
db_name: gis
`
	if err := os.WriteFile(path, []byte(yamlData), 0644); err != nil {
		t.Fatal(err)
	}

	cfg := DefaultConfig()
	cfg.InputFile = "monaco.osm.pbf"
	if err := cfg.LoadFile(path); err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}

	if cfg.Workers != 3 {
		t.Errorf("expected 3 workers, got %d", cfg.Workers)
	}
	if !cfg.StrictKinds {
		t.Error("expected strict kinds")
	}
	if cfg.MetricsInterval != 10*time.Second {
		t.Errorf("expected 10s metrics interval, got %s", cfg.MetricsInterval)
	}
	if cfg.DBName != "gis" {
		t.Errorf("expected db name gis, got %s", cfg.DBName)
	}
	// untouched keys keep defaults
	if cfg.DBPort != 5432 {
		t.Errorf("expected default port, got %d", cfg.DBPort)
	}

	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if !cfg.BBox.IsSet || cfg.BBox.MinLon != 7.40 {
		t.Errorf("bbox not parsed: %+v", cfg.BBox)
	}
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err == nil {
		t.Error("expected error without input file")
	}

	cfg.InputFile = "in.osm.pbf"
	if err := cfg.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	cfg.Workers = 0
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for zero workers")
	}

	cfg.Workers = 1
	cfg.CompressionLevel = 12
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for compression level 12")
	}
}
