package proj

import (
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"
)

// SRID constants for common projections
const (
	SRID4326 = 4326 // WGS84 (lat/lon)
	SRID3857 = 3857 // Web Mercator
)

// Transformer projects WGS84 geometries to a target SRID.
type Transformer struct {
	TargetSRID int
	projection orb.Projection
}

// NewTransformer creates a transformer from WGS84 to targetSRID
func NewTransformer(targetSRID int) (*Transformer, error) {
	switch targetSRID {
	case SRID4326:
		return &Transformer{TargetSRID: targetSRID}, nil
	case SRID3857:
		return &Transformer{TargetSRID: targetSRID, projection: project.WGS84.ToMercator}, nil
	default:
		return nil, fmt.Errorf("unsupported target SRID: %d (only 4326 and 3857 supported)", targetSRID)
	}
}

// Identity reports whether Transform is a no-op.
func (t *Transformer) Identity() bool {
	return t.projection == nil
}

// Transform returns g in the target projection. g is modified in place.
func (t *Transformer) Transform(g orb.Geometry) orb.Geometry {
	if t.Identity() {
		return g
	}
	return project.Geometry(g, t.projection)
}
