// Package wkb builds node and way geometries and encodes them as EWKB for
// PostGIS and GeoParquet consumers.
package wkb

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/ewkb"

	"github.com/wegman-software/pbfkit/internal/pbf"
	"github.com/wegman-software/pbfkit/internal/proj"
)

// Encoder encodes geometries as little-endian EWKB with the SRID of its
// transformer.
type Encoder struct {
	tr *proj.Transformer
}

// NewEncoder creates an encoder producing geometries in srid.
func NewEncoder(srid int) (*Encoder, error) {
	tr, err := proj.NewTransformer(srid)
	if err != nil {
		return nil, err
	}
	return &Encoder{tr: tr}, nil
}

// SRID returns the encoder's output SRID
func (e *Encoder) SRID() int {
	return e.tr.TargetSRID
}

// Point encodes a location given in 1e-7 degree units.
func (e *Encoder) Point(lat, lon int64) ([]byte, error) {
	return e.encode(toPoint(lat, lon))
}

// Way encodes a way from its resolved node locations in path order. Closed
// rings become polygons and open paths linestrings. ok is false when fewer
// than two locations are known.
func (e *Encoder) Way(coords [][2]int64, closed bool) (data []byte, ok bool, err error) {
	if len(coords) < 2 {
		return nil, false, nil
	}
	ls := make(orb.LineString, len(coords))
	for i, c := range coords {
		ls[i] = toPoint(c[0], c[1])
	}

	var g orb.Geometry = ls
	if closed && len(ls) >= 4 && ls[0] == ls[len(ls)-1] {
		g = orb.Polygon{orb.Ring(ls)}
	}
	data, err = e.encode(g)
	return data, err == nil, err
}

func (e *Encoder) encode(g orb.Geometry) ([]byte, error) {
	return ewkb.Marshal(e.tr.Transform(g), e.tr.TargetSRID)
}

// orb points are (x=lon, y=lat)
func toPoint(lat, lon int64) orb.Point {
	return orb.Point{float64(lon) / pbf.CoordinateScale, float64(lat) / pbf.CoordinateScale}
}
