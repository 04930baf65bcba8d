package roi

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// Polygon is an outer ring of (lon, lat) points as drawn on the map
type Polygon []orb.Point

// Geometry is everything the user has drawn, in drawing order. An empty
// Geometry means the drawing was cleared.
type Geometry []Polygon

// ParseGeoJSON accepts a FeatureCollection, a single Feature or a bare
// geometry. Empty input, null and objects without a type are treated as a
// cleared drawing. Non-polygon shapes are ignored.
func ParseGeoJSON(data []byte) (Geometry, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return Geometry{}, nil
	}

	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("invalid geojson: %w", err)
	}

	switch probe.Type {
	case "":
		return Geometry{}, nil
	case "FeatureCollection":
		fc, err := geojson.UnmarshalFeatureCollection(data)
		if err != nil {
			return nil, fmt.Errorf("invalid feature collection: %w", err)
		}
		var g Geometry
		for _, f := range fc.Features {
			g = appendPolygons(g, f.Geometry)
		}
		return nonNil(g), nil
	case "Feature":
		f, err := geojson.UnmarshalFeature(data)
		if err != nil {
			return nil, fmt.Errorf("invalid feature: %w", err)
		}
		return nonNil(appendPolygons(nil, f.Geometry)), nil
	default:
		geom, err := geojson.UnmarshalGeometry(data)
		if err != nil {
			return nil, fmt.Errorf("invalid geometry: %w", err)
		}
		return nonNil(appendPolygons(nil, geom.Geometry())), nil
	}
}

func appendPolygons(g Geometry, geom orb.Geometry) Geometry {
	switch v := geom.(type) {
	case orb.Polygon:
		if len(v) > 0 && len(v[0]) > 0 {
			g = append(g, Polygon(v[0]))
		}
	case orb.MultiPolygon:
		for _, p := range v {
			g = appendPolygons(g, p)
		}
	case orb.Bound:
		g = appendPolygons(g, v.ToPolygon())
	case orb.Collection:
		for _, member := range v {
			g = appendPolygons(g, member)
		}
	}
	return g
}

func nonNil(g Geometry) Geometry {
	if g == nil {
		return Geometry{}
	}
	return g
}
