package export

import (
	"encoding/json"
	"io"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/pkg/errors"

	"bluenoise/internal/sampling"
)

// FeatureCollection converts points to GeoJSON Point features carrying their
// sample index. The bbox is the sampling region, not the hull of the points.
func FeatureCollection(points []sampling.Point, meta Meta) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	fc.BBox = geojson.NewBBox(orb.Bound{
		Min: orb.Point{0, 0},
		Max: orb.Point{meta.Width, meta.Height},
	})

	for i, p := range points {
		f := geojson.NewFeature(orb.Point{p.X, p.Y})
		f.Properties["index"] = i
		fc.Append(f)
	}

	fc.ExtraMembers = geojson.Properties{
		"minDistance": meta.MinDistance,
		"maxAttempts": meta.MaxAttempts,
		"seed":        meta.Seed,
		"trials":      meta.Trials,
	}
	if meta.RunID != "" {
		fc.ExtraMembers["runId"] = meta.RunID
	}
	return fc
}

// WriteGeoJSON writes points as a FeatureCollection.
func WriteGeoJSON(w io.Writer, points []sampling.Point, meta Meta) error {
	data, err := json.Marshal(FeatureCollection(points, meta))
	if err != nil {
		return errors.Wrap(err, "marshal geojson")
	}
	if _, err := w.Write(data); err != nil {
		return errors.Wrap(err, "write geojson")
	}
	return nil
}

// ReadPoints parses Point features back into samples, in feature order.
// Non-point geometries are skipped.
func ReadPoints(r io.Reader) ([]sampling.Point, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "read geojson")
	}
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, errors.Wrap(err, "decode feature collection")
	}

	points := make([]sampling.Point, 0, len(fc.Features))
	for _, f := range fc.Features {
		if p, ok := f.Geometry.(orb.Point); ok {
			points = append(points, sampling.Point{X: p.X(), Y: p.Y()})
		}
	}
	return points, nil
}

// ReadClip reads the polygons of a GeoJSON document (a FeatureCollection, a
// Feature or a bare geometry) into one MultiPolygon.
func ReadClip(r io.Reader) (orb.MultiPolygon, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "read clip")
	}

	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, errors.Wrap(err, "decode clip")
	}

	var geoms []orb.Geometry
	switch head.Type {
	case "FeatureCollection":
		fc, err := geojson.UnmarshalFeatureCollection(data)
		if err != nil {
			return nil, errors.Wrap(err, "decode clip collection")
		}
		for _, f := range fc.Features {
			geoms = append(geoms, f.Geometry)
		}
	case "Feature":
		f, err := geojson.UnmarshalFeature(data)
		if err != nil {
			return nil, errors.Wrap(err, "decode clip feature")
		}
		geoms = append(geoms, f.Geometry)
	default:
		g, err := geojson.UnmarshalGeometry(data)
		if err != nil {
			return nil, errors.Wrap(err, "decode clip geometry")
		}
		geoms = append(geoms, g.Geometry())
	}

	var mp orb.MultiPolygon
	for _, g := range geoms {
		switch g := g.(type) {
		case orb.Polygon:
			mp = append(mp, g)
		case orb.MultiPolygon:
			mp = append(mp, g...)
		}
	}
	if len(mp) == 0 {
		return nil, errors.New("clip contains no polygons")
	}
	return mp, nil
}
