// Package analysis measures the quality of a finished point set: spacing,
// coverage of the region and clipping to arbitrary shapes.
package analysis

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"github.com/unixpickle/model3d/model2d"

	"bluenoise/internal/sampling"
)

// Report summarises a point set.
type Report struct {
	Count           int     `json:"count"`
	MinPairDistance float64 `json:"minPairDistance"` // 0 for fewer than two points
	MeanNearest     float64 `json:"meanNearest"`
	Coverage        float64 `json:"coverage"` // fraction of lattice points within r of a sample
	Density         float64 `json:"density"`  // samples per unit area
}

func toCoords(points []sampling.Point) []model2d.Coord {
	coords := make([]model2d.Coord, len(points))
	for i, p := range points {
		coords[i] = model2d.Coord{X: p.X, Y: p.Y}
	}
	return coords
}

// NearestDistances returns, for each point, the distance to its nearest
// other point. Empty for fewer than two points.
func NearestDistances(points []sampling.Point) []float64 {
	if len(points) < 2 {
		return nil
	}
	coords := toCoords(points)
	tree := model2d.NewCoordTree(coords)

	out := make([]float64, len(coords))
	for i, c := range coords {
		// the closest hit is the point itself (or an exact duplicate)
		neighbors := tree.KNN(2, c)
		out[i] = neighbors[len(neighbors)-1].Dist(c)
	}
	return out
}

// MinPairDistance returns the smallest pairwise distance, +Inf for fewer
// than two points.
func MinPairDistance(points []sampling.Point) float64 {
	best := math.Inf(1)
	for _, d := range NearestDistances(points) {
		best = math.Min(best, d)
	}
	return best
}

// Coverage walks the region on a square lattice of the given spacing and
// returns the fraction of lattice points whose nearest sample is closer than r.
// A maximal Poisson-disc set covers everything but slivers at the border.
func Coverage(points []sampling.Point, width, height, r, spacing float64) float64 {
	if spacing <= 0 || width <= 0 || height <= 0 {
		return 0
	}
	if len(points) == 0 {
		return 0
	}
	tree := model2d.NewCoordTree(toCoords(points))

	var total, covered int
	for y := spacing / 2; y < height; y += spacing {
		for x := spacing / 2; x < width; x += spacing {
			q := model2d.Coord{X: x, Y: y}
			total++
			if tree.KNN(1, q)[0].Dist(q) < r {
				covered++
			}
		}
	}
	if total == 0 {
		return 0
	}
	return float64(covered) / float64(total)
}

// Analyze computes a full Report on a lattice of spacing r/4.
func Analyze(points []sampling.Point, width, height, r float64) Report {
	rep := Report{Count: len(points)}
	if width > 0 && height > 0 {
		rep.Density = float64(len(points)) / (width * height)
	}

	nearest := NearestDistances(points)
	if len(nearest) > 0 {
		var sum float64
		rep.MinPairDistance = math.Inf(1)
		for _, d := range nearest {
			sum += d
			rep.MinPairDistance = math.Min(rep.MinPairDistance, d)
		}
		rep.MeanNearest = sum / float64(len(nearest))
	}
	rep.Coverage = Coverage(points, width, height, r, r/4)
	return rep
}

// Clip keeps the points inside poly, preserving order.
func Clip(points []sampling.Point, poly orb.MultiPolygon) []sampling.Point {
	inside := make([]sampling.Point, 0, len(points))
	for _, p := range points {
		if planar.MultiPolygonContains(poly, orb.Point{p.X, p.Y}) {
			inside = append(inside, p)
		}
	}
	return inside
}

// Translate shifts every point by (dx, dy), used to move a sample set from
// region coordinates into a clip shape's frame.
func Translate(points []sampling.Point, dx, dy float64) []sampling.Point {
	out := make([]sampling.Point, len(points))
	for i, p := range points {
		out[i] = sampling.Point{X: p.X + dx, Y: p.Y + dy}
	}
	return out
}
