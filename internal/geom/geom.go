// Package geom provides the 2-D geometry primitives shared by the warping
// pipeline: points, rings, bounds, and affine transforms. Point/Ring/Bound
// are thin wrappers over github.com/paulmach/orb so the rest of the module
// gets orb's planar algorithms (area, centroid, bound union) for free.
package geom

import (
	"math"
	"sort"

	"github.com/paulmach/orb"
)

// Point is a 2-D coordinate pair. The two axes mean different things in
// different spaces (resource: pixel x/y; projectedGeo: projected CRS
// units; viewport/canvas/clip: device or NDC units) — callers are expected
// to track which space a Point lives in, same as the TypeScript original's
// "Position" convention.
type Point = orb.Point

// Ring is a closed polyline; the first and last points need not be
// identical, matching how resource masks are typically authored.
type Ring = orb.Ring

// Bound is an axis-aligned bounding box.
type Bound = orb.Bound

// NewPoint builds a Point from two coordinates.
func NewPoint(x, y float64) Point { return orb.Point{x, y} }

// BoundOfRing returns the bounding box of a ring.
func BoundOfRing(r Ring) Bound {
	b := orb.Bound{Min: orb.Point{math.Inf(1), math.Inf(1)}, Max: orb.Point{math.Inf(-1), math.Inf(-1)}}
	for _, p := range r {
		b = b.Extend(p)
	}
	return b
}

// Centroid returns the arithmetic mean of a ring's vertices. This is used
// as the reference point for center-out tile fetch ordering rather than
// the polygon's area centroid, matching the simpler "distance from ring
// center" heuristic used by adjacent-tile prefetch orderings in practice.
func Centroid(r Ring) Point {
	if len(r) == 0 {
		return Point{}
	}
	var sx, sy float64
	for _, p := range r {
		sx += p[0]
		sy += p[1]
	}
	n := float64(len(r))
	return Point{sx / n, sy / n}
}

// Distance returns the Euclidean distance between two points.
func Distance(a, b Point) float64 {
	dx := a[0] - b[0]
	dy := a[1] - b[1]
	return math.Sqrt(dx*dx + dy*dy)
}

// BoundsIntersect reports whether two bounds overlap, inclusive of shared
// edges.
func BoundsIntersect(a, b Bound) bool {
	return a.Min[0] <= b.Max[0] && a.Max[0] >= b.Min[0] &&
		a.Min[1] <= b.Max[1] && a.Max[1] >= b.Min[1]
}

// IntersectBound returns the overlapping region of a and b. If they do
// not overlap, the result has Min > Max on at least one axis — callers
// that need a well-formed empty bound should check BoundsIntersect first.
func IntersectBound(a, b Bound) Bound {
	return Bound{
		Min: Point{math.Max(a.Min[0], b.Min[0]), math.Max(a.Min[1], b.Min[1])},
		Max: Point{math.Min(a.Max[0], b.Max[0]), math.Min(a.Max[1], b.Max[1])},
	}
}

// ScaleBound grows a bound symmetrically by factor around its center,
// used to compute the renderer's buffered viewport ring from the raw
// viewport bound: buffered ring = viewport bound scaled by a
// configurable buffer factor. A factor f adds (f-1)/2 of the bound's
// width and height as margin on each side.
func ScaleBound(b Bound, factor float64) Bound {
	cx := (b.Min[0] + b.Max[0]) / 2
	cy := (b.Min[1] + b.Max[1]) / 2
	hw := (b.Max[0] - b.Min[0]) / 2 * factor
	hh := (b.Max[1] - b.Min[1]) / 2 * factor
	return Bound{
		Min: Point{cx - hw, cy - hh},
		Max: Point{cx + hw, cy + hh},
	}
}

// ConvexHull returns the convex hull of points as a counter-clockwise
// ring, via the monotone-chain (Andrew) algorithm. Collinear points on
// an edge of the hull are dropped. Returns nil if fewer than 3 distinct
// points are given.
func ConvexHull(points []Point) Ring {
	pts := make([]Point, len(points))
	copy(pts, points)
	sort.Slice(pts, func(i, j int) bool {
		if pts[i][0] != pts[j][0] {
			return pts[i][0] < pts[j][0]
		}
		return pts[i][1] < pts[j][1]
	})
	pts = dedupSorted(pts)
	if len(pts) < 3 {
		return nil
	}

	cross := func(o, a, b Point) float64 {
		return (a[0]-o[0])*(b[1]-o[1]) - (a[1]-o[1])*(b[0]-o[0])
	}

	lower := make([]Point, 0, len(pts))
	for _, p := range pts {
		for len(lower) >= 2 && cross(lower[len(lower)-2], lower[len(lower)-1], p) <= 0 {
			lower = lower[:len(lower)-1]
		}
		lower = append(lower, p)
	}
	upper := make([]Point, 0, len(pts))
	for i := len(pts) - 1; i >= 0; i-- {
		p := pts[i]
		for len(upper) >= 2 && cross(upper[len(upper)-2], upper[len(upper)-1], p) <= 0 {
			upper = upper[:len(upper)-1]
		}
		upper = append(upper, p)
	}
	hull := append(lower[:len(lower)-1], upper[:len(upper)-1]...)
	return Ring(hull)
}

func dedupSorted(pts []Point) []Point {
	out := pts[:0:0]
	for i, p := range pts {
		if i == 0 || p != pts[i-1] {
			out = append(out, p)
		}
	}
	return out
}

// Median returns the median of a slice of float64 values. Unlike a mean,
// a handful of wildly distorted sample points (near a transformer's
// singularities) cannot drag a median zoom-level estimate off course.
// Panics if values is empty.
func Median(values []float64) float64 {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}
