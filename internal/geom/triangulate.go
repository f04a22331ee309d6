package geom

import (
	"math"

	"github.com/fogleman/delaunay"
)

// Triangle is three indices into the point slice that was triangulated.
type Triangle [3]int

// Triangulate runs a Delaunay triangulation over the given points (the
// densified resource mask ring) and returns the triangle list.
// Triangulation, not the mask ring itself, is what the GPU-like
// rasterizer (internal/raster) walks to produce per-triangle vertex
// data; the int-array rasterizer does not use it.
func Triangulate(points []Point) ([]Triangle, error) {
	pts := make([]delaunay.Point, len(points))
	for i, p := range points {
		pts[i] = delaunay.Point{X: p[0], Y: p[1]}
	}
	tri, err := delaunay.Triangulate(pts)
	if err != nil {
		return nil, err
	}
	triangles := make([]Triangle, 0, len(tri.Triangles)/3)
	for i := 0; i+2 < len(tri.Triangles); i += 3 {
		triangles = append(triangles, Triangle{tri.Triangles[i], tri.Triangles[i+1], tri.Triangles[i+2]})
	}
	return triangles, nil
}

// PointInTriangle reports whether p lies inside (or on the boundary of)
// the triangle a-b-c, via the sign of its barycentric coordinates.
func PointInTriangle(p, a, b, c Point) bool {
	d1 := sign(p, a, b)
	d2 := sign(p, b, c)
	d3 := sign(p, c, a)

	hasNeg := d1 < 0 || d2 < 0 || d3 < 0
	hasPos := d1 > 0 || d2 > 0 || d3 > 0

	return !(hasNeg && hasPos)
}

func sign(p1, p2, p3 Point) float64 {
	return (p1[0]-p3[0])*(p2[1]-p3[1]) - (p2[0]-p3[0])*(p1[1]-p3[1])
}

// Barycentric returns the barycentric coordinates of p with respect to
// triangle a-b-c. ok is false if the triangle is degenerate.
func Barycentric(p, a, b, c Point) (u, v, w float64, ok bool) {
	denom := (b[1]-c[1])*(a[0]-c[0]) + (c[0]-b[0])*(a[1]-c[1])
	if denom == 0 {
		return 0, 0, 0, false
	}
	u = ((b[1]-c[1])*(p[0]-c[0]) + (c[0]-b[0])*(p[1]-c[1])) / denom
	v = ((c[1]-a[1])*(p[0]-c[0]) + (a[0]-c[0])*(p[1]-c[1])) / denom
	w = 1 - u - v
	return u, v, w, true
}

// Densify inserts extra vertices along each edge of a ring so that no
// segment exceeds maxLength, preserving the original vertices in place.
// A resource mask authored as a handful of corner points would otherwise
// triangulate into a few enormous, badly distorted triangles; densifying
// first gives the triangulation enough vertices to follow the curvature
// a non-affine transformer (polynomial, thin-plate-spline) introduces.
func Densify(r Ring, maxLength float64) Ring {
	if len(r) < 2 || maxLength <= 0 {
		out := make(Ring, len(r))
		copy(out, r)
		return out
	}
	out := make(Ring, 0, len(r))
	n := len(r)
	for i := 0; i < n; i++ {
		a := r[i]
		b := r[(i+1)%n]
		out = append(out, a)
		segLen := Distance(a, b)
		if segLen <= maxLength {
			continue
		}
		steps := int(math.Ceil(segLen / maxLength))
		for s := 1; s < steps; s++ {
			t := float64(s) / float64(steps)
			out = append(out, Point{
				a[0] + (b[0]-a[0])*t,
				a[1] + (b[1]-a[1])*t,
			})
		}
	}
	return out
}

// PointInRing reports whether p lies inside ring using the standard
// ray-casting (even-odd) test. Points on the boundary may return either
// result, which is acceptable here since it only screens triangle
// centroids that are never exactly on the mask boundary in practice.
func PointInRing(p Point, ring Ring) bool {
	inside := false
	n := len(ring)
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		pi, pj := ring[i], ring[j]
		if (pi[1] > p[1]) != (pj[1] > p[1]) &&
			p[0] < (pj[0]-pi[0])*(p[1]-pi[1])/(pj[1]-pi[1])+pi[0] {
			inside = !inside
		}
	}
	return inside
}

// TriangulateMask densifies mask (so no edge exceeds maxEdgeLength),
// Delaunay-triangulates the densified point set, and discards any
// triangle whose centroid falls outside the original mask polygon —
// the triangulation step the warped-map pipeline runs whenever a map's
// resource mask or transformer changes. It returns the densified point
// set (the index space the returned triangles reference) alongside the
// filtered triangle list.
func TriangulateMask(mask Ring, maxEdgeLength float64) ([]Point, []Triangle, error) {
	points := Densify(mask, maxEdgeLength)
	if len(points) < 3 {
		return points, nil, nil
	}
	all, err := Triangulate(points)
	if err != nil {
		return nil, nil, err
	}
	kept := make([]Triangle, 0, len(all))
	for _, t := range all {
		a, b, c := points[t[0]], points[t[1]], points[t[2]]
		centroid := Point{(a[0] + b[0] + c[0]) / 3, (a[1] + b[1] + c[1]) / 3}
		if PointInRing(centroid, mask) {
			kept = append(kept, t)
		}
	}
	return points, kept, nil
}
