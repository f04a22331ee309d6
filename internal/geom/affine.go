package geom

import "math"

// Affine is a 2x3 affine transform matrix:
//
//	[a c e]   [x]   [a*x + c*y + e]
//	[b d f] * [y] = [b*x + d*y + f]
//	[0 0 1]   [1]   [1]
//
// This is the building block of every transform the renderer composes:
// resource->projectedGeo (from a fitted GCP transformer, linearized at a
// point, or an explicit affine TransformationKind), projectedGeo->viewport,
// viewport->canvas, and canvas->clip.
type Affine struct {
	A, B, C, D, E, F float64
}

// Identity returns the identity transform.
func Identity() Affine {
	return Affine{A: 1, D: 1}
}

// Translate returns a transform that translates by (tx, ty).
func Translate(tx, ty float64) Affine {
	return Affine{A: 1, D: 1, E: tx, F: ty}
}

// Scale returns a transform that scales by (sx, sy) about the origin.
func Scale(sx, sy float64) Affine {
	return Affine{A: sx, D: sy}
}

// Rotate returns a transform that rotates by theta radians about the origin.
func Rotate(theta float64) Affine {
	c, s := math.Cos(theta), math.Sin(theta)
	return Affine{A: c, B: s, C: -s, D: c}
}

// Apply transforms a point.
func (m Affine) Apply(p Point) Point {
	return Point{
		m.A*p[0] + m.C*p[1] + m.E,
		m.B*p[0] + m.D*p[1] + m.F,
	}
}

// ApplyRing transforms every point of a ring, returning a new ring.
func (m Affine) ApplyRing(r Ring) Ring {
	out := make(Ring, len(r))
	for i, p := range r {
		out[i] = m.Apply(p)
	}
	return out
}

// Compose returns the transform equivalent to applying m first, then n
// (i.e. n.Compose(m) applied to p == n.Apply(m.Apply(p))).
func (n Affine) Compose(m Affine) Affine {
	return Affine{
		A: n.A*m.A + n.C*m.B,
		B: n.B*m.A + n.D*m.B,
		C: n.A*m.C + n.C*m.D,
		D: n.B*m.C + n.D*m.D,
		E: n.A*m.E + n.C*m.F + n.E,
		F: n.B*m.E + n.D*m.F + n.F,
	}
}

// Determinant returns the matrix's linear determinant (A*D - B*C). A zero
// determinant means the transform is singular and Invert will fail.
func (m Affine) Determinant() float64 {
	return m.A*m.D - m.B*m.C
}

// Invert returns the inverse transform. ok is false if the transform is
// singular (determinant within epsilon of zero), mirroring the domain
// errors a degenerate GCP fit or a zero-area viewport can produce.
func (m Affine) Invert() (inv Affine, ok bool) {
	det := m.Determinant()
	if math.Abs(det) < 1e-12 {
		return Affine{}, false
	}
	invDet := 1 / det
	a := m.D * invDet
	b := -m.B * invDet
	c := -m.C * invDet
	d := m.A * invDet
	e := -(a*m.E + c*m.F)
	f := -(b*m.E + d*m.F)
	return Affine{A: a, B: b, C: c, D: d, E: e, F: f}, true
}
