package gcp

import (
	"gonum.org/v1/gonum/mat"

	"github.com/allmaps-go/warp/internal/geom"
)

// helmertTransformer is a similarity transform (uniform scale + rotation
// + translation) expressed as a 2x3 affine. It is the lowest-order
// transformation kind the annotation schema supports and is fit from as
// few as 2 ground control points.
type helmertTransformer struct {
	forward geom.Affine
	inverse geom.Affine
}

func (t *helmertTransformer) Kind() TransformationKind { return KindHelmert }
func (t *helmertTransformer) ToGeo(p geom.Point) geom.Point      { return t.forward.Apply(p) }
func (t *helmertTransformer) ToResource(p geom.Point) geom.Point { return t.inverse.Apply(p) }

// fitHelmert solves for scale s, rotation theta, and translation (tx,ty)
// such that geo ≈ s*R(theta)*resource + t, by least squares over
//
//	geo.x = a*res.x - b*res.y + tx
//	geo.y = b*res.x + a*res.y + ty
//
// which is linear in (a, b, tx, ty) where a = s*cos(theta), b = s*sin(theta).
func fitHelmert(gcps []GroundControlPoint) (Transformer, error) {
	n := len(gcps)
	a := mat.NewDense(2*n, 4, nil)
	b := mat.NewVecDense(2*n, nil)

	for i, g := range gcps {
		x, y := g.Resource[0], g.Resource[1]
		a.SetRow(2*i, []float64{x, -y, 1, 0})
		a.SetRow(2*i+1, []float64{y, x, 0, 1})
		b.SetVec(2*i, g.Geo[0])
		b.SetVec(2*i+1, g.Geo[1])
	}

	var c mat.VecDense
	if err := c.SolveVec(a, b); err != nil {
		return nil, ErrDegenerate
	}
	fa, fb, tx, ty := c.AtVec(0), c.AtVec(1), c.AtVec(2), c.AtVec(3)
	forward := geom.Affine{A: fa, B: fb, C: -fb, D: fa, E: tx, F: ty}
	inverse, ok := forward.Invert()
	if !ok {
		return nil, ErrDegenerate
	}
	return &helmertTransformer{forward: forward, inverse: inverse}, nil
}
