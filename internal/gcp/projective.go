package gcp

import (
	"gonum.org/v1/gonum/mat"

	"github.com/allmaps-go/warp/internal/geom"
)

// projectiveTransformer implements a full 2-D homography:
//
//	geo.x = (a*x + b*y + c) / (g*x + h*y + 1)
//	geo.y = (d*x + e*y + f) / (g*x + h*y + 1)
//
// fit independently in each direction from at least 4 ground control
// points, matching how the "projective" transformation kind is described
// in the annotation schema.
type projectiveTransformer struct {
	forward [8]float64 // a,b,c,d,e,f,g,h for resource->geo
	inverse [8]float64 // a,b,c,d,e,f,g,h for geo->resource
}

func (t *projectiveTransformer) Kind() TransformationKind { return KindProjective }

func (t *projectiveTransformer) ToGeo(p geom.Point) geom.Point {
	return applyHomography(t.forward, p)
}

func (t *projectiveTransformer) ToResource(p geom.Point) geom.Point {
	return applyHomography(t.inverse, p)
}

func applyHomography(h [8]float64, p geom.Point) geom.Point {
	x, y := p[0], p[1]
	w := h[6]*x + h[7]*y + 1
	if w == 0 {
		return geom.Point{0, 0}
	}
	return geom.Point{
		(h[0]*x + h[1]*y + h[2]) / w,
		(h[3]*x + h[4]*y + h[5]) / w,
	}
}

func fitProjective(gcps []GroundControlPoint) (Transformer, error) {
	fwd, err := solveHomography(gcps, true)
	if err != nil {
		return nil, err
	}
	inv, err := solveHomography(gcps, false)
	if err != nil {
		return nil, err
	}
	return &projectiveTransformer{forward: fwd, inverse: inv}, nil
}

// solveHomography solves the standard DLT linear system for a homography
// mapping src -> dst (src/dst chosen by the forward flag), using 2
// equations per correspondence:
//
//	a*x + b*y + c - g*x*X - h*y*X = X
//	d*x + e*y + f - g*x*Y - h*y*Y = Y
func solveHomography(gcps []GroundControlPoint, forward bool) ([8]float64, error) {
	n := len(gcps)
	a := mat.NewDense(2*n, 8, nil)
	b := mat.NewVecDense(2*n, nil)

	for i, g := range gcps {
		var x, y, dx, dy float64
		if forward {
			x, y = g.Resource[0], g.Resource[1]
			dx, dy = g.Geo[0], g.Geo[1]
		} else {
			x, y = g.Geo[0], g.Geo[1]
			dx, dy = g.Resource[0], g.Resource[1]
		}
		a.SetRow(2*i, []float64{x, y, 1, 0, 0, 0, -x * dx, -y * dx})
		a.SetRow(2*i+1, []float64{0, 0, 0, x, y, 1, -x * dy, -y * dy})
		b.SetVec(2*i, dx)
		b.SetVec(2*i+1, dy)
	}

	var c mat.VecDense
	if err := c.SolveVec(a, b); err != nil {
		return [8]float64{}, ErrDegenerate
	}
	var h [8]float64
	for i := range h {
		h[i] = c.AtVec(i)
	}
	return h, nil
}
