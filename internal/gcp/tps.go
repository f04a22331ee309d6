package gcp

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/allmaps-go/warp/internal/geom"
)

// thinPlateSplineTransformer is fit independently in each direction: a
// radial-basis interpolant through every ground control point plus an
// affine term, the standard TPS construction. Unlike the polynomial and
// projective kinds this exactly interpolates every control point (up to
// numerical precision) rather than fitting a least-squares approximation,
// matching the annotation schema's "thinPlateSpline" kind semantics.
type thinPlateSplineTransformer struct {
	controlPoints []geom.Point // in the "from" space for this direction
	wX, wY        []float64    // radial-basis weights, len == len(controlPoints)
	aX, aY        [3]float64   // affine term [1, x, y] coefficients
	forward       bool
}

func (t *thinPlateSplineTransformer) Kind() TransformationKind { return KindThinPlate }

func (t *thinPlateSplineTransformer) ToGeo(p geom.Point) geom.Point {
	if t.forward {
		return t.eval(p)
	}
	return geom.Point{}
}

func (t *thinPlateSplineTransformer) ToResource(p geom.Point) geom.Point {
	if !t.forward {
		return t.eval(p)
	}
	return geom.Point{}
}

func (t *thinPlateSplineTransformer) eval(p geom.Point) geom.Point {
	x := t.aX[0] + t.aX[1]*p[0] + t.aX[2]*p[1]
	y := t.aY[0] + t.aY[1]*p[0] + t.aY[2]*p[1]
	for i, cp := range t.controlPoints {
		r := tpsKernel(geom.Distance(p, cp))
		x += t.wX[i] * r
		y += t.wY[i] * r
	}
	return geom.Point{x, y}
}

// tpsKernel is the canonical thin-plate-spline radial basis U(r) = r^2*ln(r).
func tpsKernel(r float64) float64 {
	if r < 1e-12 {
		return 0
	}
	return r * r * math.Log(r)
}

// fitThinPlateSpline builds a pair of one-direction TPS fits (resource->
// geo and geo->resource), each solved from the standard TPS linear
// system [[K P][P^T 0]] * [w;a] = [v;0].
func fitThinPlateSpline(gcps []GroundControlPoint) (Transformer, error) {
	fwd, err := solveTPS(gcps, true)
	if err != nil {
		return nil, err
	}
	bwd, err := solveTPS(gcps, false)
	if err != nil {
		return nil, err
	}
	return &tpsPair{forward: fwd, inverse: bwd}, nil
}

// tpsPair bundles the two independently-solved one-direction fits behind
// the bidirectional Transformer interface.
type tpsPair struct {
	forward *thinPlateSplineTransformer
	inverse *thinPlateSplineTransformer
}

func (p *tpsPair) Kind() TransformationKind      { return KindThinPlate }
func (p *tpsPair) ToGeo(pt geom.Point) geom.Point { return p.forward.eval(pt) }
func (p *tpsPair) ToResource(pt geom.Point) geom.Point { return p.inverse.eval(pt) }

func solveTPS(gcps []GroundControlPoint, forward bool) (*thinPlateSplineTransformer, error) {
	n := len(gcps)
	from := make([]geom.Point, n)
	toX := make([]float64, n)
	toY := make([]float64, n)
	for i, g := range gcps {
		if forward {
			from[i] = g.Resource
			toX[i], toY[i] = g.Geo[0], g.Geo[1]
		} else {
			from[i] = g.Geo
			toX[i], toY[i] = g.Resource[0], g.Resource[1]
		}
	}

	size := n + 3
	l := mat.NewDense(size, size, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			l.Set(i, j, tpsKernel(geom.Distance(from[i], from[j])))
		}
		l.Set(i, n, 1)
		l.Set(i, n+1, from[i][0])
		l.Set(i, n+2, from[i][1])
		l.Set(n, i, 1)
		l.Set(n+1, i, from[i][0])
		l.Set(n+2, i, from[i][1])
	}

	bx := mat.NewVecDense(size, nil)
	by := mat.NewVecDense(size, nil)
	for i := 0; i < n; i++ {
		bx.SetVec(i, toX[i])
		by.SetVec(i, toY[i])
	}

	var wx, wy mat.VecDense
	if err := wx.SolveVec(l, bx); err != nil {
		return nil, ErrDegenerate
	}
	if err := wy.SolveVec(l, by); err != nil {
		return nil, ErrDegenerate
	}

	t := &thinPlateSplineTransformer{
		controlPoints: from,
		wX:            make([]float64, n),
		wY:            make([]float64, n),
		forward:       forward,
	}
	for i := 0; i < n; i++ {
		t.wX[i] = wx.AtVec(i)
		t.wY[i] = wy.AtVec(i)
	}
	t.aX = [3]float64{wx.AtVec(n), wx.AtVec(n + 1), wx.AtVec(n + 2)}
	t.aY = [3]float64{wy.AtVec(n), wy.AtVec(n + 1), wy.AtVec(n + 2)}
	return t, nil
}
