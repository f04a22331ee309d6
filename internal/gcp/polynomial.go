package gcp

import (
	"gonum.org/v1/gonum/mat"

	"github.com/allmaps-go/warp/internal/geom"
)

// polynomialTransformer fits two independent polynomials (one per output
// axis) of the given order in resource x/y, each solved by ordinary
// least squares via gonum/mat. Order 1 is an affine map (6 coefficients,
// the "polynomial1" transformation type an annotation can declare); orders
// 2 and 3 add the higher-degree cross terms.
type polynomialTransformer struct {
	order     int
	forwardX  []float64 // coefficients mapping resource -> geo.X
	forwardY  []float64
	backwardX []float64 // coefficients mapping geo -> resource.X (fit independently)
	backwardY []float64
}

func (t *polynomialTransformer) Kind() TransformationKind { return KindPolynomial }

func (t *polynomialTransformer) ToGeo(p geom.Point) geom.Point {
	terms := polyTerms(t.order, p[0], p[1])
	return geom.Point{dot(t.forwardX, terms), dot(t.forwardY, terms)}
}

func (t *polynomialTransformer) ToResource(p geom.Point) geom.Point {
	terms := polyTerms(t.order, p[0], p[1])
	return geom.Point{dot(t.backwardX, terms), dot(t.backwardY, terms)}
}

// polyTerms returns the monomial basis [1, x, y, x^2, xy, y^2, x^3, ...]
// up to the given order, evaluated at (x, y).
func polyTerms(order int, x, y float64) []float64 {
	switch order {
	case 2:
		return []float64{1, x, y, x * x, x * y, y * y}
	case 3:
		return []float64{1, x, y, x * x, x * y, y * y, x * x * x, x * x * y, x * y * y, y * y * y}
	default:
		return []float64{1, x, y}
	}
}

func dot(coeffs, terms []float64) float64 {
	var sum float64
	for i, c := range coeffs {
		sum += c * terms[i]
	}
	return sum
}

func fitPolynomial(gcps []GroundControlPoint, order int) (Transformer, error) {
	if order != 2 && order != 3 {
		order = 1
	}
	numTerms := len(polyTerms(order, 0, 0))
	if len(gcps) < numTerms {
		return nil, ErrTooFewPoints
	}

	fwdX, err := leastSquaresFit(gcps, order, true, true)
	if err != nil {
		return nil, err
	}
	fwdY, err := leastSquaresFit(gcps, order, true, false)
	if err != nil {
		return nil, err
	}
	bwdX, err := leastSquaresFit(gcps, order, false, true)
	if err != nil {
		return nil, err
	}
	bwdY, err := leastSquaresFit(gcps, order, false, false)
	if err != nil {
		return nil, err
	}

	return &polynomialTransformer{
		order:     order,
		forwardX:  fwdX,
		forwardY:  fwdY,
		backwardX: bwdX,
		backwardY: bwdY,
	}, nil
}

// leastSquaresFit solves A*c = b for c in the least-squares sense, where
// each row of A is the monomial basis evaluated at a control point's
// input coordinate pair and b is the corresponding output coordinate.
// forward selects resource->geo (true) or geo->resource (false); xAxis
// selects which output axis (X or Y) is being solved for.
func leastSquaresFit(gcps []GroundControlPoint, order int, forward, xAxis bool) ([]float64, error) {
	n := len(gcps)
	numTerms := len(polyTerms(order, 0, 0))

	a := mat.NewDense(n, numTerms, nil)
	b := mat.NewVecDense(n, nil)

	for i, g := range gcps {
		var inX, inY, out float64
		if forward {
			inX, inY = g.Resource[0], g.Resource[1]
			if xAxis {
				out = g.Geo[0]
			} else {
				out = g.Geo[1]
			}
		} else {
			inX, inY = g.Geo[0], g.Geo[1]
			if xAxis {
				out = g.Resource[0]
			} else {
				out = g.Resource[1]
			}
		}
		terms := polyTerms(order, inX, inY)
		for j, term := range terms {
			a.Set(i, j, term)
		}
		b.SetVec(i, out)
	}

	var c mat.VecDense
	if err := c.SolveVec(a, b); err != nil {
		return nil, ErrDegenerate
	}

	coeffs := make([]float64, numTerms)
	for i := range coeffs {
		coeffs[i] = c.AtVec(i)
	}
	return coeffs, nil
}
