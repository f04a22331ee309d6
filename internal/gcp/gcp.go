// Package gcp fits and evaluates the transformation between a resource's
// pixel space and its projectedGeo space from a set of ground control
// points, as used by internal/warpedmap to build a WarpedMap's transformer.
package gcp

import (
	"errors"

	"github.com/allmaps-go/warp/internal/geom"
)

// ErrTooFewPoints is returned when a transformer kind requires more
// ground control points than were supplied.
var ErrTooFewPoints = errors.New("gcp: too few ground control points for this transformation kind")

// ErrDegenerate is returned when the supplied ground control points are
// collinear or otherwise numerically degenerate for the requested fit.
var ErrDegenerate = errors.New("gcp: ground control points are degenerate for this transformation kind")

// GroundControlPoint pairs a pixel location in resource space with its
// known geographic location, expressed in the annotation's source CRS
// before projection (see internal/warpedmap, which projects Geo into the
// map's shared projectedGeo CRS before fitting).
type GroundControlPoint struct {
	ID       string
	Resource geom.Point
	Geo      geom.Point
}

// TransformationKind selects which Transformer a WarpedMap fits from its
// ground control points.
type TransformationKind string

const (
	KindHelmert    TransformationKind = "helmert"
	KindPolynomial TransformationKind = "polynomial"
	KindProjective TransformationKind = "projective"
	KindThinPlate  TransformationKind = "thinPlateSpline"
)

// MinPoints returns the minimum number of ground control points a kind
// needs to produce a non-degenerate fit.
func MinPoints(kind TransformationKind, order int) int {
	switch kind {
	case KindHelmert:
		return 2
	case KindProjective:
		return 4
	case KindThinPlate:
		return 3
	case KindPolynomial:
		switch order {
		case 2:
			return 6
		case 3:
			return 10
		default:
			return 3
		}
	default:
		return 3
	}
}

// Transformer maps points between resource pixel space and projectedGeo
// space in both directions. Every implementation in this package is
// fitted once from a WarpedMap's ground control points and then reused
// for every pixel/vertex the rasterizers touch, so ToGeo/ToResource must
// be cheap — no further least-squares solving at call time.
type Transformer interface {
	// ToGeo maps a resource pixel coordinate to projectedGeo space.
	ToGeo(p geom.Point) geom.Point
	// ToResource maps a projectedGeo coordinate back to resource pixel space.
	ToResource(p geom.Point) geom.Point
	// Kind identifies which transformation this is, for distortion/error reporting.
	Kind() TransformationKind
}

// Fit builds a Transformer of the given kind from a set of ground control
// points. order is only consulted for KindPolynomial (1, 2, or 3).
func Fit(kind TransformationKind, gcps []GroundControlPoint, order int) (Transformer, error) {
	if len(gcps) < MinPoints(kind, order) {
		return nil, ErrTooFewPoints
	}
	switch kind {
	case KindHelmert:
		return fitHelmert(gcps)
	case KindProjective:
		return fitProjective(gcps)
	case KindThinPlate:
		return fitThinPlateSpline(gcps)
	case KindPolynomial:
		return fitPolynomial(gcps, order)
	default:
		return fitPolynomial(gcps, 1)
	}
}
