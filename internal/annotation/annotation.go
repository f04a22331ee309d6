// Package annotation decodes the georeference annotation shape the
// renderer consumes and checks the few fields the core relies on (a
// non-empty mapId and resourceId, and enough ground control points for
// the transformation kind). Rejecting a mapId already present in a
// WarpedMapList is done by maplist.Add, not by this package.
package annotation

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/allmaps-go/warp/internal/gcp"
	"github.com/allmaps-go/warp/internal/geom"
)

// ErrMissingField is returned when a required annotation field is absent
// or empty.
var ErrMissingField = errors.New("annotation: missing required field")

// Annotation is the subset of a IIIF/Web Annotation georeference record
// this engine consumes: a resource image, its ground control points, an
// optional resource mask, and the transformation kind to fit.
type Annotation struct {
	MapID              string                     `json:"id"`
	ResourceID         string                     `json:"resourceId"`
	ImageService       string                     `json:"imageService"`
	ResourceWidth      int                        `json:"resourceWidth"`
	ResourceHeight     int                        `json:"resourceHeight"`
	GroundControlPoints []GroundControlPointJSON  `json:"gcps"`
	ResourceMask       []PointJSON                `json:"resourceMask"`
	TransformationKind gcp.TransformationKind     `json:"transformation"`
	PolynomialOrder    int                        `json:"polynomialOrder,omitempty"`
}

// PointJSON is a [x, y] pair as it appears in annotation JSON.
type PointJSON [2]float64

// GroundControlPointJSON pairs a resource pixel with a geographic
// coordinate, as it appears in annotation JSON.
type GroundControlPointJSON struct {
	ID       string    `json:"id"`
	Resource PointJSON `json:"resource"`
	Geo      PointJSON `json:"geo"`
}

// Decode parses an annotation JSON document.
func Decode(data []byte) (*Annotation, error) {
	var a Annotation
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("annotation: decode: %w", err)
	}
	if err := a.Validate(); err != nil {
		return nil, err
	}
	return &a, nil
}

// Validate checks the structural invariants every annotation must
// satisfy before a WarpedMap can be built from it: a non-empty mapId and
// resource identity, and at least the minimum number of ground control
// points its transformation kind requires.
func (a *Annotation) Validate() error {
	if a.MapID == "" {
		return fmt.Errorf("%w: id", ErrMissingField)
	}
	if a.ResourceID == "" {
		return fmt.Errorf("%w: resourceId", ErrMissingField)
	}
	if len(a.GroundControlPoints) < gcp.MinPoints(a.TransformationKind, a.PolynomialOrder) {
		return fmt.Errorf("annotation %q: %w: at least %d ground control points required for %s",
			a.MapID, ErrMissingField, gcp.MinPoints(a.TransformationKind, a.PolynomialOrder), a.TransformationKind)
	}
	return nil
}

// GCPs converts the annotation's JSON ground control points into
// internal/gcp values.
func (a *Annotation) GCPs() []gcp.GroundControlPoint {
	out := make([]gcp.GroundControlPoint, len(a.GroundControlPoints))
	for i, g := range a.GroundControlPoints {
		out[i] = gcp.GroundControlPoint{
			ID:       g.ID,
			Resource: geom.Point{g.Resource[0], g.Resource[1]},
			Geo:      geom.Point{g.Geo[0], g.Geo[1]},
		}
	}
	return out
}

// Mask converts the annotation's resource mask into a geom.Ring. If no
// mask was specified, the full resource rectangle is used as the
// default mask.
func (a *Annotation) Mask() geom.Ring {
	if len(a.ResourceMask) == 0 {
		w, h := float64(a.ResourceWidth), float64(a.ResourceHeight)
		return geom.Ring{{0, 0}, {w, 0}, {w, h}, {0, h}}
	}
	ring := make(geom.Ring, len(a.ResourceMask))
	for i, p := range a.ResourceMask {
		ring[i] = geom.Point{p[0], p[1]}
	}
	return ring
}
