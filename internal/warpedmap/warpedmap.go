// Package warpedmap implements the WarpedMap entity: the per-annotation
// state a renderer needs to place one georeferenced image onto the
// shared projectedGeo plane — its fitted transformer, projected ground
// control points, triangulated resource mask, and lifecycle state.
package warpedmap

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/allmaps-go/warp/internal/annotation"
	"github.com/allmaps-go/warp/internal/coord"
	"github.com/allmaps-go/warp/internal/events"
	"github.com/allmaps-go/warp/internal/gcp"
	"github.com/allmaps-go/warp/internal/geom"
)

// State is a WarpedMap's lifecycle stage. A map starts Pending (its
// annotation is known but the remote image-info has not been fetched),
// moves to Ready once image-info arrives and its transformer/mask are
// built, or to Error if either the fetch or the fit failed. A Ready map
// that has its mask or transformer replaced passes through Changing
// while the new fit runs, then returns to Ready with TransitionProgress
// counting up from 0 so a rasterizer can cross-fade between the two
// triangulations. Ready and Changing are the states in which a renderer
// will select and draw the map.
type State string

const (
	StatePending  State = "pending"
	StateReady    State = "ready"
	StateChanging State = "changing"
	StateError    State = "error"
)

// DefaultMaxMaskEdgeLength bounds the resource-pixel length of any mask
// polygon edge before triangulation; longer edges are subdivided so the
// triangulation has enough vertices to follow a non-affine transformer's
// curvature rather than producing a handful of coarse, badly distorted
// triangles.
const DefaultMaxMaskEdgeLength = 64.0

// TransitionDuration is how long a cross-fade between a map's previous
// and current triangulation runs after SetResourceMask, SetGCPs, or
// SetTransformationKind replaces the fit.
const TransitionDuration = 200 * time.Millisecond

// ImageInfo is the subset of a IIIF image service's info.json the
// engine needs: pixel dimensions and the scaleFactors/tile size its
// tile pyramid exposes. Fetching this document is an external
// collaborator's job; WarpedMap only consumes the result.
type ImageInfo struct {
	Width, Height int
	TileWidth     int
	TileHeight    int
	ScaleFactors  []int
}

// WarpedMap is one georeferenced image placed on the shared projectedGeo
// plane. Its fitted geometry changes only through SetImageInfo,
// SetResourceMask, SetGCPs and SetTransformationKind; Visible, ZIndex and
// Effects can be changed at any time without disturbing it.
type WarpedMap struct {
	mu sync.RWMutex

	mapID      string
	annotation *annotation.Annotation
	imageInfo  *ImageInfo
	projection coord.Projection

	state State
	err   error

	transformer    gcp.Transformer
	resourceMask   geom.Ring
	maskPoints     geom.Ring // densified mask vertices; maskTriangles indexes into this
	projectedMask  geom.Ring // maskPoints projected into projectedGeo space, 1:1 with maskPoints
	maskTriangles  []geom.Triangle
	distortion     []float64 // per-vertex log|det J|, aligned with maskPoints
	projectedGCPs  []geom.Point // Geo coordinates of each GCP, in projectedGeo units
	projectedBound geom.Bound
	effects        Effects

	// previous* hold the prior fit's triangulation while transitioning is
	// true, so a rasterizer can cross-fade between the two.
	previousMaskPoints    geom.Ring
	previousProjectedMask geom.Ring
	previousMaskTriangles []geom.Triangle
	transitioning         bool
	transitionStart       time.Time

	zIndex  int
	visible bool

	dispatcher *events.Dispatcher
}

// New builds a Pending WarpedMap from a decoded annotation. projection
// converts the annotation's WGS84 ground control points into the shared
// projectedGeo CRS (typically Web Mercator); pass coord.ForEPSG(3857) for
// the common case.
func New(a *annotation.Annotation, projection coord.Projection, zIndex int) *WarpedMap {
	return &WarpedMap{
		mapID:      a.MapID,
		annotation: a,
		projection: projection,
		state:      StatePending,
		zIndex:     zIndex,
		visible:    true,
		effects:    DefaultEffects(),
		dispatcher: events.NewDispatcher(),
	}
}

// MapID returns the map's stable identifier, used as WarpedMapList's
// primary key.
func (w *WarpedMap) MapID() string { return w.mapID }

// State returns the map's current lifecycle state.
func (w *WarpedMap) State() State {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state
}

// Err returns the error that moved the map to StateError, or nil.
func (w *WarpedMap) Err() error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.err
}

// Visible reports whether the renderer should consider this map for
// selection and drawing.
func (w *WarpedMap) Visible() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.visible
}

// SetVisible toggles whether the renderer considers this map. It does
// not change the map's lifecycle State.
func (w *WarpedMap) SetVisible(v bool) {
	w.mu.Lock()
	w.visible = v
	w.mu.Unlock()
}

// ZIndex returns the map's draw order among a WarpedMapList's maps.
func (w *WarpedMap) ZIndex() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.zIndex
}

// SetZIndex updates the map's draw order.
func (w *WarpedMap) SetZIndex(z int) {
	w.mu.Lock()
	w.zIndex = z
	w.mu.Unlock()
}

// Dispatcher returns the map's own event registry: SetResourceMask
// publishes resourcemaskupdated on it, and SetGCPs and
// SetTransformationKind publish transformationchanged.
func (w *WarpedMap) Dispatcher() *events.Dispatcher { return w.dispatcher }

// SetImageInfo supplies the fetched image-info document, fitting the
// map's transformer and triangulating its resource mask. This is the
// Pending -> Ready transition; any failure moves the map to StateError
// instead and is returned to the caller.
func (w *WarpedMap) SetImageInfo(info *ImageInfo) error {
	w.mu.Lock()
	w.imageInfo = info
	w.mu.Unlock()
	if err := w.fit(); err != nil {
		w.fail(fmt.Errorf("warpedmap %q: %w", w.mapID, err))
		return w.Err()
	}
	return nil
}

// SetResourceMask replaces the annotation's resource mask, re-runs
// triangulation and projection, and publishes ResourceMaskUpdated. The
// map must already be Ready or Changing; the previous triangulation is
// kept for a TransitionDuration cross-fade.
func (w *WarpedMap) SetResourceMask(mask geom.Ring) error {
	w.mu.Lock()
	if w.state != StateReady && w.state != StateChanging {
		w.mu.Unlock()
		return fmt.Errorf("warpedmap %q: SetResourceMask before ready", w.mapID)
	}
	w.annotation.ResourceMask = make([]annotation.PointJSON, len(mask))
	for i, p := range mask {
		w.annotation.ResourceMask[i] = annotation.PointJSON{p[0], p[1]}
	}
	w.mu.Unlock()

	if err := w.fit(); err != nil {
		w.fail(fmt.Errorf("warpedmap %q: %w", w.mapID, err))
		return w.Err()
	}
	w.dispatcher.Publish(context.Background(), events.Event{Kind: events.KindResourceMaskUpdated, Data: w.mapID})
	return nil
}

// SetGCPs replaces the map's ground control points, refits the
// transformer, and publishes TransformationChanged.
func (w *WarpedMap) SetGCPs(gcps []gcp.GroundControlPoint) error {
	w.mu.Lock()
	if w.state != StateReady && w.state != StateChanging {
		w.mu.Unlock()
		return fmt.Errorf("warpedmap %q: SetGCPs before ready", w.mapID)
	}
	points := make([]annotation.GroundControlPointJSON, len(gcps))
	for i, g := range gcps {
		points[i] = annotation.GroundControlPointJSON{
			ID:       g.ID,
			Resource: annotation.PointJSON{g.Resource[0], g.Resource[1]},
			Geo:      annotation.PointJSON{g.Geo[0], g.Geo[1]},
		}
	}
	w.annotation.GroundControlPoints = points
	w.mu.Unlock()

	if err := w.fit(); err != nil {
		w.fail(fmt.Errorf("warpedmap %q: %w", w.mapID, err))
		return w.Err()
	}
	w.dispatcher.Publish(context.Background(), events.Event{Kind: events.KindTransformationChanged, Data: w.mapID})
	return nil
}

// SetTransformationKind changes which transformer kind is fitted and
// refits it, publishing TransformationChanged. polynomialOrder is only
// used when kind is gcp.KindPolynomial.
func (w *WarpedMap) SetTransformationKind(kind gcp.TransformationKind, polynomialOrder int) error {
	w.mu.Lock()
	if w.state != StateReady && w.state != StateChanging {
		w.mu.Unlock()
		return fmt.Errorf("warpedmap %q: SetTransformationKind before ready", w.mapID)
	}
	w.annotation.TransformationKind = kind
	w.annotation.PolynomialOrder = polynomialOrder
	w.mu.Unlock()

	if err := w.fit(); err != nil {
		w.fail(fmt.Errorf("warpedmap %q: %w", w.mapID, err))
		return w.Err()
	}
	w.dispatcher.Publish(context.Background(), events.Event{Kind: events.KindTransformationChanged, Data: w.mapID})
	return nil
}

// fit fits the transformer from the annotation's current GCPs/kind,
// triangulates the current mask, and projects both into projectedGeo
// space, shared by SetImageInfo and the three mutators above so the
// pipeline is written once. A pre-existing Ready fit is preserved as
// "previous" for the cross-fade transition window.
func (w *WarpedMap) fit() error {
	w.mu.RLock()
	wasReady := w.state == StateReady || w.state == StateChanging
	w.mu.RUnlock()
	if wasReady {
		w.mu.Lock()
		w.state = StateChanging
		w.mu.Unlock()
	}

	transformer, err := gcp.Fit(w.annotation.TransformationKind, w.annotation.GCPs(), w.annotation.PolynomialOrder)
	if err != nil {
		return fmt.Errorf("fit transformer: %w", err)
	}

	resourceMask := w.annotation.Mask()
	maskPoints, triangles, err := geom.TriangulateMask(resourceMask, DefaultMaxMaskEdgeLength)
	if err != nil {
		return fmt.Errorf("triangulate mask: %w", err)
	}

	projectedMask := make(geom.Ring, len(maskPoints))
	bound := geom.Bound{Min: geom.Point{1e18, 1e18}, Max: geom.Point{-1e18, -1e18}}
	distortion := make([]float64, len(maskPoints))
	const h = 1.0
	for i, p := range maskPoints {
		geoPt := transformer.ToGeo(p)
		x, y := geoPt[0], geoPt[1]
		if w.projection != nil {
			x, y = w.projection.FromWGS84(geoPt[0], geoPt[1])
		}
		pt := geom.Point{x, y}
		projectedMask[i] = pt
		bound = bound.Extend(pt)

		dx := transformer.ToGeo(geom.Point{p[0] + h, p[1]})
		dy := transformer.ToGeo(geom.Point{p[0], p[1] + h})
		j := (dx[0]-geoPt[0])*(dy[1]-geoPt[1]) - (dx[1]-geoPt[1])*(dy[0]-geoPt[0])
		j /= h * h
		if j != 0 {
			distortion[i] = math.Log(math.Abs(j))
		}
	}

	projectedGCPs := make([]geom.Point, len(w.annotation.GroundControlPoints))
	for i, g := range w.annotation.GCPs() {
		x, y := g.Geo[0], g.Geo[1]
		if w.projection != nil {
			x, y = w.projection.FromWGS84(g.Geo[0], g.Geo[1])
		}
		projectedGCPs[i] = geom.Point{x, y}
	}

	w.mu.Lock()
	if wasReady {
		w.previousMaskPoints = w.maskPoints
		w.previousProjectedMask = w.projectedMask
		w.previousMaskTriangles = w.maskTriangles
		w.transitioning = true
		w.transitionStart = time.Now()
	} else {
		w.transitioning = false
	}
	w.transformer = transformer
	w.resourceMask = resourceMask
	w.maskPoints = maskPoints
	w.maskTriangles = triangles
	w.distortion = distortion
	w.projectedMask = projectedMask
	w.projectedGCPs = projectedGCPs
	w.projectedBound = bound
	w.state = StateReady
	w.mu.Unlock()
	return nil
}

func (w *WarpedMap) fail(err error) {
	w.mu.Lock()
	w.state = StateError
	w.err = err
	w.mu.Unlock()
}

// TransitionProgress returns how far through the TransitionDuration
// cross-fade window the map's most recent mask/transformer change is, in
// [0, 1]. Returns 1 (no cross-fade in progress) if the map's triangulation
// has not changed since it first became Ready.
func (w *WarpedMap) TransitionProgress() float64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if !w.transitioning {
		return 1
	}
	t := float64(time.Since(w.transitionStart)) / float64(TransitionDuration)
	if t >= 1 {
		return 1
	}
	if t < 0 {
		return 0
	}
	return t
}

// PreviousMaskPoints returns the densified mask vertices from before the
// map's most recent mask/transformer change, for cross-fading.
func (w *WarpedMap) PreviousMaskPoints() geom.Ring {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.previousMaskPoints
}

// PreviousProjectedMask returns PreviousMaskPoints projected into
// projectedGeo space as of before the map's most recent change.
func (w *WarpedMap) PreviousProjectedMask() geom.Ring {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.previousProjectedMask
}

// PreviousMaskTriangles returns the triangulation from before the map's
// most recent mask/transformer change.
func (w *WarpedMap) PreviousMaskTriangles() []geom.Triangle {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.previousMaskTriangles
}

// MaskPoints returns the densified mask vertex set MaskTriangles indexes
// into, a superset of ResourceMask's vertices.
func (w *WarpedMap) MaskPoints() geom.Ring {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.maskPoints
}

// Distortion returns the per-vertex log|det J| distortion scalar of the
// forward (resource -> geo) transform, aligned 1:1 with MaskPoints.
func (w *WarpedMap) Distortion() []float64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.distortion
}

// Effects returns the map's current rendering uniforms.
func (w *WarpedMap) Effects() Effects {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.effects
}

// SetEffects replaces the map's rendering uniforms.
func (w *WarpedMap) SetEffects(e Effects) {
	w.mu.Lock()
	w.effects = e
	w.mu.Unlock()
}

// Transformer returns the fitted resource<->projectedGeo transformer.
// Only valid once State() == StateReady.
func (w *WarpedMap) Transformer() gcp.Transformer {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.transformer
}

// ResourceMask returns the resource-space mask ring.
func (w *WarpedMap) ResourceMask() geom.Ring {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.resourceMask
}

// ProjectedMask returns the mask ring transformed into projectedGeo space.
func (w *WarpedMap) ProjectedMask() geom.Ring {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.projectedMask
}

// MaskTriangles returns the Delaunay triangulation of the resource mask.
func (w *WarpedMap) MaskTriangles() []geom.Triangle {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.maskTriangles
}

// ProjectedBound returns the axis-aligned bound of the map's projected
// mask, the value WarpedMapList indexes in its spatial index.
func (w *WarpedMap) ProjectedBound() geom.Bound {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.projectedBound
}

// ImageInfo returns the map's image-info document, or nil if still Pending.
func (w *WarpedMap) ImageInfo() *ImageInfo {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.imageInfo
}

// Annotation returns the annotation this map was built from.
func (w *WarpedMap) Annotation() *annotation.Annotation {
	return w.annotation
}

// ResourceToProjectedGeo projects a single resource pixel to projectedGeo
// coordinates, composing the fitted transformer with the map's CRS
// projection. Returns the zero point if the map is not yet Ready.
func (w *WarpedMap) ResourceToProjectedGeo(p geom.Point) geom.Point {
	w.mu.RLock()
	transformer := w.transformer
	projection := w.projection
	w.mu.RUnlock()
	if transformer == nil {
		return geom.Point{}
	}
	geoPt := transformer.ToGeo(p)
	if projection == nil {
		return geoPt
	}
	x, y := projection.FromWGS84(geoPt[0], geoPt[1])
	return geom.Point{x, y}
}

// ProjectedGeoToResource is the inverse of ResourceToProjectedGeo, the
// operation the int-array rasterizer runs once per destination pixel.
func (w *WarpedMap) ProjectedGeoToResource(p geom.Point) geom.Point {
	w.mu.RLock()
	transformer := w.transformer
	projection := w.projection
	w.mu.RUnlock()
	if transformer == nil {
		return geom.Point{}
	}
	geoPt := p
	if projection != nil {
		lon, lat := projection.ToWGS84(p[0], p[1])
		geoPt = geom.Point{lon, lat}
	}
	return transformer.ToResource(geoPt)
}
