package viewport

import (
	"errors"
	"math"

	"github.com/allmaps-go/warp/internal/geom"
	"github.com/allmaps-go/warp/internal/maplist"
)

// ErrEmptyInput is returned by the From* factories when given no maps
// (or an empty mapIds selection resolving to zero Ready maps) and no
// fallback bound to fit instead.
var ErrEmptyInput = errors.New("viewport: no maps or polygon to fit")

// Fit selects how a Viewport's resolution is chosen relative to the
// bound or polygon it is fit to: Contain fits the whole shape inside
// the viewport (possibly letterboxing), Cover fills the viewport
// entirely (possibly cropping the shape).
type Fit int

const (
	FitContain Fit = iota
	FitCover
)

// resolutionForFit returns the resolution (projectedGeo units per
// canvas pixel) that satisfies fit for a span of (spanX, spanY) inside a
// (width, height) canvas: Contain takes the larger of the two axis
// resolutions (the binding constraint is whichever axis would otherwise
// overflow), Cover takes the smaller (the binding constraint is
// whichever axis would otherwise underflow and leave a gap).
func resolutionForFit(spanX, spanY, width, height float64, fit Fit) float64 {
	var resX, resY float64
	if width > 0 {
		resX = spanX / width
	}
	if height > 0 {
		resY = spanY / height
	}
	var resolution float64
	if fit == FitCover {
		resolution = math.Min(resX, resY)
	} else {
		resolution = math.Max(resX, resY)
	}
	if resolution <= 0 {
		resolution = 1
	}
	return resolution
}

// buildViewport constructs a Viewport centered on bound's center, with
// rotation and dpr applied, at the resolution resolutionForFit computes
// for fit, then scaled by zoom (zoom > 1 zooms in, shrinking the
// effective resolution).
func buildViewport(bound geom.Bound, width, height, rotation, dpr, zoom float64, fit Fit) Viewport {
	cx := (bound.Min[0] + bound.Max[0]) / 2
	cy := (bound.Min[1] + bound.Max[1]) / 2
	spanX := bound.Max[0] - bound.Min[0]
	spanY := bound.Max[1] - bound.Min[1]

	resolution := resolutionForFit(spanX, spanY, width, height, fit)
	if zoom > 0 {
		resolution /= zoom
	}

	v := New(cx, cy, resolution, width, height)
	v.Rotation = rotation
	if dpr > 0 {
		v.DevicePixelRatio = dpr
	}
	return v
}

// FromSizeAndPolygon returns a Viewport of the given canvas size, fit to
// polygon (in projectedGeo space) per fit, rotated by rotation radians,
// at device pixel ratio dpr and zoom factor zoom (1 = no extra zoom).
func FromSizeAndPolygon(width, height float64, polygon geom.Ring, fit Fit, rotation, dpr, zoom float64) (Viewport, error) {
	if len(polygon) == 0 {
		return Viewport{}, ErrEmptyInput
	}
	return buildViewport(geom.BoundOfRing(polygon), width, height, rotation, dpr, zoom, fit), nil
}

// FromSizeAndMaps returns a Viewport of the given canvas size, fit to
// the union of the given maps' (or every Ready map's, if mapIDs is
// empty) projected masks.
func FromSizeAndMaps(width, height float64, list *maplist.WarpedMapList, mapIDs []string, fit Fit, rotation, dpr, zoom float64) (Viewport, error) {
	hull := list.ConvexHull(mapIDs)
	if len(hull) == 0 {
		return Viewport{}, ErrEmptyInput
	}
	return buildViewport(geom.BoundOfRing(hull), width, height, rotation, dpr, zoom, fit), nil
}

// FromScaleAndPolygon returns a Viewport at a fixed resolution
// (projectedGeo units per canvas pixel) rather than a canvas size,
// centered on polygon's bound; fit only affects which canvas size is
// derived to match that resolution and does not change the resolution
// itself. width and height give the canvas's aspect ratio; resolution
// is applied to the axis fit selects as binding.
func FromScaleAndPolygon(resolution float64, aspectWidth, aspectHeight float64, polygon geom.Ring, fit Fit, rotation, dpr float64) (Viewport, error) {
	if len(polygon) == 0 {
		return Viewport{}, ErrEmptyInput
	}
	return scaleViewport(geom.BoundOfRing(polygon), resolution, aspectWidth, aspectHeight, rotation, dpr, fit), nil
}

// FromScaleAndMaps is FromScaleAndPolygon fit to a WarpedMapList's maps
// instead of an explicit polygon.
func FromScaleAndMaps(resolution float64, aspectWidth, aspectHeight float64, list *maplist.WarpedMapList, mapIDs []string, fit Fit, rotation, dpr float64) (Viewport, error) {
	hull := list.ConvexHull(mapIDs)
	if len(hull) == 0 {
		return Viewport{}, ErrEmptyInput
	}
	return scaleViewport(geom.BoundOfRing(hull), resolution, aspectWidth, aspectHeight, rotation, dpr, fit), nil
}

// scaleViewport sizes a canvas of the given aspect ratio so that, at a
// fixed resolution, bound is exactly contained or covered per fit.
func scaleViewport(bound geom.Bound, resolution, aspectWidth, aspectHeight, rotation, dpr float64, fit Fit) Viewport {
	spanX := bound.Max[0] - bound.Min[0]
	spanY := bound.Max[1] - bound.Min[1]
	if resolution <= 0 {
		resolution = 1
	}

	aspect := 1.0
	if aspectHeight > 0 {
		aspect = aspectWidth / aspectHeight
	}

	neededWidth := spanX / resolution
	neededHeight := spanY / resolution

	// Candidate A pins width to the span exactly; candidate B pins
	// height. Exactly one of the two has both dimensions >= needed (the
	// contain fit, which encloses the whole bound) while the other has
	// both <= needed (the cover fit, enclosed by the bound).
	width, height := neededWidth, neededWidth/aspect
	switch {
	case fit == FitContain && height < neededHeight:
		height = neededHeight
		width = height * aspect
	case fit == FitCover && height > neededHeight:
		height = neededHeight
		width = height * aspect
	}

	cx := (bound.Min[0] + bound.Max[0]) / 2
	cy := (bound.Min[1] + bound.Max[1]) / 2

	v := New(cx, cy, resolution, width, height)
	v.Rotation = rotation
	if dpr > 0 {
		v.DevicePixelRatio = dpr
	}
	return v
}
