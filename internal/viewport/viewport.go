// Package viewport implements the immutable Viewport value and the
// transform cascade (projectedGeo -> viewport -> canvas -> clip) the
// renderer composes every frame. Screen<->geo conversion and
// zoom-at-cursor-point math are expressed as an explicit affine-matrix
// cascade so any projection, not just Web Mercator tiles, can drive it.
package viewport

import (
	"math"

	"github.com/allmaps-go/warp/internal/geom"
)

// Viewport is an immutable snapshot of what portion of the projectedGeo
// plane is visible, at what device resolution. A renderer treats each
// instance as a value: changing the view (pan/zoom/resize) produces a
// new Viewport rather than mutating one in place, so in-flight work can
// hold a stable Viewport reference throughout a draw.
type Viewport struct {
	// CenterX, CenterY is the projectedGeo coordinate at the viewport's center.
	CenterX, CenterY float64
	// Rotation is the clockwise rotation of the view, in radians.
	Rotation float64
	// Resolution is projectedGeo units per canvas pixel (smaller = more zoomed in).
	Resolution float64
	// Width, Height are the canvas size in CSS pixels.
	Width, Height float64
	// DevicePixelRatio scales canvas pixels to physical device pixels.
	DevicePixelRatio float64
}

// New returns a Viewport, defaulting DevicePixelRatio to 1 if unset.
func New(centerX, centerY, resolution, width, height float64) Viewport {
	return Viewport{
		CenterX: centerX, CenterY: centerY,
		Resolution: resolution, Width: width, Height: height,
		DevicePixelRatio: 1,
	}
}

// FitBound returns a Viewport centered on bound, at the resolution that
// fits it entirely within width x height (the larger of the two axis
// resolutions, so the whole bound is visible with letterboxing on one
// axis if its aspect ratio does not match the viewport's).
func FitBound(bound geom.Bound, width, height float64) Viewport {
	cx := (bound.Min[0] + bound.Max[0]) / 2
	cy := (bound.Min[1] + bound.Max[1]) / 2
	spanX := bound.Max[0] - bound.Min[0]
	spanY := bound.Max[1] - bound.Min[1]

	var resX, resY float64
	if width > 0 {
		resX = spanX / width
	}
	if height > 0 {
		resY = spanY / height
	}
	resolution := math.Max(resX, resY)
	if resolution <= 0 {
		resolution = 1
	}
	return New(cx, cy, resolution, width, height)
}

// ProjectedGeoToViewport returns the affine transform mapping
// projectedGeo coordinates to viewport coordinates (origin at the
// viewport's top-left, y-down, in CSS pixels).
func (v Viewport) ProjectedGeoToViewport() geom.Affine {
	toOrigin := geom.Translate(-v.CenterX, -v.CenterY)
	rotate := geom.Rotate(-v.Rotation)
	scale := geom.Scale(1/v.Resolution, -1/v.Resolution) // y flips: geo-up to screen-down
	toCenter := geom.Translate(v.Width/2, v.Height/2)
	return toCenter.Compose(scale).Compose(rotate).Compose(toOrigin)
}

// ViewportToProjectedGeo is the inverse of ProjectedGeoToViewport.
func (v Viewport) ViewportToProjectedGeo() geom.Affine {
	inv, ok := v.ProjectedGeoToViewport().Invert()
	if !ok {
		return geom.Identity()
	}
	return inv
}

// ViewportToCanvas returns the affine transform mapping viewport
// (CSS-pixel) coordinates to canvas (device-pixel) coordinates.
func (v Viewport) ViewportToCanvas() geom.Affine {
	dpr := v.DevicePixelRatio
	if dpr == 0 {
		dpr = 1
	}
	return geom.Scale(dpr, dpr)
}

// CanvasToClip returns the affine transform mapping canvas device-pixel
// coordinates to WebGL-style clip space ([-1, 1] on both axes, y-up),
// the transform the GPU-like rasterizer's vertex data is expressed in.
func (v Viewport) CanvasToClip() geom.Affine {
	dpr := v.DevicePixelRatio
	if dpr == 0 {
		dpr = 1
	}
	canvasW := v.Width * dpr
	canvasH := v.Height * dpr
	if canvasW == 0 || canvasH == 0 {
		return geom.Identity()
	}
	scale := geom.Scale(2/canvasW, -2/canvasH)
	toOrigin := geom.Translate(-canvasW/2, -canvasH/2)
	return scale.Compose(toOrigin)
}

// ProjectedGeoToClip composes the full forward cascade, the transform
// the GPU-like rasterizer applies to every mask-triangle vertex.
func (v Viewport) ProjectedGeoToClip() geom.Affine {
	return v.CanvasToClip().Compose(v.ViewportToCanvas()).Compose(v.ProjectedGeoToViewport())
}

// Bound returns the projectedGeo-space bound the viewport currently shows.
func (v Viewport) Bound() geom.Bound {
	inv := v.ViewportToProjectedGeo()
	corners := []geom.Point{
		inv.Apply(geom.Point{0, 0}),
		inv.Apply(geom.Point{v.Width, 0}),
		inv.Apply(geom.Point{v.Width, v.Height}),
		inv.Apply(geom.Point{0, v.Height}),
	}
	b := geom.Bound{Min: geom.Point{math.Inf(1), math.Inf(1)}, Max: geom.Point{math.Inf(-1), math.Inf(-1)}}
	for _, c := range corners {
		b = b.Extend(c)
	}
	return b
}

// ZoomAtPoint returns a new Viewport zoomed by factor (resolution
// multiplied by factor; factor < 1 zooms in) while keeping the
// projectedGeo point currently under viewportPoint fixed on screen.
func (v Viewport) ZoomAtPoint(factor float64, viewportPoint geom.Point) Viewport {
	before := v.ViewportToProjectedGeo().Apply(viewportPoint)

	zoomed := v
	zoomed.Resolution *= factor

	after := zoomed.ViewportToProjectedGeo().Apply(viewportPoint)
	zoomed.CenterX += before[0] - after[0]
	zoomed.CenterY += before[1] - after[1]
	return zoomed
}

// Pan returns a new Viewport translated by (dx, dy) viewport pixels.
func (v Viewport) Pan(dx, dy float64) Viewport {
	delta := geom.Point{dx * v.Resolution, -dy * v.Resolution}
	rotated := geom.Rotate(v.Rotation).Apply(delta)
	out := v
	out.CenterX += rotated[0]
	out.CenterY += rotated[1]
	return out
}

// Resized returns a new Viewport with the canvas size changed, keeping
// the center and resolution fixed.
func (v Viewport) Resized(width, height float64) Viewport {
	out := v
	out.Width = width
	out.Height = height
	return out
}
