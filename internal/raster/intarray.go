package raster

import (
	"image"
	"image/color"
	"math"

	"github.com/allmaps-go/warp/internal/geom"
	"github.com/allmaps-go/warp/internal/warpedmap"
)

// IntArrayRasterizer draws a WarpedMap into a Canvas by walking every
// destination pixel inside a region, inverse-transforming it back to
// resource space via WarpedMap.ProjectedGeoToResource, and bilinearly
// sampling the tile that covers the resulting resource pixel. Tiles come
// from an arbitrary TileSource; the transform is the map's own
// ProjectedGeo<->Resource transform.
type IntArrayRasterizer struct {
	ScaleFactor int
}

// NewIntArrayRasterizer builds a rasterizer that samples tiles at the
// given IIIF pyramid scaleFactor (see internal/tilegrid.SelectLevel).
func NewIntArrayRasterizer(scaleFactor int) *IntArrayRasterizer {
	if scaleFactor <= 0 {
		scaleFactor = 1
	}
	return &IntArrayRasterizer{ScaleFactor: scaleFactor}
}

// Draw renders w into canvas, restricted to region. toCanvas maps a
// projectedGeo point to a canvas pixel coordinate — a renderer builds it
// by composing viewport.Viewport.ProjectedGeoToViewport() with
// ViewportToCanvas(). Pixels whose inverse-transformed resource
// coordinate falls outside every tile the TileSource can resolve are
// left untouched (transparent).
func (r *IntArrayRasterizer) Draw(w *warpedmap.WarpedMap, src TileSource, toCanvas geom.Affine, canvas *Canvas, region image.Rectangle) {
	inv, ok := toCanvas.Invert()
	if !ok {
		return
	}
	opacity := w.Effects().Opacity
	if opacity <= 0 {
		return
	}
	bounds := canvas.Bounds().Intersect(region)
	for py := bounds.Min.Y; py < bounds.Max.Y; py++ {
		for px := bounds.Min.X; px < bounds.Max.X; px++ {
			canvasPt := geom.Point{float64(px) + 0.5, float64(py) + 0.5}
			projPt := inv.Apply(canvasPt)
			resourcePt := w.ProjectedGeoToResource(projPt)

			tile, ok := src.TileAt(r.ScaleFactor, resourcePt[0], resourcePt[1])
			if !ok {
				continue
			}
			c, ok := bilinearSample(tile, resourcePt[0], resourcePt[1])
			if !ok {
				continue
			}
			dst := canvas.Img.RGBAAt(px, py)
			canvas.Img.SetRGBA(px, py, blendOver(dst, c, opacity))
		}
	}
}

// blendOver composites src over dst using straight (non-premultiplied)
// alpha "source-over" compositing, scaling src's own alpha by opacity
// first. Maps drawn back-to-front into the same canvas accumulate this
// way rather than overwriting each other where their masks overlap.
func blendOver(dst, src color.RGBA, opacity float64) color.RGBA {
	srcA := float64(src.A) / 255 * opacity
	dstA := float64(dst.A) / 255
	outA := srcA + dstA*(1-srcA)
	if outA <= 0 {
		return color.RGBA{}
	}
	mix := func(s, d uint8) uint8 {
		v := (float64(s)*srcA + float64(d)*dstA*(1-srcA)) / outA
		if v < 0 {
			v = 0
		}
		if v > 255 {
			v = 255
		}
		return uint8(v)
	}
	return color.RGBA{
		R: mix(src.R, dst.R),
		G: mix(src.G, dst.G),
		B: mix(src.B, dst.B),
		A: uint8(outA * 255),
	}
}

// bilinearSample interpolates the pixel at (resourceX, resourceY),
// expressed in full-resolution resource-pixel coordinates, from tile's
// (possibly downsampled) image data.
func bilinearSample(tile Tile, resourceX, resourceY float64) (color.RGBA, bool) {
	sf := float64(tile.ScaleFactor)
	if sf <= 0 {
		sf = 1
	}
	localX := (resourceX - float64(tile.RegionX)) / sf
	localY := (resourceY - float64(tile.RegionY)) / sf

	bounds := tile.Img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w == 0 || h == 0 {
		return color.RGBA{}, false
	}
	if localX < -1 || localY < -1 || localX > float64(w) || localY > float64(h) {
		return color.RGBA{}, false
	}

	x0 := int(math.Floor(localX))
	y0 := int(math.Floor(localY))
	dx := localX - float64(x0)
	dy := localY - float64(y0)
	x1 := x0 + 1
	y1 := y0 + 1

	x0 = clampInt(x0, 0, w-1)
	x1 = clampInt(x1, 0, w-1)
	y0 = clampInt(y0, 0, h-1)
	y1 = clampInt(y1, 0, h-1)

	p00 := rgbaAt(tile.Img, bounds, x0, y0)
	p10 := rgbaAt(tile.Img, bounds, x1, y0)
	p01 := rgbaAt(tile.Img, bounds, x0, y1)
	p11 := rgbaAt(tile.Img, bounds, x1, y1)

	mix := func(v00, v10, v01, v11 uint8) uint8 {
		top := lerp(float64(v00), float64(v10), dx)
		bot := lerp(float64(v01), float64(v11), dx)
		v := lerp(top, bot, dy)
		if v < 0 {
			v = 0
		}
		if v > 255 {
			v = 255
		}
		return uint8(v)
	}
	return color.RGBA{
		R: mix(p00.R, p10.R, p01.R, p11.R),
		G: mix(p00.G, p10.G, p01.G, p11.G),
		B: mix(p00.B, p10.B, p01.B, p11.B),
		A: mix(p00.A, p10.A, p01.A, p11.A),
	}, true
}

func lerp(a, b, t float64) float64 { return a*(1-t) + b*t }

func rgbaAt(img image.Image, bounds image.Rectangle, x, y int) color.RGBA {
	r, g, b, a := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
	return color.RGBA{R: uint8(r >> 8), G: uint8(g >> 8), B: uint8(b >> 8), A: uint8(a >> 8)}
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
