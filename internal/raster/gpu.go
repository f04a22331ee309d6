package raster

import (
	"context"
	"image"
	"image/draw"
	"sort"

	"github.com/allmaps-go/warp/internal/events"
	"github.com/allmaps-go/warp/internal/geom"
	"github.com/allmaps-go/warp/internal/warpedmap"
)

// Vertex is one triangle corner's data for a forward-projected draw
// call: its clip-space position and the normalized texture coordinate
// into the source resource image it samples.
type Vertex struct {
	ClipX, ClipY float64 // [-1, 1]
	U, V         float64 // [0, 1] into the resource image, top-left origin
}

// TriangleBatch is the vertex data for one WarpedMap's mask
// triangulation, forward-transformed into clip space — the payload a
// GPU-style renderer uploads as a vertex buffer and draws with a
// textured-triangle shader, instead of walking destination pixels.
// PrevVertices holds the same triangulation's previous-fit vertices
// whenever CrossFadeT < 1, so a shader can lerp between the two over
// the transition window instead of popping.
type TriangleBatch struct {
	MapID        string
	Vertices     []Vertex // len == 3 * len(triangles); consecutive triples are one triangle
	PrevVertices []Vertex
	ImageSize    [2]int // resource width, height — the texture atlas region's native size
	Effects      warpedmap.Effects
	CrossFadeT   float64 // 1 = fully Vertices; < 1 mid cross-fade from PrevVertices
}

// GPURasterizer forward-transforms each mask triangle's resource-space
// vertices through WarpedMap.ResourceToProjectedGeo and a
// projectedGeo-to-clip-space transform, producing a TriangleBatch
// instead of writing pixels directly — the structural counterpart of
// IntArrayRasterizer's per-pixel inverse transform. Each Batch call
// handles one map.
type GPURasterizer struct {
	// Dispatcher, if set, receives events.KindTexturesUpdated whenever
	// Atlas rebuilds the texture atlas.
	Dispatcher *events.Dispatcher
}

// NewGPURasterizer builds a GPURasterizer. It carries no required
// state: per-draw data lives in the TriangleBatch/TextureAtlas it
// returns.
func NewGPURasterizer() *GPURasterizer { return &GPURasterizer{} }

// Batch builds the TriangleBatch for w. toClip maps a projectedGeo point
// to clip-space coordinates — a renderer builds it by composing
// viewport.Viewport.ProjectedGeoToClip().
func (r *GPURasterizer) Batch(w *warpedmap.WarpedMap, toClip geom.Affine) TriangleBatch {
	info := w.ImageInfo()
	var width, height int
	if info != nil {
		width, height = info.Width, info.Height
	}

	vertices := triangleVertices(w.MaskPoints(), w.ProjectedMask(), w.MaskTriangles(), toClip, width, height)

	t := w.TransitionProgress()
	var prevVertices []Vertex
	if t < 1 {
		prevPoints := w.PreviousMaskPoints()
		if len(prevPoints) > 0 {
			prevVertices = triangleVertices(prevPoints, w.PreviousProjectedMask(), w.PreviousMaskTriangles(), toClip, width, height)
		}
	}

	return TriangleBatch{
		MapID:        w.MapID(),
		Vertices:     vertices,
		PrevVertices: prevVertices,
		ImageSize:    [2]int{width, height},
		Effects:      w.Effects(),
		CrossFadeT:   t,
	}
}

// triangleVertices builds the vertex buffer for one triangulation:
// maskPoints are resource-space (providing U/V), projectedMask is the
// same index space already projected into projectedGeo space (providing
// the position toClip maps to clip space). Keeping the two in lockstep,
// rather than re-deriving projectedMask from maskPoints via the map's
// current transformer, is what lets a previous triangulation's vertices
// be built from a transformer that has since been replaced.
func triangleVertices(maskPoints, projectedMask geom.Ring, triangles []geom.Triangle, toClip geom.Affine, width, height int) []Vertex {
	vertices := make([]Vertex, 0, len(triangles)*3)
	for _, tri := range triangles {
		for _, idx := range tri {
			if idx < 0 || idx >= len(maskPoints) || idx >= len(projectedMask) {
				continue
			}
			resourcePt := maskPoints[idx]
			clipPt := toClip.Apply(projectedMask[idx])

			var u, v float64
			if width > 0 && height > 0 {
				u = resourcePt[0] / float64(width)
				v = resourcePt[1] / float64(height)
			}
			vertices = append(vertices, Vertex{ClipX: clipPt[0], ClipY: clipPt[1], U: u, V: v})
		}
	}
	return vertices
}

// AtlasTile is one source tile image BuildAtlas packs into a
// TextureAtlas, along with the resource-space region and scaleFactor it
// covers.
type AtlasTile struct {
	MapID            string
	ScaleFactor      int
	RegionX, RegionY int
	Img              image.Image
}

// AtlasEntry is one packed tile's placement inside a TextureAtlas
// image — the auxiliary per-tile data (atlas origin, resource region,
// scaleFactor) a fragment shader needs to find the right atlas region
// for a given resource pixel and zoom level.
type AtlasEntry struct {
	MapID                              string
	ScaleFactor                        int
	AtlasX, AtlasY                     int
	RegionX, RegionY, RegionW, RegionH int
}

// TextureAtlas is a single bin-packed image holding every tile a
// GPU-like rasterizer needs this frame, plus the per-entry placement
// data a fragment shader uses to resolve a given resource pixel and
// scaleFactor to an atlas region.
type TextureAtlas struct {
	Img     *image.RGBA
	Entries []AtlasEntry
}

// BuildAtlas bin-packs tiles into a single TextureAtlas image no wider
// than maxWidth, via shelf (row) packing: tiles are sorted tallest
// first, then placed left to right, wrapping to a new row whenever a
// tile would overflow maxWidth. This is the same strategy a sprite/glyph
// atlas packer uses for non-uniformly sized inputs.
func BuildAtlas(tiles []AtlasTile, maxWidth int) *TextureAtlas {
	if maxWidth <= 0 {
		maxWidth = 2048
	}
	sorted := make([]AtlasTile, len(tiles))
	copy(sorted, tiles)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Img.Bounds().Dy() > sorted[j].Img.Bounds().Dy()
	})

	entries := make([]AtlasEntry, len(sorted))
	var x, y, rowHeight, atlasWidth int
	for i, t := range sorted {
		b := t.Img.Bounds()
		w, h := b.Dx(), b.Dy()
		if x > 0 && x+w > maxWidth {
			x = 0
			y += rowHeight
			rowHeight = 0
		}
		entries[i] = AtlasEntry{
			MapID:       t.MapID,
			ScaleFactor: t.ScaleFactor,
			AtlasX:      x,
			AtlasY:      y,
			RegionX:     t.RegionX,
			RegionY:     t.RegionY,
			RegionW:     w,
			RegionH:     h,
		}
		x += w
		if h > rowHeight {
			rowHeight = h
		}
		if x > atlasWidth {
			atlasWidth = x
		}
	}
	atlasHeight := y + rowHeight
	if atlasWidth == 0 || atlasHeight == 0 {
		return &TextureAtlas{Img: image.NewRGBA(image.Rect(0, 0, 0, 0))}
	}

	img := image.NewRGBA(image.Rect(0, 0, atlasWidth, atlasHeight))
	for i, t := range sorted {
		e := entries[i]
		dstRect := image.Rect(e.AtlasX, e.AtlasY, e.AtlasX+e.RegionW, e.AtlasY+e.RegionH)
		draw.Draw(img, dstRect, t.Img, t.Img.Bounds().Min, draw.Src)
	}
	return &TextureAtlas{Img: img, Entries: entries}
}

// Atlas packs tiles into a TextureAtlas and, if r.Dispatcher is set,
// publishes events.KindTexturesUpdated so a renderer knows to re-upload
// the packed image to the GPU.
func (r *GPURasterizer) Atlas(tiles []AtlasTile, maxWidth int) *TextureAtlas {
	atlas := BuildAtlas(tiles, maxWidth)
	if r.Dispatcher != nil {
		r.Dispatcher.Publish(context.Background(), events.Event{Kind: events.KindTexturesUpdated, Data: atlas})
	}
	return atlas
}
