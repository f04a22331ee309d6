// Package raster implements the two drawing backends a renderer can
// choose between: an int-array (CPU) rasterizer that walks destination
// pixels and samples source tiles via the inverse resource transform,
// and a GPU-style rasterizer that walks a mask's triangles and emits
// forward-projected vertex data the way a WebGL renderer would feed a
// vertex buffer.
package raster

import "image"

// Canvas is the destination RGBA buffer a rasterizer draws into. A
// renderer keeps one long-lived Canvas per frame buffer rather than
// allocating one per tile.
type Canvas struct {
	Img *image.RGBA
}

// NewCanvas allocates a Canvas of the given pixel dimensions.
func NewCanvas(width, height int) *Canvas {
	return &Canvas{Img: image.NewRGBA(image.Rect(0, 0, width, height))}
}

// Bounds returns the canvas's pixel rectangle.
func (c *Canvas) Bounds() image.Rectangle { return c.Img.Bounds() }

// Tile is a decoded source tile plus the resource-pixel region it
// covers: internal/tilegrid supplies the region, internal/tilecache the
// decoded image.
type Tile struct {
	Img              image.Image
	RegionX, RegionY int // resource-pixel origin of the tile's region
	RegionW, RegionH int // resource-pixel size of the region at full resolution
	ScaleFactor      int
}

// TileSource resolves a resource-pixel coordinate to the tile covering
// it, at a given pyramid scaleFactor. A renderer implements this over
// its internal/tilecache.Cache plus the tile's resource region.
type TileSource interface {
	TileAt(scaleFactor int, x, y float64) (tile Tile, ok bool)
}
