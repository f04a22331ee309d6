// Package tilegrid selects IIIF Image API zoom levels and enumerates the
// tiles a resource region covers at a chosen level. Unlike an XYZ/web-
// mercator pyramid indexed by a fixed ground resolution per zoom, a IIIF
// pyramid is indexed by an explicit scaleFactor list advertised in a
// resource's image-info document, so level selection is a closest-match
// search rather than log2 arithmetic.
package tilegrid

import (
	"sort"

	"github.com/allmaps-go/warp/internal/geom"
)

// Tile identifies one tile of a resource's IIIF pyramid at a given
// scaleFactor: the column/row address within that level's tile grid.
type Tile struct {
	ScaleFactor int
	Col, Row    int
}

// Level describes one usable zoom level: its scaleFactor and the
// resource-pixel dimensions of the downsampled image it represents.
type Level struct {
	ScaleFactor int
	Width       int
	Height      int
	Cols        int
	Rows        int
}

// Levels builds the list of usable pyramid levels from a resource's full
// size, tile size, and advertised scaleFactors.
func Levels(resourceWidth, resourceHeight, tileWidth, tileHeight int, scaleFactors []int) []Level {
	levels := make([]Level, 0, len(scaleFactors))
	for _, sf := range scaleFactors {
		if sf <= 0 {
			continue
		}
		w := ceilDiv(resourceWidth, sf)
		h := ceilDiv(resourceHeight, sf)
		levels = append(levels, Level{
			ScaleFactor: sf,
			Width:       w,
			Height:      h,
			Cols:        ceilDiv(w, tileWidth),
			Rows:        ceilDiv(h, tileHeight),
		})
	}
	sort.Slice(levels, func(i, j int) bool { return levels[i].ScaleFactor < levels[j].ScaleFactor })
	return levels
}

func ceilDiv(a, b int) int {
	if b <= 0 {
		return 0
	}
	if a <= 0 {
		return 0
	}
	return (a + b - 1) / b
}

// SelectLevel returns the level with the largest scaleFactor that does
// not exceed resourcePixelsPerViewportPixel, i.e. the coarsest level that
// still supplies at least one source pixel per viewport pixel. It falls
// back to the finest available level if the viewport demands more detail
// than the pyramid offers, and returns the coarsest level if the ratio is
// at or above every scaleFactor.
func SelectLevel(levels []Level, resourcePixelsPerViewportPixel float64) (Level, bool) {
	if len(levels) == 0 {
		return Level{}, false
	}
	// levels is sorted by ascending scaleFactor == ascending "coarseness".
	// Walk up while scaleFactor <= desired ratio, i.e. pick the largest
	// scaleFactor <= ratio, or the finest level if every scaleFactor
	// exceeds the ratio.
	best := levels[0]
	for _, lvl := range levels {
		if float64(lvl.ScaleFactor) <= resourcePixelsPerViewportPixel {
			best = lvl
			continue
		}
		break
	}
	return best, true
}

// TilesForRegion returns every tile of lvl intersecting the resource
// region [minX, minY, maxX, maxY] (in full-resolution resource pixels),
// ordered center-out from the region's centroid so the nearest tiles to
// the viewport center are requested first.
func TilesForRegion(lvl Level, tileWidth, tileHeight int, minX, minY, maxX, maxY float64) []Tile {
	if lvl.ScaleFactor <= 0 || tileWidth <= 0 || tileHeight <= 0 {
		return nil
	}
	sf := float64(lvl.ScaleFactor)
	// Convert the full-resolution region into this level's downsampled
	// pixel space, then into tile col/row indices.
	minCol := int(minX / sf / float64(tileWidth))
	maxCol := int(maxX / sf / float64(tileWidth))
	minRow := int(minY / sf / float64(tileHeight))
	maxRow := int(maxY / sf / float64(tileHeight))

	minCol = clampInt(minCol, 0, maxInt(lvl.Cols-1, 0))
	maxCol = clampInt(maxCol, 0, maxInt(lvl.Cols-1, 0))
	minRow = clampInt(minRow, 0, maxInt(lvl.Rows-1, 0))
	maxRow = clampInt(maxRow, 0, maxInt(lvl.Rows-1, 0))

	var tiles []Tile
	for row := minRow; row <= maxRow; row++ {
		for col := minCol; col <= maxCol; col++ {
			tiles = append(tiles, Tile{ScaleFactor: lvl.ScaleFactor, Col: col, Row: row})
		}
	}

	centerCol := (float64(minCol) + float64(maxCol)) / 2
	centerRow := (float64(minRow) + float64(maxRow)) / 2
	sort.Slice(tiles, func(i, j int) bool {
		di := geom.Distance(geom.Point{float64(tiles[i].Col), float64(tiles[i].Row)}, geom.Point{centerCol, centerRow})
		dj := geom.Distance(geom.Point{float64(tiles[j].Col), float64(tiles[j].Row)}, geom.Point{centerCol, centerRow})
		return di < dj
	})
	return tiles
}

// Region returns a tile's full-resolution resource-pixel region
// [x, y, w, h] at the given level, the rectangle a IIIF region request
// addresses (see internal/iiif for URL construction).
func Region(lvl Level, tileWidth, tileHeight int, tile Tile, resourceWidth, resourceHeight int) (x, y, w, h int) {
	sf := lvl.ScaleFactor
	x = tile.Col * tileWidth * sf
	y = tile.Row * tileHeight * sf
	w = tileWidth * sf
	h = tileHeight * sf
	if x+w > resourceWidth {
		w = resourceWidth - x
	}
	if y+h > resourceHeight {
		h = resourceHeight - y
	}
	return
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

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
