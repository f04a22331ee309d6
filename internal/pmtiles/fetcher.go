package pmtiles

import (
	"context"
	"fmt"
	"math/bits"
	"strconv"
	"strings"
)

// Fetcher serves tile bytes out of a PMTiles v3 archive, implementing
// iiif.TileFetcher for tests and the offline demo CLI — the fixture
// counterpart of an *http.Client-backed fetcher hitting a live IIIF
// image service. It parses the region/size path segments internal/iiif
// builds and maps them back onto the archive's Hilbert (z, x, y)
// addressing using the tile grid geometry the archive was packed with.
//
// This only has to invert URLs of the exact shape internal/iiif.TileURL
// produces: "{base}/{x},{y},{w},{h}/{sw},{sh}/0/default.{fmt}". It is not
// a general IIIF URL parser.
type Fetcher struct {
	reader                *Reader
	tileWidth, tileHeight int
}

// NewFetcher builds a Fetcher over an already-open archive. tileWidth
// and tileHeight must match the resource's advertised IIIF tile size —
// the same values tilegrid.Levels was built with when the archive was
// packed, since a tile's region size is how FetchTile recovers its
// scaleFactor.
func NewFetcher(reader *Reader, tileWidth, tileHeight int) *Fetcher {
	return &Fetcher{reader: reader, tileWidth: tileWidth, tileHeight: tileHeight}
}

// FetchTile implements iiif.TileFetcher.
func (f *Fetcher) FetchTile(ctx context.Context, url string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	regionX, regionY, regionW, _, sizeW, _, err := parseTileURL(url)
	if err != nil {
		return nil, fmt.Errorf("pmtiles fetcher: %w", err)
	}

	scaleFactor := 1
	if sizeW > 0 && regionW >= sizeW {
		scaleFactor = regionW / sizeW
	}
	if scaleFactor <= 0 {
		scaleFactor = 1
	}
	if f.tileWidth <= 0 || f.tileHeight <= 0 {
		return nil, fmt.Errorf("pmtiles fetcher: invalid tile size %dx%d", f.tileWidth, f.tileHeight)
	}

	col := regionX / (f.tileWidth * scaleFactor)
	row := regionY / (f.tileHeight * scaleFactor)
	z := bits.Len(uint(scaleFactor)) - 1
	if z < 0 {
		z = 0
	}

	data, err := f.reader.ReadTile(z, col, row)
	if err != nil {
		return nil, fmt.Errorf("pmtiles fetcher: reading z%d/%d/%d: %w", z, col, row, err)
	}
	if data == nil {
		return nil, fmt.Errorf("pmtiles fetcher: no tile packed for %s (z%d/%d/%d)", url, z, col, row)
	}
	return data, nil
}

// parseTileURL recovers the region and size path segments from a IIIF
// tile URL in internal/iiif.TileURL's "{base}/{region}/{size}/{rotation}/{quality}.{format}" shape.
func parseTileURL(url string) (regionX, regionY, regionW, regionH, sizeW, sizeH int, err error) {
	parts := strings.Split(url, "/")
	if len(parts) < 4 {
		return 0, 0, 0, 0, 0, 0, fmt.Errorf("malformed tile URL %q", url)
	}
	region := parts[len(parts)-4]
	size := parts[len(parts)-3]

	regionX, regionY, regionW, regionH, err = parseQuad(region)
	if err != nil {
		return 0, 0, 0, 0, 0, 0, fmt.Errorf("parsing region %q: %w", region, err)
	}
	sizeW, sizeH, err = parsePair(size)
	if err != nil {
		return 0, 0, 0, 0, 0, 0, fmt.Errorf("parsing size %q: %w", size, err)
	}
	return regionX, regionY, regionW, regionH, sizeW, sizeH, nil
}

func parseQuad(s string) (a, b, c, d int, err error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return 0, 0, 0, 0, fmt.Errorf("expected 4 comma-separated values, got %d", len(parts))
	}
	vals := make([]int, 4)
	for i, p := range parts {
		v, err := strconv.Atoi(p)
		if err != nil {
			return 0, 0, 0, 0, fmt.Errorf("value %q: %w", p, err)
		}
		vals[i] = v
	}
	return vals[0], vals[1], vals[2], vals[3], nil
}

func parsePair(s string) (a, b int, err error) {
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("expected 2 comma-separated values, got %d", len(parts))
	}
	av, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("value %q: %w", parts[0], err)
	}
	bv, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, fmt.Errorf("value %q: %w", parts[1], err)
	}
	return av, bv, nil
}
