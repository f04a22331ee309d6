// Package iiif builds IIIF Image API tile request URLs and declares the
// TileFetcher external interface the tile cache uses to retrieve tile
// bytes. A IIIF tile request is a region/size/rotation/quality/format
// path, not an XYZ URL template, and the path syntax itself differs
// between the v2 and v3 Image API profiles (e.g. the default-size token
// is "full" in v2 and "max" in v3).
package iiif

import (
	"context"
	"fmt"
	"strings"
)

// APIVersion selects which generation of the Image API profile a
// service advertises, which changes how a region/size request is built
// (v3 replaced "full" with "max" for the default size, for instance).
type APIVersion int

const (
	APIVersion2 APIVersion = 2
	APIVersion3 APIVersion = 3
)

// ImageService is the minimal IIIF image-service description the URL
// builder needs: its base identifier URI and API version.
type ImageService struct {
	ID      string
	Version APIVersion
}

// TileRequest describes one tile to fetch: a resource-pixel region and
// the destination size to scale it to (equal to the region size divided
// by the pyramid level's scaleFactor).
type TileRequest struct {
	RegionX, RegionY          int
	RegionWidth, RegionHeight int
	SizeWidth, SizeHeight     int
	Format                    string // "jpg", "png", "webp"
}

// TileURL builds the absolute IIIF Image API URL for req against svc.
func TileURL(svc ImageService, req TileRequest) string {
	format := req.Format
	if format == "" {
		format = "jpg"
	}
	region := fmt.Sprintf("%d,%d,%d,%d", req.RegionX, req.RegionY, req.RegionWidth, req.RegionHeight)
	size := fmt.Sprintf("%d,%d", req.SizeWidth, req.SizeHeight)
	base := strings.TrimSuffix(svc.ID, "/")
	return fmt.Sprintf("%s/%s/%s/0/default.%s", base, region, size, format)
}

// FullImageURL builds the URL for the entire image at native resolution,
// using the size token each API version spells differently ("full" in
// v2, "max" in v3).
func FullImageURL(svc ImageService, format string) string {
	if format == "" {
		format = "jpg"
	}
	sizeToken := "full"
	if svc.Version == APIVersion3 {
		sizeToken = "max"
	}
	base := strings.TrimSuffix(svc.ID, "/")
	return fmt.Sprintf("%s/full/%s/0/default.%s", base, sizeToken, format)
}

// TileFetcher is the external collaborator the tile cache delegates to
// for retrieving a tile's encoded bytes. Implementations range from an
// *http.Client-backed fetcher to the offline fixture format in
// internal/pmtiles used by tests and the demo CLI.
type TileFetcher interface {
	FetchTile(ctx context.Context, url string) ([]byte, error)
}
