package renderer

import (
	"context"
	"image"
	"image/color"
	"testing"

	"github.com/allmaps-go/warp/internal/annotation"
	"github.com/allmaps-go/warp/internal/coord"
	"github.com/allmaps-go/warp/internal/encode"
	"github.com/allmaps-go/warp/internal/events"
	"github.com/allmaps-go/warp/internal/geom"
	"github.com/allmaps-go/warp/internal/iiif"
	"github.com/allmaps-go/warp/internal/maplist"
	"github.com/allmaps-go/warp/internal/raster"
	"github.com/allmaps-go/warp/internal/tilecache"
	"github.com/allmaps-go/warp/internal/viewport"
	"github.com/allmaps-go/warp/internal/warpedmap"
)

// fakeFetcher serves a solid-color PNG for every tile URL requested.
type fakeFetcher struct{}

func (fakeFetcher) FetchTile(ctx context.Context, url string) ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			img.SetRGBA(x, y, color.RGBA{R: 200, G: 100, B: 50, A: 255})
		}
	}
	enc := &encode.JPEGEncoder{Quality: 85}
	return enc.Encode(img)
}

type fakeResolver struct {
	info *warpedmap.ImageInfo
}

func (f fakeResolver) ResolveImageInfo(ctx context.Context, imageServiceID string) (*warpedmap.ImageInfo, iiif.ImageService, error) {
	return f.info, iiif.ImageService{ID: imageServiceID, Version: iiif.APIVersion3}, nil
}

func testMapAnnotation(mapID string) *annotation.Annotation {
	return &annotation.Annotation{
		MapID:          mapID,
		ResourceID:     "resource-1",
		ImageService:   "https://example.org/iiif/image1",
		ResourceWidth:  8,
		ResourceHeight: 8,
		GroundControlPoints: []annotation.GroundControlPointJSON{
			{ID: "a", Resource: annotation.PointJSON{0, 0}, Geo: annotation.PointJSON{0, 0}},
			{ID: "b", Resource: annotation.PointJSON{8, 0}, Geo: annotation.PointJSON{8, 0}},
			{ID: "c", Resource: annotation.PointJSON{0, 8}, Geo: annotation.PointJSON{0, 8}},
		},
		TransformationKind: "polynomial",
		PolynomialOrder:    1,
	}
}

func TestRenderer_Render_DrawsPendingMapAfterResolve(t *testing.T) {
	list := maplist.New()
	w := warpedmap.New(testMapAnnotation("map-1"), &coord.WGS84Identity{}, 0)
	if err := list.Add(w); err != nil {
		t.Fatalf("Add: %v", err)
	}

	cache := tilecache.New(fakeFetcher{}, encode.DefaultDecoder{}, 0)
	resolver := fakeResolver{info: &warpedmap.ImageInfo{Width: 8, Height: 8, TileWidth: 4, TileHeight: 4, ScaleFactors: []int{1}}}
	r := New(list, cache, resolver, 2)

	v := viewport.New(4, 4, 1, 16, 16)
	canvas := raster.NewCanvas(16, 16)

	if err := r.Render(context.Background(), v, canvas); err != nil {
		t.Fatalf("Render: %v", err)
	}

	if w.State() != warpedmap.StateReady {
		t.Errorf("map state = %v, want Ready after Render resolved its image-info", w.State())
	}
}

func TestRenderer_Render_FiresFirstMapLoaded(t *testing.T) {
	list := maplist.New()
	w := warpedmap.New(testMapAnnotation("map-1"), &coord.WGS84Identity{}, 0)
	list.Add(w)

	cache := tilecache.New(fakeFetcher{}, encode.DefaultDecoder{}, 0)
	resolver := fakeResolver{info: &warpedmap.ImageInfo{Width: 8, Height: 8, TileWidth: 4, TileHeight: 4, ScaleFactors: []int{1}}}
	r := New(list, cache, resolver, 2)

	fired := false
	r.Dispatcher().Subscribe(events.KindFirstMapLoaded, func(ctx context.Context, e events.Event) error {
		fired = true
		return nil
	})

	v := viewport.New(4, 4, 1, 16, 16)
	canvas := raster.NewCanvas(16, 16)
	if err := r.Render(context.Background(), v, canvas); err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !fired {
		t.Error("firstmaploaded handler was not invoked")
	}
}

func TestRenderer_Render_SkipsOutOfViewMaps(t *testing.T) {
	list := maplist.New()
	a := testMapAnnotation("far-away")
	a.GroundControlPoints = []annotation.GroundControlPointJSON{
		{ID: "a", Resource: annotation.PointJSON{0, 0}, Geo: annotation.PointJSON{10000, 10000}},
		{ID: "b", Resource: annotation.PointJSON{8, 0}, Geo: annotation.PointJSON{10008, 10000}},
		{ID: "c", Resource: annotation.PointJSON{0, 8}, Geo: annotation.PointJSON{10000, 10008}},
	}
	w := warpedmap.New(a, &coord.WGS84Identity{}, 0)
	if err := w.SetImageInfo(&warpedmap.ImageInfo{Width: 8, Height: 8, TileWidth: 4, TileHeight: 4, ScaleFactors: []int{1}}); err != nil {
		t.Fatalf("SetImageInfo: %v", err)
	}
	list.Add(w)
	list.Reindex(w.MapID())

	cache := tilecache.New(fakeFetcher{}, encode.DefaultDecoder{}, 0)
	r := New(list, cache, fakeResolver{}, 2)

	v := viewport.New(4, 4, 1, 16, 16)
	canvas := raster.NewCanvas(16, 16)
	if err := r.Render(context.Background(), v, canvas); err != nil {
		t.Fatalf("Render: %v", err)
	}
	if cache.Len() != 0 {
		t.Errorf("cache.Len() = %d, want 0 (out-of-view map should not fetch tiles)", cache.Len())
	}
}

func TestRenderer_Render_BoundPassesThroughScaleBound(t *testing.T) {
	v := viewport.New(0, 0, 1, 10, 10)
	b := geom.ScaleBound(v.Bound(), BufferFactor)
	if b.Max[0]-b.Min[0] <= v.Bound().Max[0]-v.Bound().Min[0] {
		t.Error("buffered bound should be larger than the raw viewport bound")
	}
}

func TestRenderer_Render_FiresAllRequestedTilesLoaded(t *testing.T) {
	list := maplist.New()
	w := warpedmap.New(testMapAnnotation("map-1"), &coord.WGS84Identity{}, 0)
	list.Add(w)

	cache := tilecache.New(fakeFetcher{}, encode.DefaultDecoder{}, 0)
	resolver := fakeResolver{info: &warpedmap.ImageInfo{Width: 8, Height: 8, TileWidth: 4, TileHeight: 4, ScaleFactors: []int{1}}}
	r := New(list, cache, resolver, 2)

	fired := false
	r.Dispatcher().Subscribe(events.KindAllRequestedTilesLoaded, func(ctx context.Context, e events.Event) error {
		fired = true
		return nil
	})

	v := viewport.New(4, 4, 1, 16, 16)
	canvas := raster.NewCanvas(16, 16)
	if err := r.Render(context.Background(), v, canvas); err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !fired {
		t.Error("allrequestedtilesloaded handler was not invoked once every fetch settled")
	}
	if r.Cache.InFlight() != 0 {
		t.Errorf("InFlight() = %d, want 0 after Render completes", r.Cache.InFlight())
	}
}

func TestRenderer_Render_FiresEnterAndLeaveOnSelectionChange(t *testing.T) {
	list := maplist.New()
	near := testMapAnnotation("near")
	w := warpedmap.New(near, &coord.WGS84Identity{}, 0)
	if err := w.SetImageInfo(&warpedmap.ImageInfo{Width: 8, Height: 8, TileWidth: 4, TileHeight: 4, ScaleFactors: []int{1}}); err != nil {
		t.Fatalf("SetImageInfo: %v", err)
	}
	list.Add(w)
	list.Reindex(w.MapID())

	cache := tilecache.New(fakeFetcher{}, encode.DefaultDecoder{}, 0)
	r := New(list, cache, fakeResolver{}, 2)

	var entered, left []string
	r.Dispatcher().Subscribe(events.KindWarpedMapEnter, func(ctx context.Context, e events.Event) error {
		entered = append(entered, e.Data.(string))
		return nil
	})
	r.Dispatcher().Subscribe(events.KindWarpedMapLeave, func(ctx context.Context, e events.Event) error {
		left = append(left, e.Data.(string))
		return nil
	})

	canvas := raster.NewCanvas(16, 16)
	nearViewport := viewport.New(4, 4, 1, 16, 16)
	if err := r.Render(context.Background(), nearViewport, canvas); err != nil {
		t.Fatalf("Render (near): %v", err)
	}
	if len(entered) != 1 || entered[0] != "near" {
		t.Errorf("entered = %v, want [near]", entered)
	}

	farViewport := viewport.New(100000, 100000, 1, 16, 16)
	if err := r.Render(context.Background(), farViewport, canvas); err != nil {
		t.Fatalf("Render (far): %v", err)
	}
	if len(left) != 1 || left[0] != "near" {
		t.Errorf("left = %v, want [near]", left)
	}
}

func TestResourcePixelsPerViewportPixel_IncreasesWithResolution(t *testing.T) {
	w := warpedmap.New(testMapAnnotation("map-1"), &coord.WGS84Identity{}, 0)
	if err := w.SetImageInfo(&warpedmap.ImageInfo{Width: 8, Height: 8}); err != nil {
		t.Fatalf("SetImageInfo: %v", err)
	}
	ring := w.ResourceMask()

	lowRes := viewport.New(4, 4, 1, 16, 16)
	highRes := viewport.New(4, 4, 4, 16, 16)

	lowRatio := resourcePixelsPerViewportPixel(w, lowRes, ring)
	highRatio := resourcePixelsPerViewportPixel(w, highRes, ring)
	if highRatio <= lowRatio {
		t.Errorf("ratio at resolution 4 (%v) should exceed ratio at resolution 1 (%v)", highRatio, lowRatio)
	}
}

func TestBufferedResourceRing_ContainsCornerProjections(t *testing.T) {
	w := warpedmap.New(testMapAnnotation("map-1"), &coord.WGS84Identity{}, 0)
	if err := w.SetImageInfo(&warpedmap.ImageInfo{Width: 8, Height: 8}); err != nil {
		t.Fatalf("SetImageInfo: %v", err)
	}

	bound := geom.Bound{Min: geom.Point{-2, -2}, Max: geom.Point{10, 10}}
	ring := bufferedResourceRing(w, bound)
	if len(ring) < 4 {
		t.Fatalf("len(ring) = %d, want at least 4 corners", len(ring))
	}

	want := w.ProjectedGeoToResource(geom.Point{bound.Min[0], bound.Min[1]})
	if ring[0] != want {
		t.Errorf("ring[0] = %v, want back-projection of bound's first corner %v", ring[0], want)
	}
}

func TestRefineEdge_AffineTransformNeedsNoSubdivision(t *testing.T) {
	w := warpedmap.New(testMapAnnotation("map-1"), &coord.WGS84Identity{}, 0)
	if err := w.SetImageInfo(&warpedmap.ImageInfo{Width: 8, Height: 8}); err != nil {
		t.Fatalf("SetImageInfo: %v", err)
	}
	extra := refineEdge(w, geom.Point{0, 0}, geom.Point{8, 0}, 0)
	if len(extra) != 0 {
		t.Errorf("refineEdge on an affine map's straight edge = %v, want no inserted midpoints", extra)
	}
}
