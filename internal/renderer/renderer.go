// Package renderer implements the base renderer algorithm: map
// selection against a viewport, per-map zoom-level choice, tile
// enumeration and cache requests, draw dispatch to a rasterizer, pruning
// of tiles that scrolled out of view, and a throttled render loop for a
// cooperative event-driven host. Per-map image-info resolution and tile
// fetching fan out over a worker-pool-over-job-channel shape; render
// lifecycle notifications fire through internal/events.
package renderer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/allmaps-go/warp/internal/events"
	"github.com/allmaps-go/warp/internal/geom"
	"github.com/allmaps-go/warp/internal/iiif"
	"github.com/allmaps-go/warp/internal/maplist"
	"github.com/allmaps-go/warp/internal/raster"
	"github.com/allmaps-go/warp/internal/tilecache"
	"github.com/allmaps-go/warp/internal/tilegrid"
	"github.com/allmaps-go/warp/internal/viewport"
	"github.com/allmaps-go/warp/internal/warpedmap"
)

// BufferFactor is the default margin the renderer fetches beyond the
// visible viewport, expressed as a multiple of the viewport's own size
// (a factor of 1.5 adds a quarter of the viewport's width and height as
// margin on each side), so panning doesn't show a blank edge before new
// tiles resolve.
const BufferFactor = 1.5

// RenderThrottle is the minimum interval between two consecutive
// throttled Render calls via Loop, a ~100ms cadence chosen for
// panning/zooming redraws driven by a cooperative event loop.
const RenderThrottle = 100 * time.Millisecond

// ImageInfoResolver fetches the IIIF image-info document for a map's
// image service, the external collaborator that moves a WarpedMap from
// Pending to Ready.
type ImageInfoResolver interface {
	ResolveImageInfo(ctx context.Context, imageServiceID string) (*warpedmap.ImageInfo, iiif.ImageService, error)
}

// Renderer draws a WarpedMapList's visible maps into a Canvas for a
// given Viewport, using a shared tile cache and a pluggable rasterizer.
type Renderer struct {
	List        *maplist.WarpedMapList
	Cache       *tilecache.Cache
	Resolver    ImageInfoResolver
	Rasterizer  *raster.IntArrayRasterizer
	Concurrency int

	dispatcher *events.Dispatcher

	mu           sync.Mutex
	lastRender   time.Time
	firstMapped  bool
	prevSelected map[string]bool
}

// New builds a Renderer. concurrency bounds the worker pool used to
// prepare maps (resolve image-info, request tiles) each frame; it
// defaults to 4 when <= 0.
func New(list *maplist.WarpedMapList, cache *tilecache.Cache, resolver ImageInfoResolver, concurrency int) *Renderer {
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Renderer{
		List:        list,
		Cache:       cache,
		Resolver:    resolver,
		Rasterizer:  raster.NewIntArrayRasterizer(1),
		Concurrency: concurrency,
		dispatcher:  events.NewDispatcher(),
	}
}

// Dispatcher returns the renderer's event registry, covering the render
// lifecycle events: warpedmapenter/leave, firstmaploaded,
// allrequestedtilesloaded, change.
func (r *Renderer) Dispatcher() *events.Dispatcher { return r.dispatcher }

// tileFetch pairs a WarpedMap's pyramid level selection with the tile
// keys it needs for one frame's region.
type tileFetch struct {
	w     *warpedmap.WarpedMap
	svc   iiif.ImageService
	level tilegrid.Level
	tileW int
	tileH int
	tiles []tilegrid.Tile
}

// Render draws every Ready, Visible map intersecting v's buffered
// viewport bound into canvas, firing lifecycle events as maps enter or
// leave the frame. It resolves any still-Pending map's image-info
// concurrently (bounded by r.Concurrency) before drawing, and prunes the
// tile cache to whatever is still needed afterwards.
func (r *Renderer) Render(ctx context.Context, v viewport.Viewport, canvas *raster.Canvas) error {
	bufferedBound := geom.ScaleBound(v.Bound(), BufferFactor)
	selected := r.List.IntersectingBound(bufferedBound)

	if err := r.resolvePending(ctx, selected); err != nil {
		return err
	}
	// Re-select now that some maps may have moved Pending -> Ready.
	selected = r.List.IntersectingBound(bufferedBound)
	r.publishSelectionDiff(ctx, selected)

	fetches := r.planFetches(bufferedBound, v, selected)
	r.requestTiles(ctx, fetches)

	toCanvas := v.ViewportToCanvas().Compose(v.ProjectedGeoToViewport())

	keep := make(map[string]bool)
	for _, f := range fetches {
		r.drawMap(f, toCanvas, canvas, keep)
	}

	r.Cache.Prune(func(keyStr string) bool { return keep[keyStr] })

	r.mu.Lock()
	first := !r.firstMapped && len(selected) > 0
	if first {
		r.firstMapped = true
	}
	r.lastRender = time.Now()
	r.mu.Unlock()
	if first {
		r.dispatcher.Publish(ctx, events.Event{Kind: events.KindFirstMapLoaded})
	}
	if r.Cache.InFlight() == 0 {
		r.dispatcher.Publish(ctx, events.Event{Kind: events.KindAllRequestedTilesLoaded})
	}
	r.dispatcher.Publish(ctx, events.Event{Kind: events.KindChange})
	return nil
}

// publishSelectionDiff compares selected against the previous Render
// call's selection and publishes WarpedMapEnter/WarpedMapLeave for maps
// that newly appeared or newly dropped out of the buffered viewport.
func (r *Renderer) publishSelectionDiff(ctx context.Context, selected []*warpedmap.WarpedMap) {
	current := make(map[string]bool, len(selected))
	for _, w := range selected {
		current[w.MapID()] = true
	}

	r.mu.Lock()
	prev := r.prevSelected
	r.prevSelected = current
	r.mu.Unlock()

	for id := range current {
		if !prev[id] {
			r.dispatcher.Publish(ctx, events.Event{Kind: events.KindWarpedMapEnter, Data: id})
		}
	}
	for id := range prev {
		if !current[id] {
			r.dispatcher.Publish(ctx, events.Event{Kind: events.KindWarpedMapLeave, Data: id})
		}
	}
}

// resolvePending fetches image-info for every Pending map among
// selected, concurrently, and reindexes each into r.List once it
// transitions to Ready (internal/maplist cannot observe that transition
// on its own).
func (r *Renderer) resolvePending(ctx context.Context, selected []*warpedmap.WarpedMap) error {
	var pending []*warpedmap.WarpedMap
	for _, w := range selected {
		if w.State() == warpedmap.StatePending {
			pending = append(pending, w)
		}
	}
	if len(pending) == 0 || r.Resolver == nil {
		return nil
	}

	jobs := make(chan *warpedmap.WarpedMap, len(pending))
	var wg sync.WaitGroup
	errCh := make(chan error, 1)

	workers := r.Concurrency
	if workers > len(pending) {
		workers = len(pending)
	}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for w := range jobs {
				info, _, err := r.Resolver.ResolveImageInfo(ctx, w.Annotation().ImageService)
				if err != nil {
					select {
					case errCh <- fmt.Errorf("resolving image-info for %q: %w", w.MapID(), err):
					default:
					}
					continue
				}
				if err := w.SetImageInfo(info); err != nil {
					continue
				}
				r.List.Reindex(w.MapID())
			}
		}()
	}
	for _, w := range pending {
		jobs <- w
	}
	close(jobs)
	wg.Wait()

	select {
	case err := <-errCh:
		return err
	default:
		return nil
	}
}

// maxBufferedRingOffsetRatio bounds how far a buffered ring edge's
// back-projected midpoint may deviate from the straight-line
// interpolation of its two refined endpoints, as a fraction of the
// segment's own (resource-space) length, before refineEdge subdivides
// further.
const maxBufferedRingOffsetRatio = 0.01

// maxBufferedRingRefineDepth caps refineEdge's recursion so a
// pathological transformer (near a fitting singularity) cannot loop
// indefinitely.
const maxBufferedRingRefineDepth = 6

// planFetches chooses the pyramid level and tile set each selected map
// needs for viewport v, given the buffered viewport bound Render already
// computed for selection.
func (r *Renderer) planFetches(bufferedBound geom.Bound, v viewport.Viewport, selected []*warpedmap.WarpedMap) []tileFetch {
	out := make([]tileFetch, 0, len(selected))
	for _, w := range selected {
		info := w.ImageInfo()
		if info == nil {
			continue
		}

		resourceRing := bufferedResourceRing(w, bufferedBound)
		ratio := resourcePixelsPerViewportPixel(w, v, resourceRing)
		levels := tilegrid.Levels(info.Width, info.Height, info.TileWidth, info.TileHeight, info.ScaleFactors)
		level, ok := tilegrid.SelectLevel(levels, ratio)
		if !ok {
			continue
		}

		bound := geom.BoundOfRing(resourceRing)
		maskBound := geom.BoundOfRing(w.ResourceMask())
		if geom.BoundsIntersect(bound, maskBound) {
			bound = geom.IntersectBound(bound, maskBound)
		} else {
			bound = maskBound
		}
		tiles := tilegrid.TilesForRegion(level, info.TileWidth, info.TileHeight, bound.Min[0], bound.Min[1], bound.Max[0], bound.Max[1])

		svc := iiif.ImageService{ID: w.Annotation().ImageService, Version: iiif.APIVersion3}
		out = append(out, tileFetch{w: w, svc: svc, level: level, tileW: info.TileWidth, tileH: info.TileHeight, tiles: tiles})
	}
	return out
}

// bufferedResourceRing back-projects the buffered viewport rectangle's
// four corners through w's projectedGeo-to-resource transform, refining
// each edge recursively (refineEdge) so a non-affine transformer's
// curvature shows up in the ring rather than being approximated by 4
// straight edges between the corners alone.
func bufferedResourceRing(w *warpedmap.WarpedMap, bufferedBound geom.Bound) geom.Ring {
	corners := []geom.Point{
		{bufferedBound.Min[0], bufferedBound.Min[1]},
		{bufferedBound.Max[0], bufferedBound.Min[1]},
		{bufferedBound.Max[0], bufferedBound.Max[1]},
		{bufferedBound.Min[0], bufferedBound.Max[1]},
	}
	ring := make(geom.Ring, 0, len(corners)*2)
	for i := range corners {
		a := corners[i]
		b := corners[(i+1)%len(corners)]
		ring = append(ring, w.ProjectedGeoToResource(a))
		ring = append(ring, refineEdge(w, a, b, 0)...)
	}
	return ring
}

// refineEdge recursively bisects the projectedGeo segment a-b, returning
// the resource-space positions of any inserted midpoints (in order from
// a to b, excluding a and b themselves) whose back-projection deviates
// from the straight line between its neighbors by more than
// maxBufferedRingOffsetRatio of the segment length.
func refineEdge(w *warpedmap.WarpedMap, a, b geom.Point, depth int) []geom.Point {
	resA := w.ProjectedGeoToResource(a)
	resB := w.ProjectedGeoToResource(b)
	segLen := geom.Distance(resA, resB)
	if depth >= maxBufferedRingRefineDepth || segLen == 0 {
		return nil
	}

	mid := geom.Point{(a[0] + b[0]) / 2, (a[1] + b[1]) / 2}
	resMid := w.ProjectedGeoToResource(mid)
	straight := geom.Point{(resA[0] + resB[0]) / 2, (resA[1] + resB[1]) / 2}
	if geom.Distance(resMid, straight) <= maxBufferedRingOffsetRatio*segLen {
		return nil
	}

	left := refineEdge(w, a, mid, depth+1)
	right := refineEdge(w, mid, b, depth+1)
	out := make([]geom.Point, 0, len(left)+1+len(right))
	out = append(out, left...)
	out = append(out, resMid)
	out = append(out, right...)
	return out
}

// resourcePixelsPerViewportPixel estimates how many resource pixels map
// to one viewport (canvas) pixel, the ratio tilegrid.SelectLevel uses to
// pick a pyramid level. It samples a 3x3 grid of points inside
// resourceRing's bound, estimates the forward transform's local scale
// at each via finite difference, and takes the median (internal/geom's
// Median) across samples rather than a single fixed point, so a single
// distorted sample near a transformer's extremes cannot skew the pick.
func resourcePixelsPerViewportPixel(w *warpedmap.WarpedMap, v viewport.Viewport, resourceRing geom.Ring) float64 {
	if v.Resolution <= 0 || len(resourceRing) == 0 {
		return 1
	}
	bound := geom.BoundOfRing(resourceRing)
	spanX := bound.Max[0] - bound.Min[0]
	spanY := bound.Max[1] - bound.Min[1]

	const samplesPerAxis = 3
	ratios := make([]float64, 0, samplesPerAxis*samplesPerAxis)
	for i := 0; i < samplesPerAxis; i++ {
		for j := 0; j < samplesPerAxis; j++ {
			tx := (float64(i) + 0.5) / samplesPerAxis
			ty := (float64(j) + 0.5) / samplesPerAxis
			p := geom.Point{bound.Min[0] + tx*spanX, bound.Min[1] + ty*spanY}
			dp := geom.Point{p[0] + 1, p[1]}

			g0 := w.ResourceToProjectedGeo(p)
			g1 := w.ResourceToProjectedGeo(dp)
			geoDist := geom.Distance(g0, g1)
			if geoDist == 0 {
				continue
			}
			ratios = append(ratios, v.Resolution/geoDist)
		}
	}
	if len(ratios) == 0 {
		return 1
	}
	return geom.Median(ratios)
}

// requestTiles fetches (or warms) every tile a plan needs, concurrently.
func (r *Renderer) requestTiles(ctx context.Context, fetches []tileFetch) {
	type job struct {
		f    *tileFetch
		tile tilegrid.Tile
	}
	var jobsList []job
	for i := range fetches {
		for _, t := range fetches[i].tiles {
			jobsList = append(jobsList, job{f: &fetches[i], tile: t})
		}
	}
	if len(jobsList) == 0 {
		return
	}

	jobs := make(chan job, len(jobsList))
	var wg sync.WaitGroup
	workers := r.Concurrency
	if workers > len(jobsList) {
		workers = len(jobsList)
	}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				x, y, w, h := tilegrid.Region(j.f.level, j.f.tileW, j.f.tileH, j.tile, j.f.w.ImageInfo().Width, j.f.w.ImageInfo().Height)
				req := iiif.TileRequest{
					RegionX: x, RegionY: y, RegionWidth: w, RegionHeight: h,
					SizeWidth: w / j.f.level.ScaleFactor, SizeHeight: h / j.f.level.ScaleFactor,
					Format: "jpg",
				}
				url := iiif.TileURL(j.f.svc, req)
				r.Cache.Get(ctx, tilecache.Key{ImageServiceID: j.f.svc.ID, URL: url, Format: req.Format})
			}
		}()
	}
	for _, j := range jobsList {
		jobs <- j
	}
	close(jobs)
	wg.Wait()
}

// drawMap draws one plan's tiles into canvas via r.Rasterizer, marking
// every cache key it touched as still-needed in keep so Render's prune
// step does not evict tiles this frame just drew.
func (r *Renderer) drawMap(f tileFetch, toCanvas geom.Affine, canvas *raster.Canvas, keep map[string]bool) {
	src := &cacheTileSource{cache: r.Cache, fetch: f, keep: keep}
	r.Rasterizer.ScaleFactor = f.level.ScaleFactor
	r.Rasterizer.Draw(f.w, src, toCanvas, canvas, canvas.Bounds())
}

// cacheTileSource implements raster.TileSource over a renderer's shared
// tile cache, restricted to the tiles one map's fetch plan enumerated.
type cacheTileSource struct {
	cache *tilecache.Cache
	fetch tileFetch
	keep  map[string]bool
}

func (s *cacheTileSource) TileAt(scaleFactor int, x, y float64) (raster.Tile, bool) {
	if scaleFactor != s.fetch.level.ScaleFactor {
		return raster.Tile{}, false
	}
	info := s.fetch.w.ImageInfo()
	if info == nil {
		return raster.Tile{}, false
	}
	for _, t := range s.fetch.tiles {
		rx, ry, rw, rh := tilegrid.Region(s.fetch.level, s.fetch.tileW, s.fetch.tileH, t, info.Width, info.Height)
		if x < float64(rx) || y < float64(ry) || x >= float64(rx+rw) || y >= float64(ry+rh) {
			continue
		}
		req := iiif.TileRequest{
			RegionX: rx, RegionY: ry, RegionWidth: rw, RegionHeight: rh,
			SizeWidth: rw / s.fetch.level.ScaleFactor, SizeHeight: rh / s.fetch.level.ScaleFactor,
			Format: "jpg",
		}
		url := iiif.TileURL(s.fetch.svc, req)
		key := tilecache.Key{ImageServiceID: s.fetch.svc.ID, URL: url, Format: req.Format}
		img, ok := s.cache.Peek(key)
		if !ok {
			return raster.Tile{}, false
		}
		s.keep[key.String()] = true
		return raster.Tile{Img: img, RegionX: rx, RegionY: ry, RegionW: rw, RegionH: rh, ScaleFactor: s.fetch.level.ScaleFactor}, true
	}
	return raster.Tile{}, false
}

// Loop runs Render on every tick of a RenderThrottle-interval ticker
// until ctx is cancelled, giving a cooperative event-driven host a
// throttled redraw for continuous pan/zoom gestures. next supplies the
// Viewport to draw for each tick; if it returns false, that tick is
// skipped without drawing.
func (r *Renderer) Loop(ctx context.Context, canvas *raster.Canvas, next func() (viewport.Viewport, bool)) error {
	ticker := time.NewTicker(RenderThrottle)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			v, ok := next()
			if !ok {
				continue
			}
			if err := r.Render(ctx, v, canvas); err != nil {
				return err
			}
		}
	}
}
