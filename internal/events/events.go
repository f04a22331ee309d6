// Package events implements the observer-registry pattern the renderer
// and warped-map list use in place of an EventTarget: components hold
// their own Dispatcher and callers Subscribe to the event types they
// care about, rather than a central bus or DOM-style event inheritance.
package events

import (
	"context"
	"sync"
)

// Kind identifies the category of an Event: the list and renderer
// lifecycle events (map added, removed, entered, left, first map loaded,
// all requested tiles loaded, cleared, change) plus the warped-map,
// tile-cache and texture notifications documented below.
type Kind string

const (
	KindWarpedMapAdded          Kind = "warpedmapadded"
	KindWarpedMapRemoved        Kind = "warpedmapremoved"
	KindWarpedMapEnter          Kind = "warpedmapenter"
	KindWarpedMapLeave          Kind = "warpedmapleave"
	KindFirstMapLoaded          Kind = "firstmaploaded"
	KindAllRequestedTilesLoaded Kind = "allrequestedtilesloaded"
	KindCleared                 Kind = "cleared"
	KindChange                  Kind = "change"

	// KindResourceMaskUpdated fires after WarpedMap.SetResourceMask has
	// refit the triangulation against the new mask.
	KindResourceMaskUpdated Kind = "resourcemaskupdated"
	// KindTransformationChanged fires after WarpedMap.SetGCPs or
	// WarpedMap.SetTransformationKind has refit the transformer.
	KindTransformationChanged Kind = "transformationchanged"
	// KindTileFetched fires when a tile cache fetch completes successfully.
	KindTileFetched Kind = "tilefetched"
	// KindTileFetchError fires when a tile cache fetch fails.
	KindTileFetchError Kind = "tilefetcherror"
	// KindTexturesUpdated fires when the GPU-like rasterizer rebuilds its
	// texture atlas.
	KindTexturesUpdated Kind = "texturesupdated"
)

// Event is a single notification dispatched to subscribers of its Kind.
// Data is a value specific to the Kind (e.g. a mapId string, or a slice
// of mapIds), kept as interface{} so this package stays independent of
// internal/warpedmap and internal/maplist, avoiding an import cycle.
type Event struct {
	Kind Kind
	Data interface{}
}

// Handler processes one dispatched Event. Returning an error does not
// stop other handlers from running; Publish collects every error.
type Handler func(ctx context.Context, e Event) error

// Dispatcher is a concurrency-safe registry of Handlers keyed by Kind.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[Kind][]Handler
}

// NewDispatcher returns an empty Dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[Kind][]Handler)}
}

// Subscribe registers handler to run whenever an Event of kind is published.
// The returned function unsubscribes handler.
func (d *Dispatcher) Subscribe(kind Kind, handler Handler) func() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[kind] = append(d.handlers[kind], handler)
	idx := len(d.handlers[kind]) - 1
	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		hs := d.handlers[kind]
		if idx < len(hs) {
			hs[idx] = nil
		}
	}
}

// HasHandlers reports whether any handler is subscribed to kind.
func (d *Dispatcher) HasHandlers(kind Kind) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, h := range d.handlers[kind] {
		if h != nil {
			return true
		}
	}
	return false
}

// Publish runs every handler subscribed to e.Kind concurrently and
// collects their errors. The renderer's draw loop uses this for
// notifications whose order among subscribers does not matter (e.g.
// per-map enter/leave), keeping the cooperative event loop from
// serializing on slow subscribers.
func (d *Dispatcher) Publish(ctx context.Context, e Event) []error {
	d.mu.RLock()
	hs := append([]Handler(nil), d.handlers[e.Kind]...)
	d.mu.RUnlock()

	var wg sync.WaitGroup
	errCh := make(chan error, len(hs))
	for _, h := range hs {
		if h == nil {
			continue
		}
		wg.Add(1)
		go func(h Handler) {
			defer wg.Done()
			if err := h(ctx, e); err != nil {
				errCh <- err
			}
		}(h)
	}
	wg.Wait()
	close(errCh)

	var errs []error
	for err := range errCh {
		errs = append(errs, err)
	}
	return errs
}

// PublishSync runs every handler subscribed to e.Kind sequentially, in
// subscription order, stopping at the first error. internal/maplist
// publishes "cleared" this way.
func (d *Dispatcher) PublishSync(ctx context.Context, e Event) error {
	d.mu.RLock()
	hs := append([]Handler(nil), d.handlers[e.Kind]...)
	d.mu.RUnlock()

	for _, h := range hs {
		if h == nil {
			continue
		}
		if err := h(ctx, e); err != nil {
			return err
		}
	}
	return nil
}
