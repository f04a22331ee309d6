// Package tilecache fetches and decodes IIIF image tiles, collapsing
// concurrent requests for the same tile and bounding memory with an
// LRU-ish eviction policy. Fetch collapsing is built on
// golang.org/x/sync/singleflight instead of a hand-rolled in-flight map;
// eviction bookkeeping is a fixed-capacity map plus an insertion-order
// slice.
package tilecache

import (
	"context"
	"fmt"
	"image"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/allmaps-go/warp/internal/encode"
	"github.com/allmaps-go/warp/internal/events"
	"github.com/allmaps-go/warp/internal/iiif"
)

// Key identifies one cached tile: the image service it came from, the
// IIIF URL that was fetched, and the format used to decode it.
type Key struct {
	ImageServiceID string
	URL            string
	Format         string
}

func (k Key) String() string {
	return k.ImageServiceID + "|" + k.URL
}

type entry struct {
	img image.Image
}

// Cache fetches, decodes, and retains IIIF tile images. A single Cache
// is shared across every WarpedMap a renderer draws, so tiles requested
// by overlapping maps or repeated frames are fetched and decoded once.
type Cache struct {
	fetcher iiif.TileFetcher
	decoder encode.Decoder

	group singleflight.Group

	mu       sync.Mutex
	entries  map[string]*entry
	order    []string
	maxSize  int
	inFlight map[string]context.CancelFunc

	dispatcher *events.Dispatcher
}

// New creates a Cache bounded to maxEntries decoded tiles. fetcher
// retrieves raw tile bytes (an *http.Client-backed fetcher, or the
// offline fixture reader in internal/pmtiles); decoder turns those
// bytes into an image.Image. A nil decoder defaults to
// encode.DefaultDecoder{}.
func New(fetcher iiif.TileFetcher, decoder encode.Decoder, maxEntries int) *Cache {
	if maxEntries <= 0 {
		maxEntries = 512
	}
	if decoder == nil {
		decoder = encode.DefaultDecoder{}
	}
	return &Cache{
		fetcher:    fetcher,
		decoder:    decoder,
		entries:    make(map[string]*entry, maxEntries),
		order:      make([]string, 0, maxEntries),
		maxSize:    maxEntries,
		inFlight:   make(map[string]context.CancelFunc),
		dispatcher: events.NewDispatcher(),
	}
}

// Dispatcher returns the cache's event registry. Subscribe to
// events.KindTileFetched and KindTileFetchError to observe fetch outcomes.
func (c *Cache) Dispatcher() *events.Dispatcher { return c.dispatcher }

// Get returns the decoded tile for key, fetching and decoding it if it
// is not already cached. Concurrent Get calls for the same key share a
// single in-flight fetch, which runs on its own context independent of
// any one caller's ctx: the fetch is only canceled by Abort, Clear, or
// Prune evicting the key, never merely because the first caller to arrive gave
// up waiting while other callers are still interested in the result.
// This caller's own ctx cancellation still stops this Get from waiting,
// without affecting the shared fetch.
func (c *Cache) Get(ctx context.Context, key Key) (image.Image, error) {
	keyStr := key.String()
	if img, ok := c.peek(keyStr); ok {
		return img, nil
	}

	resultCh := c.group.DoChan(keyStr, func() (interface{}, error) {
		if img, ok := c.peek(keyStr); ok {
			return img, nil
		}

		fetchCtx, cancel := context.WithCancel(context.Background())
		c.mu.Lock()
		c.inFlight[keyStr] = cancel
		c.mu.Unlock()
		defer func() {
			c.mu.Lock()
			delete(c.inFlight, keyStr)
			c.mu.Unlock()
			cancel()
		}()

		data, err := c.fetcher.FetchTile(fetchCtx, key.URL)
		if err != nil {
			c.dispatcher.Publish(context.Background(), events.Event{Kind: events.KindTileFetchError, Data: key})
			return nil, fmt.Errorf("fetching tile %s: %w", key.URL, err)
		}
		img, err := c.decoder.Decode(data, key.Format)
		if err != nil {
			c.dispatcher.Publish(context.Background(), events.Event{Kind: events.KindTileFetchError, Data: key})
			return nil, fmt.Errorf("decoding tile %s: %w", key.URL, err)
		}
		c.put(keyStr, img)
		c.dispatcher.Publish(context.Background(), events.Event{Kind: events.KindTileFetched, Data: key})
		return img, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-resultCh:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(image.Image), nil
	}
}

// Abort cancels an in-flight fetch for key, if one is running. Callers
// no longer interested in a specific tile URL (it scrolled out of the
// buffered viewport before its fetch completed) call this directly
// rather than waiting for the next Prune.
func (c *Cache) Abort(key Key) {
	c.mu.Lock()
	cancel, ok := c.inFlight[key.String()]
	c.mu.Unlock()
	if ok {
		cancel()
	}
}

// InFlight reports the number of fetches currently in progress, used by
// a renderer to implement allRequestedTilesLoaded(): once every
// requested tile is resident or failed and InFlight reaches zero, the
// frame's tile set is settled.
func (c *Cache) InFlight() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.inFlight)
}

// Peek returns a cached tile without fetching, for a renderer that wants
// to draw whatever is already resident and request the rest in the
// background.
func (c *Cache) Peek(key Key) (image.Image, bool) {
	return c.peek(key.String())
}

func (c *Cache) peek(keyStr string) (image.Image, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[keyStr]
	if !ok {
		return nil, false
	}
	return e.img, true
}

func (c *Cache) put(keyStr string, img image.Image) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[keyStr]; ok {
		return
	}
	for len(c.entries) >= c.maxSize && len(c.order) > 0 {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}
	c.entries[keyStr] = &entry{img: img}
	c.order = append(c.order, keyStr)
}

// Len reports the number of tiles currently resident.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Prune drops every cached tile for which keep returns false, and
// cancels any in-flight fetch whose key keep also rejects. A renderer
// calls this after each frame with a set of keys still visible, so
// tiles (and their pending fetches) that scrolled out of the buffered
// viewport are freed instead of waiting for capacity-triggered eviction
// or running to completion unused.
func (c *Cache) Prune(keep func(keyStr string) bool) {
	var toCancel []context.CancelFunc

	c.mu.Lock()
	newOrder := c.order[:0]
	for _, k := range c.order {
		if keep(k) {
			newOrder = append(newOrder, k)
			continue
		}
		delete(c.entries, k)
	}
	c.order = newOrder
	for k, cancel := range c.inFlight {
		if !keep(k) {
			toCancel = append(toCancel, cancel)
		}
	}
	c.mu.Unlock()

	for _, cancel := range toCancel {
		cancel()
	}
}

// Clear removes every cached tile and cancels any in-flight fetches.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]*entry, c.maxSize)
	c.order = c.order[:0]
	cancels := make([]context.CancelFunc, 0, len(c.inFlight))
	for _, cancel := range c.inFlight {
		cancels = append(cancels, cancel)
	}
	c.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
}
