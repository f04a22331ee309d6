package tilecache

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/allmaps-go/warp/internal/events"
)

type fakeFetcher struct {
	calls  int32
	delay  time.Duration
	failOn map[string]bool
}

func (f *fakeFetcher) FetchTile(ctx context.Context, url string) ([]byte, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.failOn[url] {
		return nil, fmt.Errorf("simulated failure for %s", url)
	}
	return []byte(url), nil
}

type fakeDecoder struct{}

func (fakeDecoder) Decode(data []byte, format string) (image.Image, error) {
	img := image.NewRGBA(image.Rect(0, 0, 1, 1))
	img.Set(0, 0, color.RGBA{R: uint8(len(data)), A: 255})
	return img, nil
}

func TestCache_Get_FetchesAndCaches(t *testing.T) {
	f := &fakeFetcher{}
	c := New(f, fakeDecoder{}, 0)
	key := Key{URL: "https://example.org/tile/1", Format: "jpg"}

	if _, err := c.Get(context.Background(), key); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if _, err := c.Get(context.Background(), key); err != nil {
		t.Fatalf("Get (cached): %v", err)
	}
	if atomic.LoadInt32(&f.calls) != 1 {
		t.Errorf("fetcher called %d times, want 1", f.calls)
	}
}

func TestCache_Get_CollapsesConcurrentFetches(t *testing.T) {
	f := &fakeFetcher{delay: 20 * time.Millisecond}
	c := New(f, fakeDecoder{}, 0)
	key := Key{URL: "https://example.org/tile/2", Format: "jpg"}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Get(context.Background(), key); err != nil {
				t.Errorf("Get: %v", err)
			}
		}()
	}
	wg.Wait()

	if atomic.LoadInt32(&f.calls) != 1 {
		t.Errorf("fetcher called %d times, want 1 (collapsed)", f.calls)
	}
}

func TestCache_Get_PropagatesFetchError(t *testing.T) {
	url := "https://example.org/tile/bad"
	f := &fakeFetcher{failOn: map[string]bool{url: true}}
	c := New(f, fakeDecoder{}, 0)

	if _, err := c.Get(context.Background(), Key{URL: url, Format: "jpg"}); err == nil {
		t.Fatal("Get() error = nil, want failure")
	}
}

func TestCache_Get_ContextCancelled(t *testing.T) {
	f := &fakeFetcher{delay: time.Second}
	c := New(f, fakeDecoder{}, 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := c.Get(ctx, Key{URL: "https://example.org/tile/3", Format: "jpg"}); err == nil {
		t.Fatal("Get() error = nil, want context.Canceled")
	}
}

func TestCache_Eviction_BoundsSize(t *testing.T) {
	f := &fakeFetcher{}
	c := New(f, fakeDecoder{}, 2)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		url := fmt.Sprintf("https://example.org/tile/%d", i)
		if _, err := c.Get(ctx, Key{URL: url, Format: "jpg"}); err != nil {
			t.Fatalf("Get: %v", err)
		}
	}
	if c.Len() > 2 {
		t.Errorf("Len() = %d, want <= 2", c.Len())
	}
}

func TestCache_Prune(t *testing.T) {
	f := &fakeFetcher{}
	c := New(f, fakeDecoder{}, 0)
	ctx := context.Background()

	keyA := Key{URL: "https://example.org/tile/a", Format: "jpg"}
	keyB := Key{URL: "https://example.org/tile/b", Format: "jpg"}
	c.Get(ctx, keyA)
	c.Get(ctx, keyB)

	c.Prune(func(keyStr string) bool { return keyStr == keyA.String() })

	if _, ok := c.Peek(keyA); !ok {
		t.Error("Peek(keyA) ok = false, want true (kept)")
	}
	if _, ok := c.Peek(keyB); ok {
		t.Error("Peek(keyB) ok = true, want false (pruned)")
	}
}

func TestCache_Get_SurvivesFirstCallerCancellation(t *testing.T) {
	f := &fakeFetcher{delay: 30 * time.Millisecond}
	c := New(f, fakeDecoder{}, 0)
	key := Key{URL: "https://example.org/tile/survive", Format: "jpg"}

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := c.Get(firstCtx, key)
		errCh <- err
	}()
	time.Sleep(5 * time.Millisecond)
	cancelFirst()
	if err := <-errCh; err == nil {
		t.Fatal("first caller's Get() error = nil, want context.Canceled")
	}

	if _, err := c.Get(context.Background(), key); err != nil {
		t.Fatalf("second caller's Get() error = %v, want the shared fetch to still succeed", err)
	}
}

func TestCache_Abort_CancelsInFlightFetch(t *testing.T) {
	f := &fakeFetcher{delay: 2 * time.Second}
	c := New(f, fakeDecoder{}, 0)
	key := Key{URL: "https://example.org/tile/abort", Format: "jpg"}

	errCh := make(chan error, 1)
	go func() {
		_, err := c.Get(context.Background(), key)
		errCh <- err
	}()
	time.Sleep(5 * time.Millisecond)
	c.Abort(key)

	select {
	case err := <-errCh:
		if err == nil {
			t.Fatal("Get() error = nil after Abort, want failure")
		}
	case <-time.After(time.Second):
		t.Fatal("Get() did not return within 1s of Abort")
	}
}

func TestCache_InFlight(t *testing.T) {
	f := &fakeFetcher{delay: 30 * time.Millisecond}
	c := New(f, fakeDecoder{}, 0)
	key := Key{URL: "https://example.org/tile/inflight", Format: "jpg"}

	done := make(chan struct{})
	go func() {
		c.Get(context.Background(), key)
		close(done)
	}()
	time.Sleep(5 * time.Millisecond)
	if c.InFlight() != 1 {
		t.Errorf("InFlight() = %d while fetching, want 1", c.InFlight())
	}
	<-done
	if c.InFlight() != 0 {
		t.Errorf("InFlight() = %d after fetch completed, want 0", c.InFlight())
	}
}

func TestCache_Prune_CancelsInFlightFetch(t *testing.T) {
	f := &fakeFetcher{delay: 2 * time.Second}
	c := New(f, fakeDecoder{}, 0)
	key := Key{URL: "https://example.org/tile/pruneinflight", Format: "jpg"}

	errCh := make(chan error, 1)
	go func() {
		_, err := c.Get(context.Background(), key)
		errCh <- err
	}()
	time.Sleep(5 * time.Millisecond)
	c.Prune(func(keyStr string) bool { return false })

	select {
	case err := <-errCh:
		if err == nil {
			t.Fatal("Get() error = nil after Prune evicted its key, want failure")
		}
	case <-time.After(time.Second):
		t.Fatal("Get() did not return within 1s of Prune")
	}
}

func TestCache_PublishesTileFetchedAndError(t *testing.T) {
	badURL := "https://example.org/tile/evt-bad"
	f := &fakeFetcher{failOn: map[string]bool{badURL: true}}
	c := New(f, fakeDecoder{}, 0)

	var fetched, failed int32
	c.Dispatcher().Subscribe(events.KindTileFetched, func(ctx context.Context, e events.Event) error {
		atomic.AddInt32(&fetched, 1)
		return nil
	})
	c.Dispatcher().Subscribe(events.KindTileFetchError, func(ctx context.Context, e events.Event) error {
		atomic.AddInt32(&failed, 1)
		return nil
	})

	c.Get(context.Background(), Key{URL: "https://example.org/tile/evt-ok", Format: "jpg"})
	c.Get(context.Background(), Key{URL: badURL, Format: "jpg"})

	if atomic.LoadInt32(&fetched) != 1 {
		t.Errorf("TileFetched handler called %d times, want 1", fetched)
	}
	if atomic.LoadInt32(&failed) != 1 {
		t.Errorf("TileFetchError handler called %d times, want 1", failed)
	}
}

func TestCache_Clear(t *testing.T) {
	f := &fakeFetcher{}
	c := New(f, fakeDecoder{}, 0)
	c.Get(context.Background(), Key{URL: "https://example.org/tile/x", Format: "jpg"})
	c.Clear()
	if c.Len() != 0 {
		t.Errorf("Len() after Clear = %d, want 0", c.Len())
	}
}
