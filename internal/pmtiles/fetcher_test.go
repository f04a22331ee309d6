package pmtiles

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/allmaps-go/warp/internal/iiif"
)

func packFixture(t *testing.T, tiles map[[3]int][]byte) *Reader {
	t.Helper()
	tmpDir := t.TempDir()
	outPath := filepath.Join(tmpDir, "fixture.pmtiles")

	w, err := NewWriter(outPath, WriterOptions{TileFormat: TileTypeJPEG})
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	for zxy, data := range tiles {
		if err := w.WriteTile(zxy[0], zxy[1], zxy[2], data); err != nil {
			t.Fatalf("WriteTile%v: %v", zxy, err)
		}
	}
	if err := w.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	r, err := OpenReader(outPath)
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	t.Cleanup(func() { r.Close() })
	return r
}

func TestFetcher_FetchTile_ScaleFactorOne(t *testing.T) {
	data := []byte("tile-0-0-at-full-res")
	r := packFixture(t, map[[3]int][]byte{{0, 0, 0}: data})
	f := NewFetcher(r, 4, 4)

	svc := iiif.ImageService{ID: "https://example.org/iiif/image1", Version: iiif.APIVersion3}
	url := iiif.TileURL(svc, iiif.TileRequest{
		RegionX: 0, RegionY: 0, RegionWidth: 4, RegionHeight: 4,
		SizeWidth: 4, SizeHeight: 4, Format: "jpg",
	})

	got, err := f.FetchTile(context.Background(), url)
	if err != nil {
		t.Fatalf("FetchTile: %v", err)
	}
	if string(got) != string(data) {
		t.Errorf("FetchTile = %q, want %q", got, data)
	}
}

func TestFetcher_FetchTile_RecoversScaleFactorFromDownsampledSize(t *testing.T) {
	// scaleFactor 2 tile at col=1,row=0: region x=1*4*2=8, w=4*2=8, downsampled size 4x4.
	data := []byte("tile-at-scale-2")
	r := packFixture(t, map[[3]int][]byte{{1, 1, 0}: data})
	f := NewFetcher(r, 4, 4)

	svc := iiif.ImageService{ID: "https://example.org/iiif/image1", Version: iiif.APIVersion3}
	url := iiif.TileURL(svc, iiif.TileRequest{
		RegionX: 8, RegionY: 0, RegionWidth: 8, RegionHeight: 8,
		SizeWidth: 4, SizeHeight: 4, Format: "jpg",
	})

	got, err := f.FetchTile(context.Background(), url)
	if err != nil {
		t.Fatalf("FetchTile: %v", err)
	}
	if string(got) != string(data) {
		t.Errorf("FetchTile = %q, want %q", got, data)
	}
}

func TestFetcher_FetchTile_MissingTileErrors(t *testing.T) {
	r := packFixture(t, map[[3]int][]byte{{0, 0, 0}: []byte("only-tile")})
	f := NewFetcher(r, 4, 4)

	svc := iiif.ImageService{ID: "https://example.org/iiif/image1", Version: iiif.APIVersion3}
	url := iiif.TileURL(svc, iiif.TileRequest{
		RegionX: 4, RegionY: 4, RegionWidth: 4, RegionHeight: 4,
		SizeWidth: 4, SizeHeight: 4, Format: "jpg",
	})

	if _, err := f.FetchTile(context.Background(), url); err == nil {
		t.Error("FetchTile should error for a tile never packed into the archive")
	}
}

func TestFetcher_FetchTile_MalformedURL(t *testing.T) {
	r := packFixture(t, nil)
	f := NewFetcher(r, 4, 4)

	if _, err := f.FetchTile(context.Background(), "not-a-tile-url"); err == nil {
		t.Error("FetchTile should error on a malformed URL")
	}
}

func TestFetcher_FetchTile_ContextCancelled(t *testing.T) {
	r := packFixture(t, map[[3]int][]byte{{0, 0, 0}: []byte("data")})
	f := NewFetcher(r, 4, 4)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := f.FetchTile(ctx, "https://example.org/iiif/image1/0,0,4,4/4,4/0/default.jpg"); err == nil {
		t.Error("FetchTile should error when the context is already cancelled")
	}
}
