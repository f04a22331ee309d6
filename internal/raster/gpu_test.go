package raster

import (
	"context"
	"image"
	"image/color"
	"testing"

	"github.com/allmaps-go/warp/internal/events"
	"github.com/allmaps-go/warp/internal/geom"
)

func TestGPURasterizer_Batch_ProducesTriangleTriples(t *testing.T) {
	w := readyMapForRaster(t)
	r := NewGPURasterizer()

	batch := r.Batch(w, geom.Scale(2, 2))

	if len(batch.Vertices) == 0 {
		t.Fatal("Batch() produced no vertices")
	}
	if len(batch.Vertices)%3 != 0 {
		t.Fatalf("len(Vertices) = %d, want a multiple of 3", len(batch.Vertices))
	}
	if batch.MapID != "map-1" {
		t.Errorf("MapID = %q, want %q", batch.MapID, "map-1")
	}
	if batch.ImageSize != [2]int{2, 2} {
		t.Errorf("ImageSize = %v, want [2 2]", batch.ImageSize)
	}
}

func TestGPURasterizer_Batch_UVWithinUnitRange(t *testing.T) {
	w := readyMapForRaster(t)
	r := NewGPURasterizer()

	batch := r.Batch(w, geom.Identity())
	for _, v := range batch.Vertices {
		if v.U < 0 || v.U > 1 || v.V < 0 || v.V > 1 {
			t.Errorf("vertex UV = (%f, %f), want within [0,1]", v.U, v.V)
		}
	}
}

func TestGPURasterizer_Batch_CarriesEffectsAndNoPrevVerticesWhenSettled(t *testing.T) {
	w := readyMapForRaster(t)
	r := NewGPURasterizer()

	batch := r.Batch(w, geom.Identity())
	if batch.CrossFadeT != 1 {
		t.Errorf("CrossFadeT = %v, want 1 for a map with no pending transition", batch.CrossFadeT)
	}
	if len(batch.PrevVertices) != 0 {
		t.Errorf("PrevVertices = %v, want empty with no transition in progress", batch.PrevVertices)
	}
	if batch.Effects.Opacity != 1 {
		t.Errorf("Effects.Opacity = %v, want 1 (default)", batch.Effects.Opacity)
	}
}

func TestGPURasterizer_Batch_IncludesPrevVerticesDuringTransition(t *testing.T) {
	w := readyMapForRaster(t)
	if err := w.SetResourceMask(geom.Ring{{0, 0}, {2, 0}, {2, 2}, {0, 2}}); err != nil {
		t.Fatalf("SetResourceMask: %v", err)
	}

	r := NewGPURasterizer()
	batch := r.Batch(w, geom.Identity())
	if batch.CrossFadeT >= 1 {
		t.Errorf("CrossFadeT = %v, want < 1 immediately after SetResourceMask", batch.CrossFadeT)
	}
	if len(batch.PrevVertices) == 0 {
		t.Error("PrevVertices is empty, want the pre-change triangulation during a cross-fade")
	}
}

func TestBuildAtlas_PacksTilesWithoutOverlap(t *testing.T) {
	mkTile := func(w, h int) image.Image {
		img := image.NewRGBA(image.Rect(0, 0, w, h))
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				img.SetRGBA(x, y, color.RGBA{R: 1, A: 255})
			}
		}
		return img
	}
	tiles := []AtlasTile{
		{MapID: "a", ScaleFactor: 1, Img: mkTile(8, 4)},
		{MapID: "b", ScaleFactor: 1, Img: mkTile(4, 8)},
		{MapID: "c", ScaleFactor: 2, Img: mkTile(6, 6)},
	}

	atlas := BuildAtlas(tiles, 16)
	if len(atlas.Entries) != len(tiles) {
		t.Fatalf("len(Entries) = %d, want %d", len(atlas.Entries), len(tiles))
	}
	for i, e := range atlas.Entries {
		r := image.Rect(e.AtlasX, e.AtlasY, e.AtlasX+e.RegionW, e.AtlasY+e.RegionH)
		if !r.In(atlas.Img.Bounds()) {
			t.Errorf("entry %d rect %v not within atlas bounds %v", i, r, atlas.Img.Bounds())
		}
		for j, other := range atlas.Entries {
			if i == j {
				continue
			}
			or := image.Rect(other.AtlasX, other.AtlasY, other.AtlasX+other.RegionW, other.AtlasY+other.RegionH)
			if r.Overlaps(or) {
				t.Errorf("entry %d (%v) overlaps entry %d (%v)", i, r, j, or)
			}
		}
	}
}

func TestGPURasterizer_Atlas_PublishesTexturesUpdated(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	r := &GPURasterizer{Dispatcher: events.NewDispatcher()}

	fired := false
	r.Dispatcher.Subscribe(events.KindTexturesUpdated, func(ctx context.Context, e events.Event) error {
		fired = true
		return nil
	})

	r.Atlas([]AtlasTile{{MapID: "a", Img: img}}, 16)
	if !fired {
		t.Error("texturesupdated handler was not invoked")
	}
}
