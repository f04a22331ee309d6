package tilegrid

import "testing"

func TestLevels_ComputesDimensionsAndGridSize(t *testing.T) {
	levels := Levels(1000, 800, 256, 256, []int{1, 2, 4})
	if len(levels) != 3 {
		t.Fatalf("Levels() = %d levels, want 3", len(levels))
	}
	full := levels[0]
	if full.ScaleFactor != 1 || full.Width != 1000 || full.Height != 800 {
		t.Errorf("levels[0] = %+v, want scaleFactor=1 1000x800", full)
	}
	if full.Cols != 4 || full.Rows != 4 { // ceil(1000/256)=4, ceil(800/256)=4
		t.Errorf("levels[0] grid = %dx%d, want 4x4", full.Cols, full.Rows)
	}
}

func TestLevels_SortedByScaleFactor(t *testing.T) {
	levels := Levels(1000, 800, 256, 256, []int{8, 1, 4, 2})
	for i := 1; i < len(levels); i++ {
		if levels[i].ScaleFactor <= levels[i-1].ScaleFactor {
			t.Errorf("levels not sorted ascending: %+v", levels)
		}
	}
}

func TestLevels_IgnoresInvalidScaleFactors(t *testing.T) {
	levels := Levels(1000, 800, 256, 256, []int{0, -1, 2})
	if len(levels) != 1 {
		t.Fatalf("Levels() = %d levels, want 1 (only scaleFactor=2 valid)", len(levels))
	}
}

func TestSelectLevel(t *testing.T) {
	levels := Levels(4096, 4096, 256, 256, []int{1, 2, 4, 8, 16})

	tests := []struct {
		name             string
		pixelsPerViewport float64
		wantScaleFactor  int
	}{
		{"full detail needed", 1, 1},
		{"half detail", 2, 2},
		{"between levels rounds down to finer", 3, 2},
		{"coarsest sufficient", 20, 16},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lvl, ok := SelectLevel(levels, tt.pixelsPerViewport)
			if !ok {
				t.Fatal("SelectLevel() ok = false")
			}
			if lvl.ScaleFactor != tt.wantScaleFactor {
				t.Errorf("SelectLevel(%v) scaleFactor = %d, want %d", tt.pixelsPerViewport, lvl.ScaleFactor, tt.wantScaleFactor)
			}
		})
	}
}

func TestSelectLevel_Empty(t *testing.T) {
	if _, ok := SelectLevel(nil, 1); ok {
		t.Error("SelectLevel(nil) ok = true, want false")
	}
}

func TestTilesForRegion_CoversRequestedArea(t *testing.T) {
	levels := Levels(1000, 1000, 256, 256, []int{1})
	tiles := TilesForRegion(levels[0], 256, 256, 0, 0, 999, 999)
	if len(tiles) != 16 { // 4x4 grid
		t.Fatalf("TilesForRegion(full image) = %d tiles, want 16", len(tiles))
	}
}

func TestTilesForRegion_CenterOutOrder(t *testing.T) {
	levels := Levels(1280, 1280, 256, 256, []int{1}) // 5x5 grid, center tile (2,2)
	tiles := TilesForRegion(levels[0], 256, 256, 0, 0, 1279, 1279)
	if len(tiles) == 0 {
		t.Fatal("no tiles returned")
	}
	first := tiles[0]
	if first.Col != 2 || first.Row != 2 {
		t.Errorf("first tile = %+v, want the center tile (2,2)", first)
	}
	last := tiles[len(tiles)-1]
	cornerDist := (last.Col-2)*(last.Col-2) + (last.Row-2)*(last.Row-2)
	if cornerDist < 2 {
		t.Errorf("last tile %+v is not a far corner", last)
	}
}

func TestRegion_ClampsToResourceBounds(t *testing.T) {
	levels := Levels(300, 300, 256, 256, []int{1}) // 2x2 grid, last tile partial
	x, y, w, h := Region(levels[0], 256, 256, Tile{ScaleFactor: 1, Col: 1, Row: 1}, 300, 300)
	if x != 256 || y != 256 {
		t.Errorf("Region() origin = (%d, %d), want (256, 256)", x, y)
	}
	if w != 44 || h != 44 {
		t.Errorf("Region() size = %dx%d, want 44x44 (clamped to resource bounds)", w, h)
	}
}
