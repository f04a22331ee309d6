package maplist

import (
	"context"
	"testing"

	"github.com/allmaps-go/warp/internal/annotation"
	"github.com/allmaps-go/warp/internal/coord"
	"github.com/allmaps-go/warp/internal/events"
	"github.com/allmaps-go/warp/internal/geom"
	"github.com/allmaps-go/warp/internal/warpedmap"
)

func readyMap(t *testing.T, mapID string, offset float64) *warpedmap.WarpedMap {
	t.Helper()
	data := []byte(`{
		"id": "` + mapID + `",
		"resourceId": "x",
		"resourceWidth": 100,
		"resourceHeight": 100,
		"transformation": "polynomial",
		"polynomialOrder": 1,
		"gcps": [
			{"id": "a", "resource": [0, 0], "geo": [8.5, 47.3]},
			{"id": "b", "resource": [100, 0], "geo": [8.6, 47.3]},
			{"id": "c", "resource": [100, 100], "geo": [8.6, 47.4]}
		]
	}`)
	a, err := annotation.Decode(data)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	w := warpedmap.New(a, coord.ForEPSG(3857), 0)
	if err := w.SetImageInfo(&warpedmap.ImageInfo{Width: 100, Height: 100}); err != nil {
		t.Fatalf("SetImageInfo() error = %v", err)
	}
	_ = offset
	return w
}

func TestAdd_RejectsDuplicateMapID(t *testing.T) {
	l := New()
	w1 := readyMap(t, "dup", 0)
	w2 := readyMap(t, "dup", 0)

	if err := l.Add(w1); err != nil {
		t.Fatalf("Add() first error = %v", err)
	}
	if err := l.Add(w2); err != ErrDuplicateMapID {
		t.Errorf("Add() second error = %v, want ErrDuplicateMapID", err)
	}
	if l.Len() != 1 {
		t.Errorf("Len() = %d after rejected duplicate add, want 1", l.Len())
	}
}

func TestAdd_ZOrderPreserved(t *testing.T) {
	l := New()
	ids := []string{"a", "b", "c"}
	for _, id := range ids {
		if err := l.Add(readyMap(t, id, 0)); err != nil {
			t.Fatalf("Add(%q) error = %v", id, err)
		}
	}
	all := l.All()
	if len(all) != 3 {
		t.Fatalf("All() returned %d maps, want 3", len(all))
	}
	for i, w := range all {
		if w.MapID() != ids[i] {
			t.Errorf("All()[%d].MapID() = %q, want %q", i, w.MapID(), ids[i])
		}
	}
}

func TestRemove(t *testing.T) {
	l := New()
	l.Add(readyMap(t, "a", 0))
	l.Add(readyMap(t, "b", 0))

	if err := l.Remove("a"); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if l.Len() != 1 {
		t.Errorf("Len() = %d after Remove, want 1", l.Len())
	}
	if l.Get("a") != nil {
		t.Error("Get(\"a\") != nil after Remove")
	}
	if err := l.Remove("a"); err != ErrNotFound {
		t.Errorf("Remove() of already-removed id error = %v, want ErrNotFound", err)
	}
}

func TestBringToFront(t *testing.T) {
	l := New()
	l.Add(readyMap(t, "a", 0))
	l.Add(readyMap(t, "b", 0))
	l.Add(readyMap(t, "c", 0))

	if err := l.BringToFront("a"); err != nil {
		t.Fatalf("BringToFront() error = %v", err)
	}
	all := l.All()
	if all[len(all)-1].MapID() != "a" {
		t.Errorf("last map after BringToFront(\"a\") = %q, want \"a\"", all[len(all)-1].MapID())
	}
	if all[0].ZIndex() != 0 || all[len(all)-1].ZIndex() != len(all)-1 {
		t.Errorf("ZIndex values not reassigned contiguously after BringToFront")
	}
}

func TestSendToBack(t *testing.T) {
	l := New()
	l.Add(readyMap(t, "a", 0))
	l.Add(readyMap(t, "b", 0))
	l.Add(readyMap(t, "c", 0))

	if err := l.SendToBack("c"); err != nil {
		t.Fatalf("SendToBack() error = %v", err)
	}
	all := l.All()
	if all[0].MapID() != "c" {
		t.Errorf("first map after SendToBack(\"c\") = %q, want \"c\"", all[0].MapID())
	}
}

func TestBringForward_AtFrontIsNoop(t *testing.T) {
	l := New()
	l.Add(readyMap(t, "a", 0))
	l.Add(readyMap(t, "b", 0))

	if err := l.BringForward("b"); err != nil {
		t.Fatalf("BringForward() error = %v", err)
	}
	all := l.All()
	if all[len(all)-1].MapID() != "b" {
		t.Errorf("BringForward() on topmost map changed order, last = %q, want \"b\"", all[len(all)-1].MapID())
	}
}

func TestSendBackward(t *testing.T) {
	l := New()
	l.Add(readyMap(t, "a", 0))
	l.Add(readyMap(t, "b", 0))

	if err := l.SendBackward("b"); err != nil {
		t.Fatalf("SendBackward() error = %v", err)
	}
	all := l.All()
	if all[0].MapID() != "b" {
		t.Errorf("first map after SendBackward(\"b\") = %q, want \"b\"", all[0].MapID())
	}
}

func TestBbox_UnionsReadyMaps(t *testing.T) {
	l := New()
	l.Add(readyMap(t, "a", 0))
	l.Add(readyMap(t, "b", 0))

	b := l.Bbox(nil)
	if b.Min[0] > b.Max[0] || b.Min[1] > b.Max[1] {
		t.Errorf("Bbox(nil) = %+v, want a well-formed bound", b)
	}
}

func TestConvexHull_ReturnsNonEmptyRing(t *testing.T) {
	l := New()
	l.Add(readyMap(t, "a", 0))

	hull := l.ConvexHull(nil)
	if len(hull) < 3 {
		t.Errorf("ConvexHull(nil) returned %d points, want >= 3", len(hull))
	}
}

func TestAdd_PublishesWarpedMapAdded(t *testing.T) {
	l := New()
	var got string
	l.Dispatcher().Subscribe(events.KindWarpedMapAdded, func(ctx context.Context, e events.Event) error {
		got = e.Data.(string)
		return nil
	})
	l.Add(readyMap(t, "a", 0))
	if got != "a" {
		t.Errorf("WarpedMapAdded event data = %q, want \"a\"", got)
	}
}

func TestIntersectingBound_FiltersBySpace(t *testing.T) {
	l := New()
	l.Add(readyMap(t, "a", 0))

	allBound := geom.Bound{Min: geom.Point{-2e7, -2e7}, Max: geom.Point{2e7, 2e7}}
	matches := l.IntersectingBound(allBound)
	if len(matches) != 1 {
		t.Fatalf("IntersectingBound(whole world) = %d matches, want 1", len(matches))
	}

	farBound := geom.Bound{Min: geom.Point{1e8, 1e8}, Max: geom.Point{1.1e8, 1.1e8}}
	matches = l.IntersectingBound(farBound)
	if len(matches) != 0 {
		t.Errorf("IntersectingBound(far away) = %d matches, want 0", len(matches))
	}
}

func TestIntersectingBound_SkipsInvisible(t *testing.T) {
	l := New()
	w := readyMap(t, "a", 0)
	l.Add(w)
	w.SetVisible(false)

	allBound := geom.Bound{Min: geom.Point{-2e7, -2e7}, Max: geom.Point{2e7, 2e7}}
	matches := l.IntersectingBound(allBound)
	if len(matches) != 0 {
		t.Errorf("IntersectingBound() = %d matches for an invisible map, want 0", len(matches))
	}
}

func TestClear(t *testing.T) {
	l := New()
	l.Add(readyMap(t, "a", 0))
	l.Clear()
	if l.Len() != 0 {
		t.Errorf("Len() = %d after Clear, want 0", l.Len())
	}
}
