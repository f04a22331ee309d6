// Package maplist implements WarpedMapList: the ordered, spatially
// indexed collection of WarpedMaps a renderer draws. Concurrent access
// uses an RWMutex-guarded map; spatial queries run against
// github.com/tidwall/rtree for the bbox lookup the renderer's
// map-selection step runs every frame.
package maplist

import (
	"context"
	"errors"
	"math"
	"sort"
	"sync"

	"github.com/tidwall/rtree"

	"github.com/allmaps-go/warp/internal/events"
	"github.com/allmaps-go/warp/internal/geom"
	"github.com/allmaps-go/warp/internal/warpedmap"
)

// ErrDuplicateMapID is returned by Add when a map with the same mapId is
// already present in the list: mapId is the list's primary key, and a
// duplicate add leaves the list unmodified.
var ErrDuplicateMapID = errors.New("maplist: map with this mapId already present")

// ErrNotFound is returned by operations referencing a mapId the list
// does not contain.
var ErrNotFound = errors.New("maplist: mapId not found")

// WarpedMapList is the ordered collection of maps a renderer composes
// in z-order. It is safe for concurrent use.
type WarpedMapList struct {
	mu         sync.RWMutex
	byID       map[string]*warpedmap.WarpedMap
	order      []string // mapIds in z-order, back-to-front
	index      rtree.RTreeG[string]
	dispatcher *events.Dispatcher
}

// New returns an empty WarpedMapList.
func New() *WarpedMapList {
	return &WarpedMapList{
		byID:       make(map[string]*warpedmap.WarpedMap),
		dispatcher: events.NewDispatcher(),
	}
}

// Dispatcher returns the list's event dispatcher. Subscribe to
// events.KindWarpedMapAdded, KindWarpedMapRemoved, and KindCleared to
// observe membership changes.
func (l *WarpedMapList) Dispatcher() *events.Dispatcher {
	return l.dispatcher
}

// Add appends a map to the top of the z-order. It returns
// ErrDuplicateMapID without modifying the list if a map with the same
// mapId is already present.
func (l *WarpedMapList) Add(w *warpedmap.WarpedMap) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.byID[w.MapID()]; exists {
		return ErrDuplicateMapID
	}
	w.SetZIndex(len(l.order))
	l.byID[w.MapID()] = w
	l.order = append(l.order, w.MapID())
	l.reindexLocked(w.MapID())
	l.dispatcher.Publish(context.Background(), events.Event{Kind: events.KindWarpedMapAdded, Data: w.MapID()})
	return nil
}

// Remove takes a map out of the list by mapId.
func (l *WarpedMapList) Remove(mapID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.byID[mapID]; !exists {
		return ErrNotFound
	}
	delete(l.byID, mapID)
	for i, id := range l.order {
		if id == mapID {
			l.order = append(l.order[:i], l.order[i+1:]...)
			break
		}
	}
	l.rebuildIndexLocked()
	l.dispatcher.Publish(context.Background(), events.Event{Kind: events.KindWarpedMapRemoved, Data: mapID})
	return nil
}

// Get returns the map with the given mapId, or nil if not present.
func (l *WarpedMapList) Get(mapID string) *warpedmap.WarpedMap {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.byID[mapID]
}

// Len returns the number of maps in the list.
func (l *WarpedMapList) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.order)
}

// Clear removes every map from the list.
func (l *WarpedMapList) Clear() {
	l.mu.Lock()
	l.byID = make(map[string]*warpedmap.WarpedMap)
	l.order = nil
	l.index = rtree.RTreeG[string]{}
	l.mu.Unlock()
	l.dispatcher.PublishSync(context.Background(), events.Event{Kind: events.KindCleared})
}

// All returns every map in z-order, back-to-front.
func (l *WarpedMapList) All() []*warpedmap.WarpedMap {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]*warpedmap.WarpedMap, len(l.order))
	for i, id := range l.order {
		out[i] = l.byID[id]
	}
	return out
}

func (l *WarpedMapList) removeFromOrderLocked(mapID string) (int, bool) {
	for i, id := range l.order {
		if id == mapID {
			l.order = append(l.order[:i], l.order[i+1:]...)
			return i, true
		}
	}
	return -1, false
}

func (l *WarpedMapList) reassignZIndicesLocked() {
	for i, id := range l.order {
		l.byID[id].SetZIndex(i)
	}
}

// BringToFront moves a map to the end of the z-order (drawn last, i.e. on top).
func (l *WarpedMapList) BringToFront(mapID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.byID[mapID]; !exists {
		return ErrNotFound
	}
	l.removeFromOrderLocked(mapID)
	l.order = append(l.order, mapID)
	l.reassignZIndicesLocked()
	return nil
}

// SendToBack moves a map to the start of the z-order (drawn first, i.e. on bottom).
func (l *WarpedMapList) SendToBack(mapID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.byID[mapID]; !exists {
		return ErrNotFound
	}
	l.removeFromOrderLocked(mapID)
	l.order = append([]string{mapID}, l.order...)
	l.reassignZIndicesLocked()
	return nil
}

// BringForward swaps a map one position later in the z-order (towards
// the top). A map already at the front is left unchanged.
func (l *WarpedMapList) BringForward(mapID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	i, exists := l.indexOfLocked(mapID)
	if !exists {
		return ErrNotFound
	}
	if i == len(l.order)-1 {
		return nil
	}
	l.order[i], l.order[i+1] = l.order[i+1], l.order[i]
	l.reassignZIndicesLocked()
	return nil
}

// SendBackward swaps a map one position earlier in the z-order (towards
// the bottom). A map already at the back is left unchanged.
func (l *WarpedMapList) SendBackward(mapID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	i, exists := l.indexOfLocked(mapID)
	if !exists {
		return ErrNotFound
	}
	if i == 0 {
		return nil
	}
	l.order[i], l.order[i-1] = l.order[i-1], l.order[i]
	l.reassignZIndicesLocked()
	return nil
}

func (l *WarpedMapList) indexOfLocked(mapID string) (int, bool) {
	if _, exists := l.byID[mapID]; !exists {
		return -1, false
	}
	for i, id := range l.order {
		if id == mapID {
			return i, true
		}
	}
	return -1, false
}

// Bbox returns the union of the projected bounds of the given mapIds (or
// every map in the list, if mapIds is empty). Maps not yet Ready are
// skipped since their projected bound is not yet known.
func (l *WarpedMapList) Bbox(mapIDs []string) geom.Bound {
	l.mu.RLock()
	defer l.mu.RUnlock()

	ids := mapIDs
	if len(ids) == 0 {
		ids = l.order
	}
	b := geom.Bound{
		Min: geom.Point{math.Inf(1), math.Inf(1)},
		Max: geom.Point{math.Inf(-1), math.Inf(-1)},
	}
	any := false
	for _, id := range ids {
		w := l.byID[id]
		if w == nil || !isDrawable(w.State()) {
			continue
		}
		b = b.Extend(w.ProjectedBound().Min)
		b = b.Extend(w.ProjectedBound().Max)
		any = true
	}
	if !any {
		return geom.Bound{}
	}
	return b
}

// ConvexHull returns the convex hull, in projectedGeo space, of every
// mask vertex of the given mapIds (or every map in the list, if mapIds
// is empty). Maps not yet Ready are skipped.
func (l *WarpedMapList) ConvexHull(mapIDs []string) geom.Ring {
	l.mu.RLock()
	defer l.mu.RUnlock()

	ids := mapIDs
	if len(ids) == 0 {
		ids = l.order
	}
	var points []geom.Point
	for _, id := range ids {
		w := l.byID[id]
		if w == nil || !isDrawable(w.State()) {
			continue
		}
		points = append(points, w.ProjectedMask()...)
	}
	return geom.ConvexHull(points)
}

// IntersectingBound returns every Ready, Visible map whose projected
// bound intersects q, in z-order. This is the renderer's map-selection
// step, backed by the rtree spatial index rather than a linear scan so
// it stays cheap as the list grows.
func (l *WarpedMapList) IntersectingBound(q geom.Bound) []*warpedmap.WarpedMap {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var ids []string
	l.index.Search(
		[2]float64{q.Min[0], q.Min[1]},
		[2]float64{q.Max[0], q.Max[1]},
		func(min, max [2]float64, mapID string) bool {
			ids = append(ids, mapID)
			return true
		},
	)

	matches := make([]*warpedmap.WarpedMap, 0, len(ids))
	for _, id := range ids {
		w := l.byID[id]
		if w != nil && w.Visible() && isDrawable(w.State()) {
			matches = append(matches, w)
		}
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].ZIndex() < matches[j].ZIndex() })
	return matches
}

// reindexLocked inserts mapID's current projected bound into the
// spatial index. Called whenever a map transitions to Ready (its bound
// only becomes known then), not just on Add.
func (l *WarpedMapList) reindexLocked(mapID string) {
	w := l.byID[mapID]
	if w == nil || !isDrawable(w.State()) {
		return
	}
	b := w.ProjectedBound()
	l.index.Insert([2]float64{b.Min[0], b.Min[1]}, [2]float64{b.Max[0], b.Max[1]}, mapID)
}

// Reindex must be called after a Pending map transitions to Ready so its
// bound is inserted into the spatial index; WarpedMapList cannot observe
// that transition itself without polling, so the renderer calls this once
// per map after a successful SetImageInfo.
func (l *WarpedMapList) Reindex(mapID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.reindexLocked(mapID)
}

// isDrawable reports whether a map in state s should be selected and
// drawn: Ready maps normally, and Changing maps too since they are
// mid cross-fade rather than unusable.
func isDrawable(s warpedmap.State) bool {
	return s == warpedmap.StateReady || s == warpedmap.StateChanging
}

func (l *WarpedMapList) rebuildIndexLocked() {
	l.index = rtree.RTreeG[string]{}
	for _, id := range l.order {
		l.reindexLocked(id)
	}
}
