package gcp

import (
	"math"
	"testing"

	"github.com/allmaps-go/warp/internal/geom"
)

// squareGCPs returns ground control points mapping a unit square in
// resource space to a scaled-and-translated square in geo space, exact
// under any affine-capable transformation kind.
func squareGCPs() []GroundControlPoint {
	return []GroundControlPoint{
		{ID: "a", Resource: geom.Point{0, 0}, Geo: geom.Point{100, 200}},
		{ID: "b", Resource: geom.Point{10, 0}, Geo: geom.Point{120, 200}},
		{ID: "c", Resource: geom.Point{10, 10}, Geo: geom.Point{120, 220}},
		{ID: "d", Resource: geom.Point{0, 10}, Geo: geom.Point{100, 220}},
	}
}

func TestFit_Helmert_ExactOnAffineData(t *testing.T) {
	gcps := squareGCPs()
	tr, err := Fit(KindHelmert, gcps, 0)
	if err != nil {
		t.Fatalf("Fit(helmert) error = %v", err)
	}
	for _, g := range gcps {
		got := tr.ToGeo(g.Resource)
		if math.Abs(got[0]-g.Geo[0]) > 1e-6 || math.Abs(got[1]-g.Geo[1]) > 1e-6 {
			t.Errorf("ToGeo(%v) = %v, want %v", g.Resource, got, g.Geo)
		}
	}
}

func TestFit_Polynomial1_RoundTrip(t *testing.T) {
	gcps := squareGCPs()
	tr, err := Fit(KindPolynomial, gcps, 1)
	if err != nil {
		t.Fatalf("Fit(polynomial order 1) error = %v", err)
	}
	for _, g := range gcps {
		geoPt := tr.ToGeo(g.Resource)
		back := tr.ToResource(geoPt)
		if math.Abs(back[0]-g.Resource[0]) > 1e-4 || math.Abs(back[1]-g.Resource[1]) > 1e-4 {
			t.Errorf("roundtrip resource %v -> geo %v -> resource %v", g.Resource, geoPt, back)
		}
	}
}

func TestFit_Projective_InterpolatesControlPoints(t *testing.T) {
	gcps := []GroundControlPoint{
		{ID: "a", Resource: geom.Point{0, 0}, Geo: geom.Point{0, 0}},
		{ID: "b", Resource: geom.Point{10, 0}, Geo: geom.Point{12, 1}},
		{ID: "c", Resource: geom.Point{10, 10}, Geo: geom.Point{11, 13}},
		{ID: "d", Resource: geom.Point{0, 10}, Geo: geom.Point{-1, 12}},
	}
	tr, err := Fit(KindProjective, gcps, 0)
	if err != nil {
		t.Fatalf("Fit(projective) error = %v", err)
	}
	for _, g := range gcps {
		got := tr.ToGeo(g.Resource)
		if math.Abs(got[0]-g.Geo[0]) > 1e-3 || math.Abs(got[1]-g.Geo[1]) > 1e-3 {
			t.Errorf("ToGeo(%v) = %v, want %v", g.Resource, got, g.Geo)
		}
	}
}

func TestFit_ThinPlateSpline_InterpolatesControlPoints(t *testing.T) {
	gcps := []GroundControlPoint{
		{ID: "a", Resource: geom.Point{0, 0}, Geo: geom.Point{0, 0}},
		{ID: "b", Resource: geom.Point{10, 0}, Geo: geom.Point{11, 0.5}},
		{ID: "c", Resource: geom.Point{10, 10}, Geo: geom.Point{10.5, 10.8}},
		{ID: "d", Resource: geom.Point{0, 10}, Geo: geom.Point{-0.3, 9.7}},
		{ID: "e", Resource: geom.Point{5, 5}, Geo: geom.Point{5.1, 5.2}},
	}
	tr, err := Fit(KindThinPlate, gcps, 0)
	if err != nil {
		t.Fatalf("Fit(thinPlateSpline) error = %v", err)
	}
	for _, g := range gcps {
		got := tr.ToGeo(g.Resource)
		if math.Abs(got[0]-g.Geo[0]) > 1e-3 || math.Abs(got[1]-g.Geo[1]) > 1e-3 {
			t.Errorf("ToGeo(%v) = %v, want %v (control point should be interpolated exactly)", g.Resource, got, g.Geo)
		}
	}
}

func TestFit_TooFewPoints(t *testing.T) {
	gcps := squareGCPs()[:1]
	if _, err := Fit(KindHelmert, gcps, 0); err != ErrTooFewPoints {
		t.Errorf("Fit(helmert, 1 point) error = %v, want ErrTooFewPoints", err)
	}
	if _, err := Fit(KindProjective, squareGCPs()[:3], 0); err != ErrTooFewPoints {
		t.Errorf("Fit(projective, 3 points) error = %v, want ErrTooFewPoints", err)
	}
}

func TestFit_Degenerate_CollinearPoints(t *testing.T) {
	gcps := []GroundControlPoint{
		{ID: "a", Resource: geom.Point{0, 0}, Geo: geom.Point{0, 0}},
		{ID: "b", Resource: geom.Point{5, 0}, Geo: geom.Point{5, 0}},
		{ID: "c", Resource: geom.Point{10, 0}, Geo: geom.Point{10, 0}},
		{ID: "d", Resource: geom.Point{15, 0}, Geo: geom.Point{15, 0}},
	}
	if _, err := Fit(KindProjective, gcps, 0); err == nil {
		t.Error("Fit(projective, collinear points) error = nil, want a degeneracy error")
	}
}
