package ndshape

import (
	"errors"
	"testing"
)

func mustExtent(t *testing.T, labels []string, sizes []int) Extent {
	t.Helper()
	e, err := NewExtent(labels, sizes)
	if err != nil {
		t.Fatalf("NewExtent(%v, %v): %v", labels, sizes, err)
	}
	return e
}

func TestExtentNew(t *testing.T) {
	if _, err := NewExtent([]string{"x"}, []int{1, 2}); err == nil {
		t.Error("expected dimension mismatch error")
	} else {
		var dm *DimMismatchError
		if !errors.As(err, &dm) {
			t.Errorf("expected DimMismatchError, got %T", err)
		}
	}
}

func TestPointsBasic(t *testing.T) {
	extent := mustExtent(t, []string{"x", "y", "z"}, []int{4, 5, 6})

	if extent.NumRanks() != 4*5*6 {
		t.Errorf("NumRanks = %d, want %d", extent.NumRanks(), 4*5*6)
	}

	p, err := extent.Point([]int{1, 2, 3})
	if err != nil {
		t.Fatalf("Point: %v", err)
	}
	if p.Rank() != 1*(5*6)+2*6+3 {
		t.Errorf("rank = %d, want %d", p.Rank(), 1*(5*6)+2*6+3)
	}

	p3, err := extent.PointOfRank(6*5 + 1)
	if err != nil {
		t.Fatalf("PointOfRank: %v", err)
	}
	if got := p3.Coords(); got[0] != 1 || got[1] != 0 || got[2] != 1 {
		t.Errorf("coords = %v, want [1 0 1]", got)
	}
	if p3.Coord(0) != 1 || p3.Coord(1) != 0 || p3.Coord(2) != 1 {
		t.Errorf("Coord() disagrees with Coords()")
	}

	if _, err := extent.PointOfRank(extent.NumRanks()); err == nil {
		t.Error("expected out of range rank error")
	}

	// Invariant: extent.Point(p.Coords()).Rank() == p.Rank() for all points,
	// and Points() yields exactly NumRanks points in rank order.
	count := 0
	it := extent.Points()
	for {
		point, ok := it.Next()
		if !ok {
			break
		}
		if point.Rank() != count {
			t.Fatalf("point %d has rank %d", count, point.Rank())
		}
		back, err := extent.Point(point.Coords())
		if err != nil {
			t.Fatalf("Point(%v): %v", point.Coords(), err)
		}
		if back.Rank() != point.Rank() {
			t.Fatalf("round trip rank %d != %d", back.Rank(), point.Rank())
		}
		count++
	}
	if count != extent.NumRanks() {
		t.Errorf("Points() yielded %d points, want %d", count, extent.NumRanks())
	}
}

func TestPointErrors(t *testing.T) {
	extent := mustExtent(t, []string{"x", "y"}, []int{2, 3})

	if _, err := extent.Point([]int{1}); err == nil {
		t.Error("expected dim mismatch")
	}
	_, err := extent.Point([]int{1, 3})
	var oob *OutOfRangeIndexError
	if !errors.As(err, &oob) {
		t.Fatalf("expected OutOfRangeIndexError, got %v", err)
	}
	if oob.Size != 3 || oob.Index != 3 {
		t.Errorf("oob = %+v", oob)
	}
}

func TestExtent0D(t *testing.T) {
	e := Unity()
	if !e.IsEmpty() {
		t.Error("unity extent should be empty")
	}
	if e.NumRanks() != 1 {
		t.Errorf("NumRanks = %d, want 1", e.NumRanks())
	}

	var pts []Point
	it := e.Points()
	for {
		p, ok := it.Next()
		if !ok {
			break
		}
		pts = append(pts, p)
	}
	if len(pts) != 1 {
		t.Fatalf("0-D extent yielded %d points, want 1", len(pts))
	}
	if pts[0].Rank() != 0 || len(pts[0].Coords()) != 0 {
		t.Errorf("0-D point = rank %d coords %v", pts[0].Rank(), pts[0].Coords())
	}

	ci := pts[0].CoordIter()
	if ci.Remaining() != 0 {
		t.Errorf("Remaining = %d, want 0", ci.Remaining())
	}
	if _, ok := ci.Next(); ok {
		t.Error("0-D coord iter should be exhausted")
	}
	if _, ok := ci.Next(); ok {
		t.Error("coord iter should be fused")
	}
}

func TestCoordIterLen(t *testing.T) {
	extent := mustExtent(t, []string{"x", "y", "z"}, []int{4, 5, 6})
	p, _ := extent.Point([]int{1, 2, 3})

	// Invariant: Remaining decreases by exactly one per Next and reaches
	// zero at exhaustion.
	it := p.CoordIter()
	for want := 3; want > 0; want-- {
		if it.Remaining() != want {
			t.Fatalf("Remaining = %d, want %d", it.Remaining(), want)
		}
		if _, ok := it.Next(); !ok {
			t.Fatalf("iterator exhausted early at %d", want)
		}
	}
	if it.Remaining() != 0 {
		t.Errorf("Remaining = %d at exhaustion, want 0", it.Remaining())
	}
}

func TestExtentLabelHelpers(t *testing.T) {
	e := mustExtent(t, []string{"zone", "host", "gpu"}, []int{3, 2, 4})
	for i, label := range e.Labels() {
		pos, ok := e.Position(label)
		if !ok || pos != i {
			t.Errorf("Position(%q) = %d, %v", label, pos, ok)
		}
		size, ok := e.Size(label)
		if !ok || size != e.Sizes()[i] {
			t.Errorf("Size(%q) = %d, %v", label, size, ok)
		}
	}
	if _, ok := e.Position("nope"); ok {
		t.Error("Position(nope) should fail")
	}
	if _, ok := e.Size("nope"); ok {
		t.Error("Size(nope) should fail")
	}
}

func TestExtentDisplay(t *testing.T) {
	cases := []struct {
		labels []string
		sizes  []int
		want   string
	}{
		{[]string{"x", "y", "z"}, []int{4, 5, 6}, "{x: 4, y: 5, z: 6}"},
		{[]string{"dim/0", "dim/1"}, []int{4, 5}, `{"dim/0": 4, "dim/1": 5}`},
		{nil, nil, "{}"},
	}
	for _, tc := range cases {
		e := mustExtent(t, tc.labels, tc.sizes)
		if e.String() != tc.want {
			t.Errorf("String() = %q, want %q", e.String(), tc.want)
		}
	}
}

func TestPointDisplay(t *testing.T) {
	extent := mustExtent(t, []string{"x", "y", "z"}, []int{4, 5, 6})
	p, _ := extent.Point([]int{1, 2, 3})
	if p.String() != "x=1/4,y=2/5,z=3/6" {
		t.Errorf("String() = %q", p.String())
	}

	quoted := mustExtent(t, []string{"dim/0", "dim,1"}, []int{3, 5})
	q, _ := quoted.Point([]int{1, 2})
	if q.String() != `"dim/0"=1/3,"dim,1"=2/5` {
		t.Errorf("String() = %q", q.String())
	}

	empty, _ := Unity().Point(nil)
	if empty.String() != "" {
		t.Errorf("0-D point String() = %q, want empty", empty.String())
	}
}

func TestSafeIdent(t *testing.T) {
	for _, s := range []string{"x", "gpu_0", "Zone9"} {
		if !isSafeIdent(s) {
			t.Errorf("isSafeIdent(%q) = false", s)
		}
	}
	for _, s := range []string{"dim/0", "x y", "x=y", ""} {
		if isSafeIdent(s) {
			t.Errorf("isSafeIdent(%q) = true", s)
		}
	}
}

func TestCoordPanicsOutOfBounds(t *testing.T) {
	extent := mustExtent(t, []string{"x", "y"}, []int{4, 5})
	p, _ := extent.Point([]int{1, 2})
	defer func() {
		if recover() == nil {
			t.Error("Coord(5) should panic")
		}
	}()
	p.Coord(5)
}
