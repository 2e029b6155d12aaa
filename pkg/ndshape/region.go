package ndshape

import (
	"strconv"
	"strings"
)

// Region describes a possibly-sparse hyper-rectangle of ranks inside some
// larger space: a set of labels plus a strided Slice. Since it is always
// rectangular, a region also defines its own extent.
type Region struct {
	labels []string
	slice  Slice
}

// NewRegion creates a region from labels and a slice.
func NewRegion(labels []string, slice Slice) (Region, error) {
	if len(labels) != slice.Dims() {
		return Region{}, &DimMismatchError{Expected: len(labels), Actual: slice.Dims()}
	}
	return Region{labels: append([]string(nil), labels...), slice: slice}, nil
}

// Labels returns the dimension labels of the region. The returned slice
// must not be mutated.
func (r Region) Labels() []string { return r.labels }

// Slice returns the slice representing the region.
func (r Region) Slice() Slice { return r.slice }

// Extent returns a fresh extent of the region's labels and sizes.
func (r Region) Extent() Extent {
	return Extent{
		labels: append([]string(nil), r.labels...),
		sizes:  append([]int(nil), r.slice.sizes...),
	}
}

// NumRanks returns the number of ranks enumerated by the region.
func (r Region) NumRanks() int { return r.slice.Len() }

// Equal reports structural equality of two regions.
func (r Region) Equal(o Region) bool {
	if len(r.labels) != len(o.labels) {
		return false
	}
	for i := range r.labels {
		if r.labels[i] != o.labels[i] {
			return false
		}
	}
	return r.slice.Equal(o.slice)
}

// IsSubset reports whether every rank enumerated by r is also enumerated by
// other. Both slices enumerate ranks in strictly increasing order, so a
// single-pass two-pointer merge decides containment in O(n+m).
func (r Region) IsSubset(other Region) bool {
	left := r.slice.Iter()
	right := other.slice.Iter()

	l, lok := left.Next()
	rv, rok := right.Next()
	for {
		switch {
		case !lok:
			return true
		case !rok:
			return false
		case l < rv:
			return false
		case l == rv:
			l, lok = left.Next()
			rv, rok = right.Next()
		default: // rv < l
			rv, rok = right.Next()
		}
	}
}

// Remap returns, for each rank of target, the positional index into r's
// iteration at which that rank appears. It returns nil unless target is a
// subset of r. Both iterators are walked in lockstep, advancing r until the
// current value equals the next target value.
func (r Region) Remap(target Region) []int {
	if !target.IsSubset(r) {
		return nil
	}
	out := make([]int, 0, target.NumRanks())
	ours := r.slice.Iter()
	theirs := target.slice.Iter()
	index := -1
	for {
		needle, ok := theirs.Next()
		if !ok {
			return out
		}
		for {
			value, ok := ours.Next()
			if !ok {
				// Unreachable: target is a subset.
				return nil
			}
			index++
			if value == needle {
				out = append(out, index)
				break
			}
		}
	}
}

// Subset returns region unchanged if it is a subset of r, else an
// InvalidRangeError.
func (r Region) Subset(region Region) (Region, error) {
	if region.IsSubset(r) {
		return region, nil
	}
	return Region{}, &InvalidRangeError{Base: r, Selected: region}
}

// Get returns the i-th enumerated base rank of the region.
func (r Region) Get(i int) (int, bool) {
	base, err := r.slice.Get(i)
	if err != nil {
		return 0, false
	}
	return base, true
}

// RegionIter yields (point, base rank) pairs in region order. The point is
// relative to the region's own extent.
type RegionIter struct {
	extent Extent
	pos    *SliceIter
	rank   int
}

// Iter iterates the region's points together with their base ranks.
func (r Region) Iter() *RegionIter {
	return &RegionIter{extent: r.Extent(), pos: r.slice.Iter()}
}

// Next returns the next (point, base rank) pair, or ok=false at exhaustion.
func (it *RegionIter) Next() (Point, int, bool) {
	base, ok := it.pos.Next()
	if !ok {
		return Point{}, 0, false
	}
	p := Point{rank: it.rank, extent: it.extent}
	it.rank++
	return p, base, true
}

// String renders the region as [offset+]label=size/stride,... with the
// offset prefix omitted when zero.
func (r Region) String() string {
	var b strings.Builder
	if r.slice.offset != 0 {
		b.WriteString(strconv.Itoa(r.slice.offset))
		b.WriteByte('+')
	}
	for i := range r.labels {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(fmtLabel(r.labels[i]))
		b.WriteByte('=')
		b.WriteString(strconv.Itoa(r.slice.sizes[i]))
		b.WriteByte('/')
		b.WriteString(strconv.Itoa(r.slice.strides[i]))
	}
	return b.String()
}
