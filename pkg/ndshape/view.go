package ndshape

import (
	"fmt"
	"strconv"
)

// Range selects elements along one axis: Begin inclusive, End exclusive,
// every Step-th element. End < 0 means "to the end of the axis". Step must
// resolve to at least 1.
type Range struct {
	Begin int
	End   int
	Step  int
}

// RangeAll selects the whole axis.
func RangeAll() Range { return Range{Begin: 0, End: -1, Step: 1} }

// RangeOf selects the single index i.
func RangeOf(i int) Range { return Range{Begin: i, End: i + 1, Step: 1} }

// RangeFrom selects [begin, end-of-axis).
func RangeFrom(begin int) Range { return Range{Begin: begin, End: -1, Step: 1} }

// NewRange selects [begin, end) with the given step.
func NewRange(begin, end, step int) Range { return Range{Begin: begin, End: end, Step: step} }

// Resolve clamps the range against an axis of size n, returning the
// concrete (begin, end, step). Callers reject step < 1 and empty intervals.
func (r Range) Resolve(n int) (int, int, int) {
	end := r.End
	if end < 0 || end > n {
		end = n
	}
	return r.Begin, end, r.Step
}

func (r Range) String() string {
	s := strconv.Itoa(r.Begin) + ".."
	if r.End >= 0 {
		s += strconv.Itoa(r.End)
	}
	if r.Step != 1 {
		s += ";" + strconv.Itoa(r.Step)
	}
	return s
}

// RangeDim narrows one axis of the region. The new axis size is
// ceil((end-begin)/step), the stride is multiplied by step, and the offset
// advances by begin·stride. A step of zero or an empty resolved interval is
// an EmptyRangeError; an unknown label is an InvalidDimError.
func (r Region) RangeDim(dim string, rg Range) (Region, error) {
	d := -1
	for i, l := range r.labels {
		if l == dim {
			d = i
			break
		}
	}
	if d < 0 {
		return Region{}, &InvalidDimError{Dim: dim}
	}

	offset := r.slice.offset
	sizes := append([]int(nil), r.slice.sizes...)
	strides := append([]int(nil), r.slice.strides...)

	begin, end, step := rg.Resolve(sizes[d])
	if step < 1 || end <= begin {
		return Region{}, &EmptyRangeError{Range: rg, Dim: dim, Size: sizes[d]}
	}

	offset += strides[d] * begin
	sizes[d] = (end - begin + step - 1) / step
	strides[d] *= step

	return Region{
		labels: r.labels,
		slice:  Slice{offset: offset, sizes: sizes, strides: strides},
	}, nil
}

// GroupBy partitions the region along dim: one sub-region per element of
// the axes strictly preceding dim, each with the extent [dim..last].
func (r Region) GroupBy(dim string) ([]Region, error) {
	d := -1
	for i, l := range r.labels {
		if l == dim {
			d = i
			break
		}
	}
	if d < 0 {
		return nil, &InvalidDimError{Dim: dim}
	}

	prefix := Slice{
		offset:  r.slice.offset,
		sizes:   r.slice.sizes[:d],
		strides: r.slice.strides[:d],
	}
	labels := r.labels[d:]
	sizes := r.slice.sizes[d:]
	strides := r.slice.strides[d:]

	groups := make([]Region, 0, prefix.Len())
	it := prefix.Iter()
	for {
		base, ok := it.Next()
		if !ok {
			return groups, nil
		}
		groups = append(groups, Region{
			labels: labels,
			slice: Slice{
				offset:  base,
				sizes:   append([]int(nil), sizes...),
				strides: append([]int(nil), strides...),
			},
		})
	}
}

// RangeDim narrows one axis of the full extent, producing a region.
func (e Extent) RangeDim(dim string, rg Range) (Region, error) {
	return e.Region().RangeDim(dim, rg)
}

// GroupBy partitions the full extent along dim.
func (e Extent) GroupBy(dim string) ([]Region, error) {
	return e.Region().GroupBy(dim)
}

// BaseRanks materializes the region's enumerated base ranks in canonical
// order.
func (r Region) BaseRanks() []int {
	out := make([]int, 0, r.NumRanks())
	it := r.slice.Iter()
	for {
		base, ok := it.Next()
		if !ok {
			return out
		}
		out = append(out, base)
	}
}

// RelativePoint maps a base rank to the corresponding point in the region's
// own extent.
func (r Region) RelativePoint(base int) (Point, error) {
	coords, err := r.slice.Coordinates(base)
	if err != nil {
		return Point{}, fmt.Errorf("relative point: %w", err)
	}
	return r.Extent().Point(coords)
}
