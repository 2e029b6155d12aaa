package ndshape

import (
	"strconv"
	"strings"
)

// Extent defines the logical shape of a multi-dimensional space by assigning
// a size to each named dimension. It is immutable after construction and
// cheap to share.
//
// Labels need not be unique, but Position and Size treat the first match as
// canonical.
type Extent struct {
	labels []string
	sizes  []int
}

// NewExtent creates an extent from parallel labels and sizes.
func NewExtent(labels []string, sizes []int) (Extent, error) {
	if len(labels) != len(sizes) {
		return Extent{}, &DimMismatchError{Expected: len(labels), Actual: len(sizes)}
	}
	return Extent{
		labels: append([]string(nil), labels...),
		sizes:  append([]int(nil), sizes...),
	}, nil
}

// MustExtent is NewExtent for statically-known shapes; it panics on a
// dimension mismatch.
func MustExtent(labels []string, sizes []int) Extent {
	e, err := NewExtent(labels, sizes)
	if err != nil {
		panic(err)
	}
	return e
}

// Unity returns the 0-dimensional extent: the scalar space with exactly one
// rank.
func Unity() Extent {
	return Extent{}
}

// Labels returns the ordered dimension labels. The returned slice must not
// be mutated.
func (e Extent) Labels() []string { return e.labels }

// Sizes returns the dimension sizes, ordered to match the labels. The
// returned slice must not be mutated.
func (e Extent) Sizes() []int { return e.sizes }

// Dims returns the number of dimensions.
func (e Extent) Dims() int { return len(e.sizes) }

// IsEmpty reports whether the extent has zero dimensions.
func (e Extent) IsEmpty() bool { return len(e.sizes) == 0 }

// NumRanks returns the total number of ranks: the product of all dimension
// sizes, 1 for a 0-dimensional extent.
func (e Extent) NumRanks() int {
	n := 1
	for _, sz := range e.sizes {
		n *= sz
	}
	return n
}

// Position returns the index of the first dimension with the given label.
func (e Extent) Position(label string) (int, bool) {
	for i, l := range e.labels {
		if l == label {
			return i, true
		}
	}
	return 0, false
}

// Size returns the size of the first dimension with the given label.
func (e Extent) Size(label string) (int, bool) {
	if pos, ok := e.Position(label); ok {
		return e.sizes[pos], true
	}
	return 0, false
}

// RankOfCoords computes the row-major rank of the given coordinates,
// iterating right-to-left with a stride accumulator.
func (e Extent) RankOfCoords(coords []int) (int, error) {
	if len(coords) != len(e.sizes) {
		return 0, &DimMismatchError{Expected: len(e.sizes), Actual: len(coords)}
	}
	stride := 1
	rank := 0
	for i := len(coords) - 1; i >= 0; i-- {
		if coords[i] < 0 || coords[i] >= e.sizes[i] {
			return 0, &OutOfRangeIndexError{Size: e.sizes[i], Index: coords[i]}
		}
		rank += coords[i] * stride
		stride *= e.sizes[i]
	}
	return rank, nil
}

// Point creates the point with the given coordinates in this extent.
func (e Extent) Point(coords []int) (Point, error) {
	rank, err := e.RankOfCoords(coords)
	if err != nil {
		return Point{}, err
	}
	return Point{rank: rank, extent: e}, nil
}

// PointOfRank returns the point with the given row-major rank.
func (e Extent) PointOfRank(rank int) (Point, error) {
	if rank < 0 || rank >= e.NumRanks() {
		return Point{}, &OutOfRangeRankError{Total: e.NumRanks(), Rank: rank}
	}
	return Point{rank: rank, extent: e}, nil
}

// ToSlice returns the contiguous row-major slice covering this extent.
func (e Extent) ToSlice() Slice {
	return NewRowMajor(e.sizes)
}

// Region returns the region covering the full extent.
func (e Extent) Region() Region {
	return Region{labels: e.labels, slice: e.ToSlice()}
}

// Equal reports structural equality of two extents.
func (e Extent) Equal(o Extent) bool {
	if len(e.labels) != len(o.labels) {
		return false
	}
	for i := range e.labels {
		if e.labels[i] != o.labels[i] || e.sizes[i] != o.sizes[i] {
			return false
		}
	}
	return true
}

// Points returns an iterator over all points of the extent in row-major
// order, yielding exactly NumRanks points.
func (e Extent) Points() *PointsIter {
	return &PointsIter{extent: e, pos: newCartesianIter(e.sizes)}
}

// PointsIter iterates the points of an extent in row-major order.
type PointsIter struct {
	extent Extent
	pos    *cartesianIter
}

// Next returns the next point, or ok=false at exhaustion.
func (it *PointsIter) Next() (Point, bool) {
	coords, ok := it.pos.next()
	if !ok {
		return Point{}, false
	}
	rank, err := it.extent.RankOfCoords(coords)
	if err != nil {
		return Point{}, false
	}
	return Point{rank: rank, extent: it.extent}, true
}

// isSafeIdent reports whether a label consists only of [A-Za-z0-9_]+ and can
// be printed bare.
func isSafeIdent(s string) bool {
	if len(s) == 0 {
		return false
	}
	for _, c := range s {
		if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '_') {
			return false
		}
	}
	return true
}

// fmtLabel renders a label bare when it is a safe identifier, otherwise as a
// quoted string literal.
func fmtLabel(s string) string {
	if isSafeIdent(s) {
		return s
	}
	return strconv.Quote(s)
}

// String renders the extent as {label: size, ...}; the empty extent prints
// as {}.
func (e Extent) String() string {
	var b strings.Builder
	b.WriteByte('{')
	for i := range e.labels {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(fmtLabel(e.labels[i]))
		b.WriteString(": ")
		b.WriteString(strconv.Itoa(e.sizes[i]))
	}
	b.WriteByte('}')
	return b.String()
}
