package ndshape

import (
	"strconv"
	"strings"
)

// Point is a specific coordinate within the space defined by an Extent,
// stored as its row-major rank. Coordinates are recomputed from the rank on
// demand.
type Point struct {
	rank   int
	extent Extent
}

// Rank returns the linearized row-major rank of the point.
func (p Point) Rank() int { return p.rank }

// Extent returns the extent that defines the point's coordinate space.
func (p Point) Extent() Extent { return p.extent }

// Dims returns the number of axes of the point's extent.
func (p Point) Dims() int { return p.extent.Dims() }

// IsEmpty reports whether the point lies in a 0-dimensional extent.
func (p Point) IsEmpty() bool { return p.extent.Dims() == 0 }

// Coord returns the i-th coordinate without allocating the full coordinate
// vector. It panics if i is not a valid axis.
func (p Point) Coord(i int) int {
	if i < 0 || i >= p.extent.Dims() {
		panic("ndshape: Coord(i): axis out of bounds")
	}
	it := p.CoordIter()
	for skip := 0; skip < i; skip++ {
		it.Next()
	}
	c, _ := it.Next()
	return c
}

// Coords materializes the full coordinate vector.
func (p Point) Coords() []int {
	coords := make([]int, 0, p.extent.Dims())
	it := p.CoordIter()
	for {
		c, ok := it.Next()
		if !ok {
			return coords
		}
		coords = append(coords, c)
	}
}

// Equal reports whether two points have the same rank in equal extents.
func (p Point) Equal(o Point) bool {
	return p.rank == o.rank && p.extent.Equal(o.extent)
}

// CoordIter returns an iterator over the point's coordinates in row-major
// order. Remaining always reports the exact number of axes not yet yielded.
func (p Point) CoordIter() *CoordIter {
	return &CoordIter{
		sizes:  p.extent.sizes,
		rank:   p.rank,
		stride: p.extent.NumRanks(),
	}
}

// CoordIter yields the coordinates of a Point lazily, one axis per Next.
type CoordIter struct {
	sizes  []int
	rank   int
	stride int
	axis   int
}

// Next returns the coordinate for the current axis and advances, or
// ok=false once all axes are exhausted.
func (it *CoordIter) Next() (int, bool) {
	if it.axis >= len(it.sizes) {
		return 0, false
	}
	it.stride /= it.sizes[it.axis]
	q := it.rank / it.stride
	it.rank %= it.stride
	it.axis++
	return q, true
}

// Remaining returns the exact number of coordinates left to yield.
func (it *CoordIter) Remaining() int {
	return len(it.sizes) - it.axis
}

// String renders the point as label=coord/size,... with the same label
// quoting rule as Extent. A 0-dimensional point prints as the empty string.
func (p Point) String() string {
	var b strings.Builder
	coords := p.Coords()
	for i := range p.extent.labels {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(fmtLabel(p.extent.labels[i]))
		b.WriteByte('=')
		b.WriteString(strconv.Itoa(coords[i]))
		b.WriteByte('/')
		b.WriteString(strconv.Itoa(p.extent.sizes[i]))
	}
	return b.String()
}
