// Package mesh provides ValueMesh, a dense rank-indexed container of values
// laid out over an ndshape region in canonical order.
package mesh

import (
	"fmt"

	"github.com/jihwankim/actormesh/pkg/ndshape"
)

// InvalidRankCardinalityError reports a mismatch between a region's rank
// count and the values supplied for it.
type InvalidRankCardinalityError struct {
	Expected int
	Actual   int
}

func (e *InvalidRankCardinalityError) Error() string {
	return fmt.Sprintf("invalid rank cardinality: expected %d, actual %d", e.Expected, e.Actual)
}

// ValueMesh associates exactly one value with every rank of a region.
//
// Invariant: the mesh is complete — len(ranks) always equals
// region.NumRanks(). Values are indexed by the region's canonical iteration
// order. The mesh exclusively owns its values.
type ValueMesh[T any] struct {
	region ndshape.Region
	ranks  []T
}

// BuildDense constructs a mesh from a complete value sequence in the
// canonical order of region. It fails with InvalidRankCardinalityError if
// len(values) != region.NumRanks().
func BuildDense[T any](region ndshape.Region, values []T) (*ValueMesh[T], error) {
	expected, actual := region.NumRanks(), len(values)
	if actual != expected {
		return nil, &InvalidRankCardinalityError{Expected: expected, Actual: actual}
	}
	return &ValueMesh[T]{region: region, ranks: values}, nil
}

// BuildDenseUnchecked constructs a mesh without validating cardinality. The
// caller must uphold len(values) == region.NumRanks().
func BuildDenseUnchecked[T any](region ndshape.Region, values []T) *ValueMesh[T] {
	if debugChecks && len(values) != region.NumRanks() {
		panic(fmt.Sprintf("mesh: cardinality mismatch: %d values for %d ranks", len(values), region.NumRanks()))
	}
	return &ValueMesh[T]{region: region, ranks: values}
}

// debugChecks gates the unchecked-builder assertion; it is enabled by tests.
var debugChecks = false

// Region returns the region the mesh is indexed by.
func (m *ValueMesh[T]) Region() ndshape.Region { return m.region }

// Extent returns the extent of the mesh's region.
func (m *ValueMesh[T]) Extent() ndshape.Extent { return m.region.Extent() }

// Len returns the number of values in the mesh.
func (m *ValueMesh[T]) Len() int { return len(m.ranks) }

// Get returns the value at the given rank in the mesh's region order.
func (m *ValueMesh[T]) Get(rank int) (T, bool) {
	if rank < 0 || rank >= len(m.ranks) {
		var zero T
		return zero, false
	}
	return m.ranks[rank], true
}

// Values returns the mesh's values in canonical order. The returned slice
// must not be mutated.
func (m *ValueMesh[T]) Values() []T { return m.ranks }

// Subset gathers the values of the mesh that fall in region, which must be
// a subset of the mesh's own region.
func (m *ValueMesh[T]) Subset(region ndshape.Region) (*ValueMesh[T], error) {
	indexes := m.region.Remap(region)
	if indexes == nil {
		return nil, &ndshape.InvalidRangeError{Base: m.region, Selected: region}
	}
	ranks := make([]T, 0, len(indexes))
	for _, i := range indexes {
		ranks = append(ranks, m.ranks[i])
	}
	return &ValueMesh[T]{region: region, ranks: ranks}, nil
}

// RangeDim narrows one axis of the mesh; see ndshape.Region.RangeDim for
// range resolution.
func (m *ValueMesh[T]) RangeDim(dim string, rg ndshape.Range) (*ValueMesh[T], error) {
	region, err := m.region.RangeDim(dim, rg)
	if err != nil {
		return nil, err
	}
	return m.Subset(region)
}

// GroupBy partitions the mesh along dim, one sub-mesh per element of the
// axes preceding dim.
func (m *ValueMesh[T]) GroupBy(dim string) ([]*ValueMesh[T], error) {
	regions, err := m.region.GroupBy(dim)
	if err != nil {
		return nil, err
	}
	groups := make([]*ValueMesh[T], 0, len(regions))
	for _, region := range regions {
		sub, err := m.Subset(region)
		if err != nil {
			return nil, err
		}
		groups = append(groups, sub)
	}
	return groups, nil
}

// Iter returns an iterator yielding (point, value) pairs in region order.
func (m *ValueMesh[T]) Iter() *MeshIter[T] {
	return &MeshIter[T]{mesh: m, extent: m.region.Extent()}
}

// MeshIter iterates a mesh's points and values in canonical order.
type MeshIter[T any] struct {
	mesh   *ValueMesh[T]
	extent ndshape.Extent
	rank   int
}

// Next returns the next (point, value) pair, or ok=false at exhaustion.
func (it *MeshIter[T]) Next() (ndshape.Point, T, bool) {
	if it.rank >= len(it.mesh.ranks) {
		var zero T
		return ndshape.Point{}, zero, false
	}
	p, err := it.extent.PointOfRank(it.rank)
	if err != nil {
		var zero T
		return ndshape.Point{}, zero, false
	}
	v := it.mesh.ranks[it.rank]
	it.rank++
	return p, v, true
}
