package mesh

import (
	"iter"

	"github.com/bits-and-blooms/bitset"
	"github.com/jihwankim/actormesh/pkg/ndshape"
)

// BuildIndexed assembles a complete mesh from sparse (rank, value) pairs.
//
// Semantics:
//   - Bounds: the first pair whose rank falls outside [0, NumRanks) fails
//     with expected = NumRanks, actual = rank+1.
//   - Duplicates: allowed; the last write wins. The occupancy count is not
//     incremented for a duplicate.
//   - Coverage: after consuming all pairs, every rank must have been seen;
//     otherwise expected = NumRanks, actual = number of distinct ranks seen.
//
// If the pair sequence panics mid-assembly, the panic propagates and no
// partially-assembled mesh escapes.
func BuildIndexed[T any](region ndshape.Region, pairs iter.Seq2[int, T]) (*ValueMesh[T], error) {
	n := region.NumRanks()

	values := make([]T, n)
	seen := bitset.New(uint(n))
	filled := 0

	for rank, value := range pairs {
		if rank < 0 || rank >= n {
			return nil, &InvalidRankCardinalityError{Expected: n, Actual: rank + 1}
		}
		if !seen.Test(uint(rank)) {
			seen.Set(uint(rank))
			filled++
		}
		values[rank] = value
	}

	if filled != n {
		return nil, &InvalidRankCardinalityError{Expected: n, Actual: filled}
	}
	return &ValueMesh[T]{region: region, ranks: values}, nil
}

// PairSeq adapts a pair slice into the sequence form BuildIndexed consumes.
func PairSeq[T any](pairs []RankValue[T]) iter.Seq2[int, T] {
	return func(yield func(int, T) bool) {
		for _, p := range pairs {
			if !yield(p.Rank, p.Value) {
				return
			}
		}
	}
}

// RankValue is one sparse (rank, value) assignment.
type RankValue[T any] struct {
	Rank  int
	Value T
}

// buildIndexedNaive is the reference assembler: a pointer-slot array with no
// occupancy bitset. It must produce results identical to BuildIndexed,
// including error shapes; the equivalence is property-tested.
func buildIndexedNaive[T any](region ndshape.Region, pairs iter.Seq2[int, T]) (*ValueMesh[T], error) {
	n := region.NumRanks()
	slots := make([]*T, n)

	for rank, value := range pairs {
		if rank < 0 || rank >= n {
			return nil, &InvalidRankCardinalityError{Expected: n, Actual: rank + 1}
		}
		v := value
		slots[rank] = &v
	}

	values := make([]T, n)
	filled := 0
	for i, slot := range slots {
		if slot != nil {
			values[i] = *slot
			filled++
		}
	}
	if filled != n {
		return nil, &InvalidRankCardinalityError{Expected: n, Actual: filled}
	}
	return &ValueMesh[T]{region: region, ranks: values}, nil
}
