package tokenizer

import (
	"cmp"
	"math"

	heap "github.com/emirpasic/gods/v2/trees/binaryheap"

	"github.com/tokenkit/tokenkit/logutil"
)

// chunks of at least this many bytes merge with the heap
const heapMergeThreshold = 64

const noRank = math.MaxInt32

// bytePairEncode maps one literal chunk to ranks. Offsets in the returned
// error are relative to the chunk.
func (v *Vocabulary) bytePairEncode(piece []byte) ([]int32, error) {
	if rank, ok := v.ranks[string(piece)]; ok {
		return []int32{rank}, nil
	}

	var bounds []int
	if len(piece) < heapMergeThreshold {
		bounds = v.mergeNaive(piece)
	} else {
		bounds = v.mergeHeap(piece)
	}

	ids := make([]int32, 0, len(bounds)-1)
	for i := range len(bounds) - 1 {
		start, end := bounds[i], bounds[i+1]
		if end-start == 1 {
			rank := v.byteRanks[piece[start]]
			if rank < 0 {
				return nil, &EncodeError{Err: ErrUnencodableByte, Token: string(piece[start:end]), Offset: start}
			}

			ids = append(ids, rank)
			continue
		}

		ids = append(ids, v.ranks[string(piece[start:end])])
	}

	logutil.Trace("merged", "chunk", piece, "parts", len(ids))
	return ids, nil
}

// rankOf returns the rank of piece[start:end] or noRank.
func (v *Vocabulary) rankOf(piece []byte, start, end int) int32 {
	if rank, ok := v.ranks[string(piece[start:end])]; ok {
		return rank
	}

	return noRank
}

// mergeNaive rescans every adjacent pair after each merge. It returns the
// start offset of each final part followed by len(piece).
func (v *Vocabulary) mergeNaive(piece []byte) []int {
	type part struct {
		start int
		rank  int32
	}

	parts := make([]part, len(piece)+1)
	for i := range parts {
		parts[i] = part{start: i, rank: noRank}
	}

	// parts[i].rank is the rank of the pair formed by parts i and i+1
	pairRank := func(i int) int32 {
		if i+2 < len(parts) {
			return v.rankOf(piece, parts[i].start, parts[i+2].start)
		}

		return noRank
	}

	for i := range len(parts) - 2 {
		parts[i].rank = pairRank(i)
	}

	for len(parts) > 2 {
		best, at := int32(noRank), -1
		for i, p := range parts[:len(parts)-1] {
			if p.rank < best {
				best, at = p.rank, i
			}
		}

		if at < 0 {
			break
		}

		parts = append(parts[:at+1], parts[at+2:]...)
		parts[at].rank = pairRank(at)
		if at > 0 {
			parts[at-1].rank = pairRank(at - 1)
		}
	}

	bounds := make([]int, len(parts))
	for i, p := range parts {
		bounds[i] = p.start
	}

	return bounds
}

// mergeHeap produces the same parts as mergeNaive. Candidate pairs sit in a
// heap ordered by rank then position; entries made stale by an earlier merge
// are skipped when popped.
func (v *Vocabulary) mergeHeap(piece []byte) []int {
	type part struct {
		end        int
		prev, next int
		version    int
	}

	type pair struct {
		left, right int
		lv, rv      int
		rank        int32
	}

	parts := make([]part, len(piece))
	for i := range parts {
		parts[i] = part{end: i + 1, prev: i - 1, next: i + 1}
	}

	pairs := heap.NewWith(func(a, b *pair) int {
		return cmp.Or(cmp.Compare(a.rank, b.rank), cmp.Compare(a.left, b.left))
	})

	push := func(left, right int) {
		if left < 0 || right >= len(parts) {
			return
		}

		rank := v.rankOf(piece, left, parts[right].end)
		if rank == noRank {
			return
		}

		pairs.Push(&pair{left: left, right: right, lv: parts[left].version, rv: parts[right].version, rank: rank})
	}

	for i := range len(parts) - 1 {
		push(i, i+1)
	}

	for !pairs.Empty() {
		p, _ := pairs.Pop()

		left, right := &parts[p.left], &parts[p.right]
		if left.version != p.lv || right.version != p.rv || left.next != p.right {
			continue
		}

		left.end = right.end
		left.next = right.next
		left.version++
		right.version++
		if right.next < len(parts) {
			parts[right.next].prev = p.left
		}

		push(left.prev, p.left)
		push(p.left, left.next)
	}

	var bounds []int
	for i := 0; i < len(parts); i = parts[i].next {
		bounds = append(bounds, i)
	}

	return append(bounds, len(piece))
}
