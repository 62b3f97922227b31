package tokenizer

import (
	"fmt"
	"log/slog"
	"maps"
	"slices"

	"github.com/dlclark/regexp2"
)

// Vocabulary is an immutable rank table, its reverse table, and the
// special tokens of one encoding. It is safe for concurrent use.
type Vocabulary struct {
	ranks  map[string]int32
	pieces [][]byte

	// byteRanks holds the rank of each single-byte piece or -1
	byteRanks [256]int32

	special    map[string]int32
	specialIDs map[int32]string
	trie       *specialTrie

	pattern PatternID
	re      *regexp2.Regexp

	size int
}

// NewVocabulary builds a vocabulary from an in-memory rank table. Ranks
// must be dense from 0, or dense from 256 when no single-byte piece is
// listed, in which case byte b is the piece of rank b. A special token id
// may fill a gap in the ranks.
func NewVocabulary(ranks map[string]int32, special map[string]int32, pattern PatternID) (*Vocabulary, error) {
	seen := make(map[int32]string, len(ranks))
	for piece, rank := range ranks {
		if piece == "" {
			return nil, &LoadError{Err: ErrMalformedEntry, Detail: fmt.Sprintf("empty piece with rank %d", rank)}
		}

		if rank < 0 {
			return nil, &LoadError{Err: ErrMalformedEntry, Detail: fmt.Sprintf("negative rank %d", rank)}
		}

		if other, ok := seen[rank]; ok {
			return nil, &LoadError{Err: ErrDuplicateRank, Detail: fmt.Sprintf("rank %d claimed by %q and %q", rank, other, piece)}
		}
		seen[rank] = piece
	}

	return newVocabulary(maps.Clone(ranks), special, pattern)
}

// newVocabulary takes ownership of ranks, which must already be free of
// empty pieces, negative ranks and duplicate ranks.
func newVocabulary(ranks map[string]int32, special map[string]int32, pattern PatternID) (*Vocabulary, error) {
	re, err := pattern.compile()
	if err != nil {
		return nil, err
	}

	v := Vocabulary{
		ranks:      ranks,
		special:    make(map[string]int32, len(special)),
		specialIDs: make(map[int32]string, len(special)),
		trie:       &specialTrie{},
		pattern:    pattern,
		re:         re,
	}

	for i := range v.byteRanks {
		v.byteRanks[i] = -1
	}

	implicit := true
	low := int32(-1)
	for piece, rank := range ranks {
		if len(piece) == 1 {
			implicit = false
			v.byteRanks[piece[0]] = rank
		}

		if low < 0 || rank < low {
			low = rank
		}
	}

	// a table with no single bytes starting at 256 implies the byte alphabet
	if implicit && low == 256 {
		for b := range 256 {
			ranks[string([]byte{byte(b)})] = int32(b)
			v.byteRanks[b] = int32(b)
		}
	}

	high := int32(-1)
	for _, rank := range ranks {
		high = max(high, rank)
	}

	// each special fills at most one gap
	if int(high) >= len(ranks)+len(special) {
		return nil, &LoadError{Err: ErrNonContiguousRanks, Detail: fmt.Sprintf("rank %d outside of 0..%d", high, len(ranks)+len(special)-1)}
	}

	v.pieces = make([][]byte, high+1)
	for piece, rank := range ranks {
		v.pieces[rank] = []byte(piece)
	}

	v.size = len(v.pieces)
	for name, id := range special {
		if name == "" {
			return nil, &LoadError{Err: ErrSpecialTokenConflict, Detail: "empty special token"}
		}

		if _, ok := ranks[name]; ok {
			return nil, &LoadError{Err: ErrSpecialTokenConflict, Detail: fmt.Sprintf("%q is also a ranked piece", name)}
		}

		if id < 0 {
			return nil, &LoadError{Err: ErrSpecialTokenConflict, Detail: fmt.Sprintf("%q has negative id %d", name, id)}
		}

		if int(id) < len(v.pieces) && v.pieces[id] != nil {
			return nil, &LoadError{Err: ErrSpecialTokenConflict, Detail: fmt.Sprintf("%q has id %d, already the rank of %q", name, id, v.pieces[id])}
		}

		if other, ok := v.specialIDs[id]; ok {
			return nil, &LoadError{Err: ErrSpecialTokenConflict, Detail: fmt.Sprintf("%q and %q share id %d", other, name, id)}
		}

		v.special[name] = id
		v.specialIDs[id] = name
		v.trie.Insert(name, id)
		v.size = max(v.size, int(id)+1)
	}

	// a gap in the ranks is only allowed where a special token sits, as
	// <|endoftext|> does at 50256 in p50k_base
	for rank, piece := range v.pieces {
		if piece == nil && !v.IsSpecial(int32(rank)) {
			return nil, &LoadError{Err: ErrNonContiguousRanks, Detail: fmt.Sprintf("no piece or special token has id %d of 0..%d", rank, high)}
		}
	}

	slog.Debug("vocabulary loaded", "ranks", len(ranks), "special", len(v.special), "pattern", pattern, "implicit_bytes", implicit && low == 256)
	return &v, nil
}

// Pattern returns the pre-tokenization pattern id.
func (v *Vocabulary) Pattern() PatternID {
	return v.pattern
}

// Size is one more than the largest id, ranked or special.
func (v *Vocabulary) Size() int {
	return v.size
}

// NumRanks is the number of ranked pieces, including implicit bytes.
func (v *Vocabulary) NumRanks() int {
	return len(v.ranks)
}

// Rank returns the rank of piece.
func (v *Vocabulary) Rank(piece []byte) (int32, bool) {
	rank, ok := v.ranks[string(piece)]
	return rank, ok
}

// Piece returns the bytes of a ranked or special id. The returned slice
// must not be modified.
func (v *Vocabulary) Piece(id int32) ([]byte, bool) {
	if id >= 0 && int(id) < len(v.pieces) && v.pieces[id] != nil {
		return v.pieces[id], true
	}

	if name, ok := v.specialIDs[id]; ok {
		return []byte(name), true
	}

	return nil, false
}

// SpecialID returns the id of a special token literal.
func (v *Vocabulary) SpecialID(name string) (int32, bool) {
	id, ok := v.special[name]
	return id, ok
}

// IsSpecial reports whether id is a special token id.
func (v *Vocabulary) IsSpecial(id int32) bool {
	_, ok := v.specialIDs[id]
	return ok
}

// SpecialTokens returns the special token literals sorted by id.
func (v *Vocabulary) SpecialTokens() []string {
	names := slices.Collect(maps.Keys(v.special))
	slices.SortFunc(names, func(a, b string) int {
		return int(v.special[a]) - int(v.special[b])
	})
	return names
}
