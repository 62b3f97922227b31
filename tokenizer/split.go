package tokenizer

import (
	"iter"
	"log/slog"
	"unicode/utf8"
)

// Chunk is one pre-tokenization unit. Bytes aliases the input passed to
// Split. Literal is the special token text when Special is set.
type Chunk struct {
	Offset  int
	Bytes   []byte
	Special bool
	ID      int32
	Literal string
}

// Split cuts text into special-token chunks and pattern-delimited literal
// chunks, in input order. When matchSpecial is false special literals are
// treated as ordinary text. Concatenating the chunk bytes yields text.
func (v *Vocabulary) Split(text []byte, matchSpecial bool) iter.Seq[Chunk] {
	return func(yield func(Chunk) bool) {
		var pos int
		for pos < len(text) {
			next, length, id := -1, 0, int32(0)
			if matchSpecial {
				next, length, id = v.trie.nextMatch(text, pos)
			}

			end := next
			if end < 0 {
				end = len(text)
			}

			if end > pos {
				for chunk := range v.splitLiteral(text[pos:end], pos) {
					if !yield(chunk) {
						return
					}
				}
			}

			if next < 0 {
				return
			}

			literal := text[next : next+length]
			if !yield(Chunk{Offset: next, Bytes: literal, Special: true, ID: id, Literal: string(literal)}) {
				return
			}

			pos = next + length
		}
	}
}

// splitLiteral applies the vocabulary pattern to a run of text that holds
// no special token. Matching runs over runes; invalid UTF-8 bytes decode to
// one rune each so the byte offsets of every rune are preserved.
func (v *Vocabulary) splitLiteral(text []byte, base int) iter.Seq[Chunk] {
	return func(yield func(Chunk) bool) {
		runes := make([]rune, 0, len(text))
		offsets := make([]int, 0, len(text)+1)
		for i := 0; i < len(text); {
			r, size := utf8.DecodeRune(text[i:])
			runes = append(runes, r)
			offsets = append(offsets, i)
			i += size
		}
		offsets = append(offsets, len(text))

		emit := func(from, to int) bool {
			if from >= to {
				return true
			}

			start, end := offsets[from], offsets[to]
			return yield(Chunk{Offset: base + start, Bytes: text[start:end]})
		}

		var last int
		m, err := v.re.FindRunesMatch(runes)
		for ; m != nil && err == nil; m, err = v.re.FindNextMatch(m) {
			if !emit(last, m.Index) {
				return
			}

			if !emit(m.Index, m.Index+m.Length) {
				return
			}

			last = m.Index + m.Length
		}

		if err != nil {
			slog.Warn("pattern match failed, keeping remainder as one chunk", "pattern", v.pattern, "offset", base+offsets[last], "error", err)
		}

		emit(last, len(runes))
	}
}
