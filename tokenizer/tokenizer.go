package tokenizer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"slices"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/tokenkit/tokenkit/logutil"
)

// Tokenizer encodes and decodes against one vocabulary. It is safe for
// concurrent use.
type Tokenizer struct {
	vocab    *Vocabulary
	cache    Cache
	parallel int
}

type Option func(*Tokenizer)

// WithCache replaces the default unbounded piece cache.
func WithCache(c Cache) Option {
	return func(t *Tokenizer) {
		if c == nil {
			c = NoCache
		}
		t.cache = c
	}
}

// WithParallel bounds the number of texts EncodeBatch encodes at once.
func WithParallel(n int) Option {
	return func(t *Tokenizer) {
		if n > 0 {
			t.parallel = n
		}
	}
}

func New(v *Vocabulary, opts ...Option) *Tokenizer {
	t := Tokenizer{
		vocab:    v,
		cache:    NewMapCache(),
		parallel: runtime.GOMAXPROCS(0),
	}

	for _, opt := range opts {
		opt(&t)
	}

	return &t
}

func (t *Tokenizer) Vocabulary() *Vocabulary {
	return t.vocab
}

func (t *Tokenizer) Cache() Cache {
	return t.cache
}

// merge returns the ranks for a literal chunk. The result may be shared
// with the cache and must not be modified.
func (t *Tokenizer) merge(chunk []byte) ([]int32, error) {
	if ids, ok := t.cache.Get(chunk); ok {
		return ids, nil
	}

	ids, err := t.vocab.bytePairEncode(chunk)
	if err != nil {
		return nil, err
	}

	t.cache.Add(chunk, ids)
	return ids, nil
}

// Merge runs byte-pair merging over a single literal chunk without
// pre-tokenization. The returned slice belongs to the caller.
func (t *Tokenizer) Merge(chunk []byte) ([]int32, error) {
	if len(chunk) == 0 {
		return []int32{}, nil
	}

	ids, err := t.merge(chunk)
	if err != nil {
		return nil, err
	}

	return slices.Clone(ids), nil
}

// Encode converts text to token ids.
func (t *Tokenizer) Encode(text string, cfg EncodeConfig) ([]int32, error) {
	return t.EncodeBytes([]byte(text), cfg)
}

// EncodeBytes is Encode for raw bytes, which need not be valid UTF-8.
func (t *Tokenizer) EncodeBytes(text []byte, cfg EncodeConfig) ([]int32, error) {
	ids := make([]int32, 0, len(text)/3+1)
	err := t.walk(text, cfg, func(chunk []int32) {
		ids = append(ids, chunk...)
	})
	if err != nil {
		return nil, err
	}

	logutil.Trace("encoded", "bytes", len(text), "ids", len(ids))
	return ids, nil
}

// Count returns len(Encode(text, cfg)) without building the id slice.
func (t *Tokenizer) Count(text string, cfg EncodeConfig) (int, error) {
	var n int
	err := t.walk([]byte(text), cfg, func(chunk []int32) {
		n += len(chunk)
	})
	if err != nil {
		return 0, err
	}

	return n, nil
}

func (t *Tokenizer) walk(text []byte, cfg EncodeConfig, fn func([]int32)) error {
	if cfg.MaxInputBytes > 0 && len(text) > cfg.MaxInputBytes {
		return &EncodeError{Err: ErrInputTooLarge, Offset: len(text), Limit: cfg.MaxInputBytes}
	}

	for chunk := range t.vocab.Split(text, cfg.Special != SpecialAsText) {
		if chunk.Special {
			if !cfg.allows(chunk.Literal) {
				return &EncodeError{Err: ErrDisallowedSpecialToken, Token: chunk.Literal, Offset: chunk.Offset}
			}

			fn([]int32{chunk.ID})
			continue
		}

		ids, err := t.merge(chunk.Bytes)
		if err != nil {
			var eerr *EncodeError
			if errors.As(err, &eerr) {
				eerr.Offset += chunk.Offset
			}
			return err
		}

		fn(ids)
	}

	return nil
}

// EncodeBatch encodes texts concurrently and returns the results in input
// order. The first failure cancels the remaining work.
func (t *Tokenizer) EncodeBatch(ctx context.Context, texts []string, cfg EncodeConfig) ([][]int32, error) {
	results := make([][]int32, len(texts))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(t.parallel)
	for i, text := range texts {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}

			ids, err := t.Encode(text, cfg)
			if err != nil {
				return fmt.Errorf("text %d: %w", i, err)
			}

			results[i] = ids
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	slog.Debug("batch encoded", "texts", len(texts), "parallel", t.parallel)
	return results, nil
}

// Decode maps ids back to bytes. The bytes are not guaranteed to be valid
// UTF-8 when the ids split a multi-byte character.
func (t *Tokenizer) Decode(ids []int32) ([]byte, error) {
	out := make([]byte, 0, len(ids)*4)
	for i, id := range ids {
		piece, ok := t.vocab.Piece(id)
		if !ok {
			return nil, &DecodeError{Err: ErrUnknownTokenID, ID: id, Index: i}
		}

		out = append(out, piece...)
	}

	logutil.Trace("decoded", "bytes", len(out), "from", logutil.Lazy[[]int32]{Value: ids})
	return out, nil
}

// DecodeString decodes ids to text, failing or substituting U+FFFD on
// invalid UTF-8 according to cfg.
func (t *Tokenizer) DecodeString(ids []int32, cfg DecodeConfig) (string, error) {
	b, err := t.Decode(ids)
	if err != nil {
		return "", err
	}

	if utf8.Valid(b) {
		return string(b), nil
	}

	if cfg.UTF8 == UTF8Replace {
		return string(appendLossy(make([]byte, 0, len(b)+8), b)), nil
	}

	return "", &DecodeError{Err: ErrInvalidUTF8Output, ID: -1, Index: firstInvalid(b)}
}

// appendLossy appends b to dst with every maximal invalid subpart replaced
// by one U+FFFD, the substitution Python and Rust apply.
func appendLossy(dst, b []byte) []byte {
	for len(b) > 0 {
		r, size := utf8.DecodeRune(b)
		if r == utf8.RuneError && size == 1 {
			size = invalidSubpart(b)
			dst = utf8.AppendRune(dst, utf8.RuneError)
		} else {
			dst = append(dst, b[:size]...)
		}

		b = b[size:]
	}

	return dst
}

// invalidSubpart is the length of the truncated sequence at the start of b,
// at least 1. b must not start with a complete character.
func invalidSubpart(b []byte) int {
	lo, hi := byte(0x80), byte(0xbf)
	var need int
	switch c := b[0]; {
	case c >= 0xc2 && c <= 0xdf:
		need = 1
	case c == 0xe0:
		need, lo = 2, 0xa0
	case c == 0xed:
		need, hi = 2, 0x9f
	case c >= 0xe1 && c <= 0xef:
		need = 2
	case c == 0xf0:
		need, lo = 3, 0x90
	case c == 0xf4:
		need, hi = 3, 0x8f
	case c >= 0xf1 && c <= 0xf3:
		need = 3
	default:
		return 1
	}

	n := 1
	for n <= need && n < len(b) && b[n] >= lo && b[n] <= hi {
		lo, hi = 0x80, 0xbf
		n++
	}

	return n
}

func firstInvalid(b []byte) int {
	for i := 0; i < len(b); {
		r, size := utf8.DecodeRune(b[i:])
		if r == utf8.RuneError && size == 1 {
			return i
		}
		i += size
	}

	return len(b)
}
