package tokenizer

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	cases := []struct {
		name    string
		input   string
		special map[string]int32
		pattern PatternID
		err     error
		line    int
	}{
		{
			name:    "explicit bytes",
			input:   "YQ== 0\nYg== 1\nYWI= 2\n",
			pattern: PatternGPT2,
		},
		{
			name:    "blank lines and crlf",
			input:   "YQ== 0\r\n\r\nYg== 1\r\n\nYWI= 2",
			pattern: PatternGPT2,
		},
		{
			name:    "implicit bytes",
			input:   "YWI= 256\n",
			pattern: PatternCL100K,
		},
		{
			name:    "missing rank",
			input:   "YQ==\n",
			pattern: PatternGPT2,
			err:     ErrMalformedEntry,
			line:    1,
		},
		{
			name:    "extra field",
			input:   "YQ== 0\nYg== 1 2\n",
			pattern: PatternGPT2,
			err:     ErrMalformedEntry,
			line:    2,
		},
		{
			name:    "bad base64",
			input:   "!!!! 0\n",
			pattern: PatternGPT2,
			err:     ErrMalformedEntry,
			line:    1,
		},
		{
			name:    "bad rank",
			input:   "YQ== zero\n",
			pattern: PatternGPT2,
			err:     ErrMalformedEntry,
			line:    1,
		},
		{
			name:    "negative rank",
			input:   "YQ== -1\n",
			pattern: PatternGPT2,
			err:     ErrMalformedEntry,
			line:    1,
		},
		{
			name:    "repeated piece",
			input:   "YQ== 0\nYQ== 1\n",
			pattern: PatternGPT2,
			err:     ErrMalformedEntry,
			line:    2,
		},
		{
			name:    "duplicate rank",
			input:   "YQ== 0\nYg== 0\n",
			pattern: PatternGPT2,
			err:     ErrDuplicateRank,
			line:    2,
		},
		{
			name:    "gap",
			input:   "YQ== 0\nYg== 2\n",
			pattern: PatternGPT2,
			err:     ErrNonContiguousRanks,
		},
		{
			name:    "implicit bytes with gap",
			input:   "YWI= 257\n",
			pattern: PatternGPT2,
			err:     ErrNonContiguousRanks,
		},
		{
			name:    "gap filled by special",
			input:   "YQ== 0\nYg== 1\nYWI= 3\n",
			special: map[string]int32{"<|endoftext|>": 2},
			pattern: PatternGPT2,
		},
		{
			name:    "gap beside special",
			input:   "YQ== 0\nYg== 1\nYWI= 4\n",
			special: map[string]int32{"<|endoftext|>": 2},
			pattern: PatternGPT2,
			err:     ErrNonContiguousRanks,
		},
		{
			name:    "rank far past the table",
			input:   "YQ== 0\nYg== 2147483647\n",
			special: map[string]int32{"<|endoftext|>": 1},
			pattern: PatternGPT2,
			err:     ErrNonContiguousRanks,
		},
		{
			name:    "special is a piece",
			input:   "YQ== 0\nYg== 1\n",
			special: map[string]int32{"a": 10},
			pattern: PatternGPT2,
			err:     ErrSpecialTokenConflict,
		},
		{
			name:    "special equals a rank",
			input:   "YQ== 0\nYg== 1\n",
			special: map[string]int32{"<s>": 1},
			pattern: PatternGPT2,
			err:     ErrSpecialTokenConflict,
		},
		{
			name:    "specials share an id",
			input:   "YQ== 0\nYg== 1\n",
			special: map[string]int32{"<s>": 5, "</s>": 5},
			pattern: PatternGPT2,
			err:     ErrSpecialTokenConflict,
		},
		{
			name:    "empty special",
			input:   "YQ== 0\n",
			special: map[string]int32{"": 5},
			pattern: PatternGPT2,
			err:     ErrSpecialTokenConflict,
		},
		{
			name:    "unknown pattern",
			input:   "YQ== 0\n",
			pattern: "p100k",
			err:     ErrUnknownPattern,
		},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			v, err := Load(strings.NewReader(tt.input), tt.special, tt.pattern)
			if tt.err == nil {
				require.NoError(t, err)
				require.NotNil(t, v)
				return
			}

			require.ErrorIs(t, err, tt.err)
			assert.Nil(t, v)

			var lerr *LoadError
			require.True(t, errors.As(err, &lerr))
			assert.Equal(t, tt.line, lerr.Line)
		})
	}
}

func TestLoadLayouts(t *testing.T) {
	t.Run("explicit", func(t *testing.T) {
		v, err := Load(strings.NewReader("YQ== 0\nYg== 1\nYWI= 2\n"), map[string]int32{"<END>": 50000}, PatternGPT2)
		require.NoError(t, err)

		assert.Equal(t, 3, v.NumRanks())
		assert.Equal(t, 50001, v.Size())

		rank, ok := v.Rank([]byte("ab"))
		require.True(t, ok)
		assert.EqualValues(t, 2, rank)

		_, ok = v.Rank([]byte("c"))
		assert.False(t, ok)
	})

	t.Run("implicit", func(t *testing.T) {
		v, err := Load(strings.NewReader("YWI= 256\n"), nil, PatternGPT2)
		require.NoError(t, err)

		assert.Equal(t, 257, v.NumRanks())
		assert.Equal(t, 257, v.Size())

		for b := range 256 {
			piece, ok := v.Piece(int32(b))
			require.True(t, ok)
			assert.Equal(t, []byte{byte(b)}, piece)
		}

		piece, ok := v.Piece(256)
		require.True(t, ok)
		assert.Equal(t, "ab", string(piece))
	})
}

func TestLoadSpecialInGap(t *testing.T) {
	// p50k_base leaves rank 50256 to <|endoftext|> and continues at 50257
	v, err := Load(strings.NewReader("YQ== 0\nYg== 1\nYWI= 3\n"), map[string]int32{"<|endoftext|>": 2}, PatternGPT2)
	require.NoError(t, err)

	assert.Equal(t, 3, v.NumRanks())
	assert.Equal(t, 4, v.Size())
	assert.True(t, v.IsSpecial(2))

	piece, ok := v.Piece(2)
	require.True(t, ok)
	assert.Equal(t, "<|endoftext|>", string(piece))

	piece, ok = v.Piece(3)
	require.True(t, ok)
	assert.Equal(t, "ab", string(piece))

	tok := New(v)
	ids, err := tok.Encode("ab<|endoftext|>a", EncodeConfig{Special: AllowAll})
	require.NoError(t, err)
	assert.Equal(t, []int32{3, 2, 0}, ids)

	text, err := tok.DecodeString(ids, DecodeConfig{})
	require.NoError(t, err)
	assert.Equal(t, "ab<|endoftext|>a", text)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.tiktoken")
	require.NoError(t, os.WriteFile(path, []byte("YQ== 0\nYg== 1\nYWI= 2\n"), 0o644))

	v, err := LoadFile(path, nil, PatternGPT2)
	require.NoError(t, err)
	assert.Equal(t, 3, v.Size())

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing"), nil, PatternGPT2)
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestNewVocabulary(t *testing.T) {
	v, err := NewVocabulary(map[string]int32{"a": 0, "b": 1, "ab": 2}, map[string]int32{"<b>": 4, "<a>": 3}, PatternGPT2)
	require.NoError(t, err)
	assert.Equal(t, []string{"<a>", "<b>"}, v.SpecialTokens())
	assert.True(t, v.IsSpecial(3))
	assert.False(t, v.IsSpecial(2))

	id, ok := v.SpecialID("<b>")
	require.True(t, ok)
	assert.EqualValues(t, 4, id)

	_, err = NewVocabulary(map[string]int32{"a": 0, "b": 0}, nil, PatternGPT2)
	require.ErrorIs(t, err, ErrDuplicateRank)

	_, err = NewVocabulary(map[string]int32{"": 0}, nil, PatternGPT2)
	require.ErrorIs(t, err, ErrMalformedEntry)
}
