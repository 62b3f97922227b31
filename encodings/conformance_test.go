//go:build conformance

package encodings

import (
	"testing"

	tiktoken "github.com/pkoukk/tiktoken-go"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/tokenkit/tokenkit/tokenizer"
)

var conformanceInputs = []string{
	"",
	"hello world",
	"Hello, World! How's it going?",
	"  leading and trailing spaces  ",
	"line one\nline two\r\n\r\nline four\n\n\n",
	"tabs\tand\tmore\t\ttabs",
	"numbers 1 12 123 1234 12345 3.14159",
	"I'm sure they'll say we've done it, haven't we? YOU'RE RIGHT.",
	"日本語のテキストとかな漢字",
	"Ελληνικά και русский текст",
	"emoji 👋🏽 🧑‍💻 🇯🇵",
	"func main() {\n\tfmt.Println(\"hi\")\n}\n",
	"<|endoftext|> is just text here",
	"aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
	"https://example.com/path?query=1&other=two#fragment",
}

func toInt32(ids []int) []int32 {
	out := make([]int32, len(ids))
	for i, id := range ids {
		out[i] = int32(id)
	}
	return out
}

func TestConformance(t *testing.T) {
	for _, name := range []string{"r50k_base", "p50k_base", "cl100k_base", "o200k_base"} {
		t.Run(name, func(t *testing.T) {
			ours, err := Get(t.Context(), name)
			require.NoError(t, err)

			ref, err := tiktoken.GetEncoding(name)
			require.NoError(t, err)

			text := tokenizer.EncodeConfig{Special: tokenizer.SpecialAsText}
			all := tokenizer.EncodeConfig{Special: tokenizer.AllowAll}

			for _, input := range conformanceInputs {
				got, err := ours.Encode(input, text)
				require.NoError(t, err)
				require.Equal(t, toInt32(ref.Encode(input, nil, nil)), got, "%q", input)

				got, err = ours.Encode(input, all)
				require.NoError(t, err)
				require.Equal(t, toInt32(ref.Encode(input, []string{"all"}, nil)), got, "%q", input)
			}

			rapid.Check(t, func(t *rapid.T) {
				input := rapid.String().Draw(t, "input")

				got, err := ours.Encode(input, text)
				if err != nil {
					t.Fatal(err)
				}

				want := toInt32(ref.Encode(input, nil, nil))
				if len(got) != len(want) {
					t.Fatalf("%q: got %v, want %v", input, got, want)
				}

				for i := range got {
					if got[i] != want[i] {
						t.Fatalf("%q: got %v, want %v", input, got, want)
					}
				}
			})
		})
	}
}
