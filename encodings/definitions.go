package encodings

import (
	"maps"

	"github.com/tokenkit/tokenkit/tokenizer"
)

const (
	EndOfText   = "<|endoftext|>"
	FIMPrefix   = "<|fim_prefix|>"
	FIMMiddle   = "<|fim_middle|>"
	FIMSuffix   = "<|fim_suffix|>"
	EndOfPrompt = "<|endofprompt|>"
)

const publicURL = "https://openaipublic.blob.core.windows.net/encodings/"

// Definition describes where a rank file lives and how to use it.
type Definition struct {
	Name    string
	URL     string
	SHA256  string
	Pattern tokenizer.PatternID
	Special map[string]int32
}

func (d Definition) clone() Definition {
	d.Special = maps.Clone(d.Special)
	return d
}

var builtin = []Definition{
	{
		Name:    "r50k_base",
		URL:     publicURL + "r50k_base.tiktoken",
		SHA256:  "306cd27f03c1a714eca7108e03d66b7dc042abe8c258b44c199a7ed9838dd930",
		Pattern: tokenizer.PatternGPT2,
		Special: map[string]int32{EndOfText: 50256},
	},
	{
		Name:    "p50k_base",
		URL:     publicURL + "p50k_base.tiktoken",
		SHA256:  "94b5ca7dff4d00767bc256fdd1b27e5b17361d7b8a5f968547f9f23eb70d2069",
		Pattern: tokenizer.PatternGPT2,
		Special: map[string]int32{EndOfText: 50256},
	},
	{
		Name:    "p50k_edit",
		URL:     publicURL + "p50k_base.tiktoken",
		SHA256:  "94b5ca7dff4d00767bc256fdd1b27e5b17361d7b8a5f968547f9f23eb70d2069",
		Pattern: tokenizer.PatternGPT2,
		Special: map[string]int32{
			EndOfText: 50256,
			FIMPrefix: 50281,
			FIMMiddle: 50282,
			FIMSuffix: 50283,
		},
	},
	{
		Name:    "cl100k_base",
		URL:     publicURL + "cl100k_base.tiktoken",
		SHA256:  "223921b76ee99bde995b7ff738513eef100fb51d18c93597a113bcffe865b2a7",
		Pattern: tokenizer.PatternCL100K,
		Special: map[string]int32{
			EndOfText:   100257,
			FIMPrefix:   100258,
			FIMMiddle:   100259,
			FIMSuffix:   100260,
			EndOfPrompt: 100276,
		},
	},
	{
		Name:    "o200k_base",
		URL:     publicURL + "o200k_base.tiktoken",
		SHA256:  "446a9538cb6c348e3516120d7c08b09f57c36495e2acfffe59a5bf8b0cfb1a2d",
		Pattern: tokenizer.PatternO200K,
		Special: map[string]int32{
			EndOfText:   199999,
			EndOfPrompt: 200018,
		},
	},
}
