package tokenizer

import (
	"fmt"
	"strings"

	"github.com/dlclark/regexp2"
)

// PatternID names the pre-tokenization pattern of a vocabulary family.
type PatternID string

const (
	// PatternGPT2 is shared by r50k_base, p50k_base and p50k_edit.
	PatternGPT2 PatternID = "gpt2"
	// PatternCL100K is used by cl100k_base.
	PatternCL100K PatternID = "cl100k"
	// PatternO200K is used by o200k_base.
	PatternO200K PatternID = "o200k"
)

var patterns = map[PatternID]string{
	PatternGPT2: `'s|'t|'re|'ve|'m|'ll|'d| ?\p{L}+| ?\p{N}+| ?[^\s\p{L}\p{N}]+|\s+(?!\S)|\s+`,

	PatternCL100K: `(?i:'s|'t|'re|'ve|'m|'ll|'d)|[^\r\n\p{L}\p{N}]?\p{L}+|\p{N}{1,3}| ?[^\s\p{L}\p{N}]+[\r\n]*|\s*[\r\n]+|\s+(?!\S)|\s+`,

	PatternO200K: strings.Join([]string{
		`[^\r\n\p{L}\p{N}]?[\p{Lu}\p{Lt}\p{Lm}\p{Lo}\p{M}]*[\p{Ll}\p{Lm}\p{Lo}\p{M}]+(?i:'s|'t|'re|'ve|'m|'ll|'d)?`,
		`[^\r\n\p{L}\p{N}]?[\p{Lu}\p{Lt}\p{Lm}\p{Lo}\p{M}]+[\p{Ll}\p{Lm}\p{Lo}\p{M}]*(?i:'s|'t|'re|'ve|'m|'ll|'d)?`,
		`\p{N}{1,3}`,
		` ?[^\s\p{L}\p{N}]+[\r\n/]*`,
		`\s*[\r\n]+`,
		`\s+(?!\S)`,
		`\s+`,
	}, "|"),
}

// Patterns returns the known pattern ids.
func Patterns() []PatternID {
	return []PatternID{PatternGPT2, PatternCL100K, PatternO200K}
}

// Expr returns the regular expression source for the pattern.
func (p PatternID) Expr() (string, bool) {
	expr, ok := patterns[p]
	return expr, ok
}

func (p PatternID) compile() (*regexp2.Regexp, error) {
	expr, ok := patterns[p]
	if !ok {
		return nil, &LoadError{Err: ErrUnknownPattern, Detail: fmt.Sprintf("%q", string(p))}
	}

	re, err := regexp2.Compile(expr, regexp2.None)
	if err != nil {
		return nil, fmt.Errorf("compile pattern %q: %w", string(p), err)
	}

	return re, nil
}
