package tokenizer

import (
	"fmt"
	"slices"
	"strings"
)

// SpecialPolicy decides what happens when a special token literal appears
// in the input.
type SpecialPolicy int

const (
	// AllowNone rejects every special token literal.
	AllowNone SpecialPolicy = iota
	// AllowAll encodes every special token literal as its reserved id.
	AllowAll
	// AllowSet encodes the literals named in EncodeConfig.Allowed and
	// rejects the rest.
	AllowSet
	// SpecialAsText ignores special tokens and merges their text like any
	// other input.
	SpecialAsText
)

func (p SpecialPolicy) String() string {
	switch p {
	case AllowNone:
		return "none"
	case AllowAll:
		return "all"
	case AllowSet:
		return "set"
	case SpecialAsText:
		return "text"
	default:
		return fmt.Sprintf("SpecialPolicy(%d)", int(p))
	}
}

// ParseSpecialPolicy accepts "none", "all", "text" or a comma separated
// list of special token literals.
func ParseSpecialPolicy(s string) (EncodeConfig, error) {
	switch strings.TrimSpace(s) {
	case "", "none":
		return EncodeConfig{Special: AllowNone}, nil
	case "all":
		return EncodeConfig{Special: AllowAll}, nil
	case "text":
		return EncodeConfig{Special: SpecialAsText}, nil
	}

	var allowed []string
	for name := range strings.SplitSeq(s, ",") {
		if name = strings.TrimSpace(name); name != "" {
			allowed = append(allowed, name)
		}
	}

	if len(allowed) == 0 {
		return EncodeConfig{}, fmt.Errorf("invalid special token policy %q", s)
	}

	return EncodeConfig{Special: AllowSet, Allowed: allowed}, nil
}

// EncodeConfig is passed to every encode call.
type EncodeConfig struct {
	Special SpecialPolicy
	Allowed []string

	// MaxInputBytes rejects larger inputs when positive.
	MaxInputBytes int
}

func (c EncodeConfig) allows(literal string) bool {
	switch c.Special {
	case AllowAll:
		return true
	case AllowSet:
		return slices.Contains(c.Allowed, literal)
	default:
		return false
	}
}

type UTF8Policy int

const (
	UTF8Strict UTF8Policy = iota
	UTF8Replace
)

type DecodeConfig struct {
	UTF8 UTF8Policy
}
