package tokenizer

import (
	"errors"
	"fmt"
)

var (
	ErrMalformedEntry       = errors.New("malformed rank entry")
	ErrDuplicateRank        = errors.New("duplicate rank")
	ErrNonContiguousRanks   = errors.New("ranks are not contiguous")
	ErrSpecialTokenConflict = errors.New("special token conflict")
	ErrUnknownPattern       = errors.New("unknown pattern")

	ErrDisallowedSpecialToken = errors.New("disallowed special token")
	ErrInputTooLarge          = errors.New("input too large")
	ErrUnencodableByte        = errors.New("byte has no rank")

	ErrUnknownTokenID    = errors.New("unknown token id")
	ErrInvalidUTF8Output = errors.New("decoded bytes are not valid utf-8")
)

// LoadError is returned when a vocabulary cannot be constructed. Line is
// the 1-based line of the rank source, or 0 when the problem is not tied to
// a single line.
type LoadError struct {
	Err    error
	Line   int
	Detail string
}

func (e *LoadError) Error() string {
	switch {
	case e.Line > 0 && e.Detail != "":
		return fmt.Sprintf("load vocabulary: line %d: %v: %s", e.Line, e.Err, e.Detail)
	case e.Detail != "":
		return fmt.Sprintf("load vocabulary: %v: %s", e.Err, e.Detail)
	default:
		return fmt.Sprintf("load vocabulary: %v", e.Err)
	}
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// EncodeError reports the offending special token or byte together with
// its byte offset in the input.
type EncodeError struct {
	Err    error
	Token  string
	Offset int
	Limit  int
}

func (e *EncodeError) Error() string {
	switch {
	case errors.Is(e.Err, ErrInputTooLarge):
		return fmt.Sprintf("encode: %v: %d bytes exceeds limit of %d", e.Err, e.Offset, e.Limit)
	case e.Token != "":
		return fmt.Sprintf("encode: %v %q at offset %d", e.Err, e.Token, e.Offset)
	default:
		return fmt.Sprintf("encode: %v at offset %d", e.Err, e.Offset)
	}
}

func (e *EncodeError) Unwrap() error {
	return e.Err
}

// DecodeError reports the id that could not be decoded and its position in
// the input slice. ID is -1 for errors that concern the whole output.
type DecodeError struct {
	Err   error
	ID    int32
	Index int
}

func (e *DecodeError) Error() string {
	if e.ID < 0 {
		return fmt.Sprintf("decode: %v at byte %d", e.Err, e.Index)
	}

	return fmt.Sprintf("decode: %v %d at index %d", e.Err, e.ID, e.Index)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}
