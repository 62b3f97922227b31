package tokenizer

import (
	"bufio"
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"strconv"
)

// Load parses a rank source of "<base64 piece> <rank>" lines and builds a
// vocabulary with the given special tokens and pre-tokenization pattern.
func Load(r io.Reader, special map[string]int32, pattern PatternID) (*Vocabulary, error) {
	ranks := make(map[string]int32)
	lines := make(map[int32]int)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	var line int
	for scanner.Scan() {
		line++

		text := bytes.TrimSuffix(scanner.Bytes(), []byte{'\r'})
		if len(bytes.TrimSpace(text)) == 0 {
			continue
		}

		fields := bytes.Fields(text)
		if len(fields) != 2 {
			return nil, &LoadError{Err: ErrMalformedEntry, Line: line, Detail: fmt.Sprintf("expected 2 fields, got %d", len(fields))}
		}

		piece, err := base64.StdEncoding.DecodeString(string(fields[0]))
		if err != nil {
			return nil, &LoadError{Err: ErrMalformedEntry, Line: line, Detail: err.Error()}
		}

		if len(piece) == 0 {
			return nil, &LoadError{Err: ErrMalformedEntry, Line: line, Detail: "empty piece"}
		}

		n, err := strconv.ParseInt(string(fields[1]), 10, 32)
		if err != nil || n < 0 {
			return nil, &LoadError{Err: ErrMalformedEntry, Line: line, Detail: fmt.Sprintf("invalid rank %q", fields[1])}
		}

		rank := int32(n)
		if _, ok := ranks[string(piece)]; ok {
			return nil, &LoadError{Err: ErrMalformedEntry, Line: line, Detail: fmt.Sprintf("piece %q listed twice", piece)}
		}

		if prev, ok := lines[rank]; ok {
			return nil, &LoadError{Err: ErrDuplicateRank, Line: line, Detail: fmt.Sprintf("rank %d first seen on line %d", rank, prev)}
		}

		ranks[string(piece)] = rank
		lines[rank] = line
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read ranks: %w", err)
	}

	return newVocabulary(ranks, special, pattern)
}

// LoadFile is Load over the contents of a rank file.
func LoadFile(path string, special map[string]int32, pattern PatternID) (*Vocabulary, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return Load(f, special, pattern)
}
