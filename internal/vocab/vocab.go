// Package vocab maps corpus characters to integer codes and back.
package vocab

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
)

var (
	ErrUnknownSymbol = errors.New("symbol not in vocabulary")
	ErrUnknownCode   = errors.New("code not in vocabulary")
)

// Vocab is a bidirectional character <-> code mapping. Codes are assigned
// in sorted character order starting at 0.
type Vocab struct {
	toID   map[rune]int
	toChar []rune
}

// Build extracts every distinct character of corpus.
func Build(corpus string) *Vocab {
	seen := make(map[rune]struct{})
	for _, r := range corpus {
		seen[r] = struct{}{}
	}
	chars := make([]rune, 0, len(seen))
	for r := range seen {
		chars = append(chars, r)
	}
	sort.Slice(chars, func(i, j int) bool { return chars[i] < chars[j] })
	return FromSymbols(chars)
}

// FromSymbols builds a vocabulary with code i assigned to chars[i].
func FromSymbols(chars []rune) *Vocab {
	v := &Vocab{
		toID:   make(map[rune]int, len(chars)),
		toChar: append([]rune(nil), chars...),
	}
	for i, r := range v.toChar {
		v.toID[r] = i
	}
	return v
}

// Size returns the number of distinct symbols.
func (v *Vocab) Size() int {
	return len(v.toChar)
}

// Symbols returns the characters in code order.
func (v *Vocab) Symbols() []rune {
	return append([]rune(nil), v.toChar...)
}

// Encode converts text to codes. Characters outside the vocabulary fail.
func (v *Vocab) Encode(text string) ([]int, error) {
	ids := make([]int, 0, len(text))
	for i, r := range text {
		id, ok := v.toID[r]
		if !ok {
			return nil, fmt.Errorf("%w: %q at byte %d", ErrUnknownSymbol, r, i)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Decode converts codes back to text.
func (v *Vocab) Decode(ids []int) (string, error) {
	var result strings.Builder
	for _, id := range ids {
		if id < 0 || id >= len(v.toChar) {
			return "", fmt.Errorf("%w: %d", ErrUnknownCode, id)
		}
		result.WriteRune(v.toChar[id])
	}
	return result.String(), nil
}

type vocabData struct {
	Symbols []string `json:"symbols"`
	Size    int      `json:"size"`
}

func (v *Vocab) MarshalJSON() ([]byte, error) {
	data := vocabData{Size: len(v.toChar)}
	for _, r := range v.toChar {
		data.Symbols = append(data.Symbols, string(r))
	}
	return json.Marshal(data)
}

func (v *Vocab) UnmarshalJSON(b []byte) error {
	var data vocabData
	if err := json.Unmarshal(b, &data); err != nil {
		return err
	}
	chars := make([]rune, 0, len(data.Symbols))
	for _, s := range data.Symbols {
		rs := []rune(s)
		if len(rs) != 1 {
			return fmt.Errorf("vocab symbol %q is not a single character", s)
		}
		chars = append(chars, rs[0])
	}
	*v = *FromSymbols(chars)
	return nil
}

// Save writes v as vocab JSON.
func Save(path string, v *Vocab) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	encoder := json.NewEncoder(f)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

// Load reads a vocabulary written by Save.
func Load(path string) (*Vocab, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	v := &Vocab{}
	if err := json.NewDecoder(f).Decode(v); err != nil {
		return nil, fmt.Errorf("decoding vocab %s: %w", path, err)
	}
	return v, nil
}
