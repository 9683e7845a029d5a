// Package dataset holds the encoded corpus and draws training batches from it.
package dataset

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
)

var (
	ErrShortSegment = errors.New("segment too short for block size")
	ErrOffset       = errors.New("window offset out of range")
)

// Split selects one of the two corpus partitions.
type Split int

const (
	Train Split = iota
	Test
)

func (s Split) String() string {
	switch s {
	case Train:
		return "train"
	case Test:
		return "val"
	}
	return fmt.Sprintf("split(%d)", int(s))
}

// Corpus is an immutable encoded corpus split into a training segment
// (the first ceil(ratio*n) codes) and a testing segment (the rest).
type Corpus struct {
	tokens []int
	split  int
}

// NewCorpus copies tokens and computes the split point once.
func NewCorpus(tokens []int, ratio float64) (*Corpus, error) {
	if ratio <= 0 || ratio >= 1 {
		return nil, fmt.Errorf("split ratio %v must be in (0, 1)", ratio)
	}
	n := int(math.Ceil(ratio * float64(len(tokens))))
	if n > len(tokens) {
		n = len(tokens)
	}
	return &Corpus{tokens: append([]int(nil), tokens...), split: n}, nil
}

// Len returns the total number of codes.
func (c *Corpus) Len() int {
	return len(c.tokens)
}

// Segment returns the codes of one split. Callers must not modify it.
func (c *Corpus) Segment(s Split) []int {
	if s == Test {
		return c.tokens[c.split:]
	}
	return c.tokens[:c.split]
}

// Batch is a pair of (rows x block) matrices where Targets is Contexts
// shifted one position forward in the corpus.
type Batch struct {
	Contexts [][]int
	Targets  [][]int
}

// Rows returns the batch size.
func (b Batch) Rows() int {
	return len(b.Contexts)
}

// Windows cuts one context/target row per offset from split s.
func (c *Corpus) Windows(s Split, block int, offsets []int) (Batch, error) {
	seg := c.Segment(s)
	if len(seg) < block+1 {
		return Batch{}, fmt.Errorf("%w: %s has %d codes, need %d", ErrShortSegment, s, len(seg), block+1)
	}
	b := Batch{
		Contexts: make([][]int, len(offsets)),
		Targets:  make([][]int, len(offsets)),
	}
	for i, o := range offsets {
		if o < 0 || o > len(seg)-block-1 {
			return Batch{}, fmt.Errorf("%w: %d not in [0, %d]", ErrOffset, o, len(seg)-block-1)
		}
		b.Contexts[i] = append([]int(nil), seg[o:o+block]...)
		b.Targets[i] = append([]int(nil), seg[o+1:o+block+1]...)
	}
	return b, nil
}

// Sampler draws random batches of fixed shape. Offsets are uniform over
// every valid window start and drawn independently per row.
type Sampler struct {
	corpus    *Corpus
	batchSize int
	blockSize int
	rng       *rand.Rand
}

// NewSampler fails unless both splits hold at least one full window.
func NewSampler(c *Corpus, batchSize, blockSize int, src rand.Source) (*Sampler, error) {
	if batchSize <= 0 || blockSize <= 0 {
		return nil, fmt.Errorf("batch size %d and block size %d must be positive", batchSize, blockSize)
	}
	for _, s := range []Split{Train, Test} {
		if n := len(c.Segment(s)); n < blockSize+1 {
			return nil, fmt.Errorf("%w: %s has %d codes, need %d", ErrShortSegment, s, n, blockSize+1)
		}
	}
	return &Sampler{
		corpus:    c,
		batchSize: batchSize,
		blockSize: blockSize,
		rng:       rand.New(src),
	}, nil
}

func (s *Sampler) BatchSize() int { return s.batchSize }
func (s *Sampler) BlockSize() int { return s.blockSize }

// Sample draws one batch from split.
func (s *Sampler) Sample(split Split) (Batch, error) {
	n := len(s.corpus.Segment(split)) - s.blockSize
	offsets := make([]int, s.batchSize)
	for i := range offsets {
		offsets[i] = s.rng.IntN(n)
	}
	return s.corpus.Windows(split, s.blockSize, offsets)
}
