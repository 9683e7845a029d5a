// Package sampling turns logits into drawn token codes.
package sampling

import (
	"errors"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"
)

var ErrEmpty = errors.New("empty distribution")

// Softmax computes exp-normalized probabilities of logits.
func Softmax(logits []float32) []float64 {
	if len(logits) == 0 {
		return nil
	}
	max := float64(logits[0])
	for _, v := range logits[1:] {
		if float64(v) > max {
			max = float64(v)
		}
	}

	var sum float64
	result := make([]float64, len(logits))
	for i, v := range logits {
		exp := math.Exp(float64(v) - max)
		result[i] = exp
		sum += exp
	}
	for i := range result {
		result[i] /= sum
	}
	return result
}

// Sampler draws one index with probability proportional to its weight.
type Sampler interface {
	Sample(probs []float64) (int, error)
}

// SamplerFunc adapts a function to Sampler.
type SamplerFunc func(probs []float64) (int, error)

func (f SamplerFunc) Sample(probs []float64) (int, error) { return f(probs) }

// Categorical samples through gonum's categorical distribution.
type Categorical struct {
	src rand.Source
}

// NewCategorical returns a sampler drawing from src. Two samplers built
// from identically seeded sources produce identical draws.
func NewCategorical(src rand.Source) *Categorical {
	return &Categorical{src: src}
}

func (c *Categorical) Sample(probs []float64) (int, error) {
	if len(probs) == 0 {
		return 0, ErrEmpty
	}
	dist := distuv.NewCategorical(probs, c.src)
	return int(dist.Rand()), nil
}

// Argmax always picks the most probable index. Generation uses the
// stochastic sampler; this exists for reproducible inspection.
var Argmax = SamplerFunc(func(probs []float64) (int, error) {
	if len(probs) == 0 {
		return 0, ErrEmpty
	}
	best := 0
	for i, p := range probs {
		if p > probs[best] {
			best = i
		}
	}
	return best, nil
})
