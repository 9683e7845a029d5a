// Package train runs the optimisation loop and periodic loss estimation.
package train

import (
	"context"
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/minifrost/minifrost/internal/dataset"
	"github.com/minifrost/minifrost/internal/model"
)

// BatchSource draws fixed-shape batches from a corpus split.
// *dataset.Sampler implements it.
type BatchSource interface {
	Sample(split dataset.Split) (dataset.Batch, error)
	BatchSize() int
	BlockSize() int
}

// Report holds the mean loss of both splits at one training step.
type Report struct {
	Step  int
	Train float64
	Test  float64
}

// Perplexity of the test split.
func (r Report) Perplexity() float64 {
	return math.Exp(r.Test)
}

// EstimateLoss averages the loss of iters batches per split. It only runs
// eval programs, so parameters and optimizer state are left untouched.
func EstimateLoss(ctx context.Context, lm model.LanguageModel, batches BatchSource, iters int) (Report, error) {
	if iters <= 0 {
		return Report{}, fmt.Errorf("eval iters %d must be positive", iters)
	}
	var r Report
	losses := make([]float64, iters)
	for _, split := range []dataset.Split{dataset.Train, dataset.Test} {
		for k := range losses {
			b, err := batches.Sample(split)
			if err != nil {
				return Report{}, fmt.Errorf("sampling %s: %w", split, err)
			}
			out, err := lm.Forward(ctx, b.Contexts, b.Targets)
			if err != nil {
				return Report{}, fmt.Errorf("evaluating %s: %w", split, err)
			}
			losses[k] = out.Loss
		}
		mean := stat.Mean(losses, nil)
		if split == dataset.Train {
			r.Train = mean
		} else {
			r.Test = mean
		}
	}
	return r, nil
}
