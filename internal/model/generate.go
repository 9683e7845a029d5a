package model

import (
	"context"
	"fmt"

	"github.com/minifrost/minifrost/internal/sampling"
)

// Generate extends every seed row by n sampled tokens. Each step forwards
// the last ContextLimit tokens (all of them when unbounded), turns the
// final position's logits into probabilities and draws one code per row.
func Generate(ctx context.Context, lm LanguageModel, seed [][]int, n int, sampler sampling.Sampler) ([][]int, error) {
	if len(seed) == 0 {
		return nil, fmt.Errorf("%w: empty seed", ErrShape)
	}
	width := len(seed[0])
	if width == 0 {
		return nil, fmt.Errorf("%w: seed rows must hold at least one token", ErrShape)
	}
	out := make([][]int, len(seed))
	for b, row := range seed {
		if len(row) != width {
			return nil, fmt.Errorf("%w: seed row %d has %d tokens, row 0 has %d", ErrShape, b, len(row), width)
		}
		out[b] = make([]int, len(row), len(row)+n)
		copy(out[b], row)
	}

	limit := lm.ContextLimit()
	window := make([][]int, len(out))
	for step := 0; step < n; step++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for b, row := range out {
			if limit > 0 && len(row) > limit {
				row = row[len(row)-limit:]
			}
			window[b] = row
		}

		o, err := lm.Forward(ctx, window, nil)
		if err != nil {
			return nil, fmt.Errorf("generation step %d: %w", step, err)
		}
		for b, logits := range o.Last() {
			id, err := sampler.Sample(sampling.Softmax(logits))
			if err != nil {
				return nil, fmt.Errorf("sampling step %d: %w", step, err)
			}
			out[b] = append(out[b], id)
		}
	}
	return out, nil
}
