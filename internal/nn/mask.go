package nn

import (
	"fmt"
	"math"

	"gorgonia.org/tensor"
)

var negInf = float32(math.Inf(-1))

// CausalMask builds the additive mask for rows sequences of cols positions
// flattened to n = rows*cols. Entry (i, j) is 0 when j belongs to the same
// sequence as i and is not later than i, and -Inf otherwise. Each diagonal
// block is the top-left cols x cols corner of the lower-triangular mask.
func CausalMask(rows, cols int) *tensor.Dense {
	n := rows * cols
	data := make([]float32, n*n)
	for i := 0; i < n; i++ {
		start := (i / cols) * cols
		for j := 0; j < n; j++ {
			if j < start || j > i {
				data[i*n+j] = negInf
			}
		}
		// the diagonal keeps every softmax row defined
		if data[i*n+i] != 0 {
			panic(fmt.Sprintf("causal mask row %d has no visible position", i))
		}
	}
	return tensor.New(tensor.WithShape(n, n), tensor.WithBacking(data))
}

// Visible reports whether flattened position i may attend to j under cols.
func Visible(i, j, cols int) bool {
	return j <= i && j >= (i/cols)*cols
}
