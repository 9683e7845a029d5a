// Package nn builds the layers of the language models as gorgonia graphs.
//
// Learned parameters live outside any graph as float32 tensors. Every
// compiled graph binds the same tensors, so an optimizer step taken through
// one graph is visible through all of them.
package nn

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"
	"gorgonia.org/tensor"
)

// Param is a named learned matrix.
type Param struct {
	Name  string
	Value *tensor.Dense
}

// NewParam wraps data as a rows x cols parameter.
func NewParam(name string, rows, cols int, data []float32) *Param {
	return &Param{
		Name:  name,
		Value: tensor.New(tensor.WithShape(rows, cols), tensor.WithBacking(data)),
	}
}

// NewNormal draws a rows x cols parameter from N(0, 1).
func NewNormal(name string, rows, cols int, src rand.Source) *Param {
	dist := distuv.Normal{Mu: 0, Sigma: 1, Src: src}
	data := make([]float32, rows*cols)
	for i := range data {
		data[i] = float32(dist.Rand())
	}
	return NewParam(name, rows, cols, data)
}

// NewUniform draws a rows x cols parameter from U(-1/sqrt(fanIn), 1/sqrt(fanIn)).
func NewUniform(name string, rows, cols, fanIn int, src rand.Source) *Param {
	bound := 1 / math.Sqrt(float64(fanIn))
	dist := distuv.Uniform{Min: -bound, Max: bound, Src: src}
	data := make([]float32, rows*cols)
	for i := range data {
		data[i] = float32(dist.Rand())
	}
	return NewParam(name, rows, cols, data)
}

// Shape returns (rows, cols).
func (p *Param) Shape() (int, int) {
	s := p.Value.Shape()
	return s[0], s[1]
}

// Data returns the backing slice.
func (p *Param) Data() []float32 {
	return p.Value.Data().([]float32)
}

// Count returns the number of scalars across params.
func Count(params []*Param) int {
	n := 0
	for _, p := range params {
		n += p.Value.Shape().TotalSize()
	}
	return n
}
