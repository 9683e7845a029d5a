package nn

import (
	"fmt"
	"math"
	"math/rand/v2"

	"gorgonia.org/gorgonia"
)

// Embedding is a learned lookup table of count rows of width dim. Lookups
// are a one-hot (N x count) product so they stay differentiable.
type Embedding struct {
	Table *Param
}

func NewEmbedding(name string, count, dim int, src rand.Source) *Embedding {
	return &Embedding{Table: NewNormal(name, count, dim, src)}
}

func (e *Embedding) Forward(s *Scope, onehot *gorgonia.Node) (*gorgonia.Node, error) {
	out, err := gorgonia.Mul(onehot, s.Node(e.Table))
	if err != nil {
		return nil, s.errorf("embedding %s: %w", e.Table.Name, err)
	}
	return out, nil
}

func (e *Embedding) Params() []*Param { return []*Param{e.Table} }

// Linear is x*W (+ b).
type Linear struct {
	W *Param
	B *Param // nil without bias
}

func NewLinear(name string, in, out int, bias bool, src rand.Source) *Linear {
	l := &Linear{W: NewUniform(name+".weight", in, out, in, src)}
	if bias {
		l.B = NewUniform(name+".bias", 1, out, in, src)
	}
	return l
}

func (l *Linear) Forward(s *Scope, x *gorgonia.Node) (*gorgonia.Node, error) {
	xw, err := gorgonia.Mul(x, s.Node(l.W))
	if err != nil {
		return nil, s.errorf("linear %s: %w", l.W.Name, err)
	}
	if l.B == nil {
		return xw, nil
	}

	// ones (N x 1) * b (1 x out) repeats the bias on every row
	bias, err := gorgonia.Mul(s.Ones(), s.Node(l.B))
	if err != nil {
		return nil, s.errorf("linear %s bias: %w", l.B.Name, err)
	}
	return gorgonia.Add(xw, bias)
}

func (l *Linear) Params() []*Param {
	if l.B == nil {
		return []*Param{l.W}
	}
	return []*Param{l.W, l.B}
}

// Head is one causal self-attention head.
type Head struct {
	Name              string
	Size              int
	Key, Query, Value *Linear
}

func NewHead(name string, embedDim, size int, src rand.Source) *Head {
	return &Head{
		Name:  name,
		Size:  size,
		Key:   NewLinear(name+".key", embedDim, size, false, src),
		Query: NewLinear(name+".query", embedDim, size, false, src),
		Value: NewLinear(name+".value", embedDim, size, false, src),
	}
}

// Forward returns the (N x Size) attention output. The normalized weights
// are watched under the head's name.
func (h *Head) Forward(s *Scope, x *gorgonia.Node) (*gorgonia.Node, error) {
	k, err := h.Key.Forward(s, x)
	if err != nil {
		return nil, err
	}
	q, err := h.Query.Forward(s, x)
	if err != nil {
		return nil, err
	}
	v, err := h.Value.Forward(s, x)
	if err != nil {
		return nil, err
	}

	kT, err := gorgonia.Transpose(k)
	if err != nil {
		return nil, s.errorf("head %s: %w", h.Name, err)
	}
	// affinities (N x N), scaled by 1/sqrt(head size)
	scores, err := gorgonia.Mul(q, kT)
	if err != nil {
		return nil, s.errorf("head %s scores: %w", h.Name, err)
	}
	scale := gorgonia.NewConstant(float32(1 / math.Sqrt(float64(h.Size))))
	if scores, err = gorgonia.Mul(scores, scale); err != nil {
		return nil, s.errorf("head %s scale: %w", h.Name, err)
	}
	if scores, err = gorgonia.Add(scores, s.Mask()); err != nil {
		return nil, s.errorf("head %s mask: %w", h.Name, err)
	}
	wei, err := gorgonia.SoftMax(scores)
	if err != nil {
		return nil, s.errorf("head %s softmax: %w", h.Name, err)
	}
	s.Watch(h.Name, wei)

	out, err := gorgonia.Mul(wei, v)
	if err != nil {
		return nil, s.errorf("head %s output: %w", h.Name, err)
	}
	return out, nil
}

func (h *Head) Params() []*Param {
	var ps []*Param
	ps = append(ps, h.Key.Params()...)
	ps = append(ps, h.Query.Params()...)
	ps = append(ps, h.Value.Params()...)
	return ps
}

// MultiHead runs independent heads and concatenates their outputs along
// the feature axis.
type MultiHead struct {
	Heads []*Head
}

func NewMultiHead(name string, heads, embedDim, headSize int, src rand.Source) *MultiHead {
	m := &MultiHead{Heads: make([]*Head, heads)}
	for i := range m.Heads {
		m.Heads[i] = NewHead(fmt.Sprintf("%s.%d", name, i), embedDim, headSize, src)
	}
	return m
}

func (m *MultiHead) Forward(s *Scope, x *gorgonia.Node) (*gorgonia.Node, error) {
	outs := make([]*gorgonia.Node, len(m.Heads))
	for i, h := range m.Heads {
		out, err := h.Forward(s, x)
		if err != nil {
			return nil, err
		}
		outs[i] = out
	}
	if len(outs) == 1 {
		return outs[0], nil
	}
	out, err := gorgonia.Concat(1, outs...)
	if err != nil {
		return nil, s.errorf("concat heads: %w", err)
	}
	return out, nil
}

func (m *MultiHead) Params() []*Param {
	var ps []*Param
	for _, h := range m.Heads {
		ps = append(ps, h.Params()...)
	}
	return ps
}

// FeedForward is a per-position linear layer followed by ReLU.
type FeedForward struct {
	Linear *Linear
}

func NewFeedForward(name string, dim int, src rand.Source) *FeedForward {
	return &FeedForward{Linear: NewLinear(name, dim, dim, true, src)}
}

func (f *FeedForward) Forward(s *Scope, x *gorgonia.Node) (*gorgonia.Node, error) {
	h, err := f.Linear.Forward(s, x)
	if err != nil {
		return nil, err
	}
	out, err := gorgonia.Rectify(h)
	if err != nil {
		return nil, s.errorf("relu: %w", err)
	}
	return out, nil
}

func (f *FeedForward) Params() []*Param { return f.Linear.Params() }

var (
	_ Module = (*Embedding)(nil)
	_ Module = (*Linear)(nil)
	_ Module = (*Head)(nil)
	_ Module = (*MultiHead)(nil)
	_ Module = (*FeedForward)(nil)
)
