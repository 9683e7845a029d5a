package nn

import (
	"fmt"

	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Module is one stage of a network. Forward maps an (N x in) node to an
// (N x out) node inside the scope's graph, where N = rows * cols.
type Module interface {
	Forward(s *Scope, x *gorgonia.Node) (*gorgonia.Node, error)
	Params() []*Param
}

// Watch is an intermediate value read out of the graph after each run.
type Watch struct {
	Name  string
	Value *gorgonia.Value
}

// Scope is the graph under construction for one batch shape. A batch of
// rows sequences of cols positions is flattened to rows*cols graph rows,
// sequence-major.
type Scope struct {
	g          *gorgonia.ExprGraph
	rows, cols int
	nodes      map[*Param]*gorgonia.Node
	fixed      map[string]*gorgonia.Node
	watches    []Watch
}

func NewScope(g *gorgonia.ExprGraph, rows, cols int) *Scope {
	return &Scope{
		g:     g,
		rows:  rows,
		cols:  cols,
		nodes: make(map[*Param]*gorgonia.Node),
		fixed: make(map[string]*gorgonia.Node),
	}
}

func (s *Scope) Graph() *gorgonia.ExprGraph { return s.g }
func (s *Scope) Rows() int                  { return s.rows }
func (s *Scope) Cols() int                  { return s.cols }

// N is the number of flattened positions.
func (s *Scope) N() int { return s.rows * s.cols }

// Node returns the graph node bound to p, creating it on first use.
func (s *Scope) Node(p *Param) *gorgonia.Node {
	if n, ok := s.nodes[p]; ok {
		return n
	}
	r, c := p.Shape()
	n := gorgonia.NewMatrix(s.g, tensor.Float32,
		gorgonia.WithShape(r, c),
		gorgonia.WithName(p.Name),
		gorgonia.WithValue(p.Value),
	)
	s.nodes[p] = n
	return n
}

// Bind creates the nodes of params in order and returns them.
func (s *Scope) Bind(params []*Param) []*gorgonia.Node {
	out := make([]*gorgonia.Node, len(params))
	for i, p := range params {
		out[i] = s.Node(p)
	}
	return out
}

// Fixed returns a non-learned input node holding t, built once per name.
func (s *Scope) Fixed(name string, build func() *tensor.Dense) *gorgonia.Node {
	if n, ok := s.fixed[name]; ok {
		return n
	}
	t := build()
	n := gorgonia.NewMatrix(s.g, tensor.Float32,
		gorgonia.WithShape(t.Shape()...),
		gorgonia.WithName(name),
		gorgonia.WithValue(t),
	)
	s.fixed[name] = n
	return n
}

// Ones is an N x 1 column of ones, used to broadcast bias rows.
func (s *Scope) Ones() *gorgonia.Node {
	return s.Fixed("ones", func() *tensor.Dense {
		data := make([]float32, s.N())
		for i := range data {
			data[i] = 1
		}
		return tensor.New(tensor.WithShape(s.N(), 1), tensor.WithBacking(data))
	})
}

// Positions is the N x block one-hot matrix selecting each row's position
// index within its own sequence.
func (s *Scope) Positions(block int) *gorgonia.Node {
	return s.Fixed("positions", func() *tensor.Dense {
		n := s.N()
		data := make([]float32, n*block)
		for r := 0; r < n; r++ {
			data[r*block+r%s.cols] = 1
		}
		return tensor.New(tensor.WithShape(n, block), tensor.WithBacking(data))
	})
}

// Mask is the additive causal mask for the whole flattened batch.
func (s *Scope) Mask() *gorgonia.Node {
	return s.Fixed("causal_mask", func() *tensor.Dense {
		return CausalMask(s.rows, s.cols)
	})
}

// Watch records n so its value can be read after a run.
func (s *Scope) Watch(name string, n *gorgonia.Node) {
	v := new(gorgonia.Value)
	gorgonia.Read(n, v)
	s.watches = append(s.watches, Watch{Name: name, Value: v})
}

// Watches returns the recorded values in registration order.
func (s *Scope) Watches() []Watch {
	return s.watches
}

func (s *Scope) errorf(format string, args ...interface{}) error {
	return fmt.Errorf("graph %dx%d: "+format, append([]interface{}{s.rows, s.cols}, args...)...)
}
