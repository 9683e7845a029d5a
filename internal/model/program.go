package model

import (
	"fmt"

	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/minifrost/minifrost/internal/nn"
)

// Mode selects whether a compiled program tracks gradients.
type Mode int

const (
	// Eval programs only run the forward pass.
	Eval Mode = iota
	// Train programs also compute gradients for every parameter.
	Train
)

func (m Mode) String() string {
	if m == Train {
		return "train"
	}
	return "eval"
}

// Output is the result of one forward pass.
type Output struct {
	// Logits is rows x cols x vocab.
	Logits [][][]float32
	// Loss is the mean cross-entropy over every position; valid only if HasLoss.
	Loss    float64
	HasLoss bool
	// Attention holds rows x cols x cols weights per head name.
	Attention map[string][][][]float32
}

// Last returns the logits at the final position of every row.
func (o *Output) Last() [][]float32 {
	out := make([][]float32, len(o.Logits))
	for b, row := range o.Logits {
		out[b] = row[len(row)-1]
	}
	return out
}

// Program is a network compiled for one batch shape.
type Program struct {
	rows, cols, vocab int
	mode              Mode

	g          *gorgonia.ExprGraph
	vm         gorgonia.VM
	params     []*nn.Param
	paramNodes []*gorgonia.Node

	tokens, targets   *gorgonia.Node
	tokensT, targetsT *tensor.Dense

	logits, loss gorgonia.Value
	watches      []nn.Watch
}

func compile(net network, vocab, rows, cols int, mode Mode) (*Program, error) {
	n := rows * cols
	p := &Program{
		rows:     rows,
		cols:     cols,
		vocab:    vocab,
		mode:     mode,
		g:        gorgonia.NewGraph(),
		params:   net.params(),
		tokensT:  tensor.New(tensor.WithShape(n, vocab), tensor.WithBacking(make([]float32, n*vocab))),
		targetsT: tensor.New(tensor.WithShape(n, vocab), tensor.WithBacking(make([]float32, n*vocab))),
	}

	s := nn.NewScope(p.g, rows, cols)
	p.paramNodes = s.Bind(p.params)
	p.tokens = gorgonia.NewMatrix(p.g, tensor.Float32,
		gorgonia.WithShape(n, vocab), gorgonia.WithName("tokens"), gorgonia.WithValue(p.tokensT))
	p.targets = gorgonia.NewMatrix(p.g, tensor.Float32,
		gorgonia.WithShape(n, vocab), gorgonia.WithName("targets"), gorgonia.WithValue(p.targetsT))

	logits, err := net.logits(s, p.tokens)
	if err != nil {
		return nil, err
	}
	loss, err := crossEntropy(logits, p.targets, n)
	if err != nil {
		return nil, err
	}
	gorgonia.Read(logits, &p.logits)
	gorgonia.Read(loss, &p.loss)
	p.watches = s.Watches()

	if mode == Train {
		if _, err := gorgonia.Grad(loss, p.paramNodes...); err != nil {
			return nil, fmt.Errorf("symbolic gradient: %w", err)
		}
		p.vm = gorgonia.NewTapeMachine(p.g, gorgonia.BindDualValues(p.paramNodes...))
	} else {
		p.vm = gorgonia.NewTapeMachine(p.g)
	}
	return p, nil
}

// crossEntropy is the mean over n rows of -log softmax(logits)[target],
// with targets given one-hot.
func crossEntropy(logits, targets *gorgonia.Node, n int) (*gorgonia.Node, error) {
	probs, err := gorgonia.SoftMax(logits)
	if err != nil {
		return nil, fmt.Errorf("loss softmax: %w", err)
	}
	logp, err := gorgonia.Log(probs)
	if err != nil {
		return nil, fmt.Errorf("loss log: %w", err)
	}
	picked, err := gorgonia.HadamardProd(logp, targets)
	if err != nil {
		return nil, fmt.Errorf("loss pick: %w", err)
	}
	perRow, err := gorgonia.Sum(picked, 1)
	if err != nil {
		return nil, fmt.Errorf("loss row sum: %w", err)
	}
	total, err := gorgonia.Sum(perRow)
	if err != nil {
		return nil, fmt.Errorf("loss sum: %w", err)
	}
	mean, err := gorgonia.HadamardDiv(total, gorgonia.NewConstant(float32(n)))
	if err != nil {
		return nil, fmt.Errorf("loss mean: %w", err)
	}
	return gorgonia.Neg(mean)
}

func (p *Program) Rows() int  { return p.rows }
func (p *Program) Cols() int  { return p.cols }
func (p *Program) Mode() Mode { return p.mode }

// Run feeds one batch and executes the graph. targets may be nil, in which
// case the output carries no loss. In Train mode the gradients of the loss
// are left on the parameter nodes for Step.
func (p *Program) Run(contexts, targets [][]int) (*Output, error) {
	if err := p.fill(p.tokensT, contexts); err != nil {
		return nil, fmt.Errorf("contexts: %w", err)
	}
	hasLoss := targets != nil
	if hasLoss {
		if err := p.fill(p.targetsT, targets); err != nil {
			return nil, fmt.Errorf("targets: %w", err)
		}
	} else {
		if p.mode == Train {
			return nil, fmt.Errorf("%w: training run without targets", ErrShape)
		}
		zero(p.targetsT)
	}

	if err := gorgonia.Let(p.tokens, p.tokensT); err != nil {
		return nil, fmt.Errorf("setting tokens failed: %w", err)
	}
	if err := gorgonia.Let(p.targets, p.targetsT); err != nil {
		return nil, fmt.Errorf("setting targets failed: %w", err)
	}
	for i, n := range p.paramNodes {
		if n.Value() != gorgonia.Value(p.params[i].Value) {
			if err := gorgonia.Let(n, p.params[i].Value); err != nil {
				return nil, fmt.Errorf("binding %s failed: %w", p.params[i].Name, err)
			}
		}
	}

	// Reset drops the previous run's values and gradients
	p.vm.Reset()
	if err := p.vm.RunAll(); err != nil {
		return nil, fmt.Errorf("vm.RunAll failed: %w", err)
	}
	return p.output(hasLoss)
}

// Step applies one solver update from the gradients of the last Run.
func (p *Program) Step(solver gorgonia.Solver) error {
	if p.mode != Train {
		return fmt.Errorf("step on %s program", p.mode)
	}
	if err := solver.Step(gorgonia.NodesToValueGrads(p.paramNodes)); err != nil {
		return fmt.Errorf("solver step failed: %w", err)
	}
	for i, n := range p.paramNodes {
		if d, ok := n.Value().(*tensor.Dense); ok {
			p.params[i].Value = d
		}
	}
	return nil
}

// Close releases the machine.
func (p *Program) Close() error {
	return p.vm.Close()
}

func (p *Program) fill(t *tensor.Dense, codes [][]int) error {
	if len(codes) != p.rows {
		return fmt.Errorf("%w: %d rows, program has %d", ErrShape, len(codes), p.rows)
	}
	zero(t)
	data := t.Data().([]float32)
	for b, row := range codes {
		if len(row) != p.cols {
			return fmt.Errorf("%w: row %d has %d positions, program has %d", ErrShape, b, len(row), p.cols)
		}
		for c, id := range row {
			if id < 0 || id >= p.vocab {
				return fmt.Errorf("%w: code %d at (%d,%d)", ErrCode, id, b, c)
			}
			data[(b*p.cols+c)*p.vocab+id] = 1
		}
	}
	return nil
}

func zero(t *tensor.Dense) {
	data := t.Data().([]float32)
	for i := range data {
		data[i] = 0
	}
}

func (p *Program) output(hasLoss bool) (*Output, error) {
	if p.logits == nil {
		return nil, fmt.Errorf("logits value is nil")
	}
	flat := p.logits.Data().([]float32)
	out := &Output{Logits: make([][][]float32, p.rows)}
	for b := 0; b < p.rows; b++ {
		out.Logits[b] = make([][]float32, p.cols)
		for c := 0; c < p.cols; c++ {
			at := (b*p.cols + c) * p.vocab
			out.Logits[b][c] = append([]float32(nil), flat[at:at+p.vocab]...)
		}
	}

	if hasLoss {
		loss, err := scalar(p.loss)
		if err != nil {
			return nil, err
		}
		out.Loss, out.HasLoss = loss, true
	}

	if len(p.watches) > 0 {
		out.Attention = make(map[string][][][]float32, len(p.watches))
		n := p.rows * p.cols
		for _, w := range p.watches {
			if *w.Value == nil {
				return nil, fmt.Errorf("attention %s value is nil", w.Name)
			}
			wei := (*w.Value).Data().([]float32)
			blocks := make([][][]float32, p.rows)
			for b := range blocks {
				blocks[b] = make([][]float32, p.cols)
				for i := 0; i < p.cols; i++ {
					at := (b*p.cols+i)*n + b*p.cols
					blocks[b][i] = append([]float32(nil), wei[at:at+p.cols]...)
				}
			}
			out.Attention[w.Name] = blocks
		}
	}
	return out, nil
}

func scalar(v gorgonia.Value) (float64, error) {
	if v == nil {
		return 0, fmt.Errorf("loss value is nil")
	}
	switch d := v.Data().(type) {
	case float32:
		return float64(d), nil
	case []float32:
		if len(d) == 1 {
			return float64(d[0]), nil
		}
	}
	return 0, fmt.Errorf("loss value %v is not a scalar", v)
}
