package train

import (
	"context"
	"fmt"
	"io"

	"gorgonia.org/gorgonia"

	"github.com/minifrost/minifrost/internal/config"
	"github.com/minifrost/minifrost/internal/dataset"
	"github.com/minifrost/minifrost/internal/model"
)

// Trainer repeatedly samples a training batch, backpropagates its loss and
// applies one optimizer update.
type Trainer struct {
	lm       model.LanguageModel
	batches  BatchSource
	cfg      config.TrainConfig
	program  *model.Program
	solver   gorgonia.Solver
	out      io.Writer
	recorder Recorder
}

type Option func(*Trainer)

// WithOutput sends progress lines to w.
func WithOutput(w io.Writer) Option {
	return func(t *Trainer) { t.out = w }
}

// WithRecorder stores every evaluation report in r.
func WithRecorder(r Recorder) Option {
	return func(t *Trainer) { t.recorder = r }
}

// WithSolver replaces the default Adam solver.
func WithSolver(s gorgonia.Solver) Option {
	return func(t *Trainer) { t.solver = s }
}

// New compiles the training program up front, so a block size the model
// cannot accept fails here rather than on the first step.
func New(lm model.LanguageModel, batches BatchSource, cfg config.TrainConfig, opts ...Option) (*Trainer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if batches.BatchSize() != cfg.BatchSize {
		return nil, fmt.Errorf("%w: sampler batch size %d, config %d", config.ErrInvalid, batches.BatchSize(), cfg.BatchSize)
	}
	program, err := lm.Compile(batches.BatchSize(), batches.BlockSize(), model.Train)
	if err != nil {
		return nil, fmt.Errorf("compiling training program: %w", err)
	}

	t := &Trainer{
		lm:      lm,
		batches: batches,
		cfg:     cfg,
		program: program,
		solver:  gorgonia.NewAdamSolver(gorgonia.WithLearnRate(cfg.LearningRate)),
		out:     io.Discard,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// Step trains on one batch and returns its loss before the update.
func (t *Trainer) Step() (float64, error) {
	b, err := t.batches.Sample(dataset.Train)
	if err != nil {
		return 0, fmt.Errorf("sampling: %w", err)
	}
	out, err := t.program.Run(b.Contexts, b.Targets)
	if err != nil {
		return 0, err
	}
	if err := t.program.Step(t.solver); err != nil {
		return 0, err
	}
	return out.Loss, nil
}

// Run performs MaxIters steps, estimating the loss every EvalInterval steps
// and once more after the last one. It returns every report in order.
func (t *Trainer) Run(ctx context.Context) ([]Report, error) {
	var history []Report
	for iter := 0; iter < t.cfg.MaxIters; iter++ {
		if err := ctx.Err(); err != nil {
			return history, err
		}
		if iter%t.cfg.EvalInterval == 0 {
			r, err := t.evaluate(ctx, iter)
			if err != nil {
				return history, err
			}
			history = append(history, r)
		}
		if _, err := t.Step(); err != nil {
			return history, fmt.Errorf("step %d: %w", iter, err)
		}
	}

	r, err := t.evaluate(ctx, t.cfg.MaxIters)
	if err != nil {
		return history, err
	}
	return append(history, r), nil
}

func (t *Trainer) evaluate(ctx context.Context, step int) (Report, error) {
	r, err := EstimateLoss(ctx, t.lm, t.batches, t.cfg.EvalIters)
	if err != nil {
		return Report{}, fmt.Errorf("estimating loss at step %d: %w", step, err)
	}
	r.Step = step
	fmt.Fprintf(t.out, "step %d: train loss %.4f, val loss %.4f\n", r.Step, r.Train, r.Test)
	if t.recorder != nil {
		if err := t.recorder.Record(r); err != nil {
			return Report{}, fmt.Errorf("recording step %d: %w", step, err)
		}
	}
	return r, nil
}
