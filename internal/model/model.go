// Package model implements the bigram and self-attention language models,
// their compiled forward/backward programs and autoregressive generation.
package model

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"

	"gorgonia.org/gorgonia"

	"github.com/minifrost/minifrost/internal/config"
	"github.com/minifrost/minifrost/internal/nn"
)

var (
	ErrContextTooLong = errors.New("context longer than block size")
	ErrShape          = errors.New("bad batch shape")
	ErrCode           = errors.New("token code out of range")
)

// maxPrograms bounds the compiled-program cache. Training and evaluation
// reuse one or two shapes; generation walks through up to block size more.
const maxPrograms = 64

// LanguageModel is the capability shared by both model variants.
type LanguageModel interface {
	// Forward runs an eval-mode pass. targets may be nil.
	Forward(ctx context.Context, contexts, targets [][]int) (*Output, error)
	// Compile returns the cached program for a rows x cols batch.
	Compile(rows, cols int, mode Mode) (*Program, error)
	Params() []*nn.Param
	VocabSize() int
	// ContextLimit is the longest accepted context, 0 when unbounded.
	ContextLimit() int
	Config() config.ModelConfig
	Close() error
}

// network is the graph construction half of a model variant.
type network interface {
	logits(s *nn.Scope, tokens *gorgonia.Node) (*gorgonia.Node, error)
	params() []*nn.Param
}

type programKey struct {
	rows, cols int
	mode       Mode
}

// base caches compiled programs and implements everything but the graph.
type base struct {
	net      network
	cfg      config.ModelConfig
	vocab    int
	limit    int
	programs map[programKey]*Program
	order    []programKey
}

func newBase(net network, cfg config.ModelConfig, vocab, limit int) base {
	return base{
		net:      net,
		cfg:      cfg,
		vocab:    vocab,
		limit:    limit,
		programs: make(map[programKey]*Program),
	}
}

func (b *base) Compile(rows, cols int, mode Mode) (*Program, error) {
	if rows <= 0 || cols <= 0 {
		return nil, fmt.Errorf("%w: %d x %d", ErrShape, rows, cols)
	}
	if b.limit > 0 && cols > b.limit {
		return nil, fmt.Errorf("%w: %d > %d", ErrContextTooLong, cols, b.limit)
	}
	key := programKey{rows: rows, cols: cols, mode: mode}
	if p, ok := b.programs[key]; ok {
		return p, nil
	}

	p, err := compile(b.net, b.vocab, rows, cols, mode)
	if err != nil {
		return nil, err
	}
	b.programs[key] = p
	b.order = append(b.order, key)
	b.evict()
	return p, nil
}

// evict drops the oldest eval programs beyond maxPrograms. Train programs
// carry solver state positions and stay.
func (b *base) evict() {
	for i := 0; len(b.programs) > maxPrograms && i < len(b.order); {
		key := b.order[i]
		if key.mode == Train {
			i++
			continue
		}
		b.programs[key].Close()
		delete(b.programs, key)
		b.order = append(b.order[:i], b.order[i+1:]...)
	}
}

func (b *base) Forward(ctx context.Context, contexts, targets [][]int) (*Output, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(contexts) == 0 {
		return nil, fmt.Errorf("%w: empty batch", ErrShape)
	}
	p, err := b.Compile(len(contexts), len(contexts[0]), Eval)
	if err != nil {
		return nil, err
	}
	return p.Run(contexts, targets)
}

func (b *base) Params() []*nn.Param         { return b.net.params() }
func (b *base) VocabSize() int              { return b.vocab }
func (b *base) ContextLimit() int           { return b.limit }
func (b *base) Config() config.ModelConfig { return b.cfg }

func (b *base) Close() error {
	var errs []error
	for key, p := range b.programs {
		errs = append(errs, p.Close())
		delete(b.programs, key)
	}
	b.order = nil
	return errors.Join(errs...)
}

// New builds the variant named by cfg.Kind with parameters drawn from src.
func New(cfg config.ModelConfig, vocab int, src rand.Source) (LanguageModel, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if vocab <= 0 {
		return nil, fmt.Errorf("%w: vocabulary size %d", config.ErrInvalid, vocab)
	}
	switch cfg.Kind {
	case config.KindBigram:
		return NewBigram(cfg, vocab, src), nil
	default:
		return NewSelfAttention(cfg, vocab, src), nil
	}
}
