package model

import (
	"math/rand/v2"

	"gorgonia.org/gorgonia"

	"github.com/minifrost/minifrost/internal/config"
	"github.com/minifrost/minifrost/internal/nn"
)

// Bigram reads the next-token logits straight off a vocab x vocab table
// row for the current token. It sees no context beyond one token, so it
// accepts contexts of any length.
type Bigram struct {
	base
	table *nn.Embedding
}

func NewBigram(cfg config.ModelConfig, vocab int, src rand.Source) *Bigram {
	m := &Bigram{table: nn.NewEmbedding("token_embedding", vocab, vocab, src)}
	m.base = newBase(m, cfg, vocab, 0)
	return m
}

func (m *Bigram) logits(s *nn.Scope, tokens *gorgonia.Node) (*gorgonia.Node, error) {
	return m.table.Forward(s, tokens)
}

func (m *Bigram) params() []*nn.Param {
	return m.table.Params()
}
