package model

import (
	"fmt"
	"math/rand/v2"

	"gorgonia.org/gorgonia"

	"github.com/minifrost/minifrost/internal/config"
	"github.com/minifrost/minifrost/internal/nn"
)

// SelfAttention adds position embeddings, multi-head causal attention and a
// feed-forward block between the token embedding and the vocabulary
// projection. Contexts may not exceed the block size.
type SelfAttention struct {
	base
	tokens    *nn.Embedding
	positions *nn.Embedding
	heads     *nn.MultiHead
	ffwd      *nn.FeedForward
	lmHead    *nn.Linear
}

func NewSelfAttention(cfg config.ModelConfig, vocab int, src rand.Source) *SelfAttention {
	m := &SelfAttention{
		tokens:    nn.NewEmbedding("token_embedding", vocab, cfg.EmbedDim, src),
		positions: nn.NewEmbedding("position_embedding", cfg.BlockSize, cfg.EmbedDim, src),
		heads:     nn.NewMultiHead("sa_heads", cfg.Heads, cfg.EmbedDim, cfg.HeadSize, src),
		ffwd:      nn.NewFeedForward("ffwd", cfg.EmbedDim, src),
		lmHead:    nn.NewLinear("lm_head", cfg.EmbedDim, vocab, true, src),
	}
	m.base = newBase(m, cfg, vocab, cfg.BlockSize)
	return m
}

func (m *SelfAttention) logits(s *nn.Scope, tokens *gorgonia.Node) (*gorgonia.Node, error) {
	tok, err := m.tokens.Forward(s, tokens)
	if err != nil {
		return nil, err
	}
	pos, err := m.positions.Forward(s, s.Positions(m.cfg.BlockSize))
	if err != nil {
		return nil, err
	}
	x, err := gorgonia.Add(tok, pos)
	if err != nil {
		return nil, fmt.Errorf("token + position: %w", err)
	}

	for _, layer := range []nn.Module{m.heads, m.ffwd, m.lmHead} {
		if x, err = layer.Forward(s, x); err != nil {
			return nil, err
		}
	}
	return x, nil
}

func (m *SelfAttention) params() []*nn.Param {
	var ps []*nn.Param
	for _, layer := range []nn.Module{m.tokens, m.positions, m.heads, m.ffwd, m.lmHead} {
		ps = append(ps, layer.Params()...)
	}
	return ps
}

// Heads returns the attention head names in order.
func (m *SelfAttention) Heads() []string {
	names := make([]string, len(m.heads.Heads))
	for i, h := range m.heads.Heads {
		names[i] = h.Name
	}
	return names
}
