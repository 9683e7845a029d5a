package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	c := Default()
	require.NoError(t, c.Validate())
	assert.Equal(t, c.Model.EmbedDim, c.Model.Heads*c.Model.HeadSize)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"head product", func(c *Config) { c.Model.HeadSize = 7 }},
		{"zero block", func(c *Config) { c.Model.BlockSize = 0 }},
		{"unknown kind", func(c *Config) { c.Model.Kind = "lstm" }},
		{"split one", func(c *Config) { c.Train.SplitRatio = 1 }},
		{"zero batch", func(c *Config) { c.Train.BatchSize = 0 }},
		{"zero interval", func(c *Config) { c.Train.EvalInterval = 0 }},
		{"negative lr", func(c *Config) { c.Train.LearningRate = -1 }},
		{"negative tokens", func(c *Config) { c.Generate.MaxNewTokens = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.mutate(&c)
			assert.ErrorIs(t, c.Validate(), ErrInvalid)
		})
	}
}

func TestBigramIgnoresHeads(t *testing.T) {
	c := Default()
	c.Model.Kind = KindBigram
	c.Model.Heads = 3
	assert.NoError(t, c.Validate())
}

func TestSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	c := Default()
	c.Train.MaxIters = 42
	c.Model.Kind = KindBigram
	require.NoError(t, Save(path, c))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, c, got)
}
