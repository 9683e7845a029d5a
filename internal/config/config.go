package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Model kinds.
const (
	KindBigram    = "bigram"
	KindAttention = "attention"
)

// ModelConfig describes the network shape.
type ModelConfig struct {
	Kind      string `json:"kind"`
	EmbedDim  int    `json:"embed_dim"`
	BlockSize int    `json:"block_size"`
	Heads     int    `json:"heads"`
	HeadSize  int    `json:"head_size"`
}

// TrainConfig describes batching, evaluation and optimisation.
type TrainConfig struct {
	BatchSize    int     `json:"batch_size"`
	SplitRatio   float64 `json:"split_ratio"`
	EvalIters    int     `json:"eval_iters"`
	EvalInterval int     `json:"eval_interval"`
	MaxIters     int     `json:"max_iters"`
	LearningRate float64 `json:"learning_rate"`
	Seed         uint64  `json:"seed"`
}

// GenerateConfig describes sampling after training.
type GenerateConfig struct {
	MaxNewTokens int `json:"max_new_tokens"`
}

type Config struct {
	Model    ModelConfig    `json:"model"`
	Train    TrainConfig    `json:"train"`
	Generate GenerateConfig `json:"generate"`
}

// Default returns the configuration of the reference poetry run.
func Default() Config {
	return Config{
		Model: ModelConfig{
			Kind:      KindAttention,
			EmbedDim:  32,
			BlockSize: 8,
			Heads:     4,
			HeadSize:  8,
		},
		Train: TrainConfig{
			BatchSize:    4,
			SplitRatio:   0.9,
			EvalIters:    200,
			EvalInterval: 300,
			MaxIters:     3000,
			LearningRate: 1e-3,
			Seed:         1337,
		},
		Generate: GenerateConfig{
			MaxNewTokens: 500,
		},
	}
}

// Validate checks the model section.
func (m ModelConfig) Validate() error {
	if m.BlockSize <= 0 {
		return fmt.Errorf("%w: block size %d must be positive", ErrInvalid, m.BlockSize)
	}
	switch m.Kind {
	case KindBigram:
		return nil
	case KindAttention:
	default:
		return fmt.Errorf("%w: unknown model kind %q", ErrInvalid, m.Kind)
	}
	if m.EmbedDim <= 0 || m.Heads <= 0 || m.HeadSize <= 0 {
		return fmt.Errorf("%w: embed dim %d, heads %d and head size %d must be positive",
			ErrInvalid, m.EmbedDim, m.Heads, m.HeadSize)
	}
	if m.Heads*m.HeadSize != m.EmbedDim {
		return fmt.Errorf("%w: %d heads x %d head size != embed dim %d",
			ErrInvalid, m.Heads, m.HeadSize, m.EmbedDim)
	}
	return nil
}

// Validate checks the training section.
func (t TrainConfig) Validate() error {
	if t.BatchSize <= 0 {
		return fmt.Errorf("%w: batch size %d must be positive", ErrInvalid, t.BatchSize)
	}
	if t.SplitRatio <= 0 || t.SplitRatio >= 1 {
		return fmt.Errorf("%w: split ratio %v must be in (0, 1)", ErrInvalid, t.SplitRatio)
	}
	if t.EvalIters <= 0 || t.EvalInterval <= 0 {
		return fmt.Errorf("%w: eval iters %d and eval interval %d must be positive",
			ErrInvalid, t.EvalIters, t.EvalInterval)
	}
	if t.MaxIters < 0 {
		return fmt.Errorf("%w: max iters %d is negative", ErrInvalid, t.MaxIters)
	}
	if t.LearningRate <= 0 {
		return fmt.Errorf("%w: learning rate %v must be positive", ErrInvalid, t.LearningRate)
	}
	return nil
}

func (c Config) Validate() error {
	if err := c.Model.Validate(); err != nil {
		return err
	}
	if err := c.Train.Validate(); err != nil {
		return err
	}
	if c.Generate.MaxNewTokens < 0 {
		return fmt.Errorf("%w: max new tokens %d is negative", ErrInvalid, c.Generate.MaxNewTokens)
	}
	return nil
}

// Save writes c as indented JSON.
func Save(path string, c Config) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	encoder := json.NewEncoder(f)
	encoder.SetIndent("", "  ")
	return encoder.Encode(c)
}

// Load reads a JSON config on top of the defaults and validates it.
func Load(path string) (Config, error) {
	c := Default()
	f, err := os.Open(path)
	if err != nil {
		return c, err
	}
	defer f.Close()

	if err := json.NewDecoder(f).Decode(&c); err != nil {
		return c, fmt.Errorf("decoding %s: %w", path, err)
	}
	return c, c.Validate()
}
