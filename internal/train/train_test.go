package train

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minifrost/minifrost/internal/config"
	"github.com/minifrost/minifrost/internal/dataset"
	"github.com/minifrost/minifrost/internal/model"
)

// cyclic returns n codes repeating 0, 1, ..., vocab-1.
func cyclic(n, vocab int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i % vocab
	}
	return out
}

func newSampler(t *testing.T, tokens []int, batch, block int, seed uint64) *dataset.Sampler {
	t.Helper()
	c, err := dataset.NewCorpus(tokens, 0.9)
	require.NoError(t, err)
	s, err := dataset.NewSampler(c, batch, block, rand.NewPCG(seed, seed))
	require.NoError(t, err)
	return s
}

func trainConfig() config.TrainConfig {
	return config.TrainConfig{
		BatchSize:    4,
		SplitRatio:   0.9,
		EvalIters:    5,
		EvalInterval: 5,
		MaxIters:     10,
		LearningRate: 0.01,
		Seed:         1,
	}
}

func bigram(t *testing.T, vocab int, seed uint64) model.LanguageModel {
	t.Helper()
	lm, err := model.New(config.ModelConfig{Kind: config.KindBigram, BlockSize: 8}, vocab, rand.NewPCG(seed, seed))
	require.NoError(t, err)
	t.Cleanup(func() { lm.Close() })
	return lm
}

func attention(t *testing.T, vocab int, seed uint64) model.LanguageModel {
	t.Helper()
	cfg := config.ModelConfig{Kind: config.KindAttention, EmbedDim: 8, BlockSize: 8, Heads: 2, HeadSize: 4}
	lm, err := model.New(cfg, vocab, rand.NewPCG(seed, seed))
	require.NoError(t, err)
	t.Cleanup(func() { lm.Close() })
	return lm
}

func snapshot(lm model.LanguageModel) [][]float32 {
	var out [][]float32
	for _, p := range lm.Params() {
		out = append(out, append([]float32(nil), p.Data()...))
	}
	return out
}

func TestBigramLossDecreases(t *testing.T) {
	lm := bigram(t, 3, 1)
	s := newSampler(t, cyclic(300, 3), 4, 8, 2)
	cfg := trainConfig()
	cfg.LearningRate = 0.05
	tr, err := New(lm, s, cfg)
	require.NoError(t, err)

	losses := make([]float64, 200)
	for i := range losses {
		losses[i], err = tr.Step()
		require.NoError(t, err)
		require.GreaterOrEqual(t, losses[i], 0.0)
	}
	early := mean(losses[:20])
	late := mean(losses[len(losses)-20:])
	assert.Less(t, late, early)
	assert.Less(t, late, 0.5*early)
}

func TestAttentionLossDecreases(t *testing.T) {
	lm := attention(t, 4, 3)
	s := newSampler(t, cyclic(400, 4), 4, 8, 4)
	tr, err := New(lm, s, trainConfig())
	require.NoError(t, err)

	before, err := EstimateLoss(context.Background(), lm, s, 10)
	require.NoError(t, err)
	for i := 0; i < 150; i++ {
		_, err := tr.Step()
		require.NoError(t, err)
	}
	after, err := EstimateLoss(context.Background(), lm, s, 10)
	require.NoError(t, err)
	assert.Less(t, after.Train, before.Train)
	assert.Less(t, after.Test, before.Test)
}

func TestEstimateLossLeavesParams(t *testing.T) {
	lm := bigram(t, 3, 5)
	s := newSampler(t, cyclic(100, 3), 4, 8, 6)
	before := snapshot(lm)

	r, err := EstimateLoss(context.Background(), lm, s, 20)
	require.NoError(t, err)
	assert.Greater(t, r.Train, 0.0)
	assert.Greater(t, r.Test, 0.0)
	assert.InDelta(t, math.Exp(r.Test), r.Perplexity(), 1e-9)
	assert.Equal(t, before, snapshot(lm))

	_, err = EstimateLoss(context.Background(), lm, s, 0)
	assert.Error(t, err)
}

func TestEstimateLossUniformModel(t *testing.T) {
	lm := bigram(t, 3, 7)
	for _, p := range lm.Params() {
		data := p.Data()
		for i := range data {
			data[i] = 0
		}
	}
	s := newSampler(t, cyclic(100, 3), 4, 8, 8)
	r, err := EstimateLoss(context.Background(), lm, s, 3)
	require.NoError(t, err)
	assert.InDelta(t, math.Log(3), r.Train, 1e-5)
	assert.InDelta(t, math.Log(3), r.Test, 1e-5)
}

func TestRunReportsAndOutput(t *testing.T) {
	lm := bigram(t, 3, 9)
	s := newSampler(t, cyclic(200, 3), 4, 8, 10)
	var out bytes.Buffer
	tr, err := New(lm, s, trainConfig(), WithOutput(&out))
	require.NoError(t, err)

	history, err := tr.Run(context.Background())
	require.NoError(t, err)
	steps := make([]int, len(history))
	for i, r := range history {
		steps[i] = r.Step
	}
	assert.Equal(t, []int{0, 5, 10}, steps)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "step 0: train loss "), lines[0])
	assert.Contains(t, lines[2], "val loss")
}

func TestRunDeterministic(t *testing.T) {
	run := func() ([]Report, [][]float32) {
		lm := bigram(t, 3, 11)
		s := newSampler(t, cyclic(200, 3), 4, 8, 12)
		tr, err := New(lm, s, trainConfig())
		require.NoError(t, err)
		history, err := tr.Run(context.Background())
		require.NoError(t, err)
		return history, snapshot(lm)
	}
	h1, p1 := run()
	h2, p2 := run()
	assert.Equal(t, h1, h2)
	assert.Equal(t, p1, p2)
}

func TestRunCancelled(t *testing.T) {
	lm := bigram(t, 3, 13)
	s := newSampler(t, cyclic(200, 3), 4, 8, 14)
	tr, err := New(lm, s, trainConfig())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	history, err := tr.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, history)
}

func TestNewFailsFast(t *testing.T) {
	lm := attention(t, 3, 15)
	s := newSampler(t, cyclic(200, 3), 4, 16, 16)
	_, err := New(lm, s, trainConfig())
	assert.ErrorIs(t, err, model.ErrContextTooLong)

	s = newSampler(t, cyclic(200, 3), 2, 8, 16)
	_, err = New(lm, s, trainConfig())
	assert.ErrorIs(t, err, config.ErrInvalid)

	cfg := trainConfig()
	cfg.EvalInterval = 0
	_, err = New(lm, newSampler(t, cyclic(200, 3), 4, 8, 16), cfg)
	assert.ErrorIs(t, err, config.ErrInvalid)
}

func TestJSONRecorder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metrics.json")
	rec := NewJSONRecorder(path)
	require.NoError(t, rec.Record(Report{Step: 0, Train: 1.5, Test: 1.6}))
	require.NoError(t, rec.Record(Report{Step: 300, Train: 1.2, Test: 1.3}))
	require.NoError(t, rec.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var m Metrics
	require.NoError(t, json.Unmarshal(data, &m))
	require.Len(t, m.Reports, 2)
	assert.Equal(t, 300, m.Reports[1].Step)
	assert.Equal(t, 1.3, m.Reports[1].ValLoss)
	assert.InDelta(t, math.Exp(1.3), m.Reports[1].Perplexity, 1e-9)
}

func TestSQLiteRecorder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.db")
	rec, err := OpenSQLite(path, "first")
	require.NoError(t, err)
	want := []Report{{Step: 0, Train: 2, Test: 2.1}, {Step: 5, Train: 1.8, Test: 1.9}}
	for _, r := range want {
		require.NoError(t, rec.Record(r))
	}
	got, err := rec.Reports()
	require.NoError(t, err)
	assert.Equal(t, want, got)
	require.NoError(t, rec.Close())

	other, err := OpenSQLite(path, "second")
	require.NoError(t, err)
	defer other.Close()
	got, err = other.Reports()
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRunWithRecorders(t *testing.T) {
	dir := t.TempDir()
	db, err := OpenSQLite(filepath.Join(dir, "runs.db"), "tee")
	require.NoError(t, err)
	rec := Tee(NewJSONRecorder(filepath.Join(dir, "metrics.json")), db)
	defer rec.Close()

	lm := bigram(t, 3, 17)
	s := newSampler(t, cyclic(200, 3), 4, 8, 18)
	tr, err := New(lm, s, trainConfig(), WithRecorder(rec))
	require.NoError(t, err)
	history, err := tr.Run(context.Background())
	require.NoError(t, err)

	stored, err := db.Reports()
	require.NoError(t, err)
	assert.Equal(t, history, stored)
	assert.FileExists(t, filepath.Join(dir, "metrics.json"))
}

func mean(xs []float64) float64 {
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}
