package dataset

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seq(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

func TestSplit(t *testing.T) {
	tests := []struct {
		name      string
		n         int
		ratio     float64
		wantTrain int
	}{
		{"exact", 100, 0.9, 90},
		{"rounds up", 11, 0.9, 10},
		{"tiny", 9, 0.5, 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewCorpus(seq(tt.n), tt.ratio)
			require.NoError(t, err)
			assert.Len(t, c.Segment(Train), tt.wantTrain)
			assert.Len(t, c.Segment(Test), tt.n-tt.wantTrain)
			assert.Equal(t, tt.n, c.Len())
		})
	}
}

func TestWindowsScenario(t *testing.T) {
	c, err := NewCorpus([]int{0, 1, 2, 0, 1, 2, 0, 1, 2}, 0.9)
	require.NoError(t, err)
	b, err := c.Windows(Train, 3, []int{0})
	require.NoError(t, err)
	assert.Equal(t, [][]int{{0, 1, 2}}, b.Contexts)
	assert.Equal(t, [][]int{{1, 2, 0}}, b.Targets)
}

func TestWindowsBounds(t *testing.T) {
	c, err := NewCorpus(seq(20), 0.5)
	require.NoError(t, err)

	_, err = c.Windows(Train, 4, []int{5})
	require.NoError(t, err)
	_, err = c.Windows(Train, 4, []int{6})
	assert.ErrorIs(t, err, ErrOffset)
	_, err = c.Windows(Train, 4, []int{-1})
	assert.ErrorIs(t, err, ErrOffset)
	_, err = c.Windows(Test, 10, []int{0})
	assert.ErrorIs(t, err, ErrShortSegment)
}

func TestNewSamplerShortSegment(t *testing.T) {
	c, err := NewCorpus(seq(20), 0.9)
	require.NoError(t, err)
	_, err = NewSampler(c, 4, 2, rand.NewPCG(1, 2))
	assert.ErrorIs(t, err, ErrShortSegment)

	_, err = NewSampler(c, 4, 1, rand.NewPCG(1, 2))
	assert.NoError(t, err)
}

func TestSampleShapeAndShift(t *testing.T) {
	tokens := seq(500)
	c, err := NewCorpus(tokens, 0.9)
	require.NoError(t, err)
	s, err := NewSampler(c, 5, 8, rand.NewPCG(1337, 0))
	require.NoError(t, err)

	for _, split := range []Split{Train, Test} {
		seg := c.Segment(split)
		for k := 0; k < 50; k++ {
			b, err := s.Sample(split)
			require.NoError(t, err)
			require.Len(t, b.Contexts, 5)
			require.Len(t, b.Targets, 5)
			for i := range b.Contexts {
				require.Len(t, b.Contexts[i], 8)
				require.Len(t, b.Targets[i], 8)
				// codes equal their corpus index, so positions can be recovered
				start := b.Contexts[i][0] - seg[0]
				assert.GreaterOrEqual(t, start, 0)
				assert.LessOrEqual(t, start, len(seg)-8-1)
				for j := range b.Contexts[i] {
					assert.Equal(t, b.Contexts[i][j]+1, b.Targets[i][j])
				}
			}
		}
	}
}

func TestSampleDeterministic(t *testing.T) {
	c, err := NewCorpus(seq(300), 0.9)
	require.NoError(t, err)
	a, err := NewSampler(c, 4, 8, rand.NewPCG(7, 7))
	require.NoError(t, err)
	b, err := NewSampler(c, 4, 8, rand.NewPCG(7, 7))
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		ba, err := a.Sample(Train)
		require.NoError(t, err)
		bb, err := b.Sample(Train)
		require.NoError(t, err)
		assert.Equal(t, ba, bb)
	}
}

func TestSampleCoversLastOffset(t *testing.T) {
	// train segment of 10 codes and block 8 leaves offsets {0, 1}
	c, err := NewCorpus(seq(12), 0.8)
	require.NoError(t, err)
	require.Len(t, c.Segment(Train), 10)

	s := &Sampler{corpus: c, batchSize: 1, blockSize: 8, rng: rand.New(rand.NewPCG(3, 4))}
	seen := map[int]bool{}
	for i := 0; i < 200; i++ {
		b, err := s.Sample(Train)
		require.NoError(t, err)
		seen[b.Contexts[0][0]] = true
	}
	assert.Equal(t, map[int]bool{0: true, 1: true}, seen)
}
