package vocab

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuild(t *testing.T) {
	v := Build("cabbage\n")
	assert.Equal(t, []rune{'\n', 'a', 'b', 'c', 'e', 'g'}, v.Symbols())
	assert.Equal(t, 6, v.Size())
}

func TestRoundTrip(t *testing.T) {
	corpus := "Two roads diverged in a yellow wood,\nAnd sorry I could not travel both"
	v := Build(corpus)
	tests := []string{
		"",
		"roads",
		"I could not",
		corpus,
		"\n\n",
	}
	for _, s := range tests {
		t.Run(s, func(t *testing.T) {
			ids, err := v.Encode(s)
			require.NoError(t, err)
			assert.Len(t, ids, len([]rune(s)))
			got, err := v.Decode(ids)
			require.NoError(t, err)
			assert.Equal(t, s, got)
		})
	}
}

func TestScenarioCodes(t *testing.T) {
	v := Build("abcabcabc")
	ids, err := v.Encode("abcabcabc")
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2, 0, 1, 2, 0, 1, 2}, ids)
}

func TestEncodeUnknown(t *testing.T) {
	v := Build("abc")
	_, err := v.Encode("abz")
	assert.ErrorIs(t, err, ErrUnknownSymbol)
}

func TestDecodeUnknown(t *testing.T) {
	v := Build("abc")
	_, err := v.Decode([]int{0, 3})
	assert.ErrorIs(t, err, ErrUnknownCode)
	_, err = v.Decode([]int{-1})
	assert.ErrorIs(t, err, ErrUnknownCode)
}

func TestSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vocab.json")
	v := Build("whose woods these are\nI think I know")
	require.NoError(t, Save(path, v))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, v.Symbols(), got.Symbols())

	ids, err := got.Encode("woods")
	require.NoError(t, err)
	want, err := v.Encode("woods")
	require.NoError(t, err)
	assert.Equal(t, want, ids)
}
