package model

import (
	"encoding/gob"
	"fmt"
	"io"
	"math/rand/v2"
	"os"

	"github.com/minifrost/minifrost/internal/config"
)

type paramRecord struct {
	Name string
	Rows int
	Cols int
	Data []float32
}

type checkpoint struct {
	Model  config.ModelConfig
	Vocab  int
	Params []paramRecord
}

// Save writes the configuration and every learned parameter of lm.
func Save(w io.Writer, lm LanguageModel) error {
	ck := checkpoint{Model: lm.Config(), Vocab: lm.VocabSize()}
	for _, p := range lm.Params() {
		r, c := p.Shape()
		ck.Params = append(ck.Params, paramRecord{
			Name: p.Name,
			Rows: r,
			Cols: c,
			Data: append([]float32(nil), p.Data()...),
		})
	}
	return gob.NewEncoder(w).Encode(ck)
}

// Load rebuilds a model written by Save.
func Load(r io.Reader) (LanguageModel, error) {
	var ck checkpoint
	if err := gob.NewDecoder(r).Decode(&ck); err != nil {
		return nil, fmt.Errorf("decoding checkpoint: %w", err)
	}
	lm, err := New(ck.Model, ck.Vocab, rand.NewPCG(0, 0))
	if err != nil {
		return nil, err
	}
	params := lm.Params()
	if len(params) != len(ck.Params) {
		return nil, fmt.Errorf("checkpoint has %d parameters, model has %d", len(ck.Params), len(params))
	}
	for i, p := range params {
		rec := ck.Params[i]
		r, c := p.Shape()
		if rec.Name != p.Name || rec.Rows != r || rec.Cols != c {
			return nil, fmt.Errorf("checkpoint parameter %s (%dx%d) does not match %s (%dx%d)",
				rec.Name, rec.Rows, rec.Cols, p.Name, r, c)
		}
		copy(p.Data(), rec.Data)
	}
	return lm, nil
}

func SaveFile(path string, lm LanguageModel) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return Save(f, lm)
}

func LoadFile(path string) (LanguageModel, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Load(f)
}
