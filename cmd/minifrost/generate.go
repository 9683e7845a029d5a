package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/minifrost/minifrost/internal/model"
	"github.com/minifrost/minifrost/internal/vocab"
)

type generateOptions struct {
	Dir     string
	Prompt  string
	Tokens  int
	Samples int
	Seed    uint64
}

func newGenerateCmd() *cobra.Command {
	var opts generateOptions
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Sample text from a trained model",
		Long:  `Generate loads model.gob and vocab.json from a training output directory and prints sampled continuations of the prompt.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGenerate(cmd.Context(), cmd.OutOrStdout(), opts)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.Dir, "dir", "out", "training output directory")
	f.StringVar(&opts.Prompt, "prompt", "", "seed text; every character must be in the vocabulary")
	f.IntVar(&opts.Tokens, "tokens", 500, "characters to sample")
	f.IntVar(&opts.Samples, "samples", 1, "independent samples")
	f.Uint64Var(&opts.Seed, "seed", 1337, "random seed")
	return cmd
}

func runGenerate(ctx context.Context, w io.Writer, opts generateOptions) error {
	if opts.Tokens < 0 || opts.Samples <= 0 {
		return fmt.Errorf("tokens %d must be non-negative and samples %d positive", opts.Tokens, opts.Samples)
	}
	lm, err := model.LoadFile(filepath.Join(opts.Dir, "model.gob"))
	if err != nil {
		return fmt.Errorf("loading model: %w", err)
	}
	defer lm.Close()
	voc, err := vocab.Load(filepath.Join(opts.Dir, "vocab.json"))
	if err != nil {
		return fmt.Errorf("loading vocabulary: %w", err)
	}
	if voc.Size() != lm.VocabSize() {
		return fmt.Errorf("vocabulary has %d symbols, model expects %d", voc.Size(), lm.VocabSize())
	}

	var manifest Manifest
	if err := loadJSON(filepath.Join(opts.Dir, "manifest.json"), &manifest); err == nil {
		fmt.Fprintf(w, "model %s trained %s, val loss %.4f\n",
			manifest.Config.Model.Kind, manifest.TrainedAt.Format("2006-01-02 15:04"), manifest.FinalValLoss)
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("reading manifest: %w", err)
	}

	texts, err := sampleText(ctx, lm, voc, opts.Prompt, opts.Tokens, opts.Samples, opts.Seed)
	if err != nil {
		return err
	}
	for i, text := range texts {
		if i > 0 {
			fmt.Fprintln(w, "---")
		}
		fmt.Fprintln(w, text)
	}
	return nil
}
