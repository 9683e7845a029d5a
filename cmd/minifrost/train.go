package main

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/minifrost/minifrost/internal/config"
	"github.com/minifrost/minifrost/internal/corpus"
	"github.com/minifrost/minifrost/internal/dataset"
	"github.com/minifrost/minifrost/internal/model"
	"github.com/minifrost/minifrost/internal/nn"
	"github.com/minifrost/minifrost/internal/sampling"
	"github.com/minifrost/minifrost/internal/train"
	"github.com/minifrost/minifrost/internal/vocab"
)

// Manifest describes one training run.
type Manifest struct {
	CorpusPath     string        `json:"corpus_path"`
	CorpusHash     string        `json:"corpus_hash"`
	Config         config.Config `json:"config"`
	VocabSize      int           `json:"vocab_size"`
	Params         int           `json:"params"`
	FinalTrainLoss float64       `json:"final_train_loss"`
	FinalValLoss   float64       `json:"final_val_loss"`
	Perplexity     float64       `json:"perplexity"`
	TrainedAt      time.Time     `json:"trained_at"`
}

type trainOptions struct {
	Corpus string
	Out    string
	Runlog string
	Config config.Config
}

// configFlags are the flags bound to fields of the run configuration. They
// win over values read from --config.
var configFlags = []string{
	"model", "embed", "block", "heads", "head-size",
	"batch", "split", "eval-iters", "eval-interval", "iters", "lr", "seed", "tokens",
}

func newTrainCmd() *cobra.Command {
	opts := trainOptions{Config: config.Default()}
	var configPath string
	cfg := &opts.Config

	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train a model on a poem collection",
		Long:  `Train reads a CSV poem collection (Content column) or a plain text file, trains the selected model and writes the checkpoint, vocabulary, configuration, manifest and metrics into the output directory.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if configPath != "" {
				changed := map[string]string{}
				for _, name := range configFlags {
					if cmd.Flags().Changed(name) {
						changed[name] = cmd.Flags().Lookup(name).Value.String()
					}
				}
				loaded, err := config.Load(configPath)
				if err != nil {
					return err
				}
				*cfg = loaded
				for name, v := range changed {
					if err := cmd.Flags().Set(name, v); err != nil {
						return err
					}
				}
			}
			return runTrain(cmd.Context(), cmd.OutOrStdout(), opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.Corpus, "corpus", "", "poem collection (.csv) or plain text corpus")
	f.StringVar(&opts.Out, "out", "out", "output directory")
	f.StringVar(&opts.Runlog, "runlog", "", "optional SQLite database receiving every evaluation report")
	f.StringVar(&configPath, "config", "", "JSON configuration file")
	f.StringVar(&cfg.Model.Kind, "model", cfg.Model.Kind, "model kind: bigram or attention")
	f.IntVar(&cfg.Model.EmbedDim, "embed", cfg.Model.EmbedDim, "embedding dimension")
	f.IntVar(&cfg.Model.BlockSize, "block", cfg.Model.BlockSize, "context length")
	f.IntVar(&cfg.Model.Heads, "heads", cfg.Model.Heads, "attention heads")
	f.IntVar(&cfg.Model.HeadSize, "head-size", cfg.Model.HeadSize, "size of each attention head")
	f.IntVar(&cfg.Train.BatchSize, "batch", cfg.Train.BatchSize, "batch size")
	f.Float64Var(&cfg.Train.SplitRatio, "split", cfg.Train.SplitRatio, "share of the corpus used for training")
	f.IntVar(&cfg.Train.EvalIters, "eval-iters", cfg.Train.EvalIters, "batches per split in each loss estimate")
	f.IntVar(&cfg.Train.EvalInterval, "eval-interval", cfg.Train.EvalInterval, "steps between loss estimates")
	f.IntVar(&cfg.Train.MaxIters, "iters", cfg.Train.MaxIters, "training steps")
	f.Float64Var(&cfg.Train.LearningRate, "lr", cfg.Train.LearningRate, "learning rate")
	f.Uint64Var(&cfg.Train.Seed, "seed", cfg.Train.Seed, "random seed")
	f.IntVar(&cfg.Generate.MaxNewTokens, "tokens", cfg.Generate.MaxNewTokens, "characters sampled after training")
	cmd.MarkFlagRequired("corpus")
	return cmd
}

func runTrain(ctx context.Context, w io.Writer, opts trainOptions) error {
	cfg := opts.Config
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(opts.Out, 0755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}

	text, err := corpus.Load(opts.Corpus)
	if err != nil {
		return fmt.Errorf("loading corpus: %w", err)
	}
	corpusHash := fmt.Sprintf("%x", sha256.Sum256([]byte(text)))[:16]
	fmt.Fprintf(w, "corpus %s: %d characters, hash %s\n", opts.Corpus, len([]rune(text)), corpusHash)
	if err := corpus.Dump(filepath.Join(opts.Out, "corpus.txt"), text); err != nil {
		return fmt.Errorf("saving corpus: %w", err)
	}

	voc := vocab.Build(text)
	codes, err := voc.Encode(text)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "vocabulary: %d symbols\n", voc.Size())

	data, err := dataset.NewCorpus(codes, cfg.Train.SplitRatio)
	if err != nil {
		return err
	}
	seed := cfg.Train.Seed
	batches, err := dataset.NewSampler(data, cfg.Train.BatchSize, cfg.Model.BlockSize, rand.NewPCG(seed, 1))
	if err != nil {
		return err
	}
	lm, err := model.New(cfg.Model, voc.Size(), rand.NewPCG(seed, 0))
	if err != nil {
		return err
	}
	defer lm.Close()
	fmt.Fprintf(w, "model %s: %d parameters\n", cfg.Model.Kind, nn.Count(lm.Params()))

	recorder := train.Recorder(train.NewJSONRecorder(filepath.Join(opts.Out, "metrics.json")))
	if opts.Runlog != "" {
		db, err := train.OpenSQLite(opts.Runlog, filepath.Base(opts.Out)+"@"+time.Now().Format(time.RFC3339))
		if err != nil {
			return fmt.Errorf("opening run log: %w", err)
		}
		recorder = train.Tee(recorder, db)
	}
	defer recorder.Close()

	trainer, err := train.New(lm, batches, cfg.Train, train.WithOutput(w), train.WithRecorder(recorder))
	if err != nil {
		return err
	}
	history, err := trainer.Run(ctx)
	if err != nil {
		return err
	}
	final := history[len(history)-1]

	if err := model.SaveFile(filepath.Join(opts.Out, "model.gob"), lm); err != nil {
		return fmt.Errorf("saving model: %w", err)
	}
	if err := vocab.Save(filepath.Join(opts.Out, "vocab.json"), voc); err != nil {
		return fmt.Errorf("saving vocabulary: %w", err)
	}
	if err := config.Save(filepath.Join(opts.Out, "config.json"), cfg); err != nil {
		return fmt.Errorf("saving configuration: %w", err)
	}
	manifest := Manifest{
		CorpusPath:     opts.Corpus,
		CorpusHash:     corpusHash,
		Config:         cfg,
		VocabSize:      voc.Size(),
		Params:         nn.Count(lm.Params()),
		FinalTrainLoss: final.Train,
		FinalValLoss:   final.Test,
		Perplexity:     final.Perplexity(),
		TrainedAt:      time.Now(),
	}
	if err := saveJSON(filepath.Join(opts.Out, "manifest.json"), manifest); err != nil {
		return fmt.Errorf("saving manifest: %w", err)
	}
	fmt.Fprintf(w, "saved run to %s\n", opts.Out)

	sample, err := sampleText(ctx, lm, voc, "", cfg.Generate.MaxNewTokens, 1, seed)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, sample[0])
	return nil
}

// sampleText draws samples continuations of prompt, or of code 0 when the
// prompt is empty, and decodes them.
func sampleText(ctx context.Context, lm model.LanguageModel, voc *vocab.Vocab, prompt string, tokens, samples int, seed uint64) ([]string, error) {
	start := []int{0}
	if prompt != "" {
		var err error
		if start, err = voc.Encode(prompt); err != nil {
			return nil, err
		}
	}
	rows := make([][]int, samples)
	for i := range rows {
		rows[i] = start
	}

	out, err := model.Generate(ctx, lm, rows, tokens, sampling.NewCategorical(rand.NewPCG(seed, 2)))
	if err != nil {
		return nil, err
	}
	texts := make([]string, len(out))
	for i, row := range out {
		if texts[i], err = voc.Decode(row); err != nil {
			return nil, err
		}
	}
	return texts, nil
}
