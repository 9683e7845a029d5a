// Command minifrost trains a character-level poetry model and samples from it.
package main

import (
	"encoding/json"
	"log"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:           "minifrost",
		Short:         "Character-level poetry language model",
		Long:          `minifrost trains a bigram or single-block self-attention language model on a poem collection and generates new text from the trained checkpoint.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newTrainCmd(), newGenerateCmd())

	if err := root.Execute(); err != nil {
		log.Fatalf("minifrost: %v", err)
	}
}

func saveJSON(path string, data interface{}) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	encoder := json.NewEncoder(f)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

func loadJSON(path string, data interface{}) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	return json.NewDecoder(f).Decode(data)
}
