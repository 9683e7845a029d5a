// Package corpus loads the training text.
package corpus

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ContentColumn is the CSV column holding one poem per record.
const ContentColumn = "Content"

var ErrNoColumn = errors.New("corpus column not found")

// ReadCSV concatenates the column of every record after the first, each
// preceded by a newline. The first data record of the collection is
// malformed and always dropped.
func ReadCSV(r io.Reader, column string) (string, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err != nil {
		return "", fmt.Errorf("reading csv header: %w", err)
	}
	col := -1
	for i, name := range header {
		if strings.TrimSpace(name) == column {
			col = i
			break
		}
	}
	if col < 0 {
		return "", fmt.Errorf("%w: %q", ErrNoColumn, column)
	}

	var text strings.Builder
	for record := 0; ; record++ {
		fields, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("reading csv record %d: %w", record, err)
		}
		if record == 0 {
			continue
		}
		if col >= len(fields) {
			return "", fmt.Errorf("csv record %d has no %q field", record, column)
		}
		text.WriteString("\n")
		text.WriteString(fields[col])
	}
	return text.String(), nil
}

// Load reads a corpus file: .csv files go through ReadCSV, anything else
// is taken verbatim.
func Load(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	if strings.EqualFold(filepath.Ext(path), ".csv") {
		return ReadCSV(f, ContentColumn)
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Dump writes the normalized corpus so later runs can reuse it as text.
func Dump(path, text string) error {
	return os.WriteFile(path, []byte(text), 0o644)
}
