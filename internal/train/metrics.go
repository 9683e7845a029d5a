package train

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"time"

	_ "modernc.org/sqlite"
)

// Recorder persists evaluation reports as training progresses.
type Recorder interface {
	Record(r Report) error
	Close() error
}

type Metrics struct {
	Reports []ReportMetrics `json:"reports"`
}

type ReportMetrics struct {
	Step       int     `json:"step"`
	TrainLoss  float64 `json:"train_loss"`
	ValLoss    float64 `json:"val_loss"`
	Perplexity float64 `json:"perplexity"`
}

// JSONRecorder rewrites a metrics.json file after every report.
type JSONRecorder struct {
	path    string
	metrics Metrics
}

func NewJSONRecorder(path string) *JSONRecorder {
	return &JSONRecorder{path: path}
}

func (j *JSONRecorder) Record(r Report) error {
	j.metrics.Reports = append(j.metrics.Reports, ReportMetrics{
		Step:       r.Step,
		TrainLoss:  r.Train,
		ValLoss:    r.Test,
		Perplexity: r.Perplexity(),
	})
	return saveMetricsJSON(j.path, j.metrics)
}

func (j *JSONRecorder) Close() error { return nil }

func saveMetricsJSON(path string, metrics Metrics) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	encoder := json.NewEncoder(f)
	encoder.SetIndent("", "  ")
	return encoder.Encode(metrics)
}

// SQLiteRecorder appends reports to a run log table, one row per report,
// tagged with the run name.
type SQLiteRecorder struct {
	db  *sql.DB
	run string
}

func OpenSQLite(path, run string) (*SQLiteRecorder, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS reports(
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts REAL NOT NULL,
			run TEXT NOT NULL,
			step INTEGER NOT NULL,
			train_loss REAL NOT NULL,
			val_loss REAL NOT NULL,
			perplexity REAL NOT NULL
		)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating reports table: %w", err)
	}
	return &SQLiteRecorder{db: db, run: run}, nil
}

func (s *SQLiteRecorder) Record(r Report) error {
	_, err := s.db.Exec(`INSERT INTO reports(ts, run, step, train_loss, val_loss, perplexity)
		VALUES(?,?,?,?,?,?)`,
		float64(time.Now().UnixMilli())/1000.0, s.run, r.Step, r.Train, r.Test, r.Perplexity())
	return err
}

// Reports returns the run's reports in insertion order.
func (s *SQLiteRecorder) Reports() ([]Report, error) {
	rows, err := s.db.Query("SELECT step, train_loss, val_loss FROM reports WHERE run = ? ORDER BY id", s.run)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Report
	for rows.Next() {
		var r Report
		if err := rows.Scan(&r.Step, &r.Train, &r.Test); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteRecorder) Close() error { return s.db.Close() }

// multiRecorder fans a report out to several recorders.
type multiRecorder []Recorder

// Tee records to every r in order.
func Tee(rs ...Recorder) Recorder { return multiRecorder(rs) }

func (m multiRecorder) Record(r Report) error {
	for _, rec := range m {
		if err := rec.Record(r); err != nil {
			return err
		}
	}
	return nil
}

func (m multiRecorder) Close() error {
	var first error
	for _, rec := range m {
		if err := rec.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
