// Package telemetry exposes the externally maintained performance statistics
// the adaptive layer reads. The summary is append-only source of truth owned
// by the trade engine; this core only ever reads it.
package telemetry

import (
	"encoding/json"
	"fmt"
	"os"
)

// Stats is a win-rate sample for one category or detector.
type Stats struct {
	TotalSignals int     `json:"total_signals"`
	WinRate      float64 `json:"win_rate"` // [0, 1]
}

// Summary is one snapshot of the running performance statistics.
type Summary struct {
	Categories map[string]Stats `json:"categories"`
	Detectors  map[string]Stats `json:"detectors"`
	Global     Stats            `json:"global"`
}

// Reader supplies telemetry snapshots to the adaptive layer.
type Reader interface {
	GetSummary() (Summary, error)
}

// ReaderFunc adapts a function to the Reader interface.
type ReaderFunc func() (Summary, error)

func (f ReaderFunc) GetSummary() (Summary, error) { return f() }

// FileReader reads the summary from a JSON file maintained by the trade
// engine. Every call re-reads the file; the adaptive layer's update interval
// keeps the read frequency low.
type FileReader struct {
	Path string
}

// NewFileReader creates a file-backed telemetry reader.
func NewFileReader(path string) *FileReader {
	return &FileReader{Path: path}
}

// GetSummary loads and decodes the telemetry file.
func (r *FileReader) GetSummary() (Summary, error) {
	data, err := os.ReadFile(r.Path)
	if err != nil {
		return Summary{}, fmt.Errorf("reading telemetry file: %w", err)
	}
	var s Summary
	if err := json.Unmarshal(data, &s); err != nil {
		return Summary{}, fmt.Errorf("parsing telemetry file: %w", err)
	}
	return s, nil
}
