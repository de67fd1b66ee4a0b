// Package detector defines the capability interface every analysis module
// implements and the static table they register in. Detector outputs are
// normalized to the signed [-1, 1] scale before they reach the combiner.
package detector

import (
	"context"
	"fmt"
	"sort"
	"time"

	"signal-council/internal/market"
)

// Output is the single normalized result type every detector produces.
type Output struct {
	Score      float64           `json:"score"`      // signed, [-1, 1]
	Confidence float64           `json:"confidence"` // [0, 1]
	DetectorID string            `json:"detector_id"`
	Timeframe  string            `json:"timeframe"`
	Timestamp  int64             `json:"timestamp"`
	Meta       map[string]string `json:"meta,omitempty"`
}

// Detector is the capability every analysis module implements. Evaluate must
// honor the context; a detector that blocks past its deadline is replaced by
// a neutral placeholder, not waited on.
type Detector interface {
	Name() string
	Category() string
	Evaluate(ctx context.Context, symbol, timeframe string, bars []market.Bar) (Output, error)
}

// Table is the compile-time detector registration table. No reflection, no
// lookup-by-name dispatch: detectors are constructed and registered explicitly
// at startup.
type Table struct {
	detectors []Detector
	byName    map[string]Detector
}

// NewTable builds a table from explicit detector instances. Duplicate names
// are a programming error.
func NewTable(detectors ...Detector) (*Table, error) {
	t := &Table{byName: make(map[string]Detector, len(detectors))}
	for _, d := range detectors {
		if _, dup := t.byName[d.Name()]; dup {
			return nil, fmt.Errorf("detector %q registered twice", d.Name())
		}
		t.byName[d.Name()] = d
		t.detectors = append(t.detectors, d)
	}
	return t, nil
}

// All returns the registered detectors in registration order.
func (t *Table) All() []Detector {
	out := make([]Detector, len(t.detectors))
	copy(out, t.detectors)
	return out
}

// Get returns a detector by name.
func (t *Table) Get(name string) (Detector, bool) {
	d, ok := t.byName[name]
	return d, ok
}

// Names returns the registered detector names, sorted.
func (t *Table) Names() []string {
	names := make([]string, 0, len(t.byName))
	for name := range t.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Categories returns detector names grouped by category.
func (t *Table) Categories() map[string][]string {
	out := make(map[string][]string)
	for _, d := range t.detectors {
		out[d.Category()] = append(out[d.Category()], d.Name())
	}
	return out
}

// NeutralPlaceholder is what a failed, timed-out or malformed detector call is
// replaced with so the combination can proceed.
func NeutralPlaceholder(name, timeframe, note string) Output {
	return Output{
		Score:      0,
		Confidence: 0,
		DetectorID: name,
		Timeframe:  timeframe,
		Timestamp:  time.Now().UnixMilli(),
		Meta:       map[string]string{"error": note},
	}
}
