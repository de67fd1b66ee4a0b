package tuner

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"signal-council/internal/events"
)

// ErrTuningDisabled is returned when a run is requested with tuning off.
var ErrTuningDisabled = errors.New("tuning is disabled")

// Store persists completed runs. Implementations must tolerate being called
// from a background goroutine.
type Store interface {
	SaveTuningRun(ctx context.Context, run RunResult) error
}

// Promoter applies a winning weight configuration to the live registry.
type Promoter func(weights map[string]float64, reason string) error

// Manager owns background tuning runs: it launches them, tracks their state
// for poll-by-id, publishes lifecycle events and optionally promotes and
// persists winners.
type Manager struct {
	cfg     Config
	tuner   *Tuner
	bus     *events.EventBus
	store   Store    // nil = in-memory only
	promote Promoter // nil = manual promotion
	log     zerolog.Logger

	mu   sync.RWMutex
	runs map[string]*RunResult
}

// NewManager wires a manager around a tuner. bus is required; store and
// promote are optional.
func NewManager(cfg Config, t *Tuner, bus *events.EventBus, store Store, promote Promoter) *Manager {
	return &Manager{
		cfg:     cfg,
		tuner:   t,
		bus:     bus,
		store:   store,
		promote: promote,
		log:     zerolog.New(os.Stderr).With().Timestamp().Str("component", "tuner-manager").Logger(),
		runs:    make(map[string]*RunResult),
	}
}

// StartRun launches one background run and returns its id immediately.
// Results are delivered via GetRun polling and the event bus.
func (m *Manager) StartRun(ctx context.Context, baseWeights map[string]float64) (string, error) {
	if !m.cfg.Enabled {
		return "", ErrTuningDisabled
	}

	id := uuid.NewString()
	placeholder := &RunResult{
		ID:        id,
		Mode:      m.cfg.Mode,
		Metric:    m.cfg.Metric,
		Status:    StatusRunning,
		StartedAt: time.Now(),
	}

	m.mu.Lock()
	m.runs[id] = placeholder
	m.mu.Unlock()

	m.bus.PublishTuningStarted(id, string(m.cfg.Mode), string(m.cfg.Metric))
	m.log.Info().Str("run_id", id).Str("mode", string(m.cfg.Mode)).Msg("tuning run started")

	go m.execute(ctx, id, baseWeights)
	return id, nil
}

func (m *Manager) execute(ctx context.Context, id string, baseWeights map[string]float64) {
	result := m.tuner.Run(ctx, id, baseWeights)

	improved := m.improvedOverBaseline(&result)
	if improved && m.cfg.Promotion.AutoPromote {
		m.promoteWinner(&result)
	}

	m.mu.Lock()
	m.runs[id] = &result
	m.mu.Unlock()

	if m.store != nil {
		if err := m.store.SaveTuningRun(ctx, result); err != nil {
			m.log.Error().Err(err).Str("run_id", id).Msg("failed to persist tuning run")
		}
	}

	m.bus.PublishTuningCompleted(id, result.CandidatesTested, improved, result.Error)
}

// improvedOverBaseline reports whether the best candidate strictly beats the
// baseline on the selected metric. Null baselines never block: any completed
// candidate counts as an improvement over nothing.
func (m *Manager) improvedOverBaseline(r *RunResult) bool {
	if r.BestCandidate == nil {
		return false
	}
	if r.BaselineMetrics == nil {
		return true
	}
	return r.BestCandidate.Fitness > m.tuner.fitness(*r.BaselineMetrics)
}

func (m *Manager) promoteWinner(r *RunResult) {
	if m.promote != nil {
		if err := m.promote(r.BestCandidate.Weights, "auto-promotion from tuning run "+r.ID); err != nil {
			m.log.Error().Err(err).Str("run_id", r.ID).Msg("auto-promotion rejected")
			return
		}
	}
	if path := m.cfg.Promotion.TunedConfigPath; path != "" {
		m.writeTunedConfig(path, r)
	}
}

// writeTunedConfig records the promoted weights so a restart picks them up.
func (m *Manager) writeTunedConfig(path string, r *RunResult) {
	payload := struct {
		RunID     string             `json:"run_id"`
		Weights   map[string]float64 `json:"weights"`
		Metric    Metric             `json:"metric"`
		Fitness   float64            `json:"fitness"`
		TunedAt   time.Time          `json:"tuned_at"`
	}{
		RunID:   r.ID,
		Weights: r.BestCandidate.Weights,
		Metric:  r.Metric,
		Fitness: r.BestCandidate.Fitness,
		TunedAt: time.Now(),
	}
	data, err := json.MarshalIndent(payload, "", "  ")
	if err == nil {
		err = os.WriteFile(path, data, 0o644)
	}
	if err != nil {
		m.log.Error().Err(err).Str("path", path).Msg("failed to write tuned config")
	}
}

// GetRun returns the run with the given id, completed or still running.
func (m *Manager) GetRun(id string) (RunResult, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.runs[id]
	if !ok {
		return RunResult{}, false
	}
	return *r, true
}

// ListRuns returns all known runs, newest first.
func (m *Manager) ListRuns() []RunResult {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]RunResult, 0, len(m.runs))
	for _, r := range m.runs {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out
}
