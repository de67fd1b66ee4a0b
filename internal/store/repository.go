package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"signal-council/internal/tuner"
)

// Repository provides data access for tuning runs and the amendment audit
// trail.
type Repository struct {
	db *DB
}

// NewRepository creates a repository over an open connection pool.
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// SaveTuningRun persists a completed run. Implements tuner.Store.
func (r *Repository) SaveTuningRun(ctx context.Context, run tuner.RunResult) error {
	var bestWeights []byte
	var bestFitness *float64
	if run.BestCandidate != nil {
		var err error
		bestWeights, err = json.Marshal(run.BestCandidate.Weights)
		if err != nil {
			return fmt.Errorf("failed to marshal best weights: %w", err)
		}
		bestFitness = &run.BestCandidate.Fitness
	}

	var baselineSharpe, baselineWinRate, baselinePnL *float64
	if run.BaselineMetrics != nil {
		baselineSharpe = run.BaselineMetrics.Sharpe
		baselineWinRate = run.BaselineMetrics.WinRate
		baselinePnL = run.BaselineMetrics.PnL
	}

	query := `
		INSERT INTO tuning_runs (
			id, mode, metric, status, symbol, started_at, finished_at,
			baseline_sharpe, baseline_win_rate, baseline_pnl,
			best_weights, best_fitness, candidates_tested, error
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			finished_at = EXCLUDED.finished_at,
			baseline_sharpe = EXCLUDED.baseline_sharpe,
			baseline_win_rate = EXCLUDED.baseline_win_rate,
			baseline_pnl = EXCLUDED.baseline_pnl,
			best_weights = EXCLUDED.best_weights,
			best_fitness = EXCLUDED.best_fitness,
			candidates_tested = EXCLUDED.candidates_tested,
			error = EXCLUDED.error
	`

	_, err := r.db.Pool.Exec(ctx, query,
		run.ID, string(run.Mode), string(run.Metric), string(run.Status), run.Symbol,
		run.StartedAt, run.FinishedAt,
		baselineSharpe, baselineWinRate, baselinePnL,
		bestWeights, bestFitness, run.CandidatesTested, nullIfEmpty(run.Error),
	)
	if err != nil {
		return fmt.Errorf("failed to save tuning run: %w", err)
	}
	return nil
}

// GetTuningRun loads one persisted run by id.
func (r *Repository) GetTuningRun(ctx context.Context, id string) (*tuner.RunResult, error) {
	query := `
		SELECT id, mode, metric, status, COALESCE(symbol, ''),
			started_at, COALESCE(finished_at, started_at),
			baseline_sharpe, baseline_win_rate, baseline_pnl,
			best_weights, best_fitness, candidates_tested, COALESCE(error, '')
		FROM tuning_runs WHERE id = $1
	`

	var run tuner.RunResult
	var mode, metric, status string
	var baselineSharpe, baselineWinRate, baselinePnL, bestFitness *float64
	var bestWeights []byte

	err := r.db.Pool.QueryRow(ctx, query, id).Scan(
		&run.ID, &mode, &metric, &status, &run.Symbol,
		&run.StartedAt, &run.FinishedAt,
		&baselineSharpe, &baselineWinRate, &baselinePnL,
		&bestWeights, &bestFitness, &run.CandidatesTested, &run.Error,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load tuning run %s: %w", id, err)
	}

	run.Mode = tuner.Mode(mode)
	run.Metric = tuner.Metric(metric)
	run.Status = tuner.Status(status)
	if baselineSharpe != nil || baselineWinRate != nil || baselinePnL != nil {
		run.BaselineMetrics = &tuner.Metrics{
			Sharpe:  baselineSharpe,
			WinRate: baselineWinRate,
			PnL:     baselinePnL,
		}
	}
	if bestWeights != nil && bestFitness != nil {
		var weights map[string]float64
		if err := json.Unmarshal(bestWeights, &weights); err != nil {
			return nil, fmt.Errorf("corrupt best weights for run %s: %w", id, err)
		}
		run.BestCandidate = &tuner.Candidate{Weights: weights, Fitness: *bestFitness}
	}
	return &run, nil
}

// ListTuningRuns returns the most recent runs, newest first.
func (r *Repository) ListTuningRuns(ctx context.Context, limit int) ([]tuner.RunResult, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, mode, metric, status, COALESCE(symbol, ''),
			started_at, COALESCE(finished_at, started_at),
			candidates_tested, COALESCE(error, '')
		FROM tuning_runs ORDER BY started_at DESC LIMIT $1
	`
	rows, err := r.db.Pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list tuning runs: %w", err)
	}
	defer rows.Close()

	var runs []tuner.RunResult
	for rows.Next() {
		var run tuner.RunResult
		var mode, metric, status string
		if err := rows.Scan(
			&run.ID, &mode, &metric, &status, &run.Symbol,
			&run.StartedAt, &run.FinishedAt, &run.CandidatesTested, &run.Error,
		); err != nil {
			return nil, fmt.Errorf("failed to scan tuning run: %w", err)
		}
		run.Mode = tuner.Mode(mode)
		run.Metric = tuner.Metric(metric)
		run.Status = tuner.Status(status)
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// AmendmentRecord is one row in the amendment audit trail.
type AmendmentRecord struct {
	Version          int                `json:"version"`
	Authority        string             `json:"authority"`
	Reason           string             `json:"reason"`
	Success          bool               `json:"success"`
	Errors           []string           `json:"errors,omitempty"`
	DetectorWeights  map[string]float64 `json:"detector_weights,omitempty"`
	TimeframeWeights map[string]float64 `json:"timeframe_weights,omitempty"`
	EnactedAt        time.Time          `json:"enacted_at"`
}

// SaveAmendment appends one amendment attempt, committed or rejected, to the
// audit trail.
func (r *Repository) SaveAmendment(ctx context.Context, rec AmendmentRecord) error {
	errorsJSON, err := json.Marshal(rec.Errors)
	if err != nil {
		return fmt.Errorf("failed to marshal amendment errors: %w", err)
	}
	detectorJSON, err := json.Marshal(rec.DetectorWeights)
	if err != nil {
		return fmt.Errorf("failed to marshal detector weights: %w", err)
	}
	timeframeJSON, err := json.Marshal(rec.TimeframeWeights)
	if err != nil {
		return fmt.Errorf("failed to marshal timeframe weights: %w", err)
	}

	query := `
		INSERT INTO amendment_audit (
			version, authority, reason, success, errors,
			detector_weights, timeframe_weights, enacted_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err = r.db.Pool.Exec(ctx, query,
		rec.Version, rec.Authority, rec.Reason, rec.Success,
		errorsJSON, detectorJSON, timeframeJSON, rec.EnactedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save amendment record: %w", err)
	}
	return nil
}

// ListAmendments returns recent amendment attempts, newest first.
func (r *Repository) ListAmendments(ctx context.Context, limit int) ([]AmendmentRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT version, authority, COALESCE(reason, ''), success, errors,
			detector_weights, timeframe_weights, enacted_at
		FROM amendment_audit ORDER BY enacted_at DESC LIMIT $1
	`
	rows, err := r.db.Pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list amendments: %w", err)
	}
	defer rows.Close()

	var records []AmendmentRecord
	for rows.Next() {
		var rec AmendmentRecord
		var errorsJSON, detectorJSON, timeframeJSON []byte
		if err := rows.Scan(
			&rec.Version, &rec.Authority, &rec.Reason, &rec.Success,
			&errorsJSON, &detectorJSON, &timeframeJSON, &rec.EnactedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan amendment record: %w", err)
		}
		if len(errorsJSON) > 0 {
			if err := json.Unmarshal(errorsJSON, &rec.Errors); err != nil {
				return nil, fmt.Errorf("corrupt amendment errors: %w", err)
			}
		}
		if len(detectorJSON) > 0 {
			if err := json.Unmarshal(detectorJSON, &rec.DetectorWeights); err != nil {
				return nil, fmt.Errorf("corrupt detector weights: %w", err)
			}
		}
		if len(timeframeJSON) > 0 {
			if err := json.Unmarshal(timeframeJSON, &rec.TimeframeWeights); err != nil {
				return nil, fmt.Errorf("corrupt timeframe weights: %w", err)
			}
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
