// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package scoring is the AnomalyScorer (C4): it loads a pre-trained
// isolation-forest-style model and maps a FeatureVector to a score,
// comparing it to a configurable threshold (spec §4.4).
package scoring

import (
	"math"

	"grimm.is/ngfw/internal/errors"
	"grimm.is/ngfw/internal/features"
)

// Result is the scorer's per-flow output.
type Result struct {
	Score     float64
	IsAnomaly bool
}

// Scorer wraps a loaded Model with a decision threshold. It is read-only
// after construction, so concurrent Score calls from multiple worker
// goroutines are safe (spec §5).
type Scorer struct {
	model     *Model
	threshold float64
}

// DefaultThreshold matches spec §4.4's default.
const DefaultThreshold = -0.2

// New builds a Scorer around an already-loaded Model.
func New(model *Model, threshold float64) *Scorer {
	return &Scorer{model: model, threshold: threshold}
}

// Score evaluates v and classifies it against the threshold. A non-finite
// result (e.g. from a degenerate or out-of-range FeatureVector) is
// reported as a ScoringError; per spec §4.4 the caller must treat this as
// fail-open — the flow is scored non-anomalous, not dropped.
func (s *Scorer) Score(v features.Vector) (Result, error) {
	score := s.model.DecisionFunction(v)
	if math.IsNaN(score) || math.IsInf(score, 0) {
		return Result{}, errors.New(errors.KindInternal, "scoring produced a non-finite result")
	}
	return Result{
		Score:     score,
		IsAnomaly: score < s.threshold,
	}, nil
}
