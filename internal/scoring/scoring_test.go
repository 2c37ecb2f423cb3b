// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package scoring

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/ngfw/internal/features"
)

func TestTrackerMatchesKnownPopulationVariance(t *testing.T) {
	var tr Tracker
	for _, v := range []float64{2, 4, 4, 4, 5, 5, 7, 9} {
		tr.Update(v)
	}
	assert.InDelta(t, 5.0, tr.Mean, 1e-9)
	assert.InDelta(t, 4.0, tr.Variance(), 1e-9)
	assert.InDelta(t, 2.0, tr.StdDev(), 1e-9)
}

func TestStatStandardizeHandlesZeroStdDev(t *testing.T) {
	s := Stat{Mean: 10, StdDev: 0}
	assert.Zero(t, s.Standardize(42))
}

func TestStatStandardize(t *testing.T) {
	s := Stat{Mean: 10, StdDev: 2}
	assert.InDelta(t, 1.0, s.Standardize(12), 1e-9)
	assert.InDelta(t, -1.0, s.Standardize(8), 1e-9)
}

// buildStumpModel returns a one-tree ensemble whose root splits once into
// a size-1 leaf and a size-255 leaf, both at depth 1. A point routed to the
// size-1 leaf has path length 1 and scores toward the anomalous side; a
// point routed to the size-255 leaf gets that leaf's average-path-length
// correction added and scores as typical. This exercises
// DecisionFunction's convention (more negative = more anomalous) without
// needing a real trained artifact.
func buildStumpModel(splitFeature int, splitValue float64) *Model {
	return &Model{
		SampleSize: 256,
		Trees: []tree{
			{Nodes: []node{
				{Feature: splitFeature, SplitValue: splitValue, Left: 1, Right: 2},
				{Left: -1, Right: -1, Size: 1},
				{Left: -1, Right: -1, Size: 255},
			}},
		},
		Stats: [numFeatures]Stat{
			{Mean: 0, StdDev: 1},
			{Mean: 0, StdDev: 1},
			{Mean: 0, StdDev: 1},
			{Mean: 0, StdDev: 1},
			{Mean: 0, StdDev: 1},
			{Mean: 0, StdDev: 1},
			{Mean: 0, StdDev: 1},
		},
	}
}

func TestDecisionFunctionIsolatedPointScoresMoreAnomalous(t *testing.T) {
	m := buildStumpModel(0, 0.5)

	isolated := features.Vector{DurationSeconds: -1} // < 0.5, routes to the size-1 leaf
	typical := features.Vector{DurationSeconds: 10}  // >= 0.5, routes to the size-255 leaf

	isolatedScore := m.DecisionFunction(isolated)
	typicalScore := m.DecisionFunction(typical)

	assert.Less(t, isolatedScore, typicalScore)
}

func TestModelSaveLoadRoundTrips(t *testing.T) {
	m := buildStumpModel(1, 0.0)
	path := filepath.Join(t.TempDir(), "model.gob")

	require.NoError(t, m.Save(path))

	loaded, err := LoadModel(path)
	require.NoError(t, err)
	assert.Equal(t, m.SampleSize, loaded.SampleSize)
	assert.Equal(t, m.Stats, loaded.Stats)
	assert.Equal(t, len(m.Trees), len(loaded.Trees))
}

func TestLoadModelMissingFile(t *testing.T) {
	_, err := LoadModel(filepath.Join(t.TempDir(), "does-not-exist.gob"))
	require.Error(t, err)
}

func TestLoadModelCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corrupt.gob")
	require.NoError(t, os.WriteFile(path, []byte("not a gob file"), 0o644))

	_, err := LoadModel(path)
	require.Error(t, err)
}

func TestScorerAppliesThreshold(t *testing.T) {
	m := buildStumpModel(0, 0.5)
	s := New(m, DefaultThreshold)

	isolated, err := s.Score(features.Vector{DurationSeconds: -1})
	require.NoError(t, err)

	typical, err := s.Score(features.Vector{DurationSeconds: 10})
	require.NoError(t, err)

	assert.Less(t, isolated.Score, typical.Score)
	assert.Equal(t, isolated.Score < DefaultThreshold, isolated.IsAnomaly)
}
