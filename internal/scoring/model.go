// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package scoring

import (
	"bytes"
	"encoding/gob"
	"math"
	"os"

	"grimm.is/ngfw/internal/errors"
	"grimm.is/ngfw/internal/features"
)

// numFeatures is the fixed width of a FeatureVector, per spec §3.
const numFeatures = 7

// node is one node of an isolation tree. Leaf nodes have Left == Right == -1.
type node struct {
	Feature     int
	SplitValue  float64
	Left, Right int
	Size        int // leaf-only: number of training points routed here
}

// tree is a flattened isolation tree: Nodes[0] is the root.
type tree struct {
	Nodes []node
}

// Model is a deserialized isolation-forest ensemble plus the baked-in
// population statistics used to standardize features before scoring.
// Artifacts are produced by an offline training pipeline outside this
// module's scope (spec §1 names "the offline training script" as an
// external collaborator) and loaded here as a gob-encoded blob.
type Model struct {
	Trees       []tree
	Stats       [numFeatures]Stat
	SampleSize  int // average path length normalization constant's sample size
}

// averagePathLength is c(n), the standard isolation-forest normalization
// constant for a tree built over n samples.
func averagePathLength(n int) float64 {
	if n <= 1 {
		return 0
	}
	return 2*(math.Log(float64(n-1))+0.5772156649) - 2*float64(n-1)/float64(n)
}

// LoadModel reads a gob-encoded Model artifact from path. No third-party
// serialization library in the example pack targets this artifact shape
// (a tree ensemble plus baked statistics), so gob is used directly: it
// round-trips the Go struct tree this Model is built from without a
// separate schema definition.
func LoadModel(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindNotFound, "model artifact not found")
	}

	var m Model
	dec := gob.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&m); err != nil {
		return nil, errors.Wrap(err, errors.KindValidation, "model artifact is corrupt")
	}
	if len(m.Trees) == 0 {
		return nil, errors.New(errors.KindValidation, "model artifact has no trees")
	}
	return &m, nil
}

// Save writes m to path as a gob-encoded blob. Used by tests and by any
// offline tooling that produces fixture artifacts.
func (m *Model) Save(path string) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(m); err != nil {
		return errors.Wrap(err, errors.KindInternal, "failed to encode model artifact")
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}

// standardize converts a raw FeatureVector into the ordered, standardized
// slice the ensemble scores against, using this model's baked-in
// population statistics rather than fitting a scaler at call time.
func (m *Model) standardize(v features.Vector) [numFeatures]float64 {
	raw := [numFeatures]float64{
		v.DurationSeconds,
		float64(v.TotalFwdPackets),
		float64(v.TotalBwdPackets),
		float64(v.TotalFwdBytes),
		float64(v.TotalBwdBytes),
		v.FlowBytesPerSecond,
		v.FlowPacketsPerSecond,
	}
	var out [numFeatures]float64
	for i, r := range raw {
		out[i] = m.Stats[i].Standardize(r)
	}
	return out
}

// pathLength walks t for x, returning the path length to the leaf it lands
// on, adjusted by that leaf's average path length over the samples it
// absorbed during training (the standard isolation-forest correction for
// leaves that were not fully split out).
func (t *tree) pathLength(x [numFeatures]float64) float64 {
	idx := 0
	depth := 0.0
	for {
		n := t.Nodes[idx]
		if n.Left == -1 && n.Right == -1 {
			return depth + averagePathLength(n.Size)
		}
		if x[n.Feature] < n.SplitValue {
			idx = n.Left
		} else {
			idx = n.Right
		}
		depth++
	}
}

// DecisionFunction scores v, returning a value where more negative means
// more anomalous — the standard isolation-forest convention.
func (m *Model) DecisionFunction(v features.Vector) float64 {
	x := m.standardize(v)

	var total float64
	for i := range m.Trees {
		total += m.Trees[i].pathLength(x)
	}
	avgPath := total / float64(len(m.Trees))

	c := averagePathLength(m.SampleSize)
	if c == 0 {
		c = 1
	}
	// Normalized anomaly score in isolation-forest convention: 0.5 means
	// "typical", approaching 1 means "anomalous". sklearn's
	// decision_function flips and shifts this so the threshold sits near 0,
	// with negative values more anomalous; this mirrors that convention.
	normalized := math.Pow(2, -avgPath/c)
	return 0.5 - normalized
}
