// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package features builds the fixed FeatureVector consumed by the
// AnomalyScorer from an expired FlowState (spec §4.3). It is a pure
// function: identical flows yield identical vectors byte-for-byte.
package features

import "grimm.is/ngfw/internal/flowtable"

// Vector is the 7-field contract between the FlowTable and the
// AnomalyScorer. Field order is part of the contract and must match the
// order the model was trained on.
type Vector struct {
	DurationSeconds      float64
	TotalFwdPackets      uint64
	TotalBwdPackets      uint64
	TotalFwdBytes        uint64
	TotalBwdBytes        uint64
	FlowBytesPerSecond   float64
	FlowPacketsPerSecond float64
}

// Build derives the FeatureVector for a FlowState. Zero-duration flows
// (single-packet flows, or zero-resolution timestamps) yield rate fields
// of exactly 0 — never Inf or NaN.
func Build(s flowtable.State) Vector {
	duration := s.LastSeen.Sub(s.StartTime).Seconds()
	if duration < 0 {
		duration = 0
	}

	totalBytes := s.FwdBytes + s.BwdBytes
	totalPackets := s.FwdPackets + s.BwdPackets

	var bytesPerSec, packetsPerSec float64
	if duration > 0 {
		bytesPerSec = float64(totalBytes) / duration
		packetsPerSec = float64(totalPackets) / duration
	}

	return Vector{
		DurationSeconds:      duration,
		TotalFwdPackets:      s.FwdPackets,
		TotalBwdPackets:      s.BwdPackets,
		TotalFwdBytes:        s.FwdBytes,
		TotalBwdBytes:        s.BwdBytes,
		FlowBytesPerSecond:   bytesPerSec,
		FlowPacketsPerSecond: packetsPerSec,
	}
}
