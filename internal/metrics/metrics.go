// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package metrics exposes the engine's runtime counters. Per spec §9's
// redesign note, every counter is atomic and readable only through a
// read-only snapshot, never a shared mutable map.
package metrics

import "sync/atomic"

// Counters holds every counter the engine maintains. It is safe for
// concurrent use from the producer, workers, and janitor simultaneously.
type Counters struct {
	DroppedPackets  atomic.Uint64
	DroppedFlows    atomic.Uint64
	ScoringErrors   atomic.Uint64
	BlocksInstalled atomic.Uint64
	BlocksRemoved   atomic.Uint64
	BlocksRejected  atomic.Uint64
	FlowsEmitted    atomic.Uint64
	AnomaliesFound  atomic.Uint64
}

// Snapshot is a point-in-time, immutable copy of Counters suitable for
// logging or introspection.
type Snapshot struct {
	DroppedPackets  uint64
	DroppedFlows    uint64
	ScoringErrors   uint64
	BlocksInstalled uint64
	BlocksRemoved   uint64
	BlocksRejected  uint64
	FlowsEmitted    uint64
	AnomaliesFound  uint64
}

// Snapshot reads every counter into a plain value struct.
func (c *Counters) Snapshot() Snapshot {
	return Snapshot{
		DroppedPackets:  c.DroppedPackets.Load(),
		DroppedFlows:    c.DroppedFlows.Load(),
		ScoringErrors:   c.ScoringErrors.Load(),
		BlocksInstalled: c.BlocksInstalled.Load(),
		BlocksRemoved:   c.BlocksRemoved.Load(),
		BlocksRejected:  c.BlocksRejected.Load(),
		FlowsEmitted:    c.FlowsEmitted.Load(),
		AnomaliesFound:  c.AnomaliesFound.Load(),
	}
}
