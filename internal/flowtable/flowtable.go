// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package flowtable aggregates PacketRecords into bidirectional FlowStates
// keyed by canonical 5-tuple, evicting on inactive/active timeout or when
// the table grows past max_flows.
package flowtable

import (
	"container/heap"
	"net/netip"
	"time"

	"grimm.is/ngfw/internal/capture"
)

// Key is the canonicalized 5-tuple. Canonicalization guarantees both
// directions of a conversation map to the same key, so it is safe to use
// directly as a Go map key.
type Key struct {
	AddrA, AddrB netip.Addr
	PortA, PortB uint16
	Proto        uint8
}

// endpointLess reports whether (addr, port) sorts before (addr2, port2).
func endpointLess(addr netip.Addr, port uint16, addr2 netip.Addr, port2 uint16) bool {
	if c := addr.Compare(addr2); c != 0 {
		return c < 0
	}
	return port < port2
}

// canonicalize builds the Key for a packet, independent of which direction
// of the conversation the packet travels.
func canonicalize(pkt capture.PacketRecord) Key {
	if endpointLess(pkt.SrcAddr, pkt.SrcPort, pkt.DstAddr, pkt.DstPort) {
		return Key{AddrA: pkt.SrcAddr, PortA: pkt.SrcPort, AddrB: pkt.DstAddr, PortB: pkt.DstPort, Proto: pkt.Proto}
	}
	return Key{AddrA: pkt.DstAddr, PortA: pkt.DstPort, AddrB: pkt.SrcAddr, PortB: pkt.SrcPort, Proto: pkt.Proto}
}

// State is the mutable per-flow accounting record. It exists only while its
// key is present in the FlowTable; removal and feature emission (by the
// caller of ingest/tick/drain) are atomic with respect to the table.
type State struct {
	Key             Key
	ForwardAddr     netip.Addr
	ForwardPort     uint16
	StartTime       time.Time
	LastSeen        time.Time
	FwdPackets      uint64
	BwdPackets      uint64
	FwdBytes        uint64
	BwdBytes        uint64
	Proto           uint8
}

// Config tunes FlowTable timeouts and sizing.
type Config struct {
	InactiveTimeout time.Duration
	ActiveTimeout   time.Duration
	MaxFlows        int
}

// DefaultConfig matches spec §4.2's defaults.
func DefaultConfig() Config {
	return Config{
		InactiveTimeout: 15 * time.Second,
		ActiveTimeout:   1800 * time.Second,
		MaxFlows:        100_000,
	}
}

// entry is the heap element: a flow state plus its position in each of
// the two min-heaps that order it, so both eviction paths run in
// O(log N) rather than a linear scan: order (by LastSeen, for max_flows
// and inactive-timeout eviction) and startOrder (by StartTime, for
// active-timeout eviction — a flow can be active-expired while its
// LastSeen is recent, so the LastSeen heap alone cannot find it).
type entry struct {
	state      *State
	index      int
	startIndex int
}

type lastSeenHeap []*entry

func (h lastSeenHeap) Len() int { return len(h) }
func (h lastSeenHeap) Less(i, j int) bool {
	return h[i].state.LastSeen.Before(h[j].state.LastSeen)
}
func (h lastSeenHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *lastSeenHeap) Push(x any) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *lastSeenHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

type startTimeHeap []*entry

func (h startTimeHeap) Len() int { return len(h) }
func (h startTimeHeap) Less(i, j int) bool {
	return h[i].state.StartTime.Before(h[j].state.StartTime)
}
func (h startTimeHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].startIndex = i
	h[j].startIndex = j
}
func (h *startTimeHeap) Push(x any) {
	e := x.(*entry)
	e.startIndex = len(*h)
	*h = append(*h, e)
}
func (h *startTimeHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// Table is the flow aggregation table described in spec §4.2. It is owned
// by a single producer goroutine; it is not safe for concurrent use from
// multiple goroutines.
type Table struct {
	cfg        Config
	entries    map[Key]*entry
	order      lastSeenHeap
	startOrder startTimeHeap
}

// New constructs a Table.
func New(cfg Config) *Table {
	return &Table{
		cfg:        cfg,
		entries:    make(map[Key]*entry),
		order:      make(lastSeenHeap, 0),
		startOrder: make(startTimeHeap, 0),
	}
}

// Ingest updates the flow state for pkt's canonical key and returns every
// flow evicted as a direct consequence of this call (expiry is checked
// after the update, per spec §4.2 step 5).
func (t *Table) Ingest(pkt capture.PacketRecord) []State {
	key := canonicalize(pkt)

	e, ok := t.entries[key]
	if !ok {
		s := &State{
			Key:         key,
			ForwardAddr: pkt.SrcAddr,
			ForwardPort: pkt.SrcPort,
			StartTime:   pkt.Timestamp,
			LastSeen:    pkt.Timestamp,
			Proto:       pkt.Proto,
		}
		e = &entry{state: s}
		t.entries[key] = e
		heap.Push(&t.order, e)
		heap.Push(&t.startOrder, e)
	}

	s := e.state
	if pkt.SrcAddr == s.ForwardAddr && pkt.SrcPort == s.ForwardPort {
		s.FwdPackets++
		s.FwdBytes += uint64(pkt.Length)
	} else {
		s.BwdPackets++
		s.BwdBytes += uint64(pkt.Length)
	}
	if pkt.Timestamp.After(s.LastSeen) {
		s.LastSeen = pkt.Timestamp
		heap.Fix(&t.order, e.index)
	}

	var evicted []State
	if t.expired(s, pkt.Timestamp) {
		evicted = append(evicted, *s)
		t.remove(e)
	} else if len(t.entries) > t.cfg.MaxFlows {
		evicted = append(evicted, *t.evictOldest())
	}
	return evicted
}

// expired reports whether s meets either expiry condition as of now.
func (t *Table) expired(s *State, now time.Time) bool {
	if now.Sub(s.LastSeen) > t.cfg.InactiveTimeout {
		return true
	}
	if now.Sub(s.StartTime) > t.cfg.ActiveTimeout {
		return true
	}
	return false
}

// Tick advances the table's notion of time, evicting every flow whose
// expiry condition now holds. Both the LastSeen-ordered heap (inactive
// timeout, and the max_flows eviction order) and the StartTime-ordered
// heap (active timeout) are checked: a flow recently touched but long
// since started is only ever found via the latter, since it can sit
// arbitrarily deep in the LastSeen heap.
func (t *Table) Tick(now time.Time) []State {
	var evicted []State
	for {
		progressed := false

		if t.order.Len() > 0 && t.expired(t.order[0].state, now) {
			e := t.order[0]
			evicted = append(evicted, *e.state)
			t.remove(e)
			progressed = true
		} else if t.startOrder.Len() > 0 && t.expired(t.startOrder[0].state, now) {
			e := t.startOrder[0]
			evicted = append(evicted, *e.state)
			t.remove(e)
			progressed = true
		}

		if !progressed {
			break
		}
	}
	return evicted
}

// Drain removes and returns every remaining flow, for clean shutdown.
func (t *Table) Drain() []State {
	out := make([]State, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, *e.state)
	}
	t.entries = make(map[Key]*entry)
	t.order = t.order[:0]
	t.startOrder = t.startOrder[:0]
	return out
}

// Len reports the number of flows currently tracked.
func (t *Table) Len() int { return len(t.entries) }

func (t *Table) evictOldest() *State {
	e := t.order[0]
	t.remove(e)
	return e.state
}

// remove deletes e from both ordering heaps and the key index. Safe to
// call regardless of which heap detected the eviction.
func (t *Table) remove(e *entry) {
	heap.Remove(&t.order, e.index)
	heap.Remove(&t.startOrder, e.startIndex)
	delete(t.entries, e.state.Key)
}
