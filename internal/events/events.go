// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package events defines the Event record emitted by the engine and the
// Hub that fans events out to subscribed sinks without ever blocking a
// worker goroutine.
package events

import (
	"net/netip"
	"time"

	"github.com/google/uuid"
)

// Type identifies the kind of event emitted.
type Type string

const (
	// TypeAnomaly marks a flow the AnomalyScorer judged anomalous.
	TypeAnomaly Type = "anomaly"
	// TypeBlock marks a successful address block.
	TypeBlock Type = "block"
	// TypeUnblock marks an address leaving the block list (explicit or swept).
	TypeUnblock Type = "unblock"
	// TypeAlarm marks a degraded-mode alarm, emitted once a minute while
	// FirewallAdmin is permanently unavailable.
	TypeAlarm Type = "alarm"
)

// Severity is the event's CEF-mappable severity.
type Severity int

const (
	SeverityLow    Severity = 3
	SeverityMedium Severity = 5
	SeverityHigh   Severity = 7
)

// Event is the immutable record produced by the engine and handed to every
// subscribed Sink. Fields follow spec §3.
type Event struct {
	ID           string
	Type         Type
	Severity     Severity
	SrcAddr      netip.Addr
	DstAddr      netip.Addr
	SrcPort      uint16
	DstPort      uint16
	Proto        uint8
	Description  string
	AnomalyScore float64
	ActionTaken  string
	Timestamp    time.Time
}

// New constructs an Event, stamping a fresh correlation ID.
func New(typ Type, sev Severity, src, dst netip.Addr, srcPort, dstPort uint16, proto uint8, desc string, score float64, action string, ts time.Time) Event {
	return Event{
		ID:           uuid.NewString(),
		Type:         typ,
		Severity:     sev,
		SrcAddr:      src,
		DstAddr:      dst,
		SrcPort:      srcPort,
		DstPort:      dstPort,
		Proto:        proto,
		Description:  desc,
		AnomalyScore: score,
		ActionTaken:  action,
		Timestamp:    ts,
	}
}

// Sink receives emitted events. Emit must not block; a sink with no spare
// capacity drops the event it cannot accept.
type Sink interface {
	Emit(Event)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(Event)

// Emit calls f(e).
func (f SinkFunc) Emit(e Event) { f(e) }

// Hub fans events out to every subscribed sink, matching the bounded,
// never-block contract workers rely on.
type Hub struct {
	subs chan subscription
	stop chan struct{}
	in   chan Event
}

type subscription struct {
	sink Sink
	done chan struct{}
}

// NewHub creates a Hub whose shared input queue holds up to 1024 events,
// and starts its fan-out goroutine.
func NewHub() *Hub {
	h := &Hub{
		subs: make(chan subscription, 16),
		stop: make(chan struct{}),
		in:   make(chan Event, 1024),
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	var sinks []Sink
	for {
		select {
		case sub := <-h.subs:
			sinks = append(sinks, sub.sink)
			close(sub.done)
		case e := <-h.in:
			for _, s := range sinks {
				s.Emit(e)
			}
		case <-h.stop:
			return
		}
	}
}

// Subscribe registers a sink to receive every future event. It blocks only
// until the hub's internal goroutine acknowledges registration.
func (h *Hub) Subscribe(s Sink) {
	done := make(chan struct{})
	h.subs <- subscription{sink: s, done: done}
	<-done
}

// Publish hands an event to the hub. If the hub's internal queue is full
// the event is dropped rather than blocking the caller, matching spec §5's
// "emission uses try_send" rule.
func (h *Hub) Publish(e Event) {
	select {
	case h.in <- e:
	default:
	}
}

// Close stops the hub's fan-out goroutine.
func (h *Hub) Close() {
	close(h.stop)
}
