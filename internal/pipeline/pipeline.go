// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package pipeline wires the producer, worker pool, and janitor goroutines
// spec §5 describes: a single producer drives PacketSource and FlowTable,
// a bounded queue with drop-oldest backpressure hands expired flows to N
// workers, and a janitor ticks the FlowTable and sweeps the Blocker.
package pipeline

import (
	"context"
	"net/netip"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"grimm.is/ngfw/internal/blocker"
	"grimm.is/ngfw/internal/capture"
	"grimm.is/ngfw/internal/clock"
	"grimm.is/ngfw/internal/errors"
	"grimm.is/ngfw/internal/events"
	"grimm.is/ngfw/internal/features"
	"grimm.is/ngfw/internal/flowtable"
	"grimm.is/ngfw/internal/logging"
	"grimm.is/ngfw/internal/metrics"
	"grimm.is/ngfw/internal/scoring"
)

// alarmInterval is how often a TypeAlarm event is emitted while the
// engine runs in degraded mode, per spec §7.
const alarmInterval = time.Minute

// Config tunes the pipeline's concurrency fabric.
type Config struct {
	// Workers is the number of worker goroutines. 0 selects runtime.NumCPU().
	Workers int
	// QueueSize is the bounded queue's capacity, Q in spec §5.
	QueueSize int
	// JanitorInterval is how often the janitor ticks the FlowTable and
	// sweeps the Blocker.
	JanitorInterval time.Duration
	// SweepInterval bounds how often Blocker.Sweep runs; spec §5 requires
	// at least every 5 minutes.
	SweepInterval time.Duration
	// ShutdownTimeout bounds graceful shutdown; spec §5 defaults to 10s.
	ShutdownTimeout time.Duration
	// BlockTTL is the default TTL passed to Blocker.Block.
	BlockTTL time.Duration
}

// DefaultConfig matches spec §5 and §6's defaults.
func DefaultConfig() Config {
	return Config{
		Workers:         runtime.NumCPU(),
		QueueSize:       1024,
		JanitorInterval: time.Second,
		SweepInterval:   5 * time.Minute,
		ShutdownTimeout: 10 * time.Second,
		BlockTTL:        60 * time.Minute,
	}
}

// Pipeline is the wired engine: producer + workers + janitor.
type Pipeline struct {
	cfg     Config
	source  capture.Source
	flows   *flowtable.Table
	scorer  *scoring.Scorer
	blocker *blocker.Blocker
	hub     *events.Hub
	clock   clock.Clock
	log     *logging.Logger
	metrics *metrics.Counters

	queue  chan flowtable.State
	tickCh chan time.Time

	// degraded latches true once FirewallAdmin is judged permanently
	// unavailable (spec §7's Runtime-fatal condition). Once set, workers
	// keep scoring flows but stop calling Blocker.Block, and the janitor
	// emits a TypeAlarm event every alarmInterval.
	degraded atomic.Bool
}

// New wires a Pipeline from its components. Every dependency is
// constructed and injected explicitly by the caller (cmd/ngfwd), per spec
// §9's instruction to replace process-wide singletons with explicit
// construction.
func New(cfg Config, source capture.Source, flows *flowtable.Table, scorer *scoring.Scorer, b *blocker.Blocker, hub *events.Hub, clk clock.Clock, log *logging.Logger, m *metrics.Counters) *Pipeline {
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
		if cfg.Workers < 1 {
			cfg.Workers = 1
		}
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	return &Pipeline{
		cfg:     cfg,
		source:  source,
		flows:   flows,
		scorer:  scorer,
		blocker: b,
		hub:     hub,
		clock:   clk,
		log:     log.WithComponent("pipeline"),
		metrics: m,
		queue:   make(chan flowtable.State, cfg.QueueSize),
		tickCh:  make(chan time.Time, 1),
	}
}

// sentinel is enqueued once per worker on shutdown so each worker knows to
// stop after draining what precedes it.
var sentinel = flowtable.State{}

func isSentinel(s flowtable.State) bool {
	return s.StartTime.IsZero() && s.LastSeen.IsZero() && s.Key == (flowtable.Key{})
}

// Run drives the pipeline until ctx is cancelled, then shuts down
// gracefully within cfg.ShutdownTimeout.
func (p *Pipeline) Run(ctx context.Context) error {
	var wg sync.WaitGroup

	for i := 0; i < p.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.worker(ctx)
		}()
	}

	janitorDone := make(chan struct{})
	go func() {
		defer close(janitorDone)
		p.janitor(ctx)
	}()

	p.produce(ctx)

	for i := 0; i < p.cfg.Workers; i++ {
		p.enqueue(sentinel)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), p.cfg.ShutdownTimeout)
	defer cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-shutdownCtx.Done():
		p.log.Warn("shutdown timed out, outstanding events dropped")
	}
	<-janitorDone

	if p.degraded.Load() {
		return errors.New(errors.KindUnavailable, "engine ran in degraded mode: firewall enforcement was permanently unavailable")
	}
	return nil
}

// produce is the single producer: it drives the capture.Source and owns
// the FlowTable exclusively. The janitor never mutates the FlowTable
// itself — it only wakes the producer via tickCh, and the producer calls
// FlowTable.Tick on its own goroutine, per spec §5.
func (p *Pipeline) produce(ctx context.Context) {
	pktCh := make(chan capture.PacketRecord)
	errCh := make(chan error, 1)
	go func() {
		for {
			pkt, err := p.source.Next(ctx)
			if err != nil {
				errCh <- err
				return
			}
			select {
			case pktCh <- pkt:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			for _, flow := range p.flows.Drain() {
				p.enqueue(flow)
			}
			return

		case <-errCh:
			for _, flow := range p.flows.Drain() {
				p.enqueue(flow)
			}
			return

		case pkt := <-pktCh:
			for _, flow := range p.flows.Ingest(pkt) {
				p.enqueue(flow)
			}

		case now := <-p.tickCh:
			for _, flow := range p.flows.Tick(now) {
				p.enqueue(flow)
			}
		}
	}
}

// enqueue implements the drop-oldest backpressure policy: on a full
// queue, the oldest unprocessed flow is evicted (never the newest) and
// dropped_flows is incremented. The producer is never blocked by this.
func (p *Pipeline) enqueue(flow flowtable.State) {
	for {
		select {
		case p.queue <- flow:
			return
		default:
		}

		select {
		case <-p.queue:
			p.metrics.DroppedFlows.Add(1)
		default:
			return
		}
	}
}

// worker consumes expired flows, running feature extraction, scoring,
// blocking, and event emission.
func (p *Pipeline) worker(ctx context.Context) {
	for flow := range p.queue {
		if isSentinel(flow) {
			return
		}
		p.process(ctx, flow)
	}
}

func (p *Pipeline) process(ctx context.Context, flow flowtable.State) {
	p.metrics.FlowsEmitted.Add(1)
	vec := features.Build(flow)

	result, err := p.scorer.Score(vec)
	if err != nil {
		p.metrics.ScoringErrors.Add(1)
		p.log.Warn("scoring error, treating flow as non-anomalous", "error", err)
		return
	}
	if !result.IsAnomaly {
		return
	}

	p.metrics.AnomaliesFound.Add(1)
	srcAddr, srcPort := flow.ForwardAddr, flow.ForwardPort
	dstAddr, dstPort := otherEndpoint(flow)

	sev := events.SeverityLow
	switch {
	case result.Score < -0.5:
		sev = events.SeverityHigh
	case result.Score < -0.2:
		sev = events.SeverityMedium
	}

	action := p.enforce(ctx, srcAddr, dstAddr, srcPort, dstPort, flow.Proto, result.Score, sev)

	p.hub.Publish(events.New(
		events.TypeAnomaly, sev, srcAddr, dstAddr, srcPort, dstPort, flow.Proto,
		"anomalous flow detected", result.Score, action, p.clock.Now(),
	))
}

// enforce installs a block for an anomalous flow's source address, unless
// the pipeline is already in degraded mode. It returns the action string
// used for logging/CEF rendering. A Block failure classified as
// errors.KindInternal (spec §7's Runtime-fatal condition — FirewallAdmin
// permanently unavailable) latches degraded mode so every subsequent
// anomaly is logged without attempting another kernel call.
func (p *Pipeline) enforce(ctx context.Context, srcAddr, dstAddr netip.Addr, srcPort, dstPort uint16, proto uint8, score float64, sev events.Severity) string {
	if p.degraded.Load() {
		// Runtime-fatal degraded mode (spec §7): scoring and logging
		// continue, but enforcement stays off since FirewallAdmin is
		// permanently unavailable.
		return "logged (degraded)"
	}

	outcome, err := p.blocker.Block(ctx, srcAddr, "anomalous flow", p.cfg.BlockTTL)
	if err != nil {
		if errors.GetKind(err) == errors.KindInternal {
			if !p.degraded.Swap(true) {
				p.log.Error("firewall permanently unavailable, entering degraded mode", "error", err)
			}
			return "logged (degraded)"
		}
		p.log.Warn("failed to install block", "addr", srcAddr, "error", err)
		return "logged"
	}

	switch outcome {
	case blocker.Blocked:
		p.metrics.BlocksInstalled.Add(1)
		p.hub.Publish(events.New(
			events.TypeBlock, sev, srcAddr, dstAddr, srcPort, dstPort, proto,
			"address blocked", score, "blocked", p.clock.Now(),
		))
		return "blocked"
	case blocker.AlreadyBlocked:
		p.metrics.BlocksInstalled.Add(1)
		return "blocked"
	case blocker.Rejected:
		p.metrics.BlocksRejected.Add(1)
		return "logged"
	default:
		return "logged"
	}
}

// otherEndpoint returns the non-forward endpoint of a flow key.
func otherEndpoint(flow flowtable.State) (netip.Addr, uint16) {
	if flow.Key.AddrA == flow.ForwardAddr && flow.Key.PortA == flow.ForwardPort {
		return flow.Key.AddrB, flow.Key.PortB
	}
	return flow.Key.AddrA, flow.Key.PortA
}

// janitor wakes on a fixed interval. It never touches the FlowTable
// itself: it signals the producer via tickCh, which runs the actual
// FlowTable.Tick call on its own goroutine (spec §5). The janitor does
// own Blocker.sweep directly, since Blocker is a shared, mutex-guarded
// resource rather than producer-owned state.
func (p *Pipeline) janitor(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.JanitorInterval)
	defer ticker.Stop()

	lastSweep := p.clock.Now()
	lastAlarm := time.Time{}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := p.clock.Now()

			select {
			case p.tickCh <- now:
			default:
				// Producer hasn't drained the previous wake yet; skip this
				// tick rather than block the janitor.
			}

			p.metrics.DroppedPackets.Store(p.source.Dropped())

			if !p.degraded.Load() && now.Sub(lastSweep) >= p.cfg.SweepInterval {
				lastSweep = now
				removed, err := p.blocker.Sweep(ctx, now)
				if err != nil {
					p.log.Warn("sweep encountered an error", "error", err)
				}
				p.metrics.BlocksRemoved.Add(uint64(len(removed)))
				for _, addr := range removed {
					p.hub.Publish(events.New(
						events.TypeUnblock, events.SeverityLow, addr, netip.Addr{}, 0, 0, 0,
						"block expired", 0, "expired", now,
					))
				}
			}

			if p.degraded.Load() && now.Sub(lastAlarm) >= alarmInterval {
				lastAlarm = now
				p.hub.Publish(events.New(
					events.TypeAlarm, events.SeverityHigh, netip.Addr{}, netip.Addr{}, 0, 0, 0,
					"firewall enforcement permanently unavailable, engine running in degraded mode",
					0, "degraded", now,
				))
			}
		}
	}
}
