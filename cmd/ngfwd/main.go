// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Command ngfwd runs the behavioral NGFW engine: it observes packets on a
// network interface, aggregates them into flows, scores expired flows
// with an anomaly model, and blocks the source address of anomalous
// flows for a bounded lifetime.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"grimm.is/ngfw/internal/blocker"
	"grimm.is/ngfw/internal/capture"
	"grimm.is/ngfw/internal/clock"
	"grimm.is/ngfw/internal/config"
	"grimm.is/ngfw/internal/errors"
	"grimm.is/ngfw/internal/events"
	"grimm.is/ngfw/internal/flowtable"
	"grimm.is/ngfw/internal/logging"
	"grimm.is/ngfw/internal/metrics"
	"grimm.is/ngfw/internal/pipeline"
	"grimm.is/ngfw/internal/scoring"
)

// Exit codes, per spec §6.
const (
	exitClean          = 0
	exitStartupFailure = 1
	exitRuntimeFatal   = 2
	exitSignal         = 130
)

func main() {
	os.Exit(run())
}

func run() int {
	log := logging.New(logging.DefaultConfig()).WithComponent("ngfwd")

	cfg, err := config.Load()
	if err != nil {
		log.Error("invalid configuration", "error", err)
		return exitStartupFailure
	}

	model, err := scoring.LoadModel(cfg.ModelPath)
	if err != nil {
		log.Error("failed to load anomaly model", "path", cfg.ModelPath, "error", err)
		return exitStartupFailure
	}
	scorer := scoring.New(model, cfg.Threshold)

	source, err := capture.Open(capture.Config{Interface: cfg.Interface})
	if err != nil {
		// Both classifications (insufficient privilege, interface not
		// found) and anything else capture.Open can return are startup-fatal
		// here: there is no transient retry for "the interface to capture on
		// doesn't exist or isn't accessible".
		log.Error("failed to open packet source", "interface", cfg.Interface, "error", err, "kind", errors.GetKind(err))
		return exitStartupFailure
	}
	defer source.Close()

	admin, err := blocker.NewNFTAdmin()
	if err != nil {
		log.Error("failed to connect to kernel firewall", "error", err)
		return exitStartupFailure
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := admin.EnsureChain(ctx); err != nil {
		log.Error("failed to establish firewall chain", "error", err)
		return exitStartupFailure
	}

	realClock := clock.Real{}
	b := blocker.New(admin, realClock, blocker.Config{DefaultTTL: cfg.BlockTTL})

	flows := flowtable.New(flowtable.Config{
		InactiveTimeout: cfg.InactiveTimeout,
		ActiveTimeout:   cfg.ActiveTimeout,
		MaxFlows:        cfg.MaxFlows,
	})

	hub := events.NewHub()
	hub.Subscribe(events.SinkFunc(func(e events.Event) {
		log.Info("event", "type", e.Type, "src", e.SrcAddr, "dst", e.DstAddr,
			"score", e.AnomalyScore, "action", e.ActionTaken)
	}))
	defer hub.Close()

	m := &metrics.Counters{}

	p := pipeline.New(pipeline.Config{
		QueueSize:       cfg.QueueSize,
		ShutdownTimeout: pipeline.DefaultConfig().ShutdownTimeout,
		SweepInterval:   pipeline.DefaultConfig().SweepInterval,
		JanitorInterval: pipeline.DefaultConfig().JanitorInterval,
		BlockTTL:        cfg.BlockTTL,
	}, source, flows, scorer, b, hub, realClock, log, m)

	log.Info("starting engine", "interface", cfg.Interface, "threshold", cfg.Threshold)

	if err := p.Run(ctx); err != nil {
		log.Error("pipeline exited with error", "error", err)
		return exitRuntimeFatal
	}

	snap := m.Snapshot()
	log.Info("engine stopped",
		"dropped_flows", snap.DroppedFlows,
		"anomalies_found", snap.AnomaliesFound,
		"blocks_installed", snap.BlocksInstalled,
	)

	if ctx.Err() != nil {
		return exitSignal
	}
	return exitClean
}
