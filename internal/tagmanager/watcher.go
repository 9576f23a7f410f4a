package tagmanager

import (
	"context"
	"log/slog"
	"time"
)

const defaultProbeInterval = 5 * time.Second

// Probe checks whether the runtime can currently receive updates.
type Probe interface {
	Probe(ctx context.Context) error
}

// ProbeFunc adapts a function to Probe.
type ProbeFunc func(ctx context.Context) error

// Probe implements Probe.
func (f ProbeFunc) Probe(ctx context.Context) error {
	return f(ctx)
}

// AlwaysReady is the probe for runtimes that exist as soon as the process
// does, such as the in-process dataLayer.
var AlwaysReady = ProbeFunc(func(context.Context) error { return nil })

// Watcher owns the runtime's readiness lifecycle: it marks the gate ready
// once the probe succeeds, resets it when the probe starts failing, and
// resets it on teardown.
type Watcher struct {
	gate     *Gate
	probe    Probe
	interval time.Duration
	logger   *slog.Logger
}

func NewWatcher(gate *Gate, probe Probe, interval time.Duration, logger *slog.Logger) *Watcher {
	if interval <= 0 {
		interval = defaultProbeInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		gate:     gate,
		probe:    probe,
		interval: interval,
		logger:   logger,
	}
}

// Run probes until ctx is cancelled. It always returns nil so it can run
// inside an errgroup without tearing down its siblings.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.gate.Reset()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.check(ctx)
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("tag runtime watcher stopped")
			return nil
		case <-ticker.C:
			w.check(ctx)
		}
	}
}

func (w *Watcher) check(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, w.interval)
	err := w.probe.Probe(probeCtx)
	cancel()

	if err != nil {
		if w.gate.Ready() {
			w.logger.Warn("tag runtime became unavailable", "error", err)
			w.gate.Reset()
		} else {
			w.logger.Debug("tag runtime not ready", "error", err)
		}
		return
	}
	if w.gate.MarkReady(ctx) {
		w.logger.Info("tag runtime ready")
	}
}
