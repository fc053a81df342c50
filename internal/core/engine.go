// Package core provides the sweep engine of fleetmon.
//
// The engine is responsible for:
//   - Probing every server and API of an inventory snapshot
//   - Classifying resource metrics against thresholds
//   - Recording state changes and driving alerts
//   - Deriving the overall fleet severity
//
// It owns no timer; the Scheduler calls RunSweep and PruneEvents.
package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"fleetmon/internal/alert"
	"fleetmon/internal/config"
	"fleetmon/internal/probe"
	"fleetmon/internal/status"
	"fleetmon/internal/storage"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// ErrSweepInProgress is returned when RunSweep is called while another sweep runs.
var ErrSweepInProgress = errors.New("sweep already in progress")

// Snapshot is the outcome of one sweep.
type Snapshot struct {
	// Values holds the values observed in this sweep, keyed by state key.
	// A metric that could not be read is absent; its stored state is left
	// as it was and can be read with storage.CurrentStates.
	Values    map[string]any
	Overall   status.Level
	StartedAt time.Time
	Duration  time.Duration
}

// Engine evaluates inventories.
type Engine struct {
	config   config.SchedulerConfig
	storage  *storage.Storage
	prober   *probe.Prober
	detector *Detector
	now      func() time.Time

	// sweepMu is held for the whole sweep
	sweepMu sync.Mutex

	mu        sync.RWMutex
	last      *Snapshot
	lastError error
}

// NewEngine creates a new engine.
//
// Parameters:
//   - cfg: Application configuration
//   - store: Storage for state, history and events
//   - prober: Remote probe adapter
//   - notifier: Alert transport
//
// Returns:
//   - *Engine: Initialized engine instance
func NewEngine(cfg *config.Config, store *storage.Storage, prober *probe.Prober, notifier alert.Notifier) *Engine {
	dispatcher := alert.NewDispatcher(notifier, cfg.Alert.Cooldown)
	return &Engine{
		config:   cfg.Scheduler,
		storage:  store,
		prober:   prober,
		detector: NewDetector(store, dispatcher),
		now:      time.Now,
	}
}

// RunSweep evaluates every server and API of inv once. A failing target only
// degrades its own data points; storage failures abort the sweep.
//
// The sweep timeout bounds probes only. Targets still probing when it expires
// are recorded as unreachable or down, and state is persisted with ctx.
//
// Parameters:
//   - ctx: Context for cancellation
//   - inv: Inventory snapshot to evaluate
//
// Returns:
//   - Snapshot: Values observed in this sweep and the overall severity
//   - error: ErrSweepInProgress or a storage failure
func (e *Engine) RunSweep(ctx context.Context, inv *config.Inventory) (Snapshot, error) {
	if !e.sweepMu.TryLock() {
		return Snapshot{}, ErrSweepInProgress
	}
	defer e.sweepMu.Unlock()

	probeCtx := ctx
	if e.config.SweepTimeout > 0 {
		var cancel context.CancelFunc
		probeCtx, cancel = context.WithTimeout(ctx, e.config.SweepTimeout)
		defer cancel()
	}

	started := e.now().UTC()
	sw := newSweep(ctx, e, inv, started)

	log.Info().
		Int("servers", len(inv.Servers)).
		Int("apis", len(inv.APIs)).
		Msg("Starting sweep")

	g, gctx := errgroup.WithContext(probeCtx)
	workers := e.config.WorkerCount
	if workers <= 0 {
		workers = 1
	}
	g.SetLimit(workers)

	for _, server := range inv.Servers {
		server := server
		g.Go(func() error { return sw.evaluateServer(gctx, server) })
	}
	for _, api := range inv.APIs {
		api := api
		g.Go(func() error { return sw.evaluateAPI(gctx, api) })
	}

	if err := g.Wait(); err != nil {
		return Snapshot{}, e.fail(err)
	}

	overall := sw.overall()
	if _, err := sw.observe(Observation{
		Key:     OverallKey,
		Value:   string(overall),
		Message: fmt.Sprintf("Overall status changed to %s", overall),
	}); err != nil {
		return Snapshot{}, e.fail(err)
	}

	snap := Snapshot{
		Values:    sw.values,
		Overall:   overall,
		StartedAt: started,
		Duration:  e.now().UTC().Sub(started),
	}

	e.mu.Lock()
	e.last = &snap
	e.lastError = nil
	e.mu.Unlock()

	log.Info().
		Str("overall", string(overall)).
		Dur("duration", snap.Duration).
		Msg("Sweep completed")

	return snap, nil
}

func (e *Engine) fail(err error) error {
	log.Error().Err(err).Msg("Sweep failed")
	e.mu.Lock()
	e.lastError = err
	e.mu.Unlock()
	return err
}

// PruneEvents removes events older than retention.
func (e *Engine) PruneEvents(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := e.now().UTC().Add(-retention)
	n, err := e.storage.PruneEvents(ctx, cutoff)
	if err != nil {
		log.Error().Err(err).Msg("Failed to prune events")
		return 0, err
	}
	log.Info().Int64("removed", n).Time("cutoff", cutoff).Msg("Pruned event log")
	return n, nil
}

// IsRunning reports whether a sweep is in flight.
func (e *Engine) IsRunning() bool {
	if e.sweepMu.TryLock() {
		e.sweepMu.Unlock()
		return false
	}
	return true
}

// LastSweep returns the most recent successful snapshot and the error of the
// latest failed sweep, if it failed.
func (e *Engine) LastSweep() (*Snapshot, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.last, e.lastError
}
