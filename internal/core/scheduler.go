package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"fleetmon/internal/config"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// InventoryLoader returns a fresh inventory snapshot.
type InventoryLoader func() (*config.Inventory, error)

// Scheduler drives the engine: one sweep right away, then every
// check_interval minutes, plus a daily event-log housekeeping run.
type Scheduler struct {
	engine *Engine
	load   InventoryLoader

	cron       *cron.Cron
	sweepEntry cron.EntryID
	interval   time.Duration

	// inv is the last inventory that loaded successfully
	inv *config.Inventory

	// Lifecycle management
	running bool
	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewScheduler creates a scheduler for engine.
//
// Parameters:
//   - engine: Engine to drive
//   - load: Loads the inventory before every sweep
//
// Returns:
//   - *Scheduler: Initialized scheduler instance
func NewScheduler(engine *Engine, load InventoryLoader) *Scheduler {
	return &Scheduler{engine: engine, load: load}
}

// Start registers the jobs and runs the first sweep in the background.
// When the background service is disabled nothing is scheduled.
//
// Parameters:
//   - ctx: Context for cancellation
//
// Returns:
//   - error: Invalid inventory or schedule
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler is already running")
	}

	inv, err := s.load()
	if err != nil {
		return fmt.Errorf("failed to load inventory: %w", err)
	}
	s.inv = inv

	if !inv.General.BackgroundService.Enabled {
		log.Warn().Msg("Background service is disabled, no sweeps will be scheduled")
		return nil
	}

	housekeeping, err := inv.General.HousekeepingSpec()
	if err != nil {
		return err
	}

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.cron = cron.New(
		cron.WithLogger(cronLogger{}),
		cron.WithChain(cron.SkipIfStillRunning(cronLogger{})),
	)

	s.interval = inv.General.SweepInterval()
	if s.sweepEntry, err = s.cron.AddFunc(everySpec(s.interval), s.sweepJob); err != nil {
		s.cancel()
		return fmt.Errorf("failed to schedule sweep: %w", err)
	}
	if _, err := s.cron.AddFunc(housekeeping, s.housekeepingJob); err != nil {
		s.cancel()
		return fmt.Errorf("failed to schedule housekeeping: %w", err)
	}

	s.cron.Start()
	s.running = true

	// Execute immediately on start
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.sweepJob()
	}()

	log.Info().
		Dur("interval", s.interval).
		Str("housekeeping", housekeeping).
		Msg("Scheduler started")
	return nil
}

// Stop stops scheduling and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.cancel()
	c := s.cron
	s.mu.Unlock()

	log.Info().Msg("Stopping scheduler")
	<-c.Stop().Done()
	s.wg.Wait()
	log.Info().Msg("Scheduler stopped")
}

// IsRunning returns whether sweeps are scheduled.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// SweepNow reloads the inventory and runs one sweep. A reload failure falls
// back to the last inventory that loaded.
func (s *Scheduler) SweepNow(ctx context.Context) (Snapshot, error) {
	inv, err := s.load()
	s.mu.Lock()
	if err != nil {
		log.Error().Err(err).Msg("Failed to reload inventory, using previous snapshot")
		inv = s.inv
	} else {
		s.inv = inv
		s.rescheduleLocked(inv.General.SweepInterval())
	}
	s.mu.Unlock()

	if inv == nil {
		return Snapshot{}, fmt.Errorf("no inventory available: %w", err)
	}
	return s.engine.RunSweep(ctx, inv)
}

// rescheduleLocked moves the sweep job to a new interval.
func (s *Scheduler) rescheduleLocked(interval time.Duration) {
	if s.cron == nil || !s.running || interval == s.interval || interval <= 0 {
		return
	}
	id, err := s.cron.AddFunc(everySpec(interval), s.sweepJob)
	if err != nil {
		log.Error().Err(err).Dur("interval", interval).Msg("Failed to reschedule sweep")
		return
	}
	s.cron.Remove(s.sweepEntry)
	s.sweepEntry = id
	s.interval = interval
	log.Info().Dur("interval", interval).Msg("Sweep interval changed")
}

func (s *Scheduler) sweepJob() {
	if s.ctx.Err() != nil {
		return
	}
	if _, err := s.SweepNow(s.ctx); err != nil {
		if errors.Is(err, ErrSweepInProgress) {
			log.Warn().Msg("Previous sweep still running, skipping")
			return
		}
		log.Error().Err(err).Msg("Scheduled sweep failed")
	}
}

func (s *Scheduler) housekeepingJob() {
	if s.ctx.Err() != nil {
		return
	}
	s.mu.Lock()
	inv := s.inv
	s.mu.Unlock()

	if _, err := s.engine.PruneEvents(s.ctx, inv.General.Retention()); err != nil {
		log.Error().Err(err).Msg("Housekeeping failed")
	}
}

func everySpec(d time.Duration) string {
	return "@every " + d.String()
}

// cronLogger routes cron's own logging to zerolog.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	log.Debug().Fields(keysAndValues).Msg("cron: " + msg)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	log.Error().Err(err).Fields(keysAndValues).Msg("cron: " + msg)
}
