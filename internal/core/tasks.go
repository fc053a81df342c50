package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"fleetmon/internal/config"
	"fleetmon/internal/metrics"
	"fleetmon/internal/status"
	"fleetmon/internal/storage"

	"github.com/rs/zerolog/log"
)

// sweep collects what one RunSweep observes. Target tasks run concurrently.
//
// Probes use the context handed to each task, which carries the sweep
// deadline. Writes use store, which only ends with the caller's context.
type sweep struct {
	store    context.Context
	engine   *Engine
	inv      *config.Inventory
	detector *Detector
	ts       time.Time

	mu          sync.Mutex
	values      map[string]any
	levels      []status.Level
	unreachable int
	apisDown    int
}

func newSweep(store context.Context, e *Engine, inv *config.Inventory, ts time.Time) *sweep {
	return &sweep{
		store:    store,
		engine:   e,
		inv:      inv,
		detector: e.detector.WithNotifications(inv.General.Notifications.Enabled),
		ts:       ts,
		values:   make(map[string]any),
	}
}

func (s *sweep) set(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
}

func (s *sweep) observe(obs Observation) (bool, error) {
	obs.Timestamp = s.ts
	changed, err := s.detector.Observe(s.store, obs)
	if err != nil {
		return false, err
	}
	s.set(obs.Key, obs.Value)
	return changed, nil
}

// evaluateServer checks reachability, collects metrics and classifies them.
//
// Parameters:
//   - ctx: Context bounding the probes
//   - server: Server to evaluate
//
// Returns:
//   - error: Storage failure only; probe and parse failures are absorbed
func (s *sweep) evaluateServer(ctx context.Context, server config.Server) error {
	sess, connErr := s.engine.prober.Connect(ctx, server)
	reachable := connErr == nil
	if connErr != nil {
		log.Error().Err(connErr).Str("server", server.Name).Msg("SSH connection failed")
	}

	if _, err := s.observe(Observation{
		Key:     SSHKey(server.Name),
		Value:   reachable,
		Message: fmt.Sprintf("SSH connection to %s changed to %s", server.Name, reachability(reachable)),
		Alert:   true,
	}); err != nil {
		if sess != nil {
			_ = sess.Close()
		}
		return err
	}

	if !reachable {
		s.mu.Lock()
		s.unreachable++
		s.mu.Unlock()
		return nil
	}
	defer func() {
		if err := sess.Close(); err != nil {
			log.Debug().Err(err).Str("server", server.Name).Msg("Closing SSH session")
		}
	}()

	reading := metrics.Collect(ctx, sess, server.Disks)
	for metric, err := range reading.Errors {
		log.Warn().Err(err).Str("server", server.Name).Str("metric", metric).Msg("Metric unavailable")
	}

	info := reading.Info()
	encoded, err := storage.Encode(info)
	if err != nil {
		return &storage.StoreError{Op: "encode " + InfoKey(server.Name), Err: err}
	}
	if err := s.engine.storage.PutCurrent(s.store, InfoKey(server.Name), encoded, s.ts); err != nil {
		return err
	}
	s.set(InfoKey(server.Name), info)

	general := s.inv.General
	if reading.Load != nil {
		if err := s.classify(server.Name, "load", "System load", reading.Load.One, general.Threshold(config.ClassLoad)); err != nil {
			return err
		}
	}
	if reading.Memory != nil {
		if err := s.classify(server.Name, "ram", "RAM usage", reading.Memory.Percent, general.Threshold(config.ClassRAM)); err != nil {
			return err
		}
	}
	for _, mount := range server.Disks {
		disk, ok := reading.Disks[mount]
		if !ok {
			continue
		}
		if err := s.classify(server.Name, metrics.DiskKey(mount), "Disk usage "+mount, disk.Percent, general.Threshold(config.ClassDisk)); err != nil {
			return err
		}
	}
	return nil
}

func (s *sweep) classify(server, resource, label string, value float64, t config.Threshold) error {
	level := status.Classify(value, t)

	s.mu.Lock()
	s.levels = append(s.levels, level)
	s.mu.Unlock()

	_, err := s.observe(Observation{
		Key:     ResourceKey(server, resource),
		Value:   string(level),
		Message: fmt.Sprintf("%s of %s changed to %s: %.2f%%", label, server, level, value),
		Alert:   t.AlertsEnabled(),
	})
	return err
}

// evaluateAPI probes one API, directly or through its server.
func (s *sweep) evaluateAPI(ctx context.Context, api config.API) error {
	up, probeErr := s.engine.prober.CheckAPI(ctx, api, s.inv)
	if probeErr != nil {
		log.Error().Err(probeErr).Str("api", api.Name).Str("url", api.URL).Msg("API check failed")
	}
	if !up {
		s.mu.Lock()
		s.apisDown++
		s.mu.Unlock()
	}

	_, err := s.observe(Observation{
		Key:     APIKey(api.Name),
		Value:   up,
		Message: fmt.Sprintf("The %s API state changed to %s", api.Name, activity(up)),
		Alert:   true,
	})
	return err
}

// overall is critical if anything is critical, a server is unreachable or an
// API is down; warning if anything is warning; good otherwise.
func (s *sweep) overall() status.Level {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unreachable > 0 || s.apisDown > 0 {
		return status.Critical
	}
	return status.Worst(s.levels...)
}

func reachability(ok bool) string {
	if ok {
		return "reachable"
	}
	return "unreachable"
}

func activity(up bool) string {
	if up {
		return "active"
	}
	return "inactive"
}
