package core

import (
	"bytes"
	"context"
	"time"

	"fleetmon/internal/alert"
	"fleetmon/internal/storage"

	"github.com/rs/zerolog/log"
)

// StateStore is the part of the storage layer the detector needs.
type StateStore interface {
	GetCurrent(ctx context.Context, key string) ([]byte, bool, error)
	RecordState(ctx context.Context, w storage.StateWrite) error
}

// Observation is one value seen for a state key during a sweep.
type Observation struct {
	Key   string
	Value any
	// Message is written to the event log when Value differs from the stored value.
	Message string
	// Alert makes a change notify in addition to being logged.
	Alert     bool
	Timestamp time.Time
}

// Detector compares observations against the current-state table and
// records transitions.
type Detector struct {
	store                StateStore
	dispatcher           *alert.Dispatcher
	notificationsEnabled bool
}

// NewDetector creates a detector with notifications enabled.
func NewDetector(store StateStore, dispatcher *alert.Dispatcher) *Detector {
	return &Detector{store: store, dispatcher: dispatcher, notificationsEnabled: true}
}

// WithNotifications returns a copy of d honouring the given switch.
func (d *Detector) WithNotifications(enabled bool) *Detector {
	c := *d
	c.notificationsEnabled = enabled
	return &c
}

// Observe persists obs. When the encoded value differs from the current one
// (or none exists) the change is recorded with an event and, if obs.Alert is
// set, notified. An unchanged value still refreshes the current row and adds
// a history row.
//
// Notification failures are logged and never undo the recorded state.
//
// Parameters:
//   - ctx: Context for cancellation
//   - obs: Observation to record
//
// Returns:
//   - bool: Whether the value changed
//   - error: Storage failure
func (d *Detector) Observe(ctx context.Context, obs Observation) (bool, error) {
	value, err := storage.Encode(obs.Value)
	if err != nil {
		return false, &storage.StoreError{Op: "encode " + obs.Key, Err: err}
	}

	prev, found, err := d.store.GetCurrent(ctx, obs.Key)
	if err != nil {
		return false, err
	}
	changed := !found || !bytes.Equal(prev, value)

	w := storage.StateWrite{Key: obs.Key, Value: value, Timestamp: obs.Timestamp}
	if changed {
		w.Event = obs.Message
	}
	if err := d.store.RecordState(ctx, w); err != nil {
		return false, err
	}
	if !changed {
		return false, nil
	}

	log.Info().Str("key", obs.Key).RawJSON("value", value).Msg(obs.Message)

	if obs.Alert && d.dispatcher != nil {
		if _, err := d.dispatcher.Dispatch(ctx, obs.Key, obs.Message, d.notificationsEnabled); err != nil {
			log.Error().Err(err).Str("key", obs.Key).Msg("Failed to send alert")
		}
	}
	return true, nil
}
