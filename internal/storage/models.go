package storage

import (
	"time"
)

// CurrentState is the latest value of a state key. There is exactly one row
// per key.
type CurrentState struct {
	// Name is the state key, e.g. "web1_ram_state" or "ssh_web1"
	Name string `gorm:"primaryKey;size:255" json:"name"`

	// Value is the JSON-encoded value
	Value string `gorm:"not null" json:"value"`

	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

// HistoricalState is one observation of a state key.
type HistoricalState struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Name      string    `gorm:"not null;size:255;index:idx_history_name_ts,priority:1" json:"name"`
	Value     string    `gorm:"not null" json:"value"`
	Timestamp time.Time `gorm:"not null;index:idx_history_name_ts,priority:2" json:"timestamp"`
}

// Event is a human-readable state transition.
type Event struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Timestamp time.Time `gorm:"not null;index" json:"timestamp"`
	Message   string    `gorm:"not null" json:"message"`
}

// StateWrite is one observation to persist atomically. Event is appended to
// the event log only when non-empty.
type StateWrite struct {
	Key       string
	Value     []byte
	Timestamp time.Time
	Event     string
}
