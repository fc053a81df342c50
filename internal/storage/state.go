package storage

import (
	"context"
	"errors"
	"time"

	jsoniter "github.com/json-iterator/go"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var json = jsoniter.Config{
	EscapeHTML:             true,
	SortMapKeys:            true,
	ValidateJsonRawMessage: true,
}.Froze()

// Encode returns the canonical JSON form of v. Maps are encoded with sorted
// keys, so equal values always encode to equal bytes.
func Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

// Decode parses a stored value into v.
func Decode(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

// GetCurrent returns the stored value of key and whether it exists.
func (s *Storage) GetCurrent(ctx context.Context, key string) ([]byte, bool, error) {
	var row CurrentState
	err := s.db.WithContext(ctx).Where("name = ?", key).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, &StoreError{Op: "get current", Err: err}
	}
	return []byte(row.Value), true, nil
}

// PutCurrent inserts or replaces the value of key.
func (s *Storage) PutCurrent(ctx context.Context, key string, value []byte, ts time.Time) error {
	return s.withRetry(ctx, "put current", func() error {
		return upsertCurrent(s.db.WithContext(ctx), key, value, ts)
	})
}

func upsertCurrent(tx *gorm.DB, key string, value []byte, ts time.Time) error {
	row := CurrentState{Name: key, Value: string(value), UpdatedAt: ts.UTC()}
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&row).Error
}

// AppendHistory adds one history row.
func (s *Storage) AppendHistory(ctx context.Context, ts time.Time, key string, value []byte) error {
	return s.withRetry(ctx, "append history", func() error {
		return s.db.WithContext(ctx).Create(&HistoricalState{Name: key, Value: string(value), Timestamp: ts.UTC()}).Error
	})
}

// AppendEvent adds one event log entry.
func (s *Storage) AppendEvent(ctx context.Context, ts time.Time, message string) error {
	return s.withRetry(ctx, "append event", func() error {
		return s.db.WithContext(ctx).Create(&Event{Timestamp: ts.UTC(), Message: message}).Error
	})
}

// RecordState upserts the current value, appends a history row and, when
// w.Event is set, an event, all in one transaction.
func (s *Storage) RecordState(ctx context.Context, w StateWrite) error {
	ts := w.Timestamp.UTC()
	return s.withRetry(ctx, "record state", func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := upsertCurrent(tx, w.Key, w.Value, ts); err != nil {
				return err
			}
			if err := tx.Create(&HistoricalState{Name: w.Key, Value: string(w.Value), Timestamp: ts}).Error; err != nil {
				return err
			}
			if w.Event != "" {
				return tx.Create(&Event{Timestamp: ts, Message: w.Event}).Error
			}
			return nil
		})
	})
}

// QueryHistory returns the history of key within [start, end], oldest first.
func (s *Storage) QueryHistory(ctx context.Context, key string, start, end time.Time) ([]HistoricalState, error) {
	var rows []HistoricalState
	err := s.db.WithContext(ctx).
		Where("name = ? AND timestamp >= ? AND timestamp <= ?", key, start.UTC(), end.UTC()).
		Order("timestamp ASC, id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, &StoreError{Op: "query history", Err: err}
	}
	return rows, nil
}

// QueryEvents returns a page of events, most recent first.
func (s *Storage) QueryEvents(ctx context.Context, limit, offset int) ([]Event, error) {
	var rows []Event
	err := s.db.WithContext(ctx).
		Order("timestamp DESC, id DESC").
		Limit(limit).
		Offset(offset).
		Find(&rows).Error
	if err != nil {
		return nil, &StoreError{Op: "query events", Err: err}
	}
	return rows, nil
}

// CountEvents returns the size of the event log.
func (s *Storage) CountEvents(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&Event{}).Count(&n).Error; err != nil {
		return 0, &StoreError{Op: "count events", Err: err}
	}
	return n, nil
}

// PruneEvents deletes events older than before and returns how many were removed.
func (s *Storage) PruneEvents(ctx context.Context, before time.Time) (int64, error) {
	var n int64
	err := s.withRetry(ctx, "prune events", func() error {
		res := s.db.WithContext(ctx).Where("timestamp < ?", before.UTC()).Delete(&Event{})
		n = res.RowsAffected
		return res.Error
	})
	return n, err
}

// CurrentStates returns every current value keyed by name.
func (s *Storage) CurrentStates(ctx context.Context) (map[string][]byte, error) {
	var rows []CurrentState
	if err := s.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, &StoreError{Op: "current states", Err: err}
	}
	out := make(map[string][]byte, len(rows))
	for _, r := range rows {
		out[r.Name] = []byte(r.Value)
	}
	return out, nil
}
