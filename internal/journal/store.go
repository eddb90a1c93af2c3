// Package journal persists state transitions to SQLite so activity can be
// reviewed after the server restarts.
package journal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	_ "modernc.org/sqlite"

	"agentwatch/internal/logging"
	"agentwatch/internal/session"
)

var journalLog = logging.ForComponent(logging.CompJournal)

const defaultListLimit = 50

// Transition is one row of the journal.
type Transition struct {
	ID          uint   `gorm:"primaryKey"`
	SessionID   string `gorm:"index;not null"`
	State       string `gorm:"not null"`
	AgentActive bool
	Source      string
	// At is unix milliseconds.
	At int64 `gorm:"index"`
}

func (Transition) TableName() string { return "transitions" }

// Store records transitions. It is safe for concurrent use.
type Store struct {
	db *gorm.DB
}

// Open opens (creating if needed) the journal database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create journal dir: %w", err)
	}
	gdb, err := gorm.Open(sqlite.Dialector{
		DriverName: "sqlite",
		DSN:        path,
	}, &gorm.Config{Logger: logger.Discard})
	if err != nil {
		closeDB(gdb)
		return nil, fmt.Errorf("open journal: %w", err)
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, err
	}
	if err := initSchema(gdb); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	return &Store{db: gdb}, nil
}

// closeDB releases the pool behind a partially opened handle.
func closeDB(gdb *gorm.DB) {
	if gdb == nil {
		return
	}
	if sqlDB, err := gdb.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

func initSchema(gdb *gorm.DB) error {
	if err := gdb.Exec(`PRAGMA journal_mode=WAL;`).Error; err != nil {
		return err
	}
	if err := gdb.Exec(`PRAGMA busy_timeout=5000;`).Error; err != nil {
		return err
	}
	if err := gdb.AutoMigrate(&Transition{}); err != nil {
		return fmt.Errorf("migrate journal: %w", err)
	}
	return nil
}

// Record appends ev.
func (s *Store) Record(ev session.StateEvent) error {
	if s == nil || s.db == nil {
		return errors.New("journal is not open")
	}
	row := Transition{
		SessionID:   ev.SessionID,
		State:       string(ev.State),
		AgentActive: ev.AgentActive,
		Source:      string(ev.Source),
		At:          ev.At.UnixMilli(),
	}
	return s.db.Create(&row).Error
}

// Recent returns up to limit transitions, newest first. An empty sessionID
// matches every session.
func (s *Store) Recent(sessionID string, limit int) ([]session.StateEvent, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("journal is not open")
	}
	if limit <= 0 {
		limit = defaultListLimit
	}

	q := s.db.Order("at DESC").Order("id DESC").Limit(limit)
	if sessionID != "" {
		q = q.Where("session_id = ?", sessionID)
	}
	var rows []Transition
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}

	events := make([]session.StateEvent, 0, len(rows))
	for _, row := range rows {
		events = append(events, session.StateEvent{
			SessionID:   row.SessionID,
			State:       session.State(row.State),
			AgentActive: row.AgentActive,
			Source:      session.Source(row.Source),
			At:          time.UnixMilli(row.At).UTC(),
		})
	}
	return events, nil
}

// Prune deletes transitions older than before and returns how many went.
func (s *Store) Prune(before time.Time) (int64, error) {
	if s == nil || s.db == nil {
		return 0, errors.New("journal is not open")
	}
	res := s.db.Where("at < ?", before.UnixMilli()).Delete(&Transition{})
	return res.RowsAffected, res.Error
}

// Close releases the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Run records every event from events until ctx is cancelled or the feed
// closes. Write failures are logged and skipped.
func (s *Store) Run(ctx context.Context, events <-chan session.StateEvent) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if err := s.Record(ev); err != nil {
				journalLog.Warn("journal_write_failed",
					slog.String("session", ev.SessionID),
					slog.String("error", err.Error()))
			}
		}
	}
}
