// Package logstore persists the append-only detection log.
//
// Each snapshot appends one Record per detection. Records are never updated
// or deleted; append order is the total order readers observe.
package logstore

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/Spatial-NVR/PPEGuard/internal/database"
)

// ErrNoLog is returned when the log does not exist yet
var ErrNoLog = errors.New("no detection log")

// TimestampLayout is the layout of Record.Timestamp and snapshot file names
const TimestampLayout = "2006-01-02_15-04-05"

// Columns are the log's fixed column names, in order
var Columns = []string{"Timestamp", "Snapshot", "Class", "Confidence"}

// Record is one logged detection
type Record struct {
	Timestamp  string  `json:"Timestamp"`
	Snapshot   string  `json:"Snapshot"`
	Class      string  `json:"Class"`
	Confidence float64 `json:"Confidence"`
}

// Store is an append-only detection log
type Store interface {
	// Append writes records in order
	Append(ctx context.Context, records ...Record) error
	// Tail returns the last n records in append order
	Tail(ctx context.Context, n int) ([]Record, error)
	// All returns every record in append order
	All(ctx context.Context) ([]Record, error)
	// Health reports whether the log can be read and written
	Health(ctx context.Context) error
	Close() error
}

// Backend names a storage implementation
type Backend string

const (
	BackendCSV    Backend = "csv"
	BackendSQLite Backend = "sqlite"
)

// Config selects and locates the backend
type Config struct {
	Backend Backend
	// DataDir holds detection_log.csv or ppeguard.db
	DataDir string
}

// Open opens the configured store
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Backend {
	case "", BackendCSV:
		return OpenCSV(filepath.Join(cfg.DataDir, "detection_log.csv"))
	case BackendSQLite:
		db, err := database.Open(database.DefaultConfig(cfg.DataDir))
		if err != nil {
			return nil, err
		}
		if err := database.NewMigrator(db).Run(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to migrate database: %w", err)
		}
		return NewSQLite(db), nil
	default:
		return nil, fmt.Errorf("unknown log backend: %q", cfg.Backend)
	}
}

func tail(records []Record, n int) []Record {
	if n <= 0 {
		return []Record{}
	}
	if len(records) > n {
		records = records[len(records)-n:]
	}
	return records
}
