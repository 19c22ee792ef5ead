package logstore

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
)

// CSVStore keeps the log as a CSV file with a header row.
// Appends within one process are serialized; separate processes writing the
// same file are not coordinated.
type CSVStore struct {
	mu     sync.Mutex
	path   string
	logger *slog.Logger
}

// OpenCSV opens the log file, creating it with a header row if missing
func OpenCSV(path string) (*CSVStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	s := &CSVStore{
		path:   path,
		logger: slog.Default().With("component", "logstore", "backend", "csv"),
	}

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := s.writeHeader(); err != nil {
			return nil, err
		}
		s.logger.Info("Created detection log", "path", path)
	} else if err != nil {
		return nil, fmt.Errorf("failed to stat log: %w", err)
	}

	return s, nil
}

func (s *CSVStore) writeHeader() error {
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to create log: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(Columns); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	w.Flush()
	return w.Error()
}

// Path returns the CSV file path
func (s *CSVStore) Path() string {
	return s.path
}

// Append writes records to the end of the file
func (s *CSVStore) Append(ctx context.Context, records ...Record) error {
	if len(records) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	for _, r := range records {
		row := []string{
			r.Timestamp,
			r.Snapshot,
			r.Class,
			strconv.FormatFloat(r.Confidence, 'f', -1, 64),
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("failed to write record: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("failed to flush log: %w", err)
	}
	return nil
}

// Tail returns the last n records
func (s *CSVStore) Tail(ctx context.Context, n int) ([]Record, error) {
	records, err := s.All(ctx)
	if err != nil {
		return nil, err
	}
	return tail(records, n), nil
}

// All reads every record. Malformed rows are skipped.
func (s *CSVStore) All(ctx context.Context) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoLog
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open log: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	records := []Record{}
	line := 0
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			s.logger.Warn("Skipping unreadable log row", "line", line, "error", err)
			continue
		}
		if line == 1 && len(row) > 0 && row[0] == Columns[0] {
			continue
		}
		if len(row) < len(Columns) {
			s.logger.Warn("Skipping short log row", "line", line, "fields", len(row))
			continue
		}

		confidence, err := strconv.ParseFloat(row[3], 64)
		if err != nil {
			s.logger.Warn("Skipping log row with invalid confidence", "line", line, "value", row[3])
			continue
		}

		records = append(records, Record{
			Timestamp:  row[0],
			Snapshot:   row[1],
			Class:      row[2],
			Confidence: confidence,
		})
	}

	return records, nil
}

// Close is a no-op; the file is opened per operation
// Health fails with ErrNoLog once the file has been removed
func (s *CSVStore) Health(ctx context.Context) error {
	if _, err := os.Stat(s.path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ErrNoLog
		}
		return fmt.Errorf("failed to stat log: %w", err)
	}
	return nil
}

func (s *CSVStore) Close() error {
	return nil
}
