package storage

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"sync"

	"psu-logger/internal/model"
)

var errNotStarted = errors.New("storage: sink not started")

// CSVSink writes records to a CSV file. Missing readings are empty cells.
type CSVSink struct {
	path   string
	signal bool

	mu sync.Mutex
	f  *os.File
	w  *csv.Writer
}

func NewCSVSink(path string, signal bool) *CSVSink {
	return &CSVSink{path: path, signal: signal}
}

func (s *CSVSink) Path() string { return s.path }

// Start truncates the file and writes the header, then reopens it for
// appending data rows.
func (s *CSVSink) Start(RunInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked()

	tf, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("open csv output: %w", err)
	}
	hw := csv.NewWriter(tf)
	if err := hw.Write(Header(s.signal)); err != nil {
		tf.Close()
		return fmt.Errorf("write csv header: %w", err)
	}
	hw.Flush()
	if err := hw.Error(); err != nil {
		tf.Close()
		return fmt.Errorf("write csv header: %w", err)
	}
	if err := tf.Close(); err != nil {
		return err
	}

	af, err := os.OpenFile(s.path, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open csv output: %w", err)
	}
	s.f = af
	s.w = csv.NewWriter(af)
	return nil
}

// Append writes one row and flushes it to disk.
func (s *CSVSink) Append(rec model.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.w == nil {
		return errNotStarted
	}
	row := make([]string, 0, 5)
	row = append(row, rec.Timestamp.Format(TimeLayout))
	if s.signal {
		row = append(row, rec.Signal)
	}
	row = append(row, string(rec.Voltage), string(rec.Current), string(rec.Power))
	if err := s.w.Write(row); err != nil {
		return err
	}
	s.w.Flush()
	return s.w.Error()
}

func (s *CSVSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeLocked()
}

func (s *CSVSink) closeLocked() error {
	if s.f == nil {
		return nil
	}
	s.w.Flush()
	err := s.f.Close()
	s.f, s.w = nil, nil
	return err
}
