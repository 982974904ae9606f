package storage

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"psu-logger/internal/model"
)

type jsonlHeader struct {
	RunID     string    `json:"run_id"`
	Label     string    `json:"label,omitempty"`
	Port      string    `json:"port,omitempty"`
	StartedAt time.Time `json:"started_at"`
	Columns   []string  `json:"columns"`
}

type jsonlRow struct {
	Timestamp string  `json:"timestamp"`
	Signal    *string `json:"signal,omitempty"`
	Voltage   *string `json:"voltage"`
	Current   *string `json:"current"`
	Power     *string `json:"power"`
}

// JSONLSink writes one JSON object per line. The first line of a run is a
// header object; missing readings are null.
type JSONLSink struct {
	path   string
	signal bool

	mu sync.Mutex
	f  *os.File
	w  *bufio.Writer
}

func NewJSONLSink(path string, signal bool) *JSONLSink {
	return &JSONLSink{path: path, signal: signal}
}

func (s *JSONLSink) Path() string { return s.path }

func (s *JSONLSink) Start(run RunInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked()

	tf, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("open json output: %w", err)
	}
	b, err := json.Marshal(jsonlHeader{
		RunID:     run.RunID,
		Label:     run.Label,
		Port:      run.Port,
		StartedAt: run.StartedAt,
		Columns:   Header(s.signal),
	})
	if err == nil {
		_, err = tf.Write(append(b, '\n'))
	}
	if cerr := tf.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("write json header: %w", err)
	}

	af, err := os.OpenFile(s.path, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open json output: %w", err)
	}
	s.f = af
	s.w = bufio.NewWriterSize(af, 4*1024)
	return nil
}

func (s *JSONLSink) Append(rec model.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.w == nil {
		return errNotStarted
	}
	row := jsonlRow{
		Timestamp: rec.Timestamp.Format(TimeLayout),
		Voltage:   rec.Voltage.Ptr(),
		Current:   rec.Current.Ptr(),
		Power:     rec.Power.Ptr(),
	}
	if s.signal {
		sig := rec.Signal
		row.Signal = &sig
	}
	b, err := json.Marshal(row)
	if err != nil {
		return err
	}
	if _, err := s.w.Write(b); err != nil {
		return err
	}
	if err := s.w.WriteByte('\n'); err != nil {
		return err
	}
	return s.w.Flush()
}

func (s *JSONLSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeLocked()
}

func (s *JSONLSink) closeLocked() error {
	if s.f == nil {
		return nil
	}
	s.w.Flush()
	err := s.f.Close()
	s.f, s.w = nil, nil
	return err
}
