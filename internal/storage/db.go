package storage

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"psu-logger/internal/db"
	"psu-logger/internal/model"
)

// DBSink archives records in sqlite. Unlike the file sinks it keeps earlier
// runs: each Start opens a new run row.
type DBSink struct {
	db   *db.DB
	owns bool

	mu    sync.Mutex
	runID string
}

// OpenDBSink opens (and migrates) the archive at path. Close closes it.
func OpenDBSink(path string) (*DBSink, error) {
	d, err := db.Open(path)
	if err != nil {
		return nil, err
	}
	return &DBSink{db: d, owns: true}, nil
}

// NewDBSink writes to an archive owned by the caller.
func NewDBSink(d *db.DB) *DBSink { return &DBSink{db: d} }

// RunID returns the id of the current run, or "" before Start.
func (s *DBSink) RunID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runID
}

func (s *DBSink) Start(run RunInfo) error {
	id := run.RunID
	if id == "" {
		id = uuid.NewString()
	}
	r := &model.Run{RunID: id, Label: run.Label, Port: run.Port, StartedAt: run.StartedAt}
	if err := s.db.CreateRun(context.Background(), r); err != nil {
		return err
	}
	s.mu.Lock()
	s.runID = id
	s.mu.Unlock()
	return nil
}

func (s *DBSink) Append(rec model.Record) error {
	id := s.RunID()
	if id == "" {
		return errNotStarted
	}
	m := model.MeasurementFromRecord(id, rec)
	return s.db.SaveMeasurement(context.Background(), &m)
}

func (s *DBSink) Close() error {
	if !s.owns {
		return nil
	}
	return s.db.Close()
}
