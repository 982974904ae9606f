package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"psu-logger/internal/model"
)

// TimeLayout is the timestamp format of the file sinks.
const TimeLayout = "2006-01-02 15:04:05.000000"

// Column names of the log header.
const (
	ColTimestamp = "Timestamp"
	ColSignal    = "Signal"
	ColVoltage   = "Voltage (V)"
	ColCurrent   = "Current (A)"
	ColPower     = "Power (W)"
)

// RunInfo describes a logging run. It is handed to every sink on Start.
type RunInfo struct {
	RunID     string
	Label     string
	Port      string
	StartedAt time.Time
}

// Sink receives log records in arrival order.
//
// Start begins a fresh run. File sinks truncate and rewrite their header on
// every Start, so nothing from a previous run survives a restart.
type Sink interface {
	Start(run RunInfo) error
	Append(rec model.Record) error
	Close() error
}

// Config selects and places the sinks.
type Config struct {
	FileType     string `yaml:"file_type"`
	Dir          string `yaml:"dir"`
	CSVFile      string `yaml:"csv_file"`
	JSONFile     string `yaml:"json_file"`
	DBPath       string `yaml:"db_path"`
	SignalColumn bool   `yaml:"signal_column"`
}

// Defaults for an empty Config.
const (
	DefaultFileType = "csv"
	DefaultCSVFile  = "power_log.csv"
	DefaultJSONFile = "power_log.jsonl"
	DefaultDBPath   = "power_log.sqlite"
)

// Header returns the column names written at the start of a run.
func Header(signal bool) []string {
	if signal {
		return []string{ColTimestamp, ColSignal, ColVoltage, ColCurrent, ColPower}
	}
	return []string{ColTimestamp, ColVoltage, ColCurrent, ColPower}
}

// kinds parses a file_type such as "csv", "json+db" or "all".
func kinds(fileType string) (csv, jsonl, db bool, err error) {
	ft := strings.ToLower(strings.TrimSpace(fileType))
	switch ft {
	case "":
		return true, false, false, nil
	case "all":
		return true, true, true, nil
	case "both":
		return true, true, false, nil
	}
	for _, part := range strings.Split(ft, "+") {
		switch strings.TrimSpace(part) {
		case "csv":
			csv = true
		case "json", "jsonl":
			jsonl = true
		case "db", "sqlite":
			db = true
		default:
			return false, false, false, fmt.Errorf("unsupported storage file_type %q", fileType)
		}
	}
	return csv, jsonl, db, nil
}

// ValidateFileType reports whether New accepts fileType.
func ValidateFileType(fileType string) error {
	_, _, _, err := kinds(fileType)
	return err
}

func resolve(dir, name, def string) string {
	if name == "" {
		name = def
	}
	if filepath.IsAbs(name) || dir == "" {
		return name
	}
	return filepath.Join(dir, name)
}

// New builds the sink selected by cfg.FileType. Several kinds are combined
// with Multi in the order csv, json, db.
func New(cfg Config) (Sink, error) {
	useCSV, useJSON, useDB, err := kinds(cfg.FileType)
	if err != nil {
		return nil, err
	}
	if cfg.Dir != "" {
		if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("mkdir %s: %w", cfg.Dir, err)
		}
	}

	var sinks []Sink
	if useCSV {
		sinks = append(sinks, NewCSVSink(resolve(cfg.Dir, cfg.CSVFile, DefaultCSVFile), cfg.SignalColumn))
	}
	if useJSON {
		sinks = append(sinks, NewJSONLSink(resolve(cfg.Dir, cfg.JSONFile, DefaultJSONFile), cfg.SignalColumn))
	}
	if useDB {
		s, err := OpenDBSink(resolve(cfg.Dir, cfg.DBPath, DefaultDBPath))
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, s)
	}
	if len(sinks) == 1 {
		return sinks[0], nil
	}
	return Multi(sinks...), nil
}

type multi []Sink

// Multi fans every call out to sinks in order. Start and Append stop at the
// first error; Close closes all of them.
func Multi(sinks ...Sink) Sink { return multi(sinks) }

func (m multi) Start(run RunInfo) error {
	for _, s := range m {
		if err := s.Start(run); err != nil {
			return err
		}
	}
	return nil
}

func (m multi) Append(rec model.Record) error {
	for _, s := range m {
		if err := s.Append(rec); err != nil {
			return err
		}
	}
	return nil
}

func (m multi) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
