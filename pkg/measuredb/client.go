// Package measuredb is a read-mostly client for the sqlite run archive
// written by psuctl.
package measuredb

import (
	"context"
	"errors"
	"time"

	dbpkg "psu-logger/internal/db"
	"psu-logger/internal/model"
)

// ErrNotFound is returned for unknown runs and an empty archive.
var ErrNotFound = dbpkg.ErrNotFound

// Client exposes a stable API for third-party packages to access the archive.
type Client struct{ db *dbpkg.DB }

// Open opens the SQLite database (runs migrations) and returns a client.
func Open(path string) (*Client, error) {
	d, err := dbpkg.Open(path)
	if err != nil {
		return nil, err
	}
	return &Client{db: d}, nil
}

// Close closes the underlying DB.
func (c *Client) Close() error { return c.db.Close() }

// --------------------
// DTOs
// --------------------

type Run struct {
	RunID     string     `json:"run_id"`
	Label     string     `json:"label"`
	Port      string     `json:"port"`
	StartedAt time.Time  `json:"started_at"`
	Count     int64      `json:"count"`
	LastAt    *time.Time `json:"last_at,omitempty"`
}

// Measurement is one archived sample. A nil reading was missing.
type Measurement struct {
	RunID     string    `json:"run_id"`
	Signal    string    `json:"signal,omitempty"`
	Voltage   *string   `json:"voltage"`
	Current   *string   `json:"current"`
	Power     *string   `json:"power"`
	Timestamp time.Time `json:"timestamp"`
}

func fromSummary(s model.RunSummary) Run {
	return Run{
		RunID:     s.RunID,
		Label:     s.Label,
		Port:      s.Port,
		StartedAt: s.StartedAt,
		Count:     s.Count,
		LastAt:    s.LastAt,
	}
}

func fromModelMeasurement(m model.Measurement) Measurement {
	return Measurement{
		RunID:     m.RunID,
		Signal:    m.Signal,
		Voltage:   m.Voltage,
		Current:   m.Current,
		Power:     m.Power,
		Timestamp: m.Timestamp,
	}
}

// --------------------
// Queries
// --------------------

// ListRuns returns all runs, newest first.
func (c *Client) ListRuns(ctx context.Context) ([]Run, error) {
	list, err := c.db.ListRuns(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Run, 0, len(list))
	for _, s := range list {
		out = append(out, fromSummary(s))
	}
	return out, nil
}

// GetRun returns one run with its measurement count.
func (c *Client) GetRun(ctx context.Context, runID string) (*Run, error) {
	list, err := c.ListRuns(ctx)
	if err != nil {
		return nil, err
	}
	for i := range list {
		if list[i].RunID == runID {
			return &list[i], nil
		}
	}
	return nil, ErrNotFound
}

// Measurements returns up to limit measurements of a run in arrival order;
// limit <= 0 returns all.
func (c *Client) Measurements(ctx context.Context, runID string, limit int) ([]Measurement, error) {
	rows, err := c.db.RunMeasurements(ctx, runID, limit)
	if err != nil {
		return nil, err
	}
	out := make([]Measurement, 0, len(rows))
	for _, m := range rows {
		out = append(out, fromModelMeasurement(m))
	}
	return out, nil
}

// Latest returns the most recent measurement in the archive.
func (c *Client) Latest(ctx context.Context) (*Measurement, error) {
	m, err := c.db.LatestMeasurement(ctx)
	if err != nil {
		return nil, err
	}
	out := fromModelMeasurement(*m)
	return &out, nil
}

// DeleteRun removes a run and its measurements.
func (c *Client) DeleteRun(ctx context.Context, runID string) error {
	if _, err := c.db.GetRun(ctx, runID); err != nil {
		return err
	}
	return c.db.DeleteRun(ctx, runID)
}

// StatsJSON returns aggregated run stats in JSON.
func (c *Client) StatsJSON(ctx context.Context) ([]byte, error) {
	return c.db.StatsJSON(ctx)
}

// IsNotFound reports whether err means the run or measurement is missing.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }
