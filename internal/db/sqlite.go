package db

import (
	"context"
	"encoding/json"
	"errors"

	"gorm.io/gorm"

	"psu-logger/internal/model"
)

// ErrNotFound is returned when a run or measurement does not exist.
var ErrNotFound = errors.New("db: not found")

// DB wraps the sqlite archive of logging runs.
type DB struct {
	ORM *gorm.DB
}

// Open opens the SQLite database using GORM and runs migrations.
func Open(path string) (*DB, error) {
	g, err := openORM(path)
	if err != nil {
		return nil, err
	}
	if err := migrateORM(g); err != nil {
		_ = closeORM(g)
		return nil, err
	}
	return &DB{ORM: g}, nil
}

func (d *DB) Close() error { return closeORM(d.ORM) }

// CreateRun inserts a new run row.
func (d *DB) CreateRun(ctx context.Context, r *model.Run) error {
	return insertRun(ctx, d.ORM, r)
}

// SaveMeasurement inserts a row into measurements.
func (d *DB) SaveMeasurement(ctx context.Context, m *model.Measurement) error {
	return insertMeasurement(ctx, d.ORM, m)
}

// DeleteRun removes a run together with its measurements.
func (d *DB) DeleteRun(ctx context.Context, runID string) error {
	return deleteRun(ctx, d.ORM, runID)
}

// GetRun returns one run by id.
func (d *DB) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	var r model.Run
	err := d.ORM.WithContext(ctx).Where("run_id = ?", runID).First(&r).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// ListRuns returns all runs, newest first, with their measurement counts.
func (d *DB) ListRuns(ctx context.Context) ([]model.RunSummary, error) {
	var runs []model.Run
	if err := d.ORM.WithContext(ctx).Order("started_at DESC").Find(&runs).Error; err != nil {
		return nil, err
	}
	out := make([]model.RunSummary, 0, len(runs))
	for _, r := range runs {
		s := model.RunSummary{RunID: r.RunID, Label: r.Label, Port: r.Port, StartedAt: r.StartedAt}
		q := d.ORM.WithContext(ctx).Model(&model.Measurement{}).Where("run_id = ?", r.RunID)
		if err := q.Count(&s.Count).Error; err != nil {
			return nil, err
		}
		if s.Count > 0 {
			var last model.Measurement
			if err := d.ORM.WithContext(ctx).Where("run_id = ?", r.RunID).Order("id DESC").First(&last).Error; err != nil {
				return nil, err
			}
			ts := last.Timestamp
			s.LastAt = &ts
		}
		out = append(out, s)
	}
	return out, nil
}

// RunMeasurements returns the measurements of a run in arrival order.
// limit <= 0 returns all of them.
func (d *DB) RunMeasurements(ctx context.Context, runID string, limit int) ([]model.Measurement, error) {
	q := d.ORM.WithContext(ctx).Where("run_id = ?", runID).Order("id")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []model.Measurement
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// LatestMeasurement returns the most recently archived measurement.
func (d *DB) LatestMeasurement(ctx context.Context) (*model.Measurement, error) {
	var m model.Measurement
	err := d.ORM.WithContext(ctx).Order("id DESC").First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// Stats aggregates the run list for JSON output.
type Stats struct {
	RunCount         int                `json:"run_count"`
	MeasurementCount int64              `json:"measurement_count"`
	Runs             []model.RunSummary `json:"runs"`
}

// StatsJSON returns aggregated run stats in JSON.
func (d *DB) StatsJSON(ctx context.Context) ([]byte, error) {
	runs, err := d.ListRuns(ctx)
	if err != nil {
		return nil, err
	}
	st := Stats{RunCount: len(runs), Runs: runs}
	for _, r := range runs {
		st.MeasurementCount += r.Count
	}
	return json.Marshal(st)
}
