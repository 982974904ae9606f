package model

import "time"

// Run is one logging session. A new row is created every time logging
// (re)starts against the archive.
type Run struct {
	RunID     string    `gorm:"column:run_id;primaryKey"`
	Label     string    `gorm:"column:label"`
	Port      string    `gorm:"column:port"`
	StartedAt time.Time `gorm:"column:started_at;index"`

	Measurements []Measurement `gorm:"foreignKey:RunID;references:RunID"`
}

func (Run) TableName() string { return "runs" }

// Measurement is the archived form of a Record. Missing readings are NULL.
type Measurement struct {
	ID        uint      `gorm:"column:id;primaryKey;autoIncrement"`
	RunID     string    `gorm:"column:run_id;index"`
	Signal    string    `gorm:"column:signal"`
	Voltage   *string   `gorm:"column:voltage"`
	Current   *string   `gorm:"column:current"`
	Power     *string   `gorm:"column:power"`
	Timestamp time.Time `gorm:"column:timestamp;index"`
}

func (Measurement) TableName() string { return "measurements" }

// MeasurementFromRecord converts a log record into an archive row.
func MeasurementFromRecord(runID string, rec Record) Measurement {
	return Measurement{
		RunID:     runID,
		Signal:    rec.Signal,
		Voltage:   rec.Voltage.Ptr(),
		Current:   rec.Current.Ptr(),
		Power:     rec.Power.Ptr(),
		Timestamp: rec.Timestamp,
	}
}

// Record converts an archive row back into a log record.
func (m Measurement) Record() Record {
	return Record{
		Sample: Sample{
			Timestamp: m.Timestamp,
			Voltage:   ReadingFromPtr(m.Voltage),
			Current:   ReadingFromPtr(m.Current),
			Power:     ReadingFromPtr(m.Power),
		},
		Signal: m.Signal,
	}
}
