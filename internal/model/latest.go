package model

import "time"

// RunSummary is a read view over runs joined with their measurement counts.
type RunSummary struct {
	RunID     string     `json:"run_id"`
	Label     string     `json:"label"`
	Port      string     `json:"port"`
	StartedAt time.Time  `json:"started_at"`
	Count     int64      `json:"count"`
	LastAt    *time.Time `json:"last_at,omitempty"`
}
