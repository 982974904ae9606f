package output

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"psu-logger/internal/model"
)

// Run is an archived run with its records, as written by WriteJSON.
type Run struct {
	Run     model.RunSummary `json:"run"`
	Records []Record         `json:"records"`
}

// Record is the export form of a log record. Missing readings are null.
type Record struct {
	Timestamp time.Time `json:"timestamp"`
	Signal    string    `json:"signal,omitempty"`
	Voltage   *string   `json:"voltage"`
	Current   *string   `json:"current"`
	Power     *string   `json:"power"`
}

func NewRecord(r model.Record) Record {
	return Record{
		Timestamp: r.Timestamp,
		Signal:    r.Signal,
		Voltage:   r.Voltage.Ptr(),
		Current:   r.Current.Ptr(),
		Power:     r.Power.Ptr(),
	}
}

// WriteJSON writes runs to a JSON file with pretty formatting.
func WriteJSON(path string, runs []Run) error {
	b, err := json.MarshalIndent(runs, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	if err := os.WriteFile(path, b, 0644); err != nil {
		return fmt.Errorf("write json: %w", err)
	}
	return nil
}

// WriteCSV flattens runs into one CSV file.
// Columns: run_id,label,signal,timestamp,voltage,current,power
func WriteCSV(path string, runs []Run) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create csv: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	headers := []string{"run_id", "label", "signal", "timestamp", "voltage", "current", "power"}
	if err := w.Write(headers); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	for _, r := range runs {
		for _, rec := range r.Records {
			row := []string{
				r.Run.RunID,
				r.Run.Label,
				rec.Signal,
				rec.Timestamp.Format(time.RFC3339Nano),
				deref(rec.Voltage),
				deref(rec.Current),
				deref(rec.Power),
			}
			if err := w.Write(row); err != nil {
				return fmt.Errorf("write record: %w", err)
			}
		}
	}
	w.Flush()
	return w.Error()
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
