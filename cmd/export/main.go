// Command export writes archived runs from the sqlite log to JSON and/or CSV.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"psu-logger/internal/model"
	"psu-logger/internal/output"
	"psu-logger/pkg/measuredb"
)

func main() {
	var (
		dbPath  string
		runID   string
		outJSON string
		outCSV  string
		limit   int
	)
	flag.StringVar(&dbPath, "db", "power_log.sqlite", "path to sqlite archive")
	flag.StringVar(&runID, "run", "", "export only this run (default: all runs)")
	flag.StringVar(&outJSON, "json", "", "path to write JSON export (optional)")
	flag.StringVar(&outCSV, "csv", "", "path to write CSV export (optional)")
	flag.IntVar(&limit, "limit", 0, "max measurements per run (0 = no limit)")
	flag.Parse()

	if outJSON == "" && outCSV == "" {
		log.Fatalf("no output specified: set --json and/or --csv")
	}

	client, err := measuredb.Open(dbPath)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	runs, err := collect(ctx, client, runID, limit)
	if err != nil {
		log.Fatalf("read archive: %v", err)
	}

	if outJSON != "" {
		if err := output.WriteJSON(outJSON, runs); err != nil {
			log.Printf("write json error: %v", err)
		}
	}
	if outCSV != "" {
		if err := output.WriteCSV(outCSV, runs); err != nil {
			log.Printf("write csv error: %v", err)
		}
	}
	log.Printf("exported %d run(s)", len(runs))
}

func collect(ctx context.Context, client *measuredb.Client, runID string, limit int) ([]output.Run, error) {
	var runs []measuredb.Run
	if runID != "" {
		r, err := client.GetRun(ctx, runID)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	} else {
		all, err := client.ListRuns(ctx)
		if err != nil {
			return nil, err
		}
		runs = all
	}

	out := make([]output.Run, 0, len(runs))
	for _, r := range runs {
		ms, err := client.Measurements(ctx, r.RunID, limit)
		if err != nil {
			return nil, err
		}
		recs := make([]output.Record, 0, len(ms))
		for _, m := range ms {
			recs = append(recs, output.Record{
				Timestamp: m.Timestamp,
				Signal:    m.Signal,
				Voltage:   m.Voltage,
				Current:   m.Current,
				Power:     m.Power,
			})
		}
		out = append(out, output.Run{
			Run: model.RunSummary{
				RunID:     r.RunID,
				Label:     r.Label,
				Port:      r.Port,
				StartedAt: r.StartedAt,
				Count:     r.Count,
				LastAt:    r.LastAt,
			},
			Records: recs,
		})
	}
	return out, nil
}
