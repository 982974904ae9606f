package output

import (
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"psu-logger/internal/model"
)

func sampleRuns() []Run {
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	rec := model.Record{
		Sample: model.Sample{Timestamp: ts, Voltage: "5.000", Power: "1.000"},
		Signal: "VCC",
	}
	return []Run{{
		Run:     model.RunSummary{RunID: "r1", Label: "rails", StartedAt: ts, Count: 1},
		Records: []Record{NewRecord(rec)},
	}}
}

func TestWriteCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.csv")
	require.NoError(t, WriteCSV(path, sampleRuns()))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"r1", "rails", "VCC", "2024-05-01T12:00:00Z", "5.000", "", "1.000"}, rows[1])
}

func TestWriteJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.json")
	require.NoError(t, WriteJSON(path, sampleRuns()))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var got []map[string]any
	require.NoError(t, json.Unmarshal(raw, &got))
	require.Len(t, got, 1)
	recs := got[0]["records"].([]any)
	first := recs[0].(map[string]any)
	assert.Nil(t, first["current"])
	assert.Equal(t, "VCC", first["signal"])
}
