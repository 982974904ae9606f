package db

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"psu-logger/internal/model"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	d, err := Open(filepath.Join(t.TempDir(), "archive.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func TestRunLifecycle(t *testing.T) {
	ctx := context.Background()
	d := openTestDB(t)
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, d.CreateRun(ctx, &model.Run{RunID: "r1", Label: "bench", Port: "/dev/ttyUSB0", StartedAt: start}))
	v := "12.000"
	require.NoError(t, d.SaveMeasurement(ctx, &model.Measurement{RunID: "r1", Voltage: &v, Timestamp: start.Add(time.Second)}))
	require.NoError(t, d.SaveMeasurement(ctx, &model.Measurement{RunID: "r1", Timestamp: start.Add(3 * time.Second)}))

	got, err := d.GetRun(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "bench", got.Label)

	rows, err := d.RunMeasurements(ctx, "r1", 0)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, model.Reading("12.000"), rows[0].Record().Voltage)
	assert.True(t, rows[1].Record().Voltage.IsEmpty())

	limited, err := d.RunMeasurements(ctx, "r1", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	require.NoError(t, d.DeleteRun(ctx, "r1"))
	_, err = d.GetRun(ctx, "r1")
	assert.ErrorIs(t, err, ErrNotFound)
	rows, err = d.RunMeasurements(ctx, "r1", 0)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestListRunsAndStats(t *testing.T) {
	ctx := context.Background()
	d := openTestDB(t)
	t0 := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, d.CreateRun(ctx, &model.Run{RunID: "old", StartedAt: t0}))
	require.NoError(t, d.CreateRun(ctx, &model.Run{RunID: "new", StartedAt: t0.Add(time.Hour)}))
	for i := 0; i < 3; i++ {
		require.NoError(t, d.SaveMeasurement(ctx, &model.Measurement{RunID: "new", Timestamp: t0.Add(time.Hour + time.Duration(i)*time.Second)}))
	}

	runs, err := d.ListRuns(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "new", runs[0].RunID)
	assert.EqualValues(t, 3, runs[0].Count)
	require.NotNil(t, runs[0].LastAt)
	assert.True(t, runs[0].LastAt.Equal(t0.Add(time.Hour+2*time.Second)))
	assert.EqualValues(t, 0, runs[1].Count)
	assert.Nil(t, runs[1].LastAt)

	latest, err := d.LatestMeasurement(ctx)
	require.NoError(t, err)
	assert.Equal(t, "new", latest.RunID)

	raw, err := d.StatsJSON(ctx)
	require.NoError(t, err)
	var st Stats
	require.NoError(t, json.Unmarshal(raw, &st))
	assert.Equal(t, 2, st.RunCount)
	assert.EqualValues(t, 3, st.MeasurementCount)
}

func TestLatestMeasurementEmpty(t *testing.T) {
	_, err := openTestDB(t).LatestMeasurement(context.Background())
	assert.ErrorIs(t, err, ErrNotFound)
}
