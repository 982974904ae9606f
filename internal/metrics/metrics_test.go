package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorders(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.CommandSent("measure_voltage")
	m.CommandSent("measure_voltage")
	m.CommandFailed("measure")
	m.EmptyReading("power")
	m.ExchangeDuration("measure_voltage", 120*time.Millisecond)
	m.SampleRecorded()
	m.TickFailed()
	m.SetRunning(true)
	m.Published()
	m.PublishDropped()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.commands.WithLabelValues("measure_voltage")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.commandErrors.WithLabelValues("measure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.emptyReadings.WithLabelValues("power")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.samples))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.tickErrors))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.running))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.published))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.publishErrors))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.dropped))
	assert.Equal(t, 1, testutil.CollectAndCount(m.exchange))

	m.SetRunning(false)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.running))

	err := testutil.GatherAndCompare(reg, strings.NewReader(`
# HELP psu_samples_total Samples appended to the log.
# TYPE psu_samples_total counter
psu_samples_total 1
`), "psu_samples_total")
	require.NoError(t, err)
}

func TestDoubleRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	assert.Panics(t, func() { New(reg) })
}
