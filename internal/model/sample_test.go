package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOutputState(t *testing.T) {
	for _, in := range []string{"on", "ON", " 1", "true"} {
		s, err := ParseOutputState(in)
		require.NoError(t, err, in)
		assert.Equal(t, OutputOn, s)
	}
	for _, in := range []string{"off", "0", "False"} {
		s, err := ParseOutputState(in)
		require.NoError(t, err, in)
		assert.Equal(t, OutputOff, s)
	}
	_, err := ParseOutputState("maybe")
	assert.Error(t, err)
}

func TestReadingEmptyIsNotZero(t *testing.T) {
	var r Reading
	_, ok := r.Float64()
	assert.False(t, ok)
	assert.Nil(t, r.Ptr())
	assert.Equal(t, 0.0, r.OrZero())

	r = "12.30"
	v, ok := r.Float64()
	assert.True(t, ok)
	assert.Equal(t, 12.3, v)
	require.NotNil(t, r.Ptr())
	assert.Equal(t, "12.30", *r.Ptr())
}

func TestReadingFloat64ParsesExponentsAndRejectsNonNumbers(t *testing.T) {
	v, ok := Reading("1.2300E+01").Float64()
	assert.True(t, ok)
	assert.Equal(t, 12.3, v)

	for _, r := range []Reading{"NaN", "Inf", "-inf", "ERR", "12.3V"} {
		_, ok := r.Float64()
		assert.False(t, ok, string(r))
		assert.Equal(t, 0.0, r.OrZero(), string(r))
		// kept for the log even though it is not a number
		assert.NotNil(t, r.Ptr(), string(r))
	}
}

func TestSampleComplete(t *testing.T) {
	assert.True(t, Sample{Voltage: "5", Current: "0.1", Power: "0.5"}.Complete())
	assert.False(t, Sample{Voltage: "5", Power: "0.5"}.Complete())
}

func TestMeasurementRecordKeepsMissingFields(t *testing.T) {
	ts := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	rec := Record{Sample: Sample{Timestamp: ts, Voltage: "5.01", Power: "0.5"}, Signal: "VCC"}

	m := MeasurementFromRecord("run-1", rec)
	assert.Equal(t, "run-1", m.RunID)
	assert.Nil(t, m.Current)
	assert.Equal(t, rec, m.Record())
}
