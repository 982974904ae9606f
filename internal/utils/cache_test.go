package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"psu-logger/internal/model"
)

func TestSampleCacheExpires(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	c := NewSampleCache(2 * time.Second)
	c.now = func() time.Time { return now }

	_, ok := c.Get()
	assert.False(t, ok)

	s := model.Sample{Timestamp: now, Voltage: "5.00"}
	c.ObserveSample(s)
	got, ok := c.Get()
	assert.True(t, ok)
	assert.Equal(t, s, got)

	now = now.Add(3 * time.Second)
	_, ok = c.Get()
	assert.False(t, ok)

	c.SetTTL(0)
	c.ObserveSample(s)
	now = now.Add(30 * time.Second)
	_, ok = c.Get()
	assert.True(t, ok)
}
