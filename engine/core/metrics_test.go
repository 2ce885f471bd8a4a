package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFrameMetricsAverage(t *testing.T) {
	m := NewFrameMetrics()
	for i := 0; i < int(AVG_COUNT); i++ {
		m.Update(0.016)
	}
	assert.InDelta(t, 16.0, m.FrameTime(), 0.0001)

	// a second window must not accumulate on top of the first
	for i := 0; i < int(AVG_COUNT); i++ {
		m.Update(0.010)
	}
	assert.InDelta(t, 10.0, m.FrameTime(), 0.0001)
}

func TestFrameMetricsFPS(t *testing.T) {
	m := NewFrameMetrics()
	for i := 0; i < 101; i++ {
		m.Update(0.010)
	}
	assert.Equal(t, 100.0, m.FPS())
}

func TestClockElapsed(t *testing.T) {
	now := time.Unix(100, 0)
	c := NewClock()
	c.now = func() time.Time { return now }

	c.Update()
	assert.Zero(t, c.Elapsed(), "not started")

	c.Start()
	now = now.Add(1500 * time.Millisecond)
	c.Update()
	assert.InDelta(t, 1.5, c.Elapsed(), 1e-9)

	c.Stop()
	now = now.Add(time.Second)
	c.Update()
	assert.InDelta(t, 1.5, c.Elapsed(), 1e-9)
}

func TestVendorFromID(t *testing.T) {
	assert.Equal(t, VendorNvidia, VendorFromID(0x10DE))
	assert.Equal(t, "Intel", VendorFromID(0x8086).String())
	assert.Equal(t, VendorUnknown, VendorFromID(0xdead))
	assert.Equal(t, "Unknown", VendorFromID(0xdead).String())
}
