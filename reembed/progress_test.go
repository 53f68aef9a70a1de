package reembed

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// lastReport returns the most recent carriage-return delimited progress line.
func lastReport(buf *bytes.Buffer) string {
	parts := strings.Split(strings.TrimSpace(buf.String()), "\r")
	return parts[len(parts)-1]
}

func TestProgressTracker_Reports(t *testing.T) {
	tests := []struct {
		name     string
		total    int
		interval int
		updates  []int
		finish   bool
		want     string
	}{
		{name: "finish completes the total", total: 40, interval: 10, updates: []int{30}, finish: true, want: "40/40 (100.0%)"},
		{name: "updates are capped at the total", total: 40, interval: 10, updates: []int{55}, want: "40/40 (100.0%)"},
		{name: "partial progress", total: 200, interval: 50, updates: []int{20, 100}, want: "100/200 (50.0%)"},
		{name: "empty run", total: 0, interval: 10, finish: true, want: "0/0 (0.0%)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			tracker := NewProgressTracker(&buf, tt.total, tt.interval)
			tracker.Start()
			for _, u := range tt.updates {
				tracker.Update(u)
			}
			if tt.finish {
				tracker.Finish()
				assert.True(t, strings.HasSuffix(buf.String(), "\n"))
			}
			line := lastReport(&buf)
			assert.Contains(t, line, tt.want)
			assert.Contains(t, line, "records/s")
			assert.Contains(t, line, "eta")
		})
	}
}

func TestProgressTracker_Interval(t *testing.T) {
	var buf bytes.Buffer
	tracker := NewProgressTracker(&buf, 1000, 100)
	tracker.Start()

	tracker.Update(60)
	assert.Empty(t, buf.String(), "below the interval")

	tracker.Increment(40)
	assert.Contains(t, lastReport(&buf), "100/1000")

	buf.Reset()
	tracker.Update(150)
	assert.Empty(t, buf.String(), "interval counts from the last report")
	tracker.Update(260)
	assert.Contains(t, lastReport(&buf), "260/1000")

	t.Run("non-positive interval reports every record", func(t *testing.T) {
		var buf bytes.Buffer
		tracker := NewProgressTracker(&buf, 3, 0)
		tracker.Start()
		tracker.Increment(1)
		tracker.Increment(1)
		assert.Equal(t, 2, strings.Count(buf.String(), "\r"))
	})
}

func TestProgressTracker_NotStarted(t *testing.T) {
	var buf bytes.Buffer
	tracker := NewProgressTracker(&buf, 100, 10)

	tracker.Increment(50)
	tracker.Finish()
	assert.Empty(t, buf.String())
	assert.Zero(t, tracker.Elapsed())
	assert.Zero(t, tracker.Remaining())
}

func TestProgressTracker_Remaining(t *testing.T) {
	var buf bytes.Buffer
	tracker := NewProgressTracker(&buf, 100, 10)

	tracker.Start()
	assert.Zero(t, tracker.Remaining(), "no estimate before progress")

	time.Sleep(20 * time.Millisecond)
	tracker.Update(50)
	remaining := tracker.Remaining()
	require.Greater(t, remaining, time.Duration(0))
	assert.InDelta(t, float64(tracker.Elapsed()), float64(remaining), float64(15*time.Millisecond),
		"half way through, the estimate matches the time spent")

	tracker.Finish()
	assert.Zero(t, tracker.Remaining(), "nothing left once finished")
	assert.Greater(t, tracker.Elapsed(), 20*time.Millisecond)
}
