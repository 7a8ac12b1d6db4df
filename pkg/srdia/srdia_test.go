package srdia

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAreDiagnosticTimingIntervalsValid(t *testing.T) {
	assert.True(t, AreDiagnosticTimingIntervalsValid(1000, [4]uint32{100, 200, 300, 1000}))
	assert.False(t, AreDiagnosticTimingIntervalsValid(1000, [4]uint32{100, 100, 300, 1000}), "non-ascending rejected")
	assert.False(t, AreDiagnosticTimingIntervalsValid(1000, [4]uint32{100, 200, 300, 1001}), "last must be <= t_max")
}

func TestHistogramObserveBucketsByUpperBound(t *testing.T) {
	h := Histogram{Edges: [4]uint32{10, 20, 30, 40}}
	h.observe(5)
	h.observe(10)
	h.observe(15)
	h.observe(1000)
	assert.Equal(t, [4]uint32{2, 1, 0, 1}, h.Counts)
}

func TestWindowRolloverEmitsAndResets(t *testing.T) {
	var got []Snapshot
	d := New(3, [4]uint32{10, 20, 30, 40}, func(s Snapshot) { got = append(got, s) })

	d.IncrementError(ClassType)
	d.IncrementError(ClassAddress)
	require.Empty(t, got, "window not full yet")

	d.IncrementError(ClassType)
	require.Len(t, got, 1)
	assert.Equal(t, uint32(2), got[0].Counters[ClassType])
	assert.Equal(t, uint32(1), got[0].Counters[ClassAddress])

	// cumulative survives the reset, the window did not.
	cum := d.Cumulative()
	assert.Equal(t, uint32(2), cum.Counters[ClassType])

	d.IncrementError(ClassSafetyCode)
	d.IncrementError(ClassSafetyCode)
	require.Len(t, got, 1, "window has not refilled yet")
}

func TestCloseEmitsPartialWindow(t *testing.T) {
	var got []Snapshot
	d := New(10, [4]uint32{10, 20, 30, 40}, func(s Snapshot) { got = append(got, s) })
	d.IncrementError(ClassSequenceNumber)
	d.Close()
	require.Len(t, got, 1)
	assert.Equal(t, uint32(1), got[0].Counters[ClassSequenceNumber])
}

func TestCumulativeNeverResets(t *testing.T) {
	d := New(1, [4]uint32{10, 20, 30, 40}, nil)
	for i := 0; i < 5; i++ {
		d.IncrementError(ClassConfirmedSequenceNumber)
	}
	assert.Equal(t, uint32(5), d.Cumulative().Counters[ClassConfirmedSequenceNumber])
}
