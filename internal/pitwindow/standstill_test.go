package pitwindow

import (
	"testing"
	"time"

	"github.com/life-stream-dev/pitstopper/internal/location"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fixAt is a fix sec seconds after base, north degrees of latitude from the
// start line. 0.0001 degrees per second is roughly 40 km/h.
func fixAt(base time.Time, sec int, north float64) location.Fix {
	return location.Fix{
		Timestamp: base.Add(time.Duration(sec) * time.Second),
		Latitude:  47.2196 + north,
		Longitude: 14.7647,
		Accuracy:  4,
	}
}

func newTestDetector(t *testing.T, now time.Time) (*StandstillDetector, *Publisher, *recordingSubmitter) {
	t.Helper()
	sub := &recordingSubmitter{}
	pub := newTestPublisher(t, sub)
	pub.now = func() time.Time { return now }
	_, err := pub.Evaluate(now)
	require.NoError(t, err)
	return NewStandstillDetector(pub, StandstillConfig{Speed: 5, Hold: 10 * time.Second}), pub, sub
}

func TestStandstillClearsAlert(t *testing.T) {
	base := clock(9, 20)
	detector, pub, sub := newTestDetector(t, base)

	assert.False(t, detector.Record("car-7", fixAt(base, 0, 0)))
	assert.False(t, detector.Record("car-7", fixAt(base, 1, 0.0001)))
	// stopped from second 1 on; the hold ends at second 11
	for sec := 2; sec <= 10; sec++ {
		assert.False(t, detector.Record("car-7", fixAt(base, sec, 0.0001)), "second %d", sec)
	}
	assert.True(t, detector.Record("car-7", fixAt(base, 11, 0.0001)))

	assert.Equal(t, []AlertState{OnAlert, Idle}, sub.states(t))
	assert.True(t, sub.last(t).Cleared)
	assert.Equal(t, Idle, pub.State(base))

	// disarmed for the rest of the window
	assert.False(t, detector.Record("car-7", fixAt(base, 30, 0.0001)))
	assert.Len(t, sub.states(t), 2)
}

func TestStandstillIgnoredOutsideWindow(t *testing.T) {
	base := clock(9, 10)
	detector, pub, sub := newTestDetector(t, base)

	for sec := 0; sec <= 60; sec++ {
		assert.False(t, detector.Record("car-7", fixAt(base, sec, 0)))
	}
	assert.Equal(t, []AlertState{Idle}, sub.states(t))
	assert.Equal(t, OnAlert, pub.State(clock(9, 17)))
}

func TestStandstillMovementRestartsHold(t *testing.T) {
	base := clock(9, 18)
	detector, _, sub := newTestDetector(t, base)

	for sec := 0; sec <= 6; sec++ {
		assert.False(t, detector.Record("car-7", fixAt(base, sec, 0)))
	}
	assert.False(t, detector.Record("car-7", fixAt(base, 7, 0.0001)))
	for sec := 8; sec <= 16; sec++ {
		assert.False(t, detector.Record("car-7", fixAt(base, sec, 0.0001)), "second %d", sec)
	}
	assert.True(t, detector.Record("car-7", fixAt(base, 17, 0.0001)))
	assert.Equal(t, []AlertState{OnAlert, Idle}, sub.states(t))
}

func TestStandstillSlowCrawlCounts(t *testing.T) {
	base := clock(9, 18)
	detector, _, _ := newTestDetector(t, base)

	// about 2 km/h, below the 5 km/h threshold
	cleared := false
	for sec := 0; sec <= 12; sec++ {
		if detector.Record("car-7", fixAt(base, sec, float64(sec)*0.000005)) {
			cleared = true
		}
	}
	assert.True(t, cleared)
}

func TestStandstillIgnoresOutOfOrderFixes(t *testing.T) {
	base := clock(9, 18)
	detector, _, _ := newTestDetector(t, base)

	assert.False(t, detector.Record("car-7", fixAt(base, 5, 0)))
	assert.False(t, detector.Record("car-7", fixAt(base, 5, 0.01)))
	assert.False(t, detector.Record("car-7", fixAt(base, 3, 0)))
	for sec := 6; sec <= 14; sec++ {
		assert.False(t, detector.Record("car-7", fixAt(base, sec, 0)), "second %d", sec)
	}
	assert.True(t, detector.Record("car-7", fixAt(base, 15, 0)))
}

func TestStandstillRearmsInNextWindow(t *testing.T) {
	base := clock(9, 20)
	detector, pub, sub := newTestDetector(t, base)
	for sec := 0; sec <= 10; sec++ {
		detector.Record("car-7", fixAt(base, sec, 0))
	}
	require.Equal(t, Idle, pub.State(base))

	next := clock(9, 37)
	pub.now = func() time.Time { return next }
	_, err := pub.Evaluate(next)
	require.NoError(t, err)
	assert.Equal(t, OnAlert, pub.State(next))

	for sec := 0; sec < 10; sec++ {
		assert.False(t, detector.Record("car-7", fixAt(next, sec, 0)))
	}
	assert.True(t, detector.Record("car-7", fixAt(next, 10, 0)))
	assert.Equal(t, []AlertState{OnAlert, Idle, OnAlert, Idle}, sub.states(t))
}
