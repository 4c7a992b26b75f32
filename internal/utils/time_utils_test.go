package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStringTime(t *testing.T) {
	tests := []struct {
		timeString string
		expected   time.Duration
	}{
		{"10s", 10 * time.Second},
		{"20M", 20 * time.Minute},
		{"48h", 48 * time.Hour},
		{"2d", 2 * time.Hour * 24},
		{"1h30m", 90 * time.Minute},
		{"500ms", 500 * time.Millisecond},
	}

	for _, test := range tests {
		result, err := ParseStringTime(test.timeString)
		require.NoError(t, err, test.timeString)
		assert.Equal(t, test.expected, result, test.timeString)
	}
}

func TestParseStringTimeInvalid(t *testing.T) {
	for _, s := range []string{"", "abc", "xd", "-1d", "10"} {
		_, err := ParseStringTime(s)
		assert.Error(t, err, s)
	}
}

func TestParseClock(t *testing.T) {
	hour, minute, err := ParseClock("09:05")
	require.NoError(t, err)
	assert.Equal(t, 9, hour)
	assert.Equal(t, 5, minute)

	for _, s := range []string{"9", "24:00", "12:60", "aa:10", ""} {
		_, _, err := ParseClock(s)
		assert.Error(t, err, s)
	}
}
