package utils

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseStringTime parses durations such as "10s", "20m", "48h" or "30d".
// Anything time.ParseDuration understands is accepted as well.
func ParseStringTime(timeString string) (time.Duration, error) {
	s := strings.ToLower(strings.TrimSpace(timeString))
	if s == "" {
		return 0, fmt.Errorf("invalid time format: empty string")
	}
	if days, found := strings.CutSuffix(s, "d"); found {
		number, err := strconv.Atoi(days)
		if err != nil || number < 0 {
			return 0, fmt.Errorf("invalid time format: %s", timeString)
		}
		return time.Duration(number) * time.Hour * 24, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid time format: %s", timeString)
	}
	return d, nil
}

// ParseClock parses an "hh:mm" wall clock time into hour and minute.
func ParseClock(clock string) (hour, minute int, err error) {
	h, m, found := strings.Cut(strings.TrimSpace(clock), ":")
	if !found {
		return 0, 0, fmt.Errorf("invalid clock %q: expected hh:mm", clock)
	}
	hour, err = strconv.Atoi(h)
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("invalid clock %q: hour out of range", clock)
	}
	minute, err = strconv.Atoi(m)
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("invalid clock %q: minute out of range", clock)
	}
	return hour, minute, nil
}
