// Package pitwindow computes recurring pit windows of a race and publishes
// the current alert state.
package pitwindow

import (
	"fmt"
	"time"

	"github.com/life-stream-dev/pitstopper/internal/utils"
)

type AlertState string

const (
	Idle    AlertState = "IDLE"
	OnAlert AlertState = "ON_ALERT"
)

// Calculator works at minute resolution on the day of the time it is given.
// The first window opens OpensAfter minutes after the race start and lasts
// Duration minutes; windows then repeat every OpensAfter + ceil(Duration/2)
// minutes. Race 09:00, opens after 17, duration 6 gives 09:17-09:23,
// 09:37-09:43, 09:57-10:03 and so on.
type Calculator struct {
	startHour   int
	startMinute int
	opensAfter  int
	duration    int
	cycle       int
}

func NewCalculator(raceStart string, opensAfter, duration int) (*Calculator, error) {
	hour, minute, err := utils.ParseClock(raceStart)
	if err != nil {
		return nil, fmt.Errorf("race start: %w", err)
	}
	if opensAfter < 0 {
		return nil, fmt.Errorf("opens after must not be negative, got %d", opensAfter)
	}
	if duration <= 0 {
		return nil, fmt.Errorf("window duration must be positive, got %d", duration)
	}
	return &Calculator{
		startHour:   hour,
		startMinute: minute,
		opensAfter:  opensAfter,
		duration:    duration,
		cycle:       opensAfter + (duration+1)/2,
	}, nil
}

// Cycle is the distance between two window starts.
func (c *Calculator) Cycle() time.Duration {
	return time.Duration(c.cycle) * time.Minute
}

// RaceStart is the race start on the day of now.
func (c *Calculator) RaceStart(now time.Time) time.Time {
	return time.Date(now.Year(), now.Month(), now.Day(), c.startHour, c.startMinute, 0, 0, now.Location())
}

func (c *Calculator) minutesSinceStart(now time.Time) int {
	return now.Hour()*60 + now.Minute() - (c.startHour*60 + c.startMinute)
}

// position is the offset into the current cycle, or -1 before the first
// window.
func (c *Calculator) position(minutes int) int {
	if minutes < c.opensAfter {
		return -1
	}
	return (minutes - c.opensAfter) % c.cycle
}

func (c *Calculator) InWindow(now time.Time) bool {
	pos := c.position(c.minutesSinceStart(now))
	return pos >= 0 && pos < c.duration
}

func (c *Calculator) State(now time.Time) AlertState {
	if c.InWindow(now) {
		return OnAlert
	}
	return Idle
}

// NextWindowStart is the start of the next window strictly after the
// current cycle position. Before the first window it is the first window.
func (c *Calculator) NextWindowStart(now time.Time) time.Time {
	minutes := c.minutesSinceStart(now)
	pos := c.position(minutes)
	if pos < 0 {
		return c.at(now, c.opensAfter)
	}
	return c.at(now, minutes+c.cycle-pos)
}

// CurrentWindowEnd reports when the window containing now closes.
func (c *Calculator) CurrentWindowEnd(now time.Time) (time.Time, bool) {
	if !c.InWindow(now) {
		return time.Time{}, false
	}
	minutes := c.minutesSinceStart(now)
	return c.at(now, minutes+c.duration-c.position(minutes)), true
}

func (c *Calculator) at(now time.Time, minutesAfterStart int) time.Time {
	return c.RaceStart(now).Add(time.Duration(minutesAfterStart) * time.Minute)
}

// CurrentWindowStart reports when the window containing now opened.
func (c *Calculator) CurrentWindowStart(now time.Time) (time.Time, bool) {
	if !c.InWindow(now) {
		return time.Time{}, false
	}
	minutes := c.minutesSinceStart(now)
	return c.at(now, minutes-c.position(minutes)), true
}
