package pitwindow

import (
	"sync"
	"time"

	"github.com/life-stream-dev/pitstopper/internal/location"
	"github.com/life-stream-dev/pitstopper/internal/logger"
)

type StandstillConfig struct {
	// Speed is the threshold in km/h below which the car counts as stopped.
	Speed float64
	// Hold is how long the speed must stay below Speed.
	Hold time.Duration
}

// StandstillDetector clears the pit window alert once the car has stopped
// for Hold while the alert is on. It only tracks fixes while the published
// state is OnAlert and starts over whenever the alert goes away.
type StandstillDetector struct {
	publisher *Publisher
	threshold float64 // m/s
	hold      time.Duration

	mu      sync.Mutex
	last    location.Fix
	hasLast bool
	still   bool
	since   time.Time
}

func NewStandstillDetector(publisher *Publisher, cfg StandstillConfig) *StandstillDetector {
	return &StandstillDetector{
		publisher: publisher,
		threshold: cfg.Speed / 3.6,
		hold:      cfg.Hold,
	}
}

// Record feeds one fix to the detector and reports whether it cleared the
// alert. It is the location.Recorder of the bridge and never blocks on the
// broker.
func (d *StandstillDetector) Record(deviceID string, fix location.Fix) bool {
	now := d.publisher.now()

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.publisher.State(now) != OnAlert {
		d.reset()
		return false
	}
	if !d.hasLast {
		d.last, d.hasLast = fix, true
		return false
	}

	elapsed := fix.Timestamp.Sub(d.last.Timestamp)
	if elapsed <= 0 {
		return false
	}
	speed := location.Distance(d.last, fix) / elapsed.Seconds()
	if speed >= d.threshold {
		d.still = false
	} else if !d.still {
		d.still = true
		d.since = d.last.Timestamp
	}
	d.last = fix
	if !d.still || fix.Timestamp.Sub(d.since) < d.hold {
		return false
	}

	d.reset()
	logger.InfoF("Standstill of %s detected, clearing pit window alert", deviceID)
	if _, err := d.publisher.ClearAlert(now); err != nil {
		// the cleared state is published again on the next evaluation
		logger.WarnF("Fail to publish cleared pit window state, details: %v", err)
	}
	return true
}

func (d *StandstillDetector) reset() {
	d.hasLast = false
	d.still = false
	d.since = time.Time{}
}
