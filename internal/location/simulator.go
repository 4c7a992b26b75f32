package location

import (
	"errors"
	"math"
	"sync"
	"time"
)

var ErrAlreadyRegistered = errors.New("location source already has a listener")

// Circuit the simulated device drives around: a lap of the Salzburgring
// approximated by an ellipse.
const (
	circuitLatitude  = 47.8226
	circuitLongitude = 13.1690
	circuitRadiusLat = 0.0045
	circuitRadiusLon = 0.0120
	lapDuration      = 90 * time.Second
)

// Simulator is a Source that reports a device lapping a circuit. It stands in
// for a GPS receiver in demo mode and in tests.
type Simulator struct {
	interval time.Duration
	now      func() time.Time

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

func NewSimulator(interval time.Duration) *Simulator {
	if interval <= 0 {
		interval = time.Second
	}
	return &Simulator{interval: interval, now: time.Now}
}

func (s *Simulator) Register(onFix func(Fix)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop != nil {
		return ErrAlreadyRegistered
	}
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go s.run(onFix, s.stop, s.done)
	return nil
}

// Unregister stops the emitter and waits for an in-progress callback.
func (s *Simulator) Unregister() error {
	s.mu.Lock()
	stop, done := s.stop, s.done
	s.stop, s.done = nil, nil
	s.mu.Unlock()
	if stop == nil {
		return nil
	}
	close(stop)
	<-done
	return nil
}

func (s *Simulator) run(onFix func(Fix), stop, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	start := s.now()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			onFix(s.fixAt(start, s.now()))
		}
	}
}

func (s *Simulator) fixAt(start, now time.Time) Fix {
	elapsed := now.Sub(start)
	angle := 2 * math.Pi * float64(elapsed%lapDuration) / float64(lapDuration)
	return Fix{
		Timestamp: now,
		Latitude:  circuitLatitude + circuitRadiusLat*math.Sin(angle),
		Longitude: circuitLongitude + circuitRadiusLon*math.Cos(angle),
		Accuracy:  4.5,
	}
}
