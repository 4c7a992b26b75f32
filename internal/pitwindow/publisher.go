package pitwindow

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/life-stream-dev/pitstopper/internal/logger"
	"github.com/life-stream-dev/pitstopper/internal/mqtt"
)

const StateTopic = "pitstopper/pitwindow/state"

type Submitter interface {
	Submit(msg mqtt.Message) error
}

// Status is the retained payload on StateTopic.
type Status struct {
	State           AlertState `json:"state"`
	RaceStart       time.Time  `json:"race_start"`
	NextWindowStart time.Time  `json:"next_window_start"`
	WindowEnd       *time.Time `json:"window_end,omitempty"`
	// Cleared is set while the alert of the current window is suppressed.
	Cleared         bool       `json:"cleared,omitempty"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

func (c *Calculator) Status(now time.Time) Status {
	status := Status{
		State:           c.State(now),
		RaceStart:       c.RaceStart(now),
		NextWindowStart: c.NextWindowStart(now),
		UpdatedAt:       now,
	}
	if end, ok := c.CurrentWindowEnd(now); ok {
		status.WindowEnd = &end
	}
	return status
}

// Publisher evaluates the calculator periodically and publishes the state
// when it changes.
type Publisher struct {
	calc      *Calculator
	submitter Submitter
	interval  time.Duration
	now       func() time.Time

	mu          sync.Mutex
	last        AlertState
	lastCleared bool
	published   bool
	// cleared is the start of the window whose alert was cleared.
	cleared     time.Time
	stop        chan struct{}
	done        chan struct{}
}

func NewPublisher(calc *Calculator, submitter Submitter, interval time.Duration) *Publisher {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Publisher{
		calc:      calc,
		submitter: submitter,
		interval:  interval,
		now:       time.Now,
	}
}

// Start publishes the current state and keeps ticking until Stop.
func (p *Publisher) Start() {
	p.mu.Lock()
	if p.stop != nil {
		p.mu.Unlock()
		return
	}
	p.stop = make(chan struct{})
	p.done = make(chan struct{})
	stop, done := p.stop, p.done
	p.mu.Unlock()

	p.Evaluate(p.now())
	go p.run(stop, done)
	logger.InfoF("Pit window publisher started, cycle %s", p.calc.Cycle())
}

func (p *Publisher) run(stop, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			p.Evaluate(p.now())
		}
	}
}

func (p *Publisher) Stop() {
	p.mu.Lock()
	stop, done := p.stop, p.done
	p.stop, p.done = nil, nil
	p.mu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	<-done
	logger.InfoF("Pit window publisher stopped")
}

// status is the calculator status with a cleared window reported as idle.
// Callers hold mu.
func (p *Publisher) status(now time.Time) Status {
	status := p.calc.Status(now)
	if start, ok := p.calc.CurrentWindowStart(now); ok && start.Equal(p.cleared) {
		status.State = Idle
		status.Cleared = true
	}
	return status
}

// State is the published view of the alert state at now.
func (p *Publisher) State(now time.Time) AlertState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status(now).State
}

// ClearAlert suppresses the alert for the rest of the window containing now
// and publishes the cleared state. Outside a window it does nothing. The
// next window alerts again.
func (p *Publisher) ClearAlert(now time.Time) (bool, error) {
	start, ok := p.calc.CurrentWindowStart(now)
	if !ok {
		return false, nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if !start.Equal(p.cleared) {
		p.cleared = start
		end, _ := p.calc.CurrentWindowEnd(now)
		logger.InfoF("Pit window alert cleared until %s", end.Format("15:04"))
	}
	return p.publish(now)
}

// Evaluate publishes the state at now if it differs from the last published
// one. A failed submit is retried on the next evaluation.
func (p *Publisher) Evaluate(now time.Time) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.publish(now)
}

// publish submits the status at now when it changed. Callers hold mu.
func (p *Publisher) publish(now time.Time) (bool, error) {
	status := p.status(now)
	if p.published && p.last == status.State && p.lastCleared == status.Cleared {
		return false, nil
	}

	payload, err := json.Marshal(status)
	if err != nil {
		return false, fmt.Errorf("encode pit window status: %w", err)
	}
	msg := mqtt.Message{Topic: StateTopic, Payload: payload, QoS: mqtt.QoS1, Retain: true}
	if err := p.submitter.Submit(msg); err != nil {
		logger.WarnF("Fail to publish pit window state %s, details: %v", status.State, err)
		return false, err
	}
	p.last = status.State
	p.lastCleared = status.Cleared
	p.published = true
	logger.InfoF("Pit window state changed to %s", status.State)
	return true, nil
}
