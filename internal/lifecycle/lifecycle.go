// Package lifecycle starts and stops the broker together with the location
// bridge, the pit window publisher and the fix archive.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/life-stream-dev/pitstopper/internal/broker"
	"github.com/life-stream-dev/pitstopper/internal/config"
	"github.com/life-stream-dev/pitstopper/internal/database"
	"github.com/life-stream-dev/pitstopper/internal/location"
	"github.com/life-stream-dev/pitstopper/internal/logger"
	"github.com/life-stream-dev/pitstopper/internal/pitwindow"
	"github.com/life-stream-dev/pitstopper/internal/server"
	"github.com/life-stream-dev/pitstopper/internal/utils"
)

type State int32

const (
	Stopped State = iota
	Starting
	Running
	Stopping
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "Stopped"
	case Starting:
		return "Starting"
	case Running:
		return "Running"
	case Stopping:
		return "Stopping"
	}
	return "Unknown"
}

const notRunningInfo = "Server not running"

// ArchiveConnector opens the fix archive. It is replaced in tests.
type ArchiveConnector func(ctx context.Context, cfg config.ArchiveConfig, appName string) (*database.Archive, error)

type Option func(*Manager)

// WithSource sets the location source the bridge registers with. Without
// one, and with simulation disabled, the bridge stays idle.
func WithSource(src location.Source) Option {
	return func(m *Manager) {
		m.source = src
	}
}

func WithArchiveConnector(connect ArchiveConnector) Option {
	return func(m *Manager) {
		m.connectArchive = connect
	}
}

// Manager owns every long-lived component. Start and Stop are serialised and
// idempotent.
type Manager struct {
	cfg            *config.Config
	deviceID       string
	source         location.Source
	connectArchive ArchiveConnector

	mu    sync.Mutex
	state atomic.Int32

	broker     *broker.Broker
	server     *server.Server
	archive    *database.Archive
	bridge     *location.Bridge
	pitWindow  *pitwindow.Publisher
	standstill *pitwindow.StandstillDetector
}

func NewManager(cfg *config.Config, opts ...Option) *Manager {
	m := &Manager{
		cfg:            cfg,
		deviceID:       cfg.Location.DeviceID,
		connectArchive: database.Connect,
	}
	if m.deviceID == "" {
		m.deviceID = uuid.NewString()
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.source == nil && cfg.Location.Simulate {
		m.source = location.NewSimulator(cfg.Location.SimulateInterval)
	}
	return m
}

func (m *Manager) State() State {
	return State(m.state.Load())
}

func (m *Manager) DeviceID() string {
	return m.deviceID
}

// Start brings the components up in dependency order. Only a listener bind
// failure is fatal; the broker is stopped again in that case.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.State() != Stopped {
		return nil
	}
	m.state.Store(int32(Starting))

	b, err := broker.New(broker.Config{
		MaxSessions:      m.cfg.Broker.MaxSessions,
		RetryInterval:    m.cfg.Broker.RetryInterval,
		MaxRetries:       m.cfg.Broker.MaxRetries,
		RetainedCapacity: m.cfg.Broker.RetainedCapacity,
		MaxInflight:      m.cfg.Broker.MaxInflight,
		Workers:          m.cfg.Broker.DispatchWorkers,
		QueueSize:        m.cfg.Broker.DispatchQueue,
	})
	if err != nil {
		m.state.Store(int32(Stopped))
		return fmt.Errorf("create broker: %w", err)
	}
	b.Start()

	srv := server.NewServer(server.Config{
		TCPAddr:        m.cfg.Server.TCPAddr,
		WSAddr:         m.cfg.Server.WSAddr,
		WSPath:         m.cfg.Server.WSPath,
		MaxConnections: m.cfg.Server.MaxConnections,
		ConnectTimeout: m.cfg.Server.ConnectTimeout,
		WriteTimeout:   m.cfg.Server.WriteTimeout,
		MaxPacketSize:  m.cfg.Broker.MaxPacketSize,
	}, b)
	if err := srv.Listen(); err != nil {
		b.Stop()
		m.state.Store(int32(Stopped))
		return err
	}
	m.broker = b
	m.server = srv

	if m.cfg.Archive.Enabled {
		archive, err := m.connectArchive(ctx, m.cfg.Archive, m.cfg.AppName)
		if err != nil {
			logger.ErrorF("Fix archive unavailable, continuing without it, details: %v", err)
		} else {
			m.archive = archive
		}
	}

	if m.cfg.PitWindow.Enabled {
		calc, err := pitwindow.NewCalculator(m.cfg.PitWindow.RaceStart, m.cfg.PitWindow.OpensAfter, m.cfg.PitWindow.Duration)
		if err != nil {
			logger.ErrorF("Pit window disabled, details: %v", err)
		} else {
			m.pitWindow = pitwindow.NewPublisher(calc, b, m.cfg.PitWindow.Interval)
			m.pitWindow.Start()
			if m.cfg.PitWindow.StandstillSpeed > 0 {
				m.standstill = pitwindow.NewStandstillDetector(m.pitWindow, pitwindow.StandstillConfig{
					Speed: m.cfg.PitWindow.StandstillSpeed,
					Hold:  m.cfg.PitWindow.StandstillHold,
				})
			}
		}
	}

	if m.cfg.Location.Enabled {
		m.startBridge()
	}

	m.state.Store(int32(Running))
	logger.InfoF("Broker running at %s", m.info())
	return nil
}

func (m *Manager) startBridge() {
	if m.source == nil {
		logger.WarnF("No location source configured, location bridge idle")
		return
	}
	if err := location.ValidateDeviceID(m.deviceID); err != nil {
		logger.ErrorF("Location bridge disabled, details: %v", err)
		return
	}
	encoding, err := location.ParseEncoding(m.cfg.Location.Encoding)
	if err != nil {
		logger.ErrorF("Location bridge disabled, details: %v", err)
		return
	}
	var recorders location.Recorders
	if m.archive != nil {
		recorders = append(recorders, m.archive)
	}
	if m.standstill != nil {
		recorders = append(recorders, m.standstill)
	}
	var recorder location.Recorder
	if len(recorders) > 0 {
		recorder = recorders
	}
	bridge := location.NewBridge(location.BridgeConfig{
		DeviceID:  m.deviceID,
		QoS:       m.cfg.Location.QoS,
		Encoding:  encoding,
		RateLimit: m.cfg.Location.RateLimit,
		Burst:     m.cfg.Location.Burst,
	}, m.broker, recorder)
	if err := bridge.Start(m.source); err != nil {
		logger.ErrorF("Location bridge disabled, details: %v", err)
		return
	}
	m.bridge = bridge
}

// Stop shuts the components down in reverse order. Once it returns no
// location fix reaches the broker.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.State() != Running {
		return nil
	}
	m.state.Store(int32(Stopping))

	var errs []error
	if m.bridge != nil {
		stats := m.bridge.Stats()
		if err := m.bridge.Stop(); err != nil {
			errs = append(errs, err)
		}
		logger.InfoF("Location bridge handled %d fixes: %d published, %d dropped, %d discarded",
			stats.Received, stats.Published, stats.Dropped, stats.Discarded)
		m.bridge = nil
	}
	m.standstill = nil
	if m.pitWindow != nil {
		m.pitWindow.Stop()
		m.pitWindow = nil
	}
	if err := m.server.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close server: %w", err))
	}
	m.broker.Stop()
	if m.archive != nil {
		if err := m.archive.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close archive: %w", err))
		}
		m.archive = nil
	}

	m.state.Store(int32(Stopped))
	logger.InfoF("Broker stopped")
	return errors.Join(errs...)
}

// Invoke lets the shutdown cleaner stop the manager.
func (m *Manager) Invoke(ctx context.Context) error {
	return m.Stop(ctx)
}

// Info returns "ip:port" of the running listener for display.
func (m *Manager) Info() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.info()
}

func (m *Manager) info() string {
	if m.State() != Running || m.server == nil {
		return notRunningInfo
	}
	port := m.cfg.Port()
	if addr, ok := m.server.Addr().(*net.TCPAddr); ok {
		port = addr.Port
	}
	return net.JoinHostPort(utils.LocalIPAddress(), strconv.Itoa(port))
}

// Broker is the running broker, or nil when stopped.
func (m *Manager) Broker() *broker.Broker {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.State() != Running {
		return nil
	}
	return m.broker
}

// Addr is the bound TCP listener address, or nil when stopped.
func (m *Manager) Addr() net.Addr {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.State() != Running {
		return nil
	}
	return m.server.Addr()
}

// BridgeStats reports the counters of the running location bridge.
func (m *Manager) BridgeStats() (location.BridgeStats, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.bridge == nil {
		return location.BridgeStats{}, false
	}
	return m.bridge.Stats(), true
}
