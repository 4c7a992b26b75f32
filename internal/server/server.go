// Package server exposes the broker on a TCP listener and, optionally, a
// WebSocket listener.
package server

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/life-stream-dev/pitstopper/internal/broker"
	"github.com/life-stream-dev/pitstopper/internal/connection"
	"github.com/life-stream-dev/pitstopper/internal/logger"
)

type Config struct {
	TCPAddr string
	// WSAddr enables the WebSocket listener when set.
	WSAddr         string
	WSPath         string
	MaxConnections int
	ConnectTimeout time.Duration
	WriteTimeout   time.Duration
	MaxPacketSize  int
}

type Server struct {
	cfg     Config
	broker  *broker.Broker
	manager *connection.ConnectionManager
	sem     chan struct{}

	listener   net.Listener
	wsListener net.Listener
	wsServer   *http.Server

	// mu orders connection registration against Close.
	mu      sync.Mutex
	closing atomic.Bool
	wg      sync.WaitGroup
}

func NewServer(cfg Config, b *broker.Broker) *Server {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if cfg.WSPath == "" {
		cfg.WSPath = "/mqtt"
	}
	s := &Server{
		cfg:     cfg,
		broker:  b,
		manager: connection.NewConnectionManager(),
	}
	if cfg.MaxConnections > 0 {
		s.sem = make(chan struct{}, cfg.MaxConnections)
	}
	return s
}

// Listen binds every configured listener and starts accepting. Binding is
// synchronous so a port in use is reported here.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.cfg.TCPAddr)
	if err != nil {
		return fmt.Errorf("MQTT server listen on %s: %w", s.cfg.TCPAddr, err)
	}
	s.listener = ln

	if s.cfg.WSAddr != "" {
		if err := s.listenWebSocket(); err != nil {
			_ = ln.Close()
			return err
		}
	}

	logger.InfoF("MQTT Server Listen On %s", ln.Addr().String())
	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) WSAddr() net.Addr {
	if s.wsListener == nil {
		return nil
	}
	return s.wsListener.Addr()
}

// Connections is the number of live client transports.
func (s *Server) Connections() int {
	return s.manager.Count()
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.closing.Load() || errors.Is(err, net.ErrClosed) {
				return
			}
			logger.ErrorF("Accept connection error: %v", err)
			continue
		}
		logger.DebugF("Accepted new connection from %s", conn.RemoteAddr().String())
		s.serve(conn)
	}
}

// serve runs the packet loop of conn on its own goroutine unless the
// connection limit is reached.
func (s *Server) serve(conn net.Conn) {
	if s.sem != nil {
		select {
		case s.sem <- struct{}{}:
		default:
			logger.WarnF("[%s] Connection limit %d reached, closing", conn.RemoteAddr().String(), s.cfg.MaxConnections)
			_ = conn.Close()
			return
		}
	}

	s.mu.Lock()
	if s.closing.Load() {
		s.mu.Unlock()
		_ = conn.Close()
		s.release()
		return
	}
	c := connection.NewConnection(conn, s.cfg.WriteTimeout)
	s.manager.AddConnection(c)
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		defer s.release()
		handler := &ConnectionHandler{server: s, conn: c}
		handler.handleConnection()
	}()
}

func (s *Server) release() {
	if s.sem != nil {
		<-s.sem
	}
}

// Close stops accepting, closes every client connection and waits for the
// connection goroutines. Sessions closed this way count as clean disconnects.
func (s *Server) Close() error {
	s.mu.Lock()
	if !s.closing.CompareAndSwap(false, true) {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	var errs []error
	if s.listener != nil {
		if err := s.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = append(errs, err)
		}
	}
	if s.wsServer != nil {
		if err := s.wsServer.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	closed := s.manager.CloseAll()
	s.wg.Wait()
	logger.InfoF("MQTT Server closed, %d connections dropped", closed)
	return errors.Join(errs...)
}
