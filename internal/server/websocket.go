package server

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/life-stream-dev/pitstopper/internal/logger"
)

func (s *Server) listenWebSocket() error {
	ln, err := net.Listen("tcp", s.cfg.WSAddr)
	if err != nil {
		return fmt.Errorf("WebSocket listen on %s: %w", s.cfg.WSAddr, err)
	}
	s.wsListener = ln

	upgrader := websocket.Upgrader{
		Subprotocols: []string{"mqtt", "mqttv3.1"},
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
	mux := http.NewServeMux()
	mux.HandleFunc(s.cfg.WSPath, func(w http.ResponseWriter, r *http.Request) {
		if s.closing.Load() {
			http.Error(w, "server closing", http.StatusServiceUnavailable)
			return
		}
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.WarnF("[%s] WebSocket upgrade failed, details: %v", r.RemoteAddr, err)
			return
		}
		logger.DebugF("Accepted new WebSocket connection from %s", r.RemoteAddr)
		s.serve(newWSConn(ws))
	})
	s.wsServer = &http.Server{Handler: mux, ReadHeaderTimeout: s.cfg.ConnectTimeout}

	go func() {
		if err := s.wsServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.ErrorF("WebSocket server error: %v", err)
		}
	}()
	logger.InfoF("MQTT WebSocket Listen On %s%s", ln.Addr().String(), s.cfg.WSPath)
	return nil
}

// wsConn presents a WebSocket as a byte stream. MQTT packets may span
// binary frames, so reads continue across message boundaries.
type wsConn struct {
	ws      *websocket.Conn
	reader  io.Reader
	writeMu sync.Mutex
}

func newWSConn(ws *websocket.Conn) *wsConn {
	return &wsConn{ws: ws}
}

func (c *wsConn) Read(b []byte) (int, error) {
	for {
		if c.reader == nil {
			messageType, reader, err := c.ws.NextReader()
			if err != nil {
				return 0, err
			}
			if messageType != websocket.BinaryMessage {
				return 0, errors.New("expected binary message")
			}
			c.reader = reader
		}
		n, err := c.reader.Read(b)
		if errors.Is(err, io.EOF) {
			c.reader = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (c *wsConn) Write(b []byte) (int, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.WriteMessage(websocket.BinaryMessage, b); err != nil {
		return 0, err
	}
	return len(b), nil
}

func (c *wsConn) Close() error {
	return c.ws.Close()
}

func (c *wsConn) LocalAddr() net.Addr {
	return c.ws.LocalAddr()
}

func (c *wsConn) RemoteAddr() net.Addr {
	return c.ws.RemoteAddr()
}

func (c *wsConn) SetDeadline(t time.Time) error {
	if err := c.ws.SetReadDeadline(t); err != nil {
		return err
	}
	return c.ws.SetWriteDeadline(t)
}

func (c *wsConn) SetReadDeadline(t time.Time) error {
	return c.ws.SetReadDeadline(t)
}

func (c *wsConn) SetWriteDeadline(t time.Time) error {
	return c.ws.SetWriteDeadline(t)
}
