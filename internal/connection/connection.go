// Package connection wraps client transports and tracks the live ones.
package connection

import (
	"errors"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/life-stream-dev/pitstopper/internal/logger"
	"github.com/life-stream-dev/pitstopper/internal/mqtt"
)

var ErrConnectionClosed = errors.New("connection closed")

// Connection is one client transport. Writes are serialised so packets from
// the connection goroutine, retry timers and dispatcher workers never interleave.
type Connection struct {
	Conn   net.Conn
	ConnID string

	writeTimeout time.Duration
	writeMu      sync.Mutex
	closeOnce    sync.Once
	closed       atomic.Bool
	closeErr     error
}

func NewConnection(conn net.Conn, writeTimeout time.Duration) *Connection {
	return &Connection{
		Conn:         conn,
		ConnID:       conn.RemoteAddr().String(),
		writeTimeout: writeTimeout,
	}
}

// Send writes data completely or fails.
func (c *Connection) Send(data []byte) error {
	if c.closed.Load() {
		return ErrConnectionClosed
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.writeTimeout > 0 {
		_ = c.Conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	total := 0
	for total < len(data) {
		n, err := c.Conn.Write(data[total:])
		if err != nil {
			if !IsNetClosedError(err) {
				logger.ErrorF("[%s] Fail to send data, details: %v", c.ConnID, err)
			}
			return err
		}
		total += n
	}
	logger.DebugF("[%s] Send %d bytes to client", c.ConnID, total)
	return nil
}

// ReadPacket reads the next control packet. A zero timeout disables the read deadline.
func (c *Connection) ReadPacket(maxSize int, timeout time.Duration) (*mqtt.Packet, error) {
	if timeout > 0 {
		_ = c.Conn.SetReadDeadline(time.Now().Add(timeout))
	} else {
		_ = c.Conn.SetReadDeadline(time.Time{})
	}
	return mqtt.ReadPacket(c.Conn, maxSize)
}

// Close closes the transport once. A write blocked on a slow peer fails.
func (c *Connection) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.closeErr = c.Conn.Close()
		if c.closeErr != nil && IsNetClosedError(c.closeErr) {
			c.closeErr = nil
		}
		logger.DebugF("[%s] Connection closed", c.ConnID)
	})
	return c.closeErr
}

func (c *Connection) Closed() bool {
	return c.closed.Load()
}

func (c *Connection) RemoteAddr() string {
	return c.ConnID
}

func IsNetClosedError(err error) bool {
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
		return true
	}
	var opErr *net.OpError
	ok := errors.As(err, &opErr)
	return ok && opErr.Timeout()
}

func HandleReadError(connID string, err error) {
	switch {
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		logger.InfoF("[%s] Client close connection", connID)
	case os.IsTimeout(err):
		logger.WarnF("[%s] Reading timeout", connID)
	case IsNetClosedError(err):
		logger.DebugF("[%s] Connection closed locally", connID)
	default:
		logger.ErrorF("[%s] Error occured while reading packet, details: %v", connID, err)
	}
}
