package connection

import (
	"io"
	"net"
	"os"
	"testing"
	"time"

	"github.com/life-stream-dev/pitstopper/internal/mqtt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pipe(t *testing.T) (*Connection, net.Conn) {
	t.Helper()
	server, client := net.Pipe()
	t.Cleanup(func() {
		_ = server.Close()
		_ = client.Close()
	})
	return NewConnection(server, time.Second), client
}

func TestConnectionSendAndRead(t *testing.T) {
	conn, client := pipe(t)

	go func() {
		_, _ = client.Write([]byte{0xC0, 0x00})
	}()
	pkt, err := conn.ReadPacket(0, time.Second)
	require.NoError(t, err)
	assert.Equal(t, mqtt.PINGREQ, pkt.Header.Type)

	done := make(chan []byte, 1)
	go func() {
		buf := make([]byte, 2)
		_, _ = io.ReadFull(client, buf)
		done <- buf
	}()
	require.NoError(t, conn.Send([]byte{0xD0, 0x00}))
	assert.Equal(t, []byte{0xD0, 0x00}, <-done)
}

func TestConnectionReadTimeout(t *testing.T) {
	conn, _ := pipe(t)
	_, err := conn.ReadPacket(0, 20*time.Millisecond)
	require.Error(t, err)
	assert.True(t, os.IsTimeout(err))
}

func TestConnectionCloseOnce(t *testing.T) {
	conn, _ := pipe(t)
	require.NoError(t, conn.Close())
	require.NoError(t, conn.Close())
	assert.True(t, conn.Closed())
	assert.ErrorIs(t, conn.Send([]byte{0xD0, 0x00}), ErrConnectionClosed)
}

func TestConnectionManagerCloseAll(t *testing.T) {
	manager := NewConnectionManager()
	a, _ := pipe(t)
	b, _ := pipe(t)
	manager.AddConnection(a)
	manager.AddConnection(b)
	manager.RemoveConnection(b)
	assert.Equal(t, 1, manager.Count())

	assert.Equal(t, 1, manager.CloseAll())
	assert.True(t, a.Closed())
	assert.False(t, b.Closed())
	assert.Equal(t, 0, manager.Count())
}

func TestIsNetClosedError(t *testing.T) {
	assert.True(t, IsNetClosedError(net.ErrClosed))
	assert.True(t, IsNetClosedError(io.ErrClosedPipe))
	assert.False(t, IsNetClosedError(io.EOF))
}
