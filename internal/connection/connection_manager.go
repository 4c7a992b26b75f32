package connection

import (
	"sync"

	"github.com/life-stream-dev/pitstopper/internal/logger"
)

// ConnectionManager tracks every live client transport so shutdown can close
// connections that never completed CONNECT.
type ConnectionManager struct {
	mu          sync.Mutex
	connections map[*Connection]struct{}
}

func NewConnectionManager() *ConnectionManager {
	return &ConnectionManager{connections: make(map[*Connection]struct{})}
}

func (cm *ConnectionManager) AddConnection(conn *Connection) {
	cm.mu.Lock()
	cm.connections[conn] = struct{}{}
	cm.mu.Unlock()
	logger.DebugF("[%s] Connection registered", conn.ConnID)
}

func (cm *ConnectionManager) RemoveConnection(conn *Connection) {
	cm.mu.Lock()
	delete(cm.connections, conn)
	cm.mu.Unlock()
}

func (cm *ConnectionManager) Count() int {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	return len(cm.connections)
}

// CloseAll closes every tracked connection and forgets them.
func (cm *ConnectionManager) CloseAll() int {
	cm.mu.Lock()
	conns := make([]*Connection, 0, len(cm.connections))
	for conn := range cm.connections {
		conns = append(conns, conn)
	}
	clear(cm.connections)
	cm.mu.Unlock()

	for _, conn := range conns {
		if err := conn.Close(); err != nil {
			logger.WarnF("[%s] Error occured while closing connection, details: %v", conn.ConnID, err)
		}
	}
	return len(conns)
}
