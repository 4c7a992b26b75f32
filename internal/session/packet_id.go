package session

import (
	"errors"
	"sync"
)

var (
	ErrPacketIDExhausted = errors.New("no available packet IDs")
	ErrPacketIDNotFound  = errors.New("packet ID not found")
)

const maxPacketID = 65535

// PacketIDManager hands out packet identifiers 1..65535 for one session.
type PacketIDManager struct {
	mu        sync.Mutex
	currentID uint16
	used      map[uint16]struct{}
}

func NewPacketIDManager() *PacketIDManager {
	return &PacketIDManager{
		currentID: 1,
		used:      make(map[uint16]struct{}),
	}
}

// NextID returns the next identifier not currently in use.
func (m *PacketIDManager) NextID() (uint16, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.used) >= maxPacketID {
		return 0, ErrPacketIDExhausted
	}

	for {
		id := m.currentID
		m.currentID++
		if m.currentID == 0 {
			m.currentID = 1
		}
		if _, ok := m.used[id]; !ok {
			m.used[id] = struct{}{}
			return id, nil
		}
	}
}

// ReleaseID makes id available again once its flow completed.
func (m *PacketIDManager) ReleaseID(id uint16) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.used[id]; !ok {
		return ErrPacketIDNotFound
	}
	delete(m.used, id)
	return nil
}

func (m *PacketIDManager) InUse() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.used)
}
