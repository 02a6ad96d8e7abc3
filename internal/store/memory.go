package store

import (
	"context"
	"sync"

	"interview_room/native/internal/domain"
)

type memoryKey struct {
	room domain.RoomID
	role domain.Role
}

// Memory keeps snapshots in process. State is lost on exit.
type Memory struct {
	mu    sync.RWMutex
	rooms map[memoryKey]domain.Snapshot
}

func NewMemory() *Memory {
	return &Memory{rooms: make(map[memoryKey]domain.Snapshot)}
}

func (m *Memory) Save(_ context.Context, s domain.Snapshot) error {
	s.Alerts = append([]domain.AlertEvent(nil), s.Alerts...)
	m.mu.Lock()
	m.rooms[memoryKey{s.RoomID, s.Role}] = s
	m.mu.Unlock()
	return nil
}

func (m *Memory) Load(_ context.Context, room domain.RoomID, role domain.Role) (domain.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.rooms[memoryKey{room, role}]
	if !ok {
		return domain.Snapshot{}, domain.ErrNotFound
	}
	s.Alerts = append([]domain.AlertEvent(nil), s.Alerts...)
	return s, nil
}
