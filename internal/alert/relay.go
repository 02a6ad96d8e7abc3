package alert

import (
	"log"
	"sync"
	"time"

	"interview_room/native/internal/domain"
)

// Relay forwards proctoring alerts to the other party over the current
// signaling connection. Alerts raised while disconnected are dropped.
type Relay struct {
	room domain.RoomID
	now  func() time.Time

	mu     sync.Mutex
	signal domain.Signaler
}

// NewRelay creates a relay for room.
func NewRelay(room domain.RoomID) *Relay {
	return &Relay{room: room, now: time.Now}
}

// SetSignaler swaps the connection alerts go out on. nil detaches it.
func (r *Relay) SetSignaler(s domain.Signaler) {
	r.mu.Lock()
	r.signal = s
	r.mu.Unlock()
}

// Forward sends a. The send is synchronous so alerts from one caller keep
// their order. It never fails the caller: a dropped or unsent alert is
// only logged.
func (r *Relay) Forward(a domain.AlertEvent) domain.AlertEvent {
	if a.Timestamp == "" {
		a.Timestamp = r.now().UTC().Format(time.RFC3339)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.signal == nil || !r.signal.Connected() {
		log.Printf("[alert] not connected, dropping %s", a.Type)
		return a
	}
	if err := r.signal.SendAlert(r.room, a); err != nil {
		log.Printf("[alert] send %s: %v", a.Type, err)
	}
	return a
}
