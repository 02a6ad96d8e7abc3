package ice

import (
	"log"
	"sync"

	"interview_room/native/internal/domain"
)

// Applier is the peer connection side of the incoming path.
type Applier interface {
	HasRemoteDescription() bool
	AddICECandidate(c domain.ICECandidate) error
}

// SendFunc transmits a local candidate to the remote peer.
type SendFunc func(target domain.PeerHandle, c domain.ICECandidate)

// Queue buffers candidates in both directions until each end can consume them.
// Incoming candidates wait for a remote description, outgoing ones wait for a
// target handle. Both lists are FIFO.
type Queue struct {
	send SendFunc

	mu       sync.Mutex
	incoming []domain.ICECandidate
	outgoing []domain.ICECandidate
	target   domain.PeerHandle
}

// NewQueue creates a queue that transmits outgoing candidates with send.
func NewQueue(send SendFunc) *Queue {
	return &Queue{send: send}
}

// EnqueueIncoming applies c immediately when pc already has a remote
// description, otherwise holds it until FlushIncoming.
func (q *Queue) EnqueueIncoming(pc Applier, c domain.ICECandidate) {
	q.mu.Lock()
	q.incoming = append(q.incoming, c)
	n := len(q.incoming)
	q.mu.Unlock()

	if pc == nil || !pc.HasRemoteDescription() {
		log.Printf("[ice] queued remote candidate (%d pending)", n)
		return
	}
	// Earlier arrivals still held are applied first.
	q.FlushIncoming(pc)
}

// FlushIncoming applies every held candidate in arrival order and clears the
// list. A candidate that fails is logged and skipped. Returns the number applied.
func (q *Queue) FlushIncoming(pc Applier) int {
	q.mu.Lock()
	pending := q.incoming
	q.incoming = nil
	q.mu.Unlock()

	applied := 0
	for _, c := range pending {
		if err := pc.AddICECandidate(c); err != nil {
			log.Printf("[ice] skip queued candidate: %v", err)
			continue
		}
		applied++
	}
	if len(pending) > 0 {
		log.Printf("[ice] flushed %d/%d queued remote candidates", applied, len(pending))
	}
	return applied
}

// EnqueueOutgoing sends c when a target is known, otherwise holds it.
// Sends happen under the queue lock so candidates leave in FIFO order.
func (q *Queue) EnqueueOutgoing(c domain.ICECandidate) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.target == "" {
		q.outgoing = append(q.outgoing, c)
		return
	}
	q.send(q.target, c)
}

// FlushOutgoing sets the target and sends every held candidate to it.
func (q *Queue) FlushOutgoing(target domain.PeerHandle) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.target = target
	for _, c := range q.outgoing {
		q.send(target, c)
	}
	if len(q.outgoing) > 0 {
		log.Printf("[ice] sent %d queued local candidates to %s", len(q.outgoing), target)
	}
	q.outgoing = nil
}

// ClearTarget makes later outgoing candidates wait for the next FlushOutgoing.
func (q *Queue) ClearTarget() {
	q.mu.Lock()
	q.target = ""
	q.mu.Unlock()
}

// Reset drops both queues and the target.
func (q *Queue) Reset() {
	q.mu.Lock()
	q.incoming = nil
	q.outgoing = nil
	q.target = ""
	q.mu.Unlock()
}

// Pending reports the sizes of the incoming and outgoing queues.
func (q *Queue) Pending() (incoming, outgoing int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.incoming), len(q.outgoing)
}
