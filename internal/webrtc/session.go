package webrtc

import (
	"errors"
	"fmt"
	"log"
	"sync"

	"interview_room/native/internal/domain"
	"interview_room/native/internal/ice"
)

var (
	// ErrOfferPending is returned by CreateOffer while a local offer awaits its answer.
	ErrOfferPending = errors.New("local offer already pending")
	// ErrNoConnection is returned when no peer connection has been created.
	ErrNoConnection = errors.New("no peer connection")
)

// Session owns the single peer connection of a room. It is safe for
// concurrent use; callbacks from the underlying connection are dropped once
// that connection has been replaced.
type Session struct {
	newConn ConnFactory
	queue   *ice.Queue

	mu           sync.Mutex
	listener     domain.SessionListener
	stream       domain.LocalStream
	conn         Conn
	remote       domain.PeerHandle
	state        domain.PeerConnectionState
	negotiated   bool
	iceConnected bool
}

// NewSession creates a session that builds connections with newConn and
// routes candidates through queue.
func NewSession(newConn ConnFactory, queue *ice.Queue) *Session {
	return &Session{
		newConn: newConn,
		queue:   queue,
		state:   domain.PeerClosed,
	}
}

// SetListener sets the receiver of asynchronous session events.
func (s *Session) SetListener(l domain.SessionListener) {
	s.mu.Lock()
	s.listener = l
	s.mu.Unlock()
}

// AttachLocalStream remembers the local tracks to add to every connection.
// The stream stays owned by the caller.
func (s *Session) AttachLocalStream(stream domain.LocalStream) {
	s.mu.Lock()
	s.stream = stream
	s.mu.Unlock()
}

// Create replaces any existing connection with a fresh one targeting remote.
func (s *Session) Create(remote domain.PeerHandle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closeLocked()

	conn, err := s.newConn()
	if err != nil {
		return fmt.Errorf("create session for %s: %w", remote, err)
	}
	if s.stream != nil {
		for _, track := range s.stream.Tracks() {
			if err := conn.AddTrack(track); err != nil {
				conn.Detach()
				_ = conn.Close()
				return fmt.Errorf("create session for %s: %w", remote, err)
			}
		}
	}

	conn.OnTrack(func(track domain.RemoteTrack) { s.handleTrack(conn, track) })
	conn.OnICECandidate(func(c domain.ICECandidate) {
		if s.isCurrent(conn) {
			s.queue.EnqueueOutgoing(c)
		}
	})
	conn.OnNegotiationNeeded(func() { go s.renegotiate(conn) })
	conn.OnICEStateChange(func(state domain.ICEState) { s.handleICEState(conn, state) })

	s.conn = conn
	s.remote = remote
	s.state = domain.PeerNew
	s.negotiated = false
	s.iceConnected = false
	log.Printf("[webrtc] created peer connection for %s", remote)
	return nil
}

// CreateOffer creates a local offer and applies it as the local description.
func (s *Session) CreateOffer() (domain.SessionDescription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.offerLocked(s.conn)
}

func (s *Session) offerLocked(conn Conn) (domain.SessionDescription, error) {
	if conn == nil {
		return domain.SessionDescription{}, ErrNoConnection
	}
	if s.state == domain.PeerHaveLocalOffer {
		return domain.SessionDescription{}, ErrOfferPending
	}
	offer, err := conn.CreateOffer()
	if err != nil {
		return domain.SessionDescription{}, err
	}
	if err := conn.SetLocalDescription(offer); err != nil {
		return domain.SessionDescription{}, err
	}
	s.state = domain.PeerHaveLocalOffer
	return offer, nil
}

// AcceptOfferAndAnswer applies a remote offer, releases queued remote
// candidates and returns the local answer.
func (s *Session) AcceptOfferAndAnswer(offer domain.SessionDescription) (domain.SessionDescription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conn := s.conn
	if conn == nil {
		return domain.SessionDescription{}, ErrNoConnection
	}
	if err := conn.SetRemoteDescription(offer); err != nil {
		return domain.SessionDescription{}, err
	}
	s.state = domain.PeerHaveRemoteOffer
	s.queue.FlushIncoming(conn)

	answer, err := conn.CreateAnswer()
	if err != nil {
		return domain.SessionDescription{}, err
	}
	if err := conn.SetLocalDescription(answer); err != nil {
		return domain.SessionDescription{}, err
	}
	s.stableLocked()
	return answer, nil
}

// AcceptAnswer applies the remote answer to a pending local offer. An answer
// arriving in any other state is logged and ignored.
func (s *Session) AcceptAnswer(answer domain.SessionDescription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conn := s.conn
	if conn == nil || s.state != domain.PeerHaveLocalOffer {
		log.Printf("[webrtc] ignoring answer in state %s", s.state)
		return nil
	}
	if err := conn.SetRemoteDescription(answer); err != nil {
		return err
	}
	s.stableLocked()
	s.queue.FlushIncoming(conn)
	return nil
}

func (s *Session) stableLocked() {
	s.negotiated = true
	if s.iceConnected {
		s.state = domain.PeerConnected
	} else {
		s.state = domain.PeerStable
	}
}

// AddRemoteCandidate applies c now or queues it until a remote description is set.
func (s *Session) AddRemoteCandidate(c domain.ICECandidate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		s.queue.EnqueueIncoming(nil, c)
		return
	}
	s.queue.EnqueueIncoming(s.conn, c)
}

// Close tears the connection down. Local tracks are left running.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked()
}

func (s *Session) closeLocked() {
	if s.conn != nil {
		s.conn.Detach()
		if err := s.conn.Close(); err != nil {
			log.Printf("[webrtc] close peer connection: %v", err)
		}
		log.Printf("[webrtc] closed peer connection for %s", s.remote)
	}
	s.conn = nil
	s.remote = ""
	s.state = domain.PeerClosed
	s.negotiated = false
	s.iceConnected = false
}

func (s *Session) State() domain.PeerConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Remote() domain.PeerHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remote
}

func (s *Session) isCurrent(conn Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn == conn
}

func (s *Session) handleTrack(conn Conn, track domain.RemoteTrack) {
	s.mu.Lock()
	if s.conn != conn {
		s.mu.Unlock()
		return
	}
	l := s.listener
	s.mu.Unlock()
	if l != nil {
		l.OnRemoteTrack(track)
	}
}

func (s *Session) handleICEState(conn Conn, state domain.ICEState) {
	s.mu.Lock()
	if s.conn != conn {
		s.mu.Unlock()
		return
	}
	switch state {
	case domain.ICEConnected:
		s.iceConnected = true
		if s.state == domain.PeerStable {
			s.state = domain.PeerConnected
		}
	case domain.ICEFailed:
		s.iceConnected = false
		s.state = domain.PeerFailed
	case domain.ICEDisconnected, domain.ICEChecking:
		s.iceConnected = false
		if s.state == domain.PeerConnected {
			s.state = domain.PeerStable
		}
	}
	l := s.listener
	s.mu.Unlock()
	if l != nil {
		l.OnICEStateChange(state)
	}
}

// renegotiate answers a negotiation-needed event with a fresh offer to the
// current remote. Before the first negotiation completes, or while one is in
// flight, the event is ignored.
func (s *Session) renegotiate(conn Conn) {
	s.mu.Lock()
	if s.conn != conn {
		s.mu.Unlock()
		return
	}
	if !s.negotiated || (s.state != domain.PeerStable && s.state != domain.PeerConnected) {
		log.Printf("[webrtc] negotiation needed in state %s, ignoring", s.state)
		s.mu.Unlock()
		return
	}
	offer, err := s.offerLocked(conn)
	remote := s.remote
	l := s.listener
	s.mu.Unlock()

	if l == nil {
		return
	}
	if err != nil {
		l.OnNegotiationError(fmt.Errorf("renegotiate with %s: %w", remote, err))
		return
	}
	log.Printf("[webrtc] renegotiating with %s", remote)
	l.OnRenegotiationOffer(remote, offer)
}
