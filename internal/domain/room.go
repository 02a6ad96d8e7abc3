package domain

import "fmt"

// RoomID identifies one interview session on the signaling server.
type RoomID string

// Role is the declared role of a participant in a room.
type Role string

const (
	RoleInterviewer Role = "interviewer"
	RoleCandidate   Role = "candidate"
)

// ParseRole validates a role string.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleInterviewer, RoleCandidate:
		return Role(s), nil
	}
	return "", fmt.Errorf("unknown role %q (want interviewer or candidate)", s)
}

// PeerHandle is the signaling connection id of the other party.
type PeerHandle string

// ConnState is the lifecycle of a signaling connection.
type ConnState int

const (
	ConnConnecting ConnState = iota
	ConnConnected
	ConnDisconnected
	ConnReconnecting
)

func (s ConnState) String() string {
	switch s {
	case ConnConnecting:
		return "connecting"
	case ConnConnected:
		return "connected"
	case ConnDisconnected:
		return "disconnected"
	case ConnReconnecting:
		return "reconnecting"
	}
	return fmt.Sprintf("ConnState(%d)", int(s))
}

// PeerConnectionState is the negotiation state tracked by the peer session.
type PeerConnectionState int

const (
	PeerNew PeerConnectionState = iota
	PeerHaveLocalOffer
	PeerHaveRemoteOffer
	PeerStable
	PeerConnected
	PeerFailed
	PeerClosed
)

func (s PeerConnectionState) String() string {
	switch s {
	case PeerNew:
		return "new"
	case PeerHaveLocalOffer:
		return "have-local-offer"
	case PeerHaveRemoteOffer:
		return "have-remote-offer"
	case PeerStable:
		return "stable"
	case PeerConnected:
		return "connected"
	case PeerFailed:
		return "failed"
	case PeerClosed:
		return "closed"
	}
	return fmt.Sprintf("PeerConnectionState(%d)", int(s))
}

// ICEState is the reduced ICE connection state reported by the peer session.
type ICEState int

const (
	ICEChecking ICEState = iota
	ICEConnected
	ICEDisconnected
	ICEFailed
	ICEClosed
)

func (s ICEState) String() string {
	switch s {
	case ICEChecking:
		return "checking"
	case ICEConnected:
		return "connected"
	case ICEDisconnected:
		return "disconnected"
	case ICEFailed:
		return "failed"
	case ICEClosed:
		return "closed"
	}
	return fmt.Sprintf("ICEState(%d)", int(s))
}
