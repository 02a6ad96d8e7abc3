package domain

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by a StateStore that holds nothing for a room.
var ErrNotFound = errors.New("not found")

// Signaler manages the signaling connection to the room server.
type Signaler interface {
	Connect(ctx context.Context) error
	Join(room RoomID, role Role, displayName string) error
	SendOffer(target PeerHandle, offer SessionDescription) error
	SendAnswer(target PeerHandle, answer SessionDescription) error
	SendICECandidate(target PeerHandle, candidate ICECandidate) error
	SendAlert(room RoomID, alert AlertEvent) error
	SendEndInterview(room RoomID) error
	Connected() bool
	Close()
}

// Handler receives signaling events.
type Handler interface {
	// OnRoomJoined acknowledges a join. self is this connection's id, other is
	// empty unless the other role is already in the room.
	OnRoomJoined(self, other PeerHandle)
	OnPeerJoined(peer PeerHandle)
	OnPeerLeft(peer PeerHandle)
	OnOffer(from PeerHandle, offer SessionDescription)
	OnAnswer(from PeerHandle, answer SessionDescription)
	OnRemoteICECandidate(from PeerHandle, candidate ICECandidate)
	OnAlert(alert AlertEvent)
	OnInterviewEnded()
	OnDisconnect(reason string)
}

// PeerSession owns the single peer connection of a room.
type PeerSession interface {
	AttachLocalStream(stream LocalStream)
	Create(remote PeerHandle) error
	CreateOffer() (SessionDescription, error)
	AcceptOfferAndAnswer(offer SessionDescription) (SessionDescription, error)
	AcceptAnswer(answer SessionDescription) error
	AddRemoteCandidate(candidate ICECandidate)
	Close()
	State() PeerConnectionState
	Remote() PeerHandle
}

// SessionListener receives asynchronous peer session events.
type SessionListener interface {
	OnRemoteTrack(track RemoteTrack)
	OnICEStateChange(state ICEState)
	OnRenegotiationOffer(remote PeerHandle, offer SessionDescription)
	OnNegotiationError(err error)
}

// MediaSource acquires the local camera and microphone.
type MediaSource interface {
	Acquire(ctx context.Context, c Constraints) (LocalStream, error)
}

// Snapshot is the persisted view of a coordinator.
type Snapshot struct {
	RoomID     RoomID       `json:"roomId"`
	Role       Role         `json:"role"`
	State      string       `json:"state"`
	RemotePeer PeerHandle   `json:"remotePeer,omitempty"`
	Alerts     []AlertEvent `json:"alerts"`
	UpdatedAt  time.Time    `json:"updatedAt"`
}

// StateStore persists coordinator snapshots keyed by room and role, so the
// two participants of one room never overwrite each other.
type StateStore interface {
	Save(ctx context.Context, s Snapshot) error
	Load(ctx context.Context, room RoomID, role Role) (Snapshot, error)
}

// Backend is the collaborator HTTP API as seen by the coordinator.
type Backend interface {
	UpdateParticipantName(ctx context.Context, room RoomID, role Role, name string) error
	CompleteInterview(ctx context.Context, room RoomID) error
}
