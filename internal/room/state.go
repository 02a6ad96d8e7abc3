package room

// State is the coordinator lifecycle.
type State int

const (
	StateIdle State = iota
	StateAcquiringMedia
	StateJoiningRoom
	StateWaitingForPeer
	StateNegotiating
	StateConnected
	StateDisconnected
	StateEnded
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAcquiringMedia:
		return "acquiring-media"
	case StateJoiningRoom:
		return "joining-room"
	case StateWaitingForPeer:
		return "waiting-for-peer"
	case StateNegotiating:
		return "negotiating"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// trigger is the abstract input of transition.
type trigger int

const (
	trStart        trigger = iota // mounted
	trMediaReady                  // local media acquired
	trMediaFailed                 // local media unavailable
	trJoined                      // room-joined, nobody else present
	trNegotiate                   // a peer is known: offer, answer or retry
	trMediaFlowing                // remote track arrived and ICE connected
	trPeerLost                    // peer left or negotiation gave up
	trSignalLost                  // signaling transport dropped
	trReconnected                 // signaling transport restored
	trEnd                         // interview ended
)

// transition is the pure state function. Triggers that do not apply in s
// leave it unchanged. Ended is absorbing.
func transition(s State, t trigger) State {
	if s == StateEnded {
		return s
	}

	switch t {
	case trEnd:
		return StateEnded

	case trStart:
		if s == StateIdle {
			return StateAcquiringMedia
		}

	case trMediaReady:
		if s == StateAcquiringMedia {
			return StateJoiningRoom
		}

	case trMediaFailed:
		if s == StateAcquiringMedia {
			return StateDisconnected
		}

	case trJoined:
		if s == StateJoiningRoom {
			return StateWaitingForPeer
		}

	case trNegotiate:
		switch s {
		case StateJoiningRoom, StateWaitingForPeer, StateNegotiating, StateConnected:
			return StateNegotiating
		}

	case trMediaFlowing:
		if s == StateNegotiating {
			return StateConnected
		}

	case trPeerLost:
		switch s {
		case StateNegotiating, StateConnected:
			return StateWaitingForPeer
		}

	case trSignalLost:
		switch s {
		case StateJoiningRoom, StateWaitingForPeer, StateNegotiating, StateConnected:
			return StateDisconnected
		}

	case trReconnected:
		if s == StateDisconnected {
			return StateJoiningRoom
		}
	}
	return s
}
