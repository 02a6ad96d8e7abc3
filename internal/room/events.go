package room

import "interview_room/native/internal/domain"

// event is anything handled by the coordinator loop.
type event any

type (
	evMediaReady  struct{ stream domain.LocalStream }
	evMediaFailed struct{ err error }

	evConnected     struct{ gen int }
	evConnectFailed struct {
		gen int
		err error
	}
	evReconnect struct{ gen int }

	evRoomJoined struct {
		gen         int
		self, other domain.PeerHandle
	}
	evPeerJoined struct {
		gen  int
		peer domain.PeerHandle
	}
	evPeerLeft struct {
		gen  int
		peer domain.PeerHandle
	}
	evOffer struct {
		gen  int
		from domain.PeerHandle
		sd   domain.SessionDescription
	}
	evAnswer struct {
		gen  int
		from domain.PeerHandle
		sd   domain.SessionDescription
	}
	evCandidate struct {
		gen  int
		from domain.PeerHandle
		c    domain.ICECandidate
	}
	evAlert struct {
		gen   int
		alert domain.AlertEvent
	}
	evInterviewEnded struct{ gen int }
	evDisconnect     struct {
		gen    int
		reason string
	}

	evRemoteTrack struct {
		epoch int
		track domain.RemoteTrack
	}
	evICEState struct {
		epoch int
		state domain.ICEState
	}
	evRenegotiate struct {
		epoch  int
		remote domain.PeerHandle
		offer  domain.SessionDescription
	}
	evNegotiationError struct {
		epoch int
		err   error
	}

	evWarning struct{ err error }
	evEnd     struct{}
	evQuery   struct{ f func() }
)

// signalEvents posts signaling callbacks of one connection generation.
type signalEvents struct {
	c   *Coordinator
	gen int
}

func (h signalEvents) OnRoomJoined(self, other domain.PeerHandle) {
	h.c.post(evRoomJoined{gen: h.gen, self: self, other: other})
}

func (h signalEvents) OnPeerJoined(peer domain.PeerHandle) {
	h.c.post(evPeerJoined{gen: h.gen, peer: peer})
}

func (h signalEvents) OnPeerLeft(peer domain.PeerHandle) {
	h.c.post(evPeerLeft{gen: h.gen, peer: peer})
}

func (h signalEvents) OnOffer(from domain.PeerHandle, sd domain.SessionDescription) {
	h.c.post(evOffer{gen: h.gen, from: from, sd: sd})
}

func (h signalEvents) OnAnswer(from domain.PeerHandle, sd domain.SessionDescription) {
	h.c.post(evAnswer{gen: h.gen, from: from, sd: sd})
}

func (h signalEvents) OnRemoteICECandidate(from domain.PeerHandle, c domain.ICECandidate) {
	h.c.post(evCandidate{gen: h.gen, from: from, c: c})
}

func (h signalEvents) OnAlert(a domain.AlertEvent) {
	h.c.post(evAlert{gen: h.gen, alert: a})
}

func (h signalEvents) OnInterviewEnded() {
	h.c.post(evInterviewEnded{gen: h.gen})
}

func (h signalEvents) OnDisconnect(reason string) {
	h.c.post(evDisconnect{gen: h.gen, reason: reason})
}

// sessionEvents posts peer session callbacks of one session epoch.
type sessionEvents struct {
	c     *Coordinator
	epoch int
}

func (l sessionEvents) OnRemoteTrack(track domain.RemoteTrack) {
	l.c.post(evRemoteTrack{epoch: l.epoch, track: track})
}

func (l sessionEvents) OnICEStateChange(state domain.ICEState) {
	l.c.post(evICEState{epoch: l.epoch, state: state})
}

func (l sessionEvents) OnRenegotiationOffer(remote domain.PeerHandle, offer domain.SessionDescription) {
	l.c.post(evRenegotiate{epoch: l.epoch, remote: remote, offer: offer})
}

func (l sessionEvents) OnNegotiationError(err error) {
	l.c.post(evNegotiationError{epoch: l.epoch, err: err})
}
