package signal

import (
	"encoding/json"
	"errors"
	"fmt"

	"interview_room/native/internal/domain"
)

// Event names on the wire.
const (
	EventJoinRoom       = "join-room"
	EventRoomJoined     = "room-joined"
	EventPeerJoined     = "peer-joined"
	EventPeerLeft       = "peer-left"
	EventOffer          = "offer"
	EventAnswer         = "answer"
	EventICECandidate   = "ice-candidate"
	EventAlert          = "alert"
	EventEndInterview   = "end-interview"
	EventInterviewEnded = "interview-ended"
	EventDisconnect     = "disconnect"
)

// ErrUnknownEvent is returned by Decode for an event name with no variant.
var ErrUnknownEvent = errors.New("unknown event")

// envelope is one WebSocket text frame.
type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Message is one event variant. The concrete type is fixed by the event name.
type Message interface {
	Event() string
}

// JoinRoom asks the server to place this connection in a room.
type JoinRoom struct {
	RoomID   domain.RoomID `json:"roomId"`
	Role     domain.Role   `json:"role"`
	UserName string        `json:"userName"`
}

// RoomJoined acknowledges a join. SocketID is this connection's id;
// OtherPeerID is set when the other party is already present.
type RoomJoined struct {
	OtherPeerID domain.PeerHandle `json:"otherPeerId,omitempty"`
	SocketID    domain.PeerHandle `json:"socketId,omitempty"`
}

// PeerJoined announces the other party's connection.
type PeerJoined struct {
	SocketID domain.PeerHandle `json:"socketId"`
}

// PeerLeft announces that the other party's connection went away.
type PeerLeft struct {
	SocketID domain.PeerHandle `json:"socketId"`
}

// Offer carries an SDP offer. Clients set TargetID, the server rewrites it
// to SenderID when forwarding.
type Offer struct {
	TargetID domain.PeerHandle         `json:"targetId,omitempty"`
	SenderID domain.PeerHandle         `json:"senderId,omitempty"`
	Offer    domain.SessionDescription `json:"offer"`
}

// Answer carries an SDP answer, addressed like Offer.
type Answer struct {
	TargetID domain.PeerHandle         `json:"targetId,omitempty"`
	SenderID domain.PeerHandle         `json:"senderId,omitempty"`
	Answer   domain.SessionDescription `json:"answer"`
}

// ICECandidate carries one trickled candidate, addressed like Offer.
type ICECandidate struct {
	TargetID  domain.PeerHandle   `json:"targetId,omitempty"`
	SenderID  domain.PeerHandle   `json:"senderId,omitempty"`
	Candidate domain.ICECandidate `json:"candidate"`
}

// Alert relays a proctoring event. On the wire the alert fields sit next to
// roomId in one flat object.
type Alert struct {
	RoomID domain.RoomID
	Alert  domain.AlertEvent
}

// EndInterview is sent by the party ending the interview.
type EndInterview struct {
	RoomID domain.RoomID `json:"roomId"`
}

// InterviewEnded tells the other party the interview was ended.
type InterviewEnded struct {
	RoomID domain.RoomID `json:"roomId"`
}

// Disconnect is a server-initiated disconnect.
type Disconnect struct {
	Reason string `json:"reason"`
}

func (JoinRoom) Event() string       { return EventJoinRoom }
func (RoomJoined) Event() string     { return EventRoomJoined }
func (PeerJoined) Event() string     { return EventPeerJoined }
func (PeerLeft) Event() string       { return EventPeerLeft }
func (Offer) Event() string          { return EventOffer }
func (Answer) Event() string         { return EventAnswer }
func (ICECandidate) Event() string   { return EventICECandidate }
func (Alert) Event() string          { return EventAlert }
func (EndInterview) Event() string   { return EventEndInterview }
func (InterviewEnded) Event() string { return EventInterviewEnded }
func (Disconnect) Event() string     { return EventDisconnect }

func (a Alert) MarshalJSON() ([]byte, error) {
	ev := a.Alert
	payload := make(map[string]any, len(ev.Payload)+1)
	for k, v := range ev.Payload {
		payload[k] = v
	}
	if a.RoomID != "" {
		payload["roomId"] = string(a.RoomID)
	}
	ev.Payload = payload
	return json.Marshal(ev)
}

func (a *Alert) UnmarshalJSON(data []byte) error {
	if err := json.Unmarshal(data, &a.Alert); err != nil {
		return err
	}
	if room, ok := a.Alert.Payload["roomId"].(string); ok {
		a.RoomID = domain.RoomID(room)
		delete(a.Alert.Payload, "roomId")
		if len(a.Alert.Payload) == 0 {
			a.Alert.Payload = nil
		}
	}
	return nil
}

// Encode wraps m in its event envelope.
func Encode(m Message) ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", m.Event(), err)
	}
	return json.Marshal(envelope{Event: m.Event(), Data: data})
}

// Decode parses one frame into the variant named by its event.
func Decode(frame []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, fmt.Errorf("unmarshal envelope: %w", err)
	}

	var m Message
	switch env.Event {
	case EventJoinRoom:
		m = &JoinRoom{}
	case EventRoomJoined:
		m = &RoomJoined{}
	case EventPeerJoined:
		m = &PeerJoined{}
	case EventPeerLeft:
		m = &PeerLeft{}
	case EventOffer:
		m = &Offer{}
	case EventAnswer:
		m = &Answer{}
	case EventICECandidate:
		m = &ICECandidate{}
	case EventAlert:
		m = &Alert{}
	case EventEndInterview:
		m = &EndInterview{}
	case EventInterviewEnded:
		m = &InterviewEnded{}
	case EventDisconnect:
		m = &Disconnect{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Event)
	}

	if len(env.Data) > 0 && string(env.Data) != "null" {
		if err := json.Unmarshal(env.Data, m); err != nil {
			return nil, fmt.Errorf("unmarshal %s: %w", env.Event, err)
		}
	}
	return m, nil
}
