package signal

import (
	"encoding/json"
	"errors"
	"testing"

	"interview_room/native/internal/domain"
)

func TestEncode_AlertIsFlat(t *testing.T) {
	data, err := Encode(Alert{
		RoomID: "room-1",
		Alert: domain.AlertEvent{
			Type:     domain.AlertAIDetection,
			Severity: "high",
			Payload:  map[string]any{"score": 0.91},
		},
	})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	var frame struct {
		Event string         `json:"event"`
		Data  map[string]any `json:"data"`
	}
	if err := json.Unmarshal(data, &frame); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if frame.Event != EventAlert {
		t.Errorf("expected alert event, got %s", frame.Event)
	}
	for key, want := range map[string]any{"roomId": "room-1", "type": domain.AlertAIDetection, "severity": "high", "score": 0.91} {
		if frame.Data[key] != want {
			t.Errorf("data[%s] = %v, want %v", key, frame.Data[key], want)
		}
	}
}

func TestDecode_SelectsVariantByEvent(t *testing.T) {
	frame := []byte(`{"event":"ice-candidate","data":{"senderId":"abc","candidate":{"candidate":"candidate:1 1 udp 1 10.0.0.1 5000 typ host","sdpMid":"0","sdpMLineIndex":0}}}`)

	m, err := Decode(frame)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	c, ok := m.(*ICECandidate)
	if !ok {
		t.Fatalf("expected *ICECandidate, got %T", m)
	}
	if c.SenderID != "abc" || c.Candidate.SDPMid == nil || *c.Candidate.SDPMid != "0" {
		t.Errorf("unexpected candidate: %+v", c)
	}
	if c.Candidate.SDPMLineIndex == nil || *c.Candidate.SDPMLineIndex != 0 {
		t.Errorf("expected sdpMLineIndex 0, got %v", c.Candidate.SDPMLineIndex)
	}
}

func TestDecode_RoomJoinedWithoutPeer(t *testing.T) {
	m, err := Decode([]byte(`{"event":"room-joined","data":{"socketId":"me"}}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	rj := m.(*RoomJoined)
	if rj.OtherPeerID != "" || rj.SocketID != "me" {
		t.Errorf("unexpected room-joined: %+v", rj)
	}
}

func TestDecode_UnknownEvent(t *testing.T) {
	_, err := Decode([]byte(`{"event":"chat","data":{}}`))
	if !errors.Is(err, ErrUnknownEvent) {
		t.Fatalf("expected ErrUnknownEvent, got %v", err)
	}
}

func TestDecode_AlertRoundTripKeepsPayload(t *testing.T) {
	m, err := Decode([]byte(`{"event":"alert","data":{"roomId":"r","type":"LOOK_AWAY","message":"looked away","direction":"left"}}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	a := m.(*Alert)
	if a.RoomID != "r" || a.Alert.Type != domain.AlertLookAway || a.Alert.Message != "looked away" {
		t.Errorf("unexpected alert: %+v", a)
	}
	if a.Alert.Payload["direction"] != "left" {
		t.Errorf("expected payload direction=left, got %v", a.Alert.Payload)
	}
	if _, ok := a.Alert.Payload["roomId"]; ok {
		t.Error("roomId must not leak into the payload")
	}
}
