package domain

import (
	"encoding/json"
	"fmt"
)

// SDPType tags a session description.
type SDPType string

const (
	SDPOffer  SDPType = "offer"
	SDPAnswer SDPType = "answer"
)

// SessionDescription is the JSON structure for SDP offer/answer messages.
type SessionDescription struct {
	Type SDPType `json:"type"`
	SDP  string  `json:"sdp"`
}

// ICECandidate is the JSON structure for ICE candidate messages.
// Field names match RTCIceCandidateInit so browsers can consume it unchanged.
type ICECandidate struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

// AlertEvent is an out-of-band proctoring event (gaze, tab switch, AI detection).
type AlertEvent struct {
	Type      string         `json:"type"`
	Message   string         `json:"message,omitempty"`
	Severity  string         `json:"severity,omitempty"`
	Timestamp string         `json:"timestamp,omitempty"`
	Payload   map[string]any `json:"-"`
}

// Alert types raised by the candidate side.
const (
	AlertLookAway    = "LOOK_AWAY"
	AlertTabSwitch   = "TAB_SWITCH"
	AlertAIDetection = "AI_DETECTION_RESULT"
	AlertTest        = "TEST_ALERT"
)

var alertKeys = map[string]bool{"type": true, "message": true, "severity": true, "timestamp": true}

// MarshalJSON flattens Payload into the top-level object, the shape the
// browser views emit with `{...alertData}`.
func (a AlertEvent) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(a.Payload)+4)
	for k, v := range a.Payload {
		m[k] = v
	}
	m["type"] = a.Type
	if a.Message != "" {
		m["message"] = a.Message
	}
	if a.Severity != "" {
		m["severity"] = a.Severity
	}
	if a.Timestamp != "" {
		m["timestamp"] = a.Timestamp
	}
	return json.Marshal(m)
}

// UnmarshalJSON collects every unknown key into Payload.
func (a *AlertEvent) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*a = AlertEvent{}
	for k, v := range raw {
		if alertKeys[k] {
			var s string
			if err := json.Unmarshal(v, &s); err != nil {
				return fmt.Errorf("alert field %s: %w", k, err)
			}
			switch k {
			case "type":
				a.Type = s
			case "message":
				a.Message = s
			case "severity":
				a.Severity = s
			case "timestamp":
				a.Timestamp = s
			}
			continue
		}
		var val any
		if err := json.Unmarshal(v, &val); err != nil {
			return fmt.Errorf("alert field %s: %w", k, err)
		}
		if a.Payload == nil {
			a.Payload = make(map[string]any)
		}
		a.Payload[k] = val
	}
	return nil
}
