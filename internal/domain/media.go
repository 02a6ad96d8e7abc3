package domain

import (
	"fmt"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

// Constraints is the resolution hint passed to the local media source.
type Constraints struct {
	Width  int
	Height int
	FPS    int
	Audio  bool
}

// LocalStream is the coordinator-owned local camera/microphone stream.
type LocalStream interface {
	Tracks() []webrtc.TrackLocal
	Stop()
}

// RemoteTrack is an inbound media track. *webrtc.TrackRemote satisfies it.
type RemoteTrack interface {
	ID() string
	StreamID() string
	Kind() webrtc.RTPCodecType
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
}

// MediaFailure classifies why local media could not be acquired.
type MediaFailure int

const (
	MediaUnknown MediaFailure = iota
	MediaPermissionDenied
	MediaNoDevice
	MediaDeviceInUse
)

// MediaError is returned by MediaSource.Acquire. It is terminal for the session attempt.
type MediaError struct {
	Reason MediaFailure
	Device string
	Err    error
}

func (e *MediaError) Error() string {
	var reason string
	switch e.Reason {
	case MediaPermissionDenied:
		reason = "permission to use the camera or microphone was denied"
	case MediaNoDevice:
		reason = "no camera or microphone was found"
	case MediaDeviceInUse:
		reason = "the camera or microphone is already in use"
	default:
		reason = "could not start the camera or microphone"
	}
	if e.Device != "" {
		reason += fmt.Sprintf(" (%s)", e.Device)
	}
	if e.Err != nil {
		return reason + ": " + e.Err.Error()
	}
	return reason
}

func (e *MediaError) Unwrap() error { return e.Err }
