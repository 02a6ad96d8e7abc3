package media

import (
	"io"
	"log"
	"sync"

	"interview_room/native/internal/domain"

	pion "github.com/pion/webrtc/v4"
)

var startCode = []byte{0x00, 0x00, 0x00, 0x01}

// VideoSink writes the remote H264 video as an Annex-B byte stream, e.g. to
// stdout piped into ffplay.
type VideoSink struct {
	mu sync.Mutex
	w  io.Writer
}

// NewVideoSink creates a sink writing to w.
func NewVideoSink(w io.Writer) *VideoSink {
	return &VideoSink{w: w}
}

// Play consumes track until it ends. Video is depacketized into the sink,
// anything else is drained so the receiver keeps flowing.
func (s *VideoSink) Play(track domain.RemoteTrack) {
	if track.Kind() != pion.RTPCodecTypeVideo {
		log.Printf("[media] draining %s track %s", track.Kind(), track.ID())
		for {
			if _, _, err := track.ReadRTP(); err != nil {
				return
			}
		}
	}

	log.Printf("[media] reading H264 video track %s", track.ID())
	depack := NewH264Depacketizer()
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			log.Printf("[media] video track read: %v", err)
			return
		}

		for _, nalu := range depack.Depacketize(pkt.SequenceNumber, pkt.Payload) {
			if err := s.writeNALU(nalu); err != nil {
				log.Printf("[media] write video: %v", err)
				return
			}
		}
	}
}

func (s *VideoSink) writeNALU(nalu []byte) error {
	if len(nalu) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.w.Write(startCode); err != nil {
		return err
	}
	_, err := s.w.Write(nalu)
	return err
}
