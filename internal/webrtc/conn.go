package webrtc

import (
	"fmt"
	"log"
	"strings"

	"interview_room/native/internal/domain"

	"github.com/pion/interceptor"
	"github.com/pion/interceptor/pkg/nack"
	"github.com/pion/rtcp"
	pion "github.com/pion/webrtc/v4"
)

// Conn is the peer connection primitive driven by Session.
type Conn interface {
	AddTrack(track pion.TrackLocal) error
	CreateOffer() (domain.SessionDescription, error)
	CreateAnswer() (domain.SessionDescription, error)
	SetLocalDescription(d domain.SessionDescription) error
	SetRemoteDescription(d domain.SessionDescription) error
	HasRemoteDescription() bool
	AddICECandidate(c domain.ICECandidate) error

	OnTrack(f func(domain.RemoteTrack))
	OnICECandidate(f func(domain.ICECandidate))
	OnNegotiationNeeded(f func())
	OnICEStateChange(f func(domain.ICEState))

	// Detach replaces every handler with a no-op so a closing connection
	// cannot call back into its owner.
	Detach()
	Close() error
}

// ConnFactory builds a fresh Conn.
type ConnFactory func() (Conn, error)

// NewPionFactory prepares a pion API with H264/Opus codecs and NACK
// interceptors and returns a factory for peer connections using iceServers.
func NewPionFactory(iceServers []domain.ICEServer) (ConnFactory, error) {
	m := &pion.MediaEngine{}

	videoFeedback := []pion.RTCPFeedback{
		{Type: "nack"},
		{Type: "nack", Parameter: "pli"},
	}
	h264Codec := pion.RTPCodecParameters{
		RTPCodecCapability: pion.RTPCodecCapability{
			MimeType:     pion.MimeTypeH264,
			ClockRate:    90000,
			SDPFmtpLine:  "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42e01f",
			RTCPFeedback: videoFeedback,
		},
		PayloadType: 102,
	}
	if err := m.RegisterCodec(h264Codec, pion.RTPCodecTypeVideo); err != nil {
		return nil, fmt.Errorf("register H264: %w", err)
	}

	opusCodec := pion.RTPCodecParameters{
		RTPCodecCapability: pion.RTPCodecCapability{
			MimeType:    pion.MimeTypeOpus,
			ClockRate:   48000,
			Channels:    2,
			SDPFmtpLine: "minptime=10;useinbandfec=1",
		},
		PayloadType: 111,
	}
	if err := m.RegisterCodec(opusCodec, pion.RTPCodecTypeAudio); err != nil {
		return nil, fmt.Errorf("register Opus: %w", err)
	}

	i := &interceptor.Registry{}
	responderFactory, err := nack.NewResponderInterceptor()
	if err != nil {
		return nil, fmt.Errorf("create nack responder: %w", err)
	}
	i.Add(responderFactory)
	generatorFactory, err := nack.NewGeneratorInterceptor()
	if err != nil {
		return nil, fmt.Errorf("create nack generator: %w", err)
	}
	i.Add(generatorFactory)

	api := pion.NewAPI(
		pion.WithMediaEngine(m),
		pion.WithInterceptorRegistry(i),
	)

	var servers []pion.ICEServer
	for _, s := range iceServers {
		servers = append(servers, pion.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}
	cfg := pion.Configuration{
		ICEServers:   servers,
		BundlePolicy: pion.BundlePolicyMaxBundle,
	}

	return func() (Conn, error) {
		pc, err := api.NewPeerConnection(cfg)
		if err != nil {
			return nil, fmt.Errorf("create peer connection: %w", err)
		}
		c := &pionConn{pc: pc}
		pc.OnConnectionStateChange(func(state pion.PeerConnectionState) {
			log.Printf("[webrtc] peer connection state: %s", state.String())
		})
		return c, nil
	}, nil
}

// pionConn adapts *pion.PeerConnection to Conn.
type pionConn struct {
	pc *pion.PeerConnection
}

func (c *pionConn) AddTrack(track pion.TrackLocal) error {
	sender, err := c.pc.AddTrack(track)
	if err != nil {
		return fmt.Errorf("add %s track: %w", track.Kind(), err)
	}
	// Drain RTCP so the interceptors (NACK responder) keep working.
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()
	return nil
}

func (c *pionConn) CreateOffer() (domain.SessionDescription, error) {
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return domain.SessionDescription{}, fmt.Errorf("create offer: %w", err)
	}
	return domain.SessionDescription{Type: domain.SDPOffer, SDP: offer.SDP}, nil
}

func (c *pionConn) CreateAnswer() (domain.SessionDescription, error) {
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return domain.SessionDescription{}, fmt.Errorf("create answer: %w", err)
	}
	return domain.SessionDescription{Type: domain.SDPAnswer, SDP: answer.SDP}, nil
}

func (c *pionConn) SetLocalDescription(d domain.SessionDescription) error {
	if err := c.pc.SetLocalDescription(toPion(d)); err != nil {
		return fmt.Errorf("set local description: %w", err)
	}
	return nil
}

func (c *pionConn) SetRemoteDescription(d domain.SessionDescription) error {
	if err := c.pc.SetRemoteDescription(toPion(d)); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	return nil
}

func (c *pionConn) HasRemoteDescription() bool {
	return c.pc.RemoteDescription() != nil
}

func (c *pionConn) AddICECandidate(cand domain.ICECandidate) error {
	init := pion.ICECandidateInit{
		Candidate:        cand.Candidate,
		SDPMid:           cand.SDPMid,
		SDPMLineIndex:    cand.SDPMLineIndex,
		UsernameFragment: cand.UsernameFragment,
	}
	if err := c.pc.AddICECandidate(init); err != nil {
		return fmt.Errorf("add ice candidate: %w", err)
	}
	return nil
}

func (c *pionConn) OnTrack(f func(domain.RemoteTrack)) {
	c.pc.OnTrack(func(track *pion.TrackRemote, receiver *pion.RTPReceiver) {
		codec := track.Codec()
		log.Printf("[webrtc] got track: kind=%s codec=%s pt=%d", track.Kind(), codec.MimeType, codec.PayloadType)
		if track.Kind() == pion.RTPCodecTypeVideo {
			// Ask the sender for a keyframe so the sink can start decoding.
			pli := []rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: uint32(track.SSRC())}}
			if err := c.pc.WriteRTCP(pli); err != nil {
				log.Printf("[webrtc] write PLI: %v", err)
			}
		}
		f(track)
	})
}

func (c *pionConn) OnICECandidate(f func(domain.ICECandidate)) {
	c.pc.OnICECandidate(func(cand *pion.ICECandidate) {
		if cand == nil {
			log.Printf("[webrtc] ICE gathering complete")
			return
		}
		init := cand.ToJSON()
		if isLoopback(init.Candidate) {
			log.Printf("[webrtc] filtering loopback ICE candidate")
			return
		}
		f(domain.ICECandidate{
			Candidate:        init.Candidate,
			SDPMid:           init.SDPMid,
			SDPMLineIndex:    init.SDPMLineIndex,
			UsernameFragment: init.UsernameFragment,
		})
	})
}

func (c *pionConn) OnNegotiationNeeded(f func()) {
	c.pc.OnNegotiationNeeded(f)
}

func (c *pionConn) OnICEStateChange(f func(domain.ICEState)) {
	c.pc.OnICEConnectionStateChange(func(state pion.ICEConnectionState) {
		log.Printf("[webrtc] ICE connection state: %s", state.String())
		f(fromPionICE(state))
	})
}

func (c *pionConn) Detach() {
	c.pc.OnTrack(func(*pion.TrackRemote, *pion.RTPReceiver) {})
	c.pc.OnICECandidate(func(*pion.ICECandidate) {})
	c.pc.OnNegotiationNeeded(func() {})
	c.pc.OnICEConnectionStateChange(func(pion.ICEConnectionState) {})
	c.pc.OnConnectionStateChange(func(pion.PeerConnectionState) {})
}

func (c *pionConn) Close() error {
	return c.pc.Close()
}

func toPion(d domain.SessionDescription) pion.SessionDescription {
	return pion.SessionDescription{
		Type: pion.NewSDPType(string(d.Type)),
		SDP:  d.SDP,
	}
}

func fromPionICE(state pion.ICEConnectionState) domain.ICEState {
	switch state {
	case pion.ICEConnectionStateConnected, pion.ICEConnectionStateCompleted:
		return domain.ICEConnected
	case pion.ICEConnectionStateDisconnected:
		return domain.ICEDisconnected
	case pion.ICEConnectionStateFailed:
		return domain.ICEFailed
	case pion.ICEConnectionStateClosed:
		return domain.ICEClosed
	default:
		return domain.ICEChecking
	}
}

func isLoopback(candidate string) bool {
	return strings.Contains(candidate, "127.0.0.1") || strings.Contains(candidate, "::1 ")
}
