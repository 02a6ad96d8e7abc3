package room

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"interview_room/native/internal/domain"
	"interview_room/native/internal/ice"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	pion "github.com/pion/webrtc/v4"
)

// mockStream counts Stop calls.
type mockStream struct {
	mu    sync.Mutex
	stops int
}

func (s *mockStream) Tracks() []pion.TrackLocal { return nil }
func (s *mockStream) Stop() {
	s.mu.Lock()
	s.stops++
	s.mu.Unlock()
}

func (s *mockStream) stopCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stops
}

type mockMedia struct {
	stream *mockStream
	err    error
	gate   chan struct{} // when set, Acquire blocks until it is closed
}

func (m *mockMedia) Acquire(context.Context, domain.Constraints) (domain.LocalStream, error) {
	if m.gate != nil {
		<-m.gate
	}
	if m.err != nil {
		return nil, m.err
	}
	return m.stream, nil
}

// mockSignaler records outbound messages in order, e.g. "offer:peer".
type mockSignaler struct {
	mu         sync.Mutex
	h          domain.Handler
	connectErr error
	connected  bool
	closed     bool
	sent       []string

	hub  *hub
	id   domain.PeerHandle
	role domain.Role
}

func (m *mockSignaler) record(s string) {
	m.mu.Lock()
	m.sent = append(m.sent, s)
	m.mu.Unlock()
}

func (m *mockSignaler) Connect(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.connectErr != nil {
		return m.connectErr
	}
	m.connected = true
	return nil
}

func (m *mockSignaler) Join(room domain.RoomID, role domain.Role, _ string) error {
	m.record("join")
	if m.hub != nil {
		m.hub.join(m, role)
	}
	return nil
}

func (m *mockSignaler) SendOffer(target domain.PeerHandle, offer domain.SessionDescription) error {
	m.record("offer:" + string(target))
	if m.hub != nil {
		m.hub.forward(m, target, func(h domain.Handler) { h.OnOffer(m.id, offer) })
	}
	return nil
}

func (m *mockSignaler) SendAnswer(target domain.PeerHandle, answer domain.SessionDescription) error {
	m.record("answer:" + string(target))
	if m.hub != nil {
		m.hub.forward(m, target, func(h domain.Handler) { h.OnAnswer(m.id, answer) })
	}
	return nil
}

func (m *mockSignaler) SendICECandidate(target domain.PeerHandle, _ domain.ICECandidate) error {
	m.record("candidate:" + string(target))
	return nil
}

func (m *mockSignaler) SendAlert(domain.RoomID, domain.AlertEvent) error {
	m.record("alert")
	return nil
}

func (m *mockSignaler) SendEndInterview(domain.RoomID) error {
	m.record("end")
	return nil
}

func (m *mockSignaler) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected && !m.closed
}

func (m *mockSignaler) Close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
}

func (m *mockSignaler) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *mockSignaler) messages() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.sent...)
}

func (m *mockSignaler) count(msg string) int {
	n := 0
	for _, s := range m.messages() {
		if s == msg {
			n++
		}
	}
	return n
}

type signalerFactory struct {
	mu         sync.Mutex
	sigs       []*mockSignaler
	connectErr error
	hub        *hub
}

func (f *signalerFactory) build(h domain.Handler) domain.Signaler {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := &mockSignaler{h: h, connectErr: f.connectErr, hub: f.hub}
	f.sigs = append(f.sigs, s)
	return s
}

func (f *signalerFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sigs)
}

func (f *signalerFactory) get(i int) *mockSignaler {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sigs[i]
}

func (f *signalerFactory) last() *mockSignaler {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sigs[len(f.sigs)-1]
}

// mockSession tracks the offer/answer state like a peer connection would.
type mockSession struct {
	mu        sync.Mutex
	queue     *ice.Queue
	listener  domain.SessionListener
	state     domain.PeerConnectionState
	remote    domain.PeerHandle
	creates   []domain.PeerHandle
	closes    int
	offers    int
	answered  int
	accepted  int
	remoteICE []domain.PeerHandle

	offerErr    error
	emitOnOffer bool
}

func newMockSession(q *ice.Queue) *mockSession {
	return &mockSession{queue: q, state: domain.PeerClosed}
}

func (s *mockSession) SetListener(l domain.SessionListener) {
	s.mu.Lock()
	s.listener = l
	s.mu.Unlock()
}

func (s *mockSession) AttachLocalStream(domain.LocalStream) {}

func (s *mockSession) Create(remote domain.PeerHandle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != domain.PeerClosed {
		s.closes++
	}
	s.creates = append(s.creates, remote)
	s.state = domain.PeerNew
	s.remote = remote
	return nil
}

func (s *mockSession) CreateOffer() (domain.SessionDescription, error) {
	s.mu.Lock()
	if s.offerErr != nil {
		s.mu.Unlock()
		return domain.SessionDescription{}, s.offerErr
	}
	s.offers++
	s.state = domain.PeerHaveLocalOffer
	emit := s.emitOnOffer
	s.mu.Unlock()
	if emit {
		// Gathering may start before the offer reaches the wire.
		s.queue.EnqueueOutgoing(domain.ICECandidate{Candidate: "early"})
	}
	return domain.SessionDescription{Type: domain.SDPOffer, SDP: "offer"}, nil
}

func (s *mockSession) AcceptOfferAndAnswer(domain.SessionDescription) (domain.SessionDescription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.answered++
	s.state = domain.PeerStable
	return domain.SessionDescription{Type: domain.SDPAnswer, SDP: "answer"}, nil
}

func (s *mockSession) AcceptAnswer(domain.SessionDescription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != domain.PeerHaveLocalOffer {
		return nil
	}
	s.accepted++
	s.state = domain.PeerStable
	return nil
}

func (s *mockSession) AddRemoteCandidate(domain.ICECandidate) {
	s.mu.Lock()
	s.remoteICE = append(s.remoteICE, s.remote)
	s.mu.Unlock()
}

func (s *mockSession) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != domain.PeerClosed {
		s.closes++
	}
	s.state = domain.PeerClosed
	s.remote = ""
}

func (s *mockSession) State() domain.PeerConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *mockSession) Remote() domain.PeerHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remote
}

func (s *mockSession) currentListener() domain.SessionListener {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listener
}

// sessionView is a point-in-time copy of a mockSession's counters.
type sessionView struct {
	state     domain.PeerConnectionState
	remote    domain.PeerHandle
	creates   []domain.PeerHandle
	closes    int
	offers    int
	answered  int
	accepted  int
	remoteICE []domain.PeerHandle
}

func (s *mockSession) snapshot() sessionView {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sessionView{
		state:     s.state,
		remote:    s.remote,
		creates:   append([]domain.PeerHandle(nil), s.creates...),
		closes:    s.closes,
		offers:    s.offers,
		answered:  s.answered,
		accepted:  s.accepted,
		remoteICE: append([]domain.PeerHandle(nil), s.remoteICE...),
	}
}

type fakeTrack struct{}

func (fakeTrack) ID() string              { return "video" }
func (fakeTrack) StreamID() string        { return "remote" }
func (fakeTrack) Kind() pion.RTPCodecType { return pion.RTPCodecTypeVideo }
func (fakeTrack) ReadRTP() (*rtp.Packet, interceptor.Attributes, error) {
	return nil, nil, fmt.Errorf("no media in tests")
}

// fakeClock holds scheduled callbacks until the test fires them.
type fakeClock struct {
	mu      sync.Mutex
	delays  []time.Duration
	pending []func()
}

func (c *fakeClock) after(d time.Duration, f func()) {
	c.mu.Lock()
	c.delays = append(c.delays, d)
	c.pending = append(c.pending, f)
	c.mu.Unlock()
}

func (c *fakeClock) fire() int {
	c.mu.Lock()
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()
	for _, f := range pending {
		f()
	}
	return len(pending)
}

func (c *fakeClock) scheduled() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.delays...)
}

func (c *fakeClock) waiting() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// recordingObserver records every UI callback.
type recordingObserver struct {
	mu       sync.Mutex
	states   chan State
	tracks   int
	alerts   []domain.AlertEvent
	warnings []error
	terminal error
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{states: make(chan State, 64)}
}

func (o *recordingObserver) OnStateChange(s State) { o.states <- s }

func (o *recordingObserver) OnRemoteTrack(domain.RemoteTrack) {
	o.mu.Lock()
	o.tracks++
	o.mu.Unlock()
}

func (o *recordingObserver) OnAlert(a domain.AlertEvent) {
	o.mu.Lock()
	o.alerts = append(o.alerts, a)
	o.mu.Unlock()
}

func (o *recordingObserver) OnWarning(err error) {
	o.mu.Lock()
	o.warnings = append(o.warnings, err)
	o.mu.Unlock()
}

func (o *recordingObserver) OnTerminalError(err error) {
	o.mu.Lock()
	o.terminal = err
	o.mu.Unlock()
}

func (o *recordingObserver) warningCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.warnings)
}

func (o *recordingObserver) alertCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.alerts)
}

type mockBackend struct {
	mu        sync.Mutex
	nameErr   error
	names     []string
	completed int
}

func (b *mockBackend) UpdateParticipantName(_ context.Context, _ domain.RoomID, role domain.Role, name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.names = append(b.names, string(role)+":"+name)
	return b.nameErr
}

func (b *mockBackend) CompleteInterview(context.Context, domain.RoomID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.completed++
	return nil
}

func (b *mockBackend) counts() (int, int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.names), b.completed
}

// hub is an in-memory signaling server with the reference server's policy:
// the newcomer gets room-joined without a peer, the occupant gets peer-joined.
type hub struct {
	mu    sync.Mutex
	next  int
	slots map[domain.Role]*mockSignaler
}

func newHub() *hub {
	return &hub{slots: make(map[domain.Role]*mockSignaler)}
}

func (h *hub) join(m *mockSignaler, role domain.Role) {
	h.mu.Lock()
	h.next++
	m.id = domain.PeerHandle(fmt.Sprintf("sock-%d", h.next))
	m.role = role
	h.slots[role] = m
	var other *mockSignaler
	for r, s := range h.slots {
		if r != role {
			other = s
		}
	}
	h.mu.Unlock()

	m.h.OnRoomJoined(m.id, "")
	if other != nil {
		other.h.OnPeerJoined(m.id)
	}
}

func (h *hub) forward(from *mockSignaler, target domain.PeerHandle, deliver func(domain.Handler)) {
	h.mu.Lock()
	var to *mockSignaler
	for _, s := range h.slots {
		if s.id == target && s != from {
			to = s
		}
	}
	h.mu.Unlock()
	if to != nil {
		deliver(to.h)
	}
}

// harness runs one coordinator against mocks.
type harness struct {
	c       *Coordinator
	stream  *mockStream
	media   *mockMedia
	sigs    *signalerFactory
	sess    *mockSession
	obs     *recordingObserver
	clock   *fakeClock
	backend *mockBackend
	cancel  context.CancelFunc
	result  chan error
}

func newHarness(t *testing.T, cfg Config, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		stream:  &mockStream{},
		sigs:    &signalerFactory{},
		obs:     newRecordingObserver(),
		clock:   &fakeClock{},
		backend: &mockBackend{},
		result:  make(chan error, 1),
	}
	h.media = &mockMedia{stream: h.stream}
	if cfg.Room == "" {
		cfg.Room = "room-1"
	}
	if cfg.Role == "" {
		cfg.Role = domain.RoleCandidate
	}
	opts = append([]Option{WithObserver(h.obs)}, opts...)
	h.c = New(cfg, h.media, h.sigs.build, func(q *ice.Queue) Session {
		h.sess = newMockSession(q)
		return h.sess
	}, opts...)
	h.c.after = h.clock.after
	return h
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() { h.result <- h.c.Run(ctx) }()
	t.Cleanup(cancel)
}

// joined starts the coordinator and waits until it sent join-room.
func (h *harness) joined(t *testing.T) *mockSignaler {
	t.Helper()
	h.start(t)
	eventually(t, "join-room sent", func() bool {
		return h.sigs.count() > 0 && h.sigs.last().count("join") == 1
	})
	return h.sigs.last()
}

func (h *harness) wait(t *testing.T) error {
	t.Helper()
	select {
	case err := <-h.result:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("coordinator did not stop")
		return nil
	}
}

func (h *harness) expectState(t *testing.T, want State) {
	t.Helper()
	if got := h.c.State(); got != want {
		t.Fatalf("expected state %s, got %s", want, got)
	}
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
