package room

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"interview_room/native/internal/alert"
	"interview_room/native/internal/domain"
	"interview_room/native/internal/ice"
)

// ErrReconnectExhausted is reported once every reconnection attempt failed.
var ErrReconnectExhausted = errors.New("could not reconnect to the signaling server")

const (
	defaultReconnectAttempts  = 5
	defaultReconnectDelay     = time.Second
	defaultNegotiationRetries = 3

	storeTimeout   = 2 * time.Second
	backendTimeout = 5 * time.Second
)

// Config describes one participant of one room.
type Config struct {
	Room        domain.RoomID
	Role        domain.Role
	DisplayName string
	Constraints domain.Constraints

	// Zero values select the defaults: 5 attempts, 1s doubling, 3 retries.
	ReconnectAttempts  int
	ReconnectDelay     time.Duration
	NegotiationRetries int
}

// Session is the peer session driven by the coordinator.
type Session interface {
	domain.PeerSession
	SetListener(l domain.SessionListener)
}

// SessionFactory builds the peer session around the coordinator's queue.
type SessionFactory func(q *ice.Queue) Session

// SignalerFactory builds a fresh signaling connection reporting to h.
type SignalerFactory func(h domain.Handler) domain.Signaler

// Observer is the UI boundary. Calls come from the coordinator goroutine
// and must not block.
type Observer interface {
	OnStateChange(s State)
	OnRemoteTrack(track domain.RemoteTrack)
	OnAlert(a domain.AlertEvent)
	OnWarning(err error)
	OnTerminalError(err error)
}

type nopObserver struct{}

func (nopObserver) OnStateChange(State)              {}
func (nopObserver) OnRemoteTrack(domain.RemoteTrack) {}
func (nopObserver) OnAlert(domain.AlertEvent)        {}
func (nopObserver) OnWarning(error)                  {}
func (nopObserver) OnTerminalError(error)            {}

// Option configures a Coordinator.
type Option func(*Coordinator)

func WithObserver(o Observer) Option { return func(c *Coordinator) { c.observer = o } }

func WithStore(s domain.StateStore) Option { return func(c *Coordinator) { c.store = s } }

func WithBackend(b domain.Backend) Option { return func(c *Coordinator) { c.backend = b } }

// Coordinator runs the room state machine for one participant. Every input
// is an event handled on the Run goroutine, so the fields below are owned
// by that goroutine.
type Coordinator struct {
	cfg         Config
	media       domain.MediaSource
	newSignaler SignalerFactory
	session     Session
	queue       *ice.Queue
	relay       *alert.Relay
	observer    Observer
	store       domain.StateStore
	backend     domain.Backend
	after       func(d time.Duration, f func())

	events  chan event
	started chan struct{}
	done    chan struct{}
	postMu  sync.RWMutex // held for writing once, by exit

	// sigMu guards signal for the candidate path, which runs on peer
	// connection goroutines. Only the loop writes signal.
	sigMu  sync.Mutex
	signal domain.Signaler

	ctx          context.Context
	state        State
	err          error
	local        domain.LocalStream
	gen          int
	epoch        int
	self         domain.PeerHandle
	remote       domain.PeerHandle
	attempt      int
	retries      int
	trackArrived bool
	iceUp        bool
	named        bool
	alerts       []domain.AlertEvent
}

// New creates a coordinator. Run starts it.
func New(cfg Config, media domain.MediaSource, newSignaler SignalerFactory, newSession SessionFactory, opts ...Option) *Coordinator {
	if cfg.ReconnectAttempts <= 0 {
		cfg.ReconnectAttempts = defaultReconnectAttempts
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = defaultReconnectDelay
	}
	if cfg.NegotiationRetries <= 0 {
		cfg.NegotiationRetries = defaultNegotiationRetries
	}

	c := &Coordinator{
		cfg:         cfg,
		media:       media,
		newSignaler: newSignaler,
		relay:       alert.NewRelay(cfg.Room),
		observer:    nopObserver{},
		after:       func(d time.Duration, f func()) { time.AfterFunc(d, f) },
		events:      make(chan event, 64),
		started:     make(chan struct{}),
		done:        make(chan struct{}),
		state:       StateIdle,
	}
	c.queue = ice.NewQueue(c.sendCandidate)
	c.session = newSession(c.queue)
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Relay forwards local alerts to the other party.
func (c *Coordinator) Relay() *alert.Relay { return c.relay }

// End ends the interview. Safe to call any number of times, from any goroutine.
func (c *Coordinator) End() {
	c.post(evEnd{})
}

// State returns the current state. Before Run starts it reports Idle; once
// Run has returned it reports the final state.
func (c *Coordinator) State() State {
	select {
	case <-c.started:
	default:
		return StateIdle
	}
	reply := make(chan State, 1)
	if c.post(evQuery{f: func() { reply <- c.state }}) {
		select {
		case s := <-reply:
			return s
		case <-c.done:
		}
	}
	<-c.done
	return c.state
}

// post queues ev for the loop. It reports false once Run has returned; an
// event accepted by post is either handled or released by exit.
func (c *Coordinator) post(ev event) bool {
	c.postMu.RLock()
	defer c.postMu.RUnlock()

	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.events <- ev:
		return true
	case <-c.done:
		return false
	}
}

// exit stops accepting events and releases resources carried by events
// that were queued but never handled.
func (c *Coordinator) exit() {
	close(c.done)
	c.postMu.Lock()
	c.postMu.Unlock()

	for {
		select {
		case ev := <-c.events:
			if e, ok := ev.(evMediaReady); ok {
				e.stream.Stop()
			}
		default:
			return
		}
	}
}

// Run drives the coordinator until the interview ends, a terminal error
// occurs, or ctx is cancelled. Terminal errors are returned.
func (c *Coordinator) Run(ctx context.Context) error {
	defer c.exit()
	c.ctx = ctx
	close(c.started)

	c.restore()
	c.apply(trStart)
	go c.acquire()

	for {
		select {
		case <-ctx.Done():
			c.shutdown()
			return ctx.Err()
		case ev := <-c.events:
			c.handle(ev)
		}

		if c.err != nil {
			c.shutdown()
			return c.err
		}
		if c.state == StateEnded {
			return nil
		}
	}
}

func (c *Coordinator) acquire() {
	log.Printf("[room] acquiring local media")
	stream, err := c.media.Acquire(c.ctx, c.cfg.Constraints)
	if err != nil {
		c.post(evMediaFailed{err: err})
		return
	}
	if !c.post(evMediaReady{stream: stream}) {
		stream.Stop()
	}
}

func (c *Coordinator) handle(ev event) {
	switch e := ev.(type) {
	case evQuery:
		e.f()

	case evMediaReady:
		c.onMediaReady(e.stream)

	case evMediaFailed:
		log.Printf("[room] local media failed: %v", e.err)
		c.apply(trMediaFailed)
		c.fail(e.err)

	case evConnected:
		if e.gen == c.gen {
			c.onConnected()
		}

	case evConnectFailed:
		if e.gen == c.gen {
			c.signalLost(fmt.Sprintf("connect: %v", e.err))
		}

	case evReconnect:
		if e.gen == c.gen && c.state == StateDisconnected {
			c.dial()
		}

	case evWarning:
		c.observer.OnWarning(e.err)

	case evEnd:
		c.finish(true)

	case evRemoteTrack:
		if e.epoch == c.epoch {
			c.onRemoteTrack(e.track)
		}

	case evICEState:
		if e.epoch == c.epoch {
			c.onICEState(e.state)
		}

	case evRenegotiate:
		if e.epoch == c.epoch && e.remote == c.remote {
			c.sendOffer(e.remote, e.offer)
		}

	case evNegotiationError:
		if e.epoch == c.epoch {
			c.negotiationFailed(e.err)
		}

	default:
		c.handleSignal(ev)
	}
}

// handleSignal processes events of the current signaling connection and
// drops those of superseded ones.
func (c *Coordinator) handleSignal(ev event) {
	switch e := ev.(type) {
	case evRoomJoined:
		if e.gen == c.gen {
			c.onRoomJoined(e.self, e.other)
		}
	case evPeerJoined:
		if e.gen == c.gen {
			c.onPeerJoined(e.peer)
		}
	case evPeerLeft:
		if e.gen == c.gen {
			c.onPeerLeft(e.peer)
		}
	case evOffer:
		if e.gen == c.gen {
			c.onOffer(e.from, e.sd)
		}
	case evAnswer:
		if e.gen == c.gen {
			c.onAnswer(e.from, e.sd)
		}
	case evCandidate:
		if e.gen == c.gen {
			c.onCandidate(e.from, e.c)
		}
	case evAlert:
		if e.gen == c.gen {
			c.onAlert(e.alert)
		}
	case evInterviewEnded:
		if e.gen == c.gen {
			log.Printf("[room] interview ended by the other party")
			c.finish(false)
		}
	case evDisconnect:
		if e.gen == c.gen {
			c.signalLost(e.reason)
		}
	default:
		log.Printf("[room] unhandled event %T", ev)
	}
}

func (c *Coordinator) apply(t trigger) {
	next := transition(c.state, t)
	if next == c.state {
		return
	}
	log.Printf("[room] %s -> %s", c.state, next)
	c.state = next
	c.observer.OnStateChange(next)
	c.save()
}

func (c *Coordinator) fail(err error) {
	c.err = err
	c.observer.OnTerminalError(err)
}

func (c *Coordinator) onMediaReady(stream domain.LocalStream) {
	if c.state != StateAcquiringMedia {
		stream.Stop()
		return
	}
	c.local = stream
	c.session.AttachLocalStream(stream)
	c.apply(trMediaReady)
	c.updateName()
	c.dial()
}

// dial starts a new signaling connection generation.
func (c *Coordinator) dial() {
	c.gen++
	sig := c.newSignaler(signalEvents{c: c, gen: c.gen})
	c.setSignaler(sig)

	gen := c.gen
	go func() {
		if err := sig.Connect(c.ctx); err != nil {
			c.post(evConnectFailed{gen: gen, err: err})
			return
		}
		c.post(evConnected{gen: gen})
	}()
}

func (c *Coordinator) onConnected() {
	log.Printf("[room] signaling connected, joining %s as %s", c.cfg.Room, c.cfg.Role)
	c.attempt = 0
	c.apply(trReconnected)
	if err := c.signal.Join(c.cfg.Room, c.cfg.Role, c.cfg.DisplayName); err != nil {
		c.signalLost(fmt.Sprintf("join: %v", err))
	}
}

// signalLost tears down everything tied to the signaling connection and
// schedules a reconnect. Local media keeps running.
func (c *Coordinator) signalLost(reason string) {
	log.Printf("[room] signaling lost: %s", reason)
	c.teardownPeer()
	c.dropSignaler()
	c.apply(trSignalLost)
	c.scheduleReconnect()
}

func (c *Coordinator) dropSignaler() {
	c.relay.SetSignaler(nil)
	if c.signal != nil {
		c.signal.Close()
		c.setSignaler(nil)
	}
	c.gen++
}

func (c *Coordinator) setSignaler(s domain.Signaler) {
	c.sigMu.Lock()
	c.signal = s
	c.sigMu.Unlock()
}

func (c *Coordinator) scheduleReconnect() {
	if c.attempt >= c.cfg.ReconnectAttempts {
		log.Printf("[room] giving up after %d reconnection attempts", c.attempt)
		c.fail(ErrReconnectExhausted)
		return
	}
	delay := c.cfg.ReconnectDelay << c.attempt
	c.attempt++
	log.Printf("[room] reconnecting in %s (attempt %d/%d)", delay, c.attempt, c.cfg.ReconnectAttempts)

	gen := c.gen
	c.after(delay, func() { c.post(evReconnect{gen: gen}) })
}

func (c *Coordinator) onRoomJoined(self, other domain.PeerHandle) {
	c.self = self
	// Alerts only make sense once the server placed us in the room.
	c.relay.SetSignaler(c.signal)
	if other == "" {
		log.Printf("[room] joined %s as %s, waiting for peer", c.cfg.Room, self)
		c.apply(trJoined)
		return
	}
	if other == c.remote {
		return
	}
	log.Printf("[room] joined %s, %s already present", c.cfg.Room, other)
	c.startOffer(other)
}

func (c *Coordinator) onPeerJoined(peer domain.PeerHandle) {
	switch c.state {
	case StateJoiningRoom, StateWaitingForPeer, StateNegotiating, StateConnected:
	default:
		log.Printf("[room] ignoring peer-joined %s in %s", peer, c.state)
		return
	}
	if peer == c.remote {
		log.Printf("[room] duplicate peer-joined for %s", peer)
		return
	}
	log.Printf("[room] peer joined: %s", peer)
	c.startOffer(peer)
}

func (c *Coordinator) onPeerLeft(peer domain.PeerHandle) {
	if peer == "" || peer != c.remote {
		return
	}
	log.Printf("[room] peer %s left", peer)
	c.teardownPeer()
	c.apply(trPeerLost)
}

// startOffer makes this side the offerer towards peer, replacing any
// previous handle.
func (c *Coordinator) startOffer(peer domain.PeerHandle) {
	if c.remote != "" {
		log.Printf("[room] replacing peer %s with %s", c.remote, peer)
		c.teardownPeer()
	}
	c.remote = peer
	c.retries = 0
	c.negotiate()
}

// negotiate recreates the session towards the current handle and sends a
// fresh offer. Local candidates are held until the offer is on the wire.
func (c *Coordinator) negotiate() {
	c.apply(trNegotiate)
	if err := c.recreateSession(); err != nil {
		c.negotiationFailed(err)
		return
	}
	offer, err := c.session.CreateOffer()
	if err != nil {
		c.negotiationFailed(err)
		return
	}
	c.sendOffer(c.remote, offer)
	c.queue.FlushOutgoing(c.remote)
}

func (c *Coordinator) recreateSession() error {
	c.queue.ClearTarget()
	c.trackArrived = false
	c.iceUp = false
	c.epoch++
	c.session.SetListener(sessionEvents{c: c, epoch: c.epoch})
	return c.session.Create(c.remote)
}

func (c *Coordinator) sendOffer(to domain.PeerHandle, offer domain.SessionDescription) {
	if c.signal == nil {
		return
	}
	log.Printf("[room] sending offer to %s", to)
	if err := c.signal.SendOffer(to, offer); err != nil {
		log.Printf("[room] send offer: %v", err)
	}
}

func (c *Coordinator) onOffer(from domain.PeerHandle, offer domain.SessionDescription) {
	switch c.state {
	case StateJoiningRoom, StateWaitingForPeer, StateNegotiating, StateConnected:
	default:
		log.Printf("[room] ignoring offer from %s in %s", from, c.state)
		return
	}
	if c.remote != "" && from != c.remote {
		log.Printf("[room] ignoring stale offer from %s, current peer is %s", from, c.remote)
		return
	}

	fresh := c.remote != from || c.session.Remote() != from
	switch c.session.State() {
	case domain.PeerHaveLocalOffer:
		if c.winsCollision(from) {
			log.Printf("[room] offer collision with %s, keeping ours", from)
			return
		}
		log.Printf("[room] offer collision with %s, answering theirs", from)
		fresh = true
	case domain.PeerClosed, domain.PeerFailed:
		fresh = true
	}

	if c.remote != from {
		c.retries = 0
	}
	c.remote = from
	if fresh {
		c.apply(trNegotiate)
		if err := c.recreateSession(); err != nil {
			c.negotiationFailed(err)
			return
		}
	}

	answer, err := c.session.AcceptOfferAndAnswer(offer)
	if err != nil {
		c.negotiationFailed(err)
		return
	}
	log.Printf("[room] sending answer to %s", from)
	if err := c.signal.SendAnswer(from, answer); err != nil {
		log.Printf("[room] send answer: %v", err)
	}
	c.queue.FlushOutgoing(from)
	c.checkConnected()
}

// winsCollision decides which side keeps its offer when both offered: the
// lower socket id, or the interviewer when the server sent no socket id.
func (c *Coordinator) winsCollision(from domain.PeerHandle) bool {
	if c.self != "" {
		return c.self < from
	}
	return c.cfg.Role == domain.RoleInterviewer
}

func (c *Coordinator) onAnswer(from domain.PeerHandle, answer domain.SessionDescription) {
	if from != c.remote {
		log.Printf("[room] ignoring stale answer from %s", from)
		return
	}
	if err := c.session.AcceptAnswer(answer); err != nil {
		c.negotiationFailed(err)
		return
	}
	c.checkConnected()
}

func (c *Coordinator) onCandidate(from domain.PeerHandle, cand domain.ICECandidate) {
	if c.remote != "" && from != c.remote {
		log.Printf("[room] ignoring stale candidate from %s", from)
		return
	}
	c.session.AddRemoteCandidate(cand)
}

func (c *Coordinator) sendCandidate(target domain.PeerHandle, cand domain.ICECandidate) {
	c.sigMu.Lock()
	sig := c.signal
	c.sigMu.Unlock()
	if sig == nil {
		return
	}
	if err := sig.SendICECandidate(target, cand); err != nil {
		log.Printf("[room] send ice candidate: %v", err)
	}
}

func (c *Coordinator) onRemoteTrack(track domain.RemoteTrack) {
	log.Printf("[room] remote %s track from %s", track.Kind(), c.remote)
	c.observer.OnRemoteTrack(track)
	c.trackArrived = true
	c.checkConnected()
}

func (c *Coordinator) onICEState(state domain.ICEState) {
	switch state {
	case domain.ICEConnected:
		c.iceUp = true
		c.checkConnected()
	case domain.ICEFailed:
		c.iceUp = false
		c.negotiationFailed(errors.New("ice connection failed"))
	case domain.ICEDisconnected:
		c.iceUp = false
		log.Printf("[room] ice disconnected, waiting for recovery")
	}
}

func (c *Coordinator) checkConnected() {
	if c.trackArrived && c.iceUp && c.state == StateNegotiating {
		c.retries = 0
		c.apply(trMediaFlowing)
	}
}

// negotiationFailed retries the whole negotiation towards the same handle,
// up to the configured number of retries. After that the handle is dropped
// and the coordinator waits for the peer to show up again.
func (c *Coordinator) negotiationFailed(err error) {
	log.Printf("[room] negotiation with %s failed: %v", c.remote, err)
	if c.remote == "" {
		return
	}
	if c.retries >= c.cfg.NegotiationRetries {
		c.observer.OnWarning(fmt.Errorf("negotiation with %s failed after %d retries: %w", c.remote, c.retries, err))
		c.teardownPeer()
		c.apply(trPeerLost)
		return
	}
	c.retries++
	log.Printf("[room] retrying negotiation with %s (%d/%d)", c.remote, c.retries, c.cfg.NegotiationRetries)
	c.negotiate()
}

// teardownPeer drops the session, the handle and both candidate queues.
func (c *Coordinator) teardownPeer() {
	c.session.Close()
	c.queue.Reset()
	c.remote = ""
	c.trackArrived = false
	c.iceUp = false
	c.epoch++
}

func (c *Coordinator) onAlert(a domain.AlertEvent) {
	log.Printf("[room] alert %s: %s", a.Type, a.Message)
	c.alerts = append(c.alerts, a)
	c.observer.OnAlert(a)
	c.save()
}

// finish ends the interview. notify sends end-interview to the other party.
func (c *Coordinator) finish(notify bool) {
	if c.state == StateEnded {
		return
	}
	if c.local != nil {
		c.local.Stop()
	}
	c.teardownPeer()
	if notify && c.signal != nil && c.signal.Connected() {
		if err := c.signal.SendEndInterview(c.cfg.Room); err != nil {
			log.Printf("[room] send end-interview: %v", err)
		}
	}
	c.dropSignaler()
	c.apply(trEnd)
	c.completeInterview()
}

// shutdown releases everything without ending the interview.
func (c *Coordinator) shutdown() {
	if c.local != nil {
		c.local.Stop()
	}
	c.teardownPeer()
	if c.signal != nil {
		c.dropSignaler()
	}
}

func (c *Coordinator) updateName() {
	if c.named || c.backend == nil || c.cfg.DisplayName == "" {
		return
	}
	c.named = true
	go func() {
		ctx, cancel := context.WithTimeout(c.ctx, backendTimeout)
		defer cancel()
		if err := c.backend.UpdateParticipantName(ctx, c.cfg.Room, c.cfg.Role, c.cfg.DisplayName); err != nil {
			c.post(evWarning{err: err})
		}
	}()
}

func (c *Coordinator) completeInterview() {
	if c.backend == nil || c.cfg.Role != domain.RoleInterviewer {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.ctx), backendTimeout)
	defer cancel()
	if err := c.backend.CompleteInterview(ctx, c.cfg.Room); err != nil {
		log.Printf("[room] complete interview: %v", err)
		c.observer.OnWarning(err)
	}
}

func (c *Coordinator) save() {
	if c.store == nil {
		return
	}
	snap := domain.Snapshot{
		RoomID:     c.cfg.Room,
		Role:       c.cfg.Role,
		State:      c.state.String(),
		RemotePeer: c.remote,
		Alerts:     c.alerts,
		UpdatedAt:  time.Now().UTC(),
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.ctx), storeTimeout)
	defer cancel()
	if err := c.store.Save(ctx, snap); err != nil {
		log.Printf("[room] save state: %v", err)
	}
}

func (c *Coordinator) restore() {
	if c.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(c.ctx, storeTimeout)
	defer cancel()
	snap, err := c.store.Load(ctx, c.cfg.Room, c.cfg.Role)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			log.Printf("[room] load state: %v", err)
		}
		return
	}
	log.Printf("[room] restored %d alerts for %s", len(snap.Alerts), c.cfg.Room)
	c.alerts = append(c.alerts, snap.Alerts...)
	for _, a := range snap.Alerts {
		c.observer.OnAlert(a)
	}
}
