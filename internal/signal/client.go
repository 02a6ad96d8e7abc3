package signal

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"interview_room/native/internal/domain"

	"github.com/gorilla/websocket"
)

var (
	// ErrNotConnected is returned by sends while the connection is down.
	ErrNotConnected = errors.New("signaling not connected")
	// ErrClosed is returned by Connect after Close. Reconnects use a new Client.
	ErrClosed = errors.New("signaling client closed")
)

const (
	defaultHandshakeTimeout = 10 * time.Second
	defaultPingInterval     = 25 * time.Second
	writeWait               = 5 * time.Second
)

// Options configures a Client.
type Options struct {
	URL              string
	Token            string
	HandshakeTimeout time.Duration
	PingInterval     time.Duration
	// PongWait bounds the silence tolerated from the server. Defaults to
	// twice PingInterval.
	PongWait time.Duration
}

// Client is one signaling connection to the room server. It is never
// reused: after a disconnect the owner builds a new Client.
type Client struct {
	opts    Options
	handler domain.Handler

	mu      sync.Mutex // serializes writes and guards the fields below
	conn    *websocket.Conn
	dialing net.Conn
	state   domain.ConnState
	id      domain.PeerHandle

	closed         chan struct{}
	closeOnce      sync.Once
	disconnectOnce sync.Once
}

// NewClient creates a signaling client delivering events to handler.
func NewClient(opts Options, handler domain.Handler) *Client {
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = defaultHandshakeTimeout
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = defaultPingInterval
	}
	if opts.PongWait <= opts.PingInterval {
		opts.PongWait = 2 * opts.PingInterval
	}
	return &Client{
		opts:    opts,
		handler: handler,
		state:   domain.ConnDisconnected,
		closed:  make(chan struct{}),
	}
}

// Connect dials the signaling WebSocket and starts the read and ping loops.
// It is a no-op while already connected. The lock is not held during the
// dial, so Close aborts a dial in progress.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.isClosed() {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.state == domain.ConnConnected || c.state == domain.ConnConnecting {
		c.mu.Unlock()
		return nil
	}
	c.state = domain.ConnConnecting
	c.mu.Unlock()

	log.Printf("[signal] connecting to %s", c.opts.URL)

	dialCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-c.closed:
			cancel()
		case <-dialCtx.Done():
		}
	}()

	header := http.Header{}
	if c.opts.Token != "" {
		header.Set("Authorization", "Bearer "+c.opts.Token)
	}
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: c.opts.HandshakeTimeout,
		NetDialContext:   c.netDial,
	}
	conn, _, err := dialer.DialContext(dialCtx, c.opts.URL, header)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.dialing = nil
	if c.isClosed() {
		if conn != nil {
			conn.Close()
		}
		return ErrClosed
	}
	if err != nil {
		c.state = domain.ConnDisconnected
		return fmt.Errorf("websocket dial: %w", err)
	}
	c.conn = conn
	c.state = domain.ConnConnected

	go c.readLoop(conn)
	go c.pingLoop(conn)

	return nil
}

// netDial remembers the raw connection of a dial in progress so Close can
// break a stalled handshake.
func (c *Client) netDial(ctx context.Context, network, addr string) (net.Conn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, network, addr)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.isClosed() {
		conn.Close()
		return nil, ErrClosed
	}
	c.dialing = conn
	return conn, nil
}

// Close shuts the connection down without notifying the handler.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.mu.Lock()
		defer c.mu.Unlock()
		c.state = domain.ConnDisconnected
		if c.dialing != nil {
			c.dialing.Close()
		}
		if c.conn != nil {
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			c.conn.Close()
		}
	})
}

// Connected reports whether the connection is up.
func (c *Client) Connected() bool {
	return c.State() == domain.ConnConnected
}

func (c *Client) State() domain.ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ID is the server-assigned id of this connection, known after room-joined.
func (c *Client) ID() domain.PeerHandle {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id
}

func (c *Client) send(m Message) error {
	data, err := Encode(m)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil || c.state != domain.ConnConnected {
		return ErrNotConnected
	}
	log.Printf("[signal] >>> %s", m.Event())
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write %s: %w", m.Event(), err)
	}
	return nil
}

func (c *Client) Join(room domain.RoomID, role domain.Role, displayName string) error {
	return c.send(JoinRoom{RoomID: room, Role: role, UserName: displayName})
}

func (c *Client) SendOffer(target domain.PeerHandle, offer domain.SessionDescription) error {
	return c.send(Offer{TargetID: target, Offer: offer})
}

func (c *Client) SendAnswer(target domain.PeerHandle, answer domain.SessionDescription) error {
	return c.send(Answer{TargetID: target, Answer: answer})
}

func (c *Client) SendICECandidate(target domain.PeerHandle, candidate domain.ICECandidate) error {
	return c.send(ICECandidate{TargetID: target, Candidate: candidate})
}

func (c *Client) SendAlert(room domain.RoomID, alert domain.AlertEvent) error {
	return c.send(Alert{RoomID: room, Alert: alert})
}

func (c *Client) SendEndInterview(room domain.RoomID) error {
	return c.send(EndInterview{RoomID: room})
}

func (c *Client) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// disconnect marks the connection lost and notifies the handler once.
// A local Close suppresses the notification.
func (c *Client) disconnect(reason string) {
	if c.isClosed() {
		return
	}
	c.disconnectOnce.Do(func() {
		c.mu.Lock()
		c.state = domain.ConnDisconnected
		if c.conn != nil {
			c.conn.Close()
		}
		c.mu.Unlock()

		log.Printf("[signal] disconnected: %s", reason)
		c.handler.OnDisconnect(reason)
	})
}

// readLoop expects a pong or a message within PongWait; a server that goes
// silent is reported as a disconnect.
func (c *Client) readLoop(conn *websocket.Conn) {
	conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !c.isClosed() {
				log.Printf("[signal] read error: %v", err)
			}
			c.disconnect("transport close")
			return
		}

		conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))

		msg, err := Decode(data)
		if err != nil {
			log.Printf("[signal] skipping frame: %v", err)
			continue
		}
		log.Printf("[signal] <<< %s", msg.Event())

		if !c.dispatch(msg) {
			return
		}
	}
}

// dispatch delivers msg to the handler. It reports false when the server
// ended the connection.
func (c *Client) dispatch(msg Message) bool {
	if c.isClosed() {
		return false
	}

	switch m := msg.(type) {
	case *RoomJoined:
		c.mu.Lock()
		c.id = m.SocketID
		c.mu.Unlock()
		c.handler.OnRoomJoined(m.SocketID, m.OtherPeerID)

	case *PeerJoined:
		c.handler.OnPeerJoined(m.SocketID)

	case *PeerLeft:
		c.handler.OnPeerLeft(m.SocketID)

	case *Offer:
		c.handler.OnOffer(m.SenderID, m.Offer)

	case *Answer:
		c.handler.OnAnswer(m.SenderID, m.Answer)

	case *ICECandidate:
		c.handler.OnRemoteICECandidate(m.SenderID, m.Candidate)

	case *Alert:
		c.handler.OnAlert(m.Alert)

	case *InterviewEnded:
		c.handler.OnInterviewEnded()

	case *Disconnect:
		c.disconnect(m.Reason)
		return false

	default:
		log.Printf("[signal] unhandled event: %s", msg.Event())
	}
	return true
}

func (c *Client) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.closed:
			return
		case <-ticker.C:
			c.mu.Lock()
			if c.state != domain.ConnConnected {
				c.mu.Unlock()
				return
			}
			err := conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(writeWait))
			c.mu.Unlock()
			if err != nil {
				if !c.isClosed() {
					log.Printf("[signal] ping error: %v", err)
				}
				return
			}
		}
	}
}
