// Package signalserver is a reference signaling server for two-party
// interview rooms. Each room holds one connection per role.
package signalserver

import (
	"log"
	"net/http"
	"sync"
	"time"

	"interview_room/native/internal/domain"
	"interview_room/native/internal/signal"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	sendBuffer = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origin checking is handled by OriginFilter
		return true
	},
}

// Server pairs interviewer and candidate connections and relays their
// signaling messages.
type Server struct {
	jwtSecret string

	mu    sync.Mutex
	rooms map[domain.RoomID]*room
}

type room struct {
	id    domain.RoomID
	slots map[domain.Role]*peer
}

// peer is one WebSocket connection.
type peer struct {
	id     domain.PeerHandle
	claims *Claims
	conn   *websocket.Conn
	send   chan []byte

	// Set once the connection joined, guarded by Server.mu.
	room domain.RoomID
	role domain.Role

	mu     sync.Mutex
	closed bool
}

// New creates a server. A non-empty jwtSecret requires a valid token on /ws.
func New(jwtSecret string) *Server {
	return &Server{
		jwtSecret: jwtSecret,
		rooms:     make(map[domain.RoomID]*room),
	}
}

// Register mounts /health and /ws on r.
func (s *Server) Register(r gin.IRoutes) {
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "rooms": s.roomCount()})
	})
	r.GET("/ws", s.handleWS)
}

func (s *Server) roomCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rooms)
}

func (s *Server) handleWS(c *gin.Context) {
	var claims *Claims
	if s.jwtSecret != "" {
		token, err := bearerToken(c)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		if claims, err = parseToken(s.jwtSecret, token); err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
			return
		}
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("[signald] upgrade failed: %v", err)
		return
	}

	p := &peer{
		id:     domain.PeerHandle(uuid.New().String()),
		claims: claims,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
	}
	log.Printf("[signald] connection %s from %s", p.id, c.ClientIP())

	go p.writePump()
	go s.readPump(p)
}

func (s *Server) readPump(p *peer) {
	defer func() {
		s.leave(p)
		p.close()
		log.Printf("[signald] connection %s closed", p.id)
	}()

	p.conn.SetReadDeadline(time.Now().Add(pongWait))
	p.conn.SetPongHandler(func(string) error {
		p.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, frame, err := p.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Printf("[signald] read %s: %v", p.id, err)
			}
			return
		}

		msg, err := signal.Decode(frame)
		if err != nil {
			log.Printf("[signald] %s: %v", p.id, err)
			continue
		}
		s.handle(p, msg)
	}
}

func (s *Server) handle(p *peer, msg signal.Message) {
	switch m := msg.(type) {
	case *signal.JoinRoom:
		s.join(p, m)
	case *signal.Offer:
		s.forward(p, m.TargetID, signal.Offer{SenderID: p.id, Offer: m.Offer})
	case *signal.Answer:
		s.forward(p, m.TargetID, signal.Answer{SenderID: p.id, Answer: m.Answer})
	case *signal.ICECandidate:
		s.forward(p, m.TargetID, signal.ICECandidate{SenderID: p.id, Candidate: m.Candidate})
	case *signal.Alert:
		s.toOther(p, func(room domain.RoomID) signal.Message {
			return signal.Alert{RoomID: room, Alert: m.Alert}
		})
	case *signal.EndInterview:
		s.toOther(p, func(room domain.RoomID) signal.Message {
			return signal.InterviewEnded{RoomID: room}
		})
	default:
		log.Printf("[signald] %s: unexpected %s from client", p.id, msg.Event())
	}
}

func (s *Server) join(p *peer, m *signal.JoinRoom) {
	if m.RoomID == "" {
		p.reject("roomId is required")
		return
	}
	role, err := domain.ParseRole(string(m.Role))
	if err != nil {
		p.reject(err.Error())
		return
	}
	if !p.claims.allows(m.RoomID, role) {
		p.reject("token not valid for this room")
		return
	}

	s.mu.Lock()
	if p.room != "" {
		s.mu.Unlock()
		log.Printf("[signald] %s already joined %s, ignoring join", p.id, p.room)
		return
	}

	r, ok := s.rooms[m.RoomID]
	if !ok {
		r = &room{id: m.RoomID, slots: make(map[domain.Role]*peer)}
		s.rooms[m.RoomID] = r
		log.Printf("[signald] created room %s", m.RoomID)
	}

	replaced := r.slots[role]
	r.slots[role] = p
	p.room, p.role = m.RoomID, role
	other := r.slots[otherRole(role)]
	s.mu.Unlock()

	if replaced != nil {
		log.Printf("[signald] %s replaces %s as %s in %s", p.id, replaced.id, role, m.RoomID)
		replaced.sendMessage(signal.Disconnect{Reason: "replaced by a new connection"})
		replaced.close()
	}

	log.Printf("[signald] %s (%s, %q) joined %s", p.id, role, m.UserName, m.RoomID)
	p.sendMessage(signal.RoomJoined{SocketID: p.id})

	// Only the occupant learns of the pairing, so exactly one side offers.
	if other != nil {
		other.sendMessage(signal.PeerJoined{SocketID: p.id})
	}
}

func (s *Server) leave(p *peer) {
	s.mu.Lock()
	r, ok := s.rooms[p.room]
	if !ok || r.slots[p.role] != p {
		s.mu.Unlock()
		return
	}
	delete(r.slots, p.role)
	other := r.slots[otherRole(p.role)]
	if len(r.slots) == 0 {
		delete(s.rooms, r.id)
		log.Printf("[signald] removed empty room %s", r.id)
	}
	s.mu.Unlock()

	if other != nil {
		other.sendMessage(signal.PeerLeft{SocketID: p.id})
	}
}

// forward delivers msg to target if it is in the sender's room.
func (s *Server) forward(p *peer, target domain.PeerHandle, msg signal.Message) {
	s.mu.Lock()
	var dst *peer
	if r, ok := s.rooms[p.room]; ok && p.room != "" {
		for _, q := range r.slots {
			if q.id == target && q != p {
				dst = q
			}
		}
	}
	s.mu.Unlock()

	if dst == nil {
		log.Printf("[signald] %s: %s target %s not in room", p.id, msg.Event(), target)
		return
	}
	dst.sendMessage(msg)
}

// toOther sends the message built by build to the other slot of p's room.
func (s *Server) toOther(p *peer, build func(domain.RoomID) signal.Message) {
	s.mu.Lock()
	var dst *peer
	if r, ok := s.rooms[p.room]; ok && r.slots[p.role] == p {
		dst = r.slots[otherRole(p.role)]
	}
	id := p.room
	s.mu.Unlock()

	if dst == nil {
		return
	}
	dst.sendMessage(build(id))
}

func otherRole(r domain.Role) domain.Role {
	if r == domain.RoleInterviewer {
		return domain.RoleCandidate
	}
	return domain.RoleInterviewer
}

func (p *peer) sendMessage(msg signal.Message) {
	data, err := signal.Encode(msg)
	if err != nil {
		log.Printf("[signald] encode %s: %v", msg.Event(), err)
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	select {
	case p.send <- data:
	default:
		log.Printf("[signald] send buffer full for %s", p.id)
	}
}

func (p *peer) reject(reason string) {
	log.Printf("[signald] rejecting join from %s: %s", p.id, reason)
	p.sendMessage(signal.Disconnect{Reason: reason})
	p.close()
}

// close stops the write pump, which flushes queued messages and closes the
// connection.
func (p *peer) close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.send)
	}
}

func (p *peer) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		p.conn.Close()
	}()

	for {
		select {
		case message, ok := <-p.send:
			p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				p.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}

			if err := p.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Printf("[signald] write %s: %v", p.id, err)
				return
			}

		case <-ticker.C:
			p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
