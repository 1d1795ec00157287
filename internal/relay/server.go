package relay

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/vominhhoang308/claude-mobile/internal/wire"
	"github.com/vominhhoang308/claude-mobile/pkg/logger"
)

const (
	// deadTimeout closes a socket that produced no frames for this long.
	deadTimeout = 90 * time.Second
	// pairWaitTimeout bounds how long an unpaired mobile may idle.
	pairWaitTimeout = 60 * time.Second
	// writeWait bounds every single write.
	writeWait = 10 * time.Second
)

// Application close codes.
const (
	CloseInvalidClassification = 4000
	CloseSessionExpired        = 4001
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Pairing-code possession is the auth boundary, not origin.
	},
}

// Server terminates every WebSocket of the relay, classifies each
// connection from its URL query, and multiplexes frames between paired
// peers through the Registry.
type Server struct {
	registry *Registry
}

// NewServer creates a relay server around a fresh registry.
func NewServer() *Server {
	return &Server{registry: NewRegistry()}
}

// Registry exposes the lookup tables (used by the /healthz counters).
func (s *Server) Registry() *Registry {
	return s.registry
}

// HandleWebSocket upgrades and classifies one connection.
func (s *Server) HandleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Debugf("[Relay] upgrade failed: %v", err)
		return
	}
	p := &peer{conn: conn}

	query := c.Request.URL.Query()
	switch query.Get("type") {
	case "agent":
		identity := query.Get("agentToken")
		if identity == "" {
			p.closeWith(CloseInvalidClassification, "missing agentToken")
			return
		}
		s.serveAgent(p, identity)
	case "mobile":
		if token := query.Get("sessionToken"); token != "" {
			s.serveMobileResume(p, token)
		} else {
			s.serveMobilePairing(p)
		}
	default:
		p.closeWith(CloseInvalidClassification, "unknown connection type")
	}
}

// serveAgent runs the agent-side state machine: AGENT_CONNECTED until
// agent_register, then AGENT_REGISTERED with sessionId routing.
func (s *Server) serveAgent(p *peer, identity string) {
	defer p.Close()

	registered := false
	defer func() {
		if registered {
			s.registry.DropAgentConn(identity, p)
			logger.Infof("[Relay] agent away: %s", identity)
		}
	}()

	for {
		_ = p.conn.SetReadDeadline(time.Now().Add(deadTimeout))
		_, data, err := p.conn.ReadMessage()
		if err != nil {
			logger.Debugf("[Relay] agent read: %v", err)
			return
		}

		env, err := wire.Peek(data)
		if err != nil {
			continue // malformed JSON is dropped silently
		}

		switch env.Type {
		case wire.TypeAgentRegister:
			code, displaced := s.registry.RegisterAgent(identity, p)
			registered = true
			if displaced != nil {
				_ = displaced.Close()
			}
			logger.Infof("[Relay] agent registered: %s", identity)
			_ = p.writeJSON(wire.RegisterOK{Type: wire.TypeRegisterOK, PairingCode: code})

		default:
			if !registered || env.SessionID == "" || env.SessionID == wire.HeartbeatSession {
				continue
			}
			mobile := s.registry.MobileConnFor(identity, env.SessionID)
			if mobile == nil {
				continue // no live mobile socket: drop, never buffer
			}
			if err := mobile.WriteMessage(websocket.TextMessage, data); err != nil {
				logger.Debugf("[Relay] forward to mobile failed: %v", err)
			}
		}
	}
}

// serveMobilePairing runs PAIR_WAIT: the socket stays open across bad
// codes, bounded by the idle timeout.
func (s *Server) serveMobilePairing(p *peer) {
	for {
		_ = p.conn.SetReadDeadline(time.Now().Add(pairWaitTimeout))
		_, data, err := p.conn.ReadMessage()
		if err != nil {
			p.Close()
			return
		}

		env, err := wire.Peek(data)
		if err != nil || env.Type != wire.TypeMobileConnect {
			continue
		}

		var connect wire.MobileConnect
		if err := json.Unmarshal(data, &connect); err != nil {
			continue
		}

		token, ok := s.registry.Pair(connect.PairingCode, p)
		if !ok {
			_ = p.writeJSON(wire.Error{Type: wire.TypeError, Message: "Invalid or expired pairing code"})
			continue
		}

		logger.Infof("[Relay] paired session %s", token)
		_ = p.writeJSON(wire.SessionOK{Type: wire.TypeSessionOK, SessionToken: token})
		s.servePaired(p, token)
		return
	}
}

// serveMobileResume re-attaches a returning mobile to its session.
func (s *Server) serveMobileResume(p *peer, token string) {
	displaced, ok := s.registry.Resume(token, p)
	if !ok {
		_ = p.writeJSON(wire.Error{Type: wire.TypeError, Message: "Session expired — reconnect"})
		p.closeWith(CloseSessionExpired, "session expired")
		return
	}
	if displaced != nil {
		_ = displaced.Close()
	}
	logger.Debugf("[Relay] session resumed: %s", token)
	s.servePaired(p, token)
}

// servePaired runs the PAIRED state: frames are restamped with the
// bound session token and forwarded to the agent. invalidate_pairing
// is intercepted.
func (s *Server) servePaired(p *peer, token string) {
	defer p.Close()
	defer s.registry.DropMobileConn(token, p)

	for {
		_ = p.conn.SetReadDeadline(time.Now().Add(deadTimeout))
		_, data, err := p.conn.ReadMessage()
		if err != nil {
			logger.Debugf("[Relay] mobile read: %v", err)
			return
		}

		env, err := wire.Peek(data)
		if err != nil {
			continue
		}

		if env.Type == wire.TypeInvalidatePairing {
			result, ok := s.registry.Invalidate(token)
			if ok && result.AgentConn != nil {
				data, err := json.Marshal(wire.RegisterOK{Type: wire.TypeRegisterOK, PairingCode: result.NewCode})
				if err == nil {
					_ = result.AgentConn.WriteMessage(websocket.TextMessage, data)
				}
			}
			logger.Infof("[Relay] session invalidated: %s", token)
			p.closeWith(websocket.CloseNormalClosure, "pairing invalidated")
			return
		}

		stamped, err := wire.Stamp(data, token)
		if err != nil {
			continue
		}

		agent := s.registry.AgentConnFor(token)
		if agent == nil {
			_ = p.writeJSON(wire.Error{Type: wire.TypeError, SessionID: token, Message: "Agent disconnected"})
			continue
		}
		if err := agent.WriteMessage(websocket.TextMessage, stamped); err != nil {
			logger.Debugf("[Relay] forward to agent failed: %v", err)
		}
	}
}

// peer wraps a gorilla connection with a write mutex so the registry
// may route frames to it from other sockets' read loops.
type peer struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (p *peer) WriteMessage(messageType int, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	_ = p.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return p.conn.WriteMessage(messageType, data)
}

func (p *peer) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return p.WriteMessage(websocket.TextMessage, data)
}

// closeWith sends a close frame with the given code, then closes.
func (p *peer) closeWith(code int, reason string) {
	message := websocket.FormatCloseMessage(code, reason)
	p.mu.Lock()
	_ = p.conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = p.conn.WriteMessage(websocket.CloseMessage, message)
	p.mu.Unlock()
	_ = p.conn.Close()
}

func (p *peer) Close() error {
	return p.conn.Close()
}
