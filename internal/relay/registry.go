package relay

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Conn is the subset of a WebSocket connection the registry routes to.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// AgentEntry tracks one registered agent. The entry outlives the
// agent's socket: Conn is nil while the agent is away, so the pairing
// code survives brief outages.
type AgentEntry struct {
	Identity    string
	PairingCode string
	Conn        Conn
	ConnectedAt time.Time
}

// Session binds one mobile to one agent. Mobile is nil while the
// mobile has no live socket; the session itself survives the drop.
type Session struct {
	Token         string
	AgentIdentity string
	PairingCode   string
	Mobile        Conn
}

// Registry owns every lookup table of the relay. All mutation happens
// under one mutex: register, pair, and invalidate each touch several
// tables and must be atomic with respect to each other.
type Registry struct {
	mu       sync.Mutex
	agents   map[string]*AgentEntry // identity -> entry
	codes    map[string]string      // pairing code -> identity
	sessions map[string]*Session    // session token -> session
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		agents:   make(map[string]*AgentEntry),
		codes:    make(map[string]string),
		sessions: make(map[string]*Session),
	}
}

// RegisterAgent records a live socket for the identity and returns the
// agent's pairing code, issuing a fresh one on first registration. A
// re-registration displaces the previous socket (returned so the
// caller can close it) without touching the code.
func (r *Registry) RegisterAgent(identity string, conn Conn) (code string, displaced Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry := r.agents[identity]
	if entry == nil {
		entry = &AgentEntry{
			Identity:    identity,
			PairingCode: r.newCodeLocked(),
		}
		r.agents[identity] = entry
		r.codes[entry.PairingCode] = identity
	}

	displaced = entry.Conn
	entry.Conn = conn
	entry.ConnectedAt = time.Now()
	return entry.PairingCode, displaced
}

// DropAgentConn clears the live socket of an agent. The conn argument
// guards against a stale reader goroutine clearing a newer socket.
func (r *Registry) DropAgentConn(identity string, conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if entry := r.agents[identity]; entry != nil && entry.Conn == conn {
		entry.Conn = nil
	}
}

// Pair redeems a pairing code, minting a fresh session bound to the
// code's agent. The code stays valid: it may be redeemed again by
// another mobile, yielding a distinct session.
func (r *Registry) Pair(code string, mobile Conn) (token string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	identity, ok := r.codes[code]
	if !ok {
		return "", false
	}

	token = uuid.NewString()
	r.sessions[token] = &Session{
		Token:         token,
		AgentIdentity: identity,
		PairingCode:   code,
		Mobile:        mobile,
	}
	return token, true
}

// Resume re-attaches a returning mobile socket to its session. Returns
// false when the token was never issued or has been invalidated.
func (r *Registry) Resume(token string, mobile Conn) (displaced Conn, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, ok := r.sessions[token]
	if !ok {
		return nil, false
	}
	displaced = session.Mobile
	session.Mobile = mobile
	return displaced, true
}

// DropMobileConn clears the session's socket pointer. The session
// itself is kept so the mobile can resume later. The conn argument
// guards against a stale reader racing a resume.
func (r *Registry) DropMobileConn(token string, conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if session := r.sessions[token]; session != nil && session.Mobile == conn {
		session.Mobile = nil
	}
}

// InvalidateResult describes the outcome of a pairing invalidation.
type InvalidateResult struct {
	// NewCode is the rotated pairing code, empty when the agent entry
	// was removed because the agent was absent.
	NewCode string
	// AgentConn is the agent's live socket, nil when the agent is away.
	AgentConn Conn
}

// Invalidate tears down the session, revokes its originating pairing
// code, revokes every other session derived from that code, and rotates
// the code for the agent. When the agent is absent the entry is
// removed entirely; its next registration starts from scratch.
func (r *Registry) Invalidate(token string) (InvalidateResult, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, ok := r.sessions[token]
	if !ok {
		return InvalidateResult{}, false
	}

	code := session.PairingCode
	for tok, s := range r.sessions {
		if s.PairingCode == code {
			delete(r.sessions, tok)
		}
	}
	delete(r.codes, code)

	entry := r.agents[session.AgentIdentity]
	if entry == nil {
		return InvalidateResult{}, true
	}
	if entry.Conn == nil {
		delete(r.agents, session.AgentIdentity)
		return InvalidateResult{}, true
	}

	entry.PairingCode = r.newCodeLocked()
	r.codes[entry.PairingCode] = entry.Identity
	return InvalidateResult{NewCode: entry.PairingCode, AgentConn: entry.Conn}, true
}

// AgentConnFor returns the live agent socket for a session token, or
// nil when either the session or the agent socket is gone.
func (r *Registry) AgentConnFor(token string) Conn {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, ok := r.sessions[token]
	if !ok {
		return nil
	}
	entry := r.agents[session.AgentIdentity]
	if entry == nil {
		return nil
	}
	return entry.Conn
}

// MobileConnFor returns the live mobile socket bound to a session
// token, provided the frame really originates from the named agent.
// Frames bearing a token of another agent's session are dropped by
// returning nil.
func (r *Registry) MobileConnFor(agentIdentity, token string) Conn {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, ok := r.sessions[token]
	if !ok || session.AgentIdentity != agentIdentity {
		return nil
	}
	return session.Mobile
}

// SessionExists reports whether a token is currently live.
func (r *Registry) SessionExists(token string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.sessions[token]
	return ok
}

// Counts returns the number of known agents and live sessions.
func (r *Registry) Counts() (agents, sessions int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.agents), len(r.sessions)
}

// newCodeLocked draws six-digit codes until one does not collide with
// a live code. Leading zeros are legal; codes are strings end to end.
func (r *Registry) newCodeLocked() string {
	for {
		n, err := rand.Int(rand.Reader, big.NewInt(1000000))
		if err != nil {
			// crypto/rand never fails on supported platforms; if it
			// does, there is no safe fallback for an auth secret.
			panic(fmt.Sprintf("pairing code generation: %v", err))
		}
		code := fmt.Sprintf("%06d", n.Int64())
		if _, taken := r.codes[code]; !taken {
			return code
		}
	}
}
