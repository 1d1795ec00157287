// Package wire defines the JSON frame catalog spoken between the
// mobile app, the relay, and the agent. Every frame is exactly one
// JSON object carried as one WebSocket text message, with a mandatory
// "type" field. The relay only interprets the control frames; session
// frames pass through it opaquely after sessionId stamping.
package wire

import (
	"encoding/json"
	"time"
)

// Frame type names.
const (
	TypeAgentRegister     = "agent_register"
	TypeRegisterOK        = "register_ok"
	TypeMobileConnect     = "mobile_connect"
	TypeSessionOK         = "session_ok"
	TypeInvalidatePairing = "invalidate_pairing"
	TypeError             = "error"

	TypeRepoList       = "repo_list"
	TypeRepoListResult = "repo_list_result"
	TypeChatMessage    = "chat_message"
	TypeTaskStart      = "task_start"
	TypePing           = "ping"
	TypePong           = "pong"
	TypeStreamChunk    = "stream_chunk"
	TypeStreamEnd      = "stream_end"
	TypeTaskDone       = "task_done"
)

// HeartbeatSession is the sessionId carried by agent keepalive pings.
// Heartbeats terminate at the relay; they are never routed to a mobile.
const HeartbeatSession = "__heartbeat__"

// AgentRegister is sent by an agent right after its socket opens.
type AgentRegister struct {
	Type       string `json:"type"`
	AgentToken string `json:"agentToken"`
	Version    string `json:"version"`
}

// RegisterOK is the relay's reply to agent_register. It is also pushed
// unsolicited when the pairing code rotates after an invalidation.
type RegisterOK struct {
	Type        string `json:"type"`
	PairingCode string `json:"pairingCode"`
}

// MobileConnect redeems a pairing code for a session.
type MobileConnect struct {
	Type        string `json:"type"`
	PairingCode string `json:"pairingCode"`
}

// SessionOK carries the freshly minted session token back to the mobile.
type SessionOK struct {
	Type         string `json:"type"`
	SessionToken string `json:"sessionToken"`
}

// InvalidatePairing tears down the session and rotates the originating
// pairing code.
type InvalidatePairing struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
}

// Error is the single diagnostic frame shape used by all parties.
type Error struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId,omitempty"`
	Message   string `json:"message"`
}

// RepoList asks the agent for the repositories its credential can see.
type RepoList struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
}

// RepoListResult carries the projected repository list.
type RepoListResult struct {
	Type      string       `json:"type"`
	SessionID string       `json:"sessionId"`
	Repos     []Repository `json:"repos"`
}

// ChatMessage runs the code tool interactively, streaming output back.
type ChatMessage struct {
	Type         string `json:"type"`
	SessionID    string `json:"sessionId"`
	Text         string `json:"text"`
	RepoFullName string `json:"repoFullName,omitempty"`
	BranchName   string `json:"branchName,omitempty"`
}

// TaskStart runs an autonomous task ending in a pushed branch and a
// pull request.
type TaskStart struct {
	Type         string `json:"type"`
	SessionID    string `json:"sessionId"`
	Context      string `json:"context"`
	RepoFullName string `json:"repoFullName"`
	BaseBranch   string `json:"baseBranch"`
}

// Ping is an application-level keepalive. The relay forwards session
// pings to the counterparty; the agent answers with Pong.
type Ping struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
}

// Pong answers a Ping.
type Pong struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
}

// StreamChunk carries one captured chunk of child-process output.
type StreamChunk struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
	Text      string `json:"text"`
}

// StreamEnd marks the end of a chat stream.
type StreamEnd struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
}

// TaskDone is the single terminal frame of a successful autonomous task.
type TaskDone struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
	PRURL     string `json:"prUrl"`
	PRTitle   string `json:"prTitle"`
}

// Repository is the fixed projection of a forge repository handed to
// the mobile. Description and Language are null when the forge has none.
type Repository struct {
	ID            int64     `json:"id"`
	FullName      string    `json:"fullName"`
	Description   *string   `json:"description"`
	DefaultBranch string    `json:"defaultBranch"`
	Language      *string   `json:"language"`
	Private       bool      `json:"private"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// Envelope is the part of a frame the relay looks at before routing.
type Envelope struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
}

// Peek extracts the type and sessionId of a raw frame without decoding
// the rest of it.
func Peek(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

// Stamp rewrites the sessionId of a raw frame, preserving every other
// field as-is. Any sessionId the sender supplied is overwritten.
func Stamp(data []byte, sessionID string) ([]byte, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, err
	}
	id, err := json.Marshal(sessionID)
	if err != nil {
		return nil, err
	}
	fields["sessionId"] = id
	return json.Marshal(fields)
}
