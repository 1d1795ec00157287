// Package task executes inbound session requests on the agent: chat
// invocations that stream tool output, autonomous tasks that end in a
// pushed branch and a pull request, and repository listings.
package task

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/vominhhoang308/claude-mobile/internal/agent/forge"
	"github.com/vominhhoang308/claude-mobile/internal/agent/runner"
	"github.com/vominhhoang308/claude-mobile/internal/agent/workspace"
	"github.com/vominhhoang308/claude-mobile/internal/wire"
	"github.com/vominhhoang308/claude-mobile/pkg/logger"
)

// Sender delivers frames toward the mobile. Send reports false when
// the relay socket is down; outbound frames are dropped, not buffered.
type Sender interface {
	Send(v any) bool
}

// Workspace is the working-copy manager surface the pipeline needs.
type Workspace interface {
	Acquire(fullName string) (release func())
	Ensure(ctx context.Context, fullName string) (string, error)
	Checkout(ctx context.Context, dir, branch string) error
	CreateBranch(ctx context.Context, dir, branch string) error
	HasChanges(ctx context.Context, dir string) (bool, error)
	CommitAll(ctx context.Context, dir, message string) error
	Push(ctx context.Context, dir, branch string) error
}

// Forge is the forge-API surface the pipeline needs.
type Forge interface {
	ListRepos(ctx context.Context) ([]wire.Repository, error)
	CreatePull(ctx context.Context, repoFullName, title, body, head, base string) (*forge.PullRequest, error)
}

// Runner invokes the code tool.
type Runner interface {
	Run(ctx context.Context, dir, prompt string, onChunk func(text string)) error
}

// Notifier is poked after a successful task. Implementations must be
// best-effort; delivery failures never affect the pipeline.
type Notifier interface {
	TaskDone(ctx context.Context, sessionID, title, url string)
}

// Pipeline dispatches inbound frames and runs each request as its own
// unit of execution. Requests for different sessions proceed in
// parallel; same-repository requests serialize inside the workspace.
type Pipeline struct {
	ctx      context.Context
	sender   Sender
	ws       Workspace
	forge    Forge
	runner   Runner
	notifier Notifier
}

// New assembles a pipeline. ctx is the agent's lifetime: cancelling it
// kills in-flight children. notifier may be nil.
func New(ctx context.Context, sender Sender, ws Workspace, f Forge, r Runner, notifier Notifier) *Pipeline {
	return &Pipeline{
		ctx:      ctx,
		sender:   sender,
		ws:       ws,
		forge:    f,
		runner:   r,
		notifier: notifier,
	}
}

// HandleFrame is registered on the relay client; it dispatches every
// inbound frame by type. Unknown types are ignored.
func (p *Pipeline) HandleFrame(frame map[string]any) {
	kind, _ := frame["type"].(string)

	switch kind {
	case wire.TypePing:
		sessionID, _ := frame["sessionId"].(string)
		p.sender.Send(wire.Pong{Type: wire.TypePong, SessionID: sessionID})

	case wire.TypeRepoList:
		var req wire.RepoList
		if !decode(frame, &req) {
			return
		}
		go p.handleRepoList(req)

	case wire.TypeChatMessage:
		var req wire.ChatMessage
		if !decode(frame, &req) {
			return
		}
		go p.handleChat(req)

	case wire.TypeTaskStart:
		var req wire.TaskStart
		if !decode(frame, &req) {
			return
		}
		go p.handleTask(req)
	}
}

// decode round-trips a generic frame into its typed shape.
func decode(frame map[string]any, out any) bool {
	data, err := json.Marshal(frame)
	if err != nil {
		return false
	}
	return json.Unmarshal(data, out) == nil
}

// handleRepoList answers repo_list with the forge projection.
func (p *Pipeline) handleRepoList(req wire.RepoList) {
	repos, err := p.forge.ListRepos(p.ctx)
	if err != nil {
		logger.Warnf("[Task] repo listing failed: %v", err)
		p.sendError(req.SessionID, err.Error())
		return
	}
	p.sender.Send(wire.RepoListResult{
		Type:      wire.TypeRepoListResult,
		SessionID: req.SessionID,
		Repos:     repos,
	})
}

// handleChat runs the tool interactively, streaming every output chunk
// as it is read. The exit code is ignored; only a failure to spawn is
// surfaced, and then without a stream_end.
func (p *Pipeline) handleChat(req wire.ChatMessage) {
	dir := "."
	if req.RepoFullName != "" {
		release := p.ws.Acquire(req.RepoFullName)
		resolved, err := p.ws.Ensure(p.ctx, req.RepoFullName)
		if err == nil && req.BranchName != "" {
			err = p.ws.Checkout(p.ctx, resolved, req.BranchName)
		}
		release()
		if err != nil {
			p.sendError(req.SessionID, err.Error())
			return
		}
		dir = resolved
	}

	err := p.runner.Run(p.ctx, dir, req.Text, func(text string) {
		p.sender.Send(wire.StreamChunk{Type: wire.TypeStreamChunk, SessionID: req.SessionID, Text: text})
	})

	var spawn *runner.SpawnError
	if errors.As(err, &spawn) {
		p.sendError(req.SessionID, spawn.Error())
		return
	}
	if err != nil {
		logger.Debugf("[Task] chat tool exit: %v", err)
	}

	p.sender.Send(wire.StreamEnd{Type: wire.TypeStreamEnd, SessionID: req.SessionID})
}

// handleTask runs the autonomous path: branch, stream the tool, commit,
// push, return to base, open the pull request. Any failure along the
// way yields exactly one error frame and stops the pipeline.
func (p *Pipeline) handleTask(req wire.TaskStart) {
	release := p.ws.Acquire(req.RepoFullName)
	defer release()

	dir, err := p.ws.Ensure(p.ctx, req.RepoFullName)
	if err != nil {
		p.sendError(req.SessionID, err.Error())
		return
	}

	branch := workspace.BranchName(req.Context, time.Now())
	if err := p.ws.CreateBranch(p.ctx, dir, branch); err != nil {
		p.sendError(req.SessionID, err.Error())
		return
	}

	p.sender.Send(wire.StreamChunk{
		Type:      wire.TypeStreamChunk,
		SessionID: req.SessionID,
		Text:      "Working on branch " + branch + "\n",
	})

	err = p.runner.Run(p.ctx, dir, req.Context, func(text string) {
		p.sender.Send(wire.StreamChunk{Type: wire.TypeStreamChunk, SessionID: req.SessionID, Text: text})
	})
	if err != nil {
		var spawn *runner.SpawnError
		if errors.As(err, &spawn) {
			p.sendError(req.SessionID, spawn.Error())
		} else {
			p.sendError(req.SessionID, "Tool failed: "+err.Error())
		}
		return
	}

	changed, err := p.ws.HasChanges(p.ctx, dir)
	if err != nil {
		p.sendError(req.SessionID, err.Error())
		return
	}
	if !changed {
		p.sendError(req.SessionID, "No changes to commit")
		return
	}

	if err := p.ws.CommitAll(p.ctx, dir, commitMessage(req.Context)); err != nil {
		p.sendError(req.SessionID, err.Error())
		return
	}
	if err := p.ws.Push(p.ctx, dir, branch); err != nil {
		p.sendError(req.SessionID, err.Error())
		return
	}

	// Leave the copy on the base branch so the next refresh
	// fast-forwards cleanly.
	if err := p.ws.Checkout(p.ctx, dir, req.BaseBranch); err != nil {
		p.sendError(req.SessionID, err.Error())
		return
	}

	pr, err := p.forge.CreatePull(p.ctx, req.RepoFullName, prTitle(req.Context), prBody(req.Context, branch), branch, req.BaseBranch)
	if err != nil {
		p.sendError(req.SessionID, err.Error())
		return
	}

	logger.Infof("[Task] pull request opened: %s", pr.URL)
	p.sender.Send(wire.TaskDone{
		Type:      wire.TypeTaskDone,
		SessionID: req.SessionID,
		PRURL:     pr.URL,
		PRTitle:   pr.Title,
	})

	if p.notifier != nil {
		p.notifier.TaskDone(p.ctx, req.SessionID, pr.Title, pr.URL)
	}
}

// sendError emits the single diagnostic frame for a failed request.
func (p *Pipeline) sendError(sessionID, message string) {
	p.sender.Send(wire.Error{Type: wire.TypeError, SessionID: sessionID, Message: message})
}
