package task

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vominhhoang308/claude-mobile/internal/agent/forge"
	"github.com/vominhhoang308/claude-mobile/internal/agent/runner"
	"github.com/vominhhoang308/claude-mobile/internal/wire"
)

// fakeSender records every outbound frame.
type fakeSender struct {
	mu     sync.Mutex
	frames []any
}

func (f *fakeSender) Send(v any) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, v)
	return true
}

func (f *fakeSender) snapshot() []any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]any(nil), f.frames...)
}

// fakeWorkspace scripts the VCS layer and records the call sequence.
type fakeWorkspace struct {
	mu    sync.Mutex
	calls []string

	ensureErr  error
	changes    bool
	changesErr error
	commitErr  error
	pushErr    error
}

func (f *fakeWorkspace) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeWorkspace) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeWorkspace) Acquire(fullName string) func() {
	f.record("acquire " + fullName)
	return func() { f.record("release " + fullName) }
}

func (f *fakeWorkspace) Ensure(ctx context.Context, fullName string) (string, error) {
	f.record("ensure " + fullName)
	if f.ensureErr != nil {
		return "", f.ensureErr
	}
	return "/work/" + fullName, nil
}

func (f *fakeWorkspace) Checkout(ctx context.Context, dir, branch string) error {
	f.record("checkout " + branch)
	return nil
}

func (f *fakeWorkspace) CreateBranch(ctx context.Context, dir, branch string) error {
	f.record("branch " + branch)
	return nil
}

func (f *fakeWorkspace) HasChanges(ctx context.Context, dir string) (bool, error) {
	f.record("status")
	return f.changes, f.changesErr
}

func (f *fakeWorkspace) CommitAll(ctx context.Context, dir, message string) error {
	f.record("commit")
	return f.commitErr
}

func (f *fakeWorkspace) Push(ctx context.Context, dir, branch string) error {
	f.record("push " + branch)
	return f.pushErr
}

// fakeForge scripts the forge layer.
type fakeForge struct {
	mu      sync.Mutex
	repos   []wire.Repository
	listErr error

	pullErr   error
	pullCalls int
	lastHead  string
	lastBase  string
	lastRepo  string
}

func (f *fakeForge) ListRepos(ctx context.Context) ([]wire.Repository, error) {
	return f.repos, f.listErr
}

func (f *fakeForge) CreatePull(ctx context.Context, repoFullName, title, body, head, base string) (*forge.PullRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pullCalls++
	f.lastRepo = repoFullName
	f.lastHead = head
	f.lastBase = base
	if f.pullErr != nil {
		return nil, f.pullErr
	}
	return &forge.PullRequest{URL: "https://github.com/" + repoFullName + "/pull/7", Title: title}, nil
}

// fakeRunner emits scripted chunks, or fails.
type fakeRunner struct {
	chunks []string
	err    error
}

func (f *fakeRunner) Run(ctx context.Context, dir, prompt string, onChunk func(string)) error {
	if _, ok := f.err.(*runner.SpawnError); ok {
		return f.err
	}
	for _, chunk := range f.chunks {
		onChunk(chunk)
	}
	return f.err
}

func newPipeline(ws *fakeWorkspace, fg *fakeForge, r *fakeRunner) (*Pipeline, *fakeSender) {
	sender := &fakeSender{}
	return New(context.Background(), sender, ws, fg, r, nil), sender
}

func TestPingAnswersPong(t *testing.T) {
	t.Parallel()
	p, sender := newPipeline(&fakeWorkspace{}, &fakeForge{}, &fakeRunner{})

	p.HandleFrame(map[string]any{"type": "ping", "sessionId": "U"})

	frames := sender.snapshot()
	require.Len(t, frames, 1)
	require.Equal(t, wire.Pong{Type: wire.TypePong, SessionID: "U"}, frames[0])
}

func TestChatStreamsChunksInOrder(t *testing.T) {
	t.Parallel()
	ws := &fakeWorkspace{}
	p, sender := newPipeline(ws, &fakeForge{}, &fakeRunner{chunks: []string{"a\n", "b\n", "c\n"}})

	p.handleChat(wire.ChatMessage{Type: wire.TypeChatMessage, SessionID: "U", Text: "list files", RepoFullName: "owner/repo"})

	frames := sender.snapshot()
	require.Equal(t, []any{
		wire.StreamChunk{Type: wire.TypeStreamChunk, SessionID: "U", Text: "a\n"},
		wire.StreamChunk{Type: wire.TypeStreamChunk, SessionID: "U", Text: "b\n"},
		wire.StreamChunk{Type: wire.TypeStreamChunk, SessionID: "U", Text: "c\n"},
		wire.StreamEnd{Type: wire.TypeStreamEnd, SessionID: "U"},
	}, frames)

	// The repo lock is taken for the working-copy refresh and released
	// before the tool runs.
	require.Equal(t, []string{"acquire owner/repo", "ensure owner/repo", "release owner/repo"}, ws.callLog())
}

func TestChatWithoutRepoSkipsWorkspace(t *testing.T) {
	t.Parallel()
	ws := &fakeWorkspace{}
	p, sender := newPipeline(ws, &fakeForge{}, &fakeRunner{chunks: []string{"hi"}})

	p.handleChat(wire.ChatMessage{Type: wire.TypeChatMessage, SessionID: "U", Text: "hello"})

	require.Empty(t, ws.callLog())
	frames := sender.snapshot()
	require.Len(t, frames, 2)
}

func TestChatChecksOutRequestedBranch(t *testing.T) {
	t.Parallel()
	ws := &fakeWorkspace{}
	p, _ := newPipeline(ws, &fakeForge{}, &fakeRunner{})

	p.handleChat(wire.ChatMessage{Type: wire.TypeChatMessage, SessionID: "U", Text: "x", RepoFullName: "owner/repo", BranchName: "dev"})

	require.Equal(t, []string{"acquire owner/repo", "ensure owner/repo", "checkout dev", "release owner/repo"}, ws.callLog())
}

func TestChatSpawnFailureHasNoStreamEnd(t *testing.T) {
	t.Parallel()
	spawn := &runner.SpawnError{Binary: "claude", Err: errors.New("executable file not found")}
	p, sender := newPipeline(&fakeWorkspace{}, &fakeForge{}, &fakeRunner{err: spawn})

	p.handleChat(wire.ChatMessage{Type: wire.TypeChatMessage, SessionID: "U", Text: "x"})

	frames := sender.snapshot()
	require.Len(t, frames, 1)
	errFrame, ok := frames[0].(wire.Error)
	require.True(t, ok)
	require.Equal(t, "U", errFrame.SessionID)
	require.Contains(t, errFrame.Message, "Failed to spawn 'claude'")
}

func TestChatIgnoresExitCode(t *testing.T) {
	t.Parallel()
	p, sender := newPipeline(&fakeWorkspace{}, &fakeForge{}, &fakeRunner{chunks: []string{"partial"}, err: errors.New("exit status 3")})

	p.handleChat(wire.ChatMessage{Type: wire.TypeChatMessage, SessionID: "U", Text: "x"})

	frames := sender.snapshot()
	require.Len(t, frames, 2)
	require.IsType(t, wire.StreamEnd{}, frames[1])
}

func TestTaskHappyPath(t *testing.T) {
	t.Parallel()
	ws := &fakeWorkspace{changes: true}
	fg := &fakeForge{}
	p, sender := newPipeline(ws, fg, &fakeRunner{chunks: []string{"editing...\n"}})

	p.handleTask(wire.TaskStart{
		Type: wire.TypeTaskStart, SessionID: "U",
		Context: "fix the failing tests", RepoFullName: "owner/repo", BaseBranch: "main",
	})

	frames := sender.snapshot()
	require.NotEmpty(t, frames)

	// First frame announces the branch.
	announce, ok := frames[0].(wire.StreamChunk)
	require.True(t, ok)
	require.Contains(t, announce.Text, "claude-mobile/fix-the-failing-tests-")

	// Exactly one terminal task_done, no error frames.
	var dones []wire.TaskDone
	for _, frame := range frames {
		switch f := frame.(type) {
		case wire.TaskDone:
			dones = append(dones, f)
		case wire.Error:
			t.Fatalf("unexpected error frame: %+v", f)
		}
	}
	require.Len(t, dones, 1)
	require.Equal(t, "https://github.com/owner/repo/pull/7", dones[0].PRURL)
	require.Equal(t, "[Claude Mobile] fix the failing tests", dones[0].PRTitle)

	// VCS sequence: branch before tool output is committed, push before
	// the base checkout, PR opened from the task branch against main.
	calls := ws.callLog()
	require.Equal(t, "acquire owner/repo", calls[0])
	require.Equal(t, "ensure owner/repo", calls[1])
	require.True(t, strings.HasPrefix(calls[2], "branch claude-mobile/"))
	require.Equal(t, []string{"status", "commit"}, calls[3:5])
	require.True(t, strings.HasPrefix(calls[5], "push claude-mobile/"))
	require.Equal(t, "checkout main", calls[6])
	require.Equal(t, "release owner/repo", calls[7])

	require.Equal(t, 1, fg.pullCalls)
	require.Equal(t, "main", fg.lastBase)
	require.True(t, strings.HasPrefix(fg.lastHead, "claude-mobile/"))
}

func TestTaskNoChangesNeverOpensPull(t *testing.T) {
	t.Parallel()
	ws := &fakeWorkspace{changes: false}
	fg := &fakeForge{}
	p, sender := newPipeline(ws, fg, &fakeRunner{})

	p.handleTask(wire.TaskStart{
		Type: wire.TypeTaskStart, SessionID: "U",
		Context: "nothing to do", RepoFullName: "owner/repo", BaseBranch: "main",
	})

	var errFrames []wire.Error
	for _, frame := range sender.snapshot() {
		switch f := frame.(type) {
		case wire.Error:
			errFrames = append(errFrames, f)
		case wire.TaskDone:
			t.Fatal("no task_done on a no-op task")
		}
	}
	require.Len(t, errFrames, 1)
	require.Equal(t, "No changes to commit", errFrames[0].Message)
	require.Zero(t, fg.pullCalls)

	// The workspace never commits or pushes.
	require.NotContains(t, ws.callLog(), "commit")
}

func TestTaskPushFailureIsSingleError(t *testing.T) {
	t.Parallel()
	ws := &fakeWorkspace{changes: true, pushErr: errors.New("non-fast-forward")}
	fg := &fakeForge{}
	p, sender := newPipeline(ws, fg, &fakeRunner{})

	p.handleTask(wire.TaskStart{
		Type: wire.TypeTaskStart, SessionID: "U",
		Context: "x", RepoFullName: "owner/repo", BaseBranch: "main",
	})

	var errCount, doneCount int
	for _, frame := range sender.snapshot() {
		switch frame.(type) {
		case wire.Error:
			errCount++
		case wire.TaskDone:
			doneCount++
		}
	}
	require.Equal(t, 1, errCount)
	require.Zero(t, doneCount)
	require.Zero(t, fg.pullCalls)
}

func TestTaskSpawnFailureStopsBeforeCommit(t *testing.T) {
	t.Parallel()
	spawn := &runner.SpawnError{Binary: "claude", Err: errors.New("not found")}
	ws := &fakeWorkspace{changes: true}
	p, sender := newPipeline(ws, &fakeForge{}, &fakeRunner{err: spawn})

	p.handleTask(wire.TaskStart{
		Type: wire.TypeTaskStart, SessionID: "U",
		Context: "x", RepoFullName: "owner/repo", BaseBranch: "main",
	})

	require.NotContains(t, ws.callLog(), "commit")

	frames := sender.snapshot()
	last := frames[len(frames)-1]
	errFrame, ok := last.(wire.Error)
	require.True(t, ok)
	require.Contains(t, errFrame.Message, "Failed to spawn 'claude'")
}

func TestRepoListResult(t *testing.T) {
	t.Parallel()
	fg := &fakeForge{repos: []wire.Repository{{ID: 1, FullName: "owner/repo", DefaultBranch: "main"}}}
	p, sender := newPipeline(&fakeWorkspace{}, fg, &fakeRunner{})

	p.handleRepoList(wire.RepoList{Type: wire.TypeRepoList, SessionID: "U"})

	frames := sender.snapshot()
	require.Len(t, frames, 1)
	result, ok := frames[0].(wire.RepoListResult)
	require.True(t, ok)
	require.Equal(t, "U", result.SessionID)
	require.Len(t, result.Repos, 1)
}

func TestRepoListErrorSurfaced(t *testing.T) {
	t.Parallel()
	fg := &fakeForge{listErr: errors.New("forge responded 401 Unauthorized: Bad credentials")}
	p, sender := newPipeline(&fakeWorkspace{}, fg, &fakeRunner{})

	p.handleRepoList(wire.RepoList{Type: wire.TypeRepoList, SessionID: "U"})

	frames := sender.snapshot()
	require.Len(t, frames, 1)
	errFrame, ok := frames[0].(wire.Error)
	require.True(t, ok)
	require.Contains(t, errFrame.Message, "Bad credentials")
}
