// Package notify delivers optional operator notifications through
// Pushover when an autonomous task reaches its terminal state. The
// mobile raises its own local notification from task_done; this
// channel is for operators watching the agent host.
package notify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/vominhhoang308/claude-mobile/pkg/logger"
)

const (
	// pushoverEndpoint is the Pushover API endpoint used for delivery.
	pushoverEndpoint = "https://api.pushover.net/1/messages.json"
	// defaultTimeout bounds each delivery attempt.
	defaultTimeout = 10 * time.Second
	// defaultCooldown suppresses repeat notifications per session.
	defaultCooldown = 30 * time.Second
)

// Pushover sends task-completion notifications. Delivery is strictly
// best-effort: failures are logged and forgotten.
type Pushover struct {
	token   string
	userKey string

	client *http.Client

	mu       sync.Mutex
	lastSent map[string]time.Time
}

// NewPushover creates a notifier, or nil when either credential is
// missing so callers can pass the result straight to the pipeline.
func NewPushover(token, userKey string) *Pushover {
	if strings.TrimSpace(token) == "" || strings.TrimSpace(userKey) == "" {
		return nil
	}
	return &Pushover{
		token:    token,
		userKey:  userKey,
		client:   &http.Client{Timeout: defaultTimeout},
		lastSent: make(map[string]time.Time),
	}
}

// TaskDone notifies that a task produced a pull request.
func (p *Pushover) TaskDone(ctx context.Context, sessionID, title, prURL string) {
	now := time.Now()
	p.mu.Lock()
	last, seen := p.lastSent[sessionID]
	if seen && now.Sub(last) < defaultCooldown {
		p.mu.Unlock()
		return
	}
	p.lastSent[sessionID] = now
	p.mu.Unlock()

	if err := p.send(ctx, title, prURL); err != nil {
		logger.Warnf("[Notify] pushover delivery failed: %v", err)
	}
}

func (p *Pushover) send(ctx context.Context, title, prURL string) error {
	form := url.Values{}
	form.Set("token", p.token)
	form.Set("user", p.userKey)
	form.Set("title", "Task complete")
	form.Set("message", title)
	form.Set("url", prURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, pushoverEndpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("pushover request build failed: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("pushover request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("pushover response read failed: %w", err)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("pushover response %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	return nil
}
