// Package forge is a small typed client for the GitHub REST API: the
// two operations the agent needs are listing the credential's
// repositories and opening pull requests.
package forge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/vominhhoang308/claude-mobile/internal/wire"
)

// defaultBaseURL is the base URL for the public GitHub API.
const defaultBaseURL = "https://api.github.com"

// apiVersion pins the REST API version header.
const apiVersion = "2022-11-28"

// repoListLimit caps the repository listing.
const repoListLimit = 100

// Config holds configuration for creating a Client.
type Config struct {
	// Token is a personal access token or fine-grained token.
	Token string
	// BaseURL overrides the API root (tests, GitHub Enterprise).
	BaseURL string
	// HTTPClient overrides the HTTP client.
	HTTPClient *http.Client
}

// Client talks to the forge with token authentication.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient creates a forge client from the given configuration.
func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, fmt.Errorf("forge token is required")
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	return &Client{
		baseURL:    baseURL,
		token:      cfg.Token,
		httpClient: httpClient,
	}, nil
}

// apiRepository is GitHub's wire shape for a repository.
type apiRepository struct {
	ID            int64     `json:"id"`
	FullName      string    `json:"full_name"`
	Description   *string   `json:"description"`
	DefaultBranch string    `json:"default_branch"`
	Language      *string   `json:"language"`
	Private       bool      `json:"private"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// ListRepos returns the repositories accessible to the configured
// credential, sorted by last update, capped at 100, projected to the
// wire shape.
func (c *Client) ListRepos(ctx context.Context) ([]wire.Repository, error) {
	path := fmt.Sprintf("/user/repos?sort=updated&per_page=%d", repoListLimit)

	var raw []apiRepository
	if err := c.do(ctx, http.MethodGet, path, nil, &raw); err != nil {
		return nil, err
	}

	repos := make([]wire.Repository, 0, len(raw))
	for _, r := range raw {
		repos = append(repos, wire.Repository{
			ID:            r.ID,
			FullName:      r.FullName,
			Description:   r.Description,
			DefaultBranch: r.DefaultBranch,
			Language:      r.Language,
			Private:       r.Private,
			UpdatedAt:     r.UpdatedAt,
		})
	}
	return repos, nil
}

// PullRequest is the projection of a created pull request.
type PullRequest struct {
	URL   string
	Title string
}

// CreatePull opens a pull request from head into base on the given
// repository.
func (c *Client) CreatePull(ctx context.Context, repoFullName, title, body, head, base string) (*PullRequest, error) {
	payload := map[string]string{
		"title": title,
		"body":  body,
		"head":  head,
		"base":  base,
	}

	var created struct {
		HTMLURL string `json:"html_url"`
		Title   string `json:"title"`
	}
	path := fmt.Sprintf("/repos/%s/pulls", repoFullName)
	if err := c.do(ctx, http.MethodPost, path, payload, &created); err != nil {
		return nil, err
	}
	return &PullRequest{URL: created.HTMLURL, Title: created.Title}, nil
}

// do performs one authenticated request and decodes the response.
func (c *Client) do(ctx context.Context, method, path string, payload, out any) error {
	var reqBody io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", apiVersion)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("forge request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read forge response: %w", err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("forge responded %s: %s", resp.Status, apiErrorMessage(respBody))
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("decode forge response: %w", err)
		}
	}
	return nil
}

// apiErrorMessage extracts GitHub's {message} from an error body,
// falling back to the raw (trimmed) body.
func apiErrorMessage(body []byte) string {
	var payload struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Message != "" {
		return payload.Message
	}
	trimmed := strings.TrimSpace(string(body))
	if len(trimmed) > 200 {
		trimmed = trimmed[:200]
	}
	return trimmed
}
