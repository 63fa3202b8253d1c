package forge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultBaseURL targets the public GitHub REST API.
const DefaultBaseURL = "https://api.github.com"

// Client talks to a GitHub-compatible REST API. It implements
// PermissionClient, IdentityClient, and NotifyClient.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient constructs a REST client. An empty baseURL falls back to the
// public GitHub endpoint; an empty token sends unauthenticated requests.
func NewClient(baseURL, token string) *Client {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		trimmed = DefaultBaseURL
	}
	return &Client{
		baseURL: trimmed,
		token:   strings.TrimSpace(token),
		http: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// PermissionLevel returns the collaborator permission the login holds on the
// repository. A 404 from the platform means the login is not a collaborator
// and maps to PermissionNone rather than an error.
func (c *Client) PermissionLevel(ctx context.Context, repo Repo, login string) (string, error) {
	path := fmt.Sprintf("/repos/%s/%s/collaborators/%s/permission",
		url.PathEscape(repo.Owner), url.PathEscape(repo.Name), url.PathEscape(login))
	var result struct {
		Permission string `json:"permission"`
	}
	status, err := c.do(ctx, http.MethodGet, path, nil, &result)
	if err != nil {
		return "", err
	}
	switch {
	case status == http.StatusNotFound:
		return PermissionNone, nil
	case status >= 400:
		return "", fmt.Errorf("forge: permission lookup for %s on %s: status %d", login, repo, status)
	}
	if strings.TrimSpace(result.Permission) == "" {
		return PermissionNone, nil
	}
	return strings.ToLower(result.Permission), nil
}

// ResolveUser fetches a platform identity by login.
func (c *Client) ResolveUser(ctx context.Context, login string) (User, error) {
	var user User
	status, err := c.do(ctx, http.MethodGet, "/users/"+url.PathEscape(login), nil, &user)
	if err != nil {
		return User{}, err
	}
	switch {
	case status == http.StatusNotFound:
		return User{}, fmt.Errorf("forge: resolve %s: %w", login, ErrUserNotFound)
	case status >= 400:
		return User{}, fmt.Errorf("forge: resolve %s: status %d", login, status)
	}
	if strings.TrimSpace(user.Login) == "" {
		return User{}, fmt.Errorf("forge: resolve %s: malformed response", login)
	}
	return user, nil
}

// PostComment creates a new comment on the discussion thread.
func (c *Client) PostComment(ctx context.Context, repo Repo, number int, body string) error {
	path := fmt.Sprintf("/repos/%s/%s/issues/%d/comments",
		url.PathEscape(repo.Owner), url.PathEscape(repo.Name), number)
	payload := map[string]string{"body": body}
	status, err := c.do(ctx, http.MethodPost, path, payload, nil)
	if err != nil {
		return err
	}
	if status >= 400 {
		return fmt.Errorf("forge: post comment on %s#%d: status %d", repo, number, status)
	}
	return nil
}

// do issues a request and decodes the response body into out when the call
// succeeds. The HTTP status is returned so callers can map platform-level
// statuses (404 in particular) to domain meanings.
func (c *Client) do(ctx context.Context, method, path string, payload, out interface{}) (int, error) {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return 0, fmt.Errorf("forge: encode request: %w", err)
		}
		body = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return 0, fmt.Errorf("forge: build request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("forge: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 400 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("forge: decode response: %w", err)
		}
	} else {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))
	}
	return resp.StatusCode, nil
}
