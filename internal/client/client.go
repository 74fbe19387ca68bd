package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/lazypower/rapport/internal/engine"
)

const (
	defaultServerURL = "http://127.0.0.1:37778"
	httpTimeout      = 10 * time.Second
)

// Client talks to a running rapport server.
type Client struct {
	http      *http.Client
	serverURL string
}

// New creates a client for $RAPPORT_URL, falling back to http://127.0.0.1:37778.
func New() *Client {
	u := os.Getenv("RAPPORT_URL")
	if u == "" {
		u = defaultServerURL
	}
	return NewWithURL(u, nil)
}

// NewWithURL creates a client for serverURL. A nil httpClient gets a
// default one with a short timeout.
func NewWithURL(serverURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: httpTimeout}
	}
	return &Client{http: httpClient, serverURL: serverURL}
}

// StatusError is returned for 4xx and 5xx responses.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.Code, e.Body)
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.serverURL+path, rd)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response %s: %w", path, err)
	}
	if resp.StatusCode >= 400 {
		msg := string(bytes.TrimSpace(data))
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &e) == nil && e.Error != "" {
			msg = e.Error
		}
		return data, &StatusError{Method: method, Path: path, Code: resp.StatusCode, Body: msg}
	}
	return data, nil
}

// Post sends a POST request with JSON body. Returns response body.
func (c *Client) Post(ctx context.Context, path string, body []byte) ([]byte, error) {
	return c.do(ctx, http.MethodPost, path, body)
}

// Get sends a GET request. Returns response body.
func (c *Client) Get(ctx context.Context, path string) ([]byte, error) {
	return c.do(ctx, http.MethodGet, path, nil)
}

// Healthy checks if the server is reachable.
func (c *Client) Healthy(ctx context.Context) bool {
	_, err := c.Get(ctx, "/api/health")
	return err == nil
}

// Relationship is the subset of the server's relationship view the CLI prints.
type Relationship struct {
	Agent            string   `json:"agent"`
	Tier             int      `json:"tier"`
	TierLabel        string   `json:"tier_label"`
	Score            float64  `json:"score"`
	Interactions     int      `json:"interactions"`
	Status           string   `json:"status"`
	Pinned           bool     `json:"pinned"`
	Classification   string   `json:"classification,omitempty"`
	Backstory        string   `json:"backstory,omitempty"`
	MemorableMoments []string `json:"memorable_moments"`
}

// Record posts one interaction event.
func (c *Client) Record(ctx context.Context, ev engine.Event) (*Relationship, error) {
	body, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encode event: %w", err)
	}
	data, err := c.Post(ctx, "/api/interactions", body)
	if err != nil {
		return nil, err
	}
	var rel Relationship
	if err := json.Unmarshal(data, &rel); err != nil {
		return nil, fmt.Errorf("decode relationship: %w", err)
	}
	return &rel, nil
}

// Context fetches the reply-crafting context for an agent.
func (c *Client) Context(ctx context.Context, agentID string) (string, error) {
	data, err := c.Get(ctx, "/api/relationships/"+url.PathEscape(agentID)+"/context")
	if err != nil {
		return "", err
	}
	var resp struct {
		Context string `json:"context"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", fmt.Errorf("decode context: %w", err)
	}
	return resp.Context, nil
}

// Export fetches the relationship snapshot.
func (c *Client) Export(ctx context.Context) ([]engine.Summary, error) {
	data, err := c.Get(ctx, "/api/relationships")
	if err != nil {
		return nil, err
	}
	var out []engine.Summary
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return out, nil
}
