// Package agent implements the daemon that runs on remote networks:
// discovery sweeps, result pushes with an offline disk queue, heartbeats,
// remote command execution and the self-update check.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/okanyucel2/genesis-bigr-discovery-sub001/internal/models"
)

const (
	defaultTimeout = 15 * time.Second
	ingestTimeout  = 60 * time.Second
)

// ClientConfig locates the control plane.
type ClientConfig struct {
	ServerURL string
	Token     string
}

// Client is the agent's HTTP client for the control plane. Ingest pushes
// carry large bodies, so they run on a separate client with a longer
// timeout than the control calls.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	ingest  *http.Client
}

func NewClient(cfg ClientConfig) *Client {
	return &Client{
		baseURL: strings.TrimRight(cfg.ServerURL, "/"),
		token:   cfg.Token,
		http:    &http.Client{Timeout: defaultTimeout},
		ingest:  &http.Client{Timeout: ingestTimeout},
	}
}

// SetToken installs the bearer token, e.g. right after registration.
func (c *Client) SetToken(token string) { c.token = token }

// Token returns the current bearer token so it can be persisted.
func (c *Client) Token() string { return c.token }

// RegisterRequest is the body of the one-time registration call.
type RegisterRequest struct {
	Name     string   `json:"name"`
	SiteName string   `json:"site_name,omitempty"`
	Location string   `json:"location,omitempty"`
	Subnets  []string `json:"subnets,omitempty"`
	Secret   string   `json:"secret,omitempty"`
}

// Register creates a new agent identity and installs the returned token
// on the client. The token is shown exactly once; the caller must persist
// it.
func (c *Client) Register(ctx context.Context, req *RegisterRequest) (agentID, token string, err error) {
	var out struct {
		AgentID string `json:"agent_id"`
		Token   string `json:"token"`
	}
	if err := c.call(ctx, c.http, "POST", "/api/agents/register", req, &out); err != nil {
		return "", "", fmt.Errorf("register: %w", err)
	}
	c.token = out.Token
	return out.AgentID, out.Token, nil
}

// Heartbeat reports liveness and returns the pending-command count.
func (c *Client) Heartbeat(ctx context.Context, status, version string, subnets []string) (int, error) {
	body := map[string]any{"status": status}
	if version != "" {
		body["version"] = version
	}
	if len(subnets) > 0 {
		body["subnets"] = subnets
	}

	var out struct {
		Status          string `json:"status"`
		PendingCommands int    `json:"pending_commands"`
	}
	if err := c.call(ctx, c.http, "POST", "/api/agents/heartbeat", body, &out); err != nil {
		return 0, fmt.Errorf("heartbeat: %w", err)
	}
	return out.PendingCommands, nil
}

// PushDiscovery uploads one discovery sweep.
func (c *Client) PushDiscovery(ctx context.Context, p *models.DiscoveryPayload) error {
	if err := c.call(ctx, c.ingest, "POST", "/api/ingest/discovery", p, nil); err != nil {
		return fmt.Errorf("push discovery: %w", err)
	}
	return nil
}

// PushShield uploads one finished shield run.
func (c *Client) PushShield(ctx context.Context, p *models.ShieldPayload) error {
	if err := c.call(ctx, c.ingest, "POST", "/api/ingest/shield", p, nil); err != nil {
		return fmt.Errorf("push shield: %w", err)
	}
	return nil
}

// PushRaw re-sends an already-serialized queued payload of the given type.
func (c *Client) PushRaw(ctx context.Context, payloadType string, data []byte) error {
	path := "/api/ingest/" + payloadType
	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.ingest.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return checkStatus(resp)
}

// Commands polls the caller's open commands, newest first.
func (c *Client) Commands(ctx context.Context) ([]models.AgentCommand, error) {
	var out struct {
		Count    int                   `json:"count"`
		Commands []models.AgentCommand `json:"commands"`
	}
	if err := c.call(ctx, c.http, "GET", "/api/agents/commands", nil, &out); err != nil {
		return nil, fmt.Errorf("poll commands: %w", err)
	}
	return out.Commands, nil
}

// UpdateCommand progresses one command's lifecycle.
func (c *Client) UpdateCommand(ctx context.Context, id, status, result string) error {
	body := map[string]string{"status": status}
	if result != "" {
		body["result"] = result
	}
	if err := c.call(ctx, c.http, "PATCH", "/api/agents/commands/"+id, body, nil); err != nil {
		return fmt.Errorf("update command %s: %w", id, err)
	}
	return nil
}

// ServerVersion asks the control plane what it is running.
func (c *Client) ServerVersion(ctx context.Context) (string, error) {
	var out struct {
		Version string `json:"version"`
	}
	if err := c.call(ctx, c.http, "GET", "/api/agents/version", nil, &out); err != nil {
		return "", fmt.Errorf("server version: %w", err)
	}
	return out.Version, nil
}

func (c *Client) call(ctx context.Context, hc *http.Client, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.authorize(req)

	resp, err := hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

// checkStatus turns a non-2xx response into an error carrying the
// server's message when one is present.
func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	var apiErr struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Error != "" {
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, apiErr.Error)
	}
	return fmt.Errorf("server returned %d", resp.StatusCode)
}
