// Package client provides a Go SDK for talking to one chordnode's admin
// HTTP API.
//
// It wraps the raw HTTP calls chordctl would otherwise construct by hand:
// building the request, setting headers, checking the status code, and
// decoding the response into a typed Go value.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// NodeRef mirrors proto.NodeRef for SDK consumers that shouldn't need to
// import the wire package directly.
type NodeRef struct {
	IP     string `json:"IP"`
	Port   int    `json:"Port"`
	ID     uint64 `json:"ID"`
	BitLen uint   `json:"BitLen"`
}

// Client talks to exactly one chordnode's admin API; it does not implement
// any ring logic itself.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a Client pointed at baseURL, e.g. "http://localhost:8080".
func New(baseURL string, timeout time.Duration) *Client {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// StateResponse is the decoded form of GET /debug/state.
type StateResponse struct {
	Self           NodeRef   `json:"self"`
	Predecessor    NodeRef   `json:"predecessor"`
	Successor      NodeRef   `json:"successor"`
	FingerTable    []NodeRef `json:"finger_table"`
	RingSignature  string    `json:"ring_signature"`
	RefreshPending bool      `json:"refresh_pending"`
}

// LookupResponse is the decoded form of GET /lookup/:key.
type LookupResponse struct {
	Key   string  `json:"key"`
	ID    uint64  `json:"id"`
	Owner NodeRef `json:"owner"`
}

// ReplicasResponse is the decoded form of GET /replicas/:key.
type ReplicasResponse struct {
	Key      string    `json:"key"`
	Home     NodeRef   `json:"home"`
	Replicas []NodeRef `json:"replicas"`
}

// State fetches the node's current routing state.
func (c *Client) State(ctx context.Context) (*StateResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/debug/state", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("state request failed: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return nil, err
	}
	var result StateResponse
	return &result, json.NewDecoder(resp.Body).Decode(&result)
}

// Lookup finds which node owns key.
func (c *Client) Lookup(ctx context.Context, key string) (*LookupResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/lookup/%s", c.baseURL, key), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("lookup request failed: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return nil, err
	}
	var result LookupResponse
	return &result, json.NewDecoder(resp.Body).Decode(&result)
}

// Replicas lists the replica set currently backing key.
func (c *Client) Replicas(ctx context.Context, key string) (*ReplicasResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/replicas/%s", c.baseURL, key), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("replicas request failed: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return nil, err
	}
	var result ReplicasResponse
	return &result, json.NewDecoder(resp.Body).Decode(&result)
}

// PutBlob uploads data's bytes and returns the content-hash id the node
// assigned it.
func (c *Client) PutBlob(ctx context.Context, data []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/blobs/new", bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("put blob request failed: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return "", err
	}
	var result struct {
		BlobID string `json:"blob_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}
	return result.BlobID, nil
}

// Join asks the node to join the ring through seedIP:seedPort.
func (c *Client) Join(ctx context.Context, seedIP string, seedPort int) error {
	body, _ := json.Marshal(map[string]any{"ip": seedIP, "port": seedPort})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/join", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("join request failed: %w", err)
	}
	defer resp.Body.Close()
	return checkStatus(resp)
}

// ─── Errors ───────────────────────────────────────────────────────────────────

// ErrNotFound is returned when the server reports a 404.
var ErrNotFound = fmt.Errorf("not found")

// APIError carries the HTTP status and the error message from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.Status, e.Message)
}

// checkStatus converts HTTP error responses into Go errors.
func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	body, _ := io.ReadAll(resp.Body)
	var apiErr struct {
		Error string `json:"error"`
	}
	_ = json.Unmarshal(body, &apiErr)
	msg := apiErr.Error
	if msg == "" {
		msg = string(body)
	}
	return &APIError{Status: resp.StatusCode, Message: msg}
}
