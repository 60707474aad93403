package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"
)

// ErrAuthTokenRequired is returned when a privileged call is attempted by a
// client constructed without a bearer token.
var ErrAuthTokenRequired = errors.New("rpc: bearer token required for this method")

// privilegedMethods lists the calls the server gates behind bearer auth.
var privilegedMethods = map[string]bool{
	"htlc_create":         true,
	"htlc_createOnBehalf": true,
	"token_approve":       true,
	"token_transfer":      true,
	"chain_advance":       true,
}

// Client issues JSON-RPC calls against an htlcd endpoint.
type Client struct {
	endpoint string
	token    string
	http     *http.Client
	nextID   atomic.Uint64
}

// NewClient constructs a client for endpoint. token may be empty when only
// permissionless methods are used.
func NewClient(endpoint, token string) *Client {
	return &Client{
		endpoint: strings.TrimSpace(endpoint),
		token:    strings.TrimSpace(token),
		http:     &http.Client{Timeout: 30 * time.Second},
	}
}

// Endpoint returns the configured server URL.
func (c *Client) Endpoint() string { return c.endpoint }

// Call invokes method with params and decodes the result into out. A server
// side failure is returned as *RPCError.
func (c *Client) Call(ctx context.Context, method string, params interface{}, out interface{}) error {
	if privilegedMethods[method] && c.token == "" {
		return ErrAuthTokenRequired
	}
	payload := map[string]interface{}{
		"jsonrpc": jsonRPCVersion,
		"id":      c.nextID.Add(1),
		"method":  method,
	}
	if params != nil {
		payload["params"] = []interface{}{params}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("rpc: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("rpc: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("rpc: POST %s: %w", c.endpoint, err)
	}
	defer resp.Body.Close()

	var decoded struct {
		Result json.RawMessage `json:"result"`
		Error  *RPCError       `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return fmt.Errorf("rpc: decode response (status %d): %w", resp.StatusCode, err)
	}
	if decoded.Error != nil {
		return decoded.Error
	}
	if out == nil || len(decoded.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(decoded.Result, out); err != nil {
		return fmt.Errorf("rpc: decode result: %w", err)
	}
	return nil
}
