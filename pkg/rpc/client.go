package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"
)

const (
	// jsonRPCVersion is the version of the envelope bitcoind speaks.
	//
	jsonRPCVersion = "1.0"

	// maxResponseSize caps how much of a response body we are willing to
	// read. `getpeerinfo` on a well connected node is the largest
	// response we issue and stays far below this.
	//
	maxResponseSize = 32 << 20
)

// Client is a JSON-RPC client that talks to a bitcoin daemon over plain
// HTTP.
//
type Client struct {
	// address is the full url of the daemon's rpc endpoint (e.g.,
	// `http://127.0.0.1:8332`).
	//
	address *url.URL

	// http is the underlying HTTP client. Deadlines are expected to
	// come from the context passed to each call.
	//
	http *http.Client

	// auth decorates each request with credentials.
	//
	// optional: if nil, requests go out unauthenticated.
	//
	auth Authenticator

	id uint64
}

// ClientOption mutates the client to override default behavior.
//
type ClientOption func(c *Client)

// WithHTTPClient overrides the default http client.
//
func WithHTTPClient(v *http.Client) ClientOption {
	return func(c *Client) {
		c.http = v
	}
}

// WithAuthenticator sets the credentials source used for every request.
//
func WithAuthenticator(v Authenticator) ClientOption {
	return func(c *Client) {
		c.auth = v
	}
}

// NewClient instantiates a new client for communicating with bitcoind's
// rpc interface at `address`.
//
func NewClient(address string, opts ...ClientOption) (*Client, error) {
	parsedAddress, err := url.Parse(address)
	if err != nil {
		return nil, fmt.Errorf("url parse: %w", err)
	}

	if parsedAddress.Scheme == "" || parsedAddress.Host == "" {
		return nil, fmt.Errorf("address '%s' must include scheme and host",
			address)
	}

	c := &Client{
		address: parsedAddress,
		http: &http.Client{
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				MaxIdleConnsPerHost:   4,
				IdleConnTimeout:       90 * time.Second,
				ResponseHeaderTimeout: time.Minute,
			},
		},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// Address returns the endpoint this client talks to.
//
func (c *Client) Address() string {
	return c.address.String()
}

// request is the envelope of a JSON-RPC call.
//
type request struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

// response is the envelope of a JSON-RPC reply.
//
type response struct {
	ID     uint64          `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *Error          `json:"error"`
}

// Call submits `method` with `params` to the daemon and decodes its result
// into `result`.
//
// The call is bounded by `ctx`: cancelling it aborts the in-flight HTTP
// request. The response body is always drained and closed before
// returning.
//
func (c *Client) Call(
	ctx context.Context, method string, params []interface{}, result interface{},
) error {
	if params == nil {
		params = []interface{}{}
	}

	body, err := json.Marshal(&request{
		JSONRPC: jsonRPCVersion,
		ID:      atomic.AddUint64(&c.id, 1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.address.String(), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	if c.auth != nil {
		if err := c.auth.Authenticate(req); err != nil {
			return fmt.Errorf("authenticate: %w", err)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("do: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	// 403 means the credentials were accepted but the method is outside
	// the user's -rpcwhitelist, which surfaces as a StatusError below.
	//
	if resp.StatusCode == http.StatusUnauthorized {
		return ErrUnauthorized
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}

	// bitcoind answers rpc-level failures with non-2xx statuses (404 for
	// unknown methods, 500 for most errors) but still carries a JSON-RPC
	// envelope, so only fall back to the status when there is none.
	//
	envelope := &response{}
	if err := json.Unmarshal(raw, envelope); err != nil {
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return &StatusError{
				StatusCode: resp.StatusCode,
				Body:       truncate(string(raw), 256),
			}
		}

		return &DecodeError{Method: method, Err: err}
	}

	if envelope.Error != nil {
		return envelope.Error
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{
			StatusCode: resp.StatusCode,
			Body:       truncate(string(raw), 256),
		}
	}

	if result == nil {
		return nil
	}

	if err := json.Unmarshal(envelope.Result, result); err != nil {
		return &DecodeError{Method: method, Err: err}
	}

	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}

	return s[:n] + "..."
}
