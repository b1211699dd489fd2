// Package warpcli is the typed client of the warpmaster control plane.
package warpcli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/creachadair/jrpc2"
	"github.com/creachadair/jrpc2/jhttp"
)

// DefaultTimeout bounds each call when the caller's context has no
// deadline.
const DefaultTimeout = 30 * time.Second

// ErrUnauthorized is returned when the daemon rejects the bearer token.
var ErrUnauthorized = errors.New("unauthorized: check the rpc secret")

// Client calls the daemon over HTTP POST /jsonrpc.
type Client struct {
	baseURL string
	secret  string
	hc      *http.Client
	rpc     *jrpc2.Client
}

// bearerTransport adds the Authorization header to every request.
type bearerTransport struct {
	base  http.RoundTripper
	token string
}

func (t *bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("Authorization", "Bearer "+t.token)
	resp, err := t.base.RoundTrip(req)
	if err == nil && resp.StatusCode == http.StatusUnauthorized {
		resp.Body.Close()
		return nil, ErrUnauthorized
	}
	return resp, err
}

// NewClient returns a client for the daemon at baseURL, for example
// "http://127.0.0.1:7391". A nil hc uses a default client.
func NewClient(baseURL, secret string, hc *http.Client) *Client {
	baseURL = strings.TrimRight(baseURL, "/")
	if !strings.Contains(baseURL, "://") {
		baseURL = "http://" + baseURL
	}
	authed := &http.Client{}
	base := http.DefaultTransport
	if hc != nil {
		*authed = *hc
		if hc.Transport != nil {
			base = hc.Transport
		}
	}
	authed.Transport = &bearerTransport{base: base, token: secret}

	ch := jhttp.NewChannel(baseURL+"/jsonrpc", &jhttp.ChannelOptions{Client: authed})
	return &Client{
		baseURL: baseURL,
		secret:  secret,
		hc:      hc,
		rpc:     jrpc2.NewClient(ch, nil),
	}
}

// URL returns the daemon base URL.
func (c *Client) URL() string { return c.baseURL }

func call[T any](ctx context.Context, c *Client, method string, params any) (*T, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultTimeout)
		defer cancel()
	}
	var out T
	if err := c.rpc.CallResult(ctx, method, params, &out); err != nil {
		if errors.Is(err, ErrUnauthorized) {
			return nil, ErrUnauthorized
		}
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	return &out, nil
}

// Close releases the underlying channel.
func (c *Client) Close() error {
	return c.rpc.Close()
}
