// Package client talks to the httpapi server from another process.
package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	shopagent "github.com/goliatone/go-shopagent"
	"github.com/goliatone/go-shopagent/channel"
	"github.com/goliatone/go-shopagent/httpapi/routes"
	"github.com/goliatone/go-shopagent/session"
)

// Client talks to an httpapi server. It implements the panel sender and a
// session.Watcher, so a Replica can mirror the record out of process.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	logger  shopagent.Logger
}

var _ session.Watcher = (*Client)(nil)

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient replaces the default http client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithToken sends token as bearer credentials.
func WithToken(token string) Option {
	return func(c *Client) {
		c.token = strings.TrimSpace(token)
	}
}

// WithLogger overrides the client logger.
func WithLogger(logger shopagent.Logger) Option {
	return func(c *Client) {
		_, c.logger = shopagent.ResolveLogger("shopagent.httpapi.client", nil, logger)
	}
}

// New creates a client for the server at baseURL.
func New(baseURL string, opts ...Option) *Client {
	_, logger := shopagent.ResolveLogger("shopagent.httpapi.client", nil, nil)
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{},
		logger:  logger,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// SendRaw posts msg to the runtime message route and returns the raw reply.
func (c *Client) SendRaw(ctx context.Context, msg any) ([]byte, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, shopagent.ValidationError("message is not serialisable", map[string]any{"error": err.Error()})
	}

	req, err := c.newRequest(ctx, http.MethodPost, routes.Messages, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(req)
}

// Send posts an action request and decodes the Response.
func (c *Client) Send(ctx context.Context, request shopagent.Request) (shopagent.Response, error) {
	raw, err := c.SendRaw(ctx, request)
	if err != nil {
		return shopagent.Response{}, err
	}
	var resp shopagent.Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return shopagent.Response{}, channel.ChannelError(err)
	}
	return resp, nil
}

// ReportProduct posts PRODUCT_INFO_CAPTURED and decodes the acknowledgement.
func (c *Client) ReportProduct(ctx context.Context, info shopagent.ProductInfo) (shopagent.CaptureAck, error) {
	raw, err := c.SendRaw(ctx, shopagent.NewProductInfoMessage(info.Name, info.URL))
	if err != nil {
		return shopagent.CaptureAck{}, err
	}
	var ack shopagent.CaptureAck
	if err := json.Unmarshal(raw, &ack); err != nil {
		return shopagent.CaptureAck{}, channel.ChannelError(err)
	}
	return ack, nil
}

// Read fetches the current record.
func (c *Client) Read(ctx context.Context) (shopagent.SessionState, error) {
	req, err := c.newRequest(ctx, http.MethodGet, routes.Session, nil)
	if err != nil {
		return shopagent.SessionState{}, err
	}
	raw, err := c.do(req)
	if err != nil {
		return shopagent.SessionState{}, err
	}
	var state shopagent.SessionState
	if err := json.Unmarshal(raw, &state); err != nil {
		return shopagent.SessionState{}, channel.ChannelError(err)
	}
	return state, nil
}

// Load implements session.Backend. Nothing was stored while the record
// is still at version zero.
func (c *Client) Load(ctx context.Context) (shopagent.SessionState, bool, error) {
	state, err := c.Read(ctx)
	if err != nil {
		return shopagent.SessionState{}, false, err
	}
	return state, state.Version > 0, nil
}

// Save implements session.Backend. The record is owned by the background
// context; remote writes are rejected.
func (c *Client) Save(context.Context, shopagent.SessionState) error {
	return shopagent.ValidationError("session state is read only over http", map[string]any{"operation": "save"})
}

// Watch implements session.Watcher over the event stream. It returns once
// the stream is open; fn receives the current record first.
func (c *Client) Watch(ctx context.Context, fn func(shopagent.SessionState)) (func(), error) {
	streamCtx, cancel := context.WithCancel(context.Background())

	req, err := c.newRequest(streamCtx, http.MethodGet, routes.SessionEvents, nil)
	if err != nil {
		cancel()
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	type opened struct {
		resp *http.Response
		err  error
	}
	result := make(chan opened, 1)
	go func() {
		resp, err := c.http.Do(req)
		result <- opened{resp: resp, err: err}
	}()

	var resp *http.Response
	select {
	case res := <-result:
		if res.err != nil {
			cancel()
			return nil, channel.ChannelError(res.err)
		}
		resp = res.resp
	case <-ctx.Done():
		cancel()
		return nil, ctx.Err()
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		cancel()
		return nil, statusError(resp)
	}

	go func() {
		defer resp.Body.Close()
		if err := readEvents(resp.Body, fn); err != nil && streamCtx.Err() == nil {
			c.logger.Warn("session event stream ended", "error", err)
		}
	}()

	return cancel, nil
}

func (c *Client) newRequest(ctx context.Context, method, route string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+route, body)
	if err != nil {
		return nil, channel.ChannelError(err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, channel.ChannelError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, channel.ChannelError(err)
	}
	return raw, nil
}

// statusError keeps the server's error message when the body carries one.
func statusError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var body shopagent.Response
	if err := json.Unmarshal(raw, &body); err == nil && body.Error != "" {
		if body.Kind != "" && body.Kind != string(shopagent.KindUnknown) {
			return body.Err()
		}
		return channel.ChannelError(fmt.Errorf("http %d: %s", resp.StatusCode, body.Error))
	}
	return channel.ChannelError(fmt.Errorf("http %d", resp.StatusCode))
}

func readEvents(r io.Reader, fn func(shopagent.SessionState)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64<<10), 1<<20)

	var data strings.Builder
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if data.Len() > 0 {
				var state shopagent.SessionState
				if err := json.Unmarshal([]byte(data.String()), &state); err != nil {
					return err
				}
				fn(state)
				data.Reset()
			}
		case strings.HasPrefix(line, "data:"):
			data.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}
	return scanner.Err()
}
