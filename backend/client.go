package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"midi-daw/midi"
	"midi-daw/musictime"

	"go.uber.org/zap"
)

// Client is a Transport over the server's Unix socket.
type Client struct {
	socket string
	http   *http.Client
	log    *zap.Logger
}

type ClientOption func(*Client)

// WithTimeout bounds every request. Zero means no timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.http.Timeout = d }
}

func WithLogger(l *zap.Logger) ClientOption {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// NewClient creates a client for the server listening on socket.
func NewClient(socket string, opts ...ClientOption) *Client {
	if socket == "" {
		socket = DefaultSocket
	}
	c := &Client{socket: socket, log: zap.NewNop()}
	var d net.Dialer
	c.http = &http.Client{
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				return d.DialContext(ctx, "unix", c.socket)
			},
			MaxIdleConnsPerHost: 16,
		},
		Timeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Socket returns the Unix socket path the client dials.
func (c *Client) Socket() string { return c.socket }

func (c *Client) Send(ctx context.Context, req midi.Request) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	return c.post(ctx, "/midi", body)
}

func (c *Client) Devices(ctx context.Context) ([]string, error) {
	var devs []string
	if err := c.get(ctx, "/midi", &devs); err != nil {
		return nil, err
	}
	return devs, nil
}

func (c *Client) SetTempo(ctx context.Context, bpm float64) error {
	body, _ := json.Marshal(bpm)
	return c.post(ctx, "/tempo", body)
}

func (c *Client) Tempo(ctx context.Context) (float64, error) {
	var bpm float64
	if err := c.get(ctx, "/tempo", &bpm); err != nil {
		return 0, err
	}
	return bpm, nil
}

func (c *Client) NewDevice(ctx context.Context, name string) error {
	body, _ := json.Marshal(name)
	return c.post(ctx, "/new-dev", body)
}

func (c *Client) Rest(ctx context.Context, l musictime.NoteLen) error {
	body, err := json.Marshal(l)
	if err != nil {
		return err
	}
	return c.post(ctx, "/rest", body)
}

// the host part is ignored by the unix dialer
func url(path string) string { return "http://midi-daw" + path }

func (c *Client) post(ctx context.Context, path string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url(path), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	c.log.Debug("backend request", zap.String("path", path), zap.ByteString("body", body))
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: POST %s: %v", ErrTransport, path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: POST %s: %s: %s", ErrTransport, path, resp.Status, bytes.TrimSpace(msg))
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url(path), nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: GET %s: %v", ErrTransport, path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: GET %s: %s: %s", ErrTransport, path, resp.Status, bytes.TrimSpace(msg))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: GET %s: decode: %v", ErrTransport, path, err)
	}
	return nil
}
