// Package ws provides a WebSocket client for the taskgate visit socket.
package ws

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync/atomic"

	"github.com/coder/websocket"

	wsprotocol "github.com/dohr-michael/taskgate/internal/gateway/ws"
)

// ErrClosed is returned once the visit socket has been closed by the server.
var ErrClosed = errors.New("visit socket closed")

// Client drives one visit over the gateway WebSocket. It is not safe for
// concurrent use: Call and WaitEvent share one reader.
type Client struct {
	conn   *websocket.Conn
	reqSeq uint64
	ctx    context.Context
	cancel context.CancelFunc

	// events read while waiting for a response, oldest first
	queued []wsprotocol.Frame
}

// VisitURL builds the socket URL for a gateway base address such as
// http://127.0.0.1:18430. query carries the encoded resource and viewport.
func VisitURL(base string, query url.Values) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse gateway url: %w", err)
	}
	switch u.Scheme {
	case "http", "":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/api/visit"
	u.RawQuery = query.Encode()
	return u.String(), nil
}

// Dial connects to the gateway visit endpoint.
func Dial(ctx context.Context, url string) (*Client, error) {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("ws dial: %w", err)
	}

	clientCtx, cancel := context.WithCancel(ctx)

	return &Client{
		conn:   conn,
		ctx:    clientCtx,
		cancel: cancel,
	}, nil
}

// Call sends one request and returns its response. Events that arrive first
// are kept for WaitEvent.
func (c *Client) Call(method wsprotocol.Method, params any) (wsprotocol.Frame, error) {
	seq := atomic.AddUint64(&c.reqSeq, 1)

	req, err := wsprotocol.NewRequestFrame(fmt.Sprintf("req-%d", seq), method, params)
	if err != nil {
		return wsprotocol.Frame{}, err
	}
	data, err := wsprotocol.MarshalFrame(req)
	if err != nil {
		return wsprotocol.Frame{}, err
	}
	if err := c.conn.Write(c.ctx, websocket.MessageText, data); err != nil {
		return wsprotocol.Frame{}, c.wrap(err)
	}

	for {
		f, err := c.ReadFrame()
		if err != nil {
			return wsprotocol.Frame{}, err
		}
		switch {
		case f.Type == wsprotocol.FrameTypeResponse && f.ID == req.ID:
			return f, nil
		case f.Type == wsprotocol.FrameTypeEvent:
			c.queued = append(c.queued, f)
		}
	}
}

// WaitEvent returns the first event, queued or new, for which match is true.
// Non-matching events stay queued.
func (c *Client) WaitEvent(match func(wsprotocol.Frame) bool) (wsprotocol.Frame, error) {
	for i, f := range c.queued {
		if match(f) {
			c.queued = append(c.queued[:i:i], c.queued[i+1:]...)
			return f, nil
		}
	}
	for {
		f, err := c.ReadFrame()
		if err != nil {
			return wsprotocol.Frame{}, err
		}
		if f.Type != wsprotocol.FrameTypeEvent {
			continue
		}
		if match(f) {
			return f, nil
		}
		c.queued = append(c.queued, f)
	}
}

// EventNamed matches events by name.
func EventNamed(name string) func(wsprotocol.Frame) bool {
	return func(f wsprotocol.Frame) bool { return f.Event == name }
}

// ReadFrame reads the next frame from the connection.
func (c *Client) ReadFrame() (wsprotocol.Frame, error) {
	_, data, err := c.conn.Read(c.ctx)
	if err != nil {
		return wsprotocol.Frame{}, c.wrap(err)
	}
	return wsprotocol.UnmarshalFrame(data)
}

func (c *Client) wrap(err error) error {
	if websocket.CloseStatus(err) != -1 {
		return fmt.Errorf("%w: %v", ErrClosed, err)
	}
	return err
}

// Close gracefully closes the connection.
func (c *Client) Close() error {
	c.cancel()
	return c.conn.Close(websocket.StatusNormalClosure, "bye")
}
