package transport

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"nhooyr.io/websocket"
)

const (
	readLimit        = 1 << 20
	handshakeTimeout = 10 * time.Second
)

// ErrorFrameError is returned when the broker answers with an ERROR frame.
type ErrorFrameError struct {
	Message string
	Body    string
}

func (e *ErrorFrameError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("broker error: %s: %s", e.Message, e.Body)
	}
	return "broker error: " + e.Message
}

// Client is a STOMP session carried over a single WebSocket connection.
// Writes are safe for concurrent use; ReadFrame must be called from one
// goroutine.
type Client struct {
	conn *websocket.Conn

	closeOnce sync.Once
}

// Dial opens the WebSocket at rawURL, sends CONNECT carrying the identity
// header and waits for CONNECTED.
func Dial(ctx context.Context, rawURL, identity string) (*Client, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}

	header := http.Header{}
	header.Set("userId", identity)
	conn, _, err := websocket.Dial(ctx, rawURL, &websocket.DialOptions{
		HTTPHeader:   header,
		Subprotocols: []string{"v12.stomp"},
	})
	if err != nil {
		return nil, fmt.Errorf("websocket dial: %w", err)
	}
	conn.SetReadLimit(readLimit)

	c := &Client{conn: conn}

	hsCtx, cancel := context.WithTimeout(ctx, handshakeTimeout)
	defer cancel()

	connect := NewFrame(CmdConnect, nil,
		"accept-version", "1.2",
		"host", u.Hostname(),
		"heart-beat", "0,0",
		"userId", identity,
	)
	if err := c.write(hsCtx, connect); err != nil {
		_ = c.abort()
		return nil, fmt.Errorf("send connect: %w", err)
	}

	f, err := c.ReadFrame(hsCtx)
	if err != nil {
		_ = c.abort()
		return nil, fmt.Errorf("read connected: %w", err)
	}
	switch f.Command {
	case CmdConnected:
		return c, nil
	case CmdError:
		_ = c.abort()
		return nil, &ErrorFrameError{Message: f.Get("message"), Body: string(f.Body)}
	default:
		_ = c.abort()
		return nil, fmt.Errorf("%w: expected CONNECTED, got %s", ErrMalformedFrame, f.Command)
	}
}

// Subscribe registers interest in destination under the given subscription id.
func (c *Client) Subscribe(ctx context.Context, id, destination string) error {
	return c.write(ctx, NewFrame(CmdSubscribe, nil, "id", id, "destination", destination, "ack", "auto"))
}

// Unsubscribe drops a subscription by id.
func (c *Client) Unsubscribe(ctx context.Context, id string) error {
	return c.write(ctx, NewFrame(CmdUnsubscribe, nil, "id", id))
}

// Send publishes a JSON body to destination.
func (c *Client) Send(ctx context.Context, destination string, body []byte) error {
	return c.write(ctx, NewFrame(CmdSend, body,
		"destination", destination,
		"content-type", "application/json",
		"content-length", strconv.Itoa(len(body)),
	))
}

// ReadFrame blocks until the next non heart-beat frame arrives. An ERROR
// frame is returned as *ErrorFrameError. A message that does not parse
// yields an error wrapping ErrMalformedFrame and leaves the socket usable.
func (c *Client) ReadFrame(ctx context.Context) (*Frame, error) {
	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			return nil, err
		}
		f, err := Decode(data)
		if err != nil {
			return nil, err
		}
		if f == nil {
			continue
		}
		if f.Command == CmdError {
			return nil, &ErrorFrameError{Message: f.Get("message"), Body: string(f.Body)}
		}
		return f, nil
	}
}

// Close sends DISCONNECT and closes the socket. Safe to call more than once.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = c.write(ctx, NewFrame(CmdDisconnect, nil))
		err = c.conn.Close(websocket.StatusNormalClosure, "client disconnect")
	})
	return err
}

func (c *Client) abort() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.conn.Close(websocket.StatusProtocolError, "handshake failed")
	})
	return err
}

func (c *Client) write(ctx context.Context, f *Frame) error {
	return c.conn.Write(ctx, websocket.MessageText, f.Encode())
}
