// Package bridge issues tool calls to the backend service over a persistent
// websocket and correlates each reply to its call by id.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	internal "github.com/ZanzyTHEbar/guild-assistant/assistant"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	DefaultCallTimeout = 15 * time.Second
	DefaultDialTimeout = 5 * time.Second

	// AcceptReviewTool is the backend action issued by rating triage.
	AcceptReviewTool = "review_accept"

	writeTimeout = 5 * time.Second
)

var (
	// ErrClosed is returned by calls made after Close.
	ErrClosed = errors.New("bridge closed")
	// ErrConnectionLost fails the calls pending when the connection drops.
	ErrConnectionLost = errors.New("bridge connection lost")
	// ErrRemote wraps an error reported by the backend for one call.
	ErrRemote = errors.New("backend error")
)

// request is one call frame.
type request struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// response is one reply frame.
type response struct {
	ID     string          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`

	lost bool // set locally when the connection dropped before a reply
}

// Client is safe for concurrent use. The connection is dialed on first use
// and redialed by the next call after it drops.
type Client struct {
	url         string
	dialer      websocket.Dialer
	callTimeout time.Duration
	logger      zerolog.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	pending map[string]chan response
	closed  bool

	writeMu sync.Mutex
}

// Option configures a Client.
type Option func(*Client)

// WithCallTimeout bounds each call, round trip included.
func WithCallTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.callTimeout = d
		}
	}
}

// WithDialTimeout bounds the websocket handshake.
func WithDialTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.dialer.HandshakeTimeout = d
		}
	}
}

// WithLogger sets the client logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) { c.logger = logger.With().Str("component", "bridge").Logger() }
}

// New creates a client for the websocket endpoint url. No connection is made
// until the first call.
func New(url string, opts ...Option) *Client {
	c := &Client{
		url:         url,
		dialer:      websocket.Dialer{HandshakeTimeout: DefaultDialTimeout},
		callTimeout: DefaultCallTimeout,
		logger:      zerolog.Nop(),
		pending:     make(map[string]chan response),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Invoke calls the named backend tool and waits for its result. Every
// failure, transport or remote, is a *assistant.BridgeError.
func (c *Client) Invoke(ctx context.Context, toolName string, args json.RawMessage) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	id := uuid.NewString()
	fail := func(err error) error { return &internal.BridgeError{Tool: toolName, ID: id, Err: err} }

	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}

	conn, err := c.connect(ctx)
	if err != nil {
		return nil, fail(err)
	}

	replies := make(chan response, 1)
	c.mu.Lock()
	c.pending[id] = replies
	c.mu.Unlock()
	defer c.forget(id)

	if err := c.write(conn, request{ID: id, Name: toolName, Arguments: args}); err != nil {
		c.drop(conn, err)
		return nil, fail(fmt.Errorf("send: %w", err))
	}

	select {
	case <-ctx.Done():
		return nil, fail(ctx.Err())
	case resp := <-replies:
		if resp.lost {
			return nil, fail(ErrConnectionLost)
		}
		if resp.Error != "" {
			return nil, fail(fmt.Errorf("%w: %s", ErrRemote, resp.Error))
		}
		if len(resp.Result) == 0 {
			return json.RawMessage(`null`), nil
		}
		return resp.Result, nil
	}
}

// AcceptReview asks the backend to accept the review of a ticket.
func (c *Client) AcceptReview(ctx context.Context, ticketID, guildID string) error {
	args, err := json.Marshal(map[string]string{"ticket_id": ticketID, "guild_id": guildID})
	if err != nil {
		return err
	}
	_, err = c.Invoke(ctx, AcceptReviewTool, args)
	return err
}

// Close closes the connection and fails pending calls. Later calls return
// ErrClosed.
func (c *Client) Close() error {
	c.mu.Lock()
	c.closed = true
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	c.drop(conn, ErrClosed)
	return nil
}

func (c *Client) connect(ctx context.Context) (*websocket.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClosed
	}
	if c.conn != nil {
		return c.conn, nil
	}

	conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket connect: %w", err)
	}
	c.conn = conn
	c.logger.Info().Str("url", c.url).Msg("bridge connected")

	go c.readLoop(conn)
	return conn, nil
}

func (c *Client) write(conn *websocket.Conn, req request) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(req)
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		var resp response
		if err := conn.ReadJSON(&resp); err != nil {
			c.drop(conn, err)
			return
		}

		c.mu.Lock()
		replies, ok := c.pending[resp.ID]
		if ok {
			delete(c.pending, resp.ID)
		}
		c.mu.Unlock()

		if !ok {
			c.logger.Debug().Str("id", resp.ID).Msg("reply for unknown or expired call")
			continue
		}
		replies <- resp
	}
}

// drop closes conn if it is still current and fails every pending call.
func (c *Client) drop(conn *websocket.Conn, cause error) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	pending := c.pending
	c.pending = make(map[string]chan response)
	c.mu.Unlock()

	_ = conn.Close()
	if !errors.Is(cause, ErrClosed) {
		c.logger.Warn().Err(cause).Int("pending", len(pending)).Msg("bridge connection lost")
	}
	for id, replies := range pending {
		replies <- response{ID: id, lost: true}
	}
}

func (c *Client) forget(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}
