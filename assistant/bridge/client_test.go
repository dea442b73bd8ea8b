package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	internal "github.com/ZanzyTHEbar/guild-assistant/assistant"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// bridgeServer is a websocket backend answering each call with handle.
// Returning false from handle drops the call without a reply.
type bridgeServer struct {
	srv      *httptest.Server
	conns    atomic.Int32
	mu       sync.Mutex
	requests []request
}

func newBridgeServer(t *testing.T, handle func(req request) (response, bool)) *bridgeServer {
	t.Helper()
	bs := &bridgeServer{}
	upgrader := websocket.Upgrader{}

	bs.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		bs.conns.Add(1)

		var writeMu sync.Mutex
		for {
			var req request
			if err := conn.ReadJSON(&req); err != nil {
				return
			}
			bs.mu.Lock()
			bs.requests = append(bs.requests, req)
			bs.mu.Unlock()

			go func() {
				resp, ok := handle(req)
				if !ok {
					return
				}
				resp.ID = req.ID
				writeMu.Lock()
				defer writeMu.Unlock()
				_ = conn.WriteJSON(resp)
			}()
		}
	}))
	t.Cleanup(bs.srv.Close)
	return bs
}

func (bs *bridgeServer) url() string { return "ws" + strings.TrimPrefix(bs.srv.URL, "http") }

func (bs *bridgeServer) seen() []request {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	return append([]request(nil), bs.requests...)
}

func newTestClient(t *testing.T, url string, opts ...Option) *Client {
	t.Helper()
	c := New(url, opts...)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func echo(req request) (response, bool) {
	return response{Result: json.RawMessage(`{"tool":"` + req.Name + `"}`)}, true
}

func TestInvoke_ReturnsResult(t *testing.T) {
	bs := newBridgeServer(t, echo)
	c := newTestClient(t, bs.url())

	out, err := c.Invoke(context.Background(), "ticket_get", json.RawMessage(`{"ticket_id":"42"}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"tool":"ticket_get"}`, string(out))

	reqs := bs.seen()
	require.Len(t, reqs, 1)
	assert.NotEmpty(t, reqs[0].ID)
	assert.JSONEq(t, `{"ticket_id":"42"}`, string(reqs[0].Arguments))
}

func TestInvoke_CorrelatesOutOfOrderReplies(t *testing.T) {
	bs := newBridgeServer(t, func(req request) (response, bool) {
		if req.Name == "slow" {
			time.Sleep(100 * time.Millisecond)
		}
		return echo(req)
	})
	c := newTestClient(t, bs.url())

	// Connect first so both calls share one connection.
	_, err := c.Invoke(context.Background(), "warmup", nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make(map[string]string)
	var mu sync.Mutex
	for _, name := range []string{"slow", "fast"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := c.Invoke(context.Background(), name, nil)
			assert.NoError(t, err)
			mu.Lock()
			results[name] = string(out)
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.JSONEq(t, `{"tool":"slow"}`, results["slow"])
	assert.JSONEq(t, `{"tool":"fast"}`, results["fast"])
	assert.Equal(t, int32(1), bs.conns.Load())
}

func TestInvoke_RemoteErrorIsBridgeError(t *testing.T) {
	bs := newBridgeServer(t, func(request) (response, bool) {
		return response{Error: "ticket not found"}, true
	})
	c := newTestClient(t, bs.url())

	_, err := c.Invoke(context.Background(), "ticket_get", nil)
	require.Error(t, err)

	var be *internal.BridgeError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, "ticket_get", be.Tool)
	assert.ErrorIs(t, err, ErrRemote)
	assert.Contains(t, err.Error(), "ticket not found")
}

func TestInvoke_TimeoutIsBridgeError(t *testing.T) {
	bs := newBridgeServer(t, func(request) (response, bool) { return response{}, false })
	c := newTestClient(t, bs.url(), WithCallTimeout(50*time.Millisecond))

	_, err := c.Invoke(context.Background(), "ticket_get", nil)
	var be *internal.BridgeError
	require.ErrorAs(t, err, &be)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestInvoke_DialFailureIsBridgeError(t *testing.T) {
	bs := newBridgeServer(t, echo)
	url := bs.url()
	bs.srv.Close()

	c := newTestClient(t, url, WithDialTimeout(time.Second))
	_, err := c.Invoke(context.Background(), "ticket_get", nil)
	var be *internal.BridgeError
	require.ErrorAs(t, err, &be)
}

func TestInvoke_RedialsAfterConnectionLoss(t *testing.T) {
	bs := newBridgeServer(t, echo)
	c := newTestClient(t, bs.url())

	_, err := c.Invoke(context.Background(), "first", nil)
	require.NoError(t, err)

	// Kill the current connection from the client side.
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	require.NotNil(t, conn)
	_ = conn.Close()

	require.Eventually(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.conn == nil
	}, time.Second, 10*time.Millisecond)

	_, err = c.Invoke(context.Background(), "second", nil)
	require.NoError(t, err)
	assert.Equal(t, int32(2), bs.conns.Load())
}

func TestInvoke_AfterClose(t *testing.T) {
	bs := newBridgeServer(t, echo)
	c := New(bs.url())
	require.NoError(t, c.Close())

	_, err := c.Invoke(context.Background(), "ticket_get", nil)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestAcceptReview_SendsTicketAndGuild(t *testing.T) {
	bs := newBridgeServer(t, func(request) (response, bool) {
		return response{Result: json.RawMessage(`{"accepted":true}`)}, true
	})
	c := newTestClient(t, bs.url())

	require.NoError(t, c.AcceptReview(context.Background(), "T-1", "G-1"))

	reqs := bs.seen()
	require.Len(t, reqs, 1)
	assert.Equal(t, AcceptReviewTool, reqs[0].Name)
	assert.JSONEq(t, `{"ticket_id":"T-1","guild_id":"G-1"}`, string(reqs[0].Arguments))
}

func TestAcceptReview_PropagatesFailure(t *testing.T) {
	bs := newBridgeServer(t, func(request) (response, bool) {
		return response{Error: "review already accepted"}, true
	})
	c := newTestClient(t, bs.url())

	err := c.AcceptReview(context.Background(), "T-1", "G-1")
	assert.True(t, errors.Is(err, ErrRemote))
}
