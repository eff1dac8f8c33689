package exchange

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mockExchange(t *testing.T, handler func(*websocket.Conn)) *httptest.Server {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		defer conn.Close()
		handler(conn)
	}))
	t.Cleanup(server.Close)
	return server
}

func testConfig(server *httptest.Server) Config {
	cfg := DefaultConfig()
	cfg.URL = "ws" + strings.TrimPrefix(server.URL, "http")
	cfg.Symbols = []string{"BTCUSDT", "ETHUSDT"}
	cfg.RetryDelay = 20 * time.Millisecond
	cfg.PingInterval = 0
	return cfg
}

func run(t *testing.T, c *Connector) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("connector did not stop after cancel")
		}
	})
}

func TestSubscription(t *testing.T) {
	req := Subscription(InstTypeSpot, []string{"BTCUSDT", "ETHUSDT"}, []string{"books", "trade"})

	assert.Equal(t, "subscribe", req.Op)
	require.Len(t, req.Args, 4)
	assert.Equal(t, SubscribeArg{InstType: "SP", Channel: "books", InstID: "BTCUSDT"}, req.Args[0])
	assert.Equal(t, SubscribeArg{InstType: "SP", Channel: "trade", InstID: "ETHUSDT"}, req.Args[3])

	data, err := json.Marshal(req)
	require.NoError(t, err)
	assert.JSONEq(t, `{"op":"subscribe","args":[
		{"instType":"SP","channel":"books","instId":"BTCUSDT"},
		{"instType":"SP","channel":"trade","instId":"BTCUSDT"},
		{"instType":"SP","channel":"books","instId":"ETHUSDT"},
		{"instType":"SP","channel":"trade","instId":"ETHUSDT"}]}`, string(data))
}

func TestConnector_SubscribesAndDeliversFrames(t *testing.T) {
	subscribed := make(chan SubscribeRequest, 1)
	const book = `{"action":"snapshot","arg":{"instType":"SP","channel":"books","instId":"BTCUSDT"},"data":[]}`

	server := mockExchange(t, func(conn *websocket.Conn) {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var req SubscribeRequest
		json.Unmarshal(msg, &req)
		subscribed <- req

		conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"subscribe","arg":{"channel":"books"}}`))
		conn.WriteMessage(websocket.TextMessage, []byte("pong"))
		conn.WriteMessage(websocket.TextMessage, []byte(book))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	frames := make(chan string, 10)
	c := New(testConfig(server), func(data []byte) { frames <- string(data) }, nil)
	run(t, c)

	select {
	case req := <-subscribed:
		assert.Equal(t, "subscribe", req.Op)
		assert.Len(t, req.Args, 4)
	case <-time.After(2 * time.Second):
		t.Fatal("no subscription received")
	}

	select {
	case got := <-frames:
		assert.Equal(t, book, got)
	case <-time.After(2 * time.Second):
		t.Fatal("no frame delivered")
	}

	assert.Eventually(t, func() bool { return c.Stats().Pongs == 1 }, time.Second, 10*time.Millisecond)
	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Frames)
	assert.Equal(t, int64(1), stats.Sessions)
	assert.True(t, c.IsConnected())
}

func TestConnector_SendsTextPings(t *testing.T) {
	pings := make(chan string, 10)
	server := mockExchange(t, func(conn *websocket.Conn) {
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if string(msg) == "ping" {
				pings <- string(msg)
				conn.WriteMessage(websocket.TextMessage, []byte("pong"))
			}
		}
	})

	cfg := testConfig(server)
	cfg.PingInterval = 20 * time.Millisecond
	c := New(cfg, func([]byte) { t.Error("pong must not reach the handler") }, nil)
	run(t, c)

	select {
	case <-pings:
	case <-time.After(2 * time.Second):
		t.Fatal("no ping received")
	}
	assert.Eventually(t, func() bool { return c.Stats().Pongs >= 1 }, time.Second, 10*time.Millisecond)
}

func TestConnector_ResubscribesAfterReconnect(t *testing.T) {
	var connects atomic.Int32
	server := mockExchange(t, func(conn *websocket.Conn) {
		n := connects.Add(1)
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		if n == 1 {
			// Drop the first session right after it subscribes
			return
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	var mu sync.Mutex
	resets := 0
	c := New(testConfig(server), nil, nil, WithOnSession(func() {
		mu.Lock()
		resets++
		mu.Unlock()
	}))
	run(t, c)

	assert.Eventually(t, func() bool { return c.Stats().Sessions >= 2 }, 2*time.Second, 10*time.Millisecond)
	mu.Lock()
	assert.GreaterOrEqual(t, resets, 2)
	mu.Unlock()
}

func TestConnector_CountsErrorEvents(t *testing.T) {
	server := mockExchange(t, func(conn *websocket.Conn) {
		conn.ReadMessage()
		conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"error","code":30001,"msg":"instType:SP,channel:books,instId:NOPE doesn't exist"}`))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	c := New(testConfig(server), func([]byte) { t.Error("error event must not reach the handler") }, nil)
	run(t, c)

	assert.Eventually(t, func() bool { return c.Stats().ErrEvents == 1 }, 2*time.Second, 10*time.Millisecond)
}
