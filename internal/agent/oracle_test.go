package agent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/gem-relay/internal/connection"
	"github.com/rickgao/gem-relay/internal/features"
	"github.com/rickgao/gem-relay/internal/protocol"
)

const bookFrame = `{"action":"snapshot","arg":{"instType":"SP","channel":"books","instId":"BTCUSDT"},
	"data":[{"asks":[["101","1"]],"bids":[["100","9"]],"ts":"1695716059516"}]}`

type fakeSender struct {
	mu        sync.Mutex
	frames    []any
	err       error
	connected bool
}

func (s *fakeSender) SendJSON(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.frames = append(s.frames, v)
	return nil
}

func (s *fakeSender) IsConnected() bool { return s.connected }

func (s *fakeSender) sent() []any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]any(nil), s.frames...)
}

func newTestOracle(t *testing.T, sender Sender) *Oracle {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Unix(1700000000, 0))
	cfg := DefaultConfig()
	cfg.AgentID = "oracle-test"
	o := New(cfg, features.NewExtractor(10), features.NewPredictor(0.2), nil,
		WithClock(clock),
		WithSender(sender),
	)
	return o
}

func TestOracle_GeneratesID(t *testing.T) {
	o := New(DefaultConfig(), features.NewExtractor(10), features.NewPredictor(0), nil, WithSender(&fakeSender{}))
	assert.NotEmpty(t, o.ID())

	other := New(DefaultConfig(), features.NewExtractor(10), features.NewPredictor(0), nil, WithSender(&fakeSender{}))
	assert.NotEqual(t, o.ID(), other.ID())
}

func TestOracle_SendHeartbeat(t *testing.T) {
	sender := &fakeSender{connected: true}
	o := newTestOracle(t, sender)

	o.SendHeartbeat()

	frames := sender.sent()
	require.Len(t, frames, 1)
	hb, ok := frames[0].(protocol.Heartbeat)
	require.True(t, ok)
	assert.Equal(t, protocol.TypeHeartbeat, hb.Type)
	assert.Equal(t, "oracle-test", hb.AgentID)
	assert.Equal(t, 1700000000.0, hb.Timestamp)
	assert.Equal(t, int64(1), o.Stats().Heartbeats)
}

func TestOracle_ProcessWaitsForBook(t *testing.T) {
	sender := &fakeSender{connected: true}
	o := newTestOracle(t, sender)

	o.Process()

	assert.Empty(t, sender.sent())
	assert.Equal(t, int64(1), o.Stats().NotReady)
}

func TestOracle_ProcessPublishesUpdate(t *testing.T) {
	sender := &fakeSender{connected: true}
	o := newTestOracle(t, sender)

	o.HandleMarketFrame([]byte(bookFrame))
	o.Process()

	frames := sender.sent()
	require.Len(t, frames, 1)
	update, ok := frames[0].(protocol.CoreUpdate)
	require.True(t, ok)
	assert.Equal(t, protocol.TypeCoreUpdate, update.Type)
	assert.Equal(t, "oracle-test", update.AgentID)
	assert.Equal(t, 100.0, update.Features.BestBid)
	assert.Equal(t, 101.0, update.Features.BestAsk)
	assert.InDelta(t, 0.8, update.Features.BookImbalance5Levels, 1e-9)
	assert.Equal(t, string(features.SignalBuy), update.Prediction)
	assert.Equal(t, 1700000000.0, update.Features.Timestamp)

	stats := o.Stats()
	assert.Equal(t, int64(1), stats.Updates)
	assert.Equal(t, int64(1), stats.MarketFrames)
}

func TestOracle_InvalidMarketFrame(t *testing.T) {
	o := newTestOracle(t, &fakeSender{})

	o.HandleMarketFrame([]byte("{broken"))
	o.HandleMarketFrame([]byte(`{"event":"subscribe"}`))

	stats := o.Stats()
	assert.Equal(t, int64(1), stats.MarketInvalid)
	assert.Equal(t, int64(0), stats.MarketFrames)
}

func TestOracle_DropsWhenDisconnected(t *testing.T) {
	sender := &fakeSender{err: connection.ErrNotConnected}
	o := newTestOracle(t, sender)

	o.SendHeartbeat()
	o.HandleMarketFrame([]byte(bookFrame))
	o.Process()

	stats := o.Stats()
	assert.Equal(t, int64(2), stats.Dropped)
	assert.Equal(t, int64(0), stats.Heartbeats)
	assert.Equal(t, int64(0), stats.Updates)
}

type stubFeed struct {
	frames  []string
	handler func([]byte)
}

func (f *stubFeed) Run(ctx context.Context) error {
	for _, frame := range f.frames {
		f.handler([]byte(frame))
	}
	<-ctx.Done()
	return nil
}

func TestOracle_RunPublishesToCore(t *testing.T) {
	received := make(chan protocol.Message, 100)
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	core := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			msg, err := protocol.Parse(data)
			if err != nil {
				continue
			}
			select {
			case received <- msg:
			default:
			}
		}
	}))
	defer core.Close()

	cfg := DefaultConfig()
	cfg.AgentID = "oracle-e2e"
	cfg.CoreURL = "ws" + strings.TrimPrefix(core.URL, "http")
	cfg.RetryDelay = 20 * time.Millisecond
	cfg.HeartbeatInterval = 20 * time.Millisecond
	cfg.ProcessingInterval = 20 * time.Millisecond

	o := New(cfg, features.NewExtractor(10), features.NewPredictor(0), nil)
	feed := &stubFeed{frames: []string{bookFrame}, handler: o.HandleMarketFrame}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- o.Run(ctx, feed) }()

	seen := map[string]bool{}
	deadline := time.After(3 * time.Second)
	for !seen[protocol.TypeHeartbeat] || !seen[protocol.TypeCoreUpdate] {
		select {
		case msg := <-received:
			seen[msg.Type] = true
			assert.Equal(t, "oracle-e2e", msg.StringField("agent_id"))
			if msg.Type == protocol.TypeCoreUpdate {
				var update protocol.CoreUpdate
				require.NoError(t, json.Unmarshal(msg.Raw, &update))
				assert.Equal(t, "BUY", update.Prediction)
			}
		case <-deadline:
			t.Fatalf("timed out, seen %v", seen)
		}
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("oracle did not stop after cancel")
	}
}
