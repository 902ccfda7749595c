package feed

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

	"options-core/internal/events"
	"options-core/internal/market"
	"options-core/internal/trade"
	"options-core/pkg/broker"
	"options-core/pkg/pusher"
)

type wireFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// pushServer speaks the minimum of the protocol: greets connections,
// acknowledges subscribes, and can reject the first dial to simulate a
// partially unavailable upstream.
type pushServer struct {
	srv      *httptest.Server
	upgrader websocket.Upgrader

	rejectFirst bool
	rejected    atomic.Bool
	dials       atomic.Int32

	mu         sync.Mutex
	subscribes []string
}

func newPushServer(t *testing.T, rejectFirst bool) *pushServer {
	t.Helper()
	ps := &pushServer{rejectFirst: rejectFirst}
	ps.srv = httptest.NewServer(http.HandlerFunc(ps.handle))
	t.Cleanup(ps.srv.Close)
	return ps
}

func (ps *pushServer) handle(w http.ResponseWriter, r *http.Request) {
	if ps.rejectFirst && ps.rejected.CompareAndSwap(false, true) {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}
	conn, err := ps.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	ps.dials.Add(1)

	var writeMu sync.Mutex
	write := func(f wireFrame) {
		writeMu.Lock()
		defer writeMu.Unlock()
		_ = conn.WriteJSON(f)
	}
	write(wireFrame{
		Event: "pusher:connection_established",
		Data:  json.RawMessage(`"{\"socket_id\":\"1.1\"}"`),
	})

	for {
		var f wireFrame
		if err := conn.ReadJSON(&f); err != nil {
			return
		}
		if f.Event == "pusher:subscribe" {
			var d struct {
				Channel string `json:"channel"`
			}
			if err := json.Unmarshal(f.Data, &d); err == nil {
				ps.mu.Lock()
				ps.subscribes = append(ps.subscribes, d.Channel)
				ps.mu.Unlock()
				write(wireFrame{Event: "pusher:subscription_succeeded"})
			}
		}
	}
}

func (ps *pushServer) url() string {
	return "ws" + strings.TrimPrefix(ps.srv.URL, "http")
}

func (ps *pushServer) subscribeCount(topic string) int {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	n := 0
	for _, s := range ps.subscribes {
		if s == topic {
			n++
		}
	}
	return n
}

func newSupervisedFeed(client *pusher.Client, brk *broker.Client, opts Options) *Feed {
	bus := events.NewBus()
	agg := market.NewAggregator(bus, 30*time.Second, 300)
	engine := trade.NewEngine(bus, nil, "user-1")
	engine.SetMartingale(false)
	return New(client, brk, agg, engine, nil, bus, opts)
}

func TestRunRecoversFromPartialConnect(t *testing.T) {
	otc := newPushServer(t, false)
	regular := newPushServer(t, true) // first dial rejected, then healthy

	client := pusher.NewClient(pusher.Options{
		OTCURL:      otc.url(),
		RegularURL:  regular.url(),
		SettleDelay: time.Millisecond,
	})
	f := newSupervisedFeed(client, nil, Options{ReconnectDelay: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.Run(ctx)
		close(done)
	}()
	defer func() {
		cancel()
		<-done
	}()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if client.Connected(pusher.ChannelOTC) && client.Connected(pusher.ChannelRegular) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if !client.Connected(pusher.ChannelOTC) || !client.Connected(pusher.ChannelRegular) {
		t.Fatal("channels never both came up")
	}

	// Once both channels are healthy the supervisor must go quiet. The
	// retried multi-channel connect redials the channel that never failed;
	// if that close leaked back in as a remote disconnect, the loop would
	// keep closing and redialing it forever.
	before := otc.dials.Load()
	time.Sleep(500 * time.Millisecond)
	if after := otc.dials.Load(); after != before {
		t.Errorf("healthy channel redialed %d more times while idle", after-before)
	}
	if dials := otc.dials.Load(); dials > 3 {
		t.Errorf("healthy channel dialed %d times during startup, want at most 3", dials)
	}
}

func TestWatchSameSymbolIsNoOp(t *testing.T) {
	ws := newPushServer(t, false)

	var historyCalls atomic.Int32
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/v1/candles/") {
			historyCalls.Add(1)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"values":[]}`))
	}))
	defer api.Close()
	brk := broker.NewClient(broker.Config{BaseURL: api.URL, RatePerSec: 1000})

	client := pusher.NewClient(pusher.Options{
		OTCURL:      ws.url(),
		RegularURL:  ws.url(),
		SettleDelay: time.Millisecond,
	})
	defer client.Disconnect()
	f := newSupervisedFeed(client, brk, Options{})

	// Wait for the greeting so its (empty) subscription replay cannot race
	// with the subscribe issued by Watch.
	greeted := make(chan struct{}, 1)
	client.OnGlobal(func(kind string, data any) {
		if strings.HasPrefix(kind, "pusher:connection_established-") {
			select {
			case greeted <- struct{}{}:
			default:
			}
		}
	})

	ctx := context.Background()
	if err := client.Connect(ctx, pusher.TargetOTC); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	select {
	case <-greeted:
	case <-time.After(2 * time.Second):
		t.Fatal("greeting never processed")
	}

	if err := f.Watch(ctx, "EURUSD-OTC"); err != nil {
		t.Fatalf("Watch: %v", err)
	}
	if err := f.Watch(ctx, "EURUSD-OTC"); err != nil {
		t.Fatalf("repeat Watch: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && ws.subscribeCount("EURUSD-OTC") == 0 {
		time.Sleep(10 * time.Millisecond)
	}
	time.Sleep(100 * time.Millisecond) // allow a duplicate to surface

	if got := ws.subscribeCount("EURUSD-OTC"); got != 1 {
		t.Errorf("subscribed %d times, want 1", got)
	}
	if got := historyCalls.Load(); got != 1 {
		t.Errorf("history fetched %d times, want 1", got)
	}
	if f.Watching() != "EURUSD-OTC" {
		t.Errorf("watching = %q", f.Watching())
	}
}
