package pusher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var errNotConnected = errors.New("pusher: channel not connected")

// Target selects which channels Connect should establish.
type Target int

const (
	TargetAll Target = iota
	TargetOTC
	TargetRegular
)

// Handler receives the decoded data payload of a routed event.
type Handler func(data json.RawMessage)

// GlobalHandler observes every notification the client emits. kind is the
// event name, possibly suffixed with the channel ("connected-otc"). data is
// the raw payload for wire events or a CloseInfo for disconnects.
type GlobalHandler func(kind string, data any)

// CloseInfo describes why a channel socket went away.
type CloseInfo struct {
	Code   int
	Reason string
}

// Options configures the dual-channel client.
type Options struct {
	OTCURL         string
	RegularURL     string
	ConnectTimeout time.Duration
	SettleDelay    time.Duration
}

type channelState struct {
	url       string
	conn      *websocket.Conn
	writeMu   sync.Mutex
	connected bool
	gen       int // bumped per (re)connect so stale readers bail out
	confirmed map[string]struct{}
	handlers  map[string][]Handler
}

// Client owns two independent persistent sockets, one per market segment,
// and routes inbound frames to registered handlers.
type Client struct {
	opts Options

	mu       sync.Mutex
	channels [numChannels]*channelState
	pending  []pendingSub
	global   []GlobalHandler
	special  map[string][]Handler
}

// NewClient builds a disconnected client; call Connect to go live.
func NewClient(opts Options) *Client {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 10 * time.Second
	}
	if opts.SettleDelay <= 0 {
		opts.SettleDelay = 100 * time.Millisecond
	}
	c := &Client{
		opts:    opts,
		special: make(map[string][]Handler),
	}
	c.channels[ChannelOTC] = newChannelState(opts.OTCURL)
	c.channels[ChannelRegular] = newChannelState(opts.RegularURL)
	return c
}

func newChannelState(url string) *channelState {
	return &channelState{
		url:       url,
		confirmed: make(map[string]struct{}),
		handlers:  make(map[string][]Handler),
	}
}

// Connect establishes the requested channel sockets. A channel that fails to
// open within the connect timeout is reported as an error; retrying is the
// caller's responsibility.
func (c *Client) Connect(ctx context.Context, target Target) error {
	var firstErr error
	if target == TargetAll || target == TargetOTC {
		if err := c.connectChannel(ctx, ChannelOTC); err != nil {
			firstErr = err
		}
	}
	if target == TargetAll || target == TargetRegular {
		if err := c.connectChannel(ctx, ChannelRegular); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if firstErr == nil {
		c.notifyGlobal("ready", nil)
	}
	return firstErr
}

func (c *Client) connectChannel(ctx context.Context, ch Channel) error {
	st := c.channels[ch]

	// Close any existing socket gracefully before redialing. Bumping the
	// generation orphans its reader, so a close we initiated is never
	// reported as a remote disconnect.
	c.mu.Lock()
	if st.conn != nil {
		closeConn(st.conn, websocket.CloseNormalClosure, "reconnecting")
		st.conn = nil
		st.connected = false
		st.gen++
	}
	c.mu.Unlock()

	// Give the previous connection a moment to tear down.
	select {
	case <-time.After(c.opts.SettleDelay):
	case <-ctx.Done():
		return ctx.Err()
	}

	dialer := websocket.Dialer{HandshakeTimeout: c.opts.ConnectTimeout}
	dctx, cancel := context.WithTimeout(ctx, c.opts.ConnectTimeout)
	defer cancel()

	conn, _, err := dialer.DialContext(dctx, st.url, nil)
	if err != nil {
		c.notifyGlobal("error-"+ch.String(), err)
		return fmt.Errorf("connect %s: %w", ch, err)
	}

	c.mu.Lock()
	st.conn = conn
	st.connected = true
	st.gen++
	gen := st.gen
	c.mu.Unlock()

	log.Printf("pusher: %s channel connected", ch)
	c.notifyGlobal("connected-"+ch.String(), nil)

	// Anything queued while disconnected goes out now; the confirmed set is
	// replayed once the server acknowledges with connection_established.
	c.flushPending(ch)

	go c.readLoop(ch, conn, gen)
	return nil
}

func (c *Client) readLoop(ch Channel, conn *websocket.Conn, gen int) {
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			info := closeInfoFromErr(err)

			c.mu.Lock()
			st := c.channels[ch]
			stale := st.gen != gen
			if !stale {
				st.connected = false
				st.conn = nil
			}
			c.mu.Unlock()

			if stale {
				return // a newer connection owns this channel
			}
			log.Printf("pusher: %s channel closed: code=%d reason=%q", ch, info.Code, info.Reason)
			c.notifyGlobal("disconnected-"+ch.String(), info)
			return
		}
		c.handleFrame(ch, msg)
	}
}

func closeInfoFromErr(err error) CloseInfo {
	if ce, ok := err.(*websocket.CloseError); ok {
		return CloseInfo{Code: ce.Code, Reason: ce.Text}
	}
	return CloseInfo{Code: websocket.CloseAbnormalClosure, Reason: err.Error()}
}

// handleFrame demultiplexes one inbound frame by event name.
func (c *Client) handleFrame(ch Channel, msg []byte) {
	var f Frame
	if err := json.Unmarshal(msg, &f); err != nil {
		log.Printf("pusher: %s channel frame parse error: %v", ch, err)
		c.notifyGlobal("error-"+ch.String(), json.RawMessage(msg))
		return
	}

	switch {
	case f.Event == eventConnectionEstablished:
		c.resubscribeAll(ch)
		c.notifyGlobal(f.Event+"-"+ch.String(), f.Data)

	case f.Event == eventSubscriptionSucceeded:
		c.notifyGlobal(f.Event+"-"+ch.String(), f.Data)

	case f.Event == EventTradeOperation:
		payload := unwrapMessage(unwrapData(f.Data))
		c.notifyGlobal(EventTradeOperation, payload)
		c.notifySpecial(EventTradeOperation, payload)

	case isBalanceEvent(f.Event):
		payload := unwrapData(f.Data)
		c.notifyGlobal(EventChangeBalance, payload)
		c.notifySpecial(EventChangeBalance, payload)

	default:
		c.mu.Lock()
		st := c.channels[ch]
		_, subscribed := st.confirmed[f.Event]
		handlers := append([]Handler(nil), st.handlers[f.Event]...)
		c.mu.Unlock()

		if !subscribed {
			c.notifyGlobal("unknown-"+ch.String(), json.RawMessage(msg))
			return
		}

		// Event name matches a subscribed topic: ticker update.
		payload := unwrapData(f.Data)
		c.notifyGlobal(f.Event+"-"+ch.String(), payload)
		for _, h := range handlers {
			invoke(func() { h(payload) })
		}
	}
}

// OnGlobal registers an observer for every notification.
func (c *Client) OnGlobal(h GlobalHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.global = append(c.global, h)
}

// OnSpecialEvent registers a handler for a named push event
// (trade-operation, change-balance).
func (c *Client) OnSpecialEvent(event string, h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.special[event] = append(c.special[event], h)
}

// Connected reports whether the given channel socket is open.
func (c *Client) Connected(ch Channel) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.channels[ch].connected
}

// IsConnected reports whether at least one channel is open.
func (c *Client) IsConnected() bool {
	return c.Connected(ChannelOTC) || c.Connected(ChannelRegular)
}

// Disconnect closes both sockets and clears all handlers and subscriptions.
func (c *Client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, st := range c.channels {
		if st.conn != nil {
			closeConn(st.conn, websocket.CloseNormalClosure, "client disconnect")
			st.conn = nil
		}
		st.connected = false
		st.gen++ // orphan any reader still draining
		st.confirmed = make(map[string]struct{})
		st.handlers = make(map[string][]Handler)
	}
	c.pending = nil
	c.global = nil
	c.special = make(map[string][]Handler)
}

func closeConn(conn *websocket.Conn, code int, reason string) {
	deadline := time.Now().Add(time.Second)
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
	_ = conn.Close()
}

func (c *Client) notifyGlobal(kind string, data any) {
	c.mu.Lock()
	handlers := append([]GlobalHandler(nil), c.global...)
	c.mu.Unlock()
	for _, h := range handlers {
		invoke(func() { h(kind, data) })
	}
}

func (c *Client) notifySpecial(event string, data json.RawMessage) {
	c.mu.Lock()
	handlers := append([]Handler(nil), c.special[event]...)
	c.mu.Unlock()
	for _, h := range handlers {
		invoke(func() { h(data) })
	}
}

// invoke runs a handler in isolation so one failing observer cannot take
// down the read loop or its peers.
func invoke(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("pusher: handler panic recovered: %v", r)
		}
	}()
	fn()
}
