package pusher

import "log"

// pendingSub is a subscribe request issued while its channel socket was not
// open. Consumed exactly once when the channel comes up.
type pendingSub struct {
	channel Channel
	topic   string
}

// SubscribeAsset subscribes to live updates for an asset symbol. The channel
// is derived from the symbol; the optional handler receives ticker payloads.
func (c *Client) SubscribeAsset(symbol string, handler Handler) {
	if symbol == "" {
		return
	}
	c.subscribeTopic(ChannelForSymbol(symbol), symbol, handler)
}

// SubscribeUserChannel subscribes to the user's private channel, which
// carries trade-operation and balance events. User events ride the regular
// segment by broker convention.
func (c *Client) SubscribeUserChannel(userID string, handler Handler) {
	if userID == "" {
		return
	}
	c.subscribeTopic(ChannelRegular, "user-"+userID, handler)
}

func (c *Client) subscribeTopic(ch Channel, topic string, handler Handler) {
	c.mu.Lock()
	st := c.channels[ch]
	st.confirmed[topic] = struct{}{}
	if handler != nil {
		st.handlers[topic] = append(st.handlers[topic], handler)
	}
	c.mu.Unlock()

	c.sendSubscribe(ch, topic)
}

// Unsubscribe removes an asset topic locally and, when the socket is open,
// tells the upstream. With the socket closed there is nothing to cancel
// upstream, so the removal is purely local.
func (c *Client) Unsubscribe(symbol string) {
	ch := ChannelForSymbol(symbol)

	c.mu.Lock()
	st := c.channels[ch]
	delete(st.confirmed, symbol)
	delete(st.handlers, symbol)
	c.dropPendingLocked(ch, symbol)
	conn := st.conn
	open := st.connected
	c.mu.Unlock()

	if !open || conn == nil {
		return
	}
	if err := c.writeFrame(st, unsubscribeFrame(symbol)); err != nil {
		log.Printf("pusher: unsubscribe %s send error: %v", symbol, err)
	}
}

// sendSubscribe transmits a subscribe frame, queueing it when the channel is
// not open yet. The queue is deduplicated by (channel, topic).
func (c *Client) sendSubscribe(ch Channel, topic string) {
	c.mu.Lock()
	st := c.channels[ch]
	if !st.connected || st.conn == nil {
		c.queuePendingLocked(ch, topic)
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	if err := c.writeFrame(st, subscribeFrame(topic)); err != nil {
		log.Printf("pusher: subscribe %s send error: %v", topic, err)
		c.mu.Lock()
		c.queuePendingLocked(ch, topic)
		c.mu.Unlock()
	}
}

func (c *Client) queuePendingLocked(ch Channel, topic string) {
	for _, p := range c.pending {
		if p.channel == ch && p.topic == topic {
			return
		}
	}
	c.pending = append(c.pending, pendingSub{channel: ch, topic: topic})
}

func (c *Client) dropPendingLocked(ch Channel, topic string) {
	kept := c.pending[:0]
	for _, p := range c.pending {
		if p.channel != ch || p.topic != topic {
			kept = append(kept, p)
		}
	}
	c.pending = kept
}

// flushPending sends every subscribe request queued for a channel while it
// was down; entries are consumed exactly once.
func (c *Client) flushPending(ch Channel) {
	c.mu.Lock()
	var ready []string
	kept := c.pending[:0]
	for _, p := range c.pending {
		if p.channel == ch {
			ready = append(ready, p.topic)
		} else {
			kept = append(kept, p)
		}
	}
	c.pending = kept
	c.mu.Unlock()

	for _, topic := range ready {
		c.sendSubscribe(ch, topic)
	}
}

// resubscribeAll replays the confirmed topic set for a channel. Invoked on
// every connection_established so that, after any number of reconnects, the
// remote subscription state converges to the locally tracked set.
func (c *Client) resubscribeAll(ch Channel) {
	c.mu.Lock()
	st := c.channels[ch]
	if !st.connected || st.conn == nil {
		c.mu.Unlock()
		return
	}
	topics := make([]string, 0, len(st.confirmed))
	for topic := range st.confirmed {
		topics = append(topics, topic)
	}
	c.mu.Unlock()

	for _, topic := range topics {
		c.sendSubscribe(ch, topic)
	}
}

func (c *Client) writeFrame(st *channelState, f Frame) error {
	st.writeMu.Lock()
	defer st.writeMu.Unlock()

	c.mu.Lock()
	conn := st.conn
	c.mu.Unlock()
	if conn == nil {
		return errNotConnected
	}
	return conn.WriteJSON(f)
}
