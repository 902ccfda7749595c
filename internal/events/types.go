package events

// Event enumerates high-level topics inside the options core.
type Event string

const (
	EventPriceTick          Event = "price_tick"
	EventCandleUpdate       Event = "candle_update"
	EventBalanceUpdate      Event = "balance_update"
	EventTradePlaced        Event = "trade.placed"
	EventTradeResult        Event = "trade.result"
	EventStreamConnected    Event = "stream.connected"
	EventStreamDisconnected Event = "stream.disconnected"
	EventStreamError        Event = "stream.error"
)

// StreamStatus is the payload carried by stream connectivity events.
type StreamStatus struct {
	Channel string
	Code    int
	Reason  string
}
