package pusher

import "encoding/json"

// Frame is the Pusher-compatible wire envelope. Data is either a JSON object
// or a JSON-encoded string wrapping one, depending on the event.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

const (
	eventConnectionEstablished = "pusher:connection_established"
	eventSubscriptionSucceeded = "pusher:subscription_succeeded"
	eventSubscribe             = "pusher:subscribe"
	eventUnsubscribe           = "pusher:unsubscribe"

	// EventTradeOperation carries order-lifecycle results on the user channel.
	EventTradeOperation = "trade-operation"
	// EventChangeBalance is the canonical balance event; the broker has been
	// observed emitting several aliases for the same payload.
	EventChangeBalance = "change-balance"
)

// isBalanceEvent reports whether the event name is one of the observed
// balance-update aliases.
func isBalanceEvent(event string) bool {
	switch event {
	case EventChangeBalance, "balance-update", "balance-change", "update-balance":
		return true
	}
	return false
}

type subscribeData struct {
	Channel string `json:"channel"`
}

func subscribeFrame(topic string) Frame {
	data, _ := json.Marshal(subscribeData{Channel: topic})
	return Frame{Event: eventSubscribe, Data: data}
}

func unsubscribeFrame(topic string) Frame {
	data, _ := json.Marshal(subscribeData{Channel: topic})
	return Frame{Event: eventUnsubscribe, Data: data}
}

// unwrapData peels the string encoding off a double-encoded data field.
// Malformed payloads are returned unchanged so downstream consumers can
// still attempt best-effort extraction.
func unwrapData(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return raw
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return json.RawMessage(s)
	}
	return raw
}

// unwrapMessage extracts a payload nested under a "message" key, another
// shape the push channel has been observed using.
func unwrapMessage(raw json.RawMessage) json.RawMessage {
	var probe struct {
		Message json.RawMessage `json:"message"`
	}
	if err := json.Unmarshal(raw, &probe); err == nil && len(probe.Message) > 0 && string(probe.Message) != "null" {
		return probe.Message
	}
	return raw
}
