package feed

import (
	"context"
	"encoding/json"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"options-core/internal/balance"
	"options-core/internal/events"
	"options-core/internal/market"
	"options-core/internal/monitor"
	"options-core/internal/trade"
	"options-core/pkg/broker"
	"options-core/pkg/pusher"
)

// Options configures the feed supervisor.
type Options struct {
	UserID         string
	ReconnectDelay time.Duration
	CandleInterval time.Duration
	CandleLimit    int
}

// Feed glues the push transport to the domain: it supervises both channel
// sockets, bootstraps history when the watched asset changes, folds ticks
// into the aggregator, and routes user-channel events to the trade engine
// and balance tracker.
type Feed struct {
	client  *pusher.Client
	broker  *broker.Client
	agg     *market.Aggregator
	engine  *trade.Engine
	tracker *balance.Tracker
	bus     *events.Bus
	opts    Options

	mu       sync.Mutex
	watching string

	reconnectCh chan pusher.Channel
}

func New(client *pusher.Client, brk *broker.Client, agg *market.Aggregator, engine *trade.Engine, tracker *balance.Tracker, bus *events.Bus, opts Options) *Feed {
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = 5 * time.Second
	}
	if opts.CandleInterval <= 0 {
		opts.CandleInterval = 30 * time.Second
	}
	if opts.CandleLimit <= 0 {
		opts.CandleLimit = 300
	}
	return &Feed{
		client:      client,
		broker:      brk,
		agg:         agg,
		engine:      engine,
		tracker:     tracker,
		bus:         bus,
		opts:        opts,
		reconnectCh: make(chan pusher.Channel, 8),
	}
}

// Run connects both channels and supervises them until ctx ends. A dropped
// channel is redialed after a fixed delay; the delay is deliberately flat
// since the upstream drops sockets routinely and recovers fast.
func (f *Feed) Run(ctx context.Context) error {
	f.client.OnGlobal(f.onGlobal)
	f.bindUser()

	if err := f.connectWithRetry(ctx, pusher.TargetAll, ""); err != nil {
		return err
	}

	for {
		select {
		case ch := <-f.reconnectCh:
			monitor.IncReconnect(ch.String())
			if err := f.connectWithRetry(ctx, targetFor(ch), ch.String()); err != nil {
				return err
			}
		case <-ctx.Done():
			f.client.Disconnect()
			return ctx.Err()
		}
	}
}

func (f *Feed) connectWithRetry(ctx context.Context, target pusher.Target, label string) error {
	for {
		err := f.client.Connect(ctx, target)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Printf("feed: connect %s failed, retrying in %s: %v", label, f.opts.ReconnectDelay, err)
		select {
		case <-time.After(f.opts.ReconnectDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func targetFor(ch pusher.Channel) pusher.Target {
	if ch == pusher.ChannelOTC {
		return pusher.TargetOTC
	}
	return pusher.TargetRegular
}

// onGlobal translates transport notifications into bus events and metrics.
func (f *Feed) onGlobal(kind string, data any) {
	switch {
	case strings.HasPrefix(kind, "connected-"):
		ch := strings.TrimPrefix(kind, "connected-")
		monitor.SetStreamUp(ch, true)
		f.bus.Publish(events.EventStreamConnected, events.StreamStatus{Channel: ch})

	case strings.HasPrefix(kind, "disconnected-"):
		ch := strings.TrimPrefix(kind, "disconnected-")
		monitor.SetStreamUp(ch, false)
		status := events.StreamStatus{Channel: ch}
		if info, ok := data.(pusher.CloseInfo); ok {
			status.Code = info.Code
			status.Reason = info.Reason
		}
		f.bus.Publish(events.EventStreamDisconnected, status)
		f.requestReconnect(ch)

	case strings.HasPrefix(kind, "error-"):
		f.bus.Publish(events.EventStreamError, events.StreamStatus{Channel: strings.TrimPrefix(kind, "error-")})

	default:
		monitor.IncFrame("", kind)
	}
}

func (f *Feed) requestReconnect(label string) {
	var ch pusher.Channel
	switch label {
	case pusher.ChannelOTC.String():
		ch = pusher.ChannelOTC
	case pusher.ChannelRegular.String():
		ch = pusher.ChannelRegular
	default:
		return
	}
	select {
	case f.reconnectCh <- ch:
	default:
		// A reconnect for this burst is already queued.
	}
}

// bindUser subscribes the private user channel and routes its push events.
func (f *Feed) bindUser() {
	if f.opts.UserID == "" {
		return
	}
	f.client.SubscribeUserChannel(f.opts.UserID, nil)
	f.client.OnSpecialEvent(pusher.EventTradeOperation, f.onTradeOperation)
	f.client.OnSpecialEvent(pusher.EventChangeBalance, func(raw json.RawMessage) {
		monitor.IncFrame("regular", pusher.EventChangeBalance)
		f.tracker.Apply(raw)
	})
}

// Watch switches the streamed asset: history is bootstrapped from the REST
// side first, then live ticks take over. The previous asset is unsubscribed.
func (f *Feed) Watch(ctx context.Context, symbol string) error {
	f.mu.Lock()
	previous := f.watching
	if previous == symbol {
		// Already streaming this asset; re-subscribing would stack a second
		// ticker handler and double-fold every tick.
		f.mu.Unlock()
		return nil
	}
	f.watching = symbol
	f.mu.Unlock()

	if previous != "" {
		f.client.Unsubscribe(previous)
	}

	f.agg.Select(symbol)

	if f.broker != nil {
		span := time.Duration(f.opts.CandleLimit) * f.opts.CandleInterval
		end := time.Now()
		bars, err := f.broker.GetHistory(ctx, symbol, end.Add(-span), end, "second", int(f.opts.CandleInterval/time.Second))
		if err != nil {
			log.Printf("feed: history bootstrap %s: %v", symbol, err)
		} else {
			f.agg.MergeHistory(symbol, toCandles(bars))
			log.Printf("feed: merged %d historical bars for %s", len(bars), symbol)
		}
	}

	f.client.SubscribeAsset(symbol, func(raw json.RawMessage) {
		f.onTick(symbol, raw)
	})
	return nil
}

// Watching returns the currently streamed asset symbol.
func (f *Feed) Watching() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.watching
}

func toCandles(bars []broker.Bar) []market.Candle {
	out := make([]market.Candle, 0, len(bars))
	for _, b := range bars {
		t := b.Unix()
		if t == 0 {
			continue
		}
		out = append(out, market.Candle{
			Time:  t,
			Open:  b.Open,
			High:  b.High,
			Low:   b.Low,
			Close: b.Close,
		})
	}
	return out
}

// tickPayload is the per-asset streaming shape. Numbers arrive as JSON
// numbers or as numeric strings depending on the emitting side.
type tickPayload struct {
	Price    any `json:"price"`
	AskPrice any `json:"ask_price"`
	BidPrice any `json:"bid_price"`
}

func (f *Feed) onTick(symbol string, raw json.RawMessage) {
	var p tickPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		monitor.IncParseError("tick")
		return
	}
	price, ok := toFloat(p.Price)
	if !ok || price <= 0 {
		monitor.IncParseError("tick")
		return
	}
	ask, ok := toFloat(p.AskPrice)
	if !ok {
		ask = price
	}
	bid, ok := toFloat(p.BidPrice)
	if !ok {
		bid = price
	}

	monitor.IncTick()
	f.bus.Publish(events.EventPriceTick, market.Tick{Symbol: symbol, Price: price, Ask: ask, Bid: bid})
	f.agg.OnTick(symbol, price, ask, bid)
}

// onTradeOperation settles a bet from a push notification. Payloads with no
// usable outcome yet are ignored; the reconciliation sweep will catch them.
func (f *Feed) onTradeOperation(raw json.RawMessage) {
	monitor.IncFrame("regular", pusher.EventTradeOperation)

	var p struct {
		ID             string `json:"id"`
		Status         string `json:"status"`
		Result         string `json:"result"`
		ProfitUSDCents any    `json:"profit_usd_cents"`
	}
	if err := json.Unmarshal(raw, &p); err != nil || p.ID == "" {
		monitor.IncParseError("trade-operation")
		return
	}
	if p.Status != "" && !strings.EqualFold(p.Status, "processed") {
		return
	}
	if p.Result == "" {
		return
	}

	profit, _ := toFloat(p.ProfitUSDCents)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if f.engine.Resolve(ctx, p.ID, trade.Outcome{Result: p.Result, ProfitUSDCents: int64(profit)}) {
		log.Printf("feed: operation %s settled via push", p.ID)
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, false
		}
		return f, true
	}
	return 0, false
}
