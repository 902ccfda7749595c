package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	framesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stream_frames_total",
		Help: "Inbound websocket frames by channel and event kind.",
	}, []string{"channel", "event"})

	ticksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "price_ticks_total",
		Help: "Price ticks folded into the candle series.",
	})

	candleUpdatesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "candle_updates_total",
		Help: "Candle bar updates published by the aggregator.",
	})

	reconnectsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stream_reconnects_total",
		Help: "Reconnect attempts by channel.",
	}, []string{"channel"})

	streamUp = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "stream_connected",
		Help: "Whether the channel socket is currently open (1) or not (0).",
	}, []string{"channel"})

	tradesResolvedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "trades_resolved_total",
		Help: "Settled operations by final status.",
	}, []string{"status"})

	martingalePlacedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "martingale_operations_total",
		Help: "Recovery operations placed by the martingale cascade.",
	})

	pollCyclesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "reconcile_cycles_total",
		Help: "Reconciliation cycles by outcome (run, skipped).",
	}, []string{"outcome"})

	parseErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payload_parse_errors_total",
		Help: "Payloads that could not be decoded, by source.",
	}, []string{"source"})
)

func init() {
	prometheus.MustRegister(
		framesTotal,
		ticksTotal,
		candleUpdatesTotal,
		reconnectsTotal,
		streamUp,
		tradesResolvedTotal,
		martingalePlacedTotal,
		pollCyclesTotal,
		parseErrorsTotal,
	)
}

func IncFrame(channel, event string)  { framesTotal.WithLabelValues(channel, event).Inc() }
func IncTick()                        { ticksTotal.Inc() }
func IncCandleUpdate()                { candleUpdatesTotal.Inc() }
func IncReconnect(channel string)     { reconnectsTotal.WithLabelValues(channel).Inc() }
func SetStreamUp(channel string, up bool) {
	v := 0.0
	if up {
		v = 1
	}
	streamUp.WithLabelValues(channel).Set(v)
}
func IncTradeResolved(status string) { tradesResolvedTotal.WithLabelValues(status).Inc() }
func IncMartingalePlaced()           { martingalePlacedTotal.Inc() }
func IncPollCycle(outcome string)    { pollCyclesTotal.WithLabelValues(outcome).Inc() }
func IncParseError(source string)    { parseErrorsTotal.WithLabelValues(source).Inc() }
