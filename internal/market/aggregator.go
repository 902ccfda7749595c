package market

import (
	"sort"
	"sync"
	"time"

	"options-core/internal/events"
)

// Candle is one fixed-width OHLC bar. Time is the unix second of the bucket
// start, aligned to the aggregation interval.
type Candle struct {
	Time  int64   `json:"time"`
	Open  float64 `json:"open"`
	High  float64 `json:"high"`
	Low   float64 `json:"low"`
	Close float64 `json:"close"`
}

// bucket accumulates ticks for the in-progress window. It becomes immutable
// once a tick lands in a newer window.
type bucket struct {
	timeStart int64
	symbol    string
	open      float64
	high      float64
	low       float64
	close     float64
}

// Aggregator folds raw price ticks for the selected asset into fixed-width
// OHLC buckets and maintains a bounded, sorted bar series.
type Aggregator struct {
	mu       sync.Mutex
	bus      *events.Bus
	interval int64 // seconds
	limit    int
	selected string
	series   []Candle
	acc      *bucket

	now func() time.Time
}

// NewAggregator builds an aggregator with the given bucket width and series
// bound (bars beyond the bound are evicted oldest-first).
func NewAggregator(bus *events.Bus, interval time.Duration, limit int) *Aggregator {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if limit <= 0 {
		limit = 300
	}
	return &Aggregator{
		bus:      bus,
		interval: int64(interval / time.Second),
		limit:    limit,
		now:      time.Now,
	}
}

// Select switches the watched asset. The accumulator and series are reset;
// the caller is expected to follow up with MergeHistory.
func (a *Aggregator) Select(symbol string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.selected = symbol
	a.acc = nil
	a.series = nil
}

// Selected returns the currently watched asset symbol.
func (a *Aggregator) Selected() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.selected
}

// OnTick folds one tick into the in-progress bucket. Ticks for assets other
// than the selected one are dropped. ask and bid widen high/low; callers
// without quotes pass the trade price for both.
func (a *Aggregator) OnTick(symbol string, price, ask, bid float64) (Candle, bool) {
	a.mu.Lock()

	if symbol == "" || symbol != a.selected {
		a.mu.Unlock()
		return Candle{}, false
	}

	intervalStart := a.now().Unix() / a.interval * a.interval

	if a.acc == nil || a.acc.timeStart != intervalStart || a.acc.symbol != symbol {
		// New window: seed from an existing bar for this window when one is
		// already in the series, so the bucket carries its open forward.
		if prior, ok := a.barAtLocked(intervalStart); ok {
			a.acc = &bucket{
				timeStart: intervalStart,
				symbol:    symbol,
				open:      prior.Open,
				high:      max(prior.High, price, ask),
				low:       min(prior.Low, price, bid),
				close:     price,
			}
		} else {
			a.acc = &bucket{
				timeStart: intervalStart,
				symbol:    symbol,
				open:      price,
				high:      max(price, ask),
				low:       min(price, bid),
				close:     price,
			}
		}
	} else {
		a.acc.high = max(a.acc.high, price, ask)
		a.acc.low = min(a.acc.low, price, bid)
		a.acc.close = price
	}

	c := Candle{
		Time:  a.acc.timeStart,
		Open:  a.acc.open,
		High:  a.acc.high,
		Low:   a.acc.low,
		Close: a.acc.close,
	}
	a.mergeLocked(c)
	a.mu.Unlock()

	if a.bus != nil {
		a.bus.Publish(events.EventCandleUpdate, c)
	}
	return c, true
}

// MergeHistory merges a freshly fetched historical batch into the series.
// An in-progress bucket for the selected asset takes precedence over a
// historical bar sharing its timeStart, since it reflects ticks newer than
// the batch snapshot. The accumulator is reset afterwards and rebuilds from
// the next tick.
func (a *Aggregator) MergeHistory(symbol string, bars []Candle) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if symbol != a.selected {
		return
	}

	byTime := make(map[int64]Candle, len(bars)+1)
	for _, b := range bars {
		byTime[b.Time] = b
	}
	if a.acc != nil && a.acc.symbol == symbol {
		byTime[a.acc.timeStart] = Candle{
			Time:  a.acc.timeStart,
			Open:  a.acc.open,
			High:  a.acc.high,
			Low:   a.acc.low,
			Close: a.acc.close,
		}
	}

	merged := make([]Candle, 0, len(byTime))
	for _, c := range byTime {
		merged = append(merged, c)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].Time < merged[j].Time })
	if len(merged) > a.limit {
		merged = merged[len(merged)-a.limit:]
	}

	a.series = merged
	a.acc = nil
}

// Series returns a copy of the current bar series, oldest first.
func (a *Aggregator) Series() []Candle {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Candle, len(a.series))
	copy(out, a.series)
	return out
}

// LastPrice returns the most recent observed price for the selected asset.
func (a *Aggregator) LastPrice(symbol string) (float64, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if symbol != a.selected {
		return 0, false
	}
	if a.acc != nil {
		return a.acc.close, true
	}
	if n := len(a.series); n > 0 {
		return a.series[n-1].Close, true
	}
	return 0, false
}

func (a *Aggregator) barAtLocked(t int64) (Candle, bool) {
	i := sort.Search(len(a.series), func(i int) bool { return a.series[i].Time >= t })
	if i < len(a.series) && a.series[i].Time == t {
		return a.series[i], true
	}
	return Candle{}, false
}

// mergeLocked replaces the bar sharing the candle's timeStart or inserts it
// in order, evicting the oldest bar past the series bound.
func (a *Aggregator) mergeLocked(c Candle) {
	i := sort.Search(len(a.series), func(i int) bool { return a.series[i].Time >= c.Time })
	if i < len(a.series) && a.series[i].Time == c.Time {
		a.series[i] = c
		return
	}
	a.series = append(a.series, Candle{})
	copy(a.series[i+1:], a.series[i:])
	a.series[i] = c
	if len(a.series) > a.limit {
		a.series = a.series[1:]
	}
}
