package balance

import (
	"context"
	"encoding/json"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"options-core/internal/events"
)

// Snapshot is the normalized account balance. Only "current value" semantics;
// history is not kept.
type Snapshot struct {
	Amount    decimal.Decimal
	UpdatedAt time.Time
}

// Fetcher pulls the authoritative balance from the broker boundary.
type Fetcher interface {
	GetBalance(ctx context.Context) (decimal.Decimal, error)
}

// Tracker extracts balance values from push payloads in their several
// observed shapes and republishes a single normalized snapshot.
type Tracker struct {
	mu       sync.RWMutex
	bus      *events.Bus
	fetcher  Fetcher
	current  decimal.Decimal
	updated  time.Time
	hasValue bool
}

func NewTracker(bus *events.Bus, fetcher Fetcher) *Tracker {
	return &Tracker{bus: bus, fetcher: fetcher}
}

// balancePayload is the tagged union of the observed push shapes:
//
//	{"message": {"balance": <cents>}}  wrapped
//	{"balance": <cents>}               flat
//	{"real": {"balance": <cents>}}     legacy
//
// Balance arrives as integer cents, occasionally as a numeric string.
type balancePayload struct {
	Message *balanceField `json:"message"`
	Balance any           `json:"balance"`
	Real    *balanceField `json:"real"`
}

type balanceField struct {
	Balance any `json:"balance"`
}

// Apply decodes a push payload and updates the snapshot. Unrecognized shapes
// are a no-op.
func (t *Tracker) Apply(raw json.RawMessage) {
	cents, ok := decodeCents(raw)
	if !ok {
		log.Printf("balance: unrecognized payload: %s", truncate(raw, 200))
		return
	}
	t.set(decimal.New(cents, -2))
}

func decodeCents(raw json.RawMessage) (int64, bool) {
	var p balancePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return 0, false
	}
	switch {
	case p.Message != nil && p.Message.Balance != nil:
		return toCents(p.Message.Balance)
	case p.Balance != nil:
		return toCents(p.Balance)
	case p.Real != nil && p.Real.Balance != nil:
		return toCents(p.Real.Balance)
	}
	return 0, false
}

func toCents(v any) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, false
		}
		return int64(f), true
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, false
		}
		return int64(f), true
	}
	return 0, false
}

// Refresh pulls the balance from the broker and applies it.
func (t *Tracker) Refresh(ctx context.Context) error {
	if t.fetcher == nil {
		return nil
	}
	amount, err := t.fetcher.GetBalance(ctx)
	if err != nil {
		return err
	}
	t.set(amount)
	return nil
}

func (t *Tracker) set(amount decimal.Decimal) {
	t.mu.Lock()
	if t.hasValue && t.current.Equal(amount) {
		t.mu.Unlock()
		return
	}
	t.current = amount
	t.updated = time.Now()
	t.hasValue = true
	snap := Snapshot{Amount: t.current, UpdatedAt: t.updated}
	t.mu.Unlock()

	log.Printf("balance: updated to %s", amount.StringFixed(2))
	if t.bus != nil {
		t.bus.Publish(events.EventBalanceUpdate, snap)
	}
}

// Current returns the latest snapshot, if any has been observed.
func (t *Tracker) Current() (Snapshot, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if !t.hasValue {
		return Snapshot{}, false
	}
	return Snapshot{Amount: t.current, UpdatedAt: t.updated}, true
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
