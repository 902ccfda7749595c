package trade

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"options-core/internal/events"
	"options-core/internal/monitor"
)

// Broker opens bets at the external boundary.
type Broker interface {
	PlaceTrade(ctx context.Context, req PlaceRequest) (string, error)
}

// BalanceRefresher re-pulls the account balance after a settlement.
type BalanceRefresher interface {
	Refresh(ctx context.Context) error
}

// PriceSource provides the latest observed price for entry marking.
type PriceSource interface {
	LastPrice(symbol string) (float64, bool)
}

// History persists operations and their results for audit.
type History interface {
	RecordOperation(ctx context.Context, op Operation) error
	RecordResult(ctx context.Context, id string, status Status, result decimal.Decimal) error
}

// Engine owns the operation lifecycle: placement, idempotent settlement from
// either delivery path, and the martingale recovery cascade.
type Engine struct {
	mu    sync.Mutex
	ops   map[string]*Operation
	order []string

	// galeMu serializes cascade placement. TryLock makes concurrent
	// settlements of the same failed bet collapse to a single child.
	galeMu sync.Mutex

	bus      *events.Bus
	broker   Broker
	balances BalanceRefresher
	prices   PriceSource
	history  History

	userID     string
	maxLevel   int
	martingale atomic.Bool

	lastResult *LastResult

	now func() time.Time
}

// NewEngine builds an engine with the martingale cascade enabled and capped
// at two recovery levels.
func NewEngine(bus *events.Bus, broker Broker, userID string) *Engine {
	e := &Engine{
		ops:      make(map[string]*Operation),
		bus:      bus,
		broker:   broker,
		userID:   userID,
		maxLevel: 2,
		now:      time.Now,
	}
	e.martingale.Store(true)
	return e
}

func (e *Engine) SetBalanceRefresher(b BalanceRefresher) { e.balances = b }
func (e *Engine) SetPriceSource(p PriceSource)           { e.prices = p }
func (e *Engine) SetHistory(h History)                   { e.history = h }

// SetMaxLevel bounds the martingale cascade depth.
func (e *Engine) SetMaxLevel(level int) {
	if level >= 0 {
		e.maxLevel = level
	}
}

// SetMartingale toggles the recovery cascade.
func (e *Engine) SetMartingale(enabled bool) { e.martingale.Store(enabled) }

// MartingaleEnabled reports whether the cascade is active.
func (e *Engine) MartingaleEnabled() bool { return e.martingale.Load() }

// Place opens a bet with the broker and records it as pending.
func (e *Engine) Place(ctx context.Context, symbol string, direction Direction, amount decimal.Decimal, durationMs int64) (Operation, error) {
	if e.broker == nil {
		return Operation{}, fmt.Errorf("place %s: no broker configured", symbol)
	}

	entryPrice := 0.0
	if e.prices != nil {
		if p, ok := e.prices.LastPrice(symbol); ok {
			entryPrice = p
		}
	}

	id, err := e.broker.PlaceTrade(ctx, PlaceRequest{
		Symbol:     symbol,
		Direction:  direction,
		Amount:     amount,
		DurationMs: durationMs,
	})
	if err != nil {
		return Operation{}, fmt.Errorf("place %s: %w", symbol, err)
	}

	now := e.now().Unix()
	op := Operation{
		ID:         id,
		UserID:     e.userID,
		Symbol:     symbol,
		Direction:  direction,
		EntryPrice: entryPrice,
		EntryTime:  now,
		Duration:   durationMs,
		ExpiryTime: now + durationMs/1000,
		Amount:     amount,
		Status:     StatusPending,
	}
	e.Record(op)
	return op, nil
}

// Record registers an already-placed operation as pending. The expiry is
// derived from entry time and duration when absent.
func (e *Engine) Record(op Operation) {
	if op.Status == "" {
		op.Status = StatusPending
	}
	if op.ExpiryTime == 0 {
		op.ExpiryTime = op.EntryTime + op.Duration/1000
	}

	e.mu.Lock()
	if _, exists := e.ops[op.ID]; exists {
		e.mu.Unlock()
		return
	}
	stored := op
	e.ops[op.ID] = &stored
	e.order = append(e.order, op.ID)
	e.mu.Unlock()

	log.Printf("executor: operation %s recorded %s %s stake=%s level=%d",
		op.ID, op.Symbol, op.Direction, op.Amount.StringFixed(2), op.MartingaleLevel)

	if e.history != nil {
		if err := e.history.RecordOperation(context.Background(), op); err != nil {
			log.Printf("executor: persist operation %s: %v", op.ID, err)
		}
	}
	if e.bus != nil {
		e.bus.Publish(events.EventTradePlaced, op)
	}
}

// Resolve settles a pending operation. It is the single settlement entry
// point shared by the push path and the reconciliation path; calls for
// unknown or already-settled operations return false and have no effect.
func (e *Engine) Resolve(ctx context.Context, id string, out Outcome) bool {
	e.mu.Lock()
	op, ok := e.ops[id]
	if !ok || op.Status != StatusPending {
		e.mu.Unlock()
		return false
	}

	win := strings.EqualFold(out.Result, "gain")
	status := StatusLoss
	if win {
		status = StatusWin
	}
	profit := decimal.New(out.ProfitUSDCents, -2)

	op.Status = status
	op.Result = profit

	res := LastResult{
		OperationID: op.ID,
		Symbol:      op.Symbol,
		Status:      status,
		Amount:      op.Amount,
		Profit:      profit,
		IsWin:       win,
	}
	e.lastResult = &res
	failed := *op
	e.mu.Unlock()

	log.Printf("executor: operation %s settled %s profit=%s", id, status, profit.StringFixed(2))
	monitor.IncTradeResolved(string(status))

	if e.history != nil {
		if err := e.history.RecordResult(ctx, id, status, profit); err != nil {
			log.Printf("executor: persist result %s: %v", id, err)
		}
	}
	if e.bus != nil {
		e.bus.Publish(events.EventTradeResult, res)
	}
	if e.balances != nil {
		go func() {
			rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := e.balances.Refresh(rctx); err != nil {
				log.Printf("executor: balance refresh after %s: %v", id, err)
			}
		}()
	}

	if status == StatusLoss && e.martingale.Load() {
		e.cascade(ctx, failed)
	}
	return true
}

// cascade places the next martingale level after a loss. Exactly one cascade
// runs at a time; a second settlement arriving while one is in flight is
// dropped rather than queued.
func (e *Engine) cascade(ctx context.Context, failed Operation) {
	if !e.galeMu.TryLock() {
		log.Printf("executor: cascade already in flight, skipping for %s", failed.ID)
		return
	}
	defer e.galeMu.Unlock()

	level := 1
	mainID := failed.ID
	if failed.IsMartingale {
		level = failed.MartingaleLevel + 1
		if failed.MainOperationID != "" {
			mainID = failed.MainOperationID
		}
	}
	if level > e.maxLevel {
		log.Printf("executor: martingale chain %s exhausted at level %d", mainID, failed.MartingaleLevel)
		return
	}

	// A pending child at this level means another path already recovered.
	e.mu.Lock()
	for _, op := range e.ops {
		if op.MainOperationID == mainID && op.MartingaleLevel == level && op.Status == StatusPending {
			e.mu.Unlock()
			return
		}
	}
	e.mu.Unlock()

	if e.broker == nil {
		return
	}

	amount := failed.Amount.Mul(decimal.NewFromInt(2))
	id, err := e.broker.PlaceTrade(ctx, PlaceRequest{
		Symbol:     failed.Symbol,
		Direction:  failed.Direction,
		Amount:     amount,
		DurationMs: failed.Duration,
	})
	if err != nil {
		log.Printf("executor: martingale level %d for %s failed: %v", level, mainID, err)
		return
	}
	if id == "" {
		id = fmt.Sprintf("%s_gale%d", mainID, level)
	}

	entryPrice := failed.EntryPrice
	if e.prices != nil {
		if p, ok := e.prices.LastPrice(failed.Symbol); ok {
			entryPrice = p
		}
	}

	now := e.now().Unix()
	child := Operation{
		ID:              id,
		UserID:          e.userID,
		Symbol:          failed.Symbol,
		Direction:       failed.Direction,
		EntryPrice:      entryPrice,
		EntryTime:       now,
		Duration:        failed.Duration,
		ExpiryTime:      now + failed.Duration/1000,
		Amount:          amount,
		Status:          StatusPending,
		IsMartingale:    true,
		MartingaleLevel: level,
		MainOperationID: mainID,
	}

	e.mu.Lock()
	stored := child
	e.ops[id] = &stored
	e.order = append(e.order, id)
	if main, ok := e.ops[mainID]; ok {
		main.MartingaleOperations = append(main.MartingaleOperations, id)
	}
	e.mu.Unlock()

	log.Printf("executor: martingale level %d placed for %s stake=%s", level, mainID, amount.StringFixed(2))
	monitor.IncMartingalePlaced()

	if e.history != nil {
		if err := e.history.RecordOperation(ctx, child); err != nil {
			log.Printf("executor: persist operation %s: %v", id, err)
		}
	}
	if e.bus != nil {
		e.bus.Publish(events.EventTradePlaced, child)
	}
}

// ExpireStale marks pending operations past expiry plus slack as expired and
// returns their IDs. Expired operations are no longer reconciled.
func (e *Engine) ExpireStale(slack time.Duration) []string {
	cutoff := e.now().Unix() - int64(slack/time.Second)

	e.mu.Lock()
	var expired []string
	for _, id := range e.order {
		op := e.ops[id]
		if op.Status == StatusPending && op.ExpiryTime > 0 && op.ExpiryTime < cutoff {
			op.Status = StatusExpired
			expired = append(expired, id)
		}
	}
	e.mu.Unlock()

	for _, id := range expired {
		log.Printf("executor: operation %s expired without settlement", id)
		monitor.IncTradeResolved(string(StatusExpired))
		if e.history != nil {
			if err := e.history.RecordResult(context.Background(), id, StatusExpired, decimal.Zero); err != nil {
				log.Printf("executor: persist result %s: %v", id, err)
			}
		}
	}
	return expired
}

// Drop removes an operation entirely, e.g. after the broker reports it
// unauthorized for this account.
func (e *Engine) Drop(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.ops[id]; !ok {
		return
	}
	delete(e.ops, id)
	kept := e.order[:0]
	for _, oid := range e.order {
		if oid != id {
			kept = append(kept, oid)
		}
	}
	e.order = kept
}

// Operations returns copies of all operations in placement order.
func (e *Engine) Operations() []Operation {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Operation, 0, len(e.order))
	for _, id := range e.order {
		out = append(out, *e.ops[id])
	}
	return out
}

// Pending returns copies of the operations still awaiting settlement.
func (e *Engine) Pending() []Operation {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []Operation
	for _, id := range e.order {
		if op := e.ops[id]; op.Status == StatusPending {
			out = append(out, *op)
		}
	}
	return out
}

// Group returns the martingale chain rooted at the given main operation: the
// root first, then its children in placement order.
func (e *Engine) Group(mainID string) []Operation {
	e.mu.Lock()
	defer e.mu.Unlock()
	root, ok := e.ops[mainID]
	if !ok {
		return nil
	}
	out := []Operation{*root}
	for _, id := range e.order {
		if op := e.ops[id]; op.MainOperationID == mainID {
			out = append(out, *op)
		}
	}
	return out
}

// LastResult returns the most recent settlement, if any.
func (e *Engine) LastResult() (LastResult, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.lastResult == nil {
		return LastResult{}, false
	}
	return *e.lastResult, true
}
