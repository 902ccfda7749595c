package reconciliation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"options-core/internal/trade"
	"options-core/pkg/broker"
)

type stubStatusClient struct {
	mu      sync.Mutex
	status  map[string]broker.OperationStatus
	errs    map[string]error
	lookups []string
}

func (s *stubStatusClient) GetOperation(ctx context.Context, id string) (broker.OperationStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lookups = append(s.lookups, id)
	if err, ok := s.errs[id]; ok {
		return broker.OperationStatus{}, err
	}
	return s.status[id], nil
}

func (s *stubStatusClient) lookupCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.lookups)
}

type stubEngine struct {
	mu       sync.Mutex
	pending  []trade.Operation
	resolved map[string]trade.Outcome
	dropped  []string
}

func newStubEngine(ops ...trade.Operation) *stubEngine {
	return &stubEngine{pending: ops, resolved: make(map[string]trade.Outcome)}
}

func (e *stubEngine) Pending() []trade.Operation {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]trade.Operation(nil), e.pending...)
}

func (e *stubEngine) Resolve(ctx context.Context, id string, out trade.Outcome) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, done := e.resolved[id]; done {
		return false
	}
	e.resolved[id] = out
	return true
}

func (e *stubEngine) Drop(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.dropped = append(e.dropped, id)
}

func pendingAt(id string, entry int64) trade.Operation {
	return trade.Operation{
		ID:        id,
		Symbol:    "EURUSD-OTC",
		Direction: trade.DirectionUp,
		EntryTime: entry,
		Duration:  30_000,
		Amount:    decimal.NewFromInt(10),
		Status:    trade.StatusPending,
	}
}

func newTestPoller(client StatusClient, engine Engine, nowUnix int64) *Poller {
	p := NewPoller(client, engine, 10*time.Second, 10*time.Second, 1000)
	p.now = func() time.Time { return time.Unix(nowUnix, 0) }
	return p
}

func TestSweepResolvesProcessed(t *testing.T) {
	const now = int64(1_700_000_000)

	client := &stubStatusClient{status: map[string]broker.OperationStatus{
		"done":    {ID: "done", Status: "Processed", Result: "GAIN", ProfitUSDCents: 850},
		"pending": {ID: "pending", Status: "pending"},
	}}
	engine := newStubEngine(pendingAt("done", now-60), pendingAt("pending", now-60))

	p := newTestPoller(client, engine, now)
	p.sweep(context.Background())

	out, ok := engine.resolved["done"]
	if !ok {
		t.Fatal("processed operation not settled")
	}
	if out.Result != "GAIN" || out.ProfitUSDCents != 850 {
		t.Errorf("outcome = %+v", out)
	}
	if _, ok := engine.resolved["pending"]; ok {
		t.Error("unprocessed operation was settled")
	}
}

func TestSweepSkipsYoungOperations(t *testing.T) {
	const now = int64(1_700_000_000)

	client := &stubStatusClient{status: map[string]broker.OperationStatus{}}
	engine := newStubEngine(pendingAt("young", now-3), pendingAt("old", now-30))

	p := newTestPoller(client, engine, now)
	p.sweep(context.Background())

	if got := client.lookupCount(); got != 1 {
		t.Fatalf("lookups = %d, want only the old operation", got)
	}
	if client.lookups[0] != "old" {
		t.Errorf("looked up %q, want old", client.lookups[0])
	}
}

func TestSweepEvictsUnauthorized(t *testing.T) {
	const now = int64(1_700_000_000)

	client := &stubStatusClient{errs: map[string]error{
		"foreign": broker.ErrUnauthorized,
	}}
	engine := newStubEngine(pendingAt("foreign", now-60))

	p := newTestPoller(client, engine, now)
	p.sweep(context.Background())

	if len(engine.dropped) != 1 || engine.dropped[0] != "foreign" {
		t.Errorf("dropped = %v, want [foreign]", engine.dropped)
	}
	if len(engine.resolved) != 0 {
		t.Error("unauthorized operation was settled")
	}
}

func TestSweepContinuesPastLookupErrors(t *testing.T) {
	const now = int64(1_700_000_000)

	client := &stubStatusClient{
		status: map[string]broker.OperationStatus{
			"good": {Status: "processed", Result: "loss"},
		},
		errs: map[string]error{"bad": errors.New("timeout")},
	}
	engine := newStubEngine(pendingAt("bad", now-60), pendingAt("good", now-60))

	p := newTestPoller(client, engine, now)
	p.sweep(context.Background())

	if _, ok := engine.resolved["good"]; !ok {
		t.Error("sweep stopped at the failing lookup")
	}
}

func TestSweepSingleFlight(t *testing.T) {
	const now = int64(1_700_000_000)

	client := &stubStatusClient{status: map[string]broker.OperationStatus{}}
	engine := newStubEngine(pendingAt("a", now-60))

	p := newTestPoller(client, engine, now)
	p.cycleMu.Lock()
	done := make(chan struct{})
	go func() {
		p.sweep(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweep blocked instead of skipping while another cycle holds the lock")
	}
	p.cycleMu.Unlock()

	if client.lookupCount() != 0 {
		t.Error("skipped sweep still performed lookups")
	}
}

func TestStartStop(t *testing.T) {
	client := &stubStatusClient{status: map[string]broker.OperationStatus{}}
	engine := newStubEngine()

	p := NewPoller(client, engine, 10*time.Millisecond, 0, 1000)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p.Start(ctx)
	time.Sleep(50 * time.Millisecond)
	p.Stop()
}
