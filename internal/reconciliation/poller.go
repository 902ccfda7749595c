package reconciliation

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"options-core/internal/monitor"
	"options-core/internal/trade"
	"options-core/pkg/broker"
)

// StatusClient looks up authoritative operation status at the broker.
type StatusClient interface {
	GetOperation(ctx context.Context, id string) (broker.OperationStatus, error)
}

// Engine is the settlement entry point shared with the push path.
type Engine interface {
	Pending() []trade.Operation
	Resolve(ctx context.Context, id string, out trade.Outcome) bool
	Drop(id string)
}

// Poller periodically sweeps pending operations against the broker so that
// settlements lost on the push channel still land. It is a safety net, not
// the primary delivery path, so lookups are paced and young operations are
// left alone.
type Poller struct {
	client  StatusClient
	engine  Engine
	limiter *rate.Limiter

	interval time.Duration
	grace    time.Duration

	// cycleMu enforces single-flight sweeps. A tick firing while the
	// previous sweep is still walking the broker is skipped.
	cycleMu sync.Mutex

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}

	now func() time.Time
}

// NewPoller builds a poller with a 10s sweep interval, a 10s settlement
// grace window, and ~2 lookups per second.
func NewPoller(client StatusClient, engine Engine, interval, grace time.Duration, lookupsPerSec float64) *Poller {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	if grace <= 0 {
		grace = 10 * time.Second
	}
	if lookupsPerSec <= 0 {
		lookupsPerSec = 2
	}
	return &Poller{
		client:   client,
		engine:   engine,
		limiter:  rate.NewLimiter(rate.Limit(lookupsPerSec), 1),
		interval: interval,
		grace:    grace,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
		now:      time.Now,
	}
}

// Start launches the sweep loop. It returns immediately; Stop or ctx
// cancellation ends the loop.
func (p *Poller) Start(ctx context.Context) {
	go func() {
		defer close(p.doneCh)
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		log.Printf("reconcile: poller started interval=%s grace=%s", p.interval, p.grace)
		for {
			select {
			case <-ticker.C:
				p.sweep(ctx)
			case <-p.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop ends the sweep loop and waits for an in-flight sweep to finish.
func (p *Poller) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
	<-p.doneCh
}

// sweep walks the pending set once. Operations younger than the grace window
// are skipped so the push channel gets first shot at settling them.
func (p *Poller) sweep(ctx context.Context) {
	if !p.cycleMu.TryLock() {
		monitor.IncPollCycle("skipped")
		return
	}
	defer p.cycleMu.Unlock()

	pending := p.engine.Pending()
	if len(pending) == 0 {
		monitor.IncPollCycle("empty")
		return
	}
	monitor.IncPollCycle("run")

	nowSec := p.now().Unix()
	graceSec := int64(p.grace / time.Second)

	for _, op := range pending {
		if nowSec-op.EntryTime < graceSec {
			continue
		}
		if err := p.limiter.Wait(ctx); err != nil {
			return
		}

		st, err := p.client.GetOperation(ctx, op.ID)
		if err != nil {
			if errors.Is(err, broker.ErrUnauthorized) {
				// Not ours anymore; stop asking about it.
				log.Printf("reconcile: operation %s unauthorized, evicting", op.ID)
				p.engine.Drop(op.ID)
				continue
			}
			log.Printf("reconcile: lookup %s: %v", op.ID, err)
			continue
		}

		if !strings.EqualFold(st.Status, "processed") {
			continue
		}
		if p.engine.Resolve(ctx, op.ID, trade.Outcome{Result: st.Result, ProfitUSDCents: st.ProfitUSDCents}) {
			log.Printf("reconcile: operation %s settled via poll", op.ID)
		}
	}
}
