package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/shopspring/decimal"

	"options-core/internal/api"
	"options-core/internal/balance"
	"options-core/internal/events"
	"options-core/internal/feed"
	"options-core/internal/market"
	"options-core/internal/monitor"
	"options-core/internal/reconciliation"
	"options-core/internal/store"
	"options-core/internal/trade"
	"options-core/pkg/broker"
	"options-core/pkg/config"
	"options-core/pkg/db"
	"options-core/pkg/pusher"
)

var centsPerUnit = decimal.NewFromInt(100)

// brokerPlacer adapts the REST client to the engine's placement interface,
// converting the decimal stake to wire cents.
type brokerPlacer struct {
	client      *broker.Client
	accountType string
	currency    string
}

func (b brokerPlacer) PlaceTrade(ctx context.Context, req trade.PlaceRequest) (string, error) {
	return b.client.CreateOperation(ctx, broker.CreateOperationRequest{
		Direction:            string(req.Direction),
		BetValueUSDCents:     req.Amount.Mul(centsPerUnit).IntPart(),
		DurationMilliseconds: req.DurationMs,
		TickerSymbol:         req.Symbol,
		AccountType:          b.accountType,
		Currency:             b.currency,
	})
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		log.Fatalf("data dir: %v", err)
	}
	database, err := db.Open(cfg.DBPath)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer database.Close()

	ops, err := store.NewOperationStore(database)
	if err != nil {
		log.Fatalf("operation store: %v", err)
	}

	bus := events.NewBus()
	bus.SubscribeFunc(events.EventCandleUpdate, 64, func(any) { monitor.IncCandleUpdate() })

	brk := broker.NewClient(broker.Config{
		BaseURL:    cfg.BrokerBaseURL,
		Token:      cfg.BrokerToken,
		RatePerSec: cfg.BrokerRate,
	})

	tracker := balance.NewTracker(bus, brk)
	agg := market.NewAggregator(bus, cfg.CandleInterval, cfg.CandleLimit)

	engine := trade.NewEngine(bus, brokerPlacer{
		client:      brk,
		accountType: cfg.AccountType,
		currency:    cfg.Currency,
	}, cfg.UserID)
	engine.SetBalanceRefresher(tracker)
	engine.SetPriceSource(agg)
	engine.SetHistory(ops)
	engine.SetMaxLevel(cfg.MartingaleMaxLevel)
	engine.SetMartingale(cfg.MartingaleEnabled)

	client := pusher.NewClient(pusher.Options{
		OTCURL:         cfg.OTCStreamURL,
		RegularURL:     cfg.RegularStreamURL,
		ConnectTimeout: cfg.ConnectTimeout,
		SettleDelay:    cfg.SettleDelay,
	})

	f := feed.New(client, brk, agg, engine, tracker, bus, feed.Options{
		UserID:         cfg.UserID,
		ReconnectDelay: cfg.ReconnectDelay,
		CandleInterval: cfg.CandleInterval,
		CandleLimit:    cfg.CandleLimit,
	})

	poller := reconciliation.NewPoller(brk, engine, cfg.PollInterval, cfg.PollGrace, cfg.PollRate)
	poller.Start(ctx)
	defer poller.Stop()

	go func() {
		if err := f.Run(ctx); err != nil && ctx.Err() == nil {
			log.Printf("feed stopped: %v", err)
			stop()
		}
	}()

	// Prime the balance so the API has a value before the first push update.
	go func() {
		bctx, cancel := context.WithTimeout(ctx, 15*time.Second)
		defer cancel()
		if err := tracker.Refresh(bctx); err != nil {
			log.Printf("initial balance fetch: %v", err)
		}
	}()

	if cfg.ProfilePath != "" {
		profile, err := config.LoadProfile(cfg.ProfilePath)
		if err != nil {
			log.Printf("profile: %v", err)
		} else if len(profile.Assets) > 0 {
			go func() {
				wctx, cancel := context.WithTimeout(ctx, 60*time.Second)
				defer cancel()
				if err := f.Watch(wctx, profile.Assets[0]); err != nil {
					log.Printf("watch %s: %v", profile.Assets[0], err)
				}
			}()
		}
	}

	// Sweep operations the broker never settled.
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				engine.ExpireStale(5 * time.Minute)
			case <-ctx.Done():
				return
			}
		}
	}()

	server := api.NewServer(client, f, engine, tracker, agg, ops, cfg.UserID)
	go func() {
		log.Printf("api listening on :%s", cfg.Port)
		if err := server.Run(":" + cfg.Port); err != nil {
			log.Printf("api stopped: %v", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Println("shutting down")
	client.Disconnect()
}
